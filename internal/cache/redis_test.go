package cache

import (
	"testing"

	"github.com/watt29/smart-service-system-backend/internal/models"
)

func TestHashString(t *testing.T) {
	h1 := hashString("test")
	h2 := hashString("test")
	if h1 != h2 {
		t.Errorf("hashString not deterministic: %q != %q", h1, h2)
	}

	if h1 == hashString("other") {
		t.Error("different inputs should produce different hashes")
	}

	if hashString("") == "" {
		t.Error("hash of empty string should not be empty")
	}
}

func TestSearchKey_Deterministic(t *testing.T) {
	req := &models.SearchRequest{
		Query:  "laptop",
		Offset: 0,
		Limit:  20,
		Sort:   "relevance",
	}

	k1 := searchKey(req)
	k2 := searchKey(req)
	if k1 != k2 {
		t.Errorf("searchKey not deterministic: %q != %q", k1, k2)
	}
	if len(k1) < 3 || k1[:3] != "sr:" {
		t.Errorf("expected 'sr:' prefix, got %q", k1)
	}
}

func TestSearchKey_DifferentQueriesProduceDifferentKeys(t *testing.T) {
	k1 := searchKey(&models.SearchRequest{Query: "laptop", Limit: 20})
	k2 := searchKey(&models.SearchRequest{Query: "desktop", Limit: 20})
	if k1 == k2 {
		t.Error("different queries should produce different keys")
	}
}

func TestSearchKey_DifferentOffsetsProduceDifferentKeys(t *testing.T) {
	k1 := searchKey(&models.SearchRequest{Query: "laptop", Offset: 0, Limit: 20})
	k2 := searchKey(&models.SearchRequest{Query: "laptop", Offset: 20, Limit: 20})
	if k1 == k2 {
		t.Error("different offsets should produce different keys")
	}
}

func TestSearchKey_FiltersAffectKey(t *testing.T) {
	maxPrice := 5000.0
	base := &models.SearchRequest{Query: "laptop", Limit: 20}
	filtered := &models.SearchRequest{Query: "laptop", Limit: 20, Category: "Electronics", MaxPrice: &maxPrice}

	if searchKey(base) == searchKey(filtered) {
		t.Error("category and price filters should affect the cache key")
	}
}

func TestSearchKey_UserDoesNotAffectKey(t *testing.T) {
	k1 := searchKey(&models.SearchRequest{Query: "laptop", Limit: 20, UserID: "u1", RequestID: "r1"})
	k2 := searchKey(&models.SearchRequest{Query: "laptop", Limit: 20, UserID: "u2", RequestID: "r2"})
	if k1 != k2 {
		t.Error("user and request ids must not affect the cache key")
	}
}

func TestStaleSearchKey_HasStalePrefix(t *testing.T) {
	req := &models.SearchRequest{Query: "laptop", Limit: 20}
	key := staleSearchKey(req)

	if len(key) < 9 || key[:9] != "sr:stale:" {
		t.Errorf("expected 'sr:stale:' prefix, got %q", key)
	}
	if key == searchKey(req) {
		t.Error("search key and stale key should be different")
	}
}

func TestRecommendKey_PerUser(t *testing.T) {
	k1 := recommendKey("u1")
	k2 := recommendKey("u2")
	if k1 == k2 {
		t.Error("different users should get different recommendation keys")
	}
	if len(k1) < 4 || k1[:4] != "rec:" {
		t.Errorf("expected 'rec:' prefix, got %q", k1)
	}
}
