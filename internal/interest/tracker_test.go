package interest

import (
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/watt29/smart-service-system-backend/internal/config"
	"github.com/watt29/smart-service-system-backend/internal/models"
)

type stubDetector struct {
	table map[string][]string
}

func (d *stubDetector) DetectCategories(text string) []string {
	return d.table[text]
}

func newTestTracker(cfg config.InterestConfig) (*Tracker, *stubDetector) {
	det := &stubDetector{table: map[string][]string{}}
	return NewTracker(det, cfg, zap.NewNop()), det
}

func defaultCfg() config.InterestConfig {
	return config.InterestConfig{MaxProfiles: 100, HistoryLimit: 50}
}

func TestRecordTextFullWeightShownHalfWeight(t *testing.T) {
	tr, det := newTestTracker(defaultCfg())
	det.table["มือถือ"] = []string{"โทรศัพท์มือถือ"}
	det.table["แฟชั่น เสื้อยืด"] = []string{"แฟชั่น"}

	shown := []models.CatalogEntry{{Code: "F1", Name: "เสื้อยืด", Category: "แฟชั่น"}}
	det.table[shown[0].Category+" "+shown[0].Name] = []string{"แฟชั่น"}

	tr.Record("u1", "มือถือ", shown)

	top := tr.TopInterests("u1", 5)
	if len(top) != 2 {
		t.Fatalf("got %d interests, want 2: %v", len(top), top)
	}
	if top[0].Category != "โทรศัพท์มือถือ" || top[0].Weight != 1.0 {
		t.Errorf("top interest = %+v, want โทรศัพท์มือถือ weight 1", top[0])
	}
	if top[1].Category != "แฟชั่น" || top[1].Weight != 0.5 {
		t.Errorf("second interest = %+v, want แฟชั่น weight 0.5", top[1])
	}
}

func TestRecordAccumulates(t *testing.T) {
	tr, det := newTestTracker(defaultCfg())
	det.table["gaming"] = []string{"เกมมิ่ง"}

	for i := 0; i < 3; i++ {
		tr.Record("u1", "gaming", nil)
	}

	top := tr.TopInterests("u1", 1)
	if len(top) != 1 || top[0].Weight != 3.0 {
		t.Errorf("got %v, want เกมมิ่ง weight 3", top)
	}
}

func TestRecordEmptyLeavesWeightsUnchanged(t *testing.T) {
	tr, det := newTestTracker(defaultCfg())
	det.table["มือถือ"] = []string{"โทรศัพท์มือถือ"}
	det.table["gaming"] = []string{"เกมมิ่ง"}

	tr.Record("u1", "มือถือ", nil)
	tr.Record("u1", "gaming", nil)
	tr.Record("u1", "มือถือ", nil)
	before := tr.TopInterests("u1", 5)

	tr.Record("u1", "", nil)

	after := tr.TopInterests("u1", 5)
	if len(after) != len(before) {
		t.Fatalf("interest count changed: %v -> %v", before, after)
	}
	for i := range before {
		if after[i] != before[i] {
			t.Errorf("interest %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}

	// The empty interaction still lands in history.
	summary, ok := tr.Summary("u1", 5)
	if !ok {
		t.Fatal("expected profile for u1")
	}
	if summary.Interactions != 4 {
		t.Errorf("history length = %d, want 4", summary.Interactions)
	}
}

func TestRecordIgnoresAnonymous(t *testing.T) {
	tr, det := newTestTracker(defaultCfg())
	det.table["gaming"] = []string{"เกมมิ่ง"}

	tr.Record("", "gaming", nil)
	if tr.Len() != 0 {
		t.Errorf("anonymous record created a profile")
	}
}

func TestTopInterestsUnknownUserEmpty(t *testing.T) {
	tr, _ := newTestTracker(defaultCfg())
	if got := tr.TopInterests("nobody", 3); got != nil {
		t.Errorf("unknown user interests = %v, want nil", got)
	}
}

func TestTopInterestsTieBrokenByRecency(t *testing.T) {
	tr, det := newTestTracker(defaultCfg())
	det.table["a"] = []string{"catA"}
	det.table["b"] = []string{"catB"}

	base := time.Now()
	tr.now = func() time.Time { return base }
	tr.Record("u1", "a", nil)
	tr.now = func() time.Time { return base.Add(time.Minute) }
	tr.Record("u1", "b", nil)

	top := tr.TopInterests("u1", 2)
	if len(top) != 2 || top[0].Category != "catB" {
		t.Errorf("tie must prefer most recently updated, got %v", top)
	}
}

func TestHistoryCapped(t *testing.T) {
	cfg := defaultCfg()
	cfg.HistoryLimit = 5
	tr, det := newTestTracker(cfg)
	det.table["x"] = []string{"catX"}

	for i := 0; i < 20; i++ {
		tr.Record("u1", "x", nil)
	}

	summary, ok := tr.Summary("u1", 3)
	if !ok {
		t.Fatal("expected profile for u1")
	}
	if summary.Interactions != 5 {
		t.Errorf("history length = %d, want 5", summary.Interactions)
	}
	if len(summary.Interests) != 1 || summary.Interests[0].Weight != 20 {
		t.Errorf("weights must survive history trimming, got %v", summary.Interests)
	}
}

func TestProfileStoreEvictsLeastRecentlyActive(t *testing.T) {
	cfg := defaultCfg()
	cfg.MaxProfiles = 3
	tr, det := newTestTracker(cfg)
	det.table["x"] = []string{"catX"}

	for i := 0; i < 3; i++ {
		tr.Record(fmt.Sprintf("u%d", i), "x", nil)
	}

	// u0 becomes most recent, so u1 is the eviction victim.
	tr.Record("u0", "x", nil)
	tr.Record("u3", "x", nil)

	if tr.Len() != 3 {
		t.Fatalf("resident profiles = %d, want 3", tr.Len())
	}
	if got := tr.TopInterests("u1", 1); got != nil {
		t.Errorf("u1 should have been evicted, got %v", got)
	}
	if got := tr.TopInterests("u0", 1); len(got) != 1 {
		t.Errorf("u0 should have survived eviction")
	}
}

func TestDecayHalvesWeightAfterHalfLife(t *testing.T) {
	cfg := defaultCfg()
	cfg.DecayHalfLife = time.Hour
	tr, det := newTestTracker(cfg)
	det.table["x"] = []string{"catX"}

	base := time.Now()
	tr.now = func() time.Time { return base }
	tr.Record("u1", "x", nil)

	tr.now = func() time.Time { return base.Add(time.Hour) }
	top := tr.TopInterests("u1", 1)
	if len(top) != 1 {
		t.Fatalf("expected one interest, got %v", top)
	}
	if diff := top[0].Weight - 0.5; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("decayed weight = %v, want 0.5", top[0].Weight)
	}
}

func TestSummaryUnknownUser(t *testing.T) {
	tr, _ := newTestTracker(defaultCfg())
	if _, ok := tr.Summary("nobody", 3); ok {
		t.Error("Summary for unknown user must report false")
	}
}
