package query

import (
	"testing"

	"github.com/watt29/smart-service-system-backend/internal/lexicon"
	"github.com/watt29/smart-service-system-backend/internal/models"
)

func newTestPreprocessor() *Preprocessor {
	return NewPreprocessor(lexicon.Default())
}

func TestPreprocessNormalization(t *testing.T) {
	p := newTestPreprocessor()

	d := p.Preprocess("  iPhone   15  ")
	if d.Normalized != "iphone 15" {
		t.Errorf("normalized = %q, want %q", d.Normalized, "iphone 15")
	}
	if !d.HasNumber {
		t.Error("expected HasNumber for query containing digits")
	}
	if len(d.Words) != 2 || d.Words[0] != "iphone" || d.Words[1] != "15" {
		t.Errorf("words = %v, want [iphone 15]", d.Words)
	}
}

func TestPreprocessNormalizedIsFirstExpandedTerm(t *testing.T) {
	p := newTestPreprocessor()

	for _, raw := range []string{"iphone", "มือถือถูกๆ", "", "   ", "!!!"} {
		d := p.Preprocess(raw)
		if len(d.ExpandedTerms) == 0 {
			t.Fatalf("Preprocess(%q): no expanded terms", raw)
		}
		if d.ExpandedTerms[0] != d.Normalized {
			t.Errorf("Preprocess(%q): first term %q != normalized %q", raw, d.ExpandedTerms[0], d.Normalized)
		}
	}
}

func TestPreprocessBrandDetection(t *testing.T) {
	p := newTestPreprocessor()

	d := p.Preprocess("iphone ราคาไม่เกิน 20000")

	if len(d.BrandHints) != 1 || d.BrandHints[0] != "apple" {
		t.Errorf("brand hints = %v, want [apple]", d.BrandHints)
	}
	if !hasTerm(d, "apple") || !hasTerm(d, "macbook") {
		t.Errorf("expected brand keyword variants in expanded terms, got %v", d.ExpandedTerms)
	}
	if d.PriceHint == nil || d.PriceHint.Kind != models.PriceHintMaxOnly || d.PriceHint.Max != 20000 {
		t.Errorf("price hint = %+v, want max-only 20000", d.PriceHint)
	}
}

func TestPreprocessCategoryDetection(t *testing.T) {
	p := newTestPreprocessor()

	d := p.Preprocess("มือถือ")

	if !containsString(d.CategoryHints, "โทรศัพท์มือถือ") {
		t.Errorf("category hints = %v, expected โทรศัพท์มือถือ", d.CategoryHints)
	}
	if !hasTerm(d, "smartphone") || !hasTerm(d, "โทรศัพท์") {
		t.Errorf("expected synonym expansion, got %v", d.ExpandedTerms)
	}
}

func TestPreprocessAbbreviationWholeQueryOnly(t *testing.T) {
	p := newTestPreprocessor()

	whole := p.Preprocess("cbc")
	if !hasTerm(whole, "complete blood count") {
		t.Errorf("expected abbreviation expansion for whole-query match, got %v", whole.ExpandedTerms)
	}

	partial := p.Preprocess("cbc panel pricing")
	if hasTerm(partial, "complete blood count") {
		t.Errorf("abbreviation must not expand inside longer query, got %v", partial.ExpandedTerms)
	}
}

func TestPreprocessNoDuplicateTerms(t *testing.T) {
	p := newTestPreprocessor()

	d := p.Preprocess("iphone iphone มือถือ")
	seen := map[string]bool{}
	for _, term := range d.ExpandedTerms {
		if seen[term] {
			t.Errorf("duplicate expanded term %q", term)
		}
		seen[term] = true
	}
}

func TestDetectCategories(t *testing.T) {
	p := newTestPreprocessor()

	tests := []struct {
		text string
		want string
	}{
		{"อาหารแมว", "สัตว์เลี้ยง"},
		{"รองเท้าวิ่ง", "รองเท้า"},
		{"เซรั่มหน้าใส", "ความงาม"},
	}

	for _, tt := range tests {
		got := p.DetectCategories(tt.text)
		if !containsString(got, tt.want) {
			t.Errorf("DetectCategories(%q) = %v, want to include %q", tt.text, got, tt.want)
		}
	}

	if got := p.DetectCategories("zzz unknown text"); got != nil {
		t.Errorf("DetectCategories on unknown text = %v, want nil", got)
	}
}

func TestDetectCategoriesStableOrder(t *testing.T) {
	p := newTestPreprocessor()

	first := p.DetectCategories("iphone มือถือ gaming")
	for i := 0; i < 10; i++ {
		again := p.DetectCategories("iphone มือถือ gaming")
		if len(again) != len(first) {
			t.Fatalf("run %d: length %d != %d", i, len(again), len(first))
		}
		for j := range again {
			if again[j] != first[j] {
				t.Fatalf("run %d: order changed at %d: %v vs %v", i, j, again, first)
			}
		}
	}
}

func hasTerm(d *models.QueryDescriptor, term string) bool {
	return containsString(d.ExpandedTerms, term)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
