package query

import (
	"regexp"
	"strings"

	"github.com/watt29/smart-service-system-backend/internal/lexicon"
	"github.com/watt29/smart-service-system-backend/internal/models"
)

var digitPattern = regexp.MustCompile(`[0-9]`)

// Preprocessor turns raw query text into a QueryDescriptor: normalized form,
// expanded terms, brand and category hints, and an optional price hint. It is
// pure string work over the lexicon and never fails; garbage in produces a
// descriptor whose expanded terms are just the normalized input.
type Preprocessor struct {
	lex *lexicon.Lexicon
}

func NewPreprocessor(lex *lexicon.Lexicon) *Preprocessor {
	return &Preprocessor{lex: lex}
}

// Preprocess builds the descriptor for one query. The normalized form is
// always the first expanded term. Thai text carries no word boundaries, so
// synonym and hint detection use substring containment rather than token
// matching.
func (p *Preprocessor) Preprocess(raw string) *models.QueryDescriptor {
	normalized := normalize(raw)

	d := &models.QueryDescriptor{
		Normalized: normalized,
		HasNumber:  digitPattern.MatchString(normalized),
		Words:      strings.Fields(normalized),
	}

	seen := map[string]bool{normalized: true}
	d.ExpandedTerms = append(d.ExpandedTerms, normalized)

	addTerm := func(term string) {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" || seen[term] {
			return
		}
		seen[term] = true
		d.ExpandedTerms = append(d.ExpandedTerms, term)
	}

	for _, key := range p.lex.SynonymKeys() {
		if strings.Contains(normalized, key) {
			for _, syn := range p.lex.Synonyms[key] {
				addTerm(syn)
			}
		}
	}

	// Abbreviations expand only when the whole query is the abbreviation,
	// so "cbc" expands but "cbc panel pricing" does not.
	for _, exp := range p.lex.AbbreviationExpansions(normalized) {
		addTerm(exp)
	}

	for _, brand := range p.lex.BrandNames() {
		keywords := p.lex.BrandKeywords(brand)
		if containsAny(normalized, keywords) {
			d.BrandHints = append(d.BrandHints, brand)
			for _, kw := range keywords {
				addTerm(kw)
			}
		}
	}

	for _, category := range p.lex.CategoryNames() {
		keywords := p.lex.CategoryKeywords(category)
		if containsAny(normalized, keywords) {
			d.CategoryHints = append(d.CategoryHints, category)
			for _, kw := range keywords {
				addTerm(kw)
			}
		}
	}

	d.PriceHint = extractPriceHint(normalized)

	return d
}

// DetectCategories returns the lexicon categories whose keyword tables match
// the text, in stable order. Used for interest tracking as well as search.
func (p *Preprocessor) DetectCategories(text string) []string {
	normalized := normalize(text)
	if normalized == "" {
		return nil
	}

	var hits []string
	for _, category := range p.lex.CategoryNames() {
		if containsAny(normalized, p.lex.CategoryKeywords(category)) {
			hits = append(hits, category)
		}
	}
	return hits
}

func normalize(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	return strings.Join(strings.Fields(lowered), " ")
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
