package scoring

import (
	"strings"

	"github.com/watt29/smart-service-system-backend/internal/models"
)

// Tier weights. The absolute values are tuned, the ordering is the contract:
// exact > substring > brand/category hint > expanded term > fuzzy > word
// coverage > price bonus > quality bonuses. Quality and price bonuses stay
// below every matching tier so they only break near-ties and can never lift
// a non-matching entry into the results.
const (
	weightExactMatch    = 100.0
	weightSubstring     = 80.0
	weightBrandHint     = 45.0
	weightCategoryHint  = 45.0
	weightExpandedTerm  = 40.0
	weightFuzzyScale    = 60.0
	weightWordCoverage  = 30.0
	bonusPriceRange     = 15.0
	bonusRatingHigh     = 5.0
	bonusRatingGood     = 3.0
	bonusSoldTop        = 5.0
	bonusSoldMid        = 3.0
	bonusSoldLow        = 1.5
)

// Fuzzy similarity below this is noise between unrelated strings and must not
// count as a match on its own.
const fuzzyThreshold = 0.4

const (
	ratingHighThreshold = 4.5
	ratingGoodThreshold = 4.0
	soldTopThreshold    = 1000
	soldMidThreshold    = 500
	soldLowThreshold    = 100
)

// Scorer computes the relevance of one catalog entry for one preprocessed
// query. Score is a pure function of its inputs.
type Scorer struct{}

func NewScorer() *Scorer {
	return &Scorer{}
}

// Score returns the additive relevance score and the name of the dominant
// signal. A zero score means the entry does not match the query at all;
// price and quality bonuses are only added on top of a textual match.
func (s *Scorer) Score(d *models.QueryDescriptor, entry *models.CatalogEntry) (float64, string) {
	if d == nil || entry == nil || d.Normalized == "" {
		return 0, ""
	}

	name := strings.ToLower(entry.Name)
	code := strings.ToLower(entry.Code)
	category := strings.ToLower(entry.Category)
	description := strings.ToLower(entry.Description)
	searchable := name + " " + code + " " + category + " " + description

	var score float64
	var dominant string
	var dominantWeight float64

	add := func(w float64, reason string) {
		score += w
		if w > dominantWeight {
			dominantWeight = w
			dominant = reason
		}
	}

	if d.Normalized == code || d.Normalized == name {
		add(weightExactMatch, "exact match")
	} else if strings.Contains(searchable, d.Normalized) {
		add(weightSubstring, "substring match")
	}

	if sim := similarity(d.Normalized, name); sim >= fuzzyThreshold {
		add(sim*weightFuzzyScale, "fuzzy name match")
	}

	for _, brand := range d.BrandHints {
		b := strings.ToLower(brand)
		if strings.Contains(name, b) || strings.Contains(description, b) {
			add(weightBrandHint, "matched brand: "+brand)
		}
	}

	for _, hint := range d.CategoryHints {
		if category != "" && strings.EqualFold(entry.Category, hint) {
			add(weightCategoryHint, "matched category: "+hint)
		}
	}

	// Expanded terms skip position 0, which is the normalized query already
	// handled by the exact and substring tiers.
	for i, term := range d.ExpandedTerms {
		if i == 0 || term == "" {
			continue
		}
		if strings.Contains(name, term) || strings.Contains(description, term) || strings.Contains(category, term) {
			add(weightExpandedTerm, "matched term: "+term)
		}
	}

	if len(d.Words) > 1 {
		matched := 0
		for _, w := range d.Words {
			if strings.Contains(searchable, w) {
				matched++
			}
		}
		coverage := float64(matched) / float64(len(d.Words))
		if coverage > 0 {
			add(coverage*weightWordCoverage, "word coverage")
		}
	}

	if score == 0 {
		return 0, ""
	}

	if d.PriceHint != nil && d.PriceHint.Satisfies(entry.Price) {
		bonus := bonusPriceRange
		if d.PriceHint.Kind == models.PriceHintMaxOnly || d.PriceHint.Kind == models.PriceHintMinOnly {
			bonus /= 2
		}
		add(bonus, "price in range")
	}

	switch {
	case entry.Rating >= ratingHighThreshold:
		score += bonusRatingHigh
	case entry.Rating >= ratingGoodThreshold:
		score += bonusRatingGood
	}

	switch {
	case entry.SoldCount >= soldTopThreshold:
		score += bonusSoldTop
	case entry.SoldCount >= soldMidThreshold:
		score += bonusSoldMid
	case entry.SoldCount >= soldLowThreshold:
		score += bonusSoldLow
	}

	return score, dominant
}
