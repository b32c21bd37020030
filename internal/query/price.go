package query

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/watt29/smart-service-system-backend/internal/models"
)

// Price phrases come in four shapes. Each shape gets its own typed matcher
// and they are evaluated in a fixed order: an explicit range beats a
// max-only phrase, which beats min-only, which beats "around". The first
// matcher that fires wins; at most one hint is ever produced.

const aroundBandRatio = 0.2

var (
	priceRangePattern = regexp.MustCompile(`(\d[\d,]*)\s*(?:-|ถึง|to)\s*(\d[\d,]*)\s*(?:บาท|baht)?`)
	priceMaxPattern   = regexp.MustCompile(`(?:ราคา)?(?:ต่ำกว่า|ไม่เกิน|under|below|less than)\s*(\d[\d,]*)`)
	priceMinPattern   = regexp.MustCompile(`(?:ราคา)?(?:มากกว่า|สูงกว่า|เกิน|over|above|more than)\s*(\d[\d,]*)|(\d[\d,]*)\s*(?:บาท)?ขึ้นไป`)
	priceAroundPattern = regexp.MustCompile(`(?:ราคา)?(?:ประมาณ|ราวๆ|around|about)\s*(\d[\d,]*)`)
)

type priceMatcher struct {
	kind  models.PriceHintKind
	match func(text string) *models.PriceHint
}

var priceMatchers = []priceMatcher{
	{models.PriceHintRange, matchPriceRange},
	{models.PriceHintMaxOnly, matchPriceMax},
	{models.PriceHintMinOnly, matchPriceMin},
	{models.PriceHintAround, matchPriceAround},
}

// extractPriceHint applies the ordered matchers to normalized query text.
// Returns nil when no pattern matches or a matched number fails to parse.
func extractPriceHint(text string) *models.PriceHint {
	for _, m := range priceMatchers {
		if hint := m.match(text); hint != nil {
			return hint
		}
	}
	return nil
}

func matchPriceRange(text string) *models.PriceHint {
	m := priceRangePattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	min, okMin := parsePriceToken(m[1])
	max, okMax := parsePriceToken(m[2])
	if !okMin || !okMax || min > max {
		return nil
	}
	return &models.PriceHint{Kind: models.PriceHintRange, Min: min, Max: max}
}

func matchPriceMax(text string) *models.PriceHint {
	m := priceMaxPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	max, ok := parsePriceToken(m[1])
	if !ok {
		return nil
	}
	return &models.PriceHint{Kind: models.PriceHintMaxOnly, Max: max}
}

func matchPriceMin(text string) *models.PriceHint {
	m := priceMinPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	token := m[1]
	if token == "" {
		token = m[2]
	}
	min, ok := parsePriceToken(token)
	if !ok {
		return nil
	}
	return &models.PriceHint{Kind: models.PriceHintMinOnly, Min: min}
}

func matchPriceAround(text string) *models.PriceHint {
	m := priceAroundPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	center, ok := parsePriceToken(m[1])
	if !ok {
		return nil
	}
	return &models.PriceHint{
		Kind: models.PriceHintAround,
		Min:  center * (1 - aroundBandRatio),
		Max:  center * (1 + aroundBandRatio),
	}
}

func parsePriceToken(token string) (float64, bool) {
	cleaned := strings.ReplaceAll(token, ",", "")
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
