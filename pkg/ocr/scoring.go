package ocr

import "strings"

// BestPriceFromMatches selects the best price using scoring priorities.
// Ties keep the earliest match.
func BestPriceFromMatches(matches []string) (float64, string, bool) {
	type cand struct {
		price float64
		raw   string
		score int
	}
	scoreFor := func(raw string) int {
		s := 0
		if strings.Contains(raw, "$") {
			s += 10
		}
		if strings.Contains(raw, ".") || strings.Contains(raw, ",") {
			s += 5
		}
		if len(onlyDigits(raw)) >= 3 {
			s++
		}
		return s
	}
	var best *cand
	for _, m := range matches {
		v, err := ParsePriceMatch(m)
		if err != nil || !isPlausiblePrice(v) {
			continue
		}
		c := cand{price: v, raw: m, score: scoreFor(m)}
		if best == nil || c.score > best.score {
			best = &c
		}
	}
	if best == nil {
		return 0, "", false
	}
	return best.price, best.raw, true
}
