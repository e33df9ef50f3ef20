package ocr

import (
	"regexp"
	"strings"
	"unicode"

	"kartai/models"
	"kartai/pkg/units"
)

var (
	gasKeywordRE = regexp.MustCompile(`(?i)\b(fuel|diesel|unleaded|octane|regular|premium|gas|gasoline|essence|ordinaire|sans\s+plomb)\b`)
	priceTokenRE = regexp.MustCompile(`(?i)(?:C?\$\s*)?\d+(?:[.,]\d+)?\s*(?:/\s*)?(?:kg|lb|lbs|100\s*g|g|l|gal|ea|each|dozen|doz|ch|¢)?\b`)
	unitRE       = []struct {
		re   *regexp.Regexp
		unit string
	}{
		{regexp.MustCompile(`(?i)/\s*100\s*g\b|\bper\s+100\s*g\b|100\s*g\b`), units.Per100g},
		{regexp.MustCompile(`(?i)/\s*kg\b|\bper\s+kg\b|\bkg\b`), units.PerKg},
		{regexp.MustCompile(`(?i)/\s*lbs?\b|\bper\s+lb\b|\blbs?\b`), units.PerLb},
		{regexp.MustCompile(`(?i)/\s*gal\b|\bgallon\b`), units.PerGal},
		{regexp.MustCompile(`(?i)/\s*l\b|\bper\s+litre\b|\blitre\b|\bliter\b`), units.PerL},
		{regexp.MustCompile(`(?i)\bdozen\b|\bdoz\b|\bdouzaine\b`), units.Dozen},
		{regexp.MustCompile(`(?i)/\s*ea\b|\beach\b|\bch\b|\bea\b`), units.Each},
	}
	stopWords = map[string]bool{
		"SALE": true, "PRICE": true, "PRIX": true, "SPECIAL": true, "SAVE": true,
		"NOW": true, "ONLY": true, "EACH": true, "FOR": true, "POUR": true,
		"NEW": true, "HOT": true, "DEAL": true, "DEALS": true, "WAS": true,
	}
)

// DetectType classifies recognized text as a gas sign when it mentions fuel
// grades, otherwise as a grocery tag.
func DetectType(text string) models.DealType {
	if gasKeywordRE.MatchString(text) {
		return models.Gas
	}
	return models.Grocery
}

// GuessUnit finds a unit mention valid for t, falling back to the default unit.
func GuessUnit(text string, t models.DealType) string {
	for _, u := range unitRE {
		if !models.ValidUnit(t, u.unit) {
			continue
		}
		if u.re.MatchString(text) {
			return u.unit
		}
	}
	return models.DefaultUnit(t)
}

// GuessStore returns the first short all-caps alphabetic line, which on tags
// and signs is usually the banner name.
func GuessStore(lines []string) string {
	for _, l := range lines {
		if isStoreLine(l) {
			return l
		}
	}
	return ""
}

func isStoreLine(l string) bool {
	if len(l) < 2 || len(l) > 20 || gasKeywordRE.MatchString(l) {
		return false
	}
	words := strings.Fields(l)
	if len(words) == 0 || len(words) > 3 {
		return false
	}
	letters := 0
	for _, r := range l {
		switch {
		case unicode.IsLetter(r):
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		case r == ' ' || r == '&' || r == '\'' || r == '-':
		default:
			return false
		}
	}
	if letters < 2 {
		return false
	}
	for _, w := range words {
		if !stopWords[w] {
			return true
		}
	}
	return false
}

// GuessItem returns the first line that still has at least three letters
// once prices, units and fuel keywords are stripped. The store line is skipped.
func GuessItem(lines []string, store string) string {
	for _, l := range lines {
		if l == store {
			continue
		}
		if ParseMultiBuy(l) != nil {
			continue
		}
		cleaned := priceTokenRE.ReplaceAllString(l, " ")
		cleaned = strings.Join(strings.Fields(cleaned), " ")
		cleaned = strings.Trim(cleaned, " -:,.*/")
		if countLetters(cleaned) < 3 {
			continue
		}
		if allStopWords(cleaned) {
			continue
		}
		return cleaned
	}
	return ""
}

func countLetters(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}

func allStopWords(s string) bool {
	for _, w := range strings.Fields(s) {
		if !stopWords[strings.ToUpper(strings.Trim(w, "!.,:"))] {
			return false
		}
	}
	return true
}
