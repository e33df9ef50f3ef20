package ocr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"kartai/models"
	"kartai/pkg/units"
)

var (
	multiBuyRE  = regexp.MustCompile(`(?i)(\d+)\s*(?:for|/|pour)\s*\$?\s*(\d+(?:\.\d{2})?)`)
	textPriceRE = regexp.MustCompile(`(?:\$|C\$)?\s*(\d{1,4}(?:[.,]\d{2})?)`)
	roiDigitsRE = regexp.MustCompile(`(\d{1,4})[.,]?(\d{2})`)
	gasCleanRE  = regexp.MustCompile(`(\d{2,3})[.,](\d)(?:\D|$)`)
	gasNinthRE  = regexp.MustCompile(`(\d{2,3})9`)
)

// ParseMultiBuy finds an "N for $T" (also "N/T" and French "N pour T") offer.
// Quantities below 2 are not offers.
func ParseMultiBuy(text string) *models.MultiBuy {
	text = strings.ReplaceAll(text, ",", ".")
	for _, m := range multiBuyRE.FindAllStringSubmatch(text, -1) {
		qty, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		total, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		if mb, err := models.NewMultiBuy(qty, total); err == nil {
			return mb
		}
	}
	return nil
}

// FindAllMatches returns every price-looking substring of text in order.
func FindAllMatches(text string) []string {
	var out []string
	for _, m := range textPriceRE.FindAllString(text, -1) {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

// ParsePriceMatch turns a matched substring like "$3,49" into 3.49.
func ParsePriceMatch(found string) (float64, error) {
	s := strings.TrimSpace(found)
	s = strings.TrimPrefix(s, "C$")
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", found, err)
	}
	return v, nil
}

// PriceFromText picks the best price candidate from recognized full text.
func PriceFromText(text string) (float64, bool) {
	v, _, ok := BestPriceFromMatches(FindAllMatches(text))
	return v, ok
}

// PriceFromDigits reads a price from the digits-only ROI pass. The last two
// digits are the cents and one to four digits before them the dollars, so
// "799" is 7.99 and "12.99" is 12.99. A lone two-digit read such as "99" is
// ambiguous and rejected.
func PriceFromDigits(raw string) (float64, bool) {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			return r
		}
		return -1
	}, raw)
	m := roiDigitsRE.FindStringSubmatch(clean)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1]+"."+m[2], 64)
	if err != nil || !isPlausiblePrice(v) {
		return 0, false
	}
	return v, true
}

// GasPriceFromDigits reads a pump sign, which shows cents per litre, and
// returns dollars per litre like every other price. Signs show a small
// trailing 9 that digit passes often merge, so "1199" is 119.9c or $1.199.
// Fields that already carry a decimal point or a dollar sign are left to
// PriceFromDigits.
func GasPriceFromDigits(raw string) (float64, bool) {
	if m := gasCleanRE.FindStringSubmatch(raw); m != nil {
		if v, err := strconv.ParseFloat(m[1]+"."+m[2], 64); err == nil && isPlausibleGasPrice(v) {
			return centsToDollars(v), true
		}
	}
	for _, field := range strings.Fields(raw) {
		if strings.ContainsAny(field, ".,$") {
			continue
		}
		d := onlyDigits(field)
		if m := gasNinthRE.FindStringSubmatch(d); m != nil {
			if v, err := strconv.ParseFloat(m[1]+".9", 64); err == nil && isPlausibleGasPrice(v) {
				return centsToDollars(v), true
			}
		}
	}
	return 0, false
}

func centsToDollars(c float64) float64 {
	return units.Round4(c / 100)
}
