// Package units converts deal prices into comparable per-weight and
// per-volume figures.
package units

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	LbPerKg = 2.20462
	LPerGal = 3.78541
)

// Grocery and gas unit labels as stored on a deal.
const (
	Each    = "/ea"
	Dozen   = "/dozen"
	PerLb   = "/lb"
	PerKg   = "/kg"
	Per100g = "/100g"
	PerL    = "/L"
	PerGal  = "/gal"
)

func valid(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0)
}

// ToPerKg returns the price per kilogram for /kg, /lb and /100g prices.
// Count-based units have no weight and report false.
func ToPerKg(price float64, unit string) (float64, bool) {
	if !valid(price) {
		return 0, false
	}
	switch unit {
	case PerKg:
		return price, true
	case PerLb:
		return price * LbPerKg, true
	case Per100g:
		return price * 10, true
	}
	return 0, false
}

// ToPerLb is ToPerKg expressed per pound.
func ToPerLb(price float64, unit string) (float64, bool) {
	kg, ok := ToPerKg(price, unit)
	if !ok {
		return 0, false
	}
	return kg / LbPerKg, true
}

// ToPerGal returns the price per US gallon for /gal and /L prices.
func ToPerGal(price float64, unit string) (float64, bool) {
	if !valid(price) {
		return 0, false
	}
	switch unit {
	case PerGal:
		return price, true
	case PerL:
		return price * LPerGal, true
	}
	return 0, false
}

// ToPerL is ToPerGal expressed per litre.
func ToPerL(price float64, unit string) (float64, bool) {
	gal, ok := ToPerGal(price, unit)
	if !ok {
		return 0, false
	}
	return gal / LPerGal, true
}

// Money formats v as "$x.xx". Non-finite values format as the empty string.
func Money(v float64) string {
	if !valid(v) {
		return ""
	}
	return "$" + decimal.NewFromFloat(v).StringFixed(2)
}

// Round4 rounds half away from zero to four decimals.
func Round4(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(4).Float64()
	return f
}

// Ptr returns a pointer to v when ok, nil otherwise.
func Ptr(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}
