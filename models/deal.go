package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"kartai/pkg/units"
)

// ErrInvalidDeal wraps every validation failure reported by Deal.Validate.
var ErrInvalidDeal = errors.New("invalid deal")

type DealType string

const (
	Grocery DealType = "grocery"
	Gas     DealType = "gas"
)

var (
	GroceryUnits = []string{units.Each, units.Dozen, units.PerLb, units.PerKg, units.Per100g}
	GasUnits     = []string{units.PerL, units.PerGal}
)

// ParseDealType maps free text onto a deal type, defaulting to grocery.
func ParseDealType(s string) DealType {
	if strings.EqualFold(strings.TrimSpace(s), string(Gas)) {
		return Gas
	}
	return Grocery
}

// DefaultUnit is the unit used when none was entered.
func DefaultUnit(t DealType) string {
	if t == Gas {
		return units.PerL
	}
	return units.Each
}

// ValidUnit reports whether unit belongs to the unit set of t.
func ValidUnit(t DealType, unit string) bool {
	set := GroceryUnits
	if t == Gas {
		set = GasUnits
	}
	for _, u := range set {
		if u == unit {
			return true
		}
	}
	return false
}

// MultiBuy records an "N for $T" offer the price was derived from.
type MultiBuy struct {
	Qty     int     `json:"qty"`
	Total   float64 `json:"total"`
	PerUnit float64 `json:"perUnit"`
}

// NewMultiBuy builds an offer with perUnit rounded to four decimals.
func NewMultiBuy(qty int, total float64) (*MultiBuy, error) {
	if qty < 2 {
		return nil, fmt.Errorf("%w: multi-buy quantity must be at least 2", ErrInvalidDeal)
	}
	if !(total > 0) || math.IsInf(total, 0) {
		return nil, fmt.Errorf("%w: multi-buy total must be positive", ErrInvalidDeal)
	}
	return &MultiBuy{Qty: qty, Total: total, PerUnit: units.Round4(total / float64(qty))}, nil
}

// Deal is a single logged grocery or gas price.
type Deal struct {
	ID               string    `gorm:"primaryKey;size:80" json:"id"`
	Type             DealType  `gorm:"size:16;not null;index" json:"type"`
	Item             string    `gorm:"size:255" json:"item"`
	Store            string    `gorm:"size:255" json:"store"`
	Station          string    `gorm:"size:255" json:"station"`
	Location         string    `gorm:"size:255" json:"location"`
	Caption          string    `gorm:"size:1024" json:"caption"`
	Price            float64   `gorm:"not null" json:"price"`
	Unit             string    `gorm:"size:16;not null" json:"unit"`
	NormalizedPerKg  *float64  `json:"normalizedPerKg"`
	NormalizedPerL   *float64  `gorm:"column:normalized_per_l" json:"normalizedPerL"`
	OriginalMultiBuy *MultiBuy `gorm:"type:jsonb;serializer:json" json:"originalMultiBuy,omitempty"`
	ImageURL         string    `gorm:"column:image_url;size:1024" json:"imageURL,omitempty"`
	ImagePath        string    `gorm:"size:512" json:"imagePath,omitempty"`
	CreatedAt        time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt        time.Time `gorm:"index" json:"updatedAt"`
}

// Merchant is the store for groceries and the station for gas.
func (d *Deal) Merchant() string {
	if d.Type == Gas {
		return d.Station
	}
	return d.Store
}

// Normalize clears the merchant field that does not apply to the deal type
// and recomputes the cached per-kg / per-L figures.
func (d *Deal) Normalize() {
	d.Item = strings.TrimSpace(d.Item)
	d.Store = strings.TrimSpace(d.Store)
	d.Station = strings.TrimSpace(d.Station)
	d.Location = strings.TrimSpace(d.Location)
	d.Caption = strings.TrimSpace(d.Caption)
	if d.Type == Gas {
		d.Store = ""
		d.NormalizedPerKg = nil
		d.NormalizedPerL = units.Ptr(units.ToPerL(d.Price, d.Unit))
		return
	}
	d.Station = ""
	d.NormalizedPerL = nil
	d.NormalizedPerKg = units.Ptr(units.ToPerKg(d.Price, d.Unit))
}

// ComparablePrice is the normalized price used for sorting: per-kg for
// groceries and per-L for gas. The cached value is used when present.
func (d *Deal) ComparablePrice() (float64, bool) {
	if d.Type == Gas {
		if d.NormalizedPerL != nil {
			return *d.NormalizedPerL, true
		}
		return units.ToPerL(d.Price, d.Unit)
	}
	if d.NormalizedPerKg != nil {
		return *d.NormalizedPerKg, true
	}
	return units.ToPerKg(d.Price, d.Unit)
}

// Validate checks the invariants every stored deal satisfies.
func (d *Deal) Validate() error {
	if d.Type != Grocery && d.Type != Gas {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidDeal, d.Type)
	}
	if !(d.Price > 0) || math.IsInf(d.Price, 0) {
		return fmt.Errorf("%w: price must be positive", ErrInvalidDeal)
	}
	if !ValidUnit(d.Type, d.Unit) {
		return fmt.Errorf("%w: unit %q not valid for %s", ErrInvalidDeal, d.Unit, d.Type)
	}
	if m := d.OriginalMultiBuy; m != nil {
		if m.Qty < 2 || !(m.Total > 0) {
			return fmt.Errorf("%w: multi-buy needs qty >= 2 and a positive total", ErrInvalidDeal)
		}
		if math.Abs(d.Price-units.Round4(m.Total/float64(m.Qty))) > 1e-9 {
			return fmt.Errorf("%w: price does not match multi-buy %d for %.2f", ErrInvalidDeal, m.Qty, m.Total)
		}
	}
	return nil
}
