package deals

import (
	"sort"
	"strconv"
	"strings"

	"kartai/models"
)

// Form is the raw add-deal input as typed by the user.
type Form struct {
	Type       string `json:"type" form:"type"`
	Item       string `json:"item" form:"item"`
	Store      string `json:"store" form:"store"`
	Station    string `json:"station" form:"station"`
	Location   string `json:"location" form:"location"`
	Price      string `json:"price" form:"price"`
	Unit       string `json:"unit" form:"unit"`
	Caption    string `json:"caption" form:"caption"`
	ImageURL   string `json:"imageURL" form:"imageURL"`
	ImagePath  string `json:"imagePath" form:"imagePath"`
	MultiQty   string `json:"multiQty" form:"multiQty"`
	MultiTotal string `json:"multiTotal" form:"multiTotal"`
}

// FieldErrors maps form field names to messages shown next to them.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + f[k]
	}
	return strings.Join(parts, "; ")
}

func parseMoney(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "C$")
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !(v > 0) || v > 1e9 {
		return 0, false
	}
	return v, true
}

// Validate turns the form into a normalized deal, or reports what is wrong
// field by field. For gas, a name typed into store is taken as the station.
func (f Form) Validate() (*models.Deal, FieldErrors) {
	errs := FieldErrors{}
	d := &models.Deal{
		Type:      models.ParseDealType(f.Type),
		Item:      strings.TrimSpace(f.Item),
		Store:     strings.TrimSpace(f.Store),
		Station:   strings.TrimSpace(f.Station),
		Location:  strings.TrimSpace(f.Location),
		Caption:   strings.TrimSpace(f.Caption),
		Unit:      strings.TrimSpace(f.Unit),
		ImageURL:  strings.TrimSpace(f.ImageURL),
		ImagePath: strings.TrimSpace(f.ImagePath),
	}
	if d.Type == models.Gas {
		if d.Station == "" {
			d.Station = d.Store
		}
		if d.Station == "" {
			errs["station"] = "Enter a station"
		}
	} else if d.Item == "" && d.Store == "" {
		errs["item"] = "Enter an item or a store"
	}

	if strings.TrimSpace(f.MultiQty) != "" || strings.TrimSpace(f.MultiTotal) != "" {
		qty, err := strconv.Atoi(strings.TrimSpace(f.MultiQty))
		total, ok := parseMoney(f.MultiTotal)
		switch {
		case err != nil || qty < 2:
			errs["multiQty"] = "Quantity must be a whole number of at least 2"
		case !ok:
			errs["multiTotal"] = "Enter a total greater than 0"
		default:
			mb, _ := models.NewMultiBuy(qty, total)
			d.OriginalMultiBuy = mb
			d.Price = mb.PerUnit
		}
	} else if p, ok := parseMoney(f.Price); ok {
		d.Price = p
	} else {
		errs["price"] = "Enter a price greater than 0"
	}

	if d.Unit == "" {
		d.Unit = models.DefaultUnit(d.Type)
	} else if !models.ValidUnit(d.Type, d.Unit) {
		errs["unit"] = "Unit " + d.Unit + " is not valid for " + string(d.Type)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	d.Normalize()
	return d, nil
}
