package ocr

import (
	"image"
	"strings"

	"kartai/models"
	"kartai/pkg/units"
)

// Rect is an image.Rectangle in a JSON friendly shape.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

func toRect(r image.Rectangle) Rect {
	return Rect{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// Suggestion is a prefill for the add-deal form derived from a scan.
type Suggestion struct {
	Type             models.DealType  `json:"type"`
	Item             string           `json:"item"`
	Store            string           `json:"store"`
	Station          string           `json:"station"`
	Location         string           `json:"location"`
	Price            float64          `json:"price"`
	Unit             string           `json:"unit"`
	NormalizedPerKg  *float64         `json:"normalizedPerKg"`
	NormalizedPerL   *float64         `json:"normalizedPerL"`
	OriginalMultiBuy *models.MultiBuy `json:"originalMultiBuy,omitempty"`

	Mode             Mode    `json:"mode"`
	FullText         string  `json:"fullText"`
	DigitsText       string  `json:"digitsText"`
	TextConfidence   float64 `json:"textConfidence"`
	DigitsConfidence float64 `json:"digitsConfidence"`
	ROI              Rect    `json:"roi"`
}

// Deal converts the suggestion into an unsaved deal.
func (s *Suggestion) Deal() models.Deal {
	d := models.Deal{
		Type:             s.Type,
		Item:             s.Item,
		Store:            s.Store,
		Station:          s.Station,
		Location:         s.Location,
		Price:            s.Price,
		Unit:             s.Unit,
		OriginalMultiBuy: s.OriginalMultiBuy,
	}
	d.Normalize()
	return d
}

// Fuse combines the full-text pass and the ROI digits pass into a
// suggestion. A multi-buy offer wins over ROI digits, which win over the
// full text. Nil means no item, store, price or multi-buy was found.
func Fuse(fullText, digitsText string, mode Mode) *Suggestion {
	text := normalizeOCRText(fullText)
	lines := strings.Split(text, "\n")

	dealType := models.Grocery
	switch {
	case mode.IsGas():
		dealType = models.Gas
	case mode == ModeAuto:
		dealType = DetectType(text)
	}

	multi := ParseMultiBuy(text)
	store := GuessStore(lines)
	item := GuessItem(lines, store)

	var price float64
	var ok bool
	switch {
	case multi != nil:
		price, ok = multi.PerUnit, true
	case dealType == models.Gas:
		if price, ok = GasPriceFromDigits(digitsText); !ok {
			if price, ok = PriceFromDigits(digitsText); !ok {
				if price, ok = GasPriceFromDigits(text); !ok {
					price, ok = PriceFromText(text)
				}
			}
		}
	default:
		if price, ok = PriceFromDigits(digitsText); !ok {
			price, ok = PriceFromText(text)
		}
	}
	if !ok {
		price = 0
	}

	if item == "" && store == "" && price == 0 && multi == nil {
		return nil
	}
	s := &Suggestion{
		Type:             dealType,
		Item:             item,
		Price:            price,
		Unit:             GuessUnit(text, dealType),
		OriginalMultiBuy: multi,
		Mode:             mode,
		FullText:         fullText,
		DigitsText:       digitsText,
	}
	if dealType == models.Gas {
		s.Station = store
		s.NormalizedPerL = units.Ptr(units.ToPerL(price, s.Unit))
	} else {
		s.Store = store
		s.NormalizedPerKg = units.Ptr(units.ToPerKg(price, s.Unit))
	}
	if price == 0 {
		s.NormalizedPerKg, s.NormalizedPerL = nil, nil
	}
	return s
}
