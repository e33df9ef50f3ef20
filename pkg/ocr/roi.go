package ocr

import (
	"image"
	"math"
	"strings"
)

// Mode selects where the price is expected on the photo.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeFlyer    Mode = "flyer"
	ModeShelf    Mode = "shelf"
	ModeReceipt  Mode = "receipt"
	ModeGas      Mode = "gas"
	ModeGasUpper Mode = "gas-upper"
	ModeGasLower Mode = "gas-lower"
)

// ParseMode maps user input onto a Mode. Unknown values become ModeAuto.
func ParseMode(s string) Mode {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeFlyer, ModeShelf, ModeReceipt, ModeGas, ModeGasUpper, ModeGasLower:
		return m
	}
	return ModeAuto
}

// IsGas reports whether m expects a gas station sign.
func (m Mode) IsGas() bool {
	return m == ModeGas || m == ModeGasUpper || m == ModeGasLower
}

type ROIOptions struct {
	// YOffset shifts the gas bands vertically, as a fraction of image height.
	YOffset float64
}

// flyer scan parameters
const (
	flyerXStart   = 0.45
	flyerWidth    = 0.50
	flyerYMin     = 0.05
	flyerYMax     = 0.50
	flyerHMin     = 0.35
	flyerHMax     = 0.85
	flyerYStep    = 6
	flyerHStep    = 12
	flyerSample   = 3
	flyerDarkness = 40
)

var flyerPreprocess = PreprocessOptions{Contrast: 1.35, Gamma: 1.1, Threshold: ThresholdAdaptive, Tile: 24, Offset: AdaptiveOffset(6)}

// SelectROI returns the rectangle most likely to hold the price digits.
// The result is always clamped to the image bounds.
func SelectROI(img image.Image, mode Mode, opts ROIOptions) image.Rectangle {
	b := img.Bounds()
	switch mode {
	case ModeFlyer, ModeAuto:
		return flyerROI(img)
	case ModeReceipt:
		return fracRect(b, 0.05, 0.55, 0.90, 0.40)
	case ModeGasUpper:
		return fracRect(b, 0.10, clampFloat(0.20+opts.YOffset, 0, 0.75), 0.80, 0.25)
	case ModeGasLower:
		return fracRect(b, 0.10, clampFloat(0.50+opts.YOffset, 0, 0.75), 0.80, 0.25)
	default:
		return fracRect(b, 0.52, 0.18, 0.42, 0.65)
	}
}

// fracRect builds a rectangle from fractions of b and clamps it to b.
func fracRect(b image.Rectangle, fx, fy, fw, fh float64) image.Rectangle {
	w, h := float64(b.Dx()), float64(b.Dy())
	x0 := b.Min.X + int(math.Round(fx*w))
	y0 := b.Min.Y + int(math.Round(fy*h))
	r := image.Rect(x0, y0, x0+int(math.Round(fw*w)), y0+int(math.Round(fh*h)))
	return r.Intersect(b)
}

// flyerROI slides a window over the right half of the image and keeps the
// window with the highest dark-pixel density weighted by area. Large flyer
// prices are usually the darkest, biggest block there.
func flyerROI(img image.Image) image.Rectangle {
	b := img.Bounds()
	fallback := fracRect(b, flyerXStart, 0, flyerWidth, 0.7)
	g, err := Preprocess(img, b, flyerPreprocess)
	if err != nil {
		return fallback
	}
	w, h := g.Rect.Dx(), g.Rect.Dy()
	x0 := int(math.Floor(float64(w) * flyerXStart))
	ww := int(math.Floor(float64(w) * flyerWidth))

	best := fallback
	bestScore := -1.0
	for y0 := int(float64(h) * flyerYMin); y0 < int(float64(h)*flyerYMax); y0 += flyerYStep {
		for hh := int(float64(h) * flyerHMin); hh < int(float64(h)*flyerHMax); hh += flyerHStep {
			if hh <= 0 {
				continue
			}
			r := image.Rect(x0, y0, x0+ww, y0+hh).Intersect(g.Rect)
			if r.Empty() {
				continue
			}
			score := DarkDensity(g, r, flyerSample, flyerDarkness) * float64(r.Dx()*r.Dy())
			if score > bestScore {
				bestScore = score
				best = r.Add(b.Min)
			}
		}
	}
	return best.Intersect(b)
}
