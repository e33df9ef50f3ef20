package ocr

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

type ThresholdMode int

const (
	ThresholdNone ThresholdMode = iota
	ThresholdFixed
	ThresholdAdaptive
	ThresholdOtsu
)

const (
	defaultTile   = 32
	defaultOffset = 8
)

// PreprocessOptions controls how a region is turned into a recognition canvas.
// Zero values mean "leave as is".
type PreprocessOptions struct {
	Scale     float64
	Invert    bool
	Contrast  float64
	Gamma     float64
	Threshold ThresholdMode
	// Cutoff is the fixed threshold: values below it become black.
	Cutoff uint8
	// Tile and Offset configure the adaptive threshold. A nil Offset uses
	// the default; AdaptiveOffset(0) compares against the plain block mean.
	Tile   int
	Offset *int
}

// AdaptiveOffset returns v for PreprocessOptions.Offset.
func AdaptiveOffset(v int) *int {
	return &v
}

// Preprocess crops roi out of src, optionally upscales it and converts it to
// luminance grayscale with optional inversion, contrast/gamma and one of the
// threshold modes. Thresholded output only contains 0 and 255.
func Preprocess(src image.Image, roi image.Rectangle, opts PreprocessOptions) (*image.Gray, error) {
	r := roi.Intersect(src.Bounds())
	if r.Empty() {
		return nil, ErrEmptyROI
	}
	img := imaging.Crop(src, r)
	if opts.Scale > 0 && opts.Scale != 1 {
		w := int(math.Round(float64(r.Dx()) * opts.Scale))
		h := int(math.Round(float64(r.Dy()) * opts.Scale))
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}
	gray := luminance(img)
	if opts.Invert {
		for i, v := range gray.Pix {
			gray.Pix[i] = 255 - v
		}
	}
	adjustContrastGamma(gray, opts.Contrast, opts.Gamma)

	switch opts.Threshold {
	case ThresholdFixed:
		binarize(gray, opts.Cutoff)
	case ThresholdAdaptive:
		offset := defaultOffset
		if opts.Offset != nil {
			offset = *opts.Offset
		}
		adaptiveThreshold(gray, opts.Tile, offset)
	case ThresholdOtsu:
		// Otsu's class boundary is inclusive.
		binarize(gray, clampUint8(int(Otsu(gray))+1))
	}
	return gray, nil
}

// luminance converts an NRGBA canvas to grayscale using Rec. 709 weights.
func luminance(img *image.NRGBA) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < b.Dx(); x++ {
			p := row[x*4 : x*4+3]
			v := 0.2126*float64(p[0]) + 0.7152*float64(p[1]) + 0.0722*float64(p[2])
			dst[x] = uint8(math.Round(v))
		}
	}
	return out
}

// adjustContrastGamma applies y' = (y-128)*contrast+128 followed by
// 255*(y'/255)^(1/gamma), clamped to 0..255.
func adjustContrastGamma(g *image.Gray, contrast, gamma float64) {
	if contrast <= 0 {
		contrast = 1
	}
	if gamma <= 0 {
		gamma = 1
	}
	if contrast == 1 && gamma == 1 {
		return
	}
	var lut [256]uint8
	for i := range lut {
		v := clampFloat((float64(i)-128)*contrast+128, 0, 255)
		v = 255 * math.Pow(v/255, 1/gamma)
		lut[i] = uint8(math.Round(clampFloat(v, 0, 255)))
	}
	for i, v := range g.Pix {
		g.Pix[i] = lut[v]
	}
}

// binarize performs a global threshold: values below cutoff become black.
func binarize(g *image.Gray, cutoff uint8) {
	for i, v := range g.Pix {
		if v < cutoff {
			g.Pix[i] = 0
		} else {
			g.Pix[i] = 255
		}
	}
}

// adaptiveThreshold splits the image into tile x tile blocks and blackens
// pixels darker than their block mean minus offset. The mean is compared
// exactly, v < sum/n - offset being evaluated as v*n < sum - offset*n.
func adaptiveThreshold(g *image.Gray, tile, offset int) {
	if tile <= 0 {
		tile = defaultTile
	}
	w, h := g.Rect.Dx(), g.Rect.Dy()
	for ty := 0; ty < h; ty += tile {
		for tx := 0; tx < w; tx += tile {
			x1, y1 := min(tx+tile, w), min(ty+tile, h)
			sum, n := 0, 0
			for y := ty; y < y1; y++ {
				for x := tx; x < x1; x++ {
					sum += int(g.Pix[y*g.Stride+x])
					n++
				}
			}
			th := sum - offset*n
			for y := ty; y < y1; y++ {
				for x := tx; x < x1; x++ {
					i := y*g.Stride + x
					if int(g.Pix[i])*n < th {
						g.Pix[i] = 0
					} else {
						g.Pix[i] = 255
					}
				}
			}
		}
	}
}

// Otsu returns the threshold maximizing between-class variance of the
// histogram of g. Pixels at or below the threshold form the dark class.
func Otsu(g *image.Gray) uint8 {
	var hist [256]int
	w, h := g.Rect.Dx(), g.Rect.Dy()
	for y := 0; y < h; y++ {
		for _, v := range g.Pix[y*g.Stride : y*g.Stride+w] {
			hist[v]++
		}
	}
	total := w * h
	if total == 0 {
		return 128
	}
	sum := 0.0
	for i, c := range hist {
		sum += float64(i * c)
	}
	var sumB, maxVar float64
	var wB int
	threshold := 128
	first := true
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if first || between > maxVar {
			maxVar = between
			threshold = t
			first = false
		}
	}
	return uint8(threshold)
}

// DarkDensity samples r every step pixels and returns the fraction of
// samples darker than dark.
func DarkDensity(g *image.Gray, r image.Rectangle, step int, dark uint8) float64 {
	r = r.Intersect(g.Rect)
	if r.Empty() {
		return 0
	}
	if step <= 0 {
		step = 1
	}
	hits, n := 0, 0
	for y := r.Min.Y; y < r.Max.Y; y += step {
		for x := r.Min.X; x < r.Max.X; x += step {
			if g.Pix[(y-g.Rect.Min.Y)*g.Stride+(x-g.Rect.Min.X)] < dark {
				hits++
			}
			n++
		}
	}
	return float64(hits) / float64(n)
}

func clampUint8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
