package ocr

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"kartai/models"
)

var log = logrus.StandardLogger().WithField("package", "ocr")

const (
	fullTextMaxSide = 1200
	defaultROIScale = 2.0
	fullTextLangs   = "eng+fra"
	digitsLangs     = "eng"
	digitsWhitelist = "0123456789.$"
)

var digitsRequest = RecognizeRequest{Languages: digitsLangs, PageSegMode: PSMSingleLine, Whitelist: digitsWhitelist}

// ScanOptions tunes a scan. The zero value scans in auto mode with defaults.
type ScanOptions struct {
	Mode    Mode
	YOffset float64
	// Scale is the ROI upscale factor, 2 when unset.
	Scale  float64
	Invert bool
	// ThreshA and ThreshB are fixed cutoffs for the main (or upper) and the
	// lower band. Zero or AutoOtsu selects Otsu.
	ThreshA  int
	ThreshB  int
	AutoOtsu bool
	// DualBand reads the upper and lower halves of a gas sign concurrently.
	DualBand bool
	Progress func(Progress)
}

// ScanResult carries the fused suggestion and pass diagnostics.
type ScanResult struct {
	Suggestion       *Suggestion `json:"suggestion"`
	Mode             Mode        `json:"mode"`
	FullText         string      `json:"fullText"`
	DigitsText       string      `json:"digitsText"`
	TextConfidence   float64     `json:"textConfidence"`
	DigitsConfidence float64     `json:"digitsConfidence"`
	ROI              Rect        `json:"roi"`
	Passes           int         `json:"passes"`
	Status           string      `json:"status"`
}

// Price returns the suggested price or ErrNoPrice.
func (r *ScanResult) Price() (float64, error) {
	if r == nil || r.Suggestion == nil || r.Suggestion.Price <= 0 {
		return 0, ErrNoPrice
	}
	return r.Suggestion.Price, nil
}

// Scanner runs the multi-pass price extraction against an Engine.
type Scanner struct {
	engine Engine
}

func NewScanner(engine Engine) *Scanner {
	return &Scanner{engine: engine}
}

// Scan runs a full-text pass on a downscaled copy of img, then digit passes
// on the price region, retrying with adaptive and high-contrast canvases
// when no digit is read, and fuses the results. Engine failures produce a
// result without suggestion and a status message; only a nil image or a
// cancelled context return an error.
func (s *Scanner) Scan(ctx context.Context, img image.Image, opts ScanOptions) (*ScanResult, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyROI
	}
	if opts.Mode == "" {
		opts.Mode = ModeAuto
	}
	report := func(stage Stage, pct int) {
		if opts.Progress != nil {
			opts.Progress(Progress{Stage: stage, Percent: pct})
		}
	}
	res := &ScanResult{Mode: opts.Mode}

	report(StageFullText, 5)
	small := imaging.Fit(img, fullTextMaxSide, fullTextMaxSide, imaging.Lanczos)
	full, err := s.engine.Recognize(ctx, small, RecognizeRequest{Languages: fullTextLangs, PageSegMode: PSMAuto})
	res.Passes++
	if err != nil {
		return s.failed(ctx, res, "full-text", err)
	}
	res.FullText = full.Text
	res.TextConfidence = confidenceOf(full)

	mode := opts.Mode
	if mode == ModeAuto && DetectType(full.Text) == models.Gas {
		mode = ModeGas
	}
	res.Mode = mode

	var digits Recognition
	var roi image.Rectangle
	if mode.IsGas() && opts.DualBand {
		report(StageDigits, 40)
		digits, roi, err = s.dualBand(ctx, img, opts)
		res.Passes += 2
	} else {
		digits, roi, err = s.digitPasses(ctx, img, mode, opts, res, report)
	}
	if err != nil {
		return s.failed(ctx, res, "digits", err)
	}
	res.DigitsText = digits.Text
	res.DigitsConfidence = confidenceOf(digits)
	res.ROI = toRect(roi)

	report(StageFuse, 90)
	res.Suggestion = Fuse(full.Text, digits.Text, mode)
	if sg := res.Suggestion; sg != nil {
		sg.TextConfidence = res.TextConfidence
		sg.DigitsConfidence = res.DigitsConfidence
		sg.ROI = res.ROI
		sg.Mode = opts.Mode
	}
	log.Debugf("OCR debug: mode=%s full=%q digits=%q", mode, snippet(full.Text, 120), snippet(digits.Text, 40))
	log.Infof("OCR passes summary mode=%s passes=%d text=%.0f digits=%.0f suggestion=%t",
		mode, res.Passes, res.TextConfidence, res.DigitsConfidence, res.Suggestion != nil)

	if res.Suggestion == nil || res.Suggestion.Price <= 0 {
		res.Status = "No price found"
	} else {
		res.Status = fmt.Sprintf("Done. OCR OK (text %.0f%%, digits %.0f%%)", res.TextConfidence, res.DigitsConfidence)
	}
	report(StageDone, 100)
	return res, nil
}

func (s *Scanner) failed(ctx context.Context, res *ScanResult, pass string, err error) (*ScanResult, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	log.WithError(err).Warnf("OCR %s pass failed", pass)
	res.Status = "OCR failed: " + err.Error()
	return res, nil
}

// roiOptions returns the first-attempt canvas settings for mode.
func roiOptions(mode Mode, opts ScanOptions, cutoff int) PreprocessOptions {
	p := PreprocessOptions{Scale: opts.Scale, Invert: opts.Invert}
	if p.Scale <= 0 {
		p.Scale = defaultROIScale
	}
	if mode.IsGas() {
		p.Contrast, p.Gamma = 1.45, 1.25
		if cutoff <= 0 && !opts.AutoOtsu {
			return p
		}
	}
	if cutoff > 0 && !opts.AutoOtsu {
		p.Threshold = ThresholdFixed
		p.Cutoff = clampUint8(cutoff)
	} else {
		p.Threshold = ThresholdOtsu
	}
	return p
}

// fallbackOptions are tried in order while the ROI read has no digit.
func fallbackOptions(base PreprocessOptions) []PreprocessOptions {
	return []PreprocessOptions{
		{Scale: base.Scale, Invert: base.Invert, Threshold: ThresholdAdaptive, Tile: 24, Offset: AdaptiveOffset(6)},
		{Scale: base.Scale, Invert: base.Invert, Contrast: 1.6, Gamma: 1.15},
	}
}

func (s *Scanner) recognizeRegion(ctx context.Context, img image.Image, roi image.Rectangle, p PreprocessOptions) (Recognition, error) {
	canvas, err := Preprocess(img, roi, p)
	if err != nil {
		return Recognition{}, err
	}
	return s.engine.Recognize(ctx, canvas, digitsRequest)
}

func (s *Scanner) digitPasses(ctx context.Context, img image.Image, mode Mode, opts ScanOptions, res *ScanResult, report func(Stage, int)) (Recognition, image.Rectangle, error) {
	report(StageROI, 30)
	roi := SelectROI(img, mode, ROIOptions{YOffset: opts.YOffset})
	base := roiOptions(mode, opts, opts.ThreshA)

	report(StageDigits, 45)
	best, err := s.recognizeRegion(ctx, img, roi, base)
	res.Passes++
	if err != nil {
		return Recognition{}, roi, err
	}
	stages := []Stage{StageFallbackAdaptive, StageFallbackContrast}
	for i, p := range fallbackOptions(base) {
		if onlyDigits(best.Text) != "" {
			break
		}
		report(stages[i], 60+i*15)
		r, err := s.recognizeRegion(ctx, img, roi, p)
		res.Passes++
		if err != nil {
			if ctx.Err() != nil {
				return Recognition{}, roi, ctx.Err()
			}
			log.WithError(err).Debugf("OCR fallback %s failed", stages[i])
			continue
		}
		if moreConfident(r, best) {
			best = r
		}
	}
	return best, roi, nil
}

// dualBand reads the upper and lower price bands of a gas sign concurrently.
func (s *Scanner) dualBand(ctx context.Context, img image.Image, opts ScanOptions) (Recognition, image.Rectangle, error) {
	bands := []struct {
		mode   Mode
		cutoff int
	}{{ModeGasUpper, opts.ThreshA}, {ModeGasLower, opts.ThreshB}}
	out := make([]Recognition, len(bands))
	rois := make([]image.Rectangle, len(bands))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range bands {
		rois[i] = SelectROI(img, b.mode, ROIOptions{YOffset: opts.YOffset})
		g.Go(func() error {
			r, err := s.recognizeRegion(gctx, img, rois[i], roiOptions(b.mode, opts, b.cutoff))
			if err != nil {
				return fmt.Errorf("%s band: %w", b.mode, err)
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Recognition{}, rois[0].Union(rois[1]), err
	}
	joined := Recognition{
		Text:  out[0].Text + "\n" + out[1].Text,
		Words: append(append([]Word{}, out[0].Words...), out[1].Words...),
	}
	joined.Confidence = (out[0].Confidence + out[1].Confidence) / 2
	return joined, rois[0].Union(rois[1]), nil
}

func confidenceOf(r Recognition) float64 {
	if c, ok := r.MeanWordConfidence(); ok {
		return c
	}
	return r.Confidence
}

// moreConfident reports whether a beats b on mean word confidence.
// A pass without words never wins.
func moreConfident(a, b Recognition) bool {
	ca, ok := a.MeanWordConfidence()
	if !ok {
		return false
	}
	cb, ok := b.MeanWordConfidence()
	return !ok || ca > cb
}
