// Package tesseract implements ocr.Engine on top of gosseract.
package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"kartai/pkg/ocr"
)

// ErrClosed is returned by Recognize after Close.
var ErrClosed = errors.New("tesseract engine closed")

var psm = map[ocr.PageSegMode]gosseract.PageSegMode{
	ocr.PSMAuto:        gosseract.PSM_AUTO,
	ocr.PSMSingleBlock: gosseract.PSM_SINGLE_BLOCK,
	ocr.PSMSingleLine:  gosseract.PSM_SINGLE_LINE,
	ocr.PSMSparseText:  gosseract.PSM_SPARSE_TEXT,
}

// Engine creates one gosseract client per pass; clients are not safe for
// concurrent use and passes may run in parallel.
type Engine struct {
	closed atomic.Bool
}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) Close() error {
	e.closed.Store(true)
	return nil
}

func (e *Engine) Recognize(ctx context.Context, img image.Image, req ocr.RecognizeRequest) (ocr.Recognition, error) {
	if e.closed.Load() {
		return ocr.Recognition{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return ocr.Recognition{}, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return ocr.Recognition{}, fmt.Errorf("encode canvas: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()
	langs := strings.Split(req.Languages, "+")
	if req.Languages == "" {
		langs = []string{"eng"}
	}
	if err := client.SetLanguage(langs...); err != nil {
		return ocr.Recognition{}, fmt.Errorf("set language: %w", err)
	}
	if err := client.SetPageSegMode(psm[req.PageSegMode]); err != nil {
		return ocr.Recognition{}, fmt.Errorf("set page seg mode: %w", err)
	}
	if req.Whitelist != "" {
		if err := client.SetWhitelist(req.Whitelist); err != nil {
			return ocr.Recognition{}, fmt.Errorf("set whitelist: %w", err)
		}
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return ocr.Recognition{}, fmt.Errorf("set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return ocr.Recognition{}, fmt.Errorf("tesseract text: %w", err)
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return ocr.Recognition{}, fmt.Errorf("tesseract boxes: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return ocr.Recognition{}, err
	}
	rec := ocr.Recognition{Text: text}
	for _, b := range boxes {
		if strings.TrimSpace(b.Word) == "" {
			continue
		}
		rec.Words = append(rec.Words, ocr.Word{Text: b.Word, Confidence: b.Confidence, Box: b.Box})
	}
	rec.Confidence, _ = rec.MeanWordConfidence()
	return rec, nil
}
