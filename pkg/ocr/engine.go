package ocr

import (
	"context"
	"image"
)

type PageSegMode int

const (
	PSMAuto PageSegMode = iota
	PSMSingleBlock
	PSMSingleLine
	PSMSparseText
)

// RecognizeRequest configures one recognition pass.
type RecognizeRequest struct {
	// Languages uses the "eng+fra" form.
	Languages   string
	PageSegMode PageSegMode
	Whitelist   string
}

type Word struct {
	Text       string          `json:"text"`
	Confidence float64         `json:"confidence"`
	Box        image.Rectangle `json:"-"`
}

// Recognition is the output of one pass. Confidence values are 0..100.
type Recognition struct {
	Text       string
	Confidence float64
	Words      []Word
}

// MeanWordConfidence averages word confidences; false when no word was found.
func (r Recognition) MeanWordConfidence() (float64, bool) {
	if len(r.Words) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, w := range r.Words {
		sum += w.Confidence
	}
	return sum / float64(len(r.Words)), true
}

// Engine turns an image into text.
type Engine interface {
	Recognize(ctx context.Context, img image.Image, req RecognizeRequest) (Recognition, error)
}
