package ocr

import "errors"

// ErrNoPrice is returned when no plausible price can be extracted.
var ErrNoPrice = errors.New("no price detected")

// ErrEmptyROI is returned when a region of interest has no pixels after
// clamping it to the image bounds.
var ErrEmptyROI = errors.New("empty region of interest")
