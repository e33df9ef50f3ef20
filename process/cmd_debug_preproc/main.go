package main

import (
	"fmt"
	"image"
	"image/color"

	"github.com/alexflint/go-arg"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"kartai/pkg/ocr"
)

var args struct {
	File      string  `arg:"positional,required" help:"photo to inspect"`
	Mode      string  `arg:"-m,--mode" default:"auto"`
	YOffset   float64 `arg:"--y-offset"`
	Scale     float64 `arg:"--scale" default:"2"`
	Invert    bool    `arg:"--invert"`
	Contrast  float64 `arg:"--contrast" default:"1"`
	Gamma     float64 `arg:"--gamma" default:"1"`
	Threshold string  `arg:"-t,--threshold" default:"otsu" help:"none, fixed, adaptive or otsu"`
	Cutoff    int     `arg:"--cutoff" default:"128"`
	Out       string  `arg:"-o,--out" default:"/tmp/kart-roi.png"`
	Boxed     string  `arg:"--boxed" default:"/tmp/kart-roi-box.png" help:"copy of the photo with the region outlined"`
}

var log = logrus.StandardLogger()

var thresholds = map[string]ocr.ThresholdMode{
	"none":     ocr.ThresholdNone,
	"fixed":    ocr.ThresholdFixed,
	"adaptive": ocr.ThresholdAdaptive,
	"otsu":     ocr.ThresholdOtsu,
}

func main() {
	arg.MustParse(&args)
	img, err := imaging.Open(args.File, imaging.AutoOrientation(true))
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	th, ok := thresholds[args.Threshold]
	if !ok {
		log.Fatalf("unknown threshold %q", args.Threshold)
	}

	roi := ocr.SelectROI(img, ocr.ParseMode(args.Mode), ocr.ROIOptions{YOffset: args.YOffset})
	canvas, err := ocr.Preprocess(img, roi, ocr.PreprocessOptions{
		Scale:     args.Scale,
		Invert:    args.Invert,
		Contrast:  args.Contrast,
		Gamma:     args.Gamma,
		Threshold: th,
		Cutoff:    uint8(args.Cutoff),
	})
	if err != nil {
		log.Fatalf("preprocess: %v", err)
	}
	if err := imaging.Save(canvas, args.Out); err != nil {
		log.Fatalf("save: %v", err)
	}
	if err := imaging.Save(outline(img, roi), args.Boxed); err != nil {
		log.Fatalf("save: %v", err)
	}
	gray, _ := ocr.Preprocess(img, roi, ocr.PreprocessOptions{Scale: 1})
	fmt.Printf("roi=%v otsu=%d canvas=%v -> %s\n", roi, ocr.Otsu(gray), canvas.Bounds(), args.Out)
}

// outline draws a red frame around r on a copy of img.
func outline(img image.Image, r image.Rectangle) *image.NRGBA {
	out := imaging.Clone(img)
	red := color.NRGBA{255, 0, 0, 255}
	r = r.Sub(img.Bounds().Min)
	for t := 0; t < 3; t++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			out.Set(x, r.Min.Y+t, red)
			out.Set(x, r.Max.Y-1-t, red)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			out.Set(r.Min.X+t, y, red)
			out.Set(r.Max.X-1-t, y, red)
		}
	}
	return out
}
