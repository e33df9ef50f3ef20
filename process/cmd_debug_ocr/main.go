package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"kartai/pkg/logutils"
	"kartai/pkg/ocr"
	"kartai/pkg/ocr/tesseract"
)

var args struct {
	File    string  `arg:"positional,required" help:"image file to OCR"`
	Mode    string  `arg:"-m,--mode" default:"auto"`
	YOffset float64 `arg:"--y-offset"`
	Scale   float64 `arg:"--scale"`
	Invert  bool    `arg:"--invert"`
	Thresh  int     `arg:"--thresh" help:"fixed digit cutoff, 0 for Otsu"`
	Presets string  `arg:"--presets,env:OCR_PRESETS" help:"preset file or URL"`
	Preset  string  `arg:"-p,--preset" help:"preset id, overrides the flags above"`
}

var log = logrus.StandardLogger()

func main() {
	arg.MustParse(&args)
	logutils.SetLoggerLevel("debug")
	ctx := context.Background()

	img, err := imaging.Open(args.File, imaging.AutoOrientation(true))
	if err != nil {
		log.Fatalf("open: %v", err)
	}

	mode := ocr.ParseMode(args.Mode)
	opts := ocr.ScanOptions{
		Mode:     mode,
		YOffset:  args.YOffset,
		Scale:    args.Scale,
		Invert:   args.Invert,
		ThreshA:  args.Thresh,
		ThreshB:  args.Thresh,
		DualBand: mode == ocr.ModeGas,
		Progress: func(p ocr.Progress) { log.Debugf("%s %d%%", p.Stage, p.Percent) },
	}
	if args.Preset != "" {
		presets := ocr.NewPresetStore(args.Presets)
		if err := presets.Reload(ctx); err != nil {
			log.Fatalf("presets: %v", err)
		}
		p, ok := presets.Get(args.Preset)
		if !ok {
			log.Fatalf("unknown preset %s", args.Preset)
		}
		progress := opts.Progress
		opts = p.ScanOptions()
		opts.Progress = progress
	}

	engine := tesseract.New()
	defer engine.Close()
	res, err := ocr.NewScanner(engine).Scan(ctx, img, opts)
	if err != nil {
		log.Fatalf("ocr error: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)
}
