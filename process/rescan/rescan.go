// Package rescan re-runs price extraction on stored deal photos, e.g. after
// the pipeline improved, and corrects prices that read differently now.
package rescan

import (
	"context"
	"fmt"
	"math"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"kartai/models"
	"kartai/pkg/deals"
	"kartai/pkg/ocr"
	"kartai/pkg/storage"
)

var log = logrus.StandardLogger().WithField("package", "rescan")

// Store is the part of deals.Store a rescan needs.
type Store interface {
	List(ctx context.Context) ([]models.Deal, error)
	Update(ctx context.Context, id string, p deals.Patch) error
}

type Options struct {
	DryRun bool
	// MinConfidence skips digit reads below this mean word confidence.
	MinConfidence float64
}

// Change is a price that reads differently on a rescan.
type Change struct {
	ID      string  `json:"id"`
	Image   string  `json:"image"`
	Old     float64 `json:"old"`
	New     float64 `json:"new"`
	Applied bool    `json:"applied"`
}

// modeFor scans gas signs in both bands and everything else in auto mode.
func modeFor(d models.Deal) ocr.ScanOptions {
	if d.Type == models.Gas {
		return ocr.ScanOptions{Mode: ocr.ModeGas, DualBand: true}
	}
	return ocr.ScanOptions{Mode: ocr.ModeAuto}
}

// Run rescans every deal with a stored photo. Deals priced from a multi-buy
// offer are left alone since a new single price would drop the offer.
func Run(ctx context.Context, store Store, objects storage.Storer, scanner *ocr.Scanner, opts Options) ([]Change, error) {
	list, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	var changes []Change
	for _, d := range list {
		if err := ctx.Err(); err != nil {
			return changes, err
		}
		if d.ImagePath == "" || d.OriginalMultiBuy != nil {
			continue
		}
		price, err := rescanOne(ctx, objects, scanner, d, opts)
		if err != nil {
			log.WithError(err).Debugf("skip %s", d.ID)
			continue
		}
		if math.Abs(price-d.Price) < 0.005 {
			continue
		}
		c := Change{ID: d.ID, Image: d.ImagePath, Old: d.Price, New: price}
		if !opts.DryRun {
			if err := store.Update(ctx, d.ID, deals.Patch{Price: &price}); err != nil {
				log.WithError(err).Warnf("update %s", d.ID)
			} else {
				c.Applied = true
			}
		}
		log.Infof("deal %s price %.4f -> %.4f applied=%t", d.ID, c.Old, c.New, c.Applied)
		changes = append(changes, c)
	}
	return changes, nil
}

func rescanOne(ctx context.Context, objects storage.Storer, scanner *ocr.Scanner, d models.Deal, opts Options) (float64, error) {
	rc, err := objects.Open(ctx, d.ImagePath)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	img, err := imaging.Decode(rc, imaging.AutoOrientation(true))
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", d.ImagePath, err)
	}
	res, err := scanner.Scan(ctx, img, modeFor(d))
	if err != nil {
		return 0, err
	}
	price, err := res.Price()
	if err != nil {
		return 0, err
	}
	if res.Suggestion.Type != d.Type {
		return 0, fmt.Errorf("photo now reads as %s", res.Suggestion.Type)
	}
	if opts.MinConfidence > 0 && res.DigitsConfidence < opts.MinConfidence {
		return 0, fmt.Errorf("digits confidence %.0f below %.0f", res.DigitsConfidence, opts.MinConfidence)
	}
	return price, nil
}
