// Package deals stores price deals and derives the views clients read.
package deals

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"kartai/models"
)

var log = logrus.StandardLogger().WithField("package", "deals")

var (
	ErrNotFound = errors.New("deal not found")
	ErrInvalid  = models.ErrInvalidDeal
)

// Patch is a partial update. Nil fields are left unchanged; the deal type
// can never be patched.
type Patch struct {
	Item     *string  `json:"item"`
	Store    *string  `json:"store"`
	Station  *string  `json:"station"`
	Location *string  `json:"location"`
	Caption  *string  `json:"caption"`
	Price    *float64 `json:"price"`
	Unit     *string  `json:"unit"`
}

// Apply updates d in place and re-validates it. A price or unit change
// drops a multi-buy origin the new price no longer matches.
func (p Patch) Apply(d *models.Deal) error {
	next := *d
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&next.Item, p.Item)
	set(&next.Store, p.Store)
	set(&next.Station, p.Station)
	set(&next.Location, p.Location)
	set(&next.Caption, p.Caption)
	set(&next.Unit, p.Unit)
	if p.Price != nil {
		next.Price = *p.Price
	}
	if (p.Price != nil && *p.Price != d.Price) || (p.Unit != nil && *p.Unit != d.Unit) {
		next.OriginalMultiBuy = nil
	}
	next.Normalize()
	if err := next.Validate(); err != nil {
		return err
	}
	*d = next
	return nil
}

// Store persists deals. Implementations assign timestamps.
type Store interface {
	// Create inserts d, assigning an id when empty.
	Create(ctx context.Context, d *models.Deal) (string, error)
	// Upsert writes d under its deterministic id, keeping createdAt of an
	// existing deal.
	Upsert(ctx context.Context, d *models.Deal) (string, error)
	Update(ctx context.Context, id string, p Patch) error
	Remove(ctx context.Context, id string) error
	// List returns all deals, most recently updated first.
	List(ctx context.Context) ([]models.Deal, error)
	// Subscribe delivers the whole ordered list on every change until ctx
	// is done or the returned function is called. When live delivery fails
	// onError is called and a one-shot List is delivered instead.
	Subscribe(ctx context.Context, onChange func([]models.Deal), onError func(error)) (func(), error)
}

// prepare validates and normalizes a deal about to be written.
func prepare(d *models.Deal, upsert bool) error {
	d.Normalize()
	if err := d.Validate(); err != nil {
		return err
	}
	if upsert {
		d.ID = MakeID(d.Type, d.Item, d.Merchant(), d.Location)
	}
	return nil
}

func writeFailed(op string, err error) error {
	log.WithError(err).Errorf("%s deal failed", op)
	return fmt.Errorf("%s deal: %w", op, err)
}
