// Package report prints the cheapest deals per kind.
package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"kartai/models"
	"kartai/pkg/deals"
	"kartai/pkg/units"
)

type Options struct {
	Type  deals.TypeFilter
	Query string
	// Top limits rows per deal type; 0 prints all.
	Top int
}

// Write prints one table per deal type, cheapest comparable price first.
func Write(w io.Writer, list []models.Deal, opts Options) error {
	types := []models.DealType{models.Grocery, models.Gas}
	switch deals.ParseTypeFilter(string(opts.Type)) {
	case deals.FilterGrocery:
		types = types[:1]
	case deals.FilterGas:
		types = types[1:]
	}
	for i, t := range types {
		view := deals.DeriveView(list, deals.ViewOptions{
			Query: opts.Query,
			Type:  deals.TypeFilter(t),
			Sort:  deals.SortPriceAsc,
		})
		if opts.Top > 0 && len(view) > opts.Top {
			view = view[:opts.Top]
		}
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s deals: %d\n", cases.Title(language.English).String(string(t)), len(view))
		if err := writeTable(w, view); err != nil {
			return err
		}
	}
	return nil
}

func writeTable(w io.Writer, view []models.Deal) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tWHERE\tPRICE\tCOMPARABLE\tUPDATED")
	for _, d := range view {
		comparable := ""
		if v, ok := d.ComparablePrice(); ok {
			unit := units.PerKg
			if d.Type == models.Gas {
				unit = units.PerL
			}
			comparable = units.Money(v) + unit
		}
		where := d.Merchant()
		if d.Location != "" {
			where += " (" + d.Location + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s%s\t%s\t%s\n", d.Item, where, units.Money(d.Price), d.Unit, comparable, d.UpdatedAt.Format("2006-01-02"))
	}
	return tw.Flush()
}
