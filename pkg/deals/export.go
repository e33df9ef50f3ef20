package deals

import (
	"io"
	"strconv"
	"time"

	"github.com/gocarina/gocsv"

	"kartai/models"
	"kartai/pkg/units"
)

type csvRow struct {
	ID         string `csv:"id"`
	Type       string `csv:"type"`
	Item       string `csv:"item"`
	Merchant   string `csv:"store_or_station"`
	Location   string `csv:"location"`
	Price      string `csv:"price"`
	Unit       string `csv:"unit"`
	Comparable string `csv:"comparable_price"`
	Secondary  string `csv:"secondary_price"`
	MultiBuy   string `csv:"multi_buy"`
	Caption    string `csv:"caption"`
	UpdatedAt  string `csv:"updated_at"`
}

// Secondary returns the comparison price shown under a card:
// "$x.xx/kg · $y.yy/lb" for weighed groceries and "$x.xx/gal" for gas.
func Secondary(d models.Deal) string {
	if d.Type == models.Gas {
		if v, ok := units.ToPerGal(d.Price, d.Unit); ok && d.Unit != units.PerGal {
			return units.Money(v) + "/gal"
		}
		if v, ok := units.ToPerL(d.Price, d.Unit); ok && d.Unit != units.PerL {
			return units.Money(v) + "/L"
		}
		return ""
	}
	kg, ok := units.ToPerKg(d.Price, d.Unit)
	if !ok {
		return ""
	}
	lb, _ := units.ToPerLb(d.Price, d.Unit)
	return units.Money(kg) + "/kg · " + units.Money(lb) + "/lb"
}

// ExportCSV writes deals as CSV with a header row.
func ExportCSV(w io.Writer, deals []models.Deal) error {
	rows := make([]csvRow, 0, len(deals))
	for _, d := range deals {
		r := csvRow{
			ID:        d.ID,
			Type:      string(d.Type),
			Item:      d.Item,
			Merchant:  d.Merchant(),
			Location:  d.Location,
			Price:     units.Money(d.Price),
			Unit:      d.Unit,
			Secondary: Secondary(d),
			Caption:   d.Caption,
		}
		if v, ok := d.ComparablePrice(); ok {
			r.Comparable = units.Money(v)
		}
		if m := d.OriginalMultiBuy; m != nil {
			r.MultiBuy = strconv.Itoa(m.Qty) + " for " + units.Money(m.Total)
		}
		if !d.UpdatedAt.IsZero() {
			r.UpdatedAt = d.UpdatedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, r)
	}
	return gocsv.Marshal(&rows, w)
}
