package deals

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"kartai/models"
	"kartai/pkg/cache"
)

type TypeFilter string

const (
	FilterAll     TypeFilter = "all"
	FilterGrocery TypeFilter = "grocery"
	FilterGas     TypeFilter = "gas"
)

type SortBy string

const (
	SortNewest    SortBy = "newest"
	SortPriceAsc  SortBy = "price-asc"
	SortPriceDesc SortBy = "price-desc"
	SortAlpha     SortBy = "alpha"
)

func ParseTypeFilter(s string) TypeFilter {
	switch f := TypeFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case FilterGrocery, FilterGas:
		return f
	}
	return FilterAll
}

func ParseSortBy(s string) SortBy {
	switch b := SortBy(strings.ToLower(strings.TrimSpace(s))); b {
	case SortPriceAsc, SortPriceDesc, SortAlpha:
		return b
	}
	return SortNewest
}

// ViewOptions is the client's search/filter/sort state.
type ViewOptions struct {
	Query string     `json:"queryText"`
	Type  TypeFilter `json:"typeFilter"`
	Sort  SortBy     `json:"sortBy"`
}

// LoadViewOptions restores the last view state from kv.
func LoadViewOptions(kv cache.KV) ViewOptions {
	return ViewOptions{
		Query: kv.GetString(cache.KeyViewQuery, ""),
		Type:  ParseTypeFilter(kv.GetString(cache.KeyViewType, string(FilterAll))),
		Sort:  ParseSortBy(kv.GetString(cache.KeyViewSort, string(SortNewest))),
	}
}

func SaveViewOptions(kv cache.KV, v ViewOptions) {
	kv.PutString(cache.KeyViewQuery, v.Query)
	kv.PutString(cache.KeyViewType, string(v.Type))
	kv.PutString(cache.KeyViewSort, string(v.Sort))
}

// DeriveView filters and sorts a copy of deals. Ties keep input order.
func DeriveView(deals []models.Deal, v ViewOptions) []models.Deal {
	q := strings.ToLower(strings.TrimSpace(v.Query))
	typ := ParseTypeFilter(string(v.Type))
	out := make([]models.Deal, 0, len(deals))
	for _, d := range deals {
		if typ != FilterAll && string(d.Type) != string(typ) {
			continue
		}
		if q != "" && !matches(d, q) {
			continue
		}
		out = append(out, d)
	}

	switch ParseSortBy(string(v.Sort)) {
	case SortPriceAsc:
		sortByPrice(out, false)
	case SortPriceDesc:
		sortByPrice(out, true)
	case SortAlpha:
		c := collate.New(language.English, collate.IgnoreCase)
		sort.SliceStable(out, func(i, j int) bool {
			return c.CompareString(out[i].Item, out[j].Item) < 0
		})
	default:
		sort.SliceStable(out, func(i, j int) bool {
			return newestKey(out[i]).After(newestKey(out[j]))
		})
	}
	return out
}

func matches(d models.Deal, q string) bool {
	for _, f := range []string{d.Item, d.Store, d.Station, d.Location, d.Caption} {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

func newestKey(d models.Deal) time.Time {
	if !d.UpdatedAt.IsZero() {
		return d.UpdatedAt
	}
	return d.CreatedAt
}

// sortByPrice orders by normalized price; deals without one go last in
// both directions.
func sortByPrice(out []models.Deal, desc bool) {
	sort.SliceStable(out, func(i, j int) bool {
		pi, oki := out[i].ComparablePrice()
		pj, okj := out[j].ComparablePrice()
		switch {
		case oki && !okj:
			return true
		case !oki:
			return false
		case desc:
			return pi > pj
		default:
			return pi < pj
		}
	})
}
