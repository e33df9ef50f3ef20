package deals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"kartai/models"
	"kartai/pkg/cache"
)

func at(min int) time.Time {
	return time.Date(2026, 3, 1, 9, min, 0, 0, time.UTC)
}

func sample() []models.Deal {
	return []models.Deal{
		{ID: "a", Type: models.Grocery, Item: "apples", Store: "Metro", Price: 1.99, Unit: "/lb", UpdatedAt: at(1)},
		{ID: "b", Type: models.Grocery, Item: "Bread", Store: "IGA", Price: 3.49, Unit: "/ea", UpdatedAt: at(5)},
		{ID: "c", Type: models.Gas, Station: "Esso", Location: "Laval", Price: 1.459, Unit: "/L", UpdatedAt: at(3)},
		{ID: "d", Type: models.Grocery, Item: "Cheddar", Store: "Metro", Price: 1.5, Unit: "/100g", CreatedAt: at(4)},
		{ID: "e", Type: models.Gas, Station: "Shell", Price: 5.2, Unit: "/gal", UpdatedAt: at(2), Caption: "cash only"},
	}
}

func ids(deals []models.Deal) []string {
	out := make([]string, len(deals))
	for i, d := range deals {
		out[i] = d.ID
	}
	return out
}

func TestDeriveViewNewest(t *testing.T) {
	got := DeriveView(sample(), ViewOptions{})
	assert.Equal(t, []string{"b", "d", "c", "e", "a"}, ids(got))
}

func TestDeriveViewFilterAndQuery(t *testing.T) {
	assert.Equal(t, []string{"c", "e"}, ids(DeriveView(sample(), ViewOptions{Type: FilterGas})))
	assert.Equal(t, []string{"d", "a"}, ids(DeriveView(sample(), ViewOptions{Query: "METRO"})))
	assert.Equal(t, []string{"e"}, ids(DeriveView(sample(), ViewOptions{Query: "cash"})))
	assert.Equal(t, []string{"c"}, ids(DeriveView(sample(), ViewOptions{Query: "laval", Type: FilterGas})))
	assert.Empty(t, DeriveView(sample(), ViewOptions{Query: "laval", Type: FilterGrocery}))
}

func TestDeriveViewPriceMissingLast(t *testing.T) {
	groceries := ViewOptions{Type: FilterGrocery, Sort: SortPriceAsc}
	// apples 4.39/kg, cheddar 15/kg, bread has no weight
	assert.Equal(t, []string{"a", "d", "b"}, ids(DeriveView(sample(), groceries)))
	groceries.Sort = SortPriceDesc
	assert.Equal(t, []string{"d", "a", "b"}, ids(DeriveView(sample(), groceries)))

	gas := ViewOptions{Type: FilterGas, Sort: SortPriceAsc}
	// 5.20/gal is about 1.37/L
	assert.Equal(t, []string{"e", "c"}, ids(DeriveView(sample(), gas)))
}

func TestDeriveViewAlpha(t *testing.T) {
	got := DeriveView(sample(), ViewOptions{Type: FilterGrocery, Sort: SortAlpha})
	assert.Equal(t, []string{"a", "b", "d"}, ids(got))
}

func TestDeriveViewIsPure(t *testing.T) {
	in := sample()
	_ = DeriveView(in, ViewOptions{Sort: SortAlpha})
	assert.Equal(t, ids(sample()), ids(in))
}

func TestDeriveViewUnknownOptions(t *testing.T) {
	got := DeriveView(sample(), ViewOptions{Type: "boats", Sort: "random"})
	assert.Equal(t, ids(DeriveView(sample(), ViewOptions{})), ids(got))
}

func TestViewOptionsPersist(t *testing.T) {
	kv := cache.NewMemory()
	assert.Equal(t, ViewOptions{Type: FilterAll, Sort: SortNewest}, LoadViewOptions(kv))
	SaveViewOptions(kv, ViewOptions{Query: "eggs", Type: FilterGas, Sort: SortPriceDesc})
	assert.Equal(t, ViewOptions{Query: "eggs", Type: FilterGas, Sort: SortPriceDesc}, LoadViewOptions(kv))
}
