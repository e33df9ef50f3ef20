package deals

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kartai/models"
)

func TestExportCSV(t *testing.T) {
	mb, _ := models.NewMultiBuy(2, 5)
	deals := []models.Deal{
		{ID: "g1", Type: models.Grocery, Item: "Apples", Store: "Metro", Price: 1.99, Unit: "/lb", UpdatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		{ID: "g2", Type: models.Grocery, Item: "Yogurt", Store: "IGA", Price: 2.5, Unit: "/ea", OriginalMultiBuy: mb},
		{ID: "s1", Type: models.Gas, Station: "Esso", Price: 1.459, Unit: "/L"},
	}
	var buf bytes.Buffer
	require.NoError(t, ExportCSV(&buf, deals))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "id,type,item,store_or_station,location,price,unit,comparable_price,secondary_price,multi_buy,caption,updated_at", lines[0])
	assert.Equal(t, "g1,grocery,Apples,Metro,,$1.99,/lb,$4.39,$4.39/kg · $1.99/lb,,,2026-03-01T09:00:00Z", lines[1])
	assert.Contains(t, lines[2], "2 for $5.00")
	assert.Contains(t, lines[3], "Esso")
	assert.Contains(t, lines[3], "$5.52/gal")
}

func TestSecondary(t *testing.T) {
	assert.Equal(t, "", Secondary(models.Deal{Type: models.Grocery, Price: 2, Unit: "/ea"}))
	assert.Equal(t, "$15.00/kg · $6.80/lb", Secondary(models.Deal{Type: models.Grocery, Price: 1.5, Unit: "/100g"}))
	assert.Equal(t, "$1.37/L", Secondary(models.Deal{Type: models.Gas, Price: 5.2, Unit: "/gal"}))
}
