package units

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToPerKg(t *testing.T) {
	v, ok := ToPerKg(3.99, PerLb)
	assert.True(t, ok)
	assert.InDelta(t, 8.7964, v, 1e-4)

	v, ok = ToPerKg(1.25, Per100g)
	assert.True(t, ok)
	assert.InDelta(t, 12.5, v, 1e-9)

	v, ok = ToPerKg(5, PerKg)
	assert.True(t, ok)
	assert.Equal(t, 5.0, v)

	_, ok = ToPerKg(2.49, Each)
	assert.False(t, ok)
	_, ok = ToPerKg(2.49, Dozen)
	assert.False(t, ok)
	_, ok = ToPerKg(math.NaN(), PerKg)
	assert.False(t, ok)
}

func TestPoundRoundTrip(t *testing.T) {
	for _, p := range []float64{0.01, 0.69, 3.99, 12.5, 199.99} {
		kg, ok := ToPerKg(p, PerLb)
		assert.True(t, ok)
		lb, ok := ToPerLb(kg, PerKg)
		assert.True(t, ok)
		assert.InDelta(t, p, lb, 1e-9, "price %v", p)
	}
}

func TestVolume(t *testing.T) {
	v, ok := ToPerGal(1.459, PerL)
	assert.True(t, ok)
	assert.InDelta(t, 5.5229, v, 1e-4)

	l, ok := ToPerL(3.79, PerGal)
	assert.True(t, ok)
	assert.InDelta(t, 1.0012, l, 1e-4)

	l, ok = ToPerL(144.9, PerL)
	assert.True(t, ok)
	assert.InDelta(t, 144.9, l, 1e-9)

	_, ok = ToPerL(2, PerKg)
	assert.False(t, ok)
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "$3.99", Money(3.99))
	assert.Equal(t, "$8.80", Money(8.7964))
	assert.Equal(t, "$0.00", Money(0))
	assert.Equal(t, "", Money(math.Inf(1)))
}

func TestRound4(t *testing.T) {
	assert.Equal(t, 1.6667, Round4(5.0/3))
	assert.Equal(t, 2.5, Round4(2.5))
}
