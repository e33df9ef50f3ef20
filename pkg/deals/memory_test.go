package deals

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kartai/models"
)

// tick returns a clock advancing one second per call.
func tick() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func milk() *models.Deal {
	return &models.Deal{Type: models.Grocery, Item: "Milk 2L", Store: "Metro", Location: "Montreal", Price: 4.29, Unit: "/ea"}
}

func TestMemoryCreateAssignsIDAndTimestamps(t *testing.T) {
	s := NewMemoryStore().WithClock(tick())
	ctx := context.Background()
	id, err := s.Create(ctx, milk())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].CreatedAt.IsZero())
	assert.Equal(t, list[0].CreatedAt, list[0].UpdatedAt)
	assert.Nil(t, list[0].NormalizedPerKg)
}

func TestMemoryRejectsInvalid(t *testing.T) {
	s := NewMemoryStore()
	d := milk()
	d.Price = 0
	_, err := s.Create(context.Background(), d)
	assert.ErrorIs(t, err, ErrInvalid)
	list, _ := s.List(context.Background())
	assert.Empty(t, list)
}

func TestMemoryUpsertIsIdempotent(t *testing.T) {
	s := NewMemoryStore().WithClock(tick())
	ctx := context.Background()
	id1, err := s.Upsert(ctx, milk())
	require.NoError(t, err)

	again := milk()
	again.Item = "  MILK 2L "
	again.Price = 3.99
	id2, err := s.Upsert(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	list, _ := s.List(ctx)
	require.Len(t, list, 1)
	assert.Equal(t, 3.99, list[0].Price)
	assert.True(t, list[0].UpdatedAt.After(list[0].CreatedAt))
}

func TestMemoryUpdate(t *testing.T) {
	s := NewMemoryStore().WithClock(tick())
	ctx := context.Background()
	id, _ := s.Create(ctx, milk())
	before, _ := s.List(ctx)

	price, unit := 8.5, "/kg"
	require.NoError(t, s.Update(ctx, id, Patch{Price: &price, Unit: &unit}))
	after, _ := s.List(ctx)
	assert.True(t, after[0].UpdatedAt.After(before[0].UpdatedAt))
	assert.Equal(t, models.Grocery, after[0].Type)
	require.NotNil(t, after[0].NormalizedPerKg)
	assert.Equal(t, 8.5, *after[0].NormalizedPerKg)

	bad := "/L"
	assert.ErrorIs(t, s.Update(ctx, id, Patch{Unit: &bad}), ErrInvalid)
	assert.ErrorIs(t, s.Update(ctx, "missing", Patch{Price: &price}), ErrNotFound)
}

func TestMemoryRemove(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	id, _ := s.Create(ctx, milk())
	require.NoError(t, s.Remove(ctx, id))
	assert.ErrorIs(t, s.Remove(ctx, id), ErrNotFound)
}

func TestMemoryListNewestFirst(t *testing.T) {
	s := NewMemoryStore().WithClock(tick())
	ctx := context.Background()
	first, _ := s.Create(ctx, milk())
	eggs := milk()
	eggs.Item = "Eggs"
	second, _ := s.Create(ctx, eggs)

	list, _ := s.List(ctx)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, first, list[1].ID)
}

func TestMemorySubscribe(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var snapshots [][]models.Deal
	unsub, err := s.Subscribe(ctx, func(l []models.Deal) {
		mu.Lock()
		snapshots = append(snapshots, l)
		mu.Unlock()
	}, func(error) { t.Fatalf("memory store never errors") })
	require.NoError(t, err)

	id, _ := s.Create(ctx, milk())
	_ = s.Remove(ctx, id)
	unsub()
	_, _ = s.Create(ctx, milk())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, snapshots, 3)
	assert.Len(t, snapshots[0], 0)
	assert.Len(t, snapshots[1], 1)
	assert.Len(t, snapshots[2], 0)
}
