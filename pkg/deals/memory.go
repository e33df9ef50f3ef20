package deals

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"kartai/models"
)

// MemoryStore keeps deals in process memory. Subscribers are called
// synchronously after each write, outside the lock.
type MemoryStore struct {
	mu    sync.RWMutex
	deals map[string]models.Deal
	subs  map[int]func([]models.Deal)
	next  int
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deals: map[string]models.Deal{},
		subs:  map[int]func([]models.Deal){},
		now:   time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Create(ctx context.Context, d *models.Deal) (string, error) {
	if err := prepare(d, false); err != nil {
		return "", err
	}
	s.mu.Lock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := s.now()
	d.CreatedAt, d.UpdatedAt = now, now
	s.deals[d.ID] = *d
	s.mu.Unlock()
	s.publish()
	return d.ID, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, d *models.Deal) (string, error) {
	if err := prepare(d, true); err != nil {
		return "", err
	}
	s.mu.Lock()
	now := s.now()
	d.CreatedAt, d.UpdatedAt = now, now
	if old, ok := s.deals[d.ID]; ok {
		d.CreatedAt = old.CreatedAt
	}
	s.deals[d.ID] = *d
	s.mu.Unlock()
	s.publish()
	return d.ID, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, p Patch) error {
	s.mu.Lock()
	d, ok := s.deals[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if err := p.Apply(&d); err != nil {
		s.mu.Unlock()
		return err
	}
	d.UpdatedAt = s.now()
	s.deals[id] = d
	s.mu.Unlock()
	s.publish()
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.deals[id]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.deals, id)
	s.mu.Unlock()
	s.publish()
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]models.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot(), nil
}

// snapshot returns deals ordered by updatedAt desc. Callers hold s.mu.
func (s *MemoryStore) snapshot() []models.Deal {
	out := make([]models.Deal, 0, len(s.deals))
	for _, d := range s.deals {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemoryStore) Subscribe(ctx context.Context, onChange func([]models.Deal), onError func(error)) (func(), error) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = onChange
	list := s.snapshot()
	s.mu.Unlock()

	onChange(list)
	stop := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(stop)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-stop:
		}
	}()
	return unsubscribe, nil
}

func (s *MemoryStore) publish() {
	s.mu.RLock()
	list := s.snapshot()
	subs := make([]func([]models.Deal), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()
	for _, fn := range subs {
		fn(append([]models.Deal(nil), list...))
	}
}
