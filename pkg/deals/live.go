package deals

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"kartai/models"
	"kartai/pkg/cache"
)

// Live keeps the last known deal list: warm-started from the cache, kept
// current by a store subscription and re-read on a schedule so a silent
// subscription cannot leave it stale.
type Live struct {
	store Store
	kv    cache.KV

	mu       sync.RWMutex
	deals    []models.Deal
	message  string
	watchers map[int]chan []models.Deal
	nextID   int

	cancel      context.CancelFunc
	unsubscribe func()
	sched       *cron.Cron
}

func NewLive(store Store, kv cache.KV) *Live {
	l := &Live{store: store, kv: kv, watchers: map[int]chan []models.Deal{}}
	var cached []models.Deal
	if cache.GetJSON(kv, cache.KeyDeals, &cached) {
		l.deals = cached
	}
	return l
}

// Start subscribes to the store. resync is a cron spec such as
// "@every 1m"; empty disables periodic re-reads.
func (l *Live) Start(ctx context.Context, resync string) error {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	if resync != "" {
		l.sched = cron.New()
		if _, err := l.sched.AddFunc(resync, func() { _ = l.Resync(ctx) }); err != nil {
			cancel()
			return err
		}
		l.sched.Start()
	}
	unsub, err := l.store.Subscribe(ctx, l.onChange, l.onError)
	if err != nil {
		l.onError(err)
		_ = l.Resync(ctx)
		return nil
	}
	l.unsubscribe = unsub
	return nil
}

// Resync replaces the list with a one-shot read. On failure the current
// list is kept and a message is surfaced.
func (l *Live) Resync(ctx context.Context) error {
	list, err := l.store.List(ctx)
	if err != nil {
		l.onError(err)
		return err
	}
	l.onChange(list)
	return nil
}

func (l *Live) onChange(list []models.Deal) {
	if list == nil {
		list = []models.Deal{}
	}
	l.mu.Lock()
	l.deals = list
	l.message = ""
	watchers := make([]chan []models.Deal, 0, len(l.watchers))
	for _, ch := range l.watchers {
		watchers = append(watchers, ch)
	}
	l.mu.Unlock()

	cache.PutJSON(l.kv, cache.KeyDeals, list)
	for _, ch := range watchers {
		offer(ch, list)
	}
}

func (l *Live) onError(err error) {
	log.WithError(err).Warn("live deals unavailable")
	l.mu.Lock()
	l.message = "Live updates unavailable: " + err.Error()
	l.mu.Unlock()
}

// offer replaces whatever is pending on ch with list.
func offer(ch chan []models.Deal, list []models.Deal) {
	for {
		select {
		case ch <- list:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Deals returns a copy of the current list.
func (l *Live) Deals() []models.Deal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.Deal{}, l.deals...)
}

// Message is the last problem worth showing, empty when the list is live.
func (l *Live) Message() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.message
}

// Watch returns a channel that always holds the newest list. The current
// list is delivered first.
func (l *Live) Watch() (<-chan []models.Deal, func()) {
	ch := make(chan []models.Deal, 1)
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.watchers[id] = ch
	ch <- append([]models.Deal{}, l.deals...)
	l.mu.Unlock()
	return ch, func() {
		l.mu.Lock()
		delete(l.watchers, id)
		l.mu.Unlock()
	}
}

// Close stops the subscription and the resync schedule.
func (l *Live) Close() {
	if l.sched != nil {
		<-l.sched.Stop().Done()
	}
	if l.unsubscribe != nil {
		l.unsubscribe()
	}
	if l.cancel != nil {
		l.cancel()
	}
}
