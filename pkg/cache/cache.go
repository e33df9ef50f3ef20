// Package cache is a small durable key/value store for client state that
// should survive restarts. Every failure is logged and swallowed: a broken
// cache must never break the caller.
package cache

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var log = logrus.StandardLogger().WithField("package", "cache")

// Keys used by the service.
const (
	KeyDeals     = "deals.cache"
	KeyViewQuery = "view.query"
	KeyViewSort  = "view.sort"
	KeyViewType  = "view.type"
)

var bucket = []byte("kart")

type KV interface {
	GetString(key, fallback string) string
	PutString(key, value string)
}

// Bolt is a KV backed by a bbolt file.
type Bolt struct {
	db *bolt.DB
}

// Open opens or creates the cache file at path.
func Open(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) GetString(key, fallback string) string {
	out := fallback
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucket).Get([]byte(key)); v != nil {
			out = string(v)
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Debugf("cache read %s", key)
		return fallback
	}
	return out
}

func (b *Bolt) PutString(key, value string) {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), []byte(value))
	})
	if err != nil {
		log.WithError(err).Debugf("cache write %s", key)
	}
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

// Memory is a KV that lives only as long as the process.
type Memory struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemory() *Memory {
	return &Memory{m: map[string]string{}}
}

func (c *Memory) GetString(key, fallback string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.m[key]; ok {
		return v
	}
	return fallback
}

func (c *Memory) PutString(key, value string) {
	c.mu.Lock()
	c.m[key] = value
	c.mu.Unlock()
}

// GetJSON decodes the value at key into v and reports whether it did.
func GetJSON(kv KV, key string, v any) bool {
	raw := kv.GetString(key, "")
	if raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		log.WithError(err).Debugf("cache decode %s", key)
		return false
	}
	return true
}

func PutJSON(kv KV, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Debugf("cache encode %s", key)
		return
	}
	kv.PutString(key, string(raw))
}
