package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Preset is a named set of scan parameters tuned for a kind of photo.
type Preset struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	Mode     string  `json:"mode"`
	Scale    float64 `json:"scale"`
	ThreshA  int     `json:"threshA"`
	ThreshB  int     `json:"threshB"`
	Invert   bool    `json:"invert"`
	YOffset  float64 `json:"yOffset"`
	AutoOtsu bool    `json:"autoOtsu"`
}

// ScanOptions converts the preset. Gas presets read both sign bands.
func (p Preset) ScanOptions() ScanOptions {
	mode := ParseMode(p.Mode)
	return ScanOptions{
		Mode:     mode,
		YOffset:  p.YOffset,
		Scale:    p.Scale,
		Invert:   p.Invert,
		ThreshA:  p.ThreshA,
		ThreshB:  p.ThreshB,
		AutoOtsu: p.AutoOtsu,
		DualBand: mode == ModeGas,
	}
}

// TestImage is a sample photo listed next to the presets.
type TestImage struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	URL   string `json:"url"`
}

type PresetConfig struct {
	Images  []TestImage `json:"images"`
	Presets []Preset    `json:"presets"`
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// LoadPresets reads a preset config from a local file or an http(s) URL.
func LoadPresets(ctx context.Context, source string) (*PresetConfig, error) {
	var data []byte
	if isURL(source) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, fmt.Errorf("presets request: %w", err)
		}
		req.Header.Set("Cache-Control", "no-cache")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch presets: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch presets: HTTP %d", resp.StatusCode)
		}
		if data, err = io.ReadAll(resp.Body); err != nil {
			return nil, fmt.Errorf("read presets: %w", err)
		}
	} else {
		var err error
		if data, err = os.ReadFile(source); err != nil {
			return nil, fmt.Errorf("read presets: %w", err)
		}
	}
	var cfg PresetConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode presets: %w", err)
	}
	return &cfg, nil
}

// PresetStore holds the last loaded preset config. A failed load keeps an
// empty config and remembers the error for display.
type PresetStore struct {
	source string

	mu  sync.RWMutex
	cfg PresetConfig
	err error
}

func NewPresetStore(source string) *PresetStore {
	return &PresetStore{source: source}
}

// Reload re-reads the source. An empty source clears the config.
func (p *PresetStore) Reload(ctx context.Context) error {
	if p.source == "" {
		p.set(PresetConfig{}, nil)
		return nil
	}
	cfg, err := LoadPresets(ctx, p.source)
	if err != nil {
		log.WithError(err).Warnf("presets unavailable from %s", p.source)
		p.set(PresetConfig{}, err)
		return err
	}
	log.Infof("loaded %d OCR presets from %s", len(cfg.Presets), p.source)
	p.set(*cfg, nil)
	return nil
}

func (p *PresetStore) set(cfg PresetConfig, err error) {
	p.mu.Lock()
	p.cfg, p.err = cfg, err
	p.mu.Unlock()
}

// Snapshot returns the current config and the last load error, if any.
func (p *PresetStore) Snapshot() (PresetConfig, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg, p.err
}

func (p *PresetStore) Get(id string) (Preset, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, pr := range p.cfg.Presets {
		if pr.ID == id {
			return pr, true
		}
	}
	return Preset{}, false
}

// Watch reloads a file source whenever it changes until ctx is done.
// URL sources are loaded once and not watched.
func (p *PresetStore) Watch(ctx context.Context) error {
	if p.source == "" || isURL(p.source) {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	// editors replace files, so watch the directory
	if err := w.Add(filepath.Dir(p.source)); err != nil {
		return err
	}
	target := filepath.Clean(p.source)
	var pending time.Time
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) == target && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.Now()
			}
		case <-ticker.C:
			if !pending.IsZero() && time.Since(pending) > 150*time.Millisecond {
				pending = time.Time{}
				_ = p.Reload(ctx)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("presets watch error")
		}
	}
}
