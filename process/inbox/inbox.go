// Package inbox turns photos dropped into a directory into deals.
package inbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"
	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"

	"kartai/models"
	"kartai/pkg/ocr"
	"kartai/pkg/storage"
)

var log = logrus.StandardLogger().WithField("package", "inbox")

// Writer is the part of deals.Store the inbox writes through.
type Writer interface {
	Create(ctx context.Context, d *models.Deal) (string, error)
	Upsert(ctx context.Context, d *models.Deal) (string, error)
}

type Config struct {
	Dir string
	// ProcessedDir receives photos once their deal is stored. Empty leaves
	// them in place.
	ProcessedDir string
	Workers      int
	Scan         ocr.ScanOptions
	// MaxBytes bounds archived photos; larger ones are downscaled.
	MaxBytes int64
	// DryRun scans and logs but writes nothing.
	DryRun bool
}

// Result is the outcome for one photo.
type Result struct {
	File   string
	DealID string
	Deal   *models.Deal
	Status string
	Err    error
}

// Ingester scans inbox photos and upserts the suggested deals.
type Ingester struct {
	cfg     Config
	scanner *ocr.Scanner
	store   Writer
	objects storage.Storer

	mu   sync.Mutex
	seen map[string]struct{}
}

// New returns an Ingester. objects may be nil to keep photos local only.
func New(cfg Config, scanner *ocr.Scanner, store Writer, objects storage.Storer) *Ingester {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 1_000_000
	}
	return &Ingester{cfg: cfg, scanner: scanner, store: store, objects: objects, seen: map[string]struct{}{}}
}

func IsSupportedExt(name string) bool {
	// ignore temp files written by this package or by editors
	if strings.HasPrefix(name, ".") || strings.Contains(name, ".ocr.") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff":
		return true
	}
	return false
}

// ListImageFiles returns the supported file names in dir, sorted.
func ListImageFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !IsSupportedExt(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

// claim marks name as in progress. It reports false when another worker
// already has it.
func (in *Ingester) claim(name string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, ok := in.seen[name]; ok {
		return false
	}
	in.seen[name] = struct{}{}
	return true
}

func (in *Ingester) release(name string) {
	in.mu.Lock()
	delete(in.seen, name)
	in.mu.Unlock()
}

// Run processes every photo currently in the inbox on a worker pool and
// returns the results in file name order.
func (in *Ingester) Run(ctx context.Context) ([]Result, error) {
	files := ListImageFiles(in.cfg.Dir)
	log.Infof("scanning %d files (workers=%d)", len(files), in.cfg.Workers)

	pool, err := ants.NewPool(in.cfg.Workers)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	results := make([]Result, len(files))
	var wg sync.WaitGroup
	for i, name := range files {
		i, name := i, name
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			results[i] = in.ProcessFile(ctx, name)
		}); err != nil {
			wg.Done()
			results[i] = Result{File: name, Err: err}
		}
	}
	wg.Wait()
	return results, ctx.Err()
}

// Watch processes photos as they appear until ctx is done. Files are picked
// up once they stopped changing for a short while.
func (in *Ingester) Watch(ctx context.Context, onResult func(Result)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(in.cfg.Dir); err != nil {
		return err
	}
	pool, err := ants.NewPool(in.cfg.Workers)
	if err != nil {
		return err
	}
	defer pool.Release()
	log.Infof("watching %s (debounced) ...", in.cfg.Dir)

	pending := map[string]time.Time{}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				name := filepath.Base(ev.Name)
				if IsSupportedExt(name) {
					pending[name] = time.Now()
				}
			}
		case now := <-ticker.C:
			for name, t := range pending {
				if now.Sub(t) <= 300*time.Millisecond {
					continue
				}
				delete(pending, name)
				name := name
				wg.Add(1)
				if err := pool.Submit(func() {
					defer wg.Done()
					res := in.ProcessFile(ctx, name)
					if onResult != nil {
						onResult(res)
					}
				}); err != nil {
					wg.Done()
					log.WithError(err).Warnf("queue %s", name)
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("watch error")
		}
	}
}

// ProcessFile scans one inbox photo and stores the suggested deal. Photos
// without a usable suggestion stay in the inbox.
func (in *Ingester) ProcessFile(ctx context.Context, name string) Result {
	res := Result{File: name}
	if !in.claim(name) {
		res.Status = "skipped: in progress"
		return res
	}
	defer in.release(name)

	src := filepath.Join(in.cfg.Dir, name)
	data, err := os.ReadFile(src)
	if err != nil {
		res.Err = err
		return res
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		res.Err = fmt.Errorf("decode %s: %w", name, err)
		return res
	}
	scan, err := in.scanner.Scan(ctx, img, in.cfg.Scan)
	if err != nil {
		res.Err = err
		return res
	}
	res.Status = scan.Status
	if _, err := scan.Price(); err != nil {
		log.Debugf("no price in %s: %s", name, scan.Status)
		res.Err = err
		return res
	}
	d := scan.Suggestion.Deal()
	res.Deal = &d
	if in.cfg.DryRun {
		log.Infof("dry-run %s: %s %s %.4f%s", name, d.Type, d.Merchant(), d.Price, d.Unit)
		return res
	}

	if in.objects != nil {
		obj, err := in.objects.Upload(ctx, storage.ObjectPath("deals", name, time.Now()), bytes.NewReader(data), storage.UploadOptions{
			ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(name))),
			Size:        int64(len(data)),
		})
		if err != nil {
			res.Err = fmt.Errorf("upload %s: %w", name, err)
			return res
		}
		d.ImagePath, d.ImageURL = obj.Path, obj.URL
	}

	id, err := in.save(ctx, &d)
	if err != nil {
		if in.objects != nil && d.ImagePath != "" {
			if derr := in.objects.Delete(ctx, d.ImagePath); derr != nil {
				log.WithError(derr).Warnf("failed to remove uploaded photo %s", d.ImagePath)
			}
		}
		res.Err = err
		return res
	}
	res.DealID = id
	log.Infof("deal %s from %s: %s %.4f%s", id, name, d.Merchant(), d.Price, d.Unit)

	if in.cfg.ProcessedDir != "" {
		if err := archive(src, filepath.Join(in.cfg.ProcessedDir, name), in.cfg.MaxBytes); err != nil {
			log.WithError(err).Warnf("failed to move processed file %s", name)
		}
	}
	return res
}

// save upserts labelled deals. A read with neither item nor merchant has
// nothing to key on and would collapse onto one id, so it gets a new deal.
func (in *Ingester) save(ctx context.Context, d *models.Deal) (string, error) {
	if strings.TrimSpace(d.Item) == "" && strings.TrimSpace(d.Merchant()) == "" {
		return in.store.Create(ctx, d)
	}
	return in.store.Upsert(ctx, d)
}

// archive moves src to dst, downscaling photos larger than maxBytes. It
// attempts an atomic rename and falls back to copy+remove.
func archive(src, dst string, maxBytes int64) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	if fi.Size() <= maxBytes {
		return move(src, dst)
	}
	img, err := imaging.Open(src)
	if err != nil {
		return move(src, dst)
	}
	// encoded size roughly follows area
	scale := math.Sqrt(float64(maxBytes) / float64(fi.Size()))
	scale = math.Max(0.1, math.Min(scale, 0.95))
	w := int(math.Max(1, math.Round(float64(img.Bounds().Dx())*scale)))
	img = imaging.Resize(img, w, 0, imaging.Lanczos)
	if err := imaging.Save(img, dst); err != nil {
		return move(src, dst)
	}
	return os.Remove(src)
}

func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
