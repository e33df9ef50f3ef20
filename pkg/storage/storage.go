// Package storage keeps deal photos. Backends share the Storer interface so
// the API does not care whether bytes land on disk or in a bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var log = logrus.StandardLogger().WithField("package", "storage")

var (
	ErrNotFound    = errors.New("object not found")
	ErrInvalidPath = errors.New("invalid object path")
)

// Object describes a stored file.
type Object struct {
	Path        string `json:"path"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type ProgressUpdate struct {
	Bytes   int64 `json:"bytes"`
	Total   int64 `json:"total"`
	Percent int   `json:"percent"`
}

type UploadOptions struct {
	ContentType string
	// Size is the expected length, or 0 when unknown.
	Size     int64
	Progress func(ProgressUpdate)
}

// Storer uploads, removes and opens objects by path.
type Storer interface {
	Upload(ctx context.Context, path string, r io.Reader, opts UploadOptions) (Object, error)
	// Delete removes path. A missing object is not an error.
	Delete(ctx context.Context, path string) error
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9]+`)

// ObjectPath names a new object under prefix: <prefix>/<millis>_<uuid>.<ext>.
// The extension is taken from filename and reduced to safe characters.
func ObjectPath(prefix, filename string, now time.Time) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	ext = unsafeChars.ReplaceAllString(ext, "")
	if ext == "" {
		ext = "bin"
	}
	name := fmt.Sprintf("%d_%s.%s", now.UnixMilli(), uuid.NewString(), ext)
	if prefix == "" {
		return name
	}
	return strings.Trim(prefix, "/") + "/" + name
}

// cleanPath rejects absolute paths and anything escaping the root.
func cleanPath(p string) (string, error) {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "", ErrInvalidPath
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." || part == "." || part == "" {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return p, nil
}

// progressReader reports bytes read so far and stops on ctx cancellation.
type progressReader struct {
	ctx   context.Context
	r     io.Reader
	total int64
	read  int64
	fn    func(ProgressUpdate)
}

func newProgressReader(ctx context.Context, r io.Reader, opts UploadOptions) *progressReader {
	return &progressReader{ctx: ctx, r: r, total: opts.Size, fn: opts.Progress}
}

func (p *progressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.report()
	}
	return n, err
}

func (p *progressReader) report() {
	if p.fn == nil {
		return
	}
	u := ProgressUpdate{Bytes: p.read, Total: p.total}
	if p.total > 0 {
		u.Percent = int(p.read * 100 / p.total)
		if u.Percent > 100 {
			u.Percent = 100
		}
	}
	p.fn(u)
}

// finish sends the final 100% update once the copy completes.
func (p *progressReader) finish() {
	if p.fn == nil {
		return
	}
	total := p.total
	if total <= 0 {
		total = p.read
	}
	p.fn(ProgressUpdate{Bytes: p.read, Total: total, Percent: 100})
}
