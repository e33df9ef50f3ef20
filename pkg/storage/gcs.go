package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

const gcsCacheControl = "public,max-age=31536000,immutable"

// GCS stores objects in a Cloud Storage bucket with public URLs.
type GCS struct {
	client *storage.Client
	bucket string
}

var _ Storer = (*GCS)(nil)

// NewGCS uses Application Default Credentials.
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}

// PublicURL is where a stored object is served from.
func PublicURL(bucket, p string) string {
	return "https://storage.googleapis.com/" + bucket + "/" + p
}

// Upload streams r into the bucket. Cancelling ctx aborts the write and
// GCS discards the partial object.
func (g *GCS) Upload(ctx context.Context, p string, r io.Reader, opts UploadOptions) (Object, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return Object{}, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(clean).NewWriter(ctx)
	w.ContentType = opts.ContentType
	w.CacheControl = gcsCacheControl

	pr := newProgressReader(ctx, r, opts)
	n, err := io.Copy(w, pr)
	if err != nil {
		cancel()
		_ = w.Close()
		log.WithError(err).Warnf("upload of %s aborted", clean)
		return Object{}, fmt.Errorf("copy to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return Object{}, fmt.Errorf("finalize upload: %w", err)
	}
	pr.finish()
	return Object{Path: clean, URL: PublicURL(g.bucket, clean), ContentType: opts.ContentType, Size: n}, nil
}

func (g *GCS) Delete(ctx context.Context, p string) error {
	clean, err := cleanPath(p)
	if err != nil {
		return err
	}
	err = g.client.Bucket(g.bucket).Object(clean).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

func (g *GCS) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	rc, err := g.client.Bucket(g.bucket).Object(clean).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading object %s/%s: %w", g.bucket, clean, err)
	}
	return rc, nil
}
