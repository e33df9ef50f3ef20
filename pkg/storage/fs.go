package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
)

// Fs stores objects below a directory. Retrieval goes through the API, so
// URLs are signed by a URLSigner.
type Fs struct {
	dir    string
	signer *URLSigner
}

var _ Storer = (*Fs)(nil)

func NewFs(dir string, signer *URLSigner) (*Fs, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Fs{dir: dir, signer: signer}, nil
}

func (fs *Fs) full(p string) (string, string, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return "", "", err
	}
	return clean, filepath.Join(fs.dir, filepath.FromSlash(clean)), nil
}

// Upload writes to a temp file next to the target and renames it into place.
// Nothing is left behind on failure or cancellation.
func (fs *Fs) Upload(ctx context.Context, p string, r io.Reader, opts UploadOptions) (Object, error) {
	clean, full, err := fs.full(p)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return Object{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return Object{}, err
	}
	pr := newProgressReader(ctx, r, opts)
	n, err := io.Copy(tmp, pr)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = os.Rename(tmp.Name(), full)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		log.WithError(err).Warnf("upload of %s aborted", clean)
		return Object{}, err
	}
	pr.finish()
	log.Debugf("stored %s (%d bytes)", clean, n)

	obj := Object{Path: clean, ContentType: opts.ContentType, Size: n}
	if fs.signer != nil {
		if obj.URL, err = fs.signer.URL(clean); err != nil {
			return Object{}, err
		}
	}
	return obj, nil
}

func (fs *Fs) Delete(_ context.Context, p string) error {
	_, full, err := fs.full(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (fs *Fs) Open(_ context.Context, p string) (io.ReadCloser, error) {
	_, full, err := fs.full(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}
