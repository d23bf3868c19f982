// Package blobstore persists generated images and hands back URLs for them.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"lounged/internal/common/fsutil"
)

// Store saves and opens named blobs.
type Store interface {
	Save(ctx context.Context, name, contentType string, r io.Reader) (string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// ErrNotFound is returned by Open for unknown names.
var ErrNotFound = errors.New("blob not found")

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidName reports whether name is a flat object name safe for any backend.
func ValidName(name string) bool {
	return len(name) <= 200 && validName.MatchString(name)
}

// LocalStore writes blobs into a directory; the HTTP API serves them under
// URLPrefix.
type LocalStore struct {
	dir       string
	urlPrefix string
}

// NewLocalStore creates dir when missing. urlPrefix defaults to "/images/".
func NewLocalStore(dir, urlPrefix string) (*LocalStore, error) {
	d, err := fsutil.ResolveDir(dir)
	if err != nil {
		return nil, err
	}
	if urlPrefix == "" {
		urlPrefix = "/images/"
	}
	return &LocalStore{dir: d, urlPrefix: urlPrefix}, nil
}

func (s *LocalStore) Save(_ context.Context, name, _ string, r io.Reader) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read blob: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return s.urlPrefix + name, nil
}

func (s *LocalStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if !ValidName(name) {
		return nil, ErrNotFound
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}
