// Package blob stores uploaded files (movie posters) and hands back the URL
// they are served from.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/xid"
)

// ErrNotOwned is returned by Delete for URLs this store did not produce.
var ErrNotOwned = errors.New("blob: url not managed by this store")

// Store is the contract the catalog service writes posters through.
type Store interface {
	// Put saves r under a fresh unique name in the given folder and returns
	// the public URL of the stored object.
	Put(ctx context.Context, folder, contentType string, r io.Reader) (string, error)
	// Delete removes the object behind url. Deleting a missing object is
	// not an error.
	Delete(ctx context.Context, url string) error
}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
}

// Local keeps blobs in a directory on disk. The server exposes that
// directory read-only under BaseURL.
type Local struct {
	dir     string
	baseURL string
}

// NewLocal creates the root directory if needed. baseURL is the URL prefix
// the directory is served under, e.g. "/media/".
func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: creating %s: %w", dir, err)
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Local{dir: dir, baseURL: baseURL}, nil
}

// Dir is the directory the blobs live in.
func (l *Local) Dir() string { return l.dir }

// BaseURL is the URL prefix blobs are served under.
func (l *Local) BaseURL() string { return l.baseURL }

// Put writes r to <dir>/<folder>/<xid><ext>. The file is written under a
// temporary name first and renamed into place, so a reader never sees a
// half-written poster.
func (l *Local) Put(ctx context.Context, folder, contentType string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.Contains(folder, "..") {
		return "", fmt.Errorf("blob: invalid folder %q", folder)
	}

	name := xid.New().String() + extensions[contentType]
	destDir := filepath.Join(l.dir, filepath.FromSlash(folder))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("blob: creating %s: %w", destDir, err)
	}

	tmp, err := os.CreateTemp(destDir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("blob: creating temp file: %w", err)
	}

	_, err = io.Copy(tmp, r)
	closeErr := tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("blob: writing %s: %w", name, err)
	}
	if closeErr != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("blob: closing %s: %w", name, closeErr)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(destDir, name)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("blob: storing %s: %w", name, err)
	}

	return l.baseURL + path.Join(folder, name), nil
}

// Delete removes the file behind url.
func (l *Local) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, ok := strings.CutPrefix(url, l.baseURL)
	if !ok || rel == "" || strings.Contains(rel, "..") {
		return ErrNotOwned
	}

	err := os.Remove(filepath.Join(l.dir, filepath.FromSlash(rel)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("blob: deleting %s: %w", rel, err)
	}
	return nil
}
