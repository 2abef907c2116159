// Package storage resolves content locators and session artifacts against afs URLs,
// so the same code serves local disk, mem:// in tests and cloud buckets.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/url"

	"github.com/ifuryst/reelpost/pkg/util"
)

type ContentStore struct {
	fs      afs.Service
	baseURL string
}

func NewContentStore(fs afs.Service, baseURL string) *ContentStore {
	return &ContentStore{fs: fs, baseURL: normalizeBase(baseURL)}
}

// ErrUnsafeLocator rejects locators that could point outside the base.
var ErrUnsafeLocator = errors.New("content locator must be a relative path under the content base")

// Resolve joins a locator onto the base URL. Callers validate with util.SafeLocator first.
func (s *ContentStore) Resolve(locator string) string {
	return url.Join(s.baseURL, path.Clean(locator))
}

func (s *ContentStore) target(locator string) (string, error) {
	if !util.SafeLocator(locator) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeLocator, locator)
	}
	return s.Resolve(locator), nil
}

func (s *ContentStore) Exists(ctx context.Context, locator string) (bool, error) {
	target, err := s.target(locator)
	if err != nil {
		return false, err
	}
	exists, err := s.fs.Exists(ctx, target)
	if err != nil {
		return false, fmt.Errorf("failed to check content %s: %w", locator, err)
	}
	return exists, nil
}

// Delete removes the content; an already missing resource is not an error.
func (s *ContentStore) Delete(ctx context.Context, locator string) error {
	target, err := s.target(locator)
	if err != nil {
		return err
	}
	exists, err := s.fs.Exists(ctx, target)
	if err != nil {
		return fmt.Errorf("failed to check content %s: %w", locator, err)
	}
	if !exists {
		return nil
	}
	if err := s.fs.Delete(ctx, target); err != nil {
		return fmt.Errorf("failed to delete content %s: %w", locator, err)
	}
	return nil
}

func (s *ContentStore) Save(ctx context.Context, locator string, reader io.Reader) error {
	target, err := s.target(locator)
	if err != nil {
		return err
	}
	if err := s.fs.Upload(ctx, target, 0o644, reader); err != nil {
		return fmt.Errorf("failed to save content %s: %w", locator, err)
	}
	return nil
}

// normalizeBase maps a plain directory to a file:// URL; URLs pass through.
func normalizeBase(base string) string {
	if strings.Contains(base, "://") {
		return base
	}
	if !filepath.IsAbs(base) {
		if wd, err := os.Getwd(); err == nil {
			base = filepath.Join(wd, base)
		}
	}
	return "file://" + filepath.ToSlash(base)
}
