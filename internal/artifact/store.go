// Package artifact manages the on-disk code and static assets for each
// deployment, under ${cwd}/${DEPLOYMENTS_DIR}/${deployment_id}/.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lagonhq/lagon-node/internal/deployment"
)

// Downloader fetches a deployment's code and assets and is responsible for
// producing the bytes to write to disk. It is an external collaborator; this
// package defines the contract it expects and ships HTTPDownloader as one
// concrete implementation.
type Downloader interface {
	Download(ctx context.Context, d *deployment.Deployment) (Bundle, error)
}

// Bundle is the set of files a Downloader produced for a deployment.
// Paths are relative to the deployment's artifact directory.
type Bundle struct {
	// Entry is the top-level script source, written as "index.js".
	Entry []byte
	// Assets maps a relative asset path to its contents.
	Assets map[string][]byte
}

// Store manages the flat per-deployment artifact directories rooted at
// baseDir (typically ${cwd}/deployments).
type Store struct {
	baseDir string
}

// New creates a Store rooted at baseDir, creating it if necessary.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create deployments dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Dir returns the directory a deployment's artifacts live (or would live) in.
func (s *Store) Dir(id string) string {
	return filepath.Join(s.baseDir, id)
}

// EntryPath returns the path to the deployment's top-level script.
func (s *Store) EntryPath(id string) string {
	return filepath.Join(s.Dir(id), "index.js")
}

// Download fetches the deployment's code and assets via downloader and
// writes them to disk. It is idempotent: re-downloading the same deployment
// overwrites the previous artifacts in place.
func (s *Store) Download(ctx context.Context, d *deployment.Deployment, downloader Downloader) error {
	bundle, err := downloader.Download(ctx, d)
	if err != nil {
		return fmt.Errorf("download deployment %s: %w", d.ID, err)
	}

	dir := s.Dir(d.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create deployment dir: %w", err)
	}

	if err := os.WriteFile(s.EntryPath(d.ID), bundle.Entry, 0o644); err != nil {
		return fmt.Errorf("write entry script: %w", err)
	}

	for rel, contents := range bundle.Assets {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("create asset dir for %s: %w", rel, err)
		}
		if err := os.WriteFile(full, contents, 0o644); err != nil {
			return fmt.Errorf("write asset %s: %w", rel, err)
		}
	}

	return nil
}

// Remove deletes a deployment's artifact directory recursively. It returns
// an error if the directory does not exist.
func (s *Store) Remove(id string) error {
	dir := s.Dir(id)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("remove deployment %s: %w", id, err)
	}
	return os.RemoveAll(dir)
}

// Asset reads a single asset's contents from disk for synchronous serving by
// the dispatcher.
func (s *Store) Asset(id, path string) ([]byte, error) {
	full := filepath.Join(s.Dir(id), path)
	return os.ReadFile(full)
}
