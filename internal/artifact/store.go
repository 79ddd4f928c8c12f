package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrNotFound = errors.New("artifact not found")

// Store keeps job artifacts (source workbooks, tool replies, rendered pdfs)
// on disk, one directory per quote.
type Store struct {
	baseDir string
}

func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) quoteDir(quoteID string) string {
	return filepath.Join(s.baseDir, quoteID)
}

func (s *Store) filePath(quoteID, name string) (string, error) {
	// Prevent path traversal
	if strings.Contains(name, "..") || strings.Contains(quoteID, "..") {
		return "", fmt.Errorf("invalid artifact name: %s", name)
	}

	dir := s.quoteDir(quoteID)
	fullPath := filepath.Join(dir, filepath.Base(name))
	if !strings.HasPrefix(fullPath, dir) {
		return "", fmt.Errorf("path traversal detected: %s", name)
	}
	return fullPath, nil
}

// Save streams an uploaded artifact to disk and returns its store-relative
// path (quoteID/name).
func (s *Store) Save(quoteID, name string, r io.Reader) (string, error) {
	fullPath, err := s.filePath(quoteID, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}

	f, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(fullPath)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return filepath.Join(quoteID, filepath.Base(name)), nil
}

// Open returns a reader over a stored artifact. The caller closes it.
func (s *Store) Open(quoteID, name string) (io.ReadCloser, error) {
	fullPath, err := s.filePath(quoteID, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, quoteID, name)
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// Latest returns the newest stored artifact whose name carries the given
// extension, for serving "the source workbook" without tracking names.
func (s *Store) Latest(quoteID, ext string) (string, error) {
	entries, err := os.ReadDir(s.quoteDir(quoteID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, quoteID)
		}
		return "", fmt.Errorf("list artifacts: %w", err)
	}

	var newest string
	var newestMod int64
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().UnixNano() > newestMod {
			newest = e.Name()
			newestMod = info.ModTime().UnixNano()
		}
	}
	if newest == "" {
		return "", fmt.Errorf("%w: %s (*%s)", ErrNotFound, quoteID, ext)
	}
	return newest, nil
}

// List returns the artifact names stored for a quote.
func (s *Store) List(quoteID string) ([]string, error) {
	entries, err := os.ReadDir(s.quoteDir(quoteID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
