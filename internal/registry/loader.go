package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lunad/internal/common/fsutil"
	"lunad/pkg/types"
)

// GGUFScanner discovers *.gguf model files in a directory.
type GGUFScanner struct{}

func NewGGUFScanner() *GGUFScanner { return &GGUFScanner{} }

// Scan walks dir (with '~' expansion) and builds a registry from filenames.
// ID is the full filename (including extension); Path is the absolute file
// path. Other metadata is empty.
func (s *GGUFScanner) Scan(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		// Use full filename as ID (e.g., "luna-hermes.gguf")
		models = append(models, types.Model{
			ID:   name,
			Name: name,
			Path: filepath.Join(abs, name),
		})
	}
	return models, nil
}

// LoadDir is a convenience wrapper around a one-shot scan.
func LoadDir(dir string) ([]types.Model, error) {
	return NewGGUFScanner().Scan(dir)
}
