// Package local stores page artifacts on the local filesystem, one directory
// per page id.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters of the artifact store.
type Config struct {
	// BaseDir is the root directory artifacts are written under.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// ArtifactStore writes page artifacts under BaseDir/<pageID>/<kind>.
type ArtifactStore struct {
	baseDir string
}

// New validates that the base directory exists (creating it if needed) and
// is writable. An unwritable artifact root is fatal at startup.
func New(cfg Config) (*ArtifactStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("artifact base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create artifact directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat artifact directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("artifact path %s is not a directory", cfg.BaseDir)
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return nil, fmt.Errorf("artifact directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("remove write probe: %w", err)
	}

	return &ArtifactStore{baseDir: cfg.BaseDir}, nil
}

// Write stores one artifact and returns its absolute path. The page id and
// kind must not escape the base directory.
func (s *ArtifactStore) Write(_ context.Context, pageID, kind string, data []byte) (string, error) {
	if strings.TrimSpace(pageID) == "" {
		return "", fmt.Errorf("page id is required")
	}
	if strings.TrimSpace(kind) == "" {
		return "", fmt.Errorf("artifact kind is required")
	}

	fullPath := filepath.Join(s.baseDir, pageID, kind)
	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact path escapes base directory")
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create page directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return fullPath, nil
}
