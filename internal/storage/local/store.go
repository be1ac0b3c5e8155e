// Package local implements a local filesystem store for harvest state and documents.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/registry-harvester/internal/harvest"
)

const (
	blobDir    = "blobs"
	stateDir   = "state"
	metaSuffix = ".meta.json"
)

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the root directory where blobs and state will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store writes artifacts and state records to the local filesystem.
//
// Layout:
//
//	<base>/blobs/<name>            raw bytes
//	<base>/blobs/<name>.meta.json  {"content_type": "..."}
//	<base>/state/<key>.json        CrawlState
type Store struct {
	baseDir string
}

type objectMeta struct {
	ContentType string `json:"content_type"`
}

// New creates a new local filesystem-backed store.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	for _, dir := range []string{blobDir, stateDir} {
		if err := os.MkdirAll(filepath.Join(cfg.BaseDir, dir), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	// Check for write permissions.
	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Store{baseDir: cfg.BaseDir}, nil
}

// PutObject writes data to a file on the local filesystem and returns a file:// URI.
func (s *Store) PutObject(_ context.Context, name string, contentType string, data io.Reader) (string, error) {
	fullPath, err := s.resolve(blobDir, name)
	if err != nil {
		return "", err
	}

	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}
	if err := writeFileAtomic(fullPath, byteData); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	meta, err := json.Marshal(objectMeta{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("marshal object meta: %w", err)
	}
	if err := writeFileAtomic(fullPath+metaSuffix, meta); err != nil {
		return "", fmt.Errorf("failed to write object meta: %w", err)
	}

	return fmt.Sprintf("file://%s", fullPath), nil
}

// GetObject reads a stored blob and its content type.
func (s *Store) GetObject(_ context.Context, name string) (harvest.DocumentRecord, error) {
	fullPath, err := s.resolve(blobDir, name)
	if err != nil {
		return harvest.DocumentRecord{}, err
	}
	// #nosec G304 -- path is confined to baseDir by resolve.
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return harvest.DocumentRecord{}, fmt.Errorf("object %s: %w", name, harvest.ErrNotFound)
		}
		return harvest.DocumentRecord{}, fmt.Errorf("failed to read file: %w", err)
	}

	rec := harvest.DocumentRecord{Filename: name, Data: data}
	// #nosec G304 -- path is confined to baseDir by resolve.
	rawMeta, err := os.ReadFile(fullPath + metaSuffix)
	switch {
	case err == nil:
		var meta objectMeta
		if err := json.Unmarshal(rawMeta, &meta); err != nil {
			return harvest.DocumentRecord{}, fmt.Errorf("decode object meta: %w", err)
		}
		rec.ContentType = meta.ContentType
	case errors.Is(err, os.ErrNotExist):
	default:
		return harvest.DocumentRecord{}, fmt.Errorf("failed to read object meta: %w", err)
	}
	return rec, nil
}

// GetState reads the state record under key.
func (s *Store) GetState(_ context.Context, key string) (harvest.CrawlState, bool, error) {
	fullPath, err := s.resolve(stateDir, key+".json")
	if err != nil {
		return harvest.CrawlState{}, false, err
	}
	// #nosec G304 -- path is confined to baseDir by resolve.
	raw, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return harvest.CrawlState{}, false, nil
		}
		return harvest.CrawlState{}, false, fmt.Errorf("read state: %w", err)
	}
	var state harvest.CrawlState
	if err := json.Unmarshal(raw, &state); err != nil {
		return harvest.CrawlState{}, false, fmt.Errorf("decode state %s: %w", key, err)
	}
	return state, true, nil
}

// PutState overwrites the state record under key.
func (s *Store) PutState(_ context.Context, key string, state harvest.CrawlState) error {
	fullPath, err := s.resolve(stateDir, key+".json")
	if err != nil {
		return err
	}
	if state.Files == nil {
		state.Files = []string{}
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := writeFileAtomic(fullPath, raw); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// resolve joins name under baseDir/dir and rejects paths escaping it.
func (s *Store) resolve(dir, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("path is required")
	}
	root := filepath.Clean(filepath.Join(s.baseDir, dir))
	fullPath := filepath.Clean(filepath.Join(root, name))
	if !strings.HasPrefix(fullPath, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
