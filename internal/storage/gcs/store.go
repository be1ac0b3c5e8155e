// Package gcs provides harvest state and document storage backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/registry-harvester/internal/harvest"
)

const stateContentType = "application/json"

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// Store writes documents and state records to a configured GCS bucket.
// Documents live under <prefix>/blobs/<name>, state under <prefix>/state/<key>.json.
type Store struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
func (s *Store) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("path is required")
	}
	objectPath := s.objectPath("blobs", name)
	if err := s.write(ctx, objectPath, contentType, r); err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, objectPath), nil
}

// GetObject downloads a stored document.
func (s *Store) GetObject(ctx context.Context, name string) (harvest.DocumentRecord, error) {
	if strings.TrimSpace(name) == "" {
		return harvest.DocumentRecord{}, fmt.Errorf("path is required")
	}
	data, contentType, err := s.read(ctx, s.objectPath("blobs", name))
	if err != nil {
		return harvest.DocumentRecord{}, err
	}
	return harvest.DocumentRecord{Filename: name, ContentType: contentType, Data: data}, nil
}

// GetState downloads and decodes the state record under key.
func (s *Store) GetState(ctx context.Context, key string) (harvest.CrawlState, bool, error) {
	data, _, err := s.read(ctx, s.objectPath("state", key+".json"))
	if err != nil {
		if errors.Is(err, harvest.ErrNotFound) {
			return harvest.CrawlState{}, false, nil
		}
		return harvest.CrawlState{}, false, err
	}
	var state harvest.CrawlState
	if err := json.Unmarshal(data, &state); err != nil {
		return harvest.CrawlState{}, false, fmt.Errorf("decode state %s: %w", key, err)
	}
	return state, true, nil
}

// PutState overwrites the state record under key.
func (s *Store) PutState(ctx context.Context, key string, state harvest.CrawlState) error {
	if state.Files == nil {
		state.Files = []string{}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return s.write(ctx, s.objectPath("state", key+".json"), stateContentType, bytes.NewReader(data))
}

func (s *Store) objectPath(kind, name string) string {
	if s.prefix == "" {
		return path.Join(kind, name)
	}
	return path.Join(s.prefix, kind, name)
}

func (s *Store) write(ctx context.Context, objectPath, contentType string, r io.Reader) error {
	writer := s.client.Bucket(s.bucket).Object(objectPath).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

func (s *Store) read(ctx context.Context, objectPath string) ([]byte, string, error) {
	reader, err := s.client.Bucket(s.bucket).Object(objectPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, "", fmt.Errorf("object %s: %w", objectPath, harvest.ErrNotFound)
		}
		return nil, "", fmt.Errorf("open object %s: %w", objectPath, err)
	}
	defer func() {
		_ = reader.Close()
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("read object %s: %w", objectPath, err)
	}
	return data, reader.Attrs.ContentType, nil
}
