package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const stateFileName = "state.json"

// FileStore is a Store backed by a single JSON document in a state directory.
//
// Writes go through a temp file + rename so a crash never leaves a partial
// document. When a seal key is configured the document is encrypted at rest
// with XChaCha20-Poly1305.
type FileStore struct {
	path   string
	sealer *sealer

	mu sync.Mutex
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore) error

// WithSealKeyHex enables at-rest encryption with a hex-encoded 32-byte key.
func WithSealKeyHex(keyHex string) FileStoreOption {
	return func(s *FileStore) error {
		sl, err := newSealer(keyHex)
		if err != nil {
			return err
		}
		s.sealer = sl
		return nil
	}
}

// NewFileStore creates (if needed) dir and returns a FileStore rooted in it.
func NewFileStore(dir string, opts ...FileStoreOption) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty state dir", ErrConfig)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s := &FileStore{path: filepath.Join(dir, stateFileName)}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Get returns the value for key.
func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := doc[key]
	return v, ok, nil
}

// Put persists value under key.
func (s *FileStore) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	doc[key] = value
	return s.save(doc)
}

// Delete removes key entirely.
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)
	return s.save(doc)
}

// Close is a no-op; the document lives on disk.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) load() (map[string]string, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if s.sealer != nil {
		raw, err = s.sealer.open(raw)
		if err != nil {
			// A document we cannot decrypt is as good as no document.
			return nil, fmt.Errorf("%w: unsealing state: %v", ErrUnavailable, err)
		}
	}

	doc := map[string]string{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: corrupt state document: %v", ErrUnavailable, err)
	}
	return doc, nil
}

func (s *FileStore) save(doc map[string]string) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	if s.sealer != nil {
		raw, err = s.sealer.seal(raw)
		if err != nil {
			return err
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
