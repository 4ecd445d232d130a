// Package localfs persists health documents as one JSON file per user.
// It stands in for the remote document database in single-node setups and
// in tests.
package localfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/healthscoreai/healthscore/internal/core/domain"
)

type Store struct {
	basePath string

	// Guards the read-modify-write cycle in Merge.
	mu sync.Mutex
}

func New(basePath string) (*Store, error) {
	if basePath == "" {
		basePath = "./data/documents"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create document dir: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

func (s *Store) Get(_ context.Context, userID string) (*domain.HealthDocument, error) {
	raw, err := os.ReadFile(s.documentPath(userID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get health document",
				fmt.Errorf("user %s", userID))
		}
		return nil, fmt.Errorf("read health document: %w", err)
	}

	var doc domain.HealthDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal health document: %w", err)
	}
	return &doc, nil
}

func (s *Store) Put(_ context.Context, userID string, doc *domain.HealthDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(userID, doc)
}

func (s *Store) Merge(_ context.Context, userID string, patch domain.DocumentPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.Get(context.Background(), userID)
	if err != nil {
		return err
	}
	patch.Apply(doc)
	return s.write(userID, doc)
}

// write lands the document atomically: temp file in the same directory,
// then rename, so a crash never leaves a half-written document behind.
func (s *Store) write(userID string, doc *domain.HealthDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal health document: %w", err)
	}

	path := s.documentPath(userID)
	tmp, err := os.CreateTemp(s.basePath, ".doc-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write health document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync health document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp document: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit health document: %w", err)
	}
	return nil
}

// documentPath derives the file key from the user id; unsafe characters
// are flattened so ids can never escape the data directory.
func (s *Store) documentPath(userID string) string {
	key := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, userID)
	return filepath.Join(s.basePath, "doc_"+key+".json")
}
