// Package notify wraps a document store with a subscriber registry so the
// presentation layer can observe every successful write, and optionally
// bridges change events across service instances through a change feed.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/healthscoreai/healthscore/internal/core/domain"
	"github.com/healthscoreai/healthscore/internal/core/ports"
)

type Store struct {
	inner  ports.DocumentStore
	feed   ports.ChangeFeed // nil when running single-instance
	origin string

	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func(*domain.HealthDocument)

	// deliverMu serializes the snapshot read with the callback delivery
	// that follows it, for the initial subscribe callback and post-write
	// broadcasts alike. Without it an older snapshot read before a write
	// could be delivered after that write's broadcast, leaving the
	// subscriber on stale state. Listener callbacks run while it is held
	// and must not call back into the store.
	deliverMu sync.Mutex
}

func New(inner ports.DocumentStore, feed ports.ChangeFeed) *Store {
	return &Store{
		inner:  inner,
		feed:   feed,
		origin: uuid.NewString(),
		subs:   make(map[string]map[int]func(*domain.HealthDocument)),
	}
}

func (s *Store) Get(ctx context.Context, userID string) (*domain.HealthDocument, error) {
	return s.inner.Get(ctx, userID)
}

func (s *Store) Put(ctx context.Context, userID string, doc *domain.HealthDocument) error {
	if err := s.inner.Put(ctx, userID, doc); err != nil {
		return err
	}
	s.broadcast(ctx, userID)
	s.publish(ctx, userID)
	return nil
}

func (s *Store) Merge(ctx context.Context, userID string, patch domain.DocumentPatch) error {
	if err := s.inner.Merge(ctx, userID, patch); err != nil {
		return err
	}
	s.broadcast(ctx, userID)
	s.publish(ctx, userID)
	return nil
}

// Subscribe registers onChange for one user's document. It fires once
// right away with the current document (nil when absent) and after every
// later successful write. The returned function removes the registration
// and may be called any number of times.
func (s *Store) Subscribe(userID string, onChange func(*domain.HealthDocument)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.subs[userID] == nil {
		s.subs[userID] = make(map[int]func(*domain.HealthDocument))
	}
	s.subs[userID][id] = onChange
	s.mu.Unlock()

	s.deliverMu.Lock()
	onChange(s.currentOrNil(context.Background(), userID))
	s.deliverMu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if listeners, ok := s.subs[userID]; ok {
			delete(listeners, id)
			if len(listeners) == 0 {
				delete(s.subs, userID)
			}
		}
	}
}

// HandleRemoteChange re-notifies local subscribers after another instance
// wrote the document. Events originating here are ignored; local writes
// already broadcast synchronously.
func (s *Store) HandleRemoteChange(ctx context.Context, event domain.ChangeEvent) error {
	if event.Origin == s.origin {
		return nil
	}
	s.broadcast(ctx, event.UserID)
	return nil
}

// broadcast runs after the underlying write has durably completed; it
// re-reads so every listener sees the post-write state.
func (s *Store) broadcast(ctx context.Context, userID string) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	doc := s.currentOrNil(ctx, userID)

	s.mu.Lock()
	listeners := make([]func(*domain.HealthDocument), 0, len(s.subs[userID]))
	for _, fn := range s.subs[userID] {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(doc)
	}
}

// publish is best effort: a feed outage never fails the write that
// already landed.
func (s *Store) publish(ctx context.Context, userID string) {
	if s.feed == nil {
		return
	}
	event := domain.ChangeEvent{UserID: userID, Origin: s.origin}
	if err := s.feed.PublishDocumentChanged(ctx, event); err != nil {
		slog.Warn("change_feed_publish_failed", "user_id", userID, "error", err)
	}
}

func (s *Store) currentOrNil(ctx context.Context, userID string) *domain.HealthDocument {
	doc, err := s.inner.Get(ctx, userID)
	if err != nil {
		if !domain.IsKind(err, domain.ErrDocumentNotFound) {
			slog.Warn("notify_load_failed", "user_id", userID, "error", err)
		}
		return nil
	}
	return doc
}
