package ports

import (
	"context"

	"github.com/healthscoreai/healthscore/internal/core/domain"
)

// DocumentStore persists one HealthDocument per user id. Get returns an
// error of kind domain.ErrDocumentNotFound when no document exists; Merge
// fails the same way instead of creating one.
type DocumentStore interface {
	Get(ctx context.Context, userID string) (*domain.HealthDocument, error)
	Put(ctx context.Context, userID string, doc *domain.HealthDocument) error
	Merge(ctx context.Context, userID string, patch domain.DocumentPatch) error
}

// DocumentWatcher delivers change notifications for one user's document.
// onChange is invoked once immediately with the current document (nil when
// absent) and again after every successful write. The returned function
// releases the subscription and is safe to call more than once.
type DocumentWatcher interface {
	Subscribe(userID string, onChange func(*domain.HealthDocument)) (unsubscribe func())
}

// SessionProvider issues the stable anonymous identity for this session.
// Repeated calls within one process return the same user.
type SessionProvider interface {
	GetOrCreate(ctx context.Context) (domain.SessionUser, error)
}

// ReportAnalyzer turns raw report text into a validated score and plan.
type ReportAnalyzer interface {
	Analyze(ctx context.Context, reportText string) (domain.Analysis, error)
}

// TextExtractor pulls plain text out of an uploaded file.
type TextExtractor interface {
	Extract(ctx context.Context, mimeType string, data []byte) (string, error)
}

// ChangeFeed propagates document-change events between service instances.
type ChangeFeed interface {
	PublishDocumentChanged(ctx context.Context, event domain.ChangeEvent) error
	SubscribeDocumentChanged(ctx context.Context, handler func(context.Context, domain.ChangeEvent) error) error
	Close()
}
