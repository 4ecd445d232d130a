package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/healthscoreai/healthscore/internal/core/domain"
	"github.com/healthscoreai/healthscore/internal/core/ports"
)

// SyncUseCase mediates every user-initiated mutation of the health
// document: optimistic local update first, write-through to the store
// second. Local state is the source of truth for the next recompute even
// while a store write for the previous toggle is still outstanding.
type SyncUseCase struct {
	store    ports.DocumentStore
	analyzer ports.ReportAnalyzer
	sessions ports.SessionProvider

	mu        sync.Mutex
	local     map[string]*domain.HealthDocument
	analyzing map[string]bool
}

func NewSyncUseCase(
	store ports.DocumentStore,
	analyzer ports.ReportAnalyzer,
	sessions ports.SessionProvider,
) *SyncUseCase {
	return &SyncUseCase{
		store:     store,
		analyzer:  analyzer,
		sessions:  sessions,
		local:     make(map[string]*domain.HealthDocument),
		analyzing: make(map[string]bool),
	}
}

// Current returns the session's document: the optimistic local copy when
// one is loaded, otherwise the stored one. Returns (nil, nil) when the
// session has no document yet.
func (uc *SyncUseCase) Current(ctx context.Context) (*domain.HealthDocument, error) {
	user, err := uc.sessions.GetOrCreate(ctx)
	if err != nil {
		return nil, domain.WrapError(domain.ErrSessionInit, "resolve session", err)
	}
	return uc.snapshot(ctx, user.ID)
}

// DayPlan returns one day of the plan by its storage position.
func (uc *SyncUseCase) DayPlan(ctx context.Context, dayIndex int) (*domain.DayPlan, error) {
	doc, err := uc.Current(ctx)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "day plan", fmt.Errorf("no document for session"))
	}
	if dayIndex < 0 || dayIndex >= len(doc.DailyPlan) {
		return nil, domain.WrapError(domain.ErrIndexOutOfRange, "day plan",
			fmt.Errorf("day index %d outside plan of %d days", dayIndex, len(doc.DailyPlan)))
	}
	day := doc.DailyPlan[dayIndex]
	return &day, nil
}

// ToggleSuggestion flips the completion flag on one suggestion, recomputes
// the display score and merges both fields into the store. A no-op when
// the session has no document. On write failure the optimistic local state
// is kept (not rolled back) and an error of kind domain.ErrSync is
// returned alongside the updated document.
func (uc *SyncUseCase) ToggleSuggestion(ctx context.Context, index int) (*domain.HealthDocument, error) {
	return uc.toggle(ctx, "toggle suggestion", func(doc *domain.HealthDocument) (domain.DocumentPatch, error) {
		if index < 0 || index >= len(doc.Suggestions) {
			return domain.DocumentPatch{}, fmt.Errorf("suggestion index %d outside list of %d", index, len(doc.Suggestions))
		}
		doc.Suggestions[index].Completed = !doc.Suggestions[index].Completed
		return domain.DocumentPatch{Suggestions: doc.Suggestions}, nil
	})
}

// ToggleTask is ToggleSuggestion for one task of one day.
func (uc *SyncUseCase) ToggleTask(ctx context.Context, dayIndex, taskIndex int) (*domain.HealthDocument, error) {
	return uc.toggle(ctx, "toggle task", func(doc *domain.HealthDocument) (domain.DocumentPatch, error) {
		if dayIndex < 0 || dayIndex >= len(doc.DailyPlan) {
			return domain.DocumentPatch{}, fmt.Errorf("day index %d outside plan of %d days", dayIndex, len(doc.DailyPlan))
		}
		tasks := doc.DailyPlan[dayIndex].Tasks
		if taskIndex < 0 || taskIndex >= len(tasks) {
			return domain.DocumentPatch{}, fmt.Errorf("task index %d outside day of %d tasks", taskIndex, len(tasks))
		}
		tasks[taskIndex].Completed = !tasks[taskIndex].Completed
		return domain.DocumentPatch{DailyPlan: doc.DailyPlan}, nil
	})
}

// toggle runs the shared mutation path: snapshot, deep-copy, mutate the
// copy, recompute, install the copy as local state, then write through.
// The store write happens outside the lock so a slow write never delays
// the next toggle's recompute.
func (uc *SyncUseCase) toggle(
	ctx context.Context,
	operation string,
	mutate func(*domain.HealthDocument) (domain.DocumentPatch, error),
) (*domain.HealthDocument, error) {
	user, err := uc.sessions.GetOrCreate(ctx)
	if err != nil {
		// Toggling before a session exists is defensively ignored.
		return nil, nil
	}

	uc.mu.Lock()
	doc, err := uc.snapshotLocked(ctx, user.ID)
	if err != nil {
		uc.mu.Unlock()
		return nil, err
	}
	if doc == nil {
		uc.mu.Unlock()
		return nil, nil
	}

	next := doc.Clone()
	patch, err := mutate(next)
	if err != nil {
		uc.mu.Unlock()
		return nil, domain.WrapError(domain.ErrIndexOutOfRange, operation, err)
	}
	next.DisplayScore = RecalculateScore(next)
	score := next.DisplayScore
	patch.DisplayScore = &score

	uc.local[user.ID] = next
	uc.mu.Unlock()

	if err := uc.store.Merge(ctx, user.ID, patch); err != nil {
		return next, domain.WrapError(domain.ErrSync, operation, err)
	}
	return next, nil
}

func (uc *SyncUseCase) snapshot(ctx context.Context, userID string) (*domain.HealthDocument, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.snapshotLocked(ctx, userID)
}

func (uc *SyncUseCase) snapshotLocked(ctx context.Context, userID string) (*domain.HealthDocument, error) {
	if doc, ok := uc.local[userID]; ok {
		return doc, nil
	}
	doc, err := uc.store.Get(ctx, userID)
	if err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load health document: %w", err)
	}
	uc.local[userID] = doc
	return doc, nil
}
