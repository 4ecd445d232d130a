package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/healthscoreai/healthscore/internal/core/domain"
)

// AnalyzeAndStore runs the report analyzer over extracted report text and
// replaces the session's document with a fresh one: base and display score
// both set to the analyzer score, all completion flags cleared. The write
// is an unconditional put, overwriting any previous document. On analyzer
// failure the previously stored document is left untouched.
//
// At most one analysis may be in flight per session; a second call while
// one is outstanding fails with domain.ErrAnalysisInFlight.
func (uc *SyncUseCase) AnalyzeAndStore(ctx context.Context, reportText string) (*domain.HealthDocument, error) {
	if strings.TrimSpace(reportText) == "" {
		return nil, domain.WrapError(domain.ErrEmptyDocument, "analyze report", errors.New("blank report text"))
	}

	user, err := uc.sessions.GetOrCreate(ctx)
	if err != nil {
		return nil, domain.WrapError(domain.ErrSessionInit, "resolve session", err)
	}

	if !uc.beginAnalysis(user.ID) {
		return nil, domain.WrapError(domain.ErrAnalysisInFlight, "analyze report",
			fmt.Errorf("analysis pending for session %s", user.ID))
	}
	defer uc.endAnalysis(user.ID)

	analysis, err := uc.analyzer.Analyze(ctx, reportText)
	if err != nil {
		if domain.IsKind(err, domain.ErrAnalysis) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrAnalysis, "analyze report", err)
	}

	doc := domain.NewHealthDocument(analysis)
	if err := uc.store.Put(ctx, user.ID, doc); err != nil {
		return nil, fmt.Errorf("store health document: %w", err)
	}

	uc.mu.Lock()
	uc.local[user.ID] = doc
	uc.mu.Unlock()
	return doc, nil
}

func (uc *SyncUseCase) beginAnalysis(userID string) bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.analyzing[userID] {
		return false
	}
	uc.analyzing[userID] = true
	return true
}

func (uc *SyncUseCase) endAnalysis(userID string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	delete(uc.analyzing, userID)
}

func (uc *SyncUseCase) analyzerBusy(userID string) bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.analyzing[userID]
}
