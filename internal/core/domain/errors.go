package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionInit is fatal to the session; there is no recovery path
	// short of restarting it.
	ErrSessionInit = errors.New("session init failed")

	// ErrAnalysis covers analyzer unavailability and malformed analyzer
	// output. The upload may be retried; any stored document is preserved.
	ErrAnalysis = errors.New("report analysis failed")

	// ErrAnalysisInFlight is returned while a previous analysis for the
	// same session has not finished yet.
	ErrAnalysisInFlight = errors.New("analysis already in flight")

	// ErrUnsupportedFileType rejects uploads that are neither plain text
	// nor PDF.
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrEmptyDocument rejects uploads whose extracted text is blank.
	ErrEmptyDocument = errors.New("empty document")

	// ErrIndexOutOfRange signals a toggle on a nonexistent checklist item.
	// Correct presentation code never triggers it.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrSync means a persistence write failed after the optimistic local
	// update was already applied. Local state is intentionally kept.
	ErrSync = errors.New("sync write failed")

	ErrDocumentNotFound = errors.New("health document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
