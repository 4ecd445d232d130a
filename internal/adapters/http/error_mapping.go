package httpadapter

import (
	"net/http"

	"github.com/healthscoreai/healthscore/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrUnsupportedFileType):
		return http.StatusUnsupportedMediaType
	case domain.IsKind(err, domain.ErrEmptyDocument),
		domain.IsKind(err, domain.ErrInvalidInput),
		domain.IsKind(err, domain.ErrIndexOutOfRange):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrAnalysisInFlight):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrAnalysis):
		return http.StatusBadGateway
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
