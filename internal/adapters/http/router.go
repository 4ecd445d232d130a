package httpadapter

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/healthscoreai/healthscore/internal/core/domain"
	"github.com/healthscoreai/healthscore/internal/core/ports"
	"github.com/healthscoreai/healthscore/internal/core/usecase"
	"github.com/healthscoreai/healthscore/internal/observability/metrics"
)

const serviceName = "api"

type Router struct {
	syncUC    *usecase.SyncUseCase
	extractor ports.TextExtractor
	watcher   ports.DocumentWatcher
	sessions  ports.SessionProvider

	metrics        *metrics.HTTPServerMetrics
	maxUploadBytes int64
	rateLimitRPS   int
	rateLimitBurst int
	maxInFlight    int
}

type Options struct {
	Metrics        *metrics.HTTPServerMetrics
	MaxUploadBytes int64
	RateLimitRPS   int
	RateLimitBurst int
	MaxInFlight    int
}

func NewRouter(
	syncUC *usecase.SyncUseCase,
	extractor ports.TextExtractor,
	watcher ports.DocumentWatcher,
	sessions ports.SessionProvider,
	options Options,
) *Router {
	maxUploadBytes := options.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Router{
		syncUC:         syncUC,
		extractor:      extractor,
		watcher:        watcher,
		sessions:       sessions,
		metrics:        options.Metrics,
		maxUploadBytes: maxUploadBytes,
		rateLimitRPS:   options.RateLimitRPS,
		rateLimitBurst: options.RateLimitBurst,
		maxInFlight:    options.MaxInFlight,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/reports", rt.uploadReport)
	mux.HandleFunc("/v1/health-data", rt.getHealthData)
	mux.HandleFunc("/v1/health-data/", rt.routeHealthData)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = backpressureMiddleware(handler, rt.maxInFlight, 100*time.Millisecond)
	handler = rateLimitMiddleware(handler, rt.rateLimitRPS, rt.rateLimitBurst)
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes)
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read upload: " + err.Error()})
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(fileHeader.Filename))
	}

	text, err := rt.extractor.Extract(r.Context(), mimeType, data)
	if err != nil {
		rt.recordAnalysis("rejected", 0, 0)
		writeError(w, err)
		return
	}

	start := time.Now()
	doc, err := rt.syncUC.AnalyzeAndStore(r.Context(), text)
	if err != nil {
		rt.recordAnalysis(analysisFailureStatus(err), 0, time.Since(start))
		writeError(w, err)
		return
	}

	rt.recordAnalysis("ok", doc.DisplayScore, time.Since(start))
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) getHealthData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	doc, err := rt.syncUC.Current(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if doc == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no health data for this session"})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// routeHealthData dispatches the sub-paths below /v1/health-data/:
//
//	GET  watch
//	GET  plan/{dayIndex}
//	POST plan/{dayIndex}/tasks/{taskIndex}/toggle
//	POST suggestions/{index}/toggle
func (rt *Router) routeHealthData(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/health-data/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] == "watch":
		rt.watchHealthData(w, r)
	case len(parts) == 2 && parts[0] == "plan":
		rt.getDayPlan(w, r, parts[1])
	case len(parts) == 5 && parts[0] == "plan" && parts[2] == "tasks" && parts[4] == "toggle":
		rt.toggleTask(w, r, parts[1], parts[3])
	case len(parts) == 3 && parts[0] == "suggestions" && parts[2] == "toggle":
		rt.toggleSuggestion(w, r, parts[1])
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func (rt *Router) getDayPlan(w http.ResponseWriter, r *http.Request, rawDay string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	dayIndex, ok := parseIndex(w, rawDay, "day index")
	if !ok {
		return
	}

	day, err := rt.syncUC.DayPlan(r.Context(), dayIndex)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

func (rt *Router) toggleSuggestion(w http.ResponseWriter, r *http.Request, rawIndex string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	index, ok := parseIndex(w, rawIndex, "suggestion index")
	if !ok {
		return
	}

	doc, err := rt.syncUC.ToggleSuggestion(r.Context(), index)
	rt.finishToggle(w, "suggestion", doc, err)
}

func (rt *Router) toggleTask(w http.ResponseWriter, r *http.Request, rawDay, rawTask string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	dayIndex, ok := parseIndex(w, rawDay, "day index")
	if !ok {
		return
	}
	taskIndex, ok := parseIndex(w, rawTask, "task index")
	if !ok {
		return
	}

	doc, err := rt.syncUC.ToggleTask(r.Context(), dayIndex, taskIndex)
	rt.finishToggle(w, "task", doc, err)
}

type toggleResponse struct {
	Document    *domain.HealthDocument `json:"document"`
	SyncWarning string                 `json:"syncWarning,omitempty"`
}

// finishToggle turns the usecase outcome into a response. A failed store
// write after a successful local toggle is reported as a warning on a 200
// response: the document state the caller sees is already updated.
func (rt *Router) finishToggle(w http.ResponseWriter, kind string, doc *domain.HealthDocument, err error) {
	switch {
	case err == nil && doc == nil:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no health data for this session"})
	case err == nil:
		rt.recordToggle(kind)
		writeJSON(w, http.StatusOK, toggleResponse{Document: doc})
	case domain.IsKind(err, domain.ErrSync):
		rt.recordToggle(kind)
		rt.recordSyncFailure()
		writeJSON(w, http.StatusOK, toggleResponse{Document: doc, SyncWarning: err.Error()})
	default:
		writeError(w, err)
	}
}

func parseIndex(w http.ResponseWriter, raw, name string) (int, bool) {
	index, err := strconv.Atoi(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": name + " must be an integer"})
		return 0, false
	}
	return index, true
}

func analysisFailureStatus(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrAnalysisInFlight):
		return "busy"
	case domain.IsKind(err, domain.ErrEmptyDocument),
		domain.IsKind(err, domain.ErrUnsupportedFileType),
		domain.IsKind(err, domain.ErrInvalidInput):
		return "rejected"
	default:
		return "failed"
	}
}

func (rt *Router) recordAnalysis(status string, score int, duration time.Duration) {
	if rt.metrics != nil {
		rt.metrics.RecordAnalysis(serviceName, status, score, duration)
	}
}

func (rt *Router) recordToggle(kind string) {
	if rt.metrics != nil {
		rt.metrics.RecordToggle(serviceName, kind)
	}
}

func (rt *Router) recordSyncFailure() {
	if rt.metrics != nil {
		rt.metrics.RecordSyncFailure()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}
