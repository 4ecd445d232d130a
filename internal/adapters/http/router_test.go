package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/healthscoreai/healthscore/internal/core/domain"
	"github.com/healthscoreai/healthscore/internal/core/usecase"
)

type storeFake struct {
	mu       sync.Mutex
	docs     map[string]*domain.HealthDocument
	mergeErr error
}

func newStoreFake() *storeFake {
	return &storeFake{docs: make(map[string]*domain.HealthDocument)}
}

func (f *storeFake) Get(_ context.Context, userID string) (*domain.HealthDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[userID]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get", errors.New("absent"))
	}
	return doc.Clone(), nil
}

func (f *storeFake) Put(_ context.Context, userID string, doc *domain.HealthDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[userID] = doc.Clone()
	return nil
}

func (f *storeFake) Merge(_ context.Context, userID string, patch domain.DocumentPatch) error {
	if f.mergeErr != nil {
		return f.mergeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[userID]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "merge", errors.New("absent"))
	}
	patch.Apply(doc)
	return nil
}

type analyzerFake struct {
	analysis  domain.Analysis
	err       error
	block     chan struct{}
	entered   chan struct{}
	enterOnce sync.Once
}

func (f *analyzerFake) Analyze(ctx context.Context, _ string) (domain.Analysis, error) {
	if f.entered != nil {
		f.enterOnce.Do(func() { close(f.entered) })
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return domain.Analysis{}, ctx.Err()
		}
	}
	if f.err != nil {
		return domain.Analysis{}, f.err
	}
	return f.analysis, nil
}

type sessionFake struct {
	id  string
	err error
}

func (f *sessionFake) GetOrCreate(context.Context) (domain.SessionUser, error) {
	if f.err != nil {
		return domain.SessionUser{}, f.err
	}
	return domain.SessionUser{ID: f.id}, nil
}

type extractorFake struct {
	text string
	err  error
}

func (f *extractorFake) Extract(context.Context, string, []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type watcherFake struct {
	mu        sync.Mutex
	callbacks map[string]func(*domain.HealthDocument)
	current   *domain.HealthDocument
}

func newWatcherFake(current *domain.HealthDocument) *watcherFake {
	return &watcherFake{
		callbacks: make(map[string]func(*domain.HealthDocument)),
		current:   current,
	}
}

func (f *watcherFake) Subscribe(userID string, onChange func(*domain.HealthDocument)) func() {
	f.mu.Lock()
	f.callbacks[userID] = onChange
	f.mu.Unlock()
	onChange(f.current)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.callbacks, userID)
	}
}

func (f *watcherFake) notify(userID string, doc *domain.HealthDocument) {
	f.mu.Lock()
	onChange := f.callbacks[userID]
	f.mu.Unlock()
	if onChange != nil {
		onChange(doc)
	}
}

func testAnalysis() domain.Analysis {
	plan := make([]domain.DayPlan, 5)
	for i := range plan {
		plan[i] = domain.DayPlan{
			Day:   i + 1,
			Title: fmt.Sprintf("Day %d", i+1),
			Tasks: []domain.Task{{Text: "task a"}, {Text: "task b"}},
		}
	}
	return domain.Analysis{
		Score: 60,
		Suggestions: []domain.Suggestion{
			{Text: "sleep more"}, {Text: "walk daily"}, {Text: "drink water"}, {Text: "less sugar"},
		},
		DailyPlan: plan,
	}
}

type routerFixture struct {
	store     *storeFake
	analyzer  *analyzerFake
	extractor *extractorFake
	watcher   *watcherFake
	handler   http.Handler
}

func newRouterFixture() *routerFixture {
	store := newStoreFake()
	analyzer := &analyzerFake{analysis: testAnalysis()}
	extractor := &extractorFake{text: "blood glucose slightly elevated"}
	watcher := newWatcherFake(nil)
	sessions := &sessionFake{id: "u1"}
	uc := usecase.NewSyncUseCase(store, analyzer, sessions)
	router := NewRouter(uc, extractor, watcher, sessions, Options{})
	return &routerFixture{
		store:     store,
		analyzer:  analyzer,
		extractor: extractor,
		watcher:   watcher,
		handler:   router.Handler(),
	}
}

func multipartReport(t *testing.T, content string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "report.txt")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return &body, writer.FormDataContentType()
}

func uploadReportRequest(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartReport(t, "report body")
	req := httptest.NewRequest(http.MethodPost, "/v1/reports", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func TestHealthzEndpoint(t *testing.T) {
	fx := newRouterFixture()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestUploadReportSuccess(t *testing.T) {
	fx := newRouterFixture()
	res := uploadReportRequest(t, fx.handler)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	payload := decodeBody(t, res)
	if payload["healthScore"] != float64(60) {
		t.Fatalf("expected healthScore 60, got %v", payload["healthScore"])
	}
	if payload["baseHealthScore"] != float64(60) {
		t.Fatalf("expected baseHealthScore 60, got %v", payload["baseHealthScore"])
	}
	if len(payload["dailyPlan"].([]any)) != 5 {
		t.Fatalf("expected 5 plan days, got %v", payload["dailyPlan"])
	}
}

func TestUploadReportMissingMultipartField(t *testing.T) {
	fx := newRouterFixture()

	req := httptest.NewRequest(http.MethodPost, "/v1/reports", bytes.NewBufferString("plain-text"))
	req.Header.Set("Content-Type", "text/plain")
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestUploadReportUnsupportedType(t *testing.T) {
	fx := newRouterFixture()
	fx.extractor.err = domain.WrapError(domain.ErrUnsupportedFileType, "extract", errors.New("image/png"))

	res := uploadReportRequest(t, fx.handler)
	if res.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", res.Code)
	}
}

func TestUploadReportAnalyzerFailure(t *testing.T) {
	fx := newRouterFixture()
	fx.analyzer.err = domain.WrapError(domain.ErrAnalysis, "analyze", errors.New("model unreachable"))

	res := uploadReportRequest(t, fx.handler)
	if res.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", res.Code)
	}
}

func TestUploadReportConflictWhileAnalysisInFlight(t *testing.T) {
	fx := newRouterFixture()
	fx.analyzer.block = make(chan struct{})
	fx.analyzer.entered = make(chan struct{})

	body, contentType := multipartReport(t, "report body")
	firstDone := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/v1/reports", body)
		req.Header.Set("Content-Type", contentType)
		res := httptest.NewRecorder()
		fx.handler.ServeHTTP(res, req)
		firstDone <- res.Code
	}()

	select {
	case <-fx.analyzer.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("analyzer was never entered by the blocked upload")
	}

	deadline := time.After(2 * time.Second)
	for {
		res := uploadReportRequest(t, fx.handler)
		if res.Code == http.StatusConflict {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("never observed 409 while analysis pending, last code %d", res.Code)
		default:
			time.Sleep(time.Millisecond)
		}
	}

	close(fx.analyzer.block)
	select {
	case code := <-firstDone:
		if code != http.StatusOK {
			t.Fatalf("blocked upload expected 200, got %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for blocked upload")
	}
}

func TestGetHealthDataAbsent(t *testing.T) {
	fx := newRouterFixture()

	req := httptest.NewRequest(http.MethodGet, "/v1/health-data", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestGetHealthDataAfterUpload(t *testing.T) {
	fx := newRouterFixture()
	if res := uploadReportRequest(t, fx.handler); res.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d", res.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/health-data", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	payload := decodeBody(t, res)
	if payload["healthScore"] != float64(60) {
		t.Fatalf("expected healthScore 60, got %v", payload["healthScore"])
	}
}

func TestGetDayPlan(t *testing.T) {
	fx := newRouterFixture()
	if res := uploadReportRequest(t, fx.handler); res.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d", res.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/health-data/plan/2", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	payload := decodeBody(t, res)
	if payload["title"] != "Day 3" {
		t.Fatalf("expected title of third stored day, got %v", payload["title"])
	}
}

func TestGetDayPlanOutOfRange(t *testing.T) {
	fx := newRouterFixture()
	if res := uploadReportRequest(t, fx.handler); res.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d", res.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/health-data/plan/99", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestGetDayPlanNonNumericIndex(t *testing.T) {
	fx := newRouterFixture()

	req := httptest.NewRequest(http.MethodGet, "/v1/health-data/plan/monday", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestToggleSuggestionRecomputesScore(t *testing.T) {
	fx := newRouterFixture()
	if res := uploadReportRequest(t, fx.handler); res.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d", res.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/health-data/suggestions/0/toggle", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	payload := decodeBody(t, res)
	document := payload["document"].(map[string]any)
	if document["healthScore"] != float64(63) {
		t.Fatalf("expected recomputed score 63, got %v", document["healthScore"])
	}
	if _, present := payload["syncWarning"]; present {
		t.Fatalf("expected no sync warning, got %v", payload["syncWarning"])
	}
}

func TestToggleSuggestionWithoutDocument(t *testing.T) {
	fx := newRouterFixture()

	req := httptest.NewRequest(http.MethodPost, "/v1/health-data/suggestions/0/toggle", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestToggleSuggestionSyncFailureStillReturnsDocument(t *testing.T) {
	fx := newRouterFixture()
	if res := uploadReportRequest(t, fx.handler); res.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d", res.Code)
	}
	fx.store.mergeErr = errors.New("connection reset")

	req := httptest.NewRequest(http.MethodPost, "/v1/health-data/suggestions/0/toggle", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 despite sync failure, got %d", res.Code)
	}
	payload := decodeBody(t, res)
	if payload["syncWarning"] == nil || payload["syncWarning"] == "" {
		t.Fatal("expected syncWarning in response")
	}
	document := payload["document"].(map[string]any)
	if document["healthScore"] != float64(63) {
		t.Fatalf("expected optimistic score 63, got %v", document["healthScore"])
	}
}

func TestToggleTaskOutOfRange(t *testing.T) {
	fx := newRouterFixture()
	if res := uploadReportRequest(t, fx.handler); res.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d", res.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/health-data/plan/0/tasks/9/toggle", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestToggleTaskRecomputesScore(t *testing.T) {
	fx := newRouterFixture()
	if res := uploadReportRequest(t, fx.handler); res.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d", res.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/health-data/plan/1/tasks/1/toggle", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	payload := decodeBody(t, res)
	document := payload["document"].(map[string]any)
	if document["healthScore"] != float64(63) {
		t.Fatalf("expected recomputed score 63, got %v", document["healthScore"])
	}
}

func TestToggleEndpointsRejectGet(t *testing.T) {
	fx := newRouterFixture()

	req := httptest.NewRequest(http.MethodGet, "/v1/health-data/suggestions/0/toggle", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func TestUnknownHealthDataSubPath(t *testing.T) {
	fx := newRouterFixture()

	req := httptest.NewRequest(http.MethodGet, "/v1/health-data/unknown", nil)
	res := httptest.NewRecorder()
	fx.handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestOfferSnapshotEvictsOldestWhenFull(t *testing.T) {
	events := make(chan *domain.HealthDocument, 2)

	docWithScore := func(score int) *domain.HealthDocument {
		return &domain.HealthDocument{DisplayScore: score}
	}
	offerSnapshot(events, docWithScore(1))
	offerSnapshot(events, docWithScore(2))
	offerSnapshot(events, docWithScore(3))

	var scores []int
	for len(events) > 0 {
		scores = append(scores, (<-events).DisplayScore)
	}
	if len(scores) != 2 {
		t.Fatalf("expected full channel after eviction, got %v", scores)
	}
	if scores[0] != 2 || scores[1] != 3 {
		t.Fatalf("expected oldest snapshot evicted, got %v", scores)
	}
}

func TestWatchStreamsSnapshots(t *testing.T) {
	store := newStoreFake()
	initial := domain.NewHealthDocument(testAnalysis())
	watcher := newWatcherFake(initial)
	sessions := &sessionFake{id: "u1"}
	uc := usecase.NewSyncUseCase(store, &analyzerFake{}, sessions)
	handler := NewRouter(uc, &extractorFake{}, watcher, sessions, Options{}).Handler()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/v1/health-data/watch", nil).WithContext(ctx)
	res := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(res, req)
		close(done)
	}()

	// Wait for the subscription, push one more snapshot, then hang up.
	deadline := time.After(2 * time.Second)
	for {
		watcher.mu.Lock()
		_, subscribed := watcher.callbacks["u1"]
		watcher.mu.Unlock()
		if subscribed {
			break
		}
		select {
		case <-deadline:
			t.Fatal("watch handler never subscribed")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	updated := initial.Clone()
	updated.DisplayScore = 63
	watcher.notify("u1", updated)
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch handler did not stop on disconnect")
	}

	body := res.Body.String()
	if !bytes.Contains([]byte(body), []byte("event: snapshot")) {
		t.Fatalf("expected snapshot events, got %q", body)
	}
	if !bytes.Contains([]byte(body), []byte(`"healthScore":60`)) {
		t.Fatalf("expected initial snapshot in stream, got %q", body)
	}
	if !bytes.Contains([]byte(body), []byte(`"healthScore":63`)) {
		t.Fatalf("expected updated snapshot in stream, got %q", body)
	}
	if res.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("expected event-stream content type, got %q", res.Header().Get("Content-Type"))
	}
}
