package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/popguard/internal/decision"
	"github.com/fyrsmithlabs/popguard/internal/engine"
	"github.com/fyrsmithlabs/popguard/internal/extraction"
	"github.com/fyrsmithlabs/popguard/internal/logging"
	"github.com/fyrsmithlabs/popguard/internal/popup"
	"github.com/fyrsmithlabs/popguard/internal/throttle"
)

type testServer struct {
	*Server
	logs *logging.TestLogger
}

func setupTestServer(t *testing.T, mutate func(*engine.Config)) *testServer {
	t.Helper()

	cfg := engine.DefaultConfig()
	cfg.Learning.SuggestionThreshold = 0.6
	cfg.MaintenanceInterval = time.Hour
	if mutate != nil {
		mutate(&cfg)
	}

	queue := NewQueueChannel(0)
	eng, err := engine.New(cfg,
		engine.WithChannel(queue),
		engine.WithMemorySampler(func() uint64 { return 0 }))
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Close(context.Background()) })

	logs := logging.NewTestLogger()
	s, err := NewServer(eng, queue, logs.Logger, &Config{Host: "127.0.0.1", Port: 9393, Version: "test"})
	require.NoError(t, err)
	return &testServer{Server: s, logs: logs}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func modalElement() *extraction.Snapshot {
	return &extraction.Snapshot{
		URL:   "https://www.news.example.com/article/7",
		Style: map[string]string{"position": "fixed", "z-index": "10000", "box-shadow": "0 2px 8px #000"},
		Rect:  &extraction.Rect{X: 440, Y: 250, Width: 400, Height: 300},
		View:  &extraction.Size{Width: 1280, Height: 800},
		Attrs: map[string]string{"class": "subscribe-modal", "role": "dialog"},
		Children: []extraction.Node{
			{Tag: "button", Attributes: map[string]string{"aria-label": "Close"}},
			{Tag: "div", Attributes: map[string]string{"class": "ad-banner sponsored"}},
		},
	}
}

func TestNewServer(t *testing.T) {
	eng, err := engine.New(engine.DefaultConfig())
	require.NoError(t, err)
	q := NewQueueChannel(0)

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		s, err := NewServer(eng, q, logging.Nop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", s.config.Host)
		assert.Equal(t, 9393, s.config.Port)
	})

	t.Run("requires collaborators", func(t *testing.T) {
		_, err := NewServer(nil, q, logging.Nop(), nil)
		assert.ErrorContains(t, err, "engine cannot be nil")
		_, err = NewServer(eng, nil, logging.Nop(), nil)
		assert.ErrorContains(t, err, "queue cannot be nil")
		_, err = NewServer(eng, q, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})
}

func TestHandleHealth(t *testing.T) {
	s := setupTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
}

func TestHandleMetrics(t *testing.T) {
	s := setupTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestDetectDecideCycle(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/tabs/tab-1/detections", DetectionRequest{PopupID: "p1", Element: modalElement()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	det := decode[DetectionResponse](t, rec)
	assert.Equal(t, "p1", det.PopupID)
	assert.True(t, det.Verdict.Admitted)
	assert.Equal(t, decision.OutcomeAwaitingUser, det.Outcome)
	require.NotNil(t, det.Score)
	require.NotNil(t, det.Characteristics)
	assert.True(t, det.Characteristics.HasCloseButton)

	pending := decode[PendingResponse](t, s.do(t, http.MethodGet, "/api/v1/tabs/tab-1/pending", nil))
	require.Len(t, pending.Pending, 1)
	assert.Equal(t, "p1", pending.Pending[0].PopupID)
	assert.Equal(t, "news.example.com", pending.Pending[0].Domain)

	rec = s.do(t, http.MethodPost, "/api/v1/tabs/tab-1/decisions/p1", DecisionRequest{Decision: "close"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	r := decode[popup.Record](t, rec)
	assert.Equal(t, popup.DecisionClose, r.Decision)
	assert.Equal(t, "tab-1", r.TabID)

	assert.Empty(t, decode[PendingResponse](t, s.do(t, http.MethodGet, "/api/v1/tabs/tab-1/pending", nil)).Pending)

	patterns := decode[PatternsResponse](t, s.do(t, http.MethodGet, "/api/v1/patterns", nil))
	assert.Equal(t, 1, patterns.Count)
	assert.Equal(t, popup.DecisionClose, patterns.Patterns[0].Decision)

	hist := decode[HistoryResponse](t, s.do(t, http.MethodGet, "/api/v1/history", nil))
	assert.Len(t, hist.Records, 1)
	assert.Len(t, hist.Decisions, 1)

	status := decode[StatusResponse](t, s.do(t, http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, "test", status.Version)
	assert.Equal(t, 1, status.Counts.Tabs)
	assert.Equal(t, 1, status.Counts.Patterns)
	assert.Equal(t, 0, status.Counts.Queued)
	require.Len(t, status.Tabs, 1)
	assert.Equal(t, 1, status.Tabs[0].Throttle.CountInWindow)

	s.logs.AssertLogged(t, zapcore.InfoLevel, "http request")
	s.logs.AssertField(t, "http request", "tab_id", "tab-1")
}

func TestDecisionErrors(t *testing.T) {
	s := setupTestServer(t, nil)
	rec := s.do(t, http.MethodPost, "/api/v1/tabs/tab-1/detections", DetectionRequest{PopupID: "p1", Element: modalElement()})
	require.Equal(t, http.StatusOK, rec.Code)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"unknown tab", "/api/v1/tabs/tab-9/decisions/p1", DecisionRequest{Decision: "close"}, http.StatusNotFound},
		{"unknown popup", "/api/v1/tabs/tab-1/decisions/p9", DecisionRequest{Decision: "close"}, http.StatusNotFound},
		{"invalid decision", "/api/v1/tabs/tab-1/decisions/p1", DecisionRequest{Decision: "block"}, http.StatusBadRequest},
		{"timeout is not a user choice", "/api/v1/tabs/tab-1/decisions/p1", DecisionRequest{Decision: "timeout"}, http.StatusBadRequest},
		{"malformed body", "/api/v1/tabs/tab-1/decisions/p1", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, s.do(t, http.MethodPost, tt.path, tt.body).Code)
		})
	}

	// The failed attempts left the pending decision open.
	assert.Len(t, decode[PendingResponse](t, s.do(t, http.MethodGet, "/api/v1/tabs/tab-1/pending", nil)).Pending, 1)
}

func TestDetectionValidation(t *testing.T) {
	s := setupTestServer(t, nil)
	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPost, "/api/v1/tabs/tab-1/detections", DetectionRequest{Element: modalElement()}).Code)
	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPost, "/api/v1/tabs/tab-1/detections", DetectionRequest{PopupID: "p1"}).Code)
}

func TestDetectionThrottled(t *testing.T) {
	s := setupTestServer(t, func(c *engine.Config) {
		c.Throttle.Limit = 1
		c.Throttle.MinLimit = 1
	})

	rec := s.do(t, http.MethodPost, "/api/v1/tabs/tab-1/detections", DetectionRequest{PopupID: "p1", Element: modalElement()})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/tabs/tab-1/detections", DetectionRequest{PopupID: "p2", Element: modalElement()})
	require.Equal(t, http.StatusOK, rec.Code)
	det := decode[DetectionResponse](t, rec)
	assert.False(t, det.Verdict.Admitted)
	assert.Equal(t, throttle.ReasonExhausted, det.Verdict.Reason)
	assert.Nil(t, det.Score)
}

func TestVisibility(t *testing.T) {
	s := setupTestServer(t, nil)

	visible := false
	assert.Equal(t, http.StatusNoContent,
		s.do(t, http.MethodPut, "/api/v1/tabs/tab-1/visibility", VisibilityRequest{Visible: &visible}).Code)
	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPut, "/api/v1/tabs/tab-1/visibility", map[string]any{}).Code)

	rec := s.do(t, http.MethodPost, "/api/v1/tabs/tab-1/detections", DetectionRequest{PopupID: "p1", Element: modalElement()})
	det := decode[DetectionResponse](t, rec)
	assert.False(t, det.Verdict.Admitted)
	assert.Equal(t, throttle.ReasonHidden, det.Verdict.Reason)
}

func TestCloseTab(t *testing.T) {
	s := setupTestServer(t, nil)
	rec := s.do(t, http.MethodPost, "/api/v1/tabs/tab-1/detections", DetectionRequest{PopupID: "p1", Element: modalElement()})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/v1/tabs/tab-1", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/v1/tabs/tab-1", nil).Code)

	// Closing settles the pending decision as a timeout and withdraws it.
	assert.Empty(t, decode[PendingResponse](t, s.do(t, http.MethodGet, "/api/v1/tabs/tab-1/pending", nil)).Pending)
	hist := decode[HistoryResponse](t, s.do(t, http.MethodGet, "/api/v1/history", nil))
	require.Len(t, hist.Records, 1)
	assert.Equal(t, popup.DecisionTimeout, hist.Records[0].Decision)
	assert.Empty(t, hist.Decisions)
}

func TestHistoryLimit(t *testing.T) {
	s := setupTestServer(t, nil)
	for _, id := range []string{"p1", "p2", "p3"} {
		require.Equal(t, http.StatusOK,
			s.do(t, http.MethodPost, "/api/v1/tabs/tab-1/detections", DetectionRequest{PopupID: id, Element: modalElement()}).Code)
		require.Equal(t, http.StatusOK,
			s.do(t, http.MethodPost, "/api/v1/tabs/tab-1/decisions/"+id, DecisionRequest{Decision: "keep"}).Code)
	}

	hist := decode[HistoryResponse](t, s.do(t, http.MethodGet, "/api/v1/history?limit=2", nil))
	require.Len(t, hist.Records, 2)
	assert.Equal(t, "p3", hist.Records[1].PopupID)
	assert.Len(t, hist.Decisions, 2)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/history?limit=-1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/history?limit=x", nil).Code)
}

func TestMemoryPressure(t *testing.T) {
	s := setupTestServer(t, nil)
	rec := s.do(t, http.MethodPost, "/api/v1/memory-pressure", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[MemoryPressureResponse](t, rec).Evicted)
}

func TestPreferences(t *testing.T) {
	s := setupTestServer(t, nil)

	prefs := decode[engine.Preferences](t, s.do(t, http.MethodGet, "/api/v1/preferences", nil))
	assert.True(t, prefs.LearningEnabled)

	rec := s.do(t, http.MethodPut, "/api/v1/preferences", map[string]any{"learning_enabled": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[engine.Preferences](t, rec)
	assert.False(t, updated.LearningEnabled)
	assert.Equal(t, prefs.SimilarityThreshold, updated.SimilarityThreshold)

	rec = s.do(t, http.MethodPut, "/api/v1/preferences", map[string]any{"similarity_threshold": 1.5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, decode[engine.Preferences](t, s.do(t, http.MethodGet, "/api/v1/preferences", nil)).LearningEnabled)
}

func TestClosedEngine(t *testing.T) {
	s := setupTestServer(t, nil)
	require.NoError(t, s.engine.Close(context.Background()))

	rec := s.do(t, http.MethodPost, "/api/v1/tabs/tab-1/detections", DetectionRequest{PopupID: "p1", Element: modalElement()})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	s.logs.AssertLogged(t, zapcore.ErrorLevel, "http request")
	s.logs.AssertNotLogged(t, zapcore.InfoLevel, "http request")
	s.logs.AssertField(t, "http request", "status", int64(http.StatusServiceUnavailable))
}
