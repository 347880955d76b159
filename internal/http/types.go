package http

import (
	"github.com/fyrsmithlabs/popguard/internal/decision"
	"github.com/fyrsmithlabs/popguard/internal/engine"
	"github.com/fyrsmithlabs/popguard/internal/extraction"
	"github.com/fyrsmithlabs/popguard/internal/popup"
	"github.com/fyrsmithlabs/popguard/internal/throttle"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// DetectionRequest is the request body for POST /api/v1/tabs/:tab/detections.
type DetectionRequest struct {
	PopupID string               `json:"popup_id"`
	Element *extraction.Snapshot `json:"element"`
}

// DetectionResponse echoes the popup ID next to the pipeline result.
type DetectionResponse struct {
	PopupID string `json:"popup_id"`
	engine.Result
}

// DecisionRequest is the request body for POST /api/v1/tabs/:tab/decisions/:popup.
type DecisionRequest struct {
	Decision string `json:"decision"`
}

// VisibilityRequest is the request body for PUT /api/v1/tabs/:tab/visibility.
type VisibilityRequest struct {
	Visible *bool `json:"visible"`
}

// PendingResponse is the response body for GET /api/v1/tabs/:tab/pending.
type PendingResponse struct {
	TabID   string             `json:"tab_id"`
	Pending []decision.Pending `json:"pending"`
}

// MemoryPressureResponse is the response body for POST /api/v1/memory-pressure.
type MemoryPressureResponse struct {
	Evicted int `json:"evicted"`
}

// PatternsResponse is the response body for GET /api/v1/patterns.
type PatternsResponse struct {
	Count    int             `json:"count"`
	Patterns []popup.Pattern `json:"patterns"`
}

// HistoryResponse is the response body for GET /api/v1/history.
type HistoryResponse struct {
	Records   []popup.Record        `json:"records"`
	Decisions []popup.DecisionEntry `json:"decisions"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version,omitempty"`
	Counts  StatusCounts `json:"counts"`
	Tabs    []TabStatus  `json:"tabs"`
}

// StatusCounts contains count information for engine state.
type StatusCounts struct {
	Tabs      int `json:"tabs"`
	Patterns  int `json:"patterns"`
	History   int `json:"history"`
	Decisions int `json:"decisions"`
	Queued    int `json:"queued"`
}

// TabStatus is the per-tab part of StatusResponse.
type TabStatus struct {
	TabID    string         `json:"tab_id"`
	Throttle throttle.State `json:"throttle"`
	Queued   int            `json:"queued"`
}
