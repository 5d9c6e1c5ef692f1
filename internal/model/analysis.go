package model

import "time"

// AnalysisStatus is the lifecycle state of a recorded analysis call.
type AnalysisStatus string

const (
	AnalysisStatusRunning   AnalysisStatus = "running"
	AnalysisStatusComplete  AnalysisStatus = "complete"
	AnalysisStatusCancelled AnalysisStatus = "cancelled"
	AnalysisStatusFailed    AnalysisStatus = "failed"
)

// AnalysisRecord is a persisted analysis call made on behalf of a session.
type AnalysisRecord struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Module      Module         `json:"module"`
	Lat         float64        `json:"lat"`
	Lng         float64        `json:"lng"`
	Prompt      string         `json:"prompt,omitempty"`
	Status      AnalysisStatus `json:"status"`
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}
