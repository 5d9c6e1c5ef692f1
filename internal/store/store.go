package store

import (
	"context"
	"time"

	"github.com/earthcopilot/mapview/internal/model"
)

// AnalysisFilter specifies criteria for listing analyses.
type AnalysisFilter struct {
	SessionID string               `json:"session_id,omitempty"`
	Module    model.Module         `json:"module,omitempty"`
	Status    model.AnalysisStatus `json:"status,omitempty"`
	Limit     int                  `json:"limit,omitempty"`
	Offset    int                  `json:"offset,omitempty"`
}

// Store persists the analysis history.
type Store interface {
	BeginAnalysis(ctx context.Context, rec model.AnalysisRecord) error
	FinishAnalysis(ctx context.Context, id string, status model.AnalysisStatus, result, errMsg string) error
	GetAnalysis(ctx context.Context, id string) (*model.AnalysisRecord, error)
	ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]model.AnalysisRecord, error)
	PruneAnalyses(ctx context.Context, before time.Time) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
