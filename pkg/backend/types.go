package backend

import "encoding/json"

// MapConfig is the map provider configuration served by /api/config.
type MapConfig struct {
	SubscriptionKey string `json:"azure_maps_subscription_key"`
	ClientID        string `json:"azure_maps_client_id,omitempty"`
	DevelopmentMode bool   `json:"development_mode"`
}

// QueryRequest is a chat query sent to /api/query.
type QueryRequest struct {
	Query      string   `json:"query"`
	SessionID  string   `json:"session_id,omitempty"`
	PinLat     *float64 `json:"pin_lat,omitempty"`
	PinLng     *float64 `json:"pin_lng,omitempty"`
	Screenshot string   `json:"map_screenshot,omitempty"`
	// Expand asks the backend to widen a previous search.
	Expand bool `json:"expand,omitempty"`
}

// AnalysisRequest is the body of a geointelligence analysis call.
type AnalysisRequest struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Module     string  `json:"-"`
	Prompt     string  `json:"user_query"`
	Context    string  `json:"user_context,omitempty"`
	Screenshot string  `json:"map_screenshot,omitempty"`
}

// AnalysisResult is returned by a geointelligence analysis call.
type AnalysisResult struct {
	Status string `json:"status"`
	Result struct {
		Analysis string `json:"analysis"`
	} `json:"result"`
}

// ComparisonPlan is the structured form of a free-text comparison query.
type ComparisonPlan struct {
	Location    string    `json:"location"`
	Aspect      string    `json:"aspect"`
	BeforeDate  string    `json:"before_date"`
	AfterDate   string    `json:"after_date"`
	Collections []string  `json:"collections"`
	BBox        []float64 `json:"bbox,omitempty"`
}

// STACQueryRequest asks the backend for catalog items at a place and date.
type STACQueryRequest struct {
	Query       string    `json:"query,omitempty"`
	Location    string    `json:"location,omitempty"`
	BBox        []float64 `json:"bbox,omitempty"`
	Datetime    string    `json:"datetime"`
	Collections []string  `json:"collections,omitempty"`
}

// ComparisonAnalysisRequest asks for a narrative before/after analysis.
type ComparisonAnalysisRequest struct {
	Query          string          `json:"user_query"`
	Location       string          `json:"location"`
	Aspect         string          `json:"aspect,omitempty"`
	BeforeDate     string          `json:"before_date"`
	AfterDate      string          `json:"after_date"`
	BeforeMetadata json.RawMessage `json:"before_metadata,omitempty"`
	AfterMetadata  json.RawMessage `json:"after_metadata,omitempty"`
}

// ComparisonAnalysisResult is the narrative returned by /api/geoint/comparison.
type ComparisonAnalysisResult struct {
	Status   string `json:"status"`
	Analysis string `json:"analysis"`
}

// TileJSON is the subset of a TileJSON document used to place a layer.
type TileJSON struct {
	Version string    `json:"tilejson"`
	Tiles   []string  `json:"tiles"`
	Bounds  []float64 `json:"bounds,omitempty"`
	MinZoom *int      `json:"minzoom,omitempty"`
	MaxZoom *int      `json:"maxzoom,omitempty"`
}

// Template returns the first tile template, or "".
func (t *TileJSON) Template() string {
	if t == nil || len(t.Tiles) == 0 {
		return ""
	}
	return t.Tiles[0]
}
