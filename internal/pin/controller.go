// Package pin drives the module-selection and pin-drop analysis flow. At
// most one analysis call is outstanding: dropping a new pin cancels the
// previous call before the next one is issued.
package pin

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/earthcopilot/mapview/internal/mapprovider"
	"github.com/earthcopilot/mapview/internal/model"
	"github.com/earthcopilot/mapview/internal/resilience"
	"github.com/earthcopilot/mapview/pkg/backend"
)

// State is the controller's position in the analysis flow.
type State string

const (
	StateNoModule          State = "no_module"
	StateModuleSelected    State = "module_selected"
	StatePinActive         State = "pin_active"
	StateAnalysisInFlight  State = "analysis_in_flight"
	StateAnalysisComplete  State = "analysis_complete"
	StateAnalysisCancelled State = "analysis_cancelled"
)

var (
	ErrUnknownModule   = eris.New("pin: unknown module")
	ErrNoPinModule     = eris.New("pin: selected module does not use a pin")
	ErrInvalidLocation = eris.New("pin: location out of range")
	ErrAnalysisFailed  = eris.New("pin: analysis reported failure")
)

// Analyzer runs a geointelligence analysis. backend.Client satisfies it.
type Analyzer interface {
	TriggerGeointAnalysis(ctx context.Context, req backend.AnalysisRequest) (*backend.AnalysisResult, error)
}

// Screenshotter captures the map as a data URL.
type Screenshotter interface {
	CaptureDataURL(ctx context.Context) (string, error)
}

// History records analysis calls.
type History interface {
	BeginAnalysis(ctx context.Context, rec model.AnalysisRecord) error
	FinishAnalysis(ctx context.Context, id string, status model.AnalysisStatus, result, errMsg string) error
}

// Events are the controller's outbound notifications. Callbacks run on the
// analysis goroutine.
type Events struct {
	OnResult func(m model.Module, p model.Pin, analysis string)
	// OnError reports a genuine failure. Cancellations are never reported.
	OnError func(m model.Module, p model.Pin, err error)
	OnState func(s State)
}

// Options tunes a Controller.
type Options struct {
	SessionID string
	Prompts   map[model.Module]string
	// Context returns extra context for the analysis, such as the imagery
	// on screen.
	Context func() string
	Timeout time.Duration
}

// DefaultPrompts are the built-in analysis prompts.
var DefaultPrompts = map[model.Module]string{
	model.ModuleTerrain:  "Analyze the terrain at this location: elevation, slope, land cover and notable features.",
	model.ModuleMobility: "Assess ground mobility at this location: trafficability, obstacles and access routes.",
	model.ModuleDamage:   "Assess visible damage at this location compared to normal conditions.",
}

// Controller owns the single pin and its analysis call.
type Controller struct {
	analyzer Analyzer
	shooter  Screenshotter
	history  History
	events   Events
	opts     Options

	mu      sync.Mutex
	adapter mapprovider.Adapter
	state   State
	module  model.Module
	pin     *model.Pin
	cancel  context.CancelFunc
	callID  uint64
	wg      sync.WaitGroup
}

// New creates a Controller. shooter and history may be nil.
func New(adapter mapprovider.Adapter, analyzer Analyzer, shooter Screenshotter, history History, events Events, opts Options) *Controller {
	if opts.Prompts == nil {
		opts.Prompts = DefaultPrompts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &Controller{
		adapter:  adapter,
		analyzer: analyzer,
		shooter:  shooter,
		history:  history,
		events:   events,
		opts:     opts,
		state:    StateNoModule,
	}
}

// SetAdapter switches providers. The marker is re-added on the new map.
func (c *Controller) SetAdapter(ctx context.Context, a mapprovider.Adapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapter = a
	if c.pin == nil {
		return
	}
	id, err := a.AddMarker(ctx, marker(*c.pin))
	if err != nil {
		zap.L().Warn("pin: re-adding marker failed", zap.Error(err))
		return
	}
	c.pin.MarkerID = id
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Module returns the selected module, or "".
func (c *Controller) Module() model.Module {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.module
}

// Pin returns a copy of the active pin, or nil.
func (c *Controller) Pin() *model.Pin {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pin == nil {
		return nil
	}
	p := *c.pin
	return &p
}

// SelectModule chooses the analysis module. Switching modules cancels any
// in-flight analysis and clears the pin.
func (c *Controller) SelectModule(ctx context.Context, m model.Module) error {
	if !m.Valid() {
		return eris.Wrapf(ErrUnknownModule, "pin: select %q", m)
	}
	c.mu.Lock()
	if c.module == m {
		c.mu.Unlock()
		return nil
	}
	c.cancelLocked()
	c.removeMarkerLocked(ctx)
	c.module = m
	s := c.setStateLocked(StateModuleSelected)
	c.mu.Unlock()
	c.notify(s)
	return nil
}

// DropPin places the pin and starts the module's analysis. A previous call
// is cancelled before the new one starts.
func (c *Controller) DropPin(ctx context.Context, lat, lng float64) (model.Pin, error) {
	if !validLocation(lat, lng) {
		return model.Pin{}, eris.Wrapf(ErrInvalidLocation, "pin: drop at %f,%f", lat, lng)
	}

	c.mu.Lock()
	if !c.module.UsesPin() {
		c.mu.Unlock()
		return model.Pin{}, ErrNoPinModule
	}
	c.cancelLocked()
	c.removeMarkerLocked(ctx)

	p := model.Pin{ID: uuid.NewString(), Lat: lat, Lng: lng, Active: true, DroppedAt: time.Now().UTC()}
	if id, err := c.adapter.AddMarker(ctx, marker(p)); err != nil {
		zap.L().Warn("pin: marker placement failed", zap.Error(err))
	} else {
		p.MarkerID = id
	}
	c.pin = &p
	c.setStateLocked(StatePinActive)

	// Detached from the request: the call lives until it completes, is
	// cancelled by a newer pin, or times out.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.Timeout)
	c.callID++
	id := c.callID
	c.cancel = cancel
	module := c.module
	s := c.setStateLocked(StateAnalysisInFlight)
	c.wg.Add(1)
	c.mu.Unlock()

	c.notify(s)
	go c.run(callCtx, cancel, id, module, p)
	return p, nil
}

// ClearPin removes the pin and cancels its analysis.
func (c *Controller) ClearPin(ctx context.Context) {
	c.mu.Lock()
	c.cancelLocked()
	c.removeMarkerLocked(ctx)
	next := StateNoModule
	if c.module != "" {
		next = StateModuleSelected
	}
	s := c.setStateLocked(next)
	c.mu.Unlock()
	c.notify(s)
}

// Cancel aborts the in-flight analysis, if any. The pin stays.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return
	}
	c.cancelLocked()
	s := c.setStateLocked(StateAnalysisCancelled)
	c.mu.Unlock()
	c.notify(s)
}

// Wait blocks until every started analysis goroutine has returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, id uint64, module model.Module, p model.Pin) {
	defer c.wg.Done()
	defer cancel()

	req := backend.AnalysisRequest{
		Latitude:  p.Lat,
		Longitude: p.Lng,
		Module:    string(module),
		Prompt:    c.opts.Prompts[module],
	}
	if c.opts.Context != nil {
		req.Context = c.opts.Context()
	}
	if c.shooter != nil {
		if shot, err := c.shooter.CaptureDataURL(ctx); err != nil {
			zap.L().Debug("pin: analysis continues without screenshot", zap.Error(err))
		} else {
			req.Screenshot = shot
		}
	}

	recID := uuid.NewString()
	c.recordBegin(ctx, model.AnalysisRecord{
		ID:        recID,
		SessionID: c.opts.SessionID,
		Module:    module,
		Lat:       p.Lat,
		Lng:       p.Lng,
		Prompt:    req.Prompt,
		Status:    model.AnalysisStatusRunning,
		CreatedAt: time.Now().UTC(),
	})

	res, err := c.analyzer.TriggerGeointAnalysis(ctx, req)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil {
		err = checkResult(res)
	}

	c.mu.Lock()
	current := c.callID == id
	var s State
	switch {
	case resilience.IsCancellation(err):
		if current {
			s = c.setStateLocked(StateAnalysisCancelled)
		}
	case current:
		s = c.setStateLocked(StateAnalysisComplete)
	}
	if current {
		c.cancel = nil
	}
	c.mu.Unlock()

	log := zap.L().With(zap.String("module", string(module)), zap.String("pin", p.ID))
	switch {
	case resilience.IsCancellation(err):
		log.Debug("pin: analysis cancelled")
		c.recordFinish(ctx, recID, model.AnalysisStatusCancelled, "", "")
	case err != nil:
		log.Error("pin: analysis failed", zap.Error(err))
		c.recordFinish(ctx, recID, model.AnalysisStatusFailed, "", err.Error())
		if current && c.events.OnError != nil {
			c.events.OnError(module, p, err)
		}
	default:
		analysis := res.Result.Analysis
		c.recordFinish(ctx, recID, model.AnalysisStatusComplete, analysis, "")
		if current && c.events.OnResult != nil {
			c.events.OnResult(module, p, analysis)
		}
	}
	if s != "" {
		c.notify(s)
	}
}

// checkResult rejects a response whose status is not a success, even when
// the HTTP call itself went through.
func checkResult(res *backend.AnalysisResult) error {
	if res == nil {
		return eris.Wrap(ErrAnalysisFailed, "pin: empty analysis response")
	}
	switch strings.ToLower(res.Status) {
	case "", "success", "ok", "complete", "completed":
		return nil
	}
	return eris.Wrapf(ErrAnalysisFailed, "pin: backend status %q", res.Status)
}

func (c *Controller) cancelLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
		c.callID++
	}
}

func (c *Controller) removeMarkerLocked(ctx context.Context) {
	if c.pin == nil {
		return
	}
	if c.pin.MarkerID != "" {
		if err := c.adapter.RemoveMarker(ctx, c.pin.MarkerID); err != nil {
			zap.L().Debug("pin: marker removal failed", zap.Error(err))
		}
	}
	c.pin = nil
}

func (c *Controller) setStateLocked(s State) State {
	c.state = s
	return s
}

func (c *Controller) notify(s State) {
	if c.events.OnState != nil {
		c.events.OnState(s)
	}
}

func (c *Controller) recordBegin(ctx context.Context, rec model.AnalysisRecord) {
	if c.history == nil {
		return
	}
	if err := c.history.BeginAnalysis(context.WithoutCancel(ctx), rec); err != nil {
		zap.L().Warn("pin: record analysis failed", zap.Error(err))
	}
}

func (c *Controller) recordFinish(ctx context.Context, id string, status model.AnalysisStatus, result, errMsg string) {
	if c.history == nil {
		return
	}
	if err := c.history.FinishAnalysis(context.WithoutCancel(ctx), id, status, result, errMsg); err != nil {
		zap.L().Warn("pin: finish analysis record failed", zap.Error(err))
	}
}

func marker(p model.Pin) mapprovider.Marker {
	return mapprovider.Marker{
		ID:    "pin-" + p.ID,
		Lat:   p.Lat,
		Lng:   p.Lng,
		Label: fmt.Sprintf("%.5f, %.5f", p.Lat, p.Lng),
	}
}

func validLocation(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return math.Abs(lat) <= 90 && math.Abs(lng) <= 180
}
