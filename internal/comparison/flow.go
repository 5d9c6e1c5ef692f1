// Package comparison runs the before/after imagery flow: a free-text query
// becomes two dated catalog searches, both sides are rendered, and a
// narrative analysis runs alongside without waiting on screenshots.
package comparison

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/earthcopilot/mapview/internal/model"
	"github.com/earthcopilot/mapview/internal/reconcile"
	"github.com/earthcopilot/mapview/pkg/backend"
)

var (
	ErrNotAwaiting = eris.New("comparison: not awaiting a query")
	ErrEmptyQuery  = eris.New("comparison: query is empty")
)

// Backend is the slice of the backend client the flow uses.
type Backend interface {
	ProcessComparisonQuery(ctx context.Context, query string) (*backend.ComparisonPlan, error)
	STACQuery(ctx context.Context, req backend.STACQueryRequest) ([]byte, error)
	ComparisonAnalysis(ctx context.Context, req backend.ComparisonAnalysisRequest) (*backend.ComparisonAnalysisResult, error)
}

// Interpreter turns a catalog response into imagery.
type Interpreter interface {
	Interpret(ctx context.Context, raw []byte) *model.SatelliteData
}

// Applier puts imagery on the map.
type Applier interface {
	Apply(ctx context.Context, data *model.SatelliteData) (reconcile.Report, error)
}

// Capturer grabs the rendered map.
type Capturer interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Events are the flow's outbound notifications.
type Events struct {
	OnAnalysis func(plan backend.ComparisonPlan, analysis string)
	OnError    func(err error)
}

// Flow holds one session's comparison state.
type Flow struct {
	backend  Backend
	interp   Interpreter
	applier  Applier
	capturer Capturer
	events   Events

	mu     sync.Mutex
	state  model.ComparisonState
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Flow. capturer may be nil.
func New(b Backend, interp Interpreter, applier Applier, capturer Capturer, events Events) *Flow {
	return &Flow{backend: b, interp: interp, applier: applier, capturer: capturer, events: events}
}

// State returns a copy of the comparison state.
func (f *Flow) State() model.ComparisonState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Begin starts a new comparison and waits for the query text.
func (f *Flow) Begin() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelLocked()
	f.state = model.ComparisonState{AwaitingQuery: true}
}

// Submit plans the comparison, loads both sides, renders them and starts the
// narrative analysis. It returns once imagery is on the map; the analysis
// result arrives through Events.OnAnalysis.
func (f *Flow) Submit(ctx context.Context, query string) error {
	if query == "" {
		return ErrEmptyQuery
	}
	f.mu.Lock()
	if !f.state.AwaitingQuery {
		f.mu.Unlock()
		return ErrNotAwaiting
	}
	f.state.AwaitingQuery = false
	f.state.Query = query
	f.mu.Unlock()

	err := f.submit(ctx, query)
	if err != nil {
		f.mu.Lock()
		f.state.AwaitingQuery = true
		f.mu.Unlock()
		if f.events.OnError != nil {
			f.events.OnError(err)
		}
	}
	return err
}

func (f *Flow) submit(ctx context.Context, query string) error {
	plan, err := f.backend.ProcessComparisonQuery(ctx, query)
	if err != nil {
		return eris.Wrap(err, "comparison: plan query")
	}

	var beforeRaw, afterRaw []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := f.backend.STACQuery(gctx, stacRequest(query, plan, plan.BeforeDate))
		beforeRaw = raw
		return eris.Wrap(err, "comparison: before search")
	})
	g.Go(func() error {
		raw, err := f.backend.STACQuery(gctx, stacRequest(query, plan, plan.AfterDate))
		afterRaw = raw
		return eris.Wrap(err, "comparison: after search")
	})
	if err := g.Wait(); err != nil {
		return err
	}

	before := f.interp.Interpret(ctx, beforeRaw)
	after := f.interp.Interpret(ctx, afterRaw)

	analysisCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f.mu.Lock()
	f.cancelLocked()
	f.cancel = cancel
	f.state.Before = before
	f.state.After = after
	f.mu.Unlock()

	f.wg.Add(1)
	go f.analyze(analysisCtx, cancel, query, *plan, beforeRaw, afterRaw)

	f.render(ctx, before, after)
	return nil
}

// render shows each side in turn, grabbing a screenshot of each, and
// finishes on the after imagery.
func (f *Flow) render(ctx context.Context, before, after *model.SatelliteData) {
	beforeShot := f.show(ctx, before, "before")
	afterShot := f.show(ctx, after, "after")

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.Before != before {
		return
	}
	f.state.BeforeShot = beforeShot
	f.state.AfterShot = afterShot
	f.state.ShowingBefore = false
}

func (f *Flow) show(ctx context.Context, data *model.SatelliteData, side string) []byte {
	log := zap.L().With(zap.String("side", side))
	if _, err := f.applier.Apply(ctx, data); err != nil {
		log.Warn("comparison: render failed", zap.Error(err))
		return nil
	}
	if f.capturer == nil {
		return nil
	}
	shot, err := f.capturer.Capture(ctx)
	if err != nil {
		log.Debug("comparison: screenshot skipped", zap.Error(err))
		return nil
	}
	return shot
}

func (f *Flow) analyze(ctx context.Context, cancel context.CancelFunc, query string, plan backend.ComparisonPlan, beforeRaw, afterRaw []byte) {
	defer f.wg.Done()
	defer cancel()

	res, err := f.backend.ComparisonAnalysis(ctx, backend.ComparisonAnalysisRequest{
		Query:          query,
		Location:       plan.Location,
		Aspect:         plan.Aspect,
		BeforeDate:     plan.BeforeDate,
		AfterDate:      plan.AfterDate,
		BeforeMetadata: metadata(beforeRaw),
		AfterMetadata:  metadata(afterRaw),
	})
	if ctx.Err() != nil {
		zap.L().Debug("comparison: analysis abandoned")
		return
	}
	if err != nil {
		zap.L().Error("comparison: analysis failed", zap.Error(err))
		if f.events.OnError != nil {
			f.events.OnError(eris.Wrap(err, "comparison: analysis"))
		}
		return
	}

	f.mu.Lock()
	if ctx.Err() != nil {
		f.mu.Unlock()
		return
	}
	f.state.Analysis = res.Analysis
	f.mu.Unlock()
	if f.events.OnAnalysis != nil {
		f.events.OnAnalysis(plan, res.Analysis)
	}
}

// Toggle flips between the before and after imagery. It does nothing until
// both sides are loaded and reports whether the display changed.
func (f *Flow) Toggle(ctx context.Context) (bool, error) {
	f.mu.Lock()
	if !f.state.Ready() {
		f.mu.Unlock()
		return false, nil
	}
	showBefore := !f.state.ShowingBefore
	target := f.state.After
	if showBefore {
		target = f.state.Before
	}
	f.mu.Unlock()

	if _, err := f.applier.Apply(ctx, target); err != nil {
		return false, eris.Wrap(err, "comparison: toggle")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	// Reset or a new comparison while the map was updating.
	if target != f.state.Before && target != f.state.After {
		return false, nil
	}
	f.state.ShowingBefore = showBefore
	return true, nil
}

// Reset abandons the comparison and any running analysis.
func (f *Flow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelLocked()
	f.state = model.ComparisonState{}
}

// Wait blocks until running analyses have returned.
func (f *Flow) Wait() {
	f.wg.Wait()
}

func (f *Flow) cancelLocked() {
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
}

func stacRequest(query string, plan *backend.ComparisonPlan, date string) backend.STACQueryRequest {
	return backend.STACQueryRequest{
		Query:       query,
		Location:    plan.Location,
		BBox:        plan.BBox,
		Datetime:    date,
		Collections: plan.Collections,
	}
}

// metadata trims a catalog response to its feature list.
func metadata(raw []byte) json.RawMessage {
	if !gjson.ValidBytes(raw) {
		return nil
	}
	for _, path := range []string{"data.stac_results.features", "stac_results.features", "features"} {
		if r := gjson.GetBytes(raw, path); r.IsArray() {
			return json.RawMessage(r.Raw)
		}
	}
	return json.RawMessage(raw)
}
