// Package session owns one map client's state: the provider chain, the
// imagery on screen, the pin and its analysis, the comparison flow and the
// screenshot surface. Everything a browser MapView would otherwise keep in
// component state lives here and is driven over a command stream.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/earthcopilot/mapview/internal/comparison"
	"github.com/earthcopilot/mapview/internal/config"
	"github.com/earthcopilot/mapview/internal/interpret"
	"github.com/earthcopilot/mapview/internal/mapprovider"
	"github.com/earthcopilot/mapview/internal/model"
	"github.com/earthcopilot/mapview/internal/pin"
	"github.com/earthcopilot/mapview/internal/reconcile"
	"github.com/earthcopilot/mapview/internal/screenshot"
	"github.com/earthcopilot/mapview/internal/telemetry"
	"github.com/earthcopilot/mapview/pkg/backend"
)

// ErrEmptyQuery is returned for blank chat queries.
var ErrEmptyQuery = eris.New("session: query is empty")

// Commands on this channel carry session notifications rather than map
// operations.
const channel = "session"

const (
	opChat      = "chat"
	opState     = "state"
	opExpanding = "expanding"
)

// Deps are the services shared by every session.
type Deps struct {
	Backend backend.Client
	// Fetcher loads TileJSON descriptors. Defaults to Backend.
	Fetcher interpret.DescriptorFetcher
	History pin.History
	Tracker telemetry.Tracker
}

// ChatMessage is an assistant message for the chat pane.
type ChatMessage struct {
	Role   string       `json:"role"`
	Text   string       `json:"text"`
	Module model.Module `json:"module,omitempty"`
	Error  bool         `json:"error,omitempty"`
}

// Result is the outcome of handling a chat response.
type Result struct {
	Response json.RawMessage      `json:"response,omitempty"`
	Imagery  *model.SatelliteData `json:"imagery,omitempty"`
	Report   reconcile.Report     `json:"report"`
	// Comparison is set when the query was consumed by the comparison flow.
	Comparison bool `json:"comparison,omitempty"`
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID         string                `json:"id"`
	Provider   string                `json:"provider"`
	Module     model.Module          `json:"module,omitempty"`
	PinState   pin.State             `json:"pin_state"`
	Pin        *model.Pin            `json:"pin,omitempty"`
	Imagery    *model.SatelliteData  `json:"imagery,omitempty"`
	Layers     []string              `json:"layers"`
	Comparison model.ComparisonState `json:"comparison"`
	Expanding  bool                  `json:"expanding"`
	LastSeen   time.Time             `json:"last_seen"`
}

// Session is one connected map view.
type Session struct {
	id   string
	opts Options
	deps Deps
	log  *zap.Logger
	sink mapprovider.Sink

	chain    *mapprovider.Chain
	interp   *interpret.Interpreter
	recon    *reconcile.Reconciler
	pins     *pin.Controller
	cmp      *comparison.Flow
	surface  *screenshot.RemoteSurface
	capturer *screenshot.Capturer

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu           sync.Mutex
	lastQuery    string
	expandCancel context.CancelFunc
	lastSeen     time.Time
}

// New creates a session streaming map commands to sink and starts the
// provider chain.
func New(ctx context.Context, id string, sink mapprovider.Sink, deps Deps, opts Options) *Session {
	if deps.Tracker == nil {
		deps.Tracker = telemetry.Nop{}
	}
	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = deps.Backend
	}
	if opts.ExpansionTimeout <= 0 {
		opts.ExpansionTimeout = 10 * time.Second
	}

	s := &Session{
		id:       id,
		opts:     opts,
		deps:     deps,
		sink:     sink,
		log:      config.ScopedLogger(zap.L(), opts.SuppressLogs).With(zap.String("session", id)),
		lastSeen: time.Now(),
	}
	s.ctx, s.stop = context.WithCancel(context.WithoutCancel(ctx))

	s.chain = mapprovider.NewChain(sink, opts.Chain)
	adapter := s.chain.Start(ctx)

	s.interp = interpret.New(opts.Imagery, fetcher)
	s.recon = reconcile.New(adapter, fetcher, opts.Reconcile)
	s.surface = screenshot.NewRemoteSurface(sink, opts.FrameTimeout)
	s.capturer = screenshot.NewCapturer(s.surface, opts.Screenshot)

	s.pins = pin.New(adapter, deps.Backend, s.capturer, deps.History, pin.Events{
		OnResult: s.analysisResult,
		OnError:  s.analysisError,
		OnState: func(st pin.State) {
			s.emit(opState, map[string]string{"pin_state": string(st)})
		},
	}, pin.Options{
		SessionID: id,
		Context:   s.imageryContext,
		Timeout:   opts.AnalysisTimeout,
	})

	s.cmp = comparison.New(deps.Backend, s.interp, s.recon, s.capturer, comparison.Events{
		OnAnalysis: func(plan backend.ComparisonPlan, analysis string) {
			s.chat(ChatMessage{Role: "assistant", Text: analysis, Module: model.ModuleComparison})
		},
		OnError: func(err error) {
			s.chat(ChatMessage{
				Role:   "assistant",
				Text:   "The comparison could not be completed. Please try rephrasing the request.",
				Module: model.ModuleComparison,
				Error:  true,
			})
		},
	})

	s.chain.OnClick(s.handleClick)
	s.log.Info("session: started", zap.String("provider", adapter.Name()))
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Surface returns the remote screenshot surface.
func (s *Session) Surface() *screenshot.RemoteSurface { return s.surface }

// HandleChatResponse interprets a backend chat response and puts its
// imagery on the map. A response superseded by a newer one is not an error.
func (s *Session) HandleChatResponse(ctx context.Context, raw []byte) (Result, error) {
	s.touch()
	data := s.interp.Interpret(ctx, raw)
	if data.Query != "" {
		s.mu.Lock()
		s.lastQuery = data.Query
		s.mu.Unlock()
	}

	res := Result{Response: responseJSON(raw), Imagery: data}
	report, err := s.recon.Apply(ctx, data)
	res.Report = report
	switch {
	case errors.Is(err, reconcile.ErrSuperseded):
		s.log.Debug("session: imagery superseded", zap.Uint64("generation", report.Generation))
		return res, nil
	case err != nil:
		return res, err
	}

	if !report.Skipped && data.Variant != model.VariantNone {
		s.deps.Tracker.Track(s.id, telemetry.EventImageryApplied, map[string]any{
			"variant":    string(data.Variant),
			"collection": data.Collection,
			"placed":     len(report.Placed),
			"failed":     len(report.Failed),
		})
	}
	return res, nil
}

// ChatQuery sends a chat query to the backend and applies the response.
// Queries that ask about the visible map carry a screenshot. While a
// comparison is waiting for its query, the text goes to the comparison
// flow instead.
func (s *Session) ChatQuery(ctx context.Context, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, ErrEmptyQuery
	}
	s.touch()

	if s.cmp.State().AwaitingQuery {
		err := s.SubmitComparison(ctx, text)
		return Result{Imagery: s.recon.Applied(), Comparison: true}, err
	}

	req := backend.QueryRequest{Query: text, SessionID: s.id}
	if p := s.pins.Pin(); p != nil {
		lat, lng := p.Lat, p.Lng
		req.PinLat, req.PinLng = &lat, &lng
	}
	if s.wantsVision(text) {
		shot, err := s.capturer.CaptureDataURL(ctx)
		if err != nil {
			s.log.Info("session: vision query sent without screenshot", zap.Error(err))
		} else {
			req.Screenshot = shot
		}
	}

	s.mu.Lock()
	s.lastQuery = text
	s.mu.Unlock()

	raw, err := s.deps.Backend.Query(ctx, req)
	if err != nil {
		return Result{}, eris.Wrap(err, "session: query")
	}
	return s.HandleChatResponse(ctx, raw)
}

// TriggerExpansion asks the backend to widen the last search in the
// background. The refinement gives up after the expansion timeout whether
// or not the backend answered. It reports false when there is nothing to
// expand or an expansion is already running.
func (s *Session) TriggerExpansion(ctx context.Context) bool {
	s.mu.Lock()
	if s.expandCancel != nil || s.lastQuery == "" {
		s.mu.Unlock()
		return false
	}
	ectx, cancel := context.WithTimeout(s.ctx, s.opts.ExpansionTimeout)
	s.expandCancel = cancel
	query := s.lastQuery
	s.wg.Add(1)
	s.mu.Unlock()

	s.emit(opExpanding, map[string]bool{"expanding": true})
	go s.expand(ectx, cancel, query)
	return true
}

func (s *Session) expand(ctx context.Context, cancel context.CancelFunc, query string) {
	defer s.wg.Done()
	defer func() {
		cancel()
		s.mu.Lock()
		s.expandCancel = nil
		s.mu.Unlock()
		s.emit(opExpanding, map[string]bool{"expanding": false})
	}()

	raw, err := s.deps.Backend.Query(ctx, backend.QueryRequest{Query: query, SessionID: s.id, Expand: true})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.log.Info("session: expansion timed out", zap.Duration("timeout", s.opts.ExpansionTimeout))
		} else {
			s.log.Warn("session: expansion failed", zap.Error(err))
		}
		return
	}
	if _, err := s.HandleChatResponse(ctx, raw); err != nil {
		s.log.Warn("session: expansion imagery not applied", zap.Error(err))
	}
}

// Expanding reports whether an expansion is running.
func (s *Session) Expanding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expandCancel != nil
}

// SelectModule chooses the analysis module. Choosing comparison starts a
// comparison that waits for its query; leaving it abandons the comparison.
func (s *Session) SelectModule(ctx context.Context, m model.Module) error {
	s.touch()
	prev := s.pins.Module()
	if err := s.pins.SelectModule(ctx, m); err != nil {
		return err
	}
	switch {
	case m == model.ModuleComparison:
		s.cmp.Begin()
	case prev == model.ModuleComparison:
		s.cmp.Reset()
	}
	return nil
}

// DropPin places the pin and starts the selected module's analysis.
func (s *Session) DropPin(ctx context.Context, lat, lng float64) (model.Pin, error) {
	s.touch()
	p, err := s.pins.DropPin(ctx, lat, lng)
	if err != nil {
		return p, err
	}
	s.deps.Tracker.Track(s.id, telemetry.EventAnalysisStarted, map[string]any{
		"module": string(s.pins.Module()),
	})
	return p, nil
}

// ClearPin removes the pin and cancels its analysis.
func (s *Session) ClearPin(ctx context.Context) {
	s.touch()
	s.pins.ClearPin(ctx)
}

// SubmitComparison runs the comparison flow for query.
func (s *Session) SubmitComparison(ctx context.Context, query string) error {
	s.touch()
	if err := s.cmp.Submit(ctx, query); err != nil {
		return err
	}
	st := s.cmp.State()
	s.deps.Tracker.Track(s.id, telemetry.EventComparisonLoaded, map[string]any{
		"before_variant": variantOf(st.Before),
		"after_variant":  variantOf(st.After),
	})
	return nil
}

// ToggleComparison flips between before and after imagery.
func (s *Session) ToggleComparison(ctx context.Context) (bool, error) {
	s.touch()
	return s.cmp.Toggle(ctx)
}

// SetStyle changes the base map style.
func (s *Session) SetStyle(ctx context.Context, style mapprovider.Style) error {
	s.touch()
	return s.chain.Current().SetStyle(ctx, style)
}

// Snapshot returns the session's current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	expanding := s.expandCancel != nil
	lastSeen := s.lastSeen
	s.mu.Unlock()

	return Snapshot{
		ID:         s.id,
		Provider:   s.chain.Current().Name(),
		Module:     s.pins.Module(),
		PinState:   s.pins.State(),
		Pin:        s.pins.Pin(),
		Imagery:    s.recon.Applied(),
		Layers:     s.recon.Layers(),
		Comparison: s.cmp.State(),
		Expanding:  expanding,
		LastSeen:   lastSeen,
	}
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Close cancels background work and waits for it to finish.
func (s *Session) Close() {
	s.stop()
	s.pins.Cancel()
	s.cmp.Reset()
	s.wg.Wait()
	s.pins.Wait()
	s.cmp.Wait()
	s.log.Info("session: closed")
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// fallback moves to the next provider and restores the pin and imagery on
// the new map.
func (s *Session) fallback(ctx context.Context, reason string) {
	prev := s.recon.Applied()
	from := s.chain.Current().Name()
	next := s.chain.Fallback(ctx, reason)
	s.recon.SetAdapter(next)
	s.pins.SetAdapter(ctx, next)
	s.deps.Tracker.Track(s.id, telemetry.EventProviderFallback, map[string]any{
		"from":   from,
		"to":     next.Name(),
		"reason": reason,
	})
	if prev == nil {
		return
	}
	if _, err := s.recon.Apply(ctx, prev); err != nil {
		s.log.Warn("session: imagery not restored after fallback", zap.Error(err))
	}
}

func (s *Session) handleClick(lat, lng float64) {
	if !s.pins.Module().UsesPin() {
		return
	}
	if _, err := s.DropPin(s.ctx, lat, lng); err != nil {
		s.log.Debug("session: click ignored", zap.Error(err))
	}
}

func (s *Session) analysisResult(m model.Module, p model.Pin, analysis string) {
	s.chat(ChatMessage{Role: "assistant", Text: analysis, Module: m})
	s.deps.Tracker.Track(s.id, telemetry.EventAnalysisFinished, map[string]any{
		"module": string(m),
		"status": string(model.AnalysisStatusComplete),
	})
}

func (s *Session) analysisError(m model.Module, p model.Pin, err error) {
	s.chat(ChatMessage{
		Role:   "assistant",
		Text:   fmt.Sprintf("The %s analysis at %.4f, %.4f could not be completed. Please try again.", m, p.Lat, p.Lng),
		Module: m,
		Error:  true,
	})
	s.deps.Tracker.Track(s.id, telemetry.EventAnalysisFinished, map[string]any{
		"module": string(m),
		"status": string(model.AnalysisStatusFailed),
	})
}

// imageryContext describes the imagery on screen for analysis prompts.
func (s *Session) imageryContext() string {
	d := s.recon.Applied()
	if d == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Imagery on the map: %d item(s)", len(d.Items))
	if d.Collection != "" {
		fmt.Fprintf(&b, " from %s", d.Collection)
	}
	if d.BBox != nil {
		fmt.Fprintf(&b, " covering %s", d.BBox)
	}
	if d.Query != "" {
		fmt.Fprintf(&b, ". Search: %q", d.Query)
	}
	return b.String()
}

func (s *Session) wantsVision(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range s.opts.VisionKeywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func (s *Session) chat(m ChatMessage) {
	s.emit(opChat, m)
}

func (s *Session) emit(op string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("session: encode notification", zap.String("op", op), zap.Error(err))
		return
	}
	if err := s.sink.Send(s.ctx, mapprovider.Command{Provider: channel, Op: op, Args: raw}); err != nil {
		s.log.Debug("session: notification not delivered", zap.String("op", op), zap.Error(err))
	}
}

func responseJSON(raw []byte) json.RawMessage {
	if !json.Valid(raw) {
		return nil
	}
	return json.RawMessage(raw)
}

func variantOf(d *model.SatelliteData) string {
	if d == nil {
		return string(model.VariantNone)
	}
	return string(d.Variant)
}
