package pin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earthcopilot/mapview/internal/mapprovider"
	"github.com/earthcopilot/mapview/internal/model"
	"github.com/earthcopilot/mapview/pkg/backend"
)

// blockingAnalyzer holds every call until release is closed or the call's
// context ends, and records how each call ended.
type blockingAnalyzer struct {
	release chan struct{}
	err     error
	// status overrides the "success" status of released calls.
	status string

	mu      sync.Mutex
	started []backend.AnalysisRequest
	ctxs    []context.Context
	aborted []bool
	// liveAtStart counts earlier calls whose context was still live when
	// each call started.
	liveAtStart []int
}

func newAnalyzer() *blockingAnalyzer {
	return &blockingAnalyzer{release: make(chan struct{})}
}

func (a *blockingAnalyzer) TriggerGeointAnalysis(ctx context.Context, req backend.AnalysisRequest) (*backend.AnalysisResult, error) {
	a.mu.Lock()
	idx := len(a.started)
	live := 0
	for _, prior := range a.ctxs {
		if prior.Err() == nil {
			live++
		}
	}
	a.started = append(a.started, req)
	a.ctxs = append(a.ctxs, ctx)
	a.aborted = append(a.aborted, false)
	a.liveAtStart = append(a.liveAtStart, live)
	a.mu.Unlock()

	select {
	case <-ctx.Done():
		a.mu.Lock()
		a.aborted[idx] = true
		a.mu.Unlock()
		return nil, ctx.Err()
	case <-a.release:
	}
	if a.err != nil {
		return nil, a.err
	}
	res := &backend.AnalysisResult{Status: "success"}
	if a.status != "" {
		res.Status = a.status
		return res, nil
	}
	res.Result.Analysis = "analysis for " + req.Module
	return res, nil
}

func (a *blockingAnalyzer) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.started)
}

type sink struct {
	mu       sync.Mutex
	results  []string
	failures []error
	states   []State
}

func (s *sink) events() Events {
	return Events{
		OnResult: func(_ model.Module, _ model.Pin, analysis string) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.results = append(s.results, analysis)
		},
		OnError: func(_ model.Module, _ model.Pin, err error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.failures = append(s.failures, err)
		},
		OnState: func(st State) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.states = append(s.states, st)
		},
	}
}

func newController(a Analyzer, ev Events) (*Controller, *mapprovider.Recorder) {
	rec := mapprovider.NewRecorder()
	return New(mapprovider.NewLeaflet(rec, nil), a, nil, nil, ev, Options{}), rec
}

func TestDropPin_RequiresPinModule(t *testing.T) {
	c, _ := newController(newAnalyzer(), Events{})
	_, err := c.DropPin(context.Background(), 10, 10)
	assert.ErrorIs(t, err, ErrNoPinModule)

	require.NoError(t, c.SelectModule(context.Background(), model.ModuleComparison))
	_, err = c.DropPin(context.Background(), 10, 10)
	assert.ErrorIs(t, err, ErrNoPinModule)
	assert.Equal(t, StateModuleSelected, c.State())
}

func TestSelectModule_Unknown(t *testing.T) {
	c, _ := newController(newAnalyzer(), Events{})
	assert.ErrorIs(t, c.SelectModule(context.Background(), "weather"), ErrUnknownModule)
	assert.Equal(t, StateNoModule, c.State())
}

func TestDropPin_InvalidLocation(t *testing.T) {
	c, _ := newController(newAnalyzer(), Events{})
	require.NoError(t, c.SelectModule(context.Background(), model.ModuleTerrain))
	_, err := c.DropPin(context.Background(), 91, 0)
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestDropPin_CompletesAnalysis(t *testing.T) {
	a := newAnalyzer()
	s := &sink{}
	c, rec := newController(a, s.events())
	require.NoError(t, c.SelectModule(context.Background(), model.ModuleTerrain))

	p, err := c.DropPin(context.Background(), 47.6, -122.3)
	require.NoError(t, err)
	assert.True(t, p.Active)
	assert.Equal(t, 1, rec.Count("addMarker"))
	assert.Equal(t, StateAnalysisInFlight, c.State())

	close(a.release)
	c.Wait()

	assert.Equal(t, StateAnalysisComplete, c.State())
	assert.Equal(t, []string{"analysis for terrain"}, s.results)
	assert.Empty(t, s.failures)
	require.Len(t, a.started, 1)
	assert.Equal(t, 47.6, a.started[0].Latitude)
	assert.Equal(t, DefaultPrompts[model.ModuleTerrain], a.started[0].Prompt)
}

func TestDropPin_RepositionCancelsPrior(t *testing.T) {
	a := newAnalyzer()
	s := &sink{}
	c, rec := newController(a, s.events())
	require.NoError(t, c.SelectModule(context.Background(), model.ModuleMobility))

	_, err := c.DropPin(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return a.calls() == 1 }, time.Second, time.Millisecond)

	second, err := c.DropPin(context.Background(), 2, 2)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return a.calls() == 2 }, time.Second, time.Millisecond)

	a.mu.Lock()
	assert.Equal(t, 0, a.liveAtStart[1], "prior call must be cancelled before the next is issued")
	a.mu.Unlock()
	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.aborted[0]
	}, time.Second, time.Millisecond)

	close(a.release)
	c.Wait()

	assert.Equal(t, []string{"analysis for mobility"}, s.results)
	assert.Empty(t, s.failures)
	assert.Equal(t, 1, rec.Count("removeMarker"))
	assert.Equal(t, second.ID, c.Pin().ID)
	assert.Equal(t, StateAnalysisComplete, c.State())
}

func TestCancel_IsSilent(t *testing.T) {
	a := newAnalyzer()
	s := &sink{}
	c, _ := newController(a, s.events())
	require.NoError(t, c.SelectModule(context.Background(), model.ModuleDamage))
	_, err := c.DropPin(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return a.calls() == 1 }, time.Second, time.Millisecond)

	c.Cancel()
	c.Wait()

	assert.Equal(t, StateAnalysisCancelled, c.State())
	assert.Empty(t, s.failures)
	assert.Empty(t, s.results)
	assert.NotNil(t, c.Pin())
}

func TestFailure_SurfacesMessage(t *testing.T) {
	a := newAnalyzer()
	a.err = errors.New("backend: 500")
	close(a.release)
	s := &sink{}
	c, _ := newController(a, s.events())
	require.NoError(t, c.SelectModule(context.Background(), model.ModuleTerrain))

	_, err := c.DropPin(context.Background(), 1, 1)
	require.NoError(t, err)
	c.Wait()

	require.Len(t, s.failures, 1)
	assert.Contains(t, s.failures[0].Error(), "backend: 500")
	assert.Equal(t, StateAnalysisComplete, c.State())
}

func TestFailure_ErrorStatusInSuccessfulResponse(t *testing.T) {
	a := newAnalyzer()
	a.status = "error"
	close(a.release)
	s := &sink{}
	h := &memHistory{statuses: map[string]model.AnalysisStatus{}}
	c := New(mapprovider.NewLeaflet(mapprovider.NewRecorder(), nil), a, nil, h, s.events(), Options{})
	require.NoError(t, c.SelectModule(context.Background(), model.ModuleMobility))

	_, err := c.DropPin(context.Background(), 1, 1)
	require.NoError(t, err)
	c.Wait()

	assert.Empty(t, s.results)
	require.Len(t, s.failures, 1)
	assert.ErrorIs(t, s.failures[0], ErrAnalysisFailed)
	assert.Contains(t, s.failures[0].Error(), `"error"`)
	require.Len(t, h.statuses, 1)
	for _, st := range h.statuses {
		assert.Equal(t, model.AnalysisStatusFailed, st)
	}
}

func TestSelectModule_SameModuleKeepsRunningAnalysis(t *testing.T) {
	a := newAnalyzer()
	c, rec := newController(a, Events{})
	require.NoError(t, c.SelectModule(context.Background(), model.ModuleTerrain))
	_, err := c.DropPin(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return a.calls() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, StateAnalysisInFlight, c.State())

	require.NoError(t, c.SelectModule(context.Background(), model.ModuleTerrain))
	assert.Equal(t, StateAnalysisInFlight, c.State())
	assert.NotNil(t, c.Pin())
	assert.Zero(t, rec.Count("removeMarker"))

	close(a.release)
	c.Wait()
	a.mu.Lock()
	assert.False(t, a.aborted[0])
	a.mu.Unlock()
	assert.Equal(t, StateAnalysisComplete, c.State())
}

func TestClearPin(t *testing.T) {
	a := newAnalyzer()
	c, rec := newController(a, Events{})
	require.NoError(t, c.SelectModule(context.Background(), model.ModuleTerrain))
	_, err := c.DropPin(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return a.calls() == 1 }, time.Second, time.Millisecond)

	c.ClearPin(context.Background())
	c.Wait()

	assert.Nil(t, c.Pin())
	assert.Equal(t, StateModuleSelected, c.State())
	assert.Equal(t, 1, rec.Count("removeMarker"))
	a.mu.Lock()
	assert.True(t, a.aborted[0])
	a.mu.Unlock()
}

func TestSelectModule_SwitchClearsPin(t *testing.T) {
	a := newAnalyzer()
	c, _ := newController(a, Events{})
	require.NoError(t, c.SelectModule(context.Background(), model.ModuleTerrain))
	_, err := c.DropPin(context.Background(), 1, 1)
	require.NoError(t, err)

	require.NoError(t, c.SelectModule(context.Background(), model.ModuleComparison))
	c.Wait()
	assert.Nil(t, c.Pin())
	assert.Equal(t, model.ModuleComparison, c.Module())
}

type fakeShooter struct{ err error }

func (f fakeShooter) CaptureDataURL(context.Context) (string, error) {
	return "data:image/png;base64,AAAA", f.err
}

type memHistory struct {
	mu       sync.Mutex
	statuses map[string]model.AnalysisStatus
}

func (h *memHistory) BeginAnalysis(_ context.Context, rec model.AnalysisRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses[rec.ID] = rec.Status
	return nil
}

func (h *memHistory) FinishAnalysis(_ context.Context, id string, status model.AnalysisStatus, _, _ string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses[id] = status
	return nil
}

func TestDropPin_ScreenshotAndHistory(t *testing.T) {
	a := newAnalyzer()
	close(a.release)
	h := &memHistory{statuses: map[string]model.AnalysisStatus{}}
	rec := mapprovider.NewRecorder()
	c := New(mapprovider.NewLeaflet(rec, nil), a, fakeShooter{}, h, Events{}, Options{
		SessionID: "s1",
		Context:   func() string { return "showing sentinel-2-l2a" },
	})
	require.NoError(t, c.SelectModule(context.Background(), model.ModuleTerrain))
	_, err := c.DropPin(context.Background(), 1, 1)
	require.NoError(t, err)
	c.Wait()

	require.Len(t, a.started, 1)
	assert.Equal(t, "data:image/png;base64,AAAA", a.started[0].Screenshot)
	assert.Equal(t, "showing sentinel-2-l2a", a.started[0].Context)
	require.Len(t, h.statuses, 1)
	for _, st := range h.statuses {
		assert.Equal(t, model.AnalysisStatusComplete, st)
	}
}

func TestDropPin_ScreenshotFailureNotFatal(t *testing.T) {
	a := newAnalyzer()
	close(a.release)
	c := New(mapprovider.NewLeaflet(mapprovider.NewRecorder(), nil), a, fakeShooter{err: errors.New("empty")}, nil, Events{}, Options{})
	require.NoError(t, c.SelectModule(context.Background(), model.ModuleTerrain))
	_, err := c.DropPin(context.Background(), 1, 1)
	require.NoError(t, err)
	c.Wait()
	assert.Equal(t, StateAnalysisComplete, c.State())
}
