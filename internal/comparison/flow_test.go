package comparison

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earthcopilot/mapview/internal/model"
	"github.com/earthcopilot/mapview/internal/reconcile"
	"github.com/earthcopilot/mapview/pkg/backend"
)

type fakeBackend struct {
	planErr error
	stacErr error
	// bothStarted is closed once before and after searches are running.
	bothStarted chan struct{}
	analysis    chan struct{}

	mu       sync.Mutex
	started  int
	dates    []string
	analyzed backend.ComparisonAnalysisRequest
}

func newBackend() *fakeBackend {
	return &fakeBackend{bothStarted: make(chan struct{}), analysis: make(chan struct{})}
}

func (b *fakeBackend) ProcessComparisonQuery(_ context.Context, _ string) (*backend.ComparisonPlan, error) {
	if b.planErr != nil {
		return nil, b.planErr
	}
	return &backend.ComparisonPlan{
		Location: "Paradise, CA", Aspect: "burn scar",
		BeforeDate: "2018-10-01", AfterDate: "2018-12-01",
		Collections: []string{"sentinel-2-l2a"},
	}, nil
}

func (b *fakeBackend) STACQuery(ctx context.Context, req backend.STACQueryRequest) ([]byte, error) {
	b.mu.Lock()
	b.started++
	b.dates = append(b.dates, req.Datetime)
	if b.started == 2 {
		close(b.bothStarted)
	}
	b.mu.Unlock()

	select {
	case <-b.bothStarted:
	case <-time.After(time.Second):
		return nil, errors.New("searches did not run in parallel")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if b.stacErr != nil && req.Datetime == "2018-12-01" {
		return nil, b.stacErr
	}
	return []byte(`{"data":{"stac_results":{"features":[{"id":"` + req.Datetime + `"}]}}}`), nil
}

func (b *fakeBackend) ComparisonAnalysis(_ context.Context, req backend.ComparisonAnalysisRequest) (*backend.ComparisonAnalysisResult, error) {
	b.mu.Lock()
	b.analyzed = req
	b.mu.Unlock()
	return &backend.ComparisonAnalysisResult{Status: "success", Analysis: "vegetation loss"}, nil
}

type fakeInterp struct{}

func (fakeInterp) Interpret(_ context.Context, raw []byte) *model.SatelliteData {
	return &model.SatelliteData{Variant: model.VariantLegacy, Query: string(raw), TileURL: "https://t/{z}/{x}/{y}"}
}

// emptyBeforeInterp finds nothing to render for the before date.
type emptyBeforeInterp struct{}

func (emptyBeforeInterp) Interpret(ctx context.Context, raw []byte) *model.SatelliteData {
	if strings.Contains(string(raw), "2018-10-01") {
		return &model.SatelliteData{Variant: model.VariantNone}
	}
	return fakeInterp{}.Interpret(ctx, raw)
}

type fakeApplier struct {
	mu      sync.Mutex
	applied []*model.SatelliteData
	err     error
}

func (a *fakeApplier) Apply(_ context.Context, d *model.SatelliteData) (reconcile.Report, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return reconcile.Report{}, a.err
	}
	a.applied = append(a.applied, d)
	return reconcile.Report{}, nil
}

func (a *fakeApplier) last() *model.SatelliteData {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.applied[len(a.applied)-1]
}

// waitingCapturer blocks until the analysis has been delivered, so a flow
// that made analysis wait on screenshots would stall.
type waitingCapturer struct {
	analysis <-chan struct{}
}

func (c waitingCapturer) Capture(context.Context) ([]byte, error) {
	select {
	case <-c.analysis:
		return []byte("png"), nil
	case <-time.After(2 * time.Second):
		return nil, errors.New("analysis never arrived")
	}
}

func TestSubmit_RequiresBegin(t *testing.T) {
	f := New(newBackend(), fakeInterp{}, &fakeApplier{}, nil, Events{})
	assert.ErrorIs(t, f.Submit(context.Background(), "compare"), ErrNotAwaiting)
	f.Begin()
	assert.ErrorIs(t, f.Submit(context.Background(), ""), ErrEmptyQuery)
}

func TestSubmit_ParallelSearchesAndDecoupledAnalysis(t *testing.T) {
	b := newBackend()
	analysisDone := make(chan struct{})
	var got string
	f := New(b, fakeInterp{}, &fakeApplier{}, waitingCapturer{analysis: analysisDone}, Events{
		OnAnalysis: func(_ backend.ComparisonPlan, a string) {
			got = a
			close(analysisDone)
		},
	})

	f.Begin()
	require.NoError(t, f.Submit(context.Background(), "compare Paradise before and after the Camp Fire"))
	f.Wait()

	assert.Equal(t, "vegetation loss", got)
	st := f.State()
	assert.False(t, st.AwaitingQuery)
	require.True(t, st.Ready())
	assert.Equal(t, []byte("png"), st.BeforeShot)
	assert.Equal(t, []byte("png"), st.AfterShot)
	assert.False(t, st.ShowingBefore)
	assert.Equal(t, "vegetation loss", st.Analysis)
	assert.ElementsMatch(t, []string{"2018-10-01", "2018-12-01"}, b.dates)

	var feats []map[string]string
	require.NoError(t, json.Unmarshal(b.analyzed.BeforeMetadata, &feats))
	assert.Equal(t, "2018-10-01", feats[0]["id"])
	assert.Equal(t, "burn scar", b.analyzed.Aspect)
}

func TestSubmit_SearchFailure(t *testing.T) {
	b := newBackend()
	b.stacErr = errors.New("stac 500")
	var reported error
	f := New(b, fakeInterp{}, &fakeApplier{}, nil, Events{OnError: func(err error) { reported = err }})

	f.Begin()
	err := f.Submit(context.Background(), "compare")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after search")
	assert.Equal(t, err, reported)
	assert.True(t, f.State().AwaitingQuery)
	assert.False(t, f.State().Ready())
}

func TestSubmit_PlanFailure(t *testing.T) {
	b := newBackend()
	b.planErr = errors.New("bad query")
	f := New(b, fakeInterp{}, &fakeApplier{}, nil, Events{})
	f.Begin()
	assert.Error(t, f.Submit(context.Background(), "compare"))
	assert.Zero(t, b.started)
}

func TestToggle_NoopUntilReady(t *testing.T) {
	a := &fakeApplier{}
	f := New(newBackend(), fakeInterp{}, a, nil, Events{})

	changed, err := f.Toggle(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, f.State().ShowingBefore)
	assert.Empty(t, a.applied)

	f.Begin()
	changed, err = f.Toggle(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestToggle_FlipsImageryAndFlag(t *testing.T) {
	a := &fakeApplier{}
	f := New(newBackend(), fakeInterp{}, a, nil, Events{})
	f.Begin()
	require.NoError(t, f.Submit(context.Background(), "compare"))
	f.Wait()
	st := f.State()
	assert.Same(t, st.After, a.last())

	for i := 0; i < 4; i++ {
		changed, err := f.Toggle(context.Background())
		require.NoError(t, err)
		assert.True(t, changed)
		st = f.State()
		if st.ShowingBefore {
			assert.Same(t, st.Before, a.last())
		} else {
			assert.Same(t, st.After, a.last())
		}
		assert.Equal(t, i%2 == 0, st.ShowingBefore)
	}
}

func TestToggle_NoopWhenOneSideHasNothingToShow(t *testing.T) {
	a := &fakeApplier{}
	f := New(newBackend(), emptyBeforeInterp{}, a, nil, Events{})
	f.Begin()
	require.NoError(t, f.Submit(context.Background(), "compare"))
	f.Wait()

	st := f.State()
	require.NotNil(t, st.Before)
	require.NotNil(t, st.After)
	assert.False(t, st.Ready())
	applied := len(a.applied)

	changed, err := f.Toggle(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, f.State().ShowingBefore)
	assert.Len(t, a.applied, applied)
}

func TestToggle_ApplyFailureKeepsFlag(t *testing.T) {
	a := &fakeApplier{}
	f := New(newBackend(), fakeInterp{}, a, nil, Events{})
	f.Begin()
	require.NoError(t, f.Submit(context.Background(), "compare"))
	f.Wait()

	a.err = errors.New("invalid bounds")
	changed, err := f.Toggle(context.Background())
	assert.Error(t, err)
	assert.False(t, changed)
	assert.False(t, f.State().ShowingBefore)
}

func TestReset(t *testing.T) {
	f := New(newBackend(), fakeInterp{}, &fakeApplier{}, nil, Events{})
	f.Begin()
	require.NoError(t, f.Submit(context.Background(), "compare"))
	f.Reset()
	f.Wait()
	assert.Equal(t, model.ComparisonState{}, f.State())
}
