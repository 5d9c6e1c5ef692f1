// Package reconcile applies normalized imagery to a map provider. Every
// Apply gets a generation number; only the latest generation may touch the
// map, so a slow batch that was superseded is dropped on arrival.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/earthcopilot/mapview/internal/geo"
	"github.com/earthcopilot/mapview/internal/interpret"
	"github.com/earthcopilot/mapview/internal/mapprovider"
	"github.com/earthcopilot/mapview/internal/model"
)

// Errors reported by Apply. None of them leave the map in a partial state.
var (
	ErrInvalidBounds = eris.New("reconcile: invalid imagery bounds")
	ErrNoTilesPlaced = eris.New("reconcile: no tiles placed")
	ErrSuperseded    = eris.New("reconcile: superseded by newer imagery")
)

// Options tunes a Reconciler.
type Options struct {
	// Concurrency bounds descriptor fetches per batch.
	Concurrency int
	Padding     int
	Framer      geo.Framer
	Classifier  geo.Classifier
	Profiles    Profiles
}

// DefaultOptions returns the standard framing and profile tables.
func DefaultOptions() Options {
	return Options{
		Concurrency: 8,
		Padding:     40,
		Framer:      geo.DefaultFramer(),
		Classifier:  geo.DefaultClassifier(),
		Profiles:    DefaultProfiles(),
	}
}

// TileFailure records a tile excluded from a batch.
type TileFailure struct {
	ItemID string `json:"item_id"`
	URL    string `json:"url"`
	Error  string `json:"error"`
}

// Report describes the outcome of one Apply.
type Report struct {
	Generation uint64            `json:"generation"`
	Variant    model.Variant     `json:"variant"`
	Skipped    bool              `json:"skipped,omitempty"`
	Requested  int               `json:"requested"`
	Placed     []string          `json:"placed,omitempty"`
	Failed     []TileFailure     `json:"failed,omitempty"`
	Removed    int               `json:"removed"`
	View       *mapprovider.View `json:"view,omitempty"`
}

// Reconciler keeps the map showing exactly the latest imagery.
type Reconciler struct {
	fetcher interpret.DescriptorFetcher
	opts    Options

	mu       sync.Mutex
	adapter  mapprovider.Adapter
	gen      uint64
	applied  *model.SatelliteData
	inflight *model.SatelliteData
	layers   []string
}

// New creates a Reconciler drawing on adapter and loading TileJSON
// descriptors through fetcher.
func New(adapter mapprovider.Adapter, fetcher interpret.DescriptorFetcher, opts Options) *Reconciler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Profiles.Classes == nil {
		opts.Profiles = DefaultProfiles()
	}
	return &Reconciler{adapter: adapter, fetcher: fetcher, opts: opts}
}

// SetAdapter switches to a new provider. The new map starts empty, so the
// applied state is forgotten.
func (r *Reconciler) SetAdapter(a mapprovider.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapter = a
	r.applied = nil
	r.layers = nil
	r.gen++
}

// Applied returns the imagery currently on the map.
func (r *Reconciler) Applied() *model.SatelliteData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applied
}

// Layers returns the ids of the imagery layers on the map.
func (r *Reconciler) Layers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.layers...)
}

// Busy reports whether a batch is being reconciled.
func (r *Reconciler) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight != nil
}

// Apply reconciles the map to data. Re-applying the current or in-flight
// record is a no-op.
func (r *Reconciler) Apply(ctx context.Context, data *model.SatelliteData) (Report, error) {
	if data == nil || data.Variant == model.VariantNone {
		return Report{Skipped: true, Variant: model.VariantNone}, nil
	}

	r.mu.Lock()
	if data == r.applied || data == r.inflight {
		r.mu.Unlock()
		return Report{Skipped: true, Variant: data.Variant}, nil
	}
	r.gen++
	gen := r.gen
	r.inflight = data
	r.mu.Unlock()

	rep := Report{Generation: gen, Variant: data.Variant}
	log := zap.L().With(zap.Uint64("generation", gen), zap.String("variant", string(data.Variant)))

	if err := checkBounds(data.BBox); err != nil {
		log.Warn("reconcile: rejecting imagery, keeping current view", zap.Error(err))
		r.finish(gen)
		return rep, ErrInvalidBounds
	}

	if data.Variant == model.VariantBoundsOnly || !data.HasTiles() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.gen != gen {
			return rep, ErrSuperseded
		}
		rep.View = r.frame(ctx, r.adapter, data)
		r.applied = data
		r.inflight = nil
		return rep, nil
	}

	refs := data.TileRefs()
	rep.Requested = len(refs)
	templates, failures := r.resolveAll(ctx, refs)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		log.Debug("reconcile: dropping stale batch")
		return rep, ErrSuperseded
	}
	if err := ctx.Err(); err != nil {
		r.inflight = nil
		return rep, err
	}
	rep.Failed = failures

	adapter := r.adapter
	layers := r.buildLayers(gen, data, refs, templates, adapter.ReplacesLayers())
	if len(layers) == 0 {
		log.Warn("reconcile: no tiles could be resolved, keeping current imagery",
			zap.Int("requested", rep.Requested))
		r.inflight = nil
		return rep, ErrNoTilesPlaced
	}

	for _, l := range layers {
		id, err := adapter.AddTileLayer(ctx, l)
		if err != nil {
			rep.Failed = append(rep.Failed, TileFailure{ItemID: l.ID, URL: l.Template, Error: err.Error()})
			continue
		}
		rep.Placed = append(rep.Placed, id)
	}
	r.inflight = nil

	if len(rep.Placed) == 0 {
		log.Warn("reconcile: provider rejected every layer, keeping current imagery")
		return rep, ErrNoTilesPlaced
	}
	rep.Removed = r.removeStale(ctx, adapter, rep.Placed)
	r.layers = rep.Placed
	r.applied = data
	rep.View = r.frame(ctx, adapter, data)
	if err := adapter.RequestRender(ctx); err != nil {
		log.Debug("reconcile: render request failed", zap.Error(err))
	}
	log.Info("reconcile: imagery applied",
		zap.Int("requested", rep.Requested),
		zap.Int("placed", len(rep.Placed)),
		zap.Int("failed", len(rep.Failed)),
	)
	return rep, nil
}

// Clear removes every imagery layer and forgets the applied record.
func (r *Reconciler) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	var errs []error
	for _, id := range r.layers {
		if err := r.adapter.RemoveLayer(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	r.layers = nil
	r.applied = nil
	r.inflight = nil
	if len(errs) > 0 {
		return eris.Wrapf(errs[0], "reconcile: clear (%d failures)", len(errs))
	}
	return nil
}

func (r *Reconciler) finish(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen == gen {
		r.inflight = nil
	}
}

func checkBounds(b *model.BBox) error {
	if b == nil {
		return eris.New("reconcile: imagery has no bounds")
	}
	return geo.Validate(*b)
}

// resolveAll fetches every descriptor before any layer is built.
func (r *Reconciler) resolveAll(ctx context.Context, refs []model.TileDescriptor) ([]string, []TileFailure) {
	templates := make([]string, len(refs))
	errs := make([]error, len(refs))

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			templates[i], errs[i] = r.resolve(ctx, ref.URL)
			return nil
		})
	}
	_ = g.Wait()

	var failures []TileFailure
	for i, err := range errs {
		if err != nil {
			failures = append(failures, TileFailure{ItemID: refs[i].ItemID, URL: refs[i].URL, Error: err.Error()})
			zap.L().Debug("reconcile: tile excluded", zap.String("item", refs[i].ItemID), zap.Error(err))
		}
	}
	return templates, failures
}

func (r *Reconciler) resolve(ctx context.Context, url string) (string, error) {
	if isTemplate(url) {
		return url, nil
	}
	if r.fetcher == nil {
		return "", eris.Errorf("reconcile: no descriptor fetcher for %s", url)
	}
	doc, err := r.fetcher.FetchTileJSON(ctx, url)
	if err != nil {
		return "", err
	}
	if doc.Template() == "" {
		return "", eris.Errorf("reconcile: descriptor %s has no tiles", url)
	}
	return doc.Template(), nil
}

func isTemplate(url string) bool {
	return strings.Contains(url, "{z}") && strings.Contains(url, "{x}") && strings.Contains(url, "{y}")
}

func (r *Reconciler) buildLayers(gen uint64, data *model.SatelliteData, refs []model.TileDescriptor, templates []string, stableIDs bool) []mapprovider.TileLayer {
	var layers []mapprovider.TileLayer
	for i, ref := range refs {
		if templates[i] == "" {
			continue
		}
		collection := ref.Collection
		if collection == "" {
			collection = data.Collection
		}
		class := r.opts.Classifier.Classify(collection, data.Thermal)
		p := r.opts.Profiles.Lookup(collection, class)

		bounds := ref.BBox
		if bounds == nil || geo.Validate(*bounds) != nil {
			bounds = data.BBox
		}
		id := fmt.Sprintf("imagery-%d-%d", gen, len(layers))
		if stableIDs {
			id = fmt.Sprintf("imagery-%d", len(layers))
		}
		layers = append(layers, mapprovider.TileLayer{
			ID:         id,
			Template:   templates[i],
			Bounds:     bounds,
			Opacity:    p.Opacity,
			MinZoom:    p.MinZoom,
			MaxZoom:    p.MaxZoom,
			TileBuffer: p.TileBuffer,
		})
	}
	return layers
}

// removeStale removes the previous batch once the new one is on the map.
// Ids in placed were overwritten in place by a replacing provider.
func (r *Reconciler) removeStale(ctx context.Context, adapter mapprovider.Adapter, placed []string) int {
	keep := make(map[string]bool, len(placed))
	for _, id := range placed {
		keep[id] = true
	}
	removed := 0
	for _, id := range r.layers {
		if keep[id] {
			continue
		}
		if err := adapter.RemoveLayer(ctx, id); err != nil {
			zap.L().Debug("reconcile: remove layer failed", zap.String("id", id), zap.Error(err))
			continue
		}
		removed++
	}
	return removed
}

func (r *Reconciler) frame(ctx context.Context, adapter mapprovider.Adapter, data *model.SatelliteData) *mapprovider.View {
	lat, lng := data.BBox.Center()
	v := mapprovider.View{Lat: lat, Lng: lng, Zoom: r.opts.Framer.Zoom(*data.BBox, data.Collection)}
	if err := adapter.SetView(ctx, v); err != nil {
		zap.L().Warn("reconcile: camera update failed", zap.Error(err))
	}
	return &v
}
