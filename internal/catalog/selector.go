// Package catalog presents the imagery collections a user can pick from.
package catalog

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/samber/lo"

	"github.com/earthcopilot/mapview/internal/model"
)

// ErrUnknownDataset is returned when selecting an id not in the catalog.
var ErrUnknownDataset = eris.New("catalog: unknown dataset")

// Option is one rendered choice.
type Option struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Tooltip string `json:"tooltip,omitempty"`
}

// Source lists datasets. backend.Client satisfies it.
type Source interface {
	Datasets(ctx context.Context) ([]model.Dataset, error)
}

// Selector offers a fixed set of datasets. It keeps no selection of its
// own; choices are reported through the OnSelect callback.
type Selector struct {
	datasets []model.Dataset
	byID     map[string]model.Dataset
	onSelect func(model.Dataset)
}

// NewSelector copies datasets so later changes by the caller are not seen.
func NewSelector(datasets []model.Dataset, onSelect func(model.Dataset)) *Selector {
	own := append([]model.Dataset(nil), datasets...)
	return &Selector{
		datasets: own,
		byID:     lo.KeyBy(own, func(d model.Dataset) string { return d.ID }),
		onSelect: onSelect,
	}
}

// LoadDatasets builds a Selector from the backend catalog.
func LoadDatasets(ctx context.Context, src Source, onSelect func(model.Dataset)) (*Selector, error) {
	ds, err := src.Datasets(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: load datasets")
	}
	return NewSelector(ds, onSelect), nil
}

// Len returns the number of datasets.
func (s *Selector) Len() int { return len(s.datasets) }

// Options renders the choices in the order supplied.
func (s *Selector) Options() []Option {
	return lo.Map(s.datasets, func(d model.Dataset, _ int) Option {
		label := d.Title
		if label == "" {
			label = d.ID
		}
		return Option{ID: d.ID, Label: label, Tooltip: d.Description}
	})
}

// Select reports the dataset with the given id.
func (s *Selector) Select(id string) (model.Dataset, error) {
	d, ok := s.byID[id]
	if !ok {
		return model.Dataset{}, eris.Wrapf(ErrUnknownDataset, "catalog: select %q", id)
	}
	if s.onSelect != nil {
		s.onSelect(d)
	}
	return d, nil
}
