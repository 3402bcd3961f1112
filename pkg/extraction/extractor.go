// Package extraction computes per-region QSM statistics.
//
// An Extractor walks a catalog.Catalog in order. For every region it builds
// the selector mask, applies the region's refinements in order, gathers the
// finite source values under the final mask and reduces them. Derived
// metrics are computed last from the values already in the result.
package extraction

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/astewartau/ukb-qsmxt/internal/models"
	"github.com/astewartau/ukb-qsmxt/pkg/catalog"
	"github.com/astewartau/ukb-qsmxt/pkg/mask"
)

// ErrMissingInput is returned when a required input volume was not supplied
var ErrMissingInput = errors.New("missing required input")

// Inputs maps catalog input names to loaded volumes
type Inputs map[string]*models.Volume

// MaskSink receives the final mask of every region written to the result,
// together with the volume it was sampled from. Omitted regions are not sent.
type MaskSink func(region string, m *models.Mask, source *models.Volume) error

// Extractor computes a Result from a fixed catalog
type Extractor struct {
	catalog catalog.Catalog
	log     zerolog.Logger
	sink    MaskSink
}

// Option configures an Extractor
type Option func(*Extractor)

// WithLogger sets the logger used for per-region progress
func WithLogger(log zerolog.Logger) Option {
	return func(e *Extractor) {
		e.log = log
	}
}

// WithMaskSink registers a callback receiving every final region mask
func WithMaskSink(sink MaskSink) Option {
	return func(e *Extractor) {
		e.sink = sink
	}
}

// NewExtractor creates an extractor for the given catalog
func NewExtractor(c catalog.Catalog, opts ...Option) *Extractor {
	e := &Extractor{
		catalog: c,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog returns the catalog the extractor was built with
func (e *Extractor) Catalog() catalog.Catalog {
	return e.catalog
}

// Extract computes every region whose inputs are available, then the
// derived metrics. Regions reading an absent optional input are left out;
// an absent required input, a shape mismatch or a cancelled context abort
// the whole extraction and no partial result is returned.
func (e *Extractor) Extract(ctx context.Context, in Inputs) (*Result, error) {
	if err := e.catalog.Validate(); err != nil {
		return nil, err
	}

	result := NewResult()
	for _, region := range e.catalog.Regions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ok, err := e.available(region, in)
		if err != nil {
			return nil, err
		}
		if !ok {
			e.log.Debug().Str("region", region.Name).Msg("skipping region, optional input absent")
			continue
		}

		out, err := e.computeRegion(region, in)
		if err != nil {
			return nil, fmt.Errorf("region %s: %w", region.Name, err)
		}
		// An empty selection, not NaN-only source values, omits the column.
		if out.selected == 0 && region.OmitIfEmpty {
			e.log.Debug().Str("region", region.Name).Msg("omitting empty region")
			continue
		}
		if e.sink != nil {
			if err := e.sink(region.Name, out.mask, in[region.Source]); err != nil {
				return nil, fmt.Errorf("region %s: saving mask: %w", region.Name, err)
			}
		}
		result.Set(region.Name, out.value)

		e.log.Debug().
			Str("region", region.Name).
			Int("selected", out.selected).
			Int("finite", out.finite).
			Float64("value", out.value).
			Msg("computed region")
	}

	for _, d := range e.catalog.Derived {
		a, okA := result.Get(d.Minuend)
		b, okB := result.Get(d.Subtrahend)
		if !okA || !okB {
			e.log.Debug().Str("metric", d.Name).Msg("skipping derived metric, operand absent")
			continue
		}
		// NaN in either operand propagates through the subtraction.
		result.Set(d.Name, a-b)
	}

	return result, nil
}

// available reports whether every input of the region is present. A missing
// optional input makes the region unavailable, a missing required input is
// an error.
func (e *Extractor) available(region catalog.Region, in Inputs) (bool, error) {
	ok := true
	for _, name := range region.Volumes() {
		if in[name] != nil {
			continue
		}
		if !e.catalog.IsOptional(name) {
			return false, fmt.Errorf("%w %q for region %s", ErrMissingInput, name, region.Name)
		}
		ok = false
	}
	return ok, nil
}

// regionOutcome is the statistic of one region together with its final
// mask, the number of voxels selected and how many of them were finite
type regionOutcome struct {
	value    float64
	mask     *models.Mask
	selected int
	finite   int
}

func (e *Extractor) computeRegion(region catalog.Region, in Inputs) (regionOutcome, error) {
	source := in[region.Source]

	m, err := selectVoxels(region.Select, in, source.Shape)
	if err != nil {
		return regionOutcome{}, err
	}

	for _, ref := range region.Refine {
		switch ref.Kind {
		case catalog.RefineErode:
			m = mask.Erode2D(m)
		case catalog.RefinePositiveOnly:
			m, err = mask.PositiveOnly(m, source)
		case catalog.RefineExclude:
			var other *models.Mask
			other, err = selectVoxels(*ref.Exclude, in, source.Shape)
			if err == nil {
				m, err = mask.ExcludeWhere(m, other)
			}
		}
		if err != nil {
			return regionOutcome{}, fmt.Errorf("%s: %w", ref.Kind, err)
		}
	}

	values, err := mask.FiniteValues(source, m)
	if err != nil {
		return regionOutcome{}, err
	}

	value, err := region.Statistic.Reduce(values)
	if err != nil {
		return regionOutcome{}, err
	}

	return regionOutcome{
		value:    value,
		mask:     m,
		selected: mask.Count(m),
		finite:   len(values),
	}, nil
}

// selectVoxels builds the selector mask after checking that the selector
// volume lies on the same grid as the volume it will be sampled against
func selectVoxels(sel catalog.Selector, in Inputs, grid models.Shape) (*models.Mask, error) {
	v := in[sel.Volume]
	if err := models.CheckShapes(v.Shape, grid); err != nil {
		return nil, fmt.Errorf("input %q: %w", sel.Volume, err)
	}

	switch sel.Kind {
	case catalog.SelectEquals:
		return mask.Equals(v, sel.Value), nil
	case catalog.SelectAnyOf:
		return mask.IsAnyOf(v, sel.Values), nil
	case catalog.SelectAbove:
		return mask.Above(v, sel.Value), nil
	}
	return nil, fmt.Errorf("unknown selector %q", sel.Kind)
}
