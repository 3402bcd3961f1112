// Package catalog defines which regions are measured and how each region's
// voxels are selected.
//
// A Catalog is plain configuration data: it is built by one of the preset
// constructors or loaded from a YAML/TOML file, validated once, and passed by
// value to the extractor. Nothing in this package holds mutable global state.
package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/astewartau/ukb-qsmxt/pkg/regionstat"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid catalog")

// Input volume names referenced by the presets
const (
	InputQSMNative   = "qsm_native"
	InputLabels      = "labels"
	InputQSMTemplate = "qsm_template"
	InputSNLeft      = "sn_left"
	InputSNRight     = "sn_right"
	InputLesions     = "lesions"
)

// SelectorKind is the rule used to turn an input volume into a mask
type SelectorKind string

const (
	// SelectEquals selects voxels equal to Value
	SelectEquals SelectorKind = "equals"
	// SelectAnyOf selects voxels equal to any of Values
	SelectAnyOf SelectorKind = "any-of"
	// SelectAbove selects voxels strictly greater than Value
	SelectAbove SelectorKind = "above"
)

// RefinementKind is a mask transform applied after selection
type RefinementKind string

const (
	RefineErode        RefinementKind = "erode"
	RefinePositiveOnly RefinementKind = "positive-only"
	RefineExclude      RefinementKind = "exclude"
)

// Selector picks voxels out of one named input volume
type Selector struct {
	Kind   SelectorKind `yaml:"kind" toml:"kind"`
	Volume string       `yaml:"volume" toml:"volume"`
	Value  float64      `yaml:"value,omitempty" toml:"value,omitempty"`
	Values []float64    `yaml:"values,omitempty" toml:"values,omitempty"`
}

// Refinement is one step of the ordered transform list of a region.
// Exclude is only used by RefineExclude.
type Refinement struct {
	Kind    RefinementKind `yaml:"kind" toml:"kind"`
	Exclude *Selector      `yaml:"exclude,omitempty" toml:"exclude,omitempty"`
}

// Region describes how one output column is computed from voxels
type Region struct {
	Name      string          `yaml:"name" toml:"name"`
	Select    Selector        `yaml:"select" toml:"select"`
	Refine    []Refinement    `yaml:"refine,omitempty" toml:"refine,omitempty"`
	Statistic regionstat.Kind `yaml:"statistic" toml:"statistic"`
	Source    string          `yaml:"source" toml:"source"`

	// Requires lists extra inputs that must be present for the region to be
	// computed even though its rule does not read them.
	Requires []string `yaml:"requires,omitempty" toml:"requires,omitempty"`

	// OmitIfEmpty drops the column, instead of reporting NaN, when the final
	// mask selects no voxel. A non-empty mask over NaN source values still
	// reports NaN.
	OmitIfEmpty bool `yaml:"omitIfEmpty,omitempty" toml:"omitIfEmpty,omitempty"`
}

// Volumes lists the input volumes the region reads
func (r Region) Volumes() []string {
	names := []string{r.Select.Volume, r.Source}
	for _, ref := range r.Refine {
		if ref.Kind == RefineExclude && ref.Exclude != nil {
			names = append(names, ref.Exclude.Volume)
		}
	}
	return append(names, r.Requires...)
}

// Derived is a metric computed from two already computed regions
type Derived struct {
	Name       string `yaml:"name" toml:"name"`
	Minuend    string `yaml:"minuend" toml:"minuend"`
	Subtrahend string `yaml:"subtrahend" toml:"subtrahend"`
}

// Catalog is the ordered set of regions and derived metrics of one run.
// Optional names the inputs that may be absent; regions reading them are
// then left out of the result instead of failing the run.
type Catalog struct {
	Name     string    `yaml:"name" toml:"name"`
	Regions  []Region  `yaml:"regions" toml:"regions"`
	Derived  []Derived `yaml:"derived,omitempty" toml:"derived,omitempty"`
	Optional []string  `yaml:"optional,omitempty" toml:"optional,omitempty"`
}

// IsOptional reports whether the named input may be missing
func (c Catalog) IsOptional(input string) bool {
	for _, o := range c.Optional {
		if o == input {
			return true
		}
	}
	return false
}

// Inputs returns the sorted set of input volume names the catalog reads
func (c Catalog) Inputs() []string {
	seen := make(map[string]struct{})
	for _, r := range c.Regions {
		for _, name := range r.Volumes() {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Columns returns the output column names in result order, assuming every
// region and derived metric is computed
func (c Catalog) Columns() []string {
	cols := make([]string, 0, len(c.Regions)+len(c.Derived))
	for _, r := range c.Regions {
		cols = append(cols, r.Name)
	}
	for _, d := range c.Derived {
		cols = append(cols, d.Name)
	}
	return cols
}

// Validate checks names, kinds and derived operand references
func (c Catalog) Validate() error {
	if len(c.Regions) == 0 {
		return fmt.Errorf("%w: no regions", ErrInvalid)
	}

	seen := make(map[string]bool)
	for i, r := range c.Regions {
		if r.Name == "" {
			return fmt.Errorf("%w: region %d has no name", ErrInvalid, i)
		}
		if seen[r.Name] {
			return fmt.Errorf("%w: duplicate name %q", ErrInvalid, r.Name)
		}
		seen[r.Name] = true

		if _, err := regionstat.ParseKind(string(r.Statistic)); err != nil {
			return fmt.Errorf("%w: region %q: %v", ErrInvalid, r.Name, err)
		}
		if r.Source == "" {
			return fmt.Errorf("%w: region %q has no source volume", ErrInvalid, r.Name)
		}
		if err := r.Select.validate(); err != nil {
			return fmt.Errorf("%w: region %q: %v", ErrInvalid, r.Name, err)
		}
		for _, ref := range r.Refine {
			switch ref.Kind {
			case RefineErode, RefinePositiveOnly:
			case RefineExclude:
				if ref.Exclude == nil {
					return fmt.Errorf("%w: region %q: exclude without selector", ErrInvalid, r.Name)
				}
				if err := ref.Exclude.validate(); err != nil {
					return fmt.Errorf("%w: region %q: exclude: %v", ErrInvalid, r.Name, err)
				}
			default:
				return fmt.Errorf("%w: region %q: unknown refinement %q", ErrInvalid, r.Name, ref.Kind)
			}
		}
	}

	for _, d := range c.Derived {
		if d.Name == "" {
			return fmt.Errorf("%w: derived metric without name", ErrInvalid)
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: duplicate name %q", ErrInvalid, d.Name)
		}
		for _, operand := range []string{d.Minuend, d.Subtrahend} {
			if !seen[operand] {
				return fmt.Errorf("%w: derived %q refers to unknown or later column %q", ErrInvalid, d.Name, operand)
			}
		}
		seen[d.Name] = true
	}
	return nil
}

func (s Selector) validate() error {
	if s.Volume == "" {
		return errors.New("selector has no volume")
	}
	switch s.Kind {
	case SelectEquals, SelectAbove:
	case SelectAnyOf:
		if len(s.Values) == 0 {
			return errors.New("any-of selector has no values")
		}
	default:
		return fmt.Errorf("unknown selector %q", s.Kind)
	}
	return nil
}
