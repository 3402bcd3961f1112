package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/astewartau/ukb-qsmxt/pkg/regionstat"
)

// Label maps a segmentation code to a region name
type Label struct {
	Code float64
	Name string
}

// FreeSurferSubcortical returns the aseg subcortical labels in output order
func FreeSurferSubcortical() []Label {
	return []Label{
		{10, "Left-Thalamus-Proper"},
		{11, "Left-Caudate"},
		{12, "Left-Putamen"},
		{13, "Left-Pallidum"},
		{17, "Left-Hippocampus"},
		{18, "Left-Amygdala"},
		{26, "Left-Accumbens-area"},
		{49, "Right-Thalamus-Proper"},
		{50, "Right-Caudate"},
		{51, "Right-Putamen"},
		{52, "Right-Pallidum"},
		{53, "Right-Hippocampus"},
		{54, "Right-Amygdala"},
		{58, "Right-Accumbens-area"},
	}
}

// FreeSurfer cerebral white matter labels
const (
	LeftWhiteMatter  = 2
	RightWhiteMatter = 41
)

var presets = map[string]func() Catalog{
	"ukb":    Default,
	"legacy": Legacy,
}

// PresetNames lists the built-in catalogs
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Preset returns a fresh copy of a built-in catalog
func Preset(name string) (Catalog, error) {
	build, ok := presets[name]
	if !ok {
		return Catalog{}, fmt.Errorf("unknown catalog preset %q (known: %s)", name, strings.Join(PresetNames(), ", "))
	}
	return build(), nil
}

// Resolve returns the preset called ref, or loads ref as a catalog file
func Resolve(ref string) (Catalog, error) {
	if _, ok := presets[ref]; ok {
		return Preset(ref)
	}
	return Load(ref)
}

// Default is the UK Biobank-style catalog: eroded subcortical labels,
// positive-only left/right substantia nigra in template space and the
// lesion-dependent white matter regions.
func Default() Catalog {
	c := Catalog{Name: "ukb", Optional: []string{InputLesions}}
	for _, l := range FreeSurferSubcortical() {
		c.Regions = append(c.Regions, Region{
			Name:      l.Name,
			Select:    Selector{Kind: SelectEquals, Volume: InputLabels, Value: l.Code},
			Refine:    []Refinement{{Kind: RefineErode}},
			Statistic: regionstat.KindMedian,
			Source:    InputQSMNative,
		})
	}
	c.Regions = append(c.Regions,
		nigraRegion("SN_L", Selector{Kind: SelectAbove, Volume: InputSNLeft, Value: 0}),
		nigraRegion("SN_R", Selector{Kind: SelectAbove, Volume: InputSNRight, Value: 0}),
	)
	c.Regions = append(c.Regions, whiteMatterRegions(regionstat.KindMedian,
		Selector{Kind: SelectEquals, Volume: InputLesions, Value: 1}, true)...)
	c.Derived = whiteMatterDifferences()
	return c
}

// Legacy reproduces the first generation extraction: raw label equality,
// SNr/SNc masks taken where the mask equals 1 and a mean lesion value.
func Legacy() Catalog {
	c := Catalog{Name: "legacy", Optional: []string{InputLesions}}
	for _, l := range FreeSurferSubcortical() {
		c.Regions = append(c.Regions, Region{
			Name:      l.Name,
			Select:    Selector{Kind: SelectEquals, Volume: InputLabels, Value: l.Code},
			Statistic: regionstat.KindMedian,
			Source:    InputQSMNative,
		})
	}
	c.Regions = append(c.Regions,
		nigraRegion("SNr", Selector{Kind: SelectEquals, Volume: InputSNLeft, Value: 1}),
		nigraRegion("SNc", Selector{Kind: SelectEquals, Volume: InputSNRight, Value: 1}),
	)
	// The first generation kept white matter where the lesion mask was 0.
	c.Regions = append(c.Regions, whiteMatterRegions(regionstat.KindMean,
		Selector{Kind: SelectAbove, Volume: InputLesions, Value: 0}, false)...)
	c.Derived = whiteMatterDifferences()
	return c
}

func nigraRegion(name string, sel Selector) Region {
	return Region{
		Name:      name,
		Select:    sel,
		Refine:    []Refinement{{Kind: RefinePositiveOnly}},
		Statistic: regionstat.KindMedian,
		Source:    InputQSMTemplate,
	}
}

// whiteMatterRegions builds WMH, WM and WM_no_lesions. All three require the
// lesion input so they are present or absent together.
//
// In the UK Biobank catalog an all-zero lesion mask means "no lesions", so
// WMH (and the differences built on it) is left out rather than reported
// as NaN; the legacy catalog keeps the NaN.
func whiteMatterRegions(lesionStat regionstat.Kind, lesioned Selector, omitEmptyLesions bool) []Region {
	wm := Selector{Kind: SelectAnyOf, Volume: InputLabels, Values: []float64{LeftWhiteMatter, RightWhiteMatter}}
	requires := []string{InputLesions}
	return []Region{
		{
			Name:        "WMH",
			Select:      Selector{Kind: SelectEquals, Volume: InputLesions, Value: 1},
			Statistic:   lesionStat,
			Source:      InputQSMNative,
			OmitIfEmpty: omitEmptyLesions,
		},
		{
			Name:      "WM",
			Select:    wm,
			Statistic: regionstat.KindMedian,
			Source:    InputQSMNative,
			Requires:  requires,
		},
		{
			Name:      "WM_no_lesions",
			Select:    wm,
			Refine:    []Refinement{{Kind: RefineExclude, Exclude: &lesioned}},
			Statistic: regionstat.KindMedian,
			Source:    InputQSMNative,
		},
	}
}

func whiteMatterDifferences() []Derived {
	return []Derived{
		{Name: "Diff-WM", Minuend: "WM", Subtrahend: "WMH"},
		{Name: "Diff-WM-no-lesions", Minuend: "WM_no_lesions", Subtrahend: "WMH"},
	}
}

// Load reads a catalog from a .yaml, .yml or .toml file and validates it
func Load(path string) (Catalog, error) {
	var c Catalog

	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("error reading catalog file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &c)
	case ".toml":
		_, err = toml.Decode(string(data), &c)
	default:
		return c, fmt.Errorf("unsupported catalog format %q (use .yaml or .toml)", filepath.Ext(path))
	}
	if err != nil {
		return c, fmt.Errorf("error parsing catalog file: %w", err)
	}

	if c.Name == "" {
		c.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Save writes the catalog as YAML
func Save(c Catalog, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error marshaling catalog: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing catalog file: %w", err)
	}
	return nil
}
