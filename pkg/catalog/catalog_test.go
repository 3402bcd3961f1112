package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/astewartau/ukb-qsmxt/pkg/regionstat"
)

func TestDefaultColumnOrder(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Default catalog does not validate: %v", err)
	}

	want := []string{
		"Left-Thalamus-Proper", "Left-Caudate", "Left-Putamen", "Left-Pallidum",
		"Left-Hippocampus", "Left-Amygdala", "Left-Accumbens-area",
		"Right-Thalamus-Proper", "Right-Caudate", "Right-Putamen", "Right-Pallidum",
		"Right-Hippocampus", "Right-Amygdala", "Right-Accumbens-area",
		"SN_L", "SN_R", "WMH", "WM", "WM_no_lesions", "Diff-WM", "Diff-WM-no-lesions",
	}
	if diff := cmp.Diff(want, c.Columns()); diff != "" {
		t.Errorf("Columns() mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultRules(t *testing.T) {
	c := Default()
	byName := make(map[string]Region)
	for _, r := range c.Regions {
		byName[r.Name] = r
	}

	putamen := byName["Left-Putamen"]
	if putamen.Select.Value != 12 || putamen.Select.Volume != InputLabels {
		t.Errorf("Left-Putamen selector = %+v", putamen.Select)
	}
	if len(putamen.Refine) != 1 || putamen.Refine[0].Kind != RefineErode {
		t.Errorf("Expected subcortical regions to be eroded, got %+v", putamen.Refine)
	}

	sn := byName["SN_R"]
	if sn.Source != InputQSMTemplate || sn.Select.Kind != SelectAbove || sn.Select.Volume != InputSNRight {
		t.Errorf("SN_R definition = %+v", sn)
	}
	if len(sn.Refine) != 1 || sn.Refine[0].Kind != RefinePositiveOnly {
		t.Errorf("Expected SN_R to be positive-only, got %+v", sn.Refine)
	}

	for _, name := range []string{"WMH", "WM", "WM_no_lesions"} {
		r := byName[name]
		found := false
		for _, v := range r.Volumes() {
			if v == InputLesions {
				found = true
			}
		}
		if !found {
			t.Errorf("%s must depend on the lesion input", name)
		}
		if r.Statistic != regionstat.KindMedian {
			t.Errorf("%s statistic = %s, want median", name, r.Statistic)
		}
	}

	if !c.IsOptional(InputLesions) || c.IsOptional(InputLabels) {
		t.Error("Only the lesion input should be optional")
	}
}

func TestLegacyPreset(t *testing.T) {
	c, err := Preset("legacy")
	if err != nil {
		t.Fatalf("Preset(legacy) failed: %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("legacy catalog does not validate: %v", err)
	}
	for _, r := range c.Regions {
		if r.Name == "Left-Caudate" && len(r.Refine) != 0 {
			t.Error("legacy labels must not be eroded")
		}
		if r.Name == "WMH" && r.Statistic != regionstat.KindMean {
			t.Errorf("legacy WMH statistic = %s, want mean", r.Statistic)
		}
	}

	if _, err := Preset("nope"); err == nil {
		t.Error("Expected error for unknown preset")
	}
}

func TestInputs(t *testing.T) {
	want := []string{InputLabels, InputLesions, InputQSMNative, InputQSMTemplate, InputSNLeft, InputSNRight}
	if diff := cmp.Diff(want, Default().Inputs()); diff != "" {
		t.Errorf("Inputs() mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateRejects(t *testing.T) {
	base := func() Catalog {
		return Catalog{Regions: []Region{{
			Name:      "A",
			Select:    Selector{Kind: SelectEquals, Volume: "labels", Value: 1},
			Statistic: regionstat.KindMedian,
			Source:    "qsm",
		}}}
	}

	tests := map[string]func(c *Catalog){
		"empty":          func(c *Catalog) { c.Regions = nil },
		"duplicate":      func(c *Catalog) { c.Regions = append(c.Regions, c.Regions[0]) },
		"statistic":      func(c *Catalog) { c.Regions[0].Statistic = "mode" },
		"no source":      func(c *Catalog) { c.Regions[0].Source = "" },
		"selector kind":  func(c *Catalog) { c.Regions[0].Select.Kind = "near" },
		"any-of empty":   func(c *Catalog) { c.Regions[0].Select.Kind = SelectAnyOf },
		"refinement":     func(c *Catalog) { c.Regions[0].Refine = []Refinement{{Kind: "dilate"}} },
		"exclude nil":    func(c *Catalog) { c.Regions[0].Refine = []Refinement{{Kind: RefineExclude}} },
		"derived target": func(c *Catalog) { c.Derived = []Derived{{Name: "D", Minuend: "A", Subtrahend: "B"}} },
		"derived clash":  func(c *Catalog) { c.Derived = []Derived{{Name: "A", Minuend: "A", Subtrahend: "A"}} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(&c)
			if err := c.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Expected ErrInvalid, got %v", err)
			}
		})
	}

	if err := base().Validate(); err != nil {
		t.Errorf("base catalog should validate: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "atlas.yaml")
	content := `
regions:
  - name: Brainstem
    select: {kind: equals, volume: labels, value: 16}
    refine: [{kind: erode}]
    statistic: mean
    source: qsm_native
  - name: Cerebellum
    select: {kind: any-of, volume: labels, values: [8, 47]}
    statistic: median
    source: qsm_native
derived:
  - {name: Diff, minuend: Brainstem, subtrahend: Cerebellum}
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Name != "atlas" {
		t.Errorf("Expected name from file stem, got %q", c.Name)
	}
	if diff := cmp.Diff([]string{"Brainstem", "Cerebellum", "Diff"}, c.Columns()); diff != "" {
		t.Errorf("Columns() mismatch (-want +got):\n%s", diff)
	}
	if c.Regions[0].Statistic != regionstat.KindMean || c.Regions[1].Select.Values[1] != 47 {
		t.Errorf("Unexpected decoded regions: %+v", c.Regions)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "atlas.toml")
	content := `
name = "toml-atlas"
optional = ["lesions"]

[[regions]]
name = "Lesion"
statistic = "median"
source = "qsm_native"
[regions.select]
kind = "equals"
volume = "lesions"
value = 1.0
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Name != "toml-atlas" || len(c.Regions) != 1 || !c.IsOptional(InputLesions) {
		t.Errorf("Unexpected catalog: %+v", c)
	}
}

func TestSaveThenResolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ukb.yaml")
	if err := Save(Default(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	c, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if diff := cmp.Diff(Default(), c); diff != "" {
		t.Errorf("catalog changed on disk (-want +got):\n%s", diff)
	}

	if _, err := Resolve(filepath.Join(t.TempDir(), "atlas.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestEmptyLesionHandling(t *testing.T) {
	for _, tc := range []struct {
		catalog Catalog
		omit    bool
	}{{Default(), true}, {Legacy(), false}} {
		for _, r := range tc.catalog.Regions {
			want := tc.omit && r.Name == "WMH"
			if r.OmitIfEmpty != want {
				t.Errorf("%s/%s: OmitIfEmpty = %v, want %v", tc.catalog.Name, r.Name, r.OmitIfEmpty, want)
			}
		}
	}
}
