package extraction

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/astewartau/ukb-qsmxt/internal/models"
	"github.com/astewartau/ukb-qsmxt/pkg/catalog"
	"github.com/astewartau/ukb-qsmxt/pkg/results"
	"github.com/astewartau/ukb-qsmxt/pkg/volumeio"
)

// Params holds everything one subject/session run needs
type Params struct {
	// SubjectID and SessionID are copied verbatim into the output row
	SubjectID int
	SessionID int

	// InputPaths maps catalog input names (catalog.InputQSMNative, ...) to files.
	// Optional inputs may be left empty.
	InputPaths map[string]string

	// OutputCSV is the cumulative table the row is appended to
	OutputCSV string

	// HeaderMode controls what happens when the table header differs
	HeaderMode results.HeaderMode

	// MaskDir, when set, receives every final region mask as NIfTI
	MaskDir string
}

// Pipeline runs load, extract and append for one subject/session
type Pipeline struct {
	params  *Params
	catalog catalog.Catalog
	log     zerolog.Logger

	inputs Inputs
	result *Result
}

// NewPipeline creates a pipeline for the given parameters and catalog
func NewPipeline(params *Params, c catalog.Catalog, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		params:  params,
		catalog: c,
		log:     log,
	}
}

// Process runs the complete pipeline. Any error aborts the run before the
// output table is touched; the row is appended only once every region has
// been computed.
func (p *Pipeline) Process(ctx context.Context) error {
	start := time.Now()
	log := p.log.With().
		Int("subject", p.params.SubjectID).
		Int("session", p.params.SessionID).
		Str("catalog", p.catalog.Name).
		Logger()

	if err := p.catalog.Validate(); err != nil {
		return err
	}

	// Step 1: Load input volumes
	log.Info().Msg("loading input volumes")
	inputs, err := LoadInputs(p.catalog, p.params.InputPaths, volumeio.NewLoader(log), log)
	if err != nil {
		return fmt.Errorf("failed to load inputs: %w", err)
	}
	p.inputs = inputs

	// Step 2: Compute region statistics
	log.Info().Int("regions", len(p.catalog.Regions)).Msg("extracting region statistics")
	opts := []Option{WithLogger(log)}
	if p.params.MaskDir != "" {
		opts = append(opts, WithMaskSink(SaveMasksTo(p.params.MaskDir)))
	}
	result, err := NewExtractor(p.catalog, opts...).Extract(ctx, inputs)
	if err != nil {
		return fmt.Errorf("failed to extract regions: %w", err)
	}
	p.result = result

	// Step 3: Append the row
	row := results.Row{
		Subject: p.params.SubjectID,
		Session: p.params.SessionID,
		Columns: result,
	}
	if err := results.NewWriter(p.params.OutputCSV, p.params.HeaderMode, log).Append(row); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	log.Info().
		Int("columns", result.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("extraction complete")
	return nil
}

// GetResult returns the result of the last successful Process call
func (p *Pipeline) GetResult() *Result {
	return p.result
}

// LoadInputs reads every input the catalog references. A required input
// that is unset, missing or undecodable is an error. An optional input that
// is unset or whose file does not exist is left out so the regions reading
// it are skipped; one that exists but cannot be decoded is still an error.
func LoadInputs(c catalog.Catalog, paths map[string]string, loader *volumeio.Loader, log zerolog.Logger) (Inputs, error) {
	inputs := make(Inputs)
	for _, name := range c.Inputs() {
		path := paths[name]
		optional := c.IsOptional(name)

		if path == "" {
			if optional {
				log.Info().Str("input", name).Msg("optional input not supplied")
				continue
			}
			return nil, fmt.Errorf("%w %q: no path given", ErrMissingInput, name)
		}

		if optional {
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				log.Warn().Str("input", name).Str("path", path).Msg("optional input does not exist, skipping dependent regions")
				continue
			}
		}

		v, err := loader.Load(path)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		inputs[name] = v
	}
	return inputs, nil
}

// SaveMasksTo returns a MaskSink writing <dir>/<region>.nii.gz
func SaveMasksTo(dir string) MaskSink {
	return func(region string, m *models.Mask, source *models.Volume) error {
		v := m.ToVolume()
		v.VoxelSize = source.VoxelSize
		return volumeio.Save(filepath.Join(dir, maskFileName(region)), v)
	}
}

func maskFileName(region string) string {
	clean := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '_'
		}
		return r
	}, region)
	return clean + ".nii.gz"
}
