// Package visualization renders segmentation previews: one representative
// axial slice of an anatomical image shown raw and with the segmentation
// drawn over it.
package visualization

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/brewer"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/astewartau/ukb-qsmxt/internal/models"
	"github.com/astewartau/ukb-qsmxt/pkg/volumeio"
)

// ErrPairCount is returned by ProcessBatch when the two patterns match a
// different number of files
var ErrPairCount = errors.New("anatomical and segmentation counts differ")

// Options controls slice selection and rendering
type Options struct {
	Method Method

	// WindowLow and WindowHigh are percentiles of the anatomical slice
	WindowLow  float64
	WindowHigh float64

	OverlayAlpha float64
	DPI          int

	// Rand drives MethodRandomAboveMedian
	Rand *rand.Rand
}

// DefaultOptions returns the standard preview settings
func DefaultOptions() Options {
	return Options{
		Method:       MethodMedian,
		WindowLow:    5,
		WindowHigh:   95,
		OverlayAlpha: 0.85,
		DPI:          150,
	}
}

// Viewer renders previews for anatomical/segmentation pairs
type Viewer struct {
	opts   Options
	log    zerolog.Logger
	loader *volumeio.Loader
}

// NewViewer creates a new preview renderer
func NewViewer(opts Options, log zerolog.Logger) *Viewer {
	return &Viewer{
		opts:   opts,
		log:    log,
		loader: volumeio.NewLoader(log),
	}
}

// OutputName returns <stem>_segmentation_preview.png for an anatomical image path
func OutputName(anatPath string) string {
	stem := filepath.Base(anatPath)
	for _, ext := range []string{".nii.gz", ".nii", ".mgz", ".mgh"} {
		if strings.HasSuffix(strings.ToLower(stem), ext) {
			stem = stem[:len(stem)-len(ext)]
			break
		}
	}
	return stem + "_segmentation_preview.png"
}

// ProcessPair renders the preview of one pair into outDir and returns the
// written path. A shape mismatch or an empty segmentation is not an error:
// the pair is skipped with a warning and the returned path is empty.
func (v *Viewer) ProcessPair(anatPath, segPath, outDir string) (string, error) {
	anat, err := v.loader.Load(anatPath)
	if err != nil {
		return "", err
	}
	seg, err := v.loader.Load(segPath)
	if err != nil {
		return "", err
	}

	if err := models.CheckShapes(anat.Shape, seg.Shape); err != nil {
		v.log.Warn().Err(err).Str("anat", anatPath).Str("seg", segPath).Msg("skipping pair")
		return "", nil
	}

	z, ok, err := SelectAxialSlice(seg, v.opts.Method, v.opts.Rand)
	if err != nil {
		return "", err
	}
	if !ok {
		v.log.Warn().Str("seg", segPath).Msg("no segmentation found, skipping")
		return "", nil
	}

	outPath := filepath.Join(outDir, OutputName(anatPath))
	file, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("failed to create preview: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if err := v.RenderOverlay(w, anat, seg, z); err != nil {
		return "", err
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("failed to write preview: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to write preview: %w", err)
	}

	v.log.Debug().Str("path", outPath).Int("slice", z).Msg("saved preview")
	return outPath, nil
}

// BatchSummary reports how many pairs of a batch produced a preview
type BatchSummary struct {
	Pairs   int
	Written []string
}

// ProcessBatch expands both glob patterns, sorts the matches so that the
// n-th anatomical image pairs with the n-th segmentation, and renders every
// pair. A failing pair aborts the batch.
func (v *Viewer) ProcessBatch(anatPattern, segPattern, outDir string) (*BatchSummary, error) {
	anats, err := filepath.Glob(anatPattern)
	if err != nil {
		return nil, fmt.Errorf("anatomical pattern: %w", err)
	}
	segs, err := filepath.Glob(segPattern)
	if err != nil {
		return nil, fmt.Errorf("segmentation pattern: %w", err)
	}
	sort.Strings(anats)
	sort.Strings(segs)

	if len(anats) != len(segs) {
		return nil, fmt.Errorf("%w: %d anatomical images but %d segmentations", ErrPairCount, len(anats), len(segs))
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	v.log.Info().
		Int("pairs", len(anats)).
		Str("method", string(v.opts.Method)).
		Str("out", outDir).
		Msg("rendering previews")

	summary := &BatchSummary{Pairs: len(anats)}
	for i := range anats {
		v.log.Info().Msgf("[%d/%d] processing %s", i+1, len(anats), filepath.Base(anats[i]))
		path, err := v.ProcessPair(anats[i], segs[i], outDir)
		if err != nil {
			return summary, fmt.Errorf("pair %s: %w", anats[i], err)
		}
		if path != "" {
			summary.Written = append(summary.Written, path)
		}
	}

	v.log.Info().Msgf("successfully processed %d/%d pairs", len(summary.Written), summary.Pairs)
	return summary, nil
}

// labelColors returns the overlay colours, label l using entry (l-1) mod n
func labelColors() ([]color.Color, error) {
	p, err := brewer.GetPalette(brewer.TypeQualitative, "Paired", 12)
	if err != nil {
		return nil, err
	}
	return p.Colors(), nil
}

// toImages builds the raw and overlay panels of slice z. Images are
// transposed with the origin at the lower left, so x runs left to right and
// y bottom to top.
func (v *Viewer) toImages(anat, seg *models.Volume, z int) (*image.Gray, *image.RGBA, error) {
	raw, err := anat.AxialSlice(z)
	if err != nil {
		return nil, nil, err
	}
	labels, err := seg.AxialSlice(z)
	if err != nil {
		return nil, nil, err
	}
	colors, err := labelColors()
	if err != nil {
		return nil, nil, err
	}

	windowed := WindowSlice(raw, v.opts.WindowLow, v.opts.WindowHigh)
	nx, ny := anat.Shape.X, anat.Shape.Y
	gray := image.NewGray(image.Rect(0, 0, nx, ny))
	overlay := image.NewRGBA(image.Rect(0, 0, nx, ny))
	alpha := v.opts.OverlayAlpha

	for y := 0; y < ny; y++ {
		row := ny - 1 - y
		for x := 0; x < nx; x++ {
			i := y*nx + x
			g := uint8(math.Round(windowed[i] * 255))
			gray.SetGray(x, row, color.Gray{Y: g})

			label := int(labels[i])
			if label <= 0 {
				overlay.Set(x, row, color.RGBA{R: g, G: g, B: g, A: 255})
				continue
			}
			r, gg, b, _ := colors[(label-1)%len(colors)].RGBA()
			blend := func(c uint32) uint8 {
				return uint8(math.Round(alpha*float64(c>>8) + (1-alpha)*float64(g)))
			}
			overlay.Set(x, row, color.RGBA{R: blend(r), G: blend(gg), B: blend(b), A: 255})
		}
	}
	return gray, overlay, nil
}

// panel wraps an image into an axis-free plot with a title
func panel(title string, img image.Image) *plot.Plot {
	b := img.Bounds()
	p := plot.New()
	p.Title.Text = title
	p.Title.TextStyle.Color = color.White
	p.BackgroundColor = color.Black
	p.Add(plotter.NewImage(img, 0, 0, float64(b.Dx()), float64(b.Dy())))
	p.HideAxes()
	return p
}

// RenderOverlay writes a PNG with the windowed anatomical slice z on the
// left and the same slice with the segmentation overlay on the right
func (v *Viewer) RenderOverlay(w io.Writer, anat, seg *models.Volume, z int) error {
	if err := models.CheckShapes(anat.Shape, seg.Shape); err != nil {
		return err
	}
	gray, overlay, err := v.toImages(anat, seg, z)
	if err != nil {
		return err
	}

	plots := [][]*plot.Plot{{
		panel("Anatomical", gray),
		panel("Anatomical + Segmentation", overlay),
	}}

	img := vgimg.NewWith(vgimg.UseWH(12*vg.Inch, 6*vg.Inch), vgimg.UseDPI(v.opts.DPI))
	dc := draw.New(img)
	dc.SetColor(color.Black)
	dc.Fill(dc.Rectangle.Path())

	tiles := draw.Tiles{Rows: 1, Cols: 2, PadX: vg.Millimeter, PadY: vg.Millimeter}
	canvases := plot.Align(plots, tiles, dc)
	for j, p := range plots[0] {
		p.Draw(canvases[0][j])
	}

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(w); err != nil {
		return fmt.Errorf("failed to encode preview: %w", err)
	}
	return nil
}
