// Package volumeio reads and writes 3D volumes.
//
// Supported formats are NIfTI-1 single-file images (.nii, .nii.gz) and
// FreeSurfer MGH images (.mgh, .mgz). Only the first 3D frame of a 4D image is
// read, and the voxel-to-world transforms are ignored: every consumer in
// this module works on voxel grids that are already co-registered.
package volumeio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/astewartau/ukb-qsmxt/internal/models"
)

// ErrMalformed is wrapped by every decoding failure
var ErrMalformed = errors.New("malformed volume")

// ErrUnsupported is returned for file extensions no decoder handles
var ErrUnsupported = errors.New("unsupported volume format")

// Format identifies an on-disk volume format
type Format int

const (
	FormatUnknown Format = iota
	FormatNIfTI
	FormatMGH
)

// DetectFormat guesses the format and compression from a file name
func DetectFormat(path string) (format Format, compressed bool) {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".nii.gz"):
		return FormatNIfTI, true
	case strings.HasSuffix(name, ".nii"):
		return FormatNIfTI, false
	case strings.HasSuffix(name, ".mgz"), strings.HasSuffix(name, ".mgh.gz"):
		return FormatMGH, true
	case strings.HasSuffix(name, ".mgh"):
		return FormatMGH, false
	}
	return FormatUnknown, false
}

// Loader reads volumes from disk, logging what it decodes
type Loader struct {
	log zerolog.Logger
}

// NewLoader creates a loader writing to the given logger
func NewLoader(log zerolog.Logger) *Loader {
	return &Loader{log: log}
}

// Load reads a volume with a silent loader
func Load(path string) (*models.Volume, error) {
	return NewLoader(zerolog.Nop()).Load(path)
}

// Load reads the volume at path. A missing file yields an error matching
// fs.ErrNotExist; undecodable content yields one matching ErrMalformed.
func (l *Loader) Load(path string) (*models.Volume, error) {
	format, compressed := DetectFormat(path)
	if format == FormatUnknown {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read volume: %w", err)
	}

	data := raw
	if compressed {
		data, err = gunzip(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
		}
	}

	var v *models.Volume
	switch format {
	case FormatNIfTI:
		v, err = decodeNIfTI(data)
	case FormatMGH:
		v, err = decodeMGH(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	v.Source = path

	l.log.Debug().
		Str("path", path).
		Stringer("shape", v.Shape).
		Str("size", humanize.Bytes(uint64(len(data)))).
		Str("voxels", humanize.Comma(int64(v.Shape.Len()))).
		Msg("loaded volume")

	return v, nil
}

func gunzip(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// Save writes v to path. Only NIfTI output is supported; a .gz suffix
// compresses the file.
func Save(path string, v *models.Volume) error {
	format, compressed := DetectFormat(path)
	if format != FormatNIfTI {
		return fmt.Errorf("%w for writing: %s", ErrUnsupported, path)
	}

	var buf bytes.Buffer
	if err := encodeNIfTI(&buf, v); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create volume file: %w", err)
	}
	defer file.Close()

	if !compressed {
		if _, err := file.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("failed to write volume: %w", err)
		}
		return file.Close()
	}

	zw := gzip.NewWriter(file)
	if _, err := zw.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write volume: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to compress volume: %w", err)
	}
	return file.Close()
}
