package volumeio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/astewartau/ukb-qsmxt/internal/models"
)

// mghHeader is the fixed part of a FreeSurfer MGH header. All fields are
// big-endian. The voxel sizes follow only when GoodRASFlag is 1.
type mghHeader struct {
	Version     int32
	Width       int32
	Height      int32
	Depth       int32
	NFrames     int32
	Type        int32
	DOF         int32
	GoodRASFlag int16
}

// mghDataOffset is where voxel data starts regardless of the RAS block
const mghDataOffset = 284

// MGH voxel type codes
const (
	mriUchar = 0
	mriInt   = 1
	mriFloat = 3
	mriShort = 4
)

func decodeMGH(b []byte) (*models.Volume, error) {
	if len(b) < mghDataOffset {
		return nil, fmt.Errorf("%w: %d bytes is shorter than an MGH header", ErrMalformed, len(b))
	}

	var h mghHeader
	r := bytes.NewReader(b)
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if h.Version != 1 {
		return nil, fmt.Errorf("%w: MGH version %d is not supported", ErrMalformed, h.Version)
	}
	if h.Width < 1 || h.Height < 1 || h.Depth < 1 {
		return nil, fmt.Errorf("%w: MGH dimensions %dx%dx%d", ErrMalformed, h.Width, h.Height, h.Depth)
	}

	var width int
	var read func([]byte) float64
	switch h.Type {
	case mriUchar:
		width, read = 1, func(b []byte) float64 { return float64(b[0]) }
	case mriShort:
		width, read = 2, func(b []byte) float64 { return float64(int16(binary.BigEndian.Uint16(b))) }
	case mriInt:
		width, read = 4, func(b []byte) float64 { return float64(int32(binary.BigEndian.Uint32(b))) }
	case mriFloat:
		width, read = 4, func(b []byte) float64 { return float64(math.Float32frombits(binary.BigEndian.Uint32(b))) }
	default:
		return nil, fmt.Errorf("%w: unsupported MGH voxel type %d", ErrMalformed, h.Type)
	}

	shape := models.Shape{X: int(h.Width), Y: int(h.Height), Z: int(h.Depth)}
	end := mghDataOffset + shape.Len()*width
	if end > len(b) {
		return nil, fmt.Errorf("%w: need %d data bytes, file has %d", ErrMalformed, end-mghDataOffset, len(b)-mghDataOffset)
	}

	v := models.NewVolume(shape)
	data := b[mghDataOffset:end]
	for i := range v.Data {
		v.Data[i] = read(data[i*width:])
	}

	if h.GoodRASFlag == 1 {
		var sizes [3]float32
		if err := binary.Read(r, binary.BigEndian, &sizes); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z = float64(sizes[0]), float64(sizes[1]), float64(sizes[2])
	}
	return v, nil
}
