package volumeio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/astewartau/ukb-qsmxt/internal/models"
)

// niftiHeader mirrors the 348 byte NIfTI-1 header.
//
// C     Go
// -------------
// int   int32
// float float32
// short int16
// char  byte
type niftiHeader struct {
	SizeOfHdr      int32    // Must be 348
	UnusedDataType [10]byte // Unused
	DbName         [18]byte // Unused
	Extents        int32    // Unused
	SessionError   int16    // Unused
	Regular        byte     // Unused
	DimInfo        byte     // MRI slice ordering

	Dim           [8]int16   // Data array dimensions
	IntentP1      float32    // 1st intent parameter
	IntentP2      float32    // 2nd intent parameter
	IntentP3      float32    // 3rd intent parameter
	IntentCode    int16      // NIFTI_INTENT_* code
	DataType      int16      // Defines data type
	BitPix        int16      // Number bits/voxel
	SliceStart    int16      // First slice index
	PixDim        [8]float32 // Grid spacing
	VoxOffset     float32    // Offset into .nii file
	SclSlope      float32    // Data scaling: slope
	SclInter      float32    // Data scaling: offset
	SliceEnd      int16      // Last slice index
	SliceCode     byte       // Slice timing order
	XYZTUnits     byte       // Units of pixdim[1..4]
	CalMax        float32    // Max display intensity
	CalMin        float32    // Min display intensity
	SliceDuration float32    // Time for 1 slice
	TOffset       float32    // Time axis shift
	Glmax         int32      // Unused
	Glmin         int32      // Unused

	Descrip [80]byte // Any text you like
	AuxFile [24]byte // Auxiliary filename

	QFormCode int16 // NIFTI_XFORM_* code
	SFormCode int16 // NIFTI_XFORM_* code

	QuaternB float32 // Quaternion b param
	QuaternC float32 // Quaternion c param
	QuaternD float32 // Quaternion d param
	QOffsetX float32 // Quaternion x shift
	QOffsetY float32 // Quaternion y shift
	QOffsetZ float32 // Quaternion z shift

	SRowX [4]float32 // 1st row affine transform
	SRowY [4]float32 // 2nd row affine transform
	SRowZ [4]float32 // 3rd row affine transform

	IntentName [16]byte // 'name' or meaning of data

	Magic [4]byte // "n+1\0" for single-file images
}

const (
	niftiHeaderSize = 348
	niftiDataOffset = 352
)

// NIfTI-1 datatype codes
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtInt8    = 256
	dtUint16  = 512
	dtUint32  = 768
	dtInt64   = 1024
	dtUint64  = 1280
)

var niftiMagic = [4]byte{'n', '+', '1', 0}

// niftiByteOrder infers the byte order from the sizeof_hdr field
func niftiByteOrder(b []byte) (binary.ByteOrder, error) {
	if len(b) < niftiHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than a NIfTI-1 header", ErrMalformed, len(b))
	}
	switch {
	case binary.LittleEndian.Uint32(b[:4]) == niftiHeaderSize:
		return binary.LittleEndian, nil
	case binary.BigEndian.Uint32(b[:4]) == niftiHeaderSize:
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("%w: sizeof_hdr is not %d in either byte order", ErrMalformed, niftiHeaderSize)
}

func readNIfTIHeader(b []byte) (niftiHeader, binary.ByteOrder, error) {
	var h niftiHeader
	order, err := niftiByteOrder(b)
	if err != nil {
		return h, nil, err
	}
	if err := binary.Read(bytes.NewReader(b[:niftiHeaderSize]), order, &h); err != nil {
		return h, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch {
	case h.Dim[0] < 1 || h.Dim[0] > 7:
		return h, nil, fmt.Errorf("%w: dim[0] = %d not in [1, 7]", ErrMalformed, h.Dim[0])
	case h.Magic != niftiMagic:
		return h, nil, fmt.Errorf("%w: bad magic %q, only single-file n+1 images are supported", ErrMalformed, h.Magic[:3])
	}
	return h, order, nil
}

// niftiShape returns the 3D grid; missing trailing dimensions count as 1
func niftiShape(h niftiHeader) (models.Shape, error) {
	dims := [3]int{1, 1, 1}
	for i := 0; i < 3 && i < int(h.Dim[0]); i++ {
		if h.Dim[i+1] < 1 {
			return models.Shape{}, fmt.Errorf("%w: dim[%d] = %d", ErrMalformed, i+1, h.Dim[i+1])
		}
		dims[i] = int(h.Dim[i+1])
	}
	return models.Shape{X: dims[0], Y: dims[1], Z: dims[2]}, nil
}

func decodeNIfTI(b []byte) (*models.Volume, error) {
	h, order, err := readNIfTIHeader(b)
	if err != nil {
		return nil, err
	}
	shape, err := niftiShape(h)
	if err != nil {
		return nil, err
	}

	offset := int(h.VoxOffset)
	if offset < niftiDataOffset {
		offset = niftiDataOffset
	}

	width, read, err := voxelReader(h.DataType, order)
	if err != nil {
		return nil, err
	}
	end := offset + shape.Len()*width
	if end > len(b) {
		return nil, fmt.Errorf("%w: need %d data bytes, file has %d", ErrMalformed, end-offset, len(b)-offset)
	}

	v := models.NewVolume(shape)
	data := b[offset:end]
	for i := range v.Data {
		v.Data[i] = read(data[i*width:])
	}

	if scaled(h.SclSlope, h.SclInter) {
		slope, inter := float64(h.SclSlope), float64(h.SclInter)
		for i, x := range v.Data {
			v.Data[i] = x*slope + inter
		}
	}

	v.VoxelSize.X = float64(h.PixDim[1])
	v.VoxelSize.Y = float64(h.PixDim[2])
	v.VoxelSize.Z = float64(h.PixDim[3])
	return v, nil
}

// scaled reports whether scl_slope/scl_inter change the stored values
func scaled(slope, inter float32) bool {
	if slope == 0 || math.IsNaN(float64(slope)) || math.IsInf(float64(slope), 0) {
		return false
	}
	return slope != 1 || inter != 0
}

// voxelReader returns the byte width of a datatype and a decoder for one voxel
func voxelReader(dataType int16, order binary.ByteOrder) (int, func([]byte) float64, error) {
	switch dataType {
	case dtUint8:
		return 1, func(b []byte) float64 { return float64(b[0]) }, nil
	case dtInt8:
		return 1, func(b []byte) float64 { return float64(int8(b[0])) }, nil
	case dtInt16:
		return 2, func(b []byte) float64 { return float64(int16(order.Uint16(b))) }, nil
	case dtUint16:
		return 2, func(b []byte) float64 { return float64(order.Uint16(b)) }, nil
	case dtInt32:
		return 4, func(b []byte) float64 { return float64(int32(order.Uint32(b))) }, nil
	case dtUint32:
		return 4, func(b []byte) float64 { return float64(order.Uint32(b)) }, nil
	case dtInt64:
		return 8, func(b []byte) float64 { return float64(int64(order.Uint64(b))) }, nil
	case dtUint64:
		return 8, func(b []byte) float64 { return float64(order.Uint64(b)) }, nil
	case dtFloat32:
		return 4, func(b []byte) float64 { return float64(math.Float32frombits(order.Uint32(b))) }, nil
	case dtFloat64:
		return 8, func(b []byte) float64 { return math.Float64frombits(order.Uint64(b)) }, nil
	}
	return 0, nil, fmt.Errorf("%w: unsupported NIfTI datatype %d", ErrMalformed, dataType)
}

// encodeNIfTI writes v as a little-endian float32 NIfTI-1 image
func encodeNIfTI(w io.Writer, v *models.Volume) error {
	h := niftiHeader{
		SizeOfHdr: niftiHeaderSize,
		Dim:       [8]int16{3, int16(v.Shape.X), int16(v.Shape.Y), int16(v.Shape.Z), 1, 1, 1, 1},
		DataType:  dtFloat32,
		BitPix:    32,
		VoxOffset: niftiDataOffset,
		Magic:     niftiMagic,
	}
	h.PixDim[0] = 1
	h.PixDim[1] = float32(orOne(v.VoxelSize.X))
	h.PixDim[2] = float32(orOne(v.VoxelSize.Y))
	h.PixDim[3] = float32(orOne(v.VoxelSize.Z))

	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("failed to write NIfTI header: %w", err)
	}
	// Empty extension block between header and data.
	if _, err := w.Write(make([]byte, niftiDataOffset-niftiHeaderSize)); err != nil {
		return fmt.Errorf("failed to write NIfTI extension: %w", err)
	}

	data := make([]byte, 4*len(v.Data))
	for i, x := range v.Data {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(float32(x)))
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write NIfTI data: %w", err)
	}
	return nil
}

func orOne(x float64) float64 {
	if x == 0 {
		return 1
	}
	return x
}
