package models

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned whenever two volumes (or a volume and a mask)
// that must share a voxel grid do not.
var ErrShapeMismatch = errors.New("shape mismatch")

// Shape is the voxel grid size of a 3D volume
type Shape struct {
	X, Y, Z int
}

// Len returns the number of voxels in the grid
func (s Shape) Len() int {
	return s.X * s.Y * s.Z
}

// Index converts voxel coordinates to the flat index used by Volume.Data
// and Mask.Bits. The first axis varies fastest, as on disk in NIfTI and MGH.
func (s Shape) Index(x, y, z int) int {
	return z*s.X*s.Y + y*s.X + x
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s.X, s.Y, s.Z)
}

// CheckShapes returns an ErrShapeMismatch describing both grids when they differ
func CheckShapes(a, b Shape) error {
	if a != b {
		return fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, a, b)
	}
	return nil
}

// Volume represents a scalar 3D volume loaded from disk
type Volume struct {
	// Data is the voxel data as a 1D array, first axis fastest
	Data []float64

	// Shape is the size of the voxel grid
	Shape Shape

	// VoxelSize is the physical size of each voxel in mm
	VoxelSize struct {
		X, Y, Z float64
	}

	// Source is the path the volume was read from, if any
	Source string
}

// NewVolume allocates a zero-filled volume with the given shape
func NewVolume(shape Shape) *Volume {
	v := &Volume{
		Data:  make([]float64, shape.Len()),
		Shape: shape,
	}
	v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z = 1, 1, 1
	return v
}

// At returns the voxel value at (x, y, z)
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Shape.Index(x, y, z)]
}

// Set assigns the voxel value at (x, y, z)
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Shape.Index(x, y, z)] = value
}

// AxialSlice copies the 2D slice at index z along the third axis.
// The result is indexed y*X + x.
func (v *Volume) AxialSlice(z int) ([]float64, error) {
	if z < 0 || z >= v.Shape.Z {
		return nil, fmt.Errorf("slice %d outside depth %d", z, v.Shape.Z)
	}
	plane := v.Shape.X * v.Shape.Y
	out := make([]float64, plane)
	copy(out, v.Data[z*plane:(z+1)*plane])
	return out, nil
}

// Mask is a boolean voxel selection over a volume grid
type Mask struct {
	// Bits holds one flag per voxel, laid out like Volume.Data
	Bits []bool

	// Shape is the grid the mask was built on
	Shape Shape
}

// NewMask allocates an empty mask with the given shape
func NewMask(shape Shape) *Mask {
	return &Mask{
		Bits:  make([]bool, shape.Len()),
		Shape: shape,
	}
}

// ToVolume converts the mask into a 0/1 volume, used when saving masks to disk
func (m *Mask) ToVolume() *Volume {
	v := NewVolume(m.Shape)
	for i, b := range m.Bits {
		if b {
			v.Data[i] = 1
		}
	}
	return v
}
