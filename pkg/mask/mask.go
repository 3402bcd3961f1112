// Package mask provides voxel selection primitives over 3D volumes.
//
// All functions are pure: they never modify their arguments and always
// return a freshly allocated mask. Operations combining a mask with a volume
// or another mask check that both share the same grid and return an error
// wrapping models.ErrShapeMismatch otherwise.
package mask

import (
	"math"

	"github.com/astewartau/ukb-qsmxt/internal/models"
)

// Equals selects voxels whose value is exactly value
func Equals(v *models.Volume, value float64) *models.Mask {
	m := models.NewMask(v.Shape)
	for i, x := range v.Data {
		m.Bits[i] = x == value
	}
	return m
}

// IsAnyOf selects voxels whose value equals any element of values
func IsAnyOf(v *models.Volume, values []float64) *models.Mask {
	set := make(map[float64]struct{}, len(values))
	for _, x := range values {
		set[x] = struct{}{}
	}
	m := models.NewMask(v.Shape)
	for i, x := range v.Data {
		_, m.Bits[i] = set[x]
	}
	return m
}

// Above selects voxels strictly greater than threshold. NaN never passes.
func Above(v *models.Volume, threshold float64) *models.Mask {
	m := models.NewMask(v.Shape)
	for i, x := range v.Data {
		m.Bits[i] = x > threshold
	}
	return m
}

// Erode2D applies a single binary erosion with a 4-connected cross to every
// axial slice independently. Voxels outside the grid count as unselected, so
// anything touching the in-plane border is removed. Slices never interact.
func Erode2D(m *models.Mask) *models.Mask {
	s := m.Shape
	out := models.NewMask(s)
	for z := 0; z < s.Z; z++ {
		for y := 1; y < s.Y-1; y++ {
			for x := 1; x < s.X-1; x++ {
				idx := s.Index(x, y, z)
				if !m.Bits[idx] {
					continue
				}
				out.Bits[idx] = m.Bits[idx-1] && m.Bits[idx+1] &&
					m.Bits[idx-s.X] && m.Bits[idx+s.X]
			}
		}
	}
	return out
}

// PositiveOnly keeps the voxels of m where v is strictly positive
func PositiveOnly(m *models.Mask, v *models.Volume) (*models.Mask, error) {
	if err := models.CheckShapes(m.Shape, v.Shape); err != nil {
		return nil, err
	}
	out := models.NewMask(m.Shape)
	for i, b := range m.Bits {
		out.Bits[i] = b && v.Data[i] > 0
	}
	return out, nil
}

// ExcludeWhere returns m AND NOT other
func ExcludeWhere(m, other *models.Mask) (*models.Mask, error) {
	if err := models.CheckShapes(m.Shape, other.Shape); err != nil {
		return nil, err
	}
	out := models.NewMask(m.Shape)
	for i, b := range m.Bits {
		out.Bits[i] = b && !other.Bits[i]
	}
	return out, nil
}

// Count returns the number of selected voxels
func Count(m *models.Mask) int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// FiniteValues gathers v under m, skipping NaN voxels. The order of the
// result follows the flat voxel order but callers must not rely on it.
func FiniteValues(v *models.Volume, m *models.Mask) ([]float64, error) {
	if err := models.CheckShapes(v.Shape, m.Shape); err != nil {
		return nil, err
	}
	values := make([]float64, 0, Count(m))
	for i, b := range m.Bits {
		if b && !math.IsNaN(v.Data[i]) {
			values = append(values, v.Data[i])
		}
	}
	return values, nil
}
