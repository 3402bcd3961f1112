package volumeio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astewartau/ukb-qsmxt/internal/models"
)

func testVolume() *models.Volume {
	v := models.NewVolume(models.Shape{X: 3, Y: 4, Z: 2})
	for i := range v.Data {
		v.Data[i] = float64(i) - 5.5
	}
	v.Data[7] = math.NaN()
	v.VoxelSize.X, v.VoxelSize.Y, v.VoxelSize.Z = 1, 1.5, 2
	return v
}

func TestSaveLoadNIfTI(t *testing.T) {
	for _, name := range []string{"vol.nii", "vol.nii.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sub", name)
			want := testVolume()
			require.NoError(t, Save(path, want))

			got, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, want.Shape, got.Shape)
			assert.Equal(t, path, got.Source)
			assert.InDelta(t, 1.5, got.VoxelSize.Y, 1e-6)
			for i := range want.Data {
				if math.IsNaN(want.Data[i]) {
					assert.True(t, math.IsNaN(got.Data[i]), "voxel %d should stay NaN", i)
					continue
				}
				assert.InDelta(t, want.Data[i], got.Data[i], 1e-6, "voxel %d", i)
			}
		})
	}
}

// bigEndianInt16NIfTI builds a big-endian int16 image with scaling by hand
func bigEndianInt16NIfTI(t *testing.T, values []int16, slope, inter float32) []byte {
	t.Helper()
	h := niftiHeader{
		SizeOfHdr: niftiHeaderSize,
		Dim:       [8]int16{4, int16(len(values)), 1, 1, 1, 1, 1, 1},
		DataType:  dtInt16,
		BitPix:    16,
		VoxOffset: niftiDataOffset,
		SclSlope:  slope,
		SclInter:  inter,
		Magic:     niftiMagic,
	}
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, &h))
	buf.Write(make([]byte, 4))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, values))
	return buf.Bytes()
}

func TestDecodeNIfTIBigEndianScaled(t *testing.T) {
	b := bigEndianInt16NIfTI(t, []int16{-2, 0, 3}, 0.5, 1)
	path := filepath.Join(t.TempDir(), "be.nii")
	require.NoError(t, os.WriteFile(path, b, 0644))

	v, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, models.Shape{X: 3, Y: 1, Z: 1}, v.Shape)
	assert.Equal(t, []float64{0, 1, 2.5}, v.Data)
}

func TestDecodeNIfTIIdentityScaleIgnored(t *testing.T) {
	v, err := decodeNIfTI(bigEndianInt16NIfTI(t, []int16{41, 2}, 0, 7))
	require.NoError(t, err)
	assert.Equal(t, []float64{41, 2}, v.Data)
}

func TestDecodeNIfTIMalformed(t *testing.T) {
	good := bigEndianInt16NIfTI(t, []int16{1, 2, 3}, 0, 0)

	tests := map[string][]byte{
		"short":     good[:100],
		"truncated": good[:len(good)-2],
		"magic": func() []byte {
			b := append([]byte(nil), good...)
			b[344] = 'x'
			return b
		}(),
		"sizeof_hdr": func() []byte {
			b := append([]byte(nil), good...)
			b[3] = 0
			return b
		}(),
		"datatype": func() []byte {
			b := append([]byte(nil), good...)
			binary.BigEndian.PutUint16(b[70:], 1)
			return b
		}(),
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := decodeNIfTI(b)
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}

// mghBytes builds an MGH image with voxel sizes
func mghBytes(t *testing.T, shape models.Shape, typ int32, data interface{}) []byte {
	t.Helper()
	h := mghHeader{
		Version: 1, Width: int32(shape.X), Height: int32(shape.Y), Depth: int32(shape.Z),
		NFrames: 1, Type: typ, GoodRASFlag: 1,
	}
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, &h))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, [3]float32{1, 1, 1.2}))
	buf.Write(make([]byte, mghDataOffset-buf.Len()))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, data))
	return buf.Bytes()
}

func TestLoadMGZ(t *testing.T) {
	shape := models.Shape{X: 2, Y: 2, Z: 1}
	raw := mghBytes(t, shape, mriUchar, []uint8{0, 10, 41, 2})

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "aseg.mgz")
	require.NoError(t, os.WriteFile(path, gz.Bytes(), 0644))

	v, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, shape, v.Shape)
	assert.Equal(t, []float64{0, 10, 41, 2}, v.Data)
	assert.InDelta(t, 1.2, v.VoxelSize.Z, 1e-6)
}

func TestDecodeMGHTypes(t *testing.T) {
	shape := models.Shape{X: 2, Y: 1, Z: 1}

	v, err := decodeMGH(mghBytes(t, shape, mriFloat, []float32{-0.5, 0.25}))
	require.NoError(t, err)
	assert.Equal(t, []float64{-0.5, 0.25}, v.Data)

	v, err = decodeMGH(mghBytes(t, shape, mriShort, []int16{-3, 58}))
	require.NoError(t, err)
	assert.Equal(t, []float64{-3, 58}, v.Data)

	v, err = decodeMGH(mghBytes(t, shape, mriInt, []int32{1000, 17}))
	require.NoError(t, err)
	assert.Equal(t, []float64{1000, 17}, v.Data)

	_, err = decodeMGH(mghBytes(t, shape, 9, []int32{0, 0}))
	assert.ErrorIs(t, err, ErrMalformed)

	b := mghBytes(t, shape, mriFloat, []float32{1, 2})
	_, err = decodeMGH(b[:len(b)-1])
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.nii.gz"))
	assert.True(t, errors.Is(err, fs.ErrNotExist), "got %v", err)

	_, err = Load(filepath.Join(dir, "volume.img"))
	assert.ErrorIs(t, err, ErrUnsupported)

	bad := filepath.Join(dir, "bad.nii.gz")
	require.NoError(t, os.WriteFile(bad, []byte("not gzip"), 0644))
	_, err = Load(bad)
	assert.ErrorIs(t, err, ErrMalformed)

	assert.ErrorIs(t, Save(filepath.Join(dir, "out.mgz"), testVolume()), ErrUnsupported)
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path       string
		format     Format
		compressed bool
	}{
		{"a/T1.NII.GZ", FormatNIfTI, true},
		{"qsm.nii", FormatNIfTI, false},
		{"aseg.mgz", FormatMGH, true},
		{"aseg.mgh", FormatMGH, false},
		{"notes.txt", FormatUnknown, false},
	}
	for _, tt := range tests {
		f, c := DetectFormat(tt.path)
		assert.Equal(t, tt.format, f, tt.path)
		assert.Equal(t, tt.compressed, c, tt.path)
	}
}
