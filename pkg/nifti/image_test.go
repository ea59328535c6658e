package nifti

import (
	"encoding/binary"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"dmritools/internal/models"
)

// testVolume creates a 4D volume with a ramp pattern and a scaled, shifted
// affine
func testVolume() *models.Volume {
	affine := mat.NewDense(4, 4, []float64{
		2, 0, 0, -10,
		0, 2.5, 0, 20,
		0, 0, 3, -30,
		0, 0, 0, 1,
	})
	v := models.NewVolume([]int{3, 4, 2, 2}, affine)
	for i := range v.Data {
		v.Data[i] = float64(i)*0.5 - 3
	}
	return v
}

func TestRoundTrip(t *testing.T) {
	for _, name := range []string{"image.nii", "image.nii.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			want := testVolume()

			require.NoError(t, SaveVolume(want, path))

			got, err := LoadVolume(path)
			require.NoError(t, err)

			assert.Equal(t, want.Dims, got.Dims)
			assert.InDeltaSlice(t, want.Data, got.Data, 1e-6)
			assert.True(t, mat.Equal(want.Affine, got.Affine), "affine mismatch:\n%v", mat.Formatted(got.Affine))
			assert.InDelta(t, 2.0, got.VoxelSize.X, 1e-6)
			assert.InDelta(t, 2.5, got.VoxelSize.Y, 1e-6)
			assert.InDelta(t, 3.0, got.VoxelSize.Z, 1e-6)

			_, err = os.Stat(path + ".tmp")
			assert.True(t, os.IsNotExist(err), "temporary file left behind")
		})
	}
}

func TestReadHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.nii.gz")
	require.NoError(t, SaveVolume(testVolume(), path))

	h, order, err := ReadHeader(path)
	require.NoError(t, err)

	assert.Equal(t, binary.LittleEndian, order)
	assert.Equal(t, []int{3, 4, 2, 2}, h.Dims())
	assert.Equal(t, 48, h.NumVoxels())
	assert.Equal(t, DTFloat32, h.DataType)
	assert.Equal(t, XFormAlignedAnat, h.SFormCode)
	assert.Equal(t, XFormUnknown, h.QFormCode)
}

func TestBigEndian(t *testing.T) {
	img, err := FromVolume(testVolume())
	require.NoError(t, err)

	// Re-encode voxel data big endian
	for i := 0; i+4 <= len(img.Data); i += 4 {
		v := binary.LittleEndian.Uint32(img.Data[i:])
		binary.BigEndian.PutUint32(img.Data[i:], v)
	}
	img.ByteOrder = binary.BigEndian

	path := filepath.Join(t.TempDir(), "big.nii")
	require.NoError(t, img.Write(path))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, binary.BigEndian, got.ByteOrder)

	vol, err := got.Volume()
	require.NoError(t, err)
	assert.InDeltaSlice(t, testVolume().Data, vol.Data, 1e-6)
}

func TestScaledInt16(t *testing.T) {
	h := &Header{
		SizeOfHdr: minHeaderSize,
		DataType:  DTInt16,
		BitPix:    16,
		SclSlope:  2,
		SclInter:  1,
		Magic:     singleFileMagic,
	}
	h.Dim[0], h.Dim[1], h.Dim[2], h.Dim[3] = 3, 2, 2, 1
	h.PixDim = [8]float32{1, 1, 1, 1}

	values := []int16{-3, 0, 7, 100}
	data := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(v))
	}

	path := filepath.Join(t.TempDir(), "int16.nii.gz")
	require.NoError(t, (&Image{Header: h, ByteOrder: binary.LittleEndian, Data: data}).Write(path))

	vol, err := LoadVolume(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{-5, 1, 15, 201}, vol.Data)
}

func TestAffineSelection(t *testing.T) {
	h := &Header{}
	h.Dim = [8]int16{3, 10, 20, 30, 1, 1, 1, 1}
	h.PixDim = [8]float32{1, 2, 3, 4, 0, 0, 0, 0}

	t.Run("base affine", func(t *testing.T) {
		want := mat.NewDense(4, 4, []float64{
			-2, 0, 0, 9,
			0, 3, 0, -28.5,
			0, 0, 4, -58,
			0, 0, 0, 1,
		})
		assert.True(t, mat.Equal(want, h.Affine()), "got:\n%v", mat.Formatted(h.Affine()))
	})

	t.Run("qform", func(t *testing.T) {
		q := *h
		q.QFormCode = XFormScannerAnat
		q.QOffsetX, q.QOffsetY, q.QOffsetZ = 1, 2, 3
		want := mat.NewDense(4, 4, []float64{
			2, 0, 0, 1,
			0, 3, 0, 2,
			0, 0, 4, 3,
			0, 0, 0, 1,
		})
		assert.True(t, mat.EqualApprox(want, q.Affine(), 1e-12), "got:\n%v", mat.Formatted(q.Affine()))

		// qfac of -1 flips the z axis
		q.PixDim[0] = -1
		assert.InDelta(t, -4, q.Affine().At(2, 2), 1e-12)
	})

	t.Run("qform rotation", func(t *testing.T) {
		q := *h
		q.QFormCode = XFormScannerAnat
		// 90 degrees about z: a = cos(45), d = sin(45)
		q.QuaternD = float32(math.Sqrt(0.5))
		got := q.Affine()
		assert.InDelta(t, 0, got.At(0, 0), 1e-6)
		assert.InDelta(t, -3, got.At(0, 1), 1e-6)
		assert.InDelta(t, 2, got.At(1, 0), 1e-6)
	})

	t.Run("sform wins", func(t *testing.T) {
		s := *h
		s.QFormCode = XFormScannerAnat
		s.SFormCode = XFormAlignedAnat
		s.SRowX = [4]float32{1, 0, 0, 5}
		s.SRowY = [4]float32{0, 1, 0, 6}
		s.SRowZ = [4]float32{0, 0, 1, 7}
		assert.Equal(t, 5.0, s.Affine().At(0, 3))
		assert.Equal(t, 1.0, s.Affine().At(1, 1))
	})
}

func TestInvalidImages(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := Read(filepath.Join(dir, "missing.nii.gz"))
		require.Error(t, err)
		assert.ErrorIs(t, err, fs.ErrNotExist)
	})

	t.Run("garbage", func(t *testing.T) {
		path := filepath.Join(dir, "garbage.nii")
		require.NoError(t, os.WriteFile(path, make([]byte, 400), 0644))
		_, _, err := ReadHeader(path)
		assert.ErrorIs(t, err, models.ErrInvalidImage)
	})

	t.Run("short file", func(t *testing.T) {
		path := filepath.Join(dir, "short.nii")
		require.NoError(t, os.WriteFile(path, []byte("n+1"), 0644))
		_, err := Read(path)
		assert.ErrorIs(t, err, models.ErrInvalidImage)
	})

	t.Run("truncated data", func(t *testing.T) {
		path := filepath.Join(dir, "truncated.nii")
		require.NoError(t, SaveVolume(testVolume(), path))
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, b[:len(b)-10], 0644))

		_, err = Read(path)
		assert.ErrorIs(t, err, models.ErrInvalidImage)
	})
}

func TestFromVolumeShapeMismatch(t *testing.T) {
	v := testVolume()
	v.Data = v.Data[:5]
	_, err := FromVolume(v)
	assert.ErrorIs(t, err, models.ErrShapeMismatch)
}
