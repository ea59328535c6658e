package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"

	"dmritools/internal/models"
)

// Viewer renders 2D slices of a 3D image volume for quality control.
type Viewer struct {
	// volumeData holds one 3D volume, x varying fastest
	volumeData []float64

	// dimensions of the volume
	width  int
	height int
	depth  int

	// display window used to map intensities to grey levels
	low, high float64
}

// NewViewer creates a viewer over the t-th volume of an image. Intensities
// are windowed to the volume's minimum and maximum finite values.
func NewViewer(vol *models.Volume, t int) (*Viewer, error) {
	if t < 0 || t >= vol.Frames() {
		return nil, fmt.Errorf("volume %d out of range [0, %d)", t, vol.Frames())
	}

	width, height, depth := vol.SpatialDims()
	data := vol.Frame(t)

	finite := make([]float64, 0, len(data))
	for _, d := range data {
		if !math.IsNaN(d) && !math.IsInf(d, 0) {
			finite = append(finite, d)
		}
	}
	low, high := 0.0, 1.0
	if len(finite) > 0 {
		low, high = floats.Min(finite), floats.Max(finite)
	}

	return &Viewer{
		volumeData: data,
		width:      width,
		height:     height,
		depth:      depth,
		low:        low,
		high:       high,
	}, nil
}

// grey maps an intensity into the display window
func (v *Viewer) grey(value float64) color.Gray16 {
	if v.high <= v.low || math.IsNaN(value) {
		return color.Gray16{}
	}
	scaled := (value - v.low) / (v.high - v.low)
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, scaled*65535)))}
}

// ExtractSlice extracts a 2D slice along the specified axis. Images are
// oriented with increasing voxel index upwards.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16

	switch axis {
	case "x", "X":
		// Sagittal: YZ plane
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}
		img = image.NewGray16(image.Rect(0, 0, v.height, v.depth))
		for z := 0; z < v.depth; z++ {
			for y := 0; y < v.height; y++ {
				idx := z*v.width*v.height + y*v.width + position
				img.SetGray16(y, v.depth-1-z, v.grey(v.volumeData[idx]))
			}
		}

	case "y", "Y":
		// Coronal: XZ plane
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				idx := z*v.width*v.height + position*v.width + x
				img.SetGray16(x, v.depth-1-z, v.grey(v.volumeData[idx]))
			}
		}

	case "z", "Z":
		// Axial: XY plane
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.height))
		for y := 0; y < v.height; y++ {
			for x := 0; x < v.width; x++ {
				idx := position*v.width*v.height + y*v.width + x
				img.SetGray16(x, v.height-1-y, v.grey(v.volumeData[idx]))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	maxPos, err := v.extent(axis)
	if err != nil {
		return err
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// SaveMidSlices writes the central slice along each axis as
// <outputDir>/<prefix>_<axis>.jpg and returns the written paths.
func (v *Viewer) SaveMidSlices(outputDir, prefix string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	var paths []string
	for _, axis := range []string{"x", "y", "z"} {
		extent, _ := v.extent(axis)
		img, err := v.ExtractSlice(axis, extent/2)
		if err != nil {
			return nil, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.jpg", prefix, axis))
		if err := v.SaveSlice(img, filename); err != nil {
			return nil, fmt.Errorf("failed to save %s: %w", filename, err)
		}
		paths = append(paths, filename)
	}
	return paths, nil
}

func (v *Viewer) extent(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return v.width, nil
	case "y", "Y":
		return v.height, nil
	case "z", "Z":
		return v.depth, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}
