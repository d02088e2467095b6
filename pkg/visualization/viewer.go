// Package visualization renders extracted crops as grayscale slice images
// so resampler output can be inspected by eye.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"detect3d/pkg/tensor"
)

// Viewer renders one crop of a (numBoxes, height, width, depth, channels)
// crops tensor as grayscale slice images. Voxel values are normalized to
// the crop's own value range, so feature volumes outside [0, 1] render
// with full contrast.
type Viewer struct {
	// data holds the selected channel's voxels, one per (y, x, z)
	data []float32

	// dimensions of the crop
	height int
	width  int
	depth  int

	// lo and hi span the value range used for normalization
	lo float32
	hi float32
}

// NewViewer creates a viewer over one box and one channel of a crops tensor
func NewViewer(crops *tensor.Dense, box, channel int) (*Viewer, error) {
	if crops.Rank() != 5 {
		return nil, fmt.Errorf("crops must be 5-D, got shape %v", crops.Shape())
	}
	numBoxes := crops.Dim(0)
	if box < 0 || box >= numBoxes {
		return nil, fmt.Errorf("box %d out of range for %d crops", box, numBoxes)
	}
	channels := crops.Dim(4)
	if channel < 0 || channel >= channels {
		return nil, fmt.Errorf("channel %d out of range for %d channels", channel, channels)
	}

	v := &Viewer{
		height: crops.Dim(1),
		width:  crops.Dim(2),
		depth:  crops.Dim(3),
	}

	// Extract the requested channel and record its value range
	cells := v.height * v.width * v.depth
	src := crops.Data()[box*cells*channels : (box+1)*cells*channels]
	v.data = make([]float32, cells)
	for i := 0; i < cells; i++ {
		val := src[i*channels+channel]
		v.data[i] = val
		if i == 0 || val < v.lo {
			v.lo = val
		}
		if i == 0 || val > v.hi {
			v.hi = val
		}
	}

	return v, nil
}

// gray maps a voxel value to a 16-bit gray level within the crop's range
func (v *Viewer) gray(value float32) color.Gray16 {
	if v.hi <= v.lo {
		return color.Gray16{}
	}
	t := (value - v.lo) / (v.hi - v.lo)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return color.Gray16{Y: uint16(t * 65535)}
}

// at returns the voxel at (y, x, z) within the crop
func (v *Viewer) at(y, x, z int) float32 {
	return v.data[(y*v.width+x)*v.depth+z]
}

// ExtractSlice extracts a 2D slice from the crop along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16

	switch axis {
	case "x", "X":
		// Fix x: slice spans the ZY plane
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}

		img = image.NewGray16(image.Rect(0, 0, v.depth, v.height))
		for y := 0; y < v.height; y++ {
			for z := 0; z < v.depth; z++ {
				img.SetGray16(z, y, v.gray(v.at(y, position, z)))
			}
		}

	case "y", "Y":
		// Fix y: slice spans the XZ plane
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}

		img = image.NewGray16(image.Rect(0, 0, v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, z, v.gray(v.at(position, x, z)))
			}
		}

	case "z", "Z":
		// Fix z: slice spans the XY plane
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}

		img = image.NewGray16(image.Rect(0, 0, v.width, v.height))
		for y := 0; y < v.height; y++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, y, v.gray(v.at(y, x, position)))
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

// SaveSliceSequence extracts and saves a sequence of slices along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.width
	case "y", "Y":
		maxPos = v.height
	case "z", "Z":
		maxPos = v.depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
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
