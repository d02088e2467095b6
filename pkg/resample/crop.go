package resample

import (
	"math"
	"runtime"
	"sync"

	"detect3d/pkg/tensor"
)

// Method selects how sample points are interpolated from the input volume.
type Method string

const (
	// Trilinear blends the eight voxels surrounding each sample point,
	// reducing along z, then x, then y.
	Trilinear Method = "trilinear"

	// Nearest picks the single voxel closest to each sample point,
	// rounding ties away from zero.
	Nearest Method = "nearest"
)

// Options holds the attributes of a CropAndResize3D invocation. The zero
// value matches the operator defaults: trilinear interpolation with a zero
// extrapolation value.
type Options struct {
	// Method is the interpolation method; empty selects Trilinear.
	Method Method

	// ExtrapolationValue is written to output cells whose sample point
	// falls outside the input volume.
	ExtrapolationValue float32

	// Workers bounds the number of goroutines cropping boxes in
	// parallel. Values below 1 select runtime.NumCPU(). The output does
	// not depend on the worker count; boxes write disjoint output slabs.
	Workers int
}

// CropAndResize3D extracts axis-aligned 3D boxes from a batched volume and
// resamples each to a fixed output size.
//
// Parameters:
//   - image: input volume of shape (batch, height, width, depth, channels)
//   - boxes: normalized box corners of shape (numBoxes, 6), each row
//     being (y1, x1, z1, y2, x2, z2); corners are directed and a reversed
//     pair samples the volume along a reversed ray
//   - boxIndex: for each box, the batch element it samples from
//   - cropSize: output extents (cropHeight, cropWidth, cropDepth)
//   - opts: interpolation method, extrapolation value and parallelism
//
// Returns:
//   - A tensor of shape (numBoxes, cropHeight, cropWidth, cropDepth,
//     channels). Sample points outside the input volume receive the
//     extrapolation value.
func CropAndResize3D(image, boxes *tensor.Dense, boxIndex []int32, cropSize []int32, opts Options) (*tensor.Dense, error) {
	method := opts.Method
	if method == "" {
		method = Trilinear
	}
	if method != Trilinear && method != Nearest {
		return nil, tensor.InvalidArgumentf("method must be 'trilinear' or 'nearest', got %q", string(method))
	}

	if image.Rank() != 5 {
		return nil, tensor.InvalidArgumentf("input image must be 5-D, got shape %v", image.Shape())
	}
	batchSize := image.Dim(0)
	imageHeight := image.Dim(1)
	imageWidth := image.Dim(2)
	imageDepth := image.Dim(3)
	channels := image.Dim(4)
	if imageHeight <= 0 || imageWidth <= 0 || imageDepth <= 0 {
		return nil, tensor.InvalidArgumentf("image dimensions must be positive, got shape %v", image.Shape())
	}

	numBoxes, err := parseAndCheckBoxSizes(boxes, boxIndex)
	if err != nil {
		return nil, err
	}

	if len(cropSize) != 3 {
		return nil, tensor.InvalidArgumentf("crop_size must have three elements, got %d", len(cropSize))
	}
	cropHeight := int(cropSize[0])
	cropWidth := int(cropSize[1])
	cropDepth := int(cropSize[2])
	if cropHeight <= 0 || cropWidth <= 0 || cropDepth <= 0 {
		return nil, tensor.InvalidArgumentf("crop dimensions must be positive, got (%d, %d, %d)",
			cropHeight, cropWidth, cropDepth)
	}

	for i, bIn := range boxIndex {
		if int(bIn) < 0 || int(bIn) >= batchSize {
			return nil, tensor.InvalidArgumentf("box_index[%d] = %d is outside the batch [0, %d)",
				i, bIn, batchSize)
		}
	}

	crops, err := tensor.New(numBoxes, cropHeight, cropWidth, cropDepth, channels)
	if err != nil {
		return nil, err
	}

	c := &cropper{
		image:              image.Data(),
		boxes:              boxes.Data(),
		boxIndex:           boxIndex,
		crops:              crops.Data(),
		imageHeight:        imageHeight,
		imageWidth:         imageWidth,
		imageDepth:         imageDepth,
		channels:           channels,
		cropHeight:         cropHeight,
		cropWidth:          cropWidth,
		cropDepth:          cropDepth,
		method:             method,
		extrapolationValue: opts.ExtrapolationValue,
	}
	c.run(numBoxes, opts.Workers)

	return crops, nil
}

// parseAndCheckBoxSizes validates the boxes/boxIndex pair and returns the
// box count. A zero-element pair short-circuits to zero boxes, which is a
// legal empty invocation.
func parseAndCheckBoxSizes(boxes *tensor.Dense, boxIndex []int32) (int, error) {
	if boxes.NumElements() == 0 && len(boxIndex) == 0 {
		return 0, nil
	}
	if boxes.Rank() != 2 {
		return 0, tensor.InvalidArgumentf("boxes must be 2-D, got shape %v", boxes.Shape())
	}
	numBoxes := boxes.Dim(0)
	if boxes.Dim(1) != 6 {
		return 0, tensor.InvalidArgumentf("boxes must have 6 columns, got %d", boxes.Dim(1))
	}
	if len(boxIndex) != numBoxes {
		return 0, tensor.InvalidArgumentf("box_index has incompatible length %d for %d boxes",
			len(boxIndex), numBoxes)
	}
	return numBoxes, nil
}

// cropper carries the resolved dimensions and flat buffers for one
// invocation so the per-box loops stay free of interface calls.
type cropper struct {
	image    []float32
	boxes    []float32
	boxIndex []int32
	crops    []float32

	imageHeight, imageWidth, imageDepth, channels int
	cropHeight, cropWidth, cropDepth              int

	method             Method
	extrapolationValue float32
}

// run crops every box, fanning out across boxes when more than one worker
// is available. Each box writes only its own output slab, so workers never
// contend.
func (c *cropper) run(numBoxes, workers int) {
	if numBoxes == 0 {
		return
	}
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if workers > numBoxes {
		workers = numBoxes
	}
	if workers <= 1 {
		for b := 0; b < numBoxes; b++ {
			c.cropBox(b)
		}
		return
	}

	boxesPerWorker := (numBoxes + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * boxesPerWorker
		end := start + boxesPerWorker
		if end > numBoxes {
			end = numBoxes
		}
		if start >= numBoxes {
			continue
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for b := start; b < end; b++ {
				c.cropBox(b)
			}
		}(start, end)
	}
	wg.Wait()
}

// cropBox resamples one box into its output slab.
func (c *cropper) cropBox(b int) {
	y1 := c.boxes[b*6+0]
	x1 := c.boxes[b*6+1]
	z1 := c.boxes[b*6+2]
	y2 := c.boxes[b*6+3]
	x2 := c.boxes[b*6+4]
	z2 := c.boxes[b*6+5]
	bIn := int(c.boxIndex[b])

	// Per-axis step between consecutive output samples, in input voxels.
	// A single-sample axis uses the box midpoint instead.
	var heightScale, widthScale, depthScale float32
	if c.cropHeight > 1 {
		heightScale = (y2 - y1) * float32(c.imageHeight-1) / float32(c.cropHeight-1)
	}
	if c.cropWidth > 1 {
		widthScale = (x2 - x1) * float32(c.imageWidth-1) / float32(c.cropWidth-1)
	}
	if c.cropDepth > 1 {
		depthScale = (z2 - z1) * float32(c.imageDepth-1) / float32(c.cropDepth-1)
	}

	// Strides through the flat buffers.
	imgStrideZ := c.channels
	imgStrideX := c.imageDepth * imgStrideZ
	imgStrideY := c.imageWidth * imgStrideX
	imgBase := bIn * c.imageHeight * imgStrideY

	outStrideZ := c.channels
	outStrideX := c.cropDepth * outStrideZ
	outStrideY := c.cropWidth * outStrideX
	outBase := b * c.cropHeight * outStrideY

	for y := 0; y < c.cropHeight; y++ {
		var inY float32
		if c.cropHeight > 1 {
			inY = y1*float32(c.imageHeight-1) + float32(y)*heightScale
		} else {
			inY = 0.5 * (y1 + y2) * float32(c.imageHeight-1)
		}
		yOut := outBase + y*outStrideY
		if inY < 0 || inY > float32(c.imageHeight-1) {
			fill(c.crops[yOut:yOut+outStrideY], c.extrapolationValue)
			continue
		}

		if c.method == Trilinear {
			topY := int(math.Floor(float64(inY)))
			bottomY := int(math.Ceil(float64(inY)))
			yLerp := inY - float32(topY)

			for x := 0; x < c.cropWidth; x++ {
				var inX float32
				if c.cropWidth > 1 {
					inX = x1*float32(c.imageWidth-1) + float32(x)*widthScale
				} else {
					inX = 0.5 * (x1 + x2) * float32(c.imageWidth-1)
				}
				xOut := yOut + x*outStrideX
				if inX < 0 || inX > float32(c.imageWidth-1) {
					fill(c.crops[xOut:xOut+outStrideX], c.extrapolationValue)
					continue
				}

				leftX := int(math.Floor(float64(inX)))
				rightX := int(math.Ceil(float64(inX)))
				xLerp := inX - float32(leftX)

				for z := 0; z < c.cropDepth; z++ {
					var inZ float32
					if c.cropDepth > 1 {
						inZ = z1*float32(c.imageDepth-1) + float32(z)*depthScale
					} else {
						inZ = 0.5 * (z1 + z2) * float32(c.imageDepth-1)
					}
					zOut := xOut + z*outStrideZ
					if inZ < 0 || inZ > float32(c.imageDepth-1) {
						fill(c.crops[zOut:zOut+outStrideZ], c.extrapolationValue)
						continue
					}

					forwardZ := int(math.Floor(float64(inZ)))
					backwardZ := int(math.Ceil(float64(inZ)))
					zLerp := inZ - float32(forwardZ)

					topLeft := imgBase + topY*imgStrideY + leftX*imgStrideX
					topRight := imgBase + topY*imgStrideY + rightX*imgStrideX
					bottomLeft := imgBase + bottomY*imgStrideY + leftX*imgStrideX
					bottomRight := imgBase + bottomY*imgStrideY + rightX*imgStrideX

					for d := 0; d < c.channels; d++ {
						topLeftForward := c.image[topLeft+forwardZ*imgStrideZ+d]
						topLeftBackward := c.image[topLeft+backwardZ*imgStrideZ+d]
						topRightForward := c.image[topRight+forwardZ*imgStrideZ+d]
						topRightBackward := c.image[topRight+backwardZ*imgStrideZ+d]
						bottomLeftForward := c.image[bottomLeft+forwardZ*imgStrideZ+d]
						bottomLeftBackward := c.image[bottomLeft+backwardZ*imgStrideZ+d]
						bottomRightForward := c.image[bottomRight+forwardZ*imgStrideZ+d]
						bottomRightBackward := c.image[bottomRight+backwardZ*imgStrideZ+d]

						// Reduce along z, then x, then y. The order fixes
						// the floating-point result.
						topLeftV := topLeftForward + (topLeftBackward-topLeftForward)*zLerp
						topRightV := topRightForward + (topRightBackward-topRightForward)*zLerp
						bottomLeftV := bottomLeftForward + (bottomLeftBackward-bottomLeftForward)*zLerp
						bottomRightV := bottomRightForward + (bottomRightBackward-bottomRightForward)*zLerp
						top := topLeftV + (topRightV-topLeftV)*xLerp
						bottom := bottomLeftV + (bottomRightV-bottomLeftV)*xLerp
						c.crops[zOut+d] = top + (bottom-top)*yLerp
					}
				}
			}
		} else { // nearest
			closestY := int(math.Round(float64(inY)))

			for x := 0; x < c.cropWidth; x++ {
				var inX float32
				if c.cropWidth > 1 {
					inX = x1*float32(c.imageWidth-1) + float32(x)*widthScale
				} else {
					inX = 0.5 * (x1 + x2) * float32(c.imageWidth-1)
				}
				xOut := yOut + x*outStrideX
				if inX < 0 || inX > float32(c.imageWidth-1) {
					fill(c.crops[xOut:xOut+outStrideX], c.extrapolationValue)
					continue
				}
				closestX := int(math.Round(float64(inX)))

				for z := 0; z < c.cropDepth; z++ {
					var inZ float32
					if c.cropDepth > 1 {
						inZ = z1*float32(c.imageDepth-1) + float32(z)*depthScale
					} else {
						inZ = 0.5 * (z1 + z2) * float32(c.imageDepth-1)
					}
					zOut := xOut + z*outStrideZ
					if inZ < 0 || inZ > float32(c.imageDepth-1) {
						fill(c.crops[zOut:zOut+outStrideZ], c.extrapolationValue)
						continue
					}
					closestZ := int(math.Round(float64(inZ)))

					src := imgBase + closestY*imgStrideY + closestX*imgStrideX + closestZ*imgStrideZ
					copy(c.crops[zOut:zOut+c.channels], c.image[src:src+c.channels])
				}
			}
		}
	}
}

// fill writes v to every element of dst.
func fill(dst []float32, v float32) {
	for i := range dst {
		dst[i] = v
	}
}
