package resample

import "detect3d/pkg/tensor"

// The gradient operators are declaration-only: their output-shape rules are
// defined here so a caller can pre-allocate or validate, but no gradient
// kernels exist.

// GradImageShape returns the output shape of the image gradient of
// CropAndResize3D. imageSize names the five extents (batch, height, width,
// depth, channels) of the original input volume; the gradient has exactly
// that shape. Both interpolation methods are declared.
func GradImageShape(imageSize []int32, method Method) ([]int, error) {
	if method == "" {
		method = Trilinear
	}
	if method != Trilinear && method != Nearest {
		return nil, tensor.InvalidArgumentf("method must be 'trilinear' or 'nearest', got %q", string(method))
	}
	if len(imageSize) != 5 {
		return nil, tensor.InvalidArgumentf("image_size must have 5 elements, got %d", len(imageSize))
	}
	shape := make([]int, 5)
	for i, d := range imageSize {
		if d < 0 {
			return nil, tensor.InvalidArgumentf("image_size[%d] = %d is negative", i, d)
		}
		shape[i] = int(d)
	}
	return shape, nil
}

// GradBoxesShape returns the output shape of the boxes gradient of
// CropAndResize3D, which matches the boxes input (numBoxes, 6). Only the
// trilinear method is declared for this gradient.
func GradBoxesShape(boxes *tensor.Dense, method Method) ([]int, error) {
	if method == "" {
		method = Trilinear
	}
	if method != Trilinear {
		return nil, tensor.InvalidArgumentf("method must be 'trilinear', got %q", string(method))
	}
	if boxes.Rank() != 2 {
		return nil, tensor.InvalidArgumentf("boxes must be 2-D, got shape %v", boxes.Shape())
	}
	if boxes.Dim(1) != 6 {
		return nil, tensor.InvalidArgumentf("boxes must have 6 columns, got %d", boxes.Dim(1))
	}
	return boxes.Shape(), nil
}
