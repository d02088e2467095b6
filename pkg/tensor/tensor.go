// Package tensor provides the dense float32 tensor type shared by the
// detect3d kernels, along with the error kinds kernels report for invalid
// inputs. Tensors are immutable by convention once handed to a kernel;
// kernels allocate fresh tensors for their outputs.
package tensor

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is the kind wrapped by every shape, rank, length or
// parameter-value violation reported by the kernels. Computation is aborted
// before any output is produced.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrInternal is the kind reserved for states that indicate a bug rather
// than bad input, such as a selected index escaping its candidate range.
var ErrInternal = errors.New("internal error")

// InvalidArgumentf builds an ErrInvalidArgument with a formatted message.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Internalf builds an ErrInternal with a formatted message.
func Internalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInternal, fmt.Sprintf(format, args...))
}

// Dense is a dense float32 tensor stored as a flat slice in row-major
// order (the last index varies fastest).
type Dense struct {
	// shape holds the extent of each dimension
	shape []int

	// strides holds the number of elements between consecutive indices
	// along each dimension
	strides []int

	// data is the flat backing array, of length equal to the product
	// of the shape
	data []float32
}

// New creates a zero-filled tensor with the given shape. Dimensions must be
// non-negative; a zero dimension yields a legal empty tensor.
func New(shape ...int) (*Dense, error) {
	n := 1
	for i, d := range shape {
		if d < 0 {
			return nil, InvalidArgumentf("tensor dimension %d is negative (%d)", i, d)
		}
		n *= d
	}
	return &Dense{
		shape:   append([]int(nil), shape...),
		strides: computeStrides(shape),
		data:    make([]float32, n),
	}, nil
}

// FromSlice wraps an existing flat slice as a tensor with the given shape.
// The slice is used directly, not copied, so the caller must not mutate it
// while the tensor is in use.
func FromSlice(data []float32, shape ...int) (*Dense, error) {
	n := 1
	for i, d := range shape {
		if d < 0 {
			return nil, InvalidArgumentf("tensor dimension %d is negative (%d)", i, d)
		}
		n *= d
	}
	if len(data) != n {
		return nil, InvalidArgumentf("data length %d does not match shape %v (%d elements)",
			len(data), shape, n)
	}
	return &Dense{
		shape:   append([]int(nil), shape...),
		strides: computeStrides(shape),
		data:    data,
	}, nil
}

// computeStrides returns row-major strides for the given shape.
func computeStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

// Rank returns the number of dimensions.
func (t *Dense) Rank() int {
	return len(t.shape)
}

// Dim returns the extent of dimension i.
func (t *Dense) Dim(i int) int {
	return t.shape[i]
}

// Shape returns a copy of the tensor's shape.
func (t *Dense) Shape() []int {
	return append([]int(nil), t.shape...)
}

// NumElements returns the total number of elements.
func (t *Dense) NumElements() int {
	return len(t.data)
}

// Data returns the flat backing slice. Kernels use it for stride-computed
// inner loops; external callers should treat it as read-only.
func (t *Dense) Data() []float32 {
	return t.data
}

// Offset returns the flat index of the element at the given coordinates.
// It panics if the number of indices does not match the rank or an index is
// out of range; those are programmer errors, not input validation.
func (t *Dense) Offset(indices ...int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("tensor: got %d indices for rank-%d tensor", len(indices), len(t.shape)))
	}
	off := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of range [0,%d) in dimension %d", idx, t.shape[i], i))
		}
		off += idx * t.strides[i]
	}
	return off
}

// At returns the element at the given coordinates.
func (t *Dense) At(indices ...int) float32 {
	return t.data[t.Offset(indices...)]
}

// Set stores value at the given coordinates.
func (t *Dense) Set(value float32, indices ...int) {
	t.data[t.Offset(indices...)] = value
}
