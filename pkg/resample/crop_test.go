package resample

import (
	"errors"
	"math"
	"testing"

	"detect3d/pkg/tensor"
)

// TestCropAndResizeTrilinearIdentity verifies that a full-volume box with a
// matching crop size reproduces the input exactly
func TestCropAndResizeTrilinearIdentity(t *testing.T) {
	vol := sequentialVolume(1, 2, 2, 2, 1)
	boxes := boxesTensor([]float32{0, 0, 0, 1, 1, 1})

	crops, err := CropAndResize3D(vol, boxes, []int32{0}, []int32{2, 2, 2}, Options{})
	if err != nil {
		t.Fatalf("CropAndResize3D failed: %v", err)
	}

	wantShape := []int{1, 2, 2, 2, 1}
	checkShape(t, crops, wantShape)

	volData := vol.Data()
	cropData := crops.Data()
	for i := range volData {
		if cropData[i] != volData[i] {
			t.Errorf("Element %d: expected %f, got %f", i, volData[i], cropData[i])
		}
	}
}

// TestCropAndResizeTrilinearCenter verifies the single-sample case: a crop
// of (1,1,1) samples the box center, the mean of the eight corners
func TestCropAndResizeTrilinearCenter(t *testing.T) {
	vol := sequentialVolume(1, 2, 2, 2, 1)
	boxes := boxesTensor([]float32{0, 0, 0, 1, 1, 1})

	crops, err := CropAndResize3D(vol, boxes, []int32{0}, []int32{1, 1, 1}, Options{})
	if err != nil {
		t.Fatalf("CropAndResize3D failed: %v", err)
	}

	got := crops.At(0, 0, 0, 0, 0)
	if got != 4.5 {
		t.Errorf("Expected center sample 4.5, got %f", got)
	}
}

// TestCropAndResizeExtrapolation verifies that a box entirely outside the
// volume produces only the extrapolation value
func TestCropAndResizeExtrapolation(t *testing.T) {
	vol := sequentialVolume(1, 2, 2, 2, 1)
	boxes := boxesTensor([]float32{-1, -1, -1, -0.5, -0.5, -0.5})

	crops, err := CropAndResize3D(vol, boxes, []int32{0}, []int32{2, 2, 2},
		Options{ExtrapolationValue: 7.0})
	if err != nil {
		t.Fatalf("CropAndResize3D failed: %v", err)
	}

	for i, v := range crops.Data() {
		if v != 7.0 {
			t.Errorf("Element %d: expected extrapolation value 7.0, got %f", i, v)
		}
	}
}

// TestCropAndResizeNearestGridAligned verifies that nearest-neighbor
// resampling reproduces the input for a grid-aligned box
func TestCropAndResizeNearestGridAligned(t *testing.T) {
	vol := sequentialVolume(1, 2, 2, 2, 1)
	boxes := boxesTensor([]float32{0, 0, 0, 1, 1, 1})

	crops, err := CropAndResize3D(vol, boxes, []int32{0}, []int32{2, 2, 2},
		Options{Method: Nearest})
	if err != nil {
		t.Fatalf("CropAndResize3D failed: %v", err)
	}

	volData := vol.Data()
	cropData := crops.Data()
	for i := range volData {
		if cropData[i] != volData[i] {
			t.Errorf("Element %d: expected %f, got %f", i, volData[i], cropData[i])
		}
	}
}

// TestCropAndResizeMethodsAgreeOnGrid verifies that trilinear and nearest
// produce identical outputs when every sample lands on an integer grid point
func TestCropAndResizeMethodsAgreeOnGrid(t *testing.T) {
	vol := sequentialVolume(1, 5, 5, 5, 1)
	// 0.25 and 0.75 scale to voxel coordinates 1 and 3 on a 5-wide axis,
	// and three samples step through 1, 2, 3 exactly.
	boxes := boxesTensor([]float32{0.25, 0.25, 0.25, 0.75, 0.75, 0.75})

	tri, err := CropAndResize3D(vol, boxes, []int32{0}, []int32{3, 3, 3}, Options{})
	if err != nil {
		t.Fatalf("trilinear failed: %v", err)
	}
	near, err := CropAndResize3D(vol, boxes, []int32{0}, []int32{3, 3, 3},
		Options{Method: Nearest})
	if err != nil {
		t.Fatalf("nearest failed: %v", err)
	}

	triData := tri.Data()
	nearData := near.Data()
	for i := range triData {
		if triData[i] != nearData[i] {
			t.Errorf("Element %d: trilinear %f != nearest %f", i, triData[i], nearData[i])
		}
	}

	// Both must equal the volume at the sampled grid points
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			for z := 0; z < 3; z++ {
				want := vol.At(0, y+1, x+1, z+1, 0)
				if got := tri.At(0, y, x, z, 0); got != want {
					t.Errorf("Grid point (%d,%d,%d): expected %f, got %f", y, x, z, want, got)
				}
			}
		}
	}
}

// TestCropAndResizeOutputShape verifies the output shape across a range of
// crop sizes, channel counts and box counts
func TestCropAndResizeOutputShape(t *testing.T) {
	testCases := []struct {
		batch, height, width, depth, channels int
		numBoxes                              int
		crop                                  []int32
	}{
		{1, 4, 4, 4, 1, 1, []int32{2, 2, 2}},
		{2, 3, 5, 7, 2, 3, []int32{4, 1, 6}},
		{1, 2, 2, 2, 3, 2, []int32{1, 1, 1}},
	}

	for i, tc := range testCases {
		vol := sequentialVolume(tc.batch, tc.height, tc.width, tc.depth, tc.channels)
		rows := make([][]float32, 0, tc.numBoxes)
		index := make([]int32, tc.numBoxes)
		for b := 0; b < tc.numBoxes; b++ {
			rows = append(rows, []float32{0, 0, 0, 1, 1, 1})
		}
		boxes := boxesTensor(rows...)

		crops, err := CropAndResize3D(vol, boxes, index, tc.crop, Options{})
		if err != nil {
			t.Fatalf("Case %d: CropAndResize3D failed: %v", i, err)
		}

		want := []int{tc.numBoxes, int(tc.crop[0]), int(tc.crop[1]), int(tc.crop[2]), tc.channels}
		checkShape(t, crops, want)
	}
}

// TestCropAndResizeReversedBox verifies that swapped corners sample the
// volume along a reversed ray
func TestCropAndResizeReversedBox(t *testing.T) {
	vol := sequentialVolume(1, 2, 2, 2, 1)
	// y corners swapped: output rows come out in reverse y order
	boxes := boxesTensor([]float32{1, 0, 0, 0, 1, 1})

	crops, err := CropAndResize3D(vol, boxes, []int32{0}, []int32{2, 2, 2}, Options{})
	if err != nil {
		t.Fatalf("CropAndResize3D failed: %v", err)
	}

	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			for z := 0; z < 2; z++ {
				want := vol.At(0, 1-y, x, z, 0)
				if got := crops.At(0, y, x, z, 0); got != want {
					t.Errorf("(%d,%d,%d): expected %f, got %f", y, x, z, want, got)
				}
			}
		}
	}
}

// TestCropAndResizeDegenerateBox verifies that a box with identical corners
// samples one point for every output cell
func TestCropAndResizeDegenerateBox(t *testing.T) {
	vol := sequentialVolume(1, 3, 3, 3, 1)
	boxes := boxesTensor([]float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5})

	crops, err := CropAndResize3D(vol, boxes, []int32{0}, []int32{2, 2, 2}, Options{})
	if err != nil {
		t.Fatalf("CropAndResize3D failed: %v", err)
	}

	want := vol.At(0, 1, 1, 1, 0)
	for i, v := range crops.Data() {
		if v != want {
			t.Errorf("Element %d: expected %f, got %f", i, want, v)
		}
	}
}

// TestCropAndResizeZeroBoxes verifies that an empty box list produces an
// empty output while crop dimensions are still validated
func TestCropAndResizeZeroBoxes(t *testing.T) {
	vol := sequentialVolume(1, 2, 2, 2, 1)
	boxes, err := tensor.New(0, 6)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	crops, err := CropAndResize3D(vol, boxes, nil, []int32{2, 2, 2}, Options{})
	if err != nil {
		t.Fatalf("CropAndResize3D failed: %v", err)
	}
	checkShape(t, crops, []int{0, 2, 2, 2, 1})
	if crops.NumElements() != 0 {
		t.Errorf("Expected empty output, got %d elements", crops.NumElements())
	}

	// Crop extents are validated even with no boxes
	if _, err := CropAndResize3D(vol, boxes, nil, []int32{0, 2, 2}, Options{}); err == nil {
		t.Error("Expected error for non-positive crop size with zero boxes")
	}
}

// TestCropAndResizeValidation verifies that malformed inputs are rejected
// with invalid-argument errors
func TestCropAndResizeValidation(t *testing.T) {
	vol := sequentialVolume(2, 2, 2, 2, 1)
	goodBoxes := boxesTensor([]float32{0, 0, 0, 1, 1, 1})

	flat4d, _ := tensor.New(2, 2, 2, 2)
	fiveCols, _ := tensor.FromSlice([]float32{0, 0, 0, 1, 1}, 1, 5)
	rank1, _ := tensor.FromSlice([]float32{0, 0, 0, 1, 1, 1}, 6)
	zeroHeight, _ := tensor.New(1, 0, 2, 2, 1)

	testCases := []struct {
		name     string
		image    *tensor.Dense
		boxes    *tensor.Dense
		boxIndex []int32
		crop     []int32
		opts     Options
	}{
		{"image not 5-D", flat4d, goodBoxes, []int32{0}, []int32{2, 2, 2}, Options{}},
		{"zero image height", zeroHeight, goodBoxes, []int32{0}, []int32{2, 2, 2}, Options{}},
		{"boxes not 2-D", vol, rank1, []int32{0}, []int32{2, 2, 2}, Options{}},
		{"boxes with 5 columns", vol, fiveCols, []int32{0}, []int32{2, 2, 2}, Options{}},
		{"box_index length mismatch", vol, goodBoxes, []int32{0, 1}, []int32{2, 2, 2}, Options{}},
		{"crop_size too short", vol, goodBoxes, []int32{0}, []int32{2, 2}, Options{}},
		{"non-positive crop", vol, goodBoxes, []int32{0}, []int32{2, 0, 2}, Options{}},
		{"unknown method", vol, goodBoxes, []int32{0}, []int32{2, 2, 2}, Options{Method: "bicubic"}},
		{"box_index negative", vol, goodBoxes, []int32{-1}, []int32{2, 2, 2}, Options{}},
		{"box_index beyond batch", vol, goodBoxes, []int32{2}, []int32{2, 2, 2}, Options{}},
	}

	for _, tc := range testCases {
		_, err := CropAndResize3D(tc.image, tc.boxes, tc.boxIndex, tc.crop, tc.opts)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !errors.Is(err, tensor.ErrInvalidArgument) {
			t.Errorf("%s: expected ErrInvalidArgument, got %v", tc.name, err)
		}
	}
}

// TestCropAndResizePartialOutOfBounds verifies the per-axis short-circuit:
// out-of-bounds rows are filled with the extrapolation value while
// in-bounds rows are resampled normally
func TestCropAndResizePartialOutOfBounds(t *testing.T) {
	vol := sequentialVolume(1, 4, 4, 4, 1)
	const extra = -1.0

	// y runs from -0.5 to 0.5 in volume terms: samples land at
	// -1.5, 0 and 1.5 voxels, so the first output row is extrapolated.
	boxes := boxesTensor([]float32{-0.5, 0, 0, 0.5, 1, 1})
	crops, err := CropAndResize3D(vol, boxes, []int32{0}, []int32{3, 2, 2},
		Options{ExtrapolationValue: extra})
	if err != nil {
		t.Fatalf("CropAndResize3D failed: %v", err)
	}

	for x := 0; x < 2; x++ {
		for z := 0; z < 2; z++ {
			if got := crops.At(0, 0, x, z, 0); got != extra {
				t.Errorf("Out-of-bounds row: expected %f at (0,%d,%d), got %f", extra, x, z, got)
			}
			if got := crops.At(0, 1, x, z, 0); got == extra {
				t.Errorf("In-bounds row unexpectedly extrapolated at (1,%d,%d)", x, z)
			}
		}
	}

	// Same situation on the z axis: within each (y,x) cell, only the
	// out-of-bounds z samples are extrapolated.
	boxes = boxesTensor([]float32{0, 0, -0.5, 1, 1, 0.5})
	crops, err = CropAndResize3D(vol, boxes, []int32{0}, []int32{2, 2, 3},
		Options{ExtrapolationValue: extra})
	if err != nil {
		t.Fatalf("CropAndResize3D failed: %v", err)
	}

	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if got := crops.At(0, y, x, 0, 0); got != extra {
				t.Errorf("Out-of-bounds z: expected %f at (%d,%d,0), got %f", extra, y, x, got)
			}
			if got := crops.At(0, y, x, 1, 0); got == extra {
				t.Errorf("In-bounds z unexpectedly extrapolated at (%d,%d,1)", y, x)
			}
			if got := crops.At(0, y, x, 2, 0); got == extra {
				t.Errorf("In-bounds z unexpectedly extrapolated at (%d,%d,2)", y, x)
			}
		}
	}
}

// TestCropAndResizeNearestAsymmetricCrop verifies nearest-neighbor output on
// a crop whose width and depth differ, covering the full depth extent
func TestCropAndResizeNearestAsymmetricCrop(t *testing.T) {
	vol := sequentialVolume(1, 4, 4, 4, 1)
	boxes := boxesTensor([]float32{0, 0, 0, 1, 1, 1})

	crops, err := CropAndResize3D(vol, boxes, []int32{0}, []int32{2, 2, 3},
		Options{Method: Nearest})
	if err != nil {
		t.Fatalf("CropAndResize3D failed: %v", err)
	}

	// Samples land at 0 and 3 voxels along y and x, and at 0, 1.5, 3
	// along z; 1.5 rounds away from zero to 2.
	wantY := []int{0, 3}
	wantX := []int{0, 3}
	wantZ := []int{0, 2, 3}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			for z := 0; z < 3; z++ {
				want := vol.At(0, wantY[y], wantX[x], wantZ[z], 0)
				if got := crops.At(0, y, x, z, 0); got != want {
					t.Errorf("(%d,%d,%d): expected %f, got %f", y, x, z, want, got)
				}
			}
		}
	}
}

// TestCropAndResizeChannels verifies that channels are resampled
// independently
func TestCropAndResizeChannels(t *testing.T) {
	vol, err := tensor.New(1, 2, 2, 2, 2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	val := float32(1)
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			for z := 0; z < 2; z++ {
				vol.Set(val, 0, y, x, z, 0)
				vol.Set(val+100, 0, y, x, z, 1)
				val++
			}
		}
	}

	boxes := boxesTensor([]float32{0, 0, 0, 1, 1, 1})
	crops, err := CropAndResize3D(vol, boxes, []int32{0}, []int32{1, 1, 1}, Options{})
	if err != nil {
		t.Fatalf("CropAndResize3D failed: %v", err)
	}

	c0 := crops.At(0, 0, 0, 0, 0)
	c1 := crops.At(0, 0, 0, 0, 1)
	if math.Abs(float64(c1-c0-100)) > 1e-4 {
		t.Errorf("Expected channel 1 = channel 0 + 100, got %f and %f", c0, c1)
	}
}

// TestCropAndResizeWorkerCountInvariance verifies that the worker count
// never changes the output
func TestCropAndResizeWorkerCountInvariance(t *testing.T) {
	vol := sequentialVolume(2, 6, 5, 4, 2)
	rows := [][]float32{
		{0, 0, 0, 1, 1, 1},
		{0.2, 0.1, 0.3, 0.9, 0.8, 0.7},
		{-0.2, 0, 0, 1.2, 1, 1},
		{0.5, 0.5, 0.5, 0.5, 0.5, 0.5},
		{1, 1, 1, 0, 0, 0},
	}
	boxes := boxesTensor(rows...)
	index := []int32{0, 1, 0, 1, 0}

	single, err := CropAndResize3D(vol, boxes, index, []int32{3, 4, 2}, Options{Workers: 1})
	if err != nil {
		t.Fatalf("single-worker run failed: %v", err)
	}
	parallel, err := CropAndResize3D(vol, boxes, index, []int32{3, 4, 2}, Options{Workers: 4})
	if err != nil {
		t.Fatalf("parallel run failed: %v", err)
	}

	s := single.Data()
	p := parallel.Data()
	for i := range s {
		if s[i] != p[i] {
			t.Fatalf("Element %d differs between worker counts: %f vs %f", i, s[i], p[i])
		}
	}
}

// BenchmarkCropAndResizeTrilinear benchmarks trilinear cropping of a
// realistic feature volume
func BenchmarkCropAndResizeTrilinear(b *testing.B) {
	vol := sequentialVolume(1, 32, 32, 32, 4)
	rows := make([][]float32, 16)
	index := make([]int32, 16)
	for i := range rows {
		f := float32(i) / 16
		rows[i] = []float32{f * 0.5, f * 0.3, f * 0.2, 0.5 + f*0.5, 0.6 + f*0.4, 0.7 + f*0.3}
	}
	boxes := boxesTensor(rows...)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := CropAndResize3D(vol, boxes, index, []int32{8, 8, 8}, Options{Workers: 1}); err != nil {
			b.Fatalf("CropAndResize3D failed: %v", err)
		}
	}
}

// BenchmarkCropAndResizeNearest benchmarks nearest-neighbor cropping
func BenchmarkCropAndResizeNearest(b *testing.B) {
	vol := sequentialVolume(1, 32, 32, 32, 4)
	rows := make([][]float32, 16)
	index := make([]int32, 16)
	for i := range rows {
		f := float32(i) / 16
		rows[i] = []float32{f * 0.5, f * 0.3, f * 0.2, 0.5 + f*0.5, 0.6 + f*0.4, 0.7 + f*0.3}
	}
	boxes := boxesTensor(rows...)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := CropAndResize3D(vol, boxes, index, []int32{8, 8, 8},
			Options{Method: Nearest, Workers: 1}); err != nil {
			b.Fatalf("CropAndResize3D failed: %v", err)
		}
	}
}

// Helper functions for tests

// sequentialVolume creates a volume whose elements count up from 1 in
// row-major order, which makes expected interpolation values easy to derive
func sequentialVolume(batch, height, width, depth, channels int) *tensor.Dense {
	vol, _ := tensor.New(batch, height, width, depth, channels)
	data := vol.Data()
	for i := range data {
		data[i] = float32(i + 1)
	}
	return vol
}

// boxesTensor builds a (n, 6) boxes tensor from row slices
func boxesTensor(rows ...[]float32) *tensor.Dense {
	flat := make([]float32, 0, len(rows)*6)
	for _, r := range rows {
		flat = append(flat, r...)
	}
	boxes, _ := tensor.FromSlice(flat, len(rows), 6)
	return boxes
}

// checkShape fails the test when the tensor shape differs from want
func checkShape(t *testing.T, d *tensor.Dense, want []int) {
	t.Helper()
	got := d.Shape()
	if len(got) != len(want) {
		t.Fatalf("Expected rank %d, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected shape %v, got %v", want, got)
		}
	}
}
