package models

// Box represents an axis-aligned 3D region in normalized coordinates.
// The corners are directed: for resampling, (Y2,X2,Z2) may lie on the
// "smaller" side of (Y1,X1,Z1), which reverses the sampling ray. Overlap
// computations treat the corners as undirected and take per-axis min/max.
type Box struct {
	// Y1, X1, Z1 is the first corner of the box
	Y1, X1, Z1 float32

	// Y2, X2, Z2 is the second corner of the box
	Y2, X2, Z2 float32
}

// BoxFromSlice builds a Box from six consecutive values laid out as
// (y1, x1, z1, y2, x2, z2), the row layout of a boxes tensor.
func BoxFromSlice(v []float32) Box {
	return Box{Y1: v[0], X1: v[1], Z1: v[2], Y2: v[3], X2: v[4], Z2: v[5]}
}

// Coords returns the box corners in tensor row order.
func (b Box) Coords() [6]float32 {
	return [6]float32{b.Y1, b.X1, b.Z1, b.Y2, b.X2, b.Z2}
}

// Min returns the per-axis minima (y, x, z) of the undirected box.
func (b Box) Min() (y, x, z float32) {
	return min32(b.Y1, b.Y2), min32(b.X1, b.X2), min32(b.Z1, b.Z2)
}

// Max returns the per-axis maxima (y, x, z) of the undirected box.
func (b Box) Max() (y, x, z float32) {
	return max32(b.Y1, b.Y2), max32(b.X1, b.X2), max32(b.Z1, b.Z2)
}

// Volume returns the product of the undirected extents. Degenerate boxes
// yield zero.
func (b Box) Volume() float32 {
	yMin, xMin, zMin := b.Min()
	yMax, xMax, zMax := b.Max()
	return (yMax - yMin) * (xMax - xMin) * (zMax - zMin)
}

// Clip returns the box with every coordinate clamped to [0, 1].
func (b Box) Clip() Box {
	return Box{
		Y1: clamp01(b.Y1), X1: clamp01(b.X1), Z1: clamp01(b.Z1),
		Y2: clamp01(b.Y2), X2: clamp01(b.X2), Z2: clamp01(b.Z2),
	}
}

// Detection pairs a box with its score and class label, as produced by the
// suppression stage of a detection pipeline.
type Detection struct {
	// Box is the detected region
	Box Box

	// Index is the position of the box in the candidate list it came from
	Index int

	// Score is the detection confidence
	Score float32

	// Class is the class label for multi-class suppression; zero for
	// single-class pipelines
	Class int
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
