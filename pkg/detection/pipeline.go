// Package detection chains the two kernels into a small pipeline: candidate
// boxes are pruned with non-maximum suppression, the survivors are cropped
// out of the feature volume, and each crop is summarized with basic
// statistics.
package detection

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"detect3d/internal/models"
	"detect3d/pkg/resample"
	"detect3d/pkg/suppression"
	"detect3d/pkg/tensor"
)

// ProgressCallback is a function that reports progress during extraction
type ProgressCallback func(completed, total int, message string)

// Params holds the extraction parameters controlling both pipeline stages.
type Params struct {
	// MaxOutputSize caps the number of boxes surviving suppression.
	MaxOutputSize int

	// IoUThreshold is the overlap above which a candidate is suppressed.
	IoUThreshold float32

	// ScoreThreshold excludes candidates scoring at or below it. Use a
	// large negative value to admit everything.
	ScoreThreshold float32

	// SoftNMSSigma enables Gaussian score decay when positive.
	SoftNMSSigma float32

	// CropSize gives the (height, width, depth) extents of each crop.
	CropSize []int32

	// Method selects the resampling kernel; empty means trilinear.
	Method resample.Method

	// ExtrapolationValue fills samples outside the volume.
	ExtrapolationValue float32

	// Workers bounds the goroutines used for cropping. Zero or negative
	// uses one per CPU.
	Workers int
}

// CropStats summarizes the voxel values of one extracted crop.
type CropStats struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// Result bundles the survivors of suppression with their resampled crops.
type Result struct {
	// Detections lists the surviving boxes in selection order with
	// their (possibly decayed) scores.
	Detections []models.Detection

	// Crops is the (numDetections, cropH, cropW, cropD, C) output of the
	// resampler, aligned with Detections.
	Crops *tensor.Dense

	// Stats holds per-crop voxel statistics, aligned with Detections.
	Stats []CropStats
}

// Extractor runs the suppression and cropping stages over one volume.
type Extractor struct {
	params           *Params
	progressCallback ProgressCallback
}

// NewExtractor creates an extractor with the provided parameters.
func NewExtractor(params *Params) *Extractor {
	return &Extractor{params: params}
}

// SetProgressCallback sets a callback function to report progress during
// extraction. The callback receives the number of completed items, the
// total number of items, and a message string. If the message is not
// empty, it should be displayed to the user; otherwise the callback should
// update a progress indicator.
func (e *Extractor) SetProgressCallback(callback ProgressCallback) {
	e.progressCallback = callback
}

func (e *Extractor) reportProgress(completed, total int, message string) {
	if e.progressCallback != nil {
		e.progressCallback(completed, total, message)
	}
}

// Process prunes the candidate boxes, crops the survivors out of the
// volume and computes per-crop statistics. image is a (B, H, W, D, C)
// volume, boxes a (N, 6) tensor of normalized coordinates, boxIndex the
// batch element of each box, scores the candidate confidences.
func (e *Extractor) Process(image, boxes *tensor.Dense, boxIndex []int32, scores []float32) (*Result, error) {
	p := e.params
	if len(boxIndex) != len(scores) {
		return nil, tensor.InvalidArgumentf("box_index has incompatible length %d for %d boxes", len(boxIndex), len(scores))
	}

	e.reportProgress(0, 0, "Step 1: Suppressing overlapping candidates...")
	suppressed, err := suppression.NonMaxSuppressionWithScores3D(boxes, scores,
		p.MaxOutputSize, p.IoUThreshold, suppression.Params{
			ScoreThreshold: p.ScoreThreshold,
			SoftNMSSigma:   p.SoftNMSSigma,
		})
	if err != nil {
		return nil, fmt.Errorf("suppression failed: %w", err)
	}

	numSelected := suppressed.NumValid
	e.reportProgress(0, 0, fmt.Sprintf("Selected %d of %d candidates", numSelected, len(scores)))

	// Gather the surviving rows into a fresh boxes tensor
	boxData := boxes.Data()
	selectedFlat := make([]float32, 0, numSelected*6)
	selectedIndex := make([]int32, 0, numSelected)
	detections := make([]models.Detection, 0, numSelected)
	for i := 0; i < numSelected; i++ {
		idx := int(suppressed.SelectedIndices[i])
		if idx < 0 || idx >= len(scores) {
			return nil, tensor.Internalf("selected index %d out of range for %d candidates", idx, len(scores))
		}
		row := boxData[idx*6 : idx*6+6]
		selectedFlat = append(selectedFlat, row...)
		selectedIndex = append(selectedIndex, boxIndex[idx])
		detections = append(detections, models.Detection{
			Box:   models.BoxFromSlice(row),
			Index: idx,
			Score: suppressed.SelectedScores[i],
		})
	}
	selectedBoxes, err := tensor.FromSlice(selectedFlat, numSelected, 6)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble survivor boxes: %w", err)
	}

	e.reportProgress(0, 0, "Step 2: Cropping survivors from the volume...")
	crops, err := resample.CropAndResize3D(image, selectedBoxes, selectedIndex,
		p.CropSize, resample.Options{
			Method:             p.Method,
			ExtrapolationValue: p.ExtrapolationValue,
			Workers:            p.Workers,
		})
	if err != nil {
		return nil, fmt.Errorf("cropping failed: %w", err)
	}

	e.reportProgress(0, 0, "Step 3: Computing crop statistics...")
	stats := cropStatistics(crops, numSelected, e.reportProgress)

	return &Result{
		Detections: detections,
		Crops:      crops,
		Stats:      stats,
	}, nil
}

// cropStatistics summarizes each crop in the (N, h, w, d, C) tensor.
func cropStatistics(crops *tensor.Dense, numCrops int, report func(int, int, string)) []CropStats {
	stats := make([]CropStats, numCrops)
	if numCrops == 0 {
		return stats
	}

	cells := crops.NumElements() / numCrops
	data := crops.Data()
	buf := make([]float64, cells)

	for i := 0; i < numCrops; i++ {
		for j, v := range data[i*cells : (i+1)*cells] {
			buf[j] = float64(v)
		}
		stats[i] = summarize(buf)
		report(i+1, numCrops, "")
	}
	return stats
}

// summarize reduces one crop's voxels to summary statistics.
func summarize(values []float64) CropStats {
	if len(values) == 0 {
		return CropStats{}
	}
	s := CropStats{
		Mean: stat.Mean(values, nil),
		Min:  floats.Min(values),
		Max:  floats.Max(values),
	}
	if len(values) > 1 {
		s.StdDev = stat.StdDev(values, nil)
	}
	return s
}
