package suppression

import (
	"math"
	"sort"

	"detect3d/internal/models"
	"detect3d/pkg/tensor"
)

// BatchedParams configures CombinedNonMaxSuppression3D.
type BatchedParams struct {
	MaxSizePerClass int     // selection cap for each class within a batch element
	MaxTotalSize    int     // cap on merged detections per batch element
	IoUThreshold    float32 // candidates overlapping a selection above this are dropped
	ScoreThreshold  float32 // candidates must score strictly above this value
	PadPerClass     bool    // pad to min(MaxTotalSize, MaxSizePerClass*numClasses) instead of MaxTotalSize
	ClipBoxes       bool    // clamp output coordinates to [0, 1]
}

// DefaultBatchedParams returns the defaults for the optional knobs: IoU
// threshold 0.5, no score threshold, clipping enabled. The two size caps
// have no default and must be set by the caller.
func DefaultBatchedParams() BatchedParams {
	return BatchedParams{
		IoUThreshold:   0.5,
		ScoreThreshold: -math.MaxFloat32,
		ClipBoxes:      true,
	}
}

// BatchedResult holds the merged detections of CombinedNonMaxSuppression3D.
// All three tensors share the leading (batch, perBatchSize) extents; slots
// past the valid count are zero.
type BatchedResult struct {
	Boxes           *tensor.Dense // (batch, perBatchSize, 6)
	Scores          *tensor.Dense // (batch, perBatchSize)
	Classes         *tensor.Dense // (batch, perBatchSize), class ids as float32
	ValidDetections []int32       // detections per batch element before padding
}

// resultCandidate is a per-class survivor waiting for the cross-class merge.
type resultCandidate struct {
	index int
	score float32
	class int
	box   models.Box
}

// CombinedNonMaxSuppression3D runs classical non-maximum suppression
// independently per batch element and per class, then merges each batch
// element's survivors into a single detection set sorted by descending
// score and truncated to the per-batch cap.
//
// boxes is (batch, numBoxes, q, 6) with q either 1 (shared boxes) or
// numClasses (per-class boxes); scores is (batch, numBoxes, numClasses).
// As in the single-class kernel, only an IoU strictly greater than the
// threshold suppresses; a candidate exactly at the threshold survives.
func CombinedNonMaxSuppression3D(boxes, scores *tensor.Dense, params BatchedParams) (BatchedResult, error) {
	if err := checkIoUThreshold(params.IoUThreshold); err != nil {
		return BatchedResult{}, err
	}
	if scores.Rank() != 3 {
		return BatchedResult{}, tensor.InvalidArgumentf("scores must be 3-D, got shape %v", scores.Shape())
	}
	if boxes.Rank() != 4 {
		return BatchedResult{}, tensor.InvalidArgumentf("boxes must be 4-D, got shape %v", boxes.Shape())
	}
	numClasses := scores.Dim(2)
	q := boxes.Dim(2)
	if q != 1 && q != numClasses {
		return BatchedResult{}, tensor.InvalidArgumentf("third dimension of boxes must be either 1 or the number of classes, got %d", q)
	}
	if boxes.Dim(3) != 6 {
		return BatchedResult{}, tensor.InvalidArgumentf("boxes must have 6 columns, got %d", boxes.Dim(3))
	}
	numBoxes := boxes.Dim(1)
	if scores.Dim(1) != numBoxes {
		return BatchedResult{}, tensor.InvalidArgumentf("scores has incompatible shape %v for %d boxes", scores.Shape(), numBoxes)
	}
	numBatches := boxes.Dim(0)
	if scores.Dim(0) != numBatches {
		return BatchedResult{}, tensor.InvalidArgumentf("scores batch size %d does not match boxes batch size %d", scores.Dim(0), numBatches)
	}

	maxPerClass := params.MaxSizePerClass
	if maxPerClass < 0 {
		maxPerClass = 0
	}
	perBatchSize := params.MaxTotalSize
	if perBatchSize < 0 {
		perBatchSize = 0
	}
	if params.PadPerClass {
		if capped := maxPerClass * numClasses; capped < perBatchSize {
			perBatchSize = capped
		}
	}

	outBoxes, err := tensor.New(numBatches, perBatchSize, 6)
	if err != nil {
		return BatchedResult{}, err
	}
	outScores, err := tensor.New(numBatches, perBatchSize)
	if err != nil {
		return BatchedResult{}, err
	}
	outClasses, err := tensor.New(numBatches, perBatchSize)
	if err != nil {
		return BatchedResult{}, err
	}
	valid := make([]int32, numBatches)

	boxesData := boxes.Data()
	scoresData := scores.Data()
	boxStride := numBoxes * q * 6
	scoreStride := numBoxes * numClasses

	for batch := 0; batch < numBatches; batch++ {
		results := suppressBatchElement(
			boxesData[batch*boxStride:(batch+1)*boxStride],
			scoresData[batch*scoreStride:(batch+1)*scoreStride],
			numBoxes, numClasses, q, maxPerClass,
			params.IoUThreshold, params.ScoreThreshold)

		// Stable sort keeps equal scores in class-then-selection order.
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].score > results[j].score
		})

		maxDetections := len(results)
		if maxDetections > perBatchSize {
			maxDetections = perBatchSize
		}
		valid[batch] = int32(maxDetections)

		base := batch * perBatchSize
		boxesOut := outBoxes.Data()
		scoresOut := outScores.Data()
		classesOut := outClasses.Data()
		for r := 0; r < maxDetections; r++ {
			rc := results[r]
			box := rc.box
			if params.ClipBoxes {
				box = box.Clip()
			}
			coords := box.Coords()
			copy(boxesOut[(base+r)*6:(base+r)*6+6], coords[:])
			scoresOut[base+r] = rc.score
			classesOut[base+r] = float32(rc.class)
		}
	}

	return BatchedResult{
		Boxes:           outBoxes,
		Scores:          outScores,
		Classes:         outClasses,
		ValidDetections: valid,
	}, nil
}

// suppressBatchElement runs per-class greedy suppression over one batch
// element and returns the surviving candidates of every class.
func suppressBatchElement(boxesData, scoresData []float32, numBoxes, numClasses, q, maxPerClass int, iouThreshold, scoreThreshold float32) []resultCandidate {
	limit := maxPerClass
	if numBoxes < limit {
		limit = numBoxes
	}

	results := make([]resultCandidate, 0, numClasses*limit)
	classBoxes := make([]models.Box, numBoxes)

	for class := 0; class < numClasses; class++ {
		for box := 0; box < numBoxes; box++ {
			at := box * 6
			if q > 1 {
				at = (box*q + class) * 6
			}
			classBoxes[box] = models.BoxFromSlice(boxesData[at : at+6])
		}

		candidates := make([]candidate, 0, numBoxes)
		for box := 0; box < numBoxes; box++ {
			if s := scoresData[box*numClasses+class]; s > scoreThreshold {
				candidates = append(candidates, candidate{index: box, score: s})
			}
		}
		// Stable sort breaks score ties by the lower box index.
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].score > candidates[j].score
		})

		selected := make([]int, 0, limit)
		for _, next := range candidates {
			if len(selected) >= limit {
				break
			}
			keep := true
			for j := len(selected) - 1; j >= 0; j-- {
				if IoU(classBoxes[next.index], classBoxes[selected[j]]) > iouThreshold {
					keep = false
					break
				}
			}
			if !keep {
				continue
			}
			selected = append(selected, next.index)
			results = append(results, resultCandidate{
				index: next.index,
				score: next.score,
				class: class,
				box:   classBoxes[next.index],
			})
		}
	}
	return results
}
