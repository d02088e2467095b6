// Package suppression implements greedy non-maximum suppression over 3D
// bounding boxes. Candidates are drawn from a score-ordered priority queue;
// a selected box suppresses later candidates whose similarity to it exceeds
// a threshold, either by dropping them outright or by decaying their scores
// (soft-NMS). A batched multi-class variant merges per-class runs into a
// fixed-size detection set.
package suppression

import (
	"container/heap"
	"math"

	"detect3d/internal/models"
	"detect3d/pkg/tensor"
)

// SimilarityFunc reports the similarity of the boxes at two indices.
// Implementations must be symmetric and return values in [0, 1].
type SimilarityFunc func(i, j int) float32

// Params holds the optional knobs of the suppression loop.
type Params struct {
	ScoreThreshold     float32 // candidates must score strictly above this value
	SoftNMSSigma       float32 // Gaussian decay width; 0 disables soft-NMS
	PadToMaxOutputSize bool    // pad results with zeros up to maxOutputSize
}

// Result is the full output of a suppression run.
type Result struct {
	SelectedIndices []int32   // box indices in selection order
	SelectedScores  []float32 // scores at selection time, decayed under soft-NMS
	NumValid        int       // selections before padding
}

// IoU returns the 3D intersection-over-union of two boxes. Corner order
// does not matter; boxes are reduced to undirected per-axis intervals.
// A box with zero volume has zero IoU with everything, itself included.
func IoU(a, b models.Box) float32 {
	volA := a.Volume()
	volB := b.Volume()
	if volA <= 0 || volB <= 0 {
		return 0
	}

	aMinY, aMinX, aMinZ := a.Min()
	aMaxY, aMaxX, aMaxZ := a.Max()
	bMinY, bMinX, bMinZ := b.Min()
	bMaxY, bMaxX, bMaxZ := b.Max()

	overlapY := minf(aMaxY, bMaxY) - maxf(aMinY, bMinY)
	overlapX := minf(aMaxX, bMaxX) - maxf(aMinX, bMinX)
	overlapZ := minf(aMaxZ, bMaxZ) - maxf(aMinZ, bMinZ)
	if overlapY <= 0 || overlapX <= 0 || overlapZ <= 0 {
		return 0
	}

	intersection := overlapY * overlapX * overlapZ
	return intersection / (volA + volB - intersection)
}

// NonMaxSuppression3D greedily selects up to maxOutputSize boxes in
// descending score order, dropping any candidate whose IoU with an already
// selected box exceeds iouThreshold. Ties in score go to the lower box
// index. The returned indices are ordered by selection.
func NonMaxSuppression3D(boxes *tensor.Dense, scores []float32, maxOutputSize int, iouThreshold float32) ([]int32, error) {
	if err := checkIoUThreshold(iouThreshold); err != nil {
		return nil, err
	}
	sim, err := boxSimilarity(boxes, scores)
	if err != nil {
		return nil, err
	}

	selected, _ := doNonMaxSuppression(scores, maxOutputSize, iouThreshold,
		-math.MaxFloat32, 0, sim)
	return selected, nil
}

// NonMaxSuppressionWithScores3D is NonMaxSuppression3D with the full
// parameter surface: a score admission threshold, optional soft-NMS decay
// and optional padding. The returned scores are the selection-time scores,
// so under soft-NMS they reflect any accumulated decay.
func NonMaxSuppressionWithScores3D(boxes *tensor.Dense, scores []float32, maxOutputSize int, iouThreshold float32, params Params) (Result, error) {
	if err := checkIoUThreshold(iouThreshold); err != nil {
		return Result{}, err
	}
	if params.SoftNMSSigma < 0 {
		return Result{}, tensor.InvalidArgumentf("soft_nms_sigma must be non-negative, got %v", params.SoftNMSSigma)
	}
	sim, err := boxSimilarity(boxes, scores)
	if err != nil {
		return Result{}, err
	}

	selected, selectedScores := doNonMaxSuppression(scores, maxOutputSize,
		iouThreshold, params.ScoreThreshold, params.SoftNMSSigma, sim)
	return padResult(selected, selectedScores, maxOutputSize, params.PadToMaxOutputSize), nil
}

// NonMaxSuppressionWithOverlaps3D runs the suppression loop against a
// precomputed pairwise overlap matrix instead of box coordinates. The
// matrix must be square with one row per score; entry (i, j) is the
// similarity used when candidate i is tested against selected box j.
func NonMaxSuppressionWithOverlaps3D(overlaps *tensor.Dense, scores []float32, maxOutputSize int, overlapThreshold float32, params Params) (Result, error) {
	if params.SoftNMSSigma < 0 {
		return Result{}, tensor.InvalidArgumentf("soft_nms_sigma must be non-negative, got %v", params.SoftNMSSigma)
	}
	if overlaps.Rank() != 2 {
		return Result{}, tensor.InvalidArgumentf("overlaps must be 2-D, got shape %v", overlaps.Shape())
	}
	n := overlaps.Dim(0)
	if overlaps.Dim(1) != n {
		return Result{}, tensor.InvalidArgumentf("overlaps must be square, got shape %v", overlaps.Shape())
	}
	if len(scores) != n {
		return Result{}, tensor.InvalidArgumentf("scores has incompatible length %d for %d boxes", len(scores), n)
	}

	data := overlaps.Data()
	sim := func(i, j int) float32 { return data[i*n+j] }

	selected, selectedScores := doNonMaxSuppression(scores, maxOutputSize,
		overlapThreshold, params.ScoreThreshold, params.SoftNMSSigma, sim)
	return padResult(selected, selectedScores, maxOutputSize, params.PadToMaxOutputSize), nil
}

// boxSimilarity validates the (n, 6) boxes tensor against the score count
// and returns an IoU similarity over its rows.
func boxSimilarity(boxes *tensor.Dense, scores []float32) (SimilarityFunc, error) {
	if boxes.Rank() != 2 {
		return nil, tensor.InvalidArgumentf("boxes must be 2-D, got shape %v", boxes.Shape())
	}
	if boxes.Dim(1) != 6 {
		return nil, tensor.InvalidArgumentf("boxes must have 6 columns, got %d", boxes.Dim(1))
	}
	n := boxes.Dim(0)
	if len(scores) != n {
		return nil, tensor.InvalidArgumentf("scores has incompatible length %d for %d boxes", len(scores), n)
	}

	data := boxes.Data()
	rows := make([]models.Box, n)
	for i := 0; i < n; i++ {
		rows[i] = models.BoxFromSlice(data[i*6 : i*6+6])
	}
	return func(i, j int) float32 { return IoU(rows[i], rows[j]) }, nil
}

func checkIoUThreshold(iouThreshold float32) error {
	if iouThreshold < 0 || iouThreshold > 1 {
		return tensor.InvalidArgumentf("iou_threshold must be in [0, 1], got %v", iouThreshold)
	}
	return nil
}

// candidate is one box moving through the suppression loop.
// suppressBeginIndex marks the first selected box this candidate has not
// yet been compared against, so no pair is ever tested twice.
type candidate struct {
	index              int
	score              float32
	suppressBeginIndex int
}

// candidateQueue orders candidates by descending score, breaking ties in
// favor of the lower box index.
type candidateQueue []candidate

func (q candidateQueue) Len() int { return len(q) }

func (q candidateQueue) Less(i, j int) bool {
	if q[i].score == q[j].score {
		return q[i].index < q[j].index
	}
	return q[i].score > q[j].score
}

func (q candidateQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *candidateQueue) Push(x any) { *q = append(*q, x.(candidate)) }

func (q *candidateQueue) Pop() any {
	old := *q
	n := len(old)
	c := old[n-1]
	*q = old[:n-1]
	return c
}

// doNonMaxSuppression is the shared greedy loop. It admits candidates
// scoring strictly above scoreThreshold, pops them in score order and
// tests each against the boxes selected since it was last examined. A
// similarity strictly above similarityThreshold suppresses the candidate
// outright; otherwise the candidate keeps a decayed score and is either
// selected (no decay occurred), re-queued for later rounds, or discarded.
func doNonMaxSuppression(scores []float32, maxOutputSize int, similarityThreshold, scoreThreshold, softNMSSigma float32, similarity SimilarityFunc) ([]int32, []float32) {
	queue := make(candidateQueue, 0, len(scores))
	for i, s := range scores {
		if s > scoreThreshold {
			queue = append(queue, candidate{index: i, score: s})
		}
	}
	heap.Init(&queue)

	var scale float32
	if softNMSSigma > 0 {
		scale = -0.5 / (softNMSSigma * softNMSSigma)
	}

	// Decay weight for one comparison. With sigma 0 the weight is 1 below
	// the threshold, so scores only ever change on the soft path.
	suppressWeight := func(sim float32) float32 {
		if sim > similarityThreshold {
			return 0
		}
		return float32(math.Exp(float64(scale * sim * sim)))
	}

	outputSize := maxOutputSize
	if outputSize < 0 {
		outputSize = 0
	}
	selected := make([]int32, 0, outputSize)
	selectedScores := make([]float32, 0, outputSize)

	for len(selected) < outputSize && queue.Len() > 0 {
		next := heap.Pop(&queue).(candidate)
		originalScore := next.score

		// Walk the selected list backwards, stopping at the boxes this
		// candidate was already compared against in earlier rounds.
		hardSuppress := false
		for j := len(selected) - 1; j >= next.suppressBeginIndex; j-- {
			sim := similarity(next.index, int(selected[j]))
			next.score *= suppressWeight(sim)

			// Strictly greater: a similarity equal to the threshold decays
			// the score but never hard-suppresses, so a threshold of 1
			// disables hard suppression entirely.
			if sim > similarityThreshold {
				hardSuppress = true
				break
			}
			if next.score <= scoreThreshold {
				break
			}
		}
		next.suppressBeginIndex = len(selected)

		if hardSuppress {
			continue
		}
		if next.score == originalScore {
			selected = append(selected, int32(next.index))
			selectedScores = append(selectedScores, next.score)
			continue
		}
		if next.score > scoreThreshold {
			heap.Push(&queue, next)
		}
	}

	return selected, selectedScores
}

// padResult wraps the raw selections in a Result, zero-padding to
// maxOutputSize when requested.
func padResult(selected []int32, selectedScores []float32, maxOutputSize int, pad bool) Result {
	numValid := len(selected)
	if pad && maxOutputSize > numValid {
		padded := make([]int32, maxOutputSize)
		copy(padded, selected)
		selected = padded
		paddedScores := make([]float32, maxOutputSize)
		copy(paddedScores, selectedScores)
		selectedScores = paddedScores
	}
	return Result{
		SelectedIndices: selected,
		SelectedScores:  selectedScores,
		NumValid:        numValid,
	}
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
