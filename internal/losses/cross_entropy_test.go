package losses

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/neural"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// refMeanCE is an independent mean cross-entropy over (N, C) logits,
// skipping ignored labels.
func refMeanCE(logits *tensor.Dense, labels []int, ignore int) float64 {
	rows, cols := logits.Dim(0), logits.Dim(1)
	var sum, n float64
	for i := 0; i < rows; i++ {
		if labels[i] == ignore {
			continue
		}
		row := logits.Data()[i*cols : (i+1)*cols]
		maxv := row[0]
		for _, v := range row {
			if v > maxv {
				maxv = v
			}
		}
		var lse float64
		for _, v := range row {
			lse += math.Exp(v - maxv)
		}
		lse = maxv + math.Log(lse)
		sum += lse - row[labels[i]]
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / n
}

// Fixed (2, 3, 4) logits used across the masking tests.
func testLogits() *tensor.Dense {
	return tensor.MustNew([]float64{
		0.5, -1.2, 2.0, 0.1,
		1.1, 0.0, -0.5, 0.7,
		-2.0, 0.3, 0.9, 1.5,
		0.0, 0.0, 0.0, 0.0,
		3.0, -3.0, 1.0, 0.2,
		-0.4, 0.8, -1.6, 2.2,
	}, 2, 3, 4)
}

func TestCrossEntropyNoMaskEqualsBase(t *testing.T) {
	ce, err := NewCrossEntropy(WithRank(3))
	require.NoError(t, err)

	logits := testLogits()
	labels := tensor.MustNewInts([]int{2, 0, 3, 1, 0, 3}, 2, 3)

	out, err := ce.Forward(logits, labels, nil)
	require.NoError(t, err)
	got, err := out.Scalar()
	require.NoError(t, err)

	flat, err := logits.FlattenTrailing()
	require.NoError(t, err)
	want := refMeanCE(flat, labels.Data(), DefaultIgnoreIndex)
	assert.InDelta(t, want, got, 1e-9)
}

func TestCrossEntropyAllTrueMaskEqualsUnmasked(t *testing.T) {
	ce, err := NewCrossEntropy(WithRank(3))
	require.NoError(t, err)

	logits := testLogits()
	labels := tensor.MustNewInts([]int{2, 0, 3, 1, 0, 3}, 2, 3)
	mask := tensor.MustNew([]float64{1, 1, 1, 1, 1, 1}, 2, 3)

	unmasked, err := ce.Forward(logits, labels, nil)
	require.NoError(t, err)
	masked, err := ce.Forward(logits, labels, mask)
	require.NoError(t, err)

	u, _ := unmasked.Scalar()
	m, _ := masked.Scalar()
	assert.InDelta(t, u, m, 1e-12)
}

func TestCrossEntropyAllFalseMaskFallsBack(t *testing.T) {
	ce, err := NewCrossEntropy(WithRank(3))
	require.NoError(t, err)

	logits := testLogits()
	labels := tensor.MustNewInts([]int{2, 0, 3, 1, 0, 3}, 2, 3)
	mask := tensor.Zeros(2, 3)

	out, err := ce.Forward(logits, labels, mask)
	require.NoError(t, err, "an all-false mask must not fail")
	got, err := out.Scalar()
	require.NoError(t, err)
	require.False(t, math.IsNaN(got) || math.IsInf(got, 0), "fallback loss must be finite")

	// The fallback scores the unmasked logits against their own argmax.
	flat, err := logits.FlattenTrailing()
	require.NoError(t, err)
	self, err := flat.ArgMaxRows()
	require.NoError(t, err)
	want := refMeanCE(flat, self.Data(), DefaultIgnoreIndex)
	assert.InDelta(t, want, got, 1e-9)
}

func TestCrossEntropyThresholdIdempotence(t *testing.T) {
	ce, err := NewCrossEntropy(WithRank(3))
	require.NoError(t, err)

	logits := testLogits()
	labels := tensor.MustNewInts([]int{2, 0, 3, 1, 0, 3}, 2, 3)

	// A numeric mask and its thresholded 0/1 form select identically.
	numeric := tensor.MustNew([]float64{0.9, 0.2, 0.7, 0.51, 0.5, 0.0}, 2, 3)
	binary, err := tensor.FromBools(numeric.Threshold(0.5), 2, 3)
	require.NoError(t, err)

	a, err := ce.Forward(logits, labels, numeric)
	require.NoError(t, err)
	b, err := ce.Forward(logits, labels, binary)
	require.NoError(t, err)

	av, _ := a.Scalar()
	bv, _ := b.Scalar()
	assert.Equal(t, av, bv)
}

// Ignore-index and loss mask jointly reduce the effective row count:
// (2,3,4) logits, one sentinel label, one false mask entry elsewhere.
func TestCrossEntropyMaskAndIgnoreIndexJointly(t *testing.T) {
	ce, err := NewCrossEntropy(WithRank(3))
	require.NoError(t, err)

	logits := testLogits()
	labels := tensor.MustNewInts([]int{2, DefaultIgnoreIndex, 3, 1, 0, 3}, 2, 3)
	// Mask drops flat position 3, which is not the sentinel position (1).
	mask := tensor.MustNew([]float64{1, 1, 1, 0, 1, 1}, 2, 3)

	out, err := ce.Forward(logits, labels, mask)
	require.NoError(t, err)
	got, err := out.Scalar()
	require.NoError(t, err)

	// Survivors: rows 0, 2, 4, 5 (row 1 ignored, row 3 masked).
	flat, err := logits.FlattenTrailing()
	require.NoError(t, err)
	kept, err := flat.SelectRows([]bool{true, true, true, false, true, true})
	require.NoError(t, err)
	want := refMeanCE(kept, []int{2, DefaultIgnoreIndex, 3, 0, 3}, DefaultIgnoreIndex)
	assert.InDelta(t, want, got, 1e-9)
}

func TestCrossEntropyUniformLogits(t *testing.T) {
	ce, err := NewCrossEntropy()
	require.NoError(t, err)

	out, err := ce.Forward(tensor.Zeros(2, 4), tensor.MustNewInts([]int{1, 3}, 2), nil)
	require.NoError(t, err)
	got, err := out.Scalar()
	require.NoError(t, err)
	assert.InDelta(t, math.Log(4), got, 1e-12)
}

func TestCrossEntropyClassWeights(t *testing.T) {
	ce, err := NewCrossEntropy(WithClassWeight([]float64{1, 2, 0.5}))
	require.NoError(t, err)

	logits := tensor.MustNew([]float64{
		1, 0, -1,
		0, 2, 0,
	}, 2, 3)
	labels := tensor.MustNewInts([]int{0, 1}, 2)

	out, err := ce.Forward(logits, labels, nil)
	require.NoError(t, err)
	got, err := out.Scalar()
	require.NoError(t, err)

	lp, err := logits.LogSoftmaxRows()
	require.NoError(t, err)
	want := (-1.0*lp.At(0, 0) - 2.0*lp.At(1, 1)) / (1.0 + 2.0)
	assert.InDelta(t, want, got, 1e-12)
}

func TestCrossEntropyReductions(t *testing.T) {
	logits := tensor.MustNew([]float64{
		1, 0,
		0, 1,
	}, 2, 2)
	labels := tensor.MustNewInts([]int{0, 0}, 2)

	sumLoss, err := NewCrossEntropy(WithReduction(ReductionSum))
	require.NoError(t, err)
	noneLoss, err := NewCrossEntropy(WithReduction(ReductionNone))
	require.NoError(t, err)

	sumOut, err := sumLoss.Forward(logits, labels, nil)
	require.NoError(t, err)
	noneOut, err := noneLoss.Forward(logits, labels, nil)
	require.NoError(t, err)

	require.Equal(t, []int{2}, noneOut.Shape())
	s, _ := sumOut.Scalar()
	assert.InDelta(t, noneOut.Data()[0]+noneOut.Data()[1], s, 1e-12)
}

func TestCrossEntropyLabelOutOfRange(t *testing.T) {
	ce, err := NewCrossEntropy()
	require.NoError(t, err)

	_, err = ce.Forward(tensor.Zeros(1, 3), tensor.MustNewInts([]int{7}, 1), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLabel)
}

func TestCrossEntropyTypeCheck(t *testing.T) {
	ce, err := NewCrossEntropy(WithRank(3))
	require.NoError(t, err)

	// Rank-2 logits against a rank-3 contract fail before any math runs.
	_, err = ce.Forward(tensor.Zeros(2, 4), tensor.MustNewInts(make([]int, 2), 2), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, neural.ErrTypeCheck)
}

// A zero-class logits tensor, as decodable from an empty fixed-size list
// column, must surface a shape error instead of panicking.
func TestCrossEntropyZeroClasses(t *testing.T) {
	ce, err := NewCrossEntropy()
	require.NoError(t, err)

	_, err = ce.Forward(tensor.MustNew(nil, 2, 0), tensor.MustNewInts([]int{0, 0}, 2), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, tensor.ErrShape)
}

func TestCrossEntropyBadOptions(t *testing.T) {
	_, err := NewCrossEntropy(WithRank(1))
	require.Error(t, err)
	_, err = NewCrossEntropy(WithReduction("median"))
	require.Error(t, err)
	_, err = NewCrossEntropy(WithClassWeight([]float64{1, -2}))
	require.Error(t, err)
}
