package losses

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-quiver/internal/tensor"
)

func TestWERRegressionIsPlainMSE(t *testing.T) {
	l, err := NewWERRegression()
	require.NoError(t, err)

	preds := tensor.MustNew([]float64{0.1, 0.4, 0.8, 0.3}, 4, 1)
	wers := tensor.MustNew([]float64{0.2, 0.4, 0.5, 0.9}, 4, 1)

	out, err := l.Forward(preds, nil, wers)
	require.NoError(t, err)
	got, err := out.Scalar()
	require.NoError(t, err)

	want := (0.01 + 0 + 0.09 + 0.36) / 4
	assert.InDelta(t, want, got, 1e-12)
}

// The labels input is declared but not consumed; two different label tensors
// must produce the same loss.
func TestWERRegressionIgnoresLabels(t *testing.T) {
	l, err := NewWERRegression()
	require.NoError(t, err)

	preds := tensor.MustNew([]float64{0.1, 0.4, 0.8, 0.3}, 4, 1)
	wers := tensor.MustNew([]float64{0.2, 0.4, 0.5, 0.9}, 4, 1)
	labelsA := tensor.MustNew([]float64{0, 1, 2, 0}, 4, 1)
	labelsB := tensor.MustNew([]float64{2, 2, 2, 2}, 4, 1)

	a, err := l.Forward(preds, labelsA, wers)
	require.NoError(t, err)
	b, err := l.Forward(preds, labelsB, wers)
	require.NoError(t, err)

	av, _ := a.Scalar()
	bv, _ := b.Scalar()
	assert.Equal(t, av, bv)
}

func TestWERRegressionShapeMismatch(t *testing.T) {
	l, err := NewWERRegression()
	require.NoError(t, err)

	_, err = l.Forward(tensor.Zeros(4, 1), nil, tensor.Zeros(3, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, tensor.ErrShape)
}

func TestWERRegressionReductions(t *testing.T) {
	preds := tensor.MustNew([]float64{1, 2}, 2)
	wers := tensor.MustNew([]float64{0, 0}, 2)

	sumLoss, err := NewWERRegression(WithReduction(ReductionSum))
	require.NoError(t, err)
	out, err := sumLoss.Forward(preds, nil, wers)
	require.NoError(t, err)
	s, _ := out.Scalar()
	assert.InDelta(t, 5.0, s, 1e-12)

	noneLoss, err := NewWERRegression(WithReduction(ReductionNone))
	require.NoError(t, err)
	out, err = noneLoss.Forward(preds, nil, wers)
	require.NoError(t, err)
	require.Equal(t, []int{2}, out.Shape())
	assert.InDelta(t, 1.0, out.Data()[0], 1e-12)
	assert.InDelta(t, 4.0, out.Data()[1], 1e-12)
}
