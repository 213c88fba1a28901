package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// ArgMaxRows returns, for a rank-2 tensor, the column index of the maximum
// in each row.
func (t *Dense) ArgMaxRows() (*Ints, error) {
	if len(t.shape) != 2 {
		return nil, fmt.Errorf("%w: ArgMaxRows needs rank 2, got shape %v", ErrShape, t.shape)
	}
	rows, cols := t.shape[0], t.shape[1]
	if cols == 0 {
		return nil, fmt.Errorf("%w: ArgMaxRows over zero classes", ErrShape)
	}
	out := make([]int, rows)
	for i := 0; i < rows; i++ {
		out[i] = floats.MaxIdx(t.data[i*cols : (i+1)*cols])
	}
	return &Ints{data: out, shape: []int{rows}}, nil
}

// LogSoftmaxRows returns a new rank-2 tensor with a numerically stable
// log-softmax applied along each row.
func (t *Dense) LogSoftmaxRows() (*Dense, error) {
	if len(t.shape) != 2 {
		return nil, fmt.Errorf("%w: LogSoftmaxRows needs rank 2, got shape %v", ErrShape, t.shape)
	}
	rows, cols := t.shape[0], t.shape[1]
	out := make([]float64, len(t.data))
	for i := 0; i < rows; i++ {
		row := t.data[i*cols : (i+1)*cols]
		lse := floats.LogSumExp(row)
		dst := out[i*cols : (i+1)*cols]
		for j, v := range row {
			dst[j] = v - lse
		}
	}
	return &Dense{data: out, shape: []int{rows, cols}}, nil
}

// Sub returns t - other elementwise. Shapes must match exactly.
func (t *Dense) Sub(other *Dense) (*Dense, error) {
	if !sameShape(t.shape, other.shape) {
		return nil, fmt.Errorf("%w: %v vs %v", ErrShape, t.shape, other.shape)
	}
	out := make([]float64, len(t.data))
	floats.SubTo(out, t.data, other.data)
	return &Dense{data: out, shape: append([]int(nil), t.shape...)}, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
