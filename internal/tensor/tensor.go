package tensor

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrShape is wrapped by every shape/rank violation reported by this package.
var ErrShape = errors.New("tensor: shape mismatch")

// Dense is a row-major float64 tensor with a batch-first shape.
type Dense struct {
	data  []float64
	shape []int
}

// New wraps data in a Dense of the given shape. The data slice is not copied.
func New(data []float64, shape ...int) (*Dense, error) {
	n := numel(shape)
	if len(data) != n {
		return nil, fmt.Errorf("%w: data length %d does not match shape %v (%d elements)", ErrShape, len(data), shape, n)
	}
	return &Dense{data: data, shape: append([]int(nil), shape...)}, nil
}

// MustNew is New but panics on shape mismatch. For tests and literals.
func MustNew(data []float64, shape ...int) *Dense {
	t, err := New(data, shape...)
	if err != nil {
		panic(err)
	}
	return t
}

// Zeros allocates a zero-filled Dense of the given shape.
func Zeros(shape ...int) *Dense {
	return &Dense{data: make([]float64, numel(shape)), shape: append([]int(nil), shape...)}
}

// FromMatrix copies a gonum matrix into a rank-2 Dense.
func FromMatrix(m mat.Matrix) *Dense {
	r, c := m.Dims()
	data := make([]float64, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data[i*c+j] = m.At(i, j)
		}
	}
	return &Dense{data: data, shape: []int{r, c}}
}

// FromBools converts a boolean mask to a 0/1 valued Dense.
func FromBools(keep []bool, shape ...int) (*Dense, error) {
	data := make([]float64, len(keep))
	for i, k := range keep {
		if k {
			data[i] = 1
		}
	}
	return New(data, shape...)
}

func (t *Dense) Shape() []int    { return append([]int(nil), t.shape...) }
func (t *Dense) Rank() int       { return len(t.shape) }
func (t *Dense) Len() int        { return len(t.data) }
func (t *Dense) Data() []float64 { return t.data }

// Dim returns the size of axis i.
func (t *Dense) Dim(i int) int { return t.shape[i] }

// At returns the element at the given multi-index.
func (t *Dense) At(idx ...int) float64 {
	return t.data[t.offset(idx)]
}

// Set writes the element at the given multi-index.
func (t *Dense) Set(v float64, idx ...int) {
	t.data[t.offset(idx)] = v
}

func (t *Dense) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: %d indices for rank-%d tensor", len(idx), len(t.shape)))
	}
	off := 0
	for i, x := range idx {
		if x < 0 || x >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of range for axis %d (size %d)", x, i, t.shape[i]))
		}
		off = off*t.shape[i] + x
	}
	return off
}

// FlattenTrailing collapses all leading axes, keeping the final (class) axis:
// (B, ..., C) becomes (N, C). The result is a view sharing backing storage.
func (t *Dense) FlattenTrailing() (*Dense, error) {
	if len(t.shape) < 2 {
		return nil, fmt.Errorf("%w: FlattenTrailing needs rank >= 2, got shape %v", ErrShape, t.shape)
	}
	cols := t.shape[len(t.shape)-1]
	if cols == 0 {
		return nil, fmt.Errorf("%w: FlattenTrailing over zero classes, shape %v", ErrShape, t.shape)
	}
	return &Dense{data: t.data, shape: []int{len(t.data) / cols, cols}}, nil
}

// Flatten collapses all axes into one. The result is a view.
func (t *Dense) Flatten() *Dense {
	return &Dense{data: t.data, shape: []int{len(t.data)}}
}

// SelectRows gathers the rows of a rank-2 tensor where keep is true.
// The result is a copy.
func (t *Dense) SelectRows(keep []bool) (*Dense, error) {
	if len(t.shape) != 2 {
		return nil, fmt.Errorf("%w: SelectRows needs rank 2, got shape %v", ErrShape, t.shape)
	}
	if len(keep) != t.shape[0] {
		return nil, fmt.Errorf("%w: mask length %d does not match %d rows", ErrShape, len(keep), t.shape[0])
	}
	cols := t.shape[1]
	out := make([]float64, 0, len(t.data))
	for i, k := range keep {
		if k {
			out = append(out, t.data[i*cols:(i+1)*cols]...)
		}
	}
	return &Dense{data: out, shape: []int{len(out) / cols, cols}}, nil
}

// SelectElems gathers the elements of a rank-1 tensor where keep is true.
// The result is a copy.
func (t *Dense) SelectElems(keep []bool) (*Dense, error) {
	if len(t.shape) != 1 {
		return nil, fmt.Errorf("%w: SelectElems needs rank 1, got shape %v", ErrShape, t.shape)
	}
	if len(keep) != len(t.data) {
		return nil, fmt.Errorf("%w: mask length %d does not match %d elements", ErrShape, len(keep), len(t.data))
	}
	out := make([]float64, 0, len(t.data))
	for i, k := range keep {
		if k {
			out = append(out, t.data[i])
		}
	}
	return &Dense{data: out, shape: []int{len(out)}}, nil
}

// Threshold flattens the tensor and maps every value > cut to true.
// This is how numeric loss masks are coerced to boolean.
func (t *Dense) Threshold(cut float64) []bool {
	keep := make([]bool, len(t.data))
	for i, v := range t.data {
		keep[i] = v > cut
	}
	return keep
}

// Matrix returns a gonum view of a rank-2 tensor sharing backing storage,
// so BLAS-registered implementations apply to it.
func (t *Dense) Matrix() (*mat.Dense, error) {
	if len(t.shape) != 2 {
		return nil, fmt.Errorf("%w: Matrix needs rank 2, got shape %v", ErrShape, t.shape)
	}
	return mat.NewDense(t.shape[0], t.shape[1], t.data), nil
}

// Scalar returns the single element of a one-element tensor.
func (t *Dense) Scalar() (float64, error) {
	if len(t.data) != 1 {
		return 0, fmt.Errorf("%w: Scalar needs exactly one element, got shape %v", ErrShape, t.shape)
	}
	return t.data[0], nil
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
