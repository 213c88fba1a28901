package tensor

import "fmt"

// Ints is an integer tensor, used for class labels.
type Ints struct {
	data  []int
	shape []int
}

// NewInts wraps data in an Ints of the given shape. The data slice is not copied.
func NewInts(data []int, shape ...int) (*Ints, error) {
	n := numel(shape)
	if len(data) != n {
		return nil, fmt.Errorf("%w: data length %d does not match shape %v (%d elements)", ErrShape, len(data), shape, n)
	}
	return &Ints{data: data, shape: append([]int(nil), shape...)}, nil
}

// MustNewInts is NewInts but panics on shape mismatch.
func MustNewInts(data []int, shape ...int) *Ints {
	t, err := NewInts(data, shape...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Ints) Shape() []int { return append([]int(nil), t.shape...) }
func (t *Ints) Rank() int    { return len(t.shape) }
func (t *Ints) Len() int     { return len(t.data) }
func (t *Ints) Data() []int  { return t.data }

// Flatten collapses all axes into one. The result is a view.
func (t *Ints) Flatten() *Ints {
	return &Ints{data: t.data, shape: []int{len(t.data)}}
}

// Select gathers the elements of a rank-1 tensor where keep is true.
// The result is a copy.
func (t *Ints) Select(keep []bool) (*Ints, error) {
	if len(t.shape) != 1 {
		return nil, fmt.Errorf("%w: Select needs rank 1, got shape %v", ErrShape, t.shape)
	}
	if len(keep) != len(t.data) {
		return nil, fmt.Errorf("%w: mask length %d does not match %d elements", ErrShape, len(keep), len(t.data))
	}
	out := make([]int, 0, len(t.data))
	for i, k := range keep {
		if k {
			out = append(out, t.data[i])
		}
	}
	return &Ints{data: out, shape: []int{len(out)}}, nil
}
