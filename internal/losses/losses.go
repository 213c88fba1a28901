// Package losses implements the trainable loss modules of the toolkit:
// cross-entropy and negative log-likelihood with masked flatten-and-reduce
// preprocessing, and a WER regression loss. Each module declares a typed
// port contract and keeps no state across forward calls.
package losses

import (
	"errors"
	"fmt"

	"github.com/23skdu/longbow-quiver/internal/neural"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// Reduction selects how per-element losses collapse to the module output.
type Reduction string

const (
	ReductionMean Reduction = "mean"
	ReductionSum  Reduction = "sum"
	ReductionNone Reduction = "none"
)

// DefaultIgnoreIndex is the sentinel label value excluded from the loss.
const DefaultIgnoreIndex = -100

// maskThreshold coerces numeric loss masks to boolean: values strictly above
// it are kept. This is a documented constant of the contract, not a knob.
const maskThreshold = 0.5

// ErrLabel is wrapped when a label index falls outside the class range.
var ErrLabel = errors.New("losses: label out of range")

// Module is the common face of a loss module: a kind tag and its typed
// input/output port contract.
type Module interface {
	Kind() string
	Signature() neural.Signature
}

const (
	kindCrossEntropy  = "cross_entropy"
	kindNLL           = "nll"
	kindWERRegression = "wer_regression"
)

type options struct {
	rank        int
	classWeight []float64
	reduction   Reduction
	ignoreIndex int
}

// Option configures a loss module at construction time.
type Option func(*options)

// WithRank sets the rank of the prediction tensor (default 2).
func WithRank(n int) Option {
	return func(o *options) { o.rank = n }
}

// WithClassWeight sets per-class rescaling weights. The slice is copied once
// here; forward passes validate its length against the class axis.
func WithClassWeight(w []float64) Option {
	return func(o *options) { o.classWeight = append([]float64(nil), w...) }
}

// WithReduction sets the reduction mode (default mean).
func WithReduction(r Reduction) Option {
	return func(o *options) { o.reduction = r }
}

// WithIgnoreIndex sets the label sentinel excluded from the loss
// (default -100).
func WithIgnoreIndex(i int) Option {
	return func(o *options) { o.ignoreIndex = i }
}

func newOptions(opts ...Option) (options, error) {
	o := options{rank: 2, reduction: ReductionMean, ignoreIndex: DefaultIgnoreIndex}
	for _, f := range opts {
		f(&o)
	}
	if o.rank < 2 {
		return o, fmt.Errorf("losses: prediction rank must be >= 2, got %d", o.rank)
	}
	switch o.reduction {
	case ReductionMean, ReductionSum, ReductionNone:
	default:
		return o, fmt.Errorf("losses: unknown reduction %q", o.reduction)
	}
	for i, w := range o.classWeight {
		if w < 0 {
			return o, fmt.Errorf("losses: class weight %d is negative (%v)", i, w)
		}
	}
	return o, nil
}

// nllReduce computes the weighted negative log-likelihood over rank-2
// log-probabilities and rank-1 labels, honoring the ignore-index sentinel
// and the configured reduction. For the mean reduction the denominator is
// the sum of the weights of contributing elements.
func nllReduce(logProbs *tensor.Dense, labels *tensor.Ints, o options) (*tensor.Dense, error) {
	rows, cols := logProbs.Dim(0), logProbs.Dim(1)
	if labels.Len() != rows {
		return nil, fmt.Errorf("%w: %d log-prob rows vs %d labels", tensor.ErrShape, rows, labels.Len())
	}
	if o.classWeight != nil && len(o.classWeight) != cols {
		return nil, fmt.Errorf("%w: %d class weights vs %d classes", tensor.ErrShape, len(o.classWeight), cols)
	}

	perElem := tensor.Scratch.Get(rows)
	defer tensor.Scratch.Put(perElem)

	data := logProbs.Data()
	var sum, denom float64
	for i, label := range labels.Data() {
		if label == o.ignoreIndex {
			continue
		}
		if label < 0 || label >= cols {
			return nil, fmt.Errorf("%w: label %d at position %d, %d classes", ErrLabel, label, i, cols)
		}
		w := 1.0
		if o.classWeight != nil {
			w = o.classWeight[label]
		}
		perElem[i] = -w * data[i*cols+label]
		sum += perElem[i]
		denom += w
	}

	switch o.reduction {
	case ReductionNone:
		out := make([]float64, rows)
		copy(out, perElem)
		return tensor.New(out, rows)
	case ReductionSum:
		return tensor.New([]float64{sum}, 1)
	default: // mean
		if denom == 0 {
			return tensor.New([]float64{0}, 1)
		}
		return tensor.New([]float64{sum / denom}, 1)
	}
}

// maskSelect thresholds a numeric mask, flattens it, and gathers the kept
// prediction rows and label elements. It returns the survivors; a zero
// survivor count signals the degenerate all-masked batch to the caller.
func maskSelect(preds *tensor.Dense, labels *tensor.Ints, mask *tensor.Dense) (*tensor.Dense, *tensor.Ints, error) {
	keep := mask.Flatten().Threshold(maskThreshold)
	selPreds, err := preds.SelectRows(keep)
	if err != nil {
		return nil, nil, err
	}
	selLabels, err := labels.Select(keep)
	if err != nil {
		return nil, nil, err
	}
	return selPreds, selLabels, nil
}
