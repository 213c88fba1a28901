package losses

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-quiver/internal/neural"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// CrossEntropy scores logits of shape (B, ..., C) against integer labels of
// shape (B, ...), with an optional loss mask of the label shape. Masking and
// flattening happen here; the reduction itself is the standard weighted
// log-softmax + NLL.
type CrossEntropy struct {
	opts options
	sig  neural.Signature
}

// NewCrossEntropy builds a cross-entropy loss. See WithRank, WithClassWeight,
// WithReduction and WithIgnoreIndex for the construction parameters.
func NewCrossEntropy(opts ...Option) (*CrossEntropy, error) {
	o, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}
	return &CrossEntropy{
		opts: o,
		sig: neural.Signature{
			Inputs: []neural.Port{
				{Name: "logits", Type: neural.Batched(o.rank, neural.KindLogits)},
				{Name: "labels", Type: neural.Batched(o.rank-1, neural.KindLabels)},
				{Name: "loss_mask", Type: neural.Batched(o.rank-1, neural.KindMask), Optional: true},
			},
			Outputs: []neural.Port{
				{Name: "loss", Type: neural.NeuralType{Kind: neural.KindLoss}},
			},
		},
	}, nil
}

func (l *CrossEntropy) Kind() string                { return kindCrossEntropy }
func (l *CrossEntropy) Signature() neural.Signature { return l.sig }

// Forward computes the masked, flattened cross-entropy. lossMask may be nil.
// If the mask removes every element, the loss is computed over the unmasked
// logits against their own argmax so the caller still gets a finite scalar
// through the same code path.
func (l *CrossEntropy) Forward(logits *tensor.Dense, labels *tensor.Ints, lossMask *tensor.Dense) (*tensor.Dense, error) {
	timer := prometheus.NewTimer(forwardDuration.WithLabelValues(kindCrossEntropy))
	defer timer.ObserveDuration()
	forwardTotal.WithLabelValues(kindCrossEntropy).Inc()

	inputs := map[string]neural.Shaped{"logits": logits, "labels": labels}
	if lossMask != nil {
		inputs["loss_mask"] = lossMask
	}
	if err := neural.Check(l.sig, inputs); err != nil {
		return nil, err
	}

	flat, err := logits.FlattenTrailing()
	if err != nil {
		return nil, err
	}
	flatLabels := labels.Flatten()

	if lossMask != nil {
		sel, selLabels, err := maskSelect(flat, flatLabels, lossMask)
		if err != nil {
			return nil, err
		}
		if selLabels.Len() == 0 {
			return l.selfArgMax(flat)
		}
		flat, flatLabels = sel, selLabels
	}

	logProbs, err := flat.LogSoftmaxRows()
	if err != nil {
		return nil, err
	}
	return nllReduce(logProbs, flatLabels, l.opts)
}

// selfArgMax scores the unmasked logits against their own argmax predictions.
func (l *CrossEntropy) selfArgMax(flat *tensor.Dense) (*tensor.Dense, error) {
	maskFallbackTotal.WithLabelValues(kindCrossEntropy).Inc()
	log.Debug().Str("loss", kindCrossEntropy).Msg("mask removed every element, scoring logits against their own argmax")
	self, err := flat.ArgMaxRows()
	if err != nil {
		return nil, err
	}
	logProbs, err := flat.LogSoftmaxRows()
	if err != nil {
		return nil, err
	}
	return nllReduce(logProbs, self, l.opts)
}
