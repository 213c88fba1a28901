package losses

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-quiver/internal/neural"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// NLL scores sequence log-probabilities of shape (B, T, D) against integer
// labels of shape (B, T), with an optional output mask. The inputs are
// expected to already be log-normalized; apart from that the masked
// flatten-and-reduce contract is the same as CrossEntropy's.
type NLL struct {
	opts options
	sig  neural.Signature
}

// NewNLL builds a negative log-likelihood loss. WithRank is accepted but the
// port contract pins the log-probs to (B, T, D).
func NewNLL(opts ...Option) (*NLL, error) {
	o, err := newOptions(append([]Option{WithRank(3)}, opts...)...)
	if err != nil {
		return nil, err
	}
	return &NLL{
		opts: o,
		sig: neural.Signature{
			Inputs: []neural.Port{
				{Name: "log_probs", Type: neural.BTD(neural.KindLogprobs)},
				{Name: "labels", Type: neural.NeuralType{
					Axes: []neural.Axis{{Name: neural.AxisBatch}, {Name: neural.AxisTime}},
					Kind: neural.KindLabels,
				}},
				{Name: "output_mask", Type: neural.NeuralType{
					Axes: []neural.Axis{{Name: neural.AxisBatch}, {Name: neural.AxisTime}},
					Kind: neural.KindMask,
				}, Optional: true},
			},
			Outputs: []neural.Port{
				{Name: "loss", Type: neural.NeuralType{Kind: neural.KindLoss}},
			},
		},
	}, nil
}

func (l *NLL) Kind() string                { return kindNLL }
func (l *NLL) Signature() neural.Signature { return l.sig }

// Forward computes the masked, flattened NLL. outputMask may be nil. The
// all-masked batch falls back to scoring the log-probs against their own
// argmax, same as CrossEntropy.
func (l *NLL) Forward(logProbs *tensor.Dense, labels *tensor.Ints, outputMask *tensor.Dense) (*tensor.Dense, error) {
	timer := prometheus.NewTimer(forwardDuration.WithLabelValues(kindNLL))
	defer timer.ObserveDuration()
	forwardTotal.WithLabelValues(kindNLL).Inc()

	inputs := map[string]neural.Shaped{"log_probs": logProbs, "labels": labels}
	if outputMask != nil {
		inputs["output_mask"] = outputMask
	}
	if err := neural.Check(l.sig, inputs); err != nil {
		return nil, err
	}

	flat, err := logProbs.FlattenTrailing()
	if err != nil {
		return nil, err
	}
	flatLabels := labels.Flatten()

	if outputMask != nil {
		sel, selLabels, err := maskSelect(flat, flatLabels, outputMask)
		if err != nil {
			return nil, err
		}
		if selLabels.Len() == 0 {
			maskFallbackTotal.WithLabelValues(kindNLL).Inc()
			log.Debug().Str("loss", kindNLL).Msg("mask removed every element, scoring log-probs against their own argmax")
			self, err := flat.ArgMaxRows()
			if err != nil {
				return nil, err
			}
			return nllReduce(flat, self, l.opts)
		}
		flat, flatLabels = sel, selLabels
	}

	return nllReduce(flat, flatLabels, l.opts)
}
