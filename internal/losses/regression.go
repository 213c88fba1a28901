package losses

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/23skdu/longbow-quiver/internal/neural"
	"github.com/23skdu/longbow-quiver/internal/tensor"
)

// WERRegression is a mean-squared-error loss over per-provider word error
// rates: model scores against a WER target tensor of the same shape. It does
// no masking and no flattening.
//
// The declared port contract lists a labels input, and Forward accepts one,
// but the reduction consumes only the WER targets. That mirrors the upstream
// system's observable behavior; callers relying on labels influencing this
// loss should be flagged, not accommodated.
type WERRegression struct {
	opts options
	sig  neural.Signature
}

// NewWERRegression builds the regression loss. Only WithReduction applies.
func NewWERRegression(opts ...Option) (*WERRegression, error) {
	o, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}
	return &WERRegression{
		opts: o,
		sig: neural.Signature{
			Inputs: []neural.Port{
				{Name: "preds", Type: neural.NeuralType{
					Axes: []neural.Axis{{Name: neural.AxisBatch}},
					Kind: neural.KindRegressionValues,
				}},
				{Name: "labels", Type: neural.NeuralType{
					Axes: []neural.Axis{{Name: neural.AxisBatch}},
					Kind: neural.KindLabels,
				}},
			},
			Outputs: []neural.Port{
				{Name: "loss", Type: neural.NeuralType{Kind: neural.KindLoss}},
			},
		},
	}, nil
}

func (l *WERRegression) Kind() string                { return kindWERRegression }
func (l *WERRegression) Signature() neural.Signature { return l.sig }

// Forward returns the mean squared error between logits and wers under the
// configured reduction. labels is accepted for contract parity and unused.
// The port ranks are advisory here; the only hard requirement is that logits
// and wers share a shape.
func (l *WERRegression) Forward(logits, labels, wers *tensor.Dense) (*tensor.Dense, error) {
	timer := prometheus.NewTimer(forwardDuration.WithLabelValues(kindWERRegression))
	defer timer.ObserveDuration()
	forwardTotal.WithLabelValues(kindWERRegression).Inc()

	diff, err := logits.Sub(wers)
	if err != nil {
		return nil, err
	}

	data := diff.Data()
	switch l.opts.reduction {
	case ReductionNone:
		for i, v := range data {
			data[i] = v * v
		}
		return tensor.New(data, diff.Shape()...)
	case ReductionSum:
		var sum float64
		for _, v := range data {
			sum += v * v
		}
		return tensor.New([]float64{sum}, 1)
	default: // mean
		var sum float64
		for _, v := range data {
			sum += v * v
		}
		if len(data) == 0 {
			return tensor.New([]float64{0}, 1)
		}
		return tensor.New([]float64{sum / float64(len(data))}, 1)
	}
}
