// Package neural declares typed input/output port contracts for trainable
// modules and validates tensors against them before a forward pass runs.
package neural

// ElementKind describes the semantic content of a tensor, independent of
// its shape.
type ElementKind int

const (
	KindLogits ElementKind = iota
	KindLogprobs
	KindLabels
	KindMask
	KindLoss
	KindRegressionValues
)

func (k ElementKind) String() string {
	switch k {
	case KindLogits:
		return "logits"
	case KindLogprobs:
		return "logprobs"
	case KindLabels:
		return "labels"
	case KindMask:
		return "mask"
	case KindLoss:
		return "loss"
	case KindRegressionValues:
		return "regression_values"
	default:
		return "unknown"
	}
}

// Axis is one named dimension of a port. Size 0 means any size is accepted;
// matching named axes across ports of one signature must agree on size.
type Axis struct {
	Name string
	Size int
}

// Common axis names, following the batch-first convention.
const (
	AxisBatch = "B"
	AxisTime  = "T"
	AxisDim   = "D"
	AxisAny   = "ANY"
)

// NeuralType is the type of one port: an ordered axis list plus an element
// kind.
type NeuralType struct {
	Axes []Axis
	Kind ElementKind
}

// Batched builds a NeuralType of the given rank with a leading batch axis and
// unconstrained trailing axes.
func Batched(rank int, kind ElementKind) NeuralType {
	axes := make([]Axis, rank)
	axes[0] = Axis{Name: AxisBatch}
	for i := 1; i < rank; i++ {
		axes[i] = Axis{Name: AxisAny}
	}
	return NeuralType{Axes: axes, Kind: kind}
}

// BTD builds the (batch, time, dim) type used by sequence log-probabilities.
func BTD(kind ElementKind) NeuralType {
	return NeuralType{
		Axes: []Axis{{Name: AxisBatch}, {Name: AxisTime}, {Name: AxisDim}},
		Kind: kind,
	}
}

// Port is one named input or output of a module.
type Port struct {
	Name     string
	Type     NeuralType
	Optional bool
}

// Signature is the full typed contract of a module: its input and output
// port sets.
type Signature struct {
	Inputs  []Port
	Outputs []Port
}

// Input looks up an input port by name.
func (s Signature) Input(name string) (Port, bool) {
	for _, p := range s.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}
