package losses

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Config is the serializable construction record of a loss module. It round
// trips through CBOR, the toolkit's wire encoding.
type Config struct {
	Kind        string    `cbor:"kind"`
	Rank        int       `cbor:"rank"`
	ClassWeight []float64 `cbor:"class_weight,omitempty"`
	Reduction   string    `cbor:"reduction"`
	IgnoreIndex int       `cbor:"ignore_index"`
}

// Build constructs the loss module the config describes.
func (c Config) Build() (Module, error) {
	opts := []Option{
		WithReduction(Reduction(c.Reduction)),
		WithIgnoreIndex(c.IgnoreIndex),
	}
	if c.Rank > 0 {
		opts = append(opts, WithRank(c.Rank))
	}
	if c.ClassWeight != nil {
		opts = append(opts, WithClassWeight(c.ClassWeight))
	}
	switch c.Kind {
	case kindCrossEntropy:
		return NewCrossEntropy(opts...)
	case kindNLL:
		return NewNLL(opts...)
	case kindWERRegression:
		return NewWERRegression(opts...)
	default:
		return nil, fmt.Errorf("losses: unknown loss kind %q", c.Kind)
	}
}

// Marshal encodes the config as CBOR.
func (c Config) Marshal() ([]byte, error) {
	return cbor.Marshal(c)
}

// UnmarshalConfig decodes a CBOR-encoded config.
func UnmarshalConfig(data []byte) (Config, error) {
	var c Config
	if err := cbor.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("losses: decoding config: %w", err)
	}
	return c, nil
}

func (o options) config(kind string) Config {
	return Config{
		Kind:        kind,
		Rank:        o.rank,
		ClassWeight: append([]float64(nil), o.classWeight...),
		Reduction:   string(o.reduction),
		IgnoreIndex: o.ignoreIndex,
	}
}

// Config returns the module's construction record.
func (l *CrossEntropy) Config() Config { return l.opts.config(kindCrossEntropy) }

// Config returns the module's construction record.
func (l *NLL) Config() Config { return l.opts.config(kindNLL) }

// Config returns the module's construction record.
func (l *WERRegression) Config() Config { return l.opts.config(kindWERRegression) }
