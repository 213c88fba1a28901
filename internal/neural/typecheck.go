package neural

import (
	"errors"
	"fmt"
)

// ErrTypeCheck is wrapped by every contract violation reported by Check.
var ErrTypeCheck = errors.New("neural: type check failed")

// Shaped is anything carrying a tensor shape. Both dense and integer tensors
// satisfy it.
type Shaped interface {
	Shape() []int
}

// Check validates the named inputs against the signature's input ports.
// Required ports must be present, ranks must match, named axes with known
// sizes must match, and axes sharing a name across ports must agree on size.
// A failed check is fatal to the forward pass; nothing downstream recovers it.
func Check(sig Signature, inputs map[string]Shaped) error {
	seen := make(map[string]int, 4)
	for _, port := range sig.Inputs {
		val, ok := inputs[port.Name]
		if !ok || val == nil {
			if port.Optional {
				continue
			}
			return fmt.Errorf("%w: missing required input %q", ErrTypeCheck, port.Name)
		}
		shape := val.Shape()
		if len(shape) != len(port.Type.Axes) {
			return fmt.Errorf("%w: input %q has rank %d, port %s expects rank %d",
				ErrTypeCheck, port.Name, len(shape), describe(port), len(port.Type.Axes))
		}
		for i, axis := range port.Type.Axes {
			if axis.Size > 0 && shape[i] != axis.Size {
				return fmt.Errorf("%w: input %q axis %d (%s) has size %d, expected %d",
					ErrTypeCheck, port.Name, i, axis.Name, shape[i], axis.Size)
			}
			if axis.Name == "" || axis.Name == AxisAny {
				continue
			}
			if prev, ok := seen[axis.Name]; ok {
				if prev != shape[i] {
					return fmt.Errorf("%w: axis %s is %d on input %q but %d elsewhere",
						ErrTypeCheck, axis.Name, shape[i], port.Name, prev)
				}
			} else {
				seen[axis.Name] = shape[i]
			}
		}
	}
	for name := range inputs {
		if _, ok := sig.Input(name); !ok {
			return fmt.Errorf("%w: unknown input %q", ErrTypeCheck, name)
		}
	}
	return nil
}

func describe(p Port) string {
	s := p.Name + "("
	for i, a := range p.Type.Axes {
		if i > 0 {
			s += ","
		}
		s += a.Name
	}
	return s + ") " + p.Type.Kind.String()
}
