package linop

import (
	"fmt"
)

// Composition chains operators in matrix-product order: Compose(A, B)
// applies B first and A second. The adjoint applies the adjoints in
// reverse order. Composition holds references to its factors and does not
// copy their parameters.
type Composition struct {
	ops   []Operator
	batch Shape
}

// Compose validates and chains the given operators. The domain of each
// factor must be compatible with the range of the factor to its right.
func Compose(ops ...Operator) (*Composition, error) {
	if len(ops) == 0 {
		return nil, fmt.Errorf("%w: empty composition", ErrShape)
	}
	for i := 0; i+1 < len(ops); i++ {
		left, right := ops[i], ops[i+1]
		if !left.DomainShape().CompatibleWith(right.RangeShape()) {
			return nil, fmt.Errorf(
				"%w: cannot compose: factor %d has domain %v, factor %d has range %v",
				ErrShape, i, left.DomainShape(), i+1, right.RangeShape())
		}
	}
	shapes := make([]Shape, len(ops))
	for i, op := range ops {
		shapes[i] = op.BatchShape()
	}
	batch, err := broadcastAll(shapes...)
	if err != nil {
		return nil, err
	}
	return &Composition{ops: ops, batch: batch}, nil
}

func (c *Composition) DomainShape() Shape { return c.ops[len(c.ops)-1].DomainShape() }
func (c *Composition) RangeShape() Shape  { return c.ops[0].RangeShape() }
func (c *Composition) BatchShape() Shape  { return c.batch }

func (c *Composition) IsSelfAdjoint() bool {
	return len(c.ops) == 1 && c.ops[0].IsSelfAdjoint()
}

func (c *Composition) IsPositiveDefinite() bool {
	return len(c.ops) == 1 && c.ops[0].IsPositiveDefinite()
}

func (c *Composition) IsSquare() bool {
	return c.DomainShape().Size() == c.RangeShape().Size()
}

// Operators returns the factors in matrix-product order.
func (c *Composition) Operators() []Operator { return c.ops }

func (c *Composition) Transform(x *Array, adjoint bool) (*Array, error) {
	var err error
	if adjoint {
		for _, op := range c.ops {
			if x, err = op.Transform(x, true); err != nil {
				return nil, err
			}
		}
		return x, nil
	}
	for i := len(c.ops) - 1; i >= 0; i-- {
		if x, err = c.ops[i].Transform(x, false); err != nil {
			return nil, err
		}
	}
	return x, nil
}

// InverseTransform inverts the chain factor by factor. Defined only when
// every factor is an Inverter.
func (c *Composition) InverseTransform(x *Array, adjoint bool) (*Array, error) {
	var err error
	if adjoint {
		// Inverse of the adjoint: factor adjoint-inverses in forward order.
		for i := len(c.ops) - 1; i >= 0; i-- {
			inv, ok := c.ops[i].(Inverter)
			if !ok {
				return nil, fmt.Errorf("%w: factor %T", ErrNonInvertible, c.ops[i])
			}
			if x, err = inv.InverseTransform(x, true); err != nil {
				return nil, err
			}
		}
		return x, nil
	}
	for _, op := range c.ops {
		inv, ok := op.(Inverter)
		if !ok {
			return nil, fmt.Errorf("%w: factor %T", ErrNonInvertible, op)
		}
		if x, err = inv.InverseTransform(x, false); err != nil {
			return nil, err
		}
	}
	return x, nil
}
