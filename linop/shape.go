package linop

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrShape is the sentinel for all shape incompatibility errors.
var ErrShape = errors.New("linop: incompatible shapes")

// Unknown marks a dimension whose size is not resolved until the shape is
// evaluated against concrete data.
const Unknown = -1

// Shape is an ordered list of dimension sizes, each non-negative or Unknown.
type Shape []int

// Rank returns the number of dimensions.
func (s Shape) Rank() int { return len(s) }

// Size returns the product of all dimensions, or Unknown if any dimension
// is unresolved. The empty shape has size 1.
func (s Shape) Size() int {
	n := 1
	for _, d := range s {
		if d == Unknown {
			return Unknown
		}
		n *= d
	}
	return n
}

// IsFullyDefined reports whether every dimension is resolved.
func (s Shape) IsFullyDefined() bool {
	for _, d := range s {
		if d == Unknown {
			return false
		}
	}
	return true
}

// Equal reports whether the shapes have identical ranks and dimensions.
func (s Shape) Equal(t Shape) bool {
	if len(s) != len(t) {
		return false
	}
	for i := range s {
		if s[i] != t[i] {
			return false
		}
	}
	return true
}

// CompatibleWith reports whether the shapes could describe the same data:
// ranks match and each dimension pair is equal or contains an Unknown.
func (s Shape) CompatibleWith(t Shape) bool {
	if len(s) != len(t) {
		return false
	}
	for i := range s {
		if s[i] != t[i] && s[i] != Unknown && t[i] != Unknown {
			return false
		}
	}
	return true
}

// Resolve merges s with a concrete shape, preferring known dimensions.
// It returns the canonical best-known shape or an error on conflict.
func (s Shape) Resolve(concrete Shape) (Shape, error) {
	if !s.CompatibleWith(concrete) {
		return nil, fmt.Errorf("%w: cannot resolve %v against %v", ErrShape, s, concrete)
	}
	out := s.Clone()
	for i := range out {
		if out[i] == Unknown {
			out[i] = concrete[i]
		}
	}
	return out, nil
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// Concat returns the concatenation of s and t.
func (s Shape) Concat(t Shape) Shape {
	out := make(Shape, 0, len(s)+len(t))
	out = append(out, s...)
	out = append(out, t...)
	return out
}

// Strides returns row-major strides for the shape.
func (s Shape) Strides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}
	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		if d == Unknown {
			parts[i] = "?"
		} else {
			parts[i] = strconv.Itoa(d)
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// BroadcastShapes applies the usual right-aligned broadcasting rules:
// dimensions are compared from the right and must be equal or 1.
func BroadcastShapes(a, b Shape) (Shape, error) {
	n := max(len(a), len(b))
	out := make(Shape, n)
	for i := 1; i <= n; i++ {
		da, db := 1, 1
		if i <= len(a) {
			da = a[len(a)-i]
		}
		if i <= len(b) {
			db = b[len(b)-i]
		}
		switch {
		case da == db || db == 1:
			out[n-i] = da
		case da == 1:
			out[n-i] = db
		default:
			return nil, fmt.Errorf("%w: cannot broadcast %v with %v", ErrShape, a, b)
		}
	}
	return out, nil
}

// broadcastAll folds BroadcastShapes over a list of shapes.
func broadcastAll(shapes ...Shape) (Shape, error) {
	out := Shape{}
	for _, s := range shapes {
		var err error
		out, err = BroadcastShapes(out, s)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
