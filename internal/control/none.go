package control

import "github.com/san-kum/trajopt/internal/dynamo"

// Constant applies the same control at every time.
type Constant struct {
	U dynamo.Control
}

// NewNone returns a controller that applies zero control of dimension dim.
func NewNone(dim int) *Constant {
	return &Constant{U: make(dynamo.Control, dim)}
}

func (c *Constant) Compute(x dynamo.State, t float64) dynamo.Control {
	return c.U.Clone()
}
