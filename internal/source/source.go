// Package source abstracts where model weights come from. A Source yields
// named, shaped float tensors; the conversion pipeline never cares whether
// they were read from safetensors, memory, or anything else.
package source

import (
	"errors"
	"sort"
)

var ErrTensorNotFound = errors.New("source: tensor not found")

// Tensor is one named weight array, flattened in row-major order.
type Tensor struct {
	Data  []float32
	Shape []int
}

// Elems returns the logical element count implied by the shape.
func (t Tensor) Elems() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Source provides named weight tensors. Implementations must be safe for
// sequential use by a single converter; concurrent use is not required.
type Source interface {
	// Names returns all tensor names in sorted order.
	Names() []string

	// Has reports whether a tensor exists without reading its data.
	Has(name string) bool

	// Shape returns a tensor's shape without reading its data.
	Shape(name string) ([]int, bool)

	// Tensor reads one tensor. Returns ErrTensorNotFound for unknown names.
	Tensor(name string) (Tensor, error)

	Close() error
}

// MapSource is an in-memory Source, used by tests and embedders.
type MapSource map[string]Tensor

func (m MapSource) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m MapSource) Has(name string) bool {
	_, ok := m[name]
	return ok
}

func (m MapSource) Shape(name string) ([]int, bool) {
	t, ok := m[name]
	if !ok {
		return nil, false
	}
	return t.Shape, true
}

func (m MapSource) Tensor(name string) (Tensor, error) {
	t, ok := m[name]
	if !ok {
		return Tensor{}, ErrTensorNotFound
	}
	return t, nil
}

func (m MapSource) Close() error { return nil }
