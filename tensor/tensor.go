package tensor

import (
	"fmt"
)

type DType int

const (
	Float32 DType = iota
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Int32:
		return "Int32"
	default:
		return "Unknown"
	}
}

type DeviceType int

const (
	CPU DeviceType = iota
	Accelerator
)

func (d DeviceType) String() string {
	switch d {
	case CPU:
		return "CPU"
	case Accelerator:
		return "Accelerator"
	default:
		return "Unknown"
	}
}

// Layout describes how tensor elements are stored.
type Layout int

const (
	// Dense tensors store every element contiguously.
	Dense Layout = iota
	// SparseCOO tensors store only nonzero values plus their flat indices.
	SparseCOO
)

func (l Layout) String() string {
	switch l {
	case Dense:
		return "Dense"
	case SparseCOO:
		return "SparseCOO"
	default:
		return "Unknown"
	}
}

type Tensor struct {
	Shape    []int
	Strides  []int
	DType    DType
	Device   DeviceType
	Layout   Layout
	Data     interface{}
	NumElems int

	// Indices holds the flat element indices of a SparseCOO tensor's values.
	// Nil for dense tensors.
	Indices []int32

	grad *Tensor
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, device=%s, layout=%s, elements=%d)",
		t.Shape, t.DType, t.Device, t.Layout, t.NumElems)
}

// Grad returns the gradient tensor attached to t, or nil.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// SetGrad attaches a gradient tensor. The gradient is referenced, not copied.
func (t *Tensor) SetGrad(grad *Tensor) {
	t.grad = grad
}

// ClearGrad detaches the gradient tensor.
func (t *Tensor) ClearGrad() {
	t.grad = nil
}

// IsSparse reports whether the tensor uses a sparse storage layout.
func (t *Tensor) IsSparse() bool {
	return t.Layout == SparseCOO
}

// IsScalar reports whether the tensor holds exactly one element with at most
// one dimension. Scalar tensors are used for signaling values such as the
// found-inf flag.
func (t *Tensor) IsScalar() bool {
	return t.NumElems == 1 && len(t.Shape) <= 1
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}
