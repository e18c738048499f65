package tensor

import (
	"fmt"
)

func NewTensor(shape []int, dtype DType, device DeviceType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	strides := calculateStrides(shape)

	tensor := &Tensor{
		Shape:    shape,
		Strides:  strides,
		DType:    dtype,
		Device:   device,
		Layout:   Dense,
		NumElems: numElems,
	}

	if data != nil {
		if err := tensor.setData(data); err != nil {
			return nil, err
		}
	}

	return tensor, nil
}

func (t *Tensor) setData(data interface{}) error {
	switch t.DType {
	case Float32:
		switch d := data.(type) {
		case []float32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case float32:
			slice := make([]float32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Float32 tensor: %T", data)
		}
	case Int32:
		switch d := data.(type) {
		case []int32:
			if len(d) != t.NumElems {
				return fmt.Errorf("data length %d does not match tensor size %d", len(d), t.NumElems)
			}
			t.Data = d
		case int32:
			slice := make([]int32, t.NumElems)
			for i := range slice {
				slice[i] = d
			}
			t.Data = slice
		default:
			return fmt.Errorf("unsupported data type for Int32 tensor: %T", data)
		}
	default:
		return fmt.Errorf("unsupported dtype: %s", t.DType)
	}
	return nil
}

func Zeros(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)

	var data interface{}
	switch dtype {
	case Float32:
		data = make([]float32, numElems)
	case Int32:
		data = make([]int32, numElems)
	default:
		return nil, fmt.Errorf("unsupported dtype for Zeros: %s", dtype)
	}

	return NewTensor(shape, dtype, device, data)
}

func Ones(shape []int, dtype DType, device DeviceType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)

	var data interface{}
	switch dtype {
	case Float32:
		slice := make([]float32, numElems)
		for i := range slice {
			slice[i] = 1.0
		}
		data = slice
	case Int32:
		slice := make([]int32, numElems)
		for i := range slice {
			slice[i] = 1
		}
		data = slice
	default:
		return nil, fmt.Errorf("unsupported dtype for Ones: %s", dtype)
	}

	return NewTensor(shape, dtype, device, data)
}

func Full(shape []int, value interface{}, dtype DType, device DeviceType) (*Tensor, error) {
	return NewTensor(shape, dtype, device, value)
}

// ZerosLike creates a dense zero tensor with the same shape, dtype, and
// device as t.
func ZerosLike(t *Tensor) (*Tensor, error) {
	return Zeros(t.Size(), t.DType, t.Device)
}

// FromScalar creates a single-element Float32 tensor holding value.
func FromScalar(value float32, device DeviceType) *Tensor {
	t, _ := NewTensor([]int{1}, Float32, device, []float32{value})
	return t
}

// NewSparseCOO creates a sparse Float32 tensor holding values at the given
// flat element indices. The logical shape is shape; only len(values)
// elements are materialized.
func NewSparseCOO(shape []int, indices []int32, values []float32, device DeviceType) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	if len(indices) != len(values) {
		return nil, fmt.Errorf("indices length %d does not match values length %d", len(indices), len(values))
	}

	numElems := calculateNumElements(shape)
	for _, idx := range indices {
		if idx < 0 || int(idx) >= numElems {
			return nil, fmt.Errorf("sparse index %d out of range for tensor with %d elements", idx, numElems)
		}
	}

	return &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		DType:    Float32,
		Device:   device,
		Layout:   SparseCOO,
		Data:     values,
		NumElems: numElems,
		Indices:  indices,
	}, nil
}
