package tensor

import (
	"fmt"
)

func (t *Tensor) Clone() (*Tensor, error) {
	clone := &Tensor{
		Shape:    t.Size(),
		Strides:  calculateStrides(t.Shape),
		DType:    t.DType,
		Device:   t.Device,
		Layout:   t.Layout,
		NumElems: t.NumElems,
	}

	switch t.DType {
	case Float32:
		data := t.Data.([]float32)
		cloneData := make([]float32, len(data))
		copy(cloneData, data)
		clone.Data = cloneData
	case Int32:
		data := t.Data.([]int32)
		cloneData := make([]int32, len(data))
		copy(cloneData, data)
		clone.Data = cloneData
	default:
		return nil, fmt.Errorf("unsupported dtype for Clone: %s", t.DType)
	}

	if t.Indices != nil {
		clone.Indices = make([]int32, len(t.Indices))
		copy(clone.Indices, t.Indices)
	}

	return clone, nil
}

func (t *Tensor) GetFloat32Data() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Float32", t.DType)
	}
	return t.Data.([]float32), nil
}

func (t *Tensor) GetInt32Data() ([]int32, error) {
	if t.DType != Int32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Int32", t.DType)
	}
	return t.Data.([]int32), nil
}

func (t *Tensor) Item() (interface{}, error) {
	if t.NumElems != 1 {
		return nil, fmt.Errorf("Item can only be called on tensors with exactly one element, got %d", t.NumElems)
	}

	switch t.DType {
	case Float32:
		data := t.Data.([]float32)
		return data[0], nil
	case Int32:
		data := t.Data.([]int32)
		return data[0], nil
	default:
		return nil, fmt.Errorf("unsupported dtype for Item: %s", t.DType)
	}
}

// ItemFloat32 returns the single element of a one-element Float32 tensor.
func (t *Tensor) ItemFloat32() (float32, error) {
	if t.DType != Float32 {
		return 0, fmt.Errorf("tensor dtype is %s, not Float32", t.DType)
	}
	if t.NumElems != 1 {
		return 0, fmt.Errorf("ItemFloat32 can only be called on tensors with exactly one element, got %d", t.NumElems)
	}
	return t.Data.([]float32)[0], nil
}

func (t *Tensor) Size() []int {
	result := make([]int, len(t.Shape))
	copy(result, t.Shape)
	return result
}

func (t *Tensor) Numel() int {
	return t.NumElems
}

func (t *Tensor) Dim() int {
	return len(t.Shape)
}

func (t *Tensor) Equal(other *Tensor) (bool, error) {
	if t.DType != other.DType {
		return false, nil
	}

	if t.Layout != other.Layout {
		return false, nil
	}

	if len(t.Shape) != len(other.Shape) {
		return false, nil
	}

	for i, dim := range t.Shape {
		if dim != other.Shape[i] {
			return false, nil
		}
	}

	switch t.DType {
	case Float32:
		data1 := t.Data.([]float32)
		data2 := other.Data.([]float32)
		if len(data1) != len(data2) {
			return false, nil
		}
		for i := range data1 {
			if data1[i] != data2[i] {
				return false, nil
			}
		}
	case Int32:
		data1 := t.Data.([]int32)
		data2 := other.Data.([]int32)
		if len(data1) != len(data2) {
			return false, nil
		}
		for i := range data1 {
			if data1[i] != data2[i] {
				return false, nil
			}
		}
	default:
		return false, fmt.Errorf("unsupported dtype for Equal: %s", t.DType)
	}

	return true, nil
}

// ZeroGrad detaches the gradient from every tensor in the slice.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if t != nil {
			t.ClearGrad()
		}
	}
}
