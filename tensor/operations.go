package tensor

import (
	"fmt"
	"math"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if t1.DType != t2.DType {
		return fmt.Errorf("dtype mismatch: %s vs %s", t1.DType, t2.DType)
	}

	if t1.Layout != Dense || t2.Layout != Dense {
		return fmt.Errorf("elementwise operations require dense tensors, got %s and %s", t1.Layout, t2.Layout)
	}

	if t1.NumElems != t2.NumElems {
		return fmt.Errorf("shape mismatch: %v vs %v", t1.Shape, t2.Shape)
	}

	return nil
}

func (t *Tensor) float32Data() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Float32", t.DType)
	}
	return t.Data.([]float32), nil
}

// MulScalar multiplies every element of t by s in place.
func (t *Tensor) MulScalar(s float32) error {
	data, err := t.float32Data()
	if err != nil {
		return err
	}

	for i := range data {
		data[i] *= s
	}
	return nil
}

// AddScalar adds s to every element of t in place.
func (t *Tensor) AddScalar(s float32) error {
	data, err := t.float32Data()
	if err != nil {
		return err
	}

	for i := range data {
		data[i] += s
	}
	return nil
}

// Add accumulates alpha*other into t in place.
func (t *Tensor) Add(other *Tensor, alpha float32) error {
	if err := checkCompatibility(t, other); err != nil {
		return err
	}

	dst, err := t.float32Data()
	if err != nil {
		return err
	}
	src, err := other.float32Data()
	if err != nil {
		return err
	}

	for i := range dst {
		dst[i] += alpha * src[i]
	}
	return nil
}

// AddCMul accumulates value*a*b (elementwise product) into t in place.
func (t *Tensor) AddCMul(a, b *Tensor, value float32) error {
	if err := checkCompatibility(t, a); err != nil {
		return err
	}
	if err := checkCompatibility(t, b); err != nil {
		return err
	}

	dst, err := t.float32Data()
	if err != nil {
		return err
	}
	da, err := a.float32Data()
	if err != nil {
		return err
	}
	db, err := b.float32Data()
	if err != nil {
		return err
	}

	for i := range dst {
		dst[i] += value * da[i] * db[i]
	}
	return nil
}

// AddCDiv accumulates value*num/denom (elementwise quotient) into t in place.
func (t *Tensor) AddCDiv(num, denom *Tensor, value float32) error {
	if err := checkCompatibility(t, num); err != nil {
		return err
	}
	if err := checkCompatibility(t, denom); err != nil {
		return err
	}

	dst, err := t.float32Data()
	if err != nil {
		return err
	}
	dn, err := num.float32Data()
	if err != nil {
		return err
	}
	dd, err := denom.float32Data()
	if err != nil {
		return err
	}

	for i := range dst {
		dst[i] += value * dn[i] / dd[i]
	}
	return nil
}

// Maximum replaces each element of t with the elementwise maximum of t and
// other, in place.
func (t *Tensor) Maximum(other *Tensor) error {
	if err := checkCompatibility(t, other); err != nil {
		return err
	}

	dst, err := t.float32Data()
	if err != nil {
		return err
	}
	src, err := other.float32Data()
	if err != nil {
		return err
	}

	for i := range dst {
		if src[i] > dst[i] {
			dst[i] = src[i]
		}
	}
	return nil
}

// Sqrt returns a new tensor holding the elementwise square root of t.
func Sqrt(t *Tensor) (*Tensor, error) {
	data, err := t.float32Data()
	if err != nil {
		return nil, err
	}

	out := make([]float32, len(data))
	for i, v := range data {
		if v < 0 {
			return nil, fmt.Errorf("Sqrt of negative value %f at index %d", v, i)
		}
		out[i] = float32(math.Sqrt(float64(v)))
	}

	return NewTensor(t.Size(), t.DType, t.Device, out)
}

// HasNonFinite reports whether any element of t is NaN or infinite.
func (t *Tensor) HasNonFinite() (bool, error) {
	data, err := t.float32Data()
	if err != nil {
		return false, err
	}

	for _, v := range data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true, nil
		}
	}
	return false, nil
}
