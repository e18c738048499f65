package optimizer

import (
	"fmt"

	"github.com/tsawler/go-syncfree/checkpoints"
	"github.com/tsawler/go-syncfree/tensor"
)

// Common helper functions for optimizer state management

// paramState is the lazily created per-parameter state record. The optimizer
// owns every record; parameters are referenced, never owned. Records live
// until the optimizer is discarded.
type paramState struct {
	step        uint64
	expAvg      *tensor.Tensor
	expAvgSq    *tensor.Tensor
	maxExpAvgSq *tensor.Tensor // allocated only for amsgrad
}

// newParamState allocates zeroed moment estimates matching the parameter.
func newParamState(param *tensor.Tensor, amsgrad bool) (*paramState, error) {
	expAvg, err := tensor.ZerosLike(param)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate exp_avg: %v", err)
	}

	expAvgSq, err := tensor.ZerosLike(param)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate exp_avg_sq: %v", err)
	}

	st := &paramState{
		expAvg:   expAvg,
		expAvgSq: expAvgSq,
	}

	if amsgrad {
		st.maxExpAvgSq, err = tensor.ZerosLike(param)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate max_exp_avg_sq: %v", err)
		}
	}

	return st, nil
}

// snapshotTensor copies a state tensor into a checkpoint record.
func snapshotTensor(t *tensor.Tensor, name string, stateType string) (*checkpoints.OptimizerTensor, error) {
	if t == nil {
		return nil, nil
	}

	data, err := t.GetFloat32Data()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %v", name, err)
	}

	out := make([]float32, len(data))
	copy(out, data)

	return &checkpoints.OptimizerTensor{
		Name:      name,
		Shape:     t.Size(),
		Data:      out,
		StateType: stateType,
	}, nil
}

// restoreTensor copies checkpoint data back into a state tensor in place.
func restoreTensor(dst *tensor.Tensor, src checkpoints.OptimizerTensor) error {
	if dst == nil {
		return fmt.Errorf("%s: destination tensor is nil", src.Name)
	}

	data, err := dst.GetFloat32Data()
	if err != nil {
		return fmt.Errorf("failed to restore %s: %v", src.Name, err)
	}

	if len(src.Data) != len(data) {
		return fmt.Errorf("data size mismatch for %s: expected %d elements, got %d",
			src.Name, len(data), len(src.Data))
	}

	copy(data, src.Data)
	return nil
}

// extractBufferIndex extracts the parameter index from state tensor names like "exp_avg_0", "max_exp_avg_sq_1"
func extractBufferIndex(name string) int {
	var idx int
	// Find the last underscore in the name
	lastUnderscoreIdx := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '_' {
			lastUnderscoreIdx = i
			break
		}
	}

	if lastUnderscoreIdx == -1 {
		return -1
	}

	// Try to parse the number after the last underscore
	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}

// extractFloat32Param safely extracts a float32 parameter from the state map
func extractFloat32Param(params map[string]interface{}, key string, defaultValue float32) float32 {
	switch val := params[key].(type) {
	case float64:
		return float32(val)
	case float32:
		return val
	}
	return defaultValue
}

// extractBoolParam safely extracts a bool parameter from the state map
func extractBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := params[key].(bool); ok {
		return val
	}
	return defaultValue
}

// extractStepCounts extracts per-parameter step counts from the state map.
// JSON decodes numeric arrays as []interface{} of float64, so both the
// in-memory and round-tripped representations are handled.
func extractStepCounts(params map[string]interface{}, key string, numParams int) []uint64 {
	steps := make([]uint64, numParams)

	switch val := params[key].(type) {
	case []uint64:
		copy(steps, val)
	case []interface{}:
		for i, v := range val {
			if i >= numParams {
				break
			}
			if f, ok := v.(float64); ok {
				steps[i] = uint64(f)
			}
		}
	}

	return steps
}
