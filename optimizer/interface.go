package optimizer

import (
	"errors"
	"fmt"

	"github.com/tsawler/go-syncfree/checkpoints"
	"github.com/tsawler/go-syncfree/tensor"
)

// Step-time error conditions. Both are raised before any parameter or
// optimizer state has been mutated.
var (
	// ErrNonScalarFoundInf is returned when the found-inf tensor passed to
	// Step is not a scalar.
	ErrNonScalarFoundInf = errors.New("the found-inf tensor has to be scalar type")

	// ErrSparseGradient is returned when any parameter carries a sparse
	// gradient. The sync-free optimizers only support dense gradients.
	ErrSparseGradient = errors.New("sparse gradients are not supported")
)

// Optimizer defines the common interface for all sync-free optimizers.
// Step consumes a scalar found-inf tensor: when it is nonzero the gradient
// batch is numerically invalid and the whole update is skipped for this
// call (moments frozen, step counts unchanged, parameters untouched).
type Optimizer interface {
	// Step performs a single optimization step over all parameters that
	// currently carry a gradient.
	Step(foundInf *tensor.Tensor) error

	// GetState extracts optimizer state for checkpointing
	GetState() (*OptimizerState, error)

	// LoadState restores optimizer state from checkpoint
	LoadState(state *OptimizerState) error

	// UpdateLearningRate updates the learning rate
	UpdateLearningRate(lr float32)
}

// OptimizerState represents the complete state of an optimizer
// Compatible with checkpoints.OptimizerState for serialization
type OptimizerState struct {
	Type       string                        `json:"type"`       // "Adam", "AdamW", "SGD"
	Parameters map[string]interface{}        `json:"parameters"` // Hyperparameters
	StateData  []checkpoints.OptimizerTensor `json:"state_data"` // Per-parameter state tensors
}

// EngineType selects the execution path for the fused per-parameter update.
type EngineType int

const (
	// EngineAuto uses the native accelerator path when the bridge reports an
	// available device, and the tensor path otherwise.
	EngineAuto EngineType = iota
	// EngineTensor always uses the pure tensor-algebra path.
	EngineTensor
	// EngineNative requires the native accelerator path.
	EngineNative
)

func (e EngineType) String() string {
	switch e {
	case EngineAuto:
		return "Auto"
	case EngineTensor:
		return "Tensor"
	case EngineNative:
		return "Native"
	default:
		return "Unknown"
	}
}

// checkFoundInf validates the skip-signal tensor and returns its truth
// value. Any shape other than scalar is rejected before state is touched.
func checkFoundInf(foundInf *tensor.Tensor) (bool, error) {
	if foundInf == nil {
		return false, fmt.Errorf("%w: got nil", ErrNonScalarFoundInf)
	}
	if !foundInf.IsScalar() {
		return false, fmt.Errorf("%w: got shape %v", ErrNonScalarFoundInf, foundInf.Shape)
	}

	value, err := foundInf.Item()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrNonScalarFoundInf, err)
	}

	switch v := value.(type) {
	case float32:
		return v != 0, nil
	case int32:
		return v != 0, nil
	default:
		return false, fmt.Errorf("%w: unsupported dtype %T", ErrNonScalarFoundInf, value)
	}
}

// checkDenseGradients rejects sparse gradients for the whole parameter group
// before any per-parameter state is created or mutated.
func checkDenseGradients(params []*tensor.Tensor, optimizerType string) error {
	for _, p := range params {
		if p == nil || p.Grad() == nil {
			continue
		}
		if p.Grad().IsSparse() {
			return fmt.Errorf("%w: %s does not support %s gradients, please consider a sparse-capable variant",
				ErrSparseGradient, optimizerType, p.Grad().Layout)
		}
	}
	return nil
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
