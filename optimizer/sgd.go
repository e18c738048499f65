package optimizer

import (
	"fmt"

	"github.com/tsawler/go-syncfree/checkpoints"
	"github.com/tsawler/go-syncfree/tensor"
)

// SGD implements sync-free stochastic gradient descent with optional
// momentum and Nesterov acceleration. When the found-inf signal is set for
// a call, the momentum buffer is frozen, the step count is not incremented,
// and the parameter is left unchanged.
type SGD struct {
	// Hyperparameters
	LearningRate float32
	Momentum     float32 // Momentum coefficient (0 for vanilla SGD)
	Dampening    float32 // Dampening for momentum
	WeightDecay  float32 // L2 regularization coefficient
	Nesterov     bool    // Whether to use Nesterov momentum

	params []*tensor.Tensor
	state  map[*tensor.Tensor]*sgdState
}

// sgdState is the lazily created per-parameter record for SGD.
type sgdState struct {
	step        uint64
	momentumBuf *tensor.Tensor // allocated on first momentum update
}

// SGDConfig holds configuration for the sync-free SGD optimizer
type SGDConfig struct {
	LearningRate float32
	Momentum     float32
	Dampening    float32
	WeightDecay  float32
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		Dampening:    0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// NewSGD creates a sync-free SGD optimizer over the given parameters.
func NewSGD(params []*tensor.Tensor, config SGDConfig) (*SGD, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}

	if config.LearningRate < 0 {
		return nil, fmt.Errorf("invalid learning rate: %f", config.LearningRate)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("invalid momentum value: %f", config.Momentum)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("invalid weight_decay value: %f", config.WeightDecay)
	}
	if config.Nesterov && (config.Momentum <= 0 || config.Dampening != 0) {
		return nil, fmt.Errorf("nesterov momentum requires a momentum and zero dampening")
	}

	return &SGD{
		LearningRate: config.LearningRate,
		Momentum:     config.Momentum,
		Dampening:    config.Dampening,
		WeightDecay:  config.WeightDecay,
		Nesterov:     config.Nesterov,
		params:       params,
		state:        make(map[*tensor.Tensor]*sgdState),
	}, nil
}

// Step performs a single optimization step. See Adam.Step for the found-inf
// contract.
func (sgd *SGD) Step(foundInf *tensor.Tensor) error {
	skip, err := checkFoundInf(foundInf)
	if err != nil {
		return err
	}

	if err := checkDenseGradients(sgd.params, "SGD"); err != nil {
		return err
	}

	for _, p := range sgd.params {
		if p == nil || p.Grad() == nil {
			continue
		}

		st := sgd.state[p]
		if st == nil {
			st = &sgdState{}
			sgd.state[p] = st
		}

		if skip {
			// Frozen step: no momentum update, no parameter delta.
			continue
		}
		st.step++

		if err := sgd.stepParam(st, p, p.Grad()); err != nil {
			return fmt.Errorf("SGD step execution failed: %v", err)
		}
	}

	return nil
}

func (sgd *SGD) stepParam(st *sgdState, param, grad *tensor.Tensor) error {
	// d is the effective update direction; the caller's gradient tensor is
	// never mutated.
	d := grad
	owned := false

	if sgd.WeightDecay != 0 {
		var err error
		if d, err = grad.Clone(); err != nil {
			return err
		}
		owned = true
		if err := d.Add(param, sgd.WeightDecay); err != nil {
			return err
		}
	}

	if sgd.Momentum != 0 {
		if st.momentumBuf == nil {
			buf, err := d.Clone()
			if err != nil {
				return err
			}
			st.momentumBuf = buf
		} else {
			if err := st.momentumBuf.MulScalar(sgd.Momentum); err != nil {
				return err
			}
			if err := st.momentumBuf.Add(d, 1-sgd.Dampening); err != nil {
				return err
			}
		}

		if sgd.Nesterov {
			if !owned {
				var err error
				if d, err = d.Clone(); err != nil {
					return err
				}
				owned = true
			}
			if err := d.Add(st.momentumBuf, sgd.Momentum); err != nil {
				return err
			}
		} else {
			d = st.momentumBuf
		}
	}

	return param.Add(d, -sgd.LearningRate)
}

// UpdateLearningRate updates the learning rate
func (sgd *SGD) UpdateLearningRate(newLR float32) {
	sgd.LearningRate = newLR
}

// StepCount returns the recorded step count for a parameter, or 0 if the
// parameter has no state yet.
func (sgd *SGD) StepCount(param *tensor.Tensor) uint64 {
	if st := sgd.state[param]; st != nil {
		return st.step
	}
	return 0
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGD) GetState() (*OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0, len(sgd.params))
	steps := make([]uint64, len(sgd.params))

	for i, p := range sgd.params {
		st := sgd.state[p]
		if st == nil {
			continue
		}
		steps[i] = st.step

		if st.momentumBuf != nil {
			buf, err := snapshotTensor(st.momentumBuf, fmt.Sprintf("momentum_%d", i), "momentum")
			if err != nil {
				return nil, err
			}
			stateData = append(stateData, *buf)
		}
	}

	return &OptimizerState{
		Type: "SGD",
		Parameters: map[string]interface{}{
			"learning_rate": sgd.LearningRate,
			"momentum":      sgd.Momentum,
			"dampening":     sgd.Dampening,
			"weight_decay":  sgd.WeightDecay,
			"nesterov":      sgd.Nesterov,
			"step_counts":   steps,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (sgd *SGD) LoadState(state *OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	sgd.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", sgd.LearningRate)
	sgd.Momentum = extractFloat32Param(state.Parameters, "momentum", sgd.Momentum)
	sgd.Dampening = extractFloat32Param(state.Parameters, "dampening", sgd.Dampening)
	sgd.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.Nesterov)

	steps := extractStepCounts(state.Parameters, "step_counts", len(sgd.params))
	for i, p := range sgd.params {
		if steps[i] == 0 {
			continue
		}
		st := sgd.state[p]
		if st == nil {
			st = &sgdState{}
			sgd.state[p] = st
		}
		st.step = steps[i]
	}

	for _, src := range state.StateData {
		if src.StateType != "momentum" {
			return fmt.Errorf("unknown state type %q in tensor %s", src.StateType, src.Name)
		}

		idx := extractBufferIndex(src.Name)
		if idx < 0 || idx >= len(sgd.params) {
			return fmt.Errorf("invalid parameter index in tensor name: %s", src.Name)
		}

		p := sgd.params[idx]
		st := sgd.state[p]
		if st == nil {
			st = &sgdState{}
			sgd.state[p] = st
		}
		if st.momentumBuf == nil {
			buf, err := tensor.ZerosLike(p)
			if err != nil {
				return err
			}
			st.momentumBuf = buf
		}
		if err := restoreTensor(st.momentumBuf, src); err != nil {
			return err
		}
	}

	return nil
}
