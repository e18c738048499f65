package optimizer

import (
	"fmt"

	"github.com/tsawler/go-syncfree/checkpoints"
	"github.com/tsawler/go-syncfree/tensor"
)

// AdamW implements sync-free Adam with decoupled weight decay: the decay is
// applied multiplicatively to the parameter itself instead of being folded
// into the gradient. The found-inf contract is identical to Adam.
//
// AdamW runs on the tensor path only; no fused native kernel exists for the
// decoupled update yet.
type AdamW struct {
	// Hyperparameters
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
	AMSGrad      bool

	params []*tensor.Tensor
	state  map[*tensor.Tensor]*paramState
}

// AdamWConfig holds configuration for the sync-free AdamW optimizer
type AdamWConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
	AMSGrad      bool
}

// DefaultAdamWConfig returns default AdamW optimizer configuration
func DefaultAdamWConfig() AdamWConfig {
	return AdamWConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.01,
		AMSGrad:      false,
	}
}

// NewAdamW creates a sync-free AdamW optimizer over the given parameters.
func NewAdamW(params []*tensor.Tensor, config AdamWConfig) (*AdamW, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}

	if config.LearningRate < 0 {
		return nil, fmt.Errorf("invalid learning rate: %f", config.LearningRate)
	}
	if config.Epsilon < 0 {
		return nil, fmt.Errorf("invalid epsilon value: %f", config.Epsilon)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("invalid beta parameter at index 0: %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("invalid beta parameter at index 1: %f", config.Beta2)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("invalid weight_decay value: %f", config.WeightDecay)
	}

	return &AdamW{
		LearningRate: config.LearningRate,
		Beta1:        config.Beta1,
		Beta2:        config.Beta2,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
		AMSGrad:      config.AMSGrad,
		params:       params,
		state:        make(map[*tensor.Tensor]*paramState),
	}, nil
}

// Step performs a single optimization step. See Adam.Step for the found-inf
// contract; the only difference is where weight decay is applied.
func (opt *AdamW) Step(foundInf *tensor.Tensor) error {
	skip, err := checkFoundInf(foundInf)
	if err != nil {
		return err
	}

	if err := checkDenseGradients(opt.params, "AdamW"); err != nil {
		return err
	}

	for _, p := range opt.params {
		if p == nil || p.Grad() == nil {
			continue
		}

		st := opt.state[p]
		if st == nil {
			st, err = newParamState(p, opt.AMSGrad)
			if err != nil {
				return err
			}
			opt.state[p] = st
		}

		if !skip {
			st.step++
		}

		if err := opt.stepParam(st, p, p.Grad(), skip); err != nil {
			return fmt.Errorf("AdamW step execution failed: %v", err)
		}
	}

	return nil
}

func (opt *AdamW) stepParam(st *paramState, param, grad *tensor.Tensor, skip bool) error {
	t := st.step
	first := (skip && t == 0) || (!skip && t == 1)

	bc1 := 1 - pow32(opt.Beta1, t)
	bc2 := 1 - pow32(opt.Beta2, t)

	// Decoupled decay: shrink the parameter directly, moments see the raw
	// gradient. Suppressed entirely on skip.
	if opt.WeightDecay != 0 && !skip {
		if err := param.MulScalar(1 - opt.LearningRate*opt.WeightDecay); err != nil {
			return err
		}
	}

	if !skip {
		if err := st.expAvg.MulScalar(opt.Beta1); err != nil {
			return err
		}
		if err := st.expAvg.Add(grad, 1-opt.Beta1); err != nil {
			return err
		}
		if err := st.expAvgSq.MulScalar(opt.Beta2); err != nil {
			return err
		}
		if err := st.expAvgSq.AddCMul(grad, grad, 1-opt.Beta2); err != nil {
			return err
		}
	}

	second := st.expAvgSq
	if opt.AMSGrad {
		if err := st.maxExpAvgSq.Maximum(st.expAvgSq); err != nil {
			return err
		}
		second = st.maxExpAvgSq
	}

	if skip {
		return nil
	}

	var stepSize float32
	var denom *tensor.Tensor
	if first {
		var err error
		if denom, err = tensor.Ones(param.Size(), param.DType, param.Device); err != nil {
			return err
		}
	} else {
		var err error
		if denom, err = tensor.Sqrt(second); err != nil {
			return err
		}
		if err := denom.MulScalar(1 / sqrt32(bc2)); err != nil {
			return err
		}
		if err := denom.AddScalar(opt.Epsilon); err != nil {
			return err
		}
		stepSize = opt.LearningRate / bc1
	}

	return param.AddCDiv(st.expAvg, denom, -stepSize)
}

// UpdateLearningRate updates the learning rate
func (opt *AdamW) UpdateLearningRate(newLR float32) {
	opt.LearningRate = newLR
}

// StepCount returns the recorded step count for a parameter, or 0 if the
// parameter has no state yet.
func (opt *AdamW) StepCount(param *tensor.Tensor) uint64 {
	if st := opt.state[param]; st != nil {
		return st.step
	}
	return 0
}

// GetState extracts optimizer state for checkpointing
func (opt *AdamW) GetState() (*OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0, len(opt.params)*2)
	steps := make([]uint64, len(opt.params))

	for i, p := range opt.params {
		st := opt.state[p]
		if st == nil {
			continue
		}
		steps[i] = st.step

		expAvg, err := snapshotTensor(st.expAvg, fmt.Sprintf("exp_avg_%d", i), "exp_avg")
		if err != nil {
			return nil, err
		}
		stateData = append(stateData, *expAvg)

		expAvgSq, err := snapshotTensor(st.expAvgSq, fmt.Sprintf("exp_avg_sq_%d", i), "exp_avg_sq")
		if err != nil {
			return nil, err
		}
		stateData = append(stateData, *expAvgSq)

		if opt.AMSGrad {
			maxExpAvgSq, err := snapshotTensor(st.maxExpAvgSq, fmt.Sprintf("max_exp_avg_sq_%d", i), "max_exp_avg_sq")
			if err != nil {
				return nil, err
			}
			stateData = append(stateData, *maxExpAvgSq)
		}
	}

	return &OptimizerState{
		Type: "AdamW",
		Parameters: map[string]interface{}{
			"learning_rate": opt.LearningRate,
			"beta1":         opt.Beta1,
			"beta2":         opt.Beta2,
			"epsilon":       opt.Epsilon,
			"weight_decay":  opt.WeightDecay,
			"amsgrad":       opt.AMSGrad,
			"step_counts":   steps,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (opt *AdamW) LoadState(state *OptimizerState) error {
	if err := validateStateType("AdamW", state); err != nil {
		return err
	}

	opt.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", opt.LearningRate)
	opt.Beta1 = extractFloat32Param(state.Parameters, "beta1", opt.Beta1)
	opt.Beta2 = extractFloat32Param(state.Parameters, "beta2", opt.Beta2)
	opt.Epsilon = extractFloat32Param(state.Parameters, "epsilon", opt.Epsilon)
	opt.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", opt.WeightDecay)
	opt.AMSGrad = extractBoolParam(state.Parameters, "amsgrad", opt.AMSGrad)

	steps := extractStepCounts(state.Parameters, "step_counts", len(opt.params))

	for _, src := range state.StateData {
		idx := extractBufferIndex(src.Name)
		if idx < 0 || idx >= len(opt.params) {
			return fmt.Errorf("invalid parameter index in tensor name: %s", src.Name)
		}

		p := opt.params[idx]
		st := opt.state[p]
		if st == nil {
			var err error
			if st, err = newParamState(p, opt.AMSGrad); err != nil {
				return err
			}
			opt.state[p] = st
		}
		st.step = steps[idx]

		switch src.StateType {
		case "exp_avg":
			if err := restoreTensor(st.expAvg, src); err != nil {
				return err
			}
		case "exp_avg_sq":
			if err := restoreTensor(st.expAvgSq, src); err != nil {
				return err
			}
		case "max_exp_avg_sq":
			if st.maxExpAvgSq == nil {
				var err error
				if st.maxExpAvgSq, err = tensor.ZerosLike(p); err != nil {
					return err
				}
			}
			if err := restoreTensor(st.maxExpAvgSq, src); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown state type %q in tensor %s", src.StateType, src.Name)
		}
	}

	return nil
}
