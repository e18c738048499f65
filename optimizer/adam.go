package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/go-syncfree/cgo_bridge"
	"github.com/tsawler/go-syncfree/checkpoints"
	"github.com/tsawler/go-syncfree/tensor"
)

// Adam implements the sync-free Adam algorithm: the standard Adam update
// fused with a found-inf skip signal, as used with dynamic loss scaling on
// accelerators. When the skip signal is set for a call, the moment
// estimates are frozen, the step count is not incremented, and the
// parameter receives a zero-effect update.
//
// The implementation of the L2 penalty folds weight decay into the gradient
// rather than applying it to the parameter directly; see AdamW for the
// decoupled variant.
type Adam struct {
	// Hyperparameters
	LearningRate float32
	Beta1        float32 // Momentum decay (typically 0.9)
	Beta2        float32 // Variance decay (typically 0.999)
	Epsilon      float32 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay  float32 // L2 regularization coefficient
	AMSGrad      bool    // Whether to use the AMSGrad variant

	params []*tensor.Tensor
	state  map[*tensor.Tensor]*paramState

	// Execution strategy for the fused per-parameter update, selected at
	// construction. Exactly one path runs; both produce the same observable
	// effect.
	stepFn adamStepFunc
	engine EngineType
}

// adamStepFunc applies the fused update for a single parameter. The
// per-parameter step count has already been advanced for non-skipped calls.
type adamStepFunc func(adam *Adam, st *paramState, param, grad *tensor.Tensor, skip bool) error

// AdamConfig holds configuration for the sync-free Adam optimizer
type AdamConfig struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32
	AMSGrad      bool
	Engine       EngineType
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
		AMSGrad:      false,
		Engine:       EngineAuto,
	}
}

// NewAdam creates a sync-free Adam optimizer over the given parameters.
// All hyperparameter validation happens here; Step never re-validates.
func NewAdam(params []*tensor.Tensor, config AdamConfig) (*Adam, error) {
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

	stepFn, engine, err := selectAdamEngine(config.Engine)
	if err != nil {
		return nil, err
	}

	return &Adam{
		LearningRate: config.LearningRate,
		Beta1:        config.Beta1,
		Beta2:        config.Beta2,
		Epsilon:      config.Epsilon,
		WeightDecay:  config.WeightDecay,
		AMSGrad:      config.AMSGrad,
		params:       params,
		state:        make(map[*tensor.Tensor]*paramState),
		stepFn:       stepFn,
		engine:       engine,
	}, nil
}

// selectAdamEngine resolves the execution strategy for the fused update.
func selectAdamEngine(engine EngineType) (adamStepFunc, EngineType, error) {
	switch engine {
	case EngineAuto:
		if cgo_bridge.AcceleratorAvailable() {
			return nativeAdamStep, EngineNative, nil
		}
		return tensorAdamStep, EngineTensor, nil
	case EngineTensor:
		return tensorAdamStep, EngineTensor, nil
	case EngineNative:
		if !cgo_bridge.AcceleratorAvailable() {
			return nil, engine, fmt.Errorf("native engine requested but no accelerator is available")
		}
		return nativeAdamStep, EngineNative, nil
	default:
		return nil, engine, fmt.Errorf("unknown engine type: %d", engine)
	}
}

// Engine returns the execution path selected at construction.
func (adam *Adam) Engine() EngineType {
	return adam.engine
}

// Step performs a single optimization step over all parameters that carry a
// gradient. foundInf must be a scalar tensor; a nonzero value marks the
// current gradient batch as numerically invalid, in which case no moment,
// step-count, or parameter state changes for this call.
func (adam *Adam) Step(foundInf *tensor.Tensor) error {
	skip, err := checkFoundInf(foundInf)
	if err != nil {
		return err
	}

	if err := checkDenseGradients(adam.params, "Adam"); err != nil {
		return err
	}

	for _, p := range adam.params {
		if p == nil || p.Grad() == nil {
			continue
		}

		st := adam.state[p]
		if st == nil {
			st, err = newParamState(p, adam.AMSGrad)
			if err != nil {
				return err
			}
			adam.state[p] = st
		}

		if !skip {
			st.step++
		}

		if err := adam.stepFn(adam, st, p, p.Grad(), skip); err != nil {
			return fmt.Errorf("Adam step execution failed: %v", err)
		}
	}

	return nil
}

// tensorAdamStep is the pure tensor-algebra path of the fused update.
func tensorAdamStep(adam *Adam, st *paramState, param, grad *tensor.Tensor, skip bool) error {
	t := st.step

	// State created this call: the parameter has not recorded a real step
	// yet, so the update below must be a numeric no-op.
	first := (skip && t == 0) || (!skip && t == 1)

	bc1 := 1 - pow32(adam.Beta1, t)
	bc2 := 1 - pow32(adam.Beta2, t)

	// Fold the L2 penalty into a copy of the gradient; the caller's
	// gradient tensor is never mutated. On skip the gradient stays as-is.
	g := grad
	if adam.WeightDecay != 0 && !skip {
		var err error
		if g, err = grad.Clone(); err != nil {
			return err
		}
		if err := g.Add(param, adam.WeightDecay); err != nil {
			return err
		}
	}

	if !skip {
		if err := st.expAvg.MulScalar(adam.Beta1); err != nil {
			return err
		}
		if err := st.expAvg.Add(g, 1-adam.Beta1); err != nil {
			return err
		}
		if err := st.expAvgSq.MulScalar(adam.Beta2); err != nil {
			return err
		}
		if err := st.expAvgSq.AddCMul(g, g, 1-adam.Beta2); err != nil {
			return err
		}
	}

	second := st.expAvgSq
	if adam.AMSGrad {
		// Maintained unconditionally; on skip the second moment is frozen,
		// so this is a no-op then.
		if err := st.maxExpAvgSq.Maximum(st.expAvgSq); err != nil {
			return err
		}
		second = st.maxExpAvgSq
	}

	if skip {
		// Zero-delta update: the parameter is left numerically unchanged.
		// The native path applies an explicit zero add to preserve trace
		// shape; there is nothing to compute here.
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
		if err := denom.AddScalar(adam.Epsilon); err != nil {
			return err
		}
		stepSize = adam.LearningRate / bc1
	}

	return param.AddCDiv(st.expAvg, denom, -stepSize)
}

// nativeAdamStep delegates the whole fused update to a single accelerator
// call carrying the same inputs.
func nativeAdamStep(adam *Adam, st *paramState, param, grad *tensor.Tensor, skip bool) error {
	pData, err := param.GetFloat32Data()
	if err != nil {
		return err
	}
	gData, err := grad.GetFloat32Data()
	if err != nil {
		return err
	}
	mData, err := st.expAvg.GetFloat32Data()
	if err != nil {
		return err
	}
	vData, err := st.expAvgSq.GetFloat32Data()
	if err != nil {
		return err
	}

	var vMaxData []float32
	if adam.AMSGrad {
		if vMaxData, err = st.maxExpAvgSq.GetFloat32Data(); err != nil {
			return err
		}
	}

	return cgo_bridge.ExecuteSyncFreeAdamStep(
		skip,
		st.step,
		pData,
		gData,
		mData,
		vData,
		vMaxData,
		adam.AMSGrad,
		adam.Beta1,
		adam.Beta2,
		adam.LearningRate,
		adam.WeightDecay,
		adam.Epsilon,
	)
}

// UpdateLearningRate updates the learning rate (useful for learning rate scheduling)
func (adam *Adam) UpdateLearningRate(newLR float32) {
	adam.LearningRate = newLR
}

// StepCount returns the recorded step count for a parameter, or 0 if the
// parameter has no state yet.
func (adam *Adam) StepCount(param *tensor.Tensor) uint64 {
	if st := adam.state[param]; st != nil {
		return st.step
	}
	return 0
}

// GetState extracts optimizer state for checkpointing
func (adam *Adam) GetState() (*OptimizerState, error) {
	stateData := make([]checkpoints.OptimizerTensor, 0, len(adam.params)*2)
	steps := make([]uint64, len(adam.params))

	for i, p := range adam.params {
		st := adam.state[p]
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

		if adam.AMSGrad {
			maxExpAvgSq, err := snapshotTensor(st.maxExpAvgSq, fmt.Sprintf("max_exp_avg_sq_%d", i), "max_exp_avg_sq")
			if err != nil {
				return nil, err
			}
			stateData = append(stateData, *maxExpAvgSq)
		}
	}

	return &OptimizerState{
		Type: "Adam",
		Parameters: map[string]interface{}{
			"learning_rate": adam.LearningRate,
			"beta1":         adam.Beta1,
			"beta2":         adam.Beta2,
			"epsilon":       adam.Epsilon,
			"weight_decay":  adam.WeightDecay,
			"amsgrad":       adam.AMSGrad,
			"step_counts":   steps,
		},
		StateData: stateData,
	}, nil
}

// LoadState restores optimizer state from checkpoint
func (adam *Adam) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	adam.LearningRate = extractFloat32Param(state.Parameters, "learning_rate", adam.LearningRate)
	adam.Beta1 = extractFloat32Param(state.Parameters, "beta1", adam.Beta1)
	adam.Beta2 = extractFloat32Param(state.Parameters, "beta2", adam.Beta2)
	adam.Epsilon = extractFloat32Param(state.Parameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloat32Param(state.Parameters, "weight_decay", adam.WeightDecay)
	adam.AMSGrad = extractBoolParam(state.Parameters, "amsgrad", adam.AMSGrad)

	steps := extractStepCounts(state.Parameters, "step_counts", len(adam.params))

	for _, src := range state.StateData {
		idx := extractBufferIndex(src.Name)
		if idx < 0 || idx >= len(adam.params) {
			return fmt.Errorf("invalid parameter index in tensor name: %s", src.Name)
		}

		p := adam.params[idx]
		st := adam.state[p]
		if st == nil {
			var err error
			if st, err = newParamState(p, adam.AMSGrad); err != nil {
				return err
			}
			adam.state[p] = st
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

// pow32 computes x^t for float32 base and integer exponent
func pow32(x float32, t uint64) float32 {
	return float32(math.Pow(float64(x), float64(t)))
}

// sqrt32 computes the square root of a float32
func sqrt32(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}
