package optimizer

import (
	"errors"
	"math"
	"testing"

	"github.com/tsawler/go-syncfree/tensor"
)

func TestNewSGDValidation(t *testing.T) {
	param := newTestParam(t, []int{2}, 1.0, 0.1)
	params := []*tensor.Tensor{param}

	tests := []struct {
		name    string
		config  SGDConfig
		wantErr bool
	}{
		{"default config", DefaultSGDConfig(), false},
		{"with momentum", SGDConfig{LearningRate: 0.01, Momentum: 0.9}, false},
		{"nesterov with momentum", SGDConfig{LearningRate: 0.01, Momentum: 0.9, Nesterov: true}, false},
		{"negative learning rate", SGDConfig{LearningRate: -0.01}, true},
		{"negative momentum", SGDConfig{LearningRate: 0.01, Momentum: -0.5}, true},
		{"negative weight decay", SGDConfig{LearningRate: 0.01, WeightDecay: -0.1}, true},
		{"nesterov without momentum", SGDConfig{LearningRate: 0.01, Nesterov: true}, true},
		{"nesterov with dampening", SGDConfig{LearningRate: 0.01, Momentum: 0.9, Dampening: 0.5, Nesterov: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSGD(params, tt.config)
			if tt.wantErr && err == nil {
				t.Errorf("Expected error for config %+v, got nil", tt.config)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected error for config %+v: %v", tt.config, err)
			}
		})
	}
}

func TestSGDVanillaStep(t *testing.T) {
	param := newTestParam(t, []int{2}, 1.0, 0.5)

	config := SGDConfig{LearningRate: 0.1}
	sgd, err := NewSGD([]*tensor.Tensor{param}, config)
	if err != nil {
		t.Fatalf("Failed to create SGD optimizer: %v", err)
	}

	if err := sgd.Step(noSkip()); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	// param -= lr * grad = 1.0 - 0.1*0.5 = 0.95
	data, _ := param.GetFloat32Data()
	for i, v := range data {
		if math.Abs(float64(v)-0.95) > 1e-7 {
			t.Errorf("Parameter element %d = %f, want 0.95", i, v)
		}
	}
	if got := sgd.StepCount(param); got != 1 {
		t.Errorf("Expected step count 1, got %d", got)
	}
}

func TestSGDMomentumAccumulates(t *testing.T) {
	param := newTestParam(t, []int{1}, 1.0, 1.0)

	config := SGDConfig{LearningRate: 0.1, Momentum: 0.9}
	sgd, err := NewSGD([]*tensor.Tensor{param}, config)
	if err != nil {
		t.Fatalf("Failed to create SGD optimizer: %v", err)
	}

	// Step 1: buf = grad = 1.0, param = 1.0 - 0.1*1.0 = 0.9
	// Step 2: buf = 0.9*1.0 + 1.0 = 1.9, param = 0.9 - 0.1*1.9 = 0.71
	if err := sgd.Step(noSkip()); err != nil {
		t.Fatalf("Step 1 failed: %v", err)
	}
	if err := sgd.Step(noSkip()); err != nil {
		t.Fatalf("Step 2 failed: %v", err)
	}

	value, _ := param.ItemFloat32()
	if math.Abs(float64(value)-0.71) > 1e-6 {
		t.Errorf("Parameter after two momentum steps = %f, want 0.71", value)
	}
}

func TestSGDSkipFreezesMomentum(t *testing.T) {
	param := newTestParam(t, []int{1}, 1.0, 1.0)

	config := SGDConfig{LearningRate: 0.1, Momentum: 0.9}
	sgd, err := NewSGD([]*tensor.Tensor{param}, config)
	if err != nil {
		t.Fatalf("Failed to create SGD optimizer: %v", err)
	}

	if err := sgd.Step(noSkip()); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	before, _ := param.ItemFloat32()

	if err := sgd.Step(skipSignal()); err != nil {
		t.Fatalf("Skipped step failed: %v", err)
	}

	after, _ := param.ItemFloat32()
	if after != before {
		t.Errorf("Parameter changed on skipped step: %f -> %f", before, after)
	}
	if got := sgd.StepCount(param); got != 1 {
		t.Errorf("Skipped step advanced the step count: got %d", got)
	}

	// The frozen momentum buffer resumes exactly where it stopped.
	if err := sgd.Step(noSkip()); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	value, _ := param.ItemFloat32()
	if math.Abs(float64(value)-0.71) > 1e-6 {
		t.Errorf("Parameter after skip and resume = %f, want 0.71", value)
	}
}

func TestSGDNesterov(t *testing.T) {
	param := newTestParam(t, []int{1}, 1.0, 1.0)

	config := SGDConfig{LearningRate: 0.1, Momentum: 0.9, Nesterov: true}
	sgd, err := NewSGD([]*tensor.Tensor{param}, config)
	if err != nil {
		t.Fatalf("Failed to create SGD optimizer: %v", err)
	}

	// Step 1: buf = 1.0, d = grad + momentum*buf = 1.9, param = 1.0 - 0.19 = 0.81
	if err := sgd.Step(noSkip()); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	value, _ := param.ItemFloat32()
	if math.Abs(float64(value)-0.81) > 1e-6 {
		t.Errorf("Parameter after nesterov step = %f, want 0.81", value)
	}

	// The gradient itself is never mutated.
	gradValue, _ := param.Grad().ItemFloat32()
	if gradValue != 1.0 {
		t.Errorf("Gradient mutated by nesterov step: %f", gradValue)
	}
}

func TestSGDWeightDecayDoesNotMutateGradient(t *testing.T) {
	param := newTestParam(t, []int{2}, 2.0, 0.5)

	config := SGDConfig{LearningRate: 0.1, WeightDecay: 0.1}
	sgd, err := NewSGD([]*tensor.Tensor{param}, config)
	if err != nil {
		t.Fatalf("Failed to create SGD optimizer: %v", err)
	}

	if err := sgd.Step(noSkip()); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	// d = grad + wd*param = 0.5 + 0.2 = 0.7, param = 2.0 - 0.07 = 1.93
	data, _ := param.GetFloat32Data()
	for i, v := range data {
		if math.Abs(float64(v)-1.93) > 1e-6 {
			t.Errorf("Parameter element %d = %f, want 1.93", i, v)
		}
	}

	gradData, _ := param.Grad().GetFloat32Data()
	for i, v := range gradData {
		if v != 0.5 {
			t.Errorf("Gradient element %d mutated by weight decay: %f", i, v)
		}
	}
}

func TestSGDRejectsSparseGradients(t *testing.T) {
	param, err := tensor.Full([]int{3}, float32(1.0), tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("Failed to create parameter tensor: %v", err)
	}
	grad, err := tensor.NewSparseCOO([]int{3}, []int32{0}, []float32{1.0}, tensor.CPU)
	if err != nil {
		t.Fatalf("Failed to create sparse gradient: %v", err)
	}
	param.SetGrad(grad)

	sgd, err := NewSGD([]*tensor.Tensor{param}, DefaultSGDConfig())
	if err != nil {
		t.Fatalf("Failed to create SGD optimizer: %v", err)
	}

	if err := sgd.Step(noSkip()); !errors.Is(err, ErrSparseGradient) {
		t.Errorf("Expected ErrSparseGradient, got %v", err)
	}
}

func TestSGDStateRoundtrip(t *testing.T) {
	param := newTestParam(t, []int{2}, 1.0, 1.0)

	config := SGDConfig{LearningRate: 0.1, Momentum: 0.9}
	sgd, err := NewSGD([]*tensor.Tensor{param}, config)
	if err != nil {
		t.Fatalf("Failed to create SGD optimizer: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := sgd.Step(noSkip()); err != nil {
			t.Fatalf("Step %d failed: %v", i+1, err)
		}
	}

	state, err := sgd.GetState()
	if err != nil {
		t.Fatalf("Failed to extract state: %v", err)
	}
	if state.Type != "SGD" {
		t.Errorf("Expected state type SGD, got %s", state.Type)
	}
	if len(state.StateData) != 1 || state.StateData[0].StateType != "momentum" {
		t.Fatalf("Expected one momentum tensor, got %+v", state.StateData)
	}

	restoredParam := newTestParam(t, []int{2}, 1.0, 1.0)
	restored, err := NewSGD([]*tensor.Tensor{restoredParam}, config)
	if err != nil {
		t.Fatalf("Failed to create SGD optimizer: %v", err)
	}
	if err := restored.LoadState(state); err != nil {
		t.Fatalf("Failed to load state: %v", err)
	}

	if got := restored.StepCount(restoredParam); got != 3 {
		t.Errorf("Restored step count = %d, want 3", got)
	}
}
