// Package amp provides dynamic loss scaling for mixed-precision training.
// The GradScaler multiplies the loss by a scale factor so small gradients
// survive reduced-precision arithmetic, then unscales gradients before the
// optimizer step and flags any overflow through a scalar found-inf tensor.
// The sync-free optimizers consume that tensor directly, so a skipped step
// never requires synchronizing with the accelerator.
package amp

import (
	"fmt"

	"github.com/tsawler/go-syncfree/optimizer"
	"github.com/tsawler/go-syncfree/tensor"
)

// GradScalerConfig holds configuration for the dynamic loss scaler
type GradScalerConfig struct {
	InitialScale   float32 // Starting loss scale (typically a large power of two)
	GrowthFactor   float32 // Multiplier applied after GrowthInterval clean steps
	BackoffFactor  float32 // Multiplier applied after an overflow
	GrowthInterval int     // Number of consecutive clean steps before growth
}

// DefaultGradScalerConfig returns default loss scaler configuration
func DefaultGradScalerConfig() GradScalerConfig {
	return GradScalerConfig{
		InitialScale:   65536.0,
		GrowthFactor:   2.0,
		BackoffFactor:  0.5,
		GrowthInterval: 2000,
	}
}

// GradScaler implements dynamic loss scaling with growth and backoff.
type GradScaler struct {
	scale          float32
	growthFactor   float32
	backoffFactor  float32
	growthInterval int
	growthTracker  int

	// foundInf is the scalar skip-signal handed to Optimizer.Step. It is
	// owned by the scaler and rewritten by every UnscaleGradients call.
	foundInf *tensor.Tensor
}

// NewGradScaler creates a dynamic loss scaler.
func NewGradScaler(config GradScalerConfig) (*GradScaler, error) {
	if config.InitialScale <= 0 {
		return nil, fmt.Errorf("initial scale must be positive: %f", config.InitialScale)
	}
	if config.GrowthFactor <= 1 {
		return nil, fmt.Errorf("growth factor must be greater than 1: %f", config.GrowthFactor)
	}
	if config.BackoffFactor <= 0 || config.BackoffFactor >= 1 {
		return nil, fmt.Errorf("backoff factor must be in (0, 1): %f", config.BackoffFactor)
	}
	if config.GrowthInterval <= 0 {
		return nil, fmt.Errorf("growth interval must be positive: %d", config.GrowthInterval)
	}

	return &GradScaler{
		scale:          config.InitialScale,
		growthFactor:   config.GrowthFactor,
		backoffFactor:  config.BackoffFactor,
		growthInterval: config.GrowthInterval,
		foundInf:       tensor.FromScalar(0, tensor.CPU),
	}, nil
}

// Scale returns the current loss scale.
func (gs *GradScaler) Scale() float32 {
	return gs.scale
}

// FoundInf returns the scalar skip-signal tensor. It reflects the most
// recent UnscaleGradients call.
func (gs *GradScaler) FoundInf() *tensor.Tensor {
	return gs.foundInf
}

// ScaleLoss multiplies the loss tensor by the current scale in place.
// Call before computing gradients.
func (gs *GradScaler) ScaleLoss(loss *tensor.Tensor) error {
	return loss.MulScalar(gs.scale)
}

// UnscaleGradients divides every attached gradient by the current scale in
// place and records whether any gradient element is NaN or infinite in the
// found-inf tensor.
func (gs *GradScaler) UnscaleGradients(params []*tensor.Tensor) error {
	invScale := 1 / gs.scale

	overflow := false
	for _, p := range params {
		if p == nil || p.Grad() == nil {
			continue
		}

		grad := p.Grad()
		if err := grad.MulScalar(invScale); err != nil {
			return err
		}

		nonFinite, err := grad.HasNonFinite()
		if err != nil {
			return err
		}
		if nonFinite {
			overflow = true
		}
	}

	return gs.setFoundInf(overflow)
}

// Step runs one optimizer step with the current skip-signal.
func (gs *GradScaler) Step(opt optimizer.Optimizer) error {
	return opt.Step(gs.foundInf)
}

// Update adjusts the loss scale based on the last unscale result: backoff
// after an overflow, growth after growthInterval consecutive clean steps.
// The skip-signal is reset for the next iteration.
func (gs *GradScaler) Update() error {
	overflow, err := gs.foundInf.ItemFloat32()
	if err != nil {
		return err
	}

	if overflow != 0 {
		gs.scale *= gs.backoffFactor
		gs.growthTracker = 0
	} else {
		gs.growthTracker++
		if gs.growthTracker >= gs.growthInterval {
			gs.scale *= gs.growthFactor
			gs.growthTracker = 0
		}
	}

	return gs.setFoundInf(false)
}

func (gs *GradScaler) setFoundInf(overflow bool) error {
	data, err := gs.foundInf.GetFloat32Data()
	if err != nil {
		return err
	}

	if overflow {
		data[0] = 1
	} else {
		data[0] = 0
	}
	return nil
}
