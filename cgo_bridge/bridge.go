// Package cgo_bridge provides the native accelerator entry points for the
// sync-free optimizers. The fused step is executed as a single native call
// per parameter so the skip-signal check, moment updates, and parameter
// update stay inside one kernel launch. When cgo is unavailable the bridge
// reports no accelerator and callers fall back to the tensor path.
package cgo_bridge

import "fmt"

// validateAdamBuffers checks that all state buffers for a fused Adam step
// have matching lengths before handing them to the native kernel.
func validateAdamBuffers(param, grad, expAvg, expAvgSq, maxExpAvgSq []float32, amsgrad bool) error {
	n := len(param)
	if len(grad) != n || len(expAvg) != n || len(expAvgSq) != n {
		return fmt.Errorf("buffer length mismatch: param=%d grad=%d exp_avg=%d exp_avg_sq=%d",
			n, len(grad), len(expAvg), len(expAvgSq))
	}
	if amsgrad && len(maxExpAvgSq) != n {
		return fmt.Errorf("max_exp_avg_sq length (%d) doesn't match param length (%d)", len(maxExpAvgSq), n)
	}
	return nil
}
