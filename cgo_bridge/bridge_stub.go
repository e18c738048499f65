//go:build !cgo

package cgo_bridge

import "fmt"

// AcceleratorAvailable reports whether the native fused-step kernel can be
// invoked in this build.
func AcceleratorAvailable() bool {
	return false
}

// ExecuteSyncFreeAdamStep is unavailable without cgo.
func ExecuteSyncFreeAdamStep(
	foundInf bool,
	step uint64,
	param []float32,
	grad []float32,
	expAvg []float32,
	expAvgSq []float32,
	maxExpAvgSq []float32,
	amsgrad bool,
	beta1 float32,
	beta2 float32,
	lr float32,
	weightDecay float32,
	eps float32,
) error {
	return fmt.Errorf("accelerator bridge not available in this build")
}
