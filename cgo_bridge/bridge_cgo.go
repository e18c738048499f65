//go:build cgo

package cgo_bridge

/*
#cgo LDFLAGS: -lm
#include <math.h>
#include <stdint.h>
#include <stddef.h>

// Fused sync-free Adam kernel. The found_inf flag freezes the moment
// estimates and suppresses the parameter delta; the step count is the
// post-increment value, so the first real step of a parameter applies a
// zero step size against an all-ones denominator.
static int syncfree_adam_step(
	int found_inf,
	uint64_t step,
	float* param,
	float* grad,
	float* exp_avg,
	float* exp_avg_sq,
	float* max_exp_avg_sq,
	int n,
	int amsgrad,
	float beta1,
	float beta2,
	float lr,
	float weight_decay,
	float eps)
{
	if (param == NULL || grad == NULL || exp_avg == NULL || exp_avg_sq == NULL) {
		return 1;
	}
	if (amsgrad && max_exp_avg_sq == NULL) {
		return 2;
	}

	double bc1 = 1.0 - pow((double)beta1, (double)step);
	double bc2 = 1.0 - pow((double)beta2, (double)step);

	// First-ever step for this parameter: the state was created this call.
	int first = found_inf ? (step == 0) : (step == 1);

	float step_size = first ? 0.0f : (float)((double)lr / bc1);
	double sqrt_bc2 = sqrt(bc2);

	int i;
	for (i = 0; i < n; i++) {
		float g = grad[i];
		if (weight_decay != 0.0f && !found_inf) {
			g += weight_decay * param[i];
		}

		if (!found_inf) {
			exp_avg[i] = beta1 * exp_avg[i] + (1.0f - beta1) * g;
			exp_avg_sq[i] = beta2 * exp_avg_sq[i] + (1.0f - beta2) * g * g;
		}

		float v = exp_avg_sq[i];
		if (amsgrad) {
			if (exp_avg_sq[i] > max_exp_avg_sq[i]) {
				max_exp_avg_sq[i] = exp_avg_sq[i];
			}
			v = max_exp_avg_sq[i];
		}

		float denom = first ? 1.0f : (float)(sqrt((double)v) / sqrt_bc2 + (double)eps);

		if (!found_inf) {
			param[i] -= step_size * exp_avg[i] / denom;
		}
	}

	return 0;
}

static int syncfree_accelerator_available()
{
	return 1;
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// AcceleratorAvailable reports whether the native fused-step kernel can be
// invoked in this build.
func AcceleratorAvailable() bool {
	return C.syncfree_accelerator_available() != 0
}

// ExecuteSyncFreeAdamStep performs one fused Adam update for a single
// parameter on the native path. The step count is the post-increment value
// for this call. maxExpAvgSq may be nil when amsgrad is false.
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
	if err := validateAdamBuffers(param, grad, expAvg, expAvgSq, maxExpAvgSq, amsgrad); err != nil {
		return err
	}

	if len(param) == 0 {
		return nil
	}

	cFoundInf := C.int(0)
	if foundInf {
		cFoundInf = 1
	}
	cAMSGrad := C.int(0)
	var cMaxExpAvgSq *C.float
	if amsgrad {
		cAMSGrad = 1
		cMaxExpAvgSq = (*C.float)(unsafe.Pointer(&maxExpAvgSq[0]))
	}

	result := C.syncfree_adam_step(
		cFoundInf,
		C.uint64_t(step),
		(*C.float)(unsafe.Pointer(&param[0])),
		(*C.float)(unsafe.Pointer(&grad[0])),
		(*C.float)(unsafe.Pointer(&expAvg[0])),
		(*C.float)(unsafe.Pointer(&expAvgSq[0])),
		cMaxExpAvgSq,
		C.int(len(param)),
		cAMSGrad,
		C.float(beta1),
		C.float(beta2),
		C.float(lr),
		C.float(weightDecay),
		C.float(eps),
	)

	if result != 0 {
		return fmt.Errorf("sync-free Adam step failed with error code: %d", result)
	}

	return nil
}
