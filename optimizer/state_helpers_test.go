package optimizer

import (
	"testing"

	"github.com/tsawler/go-syncfree/checkpoints"
	"github.com/tsawler/go-syncfree/tensor"
)

func TestExtractBufferIndex(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"exp_avg_0", 0},
		{"exp_avg_sq_1", 1},
		{"max_exp_avg_sq_12", 12},
		{"momentum_3", 3},
		{"noindex", -1},
		{"trailing_", -1},
		{"bad_x", -1},
	}

	for _, tt := range tests {
		if got := extractBufferIndex(tt.name); got != tt.want {
			t.Errorf("extractBufferIndex(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestNewParamState(t *testing.T) {
	param, err := tensor.Full([]int{2, 3}, float32(1.0), tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("Failed to create parameter tensor: %v", err)
	}

	st, err := newParamState(param, false)
	if err != nil {
		t.Fatalf("Failed to create state: %v", err)
	}
	if st.step != 0 {
		t.Errorf("New state step = %d, want 0", st.step)
	}
	if st.expAvg.Numel() != 6 || st.expAvgSq.Numel() != 6 {
		t.Error("Moment estimates do not match parameter size")
	}
	if st.maxExpAvgSq != nil {
		t.Error("max_exp_avg_sq allocated without amsgrad")
	}

	data, _ := st.expAvg.GetFloat32Data()
	for i, v := range data {
		if v != 0 {
			t.Errorf("exp_avg[%d] = %f, want 0", i, v)
		}
	}

	withMax, err := newParamState(param, true)
	if err != nil {
		t.Fatalf("Failed to create amsgrad state: %v", err)
	}
	if withMax.maxExpAvgSq == nil {
		t.Error("max_exp_avg_sq not allocated with amsgrad")
	}
}

func TestSnapshotAndRestoreTensor(t *testing.T) {
	src, err := tensor.NewTensor([]int{3}, tensor.Float32, tensor.CPU, []float32{1, 2, 3})
	if err != nil {
		t.Fatalf("Failed to create tensor: %v", err)
	}

	snap, err := snapshotTensor(src, "exp_avg_0", "exp_avg")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	// The snapshot is a copy, not an alias.
	srcData, _ := src.GetFloat32Data()
	srcData[0] = 99
	if snap.Data[0] != 1 {
		t.Error("Snapshot aliases the source tensor")
	}

	dst, err := tensor.Zeros([]int{3}, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("Failed to create tensor: %v", err)
	}
	if err := restoreTensor(dst, *snap); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	dstData, _ := dst.GetFloat32Data()
	want := []float32{1, 2, 3}
	for i := range want {
		if dstData[i] != want[i] {
			t.Errorf("Restored[%d] = %f, want %f", i, dstData[i], want[i])
		}
	}

	// Size mismatch is rejected.
	small, _ := tensor.Zeros([]int{2}, tensor.Float32, tensor.CPU)
	if err := restoreTensor(small, *snap); err == nil {
		t.Error("Expected error restoring into mismatched tensor")
	}

	if err := restoreTensor(nil, checkpoints.OptimizerTensor{Name: "exp_avg_0"}); err == nil {
		t.Error("Expected error restoring into nil tensor")
	}
}

func TestExtractStepCounts(t *testing.T) {
	// In-memory representation.
	params := map[string]interface{}{
		"step_counts": []uint64{3, 7},
	}
	steps := extractStepCounts(params, "step_counts", 2)
	if steps[0] != 3 || steps[1] != 7 {
		t.Errorf("extractStepCounts = %v, want [3 7]", steps)
	}

	// JSON round-tripped representation.
	params = map[string]interface{}{
		"step_counts": []interface{}{float64(3), float64(7)},
	}
	steps = extractStepCounts(params, "step_counts", 2)
	if steps[0] != 3 || steps[1] != 7 {
		t.Errorf("extractStepCounts (decoded) = %v, want [3 7]", steps)
	}

	// Missing key yields zeros.
	steps = extractStepCounts(map[string]interface{}{}, "step_counts", 2)
	if steps[0] != 0 || steps[1] != 0 {
		t.Errorf("extractStepCounts (missing) = %v, want [0 0]", steps)
	}
}
