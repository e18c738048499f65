package checkpoints

import (
	"math"
	"path/filepath"
	"testing"
	"time"
)

func testCheckpoint() *Checkpoint {
	return &Checkpoint{
		OptimizerState: &OptimizerState{
			Type: "Adam",
			Parameters: map[string]interface{}{
				"learning_rate": 0.001,
				"beta1":         0.9,
				"beta2":         0.999,
				"amsgrad":       false,
			},
			StateData: []OptimizerTensor{
				{
					Name:      "exp_avg_0",
					Shape:     []int{2, 2},
					Data:      []float32{0.1, 0.2, 0.3, 0.4},
					StateType: "exp_avg",
				},
				{
					Name:      "exp_avg_sq_0",
					Shape:     []int{2, 2},
					Data:      []float32{0.01, 0.02, 0.03, 0.04},
					StateType: "exp_avg_sq",
				},
			},
		},
		TrainingState: TrainingState{
			Epoch:        5,
			Step:         1250,
			LearningRate: 0.0005,
			BestLoss:     0.42,
			LossScale:    65536,
		},
		Metadata: CheckpointMetadata{
			Version:   "1.0.0",
			Framework: "go-syncfree",
			CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			Tags:      []string{"test"},
		},
	}
}

func checkRoundtrip(t *testing.T, original, loaded *Checkpoint) {
	t.Helper()

	if loaded.OptimizerState == nil {
		t.Fatal("Loaded checkpoint has no optimizer state")
	}
	if loaded.OptimizerState.Type != original.OptimizerState.Type {
		t.Errorf("Optimizer type = %s, want %s", loaded.OptimizerState.Type, original.OptimizerState.Type)
	}
	if len(loaded.OptimizerState.StateData) != len(original.OptimizerState.StateData) {
		t.Fatalf("State tensor count = %d, want %d",
			len(loaded.OptimizerState.StateData), len(original.OptimizerState.StateData))
	}

	for i, src := range original.OptimizerState.StateData {
		dst := loaded.OptimizerState.StateData[i]
		if dst.Name != src.Name || dst.StateType != src.StateType {
			t.Errorf("Tensor %d identity mismatch: got %s/%s, want %s/%s",
				i, dst.Name, dst.StateType, src.Name, src.StateType)
		}
		for j := range src.Data {
			if math.Abs(float64(dst.Data[j]-src.Data[j])) > 1e-6 {
				t.Errorf("Tensor %s data[%d] = %f, want %f", src.Name, j, dst.Data[j], src.Data[j])
			}
		}
	}

	if loaded.TrainingState.Epoch != original.TrainingState.Epoch {
		t.Errorf("Epoch = %d, want %d", loaded.TrainingState.Epoch, original.TrainingState.Epoch)
	}
	if loaded.TrainingState.Step != original.TrainingState.Step {
		t.Errorf("Step = %d, want %d", loaded.TrainingState.Step, original.TrainingState.Step)
	}
	if loaded.TrainingState.LossScale != original.TrainingState.LossScale {
		t.Errorf("LossScale = %f, want %f", loaded.TrainingState.LossScale, original.TrainingState.LossScale)
	}
	if !loaded.Metadata.CreatedAt.Equal(original.Metadata.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", loaded.Metadata.CreatedAt, original.Metadata.CreatedAt)
	}
}

func TestCheckpointRoundtripJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	original := testCheckpoint()

	saver := NewCheckpointSaver(FormatJSON)
	if err := saver.SaveCheckpoint(original, path); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}

	loader := NewCheckpointLoader(FormatJSON)
	loaded, err := loader.LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("Failed to load checkpoint: %v", err)
	}

	checkRoundtrip(t, original, loaded)
}

func TestCheckpointRoundtripPB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.pb")
	original := testCheckpoint()

	saver := NewCheckpointSaver(FormatPB)
	if err := saver.SaveCheckpoint(original, path); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}

	loader := NewCheckpointLoader(FormatPB)
	loaded, err := loader.LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("Failed to load checkpoint: %v", err)
	}

	checkRoundtrip(t, original, loaded)
}

func TestLoadCheckpointMapped(t *testing.T) {
	dir := t.TempDir()
	original := testCheckpoint()

	for _, format := range []CheckpointFormat{FormatJSON, FormatPB} {
		path := filepath.Join(dir, "checkpoint-"+format.String())

		saver := NewCheckpointSaver(format)
		if err := saver.SaveCheckpoint(original, path); err != nil {
			t.Fatalf("Failed to save %s checkpoint: %v", format, err)
		}

		loader := NewCheckpointLoader(format)
		loaded, err := loader.LoadCheckpointMapped(path)
		if err != nil {
			t.Fatalf("Failed to load mapped %s checkpoint: %v", format, err)
		}

		checkRoundtrip(t, original, loaded)
	}
}

func TestLoadCheckpointMissingFile(t *testing.T) {
	loader := NewCheckpointLoader(FormatJSON)

	if _, err := loader.LoadCheckpoint(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error loading missing file")
	}
	if _, err := loader.LoadCheckpointMapped(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error mapping missing file")
	}
}

func TestCheckpointFormatMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")

	saver := NewCheckpointSaver(FormatJSON)
	if err := saver.SaveCheckpoint(testCheckpoint(), path); err != nil {
		t.Fatalf("Failed to save checkpoint: %v", err)
	}

	// JSON bytes are not a valid protobuf checkpoint.
	loader := NewCheckpointLoader(FormatPB)
	if _, err := loader.LoadCheckpoint(path); err == nil {
		t.Error("Expected error decoding JSON as protobuf")
	}
}

func TestUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.bin")

	saver := NewCheckpointSaver(CheckpointFormat(42))
	if err := saver.SaveCheckpoint(testCheckpoint(), path); err == nil {
		t.Error("Expected error for unsupported save format")
	}
}
