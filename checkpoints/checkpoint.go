package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/edsrzf/mmap-go"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatPB
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatPB:
		return "Protobuf"
	default:
		return "Unknown"
	}
}

// Checkpoint represents a training snapshot: optimizer state plus training
// progress metadata. Model weights live with the surrounding framework and
// are out of scope here.
type Checkpoint struct {
	// Optimizer state (if available)
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`

	// Training state
	TrainingState TrainingState `json:"training_state"`

	// Metadata
	Metadata CheckpointMetadata `json:"metadata"`
}

// TrainingState captures the current training progress
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	Step         int     `json:"step"`
	LearningRate float32 `json:"learning_rate"`
	BestLoss     float32 `json:"best_loss"`
	LossScale    float32 `json:"loss_scale,omitempty"`
}

// OptimizerState captures optimizer-specific state (moments, step counts, etc.)
type OptimizerState struct {
	Type       string                 `json:"type"` // "Adam", "AdamW", "SGD"
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (exp_avg, exp_avg_sq, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "exp_avg", "exp_avg_sq", "max_exp_avg_sq", "momentum", "step"
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// CheckpointSaver handles saving checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// SaveCheckpoint saves a complete checkpoint
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	switch cs.format {
	case FormatJSON:
		return cs.saveJSON(checkpoint, path)
	case FormatPB:
		return cs.savePB(checkpoint, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// saveJSON saves the checkpoint in JSON format
func (cs *CheckpointSaver) saveJSON(checkpoint *Checkpoint, path string) error {
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %v", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %v", err)
	}

	return nil
}

// CheckpointLoader handles loading checkpoints in various formats
type CheckpointLoader struct {
	format CheckpointFormat
}

// NewCheckpointLoader creates a new checkpoint loader for the specified format
func NewCheckpointLoader(format CheckpointFormat) *CheckpointLoader {
	return &CheckpointLoader{
		format: format,
	}
}

// LoadCheckpoint reads and decodes a checkpoint file
func (cl *CheckpointLoader) LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %v", err)
	}

	return cl.decode(data)
}

// LoadCheckpointMapped decodes a checkpoint from a memory-mapped file. For
// large snapshots this avoids a second copy of the file contents in the heap
// while decoding.
func (cl *CheckpointLoader) LoadCheckpointMapped(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer f.Close()

	mapped, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap checkpoint file: %v", err)
	}
	defer mapped.Unmap()

	return cl.decode(mapped)
}

func (cl *CheckpointLoader) decode(data []byte) (*Checkpoint, error) {
	switch cl.format {
	case FormatJSON:
		var checkpoint Checkpoint
		if err := json.Unmarshal(data, &checkpoint); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %v", err)
		}
		return &checkpoint, nil
	case FormatPB:
		return decodePB(data)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cl.format.String())
	}
}
