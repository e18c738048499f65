package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// The protobuf format serializes the checkpoint through a structpb.Struct.
// The checkpoint's JSON field names become struct keys, so the two formats
// stay field-compatible and a checkpoint written by one can be described by
// the other.

// savePB saves the checkpoint in binary protobuf format
func (cs *CheckpointSaver) savePB(checkpoint *Checkpoint, path string) error {
	jsonData, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return fmt.Errorf("failed to decode checkpoint fields: %v", err)
	}

	structVal, err := structpb.NewStruct(fields)
	if err != nil {
		return fmt.Errorf("failed to build checkpoint struct: %v", err)
	}

	data, err := proto.Marshal(structVal)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint proto: %v", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %v", err)
	}

	return nil
}

// decodePB decodes a binary protobuf checkpoint
func decodePB(data []byte) (*Checkpoint, error) {
	var structVal structpb.Struct
	if err := proto.Unmarshal(data, &structVal); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint proto: %v", err)
	}

	jsonData, err := json.Marshal(structVal.AsMap())
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode checkpoint fields: %v", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(jsonData, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %v", err)
	}

	return &checkpoint, nil
}
