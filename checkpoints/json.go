package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const (
	checkpointVersion = "1.0"
	frameworkName     = "trellis"
)

func saveJSON(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Version == "" {
		checkpoint.Metadata.Version = checkpointVersion
	}
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = frameworkName
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		checkpoint.Metadata.CreatedAt = time.Now().UTC()
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating checkpoint file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(checkpoint); err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	return nil
}

func loadJSON(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint file: %w", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	if err := checkpoint.ModelSpec.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint model spec: %w", err)
	}
	return &checkpoint, nil
}
