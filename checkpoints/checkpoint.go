// Package checkpoints persists trained models. A checkpoint bundles the
// compiled model spec, every learnable tensor, batch normalization running
// statistics and a snapshot of training progress. Checkpoints serialize to
// JSON for inspection and resumption, or to ONNX for interchange with other
// runtimes.
package checkpoints

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"trellis/layers"
	"trellis/tensor"
)

// CheckpointFormat selects the on-disk encoding.
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatONNX
)

func (f CheckpointFormat) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatONNX:
		return "onnx"
	default:
		return "unknown"
	}
}

// FormatForPath infers the checkpoint format from a file extension.
// Anything that is not .onnx is treated as JSON.
func FormatForPath(path string) CheckpointFormat {
	if strings.EqualFold(filepath.Ext(path), ".onnx") {
		return FormatONNX
	}
	return FormatJSON
}

// WeightTensor is one serialized tensor with enough context to restore it
// into a rebuilt model.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"`
}

// TrainingState records where training stood when the snapshot was taken.
type TrainingState struct {
	Epoch         int     `json:"epoch"`
	LearningRate  float64 `json:"learning_rate"`
	TrainLoss     float64 `json:"train_loss"`
	TrainAccuracy float64 `json:"train_accuracy"`
	ValLoss       float64 `json:"val_loss"`
	ValAccuracy   float64 `json:"val_accuracy"`
}

// CheckpointMetadata describes provenance of a checkpoint file.
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// Checkpoint is a complete model snapshot.
type Checkpoint struct {
	ModelSpec     layers.ModelSpec   `json:"model_spec"`
	Weights       []WeightTensor     `json:"weights"`
	TrainingState TrainingState      `json:"training_state"`
	Metadata      CheckpointMetadata `json:"metadata"`
}

// CheckpointSaver reads and writes checkpoints in a fixed format.
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a saver for the given format.
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{format: format}
}

// SaveCheckpoint writes the checkpoint to path.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint == nil {
		return fmt.Errorf("checkpoint is nil")
	}
	switch cs.format {
	case FormatJSON:
		return saveJSON(checkpoint, path)
	case FormatONNX:
		return NewONNXExporter().ExportToONNX(checkpoint, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %v", cs.format)
	}
}

// LoadCheckpoint reads a checkpoint from path.
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	switch cs.format {
	case FormatJSON:
		return loadJSON(path)
	case FormatONNX:
		return NewONNXImporter().ImportFromONNX(path)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %v", cs.format)
	}
}

// weightSlot pairs a checkpoint entry with the live tensor it mirrors.
// Slots are derived from the model spec, so extraction and restoration
// always agree on order and naming.
type weightSlot struct {
	name   string
	layer  string
	kind   string
	shape  []int
	target *tensor.Tensor
}

// weightSlots walks the spec and assigns each parameter and buffer tensor
// to a named slot. Parameters and buffers must be in the order produced by
// a model's Parameters and Buffers methods, which follow spec order.
func weightSlots(spec *layers.ModelSpec, params, buffers []*tensor.Tensor) ([]weightSlot, error) {
	if spec == nil {
		return nil, fmt.Errorf("model spec is nil")
	}
	if !spec.Compiled {
		return nil, fmt.Errorf("model spec is not compiled")
	}

	slots := make([]weightSlot, 0, len(params)+len(buffers))
	pi, bi := 0, 0

	takeParam := func(layer *layers.LayerSpec, suffix, kind string, shape []int) error {
		if pi >= len(params) {
			return fmt.Errorf("layer %s needs a %s tensor but only %d parameters were provided", layer.Name, kind, len(params))
		}
		t := params[pi]
		pi++
		if !shapesMatch(t.Shape, shape) {
			return fmt.Errorf("layer %s %s: spec shape %v does not match tensor shape %v", layer.Name, kind, shape, t.Shape)
		}
		slots = append(slots, weightSlot{name: layer.Name + suffix, layer: layer.Name, kind: kind, shape: shape, target: t})
		return nil
	}
	takeBuffer := func(layer *layers.LayerSpec, suffix, kind string, shape []int) error {
		if bi >= len(buffers) {
			return fmt.Errorf("layer %s needs a %s buffer but only %d buffers were provided", layer.Name, kind, len(buffers))
		}
		t := buffers[bi]
		bi++
		if !shapesMatch(t.Shape, shape) {
			return fmt.Errorf("layer %s %s: spec shape %v does not match buffer shape %v", layer.Name, kind, shape, t.Shape)
		}
		slots = append(slots, weightSlot{name: layer.Name + suffix, layer: layer.Name, kind: kind, shape: shape, target: t})
		return nil
	}

	for i := range spec.Layers {
		layer := &spec.Layers[i]
		switch layer.Type {
		case layers.Dense, layers.Conv2D:
			shapes := layer.ParameterShapes
			if len(shapes) == 0 {
				return nil, fmt.Errorf("layer %s has no parameter shapes", layer.Name)
			}
			if err := takeParam(layer, ".weight", "weight", shapes[0]); err != nil {
				return nil, err
			}
			if len(shapes) > 1 {
				if err := takeParam(layer, ".bias", "bias", shapes[1]); err != nil {
					return nil, err
				}
			}
		case layers.BatchNorm:
			shapes := layer.ParameterShapes
			if len(shapes) != 2 {
				return nil, fmt.Errorf("layer %s: batchnorm expects 2 parameter shapes, got %d", layer.Name, len(shapes))
			}
			if err := takeParam(layer, ".weight", "gamma", shapes[0]); err != nil {
				return nil, err
			}
			if err := takeParam(layer, ".bias", "beta", shapes[1]); err != nil {
				return nil, err
			}
			if err := takeBuffer(layer, ".running_mean", "running_mean", shapes[0]); err != nil {
				return nil, err
			}
			if err := takeBuffer(layer, ".running_var", "running_var", shapes[0]); err != nil {
				return nil, err
			}
		}
	}

	if pi != len(params) {
		return nil, fmt.Errorf("model has %d parameter tensors but the spec accounts for %d", len(params), pi)
	}
	if bi != len(buffers) {
		return nil, fmt.Errorf("model has %d buffer tensors but the spec accounts for %d", len(buffers), bi)
	}
	return slots, nil
}

// ExtractWeights snapshots model parameters and buffers into serializable
// weight tensors. Data is copied, so later training does not mutate the
// extracted values.
func ExtractWeights(spec *layers.ModelSpec, params, buffers []*tensor.Tensor) ([]WeightTensor, error) {
	slots, err := weightSlots(spec, params, buffers)
	if err != nil {
		return nil, err
	}
	weights := make([]WeightTensor, 0, len(slots))
	for _, slot := range slots {
		data, err := slot.target.GetFloat32Data()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", slot.name, err)
		}
		weights = append(weights, WeightTensor{
			Name:  slot.name,
			Shape: append([]int(nil), slot.shape...),
			Data:  append([]float32(nil), data...),
			Layer: slot.layer,
			Type:  slot.kind,
		})
	}
	return weights, nil
}

// LoadWeights copies checkpoint weights back into live tensors, matching
// entries by name and validating shapes. The target model must have been
// built from the same spec the checkpoint carries.
func LoadWeights(checkpoint *Checkpoint, params, buffers []*tensor.Tensor) error {
	if checkpoint == nil {
		return fmt.Errorf("checkpoint is nil")
	}
	slots, err := weightSlots(&checkpoint.ModelSpec, params, buffers)
	if err != nil {
		return err
	}
	byName := make(map[string]*WeightTensor, len(checkpoint.Weights))
	for i := range checkpoint.Weights {
		byName[checkpoint.Weights[i].Name] = &checkpoint.Weights[i]
	}
	for _, slot := range slots {
		w, ok := byName[slot.name]
		if !ok {
			return fmt.Errorf("checkpoint is missing weights for %s", slot.name)
		}
		if !shapesMatch(w.Shape, slot.shape) {
			return fmt.Errorf("%s: checkpoint shape %v does not match model shape %v", slot.name, w.Shape, slot.shape)
		}
		dst, err := slot.target.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("restoring %s: %w", slot.name, err)
		}
		if len(w.Data) != len(dst) {
			return fmt.Errorf("%s: checkpoint has %d values, tensor holds %d", slot.name, len(w.Data), len(dst))
		}
		copy(dst, w.Data)
	}
	return nil
}

func shapesMatch(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
