package layers

import "fmt"

// LayerType identifies a layer kind in a model specification.
type LayerType int

const (
	Dense LayerType = iota
	Conv2D
	ReLU
	Sigmoid
	Tanh
	Softmax
	MaxPool2D
	Flatten
	Dropout
	BatchNorm
)

func (lt LayerType) String() string {
	switch lt {
	case Dense:
		return "Dense"
	case Conv2D:
		return "Conv2D"
	case ReLU:
		return "ReLU"
	case Sigmoid:
		return "Sigmoid"
	case Tanh:
		return "Tanh"
	case Softmax:
		return "Softmax"
	case MaxPool2D:
		return "MaxPool2D"
	case Flatten:
		return "Flatten"
	case Dropout:
		return "Dropout"
	case BatchNorm:
		return "BatchNorm"
	default:
		return "Unknown"
	}
}

// ParseLayerType resolves a layer type from its string name.
func ParseLayerType(name string) (LayerType, error) {
	for lt := Dense; lt <= BatchNorm; lt++ {
		if lt.String() == name {
			return lt, nil
		}
	}
	return 0, fmt.Errorf("unknown layer type %q", name)
}

// LayerSpec is the declarative configuration of one layer. It carries no
// execution logic; modules are built from it and checkpoints describe
// themselves with it.
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	// Filled in during compilation.
	InputShape      []int   `json:"input_shape,omitempty"`
	OutputShape     []int   `json:"output_shape,omitempty"`
	ParameterShapes [][]int `json:"parameter_shapes,omitempty"`
	ParameterCount  int64   `json:"parameter_count,omitempty"`
}

// IntParam reads an integer parameter. JSON round-trips store numbers as
// float64, so several numeric types are accepted.
func (ls *LayerSpec) IntParam(key string) (int, bool) {
	v, ok := ls.Parameters[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float32:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// FloatParam reads a floating-point parameter.
func (ls *LayerSpec) FloatParam(key string) (float64, bool) {
	v, ok := ls.Parameters[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// BoolParam reads a boolean parameter.
func (ls *LayerSpec) BoolParam(key string) (bool, bool) {
	v, ok := ls.Parameters[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// HasParameters reports whether the layer carries learnable tensors.
func (ls *LayerSpec) HasParameters() bool {
	return len(ls.ParameterShapes) > 0
}

// ModelSpec is the compiled description of a model: ordered layers with
// resolved shapes and parameter metadata.
type ModelSpec struct {
	Layers []LayerSpec `json:"layers"`

	TotalParameters int64   `json:"total_parameters"`
	ParameterShapes [][]int `json:"parameter_shapes"`
	InputShape      []int   `json:"input_shape"`
	OutputShape     []int   `json:"output_shape"`
	Compiled        bool    `json:"compiled"`
}

// Validate checks structural consistency of a compiled spec.
func (ms *ModelSpec) Validate() error {
	if !ms.Compiled {
		return fmt.Errorf("model spec is not compiled")
	}
	if len(ms.Layers) == 0 {
		return fmt.Errorf("model spec has no layers")
	}
	var count int64
	var shapes int
	for i, layer := range ms.Layers {
		if layer.Name == "" {
			return fmt.Errorf("layer %d has no name", i)
		}
		count += layer.ParameterCount
		shapes += len(layer.ParameterShapes)
	}
	if count != ms.TotalParameters {
		return fmt.Errorf("parameter count mismatch: layers sum to %d, spec says %d", count, ms.TotalParameters)
	}
	if shapes != len(ms.ParameterShapes) {
		return fmt.Errorf("parameter shape count mismatch: layers have %d, spec lists %d", shapes, len(ms.ParameterShapes))
	}
	return nil
}

// FindLayer returns the spec of the named layer.
func (ms *ModelSpec) FindLayer(name string) (*LayerSpec, error) {
	for i := range ms.Layers {
		if ms.Layers[i].Name == name {
			return &ms.Layers[i], nil
		}
	}
	return nil, fmt.Errorf("layer %q not found", name)
}

// LastParameterizedLayer returns the index of the final layer that carries
// learnable parameters, or -1 if none do. Transfer learning swaps this layer.
func (ms *ModelSpec) LastParameterizedLayer() int {
	for i := len(ms.Layers) - 1; i >= 0; i-- {
		if ms.Layers[i].HasParameters() {
			return i
		}
	}
	return -1
}
