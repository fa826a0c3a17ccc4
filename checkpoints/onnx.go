package checkpoints

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"trellis/layers"
)

// ONNX serialization constants. The exporter targets IR version 7 with the
// default operator set at opset 13, which every mainstream runtime accepts.
const (
	onnxIRVersion = 7
	onnxOpset     = 13

	onnxElemFloat = 1

	attrKindFloat = 1
	attrKindInt   = 2
	attrKindInts  = 7
)

// onnxModel mirrors the subset of onnx.proto3 this package reads and
// writes. Encoding is done directly with protowire, so no generated
// bindings are needed.
type onnxModel struct {
	irVersion    int64
	producerName string
	producerVer  string
	modelVersion int64
	docString    string
	opsetVersion int64
	graph        onnxGraph
}

type onnxGraph struct {
	name         string
	nodes        []onnxNode
	initializers []onnxTensor
	inputs       []onnxValueInfo
	outputs      []onnxValueInfo
}

type onnxNode struct {
	name    string
	opType  string
	inputs  []string
	outputs []string
	attrs   []onnxAttribute
}

type onnxAttribute struct {
	name string
	kind int
	f    float32
	i    int64
	ints []int64
}

type onnxTensor struct {
	name string
	dims []int64
	data []float32
}

// onnxValueInfo carries a tensor name and shape. Symbolic dimensions are
// stored as -1.
type onnxValueInfo struct {
	name string
	dims []int64
}

func (n *onnxNode) floatAttr(name string) (float32, bool) {
	for i := range n.attrs {
		if n.attrs[i].name == name && n.attrs[i].kind == attrKindFloat {
			return n.attrs[i].f, true
		}
	}
	return 0, false
}

func (n *onnxNode) intsAttr(name string) ([]int64, bool) {
	for i := range n.attrs {
		if n.attrs[i].name == name && n.attrs[i].kind == attrKindInts {
			return n.attrs[i].ints, true
		}
	}
	return nil, false
}

func floatAttribute(name string, v float32) onnxAttribute {
	return onnxAttribute{name: name, kind: attrKindFloat, f: v}
}

func intAttribute(name string, v int64) onnxAttribute {
	return onnxAttribute{name: name, kind: attrKindInt, i: v}
}

func intsAttribute(name string, vals ...int64) onnxAttribute {
	return onnxAttribute{name: name, kind: attrKindInts, ints: vals}
}

// ONNXExporter writes checkpoints as ONNX models. The exported graph is the
// inference path: dropout layers are omitted and batch normalization reads
// its running statistics.
type ONNXExporter struct{}

// NewONNXExporter creates an exporter.
func NewONNXExporter() *ONNXExporter {
	return &ONNXExporter{}
}

// ExportToONNX writes the checkpoint to path as an ONNX model.
func (e *ONNXExporter) ExportToONNX(checkpoint *Checkpoint, path string) error {
	if checkpoint == nil {
		return fmt.Errorf("checkpoint is nil")
	}
	model, err := buildONNXModel(checkpoint)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, encodeModel(model), 0o644); err != nil {
		return fmt.Errorf("writing onnx file: %w", err)
	}
	return nil
}

// buildONNXModel translates the checkpoint's spec and weights into a graph.
func buildONNXModel(checkpoint *Checkpoint) (*onnxModel, error) {
	spec := &checkpoint.ModelSpec
	if !spec.Compiled {
		return nil, fmt.Errorf("model spec is not compiled")
	}

	byName := make(map[string]*WeightTensor, len(checkpoint.Weights))
	for i := range checkpoint.Weights {
		byName[checkpoint.Weights[i].Name] = &checkpoint.Weights[i]
	}

	graph := onnxGraph{
		name:   frameworkName,
		inputs: []onnxValueInfo{{name: "input", dims: symbolicBatch(spec.InputShape)}},
	}

	// addInit registers a checkpoint weight as a graph initializer and
	// returns its tensor name.
	addInit := func(name string) (string, error) {
		w, ok := byName[name]
		if !ok {
			return "", fmt.Errorf("checkpoint is missing weights for %s", name)
		}
		graph.initializers = append(graph.initializers, onnxTensor{
			name: w.Name,
			dims: intsToInt64s(w.Shape),
			data: w.Data,
		})
		return w.Name, nil
	}

	cur := "input"
	for i := range spec.Layers {
		layer := &spec.Layers[i]
		out := layer.Name + "_out"

		switch layer.Type {
		case layers.Dense:
			// MatMul needs a 2D operand; flatten higher-rank inputs the
			// way the dense module does.
			if len(layer.InputShape) > 2 {
				flat := layer.Name + "_flatten"
				graph.nodes = append(graph.nodes, onnxNode{
					name:    flat,
					opType:  "Flatten",
					inputs:  []string{cur},
					outputs: []string{flat + "_out"},
					attrs:   []onnxAttribute{intAttribute("axis", 1)},
				})
				cur = flat + "_out"
			}
			wName, err := addInit(layer.Name + ".weight")
			if err != nil {
				return nil, err
			}
			_, hasBias := byName[layer.Name+".bias"]
			matOut := out
			if hasBias {
				matOut = layer.Name + "_matmul"
			}
			graph.nodes = append(graph.nodes, onnxNode{
				name:    layer.Name,
				opType:  "MatMul",
				inputs:  []string{cur, wName},
				outputs: []string{matOut},
			})
			if hasBias {
				bName, err := addInit(layer.Name + ".bias")
				if err != nil {
					return nil, err
				}
				graph.nodes = append(graph.nodes, onnxNode{
					name:    layer.Name + "_add",
					opType:  "Add",
					inputs:  []string{matOut, bName},
					outputs: []string{out},
				})
			}

		case layers.Conv2D:
			wName, err := addInit(layer.Name + ".weight")
			if err != nil {
				return nil, err
			}
			inputs := []string{cur, wName}
			if _, hasBias := byName[layer.Name+".bias"]; hasBias {
				bName, err := addInit(layer.Name + ".bias")
				if err != nil {
					return nil, err
				}
				inputs = append(inputs, bName)
			}
			kernel, _ := layer.IntParam("kernel_size")
			stride, _ := layer.IntParam("stride")
			if stride == 0 {
				stride = 1
			}
			padding, _ := layer.IntParam("padding")
			graph.nodes = append(graph.nodes, onnxNode{
				name:    layer.Name,
				opType:  "Conv",
				inputs:  inputs,
				outputs: []string{out},
				attrs: []onnxAttribute{
					intsAttribute("kernel_shape", int64(kernel), int64(kernel)),
					intsAttribute("strides", int64(stride), int64(stride)),
					intsAttribute("pads", int64(padding), int64(padding), int64(padding), int64(padding)),
				},
			})

		case layers.BatchNorm:
			inputs := []string{cur}
			for _, suffix := range []string{".weight", ".bias", ".running_mean", ".running_var"} {
				name, err := addInit(layer.Name + suffix)
				if err != nil {
					return nil, err
				}
				inputs = append(inputs, name)
			}
			eps, ok := layer.FloatParam("eps")
			if !ok {
				eps = 1e-5
			}
			momentum, ok := layer.FloatParam("momentum")
			if !ok {
				momentum = 0.1
			}
			// ONNX momentum weights the running statistic, the complement
			// of this package's convention.
			graph.nodes = append(graph.nodes, onnxNode{
				name:    layer.Name,
				opType:  "BatchNormalization",
				inputs:  inputs,
				outputs: []string{out},
				attrs: []onnxAttribute{
					floatAttribute("epsilon", float32(eps)),
					floatAttribute("momentum", float32(1-momentum)),
				},
			})

		case layers.ReLU:
			graph.nodes = append(graph.nodes, onnxNode{name: layer.Name, opType: "Relu", inputs: []string{cur}, outputs: []string{out}})
		case layers.Sigmoid:
			graph.nodes = append(graph.nodes, onnxNode{name: layer.Name, opType: "Sigmoid", inputs: []string{cur}, outputs: []string{out}})
		case layers.Tanh:
			graph.nodes = append(graph.nodes, onnxNode{name: layer.Name, opType: "Tanh", inputs: []string{cur}, outputs: []string{out}})
		case layers.Softmax:
			graph.nodes = append(graph.nodes, onnxNode{
				name:    layer.Name,
				opType:  "Softmax",
				inputs:  []string{cur},
				outputs: []string{out},
				attrs:   []onnxAttribute{intAttribute("axis", -1)},
			})

		case layers.MaxPool2D:
			kernel, _ := layer.IntParam("kernel_size")
			stride, _ := layer.IntParam("stride")
			if stride == 0 {
				stride = kernel
			}
			padding, _ := layer.IntParam("padding")
			graph.nodes = append(graph.nodes, onnxNode{
				name:    layer.Name,
				opType:  "MaxPool",
				inputs:  []string{cur},
				outputs: []string{out},
				attrs: []onnxAttribute{
					intsAttribute("kernel_shape", int64(kernel), int64(kernel)),
					intsAttribute("strides", int64(stride), int64(stride)),
					intsAttribute("pads", int64(padding), int64(padding), int64(padding), int64(padding)),
				},
			})

		case layers.Flatten:
			graph.nodes = append(graph.nodes, onnxNode{
				name:    layer.Name,
				opType:  "Flatten",
				inputs:  []string{cur},
				outputs: []string{out},
				attrs:   []onnxAttribute{intAttribute("axis", 1)},
			})

		case layers.Dropout:
			// Inference graph: dropout is the identity.
			continue

		default:
			return nil, fmt.Errorf("layer %s: cannot export %s to ONNX", layer.Name, layer.Type)
		}
		cur = out
	}

	if len(graph.nodes) == 0 {
		return nil, fmt.Errorf("model spec produced no exportable layers")
	}
	graph.outputs = []onnxValueInfo{{name: cur, dims: symbolicBatch(spec.OutputShape)}}

	return &onnxModel{
		irVersion:    onnxIRVersion,
		producerName: frameworkName,
		producerVer:  checkpointVersion,
		modelVersion: 1,
		docString:    checkpoint.Metadata.Description,
		opsetVersion: onnxOpset,
		graph:        graph,
	}, nil
}

// ONNXImporter reads ONNX models back into checkpoints. It recognizes the
// operator subset the exporter emits: MatMul/Add pairs, Conv, pooling,
// flatten, batch normalization and the pointwise activations.
type ONNXImporter struct{}

// NewONNXImporter creates an importer.
func NewONNXImporter() *ONNXImporter {
	return &ONNXImporter{}
}

// ImportFromONNX reads an ONNX model and reconstructs a checkpoint with a
// compiled spec and its weights. Training state is not part of ONNX and
// comes back zeroed.
func (im *ONNXImporter) ImportFromONNX(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading onnx file: %w", err)
	}
	model, err := parseModel(data)
	if err != nil {
		return nil, fmt.Errorf("parsing onnx file: %w", err)
	}
	return checkpointFromONNX(model)
}

// layerWeightRef remembers which graph initializers feed a layer, in the
// canonical slot order used by ExtractWeights.
type layerWeightRef struct {
	layer string
	inits []string
	kinds []string
}

func checkpointFromONNX(model *onnxModel) (*Checkpoint, error) {
	graph := &model.graph

	inits := make(map[string]*onnxTensor, len(graph.initializers))
	for i := range graph.initializers {
		inits[graph.initializers[i].name] = &graph.initializers[i]
	}

	// The data input is the one graph input that is not an initializer.
	var dataInput *onnxValueInfo
	for i := range graph.inputs {
		if _, ok := inits[graph.inputs[i].name]; ok {
			continue
		}
		if dataInput != nil {
			return nil, fmt.Errorf("graph has multiple data inputs")
		}
		dataInput = &graph.inputs[i]
	}
	if dataInput == nil {
		return nil, fmt.Errorf("graph has no data input")
	}
	inputShape, err := concreteShape(dataInput.dims)
	if err != nil {
		return nil, fmt.Errorf("graph input %s: %w", dataInput.name, err)
	}

	builder := layers.NewModelBuilder(inputShape)
	var refs []layerWeightRef

	nodeName := func(node *onnxNode, i int) string {
		if node.name != "" {
			return node.name
		}
		return fmt.Sprintf("%s_%d", strings.ToLower(node.opType), i)
	}

	for i := 0; i < len(graph.nodes); i++ {
		node := &graph.nodes[i]
		name := nodeName(node, i)

		switch node.opType {
		case "MatMul":
			if len(node.inputs) != 2 {
				return nil, fmt.Errorf("node %s: matmul expects 2 inputs, got %d", name, len(node.inputs))
			}
			w, ok := inits[node.inputs[1]]
			if !ok {
				return nil, fmt.Errorf("node %s: weight %s is not an initializer", name, node.inputs[1])
			}
			if len(w.dims) != 2 {
				return nil, fmt.Errorf("node %s: weight must be 2D, got %d dims", name, len(w.dims))
			}
			ref := layerWeightRef{layer: name, inits: []string{w.name}, kinds: []string{"weight"}}

			// A following Add against an initializer is the layer bias.
			useBias := false
			if i+1 < len(graph.nodes) {
				next := &graph.nodes[i+1]
				if next.opType == "Add" && len(next.inputs) == 2 && next.inputs[0] == node.outputs[0] {
					if b, ok := inits[next.inputs[1]]; ok {
						useBias = true
						ref.inits = append(ref.inits, b.name)
						ref.kinds = append(ref.kinds, "bias")
						i++
					}
				}
			}
			builder.AddDense(int(w.dims[1]), useBias, name)
			refs = append(refs, ref)

		case "Conv":
			if len(node.inputs) < 2 {
				return nil, fmt.Errorf("node %s: conv expects at least 2 inputs", name)
			}
			w, ok := inits[node.inputs[1]]
			if !ok {
				return nil, fmt.Errorf("node %s: weight %s is not an initializer", name, node.inputs[1])
			}
			if len(w.dims) != 4 {
				return nil, fmt.Errorf("node %s: conv weight must be 4D, got %d dims", name, len(w.dims))
			}
			kernel := int(w.dims[2])
			if ks, ok := node.intsAttr("kernel_shape"); ok && len(ks) > 0 {
				kernel = int(ks[0])
			}
			stride := 1
			if st, ok := node.intsAttr("strides"); ok && len(st) > 0 {
				stride = int(st[0])
			}
			padding := 0
			if pd, ok := node.intsAttr("pads"); ok && len(pd) > 0 {
				padding = int(pd[0])
			}
			ref := layerWeightRef{layer: name, inits: []string{w.name}, kinds: []string{"weight"}}
			useBias := false
			if len(node.inputs) >= 3 {
				b, ok := inits[node.inputs[2]]
				if !ok {
					return nil, fmt.Errorf("node %s: bias %s is not an initializer", name, node.inputs[2])
				}
				useBias = true
				ref.inits = append(ref.inits, b.name)
				ref.kinds = append(ref.kinds, "bias")
			}
			builder.AddConv2D(int(w.dims[0]), kernel, stride, padding, useBias, name)
			refs = append(refs, ref)

		case "BatchNormalization":
			if len(node.inputs) != 5 {
				return nil, fmt.Errorf("node %s: batch normalization expects 5 inputs, got %d", name, len(node.inputs))
			}
			ref := layerWeightRef{layer: name}
			for j, kind := range []string{"gamma", "beta", "running_mean", "running_var"} {
				t, ok := inits[node.inputs[j+1]]
				if !ok {
					return nil, fmt.Errorf("node %s: %s input %s is not an initializer", name, kind, node.inputs[j+1])
				}
				ref.inits = append(ref.inits, t.name)
				ref.kinds = append(ref.kinds, kind)
			}
			eps := float32(1e-5)
			if v, ok := node.floatAttr("epsilon"); ok {
				eps = v
			}
			momentum := float32(0.9)
			if v, ok := node.floatAttr("momentum"); ok {
				momentum = v
			}
			builder.AddBatchNorm(float64(eps), float64(1-momentum), name)
			refs = append(refs, ref)

		case "Relu":
			builder.AddReLU(name)
		case "Sigmoid":
			builder.AddSigmoid(name)
		case "Tanh":
			builder.AddTanh(name)
		case "Softmax":
			builder.AddSoftmax(name)
		case "Flatten":
			builder.AddFlatten(name)

		case "MaxPool":
			ks, ok := node.intsAttr("kernel_shape")
			if !ok || len(ks) == 0 {
				return nil, fmt.Errorf("node %s: maxpool is missing kernel_shape", name)
			}
			kernel := int(ks[0])
			stride := kernel
			if st, ok := node.intsAttr("strides"); ok && len(st) > 0 {
				stride = int(st[0])
			}
			padding := 0
			if pd, ok := node.intsAttr("pads"); ok && len(pd) > 0 {
				padding = int(pd[0])
			}
			builder.AddMaxPool2D(kernel, stride, padding, name)

		default:
			return nil, fmt.Errorf("node %s: unsupported op type %s", name, node.opType)
		}
	}

	spec, err := builder.Compile()
	if err != nil {
		return nil, fmt.Errorf("compiling imported model: %w", err)
	}

	var weights []WeightTensor
	for _, ref := range refs {
		for j, initName := range ref.inits {
			t := inits[initName]
			kind := ref.kinds[j]
			weights = append(weights, WeightTensor{
				Name:  ref.layer + canonicalSuffix(kind),
				Shape: int64sToInts(t.dims),
				Data:  append([]float32(nil), t.data...),
				Layer: ref.layer,
				Type:  kind,
			})
		}
	}

	return &Checkpoint{
		ModelSpec: *spec,
		Weights:   weights,
		Metadata: CheckpointMetadata{
			Version:     checkpointVersion,
			Framework:   frameworkName,
			CreatedAt:   time.Now().UTC(),
			Description: model.docString,
		},
	}, nil
}

func canonicalSuffix(kind string) string {
	switch kind {
	case "weight", "gamma":
		return ".weight"
	case "bias", "beta":
		return ".bias"
	default:
		return "." + kind
	}
}

// symbolicBatch copies a shape to int64 dims with the batch axis marked
// symbolic.
func symbolicBatch(shape []int) []int64 {
	dims := intsToInt64s(shape)
	if len(dims) > 0 {
		dims[0] = -1
	}
	return dims
}

// concreteShape resolves value-info dims to a compilable shape. A symbolic
// batch axis becomes 1; symbolic dims elsewhere are rejected.
func concreteShape(dims []int64) ([]int, error) {
	if len(dims) < 2 {
		return nil, fmt.Errorf("shape must include a batch dimension, got %d dims", len(dims))
	}
	shape := make([]int, len(dims))
	for i, d := range dims {
		if d <= 0 {
			if i != 0 {
				return nil, fmt.Errorf("dimension %d is symbolic", i)
			}
			d = 1
		}
		shape[i] = int(d)
	}
	return shape, nil
}

func intsToInt64s(vals []int) []int64 {
	out := make([]int64, len(vals))
	for i, v := range vals {
		out[i] = int64(v)
	}
	return out
}

func int64sToInts(vals []int64) []int {
	out := make([]int, len(vals))
	for i, v := range vals {
		out[i] = int(v)
	}
	return out
}

// Wire encoding. Field numbers follow onnx.proto3.

func encodeModel(m *onnxModel) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(m.irVersion)) // ir_version
	b = appendStringField(b, 2, m.producerName)      // producer_name
	b = appendStringField(b, 3, m.producerVer)       // producer_version
	b = appendVarintField(b, 5, uint64(m.modelVersion))
	b = appendStringField(b, 6, m.docString)
	b = appendBytesField(b, 7, encodeGraph(&m.graph))

	var opset []byte // OperatorSetIdProto with the default domain
	opset = appendVarintField(opset, 2, uint64(m.opsetVersion))
	b = appendBytesField(b, 8, opset)
	return b
}

func encodeGraph(g *onnxGraph) []byte {
	var b []byte
	for i := range g.nodes {
		b = appendBytesField(b, 1, encodeNode(&g.nodes[i]))
	}
	b = appendStringField(b, 2, g.name)
	for i := range g.initializers {
		b = appendBytesField(b, 5, encodeTensor(&g.initializers[i]))
	}
	for i := range g.inputs {
		b = appendBytesField(b, 11, encodeValueInfo(&g.inputs[i]))
	}
	for i := range g.outputs {
		b = appendBytesField(b, 12, encodeValueInfo(&g.outputs[i]))
	}
	return b
}

func encodeNode(n *onnxNode) []byte {
	var b []byte
	for _, in := range n.inputs {
		b = appendStringField(b, 1, in)
	}
	for _, out := range n.outputs {
		b = appendStringField(b, 2, out)
	}
	b = appendStringField(b, 3, n.name)
	b = appendStringField(b, 4, n.opType)
	for i := range n.attrs {
		b = appendBytesField(b, 5, encodeAttribute(&n.attrs[i]))
	}
	return b
}

func encodeAttribute(a *onnxAttribute) []byte {
	var b []byte
	b = appendStringField(b, 1, a.name)
	switch a.kind {
	case attrKindFloat:
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.f))
	case attrKindInt:
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.i))
	case attrKindInts:
		b = appendPackedVarints(b, 8, a.ints)
	}
	b = appendVarintField(b, 20, uint64(a.kind)) // AttributeProto.type
	return b
}

func encodeTensor(t *onnxTensor) []byte {
	var b []byte
	b = appendPackedVarints(b, 1, t.dims)
	b = appendVarintField(b, 2, onnxElemFloat) // data_type
	b = appendPackedFloats(b, 4, t.data)
	b = appendStringField(b, 8, t.name)
	return b
}

func encodeValueInfo(v *onnxValueInfo) []byte {
	var shape []byte // TensorShapeProto
	for _, d := range v.dims {
		var dim []byte
		if d < 0 {
			dim = appendStringField(dim, 2, "batch") // dim_param
		} else {
			dim = appendVarintField(dim, 1, uint64(d)) // dim_value
		}
		shape = appendBytesField(shape, 1, dim)
	}

	var tt []byte // TypeProto.Tensor
	tt = appendVarintField(tt, 1, onnxElemFloat)
	tt = appendBytesField(tt, 2, shape)

	var tp []byte // TypeProto
	tp = appendBytesField(tp, 1, tt)

	var b []byte
	b = appendStringField(b, 1, v.name)
	b = appendBytesField(b, 2, tp)
	return b
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendPackedVarints(b []byte, num protowire.Number, vals []int64) []byte {
	if len(vals) == 0 {
		return b
	}
	var pk []byte
	for _, v := range vals {
		pk = protowire.AppendVarint(pk, uint64(v))
	}
	return appendBytesField(b, num, pk)
}

func appendPackedFloats(b []byte, num protowire.Number, vals []float32) []byte {
	pk := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		pk = protowire.AppendFixed32(pk, math.Float32bits(v))
	}
	return appendBytesField(b, num, pk)
}

// Wire decoding. Unknown fields are skipped so files from other producers
// still parse as long as they stay on the supported operator subset.

func parseModel(data []byte) (*onnxModel, error) {
	m := &onnxModel{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		var err error
		switch num {
		case 1:
			m.irVersion, data, err = consumeInt64(data)
		case 2:
			m.producerName, data, err = consumeString(data)
		case 3:
			m.producerVer, data, err = consumeString(data)
		case 5:
			m.modelVersion, data, err = consumeInt64(data)
		case 6:
			m.docString, data, err = consumeString(data)
		case 7:
			var msg []byte
			msg, data, err = consumeBytes(data)
			if err == nil {
				err = parseGraph(msg, &m.graph)
			}
		case 8:
			var msg []byte
			msg, data, err = consumeBytes(data)
			if err == nil {
				var version int64
				version, err = parseOperatorSet(msg)
				if err == nil && version > m.opsetVersion {
					m.opsetVersion = version
				}
			}
		default:
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

func parseOperatorSet(data []byte) (int64, error) {
	var version int64
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		data = data[n:]

		var err error
		switch num {
		case 2:
			version, data, err = consumeInt64(data)
		default:
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return 0, err
		}
	}
	return version, nil
}

func parseGraph(data []byte, g *onnxGraph) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		var err error
		switch num {
		case 1:
			var msg []byte
			msg, data, err = consumeBytes(data)
			if err == nil {
				var node onnxNode
				if err = parseNode(msg, &node); err == nil {
					g.nodes = append(g.nodes, node)
				}
			}
		case 2:
			g.name, data, err = consumeString(data)
		case 5:
			var msg []byte
			msg, data, err = consumeBytes(data)
			if err == nil {
				var t onnxTensor
				if err = parseTensor(msg, &t); err == nil {
					g.initializers = append(g.initializers, t)
				}
			}
		case 11:
			var msg []byte
			msg, data, err = consumeBytes(data)
			if err == nil {
				var v onnxValueInfo
				if err = parseValueInfo(msg, &v); err == nil {
					g.inputs = append(g.inputs, v)
				}
			}
		case 12:
			var msg []byte
			msg, data, err = consumeBytes(data)
			if err == nil {
				var v onnxValueInfo
				if err = parseValueInfo(msg, &v); err == nil {
					g.outputs = append(g.outputs, v)
				}
			}
		default:
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func parseNode(data []byte, node *onnxNode) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		var err error
		switch num {
		case 1:
			var s string
			s, data, err = consumeString(data)
			node.inputs = append(node.inputs, s)
		case 2:
			var s string
			s, data, err = consumeString(data)
			node.outputs = append(node.outputs, s)
		case 3:
			node.name, data, err = consumeString(data)
		case 4:
			node.opType, data, err = consumeString(data)
		case 5:
			var msg []byte
			msg, data, err = consumeBytes(data)
			if err == nil {
				var attr onnxAttribute
				if err = parseAttribute(msg, &attr); err == nil {
					node.attrs = append(node.attrs, attr)
				}
			}
		default:
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func parseAttribute(data []byte, attr *onnxAttribute) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		var err error
		switch num {
		case 1:
			attr.name, data, err = consumeString(data)
		case 2:
			var bits uint32
			bits, data, err = consumeFixed32(data)
			attr.f = math.Float32frombits(bits)
		case 3:
			attr.i, data, err = consumeInt64(data)
		case 8:
			attr.ints, data, err = consumeInt64s(data, typ, attr.ints)
		case 20:
			var kind int64
			kind, data, err = consumeInt64(data)
			attr.kind = int(kind)
		default:
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func parseTensor(data []byte, t *onnxTensor) error {
	var dataType int64 = onnxElemFloat
	var raw []byte
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		var err error
		switch num {
		case 1:
			t.dims, data, err = consumeInt64s(data, typ, t.dims)
		case 2:
			dataType, data, err = consumeInt64(data)
		case 4:
			t.data, data, err = consumeFloat32s(data, typ, t.data)
		case 8:
			t.name, data, err = consumeString(data)
		case 9:
			raw, data, err = consumeBytes(data)
		default:
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return err
		}
	}
	if dataType != onnxElemFloat {
		return fmt.Errorf("tensor %s: unsupported data type %d", t.name, dataType)
	}
	// Some producers store weights as little-endian raw bytes instead of
	// float_data.
	if len(raw) > 0 && len(t.data) == 0 {
		if len(raw)%4 != 0 {
			return fmt.Errorf("tensor %s: raw data length %d is not a multiple of 4", t.name, len(raw))
		}
		t.data = make([]float32, len(raw)/4)
		for i := range t.data {
			bits := uint32(raw[4*i]) | uint32(raw[4*i+1])<<8 | uint32(raw[4*i+2])<<16 | uint32(raw[4*i+3])<<24
			t.data[i] = math.Float32frombits(bits)
		}
	}
	return nil
}

func parseValueInfo(data []byte, v *onnxValueInfo) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		var err error
		switch num {
		case 1:
			v.name, data, err = consumeString(data)
		case 2:
			var msg []byte
			msg, data, err = consumeBytes(data)
			if err == nil {
				v.dims, err = parseTypeDims(msg)
			}
		default:
			data, err = skipField(data, num, typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// parseTypeDims digs through TypeProto -> tensor_type -> shape -> dim and
// returns the dimensions, -1 for symbolic ones.
func parseTypeDims(data []byte) ([]int64, error) {
	tensorType, err := subMessage(data, 1)
	if err != nil || tensorType == nil {
		return nil, err
	}
	shape, err := subMessage(tensorType, 2)
	if err != nil || shape == nil {
		return nil, err
	}

	var dims []int64
	for len(shape) > 0 {
		num, typ, n := protowire.ConsumeTag(shape)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		shape = shape[n:]

		if num != 1 {
			shape, err = skipField(shape, num, typ)
			if err != nil {
				return nil, err
			}
			continue
		}
		var dim []byte
		dim, shape, err = consumeBytes(shape)
		if err != nil {
			return nil, err
		}
		value := int64(-1)
		for len(dim) > 0 {
			dnum, dtyp, dn := protowire.ConsumeTag(dim)
			if dn < 0 {
				return nil, protowire.ParseError(dn)
			}
			dim = dim[dn:]
			if dnum == 1 {
				value, dim, err = consumeInt64(dim)
			} else {
				dim, err = skipField(dim, dnum, dtyp)
			}
			if err != nil {
				return nil, err
			}
		}
		dims = append(dims, value)
	}
	return dims, nil
}

// subMessage scans a message for the first occurrence of a length-delimited
// field and returns its contents, or nil if absent.
func subMessage(data []byte, field protowire.Number) ([]byte, error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		if num == field && typ == protowire.BytesType {
			msg, _, err := consumeBytes(data)
			return msg, err
		}
		var err error
		data, err = skipField(data, num, typ)
		if err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func consumeBytes(data []byte) ([]byte, []byte, error) {
	v, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, nil, protowire.ParseError(n)
	}
	return v, data[n:], nil
}

func consumeString(data []byte) (string, []byte, error) {
	v, n := protowire.ConsumeString(data)
	if n < 0 {
		return "", nil, protowire.ParseError(n)
	}
	return v, data[n:], nil
}

func consumeInt64(data []byte) (int64, []byte, error) {
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, nil, protowire.ParseError(n)
	}
	return int64(v), data[n:], nil
}

func consumeFixed32(data []byte) (uint32, []byte, error) {
	v, n := protowire.ConsumeFixed32(data)
	if n < 0 {
		return 0, nil, protowire.ParseError(n)
	}
	return v, data[n:], nil
}

// consumeInt64s reads a repeated int64 field, packed or not.
func consumeInt64s(data []byte, typ protowire.Type, dst []int64) ([]int64, []byte, error) {
	if typ == protowire.BytesType {
		pk, rest, err := consumeBytes(data)
		if err != nil {
			return nil, nil, err
		}
		for len(pk) > 0 {
			v, n := protowire.ConsumeVarint(pk)
			if n < 0 {
				return nil, nil, protowire.ParseError(n)
			}
			dst = append(dst, int64(v))
			pk = pk[n:]
		}
		return dst, rest, nil
	}
	v, rest, err := consumeInt64(data)
	if err != nil {
		return nil, nil, err
	}
	return append(dst, v), rest, nil
}

// consumeFloat32s reads a repeated float field, packed or not.
func consumeFloat32s(data []byte, typ protowire.Type, dst []float32) ([]float32, []byte, error) {
	if typ == protowire.BytesType {
		pk, rest, err := consumeBytes(data)
		if err != nil {
			return nil, nil, err
		}
		if len(pk)%4 != 0 {
			return nil, nil, fmt.Errorf("packed float field length %d is not a multiple of 4", len(pk))
		}
		for len(pk) > 0 {
			v, n := protowire.ConsumeFixed32(pk)
			if n < 0 {
				return nil, nil, protowire.ParseError(n)
			}
			dst = append(dst, math.Float32frombits(v))
			pk = pk[n:]
		}
		return dst, rest, nil
	}
	v, rest, err := consumeFixed32(data)
	if err != nil {
		return nil, nil, err
	}
	return append(dst, math.Float32frombits(v)), rest, nil
}

func skipField(data []byte, num protowire.Number, typ protowire.Type) ([]byte, error) {
	n := protowire.ConsumeFieldValue(num, typ, data)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return data[n:], nil
}
