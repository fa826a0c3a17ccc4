package training

import (
	"fmt"
	"math/rand"

	"trellis/tensor"
)

// Batch is one collated training step: stacked inputs plus labels. Labels
// are Int32 class indices for classification or Float32 values for
// regression and binary targets.
type Batch struct {
	Data   *tensor.Tensor
	Labels *tensor.Tensor
	Size   int
}

// BatchSource yields batches for one epoch at a time. Reset restarts the
// epoch (reshuffling when the source shuffles).
type BatchSource interface {
	Len() int
	Reset()
	HasNext() bool
	Next() (*Batch, error)
}

// Dataset provides random access to individual samples as tensors.
type Dataset interface {
	Len() int
	Get(index int) (data *tensor.Tensor, label *tensor.Tensor, err error)
}

// TensorDataset wraps pre-built sample and label tensors: X is [N, ...],
// Y is [N] or [N, ...] with matching first dimension.
type TensorDataset struct {
	x *tensor.Tensor
	y *tensor.Tensor
}

func NewTensorDataset(x, y *tensor.Tensor) (*TensorDataset, error) {
	if len(x.Shape) < 2 {
		return nil, fmt.Errorf("dataset inputs must have at least 2 dimensions [N, ...], got %v", x.Shape)
	}
	if x.Shape[0] != y.Shape[0] {
		return nil, fmt.Errorf("sample count mismatch: %d inputs, %d labels", x.Shape[0], y.Shape[0])
	}
	return &TensorDataset{x: x, y: y}, nil
}

func (d *TensorDataset) Len() int { return d.x.Shape[0] }

func (d *TensorDataset) Get(index int) (*tensor.Tensor, *tensor.Tensor, error) {
	if index < 0 || index >= d.Len() {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", index, d.Len())
	}
	data, err := sliceRow(d.x, index)
	if err != nil {
		return nil, nil, err
	}
	label, err := sliceRow(d.y, index)
	if err != nil {
		return nil, nil, err
	}
	return data, label, nil
}

// sliceRow copies row i of a [N, ...] tensor into a new tensor of the
// remaining shape. 1D tensors yield single-element rows.
func sliceRow(t *tensor.Tensor, i int) (*tensor.Tensor, error) {
	rowShape := []int{1}
	rowSize := 1
	if len(t.Shape) > 1 {
		rowShape = append([]int(nil), t.Shape[1:]...)
		rowSize = t.NumElems / t.Shape[0]
	}
	out, err := tensor.NewTensor(rowShape, t.DType, nil)
	if err != nil {
		return nil, err
	}
	switch t.DType {
	case tensor.Float32:
		copy(out.Data.([]float32), t.Data.([]float32)[i*rowSize:(i+1)*rowSize])
	case tensor.Int32:
		copy(out.Data.([]int32), t.Data.([]int32)[i*rowSize:(i+1)*rowSize])
	}
	return out, nil
}

// DataLoader batches a Dataset with optional shuffling. The final partial
// batch is emitted as-is.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
}

func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, seed int64) (*DataLoader, error) {
	if dataset == nil || dataset.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	dl := &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   make([]int, dataset.Len()),
	}
	for i := range dl.indices {
		dl.indices[i] = i
	}
	dl.Reset()
	return dl, nil
}

// Len returns the number of batches per epoch.
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// Reset restarts the epoch, reshuffling if enabled.
func (dl *DataLoader) Reset() {
	dl.position = 0
	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

func (dl *DataLoader) HasNext() bool {
	return dl.position < len(dl.indices)
}

// Next collates the next batch. Sample tensors are stacked along a new
// leading batch dimension.
func (dl *DataLoader) Next() (*Batch, error) {
	if !dl.HasNext() {
		return nil, fmt.Errorf("epoch exhausted; call Reset")
	}
	end := dl.position + dl.batchSize
	if end > len(dl.indices) {
		end = len(dl.indices)
	}
	batchIndices := dl.indices[dl.position:end]
	dl.position = end

	var data, labels *tensor.Tensor
	for row, idx := range batchIndices {
		sample, label, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("loading sample %d: %w", idx, err)
		}
		if data == nil {
			data, err = tensor.NewTensor(append([]int{len(batchIndices)}, sample.Shape...), sample.DType, nil)
			if err != nil {
				return nil, err
			}
			labels, err = tensor.NewTensor(append([]int{len(batchIndices)}, label.Shape...), label.DType, nil)
			if err != nil {
				return nil, err
			}
		}
		if err := copyIntoRow(data, sample, row); err != nil {
			return nil, fmt.Errorf("collating sample %d: %w", idx, err)
		}
		if err := copyIntoRow(labels, label, row); err != nil {
			return nil, fmt.Errorf("collating label %d: %w", idx, err)
		}
	}

	// Single-value labels collapse to a [batch] vector, the shape losses
	// and metrics expect.
	if labels != nil && len(labels.Shape) == 2 && labels.Shape[1] == 1 {
		reshaped, err := labels.Reshape([]int{labels.Shape[0]})
		if err != nil {
			return nil, err
		}
		labels = reshaped
	}

	return &Batch{Data: data, Labels: labels, Size: len(batchIndices)}, nil
}

// Iterator streams one epoch of batches through a channel for use with
// range loops. The loader is Reset first; the channel closes when the
// epoch ends or a batch fails to collate.
func (dl *DataLoader) Iterator() <-chan *Batch {
	batches := make(chan *Batch, 1)
	go func() {
		defer close(batches)
		dl.Reset()
		for dl.HasNext() {
			batch, err := dl.Next()
			if err != nil {
				return
			}
			batches <- batch
		}
	}()
	return batches
}

func copyIntoRow(dst *tensor.Tensor, src *tensor.Tensor, row int) error {
	rowSize := dst.NumElems / dst.Shape[0]
	if src.NumElems != rowSize {
		return fmt.Errorf("sample has %d elements, batch row holds %d", src.NumElems, rowSize)
	}
	if src.DType != dst.DType {
		return fmt.Errorf("sample dtype %s does not match batch dtype %s", src.DType, dst.DType)
	}
	switch dst.DType {
	case tensor.Float32:
		copy(dst.Data.([]float32)[row*rowSize:(row+1)*rowSize], src.Data.([]float32))
	case tensor.Int32:
		copy(dst.Data.([]int32)[row*rowSize:(row+1)*rowSize], src.Data.([]int32))
	}
	return nil
}
