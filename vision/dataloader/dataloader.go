package dataloader

import (
	"fmt"
	"math/rand"
	"sync"

	"trellis/tensor"
	"trellis/training"
	"trellis/vision/preprocessing"
)

// Dataset provides random access to image paths and class labels.
type Dataset interface {
	Len() int
	GetItem(index int) (imagePath string, label int, err error)
}

// Config holds DataLoader construction parameters.
type Config struct {
	BatchSize int
	Shuffle   bool
	Seed      int64
	// Workers is the number of goroutines decoding images per batch.
	// Zero means one.
	Workers int
	// CacheSize caps the number of cached sample tensors. Caching only
	// engages for deterministic pipelines; augmenting pipelines must
	// re-run their transforms every epoch.
	CacheSize int
	Pipeline  *preprocessing.Pipeline
	// Cache optionally shares a preprocessed-tensor cache with other
	// loaders over the same pipeline geometry.
	Cache *Cache
}

// DataLoader batches an image dataset through a preprocessing pipeline.
// It implements training.BatchSource; unreadable or undecodable files are
// skipped and counted rather than failing the epoch.
type DataLoader struct {
	dataset  Dataset
	pipeline *preprocessing.Pipeline
	config   Config

	mu       sync.Mutex
	rng      *rand.Rand
	indices  []int
	position int
	skipped  int

	cache *Cache
}

func New(dataset Dataset, config Config) (*DataLoader, error) {
	if dataset == nil || dataset.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	if config.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", config.BatchSize)
	}
	if config.Pipeline == nil {
		return nil, fmt.Errorf("preprocessing pipeline is required")
	}
	if config.Workers < 1 {
		config.Workers = 1
	}

	dl := &DataLoader{
		dataset:  dataset,
		pipeline: config.Pipeline,
		config:   config,
		rng:      rand.New(rand.NewSource(config.Seed)),
		indices:  make([]int, dataset.Len()),
	}
	for i := range dl.indices {
		dl.indices[i] = i
	}

	if config.Pipeline.Deterministic() && config.CacheSize > 0 {
		if config.Cache != nil {
			dl.cache = config.Cache
		} else {
			dl.cache = NewCache(config.CacheSize)
		}
	}

	dl.Reset()
	return dl, nil
}

// Len returns the number of batches per epoch.
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.config.BatchSize - 1) / dl.config.BatchSize
}

// Skipped returns the number of samples dropped because their image could
// not be loaded.
func (dl *DataLoader) Skipped() int {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.skipped
}

// Reset restarts the epoch, reshuffling when enabled.
func (dl *DataLoader) Reset() {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	dl.position = 0
	if dl.config.Shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

func (dl *DataLoader) HasNext() bool {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.position < len(dl.indices)
}

// Next decodes and transforms the next batch of images on the worker pool
// and collates them into [B, 3, S, S] inputs with [B] Int32 labels.
func (dl *DataLoader) Next() (*training.Batch, error) {
	dl.mu.Lock()
	if dl.position >= len(dl.indices) {
		dl.mu.Unlock()
		return nil, fmt.Errorf("epoch exhausted; call Reset")
	}
	end := dl.position + dl.config.BatchSize
	if end > len(dl.indices) {
		end = len(dl.indices)
	}
	batchIndices := append([]int(nil), dl.indices[dl.position:end]...)
	dl.position = end
	dl.mu.Unlock()

	type sample struct {
		data  *tensor.Tensor
		label int32
		ok    bool
	}
	samples := make([]sample, len(batchIndices))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < dl.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				path, label, err := dl.dataset.GetItem(batchIndices[i])
				if err != nil {
					continue
				}
				data, err := dl.loadSample(path)
				if err != nil {
					continue
				}
				samples[i] = sample{data: data, label: int32(label), ok: true}
			}
		}()
	}
	for i := range batchIndices {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	kept := samples[:0]
	for _, s := range samples {
		if s.ok {
			kept = append(kept, s)
		}
	}
	dropped := len(samples) - len(kept)
	if dropped > 0 {
		dl.mu.Lock()
		dl.skipped += dropped
		dl.mu.Unlock()
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("no loadable images in batch of %d", len(batchIndices))
	}

	size := dl.pipeline.OutputSize()
	data, err := tensor.NewTensor([]int{len(kept), 3, size, size}, tensor.Float32, nil)
	if err != nil {
		return nil, err
	}
	labels, err := tensor.NewTensor([]int{len(kept)}, tensor.Int32, nil)
	if err != nil {
		return nil, err
	}

	pixels := 3 * size * size
	dataBuf := data.Data.([]float32)
	labelBuf := labels.Data.([]int32)
	for row, s := range kept {
		src := s.data.Data.([]float32)
		if len(src) != pixels {
			return nil, fmt.Errorf("sample has %d values, expected %d", len(src), pixels)
		}
		copy(dataBuf[row*pixels:(row+1)*pixels], src)
		labelBuf[row] = s.label
	}

	return &training.Batch{Data: data, Labels: labels, Size: len(kept)}, nil
}

func (dl *DataLoader) loadSample(path string) (*tensor.Tensor, error) {
	if dl.cache != nil {
		if cached, ok := dl.cache.Get(path); ok {
			return cached, nil
		}
	}
	t, err := dl.pipeline.ProcessFile(path)
	if err != nil {
		return nil, err
	}
	if dl.cache != nil {
		dl.cache.Put(path, t)
	}
	return t, nil
}

// CacheStats reports cache effectiveness, or a zero value when caching is
// disabled.
func (dl *DataLoader) CacheStats() CacheStats {
	if dl.cache == nil {
		return CacheStats{}
	}
	return dl.cache.Stats()
}
