package dataset

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExtensions are the image file extensions scanned when none are
// given, matching the formats the preprocessing decoders accept.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".ppm"}

// ErrNoImages reports a scanned root containing no matching image files.
var ErrNoImages = errors.New("no images found")

// ImageFolderDataset indexes a directory tree where each subdirectory of
// the root names a class and holds that class's image files.
type ImageFolderDataset struct {
	imagePaths []string
	labels     []int
	classNames []string
	classToIdx map[string]int
}

// NewImageFolderDataset scans root for class subdirectories and indexes
// their image files. Classes are ordered by sorted directory name.
func NewImageFolderDataset(root string, extensions []string) (*ImageFolderDataset, error) {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	valid := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		valid[strings.ToLower(ext)] = true
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}

	d := &ImageFolderDataset{classToIdx: make(map[string]int)}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		className := entry.Name()
		classIdx := len(d.classNames)
		d.classNames = append(d.classNames, className)
		d.classToIdx[className] = classIdx

		files, err := os.ReadDir(filepath.Join(root, className))
		if err != nil {
			return nil, fmt.Errorf("list class %s: %w", className, err)
		}
		names := make([]string, 0, len(files))
		for _, f := range files {
			if f.IsDir() || !valid[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			names = append(names, f.Name())
		}
		sort.Strings(names)
		for _, name := range names {
			d.imagePaths = append(d.imagePaths, filepath.Join(root, className, name))
			d.labels = append(d.labels, classIdx)
		}
	}

	if len(d.imagePaths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoImages, root)
	}
	return d, nil
}

// Len returns the number of samples.
func (d *ImageFolderDataset) Len() int {
	return len(d.imagePaths)
}

// GetItem returns the image path and class index at the given position.
func (d *ImageFolderDataset) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(d.imagePaths) {
		return "", 0, fmt.Errorf("index %d out of range [0, %d)", index, len(d.imagePaths))
	}
	return d.imagePaths[index], d.labels[index], nil
}

// NumClasses returns the number of classes.
func (d *ImageFolderDataset) NumClasses() int {
	return len(d.classNames)
}

// ClassNames returns class names in label order.
func (d *ImageFolderDataset) ClassNames() []string {
	return d.classNames
}

// ClassDistribution counts samples per class name.
func (d *ImageFolderDataset) ClassDistribution() map[string]int {
	dist := make(map[string]int)
	for _, label := range d.labels {
		dist[d.classNames[label]]++
	}
	return dist
}

// Split partitions the dataset into two parts. A seeded shuffle keeps the
// partition reproducible; shuffle=false splits in index order.
func (d *ImageFolderDataset) Split(trainRatio float64, shuffle bool, seed int64) (*ImageFolderDataset, *ImageFolderDataset, error) {
	if trainRatio <= 0 || trainRatio >= 1 {
		return nil, nil, fmt.Errorf("train ratio must be in (0, 1), got %g", trainRatio)
	}

	n := len(d.imagePaths)
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if shuffle {
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(n, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	trainSize := int(float64(n) * trainRatio)
	return d.Subset(indices[:trainSize]), d.Subset(indices[trainSize:]), nil
}

// Subset views the samples at the given indices as a new dataset sharing
// the parent's class table.
func (d *ImageFolderDataset) Subset(indices []int) *ImageFolderDataset {
	subset := &ImageFolderDataset{
		imagePaths: make([]string, len(indices)),
		labels:     make([]int, len(indices)),
		classNames: d.classNames,
		classToIdx: d.classToIdx,
	}
	for i, idx := range indices {
		subset.imagePaths[i] = d.imagePaths[idx]
		subset.labels[i] = d.labels[idx]
	}
	return subset
}

// FilterByClass keeps only samples of the named classes and reindexes
// labels to a compact 0..k-1 range in the order given. Unknown class names
// are an error so a typo cannot silently shrink the dataset.
func (d *ImageFolderDataset) FilterByClass(classNames []string) (*ImageFolderDataset, error) {
	if len(classNames) == 0 {
		return nil, fmt.Errorf("no classes selected")
	}

	remap := make(map[int]int, len(classNames))
	filtered := &ImageFolderDataset{classToIdx: make(map[string]int, len(classNames))}
	for newIdx, name := range classNames {
		oldIdx, ok := d.classToIdx[name]
		if !ok {
			return nil, fmt.Errorf("unknown class %q", name)
		}
		remap[oldIdx] = newIdx
		filtered.classNames = append(filtered.classNames, name)
		filtered.classToIdx[name] = newIdx
	}

	for i, label := range d.labels {
		if newIdx, ok := remap[label]; ok {
			filtered.imagePaths = append(filtered.imagePaths, d.imagePaths[i])
			filtered.labels = append(filtered.labels, newIdx)
		}
	}

	if len(filtered.imagePaths) == 0 {
		return nil, fmt.Errorf("no samples remain after filtering to %v", classNames)
	}
	return filtered, nil
}

func (d *ImageFolderDataset) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ImageFolderDataset: %d samples, %d classes\n", len(d.imagePaths), len(d.classNames)))
	sb.WriteString("Class distribution:\n")
	dist := d.ClassDistribution()
	for _, className := range d.classNames {
		sb.WriteString(fmt.Sprintf("  %s: %d samples\n", className, dist[className]))
	}
	return sb.String()
}
