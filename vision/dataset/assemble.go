package dataset

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SplitNames are the destination subdirectories Assemble writes, in order.
var SplitNames = [3]string{"train", "val", "test"}

// AssembleOptions controls dataset assembly.
type AssembleOptions struct {
	// Classes selects which source classes to keep. Empty keeps all.
	Classes []string
	// Ratios are the train/val/test fractions. They must be non-negative
	// and sum to 1. Zero value means the 0.80/0.10/0.10 default.
	Ratios [3]float64
	// Extensions restricts scanned files. Empty uses DefaultExtensions.
	Extensions []string
	Seed       int64
	// Overwrite removes existing destination split directories instead of
	// failing on them.
	Overwrite bool
}

// AssembleSummary reports how many files each split received per class.
type AssembleSummary struct {
	// Counts maps split name to class name to file count.
	Counts map[string]map[string]int
	Total  int
}

func (s *AssembleSummary) SplitTotal(split string) int {
	total := 0
	for _, n := range s.Counts[split] {
		total += n
	}
	return total
}

func (s *AssembleSummary) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Assembled %d files\n", s.Total))
	for _, split := range SplitNames {
		classes := s.Counts[split]
		names := make([]string, 0, len(classes))
		for name := range classes {
			names = append(names, name)
		}
		sort.Strings(names)
		sb.WriteString(fmt.Sprintf("  %s: %d", split, s.SplitTotal(split)))
		for _, name := range names {
			sb.WriteString(fmt.Sprintf(" %s=%d", name, classes[name]))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Assemble scans a labeled source tree, keeps the selected classes,
// shuffles each class's files with the seed, splits them by the ratios,
// and copies them into dst/{train,val,test}/<class>/. Shuffling and
// splitting happen per class so small classes keep their split
// proportions.
func Assemble(src, dst string, opts AssembleOptions) (*AssembleSummary, error) {
	if opts.Ratios == [3]float64{} {
		opts.Ratios = [3]float64{0.80, 0.10, 0.10}
	}
	if err := validateRatios(opts.Ratios); err != nil {
		return nil, err
	}

	source, err := NewImageFolderDataset(src, opts.Extensions)
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}
	if len(opts.Classes) > 0 {
		source, err = source.FilterByClass(opts.Classes)
		if err != nil {
			return nil, err
		}
	}

	for _, split := range SplitNames {
		splitDir := filepath.Join(dst, split)
		if _, err := os.Stat(splitDir); err == nil {
			if !opts.Overwrite {
				return nil, fmt.Errorf("destination %s already exists (use overwrite to replace)", splitDir)
			}
			if err := os.RemoveAll(splitDir); err != nil {
				return nil, fmt.Errorf("clear destination: %w", err)
			}
		}
	}

	// Group files per class, then shuffle and split each class
	// independently with a class-offset seed.
	byClass := make(map[string][]string)
	for i := 0; i < source.Len(); i++ {
		path, label, err := source.GetItem(i)
		if err != nil {
			return nil, err
		}
		name := source.ClassNames()[label]
		byClass[name] = append(byClass[name], path)
	}

	summary := &AssembleSummary{Counts: make(map[string]map[string]int)}
	for _, split := range SplitNames {
		summary.Counts[split] = make(map[string]int)
	}

	for classIdx, className := range source.ClassNames() {
		files := byClass[className]
		rng := rand.New(rand.NewSource(opts.Seed + int64(classIdx)))
		rng.Shuffle(len(files), func(i, j int) {
			files[i], files[j] = files[j], files[i]
		})

		nVal := int(float64(len(files)) * opts.Ratios[1])
		nTest := int(float64(len(files)) * opts.Ratios[2])
		nTrain := len(files) - nVal - nTest

		splits := map[string][]string{
			"train": files[:nTrain],
			"val":   files[nTrain : nTrain+nVal],
			"test":  files[nTrain+nVal:],
		}
		for _, split := range SplitNames {
			outDir := filepath.Join(dst, split, className)
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return nil, fmt.Errorf("create %s: %w", outDir, err)
			}
			for _, file := range splits[split] {
				if err := copyFile(file, filepath.Join(outDir, filepath.Base(file))); err != nil {
					return nil, fmt.Errorf("copy %s: %w", file, err)
				}
				summary.Counts[split][className]++
				summary.Total++
			}
		}
	}
	return summary, nil
}

func validateRatios(ratios [3]float64) error {
	sum := 0.0
	for i, r := range ratios {
		if r < 0 {
			return fmt.Errorf("split ratio %d is negative: %g", i, r)
		}
		sum += r
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("split ratios must sum to 1, got %g", sum)
	}
	if ratios[0] == 0 {
		return fmt.Errorf("train ratio must be positive")
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
