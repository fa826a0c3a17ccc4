package dataset

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// writeClassTree creates root/<class>/ with count tiny PNG files per class.
func writeClassTree(t *testing.T, root string, counts map[string]int) {
	t.Helper()
	for className, count := range counts {
		dir := filepath.Join(root, className)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
		for i := 0; i < count; i++ {
			writePNG(t, filepath.Join(dir, fmt.Sprintf("img_%03d.png", i)))
		}
	}
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.SetNRGBA(1, 1, color.NRGBA{R: 200, A: 255})
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
}

func TestNewImageFolderDataset(t *testing.T) {
	root := t.TempDir()
	writeClassTree(t, root, map[string]int{"stop": 3, "give_way": 2})
	// A stray non-image file must be ignored.
	if err := os.WriteFile(filepath.Join(root, "stop", "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}

	d, err := NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("NewImageFolderDataset: %v", err)
	}
	if d.Len() != 5 {
		t.Errorf("expected 5 samples, got %d", d.Len())
	}
	if d.NumClasses() != 2 {
		t.Errorf("expected 2 classes, got %d", d.NumClasses())
	}
	// Sorted directory order: give_way before stop.
	if names := d.ClassNames(); names[0] != "give_way" || names[1] != "stop" {
		t.Errorf("unexpected class order: %v", names)
	}

	dist := d.ClassDistribution()
	if dist["stop"] != 3 || dist["give_way"] != 2 {
		t.Errorf("unexpected distribution: %v", dist)
	}

	path, label, err := d.GetItem(0)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if label != 0 {
		t.Errorf("first sample should belong to class 0, got %d", label)
	}
	if filepath.Base(filepath.Dir(path)) != "give_way" {
		t.Errorf("first sample path %s not under give_way", path)
	}
}

func TestDefaultExtensionsCoverDecoders(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "stop")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writePNG(t, filepath.Join(dir, "a.png"))
	// A minimal 1x1 binary PPM; scanned by default alongside PNG.
	ppm := append([]byte("P6\n1 1\n255\n"), 255, 0, 0)
	if err := os.WriteFile(filepath.Join(dir, "b.ppm"), ppm, 0o644); err != nil {
		t.Fatalf("write ppm: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "c.tiff"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write tiff: %v", err)
	}

	d, err := NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("NewImageFolderDataset: %v", err)
	}
	if d.Len() != 2 {
		t.Errorf("expected 2 samples (png + ppm), got %d", d.Len())
	}
	for i := 0; i < d.Len(); i++ {
		path, _, err := d.GetItem(i)
		if err != nil {
			t.Fatalf("GetItem(%d): %v", i, err)
		}
		if ext := filepath.Ext(path); ext == ".tiff" {
			t.Errorf("unsupported extension %s was indexed", ext)
		}
	}
}

func TestNewImageFolderDatasetEmpty(t *testing.T) {
	if _, err := NewImageFolderDataset(t.TempDir(), nil); err == nil {
		t.Error("expected error for empty root")
	}
}

func TestGetItemOutOfRange(t *testing.T) {
	root := t.TempDir()
	writeClassTree(t, root, map[string]int{"a": 1})
	d, err := NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("NewImageFolderDataset: %v", err)
	}
	if _, _, err := d.GetItem(5); err == nil {
		t.Error("expected error for out-of-range index")
	}
	if _, _, err := d.GetItem(-1); err == nil {
		t.Error("expected error for negative index")
	}
}

func TestFilterByClassReindexes(t *testing.T) {
	root := t.TempDir()
	writeClassTree(t, root, map[string]int{"a": 2, "b": 3, "c": 4})
	d, err := NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("NewImageFolderDataset: %v", err)
	}

	filtered, err := d.FilterByClass([]string{"c", "a"})
	if err != nil {
		t.Fatalf("FilterByClass: %v", err)
	}
	if filtered.Len() != 6 {
		t.Errorf("expected 6 samples, got %d", filtered.Len())
	}
	if filtered.NumClasses() != 2 {
		t.Errorf("expected 2 classes, got %d", filtered.NumClasses())
	}
	// Labels follow the selection order: c=0, a=1.
	for i := 0; i < filtered.Len(); i++ {
		path, label, err := filtered.GetItem(i)
		if err != nil {
			t.Fatalf("GetItem: %v", err)
		}
		class := filepath.Base(filepath.Dir(path))
		want := map[string]int{"c": 0, "a": 1}[class]
		if label != want {
			t.Errorf("sample %s: expected label %d, got %d", path, want, label)
		}
	}
}

func TestFilterByClassUnknown(t *testing.T) {
	root := t.TempDir()
	writeClassTree(t, root, map[string]int{"a": 1})
	d, err := NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("NewImageFolderDataset: %v", err)
	}
	if _, err := d.FilterByClass([]string{"missing"}); err == nil {
		t.Error("expected error for unknown class name")
	}
}

func TestSplitReproducible(t *testing.T) {
	root := t.TempDir()
	writeClassTree(t, root, map[string]int{"a": 10, "b": 10})
	d, err := NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("NewImageFolderDataset: %v", err)
	}

	train1, val1, err := d.Split(0.8, true, 7)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	train2, val2, err := d.Split(0.8, true, 7)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if train1.Len() != 16 || val1.Len() != 4 {
		t.Errorf("expected 16/4 split, got %d/%d", train1.Len(), val1.Len())
	}
	for i := 0; i < train1.Len(); i++ {
		p1, _, _ := train1.GetItem(i)
		p2, _, _ := train2.GetItem(i)
		if p1 != p2 {
			t.Fatalf("same seed produced different splits at index %d", i)
		}
	}
	for i := 0; i < val1.Len(); i++ {
		p1, _, _ := val1.GetItem(i)
		p2, _, _ := val2.GetItem(i)
		if p1 != p2 {
			t.Fatalf("same seed produced different val splits at index %d", i)
		}
	}
}

func TestSplitInvalidRatio(t *testing.T) {
	root := t.TempDir()
	writeClassTree(t, root, map[string]int{"a": 4})
	d, err := NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("NewImageFolderDataset: %v", err)
	}
	for _, ratio := range []float64{0, 1, -0.5, 1.5} {
		if _, _, err := d.Split(ratio, false, 1); err == nil {
			t.Errorf("expected error for ratio %g", ratio)
		}
	}
}

func TestSubset(t *testing.T) {
	root := t.TempDir()
	writeClassTree(t, root, map[string]int{"a": 5})
	d, err := NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("NewImageFolderDataset: %v", err)
	}
	sub := d.Subset([]int{4, 0})
	if sub.Len() != 2 {
		t.Fatalf("expected 2 samples, got %d", sub.Len())
	}
	p0, _, _ := sub.GetItem(0)
	want, _, _ := d.GetItem(4)
	if p0 != want {
		t.Errorf("subset order: expected %s, got %s", want, p0)
	}
}
