package models

import (
	"path/filepath"
	"testing"

	"trellis/checkpoints"
	"trellis/layers"
	"trellis/tensor"
	"trellis/training"
)

func TestSignNetShapes(t *testing.T) {
	spec, err := SignNet(4, 64)
	if err != nil {
		t.Fatalf("SignNet: %v", err)
	}
	if !spec.Compiled {
		t.Fatal("spec should be compiled")
	}
	// 64 -> pool -> 32 -> pool -> 16 -> pool -> 8, 64 channels.
	if got := spec.OutputShape; got[1] != 4 {
		t.Errorf("expected 4-class output, got %v", got)
	}
	flatten, err := spec.FindLayer("flatten")
	if err != nil {
		t.Fatalf("FindLayer: %v", err)
	}
	if flatten.OutputShape[1] != 64*8*8 {
		t.Errorf("flatten output: expected %d, got %d", 64*8*8, flatten.OutputShape[1])
	}
}

func TestSignNetValidation(t *testing.T) {
	if _, err := SignNet(1, 64); err == nil {
		t.Error("expected error for single class")
	}
	if _, err := SignNet(4, 4); err == nil {
		t.Error("expected error for tiny image size")
	}
}

func TestSignNetForward(t *testing.T) {
	spec, err := SignNet(3, 16)
	if err != nil {
		t.Fatalf("SignNet: %v", err)
	}
	model, err := Build(spec, 42)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	input, err := tensor.Random([]int{2, 3, 16, 16})
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	out, err := model.Forward(input)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if out.Shape[0] != 2 || out.Shape[1] != 3 {
		t.Errorf("expected output [2 3], got %v", out.Shape)
	}
}

func saveTestCheckpoint(t *testing.T, spec *layers.ModelSpec, model *training.Sequential, path string) {
	t.Helper()
	checkpoint, err := NewCheckpoint(spec, model, checkpoints.TrainingState{Epoch: 3, ValAccuracy: 0.9}, "test")
	if err != nil {
		t.Fatalf("NewCheckpoint: %v", err)
	}
	saver := checkpoints.NewCheckpointSaver(checkpoints.FormatForPath(path))
	if err := saver.SaveCheckpoint(checkpoint, path); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
}

func TestLoadPretrainedRoundTrip(t *testing.T) {
	spec, err := SignNet(3, 16)
	if err != nil {
		t.Fatalf("SignNet: %v", err)
	}
	model, err := Build(spec, 7)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	path := filepath.Join(t.TempDir(), "model.json")
	saveTestCheckpoint(t, spec, model, path)

	restored, restoredSpec, err := LoadPretrained(path)
	if err != nil {
		t.Fatalf("LoadPretrained: %v", err)
	}
	if restoredSpec.TotalParameters != spec.TotalParameters {
		t.Errorf("parameter count: expected %d, got %d", spec.TotalParameters, restoredSpec.TotalParameters)
	}

	want := model.Parameters()
	got := restored.Parameters()
	if len(want) != len(got) {
		t.Fatalf("parameter tensors: expected %d, got %d", len(want), len(got))
	}
	for i := range want {
		a := want[i].Data.([]float32)
		b := got[i].Data.([]float32)
		for j := range a {
			if a[j] != b[j] {
				t.Fatalf("parameter %d differs at element %d", i, j)
			}
		}
	}
}

func TestLoadPretrainedMissing(t *testing.T) {
	if _, _, err := LoadPretrained(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing checkpoint")
	}
}

func TestReplaceClassifier(t *testing.T) {
	spec, err := SignNet(10, 16)
	if err != nil {
		t.Fatalf("SignNet: %v", err)
	}
	model, err := Build(spec, 11)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	backboneWeights := model.Modules()[0].Parameters()[0].Data.([]float32)
	oldConv := append([]float32(nil), backboneWeights...)

	newModel, newSpec, err := ReplaceClassifier(spec, model, 4, 99)
	if err != nil {
		t.Fatalf("ReplaceClassifier: %v", err)
	}
	if newSpec.OutputShape[1] != 4 {
		t.Errorf("expected 4-class output, got %v", newSpec.OutputShape)
	}

	// Backbone weights survive the swap.
	newConv := newModel.Modules()[0].Parameters()[0].Data.([]float32)
	for i := range oldConv {
		if oldConv[i] != newConv[i] {
			t.Fatalf("backbone weight %d changed during classifier replacement", i)
		}
	}

	// Forward pass through the replaced head produces 4 logits.
	input, err := tensor.Random([]int{1, 3, 16, 16})
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	out, err := newModel.Forward(input)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if out.Shape[1] != 4 {
		t.Errorf("expected 4 logits, got %v", out.Shape)
	}
}

func TestFreezeBackbone(t *testing.T) {
	spec, err := SignNet(4, 16)
	if err != nil {
		t.Fatalf("SignNet: %v", err)
	}
	model, err := Build(spec, 1)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if err := FreezeBackbone(model); err != nil {
		t.Fatalf("FreezeBackbone: %v", err)
	}

	trainable := TrainableParameters(model)
	// Only the classifier's weight and bias remain trainable.
	if len(trainable) != 2 {
		t.Fatalf("expected 2 trainable tensors, got %d", len(trainable))
	}
	total := len(model.Parameters())
	if total <= 2 {
		t.Fatalf("model unexpectedly small: %d parameter tensors", total)
	}
	if got := training.CountTrainableParameters(model); got != int64(trainable[0].NumElems+trainable[1].NumElems) {
		t.Errorf("trainable count mismatch: %d", got)
	}
}
