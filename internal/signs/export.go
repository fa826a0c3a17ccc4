package signs

import (
	"fmt"
	"path/filepath"
	"strings"

	"trellis/checkpoints"
)

// Export converts a JSON checkpoint into an ONNX model for use outside
// trellis. An empty dst derives the output name from src.
func (p *Pipeline) Export(src, dst string) (string, error) {
	if dst == "" {
		dst = strings.TrimSuffix(src, filepath.Ext(src)) + ".onnx"
	}
	if checkpoints.FormatForPath(dst) != checkpoints.FormatONNX {
		return "", fmt.Errorf("export destination must end in .onnx, got %s", dst)
	}

	saver := checkpoints.NewCheckpointSaver(checkpoints.FormatForPath(src))
	checkpoint, err := saver.LoadCheckpoint(src)
	if err != nil {
		return "", fmt.Errorf("load checkpoint: %w", err)
	}

	exporter := checkpoints.NewONNXExporter()
	if err := exporter.ExportToONNX(checkpoint, dst); err != nil {
		return "", fmt.Errorf("export to onnx: %w", err)
	}

	p.log.Info("checkpoint exported", "source", src, "destination", dst)
	return dst, nil
}
