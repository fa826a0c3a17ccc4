package training

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"trellis/layers"
)

// ProgressBar renders PyTorch-style progress for one pass over a dataset.
// When the output is not a terminal it stays quiet until Finish, which
// prints a single summary line, so piped logs are not flooded with
// carriage-return frames.
type ProgressBar struct {
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	metrics     map[string]float64
	out         io.Writer
	interactive bool
}

// NewProgressBar creates a progress bar over total steps writing to stdout.
func NewProgressBar(description string, total int) *ProgressBar {
	pb := &ProgressBar{
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40,
		metrics:     make(map[string]float64),
		out:         os.Stdout,
		interactive: isatty.IsTerminal(os.Stdout.Fd()),
	}
	return pb
}

// SetOutput redirects rendering, marking the bar non-interactive.
func (pb *ProgressBar) SetOutput(w io.Writer) {
	pb.out = w
	pb.interactive = false
}

// Update advances the bar to step and refreshes the metric tail.
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	if pb.interactive {
		fmt.Fprint(pb.out, "\r"+pb.line())
	}
}

// Finish completes the bar and terminates the line.
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	if pb.interactive {
		fmt.Fprint(pb.out, "\r"+pb.line()+"\n")
	} else {
		fmt.Fprintln(pb.out, pb.line())
	}
}

func (pb *ProgressBar) line() string {
	percentage := 0.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}

	filled := int(percentage * float64(pb.width))
	if filled > pb.width {
		filled = pb.width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64
	if pb.current > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if percentage > 0 {
			eta = time.Duration(float64(elapsed)/percentage) - elapsed
		}
	}

	line := fmt.Sprintf("%s: %3.0f%%|%s| %d/%d [%s<%s",
		pb.description, percentage*100, bar, pb.current, pb.total,
		formatDuration(elapsed), formatDuration(eta))
	if rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}

	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.Contains(k, "acc") {
			line += fmt.Sprintf(", %s=%.2f%%", k, pb.metrics[k]*100)
		} else {
			line += fmt.Sprintf(", %s=%.4f", k, pb.metrics[k])
		}
	}
	return line + "]"
}

// formatDuration formats a duration as MM:SS.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// ModelArchitecturePrinter prints a compiled model in PyTorch style.
type ModelArchitecturePrinter struct {
	modelName string
	out       io.Writer
}

func NewModelArchitecturePrinter(modelName string) *ModelArchitecturePrinter {
	return &ModelArchitecturePrinter{modelName: modelName, out: os.Stdout}
}

func (p *ModelArchitecturePrinter) SetOutput(w io.Writer) { p.out = w }

// PrintArchitecture prints the layer stack and a parameter summary.
// trainableParams counts parameters that still receive gradients, which
// differs from the total when backbone layers are frozen.
func (p *ModelArchitecturePrinter) PrintArchitecture(spec *layers.ModelSpec, trainableParams int64) {
	fmt.Fprintf(p.out, "%s(\n", p.modelName)
	for _, layer := range spec.Layers {
		fmt.Fprintf(p.out, "  %s\n", p.formatLayer(layer))
	}
	fmt.Fprintf(p.out, ")\n")
	fmt.Fprintf(p.out, "Total parameters: %s\n", formatParameterCount(spec.TotalParameters))
	fmt.Fprintf(p.out, "Trainable parameters: %s\n", formatParameterCount(trainableParams))
	fmt.Fprintf(p.out, "Non-trainable parameters: %s\n", formatParameterCount(spec.TotalParameters-trainableParams))
	fmt.Fprintf(p.out, "Params size (MB): %.3f\n\n", float64(spec.TotalParameters*4)/1024/1024)
}

func (p *ModelArchitecturePrinter) formatLayer(layer layers.LayerSpec) string {
	switch layer.Type {
	case layers.Dense:
		in, _ := layer.IntParam("input_size")
		out, _ := layer.IntParam("output_size")
		useBias, ok := layer.BoolParam("use_bias")
		if !ok {
			useBias = true
		}
		return fmt.Sprintf("(%s): Linear(in_features=%d, out_features=%d, bias=%t)",
			layer.Name, in, out, useBias)
	case layers.Conv2D:
		in, _ := layer.IntParam("input_channels")
		out, _ := layer.IntParam("output_channels")
		k, _ := layer.IntParam("kernel_size")
		s, _ := layer.IntParam("stride")
		pad, _ := layer.IntParam("padding")
		useBias, ok := layer.BoolParam("use_bias")
		if !ok {
			useBias = true
		}
		return fmt.Sprintf("(%s): Conv2d(%d, %d, kernel_size=(%d, %d), stride=(%d, %d), padding=(%d, %d), bias=%t)",
			layer.Name, in, out, k, k, s, s, pad, pad, useBias)
	case layers.MaxPool2D:
		k, _ := layer.IntParam("kernel_size")
		s, ok := layer.IntParam("stride")
		if !ok || s == 0 {
			s = k
		}
		return fmt.Sprintf("(%s): MaxPool2d(kernel_size=%d, stride=%d)", layer.Name, k, s)
	case layers.Dropout:
		rate, _ := layer.FloatParam("rate")
		return fmt.Sprintf("(%s): Dropout(p=%.2f)", layer.Name, rate)
	case layers.BatchNorm:
		features, _ := layer.IntParam("num_features")
		eps, ok := layer.FloatParam("eps")
		if !ok || eps == 0 {
			eps = 1e-5
		}
		return fmt.Sprintf("(%s): BatchNorm(%d, eps=%g)", layer.Name, features, eps)
	default:
		return fmt.Sprintf("(%s): %s()", layer.Name, layer.Type.String())
	}
}

// formatParameterCount renders a count with K/M suffixes.
func formatParameterCount(count int64) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	} else if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000.0)
	}
	return fmt.Sprintf("%d", count)
}
