// Package model drives the external Ultralytics CLI to export, train and
// resume the theft detection model.
package model

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const RuntimeFile = "runtime.yaml"

// CommandRunner runs an external program to completion
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands with os/exec, streaming their output
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stdout = r.Stdout
	cmd.Stderr = &stderr
	if r.Stderr != nil {
		cmd.Stderr = io.MultiWriter(r.Stderr, &stderr)
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s interrupted: %w", name, ctx.Err())
		}
		return fmt.Errorf("%s failed: %w: %s", name, err, lastLine(stderr.String()))
	}
	return nil
}

type ExportOptions struct {
	Checkpoint string `yaml:"checkpoint" env:"MODEL_CHECKPOINT"`
	Format     string `yaml:"format"`
	Int8       bool   `yaml:"int8"`
	Dynamic    bool   `yaml:"dynamic"`
	Simplify   bool   `yaml:"simplify"`
	Half       bool   `yaml:"half"`
	Workspace  int    `yaml:"workspace"`
	// Data is the dataset yaml used to calibrate INT8 quantization
	Data      string         `yaml:"data" env:"MODEL_CALIBRATION_DATA"`
	ImageSize int            `yaml:"imgsz"`
	Runtime   RuntimeOptions `yaml:"runtime"`
}

// RuntimeOptions are the CPU inference settings stored beside an exported model
type RuntimeOptions struct {
	Device string `yaml:"device"`
	// Threads is the inference thread count, 0 uses every core
	Threads     int  `yaml:"threads"`
	BindThreads bool `yaml:"bind_threads"`
	// Streams is 1 for lowest latency, more for throughput
	Streams       int    `yaml:"streams"`
	PrecisionHint string `yaml:"precision_hint"`
}

type TrainOptions struct {
	ModelYAML   string `yaml:"model_yaml" env:"TRAIN_MODEL_YAML"`
	Weights     string `yaml:"weights" env:"TRAIN_WEIGHTS"`
	Hyp         string `yaml:"hyp" env:"TRAIN_HYP"`
	Data        string `yaml:"data" env:"TRAIN_DATA"`
	Epochs      int    `yaml:"epochs"`
	ImageSize   int    `yaml:"imgsz"`
	Batch       int    `yaml:"batch"`
	Device      string `yaml:"device" env:"TRAIN_DEVICE"`
	Patience    int    `yaml:"patience"`
	Workers     int    `yaml:"workers"`
	Project     string `yaml:"project" env:"TRAIN_PROJECT"`
	Name        string `yaml:"name" env:"TRAIN_NAME"`
	ExistOK     bool   `yaml:"exist_ok"`
	Optimizer   string `yaml:"optimizer"`
	ResumeModel string `yaml:"resume_model" env:"TRAIN_RESUME_MODEL"`
}

type Tool struct {
	binary string
	runner CommandRunner
	logger *zap.SugaredLogger
}

func New(binary string, runner CommandRunner, logger *zap.SugaredLogger) *Tool {
	return &Tool{binary: binary, runner: runner, logger: logger}
}

// Export converts the checkpoint and, for OpenVINO, writes runtime.yaml into
// the exported model directory. It returns the artifact path.
func (t *Tool) Export(ctx context.Context, opts ExportOptions) (string, error) {
	if opts.Checkpoint == "" {
		return "", errors.New("export: checkpoint is required")
	}
	if opts.Int8 && opts.Data == "" {
		return "", errors.New("export: int8 quantization needs a calibration dataset")
	}

	t.logger.Infof("Model: exporting %s to %s", opts.Checkpoint, opts.Format)
	if err := t.runner.Run(ctx, t.binary, ExportArgs(opts)...); err != nil {
		return "", fmt.Errorf("export: %w", err)
	}

	artifact := ArtifactPath(opts.Checkpoint, opts.Format, opts.Int8)
	if opts.Format == "openvino" {
		path, err := WriteRuntimeConfig(artifact, opts.Runtime)
		if err != nil {
			return "", fmt.Errorf("export: %w", err)
		}
		t.logger.Infof("Model: runtime options written to %s", path)
	}

	t.logger.Infof("Model: optimized model saved to %s", artifact)
	return artifact, nil
}

func ExportArgs(opts ExportOptions) []string {
	args := []string{
		"export",
		kv("model", opts.Checkpoint),
		kv("format", opts.Format),
		kv("int8", pyBool(opts.Int8)),
		kv("dynamic", pyBool(opts.Dynamic)),
		kv("simplify", pyBool(opts.Simplify)),
		kv("half", pyBool(opts.Half)),
	}
	if opts.Workspace > 0 {
		args = append(args, kv("workspace", strconv.Itoa(opts.Workspace)))
	}
	if opts.Data != "" {
		args = append(args, kv("data", opts.Data))
	}
	if opts.ImageSize > 0 {
		args = append(args, kv("imgsz", strconv.Itoa(opts.ImageSize)))
	}
	return args
}

// ArtifactPath is where the exporter leaves its output, e.g.
// weights/best.pt -> weights/best_int8_openvino_model
func ArtifactPath(checkpoint, format string, int8 bool) string {
	dir := filepath.Dir(checkpoint)
	stem := strings.TrimSuffix(filepath.Base(checkpoint), filepath.Ext(checkpoint))

	if format != "openvino" {
		return filepath.Join(dir, stem+"."+format)
	}
	if int8 {
		stem += "_int8"
	}
	return filepath.Join(dir, stem+"_openvino_model")
}

type runtimeFile struct {
	Device string            `yaml:"device"`
	Half   bool              `yaml:"half"`
	Config map[string]string `yaml:"config"`
}

// WriteRuntimeConfig stores CPU compile options in dir/runtime.yaml
func WriteRuntimeConfig(dir string, opts RuntimeOptions) (string, error) {
	bind := "NO"
	if opts.BindThreads {
		bind = "YES"
	}

	data, err := yaml.Marshal(runtimeFile{
		Device: opts.Device,
		Half:   false,
		Config: map[string]string{
			"CPU_THREADS_NUM":          strconv.Itoa(opts.Threads),
			"CPU_BIND_THREAD":          bind,
			"CPU_THROUGHPUT_STREAMS":   strconv.Itoa(opts.Streams),
			"INFERENCE_PRECISION_HINT": opts.PrecisionHint,
		},
	})
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, RuntimeFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Train starts a detection training run from a model yaml and pretrained weights
func (t *Tool) Train(ctx context.Context, opts TrainOptions) error {
	if opts.ModelYAML == "" || opts.Data == "" {
		return errors.New("train: model_yaml and data are required")
	}

	t.logger.Infof("Model: training %s on %s for %d epochs", opts.ModelYAML, opts.Data, opts.Epochs)
	if err := t.runner.Run(ctx, t.binary, TrainArgs(opts)...); err != nil {
		return fmt.Errorf("train: %w", err)
	}
	return nil
}

func TrainArgs(opts TrainOptions) []string {
	args := []string{"detect", "train", kv("model", opts.ModelYAML)}

	optional := []struct {
		key, value string
	}{
		{"pretrained", opts.Weights},
		{"cfg", opts.Hyp},
		{"data", opts.Data},
		{"device", opts.Device},
		{"project", opts.Project},
		{"name", opts.Name},
		{"optimizer", opts.Optimizer},
	}
	for _, o := range optional {
		if o.value != "" {
			args = append(args, kv(o.key, o.value))
		}
	}

	args = append(args,
		kv("epochs", strconv.Itoa(opts.Epochs)),
		kv("imgsz", strconv.Itoa(opts.ImageSize)),
		kv("batch", strconv.Itoa(opts.Batch)),
		kv("patience", strconv.Itoa(opts.Patience)),
		kv("workers", strconv.Itoa(opts.Workers)),
		kv("exist_ok", pyBool(opts.ExistOK)),
	)
	return args
}

// Resume continues an interrupted run from its last checkpoint
func (t *Tool) Resume(ctx context.Context, checkpoint string) error {
	if checkpoint == "" {
		return errors.New("resume: checkpoint is required")
	}
	if _, err := os.Stat(checkpoint); err != nil {
		return fmt.Errorf("resume: %w", err)
	}

	t.logger.Infof("Model: resuming training from %s", checkpoint)
	if err := t.runner.Run(ctx, t.binary, "train", "resume", kv("model", checkpoint)); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	return nil
}

func kv(key, value string) string {
	return key + "=" + value
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
