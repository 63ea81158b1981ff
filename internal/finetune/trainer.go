// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package finetune

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdiddy/pdftomd/internal/container"
	"github.com/pdiddy/pdftomd/pkg/types"
)

// Paths inside the trainer container.
const (
	containerData   = "/data"
	containerOutput = "/output"
	containerModel  = "/model"
)

// Trainer launches the external training runtime. It never retries.
type Trainer interface {
	// Name identifies the backend in logs and run metadata.
	Name() string

	// Train fine-tunes job.Model on job.TrainingFile and saves the result
	// to job.OutputDir.
	Train(ctx context.Context, job Job) error

	// Generate runs prompt through the model saved in job.OutputDir.
	Generate(ctx context.Context, job Job, prompt string) (string, error)
}

// NewTrainer returns the trainer selected by cfg.Backend. Trainer output
// goes to out.
func NewTrainer(ctx context.Context, cfg types.FinetuneConfig, out io.Writer) (Trainer, error) {
	switch cfg.Backend {
	case "", types.TrainerContainer:
		rt, err := container.DetectRuntime(ctx)
		if err != nil {
			return nil, err
		}
		image := cfg.Image
		if image == "" {
			image = types.DefaultPipelineConfig().Finetune.Image
		}
		return NewContainerTrainer(rt, image, out), nil
	case types.TrainerCommand:
		return NewCommandTrainer(container.OSExecutor{}, cfg.Command, out)
	default:
		return nil, fmt.Errorf("unknown trainer backend %q (want %s or %s)", cfg.Backend, types.TrainerContainer, types.TrainerCommand)
	}
}

// trainArgs builds the trainer's command line for the given locations of
// the model, training file, and output directory.
func trainArgs(job Job, model, data, output string) []string {
	return []string{
		"train",
		"--model", model,
		"--data", data,
		"--format", string(job.Format),
		"--output", output,
		"--learning-rate", strconv.FormatFloat(job.LearningRate, 'g', -1, 64),
		"--epochs", strconv.Itoa(job.NumEpochs),
		"--batch-size", strconv.Itoa(job.BatchSize),
		"--warmup-steps", strconv.Itoa(job.WarmupSteps),
		"--weight-decay", strconv.FormatFloat(job.WeightDecay, 'g', -1, 64),
		"--max-length", strconv.Itoa(job.MaxLength),
	}
}

func generateArgs(job Job, model string) []string {
	return []string{"generate", "--model", model, "--max-length", strconv.Itoa(job.MaxLength)}
}

func jobEnv(job Job) map[string]string {
	if job.Token == "" {
		return nil
	}
	return map[string]string{"HF_TOKEN": job.Token}
}

// ContainerTrainer runs the trainer image under docker or podman.
type ContainerTrainer struct {
	rt    container.Runtime
	image string
	out   io.Writer
}

// NewContainerTrainer returns a trainer that runs image on rt.
func NewContainerTrainer(rt container.Runtime, image string, out io.Writer) *ContainerTrainer {
	if out == nil {
		out = io.Discard
	}
	return &ContainerTrainer{rt: rt, image: image, out: out}
}

func (t *ContainerTrainer) Name() string { return "container/" + t.rt.Name() }

// Train mounts the training file's directory read-only at /data and the
// output directory at /output. A local model directory is mounted
// read-only at /model.
func (t *ContainerTrainer) Train(ctx context.Context, job Job) error {
	if err := t.rt.ImageExists(ctx, t.image); err != nil {
		return err
	}
	dataDir, err := filepath.Abs(filepath.Dir(job.TrainingFile))
	if err != nil {
		return err
	}
	outDir, err := filepath.Abs(job.OutputDir)
	if err != nil {
		return err
	}
	mounts := []container.Mount{
		{Source: dataDir, Target: containerData, ReadOnly: true},
		{Source: outDir, Target: containerOutput},
	}
	model := job.Model
	if job.LocalModel {
		modelDir, err := filepath.Abs(job.Model)
		if err != nil {
			return err
		}
		mounts = append(mounts, container.Mount{Source: modelDir, Target: containerModel, ReadOnly: true})
		model = containerModel
	}

	data := containerData + "/" + filepath.Base(job.TrainingFile)
	return t.rt.Run(ctx, container.RunSpec{
		Image:  t.image,
		Args:   trainArgs(job, model, data, containerOutput),
		Mounts: mounts,
		Env:    jobEnv(job),
		Stdout: t.out,
		Stderr: t.out,
	})
}

// Generate mounts the fine-tuned model read-only and feeds prompt on stdin.
func (t *ContainerTrainer) Generate(ctx context.Context, job Job, prompt string) (string, error) {
	outDir, err := filepath.Abs(job.OutputDir)
	if err != nil {
		return "", err
	}
	var stdout bytes.Buffer
	err = t.rt.Run(ctx, container.RunSpec{
		Image:  t.image,
		Args:   generateArgs(job, containerOutput),
		Mounts: []container.Mount{{Source: outDir, Target: containerOutput, ReadOnly: true}},
		Env:    jobEnv(job),
		Stdin:  strings.NewReader(prompt),
		Stdout: &stdout,
		Stderr: t.out,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CommandTrainer runs a trainer installed on the host, such as
// "python -m trainer".
type CommandTrainer struct {
	exec    container.Executor
	command []string
	out     io.Writer
}

// NewCommandTrainer returns a trainer that runs command through exec.
func NewCommandTrainer(exec container.Executor, command []string, out io.Writer) (*CommandTrainer, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, fmt.Errorf("finetune.command must name the trainer program")
	}
	if _, err := exec.LookPath(command[0]); err != nil {
		return nil, fmt.Errorf("trainer program %s: %w", command[0], err)
	}
	if out == nil {
		out = io.Discard
	}
	return &CommandTrainer{exec: exec, command: command, out: out}, nil
}

func (t *CommandTrainer) Name() string { return "command/" + filepath.Base(t.command[0]) }

func (t *CommandTrainer) Train(ctx context.Context, job Job) error {
	return t.run(ctx, container.Command{
		Args:   trainArgs(job, job.Model, job.TrainingFile, job.OutputDir),
		Env:    jobEnv(job),
		Stdout: t.out,
		Stderr: t.out,
	})
}

func (t *CommandTrainer) Generate(ctx context.Context, job Job, prompt string) (string, error) {
	var stdout bytes.Buffer
	err := t.run(ctx, container.Command{
		Args:   generateArgs(job, job.OutputDir),
		Env:    jobEnv(job),
		Stdin:  strings.NewReader(prompt),
		Stdout: &stdout,
		Stderr: t.out,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (t *CommandTrainer) run(ctx context.Context, cmd container.Command) error {
	cmd.Name = t.command[0]
	cmd.Args = append(append([]string(nil), t.command[1:]...), cmd.Args...)
	if err := t.exec.Run(ctx, cmd); err != nil {
		return fmt.Errorf("running %s %s: %w", cmd.Name, cmd.Args[len(t.command)-1], err)
	}
	return nil
}
