// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package container

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
)

// mockExecutor records calls and returns configured responses.
type mockExecutor struct {
	availableBins map[string]bool // binary -> whether LookPath succeeds
	runnableCmds  map[string]bool // "bin arg1 arg2" -> whether RunSilent succeeds
	runFunc       func(cmd Command) error
	calls         []Command
}

func (m *mockExecutor) LookPath(file string) (string, error) {
	if m.availableBins[file] {
		return "/usr/bin/" + file, nil
	}
	return "", errors.New("not found: " + file)
}

func (m *mockExecutor) RunSilent(_ context.Context, name string, args ...string) error {
	key := name + " " + strings.Join(args, " ")
	if m.runnableCmds[key] {
		return nil
	}
	return errors.New("command failed: " + key)
}

func (m *mockExecutor) Run(_ context.Context, cmd Command) error {
	m.calls = append(m.calls, cmd)
	if m.runFunc != nil {
		return m.runFunc(cmd)
	}
	return nil
}

func TestDetectRuntime(t *testing.T) {
	tests := []struct {
		name     string
		exec     *mockExecutor
		wantName string
		wantErr  bool
	}{
		{
			name: "docker available",
			exec: &mockExecutor{
				availableBins: map[string]bool{"docker": true},
				runnableCmds:  map[string]bool{"docker info": true},
			},
			wantName: "docker",
		},
		{
			name: "podman fallback when docker missing",
			exec: &mockExecutor{
				availableBins: map[string]bool{"podman": true},
				runnableCmds:  map[string]bool{"podman info": true},
			},
			wantName: "podman",
		},
		{
			name:    "neither available",
			exec:    &mockExecutor{},
			wantErr: true,
		},
		{
			name: "docker on PATH but info fails, podman works",
			exec: &mockExecutor{
				availableBins: map[string]bool{"docker": true, "podman": true},
				runnableCmds:  map[string]bool{"podman info": true},
			},
			wantName: "podman",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := detectRuntime(context.Background(), tt.exec)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), "no container runtime available") {
					t.Errorf("error should mention no runtime available, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rt.Name() != tt.wantName {
				t.Errorf("got runtime %q, want %q", rt.Name(), tt.wantName)
			}
		})
	}
}

func TestImageExists(t *testing.T) {
	tests := []struct {
		name    string
		mkRT    func(*mockExecutor) Runtime
		cmds    map[string]bool
		wantErr bool
	}{
		{
			name: "docker image exists",
			mkRT: func(e *mockExecutor) Runtime { return newDockerRuntime(e) },
			cmds: map[string]bool{"docker image inspect pdftomd-trainer:latest": true},
		},
		{
			name:    "docker image not found",
			mkRT:    func(e *mockExecutor) Runtime { return newDockerRuntime(e) },
			wantErr: true,
		},
		{
			name: "podman image exists",
			mkRT: func(e *mockExecutor) Runtime { return newPodmanRuntime(e) },
			cmds: map[string]bool{"podman image exists pdftomd-trainer:latest": true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := tt.mkRT(&mockExecutor{runnableCmds: tt.cmds})
			err := rt.ImageExists(context.Background(), "pdftomd-trainer:latest")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), "pdftomd-trainer:latest") {
					t.Errorf("error should mention image name, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestRun_BuildsArguments(t *testing.T) {
	exec := &mockExecutor{}
	rt := newDockerRuntime(exec)

	spec := RunSpec{
		Image: "pdftomd-trainer:latest",
		Args:  []string{"train", "--epochs", "1"},
		Mounts: []Mount{
			{Source: "/work/data", Target: "/data", ReadOnly: true},
			{Source: "/work/models/out", Target: "/output"},
		},
		Env: map[string]string{"HF_TOKEN": "secret", "A_FLAG": "1"},
	}
	if err := rt.Run(context.Background(), spec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(exec.calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(exec.calls))
	}
	call := exec.calls[0]
	want := []string{
		"run", "--rm",
		"-v", "/work/data:/data:ro",
		"-v", "/work/models/out:/output",
		"-e", "A_FLAG",
		"-e", "HF_TOKEN",
		"pdftomd-trainer:latest", "train", "--epochs", "1",
	}
	if call.Name != "docker" {
		t.Errorf("binary = %q, want docker", call.Name)
	}
	if !reflect.DeepEqual(call.Args, want) {
		t.Errorf("args = %v, want %v", call.Args, want)
	}
	if strings.Contains(strings.Join(call.Args, " "), "secret") {
		t.Error("environment values must not appear on the command line")
	}
	if call.Env["HF_TOKEN"] != "secret" {
		t.Error("environment values should reach the runtime process")
	}
}

func TestRun_PipesStdin(t *testing.T) {
	exec := &mockExecutor{runFunc: func(cmd Command) error {
		data, _ := io.ReadAll(cmd.Stdin)
		_, _ = cmd.Stdout.Write([]byte("generated: " + string(data)))
		return nil
	}}
	rt := newPodmanRuntime(exec)

	var out bytes.Buffer
	err := rt.Run(context.Background(), RunSpec{Image: "img", Stdin: strings.NewReader("prompt"), Stdout: &out})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := out.String(); got != "generated: prompt" {
		t.Errorf("got output %q", got)
	}
	if args := exec.calls[0].Args; args[2] != "-i" {
		t.Errorf("stdin should add -i, got %v", args)
	}
}

func TestRun_WrapsFailure(t *testing.T) {
	exec := &mockExecutor{runFunc: func(Command) error {
		return errors.New("container exited with code 137")
	}}
	err := newDockerRuntime(exec).Run(context.Background(), RunSpec{Image: "img"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "code 137") || !strings.Contains(err.Error(), "img") {
		t.Errorf("error should carry the cause and image, got: %v", err)
	}
}

func TestRuntimeName(t *testing.T) {
	exec := &mockExecutor{}
	if got := newDockerRuntime(exec).Name(); got != "docker" {
		t.Errorf("docker runtime name = %q", got)
	}
	if got := newPodmanRuntime(exec).Name(); got != "podman" {
		t.Errorf("podman runtime name = %q", got)
	}
}
