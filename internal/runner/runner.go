// Package runner executes a verified command in the user's shell.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// Result holds the outcome of running a command.
type Result struct {
	// ExitCode is the command's exit code.
	ExitCode int
	// Output is the combined stdout/stderr.
	Output string
	// Duration is the execution time.
	Duration time.Duration
}

// Options controls execution.
type Options struct {
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Stdout and Stderr receive the live stream in addition to the
	// captured buffer. Nil defaults to the process's own streams.
	Stdout io.Writer
	Stderr io.Writer
	// Stdin defaults to the process's stdin so interactive commands work.
	Stdin io.Reader
}

// Run executes the command through the user's shell with the inherited
// environment and streams output while capturing it.
func Run(ctx context.Context, command string, opts Options) (*Result, error) {
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", command)

	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	cmd.Env = os.Environ()

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}

	var captured bytes.Buffer
	cmd.Stdout = io.MultiWriter(&captured, stdout)
	cmd.Stderr = io.MultiWriter(&captured, stderr)
	cmd.Stdin = stdin

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		} else {
			return nil, fmt.Errorf("running command: %w", err)
		}
	}

	return &Result{
		ExitCode: exitCode,
		Output:   captured.String(),
		Duration: duration,
	}, nil
}
