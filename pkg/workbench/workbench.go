// Package workbench drives the Connectome Workbench command line tool, used to
// move CIFTI data in and out of NIfTI so that it can be correlated like a
// volume.
package workbench

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultCommand is the workbench executable looked up on PATH.
const DefaultCommand = "wb_command"

// Runner runs an external program to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs programs with os/exec. The zero value is ready to use.
type ExecRunner struct {
	Logger zerolog.Logger
}

// Run executes name with args. When the program fails, its standard error is
// included in the returned error.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	r.Logger.Debug().Str("cmd", name).Strs("args", args).Msg("running")

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	cmd.Stdout = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return errors.Wrapf(err, "%s %s: %s", name, strings.Join(args, " "), msg)
		}
		return errors.Wrapf(err, "%s %s", name, strings.Join(args, " "))
	}
	return nil
}

// Workbench wraps the wb_command operations a correlation run needs.
type Workbench struct {
	// Command is the wb_command executable. Empty means DefaultCommand.
	Command string

	Runner Runner
}

// New returns a Workbench running command through runner. A nil runner means
// ExecRunner.
func New(command string, runner Runner) *Workbench {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Workbench{Command: command, Runner: runner}
}

func (w *Workbench) command() string {
	if w.Command == "" {
		return DefaultCommand
	}
	return w.Command
}

func (w *Workbench) run(ctx context.Context, args ...string) error {
	if err := w.Runner.Run(ctx, w.command(), args...); err != nil {
		return errors.Wrapf(err, "%s %s failed", w.command(), args[0])
	}
	return nil
}

// CiftiToNifti writes the CIFTI file at cifti as a fake NIfTI volume at out.
func (w *Workbench) CiftiToNifti(ctx context.Context, cifti, out string) error {
	return w.run(ctx, "-cifti-convert", "-to-nifti", cifti, out)
}

// CiftiReduce reduces cifti along its rows with op (for example "MIN") and
// writes the single-map result to out.
func (w *Workbench) CiftiReduce(ctx context.Context, cifti, op, out string) error {
	return w.run(ctx, "-cifti-reduce", cifti, op, out)
}

// NiftiToCifti converts the fake NIfTI volume at nifti back to CIFTI at out,
// taking the brainordinate layout from template.
func (w *Workbench) NiftiToCifti(ctx context.Context, nifti, template, out string) error {
	return w.run(ctx, "-cifti-convert", "-from-nifti", nifti, template, out)
}
