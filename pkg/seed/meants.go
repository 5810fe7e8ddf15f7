package seed

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"seedcorr/pkg/workbench"
)

// DefaultMeantsCommand is the ciftify mean time series tool looked up on PATH.
const DefaultMeantsCommand = "ciftify_meants"

// Meants obtains the seed series from the external ciftify_meants tool. It
// handles every container the tool does, including GIFTI seeds.
type Meants struct {
	// Command is the executable. Empty means DefaultMeantsCommand.
	Command string

	// Runner runs the command. Nil means workbench.ExecRunner.
	Runner workbench.Runner

	Logger zerolog.Logger
}

// Args returns the command line passed to the tool for req, writing to csv.
func (m *Meants) Args(req Request, csv string) []string {
	var args []string
	if req.Mask != "" {
		args = append(args, "--mask", req.Mask)
	}
	if req.Weighted {
		args = append(args, "--weighted")
	}
	if req.ROILabel != nil {
		args = append(args, "--roi-label", strconv.Itoa(*req.ROILabel))
	}
	if req.Hemi != "" {
		args = append(args, "--hemi", req.Hemi)
	}
	return append(args, "--outputcsv", csv, req.Func, req.Seed)
}

// MeanTimeSeries implements Provider.
func (m *Meants) MeanTimeSeries(ctx context.Context, req Request) ([]float64, error) {
	out := req.OutputCSV
	if out == "" {
		dir, err := os.MkdirTemp("", "seedcorr-meants-*")
		if err != nil {
			return nil, errors.Wrap(err, "seed: failed to create temp dir")
		}
		defer os.RemoveAll(dir)
		out = filepath.Join(dir, "meants.csv")
	}

	cmd := m.Command
	if cmd == "" {
		cmd = DefaultMeantsCommand
	}
	runner := m.Runner
	if runner == nil {
		runner = workbench.ExecRunner{Logger: m.Logger}
	}

	if err := runner.Run(ctx, cmd, m.Args(req, out)...); err != nil {
		return nil, errors.Wrapf(err, "seed: %s failed", cmd)
	}

	ts, err := ReadCSV(out)
	if err != nil {
		return nil, err
	}
	m.Logger.Debug().Str("csv", out).Int("timePoints", len(ts)).Msg("seed series read")
	return ts, nil
}
