package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"seedcorr/internal/bininfo"
	"seedcorr/internal/logger"
	"seedcorr/pkg/config"
	"seedcorr/pkg/pipeline"
	"seedcorr/pkg/seed"
	"seedcorr/pkg/workbench"
)

const description = `Produces a correlation map of the mean time series within the seed with
every voxel (or vertex) in the functional file.

The default output name is built from the <func> and <seed> names
(func.dtseries.nii + seed.dscalar.nii -> func_seed.dscalar.nii) and written
next to <func>. The output container type matches <func>.

--roi-label, --hemi, --mask and --weighted are passed to ciftify_meants when
it computes the seed series. A mask is applied to both the seed and the
functional data.

--use-TRs restricts the correlation to the TRs listed in a text file, one or
more integers per line, with the first TR numbered 1.`

func newApp() *cli.App {
	return &cli.App{
		Name:        "seedcorr",
		Usage:       "seed based functional connectivity maps",
		UsageText:   "seedcorr [options] <func> <seed>",
		Description: description,
		Version:     fmt.Sprintf("%s (built %s)", bininfo.Version, bininfo.BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "outputname", Usage: "output file name"},
			&cli.BoolFlag{Name: "output-ts", Usage: "also write the seed time series to <output>_meants.csv"},
			&cli.IntFlag{Name: "roi-label", Usage: "numeric label of the ROI to use as seed"},
			&cli.StringFlag{Name: "hemi", Usage: "hemisphere (L or R) of a GIFTI seed"},
			&cli.StringFlag{Name: "mask", Usage: "brain mask `FILE`"},
			&cli.BoolFlag{Name: "weighted", Usage: "weight the seed average by the seed values"},
			&cli.StringFlag{Name: "use-TRs", Usage: "only use the TRs listed in `FILE` (first TR is 1)"},
			&cli.BoolFlag{Name: "debug", Usage: "debug logging"},
			&cli.StringFlag{Name: "config", Usage: "YAML configuration `FILE`", EnvVars: []string{"SEEDCORR_CONFIG"}},
			&cli.IntFlag{Name: "workers", Usage: "number of correlation workers (0 = one per CPU)"},
			&cli.BoolFlag{Name: "output-npy", Usage: "also write the map to <output>.npy"},
		},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:      "init-config",
				Usage:     "write the default configuration",
				ArgsUsage: "<path>",
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 1 {
						return cli.Exit("init-config needs exactly one path", 2)
					}
					path := c.Args().First()
					if err := config.CreateDefaultConfigFile(path); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "Default configuration written to %s\n", path)
					return nil
				},
			},
		},
	}
}

func run(c *cli.Context) error {
	if c.Args().Len() != 2 {
		_ = cli.ShowAppHelp(c)
		return cli.Exit("expected <func> and <seed>", 2)
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	applyFlags(c, cfg)

	log := logger.New(logger.Options{
		Debug:   cfg.Log.Debug,
		File:    cfg.Log.File,
		Console: c.App.ErrWriter,
	})

	params := buildParams(c, cfg, log)
	res, err := pipeline.New(params, log).Run(c.Context)
	if err != nil {
		log.Error().Err(err).Msg("correlation failed")
		return err
	}

	log.Info().
		Str("output", res.Outputs.Map).
		Int("eligible", res.Eligible).
		Dur("elapsed", res.Elapsed).
		Msg("correlation map written")
	return nil
}

// applyFlags lets explicitly set flags override the configuration.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("debug") {
		cfg.Log.Debug = c.Bool("debug")
	}
	if c.IsSet("workers") {
		cfg.Processing.Workers = c.Int("workers")
	}
	if c.IsSet("output-ts") {
		cfg.Output.SaveTimeSeries = c.Bool("output-ts")
	}
	if c.IsSet("output-npy") {
		cfg.Output.Npy = c.Bool("output-npy")
	}
}

func buildParams(c *cli.Context, cfg *config.Config, log zerolog.Logger) *pipeline.Params {
	wb := workbench.New(cfg.Workbench.Command, workbench.ExecRunner{Logger: log})

	params := &pipeline.Params{
		Func:          c.Args().Get(0),
		Seed:          c.Args().Get(1),
		Mask:          c.String("mask"),
		OutputName:    c.String("outputname"),
		OutputTS:      cfg.Output.SaveTimeSeries,
		OutputNpy:     cfg.Output.Npy,
		Hemi:          c.String("hemi"),
		Weighted:      c.Bool("weighted"),
		TRFile:        c.String("use-TRs"),
		Workers:       cfg.Processing.Workers,
		MeantsCommand: cfg.Seed.MeantsCommand,
		Workbench:     wb,
	}
	if c.IsSet("roi-label") {
		label := c.Int("roi-label")
		params.ROILabel = &label
	}

	switch cfg.Seed.Provider {
	case config.ProviderVolume:
		params.SeedProvider = &seed.Volume{Logger: log}
	case config.ProviderMeants:
		params.SeedProvider = &seed.Meants{Command: cfg.Seed.MeantsCommand, Runner: wb.Runner, Logger: log}
	}
	return params
}
