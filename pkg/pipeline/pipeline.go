// Package pipeline runs a complete seed correlation: it reads the functional
// image, obtains the seed series, correlates every unit and writes the map in
// the container type of the input.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"seedcorr/internal/models"
	"seedcorr/pkg/connectivity"
	"seedcorr/pkg/export"
	"seedcorr/pkg/filetype"
	"seedcorr/pkg/nifti"
	"seedcorr/pkg/reconstruction"
	"seedcorr/pkg/seed"
	"seedcorr/pkg/workbench"
)

// Params holds the inputs and options of a run.
type Params struct {
	// Func is the functional image, NIfTI or CIFTI
	Func string

	// Seed is the seed mask or label image, NIfTI, CIFTI or GIFTI
	Seed string

	// Mask, when set, restricts both the seed and the correlated units
	Mask string

	// OutputName overrides the default output path
	OutputName string

	// OutputTS also writes the seed series as <output>_meants.csv
	OutputTS bool

	// OutputNpy also writes the map as <output>.npy
	OutputNpy bool

	// ROILabel selects one label of a label seed
	ROILabel *int

	// Hemi is the hemisphere of a GIFTI seed
	Hemi string

	// Weighted averages the seed with its values as weights
	Weighted bool

	// TRFile lists the 1-based TRs to correlate over. Empty means all.
	TRFile string

	// Workers is the number of correlation goroutines. 0 means one per CPU.
	Workers int

	// SeedProvider computes the seed series. Nil picks one from the input types.
	SeedProvider seed.Provider

	// MeantsCommand is used when ciftify_meants is picked automatically
	MeantsCommand string

	// Workbench converts CIFTI data. Nil means wb_command on PATH.
	Workbench *workbench.Workbench
}

// Result summarises a finished run.
type Result struct {
	Outputs Outputs

	// Units is the number of spatial units in the map
	Units int

	// TimePoints is the number of time points correlated over
	TimePoints int

	// Eligible is the number of units that were correlated
	Eligible int

	// Degenerate is the number of eligible units left at 0
	Degenerate int

	Elapsed time.Duration
}

// Pipeline runs one correlation. It is not safe for concurrent use.
type Pipeline struct {
	params *Params
	log    zerolog.Logger
	wb     *workbench.Workbench

	funcKind filetype.Kind
	seedKind filetype.Kind
	maskKind filetype.Kind
	outputs  Outputs
}

// New creates a pipeline for params.
func New(params *Params, log zerolog.Logger) *Pipeline {
	wb := params.Workbench
	if wb == nil {
		wb = workbench.New("", workbench.ExecRunner{Logger: log})
	}
	return &Pipeline{
		params: params,
		log:    log,
		wb:     wb,
	}
}

// Run executes the pipeline. Nothing is written unless the correlation
// succeeds.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	// Step 1: Determine input types
	p.log.Debug().Msg("Step 1: determining input types")
	if err := p.detectTypes(); err != nil {
		return nil, err
	}

	// Step 2: Work out output names
	p.log.Debug().Str("output", p.outputs.Map).Msg("Step 2: output names resolved")

	// Step 3: Scratch space for converted inputs
	tempDir, err := os.MkdirTemp("", "seedcorr-*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create temp dir")
	}
	defer os.RemoveAll(tempDir)

	// Step 4: Load functional data and mask
	p.log.Debug().Msg("Step 4: loading functional data")
	funcImg, err := p.loadImage(ctx, p.params.Func, p.funcKind, filepath.Join(tempDir, "func.nii.gz"))
	if err != nil {
		return nil, err
	}
	series, err := funcImg.Series()
	if err != nil {
		return nil, errors.Wrapf(err, "functional data %s", p.params.Func)
	}
	p.log.Debug().
		Stringer("shape", series.Shape).
		Int("timePoints", series.TimePoints()).
		Interface("affine", funcImg.Header.Affine()).
		Msg("functional data loaded")

	var maskVals []float64
	if p.params.Mask != "" {
		maskVals, err = p.loadMask(ctx, filepath.Join(tempDir, "mask.nii.gz"), funcImg)
		if err != nil {
			return nil, err
		}
	}

	// Step 5: Seed mean time series
	p.log.Debug().Msg("Step 5: computing seed time series")
	seedTS, err := p.seedProvider().MeanTimeSeries(ctx, seed.Request{
		Func:      p.params.Func,
		Seed:      p.params.Seed,
		Mask:      p.params.Mask,
		ROILabel:  p.params.ROILabel,
		Hemi:      p.params.Hemi,
		Weighted:  p.params.Weighted,
		Series:    series,
		OutputCSV: filepath.Join(tempDir, filepath.Base(p.outputs.Base)+meantsSuffix),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute seed time series")
	}

	// Step 6: Select time points
	p.log.Debug().Msg("Step 6: selecting time points")
	var tps connectivity.TimeIndexSet
	if p.params.TRFile != "" {
		tps, err = connectivity.LoadTimeIndexFile(p.params.TRFile, series.TimePoints())
	} else {
		tps, err = connectivity.SelectTimePoints(series.TimePoints(), nil)
	}
	if err != nil {
		return nil, err
	}

	// Step 7: Mask and correlate
	p.log.Debug().Msg("Step 7: correlating")
	eligible, err := connectivity.BuildEligibilityMask(series, maskVals)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		p.log.Warn().Err(connectivity.ErrEmptyEligibilitySet).Msg("the map will be all zeros")
	}

	corr, err := connectivity.Correlate(series, seedTS, eligible, tps, connectivity.Options{
		Workers: p.params.Workers,
		Logger:  p.log,
	})
	if err != nil {
		return nil, err
	}
	if corr.Degenerate > 0 {
		p.log.Warn().
			Err(connectivity.ErrDegenerateCorrelation).
			Int("units", corr.Degenerate).
			Int("timePoints", len(tps)).
			Msg("units set to 0")
	}

	// Step 8: Optional extra outputs
	extras, err := p.writeExtras(seedTS, corr.Map, series)
	if err != nil {
		return nil, err
	}

	// Step 9: Reconstruct and write the map
	p.log.Debug().Str("output", p.outputs.Map).Msg("Step 9: writing correlation map")
	vol, err := reconstruction.Reshape(corr.Map, series.Shape)
	if err == nil {
		err = p.writeMap(ctx, tempDir, reconstruction.NewOutputImage(funcImg.Header, vol))
	}
	if err != nil {
		for _, path := range extras {
			os.Remove(path)
		}
		return nil, err
	}

	res := &Result{
		Outputs:    p.outputs,
		Units:      series.Units(),
		TimePoints: len(tps),
		Eligible:   corr.Eligible,
		Degenerate: corr.Degenerate,
		Elapsed:    time.Since(start),
	}
	p.log.Debug().
		Int("eligible", res.Eligible).
		Int("degenerate", res.Degenerate).
		Dur("elapsed", res.Elapsed).
		Msg("done")
	return res, nil
}

func (p *Pipeline) detectTypes() error {
	funcKind, funcBase, err := filetype.Detect(p.params.Func)
	if err != nil {
		return err
	}
	if funcKind != filetype.NIfTI && funcKind != filetype.CIFTI {
		return errors.Errorf("functional data %s is %s, expected nifti or cifti", p.params.Func, funcKind)
	}
	seedKind, seedBase, err := filetype.Detect(p.params.Seed)
	if err != nil {
		return err
	}
	p.funcKind, p.seedKind = funcKind, seedKind

	if p.params.Mask != "" {
		maskKind, _, err := filetype.Detect(p.params.Mask)
		if err != nil {
			return err
		}
		if maskKind != filetype.NIfTI && maskKind != filetype.CIFTI {
			return errors.Errorf("mask %s is %s, expected nifti or cifti", p.params.Mask, maskKind)
		}
		p.maskKind = maskKind
	}

	p.log.Debug().
		Stringer("funcType", funcKind).Str("funcBase", funcBase).
		Stringer("seedType", seedKind).Str("seedBase", seedBase).
		Msg("input types")

	p.outputs = ResolveOutputs(p.params.OutputName, p.params.Func, funcKind, funcBase, seedBase)
	return nil
}

// loadImage reads path as NIfTI, converting it first when it is CIFTI.
func (p *Pipeline) loadImage(ctx context.Context, path string, kind filetype.Kind, converted string) (*nifti.Image, error) {
	if kind == filetype.CIFTI {
		if err := p.wb.CiftiToNifti(ctx, path, converted); err != nil {
			return nil, err
		}
		path = converted
	}
	return nifti.Read(path)
}

func (p *Pipeline) loadMask(ctx context.Context, converted string, funcImg *nifti.Image) ([]float64, error) {
	img, err := p.loadImage(ctx, p.params.Mask, p.maskKind, converted)
	if err != nil {
		return nil, err
	}
	if img.Shape() != funcImg.Shape() {
		return nil, &connectivity.ShapeMismatchError{
			What: "mask " + p.params.Mask,
			Got:  img.Shape().Units(),
			Want: funcImg.Shape().Units(),
		}
	}
	vals, err := reconstruction.Flatten(img.Volume)
	if err != nil {
		return nil, errors.Wrapf(err, "mask %s", p.params.Mask)
	}
	return vals, nil
}

// writeExtras writes the requested seed series and npy map and returns the
// files it created. On error nothing it created is left behind.
func (p *Pipeline) writeExtras(seedTS, flat []float64, series *models.FunctionalSeries) ([]string, error) {
	var written []string
	fail := func(err error) ([]string, error) {
		for _, path := range written {
			os.Remove(path)
		}
		return nil, err
	}

	if p.params.OutputTS {
		if err := seed.WriteCSV(p.outputs.TimeSeries, seedTS); err != nil {
			return fail(err)
		}
		written = append(written, p.outputs.TimeSeries)
	}
	if p.params.OutputNpy {
		if err := export.WriteNpy(p.outputs.Npy, flat, series.Shape); err != nil {
			return fail(err)
		}
		written = append(written, p.outputs.Npy)
	}
	return written, nil
}

// seedProvider computes NIfTI seeds in process and leaves every other
// combination to ciftify_meants.
func (p *Pipeline) seedProvider() seed.Provider {
	if p.params.SeedProvider != nil {
		return p.params.SeedProvider
	}
	maskOK := p.params.Mask == "" || p.maskKind == filetype.NIfTI
	if p.funcKind == filetype.NIfTI && p.seedKind == filetype.NIfTI && maskOK && p.params.Hemi == "" {
		return &seed.Volume{Logger: p.log}
	}
	return &seed.Meants{
		Command: p.params.MeantsCommand,
		Runner:  p.wb.Runner,
		Logger:  p.log,
	}
}

func (p *Pipeline) writeMap(ctx context.Context, tempDir string, img *nifti.Image) error {
	if p.funcKind == filetype.NIfTI {
		return nifti.Write(p.outputs.Map, img)
	}

	volume := filepath.Join(tempDir, "out.nii.gz")
	if err := nifti.Write(volume, img); err != nil {
		return err
	}
	template := filepath.Join(tempDir, "template.dscalar.nii")
	if err := p.wb.CiftiReduce(ctx, p.params.Func, "MIN", template); err != nil {
		return err
	}
	return p.wb.NiftiToCifti(ctx, volume, template, p.outputs.Map)
}
