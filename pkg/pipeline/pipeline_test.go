package pipeline

import (
	"bytes"
	"context"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seedcorr/internal/models"
	"seedcorr/pkg/connectivity"
	"seedcorr/pkg/export"
	"seedcorr/pkg/filetype"
	"seedcorr/pkg/nifti"
	"seedcorr/pkg/reconstruction"
	"seedcorr/pkg/seed"
	"seedcorr/pkg/workbench"
)

const (
	targetUnit = 4
	maskedUnit = 10
	flatUnit   = 13
)

type fixture struct {
	dir      string
	shape    models.SpatialShape
	frames   int
	header   nifti.Header
	funcPath string
	seedPath string
	maskPath string
}

// createFixture writes a 3x3x2 functional image with 12 frames, a seed
// covering targetUnit and a mask excluding maskedUnit. flatUnit is all zeros.
func createFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dir:    t.TempDir(),
		shape:  models.SpatialShape{X: 3, Y: 3, Z: 2},
		frames: 12,
	}
	f.header.PixDim = [8]float32{1, 2, 2, 2, 1.5, 0, 0, 0}
	f.header.SFormCode = 1
	f.header.SRowX = [4]float32{2, 0, 0, -3}
	f.header.SRowY = [4]float32{0, 2, 0, -3}
	f.header.SRowZ = [4]float32{0, 0, 2, -2}

	rng := rand.New(rand.NewSource(7))
	vol := models.NewVolume(f.shape, f.frames)
	for u := 0; u < f.shape.Units(); u++ {
		x, y, z := f.shape.Coord(u)
		for tp := 0; tp < f.frames; tp++ {
			v := 0.0
			if u != flatUnit {
				v = 100 + 5*rng.NormFloat64()
			}
			vol.Set(x, y, z, tp, v)
		}
	}
	f.funcPath = filepath.Join(f.dir, "bold.nii.gz")
	require.NoError(t, nifti.Write(f.funcPath, &nifti.Image{Header: f.header, Volume: vol}))

	seedVals := make([]float64, f.shape.Units())
	seedVals[targetUnit] = 1
	f.seedPath = filepath.Join(f.dir, "roi.nii.gz")
	f.writeSingleFrame(t, f.seedPath, seedVals)

	maskVals := make([]float64, f.shape.Units())
	for u := range maskVals {
		maskVals[u] = 1
	}
	maskVals[maskedUnit] = 0
	f.maskPath = filepath.Join(f.dir, "brainmask.nii.gz")
	f.writeSingleFrame(t, f.maskPath, maskVals)

	return f
}

func (f *fixture) writeSingleFrame(t *testing.T, path string, vals []float64) {
	t.Helper()
	vol, err := reconstruction.Reshape(vals, f.shape)
	require.NoError(t, err)
	require.NoError(t, nifti.Write(path, &nifti.Image{Header: f.header, Volume: vol}))
}

func (f *fixture) targetSeries(t *testing.T) []float64 {
	t.Helper()
	img, err := nifti.Read(f.funcPath)
	require.NoError(t, err)
	series, err := img.Series()
	require.NoError(t, err)
	return append([]float64(nil), series.Row(targetUnit)...)
}

func (f *fixture) writeTRs(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, "trs.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readMap(t *testing.T, path string) []float64 {
	t.Helper()
	img, err := nifti.Read(path)
	require.NoError(t, err)
	flat, err := reconstruction.Flatten(img.Volume)
	require.NoError(t, err)
	return flat
}

func TestRunNIfTI(t *testing.T) {
	f := createFixture(t)
	params := &Params{
		Func:      f.funcPath,
		Seed:      f.seedPath,
		Mask:      f.maskPath,
		Workers:   2,
		OutputTS:  true,
		OutputNpy: true,
	}

	res, err := New(params, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	base := filepath.Join(f.dir, "bold_roi")
	assert.Equal(t, base+".nii.gz", res.Outputs.Map)
	assert.Equal(t, f.shape.Units(), res.Units)
	assert.Equal(t, f.frames, res.TimePoints)
	assert.Equal(t, f.shape.Units()-2, res.Eligible)
	assert.Zero(t, res.Degenerate)

	corr := readMap(t, res.Outputs.Map)
	assert.InDelta(t, 1.0, corr[targetUnit], 1e-6)
	assert.Equal(t, 0.0, corr[maskedUnit])
	assert.Equal(t, 0.0, corr[flatUnit])
	for u, r := range corr {
		assert.False(t, math.IsNaN(r), "unit %d", u)
		assert.LessOrEqual(t, math.Abs(r), 1.0, "unit %d", u)
	}

	out, err := nifti.Read(res.Outputs.Map)
	require.NoError(t, err)
	assert.Equal(t, f.header.Affine(), out.Header.Affine())
	assert.Equal(t, 1, out.Frames())

	ts, err := seed.ReadCSV(base + "_meants.csv")
	require.NoError(t, err)
	assert.Equal(t, f.targetSeries(t), ts)

	npy, shape, err := export.ReadNpy(base + ".npy")
	require.NoError(t, err)
	assert.Equal(t, f.shape, shape)
	assert.InDeltaSlice(t, corr, npy, 1e-6)
}

func TestRunExplicitOutputName(t *testing.T) {
	f := createFixture(t)
	name := filepath.Join(f.dir, "maps", "corr.nii.gz")
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0o755))

	res, err := New(&Params{Func: f.funcPath, Seed: f.seedPath, OutputName: name}, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, name, res.Outputs.Map)
	assert.FileExists(t, name)
	assert.NoFileExists(t, filepath.Join(f.dir, "maps", "corr_meants.csv"))
}

func TestRunLogsAffine(t *testing.T) {
	f := createFixture(t)
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)

	_, err := New(&Params{Func: f.funcPath, Seed: f.seedPath}, log).Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"affine":[[2,0,0,-3],[0,2,0,-3],[0,0,2,-2],[0,0,0,1]]`)
}

func TestRunOptionalOutputFailureLeavesNoMap(t *testing.T) {
	f := createFixture(t)
	base := filepath.Join(f.dir, "bold_roi")
	// a non-empty directory where the npy file should go
	require.NoError(t, os.MkdirAll(filepath.Join(base+".npy", "keep"), 0o755))

	params := &Params{
		Func:      f.funcPath,
		Seed:      f.seedPath,
		OutputTS:  true,
		OutputNpy: true,
	}
	_, err := New(params, zerolog.Nop()).Run(context.Background())
	require.Error(t, err)
	assert.NoFileExists(t, base+".nii.gz")
	assert.NoFileExists(t, base+"_meants.csv")
	assert.DirExists(t, filepath.Join(base+".npy", "keep"))
}

func TestRunInvalidTimeIndex(t *testing.T) {
	f := createFixture(t)
	params := &Params{
		Func:     f.funcPath,
		Seed:     f.seedPath,
		TRFile:   f.writeTRs(t, "1\n0\n"),
		OutputTS: true,
	}

	_, err := New(params, zerolog.Nop()).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, connectivity.ErrInvalidTimeIndex)
	assert.NoFileExists(t, filepath.Join(f.dir, "bold_roi.nii.gz"))
	assert.NoFileExists(t, filepath.Join(f.dir, "bold_roi_meants.csv"))

	params.TRFile = f.writeTRs(t, "13\n")
	_, err = New(params, zerolog.Nop()).Run(context.Background())
	assert.ErrorIs(t, err, connectivity.ErrInvalidTimeIndex)
}

func TestRunTRSubset(t *testing.T) {
	f := createFixture(t)
	params := &Params{
		Func:   f.funcPath,
		Seed:   f.seedPath,
		TRFile: f.writeTRs(t, "2 4 6 8\n10,12\n"),
	}

	res, err := New(params, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, res.TimePoints)
	assert.InDelta(t, 1.0, readMap(t, res.Outputs.Map)[targetUnit], 1e-6)
}

func TestRunSingleTR(t *testing.T) {
	f := createFixture(t)
	params := &Params{
		Func:   f.funcPath,
		Seed:   f.seedPath,
		TRFile: f.writeTRs(t, "3\n"),
	}

	res, err := New(params, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.Eligible, res.Degenerate)
	for _, r := range readMap(t, res.Outputs.Map) {
		assert.Equal(t, 0.0, r)
	}
}

func TestRunMaskShapeMismatch(t *testing.T) {
	f := createFixture(t)
	small := filepath.Join(f.dir, "small.nii.gz")
	vol := models.NewVolume(models.SpatialShape{X: 2, Y: 2, Z: 2}, 1)
	require.NoError(t, nifti.Write(small, &nifti.Image{Volume: vol}))

	_, err := New(&Params{Func: f.funcPath, Seed: f.seedPath, Mask: small}, zerolog.Nop()).Run(context.Background())
	assert.ErrorIs(t, err, connectivity.ErrShapeMismatch)
}

func TestRunUnsupportedInputs(t *testing.T) {
	f := createFixture(t)
	tests := []struct {
		name   string
		params Params
	}{
		{"unknown func", Params{Func: filepath.Join(f.dir, "bold.txt"), Seed: f.seedPath}},
		{"gifti func", Params{Func: filepath.Join(f.dir, "bold.func.gii"), Seed: f.seedPath}},
		{"unknown seed", Params{Func: f.funcPath, Seed: filepath.Join(f.dir, "roi.mgz")}},
		{"gifti mask", Params{Func: f.funcPath, Seed: f.seedPath, Mask: filepath.Join(f.dir, "mask.shape.gii")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := tt.params
			_, err := New(&params, zerolog.Nop()).Run(context.Background())
			assert.Error(t, err)
		})
	}

	_, err := New(&Params{Func: filepath.Join(f.dir, "bold.txt"), Seed: f.seedPath}, zerolog.Nop()).Run(context.Background())
	assert.ErrorIs(t, err, filetype.ErrUnsupported)
}

// fakeWorkbench converts by copying: to-nifti returns a prepared NIfTI file,
// from-nifti copies the volume to the CIFTI output path.
type fakeWorkbench struct {
	funcNifti string
	fromNifti error
	ops       [][]string
}

func (w *fakeWorkbench) Run(_ context.Context, _ string, args ...string) error {
	w.ops = append(w.ops, args)
	switch {
	case args[0] == "-cifti-convert" && args[1] == "-from-nifti" && w.fromNifti != nil:
		return w.fromNifti
	case args[0] == "-cifti-convert" && args[1] == "-to-nifti":
		return copyFile(w.funcNifti, args[3])
	case args[0] == "-cifti-convert" && args[1] == "-from-nifti":
		return copyFile(args[2], args[4])
	case args[0] == "-cifti-reduce":
		return os.WriteFile(args[3], []byte("template"), 0o644)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

type fixedSeed struct {
	ts  []float64
	req seed.Request
}

func (s *fixedSeed) MeanTimeSeries(_ context.Context, req seed.Request) ([]float64, error) {
	s.req = req
	return s.ts, nil
}

func TestRunCIFTI(t *testing.T) {
	f := createFixture(t)
	fake := &fakeWorkbench{funcNifti: f.funcPath}
	provider := &fixedSeed{ts: f.targetSeries(t)}
	funcPath := filepath.Join(f.dir, "bold.dtseries.nii")

	params := &Params{
		Func:         funcPath,
		Seed:         filepath.Join(f.dir, "roi.dscalar.nii"),
		Weighted:     true,
		SeedProvider: provider,
		Workbench:    workbench.New("", fake),
	}
	res, err := New(params, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(f.dir, "bold_roi.dscalar.nii"), res.Outputs.Map)
	require.Len(t, fake.ops, 3)
	assert.Equal(t, []string{"-cifti-convert", "-to-nifti", funcPath}, fake.ops[0][:3])
	assert.Equal(t, []string{"-cifti-reduce", funcPath, "MIN"}, fake.ops[1][:3])
	assert.Equal(t, "-from-nifti", fake.ops[2][1])
	assert.Equal(t, fake.ops[1][3], fake.ops[2][3], "converted back with the reduced template")
	assert.Equal(t, res.Outputs.Map, fake.ops[2][4])

	assert.True(t, provider.req.Weighted)
	assert.Equal(t, funcPath, provider.req.Func)

	corr := readMap(t, res.Outputs.Map)
	assert.InDelta(t, 1.0, corr[targetUnit], 1e-6)
	assert.Equal(t, 0.0, corr[flatUnit])
}

func TestRunCIFTIConversionFailureRemovesExtras(t *testing.T) {
	f := createFixture(t)
	fake := &fakeWorkbench{funcNifti: f.funcPath, fromNifti: errors.New("wb_command: out of memory")}
	params := &Params{
		Func:         filepath.Join(f.dir, "bold.dtseries.nii"),
		Seed:         filepath.Join(f.dir, "roi.dscalar.nii"),
		OutputTS:     true,
		OutputNpy:    true,
		SeedProvider: &fixedSeed{ts: f.targetSeries(t)},
		Workbench:    workbench.New("", fake),
	}

	_, err := New(params, zerolog.Nop()).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")

	base := filepath.Join(f.dir, "bold_roi")
	assert.NoFileExists(t, base+".dscalar.nii")
	assert.NoFileExists(t, base+"_meants.csv")
	assert.NoFileExists(t, base+".npy")
}

func TestSeedProviderSelection(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		meants bool
	}{
		{"nifti seed", Params{Func: "bold.nii.gz", Seed: "roi.nii.gz"}, false},
		{"nifti seed and mask", Params{Func: "bold.nii.gz", Seed: "roi.nii", Mask: "brain.nii.gz"}, false},
		{"cifti mask", Params{Func: "bold.nii.gz", Seed: "roi.nii.gz", Mask: "brain.dscalar.nii"}, true},
		{"gifti seed", Params{Func: "bold.dtseries.nii", Seed: "roi.func.gii", Hemi: "L"}, true},
		{"cifti func", Params{Func: "bold.dtseries.nii", Seed: "roi.nii.gz"}, true},
		{"hemi", Params{Func: "bold.nii.gz", Seed: "roi.nii.gz", Hemi: "R"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := tt.params
			p := New(&params, zerolog.Nop())
			require.NoError(t, p.detectTypes())

			_, isMeants := p.seedProvider().(*seed.Meants)
			assert.Equal(t, tt.meants, isMeants)
		})
	}
}

func TestResolveOutputs(t *testing.T) {
	tests := []struct {
		name       string
		outputName string
		funcPath   string
		kind       filetype.Kind
		want       Outputs
	}{
		{
			name:     "default nifti",
			funcPath: "/data/sub-01/bold.nii.gz",
			kind:     filetype.NIfTI,
			want: Outputs{
				Base:       "/data/sub-01/bold_roi",
				Map:        "/data/sub-01/bold_roi.nii.gz",
				TimeSeries: "/data/sub-01/bold_roi_meants.csv",
				Npy:        "/data/sub-01/bold_roi.npy",
			},
		},
		{
			name:     "default cifti",
			funcPath: "/data/bold.dtseries.nii",
			kind:     filetype.CIFTI,
			want: Outputs{
				Base:       "/data/bold_roi",
				Map:        "/data/bold_roi.dscalar.nii",
				TimeSeries: "/data/bold_roi_meants.csv",
				Npy:        "/data/bold_roi.npy",
			},
		},
		{
			name:     "default relative",
			funcPath: "bold.nii",
			kind:     filetype.NIfTI,
			want: Outputs{
				Base:       "bold_roi",
				Map:        "bold_roi.nii.gz",
				TimeSeries: "bold_roi_meants.csv",
				Npy:        "bold_roi.npy",
			},
		},
		{
			name:       "explicit nifti with suffix",
			outputName: "out/corr.nii.gz",
			funcPath:   "/data/bold.nii.gz",
			kind:       filetype.NIfTI,
			want: Outputs{
				Base:       "out/corr",
				Map:        "out/corr.nii.gz",
				TimeSeries: "out/corr_meants.csv",
				Npy:        "out/corr.npy",
			},
		},
		{
			name:       "explicit nifti without suffix",
			outputName: "out/corr",
			funcPath:   "/data/bold.nii.gz",
			kind:       filetype.NIfTI,
			want: Outputs{
				Base:       "out/corr",
				Map:        "out/corr.nii.gz",
				TimeSeries: "out/corr_meants.csv",
				Npy:        "out/corr.npy",
			},
		},
		{
			name:       "explicit cifti with suffix",
			outputName: "out/corr.dscalar.nii",
			funcPath:   "/data/bold.dtseries.nii",
			kind:       filetype.CIFTI,
			want: Outputs{
				Base:       "out/corr",
				Map:        "out/corr.dscalar.nii",
				TimeSeries: "out/corr_meants.csv",
				Npy:        "out/corr.npy",
			},
		},
		{
			name:       "explicit cifti without suffix",
			outputName: "out/corr",
			funcPath:   "/data/bold.dtseries.nii",
			kind:       filetype.CIFTI,
			want: Outputs{
				Base:       "out/corr",
				Map:        "out/corr.dscalar.nii",
				TimeSeries: "out/corr_meants.csv",
				Npy:        "out/corr.npy",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveOutputs(tt.outputName, tt.funcPath, tt.kind, "bold", "roi")
			assert.Equal(t, tt.want, got)
		})
	}
}
