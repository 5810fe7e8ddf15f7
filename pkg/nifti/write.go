package nifti

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	niftilib "github.com/KyungWonPark/nifti"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"seedcorr/internal/models"
)

// Write stores img at path as a single-file NIfTI-1 image with float32 data,
// gzip compressed when path ends in ".gz". The file is written under a
// temporary name in the same directory and renamed into place, so path is
// either left untouched or holds a complete image.
func Write(path string, img *Image) (err error) {
	h, err := outputHeader(img)
	if err != nil {
		return err
	}
	var lh niftilib.Nifti1Header
	if err := convertHeader(&lh, h); err != nil {
		return err
	}

	dir, base := filepath.Dir(path), filepath.Base(path)
	raw, err := tempName(dir, "."+base+".*.nii")
	if err != nil {
		return errors.Wrapf(err, "failed to create output for %s", path)
	}
	final := raw
	defer func() {
		os.Remove(raw)
		if err != nil {
			os.Remove(final)
		}
	}()

	if err = save(raw, lh, img.Volume); err != nil {
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	if strings.HasSuffix(path, ".gz") {
		if final, err = compress(raw, dir, "."+base+".*.tmp"); err != nil {
			return errors.Wrapf(err, "failed to compress %s", path)
		}
	}

	if err = os.Chmod(final, 0o644); err != nil {
		return errors.Wrapf(err, "failed to set permissions on %s", path)
	}
	if err = os.Rename(final, path); err != nil {
		return errors.Wrapf(err, "failed to move output into place at %s", path)
	}
	return nil
}

// outputHeader returns the header written for img. Dimensions, datatype and
// data offset are derived from img.Volume; every other field is copied from
// img.Header.
func outputHeader(img *Image) (*Header, error) {
	vol := img.Volume
	if err := vol.Shape.Validate(); err != nil {
		return nil, err
	}
	for _, d := range []int{vol.Shape.X, vol.Shape.Y, vol.Shape.Z, vol.Frames} {
		if d > math.MaxInt16 {
			return nil, errors.Errorf("volume of shape %v with %d frames does not fit a NIfTI-1 header (max %d per dimension)",
				vol.Shape, vol.Frames, math.MaxInt16)
		}
	}
	if vol.Frames < 1 || len(vol.Data) != vol.Shape.Units()*vol.Frames {
		return nil, errors.Errorf("volume of shape %v with %d frames holds %d values", vol.Shape, vol.Frames, len(vol.Data))
	}

	h := img.Header
	h.SizeOfHdr = HeaderSize
	h.Dim = [8]int16{4, int16(vol.Shape.X), int16(vol.Shape.Y), int16(vol.Shape.Z), int16(vol.Frames), 1, 1, 1}
	h.DataType = DTFloat32
	h.BitPix = 32
	h.VoxOffset = dataOffset
	h.Magic = singleFileMagic
	for i := 5; i < len(h.PixDim); i++ {
		if h.PixDim[i] == 0 {
			h.PixDim[i] = 1
		}
	}
	return &h, nil
}

// save writes vol under h to the uncompressed file at path.
func save(path string, h niftilib.Nifti1Header, vol *models.Volume) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FormatError{Path: path, Reason: fmt.Sprintf("failed to write image: %v", r)}
		}
	}()

	out := niftilib.NewImg(vol.Shape.X, vol.Shape.Y, vol.Shape.Z, vol.Frames)
	out.SetNewHeader(h)
	for t := 0; t < vol.Frames; t++ {
		for z := 0; z < vol.Shape.Z; z++ {
			for y := 0; y < vol.Shape.Y; y++ {
				for x := 0; x < vol.Shape.X; x++ {
					out.SetAt(uint32(x), uint32(y), uint32(z), uint32(t), float32(vol.At(x, y, z, t)))
				}
			}
		}
	}
	out.Save(path)

	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, "image was not saved")
	}
	if want := int64(HeaderSize + 4*len(vol.Data)); info.Size() < want {
		return &FormatError{Path: path, Reason: fmt.Sprintf("saved %d bytes, expected at least %d", info.Size(), want)}
	}
	return nil
}

// compress gzips src into a new temporary file in dir and returns its name.
func compress(src, dir, pattern string) (name string, err error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(out.Name())
		}
	}()

	bw := bufio.NewWriter(out)
	zw := gzip.NewWriter(bw)
	if _, err = io.Copy(zw, in); err != nil {
		return "", err
	}
	if err = zw.Close(); err != nil {
		return "", err
	}
	if err = bw.Flush(); err != nil {
		return "", err
	}
	if err = out.Close(); err != nil {
		return "", err
	}
	return out.Name(), nil
}

// tempName reserves an unused file name in dir matching pattern.
func tempName(dir, pattern string) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	return name, f.Close()
}
