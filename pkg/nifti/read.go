package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	niftilib "github.com/KyungWonPark/nifti"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"seedcorr/internal/models"
)

// Image is a loaded NIfTI-1 file.
type Image struct {
	// Header is the header as read from disk, or the template used for output
	Header Header

	// Volume holds the voxel values in on-disk order
	Volume *models.Volume
}

// Shape returns the spatial grid of the image.
func (img *Image) Shape() models.SpatialShape {
	return img.Volume.Shape
}

// Frames returns the number of time points (1 for a 3-D image).
func (img *Image) Frames() int {
	return img.Volume.Frames
}

// Series returns the image as a units-by-time matrix.
func (img *Image) Series() (*models.FunctionalSeries, error) {
	return img.Volume.Series()
}

// Read loads the NIfTI-1 file at path. The header is checked first; a file
// that fails the check, or that the library panics on, gives a FormatError
// naming path.
func Read(path string) (img *Image, err error) {
	h, err := readHeader(path)
	if err != nil {
		var fe *FormatError
		if errors.As(err, &fe) {
			fe.Path = path
			return nil, fe
		}
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	shape, frames, _ := h.dims()

	defer func() {
		if r := recover(); r != nil {
			img, err = nil, &FormatError{Path: path, Reason: fmt.Sprintf("failed to load voxel data: %v", r)}
		}
	}()

	var src niftilib.Nifti1Image
	src.LoadImage(path, true)

	vol := models.NewVolume(shape, frames)
	for t := 0; t < frames; t++ {
		for z := 0; z < shape.Z; z++ {
			for y := 0; y < shape.Y; y++ {
				for x := 0; x < shape.X; x++ {
					v := src.GetAt(uint32(x), uint32(y), uint32(z), uint32(t))
					vol.Set(x, y, z, t, float64(v))
				}
			}
		}
	}
	return &Image{Header: *h, Volume: vol}, nil
}

// readHeader decodes and checks the header of the file at path.
func readHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	src, closeFn, err := maybeGunzip(f)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	h, err := decodeHeader(src)
	if err != nil {
		return nil, err
	}
	if _, _, err := h.dims(); err != nil {
		return nil, formatErrorf("%v", err)
	}
	if !supportedDatatype(h.DataType) {
		return nil, formatErrorf("unsupported datatype %d", h.DataType)
	}
	if h.VoxOffset < HeaderSize {
		return nil, formatErrorf("vox_offset %v lies inside the header", h.VoxOffset)
	}
	return h, nil
}

func maybeGunzip(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil {
		return nil, nil, formatErrorf("file too short")
	}
	if magic[0] != 0x1f || magic[1] != 0x8b {
		return br, func() {}, nil
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		return nil, nil, formatErrorf("bad gzip stream: %v", err)
	}
	return zr, func() { zr.Close() }, nil
}

func decodeHeader(src io.Reader) (*Header, error) {
	raw := make([]byte, HeaderSize)
	if _, err := io.ReadFull(src, raw); err != nil {
		return nil, formatErrorf("file too short for a NIfTI-1 header")
	}

	switch {
	case binary.LittleEndian.Uint32(raw) == HeaderSize:
	case binary.BigEndian.Uint32(raw) == HeaderSize:
		return nil, formatErrorf("big-endian files are not supported")
	case binary.LittleEndian.Uint32(raw) == nifti2HeaderSize, binary.BigEndian.Uint32(raw) == nifti2HeaderSize:
		return nil, formatErrorf("NIfTI-2 files are not supported")
	default:
		return nil, formatErrorf("not a NIfTI-1 file (sizeof_hdr mismatch)")
	}

	var h Header
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &h); err != nil {
		return nil, errors.Wrap(err, "failed to decode header")
	}

	switch h.Magic {
	case singleFileMagic:
	case pairMagic:
		return nil, formatErrorf("header/image pairs (.hdr/.img) are not supported")
	default:
		return nil, formatErrorf("bad magic %q", h.Magic[:])
	}
	return &h, nil
}
