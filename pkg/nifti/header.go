// Package nifti reads and writes single-file NIfTI-1 images (.nii and .nii.gz)
// through github.com/KyungWonPark/nifti.
//
// Headers are checked here before the voxel data is handed to the library, so
// files it cannot load are reported as a FormatError. Voxel data must be
// little-endian uint8, int16, int32, float32 or float64. Output is always
// float32.
package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pkg/errors"

	"seedcorr/internal/models"
)

const (
	// HeaderSize is the value of sizeof_hdr in a NIfTI-1 header.
	HeaderSize = 348

	// nifti2HeaderSize identifies NIfTI-2 files, which are rejected.
	nifti2HeaderSize = 540

	// dataOffset is where voxel data starts in files written by this package:
	// the header followed by a 4 byte empty extension flag.
	dataOffset = HeaderSize + 4
)

// Datatype codes (NIFTI_TYPE_*).
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
	DTInt64   int16 = 1024
	DTUint64  int16 = 1280
)

// IntentCorrel marks an image of correlation coefficients (NIFTI_INTENT_CORREL).
const IntentCorrel int16 = 2

var singleFileMagic = [4]byte{'n', '+', '1', 0}
var pairMagic = [4]byte{'n', 'i', '1', 0}

// Header is the on-disk NIfTI-1 header. Field order and sizes match nifti1.h
// exactly so the struct can be decoded with encoding/binary and converted to
// and from the library header.
type Header struct {
	SizeOfHdr    int32
	DataTypeName [10]byte
	DBName       [18]byte
	Extents      int32
	SessionError int16
	Regular      byte
	DimInfo      byte

	Dim        [8]int16
	IntentP1   float32
	IntentP2   float32
	IntentP3   float32
	IntentCode int16
	DataType   int16
	BitPix     int16
	SliceStart int16
	PixDim     [8]float32
	VoxOffset  float32
	SclSlope   float32
	SclInter   float32
	SliceEnd   int16
	SliceCode  byte
	XYZTUnits  byte
	CalMax     float32
	CalMin     float32

	SliceDuration float32
	TOffset       float32
	GLMax         int32
	GLMin         int32

	Descrip [80]byte
	AuxFile [24]byte

	QFormCode int16
	SFormCode int16

	QuaternB float32
	QuaternC float32
	QuaternD float32
	QOffsetX float32
	QOffsetY float32
	QOffsetZ float32

	SRowX [4]float32
	SRowY [4]float32
	SRowZ [4]float32

	IntentName [16]byte
	Magic      [4]byte
}

// Description returns the descrip field as a string.
func (h *Header) Description() string {
	return cString(h.Descrip[:])
}

// SetDescription stores s in the descrip field, truncating to 79 bytes.
func (h *Header) SetDescription(s string) {
	h.Descrip = [80]byte{}
	copy(h.Descrip[:79], s)
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// dims returns the spatial shape and number of frames described by the header.
// Images with more than four dimensions are only accepted when the extra
// dimensions are singletons.
func (h *Header) dims() (models.SpatialShape, int, error) {
	ndim := int(h.Dim[0])
	if ndim < 1 || ndim > 7 {
		return models.SpatialShape{}, 0, fmt.Errorf("dim[0]=%d out of range 1..7", ndim)
	}

	size := func(i int) int {
		if i > ndim || h.Dim[i] < 1 {
			return 1
		}
		return int(h.Dim[i])
	}

	for i := 5; i <= ndim; i++ {
		if size(i) != 1 {
			return models.SpatialShape{}, 0, fmt.Errorf("%d-D images are not supported (dim[%d]=%d)", ndim, i, h.Dim[i])
		}
	}

	shape := models.SpatialShape{X: size(1), Y: size(2), Z: size(3)}
	return shape, size(4), nil
}

// supportedDatatype reports whether voxels of type dt can be loaded.
func supportedDatatype(dt int16) bool {
	switch dt {
	case DTUint8, DTInt16, DTInt32, DTFloat32, DTFloat64:
		return true
	}
	return false
}

// convertHeader copies src into dst through the nifti1.h byte layout both
// structs share.
func convertHeader(dst, src interface{}) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, src); err != nil {
		return errors.Wrap(err, "failed to encode header")
	}
	if n := binary.Size(dst); n > buf.Len() {
		buf.Write(make([]byte, n-buf.Len()))
	}
	return errors.Wrap(binary.Read(&buf, binary.LittleEndian, dst), "failed to decode header")
}

// Affine returns the voxel-to-world transform. The sform is used when its code
// is set, then the qform, and otherwise a diagonal built from the voxel sizes.
func (h *Header) Affine() [4][4]float64 {
	var a [4][4]float64
	a[3][3] = 1

	if h.SFormCode > 0 {
		for j := 0; j < 4; j++ {
			a[0][j] = float64(h.SRowX[j])
			a[1][j] = float64(h.SRowY[j])
			a[2][j] = float64(h.SRowZ[j])
		}
		return a
	}

	dx, dy, dz := float64(h.PixDim[1]), float64(h.PixDim[2]), float64(h.PixDim[3])
	if h.QFormCode <= 0 {
		a[0][0], a[1][1], a[2][2] = dx, dy, dz
		return a
	}

	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	w := 1 - (b*b + c*c + d*d)
	if w < 1e-7 {
		// 180 degree rotation, renormalise
		n := 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d, w = b*n, c*n, d*n, 0
	} else {
		w = math.Sqrt(w)
	}

	qfac := float64(h.PixDim[0])
	if qfac != -1 {
		qfac = 1
	}
	dz *= qfac

	a[0][0] = (w*w + b*b - c*c - d*d) * dx
	a[0][1] = 2 * (b*c - w*d) * dy
	a[0][2] = 2 * (b*d + w*c) * dz
	a[1][0] = 2 * (b*c + w*d) * dx
	a[1][1] = (w*w + c*c - b*b - d*d) * dy
	a[1][2] = 2 * (c*d - w*b) * dz
	a[2][0] = 2 * (b*d - w*c) * dx
	a[2][1] = 2 * (c*d + w*b) * dy
	a[2][2] = (w*w + d*d - c*c - b*b) * dz
	a[0][3] = float64(h.QOffsetX)
	a[1][3] = float64(h.QOffsetY)
	a[2][3] = float64(h.QOffsetZ)
	return a
}
