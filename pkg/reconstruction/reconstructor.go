// Package reconstruction turns a flat correlation map back into an image.
//
// The map is indexed by unit in the order models.SpatialShape.Index defines;
// volumes are stored x-fastest as on disk. Reshape and Flatten convert between
// the two and are exact inverses, so no voxel can move between input and
// output.
package reconstruction

import (
	"fmt"

	"seedcorr/internal/models"
	"seedcorr/pkg/nifti"
)

// OutputDescription is written to the descrip field of every correlation map.
const OutputDescription = "seedcorr Pearson r"

// Reshape scatters flat, one value per unit, into a single-frame volume of the
// given shape.
func Reshape(flat []float64, shape models.SpatialShape) (*models.Volume, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if len(flat) != shape.Units() {
		return nil, fmt.Errorf("cannot reshape %d values into %v (%d units)", len(flat), shape, shape.Units())
	}

	vol := models.NewVolume(shape, 1)
	for u, v := range flat {
		x, y, z := shape.Coord(u)
		vol.Set(x, y, z, 0, v)
	}
	return vol, nil
}

// Flatten gathers a single-frame volume into one value per unit. It is the
// inverse of Reshape.
func Flatten(vol *models.Volume) ([]float64, error) {
	if vol.Frames != 1 {
		return nil, fmt.Errorf("cannot flatten a volume with %d frames, expected 1", vol.Frames)
	}
	units := vol.Shape.Units()
	if len(vol.Data) != units {
		return nil, fmt.Errorf("volume of shape %v holds %d values, expected %d", vol.Shape, len(vol.Data), units)
	}

	flat := make([]float64, units)
	for u := range flat {
		x, y, z := vol.Shape.Coord(u)
		flat[u] = vol.At(x, y, z, 0)
	}
	return flat, nil
}

// NewOutputImage pairs vol with a copy of the functional image header. The
// spatial transform, voxel sizes and units are kept; intensity scaling, display
// range and intent are cleared since they described the functional data, not
// correlation coefficients.
func NewOutputImage(template nifti.Header, vol *models.Volume) *nifti.Image {
	h := template
	h.SclSlope = 1
	h.SclInter = 0
	h.CalMin = -1
	h.CalMax = 1
	h.IntentCode = nifti.IntentCorrel
	h.IntentP1, h.IntentP2, h.IntentP3 = 0, 0, 0
	h.IntentName = [16]byte{}
	copy(h.IntentName[:], "Pearson r")
	h.GLMin, h.GLMax = 0, 0
	h.SetDescription(OutputDescription)

	return &nifti.Image{Header: h, Volume: vol}
}
