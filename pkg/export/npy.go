// Package export writes correlation maps as NumPy .npy arrays.
package export

import (
	"os"

	"github.com/kshedden/gonpy"
	"github.com/pkg/errors"

	"seedcorr/internal/models"
)

// WriteNpy writes flat as a float64 array of shape (X, Y, Z, 1). Unit order is
// already C order over (x, y, z), so the values are written as they are.
func WriteNpy(path string, flat []float64, shape models.SpatialShape) error {
	if len(flat) != shape.Units() {
		return errors.Errorf("export: map has %d values, shape %v has %d units", len(flat), shape, shape.Units())
	}

	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		return errors.Wrapf(err, "export: failed to create %s", path)
	}
	w.Shape = []int{shape.X, shape.Y, shape.Z, 1}
	w.Version = 2

	if err := w.WriteFloat64(flat); err != nil {
		os.Remove(path)
		return errors.Wrapf(err, "export: failed to write %s", path)
	}
	return nil
}

// ReadNpy reads a map written by WriteNpy.
func ReadNpy(path string) ([]float64, models.SpatialShape, error) {
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, models.SpatialShape{}, errors.Wrapf(err, "export: failed to open %s", path)
	}

	shape := r.Shape
	if len(shape) == 4 && shape[3] == 1 {
		shape = shape[:3]
	}
	if len(shape) != 3 || r.ColumnMajor {
		return nil, models.SpatialShape{}, errors.Errorf("export: %s holds a %v array, expected (X, Y, Z, 1) in C order", path, r.Shape)
	}

	data, err := r.GetFloat64()
	if err != nil {
		return nil, models.SpatialShape{}, errors.Wrapf(err, "export: failed to read %s", path)
	}
	return data, models.SpatialShape{X: shape[0], Y: shape[1], Z: shape[2]}, nil
}
