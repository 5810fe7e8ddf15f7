package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SpatialShape is the voxel grid of an image, without the time axis.
//
// Flat unit indices follow C order over (x, y, z): z varies fastest. This is the
// order in which FunctionalSeries rows are laid out and the order the correlation
// map is produced in, so Index and Coord must stay exact inverses.
type SpatialShape struct {
	X, Y, Z int
}

// Units returns the number of spatial units in the grid.
func (s SpatialShape) Units() int {
	return s.X * s.Y * s.Z
}

// Index returns the flat unit index of voxel (x, y, z).
func (s SpatialShape) Index(x, y, z int) int {
	return (x*s.Y+y)*s.Z + z
}

// Coord returns the voxel coordinates of flat unit index u.
func (s SpatialShape) Coord(u int) (x, y, z int) {
	z = u % s.Z
	u /= s.Z
	y = u % s.Y
	x = u / s.Y
	return x, y, z
}

// Validate reports whether every dimension is positive.
func (s SpatialShape) Validate() error {
	if s.X <= 0 || s.Y <= 0 || s.Z <= 0 {
		return fmt.Errorf("invalid spatial shape %v: every dimension must be positive", s)
	}
	return nil
}

func (s SpatialShape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.X, s.Y, s.Z)
}

// FunctionalSeries holds a functional image as a units-by-time matrix.
type FunctionalSeries struct {
	// Shape is the spatial grid the rows were flattened from
	Shape SpatialShape

	// Data has one row per spatial unit and one column per time point (TR)
	Data *mat.Dense
}

// NewFunctionalSeries wraps data, checking that its row count matches shape.
func NewFunctionalSeries(shape SpatialShape, data *mat.Dense) (*FunctionalSeries, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	rows, _ := data.Dims()
	if rows != shape.Units() {
		return nil, fmt.Errorf("functional series has %d rows but shape %v has %d units", rows, shape, shape.Units())
	}
	return &FunctionalSeries{Shape: shape, Data: data}, nil
}

// Units returns the number of spatial units (rows).
func (f *FunctionalSeries) Units() int {
	rows, _ := f.Data.Dims()
	return rows
}

// TimePoints returns the number of acquired time points (columns).
func (f *FunctionalSeries) TimePoints() int {
	_, cols := f.Data.Dims()
	return cols
}

// Row returns the time series of unit u. The slice aliases the matrix storage
// and must not be modified.
func (f *FunctionalSeries) Row(u int) []float64 {
	return f.Data.RawRowView(u)
}

// Volume is image data in on-disk NIfTI order: x varies fastest, then y, z and
// finally the frame (time) index.
type Volume struct {
	// Shape is the spatial grid of every frame
	Shape SpatialShape

	// Frames is the length of the trailing time-like dimension
	Frames int

	// Data holds Shape.Units()*Frames values
	Data []float64
}

// NewVolume allocates a zero-filled volume.
func NewVolume(shape SpatialShape, frames int) *Volume {
	return &Volume{
		Shape:  shape,
		Frames: frames,
		Data:   make([]float64, shape.Units()*frames),
	}
}

// Offset returns the position of voxel (x, y, z) in frame t within Data.
func (v *Volume) Offset(x, y, z, t int) int {
	s := v.Shape
	return x + s.X*(y+s.Y*(z+s.Z*t))
}

// At returns the value of voxel (x, y, z) in frame t.
func (v *Volume) At(x, y, z, t int) float64 {
	return v.Data[v.Offset(x, y, z, t)]
}

// Set stores val at voxel (x, y, z) in frame t.
func (v *Volume) Set(x, y, z, t int, val float64) {
	v.Data[v.Offset(x, y, z, t)] = val
}

// Series converts the volume into a units-by-frames matrix in unit order.
func (v *Volume) Series() (*FunctionalSeries, error) {
	if len(v.Data) != v.Shape.Units()*v.Frames {
		return nil, fmt.Errorf("volume holds %d values, expected %d for shape %v with %d frames",
			len(v.Data), v.Shape.Units()*v.Frames, v.Shape, v.Frames)
	}
	units := v.Shape.Units()
	data := make([]float64, units*v.Frames)
	for u := 0; u < units; u++ {
		x, y, z := v.Shape.Coord(u)
		row := data[u*v.Frames : (u+1)*v.Frames]
		for t := range row {
			row[t] = v.At(x, y, z, t)
		}
	}
	return NewFunctionalSeries(v.Shape, mat.NewDense(units, v.Frames, data))
}
