// Package tile implements the tiled matrix representation used by the
// solver: dense row-major blocks of float64 values, a grid of such blocks
// standing in for a full matrix, and the per-slot dependency tokens that
// order concurrent kernel invocations against each block.
package tile

import "errors"

// ErrDimension is returned when a matrix or vector cannot be partitioned
// into the requested tile geometry, or when grids with incompatible shapes
// are combined.
var ErrDimension = errors.New("tile: dimension mismatch")

// Tile is a dense row-major block of float64 values. It is the unit of
// ownership and dependency tracking: a tile is never partially updated by
// two concurrent kernels.
type Tile struct {
	Rows, Cols int
	Data       []float64
}

// New allocates a zero-initialised tile.
func New(rows, cols int) *Tile {
	if rows < 0 || cols < 0 {
		panic("tile: negative dimension")
	}
	return &Tile{
		Rows: rows,
		Cols: cols,
		Data: make([]float64, rows*cols),
	}
}

// At returns the element at row i, column j.
func (t *Tile) At(i, j int) float64 {
	return t.Data[i*t.Cols+j]
}

// Set assigns the element at row i, column j.
func (t *Tile) Set(i, j int, v float64) {
	t.Data[i*t.Cols+j] = v
}

// Clone returns a deep copy of the tile.
func (t *Tile) Clone() *Tile {
	c := New(t.Rows, t.Cols)
	copy(c.Data, t.Data)
	return c
}

// Zero resets every element to 0.
func (t *Tile) Zero() {
	for i := range t.Data {
		t.Data[i] = 0
	}
}
