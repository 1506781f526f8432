package tile

import "fmt"

// Grid is a matrix of tiles together with one live dependency token per
// slot. The grid exclusively owns its tiles: algorithm code borrows tiles by
// waiting on the slot token, never by copying the grid structure, and every
// slot occupies disjoint storage.
type Grid struct {
	rows, cols int // tile counts
	tr, tc     int // tile dimensions
	tiles      []*Tile
	tokens     []*Token
}

// NewGrid allocates a rows×cols grid of zero tiles of size tr×tc, with every
// slot token ready.
func NewGrid(rows, cols, tr, tc int) *Grid {
	g := &Grid{
		rows:   rows,
		cols:   cols,
		tr:     tr,
		tc:     tc,
		tiles:  make([]*Tile, rows*cols),
		tokens: make([]*Token, rows*cols),
	}
	for i := range g.tiles {
		g.tiles[i] = New(tr, tc)
		g.tokens[i] = Ready()
	}
	return g
}

// Shape returns the tile counts and tile dimensions.
func (g *Grid) Shape() (rows, cols, tr, tc int) {
	return g.rows, g.cols, g.tr, g.tc
}

// Tile returns the tile at grid position (i, j). The caller must hold (have
// waited on, or be scheduled after) the slot's current token before reading
// or writing the tile.
func (g *Grid) Tile(i, j int) *Tile {
	return g.tiles[i*g.cols+j]
}

// Token returns the live token for slot (i, j).
func (g *Grid) Token(i, j int) *Token {
	return g.tokens[i*g.cols+j]
}

// SetToken installs tok as the live token for slot (i, j), superseding the
// previous one. The superseded token remains resolvable but must not be used
// to order new reads of the slot.
func (g *Grid) SetToken(i, j int, tok *Token) {
	g.tokens[i*g.cols+j] = tok
}

// Wait blocks until every slot token is resolved and returns the first
// error encountered.
func (g *Grid) Wait() error {
	return WaitAll(g.tokens...)
}

// Partition splits a flattened row-major n×n matrix into a square grid of
// b×b tiles. n must be a multiple of b. The matrix data is copied; the
// caller's slice is not aliased.
func Partition(a []float64, n, b int) (*Grid, error) {
	return PartitionRect(a, n, n, b, b)
}

// PartitionRect splits a flattened row-major rows×cols matrix into a grid of
// tr×tc tiles.
func PartitionRect(a []float64, rows, cols, tr, tc int) (*Grid, error) {
	if tr <= 0 || tc <= 0 || rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: matrix %dx%d, tile %dx%d", ErrDimension, rows, cols, tr, tc)
	}
	if rows%tr != 0 || cols%tc != 0 {
		return nil, fmt.Errorf("%w: matrix %dx%d not divisible into %dx%d tiles", ErrDimension, rows, cols, tr, tc)
	}
	if len(a) != rows*cols {
		return nil, fmt.Errorf("%w: have %d elements, want %d", ErrDimension, len(a), rows*cols)
	}
	g := NewGrid(rows/tr, cols/tc, tr, tc)
	for i := 0; i < g.rows; i++ {
		for j := 0; j < g.cols; j++ {
			t := g.Tile(i, j)
			for r := 0; r < tr; r++ {
				src := (i*tr+r)*cols + j*tc
				copy(t.Data[r*tc:(r+1)*tc], a[src:src+tc])
			}
		}
	}
	return g, nil
}

// PartitionVector splits a length-n vector into a column grid of b×1 tiles.
func PartitionVector(v []float64, b int) (*Grid, error) {
	return PartitionRect(v, len(v), 1, b, 1)
}

// Identity builds an nt×nt grid of b×b tiles holding the N×N identity
// matrix, N = nt*b. Used as the right-hand side when forming K⁻¹ through
// the matrix triangular solves.
func Identity(nt, b int) *Grid {
	g := NewGrid(nt, nt, b, b)
	for k := 0; k < nt; k++ {
		t := g.Tile(k, k)
		for i := 0; i < b; i++ {
			t.Set(i, i, 1)
		}
	}
	return g
}

// Clone returns a deep copy of the grid's tiles with fresh ready tokens.
// The source must be quiescent: every slot token resolved.
func (g *Grid) Clone() *Grid {
	c := NewGrid(g.rows, g.cols, g.tr, g.tc)
	for i, t := range g.tiles {
		copy(c.tiles[i].Data, t.Data)
	}
	return c
}

// Assemble flattens the grid back into a row-major matrix.
func (g *Grid) Assemble() []float64 {
	rows, cols := g.rows*g.tr, g.cols*g.tc
	out := make([]float64, rows*cols)
	for i := 0; i < g.rows; i++ {
		for j := 0; j < g.cols; j++ {
			t := g.Tile(i, j)
			for r := 0; r < g.tr; r++ {
				dst := (i*g.tr+r)*cols + j*g.tc
				copy(out[dst:dst+g.tc], t.Data[r*g.tc:(r+1)*g.tc])
			}
		}
	}
	return out
}
