// Package reorg implements the Matrix Reorganizer (C9): it converts a
// grid of T time-blocks by S space-blocks of 4-D images, each
// space-block carrying a mask, into a set of memory-mapped "tall"
// column-chunk files representing the implicit matrix
// X ∈ ℝ^{R×C}, R = Σ timepoints, C = Σ masked voxels, without ever
// holding the full matrix in RAM.
package reorg

import (
	"encoding/binary"
	"math"
	"os"
	"strconv"

	"github.com/edsrzf/mmap-go"

	"github.com/npl-go/npcore/internal/coreerr"
	"github.com/npl-go/npcore/internal/mrimage"
	"github.com/npl-go/npcore/internal/ndarray"
)

const headerBytes = 16

// chunk is one memory-mapped tall-chunk file: rows x cols of f64 in
// column-major order, preceded by the (rows, cols) header.
type chunk struct {
	path      string
	f         *os.File
	m         mmap.MMap
	rows      int
	cols      int
	colOffset int // first global column index this chunk covers
}

func (c *chunk) data() []byte { return c.m[headerBytes:] }

// at returns the element at (row, localCol) within this chunk.
func (c *chunk) at(row, localCol int) float64 {
	off := 8 * (localCol*c.rows + row)
	bits := binary.LittleEndian.Uint64(c.data()[off : off+8])
	return math.Float64frombits(bits)
}

func (c *chunk) set(row, localCol int, v float64) {
	off := 8 * (localCol*c.rows + row)
	binary.LittleEndian.PutUint64(c.data()[off:off+8], math.Float64bits(v))
}

// Reorg is an open set of tall-chunk files plus the masks that produced
// them, implementing the matrix products §4.9 exposes.
type Reorg struct {
	Prefix    string
	Rows      int
	Cols      int
	chunks    []*chunk
	masks     []*ndarray.Store
	chunkCols []int
}

// Close releases every mmap and underlying file handle.
func (r *Reorg) Close() error {
	var firstErr error
	for _, c := range r.chunks {
		if err := c.m.Unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := c.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats reports (rows, cols, chunkCols) without touching the mmap data,
// letting a caller inspect layout before deciding whether to load it.
func (r *Reorg) Stats() (rows, cols int, chunkCols []int) {
	return r.Rows, r.Cols, append([]int(nil), r.chunkCols...)
}

func maskPath(prefix string, s int) string {
	return prefix + "_mask_" + strconv.Itoa(s)
}

func chunkPath(prefix string, idx int) string {
	return prefix + "_chunk_" + strconv.Itoa(idx)
}

// countNonZero counts masked voxels in a mask store, treating any
// nonzero element as "in mask".
func countNonZero(s *ndarray.Store) int {
	acc := ndarray.NewAccessorFloat64(s)
	shape := s.Shape()
	n := 1
	for _, d := range shape {
		n *= d
	}
	count := 0
	idx := make([]int, len(shape))
	var walk func(axis int)
	walk = func(axis int) {
		if axis == len(shape) {
			v, _ := acc.Get(idx...)
			if v != 0 {
				count++
			}
			return
		}
		for i := 0; i < shape[axis]; i++ {
			idx[axis] = i
			walk(axis + 1)
		}
	}
	walk(0)
	return count
}

// derivedMask computes the fallback mask for a space-block when no
// explicit mask path is given: the non-zero-variance voxels of the
// first image in that column, collapsed over the time axis.
func derivedMask(first *mrimage.Image) *ndarray.Store {
	shape := first.Store.Shape()
	spatial := shape
	if len(shape) == 4 {
		spatial = shape[:3]
	}
	mask, _ := ndarray.Create(spatial, ndarray.KindUint8)
	acc := ndarray.NewAccessorFloat64(first.Store)
	maskAcc := ndarray.NewAccessorFloat64(mask)

	idx := make([]int, len(spatial))
	var walk func(axis int)
	walk = func(axis int) {
		if axis == len(spatial) {
			var variance float64
			if len(shape) == 4 {
				t := shape[3]
				var mean float64
				full := append([]int(nil), idx...)
				full = append(full, 0)
				vals := make([]float64, t)
				for k := 0; k < t; k++ {
					full[len(full)-1] = k
					v, _ := acc.Get(full...)
					vals[k] = v
					mean += v
				}
				mean /= float64(t)
				for _, v := range vals {
					variance += (v - mean) * (v - mean)
				}
			} else {
				v, _ := acc.Get(idx...)
				variance = v
			}
			if variance != 0 {
				_ = maskAcc.Set(1, idx...)
			}
			return
		}
		for i := 0; i < spatial[axis]; i++ {
			idx[axis] = i
			walk(axis + 1)
		}
	}
	walk(0)
	return mask
}

func tlenOf(img *mrimage.Image) int {
	shape := img.Store.Shape()
	if len(shape) < 4 {
		return 1
	}
	return shape[3]
}

// errChunkOverflow is returned by Build when a single masked column
// would be too large to fit in any chunk under max_doubles.
var errChunkOverflow = &coreerr.InvalidArgument{Op: "reorg.Build", Reason: "R (one column's length) exceeds max_doubles"}
