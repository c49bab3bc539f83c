package reorg

import (
	"encoding/binary"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/npl-go/npcore/internal/coreerr"
	"github.com/npl-go/npcore/internal/mrimage"
	"github.com/npl-go/npcore/internal/ndarray"
)

// BuildOptions configures Build's three-pass run over a T x S grid of
// input images.
type BuildOptions struct {
	Images      [][]*mrimage.Image // Images[t][s], time-major
	Masks       []*ndarray.Store   // Masks[s], nil entries get a derived mask
	Prefix      string
	MaxDoubles  int
	Normalize   bool // z-score each time series before writing it
}

// spaceBlock tracks the accumulated state of one column-range while
// passes 2 and 3 run.
type spaceBlock struct {
	mask       *ndarray.Store
	maskCoords [][]int // spatial index of each masked voxel, in flat order
	colStart   int     // first global column this space-block owns
	nCols      int
}

// Build runs the three-pass reorganization described in §4.9: mask
// derivation, chunk-file creation, and the data copy, returning an open
// Reorg ready for post_mult/pre_mult.
func Build(opts BuildOptions) (*Reorg, error) {
	T := len(opts.Images)
	if T == 0 {
		return nil, &coreerr.InvalidArgument{Op: "reorg.Build", Reason: "no time-blocks given"}
	}
	S := len(opts.Images[0])
	if S == 0 {
		return nil, &coreerr.InvalidArgument{Op: "reorg.Build", Reason: "no space-blocks given"}
	}

	tlens := make([]int, T)
	for t := 0; t < T; t++ {
		if len(opts.Images[t]) != S {
			return nil, &coreerr.InvalidArgument{Op: "reorg.Build", Reason: "ragged image grid"}
		}
		rowTlen := tlenOf(opts.Images[t][0])
		for s := 1; s < S; s++ {
			if tlenOf(opts.Images[t][s]) != rowTlen {
				return nil, &coreerr.InvalidArgument{Op: "reorg.Build", Reason: "time-block row has mismatched tlen"}
			}
		}
		tlens[t] = rowTlen
	}
	R := 0
	for _, l := range tlens {
		R += l
	}

	// Pass 1: masks and column counts.
	blocks := make([]*spaceBlock, S)
	C := 0
	for s := 0; s < S; s++ {
		var mask *ndarray.Store
		if s < len(opts.Masks) && opts.Masks[s] != nil {
			mask = opts.Masks[s]
		} else {
			mask = derivedMask(opts.Images[0][s])
		}
		if err := writeRawStore(maskPath(opts.Prefix, s), mask); err != nil {
			return nil, err
		}
		coords := maskCoordinates(mask)
		m := len(coords)
		if m > 0 && R > opts.MaxDoubles {
			return nil, errChunkOverflow
		}
		blocks[s] = &spaceBlock{mask: mask, maskCoords: coords, colStart: C, nCols: m}
		C += m
	}

	// Pass 2: chunk-file creation. A new chunk starts whenever the next
	// voxel would cross a space-block boundary or exceed max_doubles.
	var chunks []*chunk
	chunkIdx := 0
	var cur *chunk
	var curLocalStart int // column within the space-block where cur's coverage started

	startChunk := func(colOffset int) error {
		path := chunkPath(opts.Prefix, chunkIdx)
		chunkIdx++
		c := &chunk{path: path, rows: R, colOffset: colOffset}
		chunks = append(chunks, c)
		cur = c
		return nil
	}

	for s := 0; s < S; s++ {
		b := blocks[s]
		curLocalStart = 0
		if b.nCols == 0 {
			continue
		}
		if cur == nil {
			if err := startChunk(b.colStart); err != nil {
				return nil, err
			}
		}
		for curLocalStart < b.nCols {
			avail := opts.MaxDoubles/R - cur.cols
			if avail < 1 {
				if err := startChunk(b.colStart + curLocalStart); err != nil {
					return nil, err
				}
				avail = opts.MaxDoubles / R
				if avail < 1 {
					avail = 1
				}
			}
			take := b.nCols - curLocalStart
			if take > avail {
				take = avail
			}
			cur.cols += take
			curLocalStart += take
			if curLocalStart < b.nCols {
				// more of this space-block remains: must start a fresh
				// chunk since no chunk may cross a space-block boundary
				// boundary is also enforced at the top of the next s
				// iteration, but a mid-block continuation needs it here.
				if err := startChunk(b.colStart + curLocalStart); err != nil {
					return nil, err
				}
			}
		}
		cur = nil
	}

	for _, c := range chunks {
		if err := createChunkFile(c); err != nil {
			return nil, err
		}
	}

	// Pass 3: copy data, locating each global column's owning chunk.
	chunkForCol := func(col int) (*chunk, int) {
		for _, c := range chunks {
			if col >= c.colOffset && col < c.colOffset+c.cols {
				return c, col - c.colOffset
			}
		}
		return nil, -1
	}

	for t := 0; t < T; t++ {
		rowOffset := 0
		for tt := 0; tt < t; tt++ {
			rowOffset += tlens[tt]
		}
		tlen := tlens[t]
		for s := 0; s < S; s++ {
			b := blocks[s]
			img := opts.Images[t][s]
			acc := ndarray.NewAccessorFloat64(img.Store)
			for localCol, coord := range b.maskCoords {
				globalCol := b.colStart + localCol
				c, lc := chunkForCol(globalCol)
				if c == nil {
					return nil, &coreerr.RuntimeError{Op: "reorg.Build", Path: opts.Prefix}
				}
				series := make([]float64, tlen)
				for k := 0; k < tlen; k++ {
					idx := append(append([]int(nil), coord...), k)
					v, _ := acc.Get(idx...)
					series[k] = v
				}
				if opts.Normalize {
					zscore(series)
				}
				for k := 0; k < tlen; k++ {
					c.set(rowOffset+k, lc, series[k])
				}
			}
		}
	}

	for _, c := range chunks {
		if err := c.m.Flush(); err != nil {
			return nil, &coreerr.RuntimeError{Op: "reorg.Build", Path: c.path, Err: err}
		}
	}

	chunkCols := make([]int, len(chunks))
	for i, c := range chunks {
		chunkCols[i] = c.cols
	}
	masks := make([]*ndarray.Store, S)
	for s, b := range blocks {
		masks[s] = b.mask
	}

	return &Reorg{Prefix: opts.Prefix, Rows: R, Cols: C, chunks: chunks, masks: masks, chunkCols: chunkCols}, nil
}

func zscore(series []float64) {
	var mean float64
	for _, v := range series {
		mean += v
	}
	mean /= float64(len(series))
	var variance float64
	for _, v := range series {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(series))
	sd := math.Sqrt(variance)
	if sd == 0 {
		return
	}
	for i, v := range series {
		series[i] = (v - mean) / sd
	}
}

func maskCoordinates(mask *ndarray.Store) [][]int {
	acc := ndarray.NewAccessorFloat64(mask)
	shape := mask.Shape()
	var coords [][]int
	idx := make([]int, len(shape))
	var walk func(axis int)
	walk = func(axis int) {
		if axis == len(shape) {
			v, _ := acc.Get(idx...)
			if v != 0 {
				coords = append(coords, append([]int(nil), idx...))
			}
			return
		}
		for i := 0; i < shape[axis]; i++ {
			idx[axis] = i
			walk(axis + 1)
		}
	}
	walk(0)
	return coords
}

func createChunkFile(c *chunk) error {
	size := int64(headerBytes) + 8*int64(c.rows)*int64(c.cols)
	f, err := os.OpenFile(c.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &coreerr.RuntimeError{Op: "reorg.createChunkFile", Path: c.path, Err: err}
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return &coreerr.RuntimeError{Op: "reorg.createChunkFile", Path: c.path, Err: err}
	}
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return &coreerr.RuntimeError{Op: "reorg.createChunkFile", Path: c.path, Err: err}
	}
	binary.LittleEndian.PutUint64(m[0:8], uint64(c.rows))
	binary.LittleEndian.PutUint64(m[8:16], uint64(c.cols))
	c.f = f
	c.m = m
	return nil
}

// writeRawStore persists a mask as a small raw file: shape header then
// the accessor-cast float64 values, so LoadMats can recover it without
// re-deriving from image data.
func writeRawStore(path string, s *ndarray.Store) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &coreerr.RuntimeError{Op: "reorg.writeRawStore", Path: path, Err: err}
	}
	defer f.Close()

	shape := s.Shape()
	hdr := make([]byte, 8+8*len(shape))
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(len(shape)))
	for i, d := range shape {
		binary.LittleEndian.PutUint64(hdr[8+8*i:16+8*i], uint64(d))
	}
	if _, err := f.Write(hdr); err != nil {
		return &coreerr.RuntimeError{Op: "reorg.writeRawStore", Path: path, Err: err}
	}

	acc := ndarray.NewAccessorFloat64(s)
	idx := make([]int, len(shape))
	buf := make([]byte, 8)
	var walkErr error
	var walk func(axis int)
	walk = func(axis int) {
		if walkErr != nil {
			return
		}
		if axis == len(shape) {
			v, _ := acc.Get(idx...)
			binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
			if _, err := f.Write(buf); err != nil {
				walkErr = err
			}
			return
		}
		for i := 0; i < shape[axis]; i++ {
			idx[axis] = i
			walk(axis + 1)
		}
	}
	walk(0)
	if walkErr != nil {
		return &coreerr.RuntimeError{Op: "reorg.writeRawStore", Path: path, Err: walkErr}
	}
	return nil
}
