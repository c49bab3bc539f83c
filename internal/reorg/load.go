package reorg

import (
	"encoding/binary"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/npl-go/npcore/internal/coreerr"
	"github.com/npl-go/npcore/internal/ndarray"
)

// LoadMats reopens a previously built Reorg from disk, re-deriving
// (R, C, chunkCols) from the chunk headers and failing if the chunks
// are mutually inconsistent or truncated.
func LoadMats(prefix string, numChunks, numMasks int) (*Reorg, error) {
	var chunks []*chunk
	colOffset := 0
	rows := -1
	for i := 0; i < numChunks; i++ {
		path := chunkPath(prefix, i)
		c, err := openChunk(path, colOffset)
		if err != nil {
			return nil, err
		}
		if rows == -1 {
			rows = c.rows
		} else if c.rows != rows {
			return nil, &coreerr.RuntimeError{Op: "reorg.LoadMats", Path: path, Err: errInconsistentHeader}
		}
		colOffset += c.cols
		chunks = append(chunks, c)
	}

	masks := make([]*ndarray.Store, numMasks)
	for s := 0; s < numMasks; s++ {
		m, err := readRawStore(maskPath(prefix, s))
		if err != nil {
			return nil, err
		}
		masks[s] = m
	}

	chunkCols := make([]int, len(chunks))
	for i, c := range chunks {
		chunkCols[i] = c.cols
	}

	return &Reorg{Prefix: prefix, Rows: rows, Cols: colOffset, chunks: chunks, masks: masks, chunkCols: chunkCols}, nil
}

var errInconsistentHeader = &coreerr.InvalidArgument{Op: "reorg.LoadMats", Reason: "chunk row counts disagree"}

func openChunk(path string, colOffset int) (*chunk, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, &coreerr.RuntimeError{Op: "reorg.openChunk", Path: path, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &coreerr.RuntimeError{Op: "reorg.openChunk", Path: path, Err: err}
	}
	if info.Size() < headerBytes {
		f.Close()
		return nil, &coreerr.RuntimeError{Op: "reorg.openChunk", Path: path, Err: errTruncatedHeader}
	}
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, &coreerr.RuntimeError{Op: "reorg.openChunk", Path: path, Err: err}
	}
	rows := int(binary.LittleEndian.Uint64(m[0:8]))
	cols := int(binary.LittleEndian.Uint64(m[8:16]))
	wantSize := int64(headerBytes) + 8*int64(rows)*int64(cols)
	if info.Size() != wantSize {
		m.Unmap()
		f.Close()
		return nil, &coreerr.RuntimeError{Op: "reorg.openChunk", Path: path, Err: errSizeMismatch}
	}
	return &chunk{path: path, f: f, m: m, rows: rows, cols: cols, colOffset: colOffset}, nil
}

var errTruncatedHeader = &coreerr.InvalidArgument{Op: "reorg.openChunk", Reason: "file too small to hold header"}
var errSizeMismatch = &coreerr.InvalidArgument{Op: "reorg.openChunk", Reason: "file length does not match header (R, chunk_cols)"}

func readRawStore(path string) (*ndarray.Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &coreerr.RuntimeError{Op: "reorg.readRawStore", Path: path, Err: err}
	}
	defer f.Close()

	rankBuf := make([]byte, 8)
	if _, err := f.Read(rankBuf); err != nil {
		return nil, &coreerr.RuntimeError{Op: "reorg.readRawStore", Path: path, Err: err}
	}
	rank := int(binary.LittleEndian.Uint64(rankBuf))
	shapeBuf := make([]byte, 8*rank)
	if _, err := f.Read(shapeBuf); err != nil {
		return nil, &coreerr.RuntimeError{Op: "reorg.readRawStore", Path: path, Err: err}
	}
	shape := make([]int, rank)
	n := 1
	for i := 0; i < rank; i++ {
		shape[i] = int(binary.LittleEndian.Uint64(shapeBuf[8*i : 8*i+8]))
		n *= shape[i]
	}

	s, err := ndarray.Create(shape, ndarray.KindUint8)
	if err != nil {
		return nil, err
	}
	acc := ndarray.NewAccessorFloat64(s)
	valBuf := make([]byte, 8)
	idx := make([]int, rank)
	var walk func(axis int)
	walk = func(axis int) {
		if axis == rank {
			if _, err := f.Read(valBuf); err == nil {
				_ = acc.Set(math.Float64frombits(binary.LittleEndian.Uint64(valBuf)), idx...)
			}
			return
		}
		for i := 0; i < shape[axis]; i++ {
			idx[axis] = i
			walk(axis + 1)
		}
	}
	walk(0)
	return s, nil
}
