package niftiio

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/klauspost/pgzip"
	"gonum.org/v1/gonum/mat"

	"github.com/npl-go/npcore/internal/coreerr"
	"github.com/npl-go/npcore/internal/mrimage"
	"github.com/npl-go/npcore/internal/ndarray"
)

// Version selects the header serializer. Only the NIfTI-1 single-file
// ("n+1") layout is implemented; the field is kept so callers can
// select a format flag per §6's "version-1/version-2... selectable by
// a numeric flag" requirement.
type Version int

const (
	Version1 Version = 1
	Version2 Version = 2
)

var magicN1 = [4]int8{110, 43, 49, 0} // "n+1\0"

func sliceOrderToCode(o mrimage.SliceOrder) int8 {
	switch o {
	case mrimage.SliceOrderSeq:
		return sliceSeq
	case mrimage.SliceOrderRSeq:
		return sliceRSeq
	case mrimage.SliceOrderAlt:
		return sliceAlt
	case mrimage.SliceOrderRAlt:
		return sliceRAlt
	case mrimage.SliceOrderAltShift:
		return sliceAltShift
	case mrimage.SliceOrderRAltShift:
		return sliceRAlt2
	}
	return 0
}

func codeToSliceOrder(c int8) mrimage.SliceOrder {
	switch c {
	case sliceSeq:
		return mrimage.SliceOrderSeq
	case sliceRSeq:
		return mrimage.SliceOrderRSeq
	case sliceAlt:
		return mrimage.SliceOrderAlt
	case sliceRAlt:
		return mrimage.SliceOrderRAlt
	case sliceAltShift:
		return mrimage.SliceOrderAltShift
	case sliceRAlt2:
		return mrimage.SliceOrderRAltShift
	}
	return mrimage.SliceOrderUnset
}

// ReadImage reads a NIfTI-1 single-file image from path, round-
// tripping direction, spacing, origin, phase/slice/frequency dimension
// indices, slice timing, and pixel data.
func ReadImage(path string) (*mrimage.Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &coreerr.RuntimeError{Op: "niftiio.ReadImage", Path: path, Err: err}
	}
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, &coreerr.RuntimeError{Op: "niftiio.ReadImage", Path: path, Err: err}
		}
		raw, err = io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, &coreerr.RuntimeError{Op: "niftiio.ReadImage", Path: path, Err: err}
		}
	}
	if len(raw) < headerSize {
		return nil, &coreerr.RuntimeError{Op: "niftiio.ReadImage", Path: path, Err: errTruncated}
	}

	order, err := detectByteOrder(raw)
	if err != nil {
		return nil, &coreerr.RuntimeError{Op: "niftiio.ReadImage", Path: path, Err: err}
	}

	var h Header
	if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
		return nil, &coreerr.RuntimeError{Op: "niftiio.ReadImage", Path: path, Err: err}
	}
	if h.SizeOfHdr != minHeaderSize {
		return nil, &coreerr.RuntimeError{Op: "niftiio.ReadImage", Path: path, Err: errBadHeaderSize}
	}

	kind, err := datatypeToKind(h.DataType)
	if err != nil {
		return nil, err
	}

	ndim := int(h.Dim[0])
	if ndim < 1 || ndim > 7 {
		return nil, &coreerr.InvalidArgument{Op: "niftiio.ReadImage", Reason: "dim[0] out of range"}
	}
	shape := make([]int, ndim)
	for i := 0; i < ndim; i++ {
		shape[i] = int(h.Dim[i+1])
	}

	store, err := ndarray.Create(shape, kind)
	if err != nil {
		return nil, err
	}

	voxOffset := int(h.VoxOffset)
	if voxOffset < headerSize {
		voxOffset = headerSize
	}
	dataBytes := len(store.Bytes())
	if voxOffset+dataBytes > len(raw) {
		return nil, &coreerr.RuntimeError{Op: "niftiio.ReadImage", Path: path, Err: errTruncated}
	}
	copy(rawStoreBytes(store), raw[voxOffset:voxOffset+dataBytes])

	img := mrimage.New(store)

	spacing := make([]float64, ndim)
	for i := 0; i < ndim; i++ {
		spacing[i] = float64(h.PixDim[i+1])
	}

	var direction *mat.Dense
	var origin []float64
	if h.SFormCode != xformUnknown {
		direction, origin = sformToDirectionOrigin(h, spacing)
	} else {
		direction = identity3()
		origin = []float64{0, 0, 0}
	}
	if len(origin) < ndim {
		padded := make([]float64, ndim)
		copy(padded, origin)
		origin = padded
	} else {
		origin = origin[:ndim]
	}
	if ndim != 3 {
		full := mat.NewDense(ndim, ndim, nil)
		for i := 0; i < ndim; i++ {
			for j := 0; j < ndim; j++ {
				if i < 3 && j < 3 {
					full.Set(i, j, direction.At(i, j))
				} else if i == j {
					full.Set(i, j, 1)
				}
			}
		}
		direction = full
	}

	if err := img.SetOrient(origin, spacing, direction, true); err != nil {
		return nil, err
	}

	freqDim, phaseDim, sliceDim := decodeDimInfo(h.DimInfo)
	img.FreqDim = freqDim
	img.PhaseDim = phaseDim
	img.SliceDim = sliceDim
	img.SliceDuration = float64(h.SliceDuration)
	img.SliceStart = int(h.SliceStart)
	img.SliceEnd = int(h.SliceEnd)
	img.SliceOrderVal = codeToSliceOrder(h.SliceCode)
	if err := img.ComputeSliceTiming(); err != nil {
		return nil, err
	}

	return img, nil
}

var errTruncated = &truncatedErr{}
var errBadHeaderSize = &badHeaderSizeErr{}

type truncatedErr struct{}

func (e *truncatedErr) Error() string { return "niftiio: file shorter than its declared data size" }

type badHeaderSizeErr struct{}

func (e *badHeaderSizeErr) Error() string { return "niftiio: sizeof_hdr field is not 348" }

func detectByteOrder(raw []byte) (binary.ByteOrder, error) {
	sizeLE := int32(binary.LittleEndian.Uint32(raw[0:4]))
	if sizeLE == minHeaderSize {
		return binary.LittleEndian, nil
	}
	sizeBE := int32(binary.BigEndian.Uint32(raw[0:4]))
	if sizeBE == minHeaderSize {
		return binary.BigEndian, nil
	}
	return nil, errBadHeaderSize
}

// rawStoreBytes returns a Store's backing buffer (Bytes) for the codec's
// direct byte copy.
func rawStoreBytes(s *ndarray.Store) []byte {
	return s.Bytes()
}

func decodeDimInfo(info int8) (freq, phase, slice int) {
	u := uint8(info)
	freq = int(u & 0x03)
	phase = int((u >> 2) & 0x03)
	slice = int((u >> 4) & 0x03)
	return freq - 1, phase - 1, slice - 1
}

func encodeDimInfo(freq, phase, slice int) int8 {
	var u uint8
	u |= uint8(freq+1) & 0x03
	u |= (uint8(phase+1) & 0x03) << 2
	u |= (uint8(slice+1) & 0x03) << 4
	return int8(u)
}

func identity3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

// sformToDirectionOrigin recovers a direction cosine matrix and origin
// from the sform rows, dividing out each column's spacing so direction
// stays a pure rotation/reflection matrix (mirroring mrimage.Image's
// affine = direction*diag(spacing) + origin convention).
func sformToDirectionOrigin(h Header, spacing []float64) (*mat.Dense, []float64) {
	rows := [3][4]float32{h.SRowX, h.SRowY, h.SRowZ}
	dir := mat.NewDense(3, 3, nil)
	origin := make([]float64, 3)
	for i := 0; i < 3; i++ {
		origin[i] = float64(rows[i][3])
		for j := 0; j < 3 && j < len(spacing); j++ {
			s := spacing[j]
			if s == 0 {
				s = 1
			}
			dir.Set(i, j, float64(rows[i][j])/s)
		}
	}
	return dir, origin
}

func directionOriginToSform(img *mrimage.Image) (rows [3][4]float32) {
	dir := img.Direction()
	spacing := img.Spacing()
	origin := img.Origin()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3 && j < len(spacing); j++ {
			rows[i][j] = float32(dir.At(i, j) * spacing[j])
		}
		if i < len(origin) {
			rows[i][3] = float32(origin[i])
		}
	}
	return rows
}

// WriteImage writes img as a single-file NIfTI image to path. version
// selects the header serializer; only Version1 is implemented, and a
// request for any other version raises InvalidArgument.
func WriteImage(img *mrimage.Image, path string, version Version) error {
	if version != Version1 {
		return &coreerr.InvalidArgument{Op: "niftiio.WriteImage", Reason: "only NIfTI-1 single-file output is implemented"}
	}

	shape := img.Store.Shape()
	if len(shape) > 7 {
		return &coreerr.InvalidArgument{Op: "niftiio.WriteImage", Reason: "rank exceeds 7"}
	}

	var h Header
	h.SizeOfHdr = minHeaderSize
	h.Dim[0] = int16(len(shape))
	for i, d := range shape {
		h.Dim[i+1] = int16(d)
	}
	for i := len(shape); i < 7; i++ {
		h.Dim[i+1] = 1
	}

	code, bitpix, err := kindToDatatype(img.Store.Kind())
	if err != nil {
		return err
	}
	h.DataType = code
	h.BitPix = bitpix

	spacing := img.Spacing()
	for i, s := range spacing {
		if i+1 < 8 {
			h.PixDim[i+1] = float32(s)
		}
	}

	h.SFormCode = xformAligned
	h.QFormCode = xformUnknown
	rows := directionOriginToSform(img)
	h.SRowX, h.SRowY, h.SRowZ = rows[0], rows[1], rows[2]

	h.DimInfo = encodeDimInfo(img.FreqDim, img.PhaseDim, img.SliceDim)
	h.SliceCode = sliceOrderToCode(img.SliceOrderVal)
	h.SliceStart = int16(img.SliceStart)
	h.SliceEnd = int16(img.SliceEnd)
	h.SliceDuration = float32(img.SliceDuration)
	h.XYZTUnits = unitsMM | unitsSec

	h.VoxOffset = headerSize
	h.Magic = magicN1

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, &h); err != nil {
		return &coreerr.RuntimeError{Op: "niftiio.WriteImage", Path: path, Err: err}
	}
	for buf.Len() < headerSize {
		buf.WriteByte(0)
	}
	buf.Write(rawStoreBytes(img.Store))

	out := buf.Bytes()
	if strings.HasSuffix(path, ".gz") {
		gzBuf := new(bytes.Buffer)
		zw := pgzip.NewWriter(gzBuf)
		if _, err := zw.Write(out); err != nil {
			zw.Close()
			return &coreerr.RuntimeError{Op: "niftiio.WriteImage", Path: path, Err: err}
		}
		if err := zw.Close(); err != nil {
			return &coreerr.RuntimeError{Op: "niftiio.WriteImage", Path: path, Err: err}
		}
		out = gzBuf.Bytes()
	}

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return &coreerr.RuntimeError{Op: "niftiio.WriteImage", Path: path, Err: err}
	}
	slog.Debug("niftiio: wrote image", "path", path, "shape", shape, "datatype", code, "compressed", strings.HasSuffix(path, ".gz"))
	return nil
}
