// Package niftiio is the external-collaborator NIfTI codec §6 names: a
// pure-Go reader/writer that round-trips direction, spacing, origin,
// phase/slice/frequency dimension indices, slice timing, and pixel data
// through an *mrimage.Image. Only the NIfTI-1 single-file layout is read
// and written; NIfTI-2 is not supported, and WriteImage rejects
// Version2. Grounded on the nifti1 header layout, reimplemented without
// cgo.
package niftiio

// Header is the 348-byte NIfTI-1 on-disk header, laid out field for
// field as the format defines it (int32/int16/float32/int8 in the C
// header become int32/int16/float32/int8 here).
type Header struct {
	SizeOfHdr          int32
	UnusedDataType     [10]int8
	UnusedDbName       [18]int8
	UnusedExtents      int32
	UnusedSessionError int16
	UnusedRegular      int8
	DimInfo            int8

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
	SliceCode  int8
	XYZTUnits  int8
	CalMax     float32
	CalMin     float32

	SliceDuration float32
	TOffset       float32
	UnusedGlmax   int32
	UnusedGlmin   int32

	Descrip [80]int8
	AuxFile [24]int8

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

	IntentName [16]int8

	Magic [4]int8
}

const (
	minHeaderSize = 348
	headerSize    = 352
)

// datatype codes, NIFTI_TYPE_*.
const (
	dtUint8      = 2
	dtInt16      = 4
	dtInt32      = 8
	dtFloat32    = 16
	dtComplex64  = 32
	dtFloat64    = 64
	dtRGB24      = 128
	dtInt8       = 256
	dtUint16     = 512
	dtUint32     = 768
	dtInt64      = 1024
	dtUint64     = 1280
	dtFloat128   = 1536
	dtComplex128 = 1792
	dtComplex256 = 2048
	dtRGBA32     = 2304
)

// xform codes, NIFTI_XFORM_*.
const (
	xformUnknown = 0
	xformAligned = 2
)

// units codes, NIFTI_UNITS_* (space bits, low 3 bits of xyzt_units).
const (
	unitsMM  = 2
	unitsSec = 8
)

// slice-code values, NIFTI_SLICE_*.
const (
	sliceSeq      = 1
	sliceRSeq     = 2
	sliceAlt      = 3
	sliceRAlt     = 4
	sliceAltShift = 5
	sliceRAlt2    = 6
)
