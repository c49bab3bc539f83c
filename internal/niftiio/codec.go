package niftiio

import (
	"github.com/npl-go/npcore/internal/coreerr"
	"github.com/npl-go/npcore/internal/ndarray"
)

func kindToDatatype(k ndarray.Kind) (code, bitpix int16, err error) {
	switch k {
	case ndarray.KindUint8:
		return dtUint8, 8, nil
	case ndarray.KindInt8:
		return dtInt8, 8, nil
	case ndarray.KindUint16:
		return dtUint16, 16, nil
	case ndarray.KindInt16:
		return dtInt16, 16, nil
	case ndarray.KindUint32:
		return dtUint32, 32, nil
	case ndarray.KindInt32:
		return dtInt32, 32, nil
	case ndarray.KindUint64:
		return dtUint64, 64, nil
	case ndarray.KindInt64:
		return dtInt64, 64, nil
	case ndarray.KindFloat32:
		return dtFloat32, 32, nil
	case ndarray.KindFloat64:
		return dtFloat64, 64, nil
	case ndarray.KindFloat128:
		return dtFloat128, 128, nil
	case ndarray.KindComplex64:
		return dtComplex64, 64, nil
	case ndarray.KindComplex128:
		return dtComplex128, 128, nil
	case ndarray.KindComplex256:
		return dtComplex256, 256, nil
	case ndarray.KindRGB24:
		return dtRGB24, 24, nil
	case ndarray.KindRGBA32:
		return dtRGBA32, 32, nil
	}
	return 0, 0, &coreerr.InvalidArgument{Op: "niftiio.kindToDatatype", Reason: "unknown scalar kind"}
}

func datatypeToKind(code int16) (ndarray.Kind, error) {
	switch code {
	case dtUint8:
		return ndarray.KindUint8, nil
	case dtInt8:
		return ndarray.KindInt8, nil
	case dtUint16:
		return ndarray.KindUint16, nil
	case dtInt16:
		return ndarray.KindInt16, nil
	case dtUint32:
		return ndarray.KindUint32, nil
	case dtInt32:
		return ndarray.KindInt32, nil
	case dtUint64:
		return ndarray.KindUint64, nil
	case dtInt64:
		return ndarray.KindInt64, nil
	case dtFloat32:
		return ndarray.KindFloat32, nil
	case dtFloat64:
		return ndarray.KindFloat64, nil
	case dtFloat128:
		return ndarray.KindFloat128, nil
	case dtComplex64:
		return ndarray.KindComplex64, nil
	case dtComplex128:
		return ndarray.KindComplex128, nil
	case dtComplex256:
		return ndarray.KindComplex256, nil
	case dtRGB24:
		return ndarray.KindRGB24, nil
	case dtRGBA32:
		return ndarray.KindRGBA32, nil
	}
	return ndarray.KindUnknown, &coreerr.InvalidArgument{Op: "niftiio.datatypeToKind", Reason: "unsupported NIfTI datatype code"}
}

