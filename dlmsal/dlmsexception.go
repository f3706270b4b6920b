package dlmsal

import (
	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/buffer"
)

// DecodeException reads state and service error following exception
// response tag. Missing bytes are reported as other reason.
func DecodeException(b *buffer.Buffer) *base.ExceptionError {
	e := &base.ExceptionError{Service: base.ExceptionServiceErrorOtherReason}
	v, err := b.Uint8()
	if err != nil {
		return e
	}
	e.State = base.ExceptionStateError(v)
	v, err = b.Uint8()
	if err != nil {
		return e
	}
	e.Service = base.ExceptionServiceError(v)
	return e
}

// EncodeException appends exception response.
func EncodeException(dst *buffer.Buffer, state base.ExceptionStateError, service base.ExceptionServiceError) {
	dst.SetUint8(byte(base.TagExceptionResponse))
	dst.SetUint8(byte(state))
	dst.SetUint8(byte(service))
}
