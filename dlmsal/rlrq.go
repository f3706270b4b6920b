package dlmsal

import (
	"fmt"

	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/buffer"
)

// EncodeReleaseRequest appends RLRQ, empty one when reason is nil.
func EncodeReleaseRequest(dst *buffer.Buffer, reason *base.ReleaseRequestReason) {
	dst.SetUint8(byte(base.TagRLRQ))
	if reason == nil {
		dst.SetUint8(0)
		return
	}
	dst.SetUint8(3)
	dst.SetUint8(base.BERTypeContext)
	dst.SetUint8(1)
	dst.SetUint8(byte(*reason))
}

// EncodeReleaseResponse appends RLRE with normal reason.
func EncodeReleaseResponse(dst *buffer.Buffer) {
	dst.Set([]byte{byte(base.TagRLRE), 3, base.BERTypeContext, 1, 0})
}

// ParseReleaseResponse checks RLRE and returns release reason if present.
func ParseReleaseResponse(b *buffer.Buffer) (reason byte, err error) {
	if err = expectbyte(b, byte(base.TagRLRE), "release response"); err != nil {
		return
	}
	l, err := readbyte(b, "release response")
	if err != nil {
		return
	}
	content, err := readbytes(b, int(l), "release response")
	if err != nil {
		return
	}
	if len(content) >= 3 && content[0] == base.BERTypeContext {
		if content[1] != 1 {
			return 0, fmt.Errorf("release response reason length %d: %w", content[1], base.ErrMalformedAPDU)
		}
		reason = content[2]
	}
	return
}
