// Package llc handles the IEC 8802-2 header carried by the first hdlc I-frame
// of every pdu.
package llc

import (
	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/buffer"
)

// Header returns bytes the given role puts in front of the pdu.
func Header(server bool) []byte {
	if server {
		return base.LLCReplyBytes
	}
	return base.LLCSendBytes
}

// Skip consumes header sent by the peer if it is there. Missing header is
// tolerated, some meters leave it out in continuation frames.
func Skip(server bool, b *buffer.Buffer) bool {
	return b.Compare(Header(!server))
}
