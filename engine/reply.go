// Package engine turns application pdus into link frames and back. It is
// synchronous and keeps no I/O of its own: callers feed received bytes into
// GetData until a reply is complete and send whatever SplitPDU or
// ReceiverReady produce. Exchange wraps that loop for a base.Stream.
package engine

import (
	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/buffer"
	"github.com/cybroslabs/libdlms-engine/dlmsal"
	"github.com/cybroslabs/libdlms-engine/settings"
)

// ReplyData collects one logical pdu which can arrive in several frames and
// several blocks.
type ReplyData struct {
	Data     *buffer.Buffer // pdu payload with headers of consumed blocks removed
	Command  base.CosemTag
	MoreData base.RequestTypes
	Error    base.DlmsResultTag

	BlockLength  int // declared raw data length of the last block
	ReadPosition int // where value decoding continues
	TotalCount   int // declared element count of a partially decoded array
	Count        int // elements decoded so far

	Complete bool // last GetData consumed a whole frame
	Echo     bool // last frame seen was our own request
	Peek     bool // decode values before all blocks are in

	Value    dlmsal.Value
	DataType dlmsal.DataTag
	Frame    byte // control byte of the last hdlc frame, 0 for wrapper
}

func NewReplyData() *ReplyData {
	return &ReplyData{Data: buffer.New(0)}
}

// Clear makes reply ready for the next request, the data buffer is reused.
func (r *ReplyData) Clear() {
	if r.Data == nil {
		r.Data = buffer.New(0)
	}
	r.Data.Clear()
	r.Command = base.TagNone
	r.MoreData = base.RequestTypesNone
	r.Error = base.TagResultSuccess
	r.BlockLength = 0
	r.ReadPosition = 0
	r.TotalCount = 0
	r.Count = 0
	r.Complete = false
	r.Echo = false
	r.Peek = false
	r.Value = nil
	r.DataType = dlmsal.TagNull
	r.Frame = 0
}

// IsMoreData reports whether the peer still owes a frame or a block and no
// error was returned so far.
func (r *ReplyData) IsMoreData() bool {
	return r.MoreData != base.RequestTypesNone && r.Error == base.TagResultSuccess
}

func debugf(s *settings.Settings, format string, v ...any) {
	if l := s.Logger(); l != nil {
		l.Debugf(format, v...)
	}
}
