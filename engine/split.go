package engine

import (
	"fmt"
	"time"

	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/buffer"
	"github.com/cybroslabs/libdlms-engine/dlmsal"
	"github.com/cybroslabs/libdlms-engine/hdlc"
	"github.com/cybroslabs/libdlms-engine/metrics"
	"github.com/cybroslabs/libdlms-engine/settings"
	"github.com/cybroslabs/libdlms-engine/wrapper"
)

const (
	hdlcBlockOverhead    = 7
	wrapperBlockOverhead = 12
	aarqFrame            = 0x10
)

// SplitPDU builds everything needed to send payload as command. The result
// holds one entry per application block, each entry being the link frames of
// that block. Timestamp is only used by general block transfer and can be nil.
func SplitPDU(s *settings.Settings, command base.CosemTag, commandParameter byte, payload []byte, errCode base.DlmsResultTag, timestamp *time.Time) ([][][]byte, error) {
	var pdus [][]byte
	if s.UseLogicalNameReferencing {
		var err error
		if pdus, err = lnPdus(s, command, commandParameter, payload, errCode, timestamp); err != nil {
			return nil, err
		}
	} else {
		pdus = [][]byte{snPdu(command, payload)}
	}

	ret := make([][][]byte, 0, len(pdus))
	for _, p := range pdus {
		if s.IsCiphered() && command != base.TagAARQ && command != base.TagAARE {
			glo, err := base.GloTag(command)
			if err != nil {
				return nil, fmt.Errorf("command %d: %w", command, err)
			}
			if p, err = s.Cipher.Encrypt(byte(glo), s.Cipher.SystemTitle(), p); err != nil {
				return nil, err
			}
		}
		switch s.InterfaceType {
		case base.InterfaceTypeHDLC:
			var frame byte
			if command == base.TagAARQ {
				frame = aarqFrame
			}
			frames, err := hdlc.SplitFrames(s, frame, p)
			if err != nil {
				return nil, err
			}
			ret = append(ret, frames)
		case base.InterfaceTypeWrapper:
			f, err := wrapper.Frame(s, p)
			if err != nil {
				return nil, err
			}
			ret = append(ret, [][]byte{f})
		default:
			return nil, fmt.Errorf("interface type %d: %w", s.InterfaceType, base.ErrInvalidSettings)
		}
	}
	metrics.RecordBlocksOut(len(ret))
	debugf(s, "command %d split into %d block(s)", command, len(ret))
	return ret, nil
}

func snPdu(command base.CosemTag, payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}
	bb := buffer.New(len(payload) + 1)
	if command != base.TagAARQ && command != base.TagAARE {
		bb.SetUint8(byte(command))
	}
	bb.Set(payload)
	return bb.Array()
}

func lnPdus(s *settings.Settings, command base.CosemTag, commandParameter byte, payload []byte, errCode base.DlmsResultTag, timestamp *time.Time) ([][]byte, error) {
	chunk := int(s.MaxReceivePDUSize)
	if s.InterfaceType == base.InterfaceTypeHDLC {
		chunk -= hdlcBlockOverhead
	} else {
		chunk -= wrapperBlockOverhead
	}
	if chunk <= 0 {
		return nil, fmt.Errorf("max receive pdu size %d: %w", s.MaxReceivePDUSize, base.ErrInvalidSettings)
	}
	var index uint32
	if command != base.TagGeneralBlockTransfer {
		index = s.BlockIndex - 1
	}
	multiple := len(payload) > chunk

	var ret [][]byte
	pos := 0
	for {
		n := min(chunk, len(payload)-pos)
		last := pos+n >= len(payload)
		bb := buffer.New(n + 32)
		if command != base.TagAARQ && command != base.TagAARE {
			bb.SetUint8(byte(command))
			switch {
			case command == base.TagGeneralBlockTransfer:
				if last {
					bb.SetUint8(0x80)
				} else {
					bb.SetUint8(0)
				}
				bb.SetUint8(0) // block number sent
				index++
				bb.SetUint8(byte(index)) // block number acknowledged
				bb.SetUint8(0)           // apu tag
				bb.SetUint8(0)           // additional fields
				bb.SetUint8(0x0F)        // data notification
				bb.SetUint32(s.BlockIndex)
				s.BlockIndex++
				if err := putPushTime(bb, timestamp); err != nil {
					return nil, err
				}
			case multiple:
				bb.SetUint8(2)
				bb.SetUint8(s.InvokeIDAndPriority())
				if last {
					bb.SetUint8(1)
				} else {
					bb.SetUint8(0)
				}
				index++
				bb.SetUint32(index)
				if command.IsReply() {
					bb.SetUint8(0)
				}
				dlmsal.SetObjectCount(n, bb)
			default:
				if command != base.TagDataNotification {
					bb.SetUint8(commandParameter)
				}
				bb.SetUint8(s.InvokeIDAndPriority())
				if command.IsReply() && (command != base.TagGetResponse || commandParameter != 3) {
					bb.SetUint8(byte(errCode))
				}
			}
		}
		bb.Set(payload[pos : pos+n])
		ret = append(ret, bb.Array())
		pos += n
		if last {
			return ret, nil
		}
	}
}

// putPushTime writes date-time as length prefixed octets, 0 when not used.
func putPushTime(bb *buffer.Buffer, timestamp *time.Time) error {
	if timestamp == nil || timestamp.IsZero() {
		bb.SetUint8(0)
		return nil
	}
	tmp := buffer.New(14)
	if err := dlmsal.EncodeData(tmp, dlmsal.NewDlmsDateTimeFromTime(*timestamp)); err != nil {
		return err
	}
	bb.Set(tmp.Bytes()[1:]) // octet string without its tag
	return nil
}
