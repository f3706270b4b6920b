package engine

import (
	"fmt"

	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/buffer"
	"github.com/cybroslabs/libdlms-engine/dlmsal"
	"github.com/cybroslabs/libdlms-engine/hdlc"
	"github.com/cybroslabs/libdlms-engine/settings"
	"github.com/cybroslabs/libdlms-engine/wrapper"
)

// ReceiverReady asks the peer for what reply.MoreData says is missing: the
// next hdlc frame or the next application block.
func ReceiverReady(s *settings.Settings, t base.RequestTypes) ([]byte, error) {
	if t == base.RequestTypesNone {
		return nil, fmt.Errorf("nothing requested: %w", base.ErrInvalidCommand)
	}
	if t&base.RequestTypesFrame != 0 {
		return linkFrame(s, s.ReceiverReady(), nil)
	}

	bb := buffer.New(4)
	bb.SetUint32(s.BlockIndex)
	s.IncreaseBlockIndex()
	cmd := base.TagGetRequest
	if s.Server {
		cmd = base.TagGetResponse
	}
	blocks, err := SplitPDU(s, cmd, 2, bb.Array(), base.TagResultSuccess, nil)
	if err != nil {
		return nil, err
	}
	return blocks[0][0], nil
}

// KeepAlive is RR frame which does not acknowledge anything new.
func KeepAlive(s *settings.Settings) ([]byte, error) {
	return linkFrame(s, s.KeepAlive(), nil)
}

// SNRMRequest starts hdlc link proposing s.Limits. Frame sequence starts over.
func SNRMRequest(s *settings.Settings) ([]byte, error) {
	s.ResetFrameSequence()
	return linkFrame(s, base.FrameTypeSNRM|0x10, hdlc.SNRMInfo(s.Limits))
}

// ParseUAResponse applies limits accepted by the server, data holds UA
// information field as collected by GetData.
func ParseUAResponse(s *settings.Settings, data *buffer.Buffer) error {
	if err := hdlc.ParseUA(data.Unread(), &s.Limits); err != nil {
		return err
	}
	_ = data.SetPosition(data.Size())
	debugf(s, "link limits tx %d rx %d window tx %d rx %d", s.Limits.MaxInfoTX, s.Limits.MaxInfoRX, s.Limits.WindowSizeTX, s.Limits.WindowSizeRX)
	return nil
}

// DisconnectRequest ends hdlc link. Wrapper has no link layer, release
// request is sent instead.
func DisconnectRequest(s *settings.Settings) ([]byte, error) {
	if s.InterfaceType == base.InterfaceTypeHDLC {
		return linkFrame(s, base.FrameTypeDisconnect|0x10, nil)
	}
	frames, err := ReleaseRequest(s, nil)
	if err != nil {
		return nil, err
	}
	return frames[0], nil
}

// AARQRequest encodes association request with the current settings.
func AARQRequest(s *settings.Settings) ([][]byte, error) {
	bb := buffer.New(64)
	if err := dlmsal.EncodeAARQ(s, bb); err != nil {
		return nil, err
	}
	blocks, err := SplitPDU(s, base.TagAARQ, 0, bb.Array(), base.TagResultSuccess, nil)
	if err != nil {
		return nil, err
	}
	return blocks[0], nil
}

// ReleaseRequest frames RLRQ, it is never ciphered nor split.
func ReleaseRequest(s *settings.Settings, reason *base.ReleaseRequestReason) ([][]byte, error) {
	bb := buffer.New(8)
	dlmsal.EncodeReleaseRequest(bb, reason)
	switch s.InterfaceType {
	case base.InterfaceTypeHDLC:
		return hdlc.SplitFrames(s, 0, bb.Array())
	case base.InterfaceTypeWrapper:
		f, err := wrapper.Frame(s, bb.Array())
		if err != nil {
			return nil, err
		}
		return [][]byte{f}, nil
	}
	return nil, fmt.Errorf("interface type %d: %w", s.InterfaceType, base.ErrInvalidSettings)
}

func linkFrame(s *settings.Settings, control byte, info []byte) ([]byte, error) {
	if s.InterfaceType != base.InterfaceTypeHDLC {
		return nil, fmt.Errorf("control frame %02X over %s: %w", control, s.InterfaceType, base.ErrInvalidSettings)
	}
	frames, err := hdlc.SplitFrames(s, control, info)
	if err != nil {
		return nil, err
	}
	return frames[0], nil
}
