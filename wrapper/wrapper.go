// Package wrapper frames pdus for DLMS over TCP/UDP (IEC 62056-47).
//
// Every pdu is prefixed by an 8-byte header:
//   - Version (2 bytes): Always 0x0001
//   - Source WPORT (2 bytes): address of sender
//   - Destination WPORT (2 bytes): address of receiver
//   - Length (2 bytes): Payload length
package wrapper

import (
	"encoding/binary"
	"fmt"

	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/buffer"
	"github.com/cybroslabs/libdlms-engine/metrics"
	"github.com/cybroslabs/libdlms-engine/settings"
)

const (
	HeaderLength = 8
	version      = 1
	maxPayload   = 0xFFFF
)

var ifaceName = base.InterfaceTypeWrapper.String()

// Frame prefixes data with wrapper header, addresses follow the role in s.
func Frame(s *settings.Settings, data []byte) ([]byte, error) {
	if len(data) > maxPayload {
		return nil, fmt.Errorf("packet too big: size=%d max=%d: %w", len(data), maxPayload, base.ErrInvalidFrame)
	}
	src, dst := s.ClientAddress, s.ServerAddress
	if s.Server {
		src, dst = dst, src
	}
	ret := make([]byte, 0, HeaderLength+len(data))
	ret = binary.BigEndian.AppendUint16(ret, version)
	ret = binary.BigEndian.AppendUint16(ret, uint16(src))
	ret = binary.BigEndian.AppendUint16(ret, uint16(dst))
	ret = binary.BigEndian.AppendUint16(ret, uint16(len(data)))
	ret = append(ret, data...)
	metrics.RecordFrameOut(ifaceName)
	return ret, nil
}

// checkaddress learns address when not configured yet, otherwise it has to match.
func checkaddress(what string, configured *int, received uint16) error {
	if *configured != 0 && *configured != int(received) {
		return fmt.Errorf("%s address is %d, expected %d: %w", what, received, *configured, base.ErrAddressMismatch)
	}
	*configured = int(received)
	return nil
}

// Parse reads one wrapper frame at position and returns its payload. When the
// frame is not complete yet ok is false and position is untouched. Broken
// header drops everything buffered, there is no way to find next frame.
func Parse(s *settings.Settings, b *buffer.Buffer) (payload []byte, ok bool, err error) {
	if b.Remaining() < HeaderLength {
		return nil, false, nil
	}
	start := b.Position()
	v, _ := b.Uint16()
	src, _ := b.Uint16()
	dst, _ := b.Uint16()
	l, _ := b.Uint16()
	if v != version {
		_ = b.SetPosition(b.Size())
		return nil, false, fmt.Errorf("wrapper version %d: %w", v, base.ErrInvalidFrame)
	}
	if b.Remaining() < int(l) {
		_ = b.SetPosition(start)
		return nil, false, nil
	}
	if payload, err = b.Next(int(l)); err != nil {
		return nil, false, err
	}

	if s.Server {
		err = checkaddress("source", &s.ClientAddress, src)
		if err == nil {
			err = checkaddress("destination", &s.ServerAddress, dst)
		}
	} else {
		err = checkaddress("source", &s.ServerAddress, src)
		if err == nil {
			err = checkaddress("destination", &s.ClientAddress, dst)
		}
	}
	if err != nil {
		return nil, false, err
	}
	metrics.RecordFrameIn(ifaceName)
	return payload, true, nil
}
