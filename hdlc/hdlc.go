// Package hdlc builds and parses IEC 62056-46 frames. It keeps no state of its
// own, frame sequence numbers live in settings.Settings.
package hdlc

import (
	"encoding/binary"
	"fmt"

	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/buffer"
	"github.com/cybroslabs/libdlms-engine/llc"
	"github.com/cybroslabs/libdlms-engine/metrics"
	"github.com/cybroslabs/libdlms-engine/settings"
)

const (
	flag           = 0x7E
	minFrameLength = 9 // flag, format, length, two addresses, control, fcs, flag
	maxFrameLength = 0x7FF
)

var ifaceName = base.InterfaceTypeHDLC.String()

// Frame is a parsed frame, Info excludes hcs and fcs.
type Frame struct {
	Format      byte
	Destination int
	Source      int
	Control     byte
	Info        []byte
	Start       int // index of opening flag
	End         int // index of closing flag
}

// Segmented reports whether the peer has more frames of the same pdu.
func (f *Frame) Segmented() bool {
	return f.Format&0x08 != 0
}

// Information reports I-frame, its control byte has bit 0 cleared.
func (f *Frame) Information() bool {
	return f.Control&1 == 0
}

// ServerAddress combines logical and physical server address the way
// AddressBytes expects it.
func ServerAddress(logical int, physical int) int {
	switch {
	case physical == 0 && logical < 0x80:
		return logical
	case logical < 0x80 && physical < 0x80:
		return logical<<7 | physical
	}
	return logical<<14 | physical
}

// SplitServerAddress is the reverse of ServerAddress for two and four byte forms.
func SplitServerAddress(address int) (logical int, physical int) {
	if address < 0x4000 {
		return address >> 7, address & 0x7F
	}
	return address >> 14, address & 0x3FFF
}

// AddressBytes encodes address, size 0 picks the shortest form.
func AddressBytes(value int, size int) ([]byte, error) {
	switch {
	case value < 0:
	case size < 2 && value < 0x80:
		return []byte{byte(value<<1 | 1)}, nil
	case size < 4 && value < 0x4000:
		v := uint16((value&0x3F80)<<2 | (value&0x7F)<<1 | 1)
		return binary.BigEndian.AppendUint16(nil, v), nil
	case value < 0x10000000:
		v := uint32((value&0xFE00000)<<4 | (value&0x1FC000)<<3 | (value&0x3F80)<<2 | (value&0x7F)<<1 | 1)
		return binary.BigEndian.AppendUint32(nil, v), nil
	}
	return nil, fmt.Errorf("address %d: %w", value, base.ErrInvalidAddress)
}

// ReadAddress decodes address at position, the last byte has bit 0 set.
func ReadAddress(b *buffer.Buffer) (int, error) {
	size := 0
	for i := b.Position(); ; i++ {
		v, err := b.Uint8At(i)
		if err != nil {
			return 0, fmt.Errorf("unterminated address: %w", base.ErrInvalidAddress)
		}
		size++
		if v&1 != 0 {
			break
		}
		if size == 4 {
			return 0, fmt.Errorf("address longer than 4 bytes: %w", base.ErrInvalidAddress)
		}
	}
	switch size {
	case 1:
		v, _ := b.Uint8()
		return int(v >> 1), nil
	case 2:
		v, _ := b.Uint16()
		return int((v&0xFE)>>1 | (v&0xFE00)>>2), nil
	case 4:
		v, _ := b.Uint32()
		return int((v&0xFE)>>1 | (v&0xFE00)>>2 | (v&0xFE0000)>>3 | (v&0xFE000000)>>4), nil
	}
	return 0, fmt.Errorf("address of %d bytes: %w", size, base.ErrInvalidAddress)
}

func addresses(s *settings.Settings) (primary []byte, secondary []byte, err error) {
	client, err := AddressBytes(s.ClientAddress, 0)
	if err != nil {
		return nil, nil, err
	}
	server, err := AddressBytes(s.ServerAddress, s.ServerAddressSize)
	if err != nil {
		return nil, nil, err
	}
	if s.Server {
		return client, server, nil
	}
	return server, client, nil
}

// SplitFrames wraps data into as many frames as MaxInfoTX requires. Frame 0
// means every frame takes the next send sequence, otherwise the given control
// byte is used for the first one. I-frames carry llc header in the first frame.
func SplitFrames(s *settings.Settings, frame byte, data []byte) ([][]byte, error) {
	primary, secondary, err := addresses(s)
	if err != nil {
		return nil, err
	}
	header := 7 + len(primary) + len(secondary)
	frameSize := int(s.Limits.MaxInfoTX) - header
	var llcheader []byte
	if frame&1 == 0 {
		llcheader = llc.Header(s.Server)
	}
	if frameSize <= len(llcheader) {
		return nil, fmt.Errorf("max info tx %d leaves no room for data: %w", s.Limits.MaxInfoTX, base.ErrInvalidSettings)
	}

	var ret [][]byte
	pos := 0
	for {
		format := byte(0xA0)
		n := len(data) - pos
		length := header + n + len(llcheader)
		if len(data) == 0 {
			length = header - 2 // no hcs
		} else if n+len(llcheader) > frameSize {
			format |= 0x08
			n = frameSize - len(llcheader)
			length = header + frameSize
		}
		if length > maxFrameLength {
			return nil, fmt.Errorf("frame length %d: %w", length, base.ErrInvalidFrame)
		}
		if frame == 0 {
			frame = s.NextSend()
		}

		f := make([]byte, 0, length+2)
		f = append(f, flag, format|byte(length>>8), byte(length))
		f = append(f, primary...)
		f = append(f, secondary...)
		f = append(f, frame)
		if len(data) != 0 {
			f = binary.LittleEndian.AppendUint16(f, FCS16(f[1:]))
			f = append(f, llcheader...)
			f = append(f, data[pos:pos+n]...)
			llcheader = nil
		}
		f = binary.LittleEndian.AppendUint16(f, FCS16(f[1:]))
		f = append(f, flag)
		ret = append(ret, f)
		metrics.RecordFrameOut(ifaceName)

		pos += n
		frame = 0
		if pos >= len(data) {
			return ret, nil
		}
	}
}

// Parse reads one frame starting at the first flag at or after position.
// Noise before the flag is dropped. When the frame is not complete yet ok is
// false, error is nil and position is left at the opening flag. A parsed or
// broken frame is consumed including its closing flag.
func Parse(b *buffer.Buffer) (f *Frame, ok bool, err error) {
	for {
		if b.Remaining() < minFrameLength {
			return nil, false, nil
		}
		start := -1
		for i := b.Position(); i < b.Size(); i++ {
			if v, _ := b.Uint8At(i); v == flag {
				start = i
				break
			}
		}
		if start < 0 {
			_ = b.SetPosition(b.Size())
			return nil, false, nil
		}
		_ = b.SetPosition(start)
		if b.Remaining() < minFrameLength {
			return nil, false, nil
		}
		format, _ := b.Uint8At(start + 1)
		if format&0xF0 != 0xA0 { // closing flag of some previous frame or noise
			_ = b.SetPosition(start + 1)
			continue
		}
		l, _ := b.Uint8At(start + 2)
		length := int(format&0x07)<<8 | int(l)
		if length < 7 {
			_ = b.SetPosition(start + 1)
			return nil, false, fmt.Errorf("frame length %d: %w", length, base.ErrInvalidFrame)
		}
		end := start + length + 1
		if end >= b.Size() {
			return nil, false, nil
		}
		if v, _ := b.Uint8At(end); v != flag {
			_ = b.SetPosition(start + 1)
			return nil, false, fmt.Errorf("missing closing flag at %d: %w", end, base.ErrInvalidFrame)
		}
		f, err = parseframe(b, start, end, format)
		_ = b.SetPosition(end + 1)
		if err != nil {
			return nil, false, err
		}
		metrics.RecordFrameIn(ifaceName)
		return f, true, nil
	}
}

func parseframe(b *buffer.Buffer, start int, end int, format byte) (f *Frame, err error) {
	f = &Frame{Format: format, Start: start, End: end}
	_ = b.SetPosition(start + 3)
	if f.Destination, err = ReadAddress(b); err != nil {
		return nil, err
	}
	if f.Source, err = ReadAddress(b); err != nil {
		return nil, err
	}
	if b.Position() > end-3 {
		return nil, fmt.Errorf("frame too short for its addresses: %w", base.ErrInvalidFrame)
	}
	f.Control, _ = b.Uint8()

	raw := b.Bytes()
	hdr := b.Position()
	switch rem := end - hdr; {
	case rem == 2: // fcs only
		if FCS16(raw[start+1:hdr]) != getfcs(raw[hdr:end]) {
			metrics.RecordFCSError()
			return nil, fmt.Errorf("frame check sequence: %w", base.ErrFCSMismatch)
		}
	case rem < 4:
		return nil, fmt.Errorf("frame with %d bytes after control: %w", rem, base.ErrInvalidFrame)
	default:
		if FCS16(raw[start+1:hdr]) != getfcs(raw[hdr:hdr+2]) {
			metrics.RecordFCSError()
			return nil, fmt.Errorf("header check sequence: %w", base.ErrFCSMismatch)
		}
		if FCS16(raw[start+1:end-2]) != getfcs(raw[end-2:end]) {
			metrics.RecordFCSError()
			return nil, fmt.Errorf("frame check sequence: %w", base.ErrFCSMismatch)
		}
		f.Info = make([]byte, end-2-(hdr+2))
		copy(f.Info, raw[hdr+2:end-2])
	}
	return f, nil
}

// SNRMInfo returns information field of SNRM proposing limits l.
func SNRMInfo(l settings.Limits) []byte {
	p := []byte{0x81, 0x80, 0}
	p = appendparam(p, 0x05, uint32(l.MaxInfoTX))
	p = appendparam(p, 0x06, uint32(l.MaxInfoRX))
	p = append(p, 0x07, 0x04, 0x00, 0x00, 0x00, l.WindowSizeTX)
	p = append(p, 0x08, 0x04, 0x00, 0x00, 0x00, l.WindowSizeRX)
	p[2] = byte(len(p) - 3)
	return p
}

func appendparam(p []byte, tag byte, v uint32) []byte {
	switch {
	case v <= 0xFF:
		return append(p, tag, 1, byte(v))
	case v <= 0xFFFF:
		return append(append(p, tag, 2), byte(v>>8), byte(v))
	}
	return binary.BigEndian.AppendUint32(append(p, tag, 4), v)
}

// ParseUA lowers limits l to what the server accepted. Empty information
// field keeps l untouched.
func ParseUA(ua []byte, l *settings.Limits) error {
	if len(ua) == 0 {
		return nil
	}
	if len(ua) < 3 {
		return fmt.Errorf("too short ua information: %w", base.ErrInvalidFrame)
	}
	if ua[0] != 0x81 || ua[1] != 0x80 {
		return fmt.Errorf("invalid ua information header %02X%02X: %w", ua[0], ua[1], base.ErrInvalidFrame)
	}
	if len(ua) != int(ua[2])+3 {
		return fmt.Errorf("invalid ua information length: %w", base.ErrInvalidFrame)
	}
	for i := 3; i < len(ua); {
		con, t, err := readparam(ua[i+1:])
		if err != nil {
			return err
		}
		switch ua[i] {
		case 0x05: // server transmits, we receive
			if t != 0 && t < uint32(l.MaxInfoRX) {
				l.MaxInfoRX = uint16(t)
			}
		case 0x06:
			if t != 0 && t < uint32(l.MaxInfoTX) {
				l.MaxInfoTX = uint16(t)
			}
		case 0x07:
			if t != 0 && t < uint32(l.WindowSizeRX) {
				l.WindowSizeRX = byte(t)
			}
		case 0x08:
			if t != 0 && t < uint32(l.WindowSizeTX) {
				l.WindowSizeTX = byte(t)
			}
		default:
			return fmt.Errorf("invalid ua parameter %02X: %w", ua[i], base.ErrInvalidFrame)
		}
		i += 1 + con
	}
	return nil
}

func readparam(t []byte) (int, uint32, error) {
	if len(t) < 2 {
		return 0, 0, fmt.Errorf("too short ua parameter: %w", base.ErrInvalidFrame)
	}
	switch t[0] {
	case 1:
		return 2, uint32(t[1]), nil
	case 2:
		if len(t) < 3 {
			return 0, 0, fmt.Errorf("too short ua parameter: %w", base.ErrInvalidFrame)
		}
		return 3, uint32(t[1])<<8 | uint32(t[2]), nil
	case 4:
		if len(t) < 5 {
			return 0, 0, fmt.Errorf("too short ua parameter: %w", base.ErrInvalidFrame)
		}
		return 5, binary.BigEndian.Uint32(t[1:5]), nil
	}
	return 0, 0, fmt.Errorf("invalid ua parameter length %d: %w", t[0], base.ErrInvalidFrame)
}
