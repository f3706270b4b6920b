package engine

import (
	"fmt"

	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/buffer"
	"github.com/cybroslabs/libdlms-engine/dlmsal"
	"github.com/cybroslabs/libdlms-engine/hdlc"
	"github.com/cybroslabs/libdlms-engine/llc"
	"github.com/cybroslabs/libdlms-engine/metrics"
	"github.com/cybroslabs/libdlms-engine/settings"
	"github.com/cybroslabs/libdlms-engine/wrapper"
)

// GetData consumes one frame from incoming and merges its payload into reply.
// It returns false with nil error when incoming does not hold a complete
// frame yet, the caller appends more bytes and calls again. Bytes following
// the consumed frame stay in incoming.
func GetData(s *settings.Settings, incoming *buffer.Buffer, reply *ReplyData) (bool, error) {
	if reply.Data == nil {
		reply.Data = buffer.New(0)
	}
	var frame byte
	var payload []byte
	var ok bool
	var err error
	switch s.InterfaceType {
	case base.InterfaceTypeHDLC:
		frame, payload, ok, err = getHdlcData(s, incoming, reply)
	case base.InterfaceTypeWrapper:
		payload, ok, err = wrapper.Parse(s, incoming)
	default:
		return false, fmt.Errorf("interface type %d: %w", s.InterfaceType, base.ErrInvalidSettings)
	}
	reply.Complete = ok
	if err != nil || !ok {
		return false, err
	}
	reply.Frame = frame

	offset := reply.Data.Size()
	reply.Data.Append(payload)
	_ = reply.Data.SetPosition(offset)

	// link layer only, nothing for the application
	if frame&1 != 0 {
		return true, nil
	}
	if reply.Command == base.TagAARQ || reply.Command == base.TagAARE {
		return true, nil
	}
	if reply.Data.Size() == 0 {
		return true, nil
	}
	if err = GetPdu(s, reply); err != nil {
		return false, err
	}
	return true, nil
}

func getHdlcData(s *settings.Settings, incoming *buffer.Buffer, reply *ReplyData) (byte, []byte, bool, error) {
	var f *hdlc.Frame
	for {
		var ok bool
		var err error
		if f, ok, err = hdlc.Parse(incoming); err != nil || !ok {
			return 0, nil, false, err
		}
		echo, err := checkHdlcAddress(s, f)
		if err != nil {
			return 0, nil, false, err
		}
		if !echo {
			reply.Echo = false
			break
		}
		reply.Echo = true
		metrics.RecordEcho()
		debugf(s, "echo frame %02X skipped", f.Control)
	}

	if f.Segmented() {
		reply.MoreData |= base.RequestTypesFrame
	} else {
		reply.MoreData &^= base.RequestTypesFrame
	}
	s.CheckFrame(f.Control)

	var payload []byte
	switch ctrl := f.Control &^ 0x10; {
	case f.Control == base.FrameTypeRejected:
		return 0, nil, false, base.ErrFrameRejected
	case ctrl == base.FrameTypeDisconnect:
		reply.Command = base.TagDisconnectRequest
	case ctrl == base.FrameTypeDisconnectMode:
		if !s.Server {
			return 0, nil, false, base.ErrDisconnectMode
		}
		reply.Command = base.TagDisconnectRequest
	case ctrl == base.FrameTypeUA:
		reply.Command = base.TagUA
		payload = f.Info
	case ctrl == base.FrameTypeSNRM:
		reply.Command = base.TagSNRM
		payload = f.Info
	case f.Information():
		b := buffer.NewFrom(f.Info)
		llc.Skip(s.Server, b)
		payload = b.Unread()
		if s.Server && f.Control == aarqFrame {
			reply.Command = base.TagAARQ
		}
	default:
		reply.MoreData = base.RequestTypesFrame
	}
	return f.Control, payload, true, nil
}

// checkHdlcAddress returns true for our own request echoed back by the line.
func checkHdlcAddress(s *settings.Settings, f *hdlc.Frame) (bool, error) {
	if s.Server {
		if s.ServerAddress != 0 && s.ServerAddress != f.Destination {
			return false, fmt.Errorf("destination address is %d, expected %d: %w", f.Destination, s.ServerAddress, base.ErrAddressMismatch)
		}
		s.ServerAddress = f.Destination
		if s.ClientAddress != 0 && s.ClientAddress != f.Source {
			return false, fmt.Errorf("source address is %d, expected %d: %w", f.Source, s.ClientAddress, base.ErrAddressMismatch)
		}
		s.ClientAddress = f.Source
		return false, nil
	}

	if f.Destination != s.ClientAddress {
		if f.Source == s.ClientAddress && f.Destination == s.ServerAddress {
			return true, nil
		}
		return false, fmt.Errorf("destination address is %d, expected %d: %w", f.Destination, s.ClientAddress, base.ErrAddressMismatch)
	}
	if f.Source != s.ServerAddress {
		// some meters send four byte address where two would do
		rl, rp := hdlc.SplitServerAddress(f.Source)
		l, p := hdlc.SplitServerAddress(s.ServerAddress)
		if rl != l || rp != p {
			return false, fmt.Errorf("source address is %d, expected %d: %w", f.Source, s.ServerAddress, base.ErrAddressMismatch)
		}
	}
	return false, nil
}

// removeHeader drops bytes between index and position, position ends at index.
func removeHeader(data *buffer.Buffer, index int) {
	n := data.Position() - index
	if n <= 0 {
		return
	}
	_ = data.Move(data.Position(), index, data.Size()-data.Position())
	_ = data.SetSize(data.Size() - n)
	_ = data.SetPosition(index)
}

// GetPdu parses application header of the pdu collected in reply.Data. Once
// the last block of a read, get or action response or of a push notification
// is in, its value is decoded into reply.Value.
func GetPdu(s *settings.Settings, reply *ReplyData) error {
	data := reply.Data
	cmd := reply.Command
	if cmd == base.TagGeneralBlockTransfer && reply.MoreData&base.RequestTypesFrame == 0 {
		reply.Command = base.TagNone
	}

	if reply.Command == base.TagNone {
		index := data.Position()
		ch, err := data.Uint8()
		if err != nil {
			return fmt.Errorf("command: %w", err)
		}
		cmd = base.CosemTag(ch)
		reply.Command = cmd
		switch cmd {
		case base.TagReadResponse:
			if done, err := handleReadResponse(reply); err != nil || !done {
				return err
			}
		case base.TagGetResponse:
			if done, err := handleGetResponse(s, reply, index); err != nil || !done {
				return err
			}
		case base.TagSetResponse:
		case base.TagWriteResponse:
			if err := handleWriteResponse(reply); err != nil {
				return err
			}
		case base.TagActionResponse:
			if err := handleActionResponse(reply); err != nil {
				return err
			}
		case base.TagGeneralBlockTransfer:
			if err := handlePush(reply); err != nil {
				return err
			}
			metrics.RecordBlockIn()
		case base.TagAARQ, base.TagAARE, base.TagRLRQ, base.TagRLRE:
			// parsed by dlmsal
			_ = data.SetPosition(data.Position() - 1)
		case base.TagExceptionResponse:
			return dlmsal.DecodeException(data)
		case base.TagGetRequest, base.TagReadRequest, base.TagWriteRequest, base.TagSetRequest,
			base.TagActionRequest, base.TagDisconnectRequest:
			// server handles these
		case base.TagGloGetRequest, base.TagGloSetRequest, base.TagGloActionRequest:
			if err := decrypt(s, data); err != nil {
				return err
			}
			if ch, err = data.Uint8(); err != nil {
				return fmt.Errorf("deciphered command: %w", err)
			}
			cmd = base.CosemTag(ch)
			reply.Command = cmd
		case base.TagGloGetResponse, base.TagGloSetResponse, base.TagGloActionResponse:
			if err := decrypt(s, data); err != nil {
				return err
			}
			reply.Command = base.TagNone
			return GetPdu(s, reply)
		case base.TagDataNotification:
			if _, err := data.Uint8(); err != nil { // invoke id
				return fmt.Errorf("data notification: %w", err)
			}
			removeHeader(data, index)
		default:
			return fmt.Errorf("command %d: %w", ch, base.ErrInvalidCommand)
		}
	} else if reply.MoreData&base.RequestTypesFrame == 0 {
		// last frame of a block which header was already read
		if !reply.Peek && reply.MoreData == base.RequestTypesNone {
			_ = data.SetPosition(0)
			s.ResetBlockIndex()
		}
		if s.Server {
			if _, err := data.Uint8(); err != nil {
				return fmt.Errorf("command: %w", err)
			}
		} else {
			reply.Command = base.TagNone
		}
	}

	if data.Position() != data.Size() &&
		decodesValue(cmd) &&
		(reply.MoreData == base.RequestTypesNone || reply.Peek) {
		return GetValueFromData(s, reply)
	}
	return nil
}

func decodesValue(cmd base.CosemTag) bool {
	switch cmd {
	case base.TagReadResponse, base.TagGetResponse, base.TagActionResponse,
		base.TagGeneralBlockTransfer, base.TagDataNotification:
		return true
	}
	return false
}

func decrypt(s *settings.Settings, data *buffer.Buffer) error {
	if s.Cipher == nil {
		return base.ErrCipherNotSet
	}
	_ = data.SetPosition(data.Position() - 1)
	if _, err := s.Cipher.Decrypt(s.SourceSystemTitle, data); err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}
	return nil
}

// handleReadResponse leaves responses with more than one item untouched.
func handleReadResponse(reply *ReplyData) (bool, error) {
	data := reply.Data
	pos := data.Position()
	cnt, err := dlmsal.GetObjectCount(data)
	if err != nil {
		return false, err
	}
	if cnt != 1 {
		_ = data.SetPosition(pos)
		return false, nil
	}
	status, err := data.Uint8()
	if err != nil {
		return false, fmt.Errorf("read response status: %w", err)
	}
	if status != 0 {
		e, err := data.Uint8()
		if err != nil {
			return false, fmt.Errorf("read response error: %w", err)
		}
		reply.Error = base.DlmsResultTag(e)
		return true, nil
	}
	reply.Error = base.TagResultSuccess
	removeHeader(data, 0)
	return true, nil
}

func handleGetResponse(s *settings.Settings, reply *ReplyData, index int) (bool, error) {
	data := reply.Data
	var hdr [2]byte // type, invoke id
	if err := data.Get(hdr[:]); err != nil {
		return false, fmt.Errorf("get response header: %w", err)
	}
	switch hdr[0] {
	case 1:
		result, err := data.Uint8()
		if err != nil {
			return false, fmt.Errorf("get response result: %w", err)
		}
		if result != 0 {
			e, err := data.Uint8()
			if err != nil {
				return false, fmt.Errorf("get response error: %w", err)
			}
			reply.Error = base.DlmsResultTag(e)
		}
		removeHeader(data, 0)
	case 2:
		last, err := data.Uint8()
		if err != nil {
			return false, fmt.Errorf("get response last block: %w", err)
		}
		if last == 0 {
			reply.MoreData |= base.RequestTypesDataBlock
		} else {
			reply.MoreData &^= base.RequestTypesDataBlock
		}
		number, err := data.Uint32()
		if err != nil {
			return false, fmt.Errorf("get response block number: %w", err)
		}
		// zero based block numbering
		if number == 0 && s.BlockIndex == 1 {
			s.BlockIndex = 0
		}
		if number != s.BlockIndex {
			return false, fmt.Errorf("block number is %d, expected %d: %w", number, s.BlockIndex, base.ErrInvalidBlockNumber)
		}
		status, err := data.Uint8()
		if err != nil {
			return false, fmt.Errorf("get response block status: %w", err)
		}
		if status != 0 {
			e, err := data.Uint8()
			if err != nil {
				return false, fmt.Errorf("get response block error: %w", err)
			}
			reply.Error = base.DlmsResultTag(e)
			return true, nil
		}
		if reply.BlockLength, err = dlmsal.GetObjectCount(data); err != nil {
			return false, err
		}
		if reply.MoreData&base.RequestTypesFrame == 0 {
			if reply.BlockLength > data.Remaining() {
				return false, fmt.Errorf("block length %d, %d bytes received: %w", reply.BlockLength, data.Remaining(), base.ErrOutOfRange)
			}
			reply.Command = base.TagNone
		}
		removeHeader(data, index)
		metrics.RecordBlockIn()
		debugf(s, "block %d received, last %v", number, last != 0)
		if reply.MoreData == base.RequestTypesNone && !reply.Peek {
			_ = data.SetPosition(0)
			s.ResetBlockIndex()
		}
	case 3:
		// with list, items are decoded by the caller
		removeHeader(data, 0)
		return false, nil
	default:
		return false, fmt.Errorf("get response type %d: %w", hdr[0], base.ErrInvalidCommand)
	}
	return true, nil
}

func handleWriteResponse(reply *ReplyData) error {
	data := reply.Data
	cnt, err := dlmsal.GetObjectCount(data)
	if err != nil {
		return err
	}
	for i := 0; i < cnt; i++ {
		status, err := data.Uint8()
		if err != nil {
			return fmt.Errorf("write response item %d: %w", i, err)
		}
		if status != 0 {
			e, err := data.Uint8()
			if err != nil {
				return fmt.Errorf("write response item %d: %w", i, err)
			}
			reply.Error = base.DlmsResultTag(e)
			return &base.DeviceError{Result: reply.Error}
		}
	}
	return nil
}

func handleActionResponse(reply *ReplyData) error {
	data := reply.Data
	var hdr [3]byte // type, invoke id, result
	if err := data.Get(hdr[:]); err != nil {
		return fmt.Errorf("action response header: %w", err)
	}
	if hdr[2] != 0 {
		reply.Error = base.DlmsResultTag(hdr[2])
	}
	if hdr[0] != 1 {
		return fmt.Errorf("action response type %d: %w", hdr[0], base.ErrInvalidCommand)
	}
	if data.Remaining() == 0 {
		return nil
	}
	var ret [2]byte // return parameters present, data result choice
	if err := data.Get(ret[:]); err != nil {
		return fmt.Errorf("action response parameters: %w", err)
	}
	if ret[0] != 1 {
		return fmt.Errorf("action response parameters tag %d: %w", ret[0], base.ErrMalformedAPDU)
	}
	if ret[1] != 0 {
		e, err := data.Uint8()
		if err != nil {
			return fmt.Errorf("action response data access result: %w", err)
		}
		reply.Error = base.DlmsResultTag(e)
		return &base.DeviceError{Result: reply.Error}
	}
	removeHeader(data, 0)
	return nil
}

func handlePush(reply *ReplyData) error {
	data := reply.Data
	index := data.Position() - 1
	var hdr [10]byte // last, sent, acknowledged, apu, additional fields, notification, long invoke id
	if err := data.Get(hdr[:]); err != nil {
		return fmt.Errorf("push header: %w", err)
	}
	if hdr[0]&0x80 == 0 {
		reply.MoreData |= base.RequestTypesDataBlock
	} else {
		reply.MoreData &^= base.RequestTypesDataBlock
	}
	if hdr[5]&0x0F == 0 {
		return fmt.Errorf("push notification byte %02X: %w", hdr[5], base.ErrMalformedAPDU)
	}
	l, err := data.Uint8()
	if err != nil {
		return fmt.Errorf("push date time: %w", err)
	}
	if l != 0 {
		if err = data.SetPosition(data.Position() + int(l)); err != nil {
			return fmt.Errorf("push date time: %w", err)
		}
	}
	removeHeader(data, index)
	return nil
}
