package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/buffer"
	"github.com/cybroslabs/libdlms-engine/cosem"
	"github.com/cybroslabs/libdlms-engine/dlmsal"
	"github.com/cybroslabs/libdlms-engine/hdlc"
	"github.com/cybroslabs/libdlms-engine/settings"
	"github.com/cybroslabs/libdlms-engine/wrapper"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// fakeMeter is a server side session behind base.Stream. Whatever the client
// writes is parsed by GetData and answered right away, reads return at most
// five bytes at once.
type fakeMeter struct {
	s         *settings.Settings
	in        *buffer.Buffer
	reply     *ReplyData
	out       []byte
	frames    [][]byte   // rest of the block being sent
	blocks    [][][]byte // blocks not requested yet
	value     dlmsal.Value
	open      bool
	deadlines []time.Time
	commands  []base.CosemTag
	written   []byte // last set request body
	access    []byte // access selection of last get request
	mute      bool   // requests are swallowed
	drops     int    // Disconnect calls
}

func newFakeMeter(iface base.InterfaceType, value dlmsal.Value) *fakeMeter {
	s := newSettings(true, iface)
	s.MaxReceivePDUSize = 64
	s.Limits.MaxInfoTX = 64
	s.Limits.MaxInfoRX = 64
	return &fakeMeter{s: s, in: buffer.New(0), reply: NewReplyData(), value: value}
}

func (m *fakeMeter) Open() error                         { m.open = true; return nil }
func (m *fakeMeter) Close() error                        { m.open = false; return nil }
func (m *fakeMeter) Disconnect() error                   { m.open = false; m.drops++; return nil }
func (m *fakeMeter) IsOpen() bool                        { return m.open }
func (m *fakeMeter) SetLogger(logger *zap.SugaredLogger) { m.s.SetLogger(logger) }
func (m *fakeMeter) SetMaxReceivedBytes(int64)           {}

func (m *fakeMeter) SetDeadline(t time.Time) {
	m.deadlines = append(m.deadlines, t)
}

func (m *fakeMeter) Read(p []byte) (int, error) {
	if len(m.out) == 0 {
		return 0, io.EOF
	}
	n := copy(p[:min(5, len(p))], m.out)
	m.out = m.out[n:]
	return n, nil
}

func (m *fakeMeter) Write(src []byte) error {
	if m.mute {
		return nil
	}
	m.in.Append(src)
	for m.in.Remaining() != 0 {
		ok, err := GetData(m.s, m.in, m.reply)
		m.in.Trim()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err = m.respond(); err != nil {
			return err
		}
	}
	return nil
}

func (m *fakeMeter) respond() error {
	r := m.reply
	defer r.Clear()
	m.commands = append(m.commands, r.Command)

	switch r.Command {
	case base.TagSNRM:
		return m.link(base.FrameTypeUA|0x10, hdlc.SNRMInfo(m.s.Limits))
	case base.TagDisconnectRequest:
		return m.link(base.FrameTypeUA|0x10, nil)
	case base.TagAARQ:
		if _, err := dlmsal.ParseAPDU(m.s, r.Data); err != nil {
			return err
		}
		b := buffer.New(64)
		if err := dlmsal.EncodeAARE(m.s, b, base.AssociationResultAccepted, base.SourceDiagnosticNone); err != nil {
			return err
		}
		return m.send(base.TagAARE, 0, b.Array(), base.TagResultSuccess)
	case base.TagRLRQ:
		b := buffer.New(8)
		dlmsal.EncodeReleaseResponse(b)
		if m.s.InterfaceType == base.InterfaceTypeWrapper {
			f, err := wrapper.Frame(m.s, b.Array())
			if err != nil {
				return err
			}
			m.out = append(m.out, f...)
			return nil
		}
		frames, err := hdlc.SplitFrames(m.s, 0, b.Array())
		if err != nil {
			return err
		}
		m.frames = frames
		m.next()
		return nil
	case base.TagGetRequest:
		return m.get(r.Data)
	case base.TagSetRequest:
		m.written = r.Data.Unread()
		return m.send(base.TagSetResponse, 1, nil, base.TagResultSuccess)
	case base.TagActionRequest:
		b := buffer.New(8)
		b.Set([]byte{1, 0}) // return parameters, data
		if err := dlmsal.EncodeData(b, dlmsal.Boolean(true)); err != nil {
			return err
		}
		return m.send(base.TagActionResponse, 1, b.Array(), base.TagResultSuccess)
	case base.TagNone:
		// receiver ready
		if len(m.frames) == 0 {
			return fmt.Errorf("receiver ready %02X, nothing to send", r.Frame)
		}
		m.next()
		return nil
	}
	return fmt.Errorf("unexpected command %d", r.Command)
}

func (m *fakeMeter) get(data *buffer.Buffer) error {
	typ, err := data.Uint8()
	if err != nil {
		return err
	}
	switch typ {
	case 1:
		var req [10]byte // invoke id, class id, obis, attribute
		if err = data.Get(req[:]); err != nil {
			return err
		}
		m.access = append([]byte(nil), data.Unread()...)
		if req[9] == 3 {
			return m.send(base.TagGetResponse, 1, []byte{byte(base.TagResultObjectUndefined)}, base.DlmsResultTag(1))
		}
		b := buffer.New(0)
		if err = dlmsal.EncodeData(b, m.value); err != nil {
			return err
		}
		if m.blocks, err = SplitPDU(m.s, base.TagGetResponse, 1, b.Array(), base.TagResultSuccess, nil); err != nil {
			return err
		}
	case 2:
		if len(m.blocks) == 0 {
			return errors.New("next block requested, nothing left")
		}
	default:
		return fmt.Errorf("get request type %d", typ)
	}
	m.frames = m.blocks[0]
	m.blocks = m.blocks[1:]
	m.next()
	return nil
}

func (m *fakeMeter) send(cmd base.CosemTag, param byte, payload []byte, errCode base.DlmsResultTag) error {
	blocks, err := SplitPDU(m.s, cmd, param, payload, errCode, nil)
	if err != nil {
		return err
	}
	m.frames = blocks[0]
	m.blocks = blocks[1:]
	m.next()
	return nil
}

func (m *fakeMeter) link(control byte, info []byte) error {
	frames, err := hdlc.SplitFrames(m.s, control, info)
	if err != nil {
		return err
	}
	m.out = append(m.out, frames[0]...)
	return nil
}

func (m *fakeMeter) next() {
	m.out = append(m.out, m.frames[0]...)
	m.frames = m.frames[1:]
}

func profileValue() dlmsal.Array {
	v := make(dlmsal.Array, 30)
	for i := range v {
		v[i] = dlmsal.DoubleLongUnsigned(1000 + i)
	}
	return v
}

var clockTime = LNRequestItem{ClassId: 8, Obis: dlmsal.DlmsObis{A: 0, B: 0, C: 1, D: 0, E: 0, F: 255}, Attribute: 2}

func TestClientSession(t *testing.T) {
	for _, iface := range []base.InterfaceType{base.InterfaceTypeHDLC, base.InterfaceTypeWrapper} {
		t.Run(iface.String(), func(t *testing.T) {
			want := profileValue()
			meter := newFakeMeter(iface, want)
			c := NewClient(meter, newSettings(false, iface))
			c.SetLogger(zaptest.NewLogger(t).Sugar())
			ctx := context.Background()

			if err := c.Open(ctx); err != nil {
				t.Fatal(err)
			}
			s := c.Settings()
			if !s.Connected || s.MaxReceivePDUSize != 64 {
				t.Errorf("connected %v, max pdu %d", s.Connected, s.MaxReceivePDUSize)
			}
			if iface == base.InterfaceTypeHDLC && (s.Limits.MaxInfoTX != 64 || s.Limits.MaxInfoRX != 64) {
				t.Errorf("limits %+v", s.Limits)
			}

			got, err := c.Get(ctx, clockTime)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("got %v, want %v", got, want)
			}
			if s.BlockIndex != s.StartingBlockIndex {
				t.Errorf("block index %d", s.BlockIndex)
			}

			// second read starts over with the first block
			if got, err = c.Get(ctx, clockTime); err != nil || !reflect.DeepEqual(got, want) {
				t.Errorf("second get %v, %v", got, err)
			}

			item := clockTime
			item.SetData = dlmsal.NewDlmsDateTimeFromTime(time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC))
			if err = c.Set(ctx, item); err != nil {
				t.Errorf("set: %v", err)
			}

			clock, err := cosem.New(cosem.ObjectTypeClock, clockTime.Obis)
			if err != nil {
				t.Fatal(err)
			}
			if err = c.SetAttribute(ctx, clock, 3, 60); err != nil {
				t.Errorf("set time zone: %v", err)
			}
			// type, invoke, class, obis, attribute, no access, long 60
			if want := []byte{0x10, 0x00, 0x3C}; len(meter.written) != 15 || !bytes.Equal(meter.written[12:], want) {
				t.Errorf("time zone written as %X", meter.written)
			}
			if err = c.SetAttribute(ctx, clock, 8, "yes"); !errors.Is(err, base.ErrInvalidDataType) {
				t.Errorf("set enabled: %v", err)
			}

			item = LNRequestItem{ClassId: 9, Obis: dlmsal.DlmsObis{A: 0, B: 0, C: 10, D: 0, E: 0, F: 1}, Attribute: 1, SetData: dlmsal.LongUnsigned(1)}
			if got, err = c.Action(ctx, item); err != nil || got != dlmsal.Boolean(true) {
				t.Errorf("action %v, %v", got, err)
			}

			item = clockTime
			item.Attribute = 3
			_, err = c.Get(ctx, item)
			var de *base.DeviceError
			if !errors.As(err, &de) || de.Result != base.TagResultObjectUndefined {
				t.Errorf("get error %v", err)
			}

			if err = c.Close(ctx); err != nil {
				t.Fatal(err)
			}
			if meter.open || s.Connected || meter.drops != 1 {
				t.Errorf("still open, dropped %d times", meter.drops)
			}

			last := meter.commands[len(meter.commands)-1]
			if iface == base.InterfaceTypeHDLC && last != base.TagDisconnectRequest {
				t.Errorf("last request %d", last)
			}
			if iface == base.InterfaceTypeWrapper && last != base.TagRLRQ {
				t.Errorf("last request %d", last)
			}
		})
	}
}

func TestClientReadRange(t *testing.T) {
	want := profileValue()
	meter := newFakeMeter(base.InterfaceTypeWrapper, want)
	meter.s.MaxReceivePDUSize = 512
	c := NewClient(meter, newSettings(false, base.InterfaceTypeWrapper))
	ctx := context.Background()
	if err := c.Open(ctx); err != nil {
		t.Fatal(err)
	}

	profile, err := cosem.New(cosem.ObjectTypeProfileGeneric, dlmsal.DlmsObis{A: 1, B: 0, C: 99, D: 1, E: 0, F: 255})
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	rows, err := c.ReadRange(ctx, profile, from, to)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("got %v, want %v", rows, want)
	}

	// access present, range descriptor, restricting clock column
	access := buffer.New(0)
	access.Set([]byte{1, 1})
	descriptor := dlmsal.RangeDescriptor(clockColumn, dlmsal.NewDlmsDateTimeFromTime(from), dlmsal.NewDlmsDateTimeFromTime(to))
	if err = dlmsal.EncodeData(access, descriptor); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(meter.access, access.Bytes()) {
		t.Errorf("access %X, want %X", meter.access, access.Bytes())
	}

	clock, err := cosem.New(cosem.ObjectTypeClock, clockTime.Obis)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = c.ReadRange(ctx, clock, from, to); !errors.Is(err, base.ErrInvalidDataType) {
		t.Errorf("clock as profile: %v", err)
	}
}

func TestClientOpenFailed(t *testing.T) {
	for _, iface := range []base.InterfaceType{base.InterfaceTypeHDLC, base.InterfaceTypeWrapper} {
		t.Run(iface.String(), func(t *testing.T) {
			meter := newFakeMeter(iface, nil)
			meter.mute = true
			c := NewClient(meter, newSettings(false, iface))
			if err := c.Open(context.Background()); !errors.Is(err, io.EOF) {
				t.Fatalf("got %v", err)
			}
			if meter.open || meter.drops != 1 {
				t.Errorf("stream left open %v, dropped %d times", meter.open, meter.drops)
			}
			if c.Settings().Connected {
				t.Error("connected")
			}
			if _, err := c.Get(context.Background(), clockTime); !errors.Is(err, base.ErrNotOpened) {
				t.Errorf("get after failed open: %v", err)
			}
		})
	}
}

func TestClientNotOpened(t *testing.T) {
	c := NewClient(newFakeMeter(base.InterfaceTypeWrapper, nil), newSettings(false, base.InterfaceTypeWrapper))
	if _, err := c.Get(context.Background(), clockTime); !errors.Is(err, base.ErrNotOpened) {
		t.Errorf("got %v", err)
	}
}

func TestClientContext(t *testing.T) {
	meter := newFakeMeter(base.InterfaceTypeWrapper, dlmsal.Unsigned(7))
	c := NewClient(meter, newSettings(false, base.InterfaceTypeWrapper))
	if err := c.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	meter.deadlines = nil
	if v, err := c.Get(ctx, clockTime); err != nil || v != dlmsal.Unsigned(7) {
		t.Fatalf("got %v, %v", v, err)
	}
	if len(meter.deadlines) != 2 || meter.deadlines[0].IsZero() || !meter.deadlines[1].IsZero() {
		t.Errorf("deadlines %v", meter.deadlines)
	}

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if _, err := c.Get(ctx, clockTime); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v", err)
	}
}

func TestExchangeReadPush(t *testing.T) {
	server := newSettings(true, base.InterfaceTypeHDLC)
	server.MaxReceivePDUSize = 64
	payload, value := encodedValue(t, 150)
	blocks, err := SplitPDU(server, base.TagGeneralBlockTransfer, 0, payload, base.TagResultSuccess, nil)
	if err != nil {
		t.Fatal(err)
	}
	meter := newFakeMeter(base.InterfaceTypeHDLC, nil)
	for _, b := range blocks {
		for _, f := range b {
			meter.out = append(meter.out, f...)
		}
	}

	e := NewExchange(newSettings(false, base.InterfaceTypeHDLC), meter)
	reply := NewReplyData()
	if err := e.Read(context.Background(), reply); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(reply.Value, value) {
		t.Errorf("got %v, want %v", reply.Value, value)
	}
	if len(meter.commands) != 0 {
		t.Errorf("client answered push blocks: %v", meter.commands)
	}

	// stream ends in the middle of nothing
	if err := e.Read(context.Background(), NewReplyData()); !errors.Is(err, io.EOF) {
		t.Errorf("got %v", err)
	}
}
