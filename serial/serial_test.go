package serial

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/cybroslabs/libdlms-engine/base"
	bugst "go.bug.st/serial"
	"go.uber.org/zap/zaptest"
)

type fakePort struct {
	mode    bugst.Mode
	in      []byte
	out     []byte
	timeout time.Duration
	dtr     bool
	rts     bool
	closed  bool
}

func (p *fakePort) SetMode(mode *bugst.Mode) error { p.mode = *mode; return nil }
func (p *fakePort) Drain() error                    { return nil }
func (p *fakePort) ResetInputBuffer() error         { p.in = nil; return nil }
func (p *fakePort) ResetOutputBuffer() error        { return nil }
func (p *fakePort) SetDTR(dtr bool) error           { p.dtr = dtr; return nil }
func (p *fakePort) SetRTS(rts bool) error           { p.rts = rts; return nil }
func (p *fakePort) Close() error                    { p.closed = true; return nil }
func (p *fakePort) Break(time.Duration) error       { return nil }

func (p *fakePort) GetModemStatusBits() (*bugst.ModemStatusBits, error) {
	return &bugst.ModemStatusBits{}, nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	n := copy(b, p.in)
	p.in = p.in[n:]
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	// short writes
	if len(b) > 4 {
		b = b[:4]
	}
	p.out = append(p.out, b...)
	return len(b), nil
}

func withFakePort(t *testing.T) *fakePort {
	t.Helper()
	p := &fakePort{}
	old := openPort
	openPort = func(device string, mode *bugst.Mode) (bugst.Port, error) {
		if device != "/dev/ttyUSB0" {
			return nil, errors.New("no such device")
		}
		p.mode = *mode
		return p, nil
	}
	t.Cleanup(func() { openPort = old })
	return p
}

func TestNewSettings(t *testing.T) {
	tests := []struct {
		name     string
		settings *base.SerialStreamSettings
		want     bugst.Mode
		ok       bool
	}{
		{"default", nil, bugst.Mode{BaudRate: 9600, DataBits: 8}, true},
		{"7E1", &base.SerialStreamSettings{BaudRate: 300, DataBits: base.Serial7DataBits, Parity: base.SerialEvenParity, StopBits: base.SerialOneStopBit}, bugst.Mode{BaudRate: 300, DataBits: 7, Parity: bugst.EvenParity}, true},
		{"8N2", &base.SerialStreamSettings{BaudRate: 19200, DataBits: base.Serial8DataBits, Parity: base.SerialNoParity, StopBits: base.SerialTwoStopBits, FlowControl: base.SerialHWFlowControl}, bugst.Mode{BaudRate: 19200, DataBits: 8, StopBits: bugst.TwoStopBits}, true},
		{"no baud rate", &base.SerialStreamSettings{DataBits: base.Serial8DataBits, Parity: base.SerialNoParity, StopBits: base.SerialOneStopBit}, bugst.Mode{}, false},
		{"9 data bits", &base.SerialStreamSettings{BaudRate: 9600, DataBits: 9, Parity: base.SerialNoParity, StopBits: base.SerialOneStopBit}, bugst.Mode{}, false},
		{"no parity set", &base.SerialStreamSettings{BaudRate: 9600, DataBits: base.Serial8DataBits, StopBits: base.SerialOneStopBit}, bugst.Mode{}, false},
		{"software flow control", &base.SerialStreamSettings{BaudRate: 9600, DataBits: base.Serial8DataBits, Parity: base.SerialNoParity, StopBits: base.SerialOneStopBit, FlowControl: base.SerialFlowControl(2)}, bugst.Mode{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New("/dev/ttyUSB0", tt.settings, time.Second)
			if !tt.ok {
				if !errors.Is(err, base.ErrInvalidSettings) {
					t.Errorf("got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := s.(*serialStream).mode; got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestOpenReadWrite(t *testing.T) {
	p := withFakePort(t)
	s, err := New("/dev/ttyUSB0", nil, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	s.SetLogger(zaptest.NewLogger(t).Sugar())

	if err = s.Write([]byte{1}); !errors.Is(err, base.ErrNotOpened) {
		t.Errorf("write before open: %v", err)
	}
	if err = s.Open(); err != nil {
		t.Fatal(err)
	}
	if !s.IsOpen() || p.mode.BaudRate != 9600 {
		t.Fatalf("open %v mode %+v", s.IsOpen(), p.mode)
	}

	frame := []byte{0x7E, 0xA0, 0x07, 0x03, 0x21, 0x31, 0x17, 0x87, 0x7E}
	if err = s.Write(frame); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(p.out, frame) {
		t.Errorf("written %X", p.out)
	}

	p.in = []byte{1, 2, 3}
	buf := make([]byte, 8)
	n, err := s.Read(buf)
	if err != nil || n != 3 {
		t.Fatalf("n %d err %v", n, err)
	}
	if p.timeout != time.Second {
		t.Errorf("read timeout %v", p.timeout)
	}

	// empty port is a timeout
	if _, err = s.Read(buf); !errors.Is(err, base.ErrCommunicationTimeout) {
		t.Errorf("got %v", err)
	}

	if err = s.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if !p.closed || s.IsOpen() {
		t.Errorf("closed %v open %v", p.closed, s.IsOpen())
	}
}

func TestOpenFailed(t *testing.T) {
	withFakePort(t)
	s, err := New("/dev/ttyS9", nil, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err = s.Open(); err == nil {
		t.Error("opened missing device")
	}
}

func TestDeadline(t *testing.T) {
	p := withFakePort(t)
	s, _ := New("/dev/ttyUSB0", nil, time.Minute)
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	p.in = []byte{1}

	s.SetDeadline(time.Now().Add(time.Second))
	if _, err := s.Read(make([]byte, 4)); err != nil {
		t.Fatal(err)
	}
	if p.timeout > time.Second || p.timeout <= 0 {
		t.Errorf("read timeout %v", p.timeout)
	}

	s.SetDeadline(time.Now().Add(-time.Second))
	if _, err := s.Read(make([]byte, 4)); !errors.Is(err, base.ErrCommunicationTimeout) {
		t.Errorf("got %v", err)
	}

	s.SetDeadline(time.Time{})
	s.(*serialStream).timeout = 0
	p.in = []byte{1}
	if _, err := s.Read(make([]byte, 4)); err != nil {
		t.Fatal(err)
	}
	if p.timeout != bugst.NoTimeout {
		t.Errorf("read timeout %v", p.timeout)
	}
}

func TestMaxReceivedBytes(t *testing.T) {
	p := withFakePort(t)
	s, _ := New("/dev/ttyUSB0", nil, time.Second)
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	s.SetMaxReceivedBytes(4)
	p.in = []byte{1, 2, 3, 4, 5, 6}
	if _, err := s.Read(make([]byte, 16)); !errors.Is(err, base.ErrOutOfRange) {
		t.Errorf("got %v", err)
	}
}

func TestLineControl(t *testing.T) {
	p := withFakePort(t)
	s, _ := New("/dev/ttyUSB0", nil, time.Second)

	if err := s.SetDTR(true); !errors.Is(err, base.ErrNotOpened) {
		t.Errorf("dtr before open: %v", err)
	}
	// speed before open is used by open
	if err := s.SetSpeed(300, base.Serial7DataBits, base.SerialEvenParity, base.SerialOneStopBit); err != nil {
		t.Fatal(err)
	}
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	if p.mode.BaudRate != 300 || p.mode.DataBits != 7 || p.mode.Parity != bugst.EvenParity {
		t.Errorf("mode %+v", p.mode)
	}

	// IEC 62056-21 mode E switch to the agreed speed
	if err := s.SetSpeed(9600, base.Serial8DataBits, base.SerialNoParity, base.SerialOneStopBit); err != nil {
		t.Fatal(err)
	}
	if p.mode.BaudRate != 9600 || p.mode.DataBits != 8 || p.mode.Parity != bugst.NoParity {
		t.Errorf("mode %+v", p.mode)
	}
	if err := s.SetSpeed(9600, base.Serial8DataBits, 0, base.SerialOneStopBit); !errors.Is(err, base.ErrInvalidSettings) {
		t.Errorf("got %v", err)
	}

	if err := s.SetDTR(true); err != nil || !p.dtr {
		t.Errorf("dtr %v err %v", p.dtr, err)
	}
	if err := s.SetFlowControl(base.SerialHWFlowControl); err != nil || !p.rts {
		t.Errorf("rts %v err %v", p.rts, err)
	}
	if err := s.SetFlowControl(base.SerialNoFlowControl); err != nil {
		t.Error(err)
	}
	if err := s.SetFlowControl(base.SerialFlowControl(19)); !errors.Is(err, base.ErrInvalidSettings) {
		t.Errorf("got %v", err)
	}
}
