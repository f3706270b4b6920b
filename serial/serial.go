package serial

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/metrics"
	bugst "go.bug.st/serial"
	"go.uber.org/zap"
)

const transportName = "serial"

var openPort = bugst.Open

type serialStream struct {
	device          string
	line            base.SerialStreamSettings
	mode            bugst.Mode
	timeout         time.Duration
	port            bugst.Port
	logger          *zap.SugaredLogger
	deadline        time.Time
	totalincoming   int64
	totaloutgoing   int64
	currentincoming int64
	maxincoming     int64
}

// New returns serial stream for local device (/dev/ttyUSB0, COM3). Timeout is
// applied to every read, zero means waiting for the deadline only.
func New(device string, settings *base.SerialStreamSettings, timeout time.Duration) (base.SerialStream, error) {
	line := base.SerialStreamSettings{BaudRate: 9600, DataBits: base.Serial8DataBits, Parity: base.SerialNoParity, StopBits: base.SerialOneStopBit}
	if settings != nil {
		line = *settings
	}
	mode, err := toMode(&line)
	if err != nil {
		return nil, err
	}
	return &serialStream{
		device:  device,
		timeout: timeout,
		line:    line,
		mode:    mode,
	}, nil
}

func toMode(line *base.SerialStreamSettings) (mode bugst.Mode, err error) {
	if err = line.Validate(); err != nil {
		return mode, err
	}
	mode.BaudRate = line.BaudRate
	mode.DataBits = int(line.DataBits)

	switch line.Parity {
	case base.SerialOddParity:
		mode.Parity = bugst.OddParity
	case base.SerialEvenParity:
		mode.Parity = bugst.EvenParity
	case base.SerialMarkParity:
		mode.Parity = bugst.MarkParity
	case base.SerialSpaceParity:
		mode.Parity = bugst.SpaceParity
	default:
		mode.Parity = bugst.NoParity
	}

	switch line.StopBits {
	case base.SerialOneAndHalfStopBits:
		mode.StopBits = bugst.OnePointFiveStopBits
	case base.SerialTwoStopBits:
		mode.StopBits = bugst.TwoStopBits
	default:
		mode.StopBits = bugst.OneStopBit
	}
	return mode, nil
}

func (s *serialStream) logf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Infof(format, v...)
	}
}

func (s *serialStream) Close() error {
	return nil // no association on this level
}

func (s *serialStream) Open() error {
	if s.port != nil {
		return nil
	}
	mode := s.mode
	p, err := openPort(s.device, &mode)
	if err != nil {
		s.logf("Open %s failed: %v", s.device, err)
		return fmt.Errorf("open %s: %w", s.device, err)
	}
	s.logf("Opened %s at %v", s.device, &s.line)
	s.port = p
	return nil
}

func (s *serialStream) Disconnect() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	s.logf("Closed %s", s.device)
	s.logf("Total bytes incoming: %v, outgoing: %v", s.totalincoming, s.totaloutgoing)
	return err
}

func (s *serialStream) IsOpen() bool {
	return s.port != nil
}

func (s *serialStream) SetLogger(logger *zap.SugaredLogger) {
	s.logger = logger
}

func (s *serialStream) SetDeadline(t time.Time) {
	s.deadline = t
}

func (s *serialStream) SetMaxReceivedBytes(m int64) {
	s.currentincoming = 0
	s.maxincoming = m
}

// readTimeout is the sooner of timeout and deadline, NoTimeout if neither is set.
func (s *serialStream) readTimeout() (time.Duration, error) {
	t := s.timeout
	if !s.deadline.IsZero() {
		d := time.Until(s.deadline)
		if d <= 0 {
			return 0, base.ErrCommunicationTimeout
		}
		if t <= 0 || d < t {
			t = d
		}
	}
	if t <= 0 {
		return bugst.NoTimeout, nil
	}
	return t, nil
}

func (s *serialStream) Read(p []byte) (int, error) {
	if s.port == nil {
		return 0, base.ErrNotOpened
	}
	if len(p) == 0 {
		return 0, base.ErrNothingToRead
	}
	t, err := s.readTimeout()
	if err != nil {
		return 0, err
	}
	if err = s.port.SetReadTimeout(t); err != nil {
		return 0, fmt.Errorf("read timeout: %w", err)
	}

	n, err := s.port.Read(p)
	s.totalincoming += int64(n)
	s.currentincoming += int64(n)
	metrics.RecordBytesIn(transportName, n)
	if err != nil {
		return 0, fmt.Errorf("read failed: %w", err)
	}
	if s.maxincoming > 0 && s.currentincoming > s.maxincoming {
		return 0, fmt.Errorf("received %d bytes, allowed %d: %w", s.currentincoming, s.maxincoming, base.ErrOutOfRange)
	}
	if n == 0 { // port reports timeout this way
		return 0, base.ErrCommunicationTimeout
	}
	if s.logger != nil {
		s.logger.Debugf("RX (%s): %6d %s", s.device, n, encodeHexString(p[:n]))
	}
	return n, nil
}

func (s *serialStream) Write(src []byte) error {
	if s.port == nil {
		return base.ErrNotOpened
	}
	for len(src) > 0 {
		n, err := s.port.Write(src)
		s.totaloutgoing += int64(n)
		metrics.RecordBytesOut(transportName, n)
		if n > 0 && s.logger != nil {
			s.logger.Debugf("TX (%s): %6d %s", s.device, n, encodeHexString(src[:n]))
		}
		if err != nil {
			return fmt.Errorf("write failed: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("write failed: nothing written")
		}
		src = src[n:]
	}
	return nil
}

// SetSpeed applies at once if the port is open, otherwise on Open.
func (s *serialStream) SetSpeed(baudRate int, dataBits base.SerialDataBits, parity base.SerialParity, stopBits base.SerialStopBits) error {
	line := s.line
	line.BaudRate = baudRate
	line.DataBits = dataBits
	line.Parity = parity
	line.StopBits = stopBits
	mode, err := toMode(&line)
	if err != nil {
		return err
	}
	if s.port != nil {
		if err = s.port.SetMode(&mode); err != nil {
			return fmt.Errorf("set speed: %w", err)
		}
	}
	s.line = line
	s.mode = mode
	s.logf("SetSpeed: %v", &line)
	return nil
}

// SetFlowControl supports none and hardware flow control, hardware one keeps
// RTS raised.
func (s *serialStream) SetFlowControl(flowControl base.SerialFlowControl) error {
	if s.port == nil {
		return base.ErrNotOpened
	}
	switch flowControl {
	case base.SerialNoFlowControl:
		return nil
	case base.SerialHWFlowControl:
		return s.port.SetRTS(true)
	}
	return fmt.Errorf("flow control %d: %w", flowControl, base.ErrInvalidSettings)
}

func (s *serialStream) SetDTR(dtr bool) error {
	if s.port == nil {
		return base.ErrNotOpened
	}
	return s.port.SetDTR(dtr)
}

func encodeHexString(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
