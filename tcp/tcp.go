package tcp

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/metrics"
	"go.uber.org/zap"
)

const transportName = "tcp"

type tcp struct {
	address         string
	logger          *zap.SugaredLogger
	connected       bool
	dialed          bool
	timeout         time.Duration
	conn            net.Conn
	offset          int
	read            int
	buffer          []byte
	deadline        time.Time
	totalincoming   int64
	totaloutgoing   int64
	currentincoming int64
	maxincoming     int64
}

// New returns stream dialing address (host:port) on Open. Timeout bounds
// connect and every single read or write.
func New(address string, timeout time.Duration) base.Stream {
	return &tcp{
		address: address,
		dialed:  true,
		timeout: timeout,
		buffer:  make([]byte, 2048),
	}
}

// NewFromConn wraps already established connection, for example accepted one.
// Open does nothing, Disconnect closes the connection.
func NewFromConn(conn net.Conn, timeout time.Duration) base.Stream {
	return &tcp{
		address:   conn.RemoteAddr().String(),
		connected: true,
		timeout:   timeout,
		conn:      conn,
		buffer:    make([]byte, 2048),
	}
}

func (t *tcp) logf(format string, v ...any) {
	if t.logger != nil {
		t.logger.Infof(format, v...)
	}
}

func (t *tcp) Close() error {
	return nil // there is no association on this level
}

func (t *tcp) Open() error {
	if t.connected {
		return nil
	}
	if !t.dialed {
		return fmt.Errorf("connection to %s already closed: %w", t.address, base.ErrNotOpened)
	}

	conn, err := net.DialTimeout("tcp", t.address, t.timeout)
	if err != nil {
		t.logf("Connect to %s failed: %v", t.address, err)
		return fmt.Errorf("connect failed: %w", err)
	}
	t.logf("Connected to %s", t.address)

	t.conn = conn
	t.connected = true
	t.offset = 0
	t.read = 0
	return nil
}

func (t *tcp) Disconnect() error {
	if !t.connected {
		return nil
	}
	t.connected = false
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.logf("Disconnected from %s", t.address)
	t.logf("Total bytes incoming: %v, outgoing: %v", t.totalincoming, t.totaloutgoing)
	return nil
}

func (t *tcp) IsOpen() bool {
	return t.connected
}

func (t *tcp) SetMaxReceivedBytes(m int64) {
	t.currentincoming = 0
	t.maxincoming = m
}

func (t *tcp) SetDeadline(d time.Time) {
	t.deadline = d
}

func (t *tcp) SetLogger(logger *zap.SugaredLogger) {
	t.logger = logger
}

// setcommdeadline picks the sooner of per operation timeout and stream deadline.
func (t *tcp) setcommdeadline() {
	var cd time.Time
	if t.timeout > 0 {
		cd = time.Now().Add(t.timeout)
	}
	if !t.deadline.IsZero() && (cd.IsZero() || t.deadline.Before(cd)) {
		cd = t.deadline
	}
	_ = t.conn.SetDeadline(cd)
}

func (t *tcp) Write(src []byte) error {
	if !t.connected {
		return base.ErrNotOpened
	}

	for len(src) > 0 {
		t.setcommdeadline()
		n, err := t.conn.Write(src)
		t.totaloutgoing += int64(n)
		metrics.RecordBytesOut(transportName, n)
		if n > 0 && t.logger != nil {
			t.logger.Debugf("TX (%s): %6d %s", t.address, n, encodeHexString(src[:n]))
		}
		if err != nil {
			return fmt.Errorf("write failed: %w", t.wrap(err))
		}
		src = src[n:]
	}
	return nil
}

func (t *tcp) Read(p []byte) (n int, err error) {
	if !t.connected {
		return 0, base.ErrNotOpened
	}
	if len(p) == 0 {
		return 0, base.ErrNothingToRead
	}

	if rem := t.read - t.offset; rem > 0 { // something unread in the buffer
		n = copy(p, t.buffer[t.offset:t.read])
		t.offset += n
		return n, nil
	}

	t.setcommdeadline()
	rx, err := t.conn.Read(t.buffer)
	t.totalincoming += int64(rx)
	t.currentincoming += int64(rx)
	metrics.RecordBytesIn(transportName, rx)
	if t.maxincoming > 0 && t.currentincoming > t.maxincoming {
		return 0, fmt.Errorf("received %d bytes, allowed %d: %w", t.currentincoming, t.maxincoming, base.ErrOutOfRange)
	}

	if rx > 0 {
		if t.logger != nil {
			t.logger.Debugf("RX (%s): %6d %s", t.address, rx, encodeHexString(t.buffer[:rx]))
		}
		t.read = rx
		n = copy(p, t.buffer[:rx])
		t.offset = n
		return n, nil
	}
	t.read = 0
	t.offset = 0
	if err != nil {
		return 0, t.wrap(err)
	}
	return 0, io.EOF
}

func (t *tcp) wrap(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %w", base.ErrCommunicationTimeout, err)
	}
	return err
}

func encodeHexString(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
