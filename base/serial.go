package base

import (
	"fmt"
	"strings"
)

type SerialDataBits int
type SerialParity int
type SerialStopBits int
type SerialFlowControl int

const (
	Serial5DataBits          SerialDataBits    = 5
	Serial6DataBits          SerialDataBits    = 6
	Serial7DataBits          SerialDataBits    = 7
	Serial8DataBits          SerialDataBits    = 8
	SerialNoParity           SerialParity      = 1
	SerialOddParity          SerialParity      = 2
	SerialEvenParity         SerialParity      = 3
	SerialMarkParity         SerialParity      = 4
	SerialSpaceParity        SerialParity      = 5
	SerialOneStopBit         SerialStopBits    = 1
	SerialTwoStopBits        SerialStopBits    = 2
	SerialOneAndHalfStopBits SerialStopBits    = 3
	SerialNoFlowControl      SerialFlowControl = 1
	SerialHWFlowControl      SerialFlowControl = 3 // RTS/CTS
)

var parityLetters = map[SerialParity]string{
	SerialNoParity:    "N",
	SerialOddParity:   "O",
	SerialEvenParity:  "E",
	SerialMarkParity:  "M",
	SerialSpaceParity: "S",
}

func (p SerialParity) String() string {
	if l, ok := parityLetters[p]; ok {
		return l
	}
	return fmt.Sprintf("parity(%d)", int(p))
}

// ParseSerialParity accepts the usual one letter form, empty means none.
func ParseSerialParity(s string) (SerialParity, error) {
	s = strings.ToUpper(s)
	if s == "" {
		return SerialNoParity, nil
	}
	for p, l := range parityLetters {
		if l == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("parity %q: %w", s, ErrInvalidSettings)
}

func (s SerialStopBits) String() string {
	switch s {
	case SerialOneStopBit:
		return "1"
	case SerialOneAndHalfStopBits:
		return "1.5"
	case SerialTwoStopBits:
		return "2"
	}
	return fmt.Sprintf("stopbits(%d)", int(s))
}

// SerialStreamSettings is the line setup, 9600 8N1 style.
type SerialStreamSettings struct {
	BaudRate    int
	DataBits    SerialDataBits
	Parity      SerialParity
	StopBits    SerialStopBits
	FlowControl SerialFlowControl // zero means none
}

func (s *SerialStreamSettings) String() string {
	return fmt.Sprintf("%d %d%v%v", s.BaudRate, s.DataBits, s.Parity, s.StopBits)
}

// Validate checks the line setup, only none and hardware flow control are known.
func (s *SerialStreamSettings) Validate() error {
	if s.BaudRate <= 0 {
		return fmt.Errorf("baud rate %d: %w", s.BaudRate, ErrInvalidSettings)
	}
	if s.DataBits < Serial5DataBits || s.DataBits > Serial8DataBits {
		return fmt.Errorf("data bits %d: %w", s.DataBits, ErrInvalidSettings)
	}
	if _, ok := parityLetters[s.Parity]; !ok {
		return fmt.Errorf("parity %d: %w", s.Parity, ErrInvalidSettings)
	}
	if s.StopBits < SerialOneStopBit || s.StopBits > SerialOneAndHalfStopBits {
		return fmt.Errorf("stop bits %d: %w", s.StopBits, ErrInvalidSettings)
	}
	switch s.FlowControl {
	case 0, SerialNoFlowControl, SerialHWFlowControl:
	default:
		return fmt.Errorf("flow control %d: %w", s.FlowControl, ErrInvalidSettings)
	}
	return nil
}

type SerialStream interface {
	Stream

	SetSpeed(baudRate int, dataBits SerialDataBits, parity SerialParity, stopBits SerialStopBits) error
	SetFlowControl(flowControl SerialFlowControl) error
	SetDTR(dtr bool) error
}
