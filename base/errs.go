package base

import (
	"errors"
	"fmt"

	"github.com/cybroslabs/libdlms-engine/buffer"
)

var ErrNothingToRead = errors.New("nothing to read")
var ErrNotOpened = errors.New("connection is not open")
var ErrCommunicationTimeout = errors.New("communication timeout")

// wire data errors, fatal for current exchange
var ErrOutOfRange = buffer.ErrOutOfRange
var ErrFCSMismatch = errors.New("fcs mismatch")
var ErrInvalidFrame = errors.New("invalid frame")
var ErrAddressMismatch = errors.New("address mismatch")
var ErrMalformedAPDU = errors.New("malformed apdu")
var ErrInvalidDataType = errors.New("invalid data type")
var ErrInvalidCount = errors.New("invalid object count")
var ErrInvalidBlockNumber = errors.New("invalid block number")
var ErrInvalidCommand = errors.New("invalid command")
var ErrInvalidGloCommand = errors.New("invalid glo command")
var ErrCipherNotSet = errors.New("secure connection is not supported, no cipher set")
var ErrInvalidAddress = errors.New("invalid address")
var ErrInvalidSettings = errors.New("invalid settings")

// link layer events reported by the peer
var ErrFrameRejected = errors.New("frame rejected by peer")
var ErrDisconnectMode = errors.New("peer is in disconnected mode")

// AssociationError is raised when AARE carries non accepted result.
type AssociationError struct {
	Result     AssociationResult
	Diagnostic SourceDiagnostic
}

func (e *AssociationError) Error() string {
	return fmt.Sprintf("association rejected: %s, diagnostic %d", e.Result, e.Diagnostic)
}

// ExceptionError is device reported exception response.
type ExceptionError struct {
	State   ExceptionStateError
	Service ExceptionServiceError
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("exception response, state error %d, service error %d", e.State, e.Service)
}

// DeviceError is an application level result returned inside a response.
type DeviceError struct {
	Result DlmsResultTag
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device returned %s (%d)", e.Result, byte(e.Result))
}
