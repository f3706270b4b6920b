package base

import (
	"time"

	"github.com/cybroslabs/libdlms-engine/buffer"
	"go.uber.org/zap"
)

type Stream interface { // todo, make it a bit more streamable, so receive wanted amount of bytes with guaranted amount or timeout or error...
	Close() error
	Open() error
	Disconnect() error // hard end of connection without solving any unassociation or so
	IsOpen() bool
	SetLogger(logger *zap.SugaredLogger)
	SetDeadline(t time.Time)     // zero time means no deadline
	SetMaxReceivedBytes(m int64) // every call resets current counter, exceeding bytes count means comm error, only incomming bytes are counted
	Read(p []byte) (n int, err error)
	Write(src []byte) error // always write everything
}

// Cipher is everything the engine needs from ciphering. Implementation keeps
// its own keys and invocation counter.
type Cipher interface {
	// Encrypt returns complete ciphered apdu starting with tag.
	Encrypt(tag byte, systemTitle []byte, plaintext []byte) ([]byte, error)
	// Decrypt replaces ciphered apdu starting at data position with plaintext.
	Decrypt(sourceSystemTitle []byte, data *buffer.Buffer) (DlmsSecurity, error)
	SystemTitle() []byte
	IsCiphered() bool
}
