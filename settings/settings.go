package settings

import (
	"fmt"

	"github.com/cybroslabs/libdlms-engine/base"
	"go.uber.org/zap"
)

// Limits are hdlc link parameters, negotiated by SNRM/UA.
type Limits struct {
	MaxInfoTX    uint16
	MaxInfoRX    uint16
	WindowSizeTX byte
	WindowSizeRX byte
}

func DefaultLimits() Limits {
	return Limits{MaxInfoTX: 128, MaxInfoRX: 128, WindowSizeTX: 1, WindowSizeRX: 1}
}

// Settings is the state of one session, either side. Not safe for
// concurrent use.
type Settings struct {
	Server                    bool
	ClientAddress             int
	ServerAddress             int
	ServerAddressSize         int // 0 means shortest possible encoding
	InterfaceType             base.InterfaceType
	UseLogicalNameReferencing bool
	MaxReceivePDUSize         uint16
	DLMSVersion               byte
	DlmsVersionNumber         byte // version proposed by the peer
	InvokeID                  byte
	LongInvokeID              uint32
	Priority                  base.Priority
	ServiceClass              base.ServiceClass
	BlockIndex                uint32
	StartingBlockIndex        uint32
	Cipher                    base.Cipher
	SourceSystemTitle         []byte
	Authentication            base.Authentication
	Password                  []byte
	CtoSChallenge             []byte
	StoCChallenge             []byte
	LNConformance             base.Conformance
	SNConformance             base.Conformance
	NegotiatedConformance     base.Conformance
	Limits                    Limits
	Connected                 bool

	senderFrame   byte
	receiverFrame byte
	logger        *zap.SugaredLogger
}

func New(server bool) *Settings {
	s := &Settings{
		Server:                    server,
		UseLogicalNameReferencing: true,
		MaxReceivePDUSize:         base.DefaultMaxReceivePDUSize,
		DLMSVersion:               base.DlmsVersion,
		InvokeID:                  1,
		Priority:                  base.PriorityHigh,
		ServiceClass:              base.ServiceClassUnconfirmed,
		BlockIndex:                1,
		StartingBlockIndex:        1,
		SNConformance:             base.ConformanceSN,
		Limits:                    DefaultLimits(),
	}
	if server {
		s.LNConformance = base.ConformanceServerLN
	} else {
		s.LNConformance = base.ConformanceClientLN
	}
	s.ResetFrameSequence()
	return s
}

func (s *Settings) SetLogger(logger *zap.SugaredLogger) {
	s.logger = logger
}

func (s *Settings) Logger() *zap.SugaredLogger {
	return s.logger
}

func (s *Settings) debugf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Debugf(format, v...)
	}
}

// Validate checks values which would produce malformed frames.
func (s *Settings) Validate() error {
	if s.InvokeID > 0x0F {
		return fmt.Errorf("invoke id %d out of range: %w", s.InvokeID, base.ErrInvalidSettings)
	}
	switch s.ServerAddressSize {
	case 0, 1, 2, 4:
	default:
		return fmt.Errorf("server address size %d: %w", s.ServerAddressSize, base.ErrInvalidSettings)
	}
	if s.MaxReceivePDUSize < 32 {
		return fmt.Errorf("max receive pdu size %d too small: %w", s.MaxReceivePDUSize, base.ErrInvalidSettings)
	}
	if s.InterfaceType == base.InterfaceTypeHDLC && s.Limits.MaxInfoTX < 32 {
		return fmt.Errorf("max info tx %d too small: %w", s.Limits.MaxInfoTX, base.ErrInvalidSettings)
	}
	return nil
}

func (s *Settings) SetInvokeID(id byte) error {
	if id > 0x0F {
		return fmt.Errorf("invoke id %d out of range: %w", id, base.ErrInvalidSettings)
	}
	s.InvokeID = id
	return nil
}

// InvokeIDAndPriority is the byte following command and its parameter.
func (s *Settings) InvokeIDAndPriority() byte {
	v := s.InvokeID & 0x0F
	if s.Priority == base.PriorityHigh {
		v |= 0x80
	}
	if s.ServiceClass == base.ServiceClassConfirmed {
		v |= 0x40
	}
	return v
}

// Conformance returns proposed conformance for the referencing in use.
func (s *Settings) Conformance() base.Conformance {
	if s.UseLogicalNameReferencing {
		return s.LNConformance
	}
	return s.SNConformance
}

// SetConformance stores conformance for the referencing in use.
func (s *Settings) SetConformance(c base.Conformance) {
	if s.UseLogicalNameReferencing {
		s.LNConformance = c
	} else {
		s.SNConformance = c
	}
}

// IsCiphered reports whether apdus are ciphered.
func (s *Settings) IsCiphered() bool {
	return s.Cipher != nil && s.Cipher.IsCiphered()
}

func (s *Settings) ResetBlockIndex() {
	s.BlockIndex = s.StartingBlockIndex
}

func (s *Settings) IncreaseBlockIndex() {
	s.BlockIndex++
}
