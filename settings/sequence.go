package settings

import (
	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/metrics"
)

// control field layout: RRR P SSS 0 for I-frames, RRR P xx 01 for S-frames

func increaseReceiverSequence(v byte) byte {
	return (v + 0x20) | 0x10 | (v & 0x0E)
}

func increaseSendSequence(v byte) byte {
	return (v & 0xF0) | ((v + 2) & 0x0E)
}

// ResetFrameSequence puts both counters into state right after SNRM/UA.
func (s *Settings) ResetFrameSequence() {
	if s.Server {
		s.senderFrame = 0x1E
		s.receiverFrame = 0xFE
	} else {
		s.senderFrame = 0x10
		s.receiverFrame = 0x0E
	}
}

func (s *Settings) SenderFrame() byte   { return s.senderFrame }
func (s *Settings) ReceiverFrame() byte { return s.receiverFrame }

// NextSend returns control byte of the next I-frame.
func (s *Settings) NextSend() byte {
	s.senderFrame = increaseReceiverSequence(increaseSendSequence(s.senderFrame))
	return s.senderFrame
}

// ReceiverReady returns control byte of RR frame acknowledging next frame.
func (s *Settings) ReceiverReady() byte {
	s.senderFrame = increaseReceiverSequence(s.senderFrame) | 1
	return s.senderFrame & 0xF1
}

// KeepAlive returns RR control byte without advancing receive sequence.
func (s *Settings) KeepAlive() byte {
	s.senderFrame |= 1
	return s.senderFrame & 0xF1
}

// CheckFrame tracks received control byte. Out of sequence frames are logged
// and still accepted, some meters do not count properly.
func (s *Settings) CheckFrame(frame byte) bool {
	if frame == base.FrameTypeRejected {
		return true
	}
	switch frame & 3 {
	case 3:
		s.ResetFrameSequence()
		return true
	case 1:
		if frame&0xE0 == s.receiverFrame&0xE0 {
			s.receiverFrame = frame
			return true
		}
		s.mismatch(frame)
		return true
	}
	if s.senderFrame&1 == 0 {
		if frame&0xE0 == (s.receiverFrame+0x20)&0xE0 && frame&0x0E == (s.receiverFrame+2)&0x0E {
			s.receiverFrame = frame
			return true
		}
	} else if frame == s.receiverFrame || (frame&0xE0 == s.receiverFrame&0xE0 && frame&0x0E == (s.receiverFrame+2)&0x0E) {
		s.receiverFrame = frame
		return true
	}
	s.mismatch(frame)
	return true
}

func (s *Settings) mismatch(frame byte) {
	metrics.RecordSequenceMismatch()
	s.debugf("frame id %02X does not match, sender %02X receiver %02X", frame, s.senderFrame, s.receiverFrame)
}
