package dlmsal

import (
	"fmt"
	"strings"

	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/buffer"
	"github.com/cybroslabs/libdlms-engine/settings"
)

func applicationContextOID(s *settings.Settings) []byte {
	ciphered := s.IsCiphered()
	switch {
	case s.UseLogicalNameReferencing && ciphered:
		return base.LogicalNameObjectIDWithCiphering
	case s.UseLogicalNameReferencing:
		return base.LogicalNameObjectID
	case ciphered:
		return base.ShortNameObjectIDWithCiphering
	}
	return base.ShortNameObjectID
}

func putappctxname(dst *buffer.Buffer, s *settings.Settings) error {
	// not so exactly correct things, but for speed sake
	dst.SetUint8(base.BERTypeContext | base.BERTypeConstructed | base.PduTypeApplicationContextName)
	dst.SetUint8(0x09)
	dst.SetUint8(base.BERTypeObjectIdentifier)
	dst.SetUint8(0x07)
	dst.Set(applicationContextOID(s))

	if s.Server || !(s.IsCiphered() || s.Authentication == base.AuthenticationHighGmac) {
		return nil
	}
	if s.Cipher == nil {
		return fmt.Errorf("calling ap title: %w", base.ErrCipherNotSet)
	}
	st := s.Cipher.SystemTitle()
	if len(st) == 0 {
		return fmt.Errorf("calling ap title, empty system title: %w", base.ErrInvalidSettings)
	}
	dst.SetUint8(base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCallingAPTitle)
	dst.SetUint8(byte(2 + len(st)))
	dst.SetUint8(base.BERTypeOctetString)
	dst.SetUint8(byte(len(st)))
	dst.Set(st)
	return nil
}

// putsecvalues returns range of the secret inside dst so it can be hidden in logs.
func putsecvalues(dst *buffer.Buffer, s *settings.Settings) (st int, en int) {
	if s.Authentication == base.AuthenticationNone {
		return 0, 0
	}
	dst.SetUint8(base.BERTypeContext | base.PduTypeSenderAcseRequirements)
	dst.SetUint8(2)
	dst.SetUint8(base.BERTypeBitString | base.BERTypeOctetString)
	dst.SetUint8(0x80)

	dst.SetUint8(base.BERTypeContext | base.PduTypeMechanismName)
	dst.SetUint8(7)
	dst.Set(base.MechanismNamePrefix)
	dst.SetUint8(byte(s.Authentication))

	pw := s.CtoSChallenge
	if s.Authentication < base.AuthenticationHighMD5 {
		pw = s.Password
	}
	dst.SetUint8(base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCallingAuthenticationValue)
	dst.SetUint8(byte(2 + len(pw)))
	dst.SetUint8(base.BERTypeContext)
	dst.SetUint8(byte(len(pw)))
	st = dst.Size()
	dst.Set(pw)
	return st, dst.Size()
}

func initiateRequest(s *settings.Settings) []byte {
	b := buffer.New(16)
	b.SetUint8(base.InitiateRequestTag)
	b.SetUint8(0) // dedicated key
	b.SetUint8(0) // response allowed, default true
	b.SetUint8(0) // proposed quality of service
	b.SetUint8(s.DLMSVersion)
	b.Set([]byte{0x5F, 0x1F, 0x04, 0x00})
	b.Set(s.Conformance().Bytes())
	b.SetUint16(s.MaxReceivePDUSize)
	return b.Array()
}

func putuserinfo(dst *buffer.Buffer, s *settings.Settings, xdlms []byte, glotag byte) error {
	if s.IsCiphered() {
		var err error
		xdlms, err = s.Cipher.Encrypt(glotag, s.Cipher.SystemTitle(), xdlms)
		if err != nil {
			return fmt.Errorf("user information: %w", err)
		}
	}
	if len(xdlms) > 0x7D {
		return fmt.Errorf("user information too long (%d): %w", len(xdlms), base.ErrMalformedAPDU)
	}
	dst.SetUint8(base.BERTypeContext | base.BERTypeConstructed | base.PduTypeUserInformation)
	dst.SetUint8(byte(2 + len(xdlms)))
	dst.SetUint8(base.BERTypeOctetString)
	dst.SetUint8(byte(len(xdlms)))
	dst.Set(xdlms)
	return nil
}

func closeapdu(dst *buffer.Buffer, offset int) error {
	l := dst.Size() - offset - 2
	if l > 0x7F {
		return fmt.Errorf("apdu content too long (%d): %w", l, base.ErrMalformedAPDU)
	}
	return dst.SetUint8At(offset+1, byte(l))
}

// EncodeAARQ appends association request to dst.
func EncodeAARQ(s *settings.Settings, dst *buffer.Buffer) error {
	offset := dst.Size()
	dst.SetUint8(byte(base.TagAARQ))
	dst.SetUint8(0)
	if err := putappctxname(dst, s); err != nil {
		return err
	}
	st, en := putsecvalues(dst, s)
	if err := putuserinfo(dst, s, initiateRequest(s), base.GloInitiateRequestTag); err != nil {
		return err
	}
	if err := closeapdu(dst, offset); err != nil {
		return err
	}
	if l := s.Logger(); l != nil {
		nosec := dst.Array()[offset:]
		if en > st {
			clear(nosec[st-offset : en-offset])
		}
		l.Debugf("AARQ: %s", encodeHexString(nosec))
	}
	return nil
}

func encodeHexString(b []byte) string {
	return strings.ToUpper(fmt.Sprintf("%x", b))
}
