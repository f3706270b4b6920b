package dlmsal

import (
	"fmt"

	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/buffer"
	"github.com/cybroslabs/libdlms-engine/settings"
)

func initiateResponse(s *settings.Settings) []byte {
	b := buffer.New(16)
	b.SetUint8(base.InitiateResponseTag)
	b.SetUint8(0x01) // negotiated quality of service, empty
	b.SetUint8(0x00)
	b.SetUint8(base.DlmsVersion)
	b.Set([]byte{0x5F, 0x1F, 0x04, 0x00})
	b.Set(s.Conformance().Bytes())
	b.SetUint16(s.MaxReceivePDUSize)
	if s.UseLogicalNameReferencing {
		b.SetUint16(base.VAANameLN)
	} else {
		b.SetUint16(base.VAANameSN)
	}
	return b.Array()
}

// EncodeAARE appends association response to dst.
func EncodeAARE(s *settings.Settings, dst *buffer.Buffer, result base.AssociationResult, diagnostic base.SourceDiagnostic) error {
	offset := dst.Size()
	dst.SetUint8(byte(base.TagAARE))
	dst.SetUint8(0)
	if err := putappctxname(dst, s); err != nil {
		return err
	}

	dst.Set([]byte{base.BERTypeContext | base.BERTypeConstructed | base.BERTypeInteger, 3, base.BERTypeInteger, 1, byte(result)})
	dst.Set([]byte{0xA3, 5, 0xA1, 3, base.BERTypeInteger, 1, byte(diagnostic)})

	if s.Cipher != nil && (s.Cipher.IsCiphered() || s.Authentication == base.AuthenticationHighGmac) {
		st := s.Cipher.SystemTitle()
		dst.SetUint8(base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAPInvocationID)
		dst.SetUint8(byte(2 + len(st)))
		dst.SetUint8(base.BERTypeOctetString)
		dst.SetUint8(byte(len(st)))
		dst.Set(st)
	}

	if result != base.AssociationResultPermanentRejected && diagnostic == base.SourceDiagnosticAuthenticationRequired {
		dst.Set([]byte{0x88, 0x02, 0x07, 0x80})
		dst.SetUint8(0x89)
		dst.SetUint8(0x07)
		dst.Set(base.MechanismNamePrefix)
		dst.SetUint8(byte(s.Authentication))
		dst.SetUint8(0xAA)
		dst.SetUint8(byte(2 + len(s.StoCChallenge)))
		dst.SetUint8(base.BERTypeContext)
		dst.SetUint8(byte(len(s.StoCChallenge)))
		dst.Set(s.StoCChallenge)
	}

	if err := putuserinfo(dst, s, initiateResponse(s), base.GloInitiateResponseTag); err != nil {
		return err
	}
	return closeapdu(dst, offset)
}

func readbyte(b *buffer.Buffer, what string) (byte, error) {
	v, err := b.Uint8()
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", what, base.ErrMalformedAPDU, err)
	}
	return v, nil
}

func readbytes(b *buffer.Buffer, n int, what string) ([]byte, error) {
	v, err := b.Next(n)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", what, base.ErrMalformedAPDU, err)
	}
	return v, nil
}

func expectbyte(b *buffer.Buffer, want byte, what string) error {
	v, err := readbyte(b, what)
	if err != nil {
		return err
	}
	if v != want {
		return fmt.Errorf("%s: expected %02X, got %02X: %w", what, want, v, base.ErrMalformedAPDU)
	}
	return nil
}

// readtlv reads length, inner tag and inner length and returns the value.
func readtlv(b *buffer.Buffer, what string) (byte, []byte, error) {
	if _, err := readbyte(b, what); err != nil {
		return 0, nil, err
	}
	tag, err := readbyte(b, what)
	if err != nil {
		return 0, nil, err
	}
	l, err := readbyte(b, what)
	if err != nil {
		return 0, nil, err
	}
	v, err := readbytes(b, int(l), what)
	return tag, v, err
}

func parseApplicationContextName(s *settings.Settings, b *buffer.Buffer) (bool, error) {
	l, err := readbyte(b, "application context name")
	if err != nil {
		return false, err
	}
	if b.Remaining() < int(l) {
		return false, fmt.Errorf("application context name: %w", base.ErrMalformedAPDU)
	}
	if err := expectbyte(b, base.BERTypeObjectIdentifier, "application context name"); err != nil {
		return false, err
	}
	if _, err := readbyte(b, "application context name"); err != nil {
		return false, err
	}
	if s.UseLogicalNameReferencing {
		return b.Compare(base.LogicalNameObjectID) || b.Compare(base.LogicalNameObjectIDWithCiphering), nil
	}
	return b.Compare(base.ShortNameObjectID) || b.Compare(base.ShortNameObjectIDWithCiphering), nil
}

// ParseAPDU parses AARQ on server side or AARE on client side and stores
// negotiated values into s.
func ParseAPDU(s *settings.Settings, b *buffer.Buffer) (base.SourceDiagnostic, error) {
	tag, err := readbyte(b, "apdu tag")
	if err != nil {
		return base.SourceDiagnosticNone, err
	}
	want := base.TagAARE
	if s.Server {
		want = base.TagAARQ
	}
	if tag != byte(want) {
		return base.SourceDiagnosticNone, fmt.Errorf("apdu tag %02X, expected %02X: %w", tag, byte(want), base.ErrMalformedAPDU)
	}
	l, err := readbyte(b, "apdu length")
	if err != nil {
		return base.SourceDiagnosticNone, err
	}
	if int(l) > b.Remaining() {
		return base.SourceDiagnosticNone, fmt.Errorf("apdu length %d, available %d: %w", l, b.Remaining(), base.ErrMalformedAPDU)
	}
	end := b.Position() + int(l)

	result := base.AssociationResultAccepted
	diag := base.SourceDiagnosticNone
	for b.Position() < end && b.Remaining() > 0 { // deciphering shrinks the buffer
		tag, _ = b.Uint8()
		switch tag {
		case base.BERTypeContext | base.BERTypeConstructed | base.PduTypeApplicationContextName: // A1
			ok, err := parseApplicationContextName(s, b)
			if err != nil {
				return diag, err
			}
			if !ok {
				return diag, &base.AssociationError{Result: base.AssociationResultPermanentRejected, Diagnostic: base.SourceDiagnosticApplicationContextNameNotSupported}
			}
		case base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAPTitle: // A2 result
			for _, e := range []byte{3, base.BERTypeInteger, 1} {
				if err := expectbyte(b, e, "association result"); err != nil {
					return diag, err
				}
			}
			v, err := readbyte(b, "association result")
			if err != nil {
				return diag, err
			}
			result = base.AssociationResult(v)
		case base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAEQualifier: // A3 diagnostic
			if _, err := readbytes(b, 3, "source diagnostic"); err != nil {
				return diag, err
			}
			if err := expectbyte(b, base.BERTypeInteger, "source diagnostic"); err != nil {
				return diag, err
			}
			if err := expectbyte(b, 1, "source diagnostic"); err != nil {
				return diag, err
			}
			v, err := readbyte(b, "source diagnostic")
			if err != nil {
				return diag, err
			}
			diag = base.SourceDiagnostic(v)
		case base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCalledAPInvocationID: // A4 responding ap title
			if err := expectbyte(b, 0x0A, "responding ap title"); err != nil {
				return diag, err
			}
			if err := expectbyte(b, base.BERTypeOctetString, "responding ap title"); err != nil {
				return diag, err
			}
			n, err := readbyte(b, "responding ap title")
			if err != nil {
				return diag, err
			}
			if s.SourceSystemTitle, err = readbytes(b, int(n), "responding ap title"); err != nil {
				return diag, err
			}
		case base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCallingAPTitle: // A6 calling ap title
			_, v, err := readtlv(b, "calling ap title")
			if err != nil {
				return diag, err
			}
			s.SourceSystemTitle = v
		case base.BERTypeContext | base.BERTypeConstructed | base.PduTypeSenderAcseRequirements: // AA server challenge
			_, v, err := readtlv(b, "responding authentication value")
			if err != nil {
				return diag, err
			}
			s.StoCChallenge = v
		case base.BERTypeContext | base.PduTypeSenderAcseRequirements, base.BERTypeContext | base.PduTypeCallingAPInvocationID: // 8A, 88
			for _, e := range []byte{2, base.BERTypeObjectDescriptor, 0x80} {
				if err := expectbyte(b, e, "acse requirements"); err != nil {
					return diag, err
				}
			}
		case base.BERTypeContext | base.PduTypeMechanismName, base.BERTypeContext | base.PduTypeCallingAEInvocationID: // 8B, 89
			if _, err := readbyte(b, "mechanism name"); err != nil {
				return diag, err
			}
			if !b.Compare(base.MechanismNamePrefix) {
				return diag, fmt.Errorf("mechanism name: %w", base.ErrMalformedAPDU)
			}
			v, err := readbyte(b, "mechanism name")
			if err != nil {
				return diag, err
			}
			if base.Authentication(v) > base.AuthenticationHighEcdsa {
				return diag, fmt.Errorf("mechanism name, authentication %d: %w", v, base.ErrMalformedAPDU)
			}
			s.Authentication = base.Authentication(v)
		case base.BERTypeContext | base.BERTypeConstructed | base.PduTypeCallingAuthenticationValue: // AC
			if _, err := readbyte(b, "calling authentication value"); err != nil {
				return diag, err
			}
			if err := expectbyte(b, base.BERTypeContext, "calling authentication value"); err != nil {
				return diag, err
			}
			n, err := readbyte(b, "calling authentication value")
			if err != nil {
				return diag, err
			}
			v, err := readbytes(b, int(n), "calling authentication value")
			if err != nil {
				return diag, err
			}
			if s.Authentication < base.AuthenticationHighMD5 {
				s.Password = v
			} else {
				s.CtoSChallenge = v
			}
		case base.BERTypeContext | base.BERTypeConstructed | base.PduTypeUserInformation: // BE
			if result != base.AssociationResultAccepted && diag != base.SourceDiagnosticNone {
				return diag, &base.AssociationError{Result: result, Diagnostic: diag}
			}
			if err := parseUserInformation(s, b); err != nil {
				return diag, err
			}
		default:
			n, err := readbyte(b, "unknown tag")
			if err != nil {
				return diag, err
			}
			if l := s.Logger(); l != nil {
				l.Debugf("skipping unknown apdu tag %02X, length %d", tag, n)
			}
			if err := b.SetPosition(b.Position() + int(n)); err != nil {
				return diag, fmt.Errorf("unknown tag %02X: %w: %w", tag, base.ErrMalformedAPDU, err)
			}
		}
	}
	return diag, nil
}

func parseUserInformation(s *settings.Settings, b *buffer.Buffer) error {
	l, err := readbyte(b, "user information")
	if err != nil {
		return err
	}
	if b.Remaining() < int(l) {
		return fmt.Errorf("user information length %d: %w", l, base.ErrMalformedAPDU)
	}
	if err := expectbyte(b, base.BERTypeOctetString, "user information"); err != nil {
		return err
	}
	if _, err := readbyte(b, "user information"); err != nil {
		return err
	}
	tag, err := readbyte(b, "user information")
	if err != nil {
		return err
	}
	if tag == base.GloInitiateResponseTag || tag == base.GloInitiateRequestTag {
		if s.Cipher == nil {
			return fmt.Errorf("ciphered user information: %w", base.ErrCipherNotSet)
		}
		_ = b.SetPosition(b.Position() - 1)
		sec, err := s.Cipher.Decrypt(s.SourceSystemTitle, b)
		if err != nil {
			return fmt.Errorf("ciphered user information: %w", err)
		}
		if l := s.Logger(); l != nil {
			l.Debugf("user information deciphered, security %02X", byte(sec))
		}
		if tag, err = readbyte(b, "user information"); err != nil {
			return err
		}
	}

	response := tag == base.InitiateResponseTag
	switch {
	case response:
		if err := skipoptional(b, nil); err != nil { // negotiated quality of service
			return err
		}
	case tag == base.InitiateRequestTag:
		var ctos []byte
		if err := skipoptional(b, &ctos); err != nil { // dedicated key
			return err
		}
		if ctos != nil {
			s.CtoSChallenge = ctos
		}
		if err := skipoptional(b, nil); err != nil { // response allowed
			return err
		}
		if err := skipoptional(b, nil); err != nil { // proposed quality of service
			return err
		}
	default:
		return fmt.Errorf("user information tag %02X: %w", tag, base.ErrMalformedAPDU)
	}

	ver, err := readbyte(b, "dlms version")
	if err != nil {
		return err
	}
	if s.Server {
		s.DlmsVersionNumber = ver
	} else if ver != base.DlmsVersion {
		return fmt.Errorf("dlms version %d: %w", ver, base.ErrMalformedAPDU)
	}

	if err := expectbyte(b, 0x5F, "conformance"); err != nil {
		return err
	}
	if v, err := b.Uint8At(b.Position()); err == nil && v == 0x1F {
		_, _ = b.Uint8()
	}
	if _, err := readbytes(b, 2, "conformance"); err != nil { // length, unused bits
		return err
	}
	conf, err := readbytes(b, 3, "conformance")
	if err != nil {
		return err
	}
	maxpdu, err := b.Uint16()
	if err != nil {
		return fmt.Errorf("max pdu size: %w: %w", base.ErrMalformedAPDU, err)
	}
	if !s.Server {
		s.SetConformance(base.ConformanceFromBytes(conf))
		s.NegotiatedConformance = base.ConformanceFromBytes(conf)
		s.MaxReceivePDUSize = maxpdu
	}
	if !response {
		return nil
	}
	vaa, err := b.Uint16()
	if err != nil {
		return fmt.Errorf("vaa name: %w: %w", base.ErrMalformedAPDU, err)
	}
	switch {
	case vaa == base.VAANameLN && s.UseLogicalNameReferencing:
	case vaa == base.VAANameSN && !s.UseLogicalNameReferencing:
	default:
		return fmt.Errorf("vaa name %04X: %w", vaa, base.ErrMalformedAPDU)
	}
	return nil
}

// skipoptional reads optional component flag, when set length and value
// follow and are stored into dst if not nil.
func skipoptional(b *buffer.Buffer, dst *[]byte) error {
	f, err := readbyte(b, "optional component")
	if err != nil {
		return err
	}
	if f == 0 {
		return nil
	}
	n, err := readbyte(b, "optional component")
	if err != nil {
		return err
	}
	v, err := readbytes(b, int(n), "optional component")
	if err != nil {
		return err
	}
	if dst != nil {
		*dst = v
	}
	return nil
}
