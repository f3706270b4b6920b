package dlmsal

import (
	"bytes"
	"errors"
	"testing"

	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/buffer"
	"github.com/cybroslabs/libdlms-engine/settings"
)

// testCipher wraps plaintext as tag, length, plaintext
type testCipher struct {
	title []byte
}

func (c *testCipher) Encrypt(tag byte, _ []byte, plaintext []byte) ([]byte, error) {
	return append([]byte{tag, byte(len(plaintext))}, plaintext...), nil
}

func (c *testCipher) Decrypt(_ []byte, data *buffer.Buffer) (base.DlmsSecurity, error) {
	pos := data.Position()
	if _, err := data.Uint8(); err != nil {
		return base.SecurityNone, err
	}
	n, err := data.Uint8()
	if err != nil {
		return base.SecurityNone, err
	}
	if err := data.Move(pos+2, pos, int(n)); err != nil {
		return base.SecurityNone, err
	}
	_ = data.SetSize(pos + int(n))
	_ = data.SetPosition(pos)
	return base.SecurityEncryption, nil
}

func (c *testCipher) SystemTitle() []byte { return c.title }
func (c *testCipher) IsCiphered() bool    { return true }

func TestEncodeAARQNoAuthentication(t *testing.T) {
	s := settings.New(false)
	b := buffer.New(0)
	if err := EncodeAARQ(s, b); err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0x60, 0x1D,
		0xA1, 0x09, 0x06, 0x07, 0x60, 0x85, 0x74, 0x05, 0x08, 0x01, 0x01,
		0xBE, 0x10, 0x04, 0x0E, 0x01, 0x00, 0x00, 0x00, 0x06, 0x5F, 0x1F, 0x04, 0x00, 0x00, 0x7E, 0x1F, 0xFF, 0xFF,
	}
	if !bytes.Equal(b.Bytes(), want) {
		t.Errorf("got %X, want %X", b.Bytes(), want)
	}
}

func TestAssociationRoundTrip(t *testing.T) {
	client := settings.New(false)
	client.Authentication = base.AuthenticationLow
	client.Password = []byte("12345678")
	client.MaxReceivePDUSize = 0x04B0
	server := settings.New(true)
	server.MaxReceivePDUSize = 0x0200

	req := buffer.New(0)
	if err := EncodeAARQ(client, req); err != nil {
		t.Fatal(err)
	}
	_ = req.SetPosition(0)
	diag, err := ParseAPDU(server, req)
	if err != nil {
		t.Fatal(err)
	}
	if diag != base.SourceDiagnosticNone {
		t.Errorf("diagnostic %d", diag)
	}
	if server.Authentication != base.AuthenticationLow || string(server.Password) != "12345678" {
		t.Errorf("server got authentication %v password %q", server.Authentication, server.Password)
	}
	if server.DlmsVersionNumber != 6 {
		t.Errorf("server got dlms version %d", server.DlmsVersionNumber)
	}

	rsp := buffer.New(0)
	if err := EncodeAARE(server, rsp, base.AssociationResultAccepted, base.SourceDiagnosticNone); err != nil {
		t.Fatal(err)
	}
	_ = rsp.SetPosition(0)
	if _, err := ParseAPDU(client, rsp); err != nil {
		t.Fatal(err)
	}
	if client.MaxReceivePDUSize != 0x0200 {
		t.Errorf("client max pdu %04X", client.MaxReceivePDUSize)
	}
	if client.NegotiatedConformance != base.ConformanceServerLN || client.LNConformance != base.ConformanceServerLN {
		t.Errorf("client conformance %06X", uint32(client.NegotiatedConformance))
	}
}

func TestAssociationRejected(t *testing.T) {
	server := settings.New(true)
	rsp := buffer.New(0)
	if err := EncodeAARE(server, rsp, base.AssociationResultPermanentRejected, base.SourceDiagnosticNoReasonGiven); err != nil {
		t.Fatal(err)
	}
	_ = rsp.SetPosition(0)
	_, err := ParseAPDU(settings.New(false), rsp)
	var ae *base.AssociationError
	if !errors.As(err, &ae) {
		t.Fatalf("expected association error, got %v", err)
	}
	if ae.Result != base.AssociationResultPermanentRejected || ae.Diagnostic != base.SourceDiagnosticNoReasonGiven {
		t.Errorf("got %+v", ae)
	}
}

func TestAssociationContextNameMismatch(t *testing.T) {
	server := settings.New(true)
	rsp := buffer.New(0)
	if err := EncodeAARE(server, rsp, base.AssociationResultAccepted, base.SourceDiagnosticNone); err != nil {
		t.Fatal(err)
	}
	_ = rsp.SetPosition(0)
	client := settings.New(false)
	client.UseLogicalNameReferencing = false
	_, err := ParseAPDU(client, rsp)
	var ae *base.AssociationError
	if !errors.As(err, &ae) || ae.Diagnostic != base.SourceDiagnosticApplicationContextNameNotSupported {
		t.Fatalf("expected context name not supported, got %v", err)
	}
}

func TestAssociationAuthenticationRequired(t *testing.T) {
	server := settings.New(true)
	server.Authentication = base.AuthenticationHigh
	server.StoCChallenge = []byte("ABCDEFGHIJKLMNOP")
	rsp := buffer.New(0)
	if err := EncodeAARE(server, rsp, base.AssociationResultAccepted, base.SourceDiagnosticAuthenticationRequired); err != nil {
		t.Fatal(err)
	}
	_ = rsp.SetPosition(0)
	client := settings.New(false)
	diag, err := ParseAPDU(client, rsp)
	if err != nil {
		t.Fatal(err)
	}
	if diag != base.SourceDiagnosticAuthenticationRequired {
		t.Errorf("diagnostic %d", diag)
	}
	if string(client.StoCChallenge) != "ABCDEFGHIJKLMNOP" || client.Authentication != base.AuthenticationHigh {
		t.Errorf("challenge %q authentication %v", client.StoCChallenge, client.Authentication)
	}
}

func TestCipheredAssociation(t *testing.T) {
	client := settings.New(false)
	client.Cipher = &testCipher{title: []byte("CLIENT01")}
	server := settings.New(true)
	server.Cipher = &testCipher{title: []byte("SERVER01")}

	req := buffer.New(0)
	if err := EncodeAARQ(client, req); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(req.Bytes(), base.LogicalNameObjectIDWithCiphering) {
		t.Errorf("ciphered context name missing in %X", req.Bytes())
	}
	_ = req.SetPosition(0)
	if _, err := ParseAPDU(server, req); err != nil {
		t.Fatal(err)
	}
	if string(server.SourceSystemTitle) != "CLIENT01" {
		t.Errorf("server got system title %q", server.SourceSystemTitle)
	}

	rsp := buffer.New(0)
	if err := EncodeAARE(server, rsp, base.AssociationResultAccepted, base.SourceDiagnosticNone); err != nil {
		t.Fatal(err)
	}
	_ = rsp.SetPosition(0)
	if _, err := ParseAPDU(client, rsp); err != nil {
		t.Fatal(err)
	}
	if string(client.SourceSystemTitle) != "SERVER01" {
		t.Errorf("client got system title %q", client.SourceSystemTitle)
	}
}

func TestCipherRequired(t *testing.T) {
	s := settings.New(false)
	s.Authentication = base.AuthenticationHighGmac
	if err := EncodeAARQ(s, buffer.New(0)); !errors.Is(err, base.ErrCipherNotSet) {
		t.Errorf("expected cipher not set, got %v", err)
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"wrong tag", []byte{0x62, 0x00}},
		{"short", []byte{0x61, 0x10, 0xA1}},
		{"bad result", []byte{0x61, 0x05, 0xA2, 0x03, 0x02, 0x02, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAPDU(settings.New(false), buffer.NewFrom(tt.data))
			if !errors.Is(err, base.ErrMalformedAPDU) {
				t.Errorf("expected malformed apdu, got %v", err)
			}
		})
	}
}

func TestRelease(t *testing.T) {
	b := buffer.New(0)
	r := base.ReleaseRequestReasonNormal
	EncodeReleaseRequest(b, &r)
	if !bytes.Equal(b.Bytes(), []byte{0x62, 0x03, 0x80, 0x01, 0x00}) {
		t.Errorf("got %X", b.Bytes())
	}
	b = buffer.New(0)
	EncodeReleaseRequest(b, nil)
	if !bytes.Equal(b.Bytes(), []byte{0x62, 0x00}) {
		t.Errorf("got %X", b.Bytes())
	}
	b = buffer.New(0)
	EncodeReleaseResponse(b)
	_ = b.SetPosition(0)
	reason, err := ParseReleaseResponse(b)
	if err != nil || reason != 0 {
		t.Errorf("reason %d, %v", reason, err)
	}
}

func TestException(t *testing.T) {
	b := buffer.New(0)
	EncodeException(b, base.ExceptionStateErrorServiceNotAllowed, base.ExceptionServiceErrorDecipheringError)
	_ = b.SetPosition(1)
	e := DecodeException(b)
	if e.State != base.ExceptionStateErrorServiceNotAllowed || e.Service != base.ExceptionServiceErrorDecipheringError {
		t.Errorf("got %+v", e)
	}
}
