package ciphering

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/buffer"
	"github.com/cybroslabs/libdlms-engine/dlmsal"
)

const (
	GCM_TAG_LENGTH     = 12
	systemTitleLength  = 8
	headerLength       = 5 // security control and invocation counter
	securityCompressed = 0x80
	securityBroadcast  = 0x40
	securityMask       = 0x30
)

type CipheringSettings struct {
	EncryptionKey     []byte
	AuthenticationKey []byte
	SystemTitle       []byte
	Security          base.DlmsSecurity
	InvocationCounter uint32
}

func (s *CipheringSettings) Validate() error {
	if s == nil {
		return fmt.Errorf("ciphering settings not set")
	}
	if len(s.SystemTitle) != systemTitleLength {
		return fmt.Errorf("system title has to be %d bytes long", systemTitleLength)
	}
	if len(s.EncryptionKey) != 16 && len(s.EncryptionKey) != 24 && len(s.EncryptionKey) != 32 {
		return fmt.Errorf("EK has to be 16, 24 or 32 bytes long")
	}
	if s.AuthenticationKey != nil && len(s.AuthenticationKey) != 16 && len(s.AuthenticationKey) != 24 && len(s.AuthenticationKey) != 32 {
		return fmt.Errorf("AK has to be 16, 24 or 32 bytes long")
	}
	switch s.Security {
	case base.SecurityNone, base.SecurityEncryption:
	case base.SecurityAuthentication, base.SecurityAuthenticationEncryption:
		if s.AuthenticationKey == nil {
			return fmt.Errorf("security %02X needs AK", byte(s.Security))
		}
	default:
		return fmt.Errorf("unsupported security %02X", byte(s.Security))
	}
	return nil
}

// Ciphering is suite 0 (AES-GCM-128) transport security, it implements
// base.Cipher. This is not thread safe at all, one instance per association.
type Ciphering struct {
	block    cipher.Block
	aead     cipher.AEAD
	aad      []byte
	title    []byte
	security base.DlmsSecurity
	fc       uint32
	iv       [12]byte
}

func New(settings *CipheringSettings) (*Ciphering, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	cr, err := aes.NewCipher(settings.EncryptionKey)
	if err != nil {
		return nil, err
	}
	enc, err := cipher.NewGCMWithTagSize(cr, GCM_TAG_LENGTH)
	if err != nil {
		return nil, err
	}
	ret := &Ciphering{
		block:    cr,
		aead:     enc,
		aad:      make([]byte, 1+len(settings.AuthenticationKey)),
		title:    slices.Clone(settings.SystemTitle),
		security: settings.Security,
		fc:       settings.InvocationCounter,
	}
	copy(ret.aad[1:], settings.AuthenticationKey)
	return ret, nil
}

func (g *Ciphering) SystemTitle() []byte { return g.title }

func (g *Ciphering) IsCiphered() bool { return g.security != base.SecurityNone }

func (g *Ciphering) Security() base.DlmsSecurity { return g.security }

// InvocationCounter is the value used by the next Encrypt.
func (g *Ciphering) InvocationCounter() uint32 { return g.fc }

// Encrypt returns tag, length, security control, invocation counter and
// ciphered plaintext. Counter is increased with every call.
func (g *Ciphering) Encrypt(tag byte, systemTitle []byte, plaintext []byte) ([]byte, error) {
	if len(systemTitle) != systemTitleLength {
		return nil, fmt.Errorf("system title has to be %d bytes long", systemTitleLength)
	}
	sc := byte(g.security)
	fc := g.fc
	content, err := g.seal(sc, fc, systemTitle, plaintext)
	if err != nil {
		return nil, err
	}
	g.fc++

	b := buffer.New(1 + 5 + headerLength + len(content))
	b.SetUint8(tag)
	dlmsal.SetObjectCount(headerLength+len(content), b)
	b.SetUint8(sc)
	b.SetUint32(fc)
	b.Set(content)
	return b.Array(), nil
}

// Decrypt replaces ciphered apdu at data position with plaintext, anything
// after the apdu stays in place.
func (g *Ciphering) Decrypt(sourceSystemTitle []byte, data *buffer.Buffer) (base.DlmsSecurity, error) {
	if len(sourceSystemTitle) != systemTitleLength {
		return 0, fmt.Errorf("source system title not known")
	}
	start := data.Position()
	if _, err := data.Uint8(); err != nil {
		return 0, err
	}
	n, err := dlmsal.GetObjectCount(data)
	if err != nil {
		return 0, err
	}
	if n < headerLength || n > data.Remaining() {
		return 0, fmt.Errorf("ciphered length %d, %d bytes available: %w", n, data.Remaining(), base.ErrMalformedAPDU)
	}
	sc, _ := data.Uint8()
	fc, _ := data.Uint32()
	content, _ := data.Next(n - headerLength)
	plain, err := g.open(sc, fc, sourceSystemTitle, content)
	if err != nil {
		return 0, err
	}

	tail := data.Unread()
	_ = data.SetSize(start)
	data.Append(plain)
	data.Append(tail)
	_ = data.SetPosition(start)
	return base.DlmsSecurity(sc & securityMask), nil
}

func (g *Ciphering) check(sc byte) error {
	if sc&securityCompressed != 0 {
		return fmt.Errorf("compression not yet supported")
	}
	if sc&securityBroadcast != 0 {
		return fmt.Errorf("only unicast keys are supported")
	}
	if sc&securityMask != byte(base.SecurityEncryption) && len(g.aad) == 1 {
		return fmt.Errorf("security control %02X needs AK", sc)
	}
	return nil
}

func (g *Ciphering) setIV(title []byte, fc uint32) {
	copy(g.iv[:], title)
	binary.BigEndian.PutUint32(g.iv[8:], fc)
}

func (g *Ciphering) seal(sc byte, fc uint32, title []byte, apdu []byte) ([]byte, error) {
	if err := g.check(sc); err != nil {
		return nil, err
	}
	g.setIV(title, fc)
	g.aad[0] = sc
	switch sc & securityMask {
	case 0x10:
		aad := append(slices.Clone(g.aad), apdu...)
		tag := g.aead.Seal(nil, g.iv[:], nil, aad)
		return append(slices.Clone(apdu), tag...), nil
	case 0x20:
		return g.ctr(apdu), nil
	case 0x30:
		return g.aead.Seal(nil, g.iv[:], apdu, g.aad), nil
	}
	return nil, fmt.Errorf("unsupported security control byte: %02X", sc)
}

func (g *Ciphering) open(sc byte, fc uint32, title []byte, content []byte) ([]byte, error) {
	if err := g.check(sc); err != nil {
		return nil, err
	}
	g.setIV(title, fc)
	g.aad[0] = sc
	switch sc & securityMask {
	case 0x10:
		if len(content) < GCM_TAG_LENGTH {
			return nil, fmt.Errorf("too short ciphered data, no space for tag")
		}
		apdu := content[:len(content)-GCM_TAG_LENGTH]
		aad := append(slices.Clone(g.aad), apdu...)
		if _, err := g.aead.Open(nil, g.iv[:], content[len(apdu):], aad); err != nil {
			return nil, err
		}
		return slices.Clone(apdu), nil
	case 0x20:
		return g.ctr(content), nil
	case 0x30:
		if len(content) < GCM_TAG_LENGTH {
			return nil, fmt.Errorf("too short ciphered data, no space for tag")
		}
		return g.aead.Open(nil, g.iv[:], content, g.aad)
	}
	return nil, fmt.Errorf("unsupported security control byte: %02X", sc)
}

// ctr is gcm without tag, keystream starts at counter 2 same as in gcm.
func (g *Ciphering) ctr(src []byte) []byte {
	var counter [16]byte
	copy(counter[:], g.iv[:])
	counter[15] = 2
	dst := make([]byte, len(src))
	cipher.NewCTR(g.block, counter[:]).XORKeyStream(dst, src)
	return dst
}
