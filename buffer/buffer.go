// Package buffer implements the growable, position tracked byte store used by
// every codec of the engine. All multibyte values are big endian.
//
// Layout invariant: 0 <= position <= size <= capacity. Reads never go past
// size, writes grow the storage when needed.
package buffer

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
)

// extra room added on every growth
const growMargin = 10

// ErrOutOfRange is returned by every read which would go past the logical size.
var ErrOutOfRange = errors.New("out of range")

type Buffer struct {
	data     []byte
	size     int
	position int
}

func New(capacity int) *Buffer {
	b := &Buffer{}
	if capacity > 0 {
		b.data = make([]byte, capacity)
	}
	return b
}

// NewFrom creates a buffer holding a copy of src, positioned at zero.
func NewFrom(src []byte) *Buffer {
	b := New(len(src))
	copy(b.data, src)
	b.size = len(src)
	return b
}

func (b *Buffer) Size() int      { return b.size }
func (b *Buffer) Position() int  { return b.position }
func (b *Buffer) Capacity() int  { return len(b.data) }
func (b *Buffer) Remaining() int { return b.size - b.position }

func (b *Buffer) SetPosition(p int) error {
	if p < 0 || p > b.size {
		return fmt.Errorf("position %d outside of 0..%d: %w", p, b.size, ErrOutOfRange)
	}
	b.position = p
	return nil
}

// SetSize truncates or extends the logical size, extension keeps whatever was
// in the storage.
func (b *Buffer) SetSize(s int) error {
	if s < 0 {
		return fmt.Errorf("negative size %d: %w", s, ErrOutOfRange)
	}
	b.grow(s)
	b.size = s
	if b.position > s {
		b.position = s
	}
	return nil
}

func (b *Buffer) Clear() {
	b.size = 0
	b.position = 0
}

// Bytes returns view of the whole logical content, valid until next write.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.size]
}

// Array returns copy of the whole logical content.
func (b *Buffer) Array() []byte {
	ret := make([]byte, b.size)
	copy(ret, b.data[:b.size])
	return ret
}

// Unread returns copy of bytes between position and size.
func (b *Buffer) Unread() []byte {
	ret := make([]byte, b.size-b.position)
	copy(ret, b.data[b.position:b.size])
	return ret
}

// Trim drops already consumed bytes, position becomes zero.
func (b *Buffer) Trim() {
	if b.position == 0 {
		return
	}
	n := copy(b.data, b.data[b.position:b.size])
	b.size = n
	b.position = 0
}

// Move copies count bytes from src to dst index, the regions can overlap.
func (b *Buffer) Move(src int, dst int, count int) error {
	if src < 0 || dst < 0 || count < 0 || src+count > b.size {
		return fmt.Errorf("move %d bytes from %d to %d: %w", count, src, dst, ErrOutOfRange)
	}
	b.grow(dst + count)
	copy(b.data[dst:dst+count], b.data[src:src+count])
	if dst+count > b.size {
		b.size = dst + count
	}
	return nil
}

func (b *Buffer) grow(needed int) {
	if needed <= len(b.data) {
		return
	}
	tmp := make([]byte, needed+growMargin)
	copy(tmp, b.data[:b.size])
	b.data = tmp
}

// reserve makes room for n bytes at position and moves size if needed
func (b *Buffer) reserve(n int) []byte {
	b.grow(b.position + n)
	ret := b.data[b.position : b.position+n]
	b.position += n
	if b.position > b.size {
		b.size = b.position
	}
	return ret
}

func (b *Buffer) reserveAt(index int, n int) ([]byte, error) {
	if index < 0 {
		return nil, fmt.Errorf("negative index %d: %w", index, ErrOutOfRange)
	}
	b.grow(index + n)
	if index+n > b.size {
		b.size = index + n
	}
	return b.data[index : index+n], nil
}

func (b *Buffer) SetUint8(v byte) {
	b.reserve(1)[0] = v
}

func (b *Buffer) SetInt8(v int8) {
	b.SetUint8(byte(v))
}

func (b *Buffer) SetUint16(v uint16) {
	binary.BigEndian.PutUint16(b.reserve(2), v)
}

func (b *Buffer) SetInt16(v int16) {
	b.SetUint16(uint16(v))
}

func (b *Buffer) SetUint32(v uint32) {
	binary.BigEndian.PutUint32(b.reserve(4), v)
}

func (b *Buffer) SetInt32(v int32) {
	b.SetUint32(uint32(v))
}

func (b *Buffer) SetUint64(v uint64) {
	binary.BigEndian.PutUint64(b.reserve(8), v)
}

func (b *Buffer) SetInt64(v int64) {
	b.SetUint64(uint64(v))
}

func (b *Buffer) SetFloat32(v float32) {
	b.SetUint32(math.Float32bits(v))
}

func (b *Buffer) SetFloat64(v float64) {
	b.SetUint64(math.Float64bits(v))
}

func (b *Buffer) SetUint8At(index int, v byte) error {
	d, err := b.reserveAt(index, 1)
	if err != nil {
		return err
	}
	d[0] = v
	return nil
}

func (b *Buffer) SetUint16At(index int, v uint16) error {
	d, err := b.reserveAt(index, 2)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(d, v)
	return nil
}

func (b *Buffer) SetUint32At(index int, v uint32) error {
	d, err := b.reserveAt(index, 4)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(d, v)
	return nil
}

func (b *Buffer) SetUint64At(index int, v uint64) error {
	d, err := b.reserveAt(index, 8)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(d, v)
	return nil
}

func (b *Buffer) SetInt16At(index int, v int16) error {
	return b.SetUint16At(index, uint16(v))
}

func (b *Buffer) SetInt32At(index int, v int32) error {
	return b.SetUint32At(index, uint32(v))
}

func (b *Buffer) SetInt64At(index int, v int64) error {
	return b.SetUint64At(index, uint64(v))
}

// Set appends src at position.
func (b *Buffer) Set(src []byte) {
	copy(b.reserve(len(src)), src)
}

// Append writes src after size, position stays where it is.
func (b *Buffer) Append(src []byte) {
	b.grow(b.size + len(src))
	copy(b.data[b.size:], src)
	b.size += len(src)
}

// SetRange appends count bytes of src starting at index.
func (b *Buffer) SetRange(src []byte, index int, count int) error {
	if index < 0 || count < 0 || index+count > len(src) {
		return fmt.Errorf("range %d+%d of %d bytes: %w", index, count, len(src), ErrOutOfRange)
	}
	b.Set(src[index : index+count])
	return nil
}

func (b *Buffer) take(n int) ([]byte, error) {
	if b.size-b.position < n {
		return nil, fmt.Errorf("need %d bytes, %d available: %w", n, b.size-b.position, ErrOutOfRange)
	}
	ret := b.data[b.position : b.position+n]
	b.position += n
	return ret, nil
}

func (b *Buffer) peek(index int, n int) ([]byte, error) {
	if index < 0 || index+n > b.size {
		return nil, fmt.Errorf("need %d bytes at %d, size %d: %w", n, index, b.size, ErrOutOfRange)
	}
	return b.data[index : index+n], nil
}

func (b *Buffer) Uint8() (byte, error) {
	d, err := b.take(1)
	if err != nil {
		return 0, err
	}
	return d[0], nil
}

func (b *Buffer) Int8() (int8, error) {
	v, err := b.Uint8()
	return int8(v), err
}

func (b *Buffer) Uint16() (uint16, error) {
	d, err := b.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(d), nil
}

func (b *Buffer) Int16() (int16, error) {
	v, err := b.Uint16()
	return int16(v), err
}

func (b *Buffer) Uint32() (uint32, error) {
	d, err := b.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(d), nil
}

func (b *Buffer) Int32() (int32, error) {
	v, err := b.Uint32()
	return int32(v), err
}

func (b *Buffer) Uint64() (uint64, error) {
	d, err := b.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(d), nil
}

func (b *Buffer) Int64() (int64, error) {
	v, err := b.Uint64()
	return int64(v), err
}

func (b *Buffer) Float32() (float32, error) {
	v, err := b.Uint32()
	return math.Float32frombits(v), err
}

func (b *Buffer) Float64() (float64, error) {
	v, err := b.Uint64()
	return math.Float64frombits(v), err
}

func (b *Buffer) Uint8At(index int) (byte, error) {
	d, err := b.peek(index, 1)
	if err != nil {
		return 0, err
	}
	return d[0], nil
}

func (b *Buffer) Uint16At(index int) (uint16, error) {
	d, err := b.peek(index, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(d), nil
}

func (b *Buffer) Uint32At(index int) (uint32, error) {
	d, err := b.peek(index, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(d), nil
}

func (b *Buffer) Uint64At(index int) (uint64, error) {
	d, err := b.peek(index, 8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(d), nil
}

func (b *Buffer) Int16At(index int) (int16, error) {
	v, err := b.Uint16At(index)
	return int16(v), err
}

func (b *Buffer) Int32At(index int) (int32, error) {
	v, err := b.Uint32At(index)
	return int32(v), err
}

// Get fills whole dst from position.
func (b *Buffer) Get(dst []byte) error {
	d, err := b.take(len(dst))
	if err != nil {
		return err
	}
	copy(dst, d)
	return nil
}

// Next returns copy of next n bytes and advances.
func (b *Buffer) Next(n int) ([]byte, error) {
	d, err := b.take(n)
	if err != nil {
		return nil, err
	}
	ret := make([]byte, n)
	copy(ret, d)
	return ret, nil
}

// Compare consumes expected bytes if they are next in the buffer, otherwise
// position stays untouched.
func (b *Buffer) Compare(expected []byte) bool {
	if b.size-b.position < len(expected) {
		return false
	}
	for i, e := range expected {
		if b.data[b.position+i] != e {
			return false
		}
	}
	b.position += len(expected)
	return true
}

func (b *Buffer) String() string {
	return strings.ToUpper(hex.EncodeToString(b.data[:b.size]))
}
