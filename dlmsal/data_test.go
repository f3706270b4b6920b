package dlmsal

import (
	"bytes"
	"encoding/hex"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/buffer"
)

func fromHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestEncodeData(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  []byte
	}{
		{"null", Null{}, []byte{0x00}},
		{"boolean", Boolean(true), []byte{0x03, 0x01}},
		{"integer min", Integer(math.MinInt8), []byte{0x0F, 0x80}},
		{"long min", Long(math.MinInt16), []byte{0x10, 0x80, 0x00}},
		{"long unsigned max", LongUnsigned(math.MaxUint16), []byte{0x12, 0xFF, 0xFF}},
		{"double long", DoubleLong(-2), []byte{0x05, 0xFF, 0xFF, 0xFF, 0xFE}},
		{"double long unsigned max", DoubleLongUnsigned(math.MaxUint32), []byte{0x06, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"long64 min", Long64(math.MinInt64), []byte{0x14, 0x80, 0, 0, 0, 0, 0, 0, 0}},
		{"long64 unsigned max", Long64Unsigned(math.MaxUint64), []byte{0x15, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"enum", Enum(0xFF), []byte{0x16, 0xFF}},
		{"float32", Float32(1.5), []byte{0x17, 0x3F, 0xC0, 0x00, 0x00}},
		{"float64", Float64(1.5), []byte{0x18, 0x3F, 0xF8, 0, 0, 0, 0, 0, 0}},
		{"octet string", OctetString{1, 2}, []byte{0x09, 0x02, 0x01, 0x02}},
		{"visible string", VisibleString("AB"), []byte{0x0A, 0x02, 0x41, 0x42}},
		{"bit string", BitString("1010000011"), []byte{0x04, 0x0A, 0x02, 0x83}},
		{"bit string short", BitString("101"), []byte{0x04, 0x03, 0x05}},
		{"bit string full byte", BitString("10000000"), []byte{0x04, 0x08, 0x80}},
		{"bcd", BCD("1234"), []byte{0x0D, 0x02, 0x12, 0x34}},
		{"bcd odd", BCD("123"), []byte{0x0D, 0x02, 0x01, 0x23}},
		{"structure", Structure{Unsigned(1), Array{}}, []byte{0x02, 0x02, 0x11, 0x01, 0x01, 0x00}},
		{"raw", Raw{0x11, 0x05}, []byte{0x11, 0x05}},
		{"date", DlmsDate{Year: 2024, Month: 1, Day: 2, DayOfWeek: 2}, []byte{0x09, 0x05, 0x07, 0xE8, 0x01, 0x02, 0x02}},
		{"time", UnspecifiedTime(), []byte{0x09, 0x04, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"date time", DlmsDateTime{
			Date:      DlmsDate{Year: 2024, Month: DateTimeDSTBegin, Day: 1, DayOfWeek: 0xFF},
			Time:      DlmsTime{Hour: 12, Minute: 0, Second: 0, Hundredths: 0},
			Deviation: DateTimeInvalidDeviation,
			Status:    ClockStatusDaylightSaving,
		}, []byte{0x09, 0x0C, 0x07, 0xE8, 0xFE, 0x01, 0xFF, 0x0C, 0x00, 0x00, 0x00, 0x80, 0x00, 0x80}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := buffer.New(0)
			if err := EncodeData(b, tt.value); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(b.Bytes(), tt.want) {
				t.Errorf("got %X, want %X", b.Bytes(), tt.want)
			}
		})
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	values := []Value{
		Null{},
		Boolean(false),
		Integer(math.MaxInt8),
		Long(math.MaxInt16),
		DoubleLong(math.MinInt32),
		Long64(math.MaxInt64),
		Unsigned(0),
		LongUnsigned(0x1234),
		DoubleLongUnsigned(0),
		Long64Unsigned(1),
		Enum(3),
		Float32(-0.25),
		Float64(math.MaxFloat64),
		OctetString{},
		VisibleString("meter"),
		UTF8String("měřič"),
		BitString("1"),
		BitString("110011001"),
		BitString("0000000010"),
		BCD("9876"),
		Array{Unsigned(1), Unsigned(2)},
		Structure{LongUnsigned(3), Structure{OctetString{0, 0, 1, 0, 0, 255}, Integer(2)}},
	}
	for _, v := range values {
		t.Run(v.Tag().String(), func(t *testing.T) {
			b := buffer.New(0)
			if err := EncodeData(b, v); err != nil {
				t.Fatal(err)
			}
			_ = b.SetPosition(0)
			var info DataInfo
			got, err := DecodeData(b, &info)
			if err != nil {
				t.Fatal(err)
			}
			if !info.Complete {
				t.Fatal("incomplete")
			}
			if !reflect.DeepEqual(got, v) {
				t.Errorf("got %#v, want %#v", got, v)
			}
			if b.Remaining() != 0 {
				t.Errorf("%d bytes left", b.Remaining())
			}
		})
	}
}

func TestDecodeKnownDateTypes(t *testing.T) {
	dt := DlmsDateTime{Date: DlmsDate{Year: 2023, Month: 12, Day: 31, DayOfWeek: 7}, Time: DlmsTime{Hour: 23, Minute: 59, Second: 59, Hundredths: 0xFF}, Deviation: -60, Status: 0}
	b := buffer.New(0)
	if err := EncodeData(b, dt); err != nil {
		t.Fatal(err)
	}
	_ = b.SetPosition(2) // skip octet string tag and length
	info := DataInfo{Type: TagDateTime}
	got, err := DecodeData(b, &info)
	if err != nil {
		t.Fatal(err)
	}
	if got != dt {
		t.Errorf("got %v, want %v", got, dt)
	}

	b = buffer.NewFrom([]byte{byte(TagTime), 1, 2, 3, 4})
	var ti DataInfo
	got, err = DecodeData(b, &ti)
	if err != nil {
		t.Fatal(err)
	}
	if got != (DlmsTime{Hour: 1, Minute: 2, Second: 3, Hundredths: 4}) {
		t.Errorf("got %v", got)
	}
}

func TestObjectCount(t *testing.T) {
	tests := []struct {
		count int
		want  []byte
	}{
		{0, []byte{0x00}},
		{0x7F, []byte{0x7F}},
		{0x80, []byte{0x81, 0x80}},
		{0xFF, []byte{0x81, 0xFF}},
		{0x100, []byte{0x82, 0x01, 0x00}},
		{0xFFFF, []byte{0x82, 0xFF, 0xFF}},
		{0x10000, []byte{0x84, 0x00, 0x01, 0x00, 0x00}},
	}
	for _, tt := range tests {
		b := buffer.New(0)
		SetObjectCount(tt.count, b)
		if !bytes.Equal(b.Bytes(), tt.want) {
			t.Errorf("count %d: got %X, want %X", tt.count, b.Bytes(), tt.want)
		}
		if ObjectCountSize(tt.count) != len(tt.want) {
			t.Errorf("count %d: size %d", tt.count, ObjectCountSize(tt.count))
		}
		_ = b.SetPosition(0)
		got, err := GetObjectCount(b)
		if err != nil || got != tt.count {
			t.Errorf("count %d: decoded %d, %v", tt.count, got, err)
		}
	}
}

func TestObjectCountInvalidMarker(t *testing.T) {
	b := buffer.NewFrom([]byte{0x83, 0x00, 0x00, 0x01})
	if _, err := GetObjectCount(b); !errors.Is(err, base.ErrInvalidCount) {
		t.Errorf("expected invalid count, got %v", err)
	}
}

func TestDecodeInvalidTag(t *testing.T) {
	b := buffer.NewFrom([]byte{0x08, 0x00})
	var info DataInfo
	if _, err := DecodeData(b, &info); !errors.Is(err, base.ErrInvalidDataType) {
		t.Errorf("expected invalid data type, got %v", err)
	}
}

func TestDecodeBitString(t *testing.T) {
	b := buffer.NewFrom([]byte{0x04, 0x0A, 0x02, 0x83})
	var info DataInfo
	got, err := DecodeData(b, &info)
	if err != nil {
		t.Fatal(err)
	}
	if got != BitString("1010000011") {
		t.Errorf("got %v", got)
	}
}

func TestDecodeInvalidBCD(t *testing.T) {
	for _, raw := range [][]byte{{0x0D, 0x01, 0x1A}, {0x0D, 0x02, 0x12, 0xF4}} {
		b := buffer.NewFrom(raw)
		var info DataInfo
		if _, err := DecodeData(b, &info); !errors.Is(err, base.ErrInvalidDataType) {
			t.Errorf("%X: expected invalid data type, got %v", raw, err)
		}
	}
}

func TestDecodeStarvation(t *testing.T) {
	full := []byte{0x09, 0x04, 0x01, 0x02, 0x03, 0x04}
	for n := 0; n < len(full); n++ {
		b := buffer.NewFrom(full[:n])
		var info DataInfo
		v, err := DecodeData(b, &info)
		if err != nil {
			t.Fatalf("%d bytes: %v", n, err)
		}
		if info.Complete || v != nil {
			t.Fatalf("%d bytes: expected incomplete", n)
		}
		if b.Position() != 0 || info.Type != TagNull {
			t.Fatalf("%d bytes: position %d type %v", n, b.Position(), info.Type)
		}
	}
}

// feeding one byte at a time must produce the same value as decoding at once
func TestDecodeResumable(t *testing.T) {
	want := Array{
		Structure{LongUnsigned(0x1234), OctetString{1, 2, 3}},
		Structure{LongUnsigned(0x5678), OctetString{4, 5, 6}},
		Structure{LongUnsigned(0x9ABC), OctetString{}},
	}
	enc := buffer.New(0)
	if err := EncodeData(enc, want); err != nil {
		t.Fatal(err)
	}
	src := enc.Array()

	b := buffer.New(0)
	var info DataInfo
	var got Array
	for i := range src {
		b.Append(src[i : i+1])
		v, err := DecodeData(b, &info)
		if err != nil {
			t.Fatalf("byte %d: %v", i, err)
		}
		if v != nil {
			got = append(got, v.(Array)...)
		}
		if info.Complete {
			if i != len(src)-1 {
				t.Fatalf("complete after %d of %d bytes", i+1, len(src))
			}
			break
		}
	}
	if !info.Complete {
		t.Fatal("never completed")
	}
	if info.Index != 3 || info.Count != 3 {
		t.Errorf("index %d count %d", info.Index, info.Count)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

func TestValueOf(t *testing.T) {
	tests := []struct {
		in   any
		want Value
	}{
		{nil, Null{}},
		{true, Boolean(true)},
		{int8(-1), Integer(-1)},
		{int16(-1), Long(-1)},
		{int32(-1), DoubleLong(-1)},
		{int64(-1), Long64(-1)},
		{int(5), DoubleLong(5)},
		{int(math.MaxInt32 + 1), Long64(math.MaxInt32 + 1)},
		{uint8(1), Unsigned(1)},
		{uint16(1), LongUnsigned(1)},
		{uint32(1), DoubleLongUnsigned(1)},
		{uint64(1), Long64Unsigned(1)},
		{float32(1), Float32(1)},
		{float64(1), Float64(1)},
		{"x", VisibleString("x")},
		{[]byte{1}, OctetString{1}},
		{DlmsObis{A: 1, B: 0, C: 1, D: 8, E: 0, F: 255}, OctetString{1, 0, 1, 8, 0, 255}},
		{[]any{uint8(1), "a"}, Array{Unsigned(1), VisibleString("a")}},
	}
	for _, tt := range tests {
		got, err := ValueOf(tt.in)
		if err != nil {
			t.Errorf("%T: %v", tt.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%T: got %#v, want %#v", tt.in, got, tt.want)
		}
	}
	if _, err := ValueOf(struct{}{}); !errors.Is(err, base.ErrInvalidDataType) {
		t.Errorf("expected invalid data type, got %v", err)
	}
}

func TestEncodeAs(t *testing.T) {
	tests := []struct {
		name string
		tag  DataTag
		in   Value
		want []byte
	}{
		{"int to unsigned", TagUnsigned, DoubleLong(5), []byte{0x11, 0x05}},
		{"int to long unsigned", TagLongUnsigned, Long64(0x100), []byte{0x12, 0x01, 0x00}},
		{"string to octet", TagOctetString, VisibleString("A"), []byte{0x09, 0x01, 0x41}},
		{"int to float32", TagFloat32, Unsigned(2), []byte{0x17, 0x40, 0x00, 0x00, 0x00}},
		{"same type", TagEnum, Enum(1), []byte{0x16, 0x01}},
		{"date time to date", TagDate, DlmsDateTime{Date: DlmsDate{Year: 2000, Month: 1, Day: 1, DayOfWeek: 6}}, []byte{0x09, 0x05, 0x07, 0xD0, 0x01, 0x01, 0x06}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := buffer.New(0)
			if err := EncodeAs(b, tt.tag, tt.in); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(b.Bytes(), tt.want) {
				t.Errorf("got %X, want %X", b.Bytes(), tt.want)
			}
		})
	}
	if err := EncodeAs(buffer.New(0), TagUnsigned, Long(300)); !errors.Is(err, base.ErrInvalidDataType) {
		t.Errorf("expected overflow error, got %v", err)
	}
}

func TestObis(t *testing.T) {
	o, err := NewDlmsObisFromString("1-0:1.8.0.255")
	if err != nil {
		t.Fatal(err)
	}
	if o != (DlmsObis{A: 1, B: 0, C: 1, D: 8, E: 0, F: 255}) || o.String() != "1-0:1.8.0.255" {
		t.Errorf("got %v", o)
	}
	if _, err := NewDlmsObisFromString("1-0:1.8.0.256"); err == nil {
		t.Errorf("expected error for component over 255")
	}
	o, err = NewDlmsObisFromSlice([]byte{0, 0, 96, 1, 0, 255})
	if err != nil || o.String() != "0-0:96.1.0.255" {
		t.Errorf("got %v, %v", o, err)
	}
}

func TestAs(t *testing.T) {
	tests := []struct {
		name  string
		tag   DataTag
		value Value
		want  Value
		err   error
	}{
		{"keep", TagNull, Long(-3), Long(-3), nil},
		{"nil", TagNull, nil, Null{}, nil},
		{"same tag", TagLongUnsigned, LongUnsigned(60), LongUnsigned(60), nil},
		{"widen", TagDoubleLongUnsigned, Unsigned(7), DoubleLongUnsigned(7), nil},
		{"narrow", TagLongUnsigned, Long64(60), LongUnsigned(60), nil},
		{"enum", TagEnum, Integer(2), Enum(2), nil},
		{"boolean", TagBoolean, Unsigned(1), Boolean(true), nil},
		{"float", TagFloat64, DoubleLong(-5), Float64(-5), nil},
		{"visible", TagVisibleString, OctetString("abc"), VisibleString("abc"), nil},
		{"too big", TagUnsigned, LongUnsigned(256), nil, base.ErrInvalidDataType},
		{"negative", TagLongUnsigned, Integer(-1), nil, base.ErrInvalidDataType},
		{"string to number", TagLong, VisibleString("1"), nil, base.ErrInvalidDataType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := As(tt.tag, tt.value)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("got %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestRangeDescriptor(t *testing.T) {
	clock := CaptureObject(8, DlmsObis{A: 0, B: 0, C: 1, D: 0, E: 0, F: 255}, 2, 0)
	from := DlmsDateTime{Date: DlmsDate{Year: 2024, Month: 3, Day: 1, DayOfWeek: 5}}
	tests := []struct {
		name    string
		columns []Structure
		tail    string
	}{
		{"all columns", nil, "0100"},
		{"one column", []Structure{clock}, "0101 0204 120008 0906 0000010000FF 0F02 120000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := buffer.New(0)
			if err := EncodeData(b, RangeDescriptor(clock, from, from, tt.columns...)); err != nil {
				t.Fatal(err)
			}
			head := fromHex(t, "0204 0204 120008 0906 0000010000FF 0F02 120000 090C 07E8 03 01 05 00000000 0000 00")
			got := b.Bytes()
			if !bytes.Equal(got[:len(head)], head) {
				t.Errorf("head %X, want %X", got[:len(head)], head)
			}
			if tail := fromHex(t, tt.tail); !bytes.Equal(got[len(got)-len(tail):], tail) {
				t.Errorf("tail %X, want %X", got[len(got)-len(tail):], tail)
			}
		})
	}
}
