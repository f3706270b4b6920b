package dlmsal

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/buffer"
)

type DataTag uint16

const (
	TagNull               DataTag = 0
	TagArray              DataTag = 1
	TagStructure          DataTag = 2
	TagBoolean            DataTag = 3
	TagBitString          DataTag = 4
	TagDoubleLong         DataTag = 5
	TagDoubleLongUnsigned DataTag = 6
	TagFloatingPoint      DataTag = 7
	TagOctetString        DataTag = 9
	TagVisibleString      DataTag = 10
	TagUTF8String         DataTag = 12
	TagBCD                DataTag = 13
	TagInteger            DataTag = 15
	TagLong               DataTag = 16
	TagUnsigned           DataTag = 17
	TagLongUnsigned       DataTag = 18
	TagCompactArray       DataTag = 19
	TagLong64             DataTag = 20
	TagLong64Unsigned     DataTag = 21
	TagEnum               DataTag = 22
	TagFloat32            DataTag = 23
	TagFloat64            DataTag = 24
	TagDateTime           DataTag = 25
	TagDate               DataTag = 26
	TagTime               DataTag = 27
	TagDontCare           DataTag = 255
	TagRaw                DataTag = 0x1001 // artifical tag outside of dlms standard, pre-encoded bytes
)

var tagnames = map[DataTag]string{
	TagNull:               "null",
	TagArray:              "array",
	TagStructure:          "structure",
	TagBoolean:            "boolean",
	TagBitString:          "bit-string",
	TagDoubleLong:         "double-long",
	TagDoubleLongUnsigned: "double-long-unsigned",
	TagFloatingPoint:      "floating-point",
	TagOctetString:        "octet-string",
	TagVisibleString:      "visible-string",
	TagUTF8String:         "utf8-string",
	TagBCD:                "bcd",
	TagInteger:            "integer",
	TagLong:               "long",
	TagUnsigned:           "unsigned",
	TagLongUnsigned:       "long-unsigned",
	TagCompactArray:       "compact-array",
	TagLong64:             "long64",
	TagLong64Unsigned:     "long64-unsigned",
	TagEnum:               "enum",
	TagFloat32:            "float32",
	TagFloat64:            "float64",
	TagDateTime:           "date-time",
	TagDate:               "date",
	TagTime:               "time",
	TagDontCare:           "dont-care",
	TagRaw:                "raw",
}

func (t DataTag) String() string {
	if n, ok := tagnames[t]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", uint16(t))
}

// Value is one of the dlms common data types. Only types in this package
// implement it.
type Value interface {
	Tag() DataTag
	isValue()
}

type (
	Null               struct{}
	Boolean            bool
	Integer            int8
	Long               int16
	DoubleLong         int32
	Long64             int64
	Unsigned           uint8
	LongUnsigned       uint16
	DoubleLongUnsigned uint32
	Long64Unsigned     uint64
	Enum               uint8
	FloatingPoint      float32
	Float32            float32
	Float64            float64
	OctetString        []byte
	VisibleString      string
	UTF8String         string
	BitString          string // '0' and '1' characters, last character is bit 0 of the last byte
	BCD                string // decimal digits
	Array              []Value
	Structure          []Value
	Raw                []byte
)

func (Null) Tag() DataTag               { return TagNull }
func (Boolean) Tag() DataTag            { return TagBoolean }
func (Integer) Tag() DataTag            { return TagInteger }
func (Long) Tag() DataTag               { return TagLong }
func (DoubleLong) Tag() DataTag         { return TagDoubleLong }
func (Long64) Tag() DataTag             { return TagLong64 }
func (Unsigned) Tag() DataTag           { return TagUnsigned }
func (LongUnsigned) Tag() DataTag       { return TagLongUnsigned }
func (DoubleLongUnsigned) Tag() DataTag { return TagDoubleLongUnsigned }
func (Long64Unsigned) Tag() DataTag     { return TagLong64Unsigned }
func (Enum) Tag() DataTag               { return TagEnum }
func (FloatingPoint) Tag() DataTag      { return TagFloatingPoint }
func (Float32) Tag() DataTag            { return TagFloat32 }
func (Float64) Tag() DataTag            { return TagFloat64 }
func (OctetString) Tag() DataTag        { return TagOctetString }
func (VisibleString) Tag() DataTag      { return TagVisibleString }
func (UTF8String) Tag() DataTag         { return TagUTF8String }
func (BitString) Tag() DataTag          { return TagBitString }
func (BCD) Tag() DataTag                { return TagBCD }
func (Array) Tag() DataTag              { return TagArray }
func (Structure) Tag() DataTag          { return TagStructure }
func (Raw) Tag() DataTag                { return TagRaw }
func (DlmsDate) Tag() DataTag           { return TagDate }
func (DlmsTime) Tag() DataTag           { return TagTime }
func (DlmsDateTime) Tag() DataTag       { return TagDateTime }

func (Null) isValue()               {}
func (Boolean) isValue()            {}
func (Integer) isValue()            {}
func (Long) isValue()               {}
func (DoubleLong) isValue()         {}
func (Long64) isValue()             {}
func (Unsigned) isValue()           {}
func (LongUnsigned) isValue()       {}
func (DoubleLongUnsigned) isValue() {}
func (Long64Unsigned) isValue()     {}
func (Enum) isValue()               {}
func (FloatingPoint) isValue()      {}
func (Float32) isValue()            {}
func (Float64) isValue()            {}
func (OctetString) isValue()        {}
func (VisibleString) isValue()      {}
func (UTF8String) isValue()         {}
func (BitString) isValue()          {}
func (BCD) isValue()                {}
func (Array) isValue()              {}
func (Structure) isValue()          {}
func (Raw) isValue()                {}
func (DlmsDate) isValue()           {}
func (DlmsTime) isValue()           {}
func (DlmsDateTime) isValue()       {}

// DataInfo is a decode cursor for one value. Type is TagNull until the tag
// is read or when it is not known in advance. Count and Index track array or
// structure progress so a partially received value can be resumed.
type DataInfo struct {
	Type     DataTag
	Count    int
	Index    int
	Complete bool
}

// DecodeData decodes one value at the buffer position. Running out of bytes
// is not an error: info.Complete is false and the position is left where
// decoding can be resumed once more data arrives. For arrays and structures
// only elements completed in this call are returned.
func DecodeData(b *buffer.Buffer, info *DataInfo) (Value, error) {
	start := b.Position()
	known := info.Type != TagNull
	info.Complete = true

	starve := func() (Value, error) {
		info.Complete = false
		_ = b.SetPosition(start)
		if !known {
			info.Type = TagNull
		}
		return nil, nil
	}

	if b.Remaining() == 0 {
		return starve()
	}
	if !known {
		t, _ := b.Uint8()
		info.Type = DataTag(t)
		if info.Type == TagNull {
			return Null{}, nil
		}
	}
	if b.Remaining() == 0 {
		return starve()
	}

	switch info.Type {
	case TagArray, TagStructure:
		v, err := decodeArray(b, info)
		if err != nil {
			return nil, err
		}
		if !info.Complete && info.Count == 0 {
			return starve()
		}
		return v, nil
	case TagBoolean:
		if b.Remaining() < 1 {
			return starve()
		}
		v, _ := b.Uint8()
		return Boolean(v != 0), nil
	case TagInteger:
		if b.Remaining() < 1 {
			return starve()
		}
		v, _ := b.Int8()
		return Integer(v), nil
	case TagUnsigned:
		if b.Remaining() < 1 {
			return starve()
		}
		v, _ := b.Uint8()
		return Unsigned(v), nil
	case TagEnum:
		if b.Remaining() < 1 {
			return starve()
		}
		v, _ := b.Uint8()
		return Enum(v), nil
	case TagLong:
		if b.Remaining() < 2 {
			return starve()
		}
		v, _ := b.Int16()
		return Long(v), nil
	case TagLongUnsigned:
		if b.Remaining() < 2 {
			return starve()
		}
		v, _ := b.Uint16()
		return LongUnsigned(v), nil
	case TagDoubleLong:
		if b.Remaining() < 4 {
			return starve()
		}
		v, _ := b.Int32()
		return DoubleLong(v), nil
	case TagDoubleLongUnsigned:
		if b.Remaining() < 4 {
			return starve()
		}
		v, _ := b.Uint32()
		return DoubleLongUnsigned(v), nil
	case TagLong64:
		if b.Remaining() < 8 {
			return starve()
		}
		v, _ := b.Int64()
		return Long64(v), nil
	case TagLong64Unsigned:
		if b.Remaining() < 8 {
			return starve()
		}
		v, _ := b.Uint64()
		return Long64Unsigned(v), nil
	case TagFloatingPoint:
		if b.Remaining() < 4 {
			return starve()
		}
		v, _ := b.Float32()
		return FloatingPoint(v), nil
	case TagFloat32:
		if b.Remaining() < 4 {
			return starve()
		}
		v, _ := b.Float32()
		return Float32(v), nil
	case TagFloat64:
		if b.Remaining() < 8 {
			return starve()
		}
		v, _ := b.Float64()
		return Float64(v), nil
	case TagOctetString, TagVisibleString, TagUTF8String, TagBCD:
		cnt, ok, err := getObjectCount(b)
		if err != nil {
			return nil, err
		}
		if !ok || b.Remaining() < cnt {
			return starve()
		}
		raw, _ := b.Next(cnt)
		switch info.Type {
		case TagOctetString:
			return OctetString(raw), nil
		case TagVisibleString:
			return VisibleString(raw), nil
		case TagUTF8String:
			if !utf8.Valid(raw) {
				return nil, fmt.Errorf("invalid utf8 string content: %w", base.ErrInvalidDataType)
			}
			return UTF8String(raw), nil
		default:
			return decodeBCD(raw)
		}
	case TagBitString:
		cnt, ok, err := getObjectCount(b)
		if err != nil {
			return nil, err
		}
		bl := (cnt + 7) >> 3
		if !ok || b.Remaining() < bl {
			return starve()
		}
		raw, _ := b.Next(bl)
		return decodeBitString(raw, cnt), nil
	case TagDateTime:
		if b.Remaining() < 12 {
			return starve()
		}
		raw, _ := b.Next(12)
		v, err := NewDlmsDateTimeFromSlice(raw)
		if err != nil {
			return nil, err
		}
		return v, nil
	case TagDate:
		if b.Remaining() < 5 {
			return starve()
		}
		raw, _ := b.Next(5)
		return DlmsDate{Year: uint16(raw[0])<<8 | uint16(raw[1]), Month: raw[2], Day: raw[3], DayOfWeek: raw[4]}, nil
	case TagTime:
		if b.Remaining() < 4 {
			return starve()
		}
		raw, _ := b.Next(4)
		return DlmsTime{Hour: raw[0], Minute: raw[1], Second: raw[2], Hundredths: raw[3]}, nil
	}
	return nil, fmt.Errorf("tag %s at position %d: %w", info.Type, start, base.ErrInvalidDataType)
}

func decodeArray(b *buffer.Buffer, info *DataInfo) (Value, error) {
	if info.Count == 0 {
		cnt, ok, err := getObjectCount(b)
		if err != nil {
			return nil, err
		}
		if !ok {
			info.Complete = false
			return nil, nil
		}
		info.Count = cnt
	}
	items := make([]Value, 0, min(info.Count-info.Index, b.Remaining()))
	if info.Count != 0 && info.Index < info.Count && b.Remaining() == 0 {
		info.Complete = false
	} else {
		for info.Index < info.Count {
			pos := b.Position()
			var sub DataInfo
			v, err := DecodeData(b, &sub)
			if err != nil {
				return nil, err
			}
			if !sub.Complete {
				_ = b.SetPosition(pos)
				info.Complete = false
				break
			}
			items = append(items, v)
			info.Index++
		}
	}
	if info.Type == TagStructure {
		return Structure(items), nil
	}
	return Array(items), nil
}

func decodeBCD(raw []byte) (BCD, error) {
	var sb strings.Builder
	for _, c := range raw {
		if c>>4 > 9 || c&0xF > 9 {
			return "", fmt.Errorf("invalid bcd digit %02X: %w", c, base.ErrInvalidDataType)
		}
		sb.WriteByte('0' + c>>4)
		sb.WriteByte('0' + c&0xF)
	}
	return BCD(sb.String()), nil
}

// bits are right-aligned, the partial byte comes first
func decodeBitString(raw []byte, bits int) BitString {
	var sb strings.Builder
	last := len(raw) - 1
	for i := bits - 1; i >= 0; i-- {
		if raw[last-i>>3]&(1<<(i&7)) != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return BitString(sb.String())
}

// EncodeData writes tag and payload of v. Raw values are copied verbatim.
func EncodeData(b *buffer.Buffer, v Value) error {
	if v == nil {
		b.SetUint8(byte(TagNull))
		return nil
	}
	switch t := v.(type) {
	case Raw:
		b.Set(t)
		return nil
	case DlmsDate, DlmsTime, DlmsDateTime:
		b.SetUint8(byte(TagOctetString))
	default:
		b.SetUint8(byte(v.Tag()))
	}
	return encodeNoTag(b, v)
}

func encodeNoTag(b *buffer.Buffer, v Value) error {
	switch t := v.(type) {
	case Null:
	case Boolean:
		if t {
			b.SetUint8(1)
		} else {
			b.SetUint8(0)
		}
	case Integer:
		b.SetInt8(int8(t))
	case Unsigned:
		b.SetUint8(uint8(t))
	case Enum:
		b.SetUint8(uint8(t))
	case Long:
		b.SetInt16(int16(t))
	case LongUnsigned:
		b.SetUint16(uint16(t))
	case DoubleLong:
		b.SetInt32(int32(t))
	case DoubleLongUnsigned:
		b.SetUint32(uint32(t))
	case Long64:
		b.SetInt64(int64(t))
	case Long64Unsigned:
		b.SetUint64(uint64(t))
	case FloatingPoint:
		b.SetFloat32(float32(t))
	case Float32:
		b.SetFloat32(float32(t))
	case Float64:
		b.SetFloat64(float64(t))
	case OctetString:
		SetObjectCount(len(t), b)
		b.Set(t)
	case VisibleString:
		SetObjectCount(len(t), b)
		b.Set([]byte(t))
	case UTF8String:
		SetObjectCount(len(t), b)
		b.Set([]byte(t))
	case BitString:
		return encodeBitString(b, string(t))
	case BCD:
		return encodeBCD(b, string(t))
	case Array:
		return encodeItems(b, t)
	case Structure:
		return encodeItems(b, t)
	case DlmsDate:
		SetObjectCount(5, b)
		encodeDate(b, &t)
	case DlmsTime:
		SetObjectCount(4, b)
		encodeTime(b, &t)
	case DlmsDateTime:
		SetObjectCount(12, b)
		encodeDateTime(b, &t)
	case Raw:
		b.Set(t)
	default:
		return fmt.Errorf("unsupported value %T: %w", v, base.ErrInvalidDataType)
	}
	return nil
}

func encodeItems(b *buffer.Buffer, items []Value) error {
	SetObjectCount(len(items), b)
	for i, it := range items {
		if err := EncodeData(b, it); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

func encodeDate(b *buffer.Buffer, d *DlmsDate) {
	b.SetUint16(d.Year)
	b.SetUint8(d.Month)
	b.SetUint8(d.Day)
	b.SetUint8(d.DayOfWeek)
}

func encodeTime(b *buffer.Buffer, t *DlmsTime) {
	b.SetUint8(t.Hour)
	b.SetUint8(t.Minute)
	b.SetUint8(t.Second)
	b.SetUint8(t.Hundredths)
}

func encodeDateTime(b *buffer.Buffer, t *DlmsDateTime) {
	encodeDate(b, &t.Date)
	encodeTime(b, &t.Time)
	b.SetInt16(t.Deviation)
	b.SetUint8(t.Status)
}

func encodeBitString(b *buffer.Buffer, s string) error {
	res := make([]byte, (len(s)+7)>>3)
	last := len(res) - 1
	// scanned from the end, bit 0 of the last byte is the last character
	for i := 0; i < len(s); i++ {
		switch s[len(s)-1-i] {
		case '0':
		case '1':
			res[last-i>>3] |= 1 << (i & 7)
		default:
			return fmt.Errorf("invalid character in bitstring: %c", s[len(s)-1-i])
		}
	}
	SetObjectCount(len(s), b)
	b.Set(res)
	return nil
}

func encodeBCD(b *buffer.Buffer, s string) error {
	if len(s)&1 != 0 {
		s = "0" + s
	}
	res := make([]byte, len(s)>>1)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return fmt.Errorf("invalid character in bcd: %c", c)
		}
		if i&1 == 0 {
			res[i>>1] = (c - '0') << 4
		} else {
			res[i>>1] |= c - '0'
		}
	}
	SetObjectCount(len(res), b)
	b.Set(res)
	return nil
}
