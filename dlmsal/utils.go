package dlmsal

import (
	"fmt"
	"math"
	"time"

	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/buffer"
)

// ObjectCountSize returns how many bytes SetObjectCount writes for count.
func ObjectCountSize(count int) int {
	if count < 0x80 {
		return 1
	}
	if count <= 0xFF {
		return 2
	}
	if count <= 0xFFFF {
		return 3
	}
	return 5
}

// SetObjectCount writes variable length count, one byte below 0x80 or
// 0x81/0x82/0x84 marker followed by 1/2/4 bytes.
func SetObjectCount(count int, b *buffer.Buffer) {
	switch {
	case count < 0x80:
		b.SetUint8(byte(count))
	case count <= 0xFF:
		b.SetUint8(0x81)
		b.SetUint8(byte(count))
	case count <= 0xFFFF:
		b.SetUint8(0x82)
		b.SetUint16(uint16(count))
	default:
		b.SetUint8(0x84)
		b.SetUint32(uint32(count))
	}
}

// GetObjectCount reads variable length count, missing bytes are an error.
func GetObjectCount(b *buffer.Buffer) (int, error) {
	cnt, ok, err := getObjectCount(b)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("object count: %w", base.ErrOutOfRange)
	}
	return cnt, nil
}

// getObjectCount returns ok false with position untouched when the count is
// not received completely yet.
func getObjectCount(b *buffer.Buffer) (int, bool, error) {
	pos := b.Position()
	m, err := b.Uint8()
	if err != nil {
		return 0, false, nil
	}
	if m < 0x80 {
		return int(m), true, nil
	}
	var cnt int
	switch m {
	case 0x81:
		v, err := b.Uint8()
		if err != nil {
			_ = b.SetPosition(pos)
			return 0, false, nil
		}
		cnt = int(v)
	case 0x82:
		v, err := b.Uint16()
		if err != nil {
			_ = b.SetPosition(pos)
			return 0, false, nil
		}
		cnt = int(v)
	case 0x84:
		v, err := b.Uint32()
		if err != nil {
			_ = b.SetPosition(pos)
			return 0, false, nil
		}
		cnt = int(v)
	default:
		_ = b.SetPosition(pos)
		return 0, false, fmt.Errorf("count marker %02X: %w", m, base.ErrInvalidCount)
	}
	return cnt, true, nil
}

// ValueOf maps native go value to the matching data type.
func ValueOf(src any) (Value, error) {
	switch t := src.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return t, nil
	case bool:
		return Boolean(t), nil
	case int8:
		return Integer(t), nil
	case int16:
		return Long(t), nil
	case int32:
		return DoubleLong(t), nil
	case int64:
		return Long64(t), nil
	case int:
		if t >= math.MinInt32 && t <= math.MaxInt32 {
			return DoubleLong(t), nil
		}
		return Long64(t), nil
	case uint8:
		return Unsigned(t), nil
	case uint16:
		return LongUnsigned(t), nil
	case uint32:
		return DoubleLongUnsigned(t), nil
	case uint64:
		return Long64Unsigned(t), nil
	case uint:
		if t <= math.MaxUint32 {
			return DoubleLongUnsigned(t), nil
		}
		return Long64Unsigned(t), nil
	case float32:
		return Float32(t), nil
	case float64:
		return Float64(t), nil
	case string:
		return VisibleString(t), nil
	case []byte:
		return OctetString(t), nil
	case time.Time:
		return NewDlmsDateTimeFromTime(t), nil
	case DlmsObis:
		return t.Value(), nil
	case []any:
		items := make(Array, len(t))
		for i, s := range t {
			v, err := ValueOf(s)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			items[i] = v
		}
		return items, nil
	}
	return nil, fmt.Errorf("unsupported go type %T: %w", src, base.ErrInvalidDataType)
}

// As returns v represented as tag, TagNull keeps v as it is.
func As(tag DataTag, v Value) (Value, error) {
	if v == nil {
		v = Null{}
	}
	if tag == TagNull || tag == v.Tag() {
		return v, nil
	}
	return convert(tag, v)
}

// EncodeAs encodes v as tag, converting between compatible representations.
func EncodeAs(b *buffer.Buffer, tag DataTag, v Value) error {
	c, err := As(tag, v)
	if err != nil {
		return err
	}
	return EncodeData(b, c)
}

func convert(tag DataTag, v Value) (Value, error) {
	switch tag {
	case TagOctetString:
		switch t := v.(type) {
		case VisibleString:
			return OctetString(t), nil
		case UTF8String:
			return OctetString(t), nil
		case DlmsDate, DlmsTime, DlmsDateTime:
			return t, nil
		}
	case TagVisibleString:
		switch t := v.(type) {
		case OctetString:
			return VisibleString(t), nil
		case UTF8String:
			return VisibleString(t), nil
		}
	case TagUTF8String:
		switch t := v.(type) {
		case OctetString:
			return UTF8String(t), nil
		case VisibleString:
			return UTF8String(t), nil
		}
	case TagDateTime, TagDate, TagTime:
		if dt, ok := v.(DlmsDateTime); ok {
			switch tag {
			case TagDate:
				return dt.Date, nil
			case TagTime:
				return dt.Time, nil
			}
			return dt, nil
		}
	case TagFloat32, TagFloatingPoint, TagFloat64:
		f, ok := asFloat(v)
		if ok {
			switch tag {
			case TagFloat32:
				return Float32(f), nil
			case TagFloatingPoint:
				return FloatingPoint(f), nil
			}
			return Float64(f), nil
		}
	case TagBoolean:
		if i, ok := asInt(v); ok {
			return Boolean(i != 0), nil
		}
	case TagInteger, TagLong, TagDoubleLong, TagLong64, TagUnsigned, TagLongUnsigned, TagDoubleLongUnsigned, TagLong64Unsigned, TagEnum:
		i, ok := asInt(v)
		if !ok {
			break
		}
		if !fits(tag, i) {
			return nil, fmt.Errorf("value %d does not fit %s: %w", i, tag, base.ErrInvalidDataType)
		}
		switch tag {
		case TagInteger:
			return Integer(i), nil
		case TagLong:
			return Long(i), nil
		case TagDoubleLong:
			return DoubleLong(i), nil
		case TagLong64:
			return Long64(i), nil
		case TagUnsigned:
			return Unsigned(i), nil
		case TagLongUnsigned:
			return LongUnsigned(i), nil
		case TagDoubleLongUnsigned:
			return DoubleLongUnsigned(i), nil
		case TagEnum:
			return Enum(i), nil
		}
		return Long64Unsigned(i), nil
	}
	return nil, fmt.Errorf("can not encode %s as %s: %w", v.Tag(), tag, base.ErrInvalidDataType)
}

func fits(tag DataTag, i int64) bool {
	switch tag {
	case TagInteger:
		return i >= math.MinInt8 && i <= math.MaxInt8
	case TagLong:
		return i >= math.MinInt16 && i <= math.MaxInt16
	case TagDoubleLong:
		return i >= math.MinInt32 && i <= math.MaxInt32
	case TagUnsigned, TagEnum:
		return i >= 0 && i <= math.MaxUint8
	case TagLongUnsigned:
		return i >= 0 && i <= math.MaxUint16
	case TagDoubleLongUnsigned:
		return i >= 0 && i <= math.MaxUint32
	case TagLong64Unsigned:
		return i >= 0
	}
	return true
}

func asInt(v Value) (int64, bool) {
	switch t := v.(type) {
	case Boolean:
		if t {
			return 1, true
		}
		return 0, true
	case Integer:
		return int64(t), true
	case Long:
		return int64(t), true
	case DoubleLong:
		return int64(t), true
	case Long64:
		return int64(t), true
	case Unsigned:
		return int64(t), true
	case LongUnsigned:
		return int64(t), true
	case DoubleLongUnsigned:
		return int64(t), true
	case Long64Unsigned:
		if t > math.MaxInt64 {
			return 0, false
		}
		return int64(t), true
	case Enum:
		return int64(t), true
	}
	return 0, false
}

func asFloat(v Value) (float64, bool) {
	switch t := v.(type) {
	case Float32:
		return float64(t), true
	case FloatingPoint:
		return float64(t), true
	case Float64:
		return float64(t), true
	}
	if i, ok := asInt(v); ok {
		return float64(i), true
	}
	return 0, false
}

// CaptureObject is one column definition of a profile generic buffer.
func CaptureObject(classId uint16, obis DlmsObis, attribute int8, dataIndex uint16) Structure {
	return Structure{LongUnsigned(classId), obis.Value(), Integer(attribute), LongUnsigned(dataIndex)}
}

// RangeDescriptor selects buffer entries whose restricting column lies
// between from and to. No columns means all of them.
func RangeDescriptor(restricting Structure, from Value, to Value, columns ...Structure) Structure {
	selected := make(Array, len(columns))
	for i, c := range columns {
		selected[i] = c
	}
	return Structure{restricting, from, to, selected}
}
