package dlmsal

import (
	"fmt"
	"reflect"
	"time"

	"github.com/cybroslabs/libdlms-engine/base"
)

var (
	timeType     = reflect.TypeOf(time.Time{})
	dateTimeType = reflect.TypeOf(DlmsDateTime{})
	obisType     = reflect.TypeOf(DlmsObis{})
	valueType    = reflect.TypeOf((*Value)(nil)).Elem()
	bytesType    = reflect.TypeOf([]byte(nil))
)

// Cast fills trg (non-nil pointer) from decoded value. Structures map to
// structs field by field, arrays to slices, octet strings of the right length
// to time.Time, DlmsDateTime or DlmsObis. Null sets pointers to nil.
func Cast(trg any, v Value) error {
	r := reflect.ValueOf(trg)
	if r.Kind() != reflect.Pointer || r.IsNil() {
		return fmt.Errorf("target must be a non-nil pointer")
	}
	return recast(r.Elem(), v)
}

func casterror(trg reflect.Value, v Value) error {
	return fmt.Errorf("can not cast %T to %v: %w", v, trg.Type(), base.ErrInvalidDataType)
}

func recast(trg reflect.Value, v Value) error {
	if v == nil {
		v = Null{}
	}
	switch trg.Type() {
	case valueType:
		trg.Set(reflect.ValueOf(&v).Elem())
		return nil
	case timeType:
		dt, err := asDateTime(v)
		if err != nil {
			return err
		}
		t, err := dt.ToTime()
		if err != nil {
			return err
		}
		trg.Set(reflect.ValueOf(t))
		return nil
	case dateTimeType:
		dt, err := asDateTime(v)
		if err != nil {
			return err
		}
		trg.Set(reflect.ValueOf(dt))
		return nil
	case obisType:
		b, ok := v.(OctetString)
		if !ok {
			return casterror(trg, v)
		}
		o, err := NewDlmsObisFromSlice(b)
		if err != nil {
			return err
		}
		trg.Set(reflect.ValueOf(o))
		return nil
	}

	switch trg.Kind() {
	case reflect.Pointer:
		if _, ok := v.(Null); ok {
			trg.Set(reflect.Zero(trg.Type()))
			return nil
		}
		elem := reflect.New(trg.Type().Elem())
		if err := recast(elem.Elem(), v); err != nil {
			return err
		}
		trg.Set(elem)
		return nil
	case reflect.Bool:
		i, ok := asInt(v)
		if !ok {
			return casterror(trg, v)
		}
		trg.SetBool(i != 0)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, ok := asInt(v)
		if !ok || trg.OverflowInt(i) {
			return casterror(trg, v)
		}
		trg.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if u, ok := v.(Long64Unsigned); ok {
			trg.SetUint(uint64(u))
			break
		}
		i, ok := asInt(v)
		if !ok || i < 0 || trg.OverflowUint(uint64(i)) {
			return casterror(trg, v)
		}
		trg.SetUint(uint64(i))
	case reflect.Float32, reflect.Float64:
		f, ok := asFloat(v)
		if !ok {
			return casterror(trg, v)
		}
		trg.SetFloat(f)
	case reflect.String:
		switch t := v.(type) {
		case VisibleString:
			trg.SetString(string(t))
		case UTF8String:
			trg.SetString(string(t))
		case OctetString:
			trg.SetString(string(t))
		case BitString:
			trg.SetString(string(t))
		case BCD:
			trg.SetString(string(t))
		default:
			trg.SetString(fmt.Sprint(v))
		}
	case reflect.Slice:
		return recastslice(trg, v)
	case reflect.Struct:
		return recaststruct(trg, v)
	default:
		return fmt.Errorf("unsupported target kind %v: %w", trg.Kind(), base.ErrInvalidDataType)
	}
	return nil
}

func asDateTime(v Value) (DlmsDateTime, error) {
	switch t := v.(type) {
	case DlmsDateTime:
		return t, nil
	case OctetString:
		return NewDlmsDateTimeFromSlice(t)
	}
	return DlmsDateTime{}, fmt.Errorf("can not cast %T to date time: %w", v, base.ErrInvalidDataType)
}

func recaststruct(trg reflect.Value, v Value) error {
	items, ok := v.(Structure)
	if !ok {
		return casterror(trg, v)
	}
	if trg.NumField() != len(items) {
		return fmt.Errorf("struct has %d fields, but data has %d: %w", trg.NumField(), len(items), base.ErrInvalidCount)
	}
	for i := range items {
		f := trg.Type().Field(i)
		if !f.IsExported() { // fill only exported fields
			continue
		}
		if _, null := items[i].(Null); null && f.Type.Kind() != reflect.Pointer && f.Type != valueType {
			return fmt.Errorf("field %s is not a pointer, but data is null: %w", f.Name, base.ErrInvalidDataType)
		}
		if err := recast(trg.Field(i), items[i]); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	return nil
}

func recastslice(trg reflect.Value, v Value) error {
	var items []Value
	switch t := v.(type) {
	case OctetString:
		if trg.Type() != bytesType {
			return casterror(trg, v)
		}
		trg.SetBytes(append([]byte(nil), t...))
		return nil
	case Array:
		items = t
	case Structure:
		items = t
	default:
		return casterror(trg, v)
	}
	s := reflect.MakeSlice(trg.Type(), len(items), len(items))
	for i := range items {
		if err := recast(s.Index(i), items[i]); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	trg.Set(s)
	return nil
}
