package cosem

import (
	"fmt"
	"sync"

	"github.com/cybroslabs/libdlms-engine/base"
	"github.com/cybroslabs/libdlms-engine/dlmsal"
)

// ObjectType is the interface class id.
type ObjectType uint16

const (
	ObjectTypeData               ObjectType = 1
	ObjectTypeRegister           ObjectType = 3
	ObjectTypeExtendedRegister   ObjectType = 4
	ObjectTypeDemandRegister     ObjectType = 5
	ObjectTypeRegisterActivation ObjectType = 6
	ObjectTypeProfileGeneric     ObjectType = 7
	ObjectTypeClock              ObjectType = 8
	ObjectTypeScriptTable        ObjectType = 9
	ObjectTypeSpecialDaysTable   ObjectType = 11
	ObjectTypeAssociationSN      ObjectType = 12
	ObjectTypeAssociationLN      ObjectType = 15
	ObjectTypeImageTransfer      ObjectType = 18
	ObjectTypeActivityCalendar   ObjectType = 20
	ObjectTypeRegisterMonitor    ObjectType = 21
	ObjectTypeMBusSlavePortSetup ObjectType = 25
	ObjectTypeIp4Setup           ObjectType = 42
	ObjectTypeRegisterTable      ObjectType = 61
	ObjectTypeDisconnectControl  ObjectType = 70
)

// Object is what the codec needs to know about an interface class instance.
type Object interface {
	ObjectType() ObjectType
	LogicalName() dlmsal.DlmsObis
	AttributeCount() int
	// DataType returns declared type of the attribute, TagNull when the type
	// follows the value (register value for instance).
	DataType(index int) (dlmsal.DataTag, error)
}

// Factory creates object with given logical name.
type Factory func(ln dlmsal.DlmsObis) Object

type class struct {
	name       string
	attributes []dlmsal.DataTag // index 0 is attribute 1
	actionBase byte
	actions    int
}

var (
	registryOnce sync.Once
	registry     map[ObjectType]class
)

const dynamic = dlmsal.TagNull

func classes() map[ObjectType]class {
	registryOnce.Do(func() {
		octets := dlmsal.TagOctetString
		registry = map[ObjectType]class{
			ObjectTypeData:     {name: "data", attributes: []dlmsal.DataTag{octets, dynamic}},
			ObjectTypeRegister: {name: "register", attributes: []dlmsal.DataTag{octets, dynamic, dlmsal.TagStructure}, actionBase: 0x28, actions: 1},
			ObjectTypeExtendedRegister: {name: "extended register", attributes: []dlmsal.DataTag{octets, dynamic, dlmsal.TagStructure, dynamic, octets},
				actionBase: 0x38, actions: 1},
			ObjectTypeDemandRegister: {name: "demand register", attributes: []dlmsal.DataTag{octets, dynamic, dynamic, dlmsal.TagStructure, dynamic, octets, octets,
				dlmsal.TagDoubleLongUnsigned, dlmsal.TagLongUnsigned}, actionBase: 0x48, actions: 2},
			ObjectTypeRegisterActivation: {name: "register activation", attributes: []dlmsal.DataTag{octets, dlmsal.TagArray, dlmsal.TagArray, octets},
				actionBase: 0x30, actions: 3},
			ObjectTypeProfileGeneric: {name: "profile generic", attributes: []dlmsal.DataTag{octets, dlmsal.TagArray, dlmsal.TagArray, dlmsal.TagDoubleLongUnsigned,
				dlmsal.TagEnum, dlmsal.TagStructure, dlmsal.TagDoubleLongUnsigned, dlmsal.TagDoubleLongUnsigned}, actionBase: 0x58, actions: 4},
			ObjectTypeClock: {name: "clock", attributes: []dlmsal.DataTag{octets, octets, dlmsal.TagLong, dlmsal.TagUnsigned, octets, octets, dlmsal.TagInteger,
				dlmsal.TagBoolean, dlmsal.TagEnum}, actionBase: 0x60, actions: 6},
			ObjectTypeScriptTable:      {name: "script table", attributes: []dlmsal.DataTag{octets, dlmsal.TagArray}, actionBase: 0x20, actions: 1},
			ObjectTypeSpecialDaysTable: {name: "special days table", attributes: []dlmsal.DataTag{octets, dlmsal.TagArray}, actionBase: 0x10, actions: 2},
			ObjectTypeAssociationSN: {name: "association sn", attributes: []dlmsal.DataTag{octets, dlmsal.TagArray, dlmsal.TagArray, octets},
				actionBase: 0x20, actions: 8},
			ObjectTypeAssociationLN: {name: "association ln", attributes: []dlmsal.DataTag{octets, dlmsal.TagArray, dlmsal.TagStructure, dlmsal.TagStructure,
				dlmsal.TagStructure, dlmsal.TagStructure, octets, dlmsal.TagEnum, octets}, actionBase: 0x60, actions: 4},
			ObjectTypeImageTransfer: {name: "image transfer", attributes: []dlmsal.DataTag{octets, dlmsal.TagDoubleLongUnsigned, dlmsal.TagBitString,
				dlmsal.TagDoubleLongUnsigned, dlmsal.TagBoolean, dlmsal.TagEnum, dlmsal.TagArray}, actionBase: 0x40, actions: 4},
			ObjectTypeActivityCalendar: {name: "activity calendar", attributes: []dlmsal.DataTag{octets, octets, dlmsal.TagArray, dlmsal.TagArray, dlmsal.TagArray,
				octets, dlmsal.TagArray, dlmsal.TagArray, dlmsal.TagArray, octets}, actionBase: 0x50, actions: 1},
			ObjectTypeRegisterMonitor: {name: "register monitor", attributes: []dlmsal.DataTag{octets, dlmsal.TagArray, dlmsal.TagStructure, dlmsal.TagArray}},
			ObjectTypeMBusSlavePortSetup: {name: "m-bus slave port setup", attributes: []dlmsal.DataTag{octets, dlmsal.TagEnum, dlmsal.TagEnum, dlmsal.TagEnum,
				dlmsal.TagUnsigned}, actionBase: 0x60, actions: 8},
			ObjectTypeIp4Setup: {name: "ipv4 setup", attributes: []dlmsal.DataTag{octets, octets, dlmsal.TagDoubleLongUnsigned, dlmsal.TagArray, dlmsal.TagArray,
				dlmsal.TagDoubleLongUnsigned, dlmsal.TagDoubleLongUnsigned, dlmsal.TagBoolean, dlmsal.TagDoubleLongUnsigned, dlmsal.TagDoubleLongUnsigned},
				actionBase: 0x60, actions: 3},
			ObjectTypeRegisterTable: {name: "register table", attributes: []dlmsal.DataTag{octets, dlmsal.TagArray, dlmsal.TagStructure, dlmsal.TagStructure},
				actionBase: 0x28, actions: 2},
			ObjectTypeDisconnectControl: {name: "disconnect control", attributes: []dlmsal.DataTag{octets, dlmsal.TagBoolean, dlmsal.TagEnum, dlmsal.TagEnum}},
		}
	})
	return registry
}

func (t ObjectType) String() string {
	if c, ok := classes()[t]; ok {
		return c.name
	}
	return fmt.Sprintf("class %d", uint16(t))
}

type object struct {
	typ   ObjectType
	ln    dlmsal.DlmsObis
	class *class
	types map[int]dlmsal.DataTag
}

func (o *object) ObjectType() ObjectType       { return o.typ }
func (o *object) LogicalName() dlmsal.DlmsObis { return o.ln }
func (o *object) AttributeCount() int          { return len(o.class.attributes) }
func (o *object) String() string               { return fmt.Sprintf("%s %s", o.typ, o.ln) }

func (o *object) DataType(index int) (dlmsal.DataTag, error) {
	if index < 1 || index > len(o.class.attributes) {
		return 0, fmt.Errorf("%s has no attribute %d: %w", o.typ, index, base.ErrOutOfRange)
	}
	if t, ok := o.types[index]; ok {
		return t, nil
	}
	return o.class.attributes[index-1], nil
}

// SetDataType fixes type of a dynamic attribute, usually after the first read.
func SetDataType(obj Object, index int, tag dlmsal.DataTag) error {
	o, ok := obj.(*object)
	if !ok {
		return fmt.Errorf("%T is not a registered object: %w", obj, base.ErrInvalidDataType)
	}
	t, err := o.DataType(index)
	if err != nil {
		return err
	}
	if t != dynamic {
		if t == tag {
			return nil
		}
		return fmt.Errorf("attribute %d of %s is %s: %w", index, o.typ, t, base.ErrInvalidDataType)
	}
	if o.types == nil {
		o.types = make(map[int]dlmsal.DataTag)
	}
	o.types[index] = tag
	return nil
}

// Lookup returns factory of the interface class.
func Lookup(t ObjectType) (Factory, bool) {
	c, ok := classes()[t]
	if !ok {
		return nil, false
	}
	return func(ln dlmsal.DlmsObis) Object {
		return &object{typ: t, ln: ln, class: &c}
	}, true
}

func New(t ObjectType, ln dlmsal.DlmsObis) (Object, error) {
	f, ok := Lookup(t)
	if !ok {
		return nil, fmt.Errorf("unknown object type %d: %w", uint16(t), base.ErrInvalidDataType)
	}
	return f(ln), nil
}

// ActionInfo returns short name offset of the first method and count of
// methods reachable by short name, zeros when the class has none.
func ActionInfo(t ObjectType) (value byte, count int) {
	c := classes()[t]
	return c.actionBase, c.actions
}

// MethodAddress is the short name of method, methods follow each other by 8.
func MethodAddress(t ObjectType, sn uint16, method int) (uint16, error) {
	value, count := ActionInfo(t)
	if method < 1 || method > count {
		return 0, fmt.Errorf("%s has no short name method %d: %w", t, method, base.ErrOutOfRange)
	}
	return sn + uint16(value) + uint16(method-1)*8, nil
}

// AttributeValue converts native go value to the type declared for the
// attribute.
func AttributeValue(obj Object, index int, src any) (dlmsal.Value, error) {
	tag, err := obj.DataType(index)
	if err != nil {
		return nil, err
	}
	v, err := dlmsal.ValueOf(src)
	if err != nil {
		return nil, err
	}
	return dlmsal.As(tag, v)
}
