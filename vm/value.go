package vm

import (
	"fmt"
	"math"
	"strconv"
)

// ---------------------------------------------------------------------------
// Value: tagged representation of every tern value
// ---------------------------------------------------------------------------

// ValueType is the tag of a Value.
type ValueType uint8

const (
	ValNil ValueType = iota
	ValBool
	ValNumber
	ValObj
)

var valueTypeNames = [...]string{
	ValNil:    "nil",
	ValBool:   "bool",
	ValNumber: "number",
	ValObj:    "object",
}

func (t ValueType) String() string {
	if int(t) < len(valueTypeNames) {
		return valueTypeNames[t]
	}
	return fmt.Sprintf("ValueType(%d)", t)
}

// Value is a tagged union of nil, booleans, numbers and heap objects.
// The payload accessors panic when the tag does not match; callers check
// the tag first.
type Value struct {
	typ ValueType
	b   bool
	n   float64
	obj Obj
}

// Well-known values.
var (
	Nil   = Value{typ: ValNil}
	True  = Value{typ: ValBool, b: true}
	False = Value{typ: ValBool, b: false}
)

// Bool returns the boolean value b.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// Number returns a number value.
func Number(n float64) Value {
	return Value{typ: ValNumber, n: n}
}

// ObjVal wraps a heap object.
func ObjVal(o Obj) Value {
	return Value{typ: ValObj, obj: o}
}

// String returns a value wrapping a new string object.
func String(s string) Value {
	return ObjVal(&ObjString{Chars: s})
}

// Type returns the value's tag.
func (v Value) Type() ValueType { return v.typ }

func (v Value) IsNil() bool    { return v.typ == ValNil }
func (v Value) IsBool() bool   { return v.typ == ValBool }
func (v Value) IsNumber() bool { return v.typ == ValNumber }
func (v Value) IsObj() bool    { return v.typ == ValObj }

// IsObjType reports whether v holds an object of type t.
func (v Value) IsObjType(t ObjType) bool {
	return v.typ == ValObj && v.obj.Type() == t
}

func (v Value) IsString() bool   { return v.IsObjType(ObjTypeString) }
func (v Value) IsFunction() bool { return v.IsObjType(ObjTypeFunction) }
func (v Value) IsClosure() bool  { return v.IsObjType(ObjTypeClosure) }
func (v Value) IsNative() bool   { return v.IsObjType(ObjTypeNative) }
func (v Value) IsStruct() bool   { return v.IsObjType(ObjTypeStruct) }
func (v Value) IsInstance() bool { return v.IsObjType(ObjTypeInstance) }

// AsBool returns the boolean payload.
func (v Value) AsBool() bool {
	v.mustBe(ValBool)
	return v.b
}

// AsNumber returns the numeric payload.
func (v Value) AsNumber() float64 {
	v.mustBe(ValNumber)
	return v.n
}

// AsObj returns the object payload.
func (v Value) AsObj() Obj {
	v.mustBe(ValObj)
	return v.obj
}

func (v Value) AsString() *ObjString     { return v.AsObj().(*ObjString) }
func (v Value) AsFunction() *ObjFunction { return v.AsObj().(*ObjFunction) }
func (v Value) AsClosure() *ObjClosure   { return v.AsObj().(*ObjClosure) }
func (v Value) AsNative() *ObjNative     { return v.AsObj().(*ObjNative) }
func (v Value) AsStruct() *ObjStruct     { return v.AsObj().(*ObjStruct) }
func (v Value) AsInstance() *ObjInstance { return v.AsObj().(*ObjInstance) }

func (v Value) mustBe(t ValueType) {
	if v.typ != t {
		panic(fmt.Sprintf("vm: value is %s, not %s", v.typ, t))
	}
}

// IsFalsey reports whether v counts as false in a condition. Only nil and
// false are falsey.
func IsFalsey(v Value) bool {
	return v.typ == ValNil || (v.typ == ValBool && !v.b)
}

// ValuesEqual compares two values. Values with different tags are never
// equal; strings compare by content and other objects by identity.
func ValuesEqual(a, b Value) bool {
	if a.typ != b.typ {
		return false
	}
	switch a.typ {
	case ValNil:
		return true
	case ValBool:
		return a.b == b.b
	case ValNumber:
		return a.n == b.n
	case ValObj:
		as, aok := a.obj.(*ObjString)
		bs, bok := b.obj.(*ObjString)
		if aok && bok {
			return as.Chars == bs.Chars
		}
		return a.obj == b.obj
	}
	return false
}

// String returns the printed form of the value.
func (v Value) String() string {
	switch v.typ {
	case ValNil:
		return "nil"
	case ValBool:
		if v.b {
			return "true"
		}
		return "false"
	case ValNumber:
		return FormatNumber(v.n)
	case ValObj:
		return v.obj.String()
	}
	return "<invalid>"
}

// FormatNumber prints integral numbers without a fraction and everything
// else in the shortest form that round-trips.
func FormatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e21 {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}
