package vm

import "fmt"

// ---------------------------------------------------------------------------
// Heap objects
// ---------------------------------------------------------------------------

// ObjType identifies the concrete kind of an Obj.
type ObjType uint8

const (
	ObjTypeString ObjType = iota
	ObjTypeFunction
	ObjTypeClosure
	ObjTypeNative
	ObjTypeStruct
	ObjTypeInstance
	ObjTypeUpvalue
)

var objTypeNames = map[ObjType]string{
	ObjTypeString:   "string",
	ObjTypeFunction: "function",
	ObjTypeClosure:  "closure",
	ObjTypeNative:   "native",
	ObjTypeStruct:   "struct",
	ObjTypeInstance: "instance",
	ObjTypeUpvalue:  "upvalue",
}

func (t ObjType) String() string {
	if name, ok := objTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ObjType(%d)", t)
}

// Obj is implemented by every heap-allocated object. Objects are shared by
// reference and reclaimed by the Go garbage collector.
type Obj interface {
	Type() ObjType
	String() string
}

// ObjString is an immutable string.
type ObjString struct {
	Chars string
}

func (s *ObjString) Type() ObjType  { return ObjTypeString }
func (s *ObjString) String() string { return s.Chars }

// ObjFunction is a compiled function body. An empty Name marks the
// top-level script.
type ObjFunction struct {
	Name         string
	Arity        int
	UpvalueCount int
	Chunk        *Chunk
}

// NewFunction returns a function with an empty chunk.
func NewFunction(name string) *ObjFunction {
	return &ObjFunction{Name: name, Chunk: NewChunk()}
}

func (f *ObjFunction) Type() ObjType { return ObjTypeFunction }

func (f *ObjFunction) String() string {
	if f.Name == "" {
		return "<script>"
	}
	return "<fn " + f.Name + ">"
}

// DisplayName is the name used in stack traces and disassembly headers.
func (f *ObjFunction) DisplayName() string {
	if f.Name == "" {
		return "script"
	}
	return f.Name
}

// ObjClosure binds a function to the upvalues it captured when it was
// created. The upvalue slice is never resized after creation.
type ObjClosure struct {
	Function *ObjFunction
	Upvalues []*ObjUpvalue
}

// NewClosure allocates a closure with room for fn's upvalues.
func NewClosure(fn *ObjFunction) *ObjClosure {
	return &ObjClosure{
		Function: fn,
		Upvalues: make([]*ObjUpvalue, fn.UpvalueCount),
	}
}

func (c *ObjClosure) Type() ObjType  { return ObjTypeClosure }
func (c *ObjClosure) String() string { return c.Function.String() }

// ObjUpvalue is a captured variable. While open it aliases a live stack
// slot; once closed it owns the value.
type ObjUpvalue struct {
	location *Value
	slot     int
	closed   Value
	next     *ObjUpvalue // next open upvalue, lower slot
}

func (u *ObjUpvalue) Type() ObjType  { return ObjTypeUpvalue }
func (u *ObjUpvalue) String() string { return "upvalue" }

// Get returns the current value of the captured variable.
func (u *ObjUpvalue) Get() Value {
	return *u.location
}

// Set assigns the captured variable.
func (u *ObjUpvalue) Set(v Value) {
	*u.location = v
}

// IsClosed reports whether the upvalue has been moved off the stack.
func (u *ObjUpvalue) IsClosed() bool {
	return u.location == &u.closed
}

func (u *ObjUpvalue) close() {
	u.closed = *u.location
	u.location = &u.closed
}

// NativeFn is the signature of host functions callable from tern.
type NativeFn func(argCount int, args []Value) (Value, error)

// ObjNative is a host function. An Arity of -1 accepts any argument count.
type ObjNative struct {
	Name  string
	Arity int
	Fn    NativeFn
}

func (n *ObjNative) Type() ObjType  { return ObjTypeNative }
func (n *ObjNative) String() string { return "<native fn>" }

// ObjStruct is a name-only type descriptor. Fields live on instances.
type ObjStruct struct {
	Name string
}

func (s *ObjStruct) Type() ObjType  { return ObjTypeStruct }
func (s *ObjStruct) String() string { return s.Name }

// ObjInstance is an instance of a struct with lazily created fields.
type ObjInstance struct {
	Struct *ObjStruct
	Fields map[string]Value
}

// NewInstance creates an instance with no fields set.
func NewInstance(s *ObjStruct) *ObjInstance {
	return &ObjInstance{Struct: s, Fields: make(map[string]Value)}
}

func (i *ObjInstance) Type() ObjType  { return ObjTypeInstance }
func (i *ObjInstance) String() string { return i.Struct.Name + " instance" }
