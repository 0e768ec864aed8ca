// Package image serializes compiled tern scripts so they can be cached or
// shipped as .ternc files and run without recompiling.
package image

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/chazu/tern/vm"
	"github.com/fxamacker/cbor/v2"
)

// Magic identifies a tern image.
const Magic = "TERNC"

// Version is bumped whenever the bytecode or the image layout changes.
// Images with a different version are rejected.
const Version = 1

var (
	// ErrBadMagic is returned when data is not a tern image.
	ErrBadMagic = errors.New("image: not a tern image")

	// ErrVersion is returned for images written by another format version.
	ErrVersion = errors.New("image: unsupported version")
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

// ConstKind tags an encoded constant.
type ConstKind uint8

const (
	ConstNil      ConstKind = 0
	ConstBool     ConstKind = 1
	ConstNumber   ConstKind = 2
	ConstString   ConstKind = 3
	ConstFunction ConstKind = 4
)

// Image is the serialized form of a compiled script.
type Image struct {
	Magic      string   `cbor:"1,keyasint"`
	Version    uint     `cbor:"2,keyasint"`
	SourceHash string   `cbor:"3,keyasint,omitempty"` // hex sha256 of the source text
	Root       Function `cbor:"4,keyasint"`
}

// Function mirrors vm.ObjFunction.
type Function struct {
	Name         string     `cbor:"1,keyasint,omitempty"`
	Arity        int        `cbor:"2,keyasint"`
	UpvalueCount int        `cbor:"3,keyasint"`
	Code         []byte     `cbor:"4,keyasint"`
	Lines        []int      `cbor:"5,keyasint"`
	Constants    []Constant `cbor:"6,keyasint,omitempty"`
}

// Constant is one constant pool entry. Exactly the field matching Kind is
// set.
type Constant struct {
	Kind     ConstKind `cbor:"1,keyasint"`
	Bool     bool      `cbor:"2,keyasint,omitempty"`
	Number   float64   `cbor:"3,keyasint,omitempty"`
	String   string    `cbor:"4,keyasint,omitempty"`
	Function *Function `cbor:"5,keyasint,omitempty"`
}

// HashSource returns the hex sha256 of source as recorded in an image.
func HashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// ---------------------------------------------------------------------------
// Building and loading
// ---------------------------------------------------------------------------

// New builds an image of fn. The source may be empty when unknown.
func New(fn *vm.ObjFunction, source string) (*Image, error) {
	root, err := encodeFunction(fn)
	if err != nil {
		return nil, err
	}
	img := &Image{Magic: Magic, Version: Version, Root: *root}
	if source != "" {
		img.SourceHash = HashSource(source)
	}
	return img, nil
}

// Function rebuilds the top-level vm function.
func (img *Image) Function() (*vm.ObjFunction, error) {
	return decodeFunction(&img.Root)
}

// Marshal encodes fn as an image without a source hash.
func Marshal(fn *vm.ObjFunction) ([]byte, error) {
	return MarshalSource(fn, "")
}

// MarshalSource encodes fn and records the hash of the source it was
// compiled from.
func MarshalSource(fn *vm.ObjFunction, source string) ([]byte, error) {
	img, err := New(fn, source)
	if err != nil {
		return nil, err
	}
	return img.Marshal()
}

// Marshal encodes the image with canonical CBOR, so identical programs
// produce identical bytes.
func (img *Image) Marshal() ([]byte, error) {
	return cborEncMode.Marshal(img)
}

// Decode parses and validates an image without rebuilding functions.
func Decode(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("image: unmarshal: %w", err)
	}
	if img.Magic != Magic {
		return nil, ErrBadMagic
	}
	if img.Version != Version {
		return nil, fmt.Errorf("%w: %d (want %d)", ErrVersion, img.Version, Version)
	}
	return &img, nil
}

// Unmarshal decodes an image and returns its top-level function.
func Unmarshal(data []byte) (*vm.ObjFunction, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return img.Function()
}

func encodeFunction(fn *vm.ObjFunction) (*Function, error) {
	out := &Function{
		Name:         fn.Name,
		Arity:        fn.Arity,
		UpvalueCount: fn.UpvalueCount,
		Code:         append([]byte(nil), fn.Chunk.Code...),
		Lines:        append([]int(nil), fn.Chunk.Lines...),
	}
	for i, k := range fn.Chunk.Constants {
		c, err := encodeConstant(k)
		if err != nil {
			return nil, fmt.Errorf("image: %s constant %d: %w", fn.DisplayName(), i, err)
		}
		out.Constants = append(out.Constants, c)
	}
	return out, nil
}

func encodeConstant(v vm.Value) (Constant, error) {
	switch {
	case v.IsNil():
		return Constant{Kind: ConstNil}, nil
	case v.IsBool():
		return Constant{Kind: ConstBool, Bool: v.AsBool()}, nil
	case v.IsNumber():
		return Constant{Kind: ConstNumber, Number: v.AsNumber()}, nil
	case v.IsString():
		return Constant{Kind: ConstString, String: v.AsString().Chars}, nil
	case v.IsFunction():
		fn, err := encodeFunction(v.AsFunction())
		if err != nil {
			return Constant{}, err
		}
		return Constant{Kind: ConstFunction, Function: fn}, nil
	}
	return Constant{}, fmt.Errorf("cannot encode %s constant", v.AsObj().Type())
}

func decodeFunction(f *Function) (*vm.ObjFunction, error) {
	if len(f.Code) != len(f.Lines) {
		return nil, fmt.Errorf("image: function %q has %d code bytes but %d line entries", f.Name, len(f.Code), len(f.Lines))
	}
	if len(f.Constants) > vm.MaxConstants {
		return nil, fmt.Errorf("image: function %q: %w", f.Name, vm.ErrTooManyConstants)
	}
	fn := vm.NewFunction(f.Name)
	fn.Arity = f.Arity
	fn.UpvalueCount = f.UpvalueCount
	fn.Chunk.Code = append(fn.Chunk.Code, f.Code...)
	fn.Chunk.Lines = append(fn.Chunk.Lines, f.Lines...)
	for i := range f.Constants {
		v, err := decodeConstant(&f.Constants[i])
		if err != nil {
			return nil, fmt.Errorf("image: function %q constant %d: %w", f.Name, i, err)
		}
		fn.Chunk.Constants = append(fn.Chunk.Constants, v)
	}
	if err := vm.Verify(fn); err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	return fn, nil
}

func decodeConstant(c *Constant) (vm.Value, error) {
	switch c.Kind {
	case ConstNil:
		return vm.Nil, nil
	case ConstBool:
		return vm.Bool(c.Bool), nil
	case ConstNumber:
		return vm.Number(c.Number), nil
	case ConstString:
		return vm.String(c.String), nil
	case ConstFunction:
		if c.Function == nil {
			return vm.Nil, errors.New("function constant without a body")
		}
		fn, err := decodeFunction(c.Function)
		if err != nil {
			return vm.Nil, err
		}
		return vm.ObjVal(fn), nil
	}
	return vm.Nil, fmt.Errorf("unknown constant kind %d", c.Kind)
}
