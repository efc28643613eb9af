package clone

import (
	"math"

	"github.com/cryguy/jsworker/internal/core"
)

// DefaultMaxDepth and DefaultMaxSize are the spec's §4.2 limits.
const (
	DefaultMaxDepth = 1000
	DefaultMaxSize  = 100 * 1024 * 1024
)

// Limits bounds a single encode. Zero values fall back to the defaults.
type Limits struct {
	MaxDepth int
	MaxSize  int
}

func (l Limits) resolved() Limits {
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultMaxDepth
	}
	if l.MaxSize <= 0 {
		l.MaxSize = DefaultMaxSize
	}
	return l
}

// encoder carries the per-encode reference table and limits.
type encoder struct {
	w       *Writer
	limits  Limits
	refs    map[Value]uint32
	nextRef uint32
}

// Encode appends value's structured-clone wire representation to w.
// Returns a *core.DataCloneError for non-cloneable kinds or limit
// overruns; no partial writes are observable in that case because the
// caller is expected to discard w (see EncodeToBytes).
func Encode(root Value, w *Writer, limits Limits) error {
	e := &encoder{w: w, limits: limits.resolved(), refs: make(map[Value]uint32)}
	return e.encode(root, 0)
}

// EncodeToBytes is a convenience wrapper that encodes into a fresh Writer
// and returns only the final bytes on success, so a caller never observes
// a partially-written buffer on failure.
func EncodeToBytes(root Value, limits Limits) ([]byte, error) {
	w := NewWriter(256)
	if err := Encode(root, w, limits); err != nil {
		return nil, err
	}
	return w.Take(), nil
}

func (e *encoder) checkSize() error {
	if e.w.Len() > e.limits.MaxSize {
		return &core.DataCloneError{Reason: "value exceeds maximum clone size"}
	}
	return nil
}

func (e *encoder) encode(v Value, depth int) error {
	if depth > e.limits.MaxDepth {
		return &core.DataCloneError{Reason: "value exceeds maximum clone depth"}
	}
	if err := e.checkSize(); err != nil {
		return err
	}

	switch val := v.(type) {
	case nil:
		e.w.WriteU8(uint8(TagUndefined))
		return nil
	case Undefined:
		e.w.WriteU8(uint8(TagUndefined))
		return nil
	case Null:
		e.w.WriteU8(uint8(TagNull))
		return nil
	case Bool:
		if val {
			e.w.WriteU8(uint8(TagBoolTrue))
		} else {
			e.w.WriteU8(uint8(TagBoolFalse))
		}
		return nil
	case Int32:
		e.w.WriteU8(uint8(TagInt32))
		e.w.WriteI32(int32(val))
		return nil
	case Double:
		return e.encodeNumber(float64(val))
	case String:
		e.w.WriteU8(uint8(TagString))
		e.w.WriteString(string(val))
		return nil
	case *Object:
		return e.encodeCyclic(v, TagObject, depth, func(id uint32) error {
			e.w.WriteU32(uint32(len(val.Entries)))
			for _, ent := range val.Entries {
				e.w.WriteString(ent.Key)
				if err := e.encode(ent.Value, depth+1); err != nil {
					return err
				}
			}
			return nil
		})
	case *Array:
		return e.encodeCyclic(v, TagArray, depth, func(id uint32) error {
			e.w.WriteU32(uint32(len(val.Items)))
			for _, item := range val.Items {
				if item == nil {
					item = Undefined{}
				}
				if err := e.encode(item, depth+1); err != nil {
					return err
				}
			}
			return nil
		})
	case Date:
		e.w.WriteU8(uint8(TagDate))
		e.w.WriteF64(val.Millis)
		return nil
	case RegExp:
		e.w.WriteU8(uint8(TagRegExp))
		e.w.WriteString(val.Source)
		e.w.WriteString(val.Flags)
		return nil
	case *Map:
		return e.encodeCyclic(v, TagMap, depth, func(id uint32) error {
			e.w.WriteU32(uint32(len(val.Entries)))
			for _, ent := range val.Entries {
				if err := e.encode(ent.Key, depth+1); err != nil {
					return err
				}
				if err := e.encode(ent.Value, depth+1); err != nil {
					return err
				}
			}
			return nil
		})
	case *Set:
		return e.encodeCyclic(v, TagSet, depth, func(id uint32) error {
			e.w.WriteU32(uint32(len(val.Items)))
			for _, item := range val.Items {
				if err := e.encode(item, depth+1); err != nil {
					return err
				}
			}
			return nil
		})
	case ErrorValue:
		tag, ok := errorNameToTag[val.Name]
		if !ok {
			tag = TagError
		}
		e.w.WriteU8(uint8(tag))
		e.w.WriteString(val.Name)
		e.w.WriteString(val.Message)
		return nil
	case ArrayBuffer:
		e.w.WriteU8(uint8(TagArrayBuffer))
		e.w.WriteU32(uint32(len(val.Bytes)))
		e.w.WriteBytes(val.Bytes)
		return nil
	case TypedArray:
		tag, ok := typedArrayKindToTag[val.Kind]
		if !ok {
			return &core.DataCloneError{Reason: "unknown typed array kind"}
		}
		e.w.WriteU8(uint8(tag))
		e.w.WriteU32(uint32(len(val.Buffer)))
		e.w.WriteBytes(val.Buffer)
		e.w.WriteU32(val.ByteOffset)
		e.w.WriteU32(val.ElementLength)
		return nil
	case DataView:
		e.w.WriteU8(uint8(TagDataView))
		e.w.WriteU32(uint32(len(val.Buffer)))
		e.w.WriteBytes(val.Buffer)
		e.w.WriteU32(val.ByteOffset)
		e.w.WriteU32(val.ByteLength)
		return nil
	case ObjectRef:
		e.w.WriteU8(uint8(TagObjectRef))
		e.w.WriteU32(val.ID)
		return nil
	case Callable:
		return &core.DataCloneError{Reason: "could not be cloned: function"}
	case Symbol:
		return &core.DataCloneError{Reason: "could not be cloned: symbol"}
	case WeakContainer:
		return &core.DataCloneError{Reason: "could not be cloned: " + val.Kind}
	case UnsettledPromise:
		return &core.DataCloneError{Reason: "could not be cloned: promise"}
	case HostProxy:
		return &core.DataCloneError{Reason: "could not be cloned: host object"}
	default:
		return &core.DataCloneError{Reason: "unrecognized value kind"}
	}
}

// encodeNumber picks Int32 vs Double per spec §4.2: finite, integer-valued,
// and representable as signed 32-bit uses the compact Int32 payload.
func (e *encoder) encodeNumber(f float64) error {
	if isInt32able(f) {
		e.w.WriteU8(uint8(TagInt32))
		e.w.WriteI32(int32(f))
		return nil
	}
	e.w.WriteU8(uint8(TagDouble))
	e.w.WriteF64(f)
	return nil
}

func isInt32able(f float64) bool {
	if f != f { // NaN
		return false
	}
	i := int32(f)
	return float64(i) == f && !isNegZero(f)
}

func isNegZero(f float64) bool {
	return f == 0 && math.Signbit(f)
}

// encodeCyclic registers v's reference id (if not already seen) before
// walking its children, emitting an ObjectRef instead of re-walking on a
// repeat sighting. This is the whole of the codec's cycle handling.
func (e *encoder) encodeCyclic(v Value, tag Tag, depth int, writeBody func(id uint32) error) error {
	if id, seen := e.refs[v]; seen {
		e.w.WriteU8(uint8(TagObjectRef))
		e.w.WriteU32(id)
		return nil
	}
	id := e.nextRef
	e.nextRef++
	e.refs[v] = id

	e.w.WriteU8(uint8(tag))
	return writeBody(id)
}

// Callable, Symbol, WeakContainer, UnsettledPromise, and HostProxy are
// sentinel Value implementations for non-cloneable JS kinds; Encode
// rejects each with a *core.DataCloneError. The bootstrap's script-side
// encode walk tests callable-ness and symbol-ness before any Object-kind
// dispatch and throws for these kinds itself, so it never hands them to
// Go.
type Callable struct{}
type Symbol struct{}
type WeakContainer struct{ Kind string }
type UnsettledPromise struct{}
type HostProxy struct{}

func (Callable) isValue()         {}
func (Symbol) isValue()           {}
func (WeakContainer) isValue()    {}
func (UnsettledPromise) isValue() {}
func (HostProxy) isValue()        {}
