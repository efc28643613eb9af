package clone

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/cryguy/jsworker/internal/core"
)

// BinarySource supplies the raw bytes a staged ArrayBuffer/TypedArray/
// DataView global was written to by the script-side encode walker (see
// internal/bootstrap), and removes the global once read. It is the
// decode-direction half of core.BinaryTransferer: the engine already
// implements the write half for the opposite direction (BinarySink, used
// by ToJSExpr in jsexpr.go).
type BinarySource interface {
	ReadBinaryFromJS(globalName string) ([]byte, error)
}

// node is the wire shape of one tagged JSON value emitted by the
// bootstrap's __encodeWalk walker. Every field is optional
// except T; which ones are populated depends on T.
type node struct {
	T string `json:"t"`

	V json.RawMessage `json:"v,omitempty"` // bool/number/string/array-of-node

	ID *uint32 `json:"id,omitempty"` // Object/Array/Map/Set slot id
	E  []entry `json:"e,omitempty"`  // Object/Map entries

	Src   string `json:"src,omitempty"`   // RegExp
	Flags string `json:"flags,omitempty"` // RegExp

	Name string `json:"name,omitempty"` // Error
	Msg  string `json:"msg,omitempty"`  // Error

	G      string `json:"g,omitempty"`      // staged global name (ArrayBuffer/TypedArray/DataView)
	Len    uint32 `json:"len,omitempty"`    // ArrayBuffer byte length / TypedArray element length / DataView byte length
	BufLen uint32 `json:"buflen,omitempty"` // TypedArray/DataView underlying buffer byte length
	Off    uint32 `json:"off,omitempty"`    // TypedArray/DataView byte offset
	Kind   string `json:"kind,omitempty"`   // TypedArray element kind name

	Ref *uint32 `json:"ref,omitempty"` // ObjectRef target id
}

// entry is one [key, value] or [keyNode, valueNode] pair. Object keys are
// plain strings; Map keys are themselves nodes.
type entry struct {
	Key   json.RawMessage `json:"k"`
	Value node            `json:"v"`
}

var typedArrayKindByName = map[string]TypedArrayKind{
	"Int8Array": Int8Array, "Uint8Array": Uint8Array, "Uint8ClampedArray": Uint8ClampedArray,
	"Int16Array": Int16Array, "Uint16Array": Uint16Array,
	"Int32Array": Int32Array, "Uint32Array": Uint32Array,
	"Float32Array": Float32Array, "Float64Array": Float64Array,
	"BigInt64Array": BigInt64Array, "BigUint64Array": BigUint64Array,
}

// FromWireJSON parses the tagged JSON intermediate produced by the
// script-side encode walker into a Value tree ready for Encode. Binary
// payloads staged on globals by the walker are pulled across via src and
// the staging globals are deleted once read, mirroring
// core.BinaryTransferer's existing staged-global convention.
func FromWireJSON(data []byte, src BinarySource) (Value, error) {
	var n node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, &core.InvalidDataError{Reason: "malformed clone intermediate: " + err.Error()}
	}
	return nodeToValue(&n, src)
}

func nodeToValue(n *node, src BinarySource) (Value, error) {
	switch n.T {
	case "u":
		return Undefined{}, nil
	case "n":
		return Null{}, nil
	case "b":
		var b bool
		if err := json.Unmarshal(n.V, &b); err != nil {
			return nil, &core.InvalidDataError{Reason: "bad bool payload"}
		}
		return Bool(b), nil
	case "i":
		var i int32
		if err := json.Unmarshal(n.V, &i); err != nil {
			return nil, &core.InvalidDataError{Reason: "bad int payload"}
		}
		return Int32(i), nil
	case "d":
		f, err := parseNumberOrSentinel(n.V)
		if err != nil {
			return nil, err
		}
		return Double(f), nil
	case "s":
		var s string
		if err := json.Unmarshal(n.V, &s); err != nil {
			return nil, &core.InvalidDataError{Reason: "bad string payload"}
		}
		return String(s), nil
	case "o":
		obj := &Object{}
		for _, e := range n.E {
			var key string
			if err := json.Unmarshal(e.Key, &key); err != nil {
				return nil, &core.InvalidDataError{Reason: "bad object key"}
			}
			val, err := nodeToValue(&e.Value, src)
			if err != nil {
				return nil, err
			}
			obj.Entries = append(obj.Entries, Entry{Key: key, Value: val})
		}
		return obj, nil
	case "a":
		var items []node
		if len(n.V) > 0 {
			if err := json.Unmarshal(n.V, &items); err != nil {
				return nil, &core.InvalidDataError{Reason: "bad array payload"}
			}
		}
		arr := &Array{Items: make([]Value, 0, len(items))}
		for i := range items {
			v, err := nodeToValue(&items[i], src)
			if err != nil {
				return nil, err
			}
			arr.Items = append(arr.Items, v)
		}
		return arr, nil
	case "date":
		f, err := parseNumberOrSentinel(n.V)
		if err != nil {
			return nil, err
		}
		return Date{Millis: f}, nil
	case "re":
		return RegExp{Source: n.Src, Flags: n.Flags}, nil
	case "map":
		m := &Map{}
		for _, e := range n.E {
			var keyNode node
			if err := json.Unmarshal(e.Key, &keyNode); err != nil {
				return nil, &core.InvalidDataError{Reason: "bad map key"}
			}
			k, err := nodeToValue(&keyNode, src)
			if err != nil {
				return nil, err
			}
			v, err := nodeToValue(&e.Value, src)
			if err != nil {
				return nil, err
			}
			m.Entries = append(m.Entries, MapEntry{Key: k, Value: v})
		}
		return m, nil
	case "set":
		var items []node
		if len(n.V) > 0 {
			if err := json.Unmarshal(n.V, &items); err != nil {
				return nil, &core.InvalidDataError{Reason: "bad set payload"}
			}
		}
		s := &Set{Items: make([]Value, 0, len(items))}
		for i := range items {
			v, err := nodeToValue(&items[i], src)
			if err != nil {
				return nil, err
			}
			s.Items = append(s.Items, v)
		}
		return s, nil
	case "err":
		return ErrorValue{Name: n.Name, Message: n.Msg}, nil
	case "ab":
		b, err := stageBytes(n.G, src)
		if err != nil {
			return nil, err
		}
		return ArrayBuffer{Bytes: b}, nil
	case "ta":
		b, err := stageBytes(n.G, src)
		if err != nil {
			return nil, err
		}
		kind, ok := typedArrayKindByName[n.Kind]
		if !ok {
			return nil, &core.InvalidDataError{Reason: "unknown typed array kind " + n.Kind}
		}
		return TypedArray{Kind: kind, Buffer: b, ByteOffset: n.Off, ElementLength: n.Len}, nil
	case "dv":
		b, err := stageBytes(n.G, src)
		if err != nil {
			return nil, err
		}
		return DataView{Buffer: b, ByteOffset: n.Off, ByteLength: n.Len}, nil
	case "ref":
		if n.Ref == nil {
			return nil, &core.InvalidDataError{Reason: "ref node missing id"}
		}
		return ObjectRef{ID: *n.Ref}, nil
	case "unclonable":
		var reason string
		_ = json.Unmarshal(n.V, &reason)
		return nil, &core.DataCloneError{Reason: reason}
	default:
		return nil, &core.InvalidDataError{Reason: "unknown intermediate tag " + n.T}
	}
}

func stageBytes(global string, src BinarySource) ([]byte, error) {
	if global == "" {
		return nil, nil
	}
	if src == nil {
		return nil, &core.InvalidDataError{Reason: "no binary source for staged global " + global}
	}
	b, err := src.ReadBinaryFromJS(global)
	if err != nil {
		return nil, fmt.Errorf("reading staged clone buffer %s: %w", global, err)
	}
	return b, nil
}

// parseNumberOrSentinel accepts either a plain JSON number or one of the
// string sentinels "NaN", "Infinity", "-Infinity", "-0" that the
// bootstrap's JSON.stringify replacer substitutes for values JSON cannot
// represent natively.
func parseNumberOrSentinel(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, &core.InvalidDataError{Reason: "bad numeric payload"}
	}
	switch s {
	case "NaN":
		return math.NaN(), nil
	case "Infinity":
		return math.Inf(1), nil
	case "-Infinity":
		return math.Inf(-1), nil
	case "-0":
		return math.Copysign(0, -1), nil
	default:
		return 0, &core.InvalidDataError{Reason: "unrecognized numeric sentinel " + s}
	}
}
