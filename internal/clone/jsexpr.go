package clone

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/cryguy/jsworker/internal/core"
)

// BinarySink is the encode-direction half of core.BinaryTransferer: it
// stages raw bytes on a uniquely-named global so generated JS can pick
// them up as an ArrayBuffer. It is satisfied by core.BinaryTransferer.
type BinarySink interface {
	WriteBinaryToJS(globalName string, data []byte) error
}

// exprBuilder accumulates the statements of a single `(function(){ ...
// })()` expression that reconstructs a decoded Value graph inside the
// engine, plus the names of the staged binary globals it used. ToJSExpr
// does not return that list, so globals staged before a failure partway
// through construction are left in place.
type exprBuilder struct {
	sink     BinarySink
	slotOf   map[Value]int
	nextSlot int
	stmts    []string
	staged   []string
	bufSeq   int
}

// ToJSExpr compiles v into a JS expression string that, when evaluated,
// reconstructs v as an engine-native value — including cycles, since
// Decode already hands back a real Go pointer graph for a cyclic clone
// (spec scenario 3: decoded.a === decoded). Cycle-capable containers get a
// numbered slot in a local array, assigned before their children are
// visited, mirroring the decoder's own registration order so a
// self-reference compiles to a plain slot lookup instead of infinite
// recursion.
func ToJSExpr(v Value, sink BinarySink) (string, error) {
	b := &exprBuilder{sink: sink, slotOf: make(map[Value]int)}
	root, err := b.expr(v)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.WriteString("(function(){\nvar R=[];\n")
	for _, s := range b.stmts {
		sb.WriteString(s)
		sb.WriteString("\n")
	}
	sb.WriteString("return (")
	sb.WriteString(root)
	sb.WriteString(");\n})()")
	return sb.String(), nil
}

// expr returns a JS expression for v. For cycle-capable kinds already
// visited this call, it returns the slot lookup instead of recursing.
func (b *exprBuilder) expr(v Value) (string, error) {
	switch v.(type) {
	case *Object, *Array, *Map, *Set:
		if slot, ok := b.slotOf[v]; ok {
			return fmt.Sprintf("R[%d]", slot), nil
		}
	}
	switch val := v.(type) {
	case nil, Undefined:
		return "undefined", nil
	case Null:
		return "null", nil
	case Bool:
		if val {
			return "true", nil
		}
		return "false", nil
	case Int32:
		return fmt.Sprintf("%d", int32(val)), nil
	case Double:
		return numberLiteral(float64(val)), nil
	case String:
		return jsStringLiteral(string(val)), nil
	case Date:
		return fmt.Sprintf("new Date(%s)", numberLiteral(val.Millis)), nil
	case RegExp:
		return fmt.Sprintf("new RegExp(%s, %s)", jsStringLiteral(val.Source), jsStringLiteral(val.Flags)), nil
	case ErrorValue:
		return b.errorExpr(val), nil
	case ArrayBuffer:
		return b.arrayBufferExpr(val.Bytes)
	case TypedArray:
		return b.typedArrayExpr(val)
	case DataView:
		return b.dataViewExpr(val)
	case ObjectRef:
		slot, ok := b.slotByRef(val.ID)
		if !ok {
			return "", &core.InvalidDataError{Reason: "dangling object reference"}
		}
		return fmt.Sprintf("R[%d]", slot), nil
	case *Object:
		return b.objectExpr(v, val)
	case *Array:
		return b.arrayExpr(v, val)
	case *Map:
		return b.mapExpr(v, val)
	case *Set:
		return b.setExpr(v, val)
	default:
		return "", &core.InvalidDataError{Reason: "value kind has no JS construction"}
	}
}

// slotByRef looks up the slot for a reference id. Decode assigns slots in
// strict visitation order starting at 0, the same order this builder
// assigns them, so id is directly usable as an index once that many
// containers have been visited.
func (b *exprBuilder) slotByRef(id uint32) (int, bool) {
	if int(id) >= b.nextSlot {
		return 0, false
	}
	return int(id), true
}

func (b *exprBuilder) allocSlot(v Value) int {
	slot := b.nextSlot
	b.nextSlot++
	b.slotOf[v] = slot
	return slot
}

func (b *exprBuilder) objectExpr(key Value, obj *Object) (string, error) {
	slot := b.allocSlot(key)
	b.stmts = append(b.stmts, fmt.Sprintf("R[%d]={};", slot))
	for _, ent := range obj.Entries {
		ve, err := b.expr(ent.Value)
		if err != nil {
			return "", err
		}
		b.stmts = append(b.stmts, fmt.Sprintf("R[%d][%s]=%s;", slot, jsStringLiteral(ent.Key), ve))
	}
	return fmt.Sprintf("R[%d]", slot), nil
}

func (b *exprBuilder) arrayExpr(key Value, arr *Array) (string, error) {
	slot := b.allocSlot(key)
	b.stmts = append(b.stmts, fmt.Sprintf("R[%d]=new Array(%d);", slot, len(arr.Items)))
	for i, item := range arr.Items {
		ie, err := b.expr(item)
		if err != nil {
			return "", err
		}
		b.stmts = append(b.stmts, fmt.Sprintf("R[%d][%d]=%s;", slot, i, ie))
	}
	return fmt.Sprintf("R[%d]", slot), nil
}

func (b *exprBuilder) mapExpr(key Value, m *Map) (string, error) {
	slot := b.allocSlot(key)
	b.stmts = append(b.stmts, fmt.Sprintf("R[%d]=new Map();", slot))
	for _, ent := range m.Entries {
		ke, err := b.expr(ent.Key)
		if err != nil {
			return "", err
		}
		ve, err := b.expr(ent.Value)
		if err != nil {
			return "", err
		}
		b.stmts = append(b.stmts, fmt.Sprintf("R[%d].set(%s, %s);", slot, ke, ve))
	}
	return fmt.Sprintf("R[%d]", slot), nil
}

func (b *exprBuilder) setExpr(key Value, s *Set) (string, error) {
	slot := b.allocSlot(key)
	b.stmts = append(b.stmts, fmt.Sprintf("R[%d]=new Set();", slot))
	for _, item := range s.Items {
		ie, err := b.expr(item)
		if err != nil {
			return "", err
		}
		b.stmts = append(b.stmts, fmt.Sprintf("R[%d].add(%s);", slot, ie))
	}
	return fmt.Sprintf("R[%d]", slot), nil
}

func (b *exprBuilder) errorExpr(ev ErrorValue) string {
	ctor := ev.Name
	switch ctor {
	case "EvalError", "RangeError", "ReferenceError", "SyntaxError", "TypeError", "URIError":
		return fmt.Sprintf("new %s(%s)", ctor, jsStringLiteral(ev.Message))
	default:
		if ev.Name == "" || ev.Name == "Error" {
			return fmt.Sprintf("new Error(%s)", jsStringLiteral(ev.Message))
		}
		return fmt.Sprintf("(function(){var e=new Error(%s);e.name=%s;return e;})()",
			jsStringLiteral(ev.Message), jsStringLiteral(ev.Name))
	}
}

// stageGlobal writes data to a fresh global name via the binary sink and
// records it for the caller's bookkeeping.
func (b *exprBuilder) stageGlobal(data []byte) (string, error) {
	if b.sink == nil {
		return "", &core.InvalidDataError{Reason: "no binary sink available for buffer reconstruction"}
	}
	b.bufSeq++
	name := fmt.Sprintf("__cloneBuf%d", b.bufSeq)
	if err := b.sink.WriteBinaryToJS(name, data); err != nil {
		return "", fmt.Errorf("staging clone buffer: %w", err)
	}
	b.staged = append(b.staged, name)
	return name, nil
}

func (b *exprBuilder) arrayBufferExpr(data []byte) (string, error) {
	g, err := b.stageGlobal(data)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(function(){var b=globalThis[%q];delete globalThis[%q];return b;})()", g, g), nil
}

var typedArrayCtorByKind = map[TypedArrayKind]string{
	Int8Array: "Int8Array", Uint8Array: "Uint8Array", Uint8ClampedArray: "Uint8ClampedArray",
	Int16Array: "Int16Array", Uint16Array: "Uint16Array",
	Int32Array: "Int32Array", Uint32Array: "Uint32Array",
	Float32Array: "Float32Array", Float64Array: "Float64Array",
	BigInt64Array: "BigInt64Array", BigUint64Array: "BigUint64Array",
}

func (b *exprBuilder) typedArrayExpr(ta TypedArray) (string, error) {
	g, err := b.stageGlobal(ta.Buffer)
	if err != nil {
		return "", err
	}
	ctor, ok := typedArrayCtorByKind[ta.Kind]
	if !ok {
		return "", &core.InvalidDataError{Reason: "unknown typed array kind"}
	}
	return fmt.Sprintf("(function(){var b=globalThis[%q];delete globalThis[%q];return new %s(b,%d,%d);})()",
		g, g, ctor, ta.ByteOffset, ta.ElementLength), nil
}

func (b *exprBuilder) dataViewExpr(dv DataView) (string, error) {
	g, err := b.stageGlobal(dv.Buffer)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(function(){var b=globalThis[%q];delete globalThis[%q];return new DataView(b,%d,%d);})()",
		g, g, dv.ByteOffset, dv.ByteLength), nil
}

func numberLiteral(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0 && math.Signbit(f):
		return "-0"
	default:
		return strconvFormat(f)
	}
}

func strconvFormat(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

func jsStringLiteral(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
