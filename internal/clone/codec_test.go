package clone

import (
	"math"
	"reflect"
	"testing"

	"github.com/cryguy/jsworker/internal/core"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	b, err := EncodeToBytes(v, Limits{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeBytes(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return got
}

func TestRoundTrip_Primitives(t *testing.T) {
	cases := []Value{
		Undefined{},
		Null{},
		Bool(true),
		Bool(false),
		Int32(42),
		Int32(-7),
		Double(3.5),
		String("hello"),
	}
	for _, c := range cases {
		got := roundTrip(t, c)
		if !reflect.DeepEqual(got, c) {
			t.Errorf("roundTrip(%#v) = %#v", c, got)
		}
	}
}

func TestRoundTrip_NaNAndInfinities(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		got := roundTrip(t, Double(f))
		d, ok := got.(Double)
		if !ok {
			t.Fatalf("got %#v, want Double", got)
		}
		if math.IsNaN(f) {
			if !math.IsNaN(float64(d)) {
				t.Errorf("NaN did not survive: got %v", d)
			}
			continue
		}
		if float64(d) != f {
			t.Errorf("got %v, want %v", d, f)
		}
	}
}

func TestRoundTrip_SignedZero(t *testing.T) {
	got := roundTrip(t, Double(math.Copysign(0, -1)))
	d, ok := got.(Double)
	if !ok {
		t.Fatalf("got %#v, want Double", got)
	}
	if !math.Signbit(float64(d)) {
		t.Errorf("negative zero lost its sign: %v", d)
	}

	// Positive zero is integer-valued and fits in 32 bits, so it takes the
	// compact Int32 form; Int32(0) carries no sign.
	got = roundTrip(t, Double(0))
	i, ok := got.(Int32)
	if !ok {
		t.Fatalf("got %#v, want Int32", got)
	}
	if i != 0 {
		t.Errorf("positive zero changed value: %v", i)
	}
}

func TestRoundTrip_ObjectAndArray(t *testing.T) {
	v := &Object{Entries: []Entry{
		{Key: "a", Value: Int32(1)},
		{Key: "b", Value: &Array{Items: []Value{Bool(true), Null{}, String("x")}}},
	}}
	got := roundTrip(t, v)
	if !reflect.DeepEqual(got, v) {
		t.Errorf("roundTrip object mismatch:\n got=%#v\nwant=%#v", got, v)
	}
}

func TestRoundTrip_Date(t *testing.T) {
	got := roundTrip(t, Date{Millis: 0})
	d, ok := got.(Date)
	if !ok || d.Millis != 0 {
		t.Errorf("got %#v, want Date{0}", got)
	}
}

func TestRoundTrip_RegExp(t *testing.T) {
	v := RegExp{Source: "a+b*", Flags: "gi"}
	got := roundTrip(t, v)
	if got != Value(v) {
		t.Errorf("got %#v, want %#v", got, v)
	}
}

func TestRoundTrip_MapPreservesIterationOrder(t *testing.T) {
	v := &Map{Entries: []MapEntry{
		{Key: String("z"), Value: Int32(1)},
		{Key: String("a"), Value: Int32(2)},
	}}
	got := roundTrip(t, v).(*Map)
	if len(got.Entries) != 2 || got.Entries[0].Key != String("z") || got.Entries[1].Key != String("a") {
		t.Errorf("map iteration order not preserved: %#v", got.Entries)
	}
}

func TestRoundTrip_SetPreservesIterationOrder(t *testing.T) {
	v := &Set{Items: []Value{Int32(3), Int32(1), Int32(2)}}
	got := roundTrip(t, v).(*Set)
	want := []Value{Int32(3), Int32(1), Int32(2)}
	if !reflect.DeepEqual(got.Items, want) {
		t.Errorf("set iteration order not preserved: %#v", got.Items)
	}
}

func TestRoundTrip_TypedArrayBitExact(t *testing.T) {
	v := TypedArray{Kind: Uint8Array, Buffer: []byte{0, 127, 255}, ByteOffset: 0, ElementLength: 3}
	got := roundTrip(t, v)
	ta, ok := got.(TypedArray)
	if !ok {
		t.Fatalf("got %#v, want TypedArray", got)
	}
	if !reflect.DeepEqual(ta.Buffer, v.Buffer) || ta.ElementLength != 3 {
		t.Errorf("typed array bytes not preserved: %#v", ta)
	}
}

func TestRoundTrip_Cycle(t *testing.T) {
	o := &Object{}
	o.Entries = []Entry{{Key: "self", Value: o}}

	b, err := EncodeToBytes(o, Limits{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeBytes(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	root, ok := decoded.(*Object)
	if !ok {
		t.Fatalf("got %#v, want *Object", decoded)
	}
	if len(root.Entries) != 1 || root.Entries[0].Key != "self" {
		t.Fatalf("unexpected entries: %#v", root.Entries)
	}
	self, ok := root.Entries[0].Value.(*Object)
	if !ok || self != root {
		t.Errorf("cycle not preserved as identity: self=%#v root=%p", self, root)
	}
}

func TestEncode_NonCloneableGuard(t *testing.T) {
	cases := []Value{Callable{}, Symbol{}, WeakContainer{Kind: "WeakMap"}, UnsettledPromise{}, HostProxy{}}
	for _, c := range cases {
		w := NewWriter(16)
		err := Encode(c, w, Limits{})
		if err == nil {
			t.Errorf("Encode(%#v) succeeded, want DataCloneError", c)
			continue
		}
		var dce *core.DataCloneError
		if !asDataCloneError(err, &dce) {
			t.Errorf("Encode(%#v) error = %v, want *core.DataCloneError", c, err)
		}
	}
}

func TestEncode_NonCloneableInsideObject_NoPartialWrites(t *testing.T) {
	v := &Object{Entries: []Entry{{Key: "fn", Value: Callable{}}}}
	b, err := EncodeToBytes(v, Limits{})
	if err == nil {
		t.Fatalf("expected DataCloneError, got bytes %v", b)
	}
	if b != nil {
		t.Fatalf("EncodeToBytes must not return bytes on failure, got %v", b)
	}
}

func TestEncode_DepthLimit(t *testing.T) {
	var v Value = Int32(0)
	for i := 0; i < 5; i++ {
		v = &Array{Items: []Value{v}}
	}
	err := Encode(v, NewWriter(16), Limits{MaxDepth: 2})
	if err == nil {
		t.Fatal("expected depth limit DataCloneError")
	}
}

func TestDecode_TruncatedInput(t *testing.T) {
	_, err := DecodeBytes([]byte{byte(TagInt32), 0x01})
	if err == nil {
		t.Fatal("expected InvalidDataError on truncated input")
	}
}

func TestDecode_UnknownTag(t *testing.T) {
	_, err := DecodeBytes([]byte{0xFE})
	if err == nil {
		t.Fatal("expected InvalidDataError on unknown tag")
	}
}

func TestDecode_DanglingObjectRef(t *testing.T) {
	w := NewWriter(8)
	w.WriteU8(uint8(TagObjectRef))
	w.WriteU32(99)
	_, err := DecodeBytes(w.Take())
	if err == nil {
		t.Fatal("expected InvalidDataError on dangling ObjectRef")
	}
}

func asDataCloneError(err error, target **core.DataCloneError) bool {
	dce, ok := err.(*core.DataCloneError)
	if ok {
		*target = dce
	}
	return ok
}
