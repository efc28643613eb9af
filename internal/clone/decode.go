package clone

import "github.com/cryguy/jsworker/internal/core"

// decoder carries the per-decode reference table: newly-built containers
// are registered positionally, in exactly the order the encoder assigned
// them, mirroring encode-side identity with decode-side position.
type decoder struct {
	r    *Reader
	refs []Value
}

// Decode reads one structured-clone value from r. Fails with
// *core.InvalidDataError on truncation, an unknown tag, or a dangling
// ObjectRef.
func Decode(r *Reader) (Value, error) {
	d := &decoder{r: r}
	return d.decode()
}

// DecodeBytes is a convenience wrapper over a fresh Reader.
func DecodeBytes(b []byte) (Value, error) {
	return Decode(NewReader(b))
}

func (d *decoder) decode() (Value, error) {
	tagByte, err := d.r.ReadU8()
	if err != nil {
		return nil, err
	}
	tag := Tag(tagByte)

	switch tag {
	case TagUndefined:
		return Undefined{}, nil
	case TagNull:
		return Null{}, nil
	case TagBoolTrue:
		return Bool(true), nil
	case TagBoolFalse:
		return Bool(false), nil
	case TagInt32:
		v, err := d.r.ReadI32()
		return Int32(v), err
	case TagDouble:
		v, err := d.r.ReadF64()
		return Double(v), err
	case TagString:
		s, err := d.r.ReadString()
		return String(s), err
	case TagObject:
		return d.decodeObject()
	case TagArray:
		return d.decodeArray()
	case TagDate:
		v, err := d.r.ReadF64()
		return Date{Millis: v}, err
	case TagRegExp:
		src, err := d.r.ReadString()
		if err != nil {
			return nil, err
		}
		flags, err := d.r.ReadString()
		return RegExp{Source: src, Flags: flags}, err
	case TagMap:
		return d.decodeMap()
	case TagSet:
		return d.decodeSet()
	case TagError, TagEvalError, TagRangeError, TagReferenceError, TagSyntaxError, TagTypeError, TagURIError:
		return d.decodeError(tag)
	case TagArrayBuffer:
		return d.decodeArrayBuffer()
	case TagDataView:
		return d.decodeDataView()
	case TagObjectRef:
		id, err := d.r.ReadU32()
		if err != nil {
			return nil, err
		}
		if int(id) >= len(d.refs) {
			return nil, &core.InvalidDataError{Reason: "dangling object reference"}
		}
		return d.refs[id], nil
	default:
		if kind, ok := typedArrayTagToKind[tag]; ok {
			return d.decodeTypedArray(kind)
		}
		return nil, &core.InvalidDataError{Reason: "unknown type tag"}
	}
}

// register allocates the next reference id for a freshly constructed,
// still-empty container and records it before children are populated —
// the decode-side mirror of the encoder's encodeCyclic.
func (d *decoder) register(v Value) {
	d.refs = append(d.refs, v)
}

func (d *decoder) decodeObject() (Value, error) {
	obj := &Object{}
	d.register(obj)

	n, err := d.r.ReadU32()
	if err != nil {
		return nil, err
	}
	obj.Entries = make([]Entry, 0, n)
	for i := uint32(0); i < n; i++ {
		key, err := d.r.ReadString()
		if err != nil {
			return nil, err
		}
		val, err := d.decode()
		if err != nil {
			return nil, err
		}
		obj.Entries = append(obj.Entries, Entry{Key: key, Value: val})
	}
	return obj, nil
}

func (d *decoder) decodeArray() (Value, error) {
	arr := &Array{}
	d.register(arr)

	n, err := d.r.ReadU32()
	if err != nil {
		return nil, err
	}
	arr.Items = make([]Value, 0, n)
	for i := uint32(0); i < n; i++ {
		val, err := d.decode()
		if err != nil {
			return nil, err
		}
		arr.Items = append(arr.Items, val)
	}
	return arr, nil
}

func (d *decoder) decodeMap() (Value, error) {
	m := &Map{}
	d.register(m)

	n, err := d.r.ReadU32()
	if err != nil {
		return nil, err
	}
	m.Entries = make([]MapEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		key, err := d.decode()
		if err != nil {
			return nil, err
		}
		val, err := d.decode()
		if err != nil {
			return nil, err
		}
		m.Entries = append(m.Entries, MapEntry{Key: key, Value: val})
	}
	return m, nil
}

func (d *decoder) decodeSet() (Value, error) {
	s := &Set{}
	d.register(s)

	n, err := d.r.ReadU32()
	if err != nil {
		return nil, err
	}
	s.Items = make([]Value, 0, n)
	for i := uint32(0); i < n; i++ {
		val, err := d.decode()
		if err != nil {
			return nil, err
		}
		s.Items = append(s.Items, val)
	}
	return s, nil
}

func (d *decoder) decodeError(tag Tag) (Value, error) {
	name, err := d.r.ReadString()
	if err != nil {
		return nil, err
	}
	msg, err := d.r.ReadString()
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = errorTagToName[tag]
	}
	return ErrorValue{Name: name, Message: msg}, nil
}

func (d *decoder) decodeArrayBuffer() (Value, error) {
	n, err := d.r.ReadU32()
	if err != nil {
		return nil, err
	}
	b, err := d.r.ReadBytes(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return ArrayBuffer{Bytes: out}, nil
}

func (d *decoder) decodeTypedArray(kind TypedArrayKind) (Value, error) {
	bufLen, err := d.r.ReadU32()
	if err != nil {
		return nil, err
	}
	buf, err := d.r.ReadBytes(int(bufLen))
	if err != nil {
		return nil, err
	}
	bufCopy := make([]byte, len(buf))
	copy(bufCopy, buf)

	offset, err := d.r.ReadU32()
	if err != nil {
		return nil, err
	}
	elemLen, err := d.r.ReadU32()
	if err != nil {
		return nil, err
	}
	return TypedArray{Kind: kind, Buffer: bufCopy, ByteOffset: offset, ElementLength: elemLen}, nil
}

func (d *decoder) decodeDataView() (Value, error) {
	bufLen, err := d.r.ReadU32()
	if err != nil {
		return nil, err
	}
	buf, err := d.r.ReadBytes(int(bufLen))
	if err != nil {
		return nil, err
	}
	bufCopy := make([]byte, len(buf))
	copy(bufCopy, buf)

	offset, err := d.r.ReadU32()
	if err != nil {
		return nil, err
	}
	byteLen, err := d.r.ReadU32()
	if err != nil {
		return nil, err
	}
	return DataView{Buffer: bufCopy, ByteOffset: offset, ByteLength: byteLen}, nil
}
