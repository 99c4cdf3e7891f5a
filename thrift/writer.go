package thrift

import (
	"encoding/binary"
	"fmt"
	"math"
)

// writer binary protocol 编码器, 直接追加到字节切片
type writer struct {
	buf []byte
}

func (w *writer) writeByte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *writer) writeI16(v int16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(v))
}

func (w *writer) writeI32(v int32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
}

func (w *writer) writeI64(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

func (w *writer) writeDouble(v float64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, math.Float64bits(v))
}

func (w *writer) writeString(s string) {
	w.writeI32(int32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) writeBinary(b []byte) {
	w.writeI32(int32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) writeFieldBegin(t TType, id int16) {
	w.writeByte(byte(t))
	w.writeI16(id)
}

func (w *writer) writeFieldStop() {
	w.writeByte(byte(STOP))
}

// writeMessageBegin 总是写严格模式消息头
func (w *writer) writeMessageBegin(name string, t MessageType, seqID int32) {
	w.writeI32(int32(versionStrict | uint32(t)))
	w.writeString(name)
	w.writeI32(seqID)
}

func mismatch(t TType, v any) error {
	return fmt.Errorf("%w: %s with Go value %T", ErrValueType, t, v)
}

func (w *writer) writeStruct(s *Struct) error {
	if s != nil {
		for _, f := range s.Fields {
			if err := w.writeField(f); err != nil {
				return err
			}
		}
	}
	w.writeFieldStop()
	return nil
}

func (w *writer) writeField(f Field) error {
	if !f.Type.valid() {
		return fmt.Errorf("%w: field %d type %d", ErrUnknownType, f.ID, byte(f.Type))
	}
	w.writeFieldBegin(f.Type, f.ID)
	if err := w.writeValue(f.Type, f.Value); err != nil {
		return fmt.Errorf("field %d: %w", f.ID, err)
	}
	return nil
}

func (w *writer) writeValue(t TType, v any) error {
	switch t {
	case BOOL:
		b, ok := v.(bool)
		if !ok {
			return mismatch(t, v)
		}
		if b {
			w.writeByte(1)
		} else {
			w.writeByte(0)
		}
	case BYTE:
		b, ok := v.(int8)
		if !ok {
			return mismatch(t, v)
		}
		w.writeByte(byte(b))
	case I16:
		i, ok := v.(int16)
		if !ok {
			return mismatch(t, v)
		}
		w.writeI16(i)
	case I32:
		i, ok := v.(int32)
		if !ok {
			return mismatch(t, v)
		}
		w.writeI32(i)
	case I64:
		i, ok := v.(int64)
		if !ok {
			return mismatch(t, v)
		}
		w.writeI64(i)
	case DOUBLE:
		d, ok := v.(float64)
		if !ok {
			return mismatch(t, v)
		}
		w.writeDouble(d)
	case STRING:
		switch s := v.(type) {
		case string:
			w.writeString(s)
		case []byte:
			w.writeBinary(s)
		default:
			return mismatch(t, v)
		}
	case UUID:
		u, ok := v.([16]byte)
		if !ok {
			return mismatch(t, v)
		}
		w.buf = append(w.buf, u[:]...)
	case STRUCT:
		s, ok := v.(*Struct)
		if !ok {
			return mismatch(t, v)
		}
		return w.writeStruct(s)
	case LIST:
		l, ok := v.(*List)
		if !ok {
			return mismatch(t, v)
		}
		return w.writeSeq(l.ElemType, l.Elems)
	case SET:
		s, ok := v.(*Set)
		if !ok {
			return mismatch(t, v)
		}
		return w.writeSeq(s.ElemType, s.Elems)
	case MAP:
		m, ok := v.(*Map)
		if !ok {
			return mismatch(t, v)
		}
		return w.writeMap(m)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownType, byte(t))
	}
	return nil
}

func (w *writer) writeSeq(et TType, elems []any) error {
	w.writeByte(byte(et))
	w.writeI32(int32(len(elems)))
	for i, e := range elems {
		if err := w.writeValue(et, e); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

func (w *writer) writeMap(m *Map) error {
	w.writeByte(byte(m.KeyType))
	w.writeByte(byte(m.ValueType))
	w.writeI32(int32(len(m.Entries)))
	for i, e := range m.Entries {
		if err := w.writeValue(m.KeyType, e.Key); err != nil {
			return fmt.Errorf("map key %d: %w", i, err)
		}
		if err := w.writeValue(m.ValueType, e.Value); err != nil {
			return fmt.Errorf("map value %d: %w", i, err)
		}
	}
	return nil
}
