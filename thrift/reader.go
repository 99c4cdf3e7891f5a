package thrift

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DefaultMaxDepth 结构体/容器的默认最大嵌套深度
const DefaultMaxDepth = 64

// reader binary protocol 解码器
// 所有长度字段在分配前都与剩余字节数比较, 恶意长度不会导致大块分配
type reader struct {
	buf      []byte
	off      int
	depth    int
	maxDepth int
}

func newReader(buf []byte, maxDepth int) *reader {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &reader{buf: buf, maxDepth: maxDepth}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) fail(err error, format string, args ...any) error {
	return &DecodeError{Err: err, Offset: r.off, Detail: fmt.Sprintf(format, args...)}
}

func (r *reader) need(n int, what string) error {
	if r.remaining() < n {
		return r.fail(ErrTruncated, "%s needs %d bytes, %d remaining", what, n, r.remaining())
	}
	return nil
}

func (r *reader) readByte() (byte, error) {
	if err := r.need(1, "byte"); err != nil {
		return 0, err
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) readI16() (int16, error) {
	if err := r.need(2, "i16"); err != nil {
		return 0, err
	}
	v := int16(binary.BigEndian.Uint16(r.buf[r.off:]))
	r.off += 2
	return v, nil
}

func (r *reader) readI32() (int32, error) {
	if err := r.need(4, "i32"); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(r.buf[r.off:]))
	r.off += 4
	return v, nil
}

func (r *reader) readI64() (int64, error) {
	if err := r.need(8, "i64"); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(r.buf[r.off:]))
	r.off += 8
	return v, nil
}

func (r *reader) readDouble() (float64, error) {
	if err := r.need(8, "double"); err != nil {
		return 0, err
	}
	v := math.Float64frombits(binary.BigEndian.Uint64(r.buf[r.off:]))
	r.off += 8
	return v, nil
}

// readStringBody 读取 size 个字节并复制为 string, 入站缓冲区随后会被复用
func (r *reader) readStringBody(size int32) (string, error) {
	if size < 0 {
		return "", r.fail(ErrInvalidLength, "negative string length %d", size)
	}
	if err := r.need(int(size), "string"); err != nil {
		return "", err
	}
	s := string(r.buf[r.off : r.off+int(size)])
	r.off += int(size)
	return s, nil
}

func (r *reader) readString() (string, error) {
	size, err := r.readI32()
	if err != nil {
		return "", err
	}
	return r.readStringBody(size)
}

func (r *reader) readUUID() ([16]byte, error) {
	var u [16]byte
	if err := r.need(16, "uuid"); err != nil {
		return u, err
	}
	copy(u[:], r.buf[r.off:])
	r.off += 16
	return u, nil
}

func (r *reader) enter() error {
	r.depth++
	if r.depth > r.maxDepth {
		return r.fail(ErrDepthExceeded, "depth %d", r.depth)
	}
	return nil
}

func (r *reader) leave() {
	r.depth--
}

// minSize 一个值在线路上至少占用的字节数
func minSize(t TType) int {
	switch t {
	case BOOL, BYTE, STRUCT:
		return 1
	case I16:
		return 2
	case I32, STRING:
		return 4
	case I64, DOUBLE:
		return 8
	case SET, LIST:
		return 5
	case MAP:
		return 6
	case UUID:
		return 16
	}
	return 1
}

// readCount 读取容器元素个数并校验剩余字节足够容纳
func (r *reader) readCount(perElem int, what string) (int, error) {
	n, err := r.readI32()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, r.fail(ErrInvalidLength, "negative %s size %d", what, n)
	}
	if int64(n)*int64(perElem) > int64(r.remaining()) {
		return 0, r.fail(ErrTruncated, "%s of %d elements exceeds %d remaining bytes", what, n, r.remaining())
	}
	return int(n), nil
}

func (r *reader) readElemType() (TType, error) {
	b, err := r.readByte()
	if err != nil {
		return 0, err
	}
	return TType(b), nil
}

func (r *reader) checkElemType(t TType, count int, what string) error {
	// 空容器的元素类型不会被使用, 部分实现会写入 0
	if count > 0 && !t.valid() {
		return r.fail(ErrUnknownType, "%s element type %d", what, byte(t))
	}
	return nil
}

func (r *reader) readValue(t TType) (any, error) {
	switch t {
	case BOOL:
		b, err := r.readByte()
		return b != 0, err
	case BYTE:
		b, err := r.readByte()
		return int8(b), err
	case I16:
		return r.readI16()
	case I32:
		return r.readI32()
	case I64:
		return r.readI64()
	case DOUBLE:
		return r.readDouble()
	case STRING:
		return r.readString()
	case UUID:
		return r.readUUID()
	case STRUCT:
		return r.readStruct()
	case LIST:
		et, elems, err := r.readSeq("list")
		if err != nil {
			return nil, err
		}
		return &List{ElemType: et, Elems: elems}, nil
	case SET:
		et, elems, err := r.readSeq("set")
		if err != nil {
			return nil, err
		}
		return &Set{ElemType: et, Elems: elems}, nil
	case MAP:
		return r.readMap()
	}
	return nil, r.fail(ErrUnknownType, "type %d", byte(t))
}

func (r *reader) readStruct() (*Struct, error) {
	if err := r.enter(); err != nil {
		return nil, err
	}
	defer r.leave()

	s := &Struct{}
	for {
		tb, err := r.readByte()
		if err != nil {
			return nil, err
		}
		t := TType(tb)
		if t == STOP {
			return s, nil
		}
		if !t.valid() {
			return nil, r.fail(ErrUnknownType, "field type %d", tb)
		}
		id, err := r.readI16()
		if err != nil {
			return nil, err
		}
		v, err := r.readValue(t)
		if err != nil {
			return nil, err
		}
		s.Fields = append(s.Fields, Field{ID: id, Type: t, Value: v})
	}
}

// readSeq list 与 set 共用: [元素类型][i32 个数][元素...]
func (r *reader) readSeq(what string) (TType, []any, error) {
	if err := r.enter(); err != nil {
		return 0, nil, err
	}
	defer r.leave()

	et, err := r.readElemType()
	if err != nil {
		return 0, nil, err
	}
	n, err := r.readCount(minSize(et), what)
	if err != nil {
		return 0, nil, err
	}
	if err = r.checkElemType(et, n, what); err != nil {
		return 0, nil, err
	}
	elems := make([]any, 0, n)
	for i := 0; i < n; i++ {
		v, err := r.readValue(et)
		if err != nil {
			return 0, nil, err
		}
		elems = append(elems, v)
	}
	return et, elems, nil
}

func (r *reader) readMap() (*Map, error) {
	if err := r.enter(); err != nil {
		return nil, err
	}
	defer r.leave()

	kt, err := r.readElemType()
	if err != nil {
		return nil, err
	}
	vt, err := r.readElemType()
	if err != nil {
		return nil, err
	}
	n, err := r.readCount(minSize(kt)+minSize(vt), "map")
	if err != nil {
		return nil, err
	}
	if err = r.checkElemType(kt, n, "map key"); err != nil {
		return nil, err
	}
	if err = r.checkElemType(vt, n, "map value"); err != nil {
		return nil, err
	}
	m := &Map{KeyType: kt, ValueType: vt, Entries: make([]MapEntry, 0, n)}
	for i := 0; i < n; i++ {
		k, err := r.readValue(kt)
		if err != nil {
			return nil, err
		}
		v, err := r.readValue(vt)
		if err != nil {
			return nil, err
		}
		m.Entries = append(m.Entries, MapEntry{Key: k, Value: v})
	}
	return m, nil
}
