// Package thrift 实现 Thrift framed transport + binary protocol 的编解码
// 帧格式: [4字节大端序长度][binary protocol 消息]
package thrift

import "fmt"

// TType binary protocol 中的字段类型标签
type TType byte

const (
	STOP   TType = 0
	VOID   TType = 1
	BOOL   TType = 2
	BYTE   TType = 3
	DOUBLE TType = 4
	I16    TType = 6
	I32    TType = 8
	I64    TType = 10
	STRING TType = 11
	STRUCT TType = 12
	MAP    TType = 13
	SET    TType = 14
	LIST   TType = 15
	UUID   TType = 16
)

// I8 与 BYTE 相同
const I8 = BYTE

var typeNames = map[TType]string{
	STOP:   "STOP",
	VOID:   "VOID",
	BOOL:   "BOOL",
	BYTE:   "BYTE",
	DOUBLE: "DOUBLE",
	I16:    "I16",
	I32:    "I32",
	I64:    "I64",
	STRING: "STRING",
	STRUCT: "STRUCT",
	MAP:    "MAP",
	SET:    "SET",
	LIST:   "LIST",
	UUID:   "UUID",
}

func (t TType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("TType(%d)", byte(t))
}

// valid 是否为可出现在数据流中的值类型
func (t TType) valid() bool {
	switch t {
	case BOOL, BYTE, DOUBLE, I16, I32, I64, STRING, STRUCT, MAP, SET, LIST, UUID:
		return true
	}
	return false
}

// MessageType 消息类型
type MessageType byte

const (
	Call      MessageType = 1
	Reply     MessageType = 2
	Exception MessageType = 3
	Oneway    MessageType = 4
)

func (m MessageType) String() string {
	switch m {
	case Call:
		return "CALL"
	case Reply:
		return "REPLY"
	case Exception:
		return "EXCEPTION"
	case Oneway:
		return "ONEWAY"
	}
	return fmt.Sprintf("MessageType(%d)", byte(m))
}

// Header 消息头(envelope): 方法名, 消息类型, 序列号
type Header struct {
	Name  string
	Type  MessageType
	SeqID int32
}

// Message 一个完整解码的消息
// 对于 Call/Oneway, Body 为参数结构体; 对于 Reply, Body 为结果结构体
type Message struct {
	Header
	Body *Struct
}

// Field 结构体中的一个字段
//
// Value 的 Go 类型与 Type 对应:
//
//	BOOL bool, BYTE int8, I16 int16, I32 int32, I64 int64, DOUBLE float64,
//	STRING string (编码时也接受 []byte), STRUCT *Struct, LIST *List,
//	SET *Set, MAP *Map, UUID [16]byte
type Field struct {
	ID    int16
	Type  TType
	Value any
}

// Struct 按字段在线路上出现的顺序保存字段
type Struct struct {
	Fields []Field
}

// NewStruct 用给定字段创建结构体
func NewStruct(fields ...Field) *Struct {
	return &Struct{Fields: fields}
}

// Field 按字段 ID 查找
func (s *Struct) Field(id int16) (Field, bool) {
	if s == nil {
		return Field{}, false
	}
	for _, f := range s.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// String 读取字符串字段, 不存在或类型不符时 ok 为 false
func (s *Struct) String(id int16) (string, bool) {
	f, ok := s.Field(id)
	if !ok || f.Type != STRING {
		return "", false
	}
	switch v := f.Value.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	}
	return "", false
}

func (s *Struct) I32(id int16) (int32, bool) {
	f, ok := s.Field(id)
	if !ok || f.Type != I32 {
		return 0, false
	}
	v, ok := f.Value.(int32)
	return v, ok
}

func (s *Struct) I64(id int16) (int64, bool) {
	f, ok := s.Field(id)
	if !ok || f.Type != I64 {
		return 0, false
	}
	v, ok := f.Value.(int64)
	return v, ok
}

func (s *Struct) Bool(id int16) (bool, bool) {
	f, ok := s.Field(id)
	if !ok || f.Type != BOOL {
		return false, false
	}
	v, ok := f.Value.(bool)
	return v, ok
}

func (s *Struct) Double(id int16) (float64, bool) {
	f, ok := s.Field(id)
	if !ok || f.Type != DOUBLE {
		return 0, false
	}
	v, ok := f.Value.(float64)
	return v, ok
}

// Struct 读取嵌套结构体字段
func (s *Struct) Struct(id int16) (*Struct, bool) {
	f, ok := s.Field(id)
	if !ok || f.Type != STRUCT {
		return nil, false
	}
	v, ok := f.Value.(*Struct)
	return v, ok
}

// List 有序元素集合
type List struct {
	ElemType TType
	Elems    []any
}

// Set 线路格式与 List 相同, 仅类型标签不同
type Set struct {
	ElemType TType
	Elems    []any
}

// MapEntry 映射中的一个键值对
type MapEntry struct {
	Key   any
	Value any
}

// Map 保持线路上的顺序, 不做去重
type Map struct {
	KeyType   TType
	ValueType TType
	Entries   []MapEntry
}

// Outcome 回复消息体: 成功值写在字段 0, 声明的异常写在其自身字段 ID
// 零值表示 void 成功
type Outcome struct {
	field *Field
}

// Void 无返回值的成功结果
func Void() Outcome {
	return Outcome{}
}

// Success 带返回值的成功结果
func Success(t TType, v any) Outcome {
	return Outcome{field: &Field{ID: 0, Type: t, Value: v}}
}

// Declared 服务声明的异常, id 为 IDL throws 子句中的字段 ID
func Declared(id int16, ex *Struct) Outcome {
	return Outcome{field: &Field{ID: id, Type: STRUCT, Value: ex}}
}

// Field 返回结果字段, void 时 ok 为 false
func (o Outcome) Field() (Field, bool) {
	if o.field == nil {
		return Field{}, false
	}
	return *o.field, true
}

// IsException 是否为声明的异常
func (o Outcome) IsException() bool {
	return o.field != nil && o.field.ID != 0
}
