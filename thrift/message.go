package thrift

const (
	versionMask   uint32 = 0xffff0000
	versionStrict uint32 = 0x80010000
	typeMask      uint32 = 0x000000ff
)

// DecodeOptions 消息解码选项
type DecodeOptions struct {
	// StrictRead 拒绝不带版本号的旧格式消息头
	StrictRead bool
	// MaxDepth 结构体/容器最大嵌套深度, 0 表示 DefaultMaxDepth
	MaxDepth int
}

// DecodeMessage 解码一个帧负载(不含4字节长度前缀)
//
// 负载必须恰好被消息语法消费完, 声明长度与语法不一致时返回 ErrTruncated.
// 返回的错误总是 *DecodeError; 消息头解析成功后出现的错误会携带 Header,
// 调用方可以据此回复异常而不是断开连接.
// 方法名不在此处解析, ErrMethodNotFound 由分发层产生.
func DecodeMessage(payload []byte, opts DecodeOptions) (*Message, error) {
	r := newReader(payload, opts.MaxDepth)

	h, err := r.readHeader(opts.StrictRead)
	if err != nil {
		return nil, err
	}

	body, err := r.readStruct()
	if err != nil {
		return nil, withHeader(err, h)
	}
	if r.remaining() != 0 {
		return nil, withHeader(r.fail(ErrTruncated, "%d trailing bytes after message body", r.remaining()), h)
	}
	return &Message{Header: h, Body: body}, nil
}

// DecodeHeader 只解析消息头
func DecodeHeader(payload []byte, strict bool) (Header, error) {
	return newReader(payload, 0).readHeader(strict)
}

// readHeader 同时支持严格模式与旧格式消息头
//
//	严格: [i32 版本|类型][i32 名称长度][名称][i32 序列号]
//	旧格式: [i32 名称长度][名称][i8 类型][i32 序列号]
func (r *reader) readHeader(strict bool) (Header, error) {
	var h Header
	first, err := r.readI32()
	if err != nil {
		return h, err
	}
	if first < 0 {
		if v := uint32(first) & versionMask; v != versionStrict {
			return h, r.fail(ErrBadVersion, "version 0x%08x", v)
		}
		h.Type = MessageType(uint32(first) & typeMask)
		if h.Name, err = r.readString(); err != nil {
			return h, err
		}
	} else {
		if strict {
			return h, r.fail(ErrBadVersion, "missing version, old-style header rejected")
		}
		if h.Name, err = r.readStringBody(first); err != nil {
			return h, err
		}
		t, err := r.readByte()
		if err != nil {
			return h, err
		}
		h.Type = MessageType(t)
	}
	if h.SeqID, err = r.readI32(); err != nil {
		return h, err
	}
	return h, nil
}

func withHeader(err error, h Header) error {
	if de, ok := err.(*DecodeError); ok {
		de.Header = &h
		return de
	}
	return &DecodeError{Err: err, Header: &h}
}

// AppendMessage 追加一个完整帧, 消息头使用严格模式
func AppendMessage(dst []byte, h Header, body *Struct) ([]byte, error) {
	orig := len(dst)
	dst, at := beginFrame(dst)
	w := writer{buf: dst}
	w.writeMessageBegin(h.Name, h.Type, h.SeqID)
	if err := w.writeStruct(body); err != nil {
		return dst[:orig], err
	}
	return endFrame(w.buf, at), nil
}

// AppendReply 追加一个 Reply 帧
// 成功值写在字段0, 声明的异常写在其字段 ID, void 时结果结构体为空
func AppendReply(dst []byte, name string, seqID int32, o Outcome) ([]byte, error) {
	orig := len(dst)
	dst, at := beginFrame(dst)
	w := writer{buf: dst}
	w.writeMessageBegin(name, Reply, seqID)
	if f, ok := o.Field(); ok {
		if err := w.writeField(f); err != nil {
			return dst[:orig], err
		}
	}
	w.writeFieldStop()
	return endFrame(w.buf, at), nil
}

// EncodeReply 编码一个 Reply 帧
func EncodeReply(name string, seqID int32, o Outcome) ([]byte, error) {
	return AppendReply(nil, name, seqID, o)
}

// AppendException 追加一个 TApplicationException 帧
// 方法名必须与请求一致, 部分客户端会校验
func AppendException(dst []byte, name string, seqID int32, ex *ApplicationException) []byte {
	dst, at := beginFrame(dst)
	w := writer{buf: dst}
	w.writeMessageBegin(name, Exception, seqID)
	w.writeFieldBegin(STRING, 1)
	w.writeString(ex.Message)
	w.writeFieldBegin(I32, 2)
	w.writeI32(int32(ex.Type))
	w.writeFieldStop()
	return endFrame(w.buf, at)
}

// EncodeException 编码一个 TApplicationException 帧
func EncodeException(name string, seqID int32, ex *ApplicationException) []byte {
	return AppendException(nil, name, seqID, ex)
}
