package xnet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wildmap/hydra/thrift"
)

// fakeSocket 按预设分片返回数据的内存套接字
type fakeSocket struct {
	chunks     [][]byte
	eof        bool  // 分片读完后返回 0, nil
	readErr    error // 分片读完后返回的错误
	out        bytes.Buffer
	writeLimit int // 单次 Write 最多接受的字节数, 0 表示不限
	writeErr   error
	reads      int
}

func (f *fakeSocket) feed(b []byte, chunk int) {
	if chunk <= 0 {
		chunk = len(b)
	}
	for len(b) > 0 {
		n := min(chunk, len(b))
		f.chunks = append(f.chunks, b[:n])
		b = b[n:]
	}
}

func (f *fakeSocket) Read(p []byte) (int, error) {
	f.reads++
	if len(f.chunks) == 0 {
		switch {
		case f.readErr != nil:
			return 0, f.readErr
		case f.eof:
			return 0, nil
		}
		return 0, ErrWouldBlock
	}
	n := copy(p, f.chunks[0])
	if n < len(f.chunks[0]) {
		f.chunks[0] = f.chunks[0][n:]
	} else {
		f.chunks = f.chunks[1:]
	}
	return n, nil
}

func (f *fakeSocket) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	n := len(p)
	if f.writeLimit > 0 {
		n = min(n, f.writeLimit)
	}
	f.out.Write(p[:n])
	if n < len(p) {
		return n, ErrWouldBlock
	}
	return n, nil
}

// callFrame 编码一个完整的调用帧
func callFrame(t *testing.T, typ thrift.MessageType, name string, seq int32, fields ...thrift.Field) []byte {
	t.Helper()
	b, err := thrift.AppendMessage(nil, thrift.Header{Name: name, Type: typ, SeqID: seq}, thrift.NewStruct(fields...))
	require.NoError(t, err)
	return b
}

// decodeFrames 把输出字节拆成帧并解码
func decodeFrames(t *testing.T, b []byte) []*thrift.Message {
	t.Helper()
	var msgs []*thrift.Message
	for len(b) > 0 {
		n, ok, err := thrift.FrameLength(b, thrift.DefaultMaxFrameSize)
		require.NoError(t, err)
		require.True(t, ok)
		require.GreaterOrEqual(t, len(b), thrift.FrameHeaderSize+int(n))
		msg, err := thrift.DecodeMessage(b[thrift.FrameHeaderSize:thrift.FrameHeaderSize+int(n)], thrift.DecodeOptions{})
		require.NoError(t, err)
		msgs = append(msgs, msg)
		b = b[thrift.FrameHeaderSize+int(n):]
	}
	return msgs
}
