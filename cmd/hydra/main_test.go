package main

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildmap/hydra/processor"
	"github.com/wildmap/hydra/thrift"
)

func dispatch(t *testing.T, method string, fields ...thrift.Field) processor.Result {
	t.Helper()
	proc, err := processor.New(pingPongHandlers())
	require.NoError(t, err)
	msg := &thrift.Message{
		Header: thrift.Header{Name: method, Type: thrift.Call, SeqID: 1},
		Body:   thrift.NewStruct(fields...),
	}
	return proc.Dispatch(context.Background(), msg)
}

func i32(id int16, v int32) thrift.Field {
	return thrift.Field{ID: id, Type: thrift.I32, Value: v}
}

func TestPingPong(t *testing.T) {
	res := dispatch(t, "ping")
	require.Equal(t, processor.KindSuccess, res.Kind)
	f, ok := res.Outcome.Field()
	require.True(t, ok)
	assert.Equal(t, "pong", f.Value)

	res = dispatch(t, "echo", thrift.Field{ID: 1, Type: thrift.STRING, Value: "hello"})
	require.Equal(t, processor.KindSuccess, res.Kind)
	f, _ = res.Outcome.Field()
	assert.Equal(t, "hello", f.Value)

	res = dispatch(t, "add", i32(1, 40), i32(2, 2))
	require.Equal(t, processor.KindSuccess, res.Kind)
	f, _ = res.Outcome.Field()
	assert.Equal(t, int32(42), f.Value)

	res = dispatch(t, "add", i32(1, math.MaxInt32), i32(2, 1))
	f, _ = res.Outcome.Field()
	assert.Equal(t, int32(math.MinInt32), f.Value)

	res = dispatch(t, "divide", i32(1, 7), i32(2, 2))
	require.Equal(t, processor.KindSuccess, res.Kind)
	f, _ = res.Outcome.Field()
	assert.Equal(t, int32(3), f.Value)

	res = dispatch(t, "notify", thrift.Field{ID: 1, Type: thrift.STRING, Value: "hi"})
	require.Equal(t, processor.KindSuccess, res.Kind)
	_, ok = res.Outcome.Field()
	assert.False(t, ok)
}

func TestDivideByZero(t *testing.T) {
	res := dispatch(t, "divide", i32(1, 7), i32(2, 0))
	require.Equal(t, processor.KindApplicationException, res.Kind)
	f, ok := res.Outcome.Field()
	require.True(t, ok)
	assert.Equal(t, int16(1), f.ID)
	assert.Equal(t, thrift.STRUCT, f.Type)

	frame, err := thrift.EncodeReply("divide", 1, res.Outcome)
	require.NoError(t, err)
	msg, err := thrift.DecodeMessage(frame[thrift.FrameHeaderSize:], thrift.DecodeOptions{})
	require.NoError(t, err)
	ex, ok := msg.Body.Struct(1)
	require.True(t, ok)
	s, _ := ex.String(1)
	assert.Equal(t, "divide by zero", s)
}

func TestMissingArgument(t *testing.T) {
	for _, method := range []string{"echo", "add", "divide"} {
		res := dispatch(t, method)
		require.Equal(t, processor.KindProtocolError, res.Kind, method)
		assert.Equal(t, thrift.ExceptionProtocolError, res.Exception().Type)
	}

	// 类型不符视为缺失
	res := dispatch(t, "add", thrift.Field{ID: 1, Type: thrift.STRING, Value: "1"}, i32(2, 2))
	assert.Equal(t, processor.KindProtocolError, res.Kind)
}

func TestOffsetPort(t *testing.T) {
	tests := []struct {
		addr string
		id   int
		want string
		err  bool
	}{
		{addr: "127.0.0.1:9100", id: 0, want: "127.0.0.1:9100"},
		{addr: "127.0.0.1:9100", id: 3, want: "127.0.0.1:9103"},
		{addr: ":9100", id: 1, want: ":9101"},
		{addr: "[::1]:9100", id: 2, want: "[::1]:9102"},
		{addr: "127.0.0.1:0", id: 5, want: "127.0.0.1:0"},
		{addr: "127.0.0.1:65535", id: 1, err: true},
		{addr: "localhost", id: 1, err: true},
	}
	for _, tt := range tests {
		got, err := offsetPort(tt.addr, tt.id)
		if tt.err {
			assert.Error(t, err, tt.addr)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
