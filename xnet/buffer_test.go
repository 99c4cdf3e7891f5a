package xnet

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildmap/hydra/thrift"
)

func TestBuffer_TakeFrame(t *testing.T) {
	frames := [][]byte{
		thrift.AppendFrame(nil, []byte("first")),
		thrift.AppendFrame(nil, []byte("second frame")),
		thrift.AppendFrame(nil, nil),
	}
	stream := bytes.Join(frames, nil)

	for _, chunk := range []int{0, 1, 3, 7} {
		sock := &fakeSocket{}
		sock.feed(stream, chunk)
		b := NewBuffer(1024, 4096, 1<<20)

		var got []string
		for len(sock.chunks) > 0 {
			_, err := b.FillFrom(sock)
			require.NoError(t, err)
			for {
				payload, ok, err := b.TakeFrame()
				require.NoError(t, err)
				if !ok {
					break
				}
				got = append(got, string(payload))
			}
		}
		assert.Equal(t, []string{"first", "second frame", ""}, got, "chunk %d", chunk)
		assert.Zero(t, b.Buffered())
	}
}

func TestBuffer_PartialFrameKept(t *testing.T) {
	sock := &fakeSocket{}
	frame := thrift.AppendFrame(nil, []byte("payload"))
	sock.feed(frame[:6], 0)
	b := NewBuffer(1024, 4096, 1<<20)

	n, err := b.FillFrom(sock)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	_, ok, err := b.TakeFrame()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 6, b.Buffered())

	sock.feed(frame[6:], 0)
	_, err = b.FillFrom(sock)
	require.NoError(t, err)
	payload, ok, err := b.TakeFrame()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payload", string(payload))
}

func TestBuffer_Oversized(t *testing.T) {
	sock := &fakeSocket{}
	sock.feed([]byte{0, 0, 0, 65, 1, 2, 3}, 0)
	b := NewBuffer(64, 4096, 1<<20)

	_, err := b.FillFrom(sock)
	require.NoError(t, err)
	_, ok, err := b.TakeFrame()
	assert.False(t, ok)
	assert.True(t, errors.Is(err, thrift.ErrOversizedFrame))
}

func TestBuffer_InboundCeiling(t *testing.T) {
	sock := &fakeSocket{}
	// 声明 64 字节负载, 实际发送更多数据
	sock.feed(append([]byte{0, 0, 0, 64}, bytes.Repeat([]byte{'x'}, 200)...), 0)
	b := NewBuffer(64, 4096, 1<<20)

	n, err := b.FillFrom(sock)
	require.NoError(t, err)
	assert.Equal(t, 68, n)
	assert.LessOrEqual(t, cap(b.in), 68)

	_, err = b.FillFrom(sock)
	assert.True(t, errors.Is(err, ErrInboundFull))

	payload, ok, err := b.TakeFrame()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, payload, 64)
}

func TestBuffer_Shrink(t *testing.T) {
	payload := bytes.Repeat([]byte{'y'}, 100<<10)
	sock := &fakeSocket{}
	sock.feed(thrift.AppendFrame(nil, payload), 0)
	b := NewBuffer(1<<20, 4096, 1<<20)

	var ok bool
	for !ok {
		_, err := b.FillFrom(sock)
		require.NoError(t, err)
		_, ok, err = b.TakeFrame()
		require.NoError(t, err)
	}
	assert.Greater(t, cap(b.in), shrinkThreshold)

	_, err := b.FillFrom(sock)
	assert.True(t, errors.Is(err, ErrWouldBlock))
	assert.Equal(t, 4096, cap(b.in))
	assert.Zero(t, b.Buffered())
}

func TestBuffer_Outbound(t *testing.T) {
	b := NewBuffer(1024, 4096, 16)
	require.NoError(t, b.QueueOutbound([]byte("0123456789")))
	assert.Equal(t, 10, b.Pending())

	err := b.QueueOutbound([]byte("0123456789"))
	assert.True(t, errors.Is(err, ErrOutboundOverflow))
	assert.Equal(t, 10, b.Pending())

	sock := &fakeSocket{writeLimit: 4}
	n, empty, err := b.DrainTo(sock)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.False(t, empty)
	assert.Equal(t, 6, b.Pending())

	require.NoError(t, b.QueueOutbound([]byte("abcdefghij")))
	for !empty {
		_, empty, err = b.DrainTo(sock)
		require.NoError(t, err)
	}
	assert.Equal(t, "0123456789abcdefghij", sock.out.String())
	assert.Zero(t, b.Pending())

	n, empty, err = b.DrainTo(sock)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, empty)
}

func TestBuffer_DrainError(t *testing.T) {
	b := NewBuffer(1024, 4096, 1024)
	require.NoError(t, b.QueueOutbound([]byte("data")))
	boom := errors.New("broken pipe")
	_, empty, err := b.DrainTo(&fakeSocket{writeErr: boom})
	assert.ErrorIs(t, err, boom)
	assert.False(t, empty)
	assert.Equal(t, 4, b.Pending())
}
