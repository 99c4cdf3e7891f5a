package thrift

import (
	"encoding/binary"
	"fmt"
)

const (
	// FrameHeaderSize 帧长度字段的字节大小(4字节大端序uint32)
	FrameHeaderSize = 4

	// DefaultMaxFrameSize 默认最大帧负载(16MB)
	DefaultMaxFrameSize = 16 << 20
)

// FrameLength 探测缓冲区头部的帧长度
// 帧格式: [4字节大端序长度][负载], 长度不含前缀本身
// 参数:
//   - b: 已缓冲的入站字节
//   - max: 允许的最大负载长度
//
// 返回:
//   - 负载长度; 不足4字节时 ok 为 false
//   - 声明长度超过 max 时返回 ErrOversizedFrame, 调用方必须关闭连接
func FrameLength(b []byte, max uint32) (n uint32, ok bool, err error) {
	if len(b) < FrameHeaderSize {
		return 0, false, nil
	}
	n = binary.BigEndian.Uint32(b[:FrameHeaderSize])
	if n > max {
		return n, true, fmt.Errorf("%w: declared %d, max %d", ErrOversizedFrame, n, max)
	}
	return n, true, nil
}

// AppendFrame 在 dst 后追加一个完整帧
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// beginFrame 预留长度前缀, 返回前缀位置
func beginFrame(dst []byte) ([]byte, int) {
	at := len(dst)
	return append(dst, 0, 0, 0, 0), at
}

// endFrame 回填 beginFrame 预留的长度前缀
func endFrame(dst []byte, at int) []byte {
	binary.BigEndian.PutUint32(dst[at:at+FrameHeaderSize], uint32(len(dst)-at-FrameHeaderSize))
	return dst
}
