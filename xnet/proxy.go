package xnet

import (
	"bufio"
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/pires/go-proxyproto"
)

const (
	// proxyV1MaxLen v1 头部(含 CRLF)的最大长度
	proxyV1MaxLen = 107
	// proxyV2HeaderLen v2 固定头部长度, 最后两字节为地址段长度
	proxyV2HeaderLen = 16
)

// parseProxyHeader 解析入站数据开头的 PROXY 协议头
// 返回:
//   - n: 头部占用的字节数, 0 表示没有头部
//   - source: 头部携带的客户端地址, LOCAL/UNKNOWN 时为空
//   - done: false 表示数据不足, 需要继续读取
func parseProxyHeader(b []byte) (n int, source string, done bool, err error) {
	if len(b) == 0 {
		return 0, "", false, nil
	}

	// 签名不符时按普通帧处理, 长度前缀首字节可能恰好是 'P' 或 '\r'
	if !sigPrefix(b, proxyproto.SIGV1) && !sigPrefix(b, proxyproto.SIGV2) {
		return 0, "", true, nil
	}

	var total int
	switch b[0] {
	case 'P':
		end := bytes.Index(b[:min(len(b), proxyV1MaxLen)], []byte("\r\n"))
		if end < 0 {
			if len(b) >= proxyV1MaxLen {
				return 0, "", true, errors.Wrap(ErrProxyHeader, "v1 header too long")
			}
			return 0, "", false, nil
		}
		total = end + 2
	case '\r':
		if len(b) < proxyV2HeaderLen {
			return 0, "", false, nil
		}
		total = proxyV2HeaderLen + int(binary.BigEndian.Uint16(b[14:16]))
		if len(b) < total {
			return 0, "", false, nil
		}
	default:
		return 0, "", true, nil
	}

	hdr, err := proxyproto.Read(bufio.NewReaderSize(bytes.NewReader(b[:total]), total))
	if err != nil {
		return 0, "", true, errors.Wrapf(ErrProxyHeader, "%v", err)
	}
	if hdr.SourceAddr != nil && hdr.Command.IsProxy() {
		source = hdr.SourceAddr.String()
	}
	return total, source, true, nil
}

// sigPrefix b 与签名在两者共同长度内一致
func sigPrefix(b, sig []byte) bool {
	k := min(len(b), len(sig))
	return bytes.Equal(b[:k], sig[:k])
}
