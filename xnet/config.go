package xnet

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/wildmap/hydra/thrift"
)

// Config 事件循环配置
type Config struct {
	// MaxFrameSize 单帧最大负载, 入站缓冲区上限为 MaxFrameSize + 4
	MaxFrameSize uint32 `mapstructure:"max_frame_size"`
	// MaxOutbound 单连接未发送字节上限, 超过即关闭连接
	MaxOutbound int `mapstructure:"max_outbound"`
	// OutboundHighWater 未发送字节超过该值时暂停读取新帧
	OutboundHighWater int `mapstructure:"outbound_high_water"`
	// ReadBufferSize 单次 read 的最大字节数
	ReadBufferSize int `mapstructure:"read_buffer_size"`
	// MaxEvents 单次等待返回的最大事件数
	MaxEvents int `mapstructure:"max_events"`
	// MaxDepth 结构体/容器最大嵌套深度
	MaxDepth int `mapstructure:"max_depth"`
	// StrictRead 拒绝不带版本号的旧格式消息头
	StrictRead bool `mapstructure:"strict_read"`
	// ProxyProtocol 接受 HAProxy PROXY 协议头
	ProxyProtocol bool `mapstructure:"proxy_protocol"`
	// ShutdownTimeout 优雅关闭时等待未完成写入的最长时间
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxFrameSize:      thrift.DefaultMaxFrameSize,
		MaxOutbound:       64 << 20,
		OutboundHighWater: 4 << 20,
		ReadBufferSize:    4096,
		MaxEvents:         256,
		MaxDepth:          thrift.DefaultMaxDepth,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Validate 校验配置, 零值字段填充默认值
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = def.MaxFrameSize
	}
	if c.MaxOutbound <= 0 {
		c.MaxOutbound = def.MaxOutbound
	}
	if c.OutboundHighWater <= 0 {
		c.OutboundHighWater = min(def.OutboundHighWater, c.MaxOutbound)
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = def.MaxEvents
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = def.MaxDepth
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}

	if c.MaxFrameSize > 1<<30 {
		return errors.Newf("xnet: max_frame_size %d exceeds 1GiB", c.MaxFrameSize)
	}
	if c.OutboundHighWater > c.MaxOutbound {
		return errors.Newf("xnet: outbound_high_water %d exceeds max_outbound %d", c.OutboundHighWater, c.MaxOutbound)
	}
	return nil
}
