// hydra-ping 用 Apache Thrift 客户端调用 PingPong 服务, 用于手工冒烟测试
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	athrift "github.com/apache/thrift/lib/go/thrift"
	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
)

func main() {
	addr := pflag.StringP("addr", "a", "127.0.0.1:9090", "server address: host:port or unix:/path")
	count := pflag.IntP("count", "n", 3, "number of echo calls")
	message := pflag.StringP("message", "m", "hello hydra", "echo payload")
	timeout := pflag.Duration("timeout", 5*time.Second, "connect and socket timeout")
	pflag.Parse()

	if err := smoke(context.Background(), *addr, *count, *message, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "hydra-ping: %+v\n", err)
		os.Exit(1)
	}
}

func smoke(ctx context.Context, addr string, count int, message string, timeout time.Duration) error {
	c, err := dial(addr, timeout)
	if err != nil {
		return err
	}
	defer c.Close()

	start := time.Now()
	res, err := c.call(ctx, "ping", athrift.CALL, nil)
	if err != nil {
		return err
	}
	fmt.Printf("ping -> %q (%v)\n", res.str, time.Since(start))

	for i := 0; i < count; i++ {
		start = time.Now()
		res, err = c.call(ctx, "echo", athrift.CALL, stringArg(message))
		if err != nil {
			return err
		}
		if res.str != message {
			return errors.Newf("echo mismatch: sent %q, got %q", message, res.str)
		}
		fmt.Printf("echo #%d -> %q (%v)\n", i+1, res.str, time.Since(start))
	}

	res, err = c.call(ctx, "add", athrift.CALL, i32Args(40, 2))
	if err != nil {
		return err
	}
	fmt.Printf("add(40, 2) -> %d\n", res.i32)

	res, err = c.call(ctx, "divide", athrift.CALL, i32Args(1, 0))
	if err != nil {
		return err
	}
	if res.id != 1 {
		return errors.Newf("divide(1, 0) expected DivideByZero, got field %d", res.id)
	}
	fmt.Printf("divide(1, 0) -> DivideByZero{%q}\n", res.str)

	if _, err = c.call(ctx, "notify", athrift.ONEWAY, stringArg("hydra-ping done")); err != nil {
		return err
	}
	fmt.Println("notify sent")
	return nil
}

// client 同步客户端, 每次调用等待回复后再发送下一次
type client struct {
	trans athrift.TTransport
	proto athrift.TProtocol
	seq   int32
}

func dial(addr string, timeout time.Duration) (*client, error) {
	conf := &athrift.TConfiguration{
		ConnectTimeout: timeout,
		SocketTimeout:  timeout,
	}
	var sock *athrift.TSocket
	if path, ok := strings.CutPrefix(addr, "unix:"); ok {
		sock = athrift.NewTSocketFromAddrConf(&net.UnixAddr{Name: path, Net: "unix"}, conf)
	} else {
		sock = athrift.NewTSocketConf(addr, conf)
	}
	trans := athrift.NewTFramedTransportConf(sock, conf)
	if err := trans.Open(); err != nil {
		return nil, errors.Wrapf(err, "connect %s", addr)
	}
	return &client{trans: trans, proto: athrift.NewTBinaryProtocolConf(trans, conf)}, nil
}

func (c *client) Close() error {
	return c.trans.Close()
}

// result 回复结构体中出现的字段, 只解析本服务用到的类型
type result struct {
	id  int16
	str string
	i32 int32
}

type argsWriter func(ctx context.Context, p athrift.TProtocol) error

func stringArg(s string) argsWriter {
	return func(ctx context.Context, p athrift.TProtocol) error {
		if err := p.WriteFieldBegin(ctx, "msg", athrift.STRING, 1); err != nil {
			return err
		}
		if err := p.WriteString(ctx, s); err != nil {
			return err
		}
		return p.WriteFieldEnd(ctx)
	}
}

func i32Args(a, b int32) argsWriter {
	return func(ctx context.Context, p athrift.TProtocol) error {
		for i, v := range []int32{a, b} {
			if err := p.WriteFieldBegin(ctx, "", athrift.I32, int16(i+1)); err != nil {
				return err
			}
			if err := p.WriteI32(ctx, v); err != nil {
				return err
			}
			if err := p.WriteFieldEnd(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func (c *client) call(ctx context.Context, method string, typ athrift.TMessageType, args argsWriter) (result, error) {
	c.seq++
	p := c.proto
	if err := p.WriteMessageBegin(ctx, method, typ, c.seq); err != nil {
		return result{}, err
	}
	if err := p.WriteStructBegin(ctx, method+"_args"); err != nil {
		return result{}, err
	}
	if args != nil {
		if err := args(ctx, p); err != nil {
			return result{}, err
		}
	}
	if err := p.WriteFieldStop(ctx); err != nil {
		return result{}, err
	}
	if err := p.WriteStructEnd(ctx); err != nil {
		return result{}, err
	}
	if err := p.WriteMessageEnd(ctx); err != nil {
		return result{}, err
	}
	if err := p.Flush(ctx); err != nil {
		return result{}, errors.Wrapf(err, "send %s", method)
	}
	if typ == athrift.ONEWAY {
		return result{}, nil
	}
	return c.readReply(ctx, method)
}

func (c *client) readReply(ctx context.Context, method string) (result, error) {
	p := c.proto
	name, typ, seq, err := p.ReadMessageBegin(ctx)
	if err != nil {
		return result{}, errors.Wrapf(err, "read %s reply", method)
	}
	if name != method || seq != c.seq {
		return result{}, errors.Newf("reply mismatch: want %s/%d, got %s/%d", method, c.seq, name, seq)
	}
	if typ == athrift.EXCEPTION {
		ex := athrift.NewTApplicationException(athrift.UNKNOWN_APPLICATION_EXCEPTION, "")
		if err := ex.Read(ctx, p); err != nil {
			return result{}, err
		}
		_ = p.ReadMessageEnd(ctx)
		return result{}, errors.Wrapf(ex, "%s failed", method)
	}

	var res result
	if err = readStruct(ctx, p, func(id int16, ft athrift.TType) (bool, error) {
		res.id = id
		switch ft {
		case athrift.STRING:
			res.str, err = p.ReadString(ctx)
		case athrift.I32:
			res.i32, err = p.ReadI32(ctx)
		case athrift.STRUCT:
			// 声明的异常, 取出 message 字段
			err = readStruct(ctx, p, func(id int16, ft athrift.TType) (bool, error) {
				if id != 1 || ft != athrift.STRING {
					return false, nil
				}
				s, err := p.ReadString(ctx)
				res.str = s
				return true, err
			})
		default:
			return false, nil
		}
		return true, err
	}); err != nil {
		return result{}, err
	}
	return res, p.ReadMessageEnd(ctx)
}

// readStruct 逐个读取字段, fn 返回 false 时跳过该字段
func readStruct(ctx context.Context, p athrift.TProtocol, fn func(id int16, ft athrift.TType) (bool, error)) error {
	if _, err := p.ReadStructBegin(ctx); err != nil {
		return err
	}
	for {
		_, ft, id, err := p.ReadFieldBegin(ctx)
		if err != nil {
			return err
		}
		if ft == athrift.STOP {
			break
		}
		handled, err := fn(id, ft)
		if err != nil {
			return err
		}
		if !handled {
			if err = p.Skip(ctx, ft); err != nil {
				return err
			}
		}
		if err = p.ReadFieldEnd(ctx); err != nil {
			return err
		}
	}
	return p.ReadStructEnd(ctx)
}
