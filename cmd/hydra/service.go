package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/wildmap/hydra/processor"
	"github.com/wildmap/hydra/thrift"
	"github.com/wildmap/hydra/xlog"
)

// PingPong 内置示例服务
//
//	exception DivideByZero { 1: string message }
//	service PingPong {
//	    string ping()
//	    string echo(1: string msg)
//	    i32 add(1: i32 a, 2: i32 b)
//	    i32 divide(1: i32 a, 2: i32 b) throws (1: DivideByZero err)
//	    oneway void notify(1: string msg)
//	}
func pingPongHandlers() map[string]processor.HandlerFunc {
	return map[string]processor.HandlerFunc{
		"ping":   ping,
		"echo":   echo,
		"add":    add,
		"divide": divide,
		"notify": notify,
	}
}

func ping(context.Context, *thrift.Struct) (thrift.Outcome, error) {
	return thrift.Success(thrift.STRING, "pong"), nil
}

func echo(_ context.Context, args *thrift.Struct) (thrift.Outcome, error) {
	msg, ok := args.String(1)
	if !ok {
		return thrift.Outcome{}, missingArg("echo", 1)
	}
	return thrift.Success(thrift.STRING, msg), nil
}

func add(_ context.Context, args *thrift.Struct) (thrift.Outcome, error) {
	a, b, err := i32Pair("add", args)
	if err != nil {
		return thrift.Outcome{}, err
	}
	return thrift.Success(thrift.I32, a+b), nil
}

func divide(_ context.Context, args *thrift.Struct) (thrift.Outcome, error) {
	a, b, err := i32Pair("divide", args)
	if err != nil {
		return thrift.Outcome{}, err
	}
	if b == 0 {
		return thrift.Outcome{}, &processor.UserException{
			ID:   1,
			Name: "DivideByZero",
			Struct: thrift.NewStruct(thrift.Field{
				ID:    1,
				Type:  thrift.STRING,
				Value: "divide by zero",
			}),
		}
	}
	return thrift.Success(thrift.I32, a/b), nil
}

func notify(ctx context.Context, args *thrift.Struct) (thrift.Outcome, error) {
	msg, _ := args.String(1)
	fields := []zap.Field{zap.String("msg", msg)}
	if ci, ok := processor.CallInfoFrom(ctx); ok {
		fields = append(fields, zap.String("peer", ci.Peer))
	}
	xlog.Infox("notify", fields...)
	return thrift.Void(), nil
}

func i32Pair(method string, args *thrift.Struct) (int32, int32, error) {
	a, ok := args.I32(1)
	if !ok {
		return 0, 0, missingArg(method, 1)
	}
	b, ok := args.I32(2)
	if !ok {
		return 0, 0, missingArg(method, 2)
	}
	return a, b, nil
}

// missingArg 参数缺失或类型不符, 以 PROTOCOL_ERROR 回复, 连接保持
func missingArg(method string, id int16) error {
	return thrift.NewApplicationException(thrift.ExceptionProtocolError, "%s: missing argument %d", method, id)
}
