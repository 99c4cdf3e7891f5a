package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildmap/hydra/thrift"
)

func call(name string, fields ...thrift.Field) *thrift.Message {
	return &thrift.Message{
		Header: thrift.Header{Name: name, Type: thrift.Call, SeqID: 3},
		Body:   thrift.NewStruct(fields...),
	}
}

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	p, err := New(map[string]HandlerFunc{
		"ping": func(ctx context.Context, args *thrift.Struct) (thrift.Outcome, error) {
			return thrift.Success(thrift.STRING, "pong"), nil
		},
		"echo": func(ctx context.Context, args *thrift.Struct) (thrift.Outcome, error) {
			s, _ := args.String(1)
			return thrift.Success(thrift.STRING, s), nil
		},
		"declared": func(ctx context.Context, args *thrift.Struct) (thrift.Outcome, error) {
			return thrift.Outcome{}, &UserException{ID: 1, Name: "Oops", Struct: thrift.NewStruct(
				thrift.Field{ID: 1, Type: thrift.STRING, Value: "oops"},
			)}
		},
		"declaredOutcome": func(ctx context.Context, args *thrift.Struct) (thrift.Outcome, error) {
			return thrift.Declared(2, thrift.NewStruct()), nil
		},
		"declaredZero": func(ctx context.Context, args *thrift.Struct) (thrift.Outcome, error) {
			return thrift.Outcome{}, &UserException{ID: 0, Name: "Oops", Struct: thrift.NewStruct()}
		},
		"declaredNegative": func(ctx context.Context, args *thrift.Struct) (thrift.Outcome, error) {
			return thrift.Declared(-1, thrift.NewStruct()), nil
		},
		"invalid": func(ctx context.Context, args *thrift.Struct) (thrift.Outcome, error) {
			return thrift.Outcome{}, thrift.NewApplicationException(thrift.ExceptionProtocolError, "missing field 1")
		},
		"fails": func(ctx context.Context, args *thrift.Struct) (thrift.Outcome, error) {
			return thrift.Outcome{}, errors.New("database is down")
		},
		"panics": func(ctx context.Context, args *thrift.Struct) (thrift.Outcome, error) {
			var m map[string]int
			m["x"] = 1
			return thrift.Void(), nil
		},
		"panicsValue": func(ctx context.Context, args *thrift.Struct) (thrift.Outcome, error) {
			panic("boom")
		},
		"whoami": func(ctx context.Context, args *thrift.Struct) (thrift.Outcome, error) {
			ci, ok := CallInfoFrom(ctx)
			if !ok {
				return thrift.Outcome{}, errors.New("no call info")
			}
			return thrift.Success(thrift.STRING, ci.Peer), nil
		},
	})
	require.NoError(t, err)
	return p
}

func TestNew(t *testing.T) {
	_, err := New(map[string]HandlerFunc{"": func(context.Context, *thrift.Struct) (thrift.Outcome, error) {
		return thrift.Void(), nil
	}})
	assert.ErrorIs(t, err, ErrEmptyMethod)

	_, err = New(map[string]HandlerFunc{"x": nil})
	assert.ErrorIs(t, err, ErrNilHandler)

	handlers := map[string]HandlerFunc{"a": func(context.Context, *thrift.Struct) (thrift.Outcome, error) {
		return thrift.Void(), nil
	}}
	p, err := New(handlers)
	require.NoError(t, err)
	handlers["b"] = handlers["a"]
	assert.Equal(t, []string{"a"}, p.Methods())
}

func TestDispatch(t *testing.T) {
	p := newTestProcessor(t)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		res := p.Dispatch(ctx, call("echo", thrift.Field{ID: 1, Type: thrift.STRING, Value: "hi"}))
		require.Equal(t, KindSuccess, res.Kind)
		f, ok := res.Outcome.Field()
		require.True(t, ok)
		assert.Equal(t, "hi", f.Value)
		assert.Nil(t, res.Exception())
	})

	t.Run("method not found", func(t *testing.T) {
		res := p.Dispatch(ctx, call("nope"))
		require.Equal(t, KindProtocolError, res.Kind)
		assert.ErrorIs(t, res.Err, thrift.ErrMethodNotFound)
		assert.Equal(t, thrift.ExceptionUnknownMethod, res.Exception().Type)
		assert.Contains(t, res.Exception().Message, "nope")
	})

	t.Run("declared exception", func(t *testing.T) {
		res := p.Dispatch(ctx, call("declared"))
		require.Equal(t, KindApplicationException, res.Kind)
		f, ok := res.Outcome.Field()
		require.True(t, ok)
		assert.Equal(t, int16(1), f.ID)
		assert.True(t, res.Outcome.IsException())
	})

	t.Run("declared outcome", func(t *testing.T) {
		res := p.Dispatch(ctx, call("declaredOutcome"))
		assert.Equal(t, KindApplicationException, res.Kind)
	})

	t.Run("declared exception without field id", func(t *testing.T) {
		for _, method := range []string{"declaredZero", "declaredNegative"} {
			res := p.Dispatch(ctx, call(method))
			require.Equal(t, KindDefect, res.Kind, method)
			assert.Contains(t, res.Err.Error(), "invalid field id", method)
			assert.Equal(t, thrift.ExceptionInternalError, res.Exception().Type, method)
		}
	})

	t.Run("application exception", func(t *testing.T) {
		res := p.Dispatch(ctx, call("invalid"))
		require.Equal(t, KindProtocolError, res.Kind)
		assert.Equal(t, thrift.ExceptionProtocolError, res.Exception().Type)
		assert.Equal(t, "missing field 1", res.Exception().Message)
	})

	t.Run("handler error is a defect", func(t *testing.T) {
		res := p.Dispatch(ctx, call("fails"))
		require.Equal(t, KindDefect, res.Kind)
		assert.Contains(t, res.Err.Error(), "database is down")
		assert.Equal(t, thrift.ExceptionInternalError, res.Exception().Type)
		assert.NotContains(t, res.Exception().Message, "database")
	})

	t.Run("runtime panic", func(t *testing.T) {
		res := p.Dispatch(ctx, call("panics"))
		require.Equal(t, KindDefect, res.Kind)
		assert.Contains(t, res.Err.Error(), "panic in handler panics")
	})

	t.Run("panic value", func(t *testing.T) {
		res := p.Dispatch(ctx, call("panicsValue"))
		require.Equal(t, KindDefect, res.Kind)
		assert.Contains(t, res.Err.Error(), "boom")
	})

	t.Run("call info", func(t *testing.T) {
		cctx := WithCallInfo(ctx, &CallInfo{Method: "whoami", SeqID: 3, Peer: "10.0.0.1:4000"})
		res := p.Dispatch(cctx, call("whoami"))
		require.Equal(t, KindSuccess, res.Kind)
		f, _ := res.Outcome.Field()
		assert.Equal(t, "10.0.0.1:4000", f.Value)
	})
}
