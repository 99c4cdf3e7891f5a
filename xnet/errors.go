package xnet

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrWouldBlock        = errors.New("xnet: operation would block")
	ErrInboundFull       = errors.New("xnet: inbound buffer full")
	ErrOutboundOverflow  = errors.New("xnet: outbound buffer overflow")
	ErrProxyHeader       = errors.New("xnet: invalid PROXY protocol header")
	ErrServerRunning     = errors.New("xnet: server already running")
	ErrNilDispatcher     = errors.New("xnet: dispatcher is nil")
	ErrInvalidListenerFd = errors.New("xnet: invalid listener descriptor")
)
