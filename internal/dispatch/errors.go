package dispatch

import (
	"context"
	"errors"
	"net"
	"net/url"
)

// Kind 出站请求错误分类
type Kind string

const (
	KindTimeout        Kind = "timeout"
	KindNetwork        Kind = "network"
	KindInvalidRequest Kind = "invalid_request"
	KindCancelled      Kind = "cancelled"
)

// Error 带分类的出站请求错误
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func invalid(err error) error { return &Error{Kind: KindInvalidRequest, Err: err} }

// classify 根据底层错误与上下文状态确定错误分类
func classify(ctx context.Context, err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return &Error{Kind: KindCancelled, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Op == "parse" {
		return &Error{Kind: KindInvalidRequest, Err: err}
	}
	return &Error{Kind: KindNetwork, Err: err}
}

// KindOf 返回错误分类，非本包错误视为网络错误
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindNetwork
}
