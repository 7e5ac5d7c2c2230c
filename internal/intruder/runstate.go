package intruder

import (
	"sync"
	"sync/atomic"
)

// RunState 单个攻击活动独占的取消令牌
type RunState struct {
	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
}

func NewRunState() *RunState {
	return &RunState{done: make(chan struct{})}
}

// Cancel 请求取消，可重复调用
func (s *RunState) Cancel() {
	s.once.Do(func() {
		s.cancelled.Store(true)
		close(s.done)
	})
}

func (s *RunState) Cancelled() bool { return s.cancelled.Load() }

// Done 取消后关闭的通道
func (s *RunState) Done() <-chan struct{} { return s.done }
