package intruder

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"netforge/internal/dispatch"
	"netforge/internal/logger"
	"netforge/pkg/model"
)

// ErrAlreadyStarted 攻击活动只能运行一次
var ErrAlreadyStarted = errors.New("campaign already started")

// Options 攻击活动运行参数
type Options struct {
	MaxInFlight    int
	Timeout        time.Duration
	ResultCapacity int
	RatePerSecond  float64
	Limits         Limits
	// OnResult 每个结果写入缓冲区后回调，需自行保证并发安全
	OnResult func(model.IntruderResult)
}

const (
	defaultMaxInFlight    = 10
	defaultResultCapacity = 1000
	// maxResultCapacity 未配置上限时结果缓冲区的硬上限
	maxResultCapacity = 1 << 24
)

// Campaign 一次攻击活动，独占自己的结果缓冲区与运行状态
type Campaign struct {
	id      model.CampaignID
	name    string
	target  string
	plan    *Plan
	sender  dispatch.Sender
	opts    Options
	log     logger.Logger
	state   *RunState
	results *ResultBuffer
	started atomic.Bool

	dispatched atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64

	mu         sync.RWMutex
	status     model.CampaignStatus
	startedAt  time.Time
	finishedAt time.Time
	finished   chan struct{}
}

// NewCampaign 校验配置并创建攻击活动，配置错误时不产生任何副作用
func NewCampaign(req model.CampaignRequest, sender dispatch.Sender, opts Options, l logger.Logger) (*Campaign, error) {
	if sender == nil {
		return nil, fmt.Errorf("intruder: sender is required")
	}
	plan, err := NewPlan(req.Template, req.Config, opts.Limits)
	if err != nil {
		return nil, err
	}
	if req.Target != "" {
		u, err := url.Parse(req.Target)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, invalidf("target %q must be an http(s) base url", req.Target)
		}
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = defaultMaxInFlight
	}
	if opts.ResultCapacity <= 0 {
		opts.ResultCapacity = defaultResultCapacity
	}
	if lim := opts.Limits.MaxInFlight; lim > 0 && opts.MaxInFlight > lim {
		return nil, invalidf("max_in_flight %d exceeds limit %d", opts.MaxInFlight, lim)
	}
	capLimit := opts.Limits.MaxResultCapacity
	if capLimit <= 0 || capLimit > maxResultCapacity {
		capLimit = maxResultCapacity
	}
	if opts.ResultCapacity > capLimit {
		return nil, invalidf("result_capacity %d exceeds limit %d", opts.ResultCapacity, capLimit)
	}
	if l == nil {
		l = logger.NewNop()
	}
	id := model.CampaignID(uuid.NewString())
	return &Campaign{
		id:       id,
		name:     req.Name,
		target:   req.Target,
		plan:     plan,
		sender:   sender,
		opts:     opts,
		log:      l.With("campaign", string(id)),
		state:    NewRunState(),
		results:  NewResultBuffer(opts.ResultCapacity),
		status:   model.CampaignPending,
		finished: make(chan struct{}),
	}, nil
}

func (c *Campaign) ID() model.CampaignID { return c.id }

// Run 以有界并发发送全部请求，阻塞直到所有已发出的请求完成
func (c *Campaign) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	c.mu.Lock()
	c.status = model.CampaignRunning
	c.startedAt = time.Now()
	c.mu.Unlock()
	defer close(c.finished)

	// 取消令牌或外部上下文任一结束都停止派发
	loopCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-c.state.Done():
			stop()
		case <-loopCtx.Done():
		}
	}()

	var limiter *rate.Limiter
	if c.opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.opts.RatePerSecond), 1)
	}

	total := c.plan.Count()
	c.log.Info("攻击活动开始", "attackType", string(c.plan.AttackType()), "total", total, "maxInFlight", c.opts.MaxInFlight)

	var g errgroup.Group
	g.SetLimit(c.opts.MaxInFlight)
	for i := 0; i < total; i++ {
		if c.stopped(loopCtx) {
			break
		}
		if limiter != nil {
			if err := limiter.Wait(loopCtx); err != nil {
				break
			}
		}
		g.Go(func() error {
			// 等待并发槽期间可能已被取消
			if c.stopped(loopCtx) {
				return nil
			}
			c.dispatchOne(ctx, i)
			return nil
		})
	}
	_ = g.Wait()

	cancelled := c.state.Cancelled() || ctx.Err() != nil
	c.mu.Lock()
	c.finishedAt = time.Now()
	if cancelled {
		c.status = model.CampaignCancelled
	} else {
		c.status = model.CampaignCompleted
	}
	c.mu.Unlock()

	c.log.Info("攻击活动结束", "status", string(c.Status()), "dispatched", c.dispatched.Load(),
		"failed", c.failed.Load(), "evicted", c.results.Evicted())
	return nil
}

func (c *Campaign) stopped(ctx context.Context) bool {
	return c.state.Cancelled() || ctx.Err() != nil
}

func (c *Campaign) dispatchOne(ctx context.Context, i int) {
	c.dispatched.Add(1)
	attack := c.plan.At(i)
	res := model.IntruderResult{
		RequestID: uint64(i + 1),
		Payloads:  attack.Payloads,
		Timestamp: time.Now().UnixMilli(),
	}

	// 已发出的请求不受取消影响，仅受单请求超时约束
	reqCtx := context.WithoutCancel(ctx)
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(reqCtx, c.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	req, err := dispatch.ParseRaw(attack.Body, c.target)
	if err == nil {
		var out *dispatch.Result
		out, err = c.sender.Send(reqCtx, req)
		if err == nil {
			res.Status = out.Response.StatusCode
			res.Length = out.Size
		}
	}
	res.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		res.Status = model.FailedStatus
		res.Error = err.Error()
		c.failed.Add(1)
		c.log.Debug("攻击请求失败", "index", i, "kind", string(dispatch.KindOf(err)), "error", err.Error())
	}

	c.results.Add(res)
	c.completed.Add(1)
	if c.opts.OnResult != nil {
		c.opts.OnResult(res)
	}
}

// Cancel 停止派发新请求，已发出的请求继续完成
func (c *Campaign) Cancel() { c.state.Cancel() }

// Finished 运行结束后关闭的通道
func (c *Campaign) Finished() <-chan struct{} { return c.finished }

// Results 当前保留的结果快照
func (c *Campaign) Results() []model.IntruderResult { return c.results.Snapshot() }

func (c *Campaign) Status() model.CampaignStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Progress 返回聚合进度
func (c *Campaign) Progress() model.CampaignProgress {
	c.mu.RLock()
	p := model.CampaignProgress{
		ID:         c.id,
		Name:       c.name,
		AttackType: c.plan.AttackType(),
		Status:     c.status,
		Total:      c.plan.Count(),
	}
	if !c.startedAt.IsZero() {
		p.StartedAt = c.startedAt.UnixMilli()
	}
	if !c.finishedAt.IsZero() {
		p.FinishedAt = c.finishedAt.UnixMilli()
	}
	c.mu.RUnlock()

	p.Dispatched = c.dispatched.Load()
	p.Completed = c.completed.Load()
	p.Failed = c.failed.Load()
	p.Retained = c.results.Len()
	p.Capacity = c.results.Cap()
	p.Evicted = c.results.Evicted()
	return p
}
