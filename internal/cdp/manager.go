package cdp

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/rpcc"

	"netforge/internal/handler"
	"netforge/internal/logger"
	"netforge/pkg/model"
	"netforge/pkg/traffic"
)

// Config 浏览器拦截源配置
type Config struct {
	DevToolsURL    string
	Target         string
	Concurrency    int
	QueueCapacity  int
	ProcessTimeout time.Duration
	// 未等到响应阶段的请求最多保留的条数与时长
	PendingLimit int
	PendingTTL   time.Duration
}

// pendingRequest 请求阶段已记录、等待响应阶段的请求
type pendingRequest struct {
	captureID uint64
	request   traffic.Request
}

// Manager 通过 DevTools Fetch 域拦截浏览器流量并交给处理器
type Manager struct {
	cfg     Config
	handler *handler.Handler
	events  chan<- model.Event
	log     logger.Logger

	conn    *rpcc.Conn
	client  *cdp.Client
	ctx     context.Context
	cancel  context.CancelFunc
	pool    *workerPool
	enabled atomic.Bool
	done    chan struct{}

	pending *pendingTable
}

// New 创建拦截源
func New(cfg Config, h *handler.Handler, events chan<- model.Event, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 3 * time.Second
	}
	return &Manager{
		cfg:     cfg,
		handler: h,
		events:  events,
		log:     l.With("component", "cdp"),
		pending: newPendingTable(cfg.PendingLimit, cfg.PendingTTL),
	}
}

// Start 连接目标页面并启用请求/响应两个阶段的拦截
func (m *Manager) Start(ctx context.Context) error {
	if m.enabled.Load() {
		return fmt.Errorf("cdp: already started")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	if err := m.attach(); err != nil {
		m.cancel()
		return err
	}
	p := "*"
	patterns := []fetch.RequestPattern{
		{URLPattern: &p, RequestStage: fetch.RequestStageRequest},
		{URLPattern: &p, RequestStage: fetch.RequestStageResponse},
	}
	if err := m.client.Fetch.Enable(m.ctx, &fetch.EnableArgs{Patterns: patterns}); err != nil {
		m.cancel()
		_ = m.conn.Close()
		return fmt.Errorf("cdp: enable fetch: %w", err)
	}

	m.pool = newWorkerPool(m.cfg.Concurrency, m.cfg.QueueCapacity)
	m.done = make(chan struct{})
	m.enabled.Store(true)
	go m.consume()
	m.log.Info("浏览器拦截已启用", "devtools", m.cfg.DevToolsURL, "concurrency", m.cfg.Concurrency)
	return nil
}

func (m *Manager) attach() error {
	dt := devtool.New(m.cfg.DevToolsURL)
	targets, err := dt.List(m.ctx)
	if err != nil {
		return fmt.Errorf("cdp: list targets: %w", err)
	}
	var sel *devtool.Target
	for _, t := range targets {
		if t.Type != devtool.Page {
			continue
		}
		if m.cfg.Target == "" || t.ID == m.cfg.Target {
			sel = t
			break
		}
	}
	if sel == nil {
		return fmt.Errorf("cdp: no page target matches %q", m.cfg.Target)
	}
	conn, err := rpcc.DialContext(m.ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		return fmt.Errorf("cdp: dial %s: %w", sel.WebSocketDebuggerURL, err)
	}
	m.conn = conn
	m.client = cdp.NewClient(conn)
	m.log.Info("已连接页面目标", "target", sel.ID, "url", sel.URL)
	return nil
}

// Stop 关闭拦截并等待队列中的事件处理完成
func (m *Manager) Stop() error {
	if !m.enabled.CompareAndSwap(true, false) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	_ = m.client.Fetch.Disable(ctx)
	cancel()
	m.cancel()
	err := m.conn.Close()
	<-m.done
	m.pool.stop()
	m.log.Info("浏览器拦截已停止", "pending", m.pending.len(), "pending_evicted", m.pending.evictedCount())
	return err
}

func (m *Manager) isEnabled() bool { return m.enabled.Load() }

func (m *Manager) remember(id fetch.RequestID, p pendingRequest) {
	if n := m.pending.put(id, p); n > 0 {
		m.log.Debug("丢弃未等到响应的请求", "count", n, "pending", m.pending.len())
	}
}

func (m *Manager) take(id fetch.RequestID) (pendingRequest, bool) {
	return m.pending.take(id)
}
