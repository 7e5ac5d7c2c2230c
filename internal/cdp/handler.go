package cdp

import (
	"context"
	"time"

	"github.com/mafredri/cdp/protocol/fetch"

	adapter "netforge/internal/adapter/cdp"
	"netforge/internal/handler"
	"netforge/pkg/model"
	"netforge/pkg/traffic"
)

// handle 处理一次拦截事件
func (m *Manager) handle(ev *fetch.RequestPausedReply) {
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.ProcessTimeout)
	defer cancel()
	start := time.Now()

	if ev.ResponseStatusCode == nil && ev.ResponseErrorReason == nil {
		m.handleRequest(ctx, ev)
	} else {
		m.handleResponse(ctx, ev)
	}
	m.log.Debug("拦截事件处理完成", "url", ev.Request.URL, "duration", time.Since(start))
}

// handleRequest 请求阶段：执行规则、记录请求，有修改时带上新的请求内容继续
func (m *Manager) handleRequest(ctx context.Context, ev *fetch.RequestPausedReply) {
	req := adapter.ToCapturedRequest(ev)
	fwd, id, outcome := m.handler.HandleRequest(req)
	m.remember(ev.RequestID, pendingRequest{captureID: id, request: fwd})

	args := &fetch.ContinueRequestArgs{RequestID: ev.RequestID}
	if outcome == handler.OutcomeModified {
		args.URL = &fwd.URL
		args.Method = &fwd.Method
		args.Headers = adapter.ToHeaderEntries(fwd.Headers)
		if len(fwd.Body) > 0 {
			args.PostData = fwd.Body
		}
	}
	if err := m.client.Fetch.ContinueRequest(ctx, args); err != nil {
		m.log.Err(err, "继续请求失败", "requestID", string(ev.RequestID))
	}
}

// handleResponse 响应阶段：读取响应体、执行规则、附加到捕获记录，有修改时整体替换响应
func (m *Manager) handleResponse(ctx context.Context, ev *fetch.RequestPausedReply) {
	p, ok := m.take(ev.RequestID)
	req := p.request
	if !ok {
		req = adapter.ToCapturedRequest(ev)
	}
	if ev.ResponseErrorReason != nil {
		m.continueResponse(ctx, ev)
		return
	}

	var body []byte
	if reply, err := m.client.Fetch.GetResponseBody(ctx, &fetch.GetResponseBodyArgs{RequestID: ev.RequestID}); err == nil {
		if b, err := adapter.DecodeBody(reply.Body, reply.Base64Encoded); err == nil {
			body = b
		}
	} else {
		m.log.Debug("获取响应体失败", "requestID", string(ev.RequestID), "error", err.Error())
	}

	resp := adapter.ToCapturedResponse(ev, body)
	final, outcome := m.handler.HandleResponse(p.captureID, req, resp)
	if outcome != handler.OutcomeModified {
		m.continueResponse(ctx, ev)
		return
	}
	err := m.client.Fetch.FulfillRequest(ctx, &fetch.FulfillRequestArgs{
		RequestID:       ev.RequestID,
		ResponseCode:    final.StatusCode,
		ResponseHeaders: adapter.ToHeaderEntries(withoutLength(final.Headers)),
		Body:            final.Body,
	})
	if err != nil {
		m.log.Err(err, "替换响应失败", "requestID", string(ev.RequestID))
	}
}

// withoutLength 响应体可能已被改写，Content-Length 由浏览器重新计算
func withoutLength(h traffic.Headers) traffic.Headers {
	out := h.Clone()
	out.Del("Content-Length")
	return out
}

func (m *Manager) continueResponse(ctx context.Context, ev *fetch.RequestPausedReply) {
	if err := m.client.Fetch.ContinueResponse(ctx, &fetch.ContinueResponseArgs{RequestID: ev.RequestID}); err != nil {
		m.log.Err(err, "继续响应失败", "requestID", string(ev.RequestID))
	}
}

// dispatchPaused 提交到工作池，队列满时降级放行
func (m *Manager) dispatchPaused(ev *fetch.RequestPausedReply) {
	if !m.pool.submit(func() { m.handle(ev) }) {
		m.degradeAndContinue(ev, "并发队列已满")
	}
}

// consume 持续接收拦截事件并按并发限制分发处理
func (m *Manager) consume() {
	defer close(m.done)
	rp, err := m.client.Fetch.RequestPaused(m.ctx)
	if err != nil {
		m.log.Err(err, "订阅拦截事件流失败")
		return
	}
	defer rp.Close()

	m.log.Info("开始消费拦截事件流")
	for {
		ev, err := rp.Recv()
		if err != nil {
			if m.isEnabled() {
				m.log.Warn("拦截流被中断", "error", err.Error())
			}
			return
		}
		m.dispatchPaused(ev)
	}
}

// degradeAndContinue 统一的降级处理：不经过规则直接放行
func (m *Manager) degradeAndContinue(ev *fetch.RequestPausedReply, reason string) {
	m.log.Warn("执行降级策略：直接放行", "reason", reason, "requestID", string(ev.RequestID))
	ctx, cancel := context.WithTimeout(m.ctx, time.Second)
	defer cancel()

	var err error
	if ev.ResponseStatusCode == nil && ev.ResponseErrorReason == nil {
		err = m.client.Fetch.ContinueRequest(ctx, &fetch.ContinueRequestArgs{RequestID: ev.RequestID})
	} else {
		m.take(ev.RequestID)
		err = m.client.Fetch.ContinueResponse(ctx, &fetch.ContinueResponseArgs{RequestID: ev.RequestID})
	}
	if err != nil {
		m.log.Err(err, "降级放行失败", "requestID", string(ev.RequestID))
	}
	m.sendEvent(model.Event{Type: model.EventDegraded, URL: ev.Request.URL, Method: ev.Request.Method, Error: reason})
}

// sendEvent 安全发送事件到通道，自动添加时间戳
func (m *Manager) sendEvent(evt model.Event) {
	if m.events == nil {
		return
	}
	evt.Timestamp = time.Now().UnixMilli()
	select {
	case m.events <- evt:
	default:
	}
}
