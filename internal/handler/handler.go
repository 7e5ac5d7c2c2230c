package handler

import (
	"time"

	"netforge/internal/capture"
	"netforge/internal/logger"
	"netforge/internal/rules"
	"netforge/pkg/model"
	"netforge/pkg/rulespec"
	"netforge/pkg/traffic"
)

// Outcome 单次处理结果
type Outcome string

const (
	OutcomePassed   Outcome = "passed"
	OutcomeModified Outcome = "modified"
)

// Handler 实时流量处理器，负责协调规则改写、捕获记录和事件发送
type Handler struct {
	engine *rules.Engine
	store  *capture.Store
	events chan<- model.Event
	log    logger.Logger
}

// Config 配置选项
type Config struct {
	Engine *rules.Engine
	Store  *capture.Store
	Events chan<- model.Event
	Logger logger.Logger
}

// New 创建事件处理器
func New(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Handler{
		engine: cfg.Engine,
		store:  cfg.Store,
		events: cfg.Events,
		log:    cfg.Logger,
	}
}

// HandleRequest 对请求执行请求阶段规则，记录转发的请求并返回其捕获 ID
func (h *Handler) HandleRequest(req traffic.Request) (traffic.Request, uint64, Outcome) {
	start := time.Now()
	h.log.Debug("开始处理请求", "method", req.Method, "url", req.URL)

	out, res := h.evaluate(traffic.Entry{Request: req}, rulespec.StageRequest)
	fwd := out.Request

	var id uint64
	if h.store != nil {
		id = h.store.Append(fwd)
		fwd.ID = id
	}
	outcome := outcomeOf(res)
	h.reportErrors(id, res)
	h.send(model.Event{
		Type:      model.EventRequestCaptured,
		RequestID: id,
		Rules:     matchedOf(res),
		URL:       fwd.URL,
		Method:    fwd.Method,
	})
	h.log.Debug("请求处理完成", "id", id, "result", string(outcome), "duration", time.Since(start))
	return fwd, id, outcome
}

// HandleResponse 对完整条目执行响应阶段规则，并把最终响应附加到捕获记录
func (h *Handler) HandleResponse(id uint64, req traffic.Request, resp traffic.Response) (traffic.Response, Outcome) {
	start := time.Now()
	h.log.Debug("开始处理响应", "id", id, "statusCode", resp.StatusCode)

	out, res := h.evaluate(traffic.Entry{Request: req, Response: &resp}, rulespec.StageResponse)
	final := resp
	if out.Response != nil {
		final = *out.Response
	}
	final.RequestID = id

	if h.store != nil && id > 0 {
		h.store.AttachResponse(id, final)
	}
	outcome := outcomeOf(res)
	h.reportErrors(id, res)
	h.send(model.Event{
		Type:      model.EventResponseCaptured,
		RequestID: id,
		Rules:     matchedOf(res),
		URL:       req.URL,
		Method:    req.Method,
		Status:    final.StatusCode,
	})
	h.log.Debug("响应处理完成", "id", id, "result", string(outcome), "duration", time.Since(start))
	return final, outcome
}

func (h *Handler) evaluate(e traffic.Entry, stage rulespec.Stage) (traffic.Entry, *rules.Result) {
	if h.engine == nil {
		return e, nil
	}
	res := h.engine.Evaluate(e, stage)
	return res.Entry, &res
}

func (h *Handler) reportErrors(id uint64, res *rules.Result) {
	if res == nil {
		return
	}
	for _, d := range res.Errors {
		h.send(model.Event{
			Type:      model.EventRuleError,
			RequestID: id,
			Rules:     []rulespec.RuleID{d.RuleID},
			Error:     d.Message,
		})
	}
}

// send 非阻塞发送，通道满时丢弃
func (h *Handler) send(evt model.Event) {
	if h.events == nil {
		return
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}
	select {
	case h.events <- evt:
	default:
	}
}

func outcomeOf(res *rules.Result) Outcome {
	if res != nil && res.Modified {
		return OutcomeModified
	}
	return OutcomePassed
}

func matchedOf(res *rules.Result) []rulespec.RuleID {
	if res == nil {
		return nil
	}
	return res.Matched
}
