package replay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"netforge/internal/capture"
	"netforge/internal/dispatch"
	"netforge/internal/logger"
	"netforge/pkg/model"
	"netforge/pkg/traffic"
)

// Options 重放参数
type Options struct {
	PreviewBytes int
	// Record 为 true 时重放的请求与响应写入捕获存储
	Record bool
}

const defaultPreviewBytes = 64 << 10

// Service 重放服务，不持有任何攻击活动状态
type Service struct {
	store  *capture.Store
	sender dispatch.Sender
	opts   Options
	log    logger.Logger
}

// New 创建重放服务
func New(store *capture.Store, sender dispatch.Sender, opts Options, l logger.Logger) *Service {
	if opts.PreviewBytes <= 0 {
		opts.PreviewBytes = defaultPreviewBytes
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &Service{store: store, sender: sender, opts: opts, log: l}
}

// Replay 以捕获的请求为基础叠加覆盖项并发送一次，失败以类型化错误写入结果
func (s *Service) Replay(ctx context.Context, requestID uint64, ov model.ReplayOverrides) model.ReplayResult {
	now := time.Now()
	res := model.ReplayResult{
		ID:          uuid.NewString(),
		RequestID:   requestID,
		Status:      model.FailedStatus,
		TimestampMS: now.UnixMilli(),
		Headers:     traffic.Headers{},
		BodyPreview: []byte{},
	}

	req := s.build(requestID, ov)
	if strings.TrimSpace(req.URL) == "" {
		res.Error = &model.ReplayError{Kind: model.ReplayInvalidRequest, Message: "url is required: no captured request and no url override"}
		return res
	}

	out, err := s.sender.Send(ctx, req)
	res.DurationMS = time.Since(now).Milliseconds()
	if err != nil {
		res.Error = toReplayError(err)
		s.log.Warn("重放请求失败", "requestID", requestID, "url", req.URL, "kind", string(res.Error.Kind), "error", err.Error())
		return res
	}

	res.Status = out.Response.StatusCode
	res.Headers = out.Response.Headers
	res.BodySize = out.Size
	body := out.Response.Body
	if len(body) > s.opts.PreviewBytes {
		body = body[:s.opts.PreviewBytes]
	}
	res.BodyPreview = append([]byte(nil), body...)
	res.Truncated = int64(len(res.BodyPreview)) < out.Size

	if s.opts.Record && s.store != nil {
		id := s.store.Append(req)
		s.store.AttachResponse(id, out.Response)
		res.CaptureID = id
	}
	s.log.Debug("重放完成", "requestID", requestID, "status", res.Status, "duration", res.DurationMS)
	return res
}

// build 覆盖项逐字段替换基础请求，headers 整体替换
func (s *Service) build(requestID uint64, ov model.ReplayOverrides) traffic.Request {
	var req traffic.Request
	if s.store != nil && requestID > 0 {
		if e, ok := s.store.Get(requestID); ok {
			req = e.Request
		}
	}
	if ov.Method != nil {
		req.Method = *ov.Method
	}
	if ov.URL != nil {
		req.URL = *ov.URL
	}
	if ov.Headers != nil {
		req.Headers = ov.Headers.Clone()
	}
	if ov.Body != nil {
		req.Body = append([]byte(nil), (*ov.Body)...)
	}
	if strings.TrimSpace(req.Method) == "" {
		req.Method = http.MethodGet
	}
	req.ID = 0
	req.Timestamp = time.Now()
	req.TLS = strings.HasPrefix(strings.ToLower(req.URL), "https://")
	return req
}

func toReplayError(err error) *model.ReplayError {
	var de *dispatch.Error
	if !errors.As(err, &de) {
		return &model.ReplayError{Kind: model.ReplayNetwork, Message: err.Error()}
	}
	kind := model.ReplayNetwork
	switch de.Kind {
	case dispatch.KindTimeout:
		kind = model.ReplayTimeout
	case dispatch.KindInvalidRequest:
		kind = model.ReplayInvalidRequest
	case dispatch.KindCancelled:
		kind = model.ReplayCancelled
	}
	return &model.ReplayError{Kind: kind, Message: de.Error()}
}
