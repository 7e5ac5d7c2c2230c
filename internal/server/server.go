package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"netforge/internal/intruder"
	"netforge/internal/logger"
	"netforge/internal/service"
	"netforge/internal/storage"
	"netforge/pkg/api"
	"netforge/pkg/rulespec"
)

// maxBodyBytes 单个 API 请求体上限
const maxBodyBytes = 16 << 20

// Server JSON API 与事件推送
type Server struct {
	svc    api.Service
	log    logger.Logger
	hub    *Hub
	unsub  func()
	mux    *http.ServeMux
	root   http.Handler
	server *http.Server
}

// New 创建服务器并注册路由
func New(svc api.Service, l logger.Logger) *Server {
	if l == nil {
		l = logger.NewNop()
	}
	events, unsub := svc.SubscribeEvents(1024)
	s := &Server{
		svc:   svc,
		log:   l.With("component", "server"),
		unsub: unsub,
		mux:   http.NewServeMux(),
	}
	s.hub = NewHub(events, s.log)
	s.registerRoutes()
	s.root = guard(s.mux, s.log)
	return s
}

// Handler 已注册全部路由的 http.Handler
func (s *Server) Handler() http.Handler { return s.root }

func (s *Server) registerRoutes() {
	m := s.mux
	m.HandleFunc("GET /api/captures", s.handleListCaptures)
	m.HandleFunc("POST /api/captures", s.handleIngestRequest)
	m.HandleFunc("GET /api/captures/stats", s.handleCaptureStats)
	m.HandleFunc("GET /api/captures/{id}", s.handleGetCapture)
	m.HandleFunc("POST /api/captures/{id}/response", s.handleIngestResponse)

	m.HandleFunc("GET /api/rules", s.handleGetRules)
	m.HandleFunc("PUT /api/rules", s.handleLoadRules)
	m.HandleFunc("POST /api/rules/{id}/active", s.handleSetRuleActive)
	m.HandleFunc("GET /api/rulesets", s.handleListRuleSets)
	m.HandleFunc("POST /api/rulesets/{name}", s.handleSaveRuleSet)
	m.HandleFunc("POST /api/rulesets/{name}/activate", s.handleActivateRuleSet)

	m.HandleFunc("GET /api/settings/{key}", s.handleGetSetting)
	m.HandleFunc("PUT /api/settings/{key}", s.handlePutSetting)

	m.HandleFunc("POST /api/replay/{id}", s.handleReplay)

	m.HandleFunc("POST /api/intruder/generate", s.handleGenerate)
	m.HandleFunc("GET /api/intruder/campaigns", s.handleListCampaigns)
	m.HandleFunc("POST /api/intruder/campaigns", s.handleStartCampaign)
	m.HandleFunc("GET /api/intruder/campaigns/{id}", s.handleGetCampaign)
	m.HandleFunc("DELETE /api/intruder/campaigns/{id}", s.handleDeleteCampaign)
	m.HandleFunc("GET /api/intruder/campaigns/{id}/results", s.handleCampaignResults)
	m.HandleFunc("POST /api/intruder/campaigns/{id}/cancel", s.handleCancelCampaign)
	m.HandleFunc("GET /api/intruder/history", s.handleCampaignHistory)

	m.Handle("GET /api/ws/events", s.hub)
}

// Start 在后台监听，返回底层 http.Server
func (s *Server) Start(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	s.server = &http.Server{
		Handler:           s.root,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info("HTTP 服务已启动", "addr", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Err(err, "HTTP 服务异常退出")
		}
	}()
	return s.server, nil
}

// Shutdown 停止监听并断开 websocket 客户端
func (s *Server) Shutdown(ctx context.Context) error {
	s.unsub()
	s.hub.Stop()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), errorBody{Error: err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, intruder.ErrInvalidConfig), errors.Is(err, rulespec.ErrInvalidRule),
		errors.Is(err, service.ErrInvalidSetting), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrStorageDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

// decodeJSON 解析请求体，空请求体保留 v 的零值
func decodeJSON(r *http.Request, v any) error {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", errBadRequest, err)
	}
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		if errors.Is(err, rulespec.ErrInvalidRule) {
			return err
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", errBadRequest, err)
	}
	return b, nil
}

func pathID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid id %q", errBadRequest, r.PathValue("id"))
	}
	return id, nil
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
