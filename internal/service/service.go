package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"netforge/internal/capture"
	"netforge/internal/cdp"
	"netforge/internal/config"
	"netforge/internal/dispatch"
	"netforge/internal/handler"
	"netforge/internal/logger"
	"netforge/internal/replay"
	"netforge/internal/rules"
	"netforge/internal/session"
	"netforge/internal/storage"
	"netforge/pkg/model"
	"netforge/pkg/rulespec"
	"netforge/pkg/traffic"
)

var (
	// ErrNotFound 捕获记录或攻击活动不存在
	ErrNotFound = errors.New("not found")
	// ErrStorageDisabled 未配置数据库时的持久化操作
	ErrStorageDisabled = errors.New("storage is disabled")
	// ErrInvalidSetting 设置键为空或由服务自身维护
	ErrInvalidSetting = errors.New("invalid setting")
)

// settingActiveRuleSet 记录最近一次加载的规则集名称
const settingActiveRuleSet = "rules.active_set"

// keepCampaigns 注册表最多保留的攻击活动数
const keepCampaigns = 64

// Service 组合捕获存储、规则引擎、重放与攻击引擎
type Service struct {
	cfg *config.Config
	log logger.Logger

	store     *capture.Store
	engine    *rules.Engine
	handler   *handler.Handler
	replay    *replay.Service
	attacker  dispatch.Sender
	campaigns *session.Manager
	bus       *Bus
	source    *cdp.Manager

	db        *gorm.DB
	ruleSets  *storage.RuleSetRepo
	summaries *storage.CampaignRepo
	settings  *storage.SettingRepo

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	activeSet string
}

// Option 服务选项
type Option func(*Service)

// WithAttackSender 替换攻击请求的发送器
func WithAttackSender(s dispatch.Sender) Option {
	return func(svc *Service) { svc.attacker = s }
}

// New 根据配置创建服务，sqlite.dsn 为空时不启用持久化
func New(cfg *config.Config, l logger.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if l == nil {
		l = logger.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:    cfg,
		log:    l,
		store:  capture.New(cfg.Capture.Capacity),
		engine: rules.New(l.With("component", "rules")),
		bus:    NewBus(4096),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, o := range opts {
		o(s)
	}
	s.campaigns = session.NewManager(keepCampaigns, l.With("component", "session"))
	s.handler = handler.New(handler.Config{
		Engine: s.engine,
		Store:  s.store,
		Events: s.bus.In(),
		Logger: l.With("component", "handler"),
	})

	replayClient, err := dispatch.New(dispatch.Options{
		Timeout:      time.Duration(cfg.Replay.TimeoutMS) * time.Millisecond,
		Insecure:     cfg.Replay.Insecure,
		Proxy:        cfg.Replay.Proxy,
		MaxBodyBytes: cfg.Replay.MaxBodyBytes,
	})
	if err != nil {
		s.shutdown()
		return nil, fmt.Errorf("replay client: %w", err)
	}
	s.replay = replay.New(s.store, replayClient, replay.Options{
		PreviewBytes: cfg.Replay.PreviewBytes,
		Record:       cfg.Replay.Record,
	}, l.With("component", "replay"))

	if s.attacker == nil {
		// 单请求超时由攻击活动控制
		c, err := dispatch.New(dispatch.Options{
			Insecure:     cfg.Intruder.Insecure,
			Proxy:        cfg.Intruder.Proxy,
			MaxBodyBytes: cfg.Intruder.MaxBodyBytes,
		})
		if err != nil {
			s.shutdown()
			return nil, fmt.Errorf("intruder client: %w", err)
		}
		s.attacker = c
	}

	if s.db == nil && cfg.Sqlite.Dsn != "" {
		db, err := storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, l.With("component", "gorm"))
		if err != nil {
			s.shutdown()
			return nil, err
		}
		s.db = db
	}
	if s.db != nil {
		s.ruleSets = storage.NewRuleSetRepo(s.db)
		s.summaries = storage.NewCampaignRepo(s.db)
		s.settings = storage.NewSettingRepo(s.db)
	}

	if err := s.loadInitialRules(); err != nil {
		s.shutdown()
		return nil, err
	}
	return s, nil
}

// loadInitialRules 优先加载 rules.file，否则加载数据库中的激活规则集
func (s *Service) loadInitialRules() error {
	if s.cfg.Rules.File != "" {
		rs, err := rulespec.LoadFile(s.cfg.Rules.File)
		if err != nil {
			return fmt.Errorf("load rules %s: %w", s.cfg.Rules.File, err)
		}
		s.LoadRules(rs)
		return nil
	}
	if s.ruleSets == nil {
		return nil
	}
	rs, ok, err := s.ruleSets.Active(s.ctx)
	if err != nil {
		s.log.Err(err, "读取激活规则集失败")
		return nil
	}
	if ok {
		s.LoadRules(rs)
		s.setActiveSet(rs.Name)
	}
	return nil
}

// Start 启动流量源
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.CDP.Enabled {
		s.log.Info("浏览器拦截未启用，仅接收外部推送的流量")
		return nil
	}
	s.source = cdp.New(cdp.Config{
		DevToolsURL:    s.cfg.CDP.DevToolsURL,
		Target:         s.cfg.CDP.Target,
		Concurrency:    s.cfg.CDP.Concurrency,
		QueueCapacity:  s.cfg.CDP.QueueCapacity,
		ProcessTimeout: time.Duration(s.cfg.CDP.ProcessTimeoutMS) * time.Millisecond,
		PendingLimit:   s.cfg.CDP.PendingLimit,
		PendingTTL:     time.Duration(s.cfg.CDP.PendingTTLMS) * time.Millisecond,
	}, s.handler, s.bus.In(), s.log)
	if err := s.source.Start(ctx); err != nil {
		s.source = nil
		return err
	}
	return nil
}

// Close 停止流量源、取消所有攻击活动并释放资源
func (s *Service) Close() error {
	var errs []error
	if s.source != nil {
		if err := s.source.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	s.campaigns.CancelAll()
	s.wg.Wait()
	s.shutdown()
	if n := s.bus.Dropped(); n > 0 {
		s.log.Warn("事件订阅者缓冲区已满，部分事件被丢弃", "dropped", n)
	}
	if s.db != nil {
		if err := storage.Close(s.db); err != nil {
			errs = append(errs, err)
		}
	}
	s.log.Info("服务已关闭")
	return errors.Join(errs...)
}

func (s *Service) shutdown() {
	s.cancel()
	s.bus.Close()
}

// Handler 实时流量处理器，供外部流量源使用
func (s *Service) Handler() *handler.Handler { return s.handler }

// SubscribeEvents 订阅事件流
func (s *Service) SubscribeEvents(buffer int) (<-chan model.Event, func()) {
	return s.bus.Subscribe(buffer)
}

// ---- 捕获 ----

// Captures 最近的捕获条目，按 ID 升序
func (s *Service) Captures(limit int) []traffic.Entry { return s.store.Recent(limit) }

// Capture 按 ID 获取捕获条目
func (s *Service) Capture(id uint64) (traffic.Entry, error) {
	e, ok := s.store.Get(id)
	if !ok {
		return traffic.Entry{}, fmt.Errorf("capture %d: %w", id, ErrNotFound)
	}
	return e, nil
}

// CaptureStats 捕获存储统计
func (s *Service) CaptureStats() model.CaptureStats { return s.store.Stats() }

// IngestRequest 接收外部流量源推送的请求，返回改写后的请求与捕获 ID
func (s *Service) IngestRequest(req traffic.Request) (traffic.Request, uint64, handler.Outcome) {
	return s.handler.HandleRequest(req)
}

// IngestResponse 接收外部流量源推送的响应
func (s *Service) IngestResponse(id uint64, resp traffic.Response) (traffic.Response, handler.Outcome, error) {
	e, ok := s.store.Get(id)
	if !ok {
		return traffic.Response{}, handler.OutcomePassed, fmt.Errorf("capture %d: %w", id, ErrNotFound)
	}
	final, outcome := s.handler.HandleResponse(id, e.Request, resp)
	return final, outcome, nil
}

// ---- 规则 ----

// LoadRules 替换当前规则集，返回正则编译诊断
func (s *Service) LoadRules(rs rulespec.RuleSet) []model.RuleDiagnostic {
	diags := s.engine.Load(rs.Rules)
	s.bus.Publish(model.Event{Type: model.EventRulesLoaded, Rules: ruleIDs(rs.Rules)})
	for _, d := range diags {
		s.bus.Publish(model.Event{Type: model.EventRuleError, Rules: []rulespec.RuleID{d.RuleID}, Error: d.Message})
	}
	s.setActiveSet("")
	return diags
}

func ruleIDs(rs []rulespec.Rule) []rulespec.RuleID {
	ids := make([]rulespec.RuleID, len(rs))
	for i, r := range rs {
		ids[i] = r.ID
	}
	return ids
}

// Rules 当前规则
func (s *Service) Rules() []rulespec.Rule { return s.engine.Rules() }

// RuleStates 当前规则运行状态
func (s *Service) RuleStates() []model.RuleState { return s.engine.States() }

// RuleStats 规则命中统计
func (s *Service) RuleStats() model.EngineStats { return s.engine.Stats() }

// SetRuleActive 切换规则启用状态，当前规则集来自数据库时同步写回
func (s *Service) SetRuleActive(ctx context.Context, id rulespec.RuleID, active bool) error {
	if !s.engine.SetActive(id, active) {
		return fmt.Errorf("rule %q: %w", id, ErrNotFound)
	}
	name := s.activeSetName()
	if name == "" || s.ruleSets == nil {
		return nil
	}
	if err := s.ruleSets.SetRuleActive(ctx, name, id, active); err != nil {
		return fmt.Errorf("persist rule toggle: %w", err)
	}
	return nil
}

// SaveRuleSet 持久化命名规则集
func (s *Service) SaveRuleSet(ctx context.Context, name string, rs rulespec.RuleSet) error {
	if s.ruleSets == nil {
		return ErrStorageDisabled
	}
	if name == "" {
		return fmt.Errorf("%w: rule set name is required", rulespec.ErrInvalidRule)
	}
	rs.EnsureIDs()
	if err := rs.Validate(); err != nil {
		return err
	}
	if err := s.ruleSets.Save(ctx, name, rs); err != nil {
		return err
	}
	s.log.Info("规则集已保存", "name", name, "count", len(rs.Rules))
	return nil
}

// RuleSets 已保存的规则集
func (s *Service) RuleSets(ctx context.Context) ([]storage.RuleSetRecord, error) {
	if s.ruleSets == nil {
		return nil, ErrStorageDisabled
	}
	return s.ruleSets.List(ctx)
}

// ActivateRuleSet 激活已保存的规则集并加载到引擎
func (s *Service) ActivateRuleSet(ctx context.Context, name string) ([]model.RuleDiagnostic, error) {
	if s.ruleSets == nil {
		return nil, ErrStorageDisabled
	}
	rs, err := s.ruleSets.Activate(ctx, name)
	if err != nil {
		return nil, err
	}
	diags := s.LoadRules(rs)
	s.setActiveSet(name)
	if err := s.settings.Set(ctx, settingActiveRuleSet, name); err != nil {
		s.log.Err(err, "记录激活规则集失败", "name", name)
	}
	return diags, nil
}

func (s *Service) setActiveSet(name string) {
	s.mu.Lock()
	s.activeSet = name
	s.mu.Unlock()
}

func (s *Service) activeSetName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSet
}

// Setting 读取持久化设置
func (s *Service) Setting(ctx context.Context, key string) (string, bool, error) {
	if s.settings == nil {
		return "", false, ErrStorageDisabled
	}
	return s.settings.Get(ctx, key)
}

// SetSetting 写入持久化设置，rules. 前缀保留给规则集激活
func (s *Service) SetSetting(ctx context.Context, key, value string) error {
	if key == "" || strings.HasPrefix(key, "rules.") {
		return fmt.Errorf("%w: key %q is reserved", ErrInvalidSetting, key)
	}
	if s.settings == nil {
		return ErrStorageDisabled
	}
	return s.settings.Set(ctx, key, value)
}

// ---- 重放 ----

// Replay 重放一次捕获的请求
func (s *Service) Replay(ctx context.Context, id uint64, ov model.ReplayOverrides) model.ReplayResult {
	res := s.replay.Replay(ctx, id, ov)
	evt := model.Event{Type: model.EventReplayDone, RequestID: id, Status: res.Status}
	if res.Error != nil {
		evt.Error = res.Error.Error()
	}
	s.bus.Publish(evt)
	return res
}
