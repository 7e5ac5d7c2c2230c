package api

import (
	"context"

	"netforge/internal/config"
	"netforge/internal/handler"
	"netforge/internal/logger"
	"netforge/internal/service"
	"netforge/internal/storage"
	"netforge/pkg/model"
	"netforge/pkg/rulespec"
	"netforge/pkg/traffic"
)

// Service 服务接口
type Service interface {
	// Start 启动流量源
	Start(ctx context.Context) error

	// Close 关闭服务
	Close() error

	// Captures 最近的捕获条目
	Captures(limit int) []traffic.Entry

	// Capture 按 ID 获取捕获条目
	Capture(id uint64) (traffic.Entry, error)

	// CaptureStats 捕获存储统计
	CaptureStats() model.CaptureStats

	// IngestRequest 推送外部流量源的请求
	IngestRequest(req traffic.Request) (traffic.Request, uint64, handler.Outcome)

	// IngestResponse 推送外部流量源的响应
	IngestResponse(id uint64, resp traffic.Response) (traffic.Response, handler.Outcome, error)

	// LoadRules 加载规则集
	LoadRules(rs rulespec.RuleSet) []model.RuleDiagnostic

	// Rules 当前规则
	Rules() []rulespec.Rule

	// RuleStates 规则运行状态
	RuleStates() []model.RuleState

	// RuleStats 获取规则统计信息
	RuleStats() model.EngineStats

	// SetRuleActive 启用或停用规则
	SetRuleActive(ctx context.Context, id rulespec.RuleID, active bool) error

	// SaveRuleSet 保存命名规则集
	SaveRuleSet(ctx context.Context, name string, rs rulespec.RuleSet) error

	// RuleSets 已保存的规则集
	RuleSets(ctx context.Context) ([]storage.RuleSetRecord, error)

	// ActivateRuleSet 激活规则集
	ActivateRuleSet(ctx context.Context, name string) ([]model.RuleDiagnostic, error)

	// Setting 读取持久化设置
	Setting(ctx context.Context, key string) (string, bool, error)

	// SetSetting 写入持久化设置
	SetSetting(ctx context.Context, key, value string) error

	// Replay 重放请求
	Replay(ctx context.Context, id uint64, ov model.ReplayOverrides) model.ReplayResult

	// GenerateIntruder 生成攻击请求
	GenerateIntruder(req model.IntruderGenerateRequest) (model.IntruderGenerateResponse, error)

	// StartCampaign 启动攻击活动
	StartCampaign(req model.CampaignRequest) (model.CampaignProgress, error)

	// Campaign 攻击活动进度
	Campaign(id model.CampaignID) (model.CampaignProgress, error)

	// CampaignResults 攻击活动结果
	CampaignResults(id model.CampaignID) ([]model.IntruderResult, error)

	// CancelCampaign 取消攻击活动
	CancelCampaign(id model.CampaignID) error

	// WaitCampaign 等待攻击活动结束
	WaitCampaign(ctx context.Context, id model.CampaignID) (model.CampaignProgress, error)

	// DeleteCampaign 移除攻击活动
	DeleteCampaign(id model.CampaignID) error

	// Campaigns 列出攻击活动
	Campaigns() []model.CampaignProgress

	// CampaignHistory 已持久化的攻击活动摘要
	CampaignHistory(ctx context.Context, limit int) ([]storage.CampaignRecord, error)

	// SubscribeEvents 订阅事件
	SubscribeEvents(buffer int) (<-chan model.Event, func())
}

var _ Service = (*service.Service)(nil)

// NewService 创建并返回服务接口实现
func NewService(cfg *config.Config, l logger.Logger, opts ...service.Option) (Service, error) {
	svc, err := service.New(cfg, l, opts...)
	if err != nil {
		return nil, err
	}
	return svc, nil
}
