package service

import (
	"context"
	"fmt"
	"time"

	"netforge/internal/intruder"
	"netforge/internal/storage"
	"netforge/pkg/model"
)

func (s *Service) limits() intruder.Limits {
	c := s.cfg.Intruder
	return intruder.Limits{
		MaxRequests:       c.MaxRequests,
		MaxInFlight:       c.MaxInFlightLimit,
		MaxResultCapacity: c.ResultCapacityLimit,
	}
}

// generateLimits 生成结果整体返回，上限低于攻击活动
func (s *Service) generateLimits() intruder.Limits {
	c := s.cfg.Intruder
	lim := intruder.Limits{MaxRequests: c.MaxRequests, MaxBytes: c.GenerateMaxBytes}
	if c.GenerateMaxRequests > 0 && (lim.MaxRequests <= 0 || c.GenerateMaxRequests < lim.MaxRequests) {
		lim.MaxRequests = c.GenerateMaxRequests
	}
	return lim
}

// GenerateIntruder 按攻击配置展开全部请求文本，配置错误不产生任何副作用
func (s *Service) GenerateIntruder(req model.IntruderGenerateRequest) (model.IntruderGenerateResponse, error) {
	reqs, err := intruder.Generate(req.Template, req.Config, s.generateLimits())
	if err != nil {
		return model.IntruderGenerateResponse{}, err
	}
	return model.IntruderGenerateResponse{Requests: reqs}, nil
}

// campaignOptions 请求中的覆盖项优先，其余取全局配置
func (s *Service) campaignOptions(req model.CampaignRequest) intruder.Options {
	c := s.cfg.Intruder
	opts := intruder.Options{
		MaxInFlight:    c.MaxInFlight,
		Timeout:        time.Duration(c.TimeoutMS) * time.Millisecond,
		ResultCapacity: c.ResultCapacity,
		RatePerSecond:  c.RatePerSecond,
		Limits:         s.limits(),
	}
	if req.MaxInFlight > 0 {
		opts.MaxInFlight = req.MaxInFlight
	}
	if req.TimeoutMS > 0 {
		opts.Timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	if req.ResultCapacity > 0 {
		opts.ResultCapacity = req.ResultCapacity
	}
	if req.RatePerSecond > 0 {
		opts.RatePerSecond = req.RatePerSecond
	}
	return opts
}

// StartCampaign 校验并在后台启动攻击活动
func (s *Service) StartCampaign(req model.CampaignRequest) (model.CampaignProgress, error) {
	opts := s.campaignOptions(req)
	var id model.CampaignID
	opts.OnResult = func(r model.IntruderResult) {
		s.bus.Publish(model.Event{Type: model.EventCampaignResult, Campaign: id, RequestID: r.RequestID, Status: r.Status, Error: r.Error})
	}
	c, err := intruder.NewCampaign(req, s.attacker, opts, s.log.With("component", "intruder"))
	if err != nil {
		return model.CampaignProgress{}, err
	}
	id = c.ID()
	s.campaigns.Register(c)
	s.bus.Publish(model.Event{Type: model.EventCampaignStarted, Campaign: id})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := c.Run(s.ctx); err != nil {
			s.log.Err(err, "攻击活动运行失败", "campaign", string(id))
		}
		p := c.Progress()
		s.bus.Publish(model.Event{Type: model.EventCampaignFinished, Campaign: id})
		s.persistSummary(p, req)
	}()
	return c.Progress(), nil
}

func (s *Service) persistSummary(p model.CampaignProgress, req model.CampaignRequest) {
	if s.summaries == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.summaries.SaveSummary(ctx, p, req.Target, req.Config); err != nil {
		s.log.Err(err, "保存攻击活动摘要失败", "campaign", string(p.ID))
	}
}

func (s *Service) campaign(id model.CampaignID) (*intruder.Campaign, error) {
	c, ok := s.campaigns.Get(id)
	if !ok {
		return nil, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	return c, nil
}

// Campaign 攻击活动进度
func (s *Service) Campaign(id model.CampaignID) (model.CampaignProgress, error) {
	c, err := s.campaign(id)
	if err != nil {
		return model.CampaignProgress{}, err
	}
	return c.Progress(), nil
}

// CampaignResults 攻击活动保留的结果
func (s *Service) CampaignResults(id model.CampaignID) ([]model.IntruderResult, error) {
	c, err := s.campaign(id)
	if err != nil {
		return nil, err
	}
	return c.Results(), nil
}

// CancelCampaign 停止派发新请求，已发出的请求继续完成
func (s *Service) CancelCampaign(id model.CampaignID) error {
	c, err := s.campaign(id)
	if err != nil {
		return err
	}
	c.Cancel()
	s.log.Info("攻击活动已取消", "campaign", string(id))
	return nil
}

// WaitCampaign 阻塞直到攻击活动结束或 ctx 结束
func (s *Service) WaitCampaign(ctx context.Context, id model.CampaignID) (model.CampaignProgress, error) {
	c, err := s.campaign(id)
	if err != nil {
		return model.CampaignProgress{}, err
	}
	select {
	case <-c.Finished():
		return c.Progress(), nil
	case <-ctx.Done():
		return c.Progress(), ctx.Err()
	}
}

// DeleteCampaign 移除攻击活动
func (s *Service) DeleteCampaign(id model.CampaignID) error {
	if !s.campaigns.Delete(id) {
		return fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	return nil
}

// Campaigns 注册表中的攻击活动
func (s *Service) Campaigns() []model.CampaignProgress { return s.campaigns.List() }

// CampaignHistory 已持久化的攻击活动摘要
func (s *Service) CampaignHistory(ctx context.Context, limit int) ([]storage.CampaignRecord, error) {
	if s.summaries == nil {
		return nil, ErrStorageDisabled
	}
	return s.summaries.Recent(ctx, limit)
}
