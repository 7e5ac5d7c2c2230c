package session

import (
	"sync"

	"netforge/internal/intruder"
	"netforge/internal/logger"
	"netforge/pkg/model"
)

// Manager 攻击活动注册表，按活动 ID 查找
type Manager struct {
	mu        sync.RWMutex
	campaigns map[model.CampaignID]*intruder.Campaign
	order     []model.CampaignID
	keep      int
	log       logger.Logger
}

// NewManager 创建注册表，keep 为最多保留的活动数（<=0 不限制），超出时移除最早的已结束活动
func NewManager(keep int, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		campaigns: make(map[model.CampaignID]*intruder.Campaign),
		keep:      keep,
		log:       l,
	}
}

// Register 注册新活动
func (m *Manager) Register(c *intruder.Campaign) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.campaigns[c.ID()] = c
	m.order = append(m.order, c.ID())
	m.pruneLocked()
	m.log.Info("注册攻击活动", "campaign", string(c.ID()))
}

func (m *Manager) pruneLocked() {
	if m.keep <= 0 || len(m.order) <= m.keep {
		return
	}
	kept := m.order[:0]
	excess := len(m.order) - m.keep
	for _, id := range m.order {
		c := m.campaigns[id]
		if excess > 0 && finished(c) {
			delete(m.campaigns, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

func finished(c *intruder.Campaign) bool {
	select {
	case <-c.Finished():
		return true
	default:
		return false
	}
}

// Get 获取活动
func (m *Manager) Get(id model.CampaignID) (*intruder.Campaign, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.campaigns[id]
	return c, ok
}

// Delete 移除活动，运行中的活动会先被取消
func (m *Manager) Delete(id model.CampaignID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return false
	}
	c.Cancel()
	delete(m.campaigns, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.log.Info("移除攻击活动", "campaign", string(id))
	return true
}

// List 按注册顺序返回所有活动的进度
func (m *Manager) List() []model.CampaignProgress {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]model.CampaignProgress, 0, len(m.order))
	for _, id := range m.order {
		list = append(list, m.campaigns[id].Progress())
	}
	return list
}

// CancelAll 取消所有活动
func (m *Manager) CancelAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.campaigns {
		c.Cancel()
	}
}
