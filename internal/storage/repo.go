package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"netforge/pkg/model"
	"netforge/pkg/rulespec"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("not found")

// RuleSetRepo 命名规则集仓储
type RuleSetRepo struct {
	db *gorm.DB
}

func NewRuleSetRepo(db *gorm.DB) *RuleSetRepo { return &RuleSetRepo{db: db} }

// Save 按名称新增或覆盖规则集，保持原有激活状态
func (r *RuleSetRepo) Save(ctx context.Context, name string, rs rulespec.RuleSet) error {
	rs.Name = name
	data, err := json.Marshal(rs)
	if err != nil {
		return fmt.Errorf("encode rule set: %w", err)
	}
	rec := RuleSetRecord{Name: name, Rules: string(data)}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"rules", "updated_at"}),
	}).Create(&rec).Error
}

// Get 读取规则集
func (r *RuleSetRepo) Get(ctx context.Context, name string) (rulespec.RuleSet, error) {
	rec, err := r.record(ctx, name)
	if err != nil {
		return rulespec.RuleSet{}, err
	}
	return rulespec.Parse([]byte(rec.Rules))
}

func (r *RuleSetRepo) record(ctx context.Context, name string) (RuleSetRecord, error) {
	var rec RuleSetRecord
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rec, fmt.Errorf("rule set %q: %w", name, ErrNotFound)
	}
	return rec, err
}

// List 返回全部规则集记录
func (r *RuleSetRepo) List(ctx context.Context) ([]RuleSetRecord, error) {
	var recs []RuleSetRecord
	err := r.db.WithContext(ctx).Order("name").Find(&recs).Error
	return recs, err
}

// Activate 将指定规则集设为唯一激活
func (r *RuleSetRepo) Activate(ctx context.Context, name string) (rulespec.RuleSet, error) {
	var rs rulespec.RuleSet
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec RuleSetRecord
		if err := tx.Where("name = ?", name).First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("rule set %q: %w", name, ErrNotFound)
			}
			return err
		}
		parsed, err := rulespec.Parse([]byte(rec.Rules))
		if err != nil {
			return err
		}
		if err := tx.Model(&RuleSetRecord{}).Where("active = ?", true).Update("active", false).Error; err != nil {
			return err
		}
		if err := tx.Model(&rec).Update("active", true).Error; err != nil {
			return err
		}
		rs = parsed
		return nil
	})
	return rs, err
}

// Active 返回当前激活的规则集
func (r *RuleSetRepo) Active(ctx context.Context) (rulespec.RuleSet, bool, error) {
	var rec RuleSetRecord
	err := r.db.WithContext(ctx).Where("active = ?", true).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rulespec.RuleSet{}, false, nil
	}
	if err != nil {
		return rulespec.RuleSet{}, false, err
	}
	rs, err := rulespec.Parse([]byte(rec.Rules))
	return rs, err == nil, err
}

// SetRuleActive 就地修改规则集 JSON 中单条规则的 active 字段
func (r *RuleSetRepo) SetRuleActive(ctx context.Context, name string, id rulespec.RuleID, active bool) error {
	rec, err := r.record(ctx, name)
	if err != nil {
		return err
	}
	idx := -1
	gjson.Get(rec.Rules, "rules").ForEach(func(key, value gjson.Result) bool {
		if value.Get("id").String() == string(id) {
			idx = int(key.Int())
			return false
		}
		return true
	})
	if idx < 0 {
		return fmt.Errorf("rule %q in %q: %w", id, name, ErrNotFound)
	}
	patched, err := sjson.Set(rec.Rules, fmt.Sprintf("rules.%d.active", idx), active)
	if err != nil {
		return fmt.Errorf("patch rule: %w", err)
	}
	return r.db.WithContext(ctx).Model(&rec).Update("rules", patched).Error
}

// CampaignRepo 攻击活动摘要仓储
type CampaignRepo struct {
	db *gorm.DB
}

func NewCampaignRepo(db *gorm.DB) *CampaignRepo { return &CampaignRepo{db: db} }

// SaveSummary 写入或更新活动摘要
func (r *CampaignRepo) SaveSummary(ctx context.Context, p model.CampaignProgress, target string, cfg model.IntruderConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	rec := CampaignRecord{
		ID:         string(p.ID),
		Name:       p.Name,
		AttackType: string(p.AttackType),
		Status:     string(p.Status),
		Target:     target,
		Total:      int64(p.Total),
		Dispatched: p.Dispatched,
		Completed:  p.Completed,
		Failed:     p.Failed,
		Evicted:    int64(p.Evicted),
		Config:     string(data),
		StartedAt:  p.StartedAt,
		FinishedAt: p.FinishedAt,
	}
	return r.db.WithContext(ctx).Save(&rec).Error
}

// Recent 按开始时间倒序返回最近的活动摘要
func (r *CampaignRepo) Recent(ctx context.Context, limit int) ([]CampaignRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []CampaignRecord
	err := r.db.WithContext(ctx).Order("started_at desc").Limit(limit).Find(&recs).Error
	return recs, err
}

// SettingRepo 键值配置仓储
type SettingRepo struct {
	db *gorm.DB
}

func NewSettingRepo(db *gorm.DB) *SettingRepo { return &SettingRepo{db: db} }

func (r *SettingRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var s Setting
	err := r.db.WithContext(ctx).Where(&Setting{Key: key}).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s.Value, true, nil
}

func (r *SettingRepo) Set(ctx context.Context, key, value string) error {
	return r.db.WithContext(ctx).Save(&Setting{Key: key, Value: value}).Error
}
