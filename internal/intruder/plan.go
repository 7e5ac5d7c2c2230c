package intruder

import (
	"strings"

	"netforge/pkg/model"
)

// Attack 单个待发送的攻击请求
type Attack struct {
	Index    int
	Payloads []string
	Body     string
}

// Plan 按下标寻址的确定性攻击序列，不预先展开
type Plan struct {
	template  string
	positions []model.Position
	lists     [][]string
	attack    model.AttackType
	total     int
}

// NewPlan 校验配置并创建攻击序列
func NewPlan(template string, cfg model.IntruderConfig, limits Limits) (*Plan, error) {
	total, err := validate(template, cfg, limits)
	if err != nil {
		return nil, err
	}
	lists := make([][]string, len(cfg.Payloads))
	for i, l := range cfg.Payloads {
		lists[i] = append([]string(nil), l...)
	}
	return &Plan{
		template:  template,
		positions: append([]model.Position(nil), cfg.Positions...),
		lists:     lists,
		attack:    cfg.AttackType,
		total:     total,
	}, nil
}

// Count 请求总数
func (p *Plan) Count() int { return p.total }

// AttackType 攻击策略
func (p *Plan) AttackType() model.AttackType { return p.attack }

// At 返回第 i 个攻击请求，i 必须在 [0, Count()) 内
func (p *Plan) At(i int) Attack {
	// nil 表示保留模板原值
	values := make([]*string, len(p.positions))
	var used []string

	switch p.attack {
	case model.Sniper:
		list := p.lists[0]
		pos, k := i/len(list), i%len(list)
		values[pos] = &list[k]
		used = []string{list[k]}
	case model.BatteringRam:
		v := p.lists[0][i]
		for j := range values {
			values[j] = &v
		}
		used = []string{v}
	case model.Pitchfork:
		used = make([]string, len(p.lists))
		for j, l := range p.lists {
			values[j] = &l[i]
			used[j] = l[i]
		}
	case model.ClusterBomb:
		used = make([]string, len(p.lists))
		rem := i
		for j := len(p.lists) - 1; j >= 0; j-- {
			l := p.lists[j]
			values[j] = &l[rem%len(l)]
			used[j] = l[rem%len(l)]
			rem /= len(l)
		}
	}
	return Attack{Index: i, Payloads: used, Body: p.render(values)}
}

func (p *Plan) render(values []*string) string {
	var b strings.Builder
	b.Grow(len(p.template))
	last := 0
	for j, pos := range p.positions {
		b.WriteString(p.template[last:pos.Start])
		if values[j] != nil {
			b.WriteString(*values[j])
		} else {
			b.WriteString(p.template[pos.Start:pos.End])
		}
		last = pos.End
	}
	b.WriteString(p.template[last:])
	return b.String()
}

// Generate 展开全部请求文本
func Generate(template string, cfg model.IntruderConfig, limits Limits) ([]string, error) {
	plan, err := NewPlan(template, cfg, limits)
	if err != nil {
		return nil, err
	}
	out := make([]string, plan.Count())
	size := 0
	for i := range out {
		out[i] = plan.At(i).Body
		size += len(out[i])
		if limits.MaxBytes > 0 && size > limits.MaxBytes {
			return nil, invalidf("generated requests exceed %d bytes after %d of %d", limits.MaxBytes, i+1, len(out))
		}
	}
	return out, nil
}
