package intruder

import (
	"errors"
	"fmt"
	"math"

	"netforge/pkg/model"
)

// ErrInvalidConfig 攻击配置不合法，在生成或发送任何请求前返回
var ErrInvalidConfig = errors.New("invalid intruder config")

// Limits 生成与运行规模上限，字段 <= 0 表示不限制
type Limits struct {
	MaxRequests int
	// MaxBytes 物化生成结果时的总字节数上限
	MaxBytes int
	// MaxInFlight 与 MaxResultCapacity 约束单个攻击活动的覆盖参数
	MaxInFlight       int
	MaxResultCapacity int
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate 校验模板与配置：位置有序、互不重叠且在模板范围内，载荷列表数量与攻击策略匹配
func Validate(template string, cfg model.IntruderConfig, limits Limits) error {
	_, err := validate(template, cfg, limits)
	return err
}

// validate 返回校验通过后的请求总数
func validate(template string, cfg model.IntruderConfig, limits Limits) (int, error) {
	if !cfg.AttackType.Valid() {
		return 0, invalidf("unknown attack type %q", cfg.AttackType)
	}
	if len(cfg.Positions) == 0 {
		return 0, invalidf("at least one position is required")
	}
	for i, p := range cfg.Positions {
		if p.Start < 0 || p.End < p.Start || p.End > len(template) {
			return 0, invalidf("position %d [%d,%d) out of template bounds (len %d)", i, p.Start, p.End, len(template))
		}
		if i == 0 {
			continue
		}
		prev := cfg.Positions[i-1]
		if p.Start < prev.Start {
			return 0, invalidf("positions must be sorted: position %d starts at %d before %d", i, p.Start, prev.Start)
		}
		if p.Start < prev.End || p.Start == prev.Start {
			return 0, invalidf("position %d [%d,%d) overlaps position %d [%d,%d)", i, p.Start, p.End, i-1, prev.Start, prev.End)
		}
	}

	lists := cfg.Payloads
	switch cfg.AttackType {
	case model.Sniper, model.BatteringRam:
		if len(lists) != 1 {
			return 0, invalidf("%s requires exactly one payload list, got %d", cfg.AttackType, len(lists))
		}
	case model.Pitchfork, model.ClusterBomb:
		if len(lists) != len(cfg.Positions) {
			return 0, invalidf("%s requires one payload list per position (%d), got %d", cfg.AttackType, len(cfg.Positions), len(lists))
		}
	}
	for i, l := range lists {
		if len(l) == 0 {
			return 0, invalidf("payload list %d is empty", i)
		}
	}

	total, ok := count(cfg.AttackType, len(cfg.Positions), lists)
	if !ok || (limits.MaxRequests > 0 && total > limits.MaxRequests) {
		return 0, invalidf("attack would generate more than %d requests", limits.MaxRequests)
	}
	return total, nil
}

// count 计算请求总数，溢出时返回 false
func count(at model.AttackType, positions int, lists [][]string) (int, bool) {
	switch at {
	case model.Sniper:
		n := len(lists[0])
		if n > math.MaxInt/positions {
			return 0, false
		}
		return positions * n, true
	case model.BatteringRam:
		return len(lists[0]), true
	case model.Pitchfork:
		n := len(lists[0])
		for _, l := range lists[1:] {
			n = min(n, len(l))
		}
		return n, true
	case model.ClusterBomb:
		n := 1
		for _, l := range lists {
			if n > math.MaxInt/len(l) {
				return 0, false
			}
			n *= len(l)
		}
		return n, true
	}
	return 0, false
}
