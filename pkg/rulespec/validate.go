package rulespec

import (
	"fmt"
	"strings"
)

// Validate 校验单条规则结构，正则能否编译由引擎在加载时判定
func (r Rule) Validate() error {
	if strings.TrimSpace(string(r.ID)) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: rule %q: rule_type must be Request or Response, got %q", ErrInvalidRule, r.ID, r.Type)
	}
	if r.Condition == nil {
		return fmt.Errorf("%w: rule %q: condition is required", ErrInvalidRule, r.ID)
	}
	if r.Action == nil {
		return fmt.Errorf("%w: rule %q: action is required", ErrInvalidRule, r.ID)
	}
	if err := validateCondition(r.Condition); err != nil {
		return fmt.Errorf("%w: rule %q: %v", ErrInvalidRule, r.ID, err)
	}
	if err := validateAction(r.Action); err != nil {
		return fmt.Errorf("%w: rule %q: %v", ErrInvalidRule, r.ID, err)
	}
	return nil
}

func validateCondition(c Condition) error {
	switch c := c.(type) {
	case URLContains, BodyContains:
		return nil
	case HeaderContains:
		return requireName(c.Name)
	case URLRegex:
		return requirePattern(c.Pattern)
	case HeaderRegex:
		if err := requireName(c.Name); err != nil {
			return err
		}
		return requirePattern(c.Pattern)
	case BodyRegex:
		return requirePattern(c.Pattern)
	default:
		return fmt.Errorf("unsupported condition %T", c)
	}
}

func validateAction(a Action) error {
	switch a := a.(type) {
	case ReplaceBody:
		if a.Find == "" {
			return fmt.Errorf("ReplaceBody.find must be non-empty")
		}
		return nil
	case SetHeader:
		return requireName(a.Name)
	case RemoveHeader:
		return requireName(a.Name)
	case RegexReplaceBody:
		return requirePattern(a.Pattern)
	case RegexReplaceHeader:
		if err := requireName(a.Name); err != nil {
			return err
		}
		return requirePattern(a.Pattern)
	default:
		return fmt.Errorf("unsupported action %T", a)
	}
}

func requireName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("header name is required")
	}
	return nil
}

func requirePattern(p string) error {
	if p == "" {
		return fmt.Errorf("pattern is required")
	}
	return nil
}

// Validate 校验规则集，要求 ID 唯一
func (rs RuleSet) Validate() error {
	seen := make(map[RuleID]struct{}, len(rs.Rules))
	for _, r := range rs.Rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, ok := seen[r.ID]; ok {
			return fmt.Errorf("%w: duplicate rule id %q", ErrInvalidRule, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}
