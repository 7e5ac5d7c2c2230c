package rulespec

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrInvalidRule 规则结构不合法
var ErrInvalidRule = errors.New("invalid rule")

type ruleWire struct {
	ID        RuleID          `json:"id"`
	Active    *bool           `json:"active,omitempty"`
	Type      Stage           `json:"rule_type"`
	Condition json.RawMessage `json:"condition"`
	Action    json.RawMessage `json:"action"`
}

// MarshalJSON 输出带 type 标签的条件与动作
func (r Rule) MarshalJSON() ([]byte, error) {
	cond, err := EncodeCondition(r.Condition)
	if err != nil {
		return nil, err
	}
	act, err := EncodeAction(r.Action)
	if err != nil {
		return nil, err
	}
	active := r.Active
	return json.Marshal(ruleWire{
		ID:        r.ID,
		Active:    &active,
		Type:      r.Type,
		Condition: cond,
		Action:    act,
	})
}

// UnmarshalJSON 解析带 type 标签的条件与动作，缺省 active 视为 true
func (r *Rule) UnmarshalJSON(data []byte) error {
	var w ruleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	cond, err := DecodeCondition(w.Condition)
	if err != nil {
		return fmt.Errorf("rule %q: %w", w.ID, err)
	}
	act, err := DecodeAction(w.Action)
	if err != nil {
		return fmt.Errorf("rule %q: %w", w.ID, err)
	}
	*r = Rule{
		ID:        w.ID,
		Active:    w.Active == nil || *w.Active,
		Type:      w.Type,
		Condition: cond,
		Action:    act,
	}
	return nil
}

// EncodeCondition 序列化条件并写入 type 标签
func EncodeCondition(c Condition) ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}
	return encodeTagged(string(c.Kind()), c)
}

// EncodeAction 序列化动作并写入 type 标签
func EncodeAction(a Action) ([]byte, error) {
	if a == nil {
		return []byte("null"), nil
	}
	return encodeTagged(string(a.Kind()), a)
}

func encodeTagged(kind string, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(b, "type", kind)
}

// DecodeCondition 根据 type 标签解析具体条件
func DecodeCondition(data []byte) (Condition, error) {
	if isNull(data) {
		return nil, nil
	}
	kind := gjson.GetBytes(data, "type").String()
	switch ConditionKind(kind) {
	case CondURLContains:
		return decodeAs[URLContains](data)
	case CondHeaderContains:
		return decodeAs[HeaderContains](data)
	case CondBodyContains:
		return decodeAs[BodyContains](data)
	case CondURLRegex:
		return decodeAs[URLRegex](data)
	case CondHeaderRegex:
		return decodeAs[HeaderRegex](data)
	case CondBodyRegex:
		return decodeAs[BodyRegex](data)
	default:
		return nil, fmt.Errorf("%w: unknown condition type %q", ErrInvalidRule, kind)
	}
}

// DecodeAction 根据 type 标签解析具体动作
func DecodeAction(data []byte) (Action, error) {
	if isNull(data) {
		return nil, nil
	}
	kind := gjson.GetBytes(data, "type").String()
	switch ActionKind(kind) {
	case ActReplaceBody:
		return decodeAs[ReplaceBody](data)
	case ActSetHeader:
		return decodeAs[SetHeader](data)
	case ActRemoveHeader:
		return decodeAs[RemoveHeader](data)
	case ActRegexReplaceBody:
		return decodeAs[RegexReplaceBody](data)
	case ActRegexReplaceHeader:
		return decodeAs[RegexReplaceHeader](data)
	default:
		return nil, fmt.Errorf("%w: unknown action type %q", ErrInvalidRule, kind)
	}
}

func decodeAs[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return v, nil
}

func isNull(data []byte) bool {
	r := gjson.ParseBytes(data)
	return len(data) == 0 || r.Type == gjson.Null
}

// invalidJSON 把结构类型错误归入 ErrInvalidRule
func invalidJSON(err error) error {
	if errors.Is(err, ErrInvalidRule) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInvalidRule, err)
}

// Parse 解析规则集 JSON，同时接受 {"rules":[...]} 与裸数组两种形式
func Parse(data []byte) (RuleSet, error) {
	var rs RuleSet
	if !gjson.ValidBytes(data) {
		return rs, fmt.Errorf("%w: malformed json", ErrInvalidRule)
	}
	if gjson.ParseBytes(data).IsArray() {
		if err := json.Unmarshal(data, &rs.Rules); err != nil {
			return rs, invalidJSON(err)
		}
	} else if err := json.Unmarshal(data, &rs); err != nil {
		return rs, invalidJSON(err)
	}
	rs.EnsureIDs()
	if err := rs.Validate(); err != nil {
		return rs, err
	}
	return rs, nil
}

// LoadFile 从文件加载规则集
func LoadFile(path string) (RuleSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read rules: %w", err)
	}
	return Parse(b)
}

// EnsureIDs 为未指定 ID 的规则生成 UUID
func (rs *RuleSet) EnsureIDs() {
	for i := range rs.Rules {
		if rs.Rules[i].ID == "" {
			rs.Rules[i].ID = RuleID(uuid.NewString())
		}
	}
}
