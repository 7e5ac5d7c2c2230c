package model

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"netforge/pkg/rulespec"
	"netforge/pkg/traffic"
)

type CampaignID string

// EventType 事件类型
type EventType string

const (
	EventRequestCaptured  EventType = "request_captured"
	EventResponseCaptured EventType = "response_captured"
	EventRuleError        EventType = "rule_error"
	EventRulesLoaded      EventType = "rules_loaded"
	EventReplayDone       EventType = "replay_done"
	EventCampaignStarted  EventType = "campaign_started"
	EventCampaignResult   EventType = "campaign_result"
	EventCampaignFinished EventType = "campaign_finished"
	EventDegraded         EventType = "degraded"
)

// Event 推送给前端/订阅者的事件
type Event struct {
	Type      EventType         `json:"type"`
	Timestamp int64             `json:"timestamp_ms"`
	RequestID uint64            `json:"request_id,omitempty"`
	Campaign  CampaignID        `json:"campaign,omitempty"`
	Rules     []rulespec.RuleID `json:"rules,omitempty"`
	URL       string            `json:"url,omitempty"`
	Method    string            `json:"method,omitempty"`
	Status    int               `json:"status,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// EngineStats 规则引擎命中统计
type EngineStats struct {
	Total      int64                     `json:"total"`
	Matched    int64                     `json:"matched"`
	ByRule     map[rulespec.RuleID]int64 `json:"by_rule"`
	RegexCache RegexCacheStats           `json:"regex_cache"`
}

// RegexCacheStats 正则缓存统计
type RegexCacheStats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// RuleState 已加载规则的运行状态
type RuleState struct {
	ID      rulespec.RuleID `json:"id"`
	Stage   rulespec.Stage  `json:"rule_type"`
	Active  bool            `json:"active"`
	Errored bool            `json:"errored"`
	Error   string          `json:"error,omitempty"`
	Hits    int64           `json:"hits"`
}

// RuleDiagnostic 规则加载或执行时的诊断信息
type RuleDiagnostic struct {
	RuleID  rulespec.RuleID `json:"rule_id"`
	Pattern string          `json:"pattern,omitempty"`
	Message string          `json:"message"`
}

// CaptureStats 捕获存储统计
type CaptureStats struct {
	Capacity int    `json:"capacity"`
	Len      int    `json:"len"`
	Appended uint64 `json:"appended"`
	Evicted  uint64 `json:"evicted"`
	OldestID uint64 `json:"oldest_id"`
	NextID   uint64 `json:"next_id"`
}

// AttackType 攻击策略
type AttackType string

const (
	Sniper       AttackType = "Sniper"
	BatteringRam AttackType = "BatteringRam"
	Pitchfork    AttackType = "Pitchfork"
	ClusterBomb  AttackType = "ClusterBomb"
)

// Valid 判断攻击策略是否为已知取值
func (a AttackType) Valid() bool {
	switch a {
	case Sniper, BatteringRam, Pitchfork, ClusterBomb:
		return true
	}
	return false
}

// Position 模板中的替换位置，[Start, End) 字节区间
type Position struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Name  string `json:"name,omitempty"`
}

// PayloadLists 载荷列表，线上格式接受 [string] 或 [[string]]
type PayloadLists [][]string

// UnmarshalJSON 扁平数组视为单个列表
func (p *PayloadLists) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	if r.Type == gjson.Null {
		*p = nil
		return nil
	}
	if !r.IsArray() {
		return fmt.Errorf("payloads: expected array")
	}
	items := r.Array()
	if len(items) == 0 {
		*p = PayloadLists{}
		return nil
	}
	if items[0].IsArray() {
		var nested [][]string
		if err := json.Unmarshal(data, &nested); err != nil {
			return fmt.Errorf("payloads: %w", err)
		}
		*p = nested
		return nil
	}
	var flat []string
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("payloads: %w", err)
	}
	*p = PayloadLists{flat}
	return nil
}

// IntruderConfig 攻击配置
type IntruderConfig struct {
	Positions  []Position   `json:"positions"`
	Payloads   PayloadLists `json:"payloads"`
	AttackType AttackType   `json:"attack_type"`
}

// IntruderGenerateRequest 生成请求
type IntruderGenerateRequest struct {
	Template string         `json:"template"`
	Config   IntruderConfig `json:"config"`
}

// IntruderGenerateResponse 生成结果
type IntruderGenerateResponse struct {
	Requests []string `json:"requests"`
}

// IntruderResult 单个攻击请求的结果，Status 为 -1 表示失败
type IntruderResult struct {
	RequestID  uint64   `json:"request_id"`
	Payloads   []string `json:"payloads"`
	Status     int      `json:"status"`
	Length     int64    `json:"length"`
	DurationMS int64    `json:"duration_ms"`
	Error      string   `json:"error,omitempty"`
	Timestamp  int64    `json:"timestamp_ms"`
}

// FailedStatus 失败结果的状态码标记
const FailedStatus = -1

// Failed 是否为失败结果
func (r IntruderResult) Failed() bool { return r.Status == FailedStatus }

// CampaignRequest 启动攻击活动的参数
type CampaignRequest struct {
	Name     string         `json:"name,omitempty"`
	Template string         `json:"template"`
	Target   string         `json:"target"`
	Config   IntruderConfig `json:"config"`
	// 以下为可选覆盖项，零值使用全局配置
	MaxInFlight    int     `json:"max_in_flight,omitempty"`
	TimeoutMS      int     `json:"timeout_ms,omitempty"`
	ResultCapacity int     `json:"result_capacity,omitempty"`
	RatePerSecond  float64 `json:"rate_per_second,omitempty"`
}

// CampaignStatus 攻击活动状态
type CampaignStatus string

const (
	CampaignPending   CampaignStatus = "pending"
	CampaignRunning   CampaignStatus = "running"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// CampaignProgress 攻击活动进度
type CampaignProgress struct {
	ID         CampaignID     `json:"id"`
	Name       string         `json:"name,omitempty"`
	AttackType AttackType     `json:"attack_type"`
	Status     CampaignStatus `json:"status"`
	Total      int            `json:"total"`
	Dispatched int64          `json:"dispatched"`
	Completed  int64          `json:"completed"`
	Failed     int64          `json:"failed"`
	Retained   int            `json:"retained"`
	Capacity   int            `json:"result_capacity"`
	Evicted    uint64         `json:"evicted"`
	StartedAt  int64          `json:"started_at_ms,omitempty"`
	FinishedAt int64          `json:"finished_at_ms,omitempty"`
}

// ReplayOverrides 重放覆盖项，未提供的字段沿用捕获的请求
type ReplayOverrides struct {
	Method  *string          `json:"method,omitempty"`
	URL     *string          `json:"url,omitempty"`
	Headers *traffic.Headers `json:"headers,omitempty"`
	Body    *[]byte          `json:"body,omitempty"`
}

// ReplayErrorKind 重放错误分类
type ReplayErrorKind string

const (
	ReplayTimeout        ReplayErrorKind = "timeout"
	ReplayNetwork        ReplayErrorKind = "network"
	ReplayInvalidRequest ReplayErrorKind = "invalid_request"
	ReplayCancelled      ReplayErrorKind = "cancelled"
)

// ReplayError 重放失败的类型化错误
type ReplayError struct {
	Kind    ReplayErrorKind `json:"kind"`
	Message string          `json:"message"`
}

func (e *ReplayError) Error() string { return string(e.Kind) + ": " + e.Message }

// ReplayResult 重放结果，BodyPreview 受预览上限截断
type ReplayResult struct {
	ID          string          `json:"id"`
	RequestID   uint64          `json:"request_id"`
	CaptureID   uint64          `json:"capture_id,omitempty"`
	Status      int             `json:"status"`
	DurationMS  int64           `json:"duration_ms"`
	TimestampMS int64           `json:"timestamp_ms"`
	Headers     traffic.Headers `json:"headers"`
	BodyPreview []byte          `json:"body_preview"`
	BodySize    int64           `json:"body_size"`
	Truncated   bool            `json:"truncated"`
	Error       *ReplayError    `json:"error,omitempty"`
}
