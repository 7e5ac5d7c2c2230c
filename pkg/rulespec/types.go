package rulespec

// RuleID 规则ID
type RuleID string

// Stage 规则生效阶段
type Stage string

const (
	StageRequest  Stage = "Request"
	StageResponse Stage = "Response"
)

// Valid 判断阶段取值是否合法
func (s Stage) Valid() bool {
	return s == StageRequest || s == StageResponse
}

// Rule 单条规则：一个匹配条件 + 一个动作
type Rule struct {
	ID        RuleID    `json:"id"`
	Active    bool      `json:"active"`
	Type      Stage     `json:"rule_type"`
	Condition Condition `json:"condition"`
	Action    Action    `json:"action"`
}

// RuleSet 规则集，按列表顺序评估
type RuleSet struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	Rules   []Rule `json:"rules"`
}

// ConditionKind 匹配条件类型标签
type ConditionKind string

const (
	CondURLContains    ConditionKind = "UrlContains"
	CondHeaderContains ConditionKind = "HeaderContains"
	CondBodyContains   ConditionKind = "BodyContains"
	CondURLRegex       ConditionKind = "UrlRegex"
	CondHeaderRegex    ConditionKind = "HeaderRegex"
	CondBodyRegex      ConditionKind = "BodyRegex"
)

// Condition 匹配条件（封闭集合，仅本包内类型实现）
type Condition interface {
	Kind() ConditionKind
	isCondition()
}

// URLContains URL 子串匹配
type URLContains struct {
	Substr string `json:"substr"`
}

// HeaderContains 指定 Header 值子串匹配
type HeaderContains struct {
	Name   string `json:"name"`
	Substr string `json:"substr"`
}

// BodyContains 请求/响应体文本子串匹配
type BodyContains struct {
	Substr string `json:"substr"`
}

// URLRegex URL 正则匹配
type URLRegex struct {
	Pattern string `json:"pattern"`
}

// HeaderRegex 指定 Header 值正则匹配
type HeaderRegex struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
}

// BodyRegex 请求/响应体正则匹配
type BodyRegex struct {
	Pattern string `json:"pattern"`
}

func (URLContains) Kind() ConditionKind    { return CondURLContains }
func (HeaderContains) Kind() ConditionKind { return CondHeaderContains }
func (BodyContains) Kind() ConditionKind   { return CondBodyContains }
func (URLRegex) Kind() ConditionKind       { return CondURLRegex }
func (HeaderRegex) Kind() ConditionKind    { return CondHeaderRegex }
func (BodyRegex) Kind() ConditionKind      { return CondBodyRegex }

func (URLContains) isCondition()    {}
func (HeaderContains) isCondition() {}
func (BodyContains) isCondition()   {}
func (URLRegex) isCondition()       {}
func (HeaderRegex) isCondition()    {}
func (BodyRegex) isCondition()      {}

// ActionKind 动作类型标签
type ActionKind string

const (
	ActReplaceBody        ActionKind = "ReplaceBody"
	ActSetHeader          ActionKind = "SetHeader"
	ActRemoveHeader       ActionKind = "RemoveHeader"
	ActRegexReplaceBody   ActionKind = "RegexReplaceBody"
	ActRegexReplaceHeader ActionKind = "RegexReplaceHeader"
)

// Action 命中后执行的动作（封闭集合）
type Action interface {
	Kind() ActionKind
	isAction()
}

// ReplaceBody 字面量替换 body 中所有 Find
type ReplaceBody struct {
	Find    string `json:"find"`
	Replace string `json:"replace"`
}

// SetHeader 设置 Header
type SetHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RemoveHeader 删除 Header
type RemoveHeader struct {
	Name string `json:"name"`
}

// RegexReplaceBody 正则替换 body，支持 $1 捕获组
type RegexReplaceBody struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
}

// RegexReplaceHeader 正则替换指定 Header 的值
type RegexReplaceHeader struct {
	Name        string `json:"name"`
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
}

func (ReplaceBody) Kind() ActionKind        { return ActReplaceBody }
func (SetHeader) Kind() ActionKind          { return ActSetHeader }
func (RemoveHeader) Kind() ActionKind       { return ActRemoveHeader }
func (RegexReplaceBody) Kind() ActionKind   { return ActRegexReplaceBody }
func (RegexReplaceHeader) Kind() ActionKind { return ActRegexReplaceHeader }

func (ReplaceBody) isAction()        {}
func (SetHeader) isAction()          {}
func (RemoveHeader) isAction()       {}
func (RegexReplaceBody) isAction()   {}
func (RegexReplaceHeader) isAction() {}

// Patterns 返回条件与动作中出现的所有正则表达式
func (r Rule) Patterns() []string {
	var out []string
	switch c := r.Condition.(type) {
	case URLRegex:
		out = append(out, c.Pattern)
	case HeaderRegex:
		out = append(out, c.Pattern)
	case BodyRegex:
		out = append(out, c.Pattern)
	}
	switch a := r.Action.(type) {
	case RegexReplaceBody:
		out = append(out, a.Pattern)
	case RegexReplaceHeader:
		out = append(out, a.Pattern)
	}
	return out
}
