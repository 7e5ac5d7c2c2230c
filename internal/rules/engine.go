package rules

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"netforge/internal/logger"
	"netforge/pkg/model"
	"netforge/pkg/rulespec"
	"netforge/pkg/traffic"
)

// Result 一次流水线评估的结果
type Result struct {
	Entry    traffic.Entry
	Matched  []rulespec.RuleID
	Errors   []model.RuleDiagnostic
	Modified bool
}

// Evaluate 按列表顺序对条目执行规则流水线，每条规则看到前序规则的修改结果
func Evaluate(entry traffic.Entry, stage rulespec.Stage, rs []rulespec.Rule, cache *RegexCache) Result {
	if cache == nil {
		cache = Default
	}
	res := Result{Entry: entry.Clone()}
	for i := range rs {
		r := &rs[i]
		if !r.Active || r.Type != stage {
			continue
		}
		ok, err := matchCondition(&res.Entry, stage, r.Condition, cache)
		if err != nil {
			res.Errors = append(res.Errors, diagnose(r.ID, err))
			continue
		}
		if !ok {
			continue
		}
		changed, err := applyAction(&res.Entry, stage, r.Action, cache)
		if err != nil {
			res.Errors = append(res.Errors, diagnose(r.ID, err))
			continue
		}
		res.Matched = append(res.Matched, r.ID)
		res.Modified = res.Modified || changed
	}
	return res
}

type patternError struct {
	pattern string
	err     error
}

func (e *patternError) Error() string {
	return fmt.Sprintf("invalid regex %q: %v", e.pattern, e.err)
}

func diagnose(id rulespec.RuleID, err error) model.RuleDiagnostic {
	d := model.RuleDiagnostic{RuleID: id, Message: err.Error()}
	if pe, ok := err.(*patternError); ok {
		d.Pattern = pe.pattern
	}
	return d
}

func compile(cache *RegexCache, pattern string) (regexpMatcher, error) {
	re, err := cache.Get(pattern)
	if err != nil {
		return nil, &patternError{pattern: pattern, err: err}
	}
	return re, nil
}

// regexpMatcher 规则引擎用到的正则能力子集
type regexpMatcher interface {
	MatchString(s string) bool
	Match(b []byte) bool
	ReplaceAllString(src, repl string) string
	ReplaceAll(src, repl []byte) []byte
}

// view 当前阶段可被条件与动作访问的字段
type view struct {
	url     string
	headers *traffic.Headers
	body    *[]byte
}

func stageView(e *traffic.Entry, stage rulespec.Stage) (view, bool) {
	if stage == rulespec.StageResponse {
		if e.Response == nil {
			return view{}, false
		}
		return view{url: e.Request.URL, headers: &e.Response.Headers, body: &e.Response.Body}, true
	}
	return view{url: e.Request.URL, headers: &e.Request.Headers, body: &e.Request.Body}, true
}

func matchCondition(e *traffic.Entry, stage rulespec.Stage, c rulespec.Condition, cache *RegexCache) (bool, error) {
	v, ok := stageView(e, stage)
	if !ok {
		return false, nil
	}
	switch c := c.(type) {
	case rulespec.URLContains:
		return strings.Contains(v.url, c.Substr), nil
	case rulespec.HeaderContains:
		for _, val := range v.headers.Values(c.Name) {
			if strings.Contains(val, c.Substr) {
				return true, nil
			}
		}
		return false, nil
	case rulespec.BodyContains:
		return bytes.Contains(*v.body, []byte(c.Substr)), nil
	case rulespec.URLRegex:
		re, err := compile(cache, c.Pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(v.url), nil
	case rulespec.HeaderRegex:
		re, err := compile(cache, c.Pattern)
		if err != nil {
			return false, err
		}
		for _, val := range v.headers.Values(c.Name) {
			if re.MatchString(val) {
				return true, nil
			}
		}
		return false, nil
	case rulespec.BodyRegex:
		re, err := compile(cache, c.Pattern)
		if err != nil {
			return false, err
		}
		return re.Match(*v.body), nil
	default:
		return false, fmt.Errorf("unsupported condition %T", c)
	}
}

func applyAction(e *traffic.Entry, stage rulespec.Stage, a rulespec.Action, cache *RegexCache) (bool, error) {
	v, ok := stageView(e, stage)
	if !ok {
		return false, nil
	}
	switch a := a.(type) {
	case rulespec.ReplaceBody:
		if a.Find == "" {
			return false, nil
		}
		out := bytes.ReplaceAll(*v.body, []byte(a.Find), []byte(a.Replace))
		return setBody(v.body, out), nil
	case rulespec.SetHeader:
		before := v.headers.Clone()
		v.headers.Set(a.Name, a.Value)
		return !headersEqual(before, *v.headers), nil
	case rulespec.RemoveHeader:
		n := len(*v.headers)
		v.headers.Del(a.Name)
		return len(*v.headers) != n, nil
	case rulespec.RegexReplaceBody:
		re, err := compile(cache, a.Pattern)
		if err != nil {
			return false, err
		}
		if !re.Match(*v.body) {
			return false, nil
		}
		return setBody(v.body, re.ReplaceAll(*v.body, []byte(a.Replacement))), nil
	case rulespec.RegexReplaceHeader:
		re, err := compile(cache, a.Pattern)
		if err != nil {
			return false, err
		}
		changed := false
		for i := range *v.headers {
			f := &(*v.headers)[i]
			if !strings.EqualFold(f.Name, a.Name) || !re.MatchString(f.Value) {
				continue
			}
			nv := re.ReplaceAllString(f.Value, a.Replacement)
			if nv != f.Value {
				f.Value = nv
				changed = true
			}
		}
		return changed, nil
	default:
		return false, fmt.Errorf("unsupported action %T", a)
	}
}

func setBody(dst *[]byte, out []byte) bool {
	if bytes.Equal(*dst, out) {
		return false
	}
	*dst = out
	return true
}

func headersEqual(a, b traffic.Headers) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type loadedRule struct {
	rule   rulespec.Rule
	hits   atomic.Int64
	errMsg atomic.Pointer[string]
}

func (lr *loadedRule) errored() bool { return lr.errMsg.Load() != nil }

type ruleSet struct {
	rules []*loadedRule
	byID  map[rulespec.RuleID]*loadedRule
}

// Engine 持有当前生效的规则集，并发安全
type Engine struct {
	l     logger.Logger
	cache *RegexCache

	mu      sync.Mutex
	current atomic.Pointer[ruleSet]

	total   atomic.Int64
	matched atomic.Int64
}

// Option 引擎选项
type Option func(*Engine)

// WithRegexCache 指定正则缓存，默认使用进程级缓存
func WithRegexCache(c *RegexCache) Option {
	return func(e *Engine) { e.cache = c }
}

// New 创建规则引擎
func New(l logger.Logger, opts ...Option) *Engine {
	if l == nil {
		l = logger.NewNop()
	}
	e := &Engine{l: l, cache: Default}
	for _, o := range opts {
		o(e)
	}
	e.current.Store(&ruleSet{byID: map[rulespec.RuleID]*loadedRule{}})
	return e
}

// Load 替换规则集并预编译所有正则；编译失败的规则被标记为错误，其余规则照常生效
func (e *Engine) Load(rs []rulespec.Rule) []model.RuleDiagnostic {
	next := &ruleSet{
		rules: make([]*loadedRule, 0, len(rs)),
		byID:  make(map[rulespec.RuleID]*loadedRule, len(rs)),
	}
	var diags []model.RuleDiagnostic
	for _, r := range rs {
		lr := &loadedRule{rule: r}
		for _, p := range r.Patterns() {
			if _, err := compile(e.cache, p); err != nil {
				d := diagnose(r.ID, err)
				diags = append(diags, d)
				msg := d.Message
				lr.errMsg.Store(&msg)
				e.l.Warn("规则正则编译失败，已标记为错误", "rule", string(r.ID), "pattern", p, "error", err.Error())
				break
			}
		}
		next.rules = append(next.rules, lr)
		next.byID[r.ID] = lr
	}

	e.mu.Lock()
	e.current.Store(next)
	e.mu.Unlock()
	e.l.Info("规则集已加载", "count", len(rs), "errored", len(diags))
	return diags
}

// SetActive 切换规则启用状态，规则不存在时返回 false
func (e *Engine) SetActive(id rulespec.RuleID, active bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := e.current.Load()
	old, ok := cur.byID[id]
	if !ok {
		return false
	}
	next := &ruleSet{
		rules: make([]*loadedRule, len(cur.rules)),
		byID:  make(map[rulespec.RuleID]*loadedRule, len(cur.byID)),
	}
	for i, lr := range cur.rules {
		if lr == old {
			nr := &loadedRule{rule: lr.rule}
			nr.rule.Active = active
			nr.hits.Store(lr.hits.Load())
			nr.errMsg.Store(lr.errMsg.Load())
			lr = nr
		}
		next.rules[i] = lr
		next.byID[lr.rule.ID] = lr
	}
	e.current.Store(next)
	return true
}

// Rules 返回当前规则列表副本
func (e *Engine) Rules() []rulespec.Rule {
	cur := e.current.Load()
	out := make([]rulespec.Rule, len(cur.rules))
	for i, lr := range cur.rules {
		out[i] = lr.rule
	}
	return out
}

// Evaluate 对条目执行当前规则集中该阶段的流水线，错误规则被跳过
func (e *Engine) Evaluate(entry traffic.Entry, stage rulespec.Stage) Result {
	cur := e.current.Load()
	runnable := make([]rulespec.Rule, 0, len(cur.rules))
	for _, lr := range cur.rules {
		if lr.errored() || !lr.rule.Active || lr.rule.Type != stage {
			continue
		}
		runnable = append(runnable, lr.rule)
	}

	res := Evaluate(entry, stage, runnable, e.cache)

	e.total.Add(1)
	if len(res.Matched) > 0 {
		e.matched.Add(1)
	}
	for _, id := range res.Matched {
		if lr, ok := cur.byID[id]; ok {
			lr.hits.Add(1)
		}
	}
	for _, d := range res.Errors {
		if lr, ok := cur.byID[d.RuleID]; ok {
			msg := d.Message
			lr.errMsg.CompareAndSwap(nil, &msg)
		}
		e.l.Warn("规则执行失败，已跳过", "rule", string(d.RuleID), "stage", string(stage), "error", d.Message)
	}
	return res
}

// States 返回每条规则的运行状态
func (e *Engine) States() []model.RuleState {
	cur := e.current.Load()
	out := make([]model.RuleState, 0, len(cur.rules))
	for _, lr := range cur.rules {
		st := model.RuleState{
			ID:     lr.rule.ID,
			Stage:  lr.rule.Type,
			Active: lr.rule.Active,
			Hits:   lr.hits.Load(),
		}
		if msg := lr.errMsg.Load(); msg != nil {
			st.Errored = true
			st.Error = *msg
		}
		out = append(out, st)
	}
	return out
}

// Stats 返回引擎命中统计
func (e *Engine) Stats() model.EngineStats {
	cur := e.current.Load()
	by := make(map[rulespec.RuleID]int64, len(cur.rules))
	for _, lr := range cur.rules {
		by[lr.rule.ID] = lr.hits.Load()
	}
	return model.EngineStats{
		Total:      e.total.Load(),
		Matched:    e.matched.Load(),
		ByRule:     by,
		RegexCache: e.cache.Stats(),
	}
}
