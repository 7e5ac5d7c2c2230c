package rules

import (
	"regexp"
	"sync"
	"sync/atomic"

	"netforge/pkg/model"
)

type compiled struct {
	re  *regexp.Regexp
	err error
}

// RegexCache 以模式串为键的正则编译缓存，读路径无锁，写入时复制
type RegexCache struct {
	m      atomic.Pointer[map[string]compiled]
	mu     sync.Mutex
	hits   atomic.Int64
	misses atomic.Int64
}

// RegexCacheStats 缓存统计
type RegexCacheStats = model.RegexCacheStats

// Default 进程级共享缓存
var Default = NewRegexCache()

// NewRegexCache 创建空缓存
func NewRegexCache() *RegexCache {
	c := &RegexCache{}
	empty := map[string]compiled{}
	c.m.Store(&empty)
	return c
}

// Get 返回已编译的正则，编译错误同样被缓存
func (c *RegexCache) Get(pattern string) (*regexp.Regexp, error) {
	if v, ok := (*c.m.Load())[pattern]; ok {
		c.hits.Add(1)
		return v.re, v.err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cur := *c.m.Load()
	if v, ok := cur[pattern]; ok {
		c.hits.Add(1)
		return v.re, v.err
	}
	c.misses.Add(1)
	re, err := regexp.Compile(pattern)
	next := make(map[string]compiled, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[pattern] = compiled{re: re, err: err}
	c.m.Store(&next)
	return re, err
}

// Stats 返回缓存统计
func (c *RegexCache) Stats() RegexCacheStats {
	return RegexCacheStats{
		Size:   len(*c.m.Load()),
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}
