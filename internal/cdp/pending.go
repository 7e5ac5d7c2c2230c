package cdp

import (
	"sync"
	"time"

	"github.com/mafredri/cdp/protocol/fetch"
)

const (
	defaultPendingLimit = 4096
	defaultPendingTTL   = 2 * time.Minute
)

type pendingEntry struct {
	pendingRequest
	at time.Time
}

// pendingTable 等待响应阶段的请求表，按插入顺序淘汰超量或过期的条目
type pendingTable struct {
	mu      sync.Mutex
	limit   int
	ttl     time.Duration
	now     func() time.Time
	items   map[fetch.RequestID]pendingEntry
	order   []fetch.RequestID
	evicted uint64
}

func newPendingTable(limit int, ttl time.Duration) *pendingTable {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	return &pendingTable{
		limit: limit,
		ttl:   ttl,
		now:   time.Now,
		items: make(map[fetch.RequestID]pendingEntry),
	}
}

// put 记录请求，返回本次淘汰的条目数
func (t *pendingTable) put(id fetch.RequestID, p pendingRequest) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.items[id] = pendingEntry{pendingRequest: p, at: now}
	t.order = append(t.order, id)
	return t.trim(now)
}

func (t *pendingTable) take(id fetch.RequestID) (pendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.items[id]
	if ok {
		delete(t.items, id)
	}
	return e.pendingRequest, ok
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

func (t *pendingTable) evictedCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evicted
}

// trim 从最旧处淘汰，已取走的 id 直接跳过
func (t *pendingTable) trim(now time.Time) int {
	n := 0
	for len(t.order) > 0 {
		head := t.order[0]
		e, ok := t.items[head]
		if !ok {
			t.order = t.order[1:]
			continue
		}
		if len(t.items) <= t.limit && now.Sub(e.at) <= t.ttl {
			break
		}
		delete(t.items, head)
		t.order = t.order[1:]
		t.evicted++
		n++
	}
	if len(t.order) > 2*t.limit {
		t.compact()
	}
	return n
}

func (t *pendingTable) compact() {
	live := make([]fetch.RequestID, 0, len(t.items))
	seen := make(map[fetch.RequestID]struct{}, len(t.items))
	for _, id := range t.order {
		if _, ok := t.items[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		live = append(live, id)
	}
	t.order = live
}
