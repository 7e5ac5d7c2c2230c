package capture

import (
	"sync"
	"time"

	"netforge/internal/ringbuf"
	"netforge/pkg/model"
	"netforge/pkg/traffic"
)

// Store 有界的请求/响应捕获日志，写满后淘汰最旧条目
type Store struct {
	mu       sync.RWMutex
	buf      *ringbuf.Buffer[traffic.Entry]
	nextID   uint64
	appended uint64
	evicted  uint64
}

// New 创建容量为 capacity 的捕获存储
func New(capacity int) *Store {
	return &Store{
		buf:    ringbuf.New[traffic.Entry](capacity),
		nextID: 1,
	}
}

// Append 记录请求并分配严格递增的 ID，ID 不会因淘汰而复用
func (s *Store) Append(req traffic.Request) uint64 {
	req = req.Clone()
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	req.ID = id
	if _, ok := s.buf.Push(traffic.Entry{Request: req}); ok {
		s.evicted++
	}
	s.appended++
	return id
}

// AttachResponse 为已记录的请求附加响应，ID 未知、已淘汰或已有响应时不做任何处理
func (s *Store) AttachResponse(id uint64, resp traffic.Response) bool {
	resp = resp.Clone()
	resp.RequestID = id
	if resp.DurationMS == 0 && resp.Duration > 0 {
		resp.DurationMS = resp.Duration.Milliseconds()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(id)
	if e == nil || e.Response != nil {
		return false
	}
	e.Response = &resp
	return true
}

// Get 按 ID 查找条目，返回深拷贝
func (s *Store) Get(id uint64) (traffic.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.entryLocked(id)
	if e == nil {
		return traffic.Entry{}, false
	}
	return e.Clone(), true
}

// Recent 返回最近 limit 条记录（从旧到新），limit <= 0 返回全部
func (s *Store) Recent(limit int) []traffic.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = s.buf.Len()
	}
	items := s.buf.Tail(limit)
	for i := range items {
		items[i] = items[i].Clone()
	}
	return items
}

// Stats 返回存储统计
func (s *Store) Stats() model.CaptureStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := model.CaptureStats{
		Capacity: s.buf.Cap(),
		Len:      s.buf.Len(),
		Appended: s.appended,
		Evicted:  s.evicted,
		NextID:   s.nextID,
	}
	if st.Len > 0 {
		st.OldestID = s.oldestLocked()
	}
	return st
}

// ID 连续分配，最旧条目的 ID 可由下一个 ID 与当前长度推出
func (s *Store) oldestLocked() uint64 {
	return s.nextID - uint64(s.buf.Len())
}

func (s *Store) entryLocked(id uint64) *traffic.Entry {
	if s.buf.Len() == 0 || id >= s.nextID {
		return nil
	}
	oldest := s.oldestLocked()
	if id < oldest {
		return nil
	}
	return s.buf.Ptr(int(id - oldest))
}
