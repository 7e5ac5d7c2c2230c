package intruder

import (
	"sync"

	"netforge/internal/ringbuf"
	"netforge/pkg/model"
)

// ResultBuffer 有界结果缓冲区，写满后淘汰最旧结果
type ResultBuffer struct {
	mu      sync.Mutex
	buf     *ringbuf.Buffer[model.IntruderResult]
	evicted uint64
}

// NewResultBuffer 创建容量为 capacity 的结果缓冲区
func NewResultBuffer(capacity int) *ResultBuffer {
	return &ResultBuffer{buf: ringbuf.New[model.IntruderResult](capacity)}
}

func (b *ResultBuffer) Add(r model.IntruderResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.buf.Push(r); ok {
		b.evicted++
	}
}

// Snapshot 按从旧到新返回当前保留的结果
func (b *ResultBuffer) Snapshot() []model.IntruderResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Items()
}

func (b *ResultBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *ResultBuffer) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Cap()
}

func (b *ResultBuffer) Evicted() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}
