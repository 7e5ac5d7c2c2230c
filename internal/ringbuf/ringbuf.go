package ringbuf

// Buffer 固定容量的 FIFO 环形缓冲区，写满后淘汰最旧元素。非并发安全，由持有者加锁
type Buffer[T any] struct {
	items []T
	head  int
	size  int
}

// New 创建容量为 capacity 的缓冲区，capacity 小于 1 时按 1 处理
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push 追加元素，缓冲区已满时返回被淘汰的元素
func (b *Buffer[T]) Push(v T) (evicted T, ok bool) {
	if b.size < len(b.items) {
		b.items[(b.head+b.size)%len(b.items)] = v
		b.size++
		return evicted, false
	}
	evicted = b.items[b.head]
	b.items[b.head] = v
	b.head = (b.head + 1) % len(b.items)
	return evicted, true
}

// At 返回第 i 个元素（0 为最旧）
func (b *Buffer[T]) At(i int) (T, bool) {
	var zero T
	if i < 0 || i >= b.size {
		return zero, false
	}
	return b.items[(b.head+i)%len(b.items)], true
}

// Ptr 返回第 i 个元素的指针，仅在持锁期间有效
func (b *Buffer[T]) Ptr(i int) *T {
	if i < 0 || i >= b.size {
		return nil
	}
	return &b.items[(b.head+i)%len(b.items)]
}

func (b *Buffer[T]) Len() int { return b.size }

func (b *Buffer[T]) Cap() int { return len(b.items) }

// Items 按从旧到新的顺序返回元素副本切片
func (b *Buffer[T]) Items() []T {
	return b.Tail(b.size)
}

// Tail 返回最新的 n 个元素，从旧到新
func (b *Buffer[T]) Tail(n int) []T {
	if n > b.size {
		n = b.size
	}
	if n <= 0 {
		return []T{}
	}
	out := make([]T, 0, n)
	for i := b.size - n; i < b.size; i++ {
		out = append(out, b.items[(b.head+i)%len(b.items)])
	}
	return out
}
