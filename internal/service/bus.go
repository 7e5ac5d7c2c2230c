package service

import (
	"sync"
	"time"

	"netforge/pkg/model"
)

// Bus 事件总线：单一输入通道，扇出到多个订阅者，慢订阅者丢弃事件
type Bus struct {
	in        chan model.Event
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.RWMutex
	subs   map[int]chan model.Event
	nextID int

	dropped uint64
}

// NewBus 创建并启动事件总线
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 1024
	}
	b := &Bus{
		in:   make(chan model.Event, buffer),
		stop: make(chan struct{}),
		done: make(chan struct{}),
		subs: make(map[int]chan model.Event),
	}
	go b.run()
	return b
}

// In 生产者写入端，写入方应非阻塞发送
func (b *Bus) In() chan<- model.Event { return b.in }

// Publish 非阻塞发布事件，缓冲区满时丢弃
func (b *Bus) Publish(evt model.Event) {
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}
	select {
	case b.in <- evt:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
	}
}

// Subscribe 订阅事件，返回只读通道和取消函数
func (b *Bus) Subscribe(buffer int) (<-chan model.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan model.Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
}

// Dropped 因缓冲区满被丢弃的事件数
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		select {
		case evt := <-b.in:
			b.broadcast(evt)
		case <-b.stop:
			return
		}
	}
}

func (b *Bus) broadcast(evt model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.dropped++
		}
	}
}

// Close 停止分发并关闭所有订阅通道
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.stop)
		<-b.done

		b.mu.Lock()
		for id, ch := range b.subs {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	})
}
