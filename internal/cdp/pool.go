package cdp

import "sync"

// workerPool 固定数量的工作协程与有界任务队列，队列满时拒绝提交
type workerPool struct {
	tasks chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

func newWorkerPool(workers, queue int) *workerPool {
	if workers < 1 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	p := &workerPool{tasks: make(chan func(), queue)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// submit 非阻塞提交，队列已满返回 false
func (p *workerPool) submit(task func()) (ok bool) {
	defer func() {
		// 关闭后提交视为失败
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// stop 停止接收任务并等待队列中的任务完成
func (p *workerPool) stop() {
	p.once.Do(func() { close(p.tasks) })
	p.wg.Wait()
}
