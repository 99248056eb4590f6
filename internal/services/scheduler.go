// internal/services/scheduler.go
package services

import (
	"sync"
	"time"
)

// 定时器命名空间，键 = 命名空间 + 对象ID，保证不同用途的定时器互不干扰
const (
	timerNSArm        = "arm"        // 延迟解锁的重新评估
	timerNSStatus     = "status"     // 可重复对象的复位
	timerNSDeactivate = "deactivate" // 激活展示的自动消隐
	timerNSTimer      = "timer"      // timer 类型触发器的倒计时
)

// TimerFactory 创建一个单次定时器并返回其取消函数。
// 生产代码使用 time.AfterFunc，测试可以注入同步实现。
type TimerFactory func(d time.Duration, fn func()) (cancel func() bool)

// realTimerFactory 基于 time.AfterFunc 的真实定时器
func realTimerFactory(d time.Duration, fn func()) func() bool {
	t := time.AfterFunc(d, fn)
	return t.Stop
}

// Scheduler 管理按 (命名空间, ID) 去重的单次定时器。
// 同键的定时器同一时间最多存在一个，重复安排是无害的空操作。
type Scheduler struct {
	mu      sync.Mutex
	pending map[string]func() bool
	factory TimerFactory
}

// NewScheduler 创建使用真实定时器的调度器
func NewScheduler() *Scheduler {
	return NewSchedulerWithFactory(realTimerFactory)
}

// NewSchedulerWithFactory 创建使用指定定时器工厂的调度器
func NewSchedulerWithFactory(factory TimerFactory) *Scheduler {
	return &Scheduler{
		pending: make(map[string]func() bool),
		factory: factory,
	}
}

func timerKey(ns, id string) string {
	return ns + ":" + id
}

// Schedule 安排一个单次回调。同键已有未触发的定时器时不重复创建并返回 false。
// 回调触发时自动从登记表移除自身。
func (s *Scheduler) Schedule(ns, id string, d time.Duration, fn func()) bool {
	key := timerKey(ns, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pending[key]; exists {
		return false
	}

	s.pending[key] = s.factory(d, func() {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()

		fn()
	})
	return true
}

// Cancel 取消指定的定时器，存在且成功取消时返回 true
func (s *Scheduler) Cancel(ns, id string) bool {
	key := timerKey(ns, id)

	s.mu.Lock()
	cancel, exists := s.pending[key]
	if exists {
		delete(s.pending, key)
	}
	s.mu.Unlock()

	if !exists {
		return false
	}
	return cancel()
}

// CancelNamespace 取消命名空间下的全部定时器
func (s *Scheduler) CancelNamespace(ns string) {
	prefix := ns + ":"

	s.mu.Lock()
	var cancels []func() bool
	for key, cancel := range s.pending {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			cancels = append(cancels, cancel)
			delete(s.pending, key)
		}
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// CancelAll 取消全部定时器
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	cancels := make([]func() bool, 0, len(s.pending))
	for _, cancel := range s.pending {
		cancels = append(cancels, cancel)
	}
	s.pending = make(map[string]func() bool)
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Pending 检查指定定时器是否在等待触发
func (s *Scheduler) Pending(ns, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.pending[timerKey(ns, id)]
	return exists
}

// PendingCount 返回等待触发的定时器总数
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}
