// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager 管理按体验ID划分的读写锁，
// 保证同一体验的对象读写串行化，不同体验之间互不阻塞。
type LockManager struct {
	experienceLocks map[string]*lockInfo
	globalLock      sync.RWMutex
	lockTTL         time.Duration
}

// lockInfo 包装锁和最近使用时间，供清理器判断是否可回收
type lockInfo struct {
	mutex    *sync.RWMutex
	lastUsed time.Time
}

// NewLockManager 创建锁管理器并启动空闲锁清理器
func NewLockManager() *LockManager {
	lm := &LockManager{
		experienceLocks: make(map[string]*lockInfo),
		lockTTL:         10 * time.Minute,
	}

	lm.startCleanup()
	return lm
}

// GetExperienceLock 获取体验锁（线程安全），不存在时创建
func (lm *LockManager) GetExperienceLock(experienceID string) *sync.RWMutex {
	lm.globalLock.RLock()
	if info, exists := lm.experienceLocks[experienceID]; exists {
		lm.globalLock.RUnlock()
		info.lastUsed = time.Now()
		return info.mutex
	}
	lm.globalLock.RUnlock()

	// 升级为写锁
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	// 双重检查
	if info, exists := lm.experienceLocks[experienceID]; exists {
		info.lastUsed = time.Now()
		return info.mutex
	}

	lock := &sync.RWMutex{}
	lm.experienceLocks[experienceID] = &lockInfo{
		mutex:    lock,
		lastUsed: time.Now(),
	}
	return lock
}

// ExecuteWithLock 在体验写锁保护下执行操作
func (lm *LockManager) ExecuteWithLock(experienceID string, fn func() error) error {
	lock := lm.GetExperienceLock(experienceID)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// ExecuteWithReadLock 在体验读锁保护下执行操作
func (lm *LockManager) ExecuteWithReadLock(experienceID string, fn func() error) error {
	lock := lm.GetExperienceLock(experienceID)
	lock.RLock()
	defer lock.RUnlock()
	return fn()
}

// ReleaseLock 移除指定体验的锁（体验删除时调用）
func (lm *LockManager) ReleaseLock(experienceID string) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	delete(lm.experienceLocks, experienceID)
}

// startCleanup 启动空闲锁的定期清理
func (lm *LockManager) startCleanup() {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			lm.cleanupIdleLocks()
		}
	}()
}

// cleanupIdleLocks 回收超过TTL未使用的锁
func (lm *LockManager) cleanupIdleLocks() {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	now := time.Now()
	for id, info := range lm.experienceLocks {
		if now.Sub(info.lastUsed) > lm.lockTTL {
			delete(lm.experienceLocks, id)
		}
	}
}
