// internal/services/chain_session.go
package services

import (
	"sort"
	"sync"
	"time"

	"github.com/Corphon/GeoTriggerMCP/internal/models"
	"github.com/Corphon/GeoTriggerMCP/internal/utils"
)

// SnapshotStore 定义会话快照的持久化接口
type SnapshotStore interface {
	SaveSnapshot(snapshot *models.SessionSnapshot) error
	LoadSnapshot(experienceID string) (*models.SessionSnapshot, error)
	DeleteSnapshot(experienceID string) error
}

// StatusListener 在对象链路状态变更时回调
type StatusListener func(objectID string, newStatus, previousStatus models.TriggerStatus)

// statusNote 记录一次待通知的状态变更
type statusNote struct {
	objectID string
	newSt    models.TriggerStatus
	oldSt    models.TriggerStatus
}

// ChainSession 维护一个体验会话内所有对象的链路状态机。
//
// 状态迁移：idle → armed → triggered → completed，
// 可重复对象在复位超时后回到 armed 而不是 completed。
// 状态只会沿这条链前进，永远不会在复位之外的路径上倒退。
type ChainSession struct {
	experienceID string

	mu        sync.Mutex
	statuses  map[string]models.TriggerStatus
	changedAt map[string]int64 // epoch 毫秒

	listeners      map[int]StatusListener
	nextListenerID int

	sched   *Scheduler
	store   SnapshotStore // 可为 nil，表示不持久化
	metrics *utils.TriggerMetrics

	// 测试钩子
	now            func() time.Time
	snapshotMaxAge time.Duration
}

// NewChainSession 创建链路会话。store 为 nil 时不做快照持久化。
func NewChainSession(experienceID string, store SnapshotStore) *ChainSession {
	return &ChainSession{
		experienceID:   experienceID,
		statuses:       make(map[string]models.TriggerStatus),
		changedAt:      make(map[string]int64),
		listeners:      make(map[int]StatusListener),
		sched:          NewScheduler(),
		store:          store,
		metrics:        utils.NewTriggerMetrics(),
		now:            time.Now,
		snapshotMaxAge: 24 * time.Hour,
	}
}

// Subscribe 注册状态变更监听器，返回用于注销的句柄。
// 注册发生在锁外通知阶段之前或之后都不影响进行中的迁移。
func (cs *ChainSession) Subscribe(listener StatusListener) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	id := cs.nextListenerID
	cs.nextListenerID++
	cs.listeners[id] = listener
	return id
}

// Unsubscribe 注销状态变更监听器
func (cs *ChainSession) Unsubscribe(id int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	delete(cs.listeners, id)
}

// GetStatus 返回对象的当前链路状态，未知对象视为 idle
func (cs *ChainSession) GetStatus(objectID string) models.TriggerStatus {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if st, exists := cs.statuses[objectID]; exists {
		return st
	}
	return models.StatusIdle
}

// GetAllStatuses 返回所有对象状态的副本
func (cs *ChainSession) GetAllStatuses() map[string]models.TriggerStatus {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	out := make(map[string]models.TriggerStatus, len(cs.statuses))
	for id, st := range cs.statuses {
		out[id] = st
	}
	return out
}

// InitializeSession 初始化（或重新初始化）会话状态。
// 先取消所有遗留定时器，再尝试从快照恢复；快照缺失或超过新鲜度
// 窗口时冷启动：每个活跃对象根据解锁条件落到 idle 或 armed。
func (cs *ChainSession) InitializeSession(objects []*models.MediaObject) {
	cs.mu.Lock()

	cs.sched.CancelAll()
	cs.statuses = make(map[string]models.TriggerStatus)
	cs.changedAt = make(map[string]int64)

	restored := cs.restoreSnapshotLocked(objects)
	if !restored {
		nowMs := cs.now().UnixMilli()
		for _, obj := range objects {
			if !obj.Active {
				continue
			}
			cs.statuses[obj.ID] = models.StatusIdle
			cs.changedAt[obj.ID] = nowMs
		}
		// 初始解锁扫描：无条件对象与条件已满足的对象直接进入 armed
		for _, obj := range objects {
			if !obj.Active {
				continue
			}
			if cs.evaluateArmConditionLocked(obj, objects, true) {
				cs.statuses[obj.ID] = models.StatusArmed
			}
		}
	}

	snap := cs.snapshotLocked()
	cs.mu.Unlock()

	cs.metrics.RecordSnapshotRestore(restored)
	cs.persistSnapshot(snap)

	utils.GetLogger().Infof("会话初始化完成: experience=%s restored=%v objects=%d",
		cs.experienceID, restored, len(objects))
}

// restoreSnapshotLocked 尝试从持久化快照恢复状态。
// 成功恢复返回 true。恢复是逐字的：快照里的状态原样生效，
// 只为带延迟条件的 idle 对象补挂重新评估定时器。
func (cs *ChainSession) restoreSnapshotLocked(objects []*models.MediaObject) bool {
	if cs.store == nil {
		return false
	}

	snap, err := cs.store.LoadSnapshot(cs.experienceID)
	if err != nil || snap == nil {
		return false
	}

	age := time.Duration(cs.now().UnixMilli()-snap.SavedAt) * time.Millisecond
	if age < 0 || age > cs.snapshotMaxAge {
		return false
	}

	known := make(map[string]*models.MediaObject, len(objects))
	for _, obj := range objects {
		known[obj.ID] = obj
	}

	for _, entry := range snap.Statuses {
		if _, exists := known[entry.ObjectID]; exists {
			cs.statuses[entry.ObjectID] = entry.Status
		}
	}
	for _, entry := range snap.Timestamps {
		if _, exists := known[entry.ObjectID]; exists {
			cs.changedAt[entry.ObjectID] = entry.ChangedAt
		}
	}

	// 快照之后新增的对象按冷启动规则补齐
	nowMs := cs.now().UnixMilli()
	for _, obj := range objects {
		if !obj.Active {
			continue
		}
		if _, exists := cs.statuses[obj.ID]; !exists {
			cs.statuses[obj.ID] = models.StatusIdle
			cs.changedAt[obj.ID] = nowMs
		}
	}

	// 为仍处于 idle 的对象重新评估解锁条件：依赖在快照里已满足、
	// 延迟已经走完的对象立即解锁，延迟未走完的补挂定时器
	for _, obj := range objects {
		if !obj.Active || cs.statuses[obj.ID] != models.StatusIdle {
			continue
		}
		if cs.evaluateArmConditionLocked(obj, objects, true) {
			cs.statuses[obj.ID] = models.StatusArmed
			cs.changedAt[obj.ID] = nowMs
		}
	}

	return true
}

// EvaluateArmCondition 判断对象此刻是否满足解锁条件。
// 满足 after_trigger 的依赖但延迟未走完时，会安排一次延迟后的
// 重新评估，当前调用返回 false。
func (cs *ChainSession) EvaluateArmCondition(obj *models.MediaObject, objects []*models.MediaObject) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	return cs.evaluateArmConditionLocked(obj, objects, true)
}

// evaluateArmConditionLocked 为核心条件判定，调用方需持有 cs.mu。
// 依赖的对象不存在时判定失败（保持 idle），而不是放行。
func (cs *ChainSession) evaluateArmConditionLocked(obj *models.MediaObject, objects []*models.MediaObject, allowSchedule bool) bool {
	cond := obj.ArmCondition
	if cond == nil {
		// 不携带解锁条件的对象会话开始即解锁
		return true
	}

	switch cond.Type {
	case models.ArmNever:
		return false

	case models.ArmTimer:
		// 时机由 timer 触发器自身控制，条件恒满足
		return true

	case models.ArmAfterTrigger:
		if !cs.dependencySatisfiedLocked(cond.ObjectID, objects) {
			return false
		}
		if cond.DelayMs > 0 {
			elapsed := cs.now().UnixMilli() - cs.changedAt[cond.ObjectID]
			if elapsed < cond.DelayMs {
				if allowSchedule {
					remaining := time.Duration(cond.DelayMs-elapsed) * time.Millisecond
					cs.scheduleArmRecheckLocked(obj, objects, remaining)
				}
				return false
			}
		}
		return true

	case models.ArmAllOf:
		if len(cond.ObjectIDs) == 0 {
			return false
		}
		for _, depID := range cond.ObjectIDs {
			if !cs.dependencySatisfiedLocked(depID, objects) {
				return false
			}
		}
		return true

	case models.ArmAnyOf:
		for _, depID := range cond.ObjectIDs {
			if cs.dependencySatisfiedLocked(depID, objects) {
				return true
			}
		}
		return false
	}

	return false
}

// dependencySatisfiedLocked 判断依赖对象是否已达到 triggered/completed
func (cs *ChainSession) dependencySatisfiedLocked(depID string, objects []*models.MediaObject) bool {
	found := false
	for _, obj := range objects {
		if obj.ID == depID {
			found = true
			break
		}
	}
	if !found {
		return false
	}

	st := cs.statuses[depID]
	return st == models.StatusTriggered || st == models.StatusCompleted
}

// scheduleArmRecheckLocked 为延迟解锁安排一次重新评估。
// 同一对象同一时间最多挂一个这样的定时器。
func (cs *ChainSession) scheduleArmRecheckLocked(obj *models.MediaObject, objects []*models.MediaObject, delay time.Duration) {
	cs.sched.Schedule(timerNSArm, obj.ID, delay, func() {
		cs.mu.Lock()
		if cs.statuses[obj.ID] != models.StatusIdle {
			cs.mu.Unlock()
			return
		}
		if !cs.evaluateArmConditionLocked(obj, objects, true) {
			cs.mu.Unlock()
			return
		}
		notes := []statusNote{cs.setStatusLocked(obj.ID, models.StatusArmed)}
		snap := cs.snapshotLocked()
		cs.mu.Unlock()

		cs.fireStatusChanges(notes)
		cs.persistSnapshot(snap)
	})
}

// ProcessTriggerActivation 处理对象自身触发信号到达的事件。
// 只有处于 armed 的对象才会迁移到 triggered 并返回 true；
// 随后对全部对象做一次解锁扫描，解锁依赖刚满足的下游对象。
func (cs *ChainSession) ProcessTriggerActivation(obj *models.MediaObject, objects []*models.MediaObject) bool {
	cs.mu.Lock()

	if cs.statuses[obj.ID] != models.StatusArmed {
		cs.mu.Unlock()
		return false
	}

	notes := []statusNote{cs.setStatusLocked(obj.ID, models.StatusTriggered)}
	notes = append(notes, cs.armDependentsLocked(objects)...)
	snap := cs.snapshotLocked()
	cs.mu.Unlock()

	cs.fireStatusChanges(notes)
	cs.persistSnapshot(snap)
	return true
}

// armDependentsLocked 对全部对象做一遍解锁扫描。
// 只扫描一遍、不递归：一次状态变更只解锁直接依赖它的对象，
// 更深层的链路要等中间对象自身被触发时再逐级推进。
func (cs *ChainSession) armDependentsLocked(objects []*models.MediaObject) []statusNote {
	var notes []statusNote
	for _, obj := range objects {
		if !obj.Active || cs.statuses[obj.ID] != models.StatusIdle {
			continue
		}
		if cs.evaluateArmConditionLocked(obj, objects, true) {
			notes = append(notes, cs.setStatusLocked(obj.ID, models.StatusArmed))
		}
	}
	return notes
}

// CompleteTrigger 处理对象展示结束的事件。
// 可重复对象安排复位定时器（超时为 0 时立即回到 armed），
// 不可重复对象进入终态 completed。
func (cs *ChainSession) CompleteTrigger(obj *models.MediaObject, objects []*models.MediaObject) {
	cs.mu.Lock()

	if cs.statuses[obj.ID] != models.StatusTriggered {
		cs.mu.Unlock()
		return
	}

	var notes []statusNote
	if obj.Repeatable {
		timeout := obj.ResetTimeout()
		if timeout <= 0 {
			notes = append(notes, cs.setStatusLocked(obj.ID, models.StatusArmed))
		} else {
			cs.scheduleResetLocked(obj.ID, time.Duration(timeout)*time.Millisecond)
		}
	} else {
		notes = append(notes, cs.setStatusLocked(obj.ID, models.StatusCompleted))
	}

	notes = append(notes, cs.armDependentsLocked(objects)...)
	snap := cs.snapshotLocked()
	cs.mu.Unlock()

	cs.fireStatusChanges(notes)
	cs.persistSnapshot(snap)
}

// scheduleResetLocked 为可重复对象安排复位定时器
func (cs *ChainSession) scheduleResetLocked(objectID string, delay time.Duration) {
	cs.sched.Schedule(timerNSStatus, objectID, delay, func() {
		cs.mu.Lock()
		if cs.statuses[objectID] != models.StatusTriggered {
			cs.mu.Unlock()
			return
		}
		notes := []statusNote{cs.setStatusLocked(objectID, models.StatusArmed)}
		snap := cs.snapshotLocked()
		cs.mu.Unlock()

		cs.fireStatusChanges(notes)
		cs.persistSnapshot(snap)
	})
}

// ClearSessionState 清空会话状态。先取消全部定时器再清空状态表，
// 避免已出队的回调读到半清空的状态。持久化快照一并删除。
func (cs *ChainSession) ClearSessionState() {
	cs.mu.Lock()
	cs.sched.CancelAll()
	cs.statuses = make(map[string]models.TriggerStatus)
	cs.changedAt = make(map[string]int64)
	cs.mu.Unlock()

	if cs.store != nil {
		if err := cs.store.DeleteSnapshot(cs.experienceID); err != nil {
			utils.GetLogger().Warnf("删除会话快照失败: experience=%s err=%v", cs.experienceID, err)
		}
	}
}

// setStatusLocked 写入新状态并返回待通知的变更记录，调用方需持有 cs.mu
func (cs *ChainSession) setStatusLocked(objectID string, newStatus models.TriggerStatus) statusNote {
	old := cs.statuses[objectID]
	cs.statuses[objectID] = newStatus
	cs.changedAt[objectID] = cs.now().UnixMilli()
	cs.metrics.RecordStatusChange(string(newStatus))
	return statusNote{objectID: objectID, newSt: newStatus, oldSt: old}
}

// snapshotLocked 构造当前状态的可序列化快照，条目按对象ID排序保证稳定输出
func (cs *ChainSession) snapshotLocked() *models.SessionSnapshot {
	snap := &models.SessionSnapshot{
		ExperienceID: cs.experienceID,
		Statuses:     make([]models.StatusEntry, 0, len(cs.statuses)),
		Timestamps:   make([]models.TimestampEntry, 0, len(cs.changedAt)),
		SavedAt:      cs.now().UnixMilli(),
	}
	for id, st := range cs.statuses {
		snap.Statuses = append(snap.Statuses, models.StatusEntry{ObjectID: id, Status: st})
	}
	for id, at := range cs.changedAt {
		snap.Timestamps = append(snap.Timestamps, models.TimestampEntry{ObjectID: id, ChangedAt: at})
	}
	sort.Slice(snap.Statuses, func(i, j int) bool {
		return snap.Statuses[i].ObjectID < snap.Statuses[j].ObjectID
	})
	sort.Slice(snap.Timestamps, func(i, j int) bool {
		return snap.Timestamps[i].ObjectID < snap.Timestamps[j].ObjectID
	})
	return snap
}

// persistSnapshot 保存快照，失败只记录日志不影响会话进行
func (cs *ChainSession) persistSnapshot(snap *models.SessionSnapshot) {
	if cs.store == nil || snap == nil {
		return
	}
	if err := cs.store.SaveSnapshot(snap); err != nil {
		utils.GetLogger().Warnf("保存会话快照失败: experience=%s err=%v", cs.experienceID, err)
	}
}

// fireStatusChanges 在锁外依次通知监听器
func (cs *ChainSession) fireStatusChanges(notes []statusNote) {
	if len(notes) == 0 {
		return
	}

	cs.mu.Lock()
	listeners := make([]StatusListener, 0, len(cs.listeners))
	for _, l := range cs.listeners {
		listeners = append(listeners, l)
	}
	cs.mu.Unlock()

	for _, note := range notes {
		for _, listener := range listeners {
			listener(note.objectID, note.newSt, note.oldSt)
		}
	}
}
