// internal/services/chain_session_test.go
package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/GeoTriggerMCP/internal/models"
)

// fakeClock 是测试用的可推进时钟
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.UnixMilli(1700000000000)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memorySnapshotStore 是内存快照存储
type memorySnapshotStore struct {
	mu    sync.Mutex
	snaps map[string]*models.SessionSnapshot
	saves int
}

func newMemorySnapshotStore() *memorySnapshotStore {
	return &memorySnapshotStore{snaps: make(map[string]*models.SessionSnapshot)}
}

func (m *memorySnapshotStore) SaveSnapshot(snapshot *models.SessionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snapshot.ExperienceID] = snapshot
	m.saves++
	return nil
}

func (m *memorySnapshotStore) LoadSnapshot(experienceID string) (*models.SessionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snaps[experienceID], nil
}

func (m *memorySnapshotStore) DeleteSnapshot(experienceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, experienceID)
	return nil
}

// newTestChain 构造带受控定时器和时钟的链路会话
func newTestChain(store SnapshotStore) (*ChainSession, *fakeTimers, *fakeClock) {
	cs := NewChainSession("exp-1", store)
	ft := newFakeTimers()
	clock := newFakeClock()
	cs.sched = NewSchedulerWithFactory(ft.factory)
	cs.now = clock.now
	return cs, ft, clock
}

// chainObject 构造一个参与链路的点按对象
func chainObject(id string, cond *models.ArmCondition) *models.MediaObject {
	return &models.MediaObject{
		ID:      id,
		Title:   id,
		Active:  true,
		Trigger: models.Trigger{Kind: models.TriggerTouch},
		ArmCondition: cond,
	}
}

func TestInitializeSession_ColdStart(t *testing.T) {
	cs, _, _ := newTestChain(nil)

	objects := []*models.MediaObject{
		chainObject("free", nil),
		chainObject("locked", &models.ArmCondition{Type: models.ArmAfterTrigger, ObjectID: "free"}),
		chainObject("manual-only", &models.ArmCondition{Type: models.ArmNever}),
		chainObject("timed", &models.ArmCondition{Type: models.ArmTimer}),
	}
	cs.InitializeSession(objects)

	// 无条件对象和 timer 条件对象开局即解锁
	assert.Equal(t, models.StatusArmed, cs.GetStatus("free"))
	assert.Equal(t, models.StatusArmed, cs.GetStatus("timed"))

	// 依赖未满足和 never 条件的对象保持 idle
	assert.Equal(t, models.StatusIdle, cs.GetStatus("locked"))
	assert.Equal(t, models.StatusIdle, cs.GetStatus("manual-only"))
}

func TestInitializeSession_SkipsInactiveObjects(t *testing.T) {
	cs, _, _ := newTestChain(nil)

	inactive := chainObject("off", nil)
	inactive.Active = false
	cs.InitializeSession([]*models.MediaObject{inactive})

	// 非活跃对象不参与会话，查询回落到 idle
	assert.Equal(t, models.StatusIdle, cs.GetStatus("off"))
	_, exists := cs.GetAllStatuses()["off"]
	assert.False(t, exists)
}

func TestProcessTriggerActivation_ArmedOnlyGate(t *testing.T) {
	cs, _, _ := newTestChain(nil)

	free := chainObject("free", nil)
	locked := chainObject("locked", &models.ArmCondition{Type: models.ArmAfterTrigger, ObjectID: "free"})
	objects := []*models.MediaObject{free, locked}
	cs.InitializeSession(objects)

	// idle 对象的触发信号被丢弃
	assert.False(t, cs.ProcessTriggerActivation(locked, objects))
	assert.Equal(t, models.StatusIdle, cs.GetStatus("locked"))

	// armed 对象正常迁移
	assert.True(t, cs.ProcessTriggerActivation(free, objects))
	assert.Equal(t, models.StatusTriggered, cs.GetStatus("free"))

	// triggered 对象的重复信号被丢弃
	assert.False(t, cs.ProcessTriggerActivation(free, objects))
}

func TestProcessTriggerActivation_ArmsDependentsFanOut(t *testing.T) {
	cs, _, _ := newTestChain(nil)

	a := chainObject("a", nil)
	b := chainObject("b", &models.ArmCondition{Type: models.ArmAfterTrigger, ObjectID: "a"})
	c := chainObject("c", &models.ArmCondition{Type: models.ArmAnyOf, ObjectIDs: []string{"a", "x"}})
	objects := []*models.MediaObject{a, b, c}
	cs.InitializeSession(objects)

	assert.True(t, cs.ProcessTriggerActivation(a, objects))

	// a 的触发同时解锁 after_trigger 和 any_of 的直接依赖者
	assert.Equal(t, models.StatusArmed, cs.GetStatus("b"))
	assert.Equal(t, models.StatusArmed, cs.GetStatus("c"))
}

func TestArmCondition_AllOfRequiresEveryDependency(t *testing.T) {
	cs, _, _ := newTestChain(nil)

	a := chainObject("a", nil)
	b := chainObject("b", nil)
	both := chainObject("both", &models.ArmCondition{Type: models.ArmAllOf, ObjectIDs: []string{"a", "b"}})
	objects := []*models.MediaObject{a, b, both}
	cs.InitializeSession(objects)

	cs.ProcessTriggerActivation(a, objects)
	assert.Equal(t, models.StatusIdle, cs.GetStatus("both"))

	cs.ProcessTriggerActivation(b, objects)
	assert.Equal(t, models.StatusArmed, cs.GetStatus("both"))
}

func TestArmCondition_MissingDependencyFailsClosed(t *testing.T) {
	cs, _, _ := newTestChain(nil)

	a := chainObject("a", nil)
	orphan := chainObject("orphan", &models.ArmCondition{Type: models.ArmAfterTrigger, ObjectID: "ghost"})
	objects := []*models.MediaObject{a, orphan}
	cs.InitializeSession(objects)

	cs.ProcessTriggerActivation(a, objects)

	// 依赖的对象不存在：判定失败，保持 idle 而不是放行
	assert.Equal(t, models.StatusIdle, cs.GetStatus("orphan"))
}

func TestArmDependents_SinglePassDoesNotCascade(t *testing.T) {
	cs, _, _ := newTestChain(nil)

	a := chainObject("a", nil)
	b := chainObject("b", &models.ArmCondition{Type: models.ArmAfterTrigger, ObjectID: "a"})
	c := chainObject("c", &models.ArmCondition{Type: models.ArmAfterTrigger, ObjectID: "b"})
	objects := []*models.MediaObject{a, b, c}
	cs.InitializeSession(objects)

	// 解锁扫描只推进一层：a 触发解锁 b，但 c 要等 b 自己触发。
	// b 此时是 armed 而非 triggered，c 的条件尚未满足。
	cs.ProcessTriggerActivation(a, objects)
	assert.Equal(t, models.StatusArmed, cs.GetStatus("b"))
	assert.Equal(t, models.StatusIdle, cs.GetStatus("c"))

	cs.ProcessTriggerActivation(b, objects)
	assert.Equal(t, models.StatusArmed, cs.GetStatus("c"))
}

func TestArmCondition_DelayedArmSchedulesRecheck(t *testing.T) {
	cs, ft, clock := newTestChain(nil)

	a := chainObject("a", nil)
	delayed := chainObject("delayed", &models.ArmCondition{
		Type:     models.ArmAfterTrigger,
		ObjectID: "a",
		DelayMs:  5000,
	})
	objects := []*models.MediaObject{a, delayed}
	cs.InitializeSession(objects)

	cs.ProcessTriggerActivation(a, objects)

	// 依赖已满足但延迟未走完：保持 idle，挂起一次重新评估
	assert.Equal(t, models.StatusIdle, cs.GetStatus("delayed"))
	assert.True(t, cs.sched.Pending(timerNSArm, "delayed"))

	// 延迟走完后重新评估使对象解锁
	clock.advance(5 * time.Second)
	ft.fireAll()
	assert.Equal(t, models.StatusArmed, cs.GetStatus("delayed"))
}

func TestArmCondition_DelayedRecheckIsDeduplicated(t *testing.T) {
	cs, ft, _ := newTestChain(nil)

	a := chainObject("a", nil)
	delayed := chainObject("delayed", &models.ArmCondition{
		Type:     models.ArmAfterTrigger,
		ObjectID: "a",
		DelayMs:  60000,
	})
	objects := []*models.MediaObject{a, delayed}
	cs.InitializeSession(objects)

	cs.ProcessTriggerActivation(a, objects)

	// 反复评估不会叠加定时器
	cs.EvaluateArmCondition(delayed, objects)
	cs.EvaluateArmCondition(delayed, objects)
	assert.Equal(t, 1, ft.livePending())
}

func TestCompleteTrigger_NonRepeatableReachesTerminalState(t *testing.T) {
	cs, _, _ := newTestChain(nil)

	a := chainObject("a", nil)
	objects := []*models.MediaObject{a}
	cs.InitializeSession(objects)

	cs.ProcessTriggerActivation(a, objects)
	cs.CompleteTrigger(a, objects)

	// completed 是终态，后续信号全部被丢弃
	assert.Equal(t, models.StatusCompleted, cs.GetStatus("a"))
	assert.False(t, cs.ProcessTriggerActivation(a, objects))
	assert.Equal(t, models.StatusCompleted, cs.GetStatus("a"))
}

func TestCompleteTrigger_RepeatableRearmsAfterTimeout(t *testing.T) {
	cs, ft, _ := newTestChain(nil)

	a := chainObject("a", nil)
	a.Repeatable = true
	timeout := int64(10000)
	a.ResetTimeoutMs = &timeout
	objects := []*models.MediaObject{a}
	cs.InitializeSession(objects)

	cs.ProcessTriggerActivation(a, objects)
	cs.CompleteTrigger(a, objects)

	// 复位定时器走完前保持 triggered
	assert.Equal(t, models.StatusTriggered, cs.GetStatus("a"))
	assert.True(t, cs.sched.Pending(timerNSStatus, "a"))

	ft.fireAll()
	assert.Equal(t, models.StatusArmed, cs.GetStatus("a"))

	// 回到 armed 后可以再次完成整个周期
	assert.True(t, cs.ProcessTriggerActivation(a, objects))
}

func TestCompleteTrigger_RepeatableZeroTimeoutRearmsImmediately(t *testing.T) {
	cs, _, _ := newTestChain(nil)

	a := chainObject("a", nil)
	a.Repeatable = true
	zero := int64(0)
	a.ResetTimeoutMs = &zero
	objects := []*models.MediaObject{a}
	cs.InitializeSession(objects)

	cs.ProcessTriggerActivation(a, objects)
	cs.CompleteTrigger(a, objects)

	assert.Equal(t, models.StatusArmed, cs.GetStatus("a"))
}

func TestCompleteTrigger_ArmsDependentsOfCompleted(t *testing.T) {
	cs, _, _ := newTestChain(nil)

	a := chainObject("a", nil)
	b := chainObject("b", &models.ArmCondition{Type: models.ArmAfterTrigger, ObjectID: "a"})
	objects := []*models.MediaObject{a, b}
	cs.InitializeSession(objects)

	cs.ProcessTriggerActivation(a, objects)
	cs.CompleteTrigger(a, objects)

	// completed 和 triggered 一样满足依赖
	assert.Equal(t, models.StatusCompleted, cs.GetStatus("a"))
	assert.Equal(t, models.StatusArmed, cs.GetStatus("b"))
}

func TestSnapshot_RestoredWithinFreshnessWindow(t *testing.T) {
	store := newMemorySnapshotStore()
	cs, _, clock := newTestChain(store)

	a := chainObject("a", nil)
	b := chainObject("b", &models.ArmCondition{Type: models.ArmAfterTrigger, ObjectID: "a"})
	objects := []*models.MediaObject{a, b}
	cs.InitializeSession(objects)
	cs.ProcessTriggerActivation(a, objects)

	// 1 小时后重新初始化：进度从快照恢复
	clock.advance(time.Hour)
	cs2 := NewChainSession("exp-1", store)
	cs2.sched = NewSchedulerWithFactory(newFakeTimers().factory)
	cs2.now = clock.now
	cs2.InitializeSession(objects)

	assert.Equal(t, models.StatusTriggered, cs2.GetStatus("a"))
	assert.Equal(t, models.StatusArmed, cs2.GetStatus("b"))
}

func TestSnapshot_StaleSnapshotIgnored(t *testing.T) {
	store := newMemorySnapshotStore()
	cs, _, clock := newTestChain(store)

	a := chainObject("a", nil)
	objects := []*models.MediaObject{a}
	cs.InitializeSession(objects)
	cs.ProcessTriggerActivation(a, objects)

	// 25 小时后快照过期，冷启动重来
	clock.advance(25 * time.Hour)
	cs2 := NewChainSession("exp-1", store)
	cs2.sched = NewSchedulerWithFactory(newFakeTimers().factory)
	cs2.now = clock.now
	cs2.InitializeSession(objects)

	assert.Equal(t, models.StatusArmed, cs2.GetStatus("a"))
}

func TestSnapshot_NewObjectsAfterSnapshotGetColdStart(t *testing.T) {
	store := newMemorySnapshotStore()
	cs, _, clock := newTestChain(store)

	a := chainObject("a", nil)
	cs.InitializeSession([]*models.MediaObject{a})
	cs.ProcessTriggerActivation(a, []*models.MediaObject{a})

	// 快照之后新增了一个依赖 a 的对象
	late := chainObject("late", &models.ArmCondition{Type: models.ArmAfterTrigger, ObjectID: "a"})
	objects := []*models.MediaObject{a, late}

	clock.advance(time.Minute)
	cs2 := NewChainSession("exp-1", store)
	cs2.sched = NewSchedulerWithFactory(newFakeTimers().factory)
	cs2.now = clock.now
	cs2.InitializeSession(objects)

	// 新对象按当前依赖状态直接解锁
	assert.Equal(t, models.StatusTriggered, cs2.GetStatus("a"))
	assert.Equal(t, models.StatusArmed, cs2.GetStatus("late"))
}

func TestClearSessionState_CancelsTimersBeforeClearing(t *testing.T) {
	store := newMemorySnapshotStore()
	cs, _, _ := newTestChain(store)

	a := chainObject("a", nil)
	a.Repeatable = true
	objects := []*models.MediaObject{a}
	cs.InitializeSession(objects)
	cs.ProcessTriggerActivation(a, objects)
	cs.CompleteTrigger(a, objects)

	require.True(t, cs.sched.PendingCount() > 0)

	cs.ClearSessionState()

	assert.Equal(t, 0, cs.sched.PendingCount())
	assert.Empty(t, cs.GetAllStatuses())

	// 持久化快照一并删除
	snap, err := store.LoadSnapshot("exp-1")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestStatusListener_ReceivesTransitions(t *testing.T) {
	cs, _, _ := newTestChain(nil)

	a := chainObject("a", nil)
	b := chainObject("b", &models.ArmCondition{Type: models.ArmAfterTrigger, ObjectID: "a"})
	objects := []*models.MediaObject{a, b}
	cs.InitializeSession(objects)

	type transition struct {
		objectID string
		status   models.TriggerStatus
	}
	var got []transition
	id := cs.Subscribe(func(objectID string, newStatus, _ models.TriggerStatus) {
		got = append(got, transition{objectID, newStatus})
	})
	defer cs.Unsubscribe(id)

	cs.ProcessTriggerActivation(a, objects)

	// a 的迁移和 b 的解锁都会通知
	require.Len(t, got, 2)
	assert.Equal(t, transition{"a", models.StatusTriggered}, got[0])
	assert.Equal(t, transition{"b", models.StatusArmed}, got[1])
}

func TestInitializeSession_ReinitClearsPreviousTimers(t *testing.T) {
	cs, ft, _ := newTestChain(nil)

	a := chainObject("a", nil)
	delayed := chainObject("delayed", &models.ArmCondition{
		Type:     models.ArmAfterTrigger,
		ObjectID: "a",
		DelayMs:  60000,
	})
	objects := []*models.MediaObject{a, delayed}
	cs.InitializeSession(objects)
	cs.ProcessTriggerActivation(a, objects)

	require.Equal(t, 1, ft.livePending())

	// 重新初始化先取消遗留定时器
	cs.InitializeSession(objects)
	assert.Equal(t, models.StatusArmed, cs.GetStatus("a"))
}
