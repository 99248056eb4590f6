// internal/services/trigger_service_test.go
package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/GeoTriggerMCP/internal/models"
)

// newTestTriggerSession 构造协调器，链路和协调器共用同一组受控定时器与时钟
func newTestTriggerSession() (*TriggerSession, *fakeTimers, *fakeClock) {
	ft := newFakeTimers()
	clock := newFakeClock()

	chain := NewChainSession("exp-1", nil)
	chain.sched = NewSchedulerWithFactory(ft.factory)
	chain.now = clock.now

	ts := NewTriggerSession(chain)
	ts.sched = NewSchedulerWithFactory(ft.factory)
	ts.now = clock.now
	return ts, ft, clock
}

// countActivations 订阅激活事件并返回计数器
func countActivations(ts *TriggerSession) *[]string {
	var activated []string
	ts.Subscribe(func(obj *models.MediaObject) {
		activated = append(activated, obj.ID)
	})
	return &activated
}

func TestNotifyActivation_ActivatesOncePerDisplay(t *testing.T) {
	ts, _, _ := newTestTriggerSession()

	obj := chainObject("a", nil)
	objects := []*models.MediaObject{obj}
	ts.Chain().InitializeSession(objects)

	activated := countActivations(ts)

	ts.NotifyActivation(obj, objects)
	assert.True(t, ts.IsActive("a"))

	// 展示期间的重复信号被丢弃
	ts.NotifyActivation(obj, objects)
	ts.NotifyActivation(obj, objects)
	assert.Equal(t, []string{"a"}, *activated)
}

func TestNotifyActivation_AutoDeactivatesAfterTimeout(t *testing.T) {
	ts, ft, _ := newTestTriggerSession()

	obj := chainObject("a", nil)
	objects := []*models.MediaObject{obj}
	ts.Chain().InitializeSession(objects)

	ts.NotifyActivation(obj, objects)
	require.True(t, ts.IsActive("a"))
	assert.True(t, ts.sched.Pending(timerNSDeactivate, "a"))

	// 消隐定时器走完：激活解除，链路随之完成
	ft.fireAll()
	assert.False(t, ts.IsActive("a"))
	assert.Equal(t, models.StatusCompleted, ts.Chain().GetStatus("a"))
}

func TestNotifyActivation_NoAutoDeactivateWhenDisabled(t *testing.T) {
	ts, _, _ := newTestTriggerSession()

	obj := chainObject("a", nil)
	zero := int64(0)
	obj.ResetTimeoutMs = &zero
	objects := []*models.MediaObject{obj}
	ts.Chain().InitializeSession(objects)

	ts.NotifyActivation(obj, objects)

	// 显式设为 0：不安排自动消隐
	assert.True(t, ts.IsActive("a"))
	assert.False(t, ts.sched.Pending(timerNSDeactivate, "a"))
}

func TestNotifyActivation_ArmConditionGatesDisplay(t *testing.T) {
	ts, _, _ := newTestTriggerSession()

	manualOnly := chainObject("m", &models.ArmCondition{Type: models.ArmNever})
	objects := []*models.MediaObject{manualOnly}
	ts.Chain().InitializeSession(objects)

	// never 条件的对象永远不会被自动触发激活
	ts.NotifyActivation(manualOnly, objects)
	assert.False(t, ts.IsActive("m"))
	assert.Equal(t, models.StatusIdle, ts.Chain().GetStatus("m"))
}

func TestNotifyActivation_ChainScenario(t *testing.T) {
	ts, _, _ := newTestTriggerSession()

	// x 不带条件，y 依赖 x
	x := chainObject("x", nil)
	y := chainObject("y", &models.ArmCondition{Type: models.ArmAfterTrigger, ObjectID: "x"})
	objects := []*models.MediaObject{x, y}
	ts.Chain().InitializeSession(objects)

	// y 先到的信号被链路门控拦下
	ts.NotifyActivation(y, objects)
	assert.False(t, ts.IsActive("y"))

	// x 触发后 y 解锁，y 的信号开始生效
	ts.NotifyActivation(x, objects)
	assert.True(t, ts.IsActive("x"))
	assert.Equal(t, models.StatusArmed, ts.Chain().GetStatus("y"))

	ts.NotifyActivation(y, objects)
	assert.True(t, ts.IsActive("y"))
	assert.Equal(t, models.StatusTriggered, ts.Chain().GetStatus("y"))
}

func TestDismissTrigger_SuppressesAutomaticReactivation(t *testing.T) {
	ts, _, _ := newTestTriggerSession()

	obj := gpsObject(52.52, 13.405, 10)
	obj.ID = "g"
	objects := []*models.MediaObject{obj}
	ts.Chain().InitializeSession(objects)

	ts.CheckLocationTriggers(objects, 52.52, 13.405)
	require.True(t, ts.IsActive("g"))

	ts.DismissTrigger(obj, objects)
	assert.False(t, ts.IsActive("g"))
	assert.True(t, ts.IsDismissed("g"))

	// 继续站在圆内也不会再次自动打开
	ts.CheckLocationTriggers(objects, 52.52, 13.405)
	assert.False(t, ts.IsActive("g"))

	// 手动打开不受抑制集影响
	assert.True(t, ts.ManuallyActivate(obj, objects))
	assert.True(t, ts.IsActive("g"))
}

func TestManuallyActivate_RespectsMarkerClickPolicy(t *testing.T) {
	ts, _, _ := newTestTriggerSession()

	blocked := gpsObject(52.52, 13.405, 10)
	blocked.ID = "locked"
	disallow := false
	blocked.Trigger.GPS.OpenOnMarkerClick = &disallow

	allowed := gpsObject(52.52, 13.405, 10)
	allowed.ID = "open"

	objects := []*models.MediaObject{blocked, allowed}
	ts.Chain().InitializeSession(objects)

	// gps 对象可以显式禁用手动打开
	assert.False(t, ts.ManuallyActivate(blocked, objects))
	assert.False(t, ts.IsActive("locked"))

	// 未设置时默认允许
	assert.True(t, ts.ManuallyActivate(allowed, objects))
	assert.True(t, ts.IsActive("open"))
}

func TestManuallyActivate_BypassesChainGate(t *testing.T) {
	ts, _, _ := newTestTriggerSession()

	manualOnly := chainObject("m", &models.ArmCondition{Type: models.ArmNever})
	objects := []*models.MediaObject{manualOnly}
	ts.Chain().InitializeSession(objects)

	// never 条件只拦自动触发，手动打开畅通
	assert.True(t, ts.ManuallyActivate(manualOnly, objects))
	assert.True(t, ts.IsActive("m"))
}

func TestManuallyActivate_RenotifiesWhileActive(t *testing.T) {
	ts, _, _ := newTestTriggerSession()

	obj := chainObject("a", nil)
	objects := []*models.MediaObject{obj}
	ts.Chain().InitializeSession(objects)

	activated := countActivations(ts)

	ts.NotifyActivation(obj, objects)
	require.True(t, ts.IsActive("a"))

	// 弹层还在展示时点击地图标记：观察者要被再次通知，
	// 界面据此把弹层重新拉到前台
	assert.True(t, ts.ManuallyActivate(obj, objects))
	assert.Equal(t, []string{"a", "a"}, *activated)

	// 消隐定时器按键去重，重复打开不叠加
	assert.Equal(t, 1, ts.sched.PendingCount())
}

func TestResetAllActivations_ClearsBothSetsButNotChain(t *testing.T) {
	ts, _, _ := newTestTriggerSession()

	a := chainObject("a", nil)
	b := chainObject("b", nil)
	objects := []*models.MediaObject{a, b}
	ts.Chain().InitializeSession(objects)

	ts.NotifyActivation(a, objects)
	ts.DismissTrigger(b, objects)
	require.True(t, ts.IsActive("a"))
	require.True(t, ts.IsDismissed("b"))

	ts.ResetAllActivations()

	assert.False(t, ts.IsActive("a"))
	assert.False(t, ts.IsDismissed("b"))

	// 链路状态不受影响
	assert.Equal(t, models.StatusTriggered, ts.Chain().GetStatus("a"))

	// 抑制解除后 b 可以再次自动触发
	ts.NotifyActivation(b, objects)
	assert.True(t, ts.IsActive("b"))
}

func TestStartTimerTriggers_IsIdempotent(t *testing.T) {
	ts, ft, _ := newTestTriggerSession()

	obj := &models.MediaObject{
		ID:     "t",
		Title:  "定时",
		Active: true,
		Trigger: models.Trigger{
			Kind:  models.TriggerTimer,
			Timer: &models.TimerParams{DelayMs: 5000},
		},
	}
	objects := []*models.MediaObject{obj}
	ts.Chain().InitializeSession(objects)

	activated := countActivations(ts)

	ts.StartTimerTriggers(objects)
	ts.StartTimerTriggers(objects)
	ts.StartTimerTriggers(objects)

	// 重复启动不叠加定时器
	assert.Equal(t, 1, ft.livePending())

	ft.fireAll()
	assert.Equal(t, []string{"t"}, *activated)
	assert.True(t, ts.IsActive("t"))
}

func TestClearTimerTriggers_CancelsCountdowns(t *testing.T) {
	ts, ft, _ := newTestTriggerSession()

	obj := &models.MediaObject{
		ID:      "t",
		Title:   "定时",
		Active:  true,
		Trigger: models.Trigger{Kind: models.TriggerTimer},
	}
	objects := []*models.MediaObject{obj}
	ts.Chain().InitializeSession(objects)

	ts.StartTimerTriggers(objects)
	ts.ClearTimerTriggers()

	ft.fireAll()
	assert.False(t, ts.IsActive("t"))
}

func TestHoldDetection_FiresWhenHeldLongEnough(t *testing.T) {
	ts, _, clock := newTestTriggerSession()

	obj := &models.MediaObject{
		ID:     "h",
		Title:  "长按",
		Active: true,
		Trigger: models.Trigger{
			Kind: models.TriggerHold,
			Hold: &models.HoldParams{DurationMs: 2000},
		},
	}
	objects := []*models.MediaObject{obj}
	ts.Chain().InitializeSession(objects)

	// 按住 2 秒：触发
	ts.StartHoldDetection("h")
	clock.advance(2 * time.Second)
	ts.EndHoldDetection(obj, objects)
	assert.True(t, ts.IsActive("h"))
}

func TestHoldDetection_TooShortDoesNotFire(t *testing.T) {
	ts, _, clock := newTestTriggerSession()

	obj := &models.MediaObject{
		ID:     "h",
		Title:  "长按",
		Active: true,
		Trigger: models.Trigger{
			Kind: models.TriggerHold,
			Hold: &models.HoldParams{DurationMs: 2000},
		},
	}
	objects := []*models.MediaObject{obj}
	ts.Chain().InitializeSession(objects)

	ts.StartHoldDetection("h")
	clock.advance(500 * time.Millisecond)
	ts.EndHoldDetection(obj, objects)
	assert.False(t, ts.IsActive("h"))

	// 没有对应开始事件的结束事件被忽略
	ts.EndHoldDetection(obj, objects)
	assert.False(t, ts.IsActive("h"))

	// 取消后的结束事件同样被忽略
	ts.StartHoldDetection("h")
	ts.CancelHoldDetection("h")
	clock.advance(5 * time.Second)
	ts.EndHoldDetection(obj, objects)
	assert.False(t, ts.IsActive("h"))
}

func TestCompleteActivation_EndsDisplayWithoutSuppression(t *testing.T) {
	ts, _, _ := newTestTriggerSession()

	obj := chainObject("a", nil)
	obj.Repeatable = true
	zero := int64(0)
	obj.ResetTimeoutMs = &zero
	objects := []*models.MediaObject{obj}
	ts.Chain().InitializeSession(objects)

	ts.NotifyActivation(obj, objects)
	require.True(t, ts.IsActive("a"))

	ts.CompleteActivation(obj, objects)
	assert.False(t, ts.IsActive("a"))
	assert.False(t, ts.IsDismissed("a"))

	// 可重复对象立即回到 armed，可以再次触发
	assert.Equal(t, models.StatusArmed, ts.Chain().GetStatus("a"))
	ts.NotifyActivation(obj, objects)
	assert.True(t, ts.IsActive("a"))
}

func TestCheckSignals_OnlyMatchingKindAndActive(t *testing.T) {
	ts, _, _ := newTestTriggerSession()

	gps := gpsObject(52.52, 13.405, 10)
	gps.ID = "g"

	inactive := gpsObject(52.52, 13.405, 10)
	inactive.ID = "off"
	inactive.Active = false

	shake := &models.MediaObject{
		ID:      "s",
		Title:   "摇一摇",
		Active:  true,
		Trigger: models.Trigger{Kind: models.TriggerShake},
	}

	objects := []*models.MediaObject{gps, inactive, shake}
	ts.Chain().InitializeSession(objects)

	ts.CheckLocationTriggers(objects, 52.52, 13.405)

	// 只有活跃的 gps 对象响应坐标更新
	assert.True(t, ts.IsActive("g"))
	assert.False(t, ts.IsActive("off"))
	assert.False(t, ts.IsActive("s"))

	ts.CheckShakeTriggers(objects, 20)
	assert.True(t, ts.IsActive("s"))
}

func TestCheckTouchTrigger_TouchableKindsOnly(t *testing.T) {
	ts, _, _ := newTestTriggerSession()

	touch := chainObject("t", nil)
	gps := gpsObject(52.52, 13.405, 10)
	gps.ID = "g"
	objects := []*models.MediaObject{touch, gps}
	ts.Chain().InitializeSession(objects)

	// gps 对象不响应点按信号
	ts.CheckTouchTrigger(objects, "g")
	assert.False(t, ts.IsActive("g"))

	ts.CheckTouchTrigger(objects, "t")
	assert.True(t, ts.IsActive("t"))
}

func TestCheckProximityTriggers_UsesReportedCount(t *testing.T) {
	ts, _, _ := newTestTriggerSession()

	obj := &models.MediaObject{
		ID:     "p",
		Title:  "集合点",
		Active: true,
		Trigger: models.Trigger{
			Kind:      models.TriggerProximity,
			Proximity: &models.ProximityParams{MinDevices: 3},
		},
	}
	objects := []*models.MediaObject{obj}
	ts.Chain().InitializeSession(objects)

	ts.CheckProximityTriggers(objects, 2)
	assert.False(t, ts.IsActive("p"))

	ts.CheckProximityTriggers(objects, 3)
	assert.True(t, ts.IsActive("p"))
}
