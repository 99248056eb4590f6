// internal/services/trigger_service.go
package services

import (
	"sync"
	"time"

	"github.com/Corphon/GeoTriggerMCP/internal/models"
	"github.com/Corphon/GeoTriggerMCP/internal/utils"
)

// ActivationObserver 在对象被激活展示时回调
type ActivationObserver func(obj *models.MediaObject)

// TriggerSession 是一个体验会话的激活协调器。
// 它站在链路状态机之上，负责激活展示的编排：
// 同一对象同时最多展示一次、手动关闭后的抑制、
// 自动消隐定时器、timer 触发器倒计时与长按检测。
type TriggerSession struct {
	chain *ChainSession

	mu        sync.Mutex
	active    map[string]bool
	dismissed map[string]bool
	holdStart map[string]time.Time

	observers      map[int]ActivationObserver
	nextObserverID int

	sched   *Scheduler
	metrics *utils.TriggerMetrics

	// 测试钩子
	now func() time.Time
}

// NewTriggerSession 创建激活协调器
func NewTriggerSession(chain *ChainSession) *TriggerSession {
	return &TriggerSession{
		chain:     chain,
		active:    make(map[string]bool),
		dismissed: make(map[string]bool),
		holdStart: make(map[string]time.Time),
		observers: make(map[int]ActivationObserver),
		sched:     NewScheduler(),
		metrics:   utils.NewTriggerMetrics(),
		now:       time.Now,
	}
}

// Chain 返回底层的链路状态机
func (ts *TriggerSession) Chain() *ChainSession {
	return ts.chain
}

// Subscribe 注册激活观察者，返回用于注销的句柄
func (ts *TriggerSession) Subscribe(observer ActivationObserver) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	id := ts.nextObserverID
	ts.nextObserverID++
	ts.observers[id] = observer
	return id
}

// Unsubscribe 注销激活观察者
func (ts *TriggerSession) Unsubscribe(id int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	delete(ts.observers, id)
}

// IsActive 检查对象当前是否处于激活展示中
func (ts *TriggerSession) IsActive(objectID string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	return ts.active[objectID]
}

// IsDismissed 检查对象是否被手动关闭过
func (ts *TriggerSession) IsDismissed(objectID string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	return ts.dismissed[objectID]
}

// NotifyActivation 处理一次触发信号命中后的激活请求。
//
// 判定顺序：已激活 → 丢弃；被手动关闭过 → 丢弃；
// 然后交给链路状态机做 armed 校验与迁移。带解锁条件的对象
// 必须通过迁移才能展示，不带条件的对象迁移结果只影响链路、
// 不拦截展示。通过后通知观察者并安排自动消隐。
func (ts *TriggerSession) NotifyActivation(obj *models.MediaObject, objects []*models.MediaObject) {
	ts.mu.Lock()
	if ts.active[obj.ID] || ts.dismissed[obj.ID] {
		ts.mu.Unlock()
		return
	}
	ts.mu.Unlock()

	// 状态迁移先于激活展示：展示出来的对象链路上一定已经是 triggered
	transitioned := ts.chain.ProcessTriggerActivation(obj, objects)
	if obj.ArmCondition != nil && !transitioned {
		return
	}

	ts.mu.Lock()
	if ts.active[obj.ID] {
		ts.mu.Unlock()
		return
	}
	ts.active[obj.ID] = true
	observers := ts.observersLocked()
	ts.mu.Unlock()

	ts.metrics.RecordActivation(string(obj.Trigger.Kind))
	utils.GetLogger().Debugf("对象激活: id=%s kind=%s", obj.ID, obj.Trigger.Kind)

	for _, observer := range observers {
		observer(obj)
	}

	ts.scheduleDeactivation(obj, objects)
}

// scheduleDeactivation 安排激活展示的自动消隐。
// 复位超时为 nil 时取缺省值，显式设为 0 或负值表示不自动消隐。
func (ts *TriggerSession) scheduleDeactivation(obj *models.MediaObject, objects []*models.MediaObject) {
	timeout := obj.ResetTimeout()
	if timeout <= 0 {
		return
	}

	ts.sched.Schedule(timerNSDeactivate, obj.ID, time.Duration(timeout)*time.Millisecond, func() {
		ts.mu.Lock()
		delete(ts.active, obj.ID)
		ts.mu.Unlock()

		ts.chain.CompleteTrigger(obj, objects)
	})
}

// CompleteActivation 结束一次激活展示（客户端正常关闭弹层）。
// 与 DismissTrigger 不同，对象不进入抑制集，之后仍可再次自动触发。
func (ts *TriggerSession) CompleteActivation(obj *models.MediaObject, objects []*models.MediaObject) {
	ts.mu.Lock()
	wasActive := ts.active[obj.ID]
	delete(ts.active, obj.ID)
	ts.mu.Unlock()

	ts.sched.Cancel(timerNSDeactivate, obj.ID)

	if wasActive {
		ts.chain.CompleteTrigger(obj, objects)
	}
}

// DismissTrigger 手动关闭一个对象。对象从激活集移入抑制集，
// 之后的自动触发全部被忽略，手动打开不受影响。
func (ts *TriggerSession) DismissTrigger(obj *models.MediaObject, objects []*models.MediaObject) {
	ts.mu.Lock()
	wasActive := ts.active[obj.ID]
	delete(ts.active, obj.ID)
	ts.dismissed[obj.ID] = true
	ts.mu.Unlock()

	ts.sched.Cancel(timerNSDeactivate, obj.ID)

	if wasActive {
		ts.chain.CompleteTrigger(obj, objects)
	}
}

// ManuallyActivate 手动打开一个对象（例如点击地图标记）。
// 绕过链路门控、抑制集和已激活判定：对象已在展示中时同样
// 重新通知观察者，界面得以把弹层重新拉到前台。仅 gps 类型
// 可以通过 open_on_marker_click=false 显式禁用，此时返回 false。
func (ts *TriggerSession) ManuallyActivate(obj *models.MediaObject, objects []*models.MediaObject) bool {
	if !obj.Trigger.AllowManualOpen() {
		return false
	}

	ts.mu.Lock()
	ts.active[obj.ID] = true
	observers := ts.observersLocked()
	ts.mu.Unlock()

	ts.metrics.RecordActivation(string(obj.Trigger.Kind))
	for _, observer := range observers {
		observer(obj)
	}
	// Schedule 按键去重，重复打开不会叠加消隐定时器
	ts.scheduleDeactivation(obj, objects)
	return true
}

// ResetAllActivations 清空激活集与抑制集，并取消全部消隐定时器。
// 链路状态不受影响，重置链路要走 ChainSession 的初始化。
func (ts *TriggerSession) ResetAllActivations() {
	ts.mu.Lock()
	ts.active = make(map[string]bool)
	ts.dismissed = make(map[string]bool)
	ts.mu.Unlock()

	ts.sched.CancelNamespace(timerNSDeactivate)
}

// StartTimerTriggers 为所有活跃的 timer 对象启动倒计时。
// 同一对象的倒计时按键去重，重复调用是无害的空操作。
func (ts *TriggerSession) StartTimerTriggers(objects []*models.MediaObject) {
	for _, obj := range objects {
		if !obj.Active || obj.Trigger.Kind != models.TriggerTimer {
			continue
		}

		o := obj
		delay := time.Duration(o.Trigger.TimerDelay()) * time.Millisecond
		ts.sched.Schedule(timerNSTimer, o.ID, delay, func() {
			ts.metrics.RecordEvaluation(string(models.TriggerTimer))
			ts.NotifyActivation(o, objects)
		})
	}
}

// ClearTimerTriggers 取消全部 timer 倒计时
func (ts *TriggerSession) ClearTimerTriggers() {
	ts.sched.CancelNamespace(timerNSTimer)
}

// StartHoldDetection 记录一次长按的起点
func (ts *TriggerSession) StartHoldDetection(objectID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.holdStart[objectID] = ts.now()
}

// EndHoldDetection 结束一次长按。按住时长达到对象配置时触发激活。
func (ts *TriggerSession) EndHoldDetection(obj *models.MediaObject, objects []*models.MediaObject) {
	ts.mu.Lock()
	start, exists := ts.holdStart[obj.ID]
	delete(ts.holdStart, obj.ID)
	held := ts.now().Sub(start)
	ts.mu.Unlock()

	if !exists || obj.Trigger.Kind != models.TriggerHold {
		return
	}

	ts.metrics.RecordEvaluation(string(models.TriggerHold))
	if held.Milliseconds() >= obj.Trigger.HoldDuration() {
		ts.NotifyActivation(obj, objects)
	}
}

// CancelHoldDetection 放弃一次长按（如手指滑出元素）
func (ts *TriggerSession) CancelHoldDetection(objectID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	delete(ts.holdStart, objectID)
}

// CheckLocationTriggers 用一次坐标更新评估全部 gps 对象
func (ts *TriggerSession) CheckLocationTriggers(objects []*models.MediaObject, lat, lng float64) {
	for _, obj := range objects {
		if !obj.Active || obj.Trigger.Kind != models.TriggerGPS {
			continue
		}
		ts.metrics.RecordEvaluation(string(models.TriggerGPS))
		if GPSTriggerSatisfied(obj, lat, lng) {
			ts.NotifyActivation(obj, objects)
		}
	}
}

// CheckQRTrigger 用一次扫码结果评估全部 qr 对象
func (ts *TriggerSession) CheckQRTrigger(objects []*models.MediaObject, code string) {
	for _, obj := range objects {
		if !obj.Active || obj.Trigger.Kind != models.TriggerQR {
			continue
		}
		ts.metrics.RecordEvaluation(string(models.TriggerQR))
		if QRTriggerSatisfied(obj, code) {
			ts.NotifyActivation(obj, objects)
		}
	}
}

// CheckShakeTriggers 用一次摇晃事件评估全部 shake 对象
func (ts *TriggerSession) CheckShakeTriggers(objects []*models.MediaObject, magnitude float64) {
	for _, obj := range objects {
		if !obj.Active || obj.Trigger.Kind != models.TriggerShake {
			continue
		}
		ts.metrics.RecordEvaluation(string(models.TriggerShake))
		if ShakeTriggerSatisfied(obj, magnitude) {
			ts.NotifyActivation(obj, objects)
		}
	}
}

// CheckTiltTriggers 用一次朝向更新评估全部 tilt 对象
func (ts *TriggerSession) CheckTiltTriggers(objects []*models.MediaObject, beta, gamma float64) {
	for _, obj := range objects {
		if !obj.Active || obj.Trigger.Kind != models.TriggerTilt {
			continue
		}
		ts.metrics.RecordEvaluation(string(models.TriggerTilt))
		if TiltTriggerSatisfied(obj, beta, gamma) {
			ts.NotifyActivation(obj, objects)
		}
	}
}

// CheckCompassTriggers 用一次罗盘朝向评估全部 compass 对象
func (ts *TriggerSession) CheckCompassTriggers(objects []*models.MediaObject, heading float64) {
	for _, obj := range objects {
		if !obj.Active || obj.Trigger.Kind != models.TriggerCompass {
			continue
		}
		ts.metrics.RecordEvaluation(string(models.TriggerCompass))
		if CompassTriggerSatisfied(obj, heading) {
			ts.NotifyActivation(obj, objects)
		}
	}
}

// CheckProximityTriggers 用一次在线设备数更新评估全部 proximity 对象
func (ts *TriggerSession) CheckProximityTriggers(objects []*models.MediaObject, deviceCount int) {
	for _, obj := range objects {
		if !obj.Active || obj.Trigger.Kind != models.TriggerProximity {
			continue
		}
		ts.metrics.RecordEvaluation(string(models.TriggerProximity))
		if ProximityTriggerSatisfied(obj, deviceCount) {
			ts.NotifyActivation(obj, objects)
		}
	}
}

// CheckTouchTrigger 处理对指定对象的一次点按。
// touch/dice/spinner/ai 四类交互对象都从点按开始展示。
func (ts *TriggerSession) CheckTouchTrigger(objects []*models.MediaObject, objectID string) {
	for _, obj := range objects {
		if !obj.Active || obj.ID != objectID || !TouchableKind(obj.Trigger.Kind) {
			continue
		}
		ts.metrics.RecordEvaluation(string(obj.Trigger.Kind))
		ts.NotifyActivation(obj, objects)
	}
}

// observersLocked 复制观察者列表，调用方需持有 ts.mu
func (ts *TriggerSession) observersLocked() []ActivationObserver {
	observers := make([]ActivationObserver, 0, len(ts.observers))
	for _, o := range ts.observers {
		observers = append(observers, o)
	}
	return observers
}
