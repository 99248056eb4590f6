// internal/models/trigger.go
package models

// TriggerKind 表示触发器的类型
type TriggerKind string

const (
	TriggerGPS       TriggerKind = "gps"       // 地理围栏触发
	TriggerQR        TriggerKind = "qr"        // 二维码扫描触发
	TriggerShake     TriggerKind = "shake"     // 摇晃触发
	TriggerTilt      TriggerKind = "tilt"      // 倾斜触发
	TriggerCompass   TriggerKind = "compass"   // 指南针朝向触发
	TriggerTouch     TriggerKind = "touch"     // 点按触发
	TriggerHold      TriggerKind = "hold"      // 长按触发
	TriggerTimer     TriggerKind = "timer"     // 定时触发
	TriggerProximity TriggerKind = "proximity" // 附近设备数触发
	TriggerDice      TriggerKind = "dice"      // 骰子随机触发
	TriggerSpinner   TriggerKind = "spinner"   // 转盘随机触发
	TriggerAI        TriggerKind = "ai"        // AI对话触发
)

// 各触发器参数缺省值
const (
	DefaultGPSRadius      = 10.0    // 米
	DefaultShakeThreshold = 15.0    // 加速度模长
	DefaultTiltTolerance  = 15.0    // 度
	DefaultCompassTol     = 30.0    // 度
	DefaultHoldDurationMs = 2000    // 毫秒
	DefaultTimerDelayMs   = 5000    // 毫秒
	DefaultMinDevices     = 2       // 包含自身
	DefaultResetTimeoutMs = 30000   // 毫秒
)

// AllTriggerKinds 列出全部十二种触发器类型
var AllTriggerKinds = []TriggerKind{
	TriggerGPS, TriggerQR, TriggerShake, TriggerTilt,
	TriggerCompass, TriggerTouch, TriggerHold, TriggerTimer,
	TriggerProximity, TriggerDice, TriggerSpinner, TriggerAI,
}

// IsValid 检查触发器类型是否合法
func (k TriggerKind) IsValid() bool {
	switch k {
	case TriggerGPS, TriggerQR, TriggerShake, TriggerTilt,
		TriggerCompass, TriggerTouch, TriggerHold, TriggerTimer,
		TriggerProximity, TriggerDice, TriggerSpinner, TriggerAI:
		return true
	}
	return false
}

// TiltDirection 表示倾斜触发的方向
type TiltDirection string

const (
	TiltForward TiltDirection = "forward" // 前倾，使用 beta 轴
	TiltBack    TiltDirection = "back"    // 后倾，使用 beta 轴取反
	TiltLeft    TiltDirection = "left"    // 左倾，使用 gamma 轴取反
	TiltRight   TiltDirection = "right"   // 右倾，使用 gamma 轴
)

// IsValid 检查倾斜方向是否合法
func (d TiltDirection) IsValid() bool {
	switch d {
	case TiltForward, TiltBack, TiltLeft, TiltRight:
		return true
	}
	return false
}

// Trigger 表示对象的触发描述符：类型加上该类型专属的参数。
// 每种类型的参数以独立的具名结构存放，取代动态参数包。
type Trigger struct {
	Kind      TriggerKind      `json:"kind"`
	GPS       *GPSParams       `json:"gps,omitempty"`
	QR        *QRParams        `json:"qr,omitempty"`
	Shake     *ShakeParams     `json:"shake,omitempty"`
	Tilt      *TiltParams      `json:"tilt,omitempty"`
	Compass   *CompassParams   `json:"compass,omitempty"`
	Hold      *HoldParams      `json:"hold,omitempty"`
	Timer     *TimerParams     `json:"timer,omitempty"`
	Proximity *ProximityParams `json:"proximity,omitempty"`
}

// GPSParams 地理围栏触发参数
type GPSParams struct {
	Radius float64 `json:"radius,omitempty"` // 触发半径（米），未设置时取缺省值
	// OpenOnMarkerClick 控制是否允许点击地图标记手动打开，nil 视为允许
	OpenOnMarkerClick *bool `json:"open_on_marker_click,omitempty"`
}

// QRParams 二维码触发参数
type QRParams struct {
	Code string `json:"code,omitempty"` // 生成的二维码内容；对象ID始终可作为备用匹配
}

// ShakeParams 摇晃触发参数
type ShakeParams struct {
	Threshold float64 `json:"threshold,omitempty"` // 加速度阈值
}

// TiltParams 倾斜触发参数
type TiltParams struct {
	Direction TiltDirection `json:"direction"`
	Angle     float64       `json:"angle"` // 目标角度（度），符号由方向决定
}

// CompassParams 指南针触发参数
type CompassParams struct {
	Heading   float64 `json:"heading"`             // 目标朝向（度）
	Tolerance float64 `json:"tolerance,omitempty"` // 允许偏差（度）
}

// HoldParams 长按触发参数
type HoldParams struct {
	DurationMs int64 `json:"duration_ms,omitempty"` // 按住时长（毫秒）
}

// TimerParams 定时触发参数
type TimerParams struct {
	DelayMs int64 `json:"delay_ms,omitempty"` // 自定时器启动起算的延迟（毫秒）
}

// ProximityParams 附近设备数触发参数
type ProximityParams struct {
	MinDevices int `json:"min_devices,omitempty"` // 最少设备数，计数约定为包含自身
}

// GPSRadius 返回生效的地理围栏半径（米）
func (t *Trigger) GPSRadius() float64 {
	if t.GPS != nil && t.GPS.Radius > 0 {
		return t.GPS.Radius
	}
	return DefaultGPSRadius
}

// AllowManualOpen 返回是否允许手动打开该对象。
// 仅 gps 类型支持通过 open_on_marker_click=false 显式禁用。
func (t *Trigger) AllowManualOpen() bool {
	if t.Kind == TriggerGPS && t.GPS != nil && t.GPS.OpenOnMarkerClick != nil {
		return *t.GPS.OpenOnMarkerClick
	}
	return true
}

// ShakeThreshold 返回生效的摇晃阈值
func (t *Trigger) ShakeThreshold() float64 {
	if t.Shake != nil && t.Shake.Threshold > 0 {
		return t.Shake.Threshold
	}
	return DefaultShakeThreshold
}

// CompassTolerance 返回生效的指南针偏差容限（度）
func (t *Trigger) CompassTolerance() float64 {
	if t.Compass != nil && t.Compass.Tolerance > 0 {
		return t.Compass.Tolerance
	}
	return DefaultCompassTol
}

// HoldDuration 返回生效的长按时长（毫秒）
func (t *Trigger) HoldDuration() int64 {
	if t.Hold != nil && t.Hold.DurationMs > 0 {
		return t.Hold.DurationMs
	}
	return DefaultHoldDurationMs
}

// TimerDelay 返回生效的定时延迟（毫秒）
func (t *Trigger) TimerDelay() int64 {
	if t.Timer != nil && t.Timer.DelayMs > 0 {
		return t.Timer.DelayMs
	}
	return DefaultTimerDelayMs
}

// MinDevices 返回生效的最少设备数
func (t *Trigger) MinDevices() int {
	if t.Proximity != nil && t.Proximity.MinDevices > 0 {
		return t.Proximity.MinDevices
	}
	return DefaultMinDevices
}
