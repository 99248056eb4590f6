// internal/services/trigger_evaluators.go
package services

import (
	"github.com/Corphon/GeoTriggerMCP/internal/models"
	"github.com/Corphon/GeoTriggerMCP/internal/utils"
)

// 本文件是各触发器类型的纯判定函数：输入对象与一次传感信号，
// 输出是否命中。不读写任何会话状态，便于单独测试。

// GPSTriggerSatisfied 判断设备坐标是否进入对象的触发半径。
// 距离恰好等于半径时算命中。
func GPSTriggerSatisfied(obj *models.MediaObject, lat, lng float64) bool {
	if obj.Trigger.Kind != models.TriggerGPS {
		return false
	}
	distance := utils.HaversineDistance(lat, lng, obj.Lat, obj.Lng)
	return distance <= obj.Trigger.GPSRadius()
}

// QRTriggerSatisfied 判断扫码内容是否匹配对象。
// 配置的码值与对象ID都可以匹配，码值未配置时只按ID匹配。
func QRTriggerSatisfied(obj *models.MediaObject, code string) bool {
	if obj.Trigger.Kind != models.TriggerQR || code == "" {
		return false
	}
	if obj.Trigger.QR != nil && obj.Trigger.QR.Code != "" && obj.Trigger.QR.Code == code {
		return true
	}
	return obj.ID == code
}

// ShakeTriggerSatisfied 判断摇晃幅度是否达到阈值
func ShakeTriggerSatisfied(obj *models.MediaObject, magnitude float64) bool {
	if obj.Trigger.Kind != models.TriggerShake {
		return false
	}
	return magnitude >= obj.Trigger.ShakeThreshold()
}

// TiltTriggerSatisfied 判断设备倾角是否落在目标角度的容差带内。
// 符号约定：前倾用 beta，后倾取反；右倾用 gamma，左倾取反。
// 这样四个方向都能用同一个正角度目标来配置。
func TiltTriggerSatisfied(obj *models.MediaObject, beta, gamma float64) bool {
	if obj.Trigger.Kind != models.TriggerTilt || obj.Trigger.Tilt == nil {
		return false
	}

	var reading float64
	switch obj.Trigger.Tilt.Direction {
	case models.TiltForward:
		reading = beta
	case models.TiltBack:
		reading = -beta
	case models.TiltRight:
		reading = gamma
	case models.TiltLeft:
		reading = -gamma
	default:
		return false
	}

	diff := reading - obj.Trigger.Tilt.Angle
	if diff < 0 {
		diff = -diff
	}
	return diff <= models.DefaultTiltTolerance
}

// CompassTriggerSatisfied 判断罗盘朝向是否落在目标朝向的容差内。
// 角差按圆周计算，正确跨越 0°/360° 边界。
func CompassTriggerSatisfied(obj *models.MediaObject, heading float64) bool {
	if obj.Trigger.Kind != models.TriggerCompass || obj.Trigger.Compass == nil {
		return false
	}
	diff := utils.AngularDistance(heading, obj.Trigger.Compass.Heading)
	return diff <= obj.Trigger.CompassTolerance()
}

// ProximityTriggerSatisfied 判断附近设备数是否达到门槛。
// 计数约定为包含本机，由上报方负责加上自身。
func ProximityTriggerSatisfied(obj *models.MediaObject, deviceCount int) bool {
	if obj.Trigger.Kind != models.TriggerProximity {
		return false
	}
	return deviceCount >= obj.Trigger.MinDevices()
}

// TouchableKind 判断触发类型是否属于点按激活的交互类。
// dice/spinner/ai 对象的展示都从一次点按开始。
func TouchableKind(kind models.TriggerKind) bool {
	switch kind {
	case models.TriggerTouch, models.TriggerDice, models.TriggerSpinner, models.TriggerAI:
		return true
	}
	return false
}
