// internal/models/signal.go
package models

// Position 表示位置提供方上报的一次坐标更新
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Orientation 表示设备朝向（角度制）。
// alpha 为罗盘方位，beta 为前后倾角，gamma 为左右倾角。
type Orientation struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Gamma float64 `json:"gamma"`
}

// ShakeEvent 表示一次离散的摇晃事件及其加速度模长
type ShakeEvent struct {
	Magnitude float64 `json:"magnitude"`
}

// PresenceUpdate 表示在线中继上报的附近设备数。
// 计数约定为包含本机，由上报方负责加上自身。
type PresenceUpdate struct {
	DeviceCount int `json:"device_count"`
}
