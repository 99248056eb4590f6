// internal/utils/geo.go
package utils

import "math"

// EarthRadiusMeters 为球面地球模型的平均半径（米）
const EarthRadiusMeters = 6371000.0

// HaversineDistance 计算两个经纬度坐标之间的大圆距离（米），
// 使用 haversine 公式和球面地球模型。
func HaversineDistance(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// NormalizeAngle 把角度归一化到 [0, 360) 区间
func NormalizeAngle(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// AngularDistance 计算两个朝向之间的圆周角差（度），结果落在 [0, 180]。
// 必须正确跨越 0°/360° 边界。
func AngularDistance(a, b float64) float64 {
	diff := math.Abs(NormalizeAngle(a) - NormalizeAngle(b))
	if diff > 180 {
		diff = 360 - diff
	}
	return diff
}
