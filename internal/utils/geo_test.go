// internal/utils/geo_test.go
package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// 纬度方向上 1 度约等于 111.32 公里，用它构造已知距离的坐标对
const degPerMeterLat = 1.0 / 111320.0

func TestHaversineDistance_ZeroDistance(t *testing.T) {
	d := HaversineDistance(52.52, 13.405, 52.52, 13.405)
	assert.InDelta(t, 0.0, d, 1e-9)
}

func TestHaversineDistance_KnownDistance(t *testing.T) {
	// 沿纬度方向偏移 10 米
	d := HaversineDistance(52.52, 13.405, 52.52+10*degPerMeterLat, 13.405)
	assert.InDelta(t, 10.0, d, 0.05)

	// 偏移 100 米
	d = HaversineDistance(52.52, 13.405, 52.52+100*degPerMeterLat, 13.405)
	assert.InDelta(t, 100.0, d, 0.5)
}

func TestHaversineDistance_Symmetric(t *testing.T) {
	d1 := HaversineDistance(52.52, 13.405, 48.8566, 2.3522)
	d2 := HaversineDistance(48.8566, 2.3522, 52.52, 13.405)
	assert.InDelta(t, d1, d2, 1e-6)

	// 柏林-巴黎约 878 公里，验证数量级正确
	assert.InDelta(t, 878000, d1, 5000)
}

func TestNormalizeAngle(t *testing.T) {
	assert.InDelta(t, 0.0, NormalizeAngle(0), 1e-9)
	assert.InDelta(t, 0.0, NormalizeAngle(360), 1e-9)
	assert.InDelta(t, 10.0, NormalizeAngle(370), 1e-9)
	assert.InDelta(t, 350.0, NormalizeAngle(-10), 1e-9)
	assert.InDelta(t, 180.0, NormalizeAngle(-180), 1e-9)
	assert.InDelta(t, 359.0, NormalizeAngle(719), 1e-9)
}

func TestAngularDistance_WrapsAroundNorth(t *testing.T) {
	// 跨越 0°/360° 边界：350° 和 5° 之间相差 15° 而不是 345°
	assert.InDelta(t, 15.0, AngularDistance(350, 5), 1e-9)
	assert.InDelta(t, 15.0, AngularDistance(5, 350), 1e-9)

	assert.InDelta(t, 50.0, AngularDistance(350, 40), 1e-9)
	assert.InDelta(t, 180.0, AngularDistance(0, 180), 1e-9)
	assert.InDelta(t, 0.0, AngularDistance(90, 90), 1e-9)
}
