// internal/utils/metrics.go
package utils

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector 收集应用指标
type MetricsCollector struct {
	counters map[string]*Counter
	gauges   map[string]*Gauge

	mu sync.RWMutex
}

// Counter 计数器指标，值的更新走原子操作以减少锁竞争
type Counter struct {
	name  string
	value int64
}

// Gauge 瞬时值指标
type Gauge struct {
	name  string
	value int64
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector 返回全局指标收集器
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = &MetricsCollector{
			counters: make(map[string]*Counter),
			gauges:   make(map[string]*Gauge),
		}
	})
	return globalMetrics
}

// IncrementCounter 计数器加一
func (m *MetricsCollector) IncrementCounter(name string) {
	m.AddCounter(name, 1)
}

// AddCounter 计数器累加
func (m *MetricsCollector) AddCounter(name string, value int64) {
	// 快路径：计数器已存在时只用读锁
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()

	if exists {
		atomic.AddInt64(&counter.value, value)
		return
	}

	// 慢路径：创建新计数器，写锁下双重检查
	m.mu.Lock()
	counter, exists = m.counters[name]
	if !exists {
		counter = &Counter{name: name}
		m.counters[name] = counter
	}
	m.mu.Unlock()

	atomic.AddInt64(&counter.value, value)
}

// GetCounterValue 读取计数器当前值
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()

	if !exists {
		return 0
	}
	return atomic.LoadInt64(&counter.value)
}

// SetGauge 设置瞬时值
func (m *MetricsCollector) SetGauge(name string, value int64) {
	m.mu.RLock()
	gauge, exists := m.gauges[name]
	m.mu.RUnlock()

	if exists {
		atomic.StoreInt64(&gauge.value, value)
		return
	}

	m.mu.Lock()
	gauge, exists = m.gauges[name]
	if !exists {
		gauge = &Gauge{name: name}
		m.gauges[name] = gauge
	}
	m.mu.Unlock()

	atomic.StoreInt64(&gauge.value, value)
}

// GetMetrics 导出全部指标的快照
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, c := range m.counters {
		counters[name] = atomic.LoadInt64(&c.value)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, g := range m.gauges {
		gauges[name] = atomic.LoadInt64(&g.value)
	}

	return map[string]interface{}{
		"counters":  counters,
		"gauges":    gauges,
		"timestamp": time.Now().Format(time.RFC3339),
	}
}

// TriggerMetrics 触发/链路领域的指标记录助手
type TriggerMetrics struct {
	collector *MetricsCollector
}

// NewTriggerMetrics 创建触发指标助手
func NewTriggerMetrics() *TriggerMetrics {
	return &TriggerMetrics{collector: GetMetricsCollector()}
}

// RecordEvaluation 记录一次触发器评估
func (tm *TriggerMetrics) RecordEvaluation(kind string) {
	tm.collector.IncrementCounter(fmt.Sprintf("trigger_evaluations_%s", kind))
	tm.collector.IncrementCounter("trigger_evaluations_total")
}

// RecordActivation 记录一次对象激活
func (tm *TriggerMetrics) RecordActivation(kind string) {
	tm.collector.IncrementCounter(fmt.Sprintf("trigger_activations_%s", kind))
	tm.collector.IncrementCounter("trigger_activations_total")
}

// RecordStatusChange 记录一次链路状态变更
func (tm *TriggerMetrics) RecordStatusChange(newStatus string) {
	tm.collector.IncrementCounter(fmt.Sprintf("chain_status_%s", newStatus))
}

// RecordSnapshotRestore 记录一次快照恢复（restored=false 表示快照过期或缺失）
func (tm *TriggerMetrics) RecordSnapshotRestore(restored bool) {
	if restored {
		tm.collector.IncrementCounter("session_snapshot_restored")
	} else {
		tm.collector.IncrementCounter("session_snapshot_cold_start")
	}
}

// RecordLLMRequest 记录一次文本生成调用
func (tm *TriggerMetrics) RecordLLMRequest(provider string, duration time.Duration) {
	tm.collector.IncrementCounter(fmt.Sprintf("llm_requests_%s", provider))
	tm.collector.AddCounter("llm_request_millis_total", duration.Milliseconds())
}

// SetConnectedDevices 更新某个体验当前连接的设备数
func (tm *TriggerMetrics) SetConnectedDevices(experienceID string, count int) {
	tm.collector.SetGauge(fmt.Sprintf("presence_devices_%s", experienceID), int64(count))
}
