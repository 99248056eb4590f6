// internal/models/session.go
package models

// TriggerStatus 表示对象在一次会话中的链路状态
type TriggerStatus string

const (
	// StatusIdle 表示尚未解锁
	StatusIdle TriggerStatus = "idle"
	// StatusArmed 表示已解锁，等待自身触发信号
	StatusArmed TriggerStatus = "armed"
	// StatusTriggered 表示刚触发/正在展示
	StatusTriggered TriggerStatus = "triggered"
	// StatusCompleted 表示已永久完成，不会再次触发
	StatusCompleted TriggerStatus = "completed"
)

// StatusEntry 是快照中的 [对象ID, 状态] 对
type StatusEntry struct {
	ObjectID string        `json:"object_id"`
	Status   TriggerStatus `json:"status"`
}

// TimestampEntry 是快照中的 [对象ID, 状态变更时间] 对（epoch 毫秒）
type TimestampEntry struct {
	ObjectID  string `json:"object_id"`
	ChangedAt int64  `json:"changed_at"`
}

// SessionSnapshot 是会话状态的可序列化投影。
// 在新鲜度窗口内重新加载时恢复会话进度，而不是全部从 idle 重来。
type SessionSnapshot struct {
	ExperienceID string           `json:"experience_id"`
	Statuses     []StatusEntry    `json:"statuses"`
	Timestamps   []TimestampEntry `json:"timestamps"`
	SavedAt      int64            `json:"saved_at"` // epoch 毫秒
}
