// internal/models/condition.go
package models

// ArmConditionType 表示解锁条件的类型
type ArmConditionType string

const (
	// ArmNever 表示对象只能通过手动操作打开，永远不会自动解锁
	ArmNever ArmConditionType = "never"
	// ArmAfterTrigger 表示需要指定对象先达到 triggered/completed 状态
	ArmAfterTrigger ArmConditionType = "after_trigger"
	// ArmAllOf 表示需要一组对象全部达到 triggered/completed 状态
	ArmAllOf ArmConditionType = "all_of"
	// ArmAnyOf 表示需要一组对象中至少一个达到 triggered/completed 状态
	ArmAnyOf ArmConditionType = "any_of"
	// ArmTimer 表示由 timer 触发器自身控制时机，条件本身始终满足
	ArmTimer ArmConditionType = "timer"
)

// IsValid 检查解锁条件类型是否合法
func (t ArmConditionType) IsValid() bool {
	switch t {
	case ArmNever, ArmAfterTrigger, ArmAllOf, ArmAnyOf, ArmTimer:
		return true
	}
	return false
}

// ArmCondition 声明一个对象何时有资格被触发，独立于其自身的触发信号。
// 对象不携带解锁条件时视为会话开始即解锁。
type ArmCondition struct {
	Type ArmConditionType `json:"type"`
	// ObjectID 是 after_trigger 条件依赖的对象ID
	ObjectID string `json:"object_id,omitempty"`
	// ObjectIDs 是 all_of/any_of 条件依赖的对象ID集合
	ObjectIDs []string `json:"object_ids,omitempty"`
	// DelayMs 是 after_trigger 条件在依赖满足后仍需等待的毫秒数
	DelayMs int64 `json:"delay_ms,omitempty"`
}
