// internal/models/object.go
package models

import (
	"fmt"
)

// MediaObject 表示放置在体验中的一个可触发内容单元
type MediaObject struct {
	ID           string `json:"id"`
	ExperienceID string `json:"experience_id,omitempty"`

	// 内容
	Title    string `json:"title"`               // 必填
	Text     string `json:"text,omitempty"`      // 可选正文
	ImageURL string `json:"image_url,omitempty"` // 可选图片
	AudioURL string `json:"audio_url,omitempty"` // 可选音频

	// 放置位置
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
	// Radius 是展示半径（米）。0 表示不绘制地理围栏圆环，
	// 距离类触发仍使用触发参数中的数值阈值。
	Radius float64 `json:"radius"`

	// 触发描述符，每个对象恰好一个
	Trigger Trigger `json:"trigger"`

	// Active 为 false 的对象不参与任何触发评估
	Active bool `json:"active"`

	// DiceFaces 仅 dice 类型使用，固定六面
	DiceFaces []DiceFace `json:"dice_faces,omitempty"`
	// SpinnerOptions 仅 spinner 类型使用，2-8 个选项
	SpinnerOptions []SpinnerOption `json:"spinner_options,omitempty"`

	// 链路字段，对象参与依赖编排时出现
	ArmCondition *ArmCondition `json:"arm_condition,omitempty"`
	Repeatable   bool          `json:"repeatable,omitempty"`
	// ResetTimeoutMs 为触发后自动复位的毫秒数，nil 表示永不自动复位
	ResetTimeoutMs *int64 `json:"reset_timeout_ms,omitempty"`
	ChainID        string `json:"chain_id,omitempty"`
	ChainOrder     int    `json:"chain_order,omitempty"`

	// CreatedAt 为创建时间（epoch 毫秒），创建后不再变更
	CreatedAt int64 `json:"created_at"`
}

// DiceFace 表示骰子对象的一个面
type DiceFace struct {
	Title    string `json:"title"`
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	AutoOpen bool   `json:"auto_open,omitempty"`
}

// SpinnerOption 表示转盘对象的一个选项
type SpinnerOption struct {
	Label string `json:"label"`
	// 可选的结果内容
	ResultTitle string `json:"result_title,omitempty"`
	ResultText  string `json:"result_text,omitempty"`
	// TargetObjectID 可选，指向要接续打开的另一个对象
	TargetObjectID string `json:"target_object_id,omitempty"`
}

// ResetTimeout 返回生效的复位超时（毫秒）。
// 未设置时取缺省值，显式设置的值原样返回（包括 0 与负值）。
func (o *MediaObject) ResetTimeout() int64 {
	if o.ResetTimeoutMs != nil {
		return *o.ResetTimeoutMs
	}
	return DefaultResetTimeoutMs
}

// Validate 校验对象字段。存储层不做任何校验，调用方在写入前负责调用。
func (o *MediaObject) Validate() error {
	if o.Title == "" {
		return fmt.Errorf("对象标题不能为空")
	}
	if o.Radius < 0 {
		return fmt.Errorf("展示半径不能为负数: %v", o.Radius)
	}
	if o.Lat < -90 || o.Lat > 90 {
		return fmt.Errorf("纬度超出范围: %v", o.Lat)
	}
	if o.Lng < -180 || o.Lng > 180 {
		return fmt.Errorf("经度超出范围: %v", o.Lng)
	}
	if !o.Trigger.Kind.IsValid() {
		return fmt.Errorf("未知的触发器类型: %s", o.Trigger.Kind)
	}
	if o.Trigger.Kind == TriggerTilt {
		if o.Trigger.Tilt == nil || !o.Trigger.Tilt.Direction.IsValid() {
			return fmt.Errorf("倾斜触发需要合法的方向参数")
		}
	}
	if o.Trigger.Kind == TriggerDice && len(o.DiceFaces) != 6 {
		return fmt.Errorf("骰子对象必须恰好有六个面，当前 %d 个", len(o.DiceFaces))
	}
	if o.Trigger.Kind == TriggerSpinner {
		if n := len(o.SpinnerOptions); n < 2 || n > 8 {
			return fmt.Errorf("转盘对象必须有 2-8 个选项，当前 %d 个", n)
		}
	}
	if o.ArmCondition != nil {
		if !o.ArmCondition.Type.IsValid() {
			return fmt.Errorf("未知的解锁条件类型: %s", o.ArmCondition.Type)
		}
		if o.ArmCondition.Type == ArmAfterTrigger && o.ArmCondition.ObjectID == "" {
			return fmt.Errorf("after_trigger 条件缺少依赖对象ID")
		}
		if (o.ArmCondition.Type == ArmAllOf || o.ArmCondition.Type == ArmAnyOf) &&
			len(o.ArmCondition.ObjectIDs) == 0 {
			return fmt.Errorf("%s 条件缺少依赖对象ID集合", o.ArmCondition.Type)
		}
	}
	return nil
}
