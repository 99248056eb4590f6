// internal/models/experience.go
package models

import "time"

// Experience 表示一次可运行的体验：一组放置的对象及其元数据
type Experience struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ExperienceExport 是批量导出/导入的载体，保留对象的全部字段
type ExperienceExport struct {
	Experience *Experience    `json:"experience"`
	Objects    []*MediaObject `json:"objects"`
	ExportedAt time.Time      `json:"exported_at"`
	Version    int            `json:"version"`
}

// ChatMessage 表示与 ai 对象对话中的一条消息
type ChatMessage struct {
	Role    string `json:"role"` // user / assistant
	Content string `json:"content"`
}
