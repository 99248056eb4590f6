// internal/services/chat_service.go
package services

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Corphon/GeoTriggerMCP/internal/errors"
	"github.com/Corphon/GeoTriggerMCP/internal/llm"
	"github.com/Corphon/GeoTriggerMCP/internal/models"
	"github.com/Corphon/GeoTriggerMCP/internal/utils"
)

// chatMaxTokens 限制单轮回复长度，ai 对象的回复应当短小贴合角色
const chatMaxTokens = 600

// ChatService 处理与 ai 对象的对话。
// 对象的标题和正文构成角色设定，对话历史由客户端维护并随请求传入。
type ChatService struct {
	llmService *LLMService
	objects    *ObjectService
	metrics    *utils.TriggerMetrics
}

// NewChatService 创建对话服务
func NewChatService(llmService *LLMService, objects *ObjectService) *ChatService {
	return &ChatService{
		llmService: llmService,
		objects:    objects,
		metrics:    utils.NewTriggerMetrics(),
	}
}

// ChatWithObject 以指定 ai 对象的身份回复一轮对话
func (s *ChatService) ChatWithObject(ctx context.Context, experienceID, objectID string, history []models.ChatMessage) (string, error) {
	obj, err := s.objects.GetObject(experienceID, objectID)
	if err != nil {
		return "", err
	}

	if obj.Trigger.Kind != models.TriggerAI {
		return "", apperrors.NewValidationError(
			fmt.Sprintf("对象不是 ai 类型: %s", objectID), nil)
	}
	if len(history) == 0 {
		return "", apperrors.NewValidationError("对话历史不能为空", nil)
	}
	if !s.llmService.IsReady() {
		return "", apperrors.NewProcessingError("AI提供者未配置，请先在设置中填写密钥", nil)
	}

	req := llm.CompletionRequest{
		SystemPrompt: buildPersonaPrompt(obj),
		Messages:     toLLMMessages(history),
		MaxTokens:    chatMaxTokens,
		Temperature:  0.8,
	}

	start := time.Now()
	resp, err := s.llmService.CompleteText(ctx, req)
	if err != nil {
		return "", apperrors.NewProcessingError("AI回复生成失败", err)
	}
	s.metrics.RecordLLMRequest(s.llmService.GetProviderName(), time.Since(start))

	return resp.Text, nil
}

// buildPersonaPrompt 用对象内容构造角色设定提示词
func buildPersonaPrompt(obj *models.MediaObject) string {
	prompt := fmt.Sprintf("你正在扮演一个放置在实景体验中的角色，名字是「%s」。", obj.Title)
	if obj.Text != "" {
		prompt += fmt.Sprintf("角色设定如下：%s。", obj.Text)
	}
	prompt += "始终以该角色的口吻回复，回答保持简短自然，不要跳出角色。"
	return prompt
}

// toLLMMessages 把对话历史转换为提供者的消息格式
func toLLMMessages(history []models.ChatMessage) []llm.Message {
	messages := make([]llm.Message, 0, len(history))
	for _, m := range history {
		role := m.Role
		if role != "assistant" {
			role = "user"
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}
	return messages
}
