// internal/services/llm_service.go
package services

import (
	"context"
	"sync"

	"github.com/Corphon/GeoTriggerMCP/internal/config"
	apperrors "github.com/Corphon/GeoTriggerMCP/internal/errors"
	"github.com/Corphon/GeoTriggerMCP/internal/llm"
	"github.com/Corphon/GeoTriggerMCP/internal/utils"
)

// LLMService 持有当前生效的AI提供者。
// 密钥未配置时服务处于未就绪状态，ai 对象的对话在配置后才可用。
type LLMService struct {
	mu           sync.RWMutex
	provider     llm.Provider
	providerName string
}

// NewLLMService 根据当前配置创建LLM服务。
// 配置不完整时返回空服务而不是错误，后续可通过 UpdateProvider 补全。
func NewLLMService() *LLMService {
	s := &LLMService{}

	cfg := config.GetCurrentConfig()
	if cfg.LLMProvider == "" || cfg.LLMConfig["api_key"] == "" {
		utils.GetLogger().Warnf("⚠️ AI提供者未配置，ai 对象在配置密钥前不可用")
		return s
	}

	if err := s.UpdateProvider(cfg.LLMProvider, cfg.LLMConfig); err != nil {
		utils.GetLogger().Warnf("⚠️ AI提供者初始化失败: provider=%s err=%v", cfg.LLMProvider, err)
	}
	return s
}

// NewEmptyLLMService 创建未就绪的LLM服务（测试用）
func NewEmptyLLMService() *LLMService {
	return &LLMService{}
}

// UpdateProvider 切换到指定的AI提供者
func (s *LLMService) UpdateProvider(name string, providerConfig map[string]string) error {
	provider, err := llm.GetProvider(name, providerConfig)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.provider = provider
	s.providerName = name
	s.mu.Unlock()

	utils.GetLogger().Infof("✅ AI提供者已就绪: %s", provider.GetName())
	return nil
}

// IsReady 检查服务是否已配置可用的提供者
func (s *LLMService) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.provider != nil
}

// GetProviderName 返回当前提供者的注册名，未配置时为空串
func (s *LLMService) GetProviderName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.providerName
}

// CompleteText 调用当前提供者生成文本
func (s *LLMService) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.mu.RLock()
	provider := s.provider
	s.mu.RUnlock()

	if provider == nil {
		return nil, apperrors.NewProcessingError("AI提供者未配置", nil)
	}
	return provider.CompleteText(ctx, req)
}
