// internal/app/app.go
package app

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Corphon/GeoTriggerMCP/internal/config"
	"github.com/Corphon/GeoTriggerMCP/internal/di"
	"github.com/Corphon/GeoTriggerMCP/internal/services"
	"github.com/Corphon/GeoTriggerMCP/internal/storage"
	"github.com/Corphon/GeoTriggerMCP/internal/utils"

	// 注册内置的AI提供者
	_ "github.com/Corphon/GeoTriggerMCP/internal/llm/providers/openai"
)

// App 持有应用级的共享组件
type App struct {
	Storage *storage.FileStorage
	Config  *config.AppConfig
}

var (
	appInstance *App
	appOnce     sync.Once
)

// GetApp 获取应用单例
func GetApp() *App {
	appOnce.Do(func() {
		appInstance = &App{}
	})
	return appInstance
}

// InitServices 按依赖顺序初始化所有服务并注册到容器。
// 调用前配置系统必须已经初始化。
func InitServices() error {
	app := GetApp()
	cfg := config.GetCurrentConfig()
	app.Config = cfg

	if err := initLogger(cfg); err != nil {
		return fmt.Errorf("初始化日志系统失败: %w", err)
	}

	// 1. 存储层
	fileStorage, err := storage.NewFileStorage(cfg.DataDir, cfg.StorageQuotaBytes)
	if err != nil {
		return fmt.Errorf("初始化存储失败: %w", err)
	}
	app.Storage = fileStorage

	// 2. 服务层（按依赖顺序）
	locks := services.NewLockManager()
	objectService := services.NewObjectService(fileStorage, locks)
	experienceService := services.NewExperienceService(fileStorage, objectService, locks)
	llmService := services.NewLLMService()
	chatService := services.NewChatService(llmService, objectService)

	// 3. 注册到容器
	container := di.GetContainer()
	container.Register(di.ServiceStorage, fileStorage)
	container.Register(di.ServiceObject, objectService)
	container.Register(di.ServiceExperience, experienceService)
	container.Register(di.ServiceLLM, llmService)
	container.Register(di.ServiceChat, chatService)
	container.Register(di.ServiceConfig, cfg)

	utils.GetLogger().Infof("✅ 服务初始化完成，已注册 %d 个服务", len(container.GetNames()))
	return nil
}

// initLogger 初始化结构化日志，调试模式下放开debug级别
func initLogger(cfg *config.AppConfig) error {
	logFile := filepath.Join(cfg.LogDir, "server.log")
	if err := utils.InitLogger(logFile); err != nil {
		return err
	}

	if cfg.DebugMode {
		utils.GetLogger().SetLogLevel(utils.DEBUG)
	} else {
		utils.GetLogger().SetLogLevel(utils.INFO)
	}
	return nil
}
