// internal/api/handlers.go
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/GeoTriggerMCP/internal/config"
	apperrors "github.com/Corphon/GeoTriggerMCP/internal/errors"
	"github.com/Corphon/GeoTriggerMCP/internal/llm"
	"github.com/Corphon/GeoTriggerMCP/internal/models"
	"github.com/Corphon/GeoTriggerMCP/internal/services"
	"github.com/Corphon/GeoTriggerMCP/internal/utils"
)

// APIResponse 统一的API响应结构
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError 统一的API错误结构
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Handler 处理API请求
type Handler struct {
	experienceService *services.ExperienceService
	objectService     *services.ObjectService
	chatService       *services.ChatService
	llmService        *services.LLMService

	hub      *PresenceHub
	response *ResponseHelper

	// 已接好推送观察者的体验集合
	wiredMu sync.Mutex
	wired   map[string]bool
}

// NewHandler 创建API处理器。
// 在线中继的设备数变化直接驱动 proximity 触发评估。
func NewHandler(
	experienceService *services.ExperienceService,
	objectService *services.ObjectService,
	chatService *services.ChatService,
	llmService *services.LLMService,
) *Handler {
	h := &Handler{
		experienceService: experienceService,
		objectService:     objectService,
		chatService:       chatService,
		llmService:        llmService,
		response:          NewResponseHelper(),
		wired:             make(map[string]bool),
	}

	h.hub = NewPresenceHub(func(experienceID string, count int) {
		objects, err := h.objectService.GetObjects(experienceID)
		if err != nil {
			utils.GetLogger().Warnf("proximity 评估读取对象失败: experience=%s err=%v", experienceID, err)
			return
		}
		h.session(experienceID).CheckProximityTriggers(objects, count)
	})

	return h
}

// session 获取体验的激活协调器，首次获取时挂上推送观察者：
// 激活事件和链路状态变更都会广播给该体验的在线设备。
func (h *Handler) session(experienceID string) *services.TriggerSession {
	session := h.experienceService.Session(experienceID)

	h.wiredMu.Lock()
	alreadyWired := h.wired[experienceID]
	h.wired[experienceID] = true
	h.wiredMu.Unlock()

	if !alreadyWired {
		session.Subscribe(func(obj *models.MediaObject) {
			h.hub.Broadcast(experienceID, map[string]interface{}{
				"type":      "activation",
				"object_id": obj.ID,
				"kind":      string(obj.Trigger.Kind),
				"title":     obj.Title,
				"timestamp": time.Now().Format(time.RFC3339),
			})
		})
		session.Chain().Subscribe(func(objectID string, newStatus, previousStatus models.TriggerStatus) {
			h.hub.Broadcast(experienceID, map[string]interface{}{
				"type":      "status",
				"object_id": objectID,
				"status":    string(newStatus),
				"previous":  string(previousStatus),
				"timestamp": time.Now().Format(time.RFC3339),
			})
		})
	}

	return session
}

// handleServiceError 把服务层错误映射为HTTP响应
func (h *Handler) handleServiceError(c *gin.Context, err error) {
	switch {
	case apperrors.IsNotFoundError(err):
		h.response.Error(c, http.StatusNotFound, ErrorNotFound, err.Error())
	case apperrors.IsValidationError(err):
		h.response.BadRequest(c, err.Error())
	case apperrors.IsStorageFullError(err):
		h.response.InsufficientStorage(c, err.Error())
	case apperrors.IsConflictError(err):
		h.response.Conflict(c, err.Error())
	default:
		h.response.InternalError(c, err.Error())
	}
}

// ===============================
// 体验管理
// ===============================

// GetExperiences 列出全部体验
func (h *Handler) GetExperiences(c *gin.Context) {
	experiences, err := h.experienceService.ListExperiences()
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.response.Success(c, experiences)
}

// CreateExperience 创建体验
func (h *Handler) CreateExperience(c *gin.Context) {
	var req struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.response.BadRequest(c, "请求参数不合法", err.Error())
		return
	}

	exp, err := h.experienceService.CreateExperience(req.Name, req.Description)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.response.Created(c, exp, "体验创建成功")
}

// GetExperience 读取体验详情
func (h *Handler) GetExperience(c *gin.Context) {
	exp, err := h.experienceService.GetExperience(c.Param("id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.response.Success(c, exp)
}

// UpdateExperience 更新体验元数据
func (h *Handler) UpdateExperience(c *gin.Context) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.response.BadRequest(c, "请求参数不合法", err.Error())
		return
	}

	exp, err := h.experienceService.UpdateExperience(c.Param("id"), req.Name, req.Description)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.response.Success(c, exp, "体验更新成功")
}

// DeleteExperience 删除体验
func (h *Handler) DeleteExperience(c *gin.Context) {
	experienceID := c.Param("id")
	if err := h.experienceService.DeleteExperience(experienceID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.wiredMu.Lock()
	delete(h.wired, experienceID)
	h.wiredMu.Unlock()

	h.response.Success(c, nil, "体验已删除")
}

// ExportExperience 导出体验及其全部对象
func (h *Handler) ExportExperience(c *gin.Context) {
	export, err := h.experienceService.ExportExperience(c.Param("id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	if c.Query("format") == "file" {
		content, marshalErr := json.MarshalIndent(export, "", "  ")
		if marshalErr != nil {
			h.response.InternalError(c, "导出序列化失败", marshalErr.Error())
			return
		}
		filename := fmt.Sprintf("experience-%s.json", export.Experience.ID)
		h.response.FileResponse(c, string(content), filename, "application/json; charset=utf-8")
		return
	}

	h.response.Success(c, export, "导出成功")
}

// ImportExperience 从导出载荷创建新体验
func (h *Handler) ImportExperience(c *gin.Context) {
	var export models.ExperienceExport
	if err := c.ShouldBindJSON(&export); err != nil {
		h.response.Error(c, http.StatusBadRequest, ErrorImportInvalid, "导入载荷不合法", err.Error())
		return
	}

	exp, err := h.experienceService.ImportExperience(&export)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.response.Created(c, exp, "体验导入成功")
}

// ===============================
// 对象管理
// ===============================

// GetObjects 列出体验的全部对象
func (h *Handler) GetObjects(c *gin.Context) {
	objects, err := h.objectService.GetObjects(c.Param("id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.response.Success(c, objects)
}

// GetObject 读取单个对象
func (h *Handler) GetObject(c *gin.Context) {
	obj, err := h.objectService.GetObject(c.Param("id"), c.Param("object_id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.response.Success(c, obj)
}

// CreateObject 创建对象
func (h *Handler) CreateObject(c *gin.Context) {
	experienceID := c.Param("id")
	if _, err := h.experienceService.GetExperience(experienceID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	var obj models.MediaObject
	if err := c.ShouldBindJSON(&obj); err != nil {
		h.response.BadRequest(c, "请求参数不合法", err.Error())
		return
	}
	obj.ID = ""

	if err := obj.Validate(); err != nil {
		h.response.Error(c, http.StatusBadRequest, ErrorObjectInvalid, err.Error())
		return
	}

	objectID, err := h.objectService.SaveObject(experienceID, &obj)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.response.Created(c, gin.H{"id": objectID, "object": obj}, "对象创建成功")
}

// UpdateObject 更新对象
func (h *Handler) UpdateObject(c *gin.Context) {
	experienceID := c.Param("id")
	objectID := c.Param("object_id")

	if _, err := h.objectService.GetObject(experienceID, objectID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	var obj models.MediaObject
	if err := c.ShouldBindJSON(&obj); err != nil {
		h.response.BadRequest(c, "请求参数不合法", err.Error())
		return
	}
	obj.ID = objectID

	if err := obj.Validate(); err != nil {
		h.response.Error(c, http.StatusBadRequest, ErrorObjectInvalid, err.Error())
		return
	}

	if _, err := h.objectService.SaveObject(experienceID, &obj); err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.response.Success(c, obj, "对象更新成功")
}

// DeleteObject 删除对象
func (h *Handler) DeleteObject(c *gin.Context) {
	if err := h.objectService.DeleteObject(c.Param("id"), c.Param("object_id")); err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.response.Success(c, nil, "对象已删除")
}

// GetObjectQRPayload 返回对象二维码应编码的内容，图像渲染由客户端完成
func (h *Handler) GetObjectQRPayload(c *gin.Context) {
	obj, err := h.objectService.GetObject(c.Param("id"), c.Param("object_id"))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	payload := obj.ID
	if obj.Trigger.QR != nil && obj.Trigger.QR.Code != "" {
		payload = obj.Trigger.QR.Code
	}
	h.response.Success(c, gin.H{"object_id": obj.ID, "payload": payload})
}

// ===============================
// 会话管理
// ===============================

// InitializeSession 初始化体验会话并返回对象与链路状态
func (h *Handler) InitializeSession(c *gin.Context) {
	experienceID := c.Param("id")

	objects, err := h.experienceService.InitializeSession(experienceID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	session := h.session(experienceID)
	h.response.Success(c, gin.H{
		"objects":  objects,
		"statuses": session.Chain().GetAllStatuses(),
	}, "会话初始化完成")
}

// DisposeSession 终止体验会话
func (h *Handler) DisposeSession(c *gin.Context) {
	h.experienceService.DisposeSession(c.Param("id"))
	h.response.Success(c, nil, "会话已终止")
}

// GetSessionStatuses 返回全部对象的链路状态
func (h *Handler) GetSessionStatuses(c *gin.Context) {
	session := h.session(c.Param("id"))
	h.response.Success(c, session.Chain().GetAllStatuses())
}

// ResetActivations 清空激活集与抑制集，链路状态不受影响
func (h *Handler) ResetActivations(c *gin.Context) {
	h.session(c.Param("id")).ResetAllActivations()
	h.response.Success(c, nil, "激活状态已重置")
}

// StartSessionTimers 启动（或重启）全部 timer 对象的倒计时。
// 倒计时按对象键去重，重复调用不会叠加定时器。
func (h *Handler) StartSessionTimers(c *gin.Context) {
	session, objects, ok := h.sessionWithObjects(c)
	if !ok {
		return
	}
	session.StartTimerTriggers(objects)
	h.response.Success(c, nil, "定时触发器已启动")
}

// ClearSessionTimers 取消全部 timer 倒计时，不影响其他会话状态
func (h *Handler) ClearSessionTimers(c *gin.Context) {
	h.session(c.Param("id")).ClearTimerTriggers()
	h.response.Success(c, nil, "定时触发器已取消")
}

// ===============================
// 传感信号
// ===============================

// sessionWithObjects 读取对象列表并返回协调器，信号端点的公共前奏
func (h *Handler) sessionWithObjects(c *gin.Context) (*services.TriggerSession, []*models.MediaObject, bool) {
	experienceID := c.Param("id")
	objects, err := h.objectService.GetObjects(experienceID)
	if err != nil {
		h.handleServiceError(c, err)
		return nil, nil, false
	}
	return h.session(experienceID), objects, true
}

// ReportLocation 上报一次设备坐标
func (h *Handler) ReportLocation(c *gin.Context) {
	var pos models.Position
	if err := c.ShouldBindJSON(&pos); err != nil {
		h.response.Error(c, http.StatusBadRequest, ErrorSignalInvalid, "坐标不合法", err.Error())
		return
	}
	if pos.Lat < -90 || pos.Lat > 90 || pos.Lng < -180 || pos.Lng > 180 {
		h.response.Error(c, http.StatusBadRequest, ErrorSignalInvalid,
			fmt.Sprintf("坐标超出范围: lat=%v lng=%v", pos.Lat, pos.Lng))
		return
	}

	session, objects, ok := h.sessionWithObjects(c)
	if !ok {
		return
	}
	session.CheckLocationTriggers(objects, pos.Lat, pos.Lng)
	h.response.Success(c, nil)
}

// ReportQRScan 上报一次扫码结果
func (h *Handler) ReportQRScan(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.response.Error(c, http.StatusBadRequest, ErrorSignalInvalid, "扫码内容不合法", err.Error())
		return
	}

	session, objects, ok := h.sessionWithObjects(c)
	if !ok {
		return
	}
	session.CheckQRTrigger(objects, req.Code)
	h.response.Success(c, nil)
}

// ReportShake 上报一次摇晃事件
func (h *Handler) ReportShake(c *gin.Context) {
	var event models.ShakeEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		h.response.Error(c, http.StatusBadRequest, ErrorSignalInvalid, "摇晃事件不合法", err.Error())
		return
	}

	session, objects, ok := h.sessionWithObjects(c)
	if !ok {
		return
	}
	session.CheckShakeTriggers(objects, event.Magnitude)
	h.response.Success(c, nil)
}

// ReportOrientation 上报一次设备朝向。
// 同一份朝向数据驱动 tilt（beta/gamma）和 compass（alpha）两类评估。
func (h *Handler) ReportOrientation(c *gin.Context) {
	var ori models.Orientation
	if err := c.ShouldBindJSON(&ori); err != nil {
		h.response.Error(c, http.StatusBadRequest, ErrorSignalInvalid, "朝向数据不合法", err.Error())
		return
	}

	session, objects, ok := h.sessionWithObjects(c)
	if !ok {
		return
	}
	session.CheckTiltTriggers(objects, ori.Beta, ori.Gamma)
	session.CheckCompassTriggers(objects, ori.Alpha)
	h.response.Success(c, nil)
}

// ReportTouch 上报对某个对象的一次点按
func (h *Handler) ReportTouch(c *gin.Context) {
	var req struct {
		ObjectID string `json:"object_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.response.Error(c, http.StatusBadRequest, ErrorSignalInvalid, "点按事件不合法", err.Error())
		return
	}

	session, objects, ok := h.sessionWithObjects(c)
	if !ok {
		return
	}
	session.CheckTouchTrigger(objects, req.ObjectID)
	h.response.Success(c, nil)
}

// StartHold 上报长按开始
func (h *Handler) StartHold(c *gin.Context) {
	var req struct {
		ObjectID string `json:"object_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.response.Error(c, http.StatusBadRequest, ErrorSignalInvalid, "长按事件不合法", err.Error())
		return
	}

	h.session(c.Param("id")).StartHoldDetection(req.ObjectID)
	h.response.Success(c, nil)
}

// EndHold 上报长按结束，按住时长达标时触发激活
func (h *Handler) EndHold(c *gin.Context) {
	var req struct {
		ObjectID string `json:"object_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.response.Error(c, http.StatusBadRequest, ErrorSignalInvalid, "长按事件不合法", err.Error())
		return
	}

	session, objects, ok := h.sessionWithObjects(c)
	if !ok {
		return
	}

	for _, obj := range objects {
		if obj.ID == req.ObjectID {
			session.EndHoldDetection(obj, objects)
			break
		}
	}
	h.response.Success(c, nil)
}

// ReportPresence 上报附近设备数（不经过在线中继的部署用）。
// 计数约定为包含本机，由上报方负责加上自身。
func (h *Handler) ReportPresence(c *gin.Context) {
	var update models.PresenceUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		h.response.Error(c, http.StatusBadRequest, ErrorSignalInvalid, "设备数不合法", err.Error())
		return
	}

	session, objects, ok := h.sessionWithObjects(c)
	if !ok {
		return
	}
	session.CheckProximityTriggers(objects, update.DeviceCount)
	h.response.Success(c, nil)
}

// ===============================
// 对象激活操作
// ===============================

// findObject 在对象列表中定位目标对象
func findObject(objects []*models.MediaObject, objectID string) *models.MediaObject {
	for _, obj := range objects {
		if obj.ID == objectID {
			return obj
		}
	}
	return nil
}

// OpenObject 手动打开对象（点击地图标记）。
// 绕过链路门控和抑制集；gps 对象可以显式禁用手动打开。
func (h *Handler) OpenObject(c *gin.Context) {
	session, objects, ok := h.sessionWithObjects(c)
	if !ok {
		return
	}

	obj := findObject(objects, c.Param("object_id"))
	if obj == nil {
		h.response.NotFound(c, "对象")
		return
	}

	if !session.ManuallyActivate(obj, objects) {
		h.response.Error(c, http.StatusForbidden, ErrorManualOpenBlocked,
			"该对象已禁用手动打开")
		return
	}
	h.response.Success(c, obj, "对象已打开")
}

// DismissObject 手动关闭对象，之后的自动触发全部被抑制
func (h *Handler) DismissObject(c *gin.Context) {
	session, objects, ok := h.sessionWithObjects(c)
	if !ok {
		return
	}

	obj := findObject(objects, c.Param("object_id"))
	if obj == nil {
		h.response.NotFound(c, "对象")
		return
	}

	session.DismissTrigger(obj, objects)
	h.response.Success(c, nil, "对象已关闭")
}

// CompleteObject 结束对象的激活展示，不进入抑制集
func (h *Handler) CompleteObject(c *gin.Context) {
	session, objects, ok := h.sessionWithObjects(c)
	if !ok {
		return
	}

	obj := findObject(objects, c.Param("object_id"))
	if obj == nil {
		h.response.NotFound(c, "对象")
		return
	}

	session.CompleteActivation(obj, objects)
	h.response.Success(c, nil, "展示已结束")
}

// ===============================
// AI对话
// ===============================

// Chat 以 ai 对象的身份回复一轮对话
func (h *Handler) Chat(c *gin.Context) {
	var req struct {
		ExperienceID string               `json:"experience_id" binding:"required"`
		ObjectID     string               `json:"object_id" binding:"required"`
		Messages     []models.ChatMessage `json:"messages" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.response.BadRequest(c, "请求参数不合法", err.Error())
		return
	}

	reply, err := h.chatService.ChatWithObject(c.Request.Context(), req.ExperienceID, req.ObjectID, req.Messages)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.response.Success(c, gin.H{"reply": reply})
}

// ===============================
// LLM配置
// ===============================

// GetLLMStatus 返回AI提供者的就绪状态
func (h *Handler) GetLLMStatus(c *gin.Context) {
	h.response.Success(c, gin.H{
		"ready":    h.llmService.IsReady(),
		"provider": h.llmService.GetProviderName(),
	})
}

// GetLLMModels 返回各提供者支持的模型列表
func (h *Handler) GetLLMModels(c *gin.Context) {
	providers := llm.ListProviders()
	result := make(map[string][]string, len(providers))
	for _, name := range providers {
		result[name] = llm.GetSupportedModelsForProvider(name)
	}
	h.response.Success(c, result)
}

// UpdateLLMConfig 更新AI提供者配置并立即切换
func (h *Handler) UpdateLLMConfig(c *gin.Context) {
	var req struct {
		Provider string            `json:"provider" binding:"required"`
		Config   map[string]string `json:"config" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "配置不合法", err.Error())
		return
	}

	if req.Config["api_key"] == "" {
		h.response.Error(c, http.StatusBadRequest, ErrorAPIKeyMissing, "缺少API密钥")
		return
	}

	if err := h.llmService.UpdateProvider(req.Provider, req.Config); err != nil {
		h.response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "提供者初始化失败", err.Error())
		return
	}

	if err := config.UpdateLLMConfig(req.Provider, req.Config); err != nil {
		h.response.InternalError(c, "配置保存失败", err.Error())
		return
	}
	h.response.Success(c, nil, "AI配置已更新")
}

// ===============================
// 运维端点
// ===============================

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	h.response.Success(c, gin.H{
		"status":    "ok",
		"llm_ready": h.llmService.IsReady(),
	})
}

// GetMetrics 返回进程内指标快照
func (h *Handler) GetMetrics(c *gin.Context) {
	h.response.Success(c, utils.GetMetricsCollector().GetMetrics())
}

// GetWebSocketStatus 返回在线中继的连接统计
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	h.response.Success(c, h.hub.Status())
}

// ExperienceWebSocket 设备接入体验的在线中继
func (h *Handler) ExperienceWebSocket(c *gin.Context) {
	experienceID := c.Param("id")

	if _, err := h.experienceService.GetExperience(experienceID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	// 确保推送观察者已接好
	h.session(experienceID)
	h.hub.HandleConnection(c, experienceID)
}
