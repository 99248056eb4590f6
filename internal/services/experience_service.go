// internal/services/experience_service.go
package services

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/GeoTriggerMCP/internal/errors"
	"github.com/Corphon/GeoTriggerMCP/internal/models"
	"github.com/Corphon/GeoTriggerMCP/internal/storage"
	"github.com/Corphon/GeoTriggerMCP/internal/utils"
)

// exportVersion 为导出载荷的格式版本号
const exportVersion = 1

// ExperienceService 管理体验的生命周期和每个体验的运行时会话。
// 同一体验的会话按需创建、进程内复用，体验删除时一并销毁。
type ExperienceService struct {
	storage *storage.FileStorage
	objects *ObjectService
	locks   *LockManager

	sessionsMu sync.RWMutex
	sessions   map[string]*TriggerSession
}

// NewExperienceService 创建体验服务
func NewExperienceService(fs *storage.FileStorage, objects *ObjectService, locks *LockManager) *ExperienceService {
	return &ExperienceService{
		storage:  fs,
		objects:  objects,
		locks:    locks,
		sessions: make(map[string]*TriggerSession),
	}
}

// CreateExperience 创建一个新体验
func (s *ExperienceService) CreateExperience(name, description string) (*models.Experience, error) {
	if name == "" {
		return nil, apperrors.NewValidationError("体验名称不能为空", nil)
	}

	now := time.Now()
	exp := &models.Experience{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.saveExperience(exp); err != nil {
		return nil, err
	}

	utils.GetLogger().Infof("体验已创建: id=%s name=%s", exp.ID, exp.Name)
	return exp, nil
}

// GetExperience 按ID读取体验
func (s *ExperienceService) GetExperience(experienceID string) (*models.Experience, error) {
	var exp models.Experience
	err := s.locks.ExecuteWithReadLock(experienceID, func() error {
		if !s.storage.FileExists(experienceDir(experienceID), experienceFile) {
			return apperrors.NewNotFoundError(
				fmt.Sprintf("体验不存在: %s", experienceID), nil)
		}
		return s.storage.LoadJSONFile(experienceDir(experienceID), experienceFile, &exp)
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperrors.NewProcessingError("读取体验失败", err)
	}
	return &exp, nil
}

// ListExperiences 列出全部体验
func (s *ExperienceService) ListExperiences() ([]*models.Experience, error) {
	dirs, err := s.storage.ListDirs(experiencesDir)
	if err != nil {
		// 尚无任何体验时目录不存在
		return []*models.Experience{}, nil
	}

	experiences := make([]*models.Experience, 0, len(dirs))
	for _, dir := range dirs {
		exp, err := s.GetExperience(dir)
		if err != nil {
			utils.GetLogger().Warnf("跳过损坏的体验目录: %s err=%v", dir, err)
			continue
		}
		experiences = append(experiences, exp)
	}
	return experiences, nil
}

// UpdateExperience 更新体验的名称与描述
func (s *ExperienceService) UpdateExperience(experienceID, name, description string) (*models.Experience, error) {
	exp, err := s.GetExperience(experienceID)
	if err != nil {
		return nil, err
	}

	if name != "" {
		exp.Name = name
	}
	exp.Description = description
	exp.UpdatedAt = time.Now()

	if err := s.saveExperience(exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// DeleteExperience 删除体验及其全部对象、快照和运行时会话
func (s *ExperienceService) DeleteExperience(experienceID string) error {
	if _, err := s.GetExperience(experienceID); err != nil {
		return err
	}

	s.DisposeSession(experienceID)

	err := s.locks.ExecuteWithLock(experienceID, func() error {
		return s.storage.DeleteDir(experienceDir(experienceID))
	})
	s.locks.ReleaseLock(experienceID)
	if err != nil {
		return apperrors.NewProcessingError("删除体验失败", err)
	}

	utils.GetLogger().Infof("体验已删除: id=%s", experienceID)
	return nil
}

// Session 返回体验的激活协调器，不存在时创建
func (s *ExperienceService) Session(experienceID string) *TriggerSession {
	s.sessionsMu.RLock()
	if session, exists := s.sessions[experienceID]; exists {
		s.sessionsMu.RUnlock()
		return session
	}
	s.sessionsMu.RUnlock()

	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	if session, exists := s.sessions[experienceID]; exists {
		return session
	}

	chain := NewChainSession(experienceID, &snapshotStore{storage: s.storage})
	session := NewTriggerSession(chain)
	s.sessions[experienceID] = session
	return session
}

// InitializeSession 加载对象并初始化体验会话，返回参与会话的对象列表
func (s *ExperienceService) InitializeSession(experienceID string) ([]*models.MediaObject, error) {
	if _, err := s.GetExperience(experienceID); err != nil {
		return nil, err
	}

	objects, err := s.objects.GetObjects(experienceID)
	if err != nil {
		return nil, err
	}

	session := s.Session(experienceID)
	session.ResetAllActivations()
	session.ClearTimerTriggers()
	session.Chain().InitializeSession(objects)
	session.StartTimerTriggers(objects)

	return objects, nil
}

// DisposeSession 终止体验会话：取消全部定时器、清空状态并移出注册表
func (s *ExperienceService) DisposeSession(experienceID string) {
	s.sessionsMu.Lock()
	session, exists := s.sessions[experienceID]
	if exists {
		delete(s.sessions, experienceID)
	}
	s.sessionsMu.Unlock()

	if !exists {
		return
	}

	session.ClearTimerTriggers()
	session.ResetAllActivations()
	session.Chain().ClearSessionState()
}

// ExportExperience 导出体验及其全部对象，对象字段原样保留
func (s *ExperienceService) ExportExperience(experienceID string) (*models.ExperienceExport, error) {
	exp, err := s.GetExperience(experienceID)
	if err != nil {
		return nil, err
	}

	objects, err := s.objects.GetObjects(experienceID)
	if err != nil {
		return nil, err
	}

	return &models.ExperienceExport{
		Experience: exp,
		Objects:    objects,
		ExportedAt: time.Now(),
		Version:    exportVersion,
	}, nil
}

// ImportExperience 从导出载荷创建一个新体验。
// 始终分配新的体验ID，对象ID保持不变以保留链路依赖关系。
func (s *ExperienceService) ImportExperience(export *models.ExperienceExport) (*models.Experience, error) {
	if export == nil || export.Experience == nil {
		return nil, apperrors.NewValidationError("导入载荷不完整", nil)
	}

	for _, obj := range export.Objects {
		if err := obj.Validate(); err != nil {
			return nil, apperrors.NewValidationError(
				fmt.Sprintf("导入对象校验失败: %s", obj.ID), err)
		}
	}

	exp, err := s.CreateExperience(export.Experience.Name, export.Experience.Description)
	if err != nil {
		return nil, err
	}

	if err := s.objects.ReplaceObjects(exp.ID, export.Objects); err != nil {
		return nil, err
	}
	return exp, nil
}

// saveExperience 写入体验元数据文件
func (s *ExperienceService) saveExperience(exp *models.Experience) error {
	err := s.locks.ExecuteWithLock(exp.ID, func() error {
		return s.storage.SaveJSONFile(experienceDir(exp.ID), experienceFile, exp)
	})
	if err != nil {
		if errors.Is(err, storage.ErrQuotaExceeded) {
			return apperrors.NewStorageFullError("存储空间已用尽，请删除部分内容后重试", err)
		}
		return apperrors.NewProcessingError("保存体验失败", err)
	}
	return nil
}

// snapshotStore 把会话快照落到体验目录下的 session.json
type snapshotStore struct {
	storage *storage.FileStorage
}

func (st *snapshotStore) SaveSnapshot(snapshot *models.SessionSnapshot) error {
	return st.storage.SaveJSONFile(experienceDir(snapshot.ExperienceID), sessionFile, snapshot)
}

func (st *snapshotStore) LoadSnapshot(experienceID string) (*models.SessionSnapshot, error) {
	if !st.storage.FileExists(experienceDir(experienceID), sessionFile) {
		return nil, nil
	}
	var snap models.SessionSnapshot
	if err := st.storage.LoadJSONFile(experienceDir(experienceID), sessionFile, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (st *snapshotStore) DeleteSnapshot(experienceID string) error {
	if !st.storage.FileExists(experienceDir(experienceID), sessionFile) {
		return nil
	}
	return st.storage.DeleteFile(experienceDir(experienceID), sessionFile)
}
