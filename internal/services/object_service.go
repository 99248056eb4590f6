// internal/services/object_service.go
package services

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/GeoTriggerMCP/internal/errors"
	"github.com/Corphon/GeoTriggerMCP/internal/models"
	"github.com/Corphon/GeoTriggerMCP/internal/storage"
)

const (
	experiencesDir = "experiences"
	objectsFile    = "objects.json"
	experienceFile = "experience.json"
	sessionFile    = "session.json"
)

// ObjectService 管理体验内媒体对象的持久化。
// 对象以整个数组存放在体验目录下的单个JSON文件里，
// 读写经过体验级别的锁串行化。
type ObjectService struct {
	storage *storage.FileStorage
	locks   *LockManager
}

// NewObjectService 创建对象服务
func NewObjectService(fs *storage.FileStorage, locks *LockManager) *ObjectService {
	return &ObjectService{
		storage: fs,
		locks:   locks,
	}
}

// experienceDir 返回体验的存储目录（相对于存储根）
func experienceDir(experienceID string) string {
	return filepath.Join(experiencesDir, experienceID)
}

// GetObjects 读取体验的全部对象，文件不存在时返回空列表
func (s *ObjectService) GetObjects(experienceID string) ([]*models.MediaObject, error) {
	var objects []*models.MediaObject
	err := s.locks.ExecuteWithReadLock(experienceID, func() error {
		if !s.storage.FileExists(experienceDir(experienceID), objectsFile) {
			return nil
		}
		return s.storage.LoadJSONFile(experienceDir(experienceID), objectsFile, &objects)
	})
	if err != nil {
		return nil, apperrors.NewProcessingError(
			fmt.Sprintf("读取对象列表失败: experience=%s", experienceID), err)
	}
	if objects == nil {
		objects = []*models.MediaObject{}
	}
	return objects, nil
}

// GetObject 按ID读取单个对象
func (s *ObjectService) GetObject(experienceID, objectID string) (*models.MediaObject, error) {
	objects, err := s.GetObjects(experienceID)
	if err != nil {
		return nil, err
	}

	for _, obj := range objects {
		if obj.ID == objectID {
			return obj, nil
		}
	}
	return nil, apperrors.NewNotFoundError(
		fmt.Sprintf("对象不存在: %s", objectID), nil)
}

// SaveObject 创建或更新一个对象，返回生效的对象ID。
// 新对象分配uuid并写入创建时间；更新时创建时间保持不变。
// 存储层不做校验，调用方在写入前负责调用 Validate。
func (s *ObjectService) SaveObject(experienceID string, obj *models.MediaObject) (string, error) {
	if obj.ID == "" {
		obj.ID = uuid.New().String()
		obj.CreatedAt = time.Now().UnixMilli()
	}
	obj.ExperienceID = experienceID

	err := s.locks.ExecuteWithLock(experienceID, func() error {
		objects, loadErr := s.loadObjectsLocked(experienceID)
		if loadErr != nil {
			return loadErr
		}

		replaced := false
		for i, existing := range objects {
			if existing.ID == obj.ID {
				// 创建时间以首次写入为准
				if existing.CreatedAt != 0 {
					obj.CreatedAt = existing.CreatedAt
				}
				objects[i] = obj
				replaced = true
				break
			}
		}
		if !replaced {
			if obj.CreatedAt == 0 {
				obj.CreatedAt = time.Now().UnixMilli()
			}
			objects = append(objects, obj)
		}

		return s.storage.SaveJSONFile(experienceDir(experienceID), objectsFile, objects)
	})
	if err != nil {
		return "", s.wrapStorageError(err, "保存对象失败")
	}
	return obj.ID, nil
}

// DeleteObject 删除一个对象
func (s *ObjectService) DeleteObject(experienceID, objectID string) error {
	err := s.locks.ExecuteWithLock(experienceID, func() error {
		objects, loadErr := s.loadObjectsLocked(experienceID)
		if loadErr != nil {
			return loadErr
		}

		kept := make([]*models.MediaObject, 0, len(objects))
		found := false
		for _, obj := range objects {
			if obj.ID == objectID {
				found = true
				continue
			}
			kept = append(kept, obj)
		}
		if !found {
			return apperrors.NewNotFoundError(
				fmt.Sprintf("对象不存在: %s", objectID), nil)
		}

		return s.storage.SaveJSONFile(experienceDir(experienceID), objectsFile, kept)
	})
	if err != nil {
		return s.wrapStorageError(err, "删除对象失败")
	}
	return nil
}

// ReplaceObjects 用给定列表整体替换体验的对象（批量导入用）。
// 所有字段原样保留，包括链路编排字段。
func (s *ObjectService) ReplaceObjects(experienceID string, objects []*models.MediaObject) error {
	now := time.Now().UnixMilli()
	for _, obj := range objects {
		if obj.ID == "" {
			obj.ID = uuid.New().String()
		}
		if obj.CreatedAt == 0 {
			obj.CreatedAt = now
		}
		obj.ExperienceID = experienceID
	}

	err := s.locks.ExecuteWithLock(experienceID, func() error {
		return s.storage.SaveJSONFile(experienceDir(experienceID), objectsFile, objects)
	})
	if err != nil {
		return s.wrapStorageError(err, "导入对象失败")
	}
	return nil
}

// loadObjectsLocked 在已持有体验锁的前提下读取对象列表
func (s *ObjectService) loadObjectsLocked(experienceID string) ([]*models.MediaObject, error) {
	var objects []*models.MediaObject
	if !s.storage.FileExists(experienceDir(experienceID), objectsFile) {
		return []*models.MediaObject{}, nil
	}
	if err := s.storage.LoadJSONFile(experienceDir(experienceID), objectsFile, &objects); err != nil {
		return nil, err
	}
	if objects == nil {
		objects = []*models.MediaObject{}
	}
	return objects, nil
}

// wrapStorageError 把存储层错误映射为应用错误，配额用尽单独归类
func (s *ObjectService) wrapStorageError(err error, message string) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, storage.ErrQuotaExceeded) {
		return apperrors.NewStorageFullError("存储空间已用尽，请删除部分内容后重试", err)
	}
	return apperrors.NewProcessingError(message, err)
}
