// internal/services/object_service_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/GeoTriggerMCP/internal/errors"
	"github.com/Corphon/GeoTriggerMCP/internal/models"
	"github.com/Corphon/GeoTriggerMCP/internal/storage"
)

func newTestObjectService(t *testing.T, quota int64) *ObjectService {
	t.Helper()
	fs, err := storage.NewFileStorage(t.TempDir(), quota)
	require.NoError(t, err)
	return NewObjectService(fs, NewLockManager())
}

func testObject(title string) *models.MediaObject {
	return &models.MediaObject{
		Title:   title,
		Lat:     52.52,
		Lng:     13.405,
		Active:  true,
		Trigger: models.Trigger{Kind: models.TriggerTouch},
	}
}

func TestSaveObject_AssignsIDAndCreatedAt(t *testing.T) {
	svc := newTestObjectService(t, 0)

	obj := testObject("新对象")
	id, err := svc.SaveObject("e1", obj)
	require.NoError(t, err)

	assert.NotEmpty(t, id)
	assert.Equal(t, id, obj.ID)
	assert.NotZero(t, obj.CreatedAt)
	assert.Equal(t, "e1", obj.ExperienceID)

	loaded, err := svc.GetObject("e1", id)
	require.NoError(t, err)
	assert.Equal(t, "新对象", loaded.Title)
}

func TestSaveObject_UpdatePreservesCreatedAt(t *testing.T) {
	svc := newTestObjectService(t, 0)

	obj := testObject("原标题")
	id, err := svc.SaveObject("e1", obj)
	require.NoError(t, err)
	originalCreatedAt := obj.CreatedAt

	updated := testObject("新标题")
	updated.ID = id
	_, err = svc.SaveObject("e1", updated)
	require.NoError(t, err)

	loaded, err := svc.GetObject("e1", id)
	require.NoError(t, err)
	assert.Equal(t, "新标题", loaded.Title)

	// 创建时间以首次写入为准
	assert.Equal(t, originalCreatedAt, loaded.CreatedAt)
}

func TestGetObjects_EmptyExperience(t *testing.T) {
	svc := newTestObjectService(t, 0)

	objects, err := svc.GetObjects("nothing-here")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestGetObject_NotFound(t *testing.T) {
	svc := newTestObjectService(t, 0)

	_, err := svc.GetObject("e1", "ghost")
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestDeleteObject(t *testing.T) {
	svc := newTestObjectService(t, 0)

	obj := testObject("待删除")
	id, err := svc.SaveObject("e1", obj)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteObject("e1", id))

	_, err = svc.GetObject("e1", id)
	assert.True(t, apperrors.IsNotFoundError(err))

	// 重复删除报 not found
	err = svc.DeleteObject("e1", id)
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestReplaceObjects_PreservesChainFields(t *testing.T) {
	svc := newTestObjectService(t, 0)

	timeout := int64(5000)
	imported := []*models.MediaObject{
		{
			ID:      "a",
			Title:   "上游",
			Active:  true,
			Trigger: models.Trigger{Kind: models.TriggerTouch},
		},
		{
			ID:      "b",
			Title:   "下游",
			Active:  true,
			Trigger: models.Trigger{Kind: models.TriggerTouch},
			ArmCondition: &models.ArmCondition{
				Type:     models.ArmAfterTrigger,
				ObjectID: "a",
				DelayMs:  3000,
			},
			Repeatable:     true,
			ResetTimeoutMs: &timeout,
			ChainID:        "chain-1",
			ChainOrder:     2,
		},
	}

	require.NoError(t, svc.ReplaceObjects("e1", imported))

	loaded, err := svc.GetObject("e1", "b")
	require.NoError(t, err)

	// 链路编排字段原样保留
	require.NotNil(t, loaded.ArmCondition)
	assert.Equal(t, models.ArmAfterTrigger, loaded.ArmCondition.Type)
	assert.Equal(t, "a", loaded.ArmCondition.ObjectID)
	assert.Equal(t, int64(3000), loaded.ArmCondition.DelayMs)
	assert.True(t, loaded.Repeatable)
	require.NotNil(t, loaded.ResetTimeoutMs)
	assert.Equal(t, int64(5000), *loaded.ResetTimeoutMs)
	assert.Equal(t, "chain-1", loaded.ChainID)
	assert.Equal(t, 2, loaded.ChainOrder)
}

func TestSaveObject_QuotaMapsToStorageFull(t *testing.T) {
	svc := newTestObjectService(t, 32)

	obj := testObject("这个对象的内容太大了放不进配额里")
	_, err := svc.SaveObject("e1", obj)

	require.Error(t, err)
	assert.True(t, apperrors.IsStorageFullError(err))
}
