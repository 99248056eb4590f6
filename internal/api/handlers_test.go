// internal/api/handlers_test.go
package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/GeoTriggerMCP/internal/models"
	"github.com/Corphon/GeoTriggerMCP/internal/services"
	"github.com/Corphon/GeoTriggerMCP/internal/storage"
)

// newTestRouter 在临时目录上搭一套最小服务栈并注册会话路由
func newTestRouter(t *testing.T) (*gin.Engine, *services.ExperienceService, *services.ObjectService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fs, err := storage.NewFileStorage(t.TempDir(), 0)
	require.NoError(t, err)

	locks := services.NewLockManager()
	objects := services.NewObjectService(fs, locks)
	experiences := services.NewExperienceService(fs, objects, locks)
	llmService := services.NewEmptyLLMService()
	chat := services.NewChatService(llmService, objects)

	handler := NewHandler(experiences, objects, chat, llmService)

	r := gin.New()
	sessionGroup := r.Group("/api/experiences/:id/session")
	{
		sessionGroup.POST("", handler.InitializeSession)
		sessionGroup.POST("/timers/start", handler.StartSessionTimers)
		sessionGroup.POST("/timers/clear", handler.ClearSessionTimers)
	}
	return r, experiences, objects
}

func TestSessionTimerEndpoints(t *testing.T) {
	r, experiences, objects := newTestRouter(t)

	exp, err := experiences.CreateExperience("定时体验", "")
	require.NoError(t, err)

	countdown := &models.MediaObject{
		Title:   "倒计时",
		Active:  true,
		Trigger: models.Trigger{Kind: models.TriggerTimer},
	}
	_, err = objects.SaveObject(exp.ID, countdown)
	require.NoError(t, err)

	initRec := httptest.NewRecorder()
	r.ServeHTTP(initRec, httptest.NewRequest(http.MethodPost, "/api/experiences/"+exp.ID+"/session", nil))
	require.Equal(t, http.StatusOK, initRec.Code)

	// 不销毁会话也能单独取消倒计时
	clearRec := httptest.NewRecorder()
	r.ServeHTTP(clearRec, httptest.NewRequest(http.MethodPost, "/api/experiences/"+exp.ID+"/session/timers/clear", nil))
	assert.Equal(t, http.StatusOK, clearRec.Code)
	assert.Contains(t, clearRec.Body.String(), `"success":true`)

	// 随后重启，重复调用按键去重
	startRec := httptest.NewRecorder()
	r.ServeHTTP(startRec, httptest.NewRequest(http.MethodPost, "/api/experiences/"+exp.ID+"/session/timers/start", nil))
	assert.Equal(t, http.StatusOK, startRec.Code)
	assert.Contains(t, startRec.Body.String(), `"success":true`)
}
