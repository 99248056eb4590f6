// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorStorageFull   = "STORAGE_FULL"

	// 体验相关错误
	ErrorExperienceNotFound     = "EXPERIENCE_NOT_FOUND"
	ErrorExperienceCreateFailed = "EXPERIENCE_CREATE_FAILED"
	ErrorExperienceInvalid      = "EXPERIENCE_INVALID"

	// 对象相关错误
	ErrorObjectNotFound = "OBJECT_NOT_FOUND"
	ErrorObjectInvalid  = "OBJECT_INVALID"

	// 触发信号相关错误
	ErrorSignalInvalid     = "SIGNAL_INVALID"
	ErrorManualOpenBlocked = "MANUAL_OPEN_BLOCKED"

	// 导入导出相关错误
	ErrorImportInvalid = "IMPORT_INVALID"
	ErrorExportFailed  = "EXPORT_FAILED"

	// LLM服务相关错误
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMConfigInvalid      = "LLM_CONFIG_INVALID"
	ErrorAPIKeyMissing         = "API_KEY_MISSING"
)
