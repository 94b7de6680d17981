// Package types defines the configuration and application error types shared by
// the document translation pipeline.
package types

import "errors"

// Config 应用配置
type Config struct {
	Pipeline    PipelineConfig    `json:"pipeline" yaml:"pipeline"`
	Translation TranslationConfig `json:"translation" yaml:"translation"`
	QA          QAConfig          `json:"qa" yaml:"qa"`
	Assembly    AssemblyConfig    `json:"assembly" yaml:"assembly"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Log         LogConfig         `json:"log" yaml:"log"`
}

// PipelineConfig controls job scheduling and per-job concurrency.
type PipelineConfig struct {
	Workers            int   `json:"workers" yaml:"workers"`                         // 同时处理的任务数
	QueueSize          int   `json:"queue_size" yaml:"queue_size"`                   // 任务队列长度
	SegmentConcurrency int   `json:"segment_concurrency" yaml:"segment_concurrency"` // 每页并发翻译数，上限 8
	MaxFileSize        int64 `json:"max_file_size" yaml:"max_file_size"`             // 上传文件大小上限（字节）
}

// TranslationConfig 翻译配置
type TranslationConfig struct {
	Provider       string  `json:"provider" yaml:"provider"` // "mock", "openai" 或 "eino"
	OpenAIAPIKey   string  `json:"openai_api_key" yaml:"openai_api_key"`
	OpenAIBaseURL  string  `json:"openai_base_url" yaml:"openai_base_url"` // OpenAI 兼容 API 的 Base URL
	OpenAIModel    string  `json:"openai_model" yaml:"openai_model"`
	TMThreshold    float64 `json:"tm_threshold" yaml:"tm_threshold"`
	RetryBackoffMS int     `json:"retry_backoff_ms" yaml:"retry_backoff_ms"`
	TimeoutSeconds int     `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// QAConfig holds the QA validator thresholds.
type QAConfig struct {
	LengthRatio     float64 `json:"length_ratio" yaml:"length_ratio"`
	ConfidenceFloor float64 `json:"confidence_floor" yaml:"confidence_floor"`
}

// AssemblyConfig holds box-fit parameters.
type AssemblyConfig struct {
	MinFontRatio float64 `json:"min_font_ratio" yaml:"min_font_ratio"`
	LineSpacing  float64 `json:"line_spacing" yaml:"line_spacing"`
}

// StorageConfig selects the persistence backends.
type StorageConfig struct {
	Driver      string `json:"driver" yaml:"driver"` // "memory", "sqlite" 或 "postgres"
	DatabaseURL string `json:"database_url" yaml:"database_url"`
	RedisURL    string `json:"redis_url" yaml:"redis_url"` // 可选，TM 查询缓存
	DataDir     string `json:"data_dir" yaml:"data_dir"`   // 文件存储根目录
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string `json:"level" yaml:"level"`
	File    string `json:"file" yaml:"file"`
	Console bool   `json:"console" yaml:"console"`
}

// ErrorCode 错误代码枚举
type ErrorCode string

const (
	ErrConfig       ErrorCode = "CONFIG_ERROR"
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrConflict     ErrorCode = "CONFLICT"
	ErrStore        ErrorCode = "STORE_ERROR"
	ErrBlob         ErrorCode = "BLOB_ERROR"
	ErrPipeline     ErrorCode = "PIPELINE_ERROR"
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface for AppError
func (e *AppError) Error() string {
	msg := e.Message
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new AppError with the given code, message, and optional cause
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewAppErrorWithDetails creates a new AppError with details
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}

// IsCode reports whether err wraps an AppError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
