// Package errors keeps a persistent ledger of failed translation jobs
package errors

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrorStage 错误阶段枚举
type ErrorStage string

const (
	StageUpload      ErrorStage = "upload"      // 上传阶段
	StageExtraction  ErrorStage = "extracting"  // 文本提取阶段
	StageTranslation ErrorStage = "translating" // 翻译阶段
	StageShaping     ErrorStage = "shaping"     // 排版计算阶段
	StageBuilding    ErrorStage = "building"    // PDF生成阶段
	StageQA          ErrorStage = "qa_check"    // 质量检查阶段
)

// ErrorRecord 错误记录
type ErrorRecord struct {
	JobID     string     `json:"job_id"`
	Filename  string     `json:"filename"`
	Stage     ErrorStage `json:"stage"`
	Code      string     `json:"code,omitempty"` // 错误代码，例如 EXTRACTION_ERROR
	ErrorMsg  string     `json:"error_msg"`
	Timestamp time.Time  `json:"timestamp"`
	CanRetry  bool       `json:"can_retry"` // 重新上传后能否重试
}

// ErrorManager 错误管理器
type ErrorManager struct {
	baseDir string
	mu      sync.RWMutex
	errors  map[string]*ErrorRecord // key: job ID
}

// NewErrorManager 创建新的错误管理器
func NewErrorManager(baseDir string) (*ErrorManager, error) {
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".doc-translator", "errors")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create errors directory: %w", err)
	}

	em := &ErrorManager{
		baseDir: baseDir,
		errors:  make(map[string]*ErrorRecord),
	}

	if err := em.load(); err != nil {
		return nil, err
	}

	return em, nil
}

// RecordError 记录任务失败
func (em *ErrorManager) RecordError(jobID, filename string, stage ErrorStage, code, errorMsg string, canRetry bool) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	record := &ErrorRecord{
		JobID:     jobID,
		Filename:  filename,
		Stage:     stage,
		Code:      code,
		ErrorMsg:  errorMsg,
		Timestamp: time.Now(),
		CanRetry:  canRetry,
	}

	em.errors[jobID] = record

	return em.save()
}

// RemoveError 移除错误记录（任务删除或成功后）
func (em *ErrorManager) RemoveError(jobID string) error {
	em.mu.Lock()
	defer em.mu.Unlock()

	if _, ok := em.errors[jobID]; !ok {
		return nil
	}
	delete(em.errors, jobID)
	return em.save()
}

// ListErrors returns copies of all records, newest first
func (em *ErrorManager) ListErrors() []*ErrorRecord {
	em.mu.RLock()
	defer em.mu.RUnlock()

	records := make([]*ErrorRecord, 0, len(em.errors))
	for _, record := range em.errors {
		recordCopy := *record
		records = append(records, &recordCopy)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].JobID < records[j].JobID
		}
		return records[i].Timestamp.After(records[j].Timestamp)
	})

	return records
}

// ListByStage 按阶段筛选错误记录
func (em *ErrorManager) ListByStage(stage ErrorStage) []*ErrorRecord {
	var out []*ErrorRecord
	for _, r := range em.ListErrors() {
		if r.Stage == stage {
			out = append(out, r)
		}
	}
	return out
}

// GetError 获取特定错误记录
func (em *ErrorManager) GetError(jobID string) (*ErrorRecord, bool) {
	em.mu.RLock()
	defer em.mu.RUnlock()

	record, ok := em.errors[jobID]
	if !ok {
		return nil, false
	}

	recordCopy := *record
	return &recordCopy, true
}

// ClearAll 清除所有错误记录
func (em *ErrorManager) ClearAll() error {
	em.mu.Lock()
	defer em.mu.Unlock()

	em.errors = make(map[string]*ErrorRecord)
	return em.save()
}

func (em *ErrorManager) load() error {
	filePath := filepath.Join(em.baseDir, "errors.json")

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read errors file: %w", err)
	}

	var records []*ErrorRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to unmarshal errors: %w", err)
	}

	for _, record := range records {
		em.errors[record.JobID] = record
	}

	return nil
}

func (em *ErrorManager) save() error {
	records := make([]*ErrorRecord, 0, len(em.errors))
	for _, record := range em.errors {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].JobID < records[j].JobID })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}

	filePath := filepath.Join(em.baseDir, "errors.json")
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write errors file: %w", err)
	}

	return nil
}

// ExportErrorIDs 导出所有失败任务的 ID 到文本文件，每行一个 ID
func (em *ErrorManager) ExportErrorIDs(outputPath string) error {
	records := em.ListErrors()

	var sb strings.Builder
	for _, r := range records {
		sb.WriteString(r.JobID)
		sb.WriteString("\n")
	}

	if err := os.WriteFile(outputPath, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write error IDs file: %w", err)
	}

	return nil
}

// GetStageDisplayName 获取阶段的显示名称
func GetStageDisplayName(stage ErrorStage) string {
	switch stage {
	case StageUpload:
		return "upload"
	case StageExtraction:
		return "text extraction"
	case StageTranslation:
		return "translation"
	case StageShaping:
		return "layout fitting"
	case StageBuilding:
		return "document assembly"
	case StageQA:
		return "quality check"
	default:
		return string(stage)
	}
}
