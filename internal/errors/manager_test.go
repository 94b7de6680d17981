package errors

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestErrorManager(t *testing.T) {
	tempDir := t.TempDir()

	em, err := NewErrorManager(tempDir)
	if err != nil {
		t.Fatalf("Failed to create error manager: %v", err)
	}

	// 记录失败任务
	err = em.RecordError("job-1", "report.pdf", StageExtraction, "EXTRACTION_ERROR", "page 2: corrupt content stream", false)
	if err != nil {
		t.Fatalf("Failed to record error: %v", err)
	}

	record, ok := em.GetError("job-1")
	if !ok {
		t.Fatal("Error record not found")
	}
	if record.Stage != StageExtraction {
		t.Errorf("Expected stage extracting, got %s", record.Stage)
	}
	if record.CanRetry {
		t.Error("Extraction failures must not be retryable")
	}

	// Re-recording replaces the previous record.
	if err := em.RecordError("job-1", "report.pdf", StageBuilding, "ASSEMBLY_ERROR", "write failed", true); err != nil {
		t.Fatal(err)
	}
	record, _ = em.GetError("job-1")
	if !record.CanRetry || record.Stage != StageBuilding {
		t.Errorf("unexpected record after re-record: %+v", record)
	}

	if got := len(em.ListErrors()); got != 1 {
		t.Errorf("Expected 1 error record, got %d", got)
	}

	if err := em.RemoveError("job-1"); err != nil {
		t.Fatalf("Failed to remove error: %v", err)
	}
	if _, ok := em.GetError("job-1"); ok {
		t.Error("Error record should have been removed")
	}
	// Removing twice is not an error.
	if err := em.RemoveError("job-1"); err != nil {
		t.Errorf("second remove failed: %v", err)
	}

	em.RecordError("job-2", "b.pdf", StageQA, "", "boom", true)
	if err := em.ClearAll(); err != nil {
		t.Fatal(err)
	}
	if got := len(em.ListErrors()); got != 0 {
		t.Errorf("Expected no records after ClearAll, got %d", got)
	}
}

func TestErrorManagerPersistence(t *testing.T) {
	tempDir := t.TempDir()

	em1, err := NewErrorManager(tempDir)
	if err != nil {
		t.Fatal(err)
	}
	em1.RecordError("job-a", "a.pdf", StageTranslation, "RESOLUTION_PERMANENT_ERROR", "unsupported language pair", false)
	em1.RecordError("job-b", "b.pdf", StageBuilding, "ASSEMBLY_ERROR", "write failed", true)

	em2, err := NewErrorManager(tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(em2.ListErrors()); got != 2 {
		t.Fatalf("Expected 2 records after reload, got %d", got)
	}
	if got := em2.ListByStage(StageTranslation); len(got) != 1 || got[0].JobID != "job-a" {
		t.Errorf("ListByStage returned %+v", got)
	}
}

func TestExportErrorIDs(t *testing.T) {
	tempDir := t.TempDir()
	em, _ := NewErrorManager(tempDir)

	out := filepath.Join(tempDir, "ids.txt")
	if err := em.ExportErrorIDs(out); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(out)
	if len(data) != 0 {
		t.Errorf("expected empty export, got %q", data)
	}

	em.RecordError("job-1", "x.pdf", StageShaping, "", "boom", true)
	em.RecordError("job-2", "y.pdf", StageQA, "", "boom", true)
	if err := em.ExportErrorIDs(out); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(out)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 ids, got %v", lines)
	}
}

func TestGetStageDisplayName(t *testing.T) {
	if GetStageDisplayName(StageBuilding) != "document assembly" {
		t.Error("unexpected display name")
	}
	if GetStageDisplayName(ErrorStage("custom")) != "custom" {
		t.Error("unknown stages should fall back to their value")
	}
}
