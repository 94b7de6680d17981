// Package validator annotates resolved segments with quality flags. It never
// rejects a segment; flags are surfaced for human review.
package validator

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"doc-translator/internal/layout"
)

const (
	// DefaultLengthRatio is k in "translation longer than k × source".
	DefaultLengthRatio = 3.0
	// DefaultConfidenceFloor is the confidence below which a segment is flagged.
	DefaultConfidenceFloor = 0.4
)

// Config QA 阈值配置
type Config struct {
	LengthRatio     float64 `json:"length_ratio" yaml:"length_ratio"`
	ConfidenceFloor float64 `json:"confidence_floor" yaml:"confidence_floor"`
}

// QAValidator checks resolved segments.
type QAValidator struct {
	cfg Config
}

// NewQAValidator creates a validator, filling unset thresholds with defaults.
func NewQAValidator(cfg Config) *QAValidator {
	if cfg.LengthRatio <= 0 {
		cfg.LengthRatio = DefaultLengthRatio
	}
	if cfg.ConfidenceFloor < 0 || cfg.ConfidenceFloor > 1 {
		cfg.ConfidenceFloor = DefaultConfidenceFloor
	}
	return &QAValidator{cfg: cfg}
}

// Validate returns every flag that applies to seg's translation, in a fixed
// order. A segment without a translation gets no flags.
func (v *QAValidator) Validate(seg layout.Segment) layout.Flags {
	tr := seg.Translation
	if tr == nil {
		return nil
	}

	var flags layout.Flags
	if checkEmpty(seg.SourceText, tr.Text) {
		flags = flags.Add(layout.FlagEmptyTranslation)
	}
	if checkLength(seg.SourceText, tr.Text, v.cfg.LengthRatio) {
		flags = flags.Add(layout.FlagLengthExplosion)
	}
	if checkUntranslated(seg.SourceText, *tr) {
		flags = flags.Add(layout.FlagUntranslatedPlaceholder)
	}
	if tr.Confidence < v.cfg.ConfidenceFloor {
		flags = flags.Add(layout.FlagLowConfidence)
	}
	if mt, ok := tr.Method.(layout.MachineTranslation); ok && mt.Failed {
		flags = flags.Add(layout.FlagTranslationFailed)
	}
	return flags
}

// Summarize counts flags across segments.
func Summarize(segs []layout.Segment) map[layout.Flag]int {
	summary := make(map[layout.Flag]int)
	for _, s := range segs {
		for _, f := range s.QAFlags {
			summary[f]++
		}
	}
	return summary
}

func checkEmpty(source, translated string) bool {
	return strings.TrimSpace(translated) == "" && strings.TrimSpace(source) != ""
}

// checkLength compares lengths in characters, not bytes.
func checkLength(source, translated string, k float64) bool {
	return float64(utf8.RuneCountInString(translated)) > k*float64(utf8.RuneCountInString(source))
}

// checkUntranslated flags text copied through unchanged. Memory matches are
// trusted even when source and target coincide.
func checkUntranslated(source string, tr layout.Translation) bool {
	if tr.Text != source || !nonTrivial(source) {
		return false
	}
	return tr.Method == nil || tr.Method.Kind() != layout.KindMemory
}

// nonTrivial is true for text longer than one character that is not a
// number.
func nonTrivial(s string) bool {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= 1 {
		return false
	}
	return !numeric(s)
}

func numeric(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case strings.ContainsRune(".,+-%/: ", r):
		default:
			return false
		}
	}
	return digits > 0
}
