package layout

import (
	"fmt"
	"time"
)

// State is a job lifecycle state.
type State string

const (
	StatePending     State = "pending"
	StateUploaded    State = "uploaded"
	StateExtracting  State = "extracting"
	StateTranslating State = "translating"
	StateShaping     State = "shaping"
	StateBuilding    State = "building"
	StateQACheck     State = "qa_check"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

// forward lists the single forward edge out of each non-terminal state.
var forward = map[State]State{
	StatePending:     StateUploaded,
	StateUploaded:    StateExtracting,
	StateExtracting:  StateTranslating,
	StateTranslating: StateShaping,
	StateShaping:     StateBuilding,
	StateBuilding:    StateQACheck,
	StateQACheck:     StateCompleted,
}

// AllStates returns every state in lifecycle order.
func AllStates() []State {
	return []State{StatePending, StateUploaded, StateExtracting, StateTranslating, StateShaping,
		StateBuilding, StateQACheck, StateCompleted, StateFailed, StateCancelled}
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, x := range AllStates() {
		if x == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to State) bool {
	if from.IsTerminal() || !from.Valid() {
		return false
	}
	if to == StateFailed || to == StateCancelled {
		return true
	}
	return forward[from] == to
}

// TransitionError is returned when a requested transition is not allowed.
type TransitionError struct {
	JobID string
	From  State
	To    State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: invalid transition %s -> %s", e.JobID, e.From, e.To)
}

// Job is the unit of work.
type Job struct {
	ID             string  `json:"id"`
	Filename       string  `json:"filename"`
	SourceKey      string  `json:"source_key,omitempty"`
	FileSize       int64   `json:"file_size"`
	SourceLanguage string  `json:"source_language"`
	TargetLanguage string  `json:"target_language"`
	State          State   `json:"state"`
	CurrentStage   string  `json:"current_stage,omitempty"`
	CurrentPage    int     `json:"current_page"`
	TotalPages     int     `json:"total_pages"`
	Progress       float64 `json:"progress"`
	ErrorMessage   string  `json:"error_message,omitempty"`
	OutputKey      string  `json:"output_key,omitempty"`

	// QASummary counts flagged segments per flag code at completion.
	QASummary      map[Flag]int  `json:"qa_summary,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
	CreatedAt      time.Time     `json:"created_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// AutoLanguage is used when the source language is unknown.
const AutoLanguage = "auto"

// SourceLang returns the source language or "auto".
func (j Job) SourceLang() string {
	if j.SourceLanguage == "" {
		return AutoLanguage
	}
	return j.SourceLanguage
}
