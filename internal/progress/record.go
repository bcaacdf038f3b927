// Package progress owns the per-user module progress records: the
// not_started / in_progress / completed lifecycle, the unlock dependency
// chain, and reconciliation between the remote persistence collaborator and a
// local snapshot cache.
package progress

import (
	"errors"
	"time"

	"github.com/proofoflearn/backend/internal/quiz"
)

// Status is the lifecycle state of one module for one user.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

var (
	// ErrModuleNotFound reports a module id absent from the catalog.
	ErrModuleNotFound = errors.New("module not found")
	// ErrModuleLocked reports an interaction with a module whose
	// predecessor has not been completed.
	ErrModuleLocked = errors.New("module is locked")
	// ErrNotCompleted reports a certificate request for a module that has
	// not been completed.
	ErrNotCompleted = errors.New("module is not completed")
)

// Record is the stored progress of one user on one module. QuizScore and
// CompletedAt are set if and only if Status is completed.
type Record struct {
	ModuleID       string     `json:"module_id"`
	Status         Status     `json:"status"`
	QuizScore      *int       `json:"quiz_score,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CertificateRef string     `json:"certificate_ref,omitempty"`
}

// Attempt is one append-only audit-log entry for a quiz submission.
type Attempt struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	ModuleID      string          `json:"module_id"`
	Answers       quiz.Submission `json:"answers"`
	Score         int             `json:"score"`
	Passed        bool            `json:"passed"`
	AttemptNumber int             `json:"attempt_number"`
	CompletedAt   time.Time       `json:"completed_at"`
}
