package progress

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Remote is the persistence collaborator behind the progress store. Reads may
// fail (the store falls back to its snapshot cache); write failures are
// surfaced as warnings, never as fatal errors.
type Remote interface {
	FetchUserProgress(ctx context.Context, userID string) ([]Record, error)
	UpsertProgress(ctx context.Context, userID string, rec Record) error
	// RecordQuizAttempt appends to the audit log. The attempt id is chosen
	// by the caller; the remote assigns the per-module attempt number.
	RecordQuizAttempt(ctx context.Context, att Attempt) error
	ListQuizAttempts(ctx context.Context, userID, moduleID string) ([]Attempt, error)
}

// MemoryRemote is an in-memory Remote implementation.
type MemoryRemote struct {
	mu       sync.RWMutex
	records  map[string]map[string]Record // userID → moduleID → record
	attempts map[string][]Attempt         // userID → attempts in insert order
}

// NewMemoryRemote creates an empty in-memory remote store.
func NewMemoryRemote() *MemoryRemote {
	return &MemoryRemote{
		records:  make(map[string]map[string]Record),
		attempts: make(map[string][]Attempt),
	}
}

func (r *MemoryRemote) FetchUserProgress(_ context.Context, userID string) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Record
	for _, rec := range r.records[userID] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleID < out[j].ModuleID })
	return out, nil
}

func (r *MemoryRemote) UpsertProgress(_ context.Context, userID string, rec Record) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if rec.ModuleID == "" {
		return fmt.Errorf("module id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.records[userID] == nil {
		r.records[userID] = make(map[string]Record)
	}
	r.records[userID][rec.ModuleID] = rec
	return nil
}

func (r *MemoryRemote) RecordQuizAttempt(_ context.Context, att Attempt) error {
	if att.ID == "" {
		return fmt.Errorf("attempt id is required")
	}
	if att.UserID == "" || att.ModuleID == "" {
		return fmt.Errorf("user id and module id are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 1
	for _, prev := range r.attempts[att.UserID] {
		if prev.ModuleID == att.ModuleID {
			n++
		}
	}
	att.AttemptNumber = n
	if att.CompletedAt.IsZero() {
		att.CompletedAt = time.Now()
	}
	r.attempts[att.UserID] = append(r.attempts[att.UserID], att)
	return nil
}

func (r *MemoryRemote) ListQuizAttempts(_ context.Context, userID, moduleID string) ([]Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Attempt
	for _, att := range r.attempts[userID] {
		if moduleID == "" || att.ModuleID == moduleID {
			out = append(out, att)
		}
	}
	// Most recent first, matching the audit-log query order.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CompletedAt.After(out[j].CompletedAt) })
	return out, nil
}
