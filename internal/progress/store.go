package progress

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/proofoflearn/backend/internal/account"
	"github.com/proofoflearn/backend/internal/catalog"
	"github.com/proofoflearn/backend/internal/quiz"
	"github.com/proofoflearn/backend/internal/reward"
)

// StoreConfig holds the collaborators of the progress store. Nil fields fall
// back to in-memory implementations so the store is test-constructible.
type StoreConfig struct {
	Catalog   *catalog.Catalog
	Remote    Remote
	Snapshots SnapshotCache
	Accounts  account.Directory
	Events    Publisher
	Now       func() time.Time
}

// Store tracks per-user module progress. Mutations apply to the local state
// and snapshot cache first, then propagate to the remote collaborator;
// propagation failures degrade to warnings so a learner is never blocked by a
// failed remote write.
type Store struct {
	catalog   *catalog.Catalog
	remote    Remote
	snapshots SnapshotCache
	accounts  account.Directory
	events    Publisher
	now       func() time.Time

	mu    sync.RWMutex
	users map[string]map[string]Record
}

// NewStore creates a progress store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if cfg.Remote == nil {
		cfg.Remote = NewMemoryRemote()
	}
	if cfg.Snapshots == nil {
		cfg.Snapshots = NewMemorySnapshotCache()
	}
	if cfg.Accounts == nil {
		cfg.Accounts = account.NewMemoryDirectory()
	}
	if cfg.Events == nil {
		cfg.Events = NopPublisher{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		catalog:   cfg.Catalog,
		remote:    cfg.Remote,
		snapshots: cfg.Snapshots,
		accounts:  cfg.Accounts,
		events:    cfg.Events,
		now:       cfg.Now,
		users:     make(map[string]map[string]Record),
	}, nil
}

// SubmitResult is the outcome of one quiz submission.
type SubmitResult struct {
	quiz.Result
	AttemptID    string           `json:"quiz_attempt_id"`
	Record       Record           `json:"record"`
	Reward       *reward.Reward   `json:"reward,omitempty"`
	Account      *account.Account `json:"account,omitempty"`
	NextModuleID string           `json:"next_module_id,omitempty"`
	Warnings     []string         `json:"warnings,omitempty"`
}

// Load hydrates a user's records: remote first, snapshot cache on remote
// failure, defaults when neither is available. It returns the records in
// catalog order.
func (s *Store) Load(ctx context.Context, userID string) ([]Record, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	recs := s.defaultRecords()

	remoteRecs, err := s.remote.FetchUserProgress(ctx, userID)
	if err != nil {
		slog.Warn("remote progress fetch failed, falling back to snapshot cache",
			"user_id", userID, "error", err)
		snap, cerr := s.snapshots.LoadSnapshot(ctx, userID)
		if cerr != nil {
			slog.Warn("snapshot cache read failed, using defaults", "user_id", userID, "error", cerr)
		}
		for id, rec := range snap {
			if _, known := recs[id]; known {
				recs[id] = rec
			}
		}
	} else {
		for _, rec := range remoteRecs {
			if _, known := recs[rec.ModuleID]; known {
				recs[rec.ModuleID] = rec
			}
		}
	}

	s.mu.Lock()
	s.users[userID] = recs
	s.mu.Unlock()

	return s.Records(ctx, userID)
}

// Records returns the user's records in catalog order, loading them first if
// this is the first query for that user.
func (s *Store) Records(ctx context.Context, userID string) ([]Record, error) {
	if err := s.ensureLoaded(ctx, userID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.users[userID]
	out := make([]Record, 0, len(recs))
	for _, m := range s.catalog.Modules() {
		out = append(out, recs[m.ID])
	}
	return out, nil
}

// Status returns the user's status on one module.
func (s *Store) Status(ctx context.Context, userID, moduleID string) (Status, error) {
	if _, ok := s.catalog.ModuleByID(moduleID); !ok {
		return "", fmt.Errorf("%w: %s", ErrModuleNotFound, moduleID)
	}
	if err := s.ensureLoaded(ctx, userID); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[userID][moduleID].Status, nil
}

// IsUnlocked reports whether a module is eligible for interaction: the first
// module always is, any other iff its immediate predecessor is completed.
// The answer is derived from current state on every call, never cached.
func (s *Store) IsUnlocked(ctx context.Context, userID, moduleID string) (bool, error) {
	if _, ok := s.catalog.ModuleByID(moduleID); !ok {
		return false, fmt.Errorf("%w: %s", ErrModuleNotFound, moduleID)
	}

	prev, hasPrev := s.catalog.Prev(moduleID)
	if !hasPrev {
		return true, nil
	}

	status, err := s.Status(ctx, userID, prev.ID)
	if err != nil {
		return false, err
	}
	return status == StatusCompleted, nil
}

// StartQuiz marks a not_started module as in_progress. Starting an
// in_progress or completed module is a no-op, so retakes pass through.
func (s *Store) StartQuiz(ctx context.Context, userID, moduleID string) (Record, error) {
	if _, ok := s.catalog.ModuleByID(moduleID); !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrModuleNotFound, moduleID)
	}
	if err := s.ensureLoaded(ctx, userID); err != nil {
		return Record{}, err
	}
	unlocked, err := s.IsUnlocked(ctx, userID, moduleID)
	if err != nil {
		return Record{}, err
	}
	if !unlocked {
		return Record{}, fmt.Errorf("%w: %s", ErrModuleLocked, moduleID)
	}

	s.mu.Lock()
	rec := s.users[userID][moduleID]
	changed := rec.Status == StatusNotStarted
	if changed {
		rec.Status = StatusInProgress
		s.users[userID][moduleID] = rec
	}
	s.mu.Unlock()

	if changed {
		s.persist(ctx, userID, rec)
		s.events.Publish(Event{Type: EventQuizStarted, UserID: userID, ModuleID: moduleID})
	}
	return rec, nil
}

// SubmitQuiz scores a submission and, on a pass, runs the completion
// transition: record write, reward credit, next-module seeding. The three
// side effects run in that order; a later failure never rolls back an
// earlier one.
func (s *Store) SubmitQuiz(ctx context.Context, userID, moduleID string, sub quiz.Submission) (*SubmitResult, error) {
	mod, ok := s.catalog.ModuleByID(moduleID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, moduleID)
	}
	if err := s.ensureLoaded(ctx, userID); err != nil {
		return nil, err
	}
	unlocked, err := s.IsUnlocked(ctx, userID, moduleID)
	if err != nil {
		return nil, err
	}
	if !unlocked {
		return nil, fmt.Errorf("%w: %s", ErrModuleLocked, moduleID)
	}

	scored, err := quiz.Score(mod.Quiz, sub)
	if err != nil {
		return nil, err
	}

	result := &SubmitResult{
		Result:    scored,
		AttemptID: newAttemptID(),
	}

	// Audit log first: every attempt is recorded, pass or fail.
	if err := s.remote.RecordQuizAttempt(ctx, Attempt{
		ID:          result.AttemptID,
		UserID:      userID,
		ModuleID:    moduleID,
		Answers:     sub,
		Score:       scored.Percentage,
		Passed:      scored.Passed,
		CompletedAt: s.now(),
	}); err != nil {
		result.Warnings = append(result.Warnings, "quiz attempt not recorded")
		slog.Warn("recording quiz attempt failed", "user_id", userID, "module_id", moduleID, "error", err)
	}

	s.events.Publish(Event{
		Type:     EventQuizSubmitted,
		UserID:   userID,
		ModuleID: moduleID,
		Data:     map[string]any{"score": scored.Percentage, "passed": scored.Passed},
	})

	if !scored.Passed {
		result.Record = s.recordFailedAttempt(ctx, userID, moduleID)
		return result, nil
	}

	result.Record = s.completeModule(ctx, userID, moduleID, scored.Percentage, result)
	return result, nil
}

// recordFailedAttempt leaves a completed module untouched and keeps any other
// module in_progress; the learner's selections are ephemeral and re-entered
// from scratch on the next attempt.
func (s *Store) recordFailedAttempt(ctx context.Context, userID, moduleID string) Record {
	s.mu.Lock()
	rec := s.users[userID][moduleID]
	changed := rec.Status == StatusNotStarted
	if changed {
		rec.Status = StatusInProgress
		s.users[userID][moduleID] = rec
	}
	s.mu.Unlock()

	if changed {
		s.persist(ctx, userID, rec)
	}
	return rec
}

func (s *Store) completeModule(ctx context.Context, userID, moduleID string, percentage int, result *SubmitResult) Record {
	now := s.now()

	s.mu.Lock()
	rec := s.users[userID][moduleID]
	rec.Status = StatusCompleted
	rec.QuizScore = &percentage
	rec.CompletedAt = &now
	s.users[userID][moduleID] = rec
	s.mu.Unlock()

	// (a) Persist the completed record, locally first.
	if warn := s.persist(ctx, userID, rec); warn != "" {
		result.Warnings = append(result.Warnings, warn)
	}
	s.events.Publish(Event{
		Type:     EventModuleCompleted,
		UserID:   userID,
		ModuleID: moduleID,
		Data:     map[string]any{"score": percentage},
	})

	// (b) Credit the reward, keyed by attempt id so retries cannot
	// double-credit.
	rwd, err := reward.Compute(percentage)
	if err != nil {
		// Unreachable for a passing score; reported rather than dropped.
		slog.Error("reward computation failed", "percentage", percentage, "error", err)
	} else {
		result.Reward = &rwd
		acct, err := s.accounts.Credit(ctx, userID, result.AttemptID, rwd.XP, rwd.Sats)
		if err != nil {
			result.Warnings = append(result.Warnings, "reward credit not persisted")
			slog.Warn("reward credit failed", "user_id", userID, "module_id", moduleID, "error", err)
		} else {
			result.Account = &acct
			s.events.Publish(Event{
				Type:     EventRewardGranted,
				UserID:   userID,
				ModuleID: moduleID,
				Data:     map[string]any{"xp": rwd.XP, "sats": rwd.Sats},
			})
		}
	}

	// (c) Seed the next module, if it still holds its default state.
	if next, ok := s.catalog.Next(moduleID); ok {
		s.mu.Lock()
		nextRec := s.users[userID][next.ID]
		seed := nextRec.Status == StatusNotStarted
		s.mu.Unlock()

		if seed {
			seeded := Record{ModuleID: next.ID, Status: StatusNotStarted}
			if warn := s.persist(ctx, userID, seeded); warn != "" {
				result.Warnings = append(result.Warnings, warn)
			}
			result.NextModuleID = next.ID
		}
	}

	return rec
}

// AttachCertificate records a minted certificate reference on a completed
// module. Mint failures never reach this point, so progress state is already
// settled when it runs.
func (s *Store) AttachCertificate(ctx context.Context, userID, moduleID, certRef string) (Record, error) {
	if _, ok := s.catalog.ModuleByID(moduleID); !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrModuleNotFound, moduleID)
	}
	if certRef == "" {
		return Record{}, fmt.Errorf("certificate reference is required")
	}
	if err := s.ensureLoaded(ctx, userID); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	rec := s.users[userID][moduleID]
	if rec.Status != StatusCompleted {
		s.mu.Unlock()
		return Record{}, fmt.Errorf("%w: %s", ErrNotCompleted, moduleID)
	}
	rec.CertificateRef = certRef
	s.users[userID][moduleID] = rec
	s.mu.Unlock()

	s.persist(ctx, userID, rec)
	s.events.Publish(Event{
		Type:     EventCertificateMinted,
		UserID:   userID,
		ModuleID: moduleID,
		Data:     map[string]any{"certificate_ref": certRef},
	})
	return rec, nil
}

// Attempts returns the audit log for a user, optionally filtered by module.
func (s *Store) Attempts(ctx context.Context, userID, moduleID string) ([]Attempt, error) {
	return s.remote.ListQuizAttempts(ctx, userID, moduleID)
}

func (s *Store) ensureLoaded(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	s.mu.RLock()
	_, loaded := s.users[userID]
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	_, err := s.Load(ctx, userID)
	return err
}

func (s *Store) defaultRecords() map[string]Record {
	recs := make(map[string]Record)
	for _, m := range s.catalog.Modules() {
		recs[m.ID] = Record{ModuleID: m.ID, Status: StatusNotStarted}
	}
	return recs
}

// persist writes the snapshot cache, then the remote. Either failure is
// reported as a warning; the in-memory state stays authoritative for the
// session.
func (s *Store) persist(ctx context.Context, userID string, rec Record) string {
	s.mu.RLock()
	snap := make(map[string]Record, len(s.users[userID]))
	for id, r := range s.users[userID] {
		snap[id] = r
	}
	s.mu.RUnlock()

	if err := s.snapshots.SaveSnapshot(ctx, userID, snap); err != nil {
		slog.Warn("snapshot cache write failed", "user_id", userID, "error", err)
	}

	if err := s.remote.UpsertProgress(ctx, userID, rec); err != nil {
		slog.Warn("remote progress write failed, local state kept",
			"user_id", userID, "module_id", rec.ModuleID, "error", err)
		return "progress not persisted remotely"
	}
	return ""
}

func newAttemptID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
