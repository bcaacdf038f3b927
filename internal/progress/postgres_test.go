package progress_test

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/proofoflearn/backend/internal/account"
	"github.com/proofoflearn/backend/internal/platform/database"
	"github.com/proofoflearn/backend/internal/progress"
)

// startPostgres spins up a throwaway PostgreSQL container with the schema
// applied. Skips the test when no container runtime is available.
func startPostgres(t *testing.T) *database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("learn"),
		tcpostgres.WithUsername("learn"),
		tcpostgres.WithPassword("learn"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	if err != nil {
		t.Skipf("container runtime unavailable: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("ConnectionString() error = %v", err)
	}

	db, err := database.New(ctx, url, 5, 1)
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func TestPostgresRemote_RoundTrip(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()

	accounts, err := account.NewPostgresDirectory(db.Pool)
	if err != nil {
		t.Fatalf("NewPostgresDirectory() error = %v", err)
	}
	acct, err := accounts.Resolve(ctx, "bc1qintegration")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	remote, err := progress.NewPostgresRemote(db.Pool)
	if err != nil {
		t.Fatalf("NewPostgresRemote() error = %v", err)
	}

	recs, err := remote.FetchUserProgress(ctx, acct.ID)
	if err != nil {
		t.Fatalf("FetchUserProgress() error = %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("fresh user has %d records, want 0", len(recs))
	}

	score := 80
	completed := time.Now().UTC().Truncate(time.Second)
	rec := progress.Record{
		ModuleID:    "module-1",
		Status:      progress.StatusCompleted,
		QuizScore:   &score,
		CompletedAt: &completed,
	}
	if err := remote.UpsertProgress(ctx, acct.ID, rec); err != nil {
		t.Fatalf("UpsertProgress() error = %v", err)
	}

	// Upsert again with a certificate; the row must update, not duplicate.
	rec.CertificateRef = "cert-abc"
	if err := remote.UpsertProgress(ctx, acct.ID, rec); err != nil {
		t.Fatalf("UpsertProgress() update error = %v", err)
	}

	recs, err = remote.FetchUserProgress(ctx, acct.ID)
	if err != nil {
		t.Fatalf("FetchUserProgress() error = %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	got := recs[0]
	if got.Status != progress.StatusCompleted || got.QuizScore == nil || *got.QuizScore != 80 {
		t.Errorf("record = %+v, want completed with score 80", got)
	}
	if got.CertificateRef != "cert-abc" {
		t.Errorf("CertificateRef = %q, want cert-abc", got.CertificateRef)
	}
}

func TestPostgresRemote_AttemptLog(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()

	accounts, _ := account.NewPostgresDirectory(db.Pool)
	acct, err := accounts.Resolve(ctx, "bc1qattempts")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	remote, _ := progress.NewPostgresRemote(db.Pool)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 2; i++ {
		err := remote.RecordQuizAttempt(ctx, progress.Attempt{
			ID:          acct.ID[:8] + "-att-" + string(rune('a'+i)),
			UserID:      acct.ID,
			ModuleID:    "module-1",
			Answers:     map[int]int{0: 1, 1: 2},
			Score:       60 + i*20,
			Passed:      i == 1,
			CompletedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("RecordQuizAttempt(%d) error = %v", i, err)
		}
	}

	attempts, err := remote.ListQuizAttempts(ctx, acct.ID, "module-1")
	if err != nil {
		t.Fatalf("ListQuizAttempts() error = %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("got %d attempts, want 2", len(attempts))
	}
	if attempts[0].AttemptNumber != 2 || attempts[0].Score != 80 {
		t.Errorf("latest attempt = %+v, want attempt 2 with score 80", attempts[0])
	}
	if attempts[0].Answers[1] != 2 {
		t.Errorf("answers did not round-trip: %+v", attempts[0].Answers)
	}
}

func TestPostgresDirectory_CreditIdempotent(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()

	accounts, _ := account.NewPostgresDirectory(db.Pool)
	acct, err := accounts.Resolve(ctx, "bc1qcredit")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := accounts.Credit(ctx, acct.ID, "attempt-1", 120, 1500); err != nil {
			t.Fatalf("Credit() error = %v", err)
		}
	}

	got, err := accounts.Get(ctx, acct.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.TotalXP != 120 || got.SatsEarned != 1500 {
		t.Errorf("totals = %d XP / %d sats, want 120 / 1500 after repeated credits", got.TotalXP, got.SatsEarned)
	}

	// Re-resolving the same wallet returns the same account.
	again, err := accounts.Resolve(ctx, "bc1qcredit")
	if err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if again.ID != acct.ID {
		t.Errorf("Resolve() returned new id %s, want %s", again.ID, acct.ID)
	}
}
