package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// PostgresRemote is a PostgreSQL-backed Remote implementation.
type PostgresRemote struct {
	pool *pgxpool.Pool
}

// NewPostgresRemote creates a PostgreSQL-backed remote progress store.
func NewPostgresRemote(pool *pgxpool.Pool) (*PostgresRemote, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresRemote{pool: pool}, nil
}

func (r *PostgresRemote) FetchUserProgress(ctx context.Context, userID string) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT module_id, status, quiz_score, completed_at, zk_cert_id
		 FROM module_progress
		 WHERE user_id = $1::uuid
		 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var certRef *string
		if err := rows.Scan(&rec.ModuleID, &rec.Status, &rec.QuizScore, &rec.CompletedAt, &certRef); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		if certRef != nil {
			rec.CertificateRef = *certRef
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress: %w", err)
	}
	return out, nil
}

func (r *PostgresRemote) UpsertProgress(ctx context.Context, userID string, rec Record) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if rec.ModuleID == "" {
		return fmt.Errorf("module id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO module_progress (user_id, module_id, status, quiz_score, completed_at, zk_cert_id, updated_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (user_id, module_id) DO UPDATE
		 SET status = EXCLUDED.status,
		     quiz_score = EXCLUDED.quiz_score,
		     completed_at = EXCLUDED.completed_at,
		     zk_cert_id = EXCLUDED.zk_cert_id,
		     updated_at = NOW()`,
		userID,
		rec.ModuleID,
		string(rec.Status),
		rec.QuizScore,
		rec.CompletedAt,
		nullIfEmpty(rec.CertificateRef),
	)
	if err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	return nil
}

func (r *PostgresRemote) RecordQuizAttempt(ctx context.Context, att Attempt) error {
	if att.ID == "" {
		return fmt.Errorf("attempt id is required")
	}
	if att.UserID == "" || att.ModuleID == "" {
		return fmt.Errorf("user id and module id are required")
	}

	answers, err := json.Marshal(att.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	completedAt := att.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err = r.pool.Exec(ctx,
		`INSERT INTO quiz_attempts (id, user_id, module_id, answers, score, passed, attempt_number, completed_at)
		 VALUES ($1, $2::uuid, $3, $4::jsonb, $5, $6,
		         (SELECT COUNT(*) + 1 FROM quiz_attempts WHERE user_id = $2::uuid AND module_id = $3),
		         $7)`,
		att.ID,
		att.UserID,
		att.ModuleID,
		string(answers),
		att.Score,
		att.Passed,
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("insert quiz attempt: %w", err)
	}
	return nil
}

func (r *PostgresRemote) ListQuizAttempts(ctx context.Context, userID, moduleID string) ([]Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	query := `SELECT id, user_id::text, module_id, answers, score, passed, attempt_number, completed_at
		 FROM quiz_attempts
		 WHERE user_id = $1::uuid`
	args := []any{userID}
	if moduleID != "" {
		query += ` AND module_id = $2`
		args = append(args, moduleID)
	}
	query += ` ORDER BY completed_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query quiz attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var att Attempt
		var answers []byte
		if err := rows.Scan(&att.ID, &att.UserID, &att.ModuleID, &answers, &att.Score, &att.Passed, &att.AttemptNumber, &att.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan quiz attempt: %w", err)
		}
		if len(answers) > 0 {
			if err := json.Unmarshal(answers, &att.Answers); err != nil {
				return nil, fmt.Errorf("decode answers: %w", err)
			}
		}
		out = append(out, att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quiz attempts: %w", err)
	}
	return out, nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
