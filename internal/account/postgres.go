package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// PostgresDirectory is a PostgreSQL-backed Directory implementation.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

// NewPostgresDirectory creates a PostgreSQL-backed account directory.
func NewPostgresDirectory(pool *pgxpool.Pool) (*PostgresDirectory, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresDirectory{pool: pool}, nil
}

func (d *PostgresDirectory) Resolve(ctx context.Context, walletAddress string) (Account, error) {
	if walletAddress == "" {
		return Account{}, fmt.Errorf("wallet address is required")
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	acct, err := d.scanAccount(d.pool.QueryRow(ctx,
		`UPDATE user_profiles
		 SET last_activity = NOW()
		 WHERE wallet_address = $1
		 RETURNING id::text, wallet_address, username, total_xp, sats_earned, current_streak, last_activity, created_at`,
		walletAddress,
	))
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("lookup account: %w", err)
	}

	short := walletAddress
	if len(short) > 8 {
		short = short[:8]
	}
	acct, err = d.scanAccount(d.pool.QueryRow(ctx,
		`INSERT INTO user_profiles (wallet_address, username, total_xp, sats_earned, current_streak, last_activity)
		 VALUES ($1, $2, 0, 0, 1, NOW())
		 RETURNING id::text, wallet_address, username, total_xp, sats_earned, current_streak, last_activity, created_at`,
		walletAddress,
		fmt.Sprintf("User %s", short),
	))
	if err != nil {
		return Account{}, fmt.Errorf("create account: %w", err)
	}
	return acct, nil
}

func (d *PostgresDirectory) Get(ctx context.Context, id string) (Account, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	acct, err := d.scanAccount(d.pool.QueryRow(ctx,
		`SELECT id::text, wallet_address, username, total_xp, sats_earned, current_streak, last_activity, created_at
		 FROM user_profiles
		 WHERE id = $1::uuid`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("account not found: %s", id)
		}
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return acct, nil
}

func (d *PostgresDirectory) Credit(ctx context.Context, id, attemptID string, xp, sats int) (Account, error) {
	if xp < 0 || sats < 0 {
		return Account{}, fmt.Errorf("reward deltas must be non-negative")
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return Account{}, fmt.Errorf("begin credit: %w", err)
	}
	defer tx.Rollback(ctx)

	// The reward_credits row is the idempotency guard: a second credit for
	// the same attempt inserts nothing and leaves the totals untouched.
	if attemptID != "" {
		cmd, err := tx.Exec(ctx,
			`INSERT INTO reward_credits (user_id, attempt_id, xp, sats)
			 VALUES ($1::uuid, $2, $3, $4)
			 ON CONFLICT (user_id, attempt_id) DO NOTHING`,
			id, attemptID, xp, sats,
		)
		if err != nil {
			return Account{}, fmt.Errorf("record credit: %w", err)
		}
		if cmd.RowsAffected() == 0 {
			if err := tx.Commit(ctx); err != nil {
				return Account{}, fmt.Errorf("commit credit: %w", err)
			}
			return d.Get(ctx, id)
		}
	}

	acct, err := d.scanAccount(tx.QueryRow(ctx,
		`UPDATE user_profiles
		 SET total_xp = total_xp + $2,
		     sats_earned = sats_earned + $3,
		     last_activity = NOW()
		 WHERE id = $1::uuid
		 RETURNING id::text, wallet_address, username, total_xp, sats_earned, current_streak, last_activity, created_at`,
		id, xp, sats,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("account not found: %s", id)
		}
		return Account{}, fmt.Errorf("credit account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Account{}, fmt.Errorf("commit credit: %w", err)
	}
	return acct, nil
}

func (d *PostgresDirectory) scanAccount(row pgx.Row) (Account, error) {
	var acct Account
	var username *string
	err := row.Scan(
		&acct.ID,
		&acct.WalletAddress,
		&username,
		&acct.TotalXP,
		&acct.SatsEarned,
		&acct.CurrentStreak,
		&acct.LastActivity,
		&acct.CreatedAt,
	)
	if err != nil {
		return Account{}, err
	}
	if username != nil {
		acct.Username = *username
	}
	return acct, nil
}
