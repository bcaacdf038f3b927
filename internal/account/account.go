// Package account resolves a connected wallet into a stable user identity and
// owns the cumulative reward counters. Totals only ever increase; reward
// credits are keyed by quiz attempt id so a retried write cannot double-credit.
package account

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"
)

// Account is a user identity record with cumulative reward totals.
type Account struct {
	ID            string    `json:"id"`
	WalletAddress string    `json:"wallet_address"`
	Username      string    `json:"username,omitempty"`
	TotalXP       int       `json:"total_xp"`
	SatsEarned    int       `json:"sats_earned"`
	CurrentStreak int       `json:"current_streak"`
	LastActivity  time.Time `json:"last_activity"`
	CreatedAt     time.Time `json:"created_at"`
}

// Directory resolves wallet addresses to accounts and applies reward credits.
type Directory interface {
	// Resolve returns the account for a wallet address, creating it on
	// first sign-in.
	Resolve(ctx context.Context, walletAddress string) (Account, error)
	// Get returns an account by id.
	Get(ctx context.Context, id string) (Account, error)
	// Credit adds xp and sats to the account totals. attemptID is an
	// idempotency key: crediting the same attempt twice is a no-op.
	Credit(ctx context.Context, id, attemptID string, xp, sats int) (Account, error)
}

// MemoryDirectory is an in-memory Directory implementation.
type MemoryDirectory struct {
	mu       sync.RWMutex
	byID     map[string]*Account
	byWallet map[string]string
	credited map[string]bool
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:     make(map[string]*Account),
		byWallet: make(map[string]string),
		credited: make(map[string]bool),
	}
}

func (d *MemoryDirectory) Resolve(_ context.Context, walletAddress string) (Account, error) {
	if walletAddress == "" {
		return Account{}, fmt.Errorf("wallet address is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.byWallet[walletAddress]; ok {
		acct := d.byID[id]
		acct.LastActivity = time.Now()
		return *acct, nil
	}

	short := walletAddress
	if len(short) > 8 {
		short = short[:8]
	}
	now := time.Now()
	acct := &Account{
		ID:            generateID(),
		WalletAddress: walletAddress,
		Username:      fmt.Sprintf("User %s", short),
		CurrentStreak: 1,
		LastActivity:  now,
		CreatedAt:     now,
	}
	d.byID[acct.ID] = acct
	d.byWallet[walletAddress] = acct.ID
	return *acct, nil
}

func (d *MemoryDirectory) Get(_ context.Context, id string) (Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	acct, ok := d.byID[id]
	if !ok {
		return Account{}, fmt.Errorf("account not found: %s", id)
	}
	return *acct, nil
}

func (d *MemoryDirectory) Credit(_ context.Context, id, attemptID string, xp, sats int) (Account, error) {
	if xp < 0 || sats < 0 {
		return Account{}, fmt.Errorf("reward deltas must be non-negative")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	acct, ok := d.byID[id]
	if !ok {
		return Account{}, fmt.Errorf("account not found: %s", id)
	}

	key := id + ":" + attemptID
	if attemptID != "" && d.credited[key] {
		return *acct, nil
	}

	acct.TotalXP += xp
	acct.SatsEarned += sats
	acct.LastActivity = time.Now()
	if attemptID != "" {
		d.credited[key] = true
	}
	return *acct, nil
}

func generateID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
