// Package zkcert issues zero-knowledge completion certificates. Issuance is
// two-phase: a proof is generated from the completion facts, then minted
// on-chain as a soulbound token. The mock issuer stands in for the proving
// service during development and tests.
package zkcert

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
)

// Proof is the output of the proving phase, ready to be minted.
type Proof struct {
	Hash            string    `json:"proof_hash"`
	VerificationKey string    `json:"verification_key"`
	UserID          string    `json:"user_id"`
	ModuleID        string    `json:"module_id"`
	Score           int       `json:"score"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Certificate is a minted completion credential.
type Certificate struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	ModuleID        string    `json:"module_id"`
	Label           string    `json:"label"`
	Skills          []string  `json:"skills,omitempty"`
	Score           int       `json:"score"`
	ProofHash       string    `json:"proof_hash"`
	VerificationKey string    `json:"verification_key"`
	TxHash          string    `json:"tx_hash"`
	MintedAt        time.Time `json:"minted_at"`
}

// Issuer generates proofs and mints certificates.
type Issuer interface {
	// GenerateProof builds a proof over the completion facts. It does not
	// touch progress state.
	GenerateProof(ctx context.Context, userID, moduleID string, score int) (Proof, error)
	// Mint publishes a generated proof as a certificate.
	Mint(ctx context.Context, proof Proof, label string, skills []string) (Certificate, error)
	// Verify looks up a minted certificate by id.
	Verify(ctx context.Context, certID string) (Certificate, bool, error)
}

// MockIssuer simulates the proving service. Proof hashes are deterministic
// digests of the completion facts; tx hashes are random. Delays default to
// zero so tests run instantly.
type MockIssuer struct {
	ProofDelay time.Duration
	MintDelay  time.Duration
	Err        error // forces every call to fail when set

	mu     sync.RWMutex
	minted map[string]Certificate
	now    func() time.Time
}

// NewMockIssuer creates a mock issuer with no delays.
func NewMockIssuer() *MockIssuer {
	return &MockIssuer{
		minted: make(map[string]Certificate),
		now:    time.Now,
	}
}

func (m *MockIssuer) GenerateProof(ctx context.Context, userID, moduleID string, score int) (Proof, error) {
	if userID == "" || moduleID == "" {
		return Proof{}, fmt.Errorf("user id and module id are required")
	}
	if score < 0 || score > 100 {
		return Proof{}, fmt.Errorf("score %d out of range", score)
	}
	if err := wait(ctx, m.ProofDelay); err != nil {
		return Proof{}, err
	}
	if m.Err != nil {
		return Proof{}, m.Err
	}

	digest := sha3.Sum256([]byte(fmt.Sprintf("%s|%s|%d", userID, moduleID, score)))
	return Proof{
		Hash:            fmt.Sprintf("0x%x", digest),
		VerificationKey: "0x" + randomHex(32),
		UserID:          userID,
		ModuleID:        moduleID,
		Score:           score,
		GeneratedAt:     m.now(),
	}, nil
}

func (m *MockIssuer) Mint(ctx context.Context, proof Proof, label string, skills []string) (Certificate, error) {
	if proof.Hash == "" {
		return Certificate{}, fmt.Errorf("proof hash is required")
	}
	if err := wait(ctx, m.MintDelay); err != nil {
		return Certificate{}, err
	}
	if m.Err != nil {
		return Certificate{}, m.Err
	}

	cert := Certificate{
		ID:              "zkcert-" + randomHex(12),
		UserID:          proof.UserID,
		ModuleID:        proof.ModuleID,
		Label:           label,
		Skills:          skills,
		Score:           proof.Score,
		ProofHash:       proof.Hash,
		VerificationKey: proof.VerificationKey,
		TxHash:          "0x" + randomHex(32),
		MintedAt:        m.now(),
	}

	m.mu.Lock()
	m.minted[cert.ID] = cert
	m.mu.Unlock()
	return cert, nil
}

func (m *MockIssuer) Verify(_ context.Context, certID string) (Certificate, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cert, ok := m.minted[certID]
	return cert, ok, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
