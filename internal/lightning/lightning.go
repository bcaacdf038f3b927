// Package lightning simulates a Lightning payout service for sat rewards.
// The mock node issues invoices and settles them after a short delay, which is
// enough surface for the reward flow until a real node is wired in.
package lightning

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"
)

// Invoice statuses.
const (
	StatusPending = "pending"
	StatusPaid    = "paid"
	StatusExpired = "expired"
)

const invoiceTTL = 15 * time.Minute

// Invoice is a payment request for a sat amount.
type Invoice struct {
	PaymentHash string     `json:"payment_hash"`
	Request     string     `json:"payment_request"`
	AmountSats  int        `json:"amount_sats"`
	Memo        string     `json:"memo,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

// Node issues and settles Lightning invoices.
type Node interface {
	CreateInvoice(ctx context.Context, amountSats int, memo string) (Invoice, error)
	PayInvoice(ctx context.Context, paymentHash string) (Invoice, error)
	InvoiceStatus(ctx context.Context, paymentHash string) (Invoice, error)
	// SendTip pushes sats directly to a wallet without an invoice.
	SendTip(ctx context.Context, walletAddress string, amountSats int) (string, error)
}

// MockNode is an in-process Node. Delays default to zero.
type MockNode struct {
	Delay time.Duration
	Err   error // forces every call to fail when set

	mu       sync.RWMutex
	invoices map[string]Invoice
	now      func() time.Time
}

// NewMockNode creates a mock Lightning node with no delay.
func NewMockNode() *MockNode {
	return &MockNode{
		invoices: make(map[string]Invoice),
		now:      time.Now,
	}
}

func (n *MockNode) CreateInvoice(ctx context.Context, amountSats int, memo string) (Invoice, error) {
	if amountSats <= 0 {
		return Invoice{}, fmt.Errorf("amount must be positive, got %d", amountSats)
	}
	if err := n.wait(ctx); err != nil {
		return Invoice{}, err
	}
	if n.Err != nil {
		return Invoice{}, n.Err
	}

	now := n.now()
	inv := Invoice{
		PaymentHash: randomHex(32),
		Request:     "lnbc" + randomHex(48),
		AmountSats:  amountSats,
		Memo:        memo,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(invoiceTTL),
	}

	n.mu.Lock()
	n.invoices[inv.PaymentHash] = inv
	n.mu.Unlock()
	return inv, nil
}

func (n *MockNode) PayInvoice(ctx context.Context, paymentHash string) (Invoice, error) {
	if err := n.wait(ctx); err != nil {
		return Invoice{}, err
	}
	if n.Err != nil {
		return Invoice{}, n.Err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	inv, ok := n.invoices[paymentHash]
	if !ok {
		return Invoice{}, fmt.Errorf("invoice not found: %s", paymentHash)
	}
	switch inv.Status {
	case StatusPaid:
		return inv, nil
	case StatusExpired:
		return Invoice{}, fmt.Errorf("invoice expired: %s", paymentHash)
	}
	if n.now().After(inv.ExpiresAt) {
		inv.Status = StatusExpired
		n.invoices[paymentHash] = inv
		return Invoice{}, fmt.Errorf("invoice expired: %s", paymentHash)
	}

	paid := n.now()
	inv.Status = StatusPaid
	inv.PaidAt = &paid
	n.invoices[paymentHash] = inv
	return inv, nil
}

func (n *MockNode) InvoiceStatus(_ context.Context, paymentHash string) (Invoice, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	inv, ok := n.invoices[paymentHash]
	if !ok {
		return Invoice{}, fmt.Errorf("invoice not found: %s", paymentHash)
	}
	if inv.Status == StatusPending && n.now().After(inv.ExpiresAt) {
		inv.Status = StatusExpired
		n.invoices[paymentHash] = inv
	}
	return inv, nil
}

func (n *MockNode) SendTip(ctx context.Context, walletAddress string, amountSats int) (string, error) {
	if walletAddress == "" {
		return "", fmt.Errorf("wallet address is required")
	}
	if amountSats <= 0 {
		return "", fmt.Errorf("amount must be positive, got %d", amountSats)
	}
	if err := n.wait(ctx); err != nil {
		return "", err
	}
	if n.Err != nil {
		return "", n.Err
	}
	return randomHex(32), nil
}

func (n *MockNode) wait(ctx context.Context) error {
	if n.Delay <= 0 {
		return nil
	}
	t := time.NewTimer(n.Delay)
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
