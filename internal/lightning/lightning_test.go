package lightning

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMockNode_CreateAndPay(t *testing.T) {
	node := NewMockNode()
	ctx := t.Context()

	inv, err := node.CreateInvoice(ctx, 1500, "module-1 reward")
	if err != nil {
		t.Fatalf("CreateInvoice() error = %v", err)
	}
	if inv.Status != StatusPending {
		t.Errorf("status = %q, want pending", inv.Status)
	}
	if !strings.HasPrefix(inv.Request, "lnbc") {
		t.Errorf("payment request = %q, want lnbc prefix", inv.Request)
	}
	if inv.AmountSats != 1500 {
		t.Errorf("amount = %d, want 1500", inv.AmountSats)
	}

	paid, err := node.PayInvoice(ctx, inv.PaymentHash)
	if err != nil {
		t.Fatalf("PayInvoice() error = %v", err)
	}
	if paid.Status != StatusPaid || paid.PaidAt == nil {
		t.Errorf("paid invoice = %+v, want paid with timestamp", paid)
	}

	// Paying again is a no-op.
	again, err := node.PayInvoice(ctx, inv.PaymentHash)
	if err != nil {
		t.Fatalf("second PayInvoice() error = %v", err)
	}
	if !again.PaidAt.Equal(*paid.PaidAt) {
		t.Error("repeated payment must not change the settlement time")
	}
}

func TestMockNode_CreateInvoice_Validation(t *testing.T) {
	node := NewMockNode()

	if _, err := node.CreateInvoice(t.Context(), 0, ""); err == nil {
		t.Error("zero amount must be rejected")
	}
	if _, err := node.CreateInvoice(t.Context(), -100, ""); err == nil {
		t.Error("negative amount must be rejected")
	}
}

func TestMockNode_UnknownInvoice(t *testing.T) {
	node := NewMockNode()

	if _, err := node.PayInvoice(t.Context(), "deadbeef"); err == nil {
		t.Error("paying an unknown invoice must fail")
	}
	if _, err := node.InvoiceStatus(t.Context(), "deadbeef"); err == nil {
		t.Error("querying an unknown invoice must fail")
	}
}

func TestMockNode_Expiry(t *testing.T) {
	node := NewMockNode()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	node.now = func() time.Time { return clock }
	ctx := t.Context()

	inv, err := node.CreateInvoice(ctx, 1000, "")
	if err != nil {
		t.Fatalf("CreateInvoice() error = %v", err)
	}

	clock = clock.Add(invoiceTTL + time.Minute)

	if _, err := node.PayInvoice(ctx, inv.PaymentHash); err == nil {
		t.Error("paying an expired invoice must fail")
	}

	status, err := node.InvoiceStatus(ctx, inv.PaymentHash)
	if err != nil {
		t.Fatalf("InvoiceStatus() error = %v", err)
	}
	if status.Status != StatusExpired {
		t.Errorf("status = %q, want expired", status.Status)
	}
}

func TestMockNode_SendTip(t *testing.T) {
	node := NewMockNode()

	hash, err := node.SendTip(t.Context(), "bc1qtip", 500)
	if err != nil {
		t.Fatalf("SendTip() error = %v", err)
	}
	if len(hash) != 64 {
		t.Errorf("payment hash length = %d, want 64 hex chars", len(hash))
	}

	if _, err := node.SendTip(t.Context(), "", 500); err == nil {
		t.Error("tip without a wallet must fail")
	}
	if _, err := node.SendTip(t.Context(), "bc1qtip", 0); err == nil {
		t.Error("zero-amount tip must fail")
	}
}

func TestMockNode_DelayRespectsContext(t *testing.T) {
	node := NewMockNode()
	node.Delay = time.Minute

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()

	_, err := node.CreateInvoice(ctx, 1000, "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("CreateInvoice() error = %v, want context deadline", err)
	}
}

func TestMockNode_ForcedFailure(t *testing.T) {
	node := NewMockNode()
	node.Err = errors.New("node offline")

	if _, err := node.CreateInvoice(t.Context(), 1000, ""); err == nil {
		t.Error("forced failure must surface from CreateInvoice")
	}
}
