package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/proofoflearn/backend/internal/account"
	"github.com/proofoflearn/backend/internal/catalog"
	"github.com/proofoflearn/backend/internal/lightning"
	"github.com/proofoflearn/backend/internal/progress"
	"github.com/proofoflearn/backend/internal/zkcert"
)

type testEnv struct {
	server   *Server
	ts       *httptest.Server
	accounts *account.MemoryDirectory
	hub      *progress.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mods := make([]catalog.Module, 2)
	for i := range mods {
		qs := make([]catalog.Question, 5)
		for j := range qs {
			qs[j] = catalog.Question{
				Question: fmt.Sprintf("q%d", j),
				Options:  []string{"a", "b", "c"},
				Correct:  1,
			}
		}
		mods[i] = catalog.Module{
			ID:               fmt.Sprintf("module-%d", i+1),
			Track:            "beginner",
			Title:            fmt.Sprintf("Module %d", i+1),
			Quiz:             qs,
			CertificateLabel: "Bitcoin Fundamentals",
			Skills:           []string{"utxo-model"},
		}
	}
	c, err := catalog.New(mods)
	if err != nil {
		t.Fatalf("catalog.New() error = %v", err)
	}

	accounts := account.NewMemoryDirectory()
	hub := progress.NewHub()
	store, err := progress.NewStore(progress.StoreConfig{
		Catalog:  c,
		Accounts: accounts,
		Events:   hub,
	})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	srv, err := New(Config{
		Catalog:   c,
		Store:     store,
		Accounts:  accounts,
		Issuer:    zkcert.NewMockIssuer(),
		Lightning: lightning.NewMockNode(),
		Events:    hub,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return &testEnv{server: srv, ts: ts, accounts: accounts, hub: hub}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(e.ts.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func (e *testEnv) signin(t *testing.T, wallet string) account.Account {
	t.Helper()
	resp := e.post(t, "/api/auth/signin", map[string]string{"wallet_address": wallet})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signin status = %d, want 200", resp.StatusCode)
	}
	var acct account.Account
	if err := json.NewDecoder(resp.Body).Decode(&acct); err != nil {
		t.Fatalf("decode signin response: %v", err)
	}
	return acct
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestSignin(t *testing.T) {
	env := newTestEnv(t)

	acct := env.signin(t, "bc1qwallet123")
	if acct.ID == "" {
		t.Error("sign-in must return an account id")
	}
	if acct.WalletAddress != "bc1qwallet123" {
		t.Errorf("wallet = %q, want bc1qwallet123", acct.WalletAddress)
	}

	// Same wallet resolves to the same account.
	again := env.signin(t, "bc1qwallet123")
	if again.ID != acct.ID {
		t.Error("repeated sign-in must return the same account")
	}
}

func TestSignin_MissingWallet(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/auth/signin", map[string]string{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCatalog_HidesCorrectAnswers(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/catalog")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if strings.Contains(buf.String(), `"correct"`) {
		t.Error("catalog response must not expose correct answer indexes")
	}
	if !strings.Contains(buf.String(), "Beginner Track") {
		t.Error("catalog response missing track title")
	}
}

func TestCatalogModule(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/catalog/module-1")
	mod := decodeJSON[catalog.Module](t, resp)
	if mod.ID != "module-1" {
		t.Errorf("module id = %q, want module-1", mod.ID)
	}

	resp = env.get(t, "/api/catalog/nope")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown module status = %d, want 404", resp.StatusCode)
	}
}

func TestQuizSubmit_PassEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	acct := env.signin(t, "bc1qquiz")

	resp := env.post(t, "/api/quiz/start", map[string]string{
		"user_id": acct.ID, "module_id": "module-1",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want 200", resp.StatusCode)
	}

	resp = env.post(t, "/api/quiz", map[string]any{
		"user_id":   acct.ID,
		"module_id": "module-1",
		"answers":   map[string]int{"0": 1, "1": 1, "2": 1, "3": 1, "4": 0},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d, want 200", resp.StatusCode)
	}
	res := decodeJSON[progress.SubmitResult](t, resp)

	if res.Percentage != 80 || !res.Passed {
		t.Errorf("score = %d%%, passed = %v; want 80%%, true", res.Percentage, res.Passed)
	}
	if res.Reward == nil || res.Reward.XP != 120 || res.Reward.Sats != 1500 {
		t.Errorf("reward = %+v, want {XP:120 Sats:1500}", res.Reward)
	}
	if res.AttemptID == "" {
		t.Error("submission must return an attempt id")
	}
}

func TestQuizSubmit_SchemaValidation(t *testing.T) {
	env := newTestEnv(t)
	acct := env.signin(t, "bc1qschema")

	tests := []struct {
		name string
		body any
	}{
		{"missing answers", map[string]any{"user_id": acct.ID, "module_id": "module-1"}},
		{"non-numeric key", map[string]any{
			"user_id": acct.ID, "module_id": "module-1",
			"answers": map[string]int{"abc": 1},
		}},
		{"negative answer", map[string]any{
			"user_id": acct.ID, "module_id": "module-1",
			"answers": map[string]int{"0": -1},
		}},
		{"empty user", map[string]any{
			"user_id": "", "module_id": "module-1",
			"answers": map[string]int{"0": 1},
		}},
		{"extra field", map[string]any{
			"user_id": acct.ID, "module_id": "module-1",
			"answers": map[string]int{"0": 1}, "score": 100,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.post(t, "/api/quiz", tt.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestQuizSubmit_LockedModule(t *testing.T) {
	env := newTestEnv(t)
	acct := env.signin(t, "bc1qlocked")

	resp := env.post(t, "/api/quiz", map[string]any{
		"user_id":   acct.ID,
		"module_id": "module-2",
		"answers":   map[string]int{"0": 1},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestQuizSubmit_UnknownModule(t *testing.T) {
	env := newTestEnv(t)
	acct := env.signin(t, "bc1qmissing")

	resp := env.post(t, "/api/quiz", map[string]any{
		"user_id":   acct.ID,
		"module_id": "module-99",
		"answers":   map[string]int{"0": 1},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestQuizAttempts(t *testing.T) {
	env := newTestEnv(t)
	acct := env.signin(t, "bc1qattempts")

	env.post(t, "/api/quiz", map[string]any{
		"user_id": acct.ID, "module_id": "module-1",
		"answers": map[string]int{"0": 1},
	}).Body.Close()

	resp := env.get(t, "/api/quiz?user_id=" + acct.ID + "&module_id=module-1")
	body := decodeJSON[map[string][]progress.Attempt](t, resp)
	if len(body["attempts"]) != 1 {
		t.Errorf("got %d attempts, want 1", len(body["attempts"]))
	}
}

func TestProgress_UnlockFlags(t *testing.T) {
	env := newTestEnv(t)
	acct := env.signin(t, "bc1qflags")

	resp := env.get(t, "/api/progress?user_id=" + acct.ID)
	var body struct {
		Records []progressEntry `json:"records"`
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if len(body.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(body.Records))
	}
	if !body.Records[0].Unlocked {
		t.Error("first module must be unlocked")
	}
	if body.Records[1].Unlocked {
		t.Error("second module must be locked initially")
	}
}

func TestCertificateMintAndVerify(t *testing.T) {
	env := newTestEnv(t)
	acct := env.signin(t, "bc1qcert")

	// Not completed yet.
	resp := env.post(t, "/api/certificates", map[string]string{
		"user_id": acct.ID, "module_id": "module-1",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("premature mint status = %d, want 409", resp.StatusCode)
	}

	env.post(t, "/api/quiz", map[string]any{
		"user_id": acct.ID, "module_id": "module-1",
		"answers": map[string]int{"0": 1, "1": 1, "2": 1, "3": 1, "4": 1},
	}).Body.Close()

	resp = env.post(t, "/api/certificates", map[string]string{
		"user_id": acct.ID, "module_id": "module-1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("mint status = %d, want 201", resp.StatusCode)
	}
	body := decodeJSON[map[string]zkcert.Certificate](t, resp)
	cert := body["certificate"]
	if cert.ID == "" || cert.Label != "Bitcoin Fundamentals" {
		t.Errorf("certificate = %+v, want id and label set", cert)
	}

	resp = env.get(t, "/api/certificates/" + cert.ID)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("verify status = %d, want 200", resp.StatusCode)
	}

	// The reference lands on the progress record.
	resp2 := env.get(t, "/api/progress?user_id=" + acct.ID)
	var prog struct {
		Records []progressEntry `json:"records"`
	}
	defer resp2.Body.Close()
	if err := json.NewDecoder(resp2.Body).Decode(&prog); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if prog.Records[0].CertificateRef != cert.ID {
		t.Errorf("CertificateRef = %q, want %q", prog.Records[0].CertificateRef, cert.ID)
	}
}

func TestProgressExport(t *testing.T) {
	env := newTestEnv(t)
	acct := env.signin(t, "bc1qexport")

	resp := env.get(t, "/api/progress/export?user_id=" + acct.ID)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("Content-Type = %q, want xlsx", ct)
	}

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	// xlsx files are zip archives.
	if buf.Len() < 4 || buf.Bytes()[0] != 'P' || buf.Bytes()[1] != 'K' {
		t.Error("export body is not a zip archive")
	}
}

func TestLightningInvoiceFlow(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/lightning/invoice", map[string]any{
		"amount_sats": 1500, "memo": "module-1 reward",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	inv := decodeJSON[lightning.Invoice](t, resp)
	if inv.PaymentHash == "" || inv.Status != lightning.StatusPending {
		t.Errorf("invoice = %+v, want pending with hash", inv)
	}

	resp = env.get(t, "/api/lightning/invoice/" + inv.PaymentHash)
	got := decodeJSON[lightning.Invoice](t, resp)
	if got.AmountSats != 1500 {
		t.Errorf("amount = %d, want 1500", got.AmountSats)
	}

	resp = env.get(t, "/api/lightning/invoice/unknown")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown invoice status = %d, want 404", resp.StatusCode)
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t)
	acct := env.signin(t, "bc1qstream")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/api/events?user_id=" + acct.ID
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.CloseNow()

	// Give the handler a moment to register its hub subscription.
	time.Sleep(50 * time.Millisecond)

	env.post(t, "/api/quiz", map[string]any{
		"user_id": acct.ID, "module_id": "module-1",
		"answers": map[string]int{"0": 1, "1": 1, "2": 1, "3": 1, "4": 1},
	}).Body.Close()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("websocket read: %v", err)
	}
	var ev progress.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.UserID != acct.ID {
		t.Errorf("event user = %q, want %q", ev.UserID, acct.ID)
	}
	if ev.Type == "" {
		t.Error("event type is empty")
	}
}

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/healthz")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}

	resp = env.get(t, "/readyz")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz status = %d, want 200", resp.StatusCode)
	}
}

func TestReadyz_FailingCheck(t *testing.T) {
	env := newTestEnv(t)
	env.server.cfg.ReadyChecks = map[string]func(context.Context) error{
		"database": func(context.Context) error { return errors.New("down") },
	}
	ts := httptest.NewServer(env.server.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz status = %d, want 503", resp.StatusCode)
	}
}
