// Package httpapi exposes the learning platform over HTTP. Handlers stay
// thin: decode, delegate to a collaborator, encode. Domain rules live in the
// progress store and its collaborators.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/proofoflearn/backend/internal/account"
	"github.com/proofoflearn/backend/internal/catalog"
	"github.com/proofoflearn/backend/internal/lightning"
	"github.com/proofoflearn/backend/internal/progress"
	"github.com/proofoflearn/backend/internal/quiz"
	"github.com/proofoflearn/backend/internal/zkcert"
)

// quizSubmitSchema validates quiz submission bodies before they reach the
// store. Answer keys are question indexes encoded as JSON object keys.
const quizSubmitSchema = `{
	"type": "object",
	"required": ["user_id", "module_id", "answers"],
	"properties": {
		"user_id": {"type": "string", "minLength": 1},
		"module_id": {"type": "string", "minLength": 1},
		"answers": {
			"type": "object",
			"patternProperties": {"^[0-9]+$": {"type": "integer", "minimum": 0}},
			"additionalProperties": false
		}
	},
	"additionalProperties": false
}`

// Config holds the collaborators behind the HTTP surface.
type Config struct {
	Catalog   *catalog.Catalog
	Store     *progress.Store
	Accounts  account.Directory
	Issuer    zkcert.Issuer
	Lightning lightning.Node // nil disables the lightning endpoints
	Events    *progress.Hub  // nil disables the event stream
	// ReadyChecks are probed by /readyz; each is a named connectivity check.
	ReadyChecks map[string]func(context.Context) error
}

// Server is the HTTP API.
type Server struct {
	cfg          Config
	submitSchema *gojsonschema.Schema
}

// New creates the HTTP API server.
func New(cfg Config) (*Server, error) {
	if cfg.Catalog == nil || cfg.Store == nil || cfg.Accounts == nil || cfg.Issuer == nil {
		return nil, fmt.Errorf("catalog, store, accounts and issuer are required")
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(quizSubmitSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling submit schema: %w", err)
	}
	return &Server{cfg: cfg, submitSchema: schema}, nil
}

// Routes builds the HTTP router.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/signin", s.handleSignin)
	mux.HandleFunc("GET /api/catalog", s.handleCatalog)
	mux.HandleFunc("GET /api/catalog/{id}", s.handleCatalogModule)
	mux.HandleFunc("POST /api/quiz/start", s.handleQuizStart)
	mux.HandleFunc("POST /api/quiz", s.handleQuizSubmit)
	mux.HandleFunc("GET /api/quiz", s.handleQuizAttempts)
	mux.HandleFunc("GET /api/progress", s.handleProgress)
	mux.HandleFunc("GET /api/progress/export", s.handleProgressExport)
	mux.HandleFunc("POST /api/certificates", s.handleCertificateMint)
	mux.HandleFunc("GET /api/certificates/{id}", s.handleCertificateVerify)

	if s.cfg.Lightning != nil {
		mux.HandleFunc("POST /api/lightning/invoice", s.handleInvoiceCreate)
		mux.HandleFunc("GET /api/lightning/invoice/{hash}", s.handleInvoiceStatus)
	}
	if s.cfg.Events != nil {
		mux.HandleFunc("GET /api/events", s.handleEvents)
	}

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	return mux
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletAddress string `json:"wallet_address"`
		Signature     string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.WalletAddress == "" {
		writeError(w, http.StatusBadRequest, "wallet_address is required")
		return
	}
	// Signature verification is mocked: any signature is accepted.

	acct, err := s.cfg.Accounts.Resolve(r.Context(), req.WalletAddress)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sign-in failed")
		slog.Error("wallet sign-in failed", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tracks": s.cfg.Catalog.Tracks()})
}

func (s *Server) handleCatalogModule(w http.ResponseWriter, r *http.Request) {
	mod, ok := s.cfg.Catalog.ModuleByID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "module not found")
		return
	}
	writeJSON(w, http.StatusOK, mod)
}

func (s *Server) handleQuizStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		ModuleID string `json:"module_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.ModuleID == "" {
		writeError(w, http.StatusBadRequest, "user_id and module_id are required")
		return
	}

	rec, err := s.cfg.Store.StartQuiz(r.Context(), req.UserID, req.ModuleID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleQuizSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body failed")
		return
	}

	result, err := s.submitSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !result.Valid() {
		writeError(w, http.StatusBadRequest, schemaErrors(result))
		return
	}

	var req struct {
		UserID   string          `json:"user_id"`
		ModuleID string          `json:"module_id"`
		Answers  quiz.Submission `json:"answers"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.cfg.Store.SubmitQuiz(r.Context(), req.UserID, req.ModuleID, req.Answers)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleQuizAttempts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	attempts, err := s.cfg.Store.Attempts(r.Context(), userID, r.URL.Query().Get("module_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading attempts failed")
		slog.Error("listing quiz attempts failed", "user_id", userID, "error", err)
		return
	}
	if attempts == nil {
		attempts = []progress.Attempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

// progressEntry is a record plus its derived unlock flag.
type progressEntry struct {
	progress.Record
	Unlocked bool `json:"unlocked"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	entries, err := s.progressEntries(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading progress failed")
		slog.Error("loading progress failed", "user_id", userID, "error", err)
		return
	}

	resp := map[string]any{"records": entries}
	if acct, err := s.cfg.Accounts.Get(r.Context(), userID); err == nil {
		resp["account"] = acct
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) progressEntries(ctx context.Context, userID string) ([]progressEntry, error) {
	recs, err := s.cfg.Store.Records(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries := make([]progressEntry, 0, len(recs))
	for _, rec := range recs {
		unlocked, err := s.cfg.Store.IsUnlocked(ctx, userID, rec.ModuleID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, progressEntry{Record: rec, Unlocked: unlocked})
	}
	return entries, nil
}

func (s *Server) handleCertificateMint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		ModuleID string `json:"module_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.ModuleID == "" {
		writeError(w, http.StatusBadRequest, "user_id and module_id are required")
		return
	}

	mod, ok := s.cfg.Catalog.ModuleByID(req.ModuleID)
	if !ok {
		writeError(w, http.StatusNotFound, "module not found")
		return
	}

	recs, err := s.cfg.Store.Records(r.Context(), req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading progress failed")
		return
	}
	var score int
	completed := false
	for _, rec := range recs {
		if rec.ModuleID == req.ModuleID && rec.Status == progress.StatusCompleted {
			completed = true
			if rec.QuizScore != nil {
				score = *rec.QuizScore
			}
		}
	}
	if !completed {
		writeError(w, http.StatusConflict, "module is not completed")
		return
	}

	proof, err := s.cfg.Issuer.GenerateProof(r.Context(), req.UserID, req.ModuleID, score)
	if err != nil {
		writeError(w, http.StatusBadGateway, "proof generation failed")
		slog.Error("proof generation failed", "user_id", req.UserID, "module_id", req.ModuleID, "error", err)
		return
	}
	cert, err := s.cfg.Issuer.Mint(r.Context(), proof, mod.CertificateLabel, mod.Skills)
	if err != nil {
		writeError(w, http.StatusBadGateway, "certificate mint failed")
		slog.Error("certificate mint failed", "user_id", req.UserID, "module_id", req.ModuleID, "error", err)
		return
	}

	if _, err := s.cfg.Store.AttachCertificate(r.Context(), req.UserID, req.ModuleID, cert.ID); err != nil {
		// The certificate exists on-chain either way; report it with a warning.
		slog.Warn("attaching certificate reference failed", "cert_id", cert.ID, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{
			"certificate": cert,
			"warnings":    []string{"certificate reference not attached to progress"},
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"certificate": cert})
}

func (s *Server) handleCertificateVerify(w http.ResponseWriter, r *http.Request) {
	cert, ok, err := s.cfg.Issuer.Verify(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadGateway, "verification failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "certificate not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"certificate": cert, "valid": true})
}

func (s *Server) handleInvoiceCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AmountSats int    `json:"amount_sats"`
		Memo       string `json:"memo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	inv, err := s.cfg.Lightning.CreateInvoice(r.Context(), req.AmountSats, req.Memo)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

func (s *Server) handleInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	inv, err := s.cfg.Lightning.InvoiceStatus(r.Context(), r.PathValue("hash"))
	if err != nil {
		writeError(w, http.StatusNotFound, "invoice not found")
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	for name, check := range s.cfg.ReadyChecks {
		if err := check(r.Context()); err != nil {
			slog.Warn("readiness check failed", "check", name, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"check":  name,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps store sentinel errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, progress.ErrModuleNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, progress.ErrModuleLocked):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, progress.ErrNotCompleted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, quiz.ErrNoQuestions):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
		slog.Error("store operation failed", "error", err)
	}
}

func schemaErrors(result *gojsonschema.Result) string {
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}
