package stub

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/config"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/model"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/signing"
)

type contextKey string

const (
	contextKeyCorrelationID contextKey = "correlationId"

	headerContentType   = "Content-Type"
	headerCorrelationID = "X-Correlation-Id"

	contentTypeJSON = "application/json"
)

// Handler wires the stub's HTTP endpoints using net/http.
type Handler struct {
	cfg    config.StubConfig
	store  Store
	logger *slog.Logger
	signer ed25519.PrivateKey
	clock  func() time.Time
	router *http.ServeMux
}

// New creates a Handler using the supplied dependencies. When the config
// carries no JWT signing key an ephemeral one is generated, which is fine
// for a stub whose tokens never outlive the process.
func New(cfg config.StubConfig, store Store, logger *slog.Logger) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	signer := ed25519.PrivateKey(cfg.JWTPrivateKey)
	if len(signer) == 0 {
		_, generated, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral jwt key: %w", err)
		}
		signer = generated
	}
	if len(signer) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("jwt signing key must be %d bytes", ed25519.PrivateKeySize)
	}
	h := &Handler{
		cfg:    cfg,
		store:  store,
		logger: logger,
		signer: signer,
		clock:  func() time.Time { return time.Now().UTC() },
		router: http.NewServeMux(),
	}
	h.registerRoutes()
	return h, nil
}

// Router returns the mux with all routes registered.
func (h *Handler) Router() *http.ServeMux {
	return h.router
}

func (h *Handler) registerRoutes() {
	h.router.Handle("/health", h.loggingMiddleware(http.HandlerFunc(h.health)))
	h.router.Handle("/metrics", h.loggingMiddleware(http.HandlerFunc(h.metricsHandler)))

	h.router.Handle("/v1/identity", h.loggingMiddleware(h.timeoutMiddleware(h.wrap(h.handleIdentityRegister))))

	h.router.Handle("/v1/session/nonce", h.loggingMiddleware(h.timeoutMiddleware(h.wrap(h.handleSessionNonce))))
	h.router.Handle("/v1/session/issue", h.loggingMiddleware(h.timeoutMiddleware(h.wrap(h.handleSessionIssue))))

	h.router.Handle("/v1/repo/record", h.loggingMiddleware(h.timeoutMiddleware(h.wrap(h.handleRecordCreate))))
	h.router.Handle("/v1/repo/listRecords", h.loggingMiddleware(h.timeoutMiddleware(h.wrap(h.handleListRecords))))

	h.router.Handle("/v1/media/uploadInit", h.loggingMiddleware(h.timeoutMiddleware(h.wrap(h.handleUploadInit))))
	h.router.Handle("/v1/media/upload/", h.loggingMiddleware(h.timeoutMiddleware(h.wrap(h.handleUploadPut))))
	h.router.Handle("/v1/media/finalize/", h.loggingMiddleware(h.timeoutMiddleware(h.wrap(h.handleUploadFinalize))))

	h.router.Handle("/v1/feed/following", h.loggingMiddleware(h.timeoutMiddleware(h.wrap(h.handleFeedFollowing))))
	h.router.Handle("/v1/feed/author", h.loggingMiddleware(h.timeoutMiddleware(h.wrap(h.handleFeedAuthor))))
	h.router.Handle("/v1/search", h.loggingMiddleware(h.timeoutMiddleware(h.wrap(h.handleSearch))))
	h.router.Handle("/v1/profile", h.loggingMiddleware(h.timeoutMiddleware(h.wrap(h.handleProfile))))
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) wrap(next func(http.ResponseWriter, *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := h.ensureCorrelationID(w, r)
		ctx := context.WithValue(r.Context(), contextKeyCorrelationID, correlationID)
		r = r.WithContext(ctx)

		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered", "panic", rec, "correlationId", correlationID)
				h.writeError(w, http.StatusInternalServerError, "STUB_INTERNAL", "internal server error", correlationID)
			}
		}()

		next(w, r)
	})
}

func (h *Handler) ensureCorrelationID(w http.ResponseWriter, r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(headerCorrelationID))
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(headerCorrelationID, id)
	return id
}

func (h *Handler) handleIdentityRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorWithRequest(w, r, http.StatusMethodNotAllowed, "STUB_VALIDATION", "method not allowed")
		return
	}
	var input model.RegisterIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", "invalid JSON body")
		return
	}
	pub, err := base64.StdEncoding.DecodeString(input.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize || input.DID == "" {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", "did and a base64 ed25519 publicKey are required")
		return
	}

	createdAt := h.clock().Format(time.RFC3339)
	err = h.store.RegisterIdentity(r.Context(), IdentityRecord{DID: input.DID, PublicKey: pub, CreatedAt: createdAt})
	if errors.Is(err, ErrConflict) {
		// Re-registration of the same key is idempotent for the stub.
		h.writeJSON(w, http.StatusOK, map[string]any{"did": input.DID, "createdAt": createdAt})
		return
	}
	if err != nil {
		h.writeErrorWithRequest(w, r, http.StatusInternalServerError, "STUB_INTERNAL", "failed to persist identity")
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"did": input.DID, "createdAt": createdAt})
	h.logger.Info("identity registered", "did", input.DID, "correlationId", correlationIDFrom(r.Context()))
}

func (h *Handler) handleSessionNonce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorWithRequest(w, r, http.StatusMethodNotAllowed, "STUB_VALIDATION", "method not allowed")
		return
	}
	var input model.NonceRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", "invalid JSON body")
		return
	}
	if input.DID == "" || input.Audience == "" {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", "did and aud are required")
		return
	}
	if _, err := h.store.GetIdentity(r.Context(), input.DID); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeErrorWithRequest(w, r, http.StatusNotFound, "STUB_NOT_FOUND", "identity not found")
			return
		}
		h.writeErrorWithRequest(w, r, http.StatusInternalServerError, "STUB_INTERNAL", "identity lookup failed")
		return
	}

	nonceValue := generateNonce()
	expires := h.clock().Add(h.cfg.NonceTTL)
	err := h.store.PutNonce(r.Context(), Nonce{
		Value:     nonceValue,
		DID:       input.DID,
		Audience:  input.Audience,
		ExpiresAt: expires,
	})
	if err != nil {
		h.writeErrorWithRequest(w, r, http.StatusInternalServerError, "STUB_INTERNAL", "failed to persist nonce")
		return
	}
	nonceIssued.Inc()

	h.writeJSON(w, http.StatusOK, model.NonceChallenge{
		Nonce:     nonceValue,
		ExpiresAt: expires.Format(time.RFC3339),
	})
	h.logger.Info("session nonce issued", "did", input.DID, "aud", input.Audience, "correlationId", correlationIDFrom(r.Context()))
}

func (h *Handler) handleSessionIssue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorWithRequest(w, r, http.StatusMethodNotAllowed, "STUB_VALIDATION", "method not allowed")
		return
	}
	var input model.IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", "invalid JSON body")
		return
	}

	nonce, err := h.store.ConsumeNonce(r.Context(), input.Nonce, h.clock())
	if err != nil {
		h.writeErrorWithRequest(w, r, http.StatusUnauthorized, "STUB_AUTHZ", "nonce invalid or expired")
		return
	}
	if input.DID != nonce.DID || input.Audience != nonce.Audience {
		h.writeErrorWithRequest(w, r, http.StatusUnauthorized, "STUB_AUTHZ", "nonce binding mismatch")
		return
	}

	identity, err := h.store.GetIdentity(r.Context(), nonce.DID)
	if err != nil {
		h.writeErrorWithRequest(w, r, http.StatusUnauthorized, "STUB_AUTHZ", "identity lookup failed")
		return
	}
	sig, err := base64.StdEncoding.DecodeString(input.Signature)
	if err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", "signature must be base64")
		return
	}
	message := signing.SessionChallenge(input.Nonce, input.Audience, input.DID)
	if ok, err := signing.Verify(message, sig, identity.PublicKey); err != nil || !ok {
		h.writeErrorWithRequest(w, r, http.StatusUnauthorized, "STUB_AUTHZ", "signature verification failed")
		return
	}

	issuedAt := h.clock()
	expires := issuedAt.Add(h.cfg.SessionTTL)
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodEdDSA, jwtlib.MapClaims{
		"sub": nonce.DID,
		"aud": nonce.Audience,
		"iss": h.cfg.JWTIssuer,
		"iat": issuedAt.Unix(),
		"exp": expires.Unix(),
	})
	signedToken, err := token.SignedString(h.signer)
	if err != nil {
		h.writeErrorWithRequest(w, r, http.StatusInternalServerError, "STUB_INTERNAL", "failed to sign jwt")
		return
	}
	sessionIssued.Inc()

	h.writeJSON(w, http.StatusOK, model.IssueResponse{
		JWT:      signedToken,
		Expiry:   expires.Format(time.RFC3339),
		Audience: nonce.Audience,
		Subject:  nonce.DID,
	})
	h.logger.Info("session issued", "did", nonce.DID, "aud", nonce.Audience, "correlationId", correlationIDFrom(r.Context()))
}

func (h *Handler) handleRecordCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorWithRequest(w, r, http.StatusMethodNotAllowed, "STUB_VALIDATION", "method not allowed")
		return
	}
	var rec model.SignedContentRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", "invalid JSON body")
		return
	}
	if rec.Text == "" || rec.AuthorDID == "" {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", "text and authorDid are required")
		return
	}
	// The stub rejects records whose signature does not verify; a real CDV
	// service does the same check on ingest.
	if ok, err := signing.Verify([]byte(rec.Text), rec.Signature, rec.PublicKey); err != nil || !ok {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", "record signature does not verify")
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt == "" {
		rec.CreatedAt = h.clock().Format(time.RFC3339)
	}
	if err := h.store.AppendRecord(r.Context(), rec); err != nil {
		h.writeErrorWithRequest(w, r, http.StatusInternalServerError, "STUB_INTERNAL", "failed to persist record")
		return
	}
	recordCreated.Inc()

	h.writeJSON(w, http.StatusCreated, model.CreateRecordResponse{
		URI:       "at://" + rec.AuthorDID + "/app.ra.feed.post/" + rec.ID,
		CID:       rec.ID,
		IndexedAt: h.clock().Format(time.RFC3339),
	})
	h.logger.Info("record created", "id", rec.ID, "did", rec.AuthorDID, "correlationId", correlationIDFrom(r.Context()))
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeErrorWithRequest(w, r, http.StatusMethodNotAllowed, "STUB_VALIDATION", "method not allowed")
		return
	}
	q, err := queryFromRequest(r)
	if err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", err.Error())
		return
	}
	if q.DID == "" {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", "did is required")
		return
	}
	h.writePage(w, r, q)
}

func (h *Handler) handleUploadInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorWithRequest(w, r, http.StatusMethodNotAllowed, "STUB_VALIDATION", "method not allowed")
		return
	}
	var input model.UploadInitRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", "invalid JSON body")
		return
	}
	if input.MimeType == "" || input.Size < 0 {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", "mimeType and a non-negative size are required")
		return
	}

	id := uuid.NewString()
	if err := h.store.CreateUpload(r.Context(), Upload{ID: id, MimeType: input.MimeType, Size: input.Size}); err != nil {
		h.writeErrorWithRequest(w, r, http.StatusInternalServerError, "STUB_INTERNAL", "failed to create upload")
		return
	}

	h.writeJSON(w, http.StatusOK, model.UploadInitResponse{
		UploadURL:   "/v1/media/upload/" + id,
		FinalizeURL: "/v1/media/finalize/" + id,
	})
}

func (h *Handler) handleUploadPut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		h.writeErrorWithRequest(w, r, http.StatusMethodNotAllowed, "STUB_VALIDATION", "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/media/upload/")
	data, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", "failed to read upload body")
		return
	}
	if err := h.store.PutUploadData(r.Context(), id, data); err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeErrorWithRequest(w, r, http.StatusNotFound, "STUB_NOT_FOUND", "unknown upload")
			return
		}
		h.writeErrorWithRequest(w, r, http.StatusInternalServerError, "STUB_INTERNAL", "failed to store upload")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleUploadFinalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErrorWithRequest(w, r, http.StatusMethodNotAllowed, "STUB_VALIDATION", "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/media/finalize/")
	var input model.FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", "invalid JSON body")
		return
	}

	up, err := h.store.FinalizeUpload(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeErrorWithRequest(w, r, http.StatusNotFound, "STUB_NOT_FOUND", "unknown upload")
			return
		}
		h.writeErrorWithRequest(w, r, http.StatusInternalServerError, "STUB_INTERNAL", "failed to finalize upload")
		return
	}

	// The content identifier is the server's own digest of the received
	// bytes; the client compares it against its local one.
	digest := sha256.Sum256(up.Data)
	mediaFinalized.Inc()
	h.writeJSON(w, http.StatusOK, model.FinalizeResponse{
		CID:      hex.EncodeToString(digest[:]),
		MimeType: up.MimeType,
		Size:     int64(len(up.Data)),
	})
	h.logger.Info("media finalized", "id", id, "clientChecksum", input.Checksum, "correlationId", correlationIDFrom(r.Context()))
}

func (h *Handler) handleFeedFollowing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeErrorWithRequest(w, r, http.StatusMethodNotAllowed, "STUB_VALIDATION", "method not allowed")
		return
	}
	// The stub has no follow graph; the following feed is every record.
	q, err := queryFromRequest(r)
	if err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", err.Error())
		return
	}
	q.DID = ""
	h.writePage(w, r, q)
}

func (h *Handler) handleFeedAuthor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeErrorWithRequest(w, r, http.StatusMethodNotAllowed, "STUB_VALIDATION", "method not allowed")
		return
	}
	q, err := queryFromRequest(r)
	if err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", err.Error())
		return
	}
	if q.DID == "" {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", "did is required")
		return
	}
	h.writePage(w, r, q)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeErrorWithRequest(w, r, http.StatusMethodNotAllowed, "STUB_VALIDATION", "method not allowed")
		return
	}
	q, err := queryFromRequest(r)
	if err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", err.Error())
		return
	}
	q.Text = strings.TrimSpace(r.URL.Query().Get("q"))
	if q.Text == "" {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", "q is required")
		return
	}
	h.writePage(w, r, q)
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeErrorWithRequest(w, r, http.StatusMethodNotAllowed, "STUB_VALIDATION", "method not allowed")
		return
	}
	did := strings.TrimSpace(r.URL.Query().Get("did"))
	if did == "" {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", "did is required")
		return
	}

	// Profile is an aggregate over the author's records.
	count := 0
	firstSeen := ""
	cursor := ""
	for {
		items, next, err := h.store.ListRecords(r.Context(), RecordQuery{DID: did, Cursor: cursor, Limit: defaultPageLimit})
		if err != nil {
			h.writeErrorWithRequest(w, r, http.StatusInternalServerError, "STUB_INTERNAL", "record scan failed")
			return
		}
		for _, rec := range items {
			if firstSeen == "" || rec.CreatedAt < firstSeen {
				firstSeen = rec.CreatedAt
			}
		}
		count += len(items)
		if next == "" {
			break
		}
		cursor = next
	}

	h.writeJSON(w, http.StatusOK, model.Profile{DID: did, PostCount: count, FirstSeen: firstSeen})
}

// writePage runs a record query and writes the page in the listing shape.
func (h *Handler) writePage(w http.ResponseWriter, r *http.Request, q RecordQuery) {
	items, next, err := h.store.ListRecords(r.Context(), q)
	if err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "STUB_VALIDATION", err.Error())
		return
	}
	if items == nil {
		items = []model.SignedContentRecord{}
	}
	h.writeJSON(w, http.StatusOK, model.RecordPage{Items: items, NextCursor: next})
}

// queryFromRequest extracts the shared listing parameters.
func queryFromRequest(r *http.Request) (RecordQuery, error) {
	values := r.URL.Query()
	q := RecordQuery{
		DID:    strings.TrimSpace(values.Get("did")),
		Cursor: strings.TrimSpace(values.Get("cursor")),
		Since:  strings.TrimSpace(values.Get("since")),
		Until:  strings.TrimSpace(values.Get("until")),
	}
	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return RecordQuery{}, fmt.Errorf("limit %q is not a positive integer", raw)
		}
		q.Limit = n
	}
	return q, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("write response failed", "error", err)
	}
}

func (h *Handler) writeErrorWithRequest(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeError(w, status, code, message, correlationIDFrom(r.Context()))
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)
	env := errorEnvelope{Error: errorBody{Code: code, Message: message, CorrelationID: correlationID}}
	if err := json.NewEncoder(w).Encode(env); err != nil {
		h.logger.Warn("write error failed", "error", err, "correlationId", correlationID)
	}
}

// generateNonce creates a 256-bit random nonce encoded as unpadded
// URL-safe base64.
func generateNonce() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

func correlationIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyCorrelationID).(string); ok {
		return v
	}
	return ""
}
