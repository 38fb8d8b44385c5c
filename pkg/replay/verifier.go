package replay

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignatureHeader carries the request signature token.
const SignatureHeader = "X-Planhub-Signature"

// RequestVerifier checks inbound signed requests before any business logic
// runs: HMAC signature, body digest, timestamp skew, and nonce single-use,
// in that order. It fails closed; any anomaly rejects the request.
type RequestVerifier struct {
	secret []byte
	nonces NonceStore
	events *SecurityEventStore
	ttl    time.Duration
	logger *slog.Logger
}

// NewRequestVerifier creates a verifier using the configured shared secret
// and nonce TTL.
func NewRequestVerifier(cfg *Config, nonces NonceStore, events *SecurityEventStore, logger *slog.Logger) *RequestVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.NonceTTL
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	return &RequestVerifier{
		secret: []byte(cfg.Secret),
		nonces: nonces,
		events: events,
		ttl:    ttl,
		logger: logger,
	}
}

// Verify checks the request signature and consumes its nonce. The request
// body is read and restored so downstream handlers can decode it again.
func (v *RequestVerifier) Verify(r *http.Request) error {
	ctx := r.Context()

	token := r.Header.Get(SignatureHeader)
	if token == "" {
		v.events.Emit(ctx, EventSigMismatch, SeverityMismatch, map[string]any{
			"reason": "missing signature header",
		})
		return ErrSignatureMismatch
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		v.events.Emit(ctx, EventSigMismatch, SeverityMismatch, map[string]any{
			"reason": "signature verification failed",
		})
		return ErrSignatureMismatch
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		v.events.Emit(ctx, EventSigMismatch, SeverityMismatch, map[string]any{
			"reason": "unexpected claims shape",
		})
		return ErrSignatureMismatch
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	digest := sha256.Sum256(body)
	claimed, _ := claims["bodySha256"].(string)
	if !hmac.Equal([]byte(claimed), []byte(hex.EncodeToString(digest[:]))) {
		v.events.Emit(ctx, EventSigMismatch, SeverityMismatch, map[string]any{
			"reason": "body digest does not match signature",
		})
		return ErrSignatureMismatch
	}

	issuedAt, err := claims.GetIssuedAt()
	if err != nil || issuedAt == nil {
		v.events.Emit(ctx, EventSigMismatch, SeverityMismatch, map[string]any{
			"reason": "missing issued-at claim",
		})
		return ErrSignatureMismatch
	}

	// The token's own signature segment is the nonce: two requests can
	// only share it by sharing the exact signed payload.
	nonce := token[strings.LastIndexByte(token, '.')+1:]
	return v.nonces.CheckAndRecord(ctx, nonce, issuedAt.Time, v.ttl)
}

// SignRequest produces the signature token for a request body, issued now.
// Shared by the CLI and by tests; servers only verify.
func SignRequest(secret []byte, body []byte, issuedAt time.Time, nonceID string) (string, error) {
	digest := sha256.Sum256(body)
	claims := jwt.MapClaims{
		"iat":        jwt.NewNumericDate(issuedAt),
		"jti":        nonceID,
		"bodySha256": hex.EncodeToString(digest[:]),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}
	return signed, nil
}
