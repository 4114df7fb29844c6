package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Heartbeat producers sign requests instead of carrying user JWTs.
const (
	IngestTimestampHeader = "X-Ingest-Timestamp"
	IngestSignatureHeader = "X-Ingest-Signature"
	IngestDeviceHeader    = "X-Ingest-Device"
)

// SecretResolver looks up a device-scoped ingest secret from the device
// registry. A nil or empty result falls back to the shared secret.
type SecretResolver interface {
	IngestSecret(ctx context.Context, deviceID string) ([]byte, error)
}

// IngestAuthMiddleware authenticates heartbeat submissions with an
// HMAC-SHA256 signature over the unix timestamp and raw body, each on its own
// line. When the device header is present it prefixes the signed string and
// selects a per-device secret.
type IngestAuthMiddleware struct {
	secret   []byte
	maxSkew  time.Duration
	resolver SecretResolver
	now      func() time.Time
}

// IngestOption customizes the middleware.
type IngestOption func(*IngestAuthMiddleware)

// WithSecretResolver enables per-device secrets.
func WithSecretResolver(resolver SecretResolver) IngestOption {
	return func(m *IngestAuthMiddleware) {
		m.resolver = resolver
	}
}

// WithIngestClock overrides the skew clock.
func WithIngestClock(now func() time.Time) IngestOption {
	return func(m *IngestAuthMiddleware) {
		if now != nil {
			m.now = now
		}
	}
}

// NewIngestAuthMiddleware constructs ingest auth middleware.
func NewIngestAuthMiddleware(secret []byte, maxSkew time.Duration, opts ...IngestOption) *IngestAuthMiddleware {
	m := &IngestAuthMiddleware{secret: secret, maxSkew: maxSkew, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Wrap rejects unsigned or mis-signed requests with 401 before the ingest
// handler sees them. The body is restored for the next handler.
func (m *IngestAuthMiddleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body error", http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()

		if err := m.verify(r.Context(), r, body); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (m *IngestAuthMiddleware) verify(ctx context.Context, r *http.Request, body []byte) error {
	timestamp := r.Header.Get(IngestTimestampHeader)
	signature := r.Header.Get(IngestSignatureHeader)
	deviceID := r.Header.Get(IngestDeviceHeader)
	if timestamp == "" || signature == "" {
		return fmt.Errorf("%w: missing ingest signature", ErrUnauthorized)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid ingest timestamp", ErrUnauthorized)
	}
	skew := m.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if m.maxSkew > 0 && skew > m.maxSkew {
		return fmt.Errorf("%w: ingest signature expired", ErrUnauthorized)
	}

	secret, err := m.secretFor(ctx, deviceID)
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, secret)
	if deviceID != "" {
		mac.Write([]byte(deviceID))
		mac.Write([]byte("\n"))
	}
	mac.Write([]byte(timestamp))
	mac.Write([]byte("\n"))
	mac.Write(body)
	expected, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(expected, mac.Sum(nil)) {
		return fmt.Errorf("%w: invalid ingest signature", ErrUnauthorized)
	}
	return nil
}

func (m *IngestAuthMiddleware) secretFor(ctx context.Context, deviceID string) ([]byte, error) {
	if m.resolver != nil && deviceID != "" {
		secret, err := m.resolver.IngestSecret(ctx, deviceID)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve device secret: %v", ErrUnauthorized, err)
		}
		if len(secret) > 0 {
			return secret, nil
		}
	}
	if len(m.secret) == 0 {
		return nil, fmt.Errorf("%w: ingest auth not configured", ErrUnauthorized)
	}
	return m.secret, nil
}
