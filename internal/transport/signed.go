package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"keyauthcli/internal/security"
	api "keyauthcli/pkg/contracts/api/v1"
)

// Phase selects the response signing key
type Phase int

const (
	// PhaseHandshake verifies with the raw app secret
	PhaseHandshake Phase = iota
	// PhaseSession verifies with nonce + "-" + secret
	PhaseSession
)

// String returns the phase name used in logs
func (p Phase) String() string {
	if p == PhaseHandshake {
		return "handshake"
	}
	return "session"
}

// Keys holds the material both signing keys are derived from
type Keys struct {
	Secret string
	Nonce  string
}

// For returns the signing key of phase
func (k Keys) For(phase Phase) string {
	if phase == PhaseHandshake {
		return security.HandshakeKey(k.Secret)
	}
	return security.SessionKey(k.Nonce, k.Secret)
}

// Config configures a Transport
type Config struct {
	Endpoint   string
	UserAgent  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Transport sends signed requests to one endpoint
type Transport struct {
	endpoint  string
	userAgent string
	client    *http.Client
	keys      Keys
	logger    *slog.Logger
}

// New creates a Transport. A nil HTTPClient gets a client with a 10 second timeout,
// a nil Logger discards everything.
func New(cfg Config, keys Keys) *Transport {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Transport{
		endpoint:  cfg.Endpoint,
		userAgent: cfg.UserAgent,
		client:    client,
		keys:      keys,
		logger:    logger.With(slog.String("component", "transport")),
	}
}

// Endpoint returns the URL requests are posted to
func (t *Transport) Endpoint() string {
	return t.endpoint
}

// Execute posts params and classifies the response. It blocks until the exchange
// completes or ctx is done and never retries.
func (t *Transport) Execute(ctx context.Context, params *Params, phase Phase) Result {
	start := time.Now()
	reqType := params.Type().String()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return t.fail(ctx, reqType, start, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return t.fail(ctx, reqType, start, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	// Logical failures arrive as 200; anything else is an infrastructure anomaly
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		t.logger.DebugContext(ctx, "KeyAuth request returned non-200 status",
			slog.String("type", reqType),
			slog.Int("status_code", resp.StatusCode),
			slog.Duration("duration", time.Since(start)),
		)
		return Result{Kind: NonSuccessStatus, StatusCode: resp.StatusCode}
	}

	signature := resp.Header.Get(api.SignatureHeader)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return t.fail(ctx, reqType, start, fmt.Errorf("failed to read response body: %w", err))
	}

	if len(body) > 0 {
		key := t.keys.For(phase)
		if !security.SignatureMatches(key, body, signature) {
			expected := security.Sign(key, body)
			t.logger.WarnContext(ctx, "KeyAuth response signature mismatch",
				slog.String("type", reqType),
				slog.String("phase", phase.String()),
				slog.Int("body_size", len(body)),
			)
			return Result{Kind: TamperedSignature, Received: signature, Expected: expected}
		}
	}

	t.logger.DebugContext(ctx, "KeyAuth request completed",
		slog.String("type", reqType),
		slog.String("phase", phase.String()),
		slog.Int("body_size", len(body)),
		slog.Duration("duration", time.Since(start)),
	)

	return Result{Kind: ValidPayload, Body: body}
}

func (t *Transport) fail(ctx context.Context, reqType string, start time.Time, err error) Result {
	t.logger.DebugContext(ctx, "KeyAuth request failed",
		slog.String("type", reqType),
		slog.String("error", err.Error()),
		slog.Duration("duration", time.Since(start)),
	)
	return Result{Kind: TransportFailure, Err: err}
}
