package keyauth

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"keyauthcli/internal/security"
	"keyauthcli/internal/transport"
	"keyauthcli/pkg/contracts"
	api "keyauthcli/pkg/contracts/api/v1"
)

// Identity is the application a client authenticates as. It never changes after New.
type Identity struct {
	OwnerID string `validate:"required"`
	AppName string `validate:"required"`
	Secret  string `validate:"required"`
	Version string `validate:"required"`
}

// VersionString renders a numeric application version the way KeyAuth expects it
// (1 -> "1.0", 1.5 -> "1.5").
func VersionString(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if _, err := strconv.Atoi(s); err == nil {
		s += ".0"
	}
	return s
}

// Fingerprinter supplies the hardware id sent with login, register and blacklist calls
type Fingerprinter interface {
	HWID() (string, error)
}

// State is the session lifecycle position
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateAuthenticated
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type options struct {
	endpoint       string
	httpClient     *http.Client
	userAgent      string
	logger         *slog.Logger
	fingerprinter  Fingerprinter
	machineName    func() (string, error)
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	nonce          string
}

// Option configures a Client
type Option func(*options)

// WithEndpoint overrides the API URL
func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

// WithHTTPClient sets the HTTP client used for every request
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithUserAgent overrides the User-Agent header
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithLogger sets the logger. Without it the client logs nothing.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithFingerprinter replaces the default device fingerprint
func WithFingerprinter(f Fingerprinter) Option {
	return func(o *options) { o.fingerprinter = f }
}

// WithMachineNamer replaces the "<host>-<user>" lookup used by Log
func WithMachineNamer(fn func() (string, error)) Option {
	return func(o *options) { o.machineName = fn }
}

// WithMeterProvider sets the OpenTelemetry meter provider
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithTracerProvider sets the OpenTelemetry tracer provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// withNonce pins the session nonce
func withNonce(nonce string) Option {
	return func(o *options) { o.nonce = nonce }
}

// Client is one KeyAuth session.
// Operations are serialized; a call made while another runs returns ErrBusy.
type Client struct {
	identity      Identity
	nonce         string
	transport     *transport.Transport
	fingerprinter Fingerprinter
	machineName   func() (string, error)
	logger        *slog.Logger
	metrics       *Metrics
	tracer        trace.Tracer

	// slot admits one operation at a time
	slot *semaphore.Weighted

	// session state is written only by the slot holder;
	// mu makes accessor reads safe from other goroutines
	mu        sync.RWMutex
	sessionID string
	loggedIn  bool
}

var validate = validator.New()

// New validates identity and creates an uninitialized client
func New(identity Identity, opts ...Option) (*Client, error) {
	if err := validate.Struct(identity); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("%w: %s is required", ErrInvalidIdentity, verrs[0].Field())
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}

	o := options{
		endpoint:       api.DefaultEndpoint,
		userAgent:      contracts.UserAgent(),
		machineName:    security.MachineName,
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.fingerprinter == nil {
		o.fingerprinter = security.NewFingerprintManager(o.logger)
	}
	if o.nonce == "" {
		o.nonce = security.NewNonce()
	}

	metrics, err := NewMetrics(o.meterProvider.Meter(instrumentationName))
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	logger := o.logger.With(slog.String("component", "keyauth"), slog.String("app", identity.AppName))

	return &Client{
		identity: identity,
		nonce:    o.nonce,
		transport: transport.New(transport.Config{
			Endpoint:   o.endpoint,
			UserAgent:  o.userAgent,
			HTTPClient: o.httpClient,
			Logger:     logger,
		}, transport.Keys{Secret: identity.Secret, Nonce: o.nonce}),
		fingerprinter: o.fingerprinter,
		machineName:   o.machineName,
		logger:        logger,
		metrics:       metrics,
		tracer:        o.tracerProvider.Tracer(instrumentationName),
		slot:          semaphore.NewWeighted(1),
	}, nil
}

// AppName returns the application name
func (c *Client) AppName() string { return c.identity.AppName }

// OwnerID returns the owner id
func (c *Client) OwnerID() string { return c.identity.OwnerID }

// Version returns the application version sent at init
func (c *Client) Version() string { return c.identity.Version }

// Endpoint returns the API URL
func (c *Client) Endpoint() string { return c.transport.Endpoint() }

// SessionID returns the server-issued session token, empty before Initialize
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// LoggedIn reports whether a session check has confirmed a login
func (c *Client) LoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loggedIn
}

// State returns the lifecycle position
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.sessionID == "":
		return StateUninitialized
	case c.loggedIn:
		return StateAuthenticated
	default:
		return StateInitialized
	}
}

func (c *Client) setSession(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

func (c *Client) setLoggedIn() {
	c.mu.Lock()
	c.loggedIn = true
	c.mu.Unlock()
}
