// Package keyauthtest provides an in-process KeyAuth backend for tests and local demos.
//
// The server speaks the same form-encoded protocol as the real API and signs
// every response the way the real service does: the init response with the app
// secret and all later responses with nonce + "-" + secret. Overrides let a test
// force a status code, a raw body or a forged signature per request type.
package keyauthtest

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"keyauthcli/internal/security"
	api "keyauthcli/pkg/contracts/api/v1"
)

// App is the application the server accepts
type App struct {
	OwnerID string
	Name    string
	Secret  string
	Version string
	// DownloadURL is returned with invalidver
	DownloadURL string
}

// Override replaces the normal handling of one request type
type Override struct {
	// Status, when not 0 or 200, is written with an unsigned error body
	Status int
	// Body, when set, is sent verbatim instead of the computed response
	Body *string
	// Signature, when set, is sent instead of the computed signature
	Signature *string
}

// Request is a recorded inbound request
type Request struct {
	RequestID string
	Type      api.RequestType
	Form      url.Values
}

// LogEntry is a recorded log request
type LogEntry struct {
	SessionID string
	PCUser    string
	Message   string
}

type user struct {
	password string
	hwid     string
	banned   bool
}

type session struct {
	nonce     string
	username  string
	validated bool
}

type formRequest struct {
	Type      string `form:"type"`
	Version   string `form:"ver"`
	Name      string `form:"name"`
	OwnerID   string `form:"ownerid"`
	EncKey    string `form:"enckey"`
	Username  string `form:"username"`
	Password  string `form:"pass"`
	Key       string `form:"key"`
	HWID      string `form:"hwid"`
	SessionID string `form:"sessionid"`
	FileID    string `form:"fileid"`
	PCUser    string `form:"pcuser"`
	Message   string `form:"message"`
}

// Option configures a Server
type Option func(*Server)

// WithRateLimit rejects requests above r per second with 429
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(s *Server) {
		s.limiter = rate.NewLimiter(r, burst)
	}
}

// Server is a fake KeyAuth backend on an httptest.Server
type Server struct {
	app     App
	srv     *httptest.Server
	limiter *rate.Limiter

	mu        sync.Mutex
	users     map[string]*user
	licenses  map[string]bool
	files     map[string][]byte
	blacklist map[string]bool
	sessions  map[string]*session
	overrides map[api.RequestType]Override
	requests  []Request
	logs      []LogEntry
}

// NewServer starts a fake backend for app. Call Close when done.
func NewServer(app App, opts ...Option) *Server {
	s := &Server{
		app:       app,
		users:     make(map[string]*user),
		licenses:  make(map[string]bool),
		files:     make(map[string][]byte),
		blacklist: make(map[string]bool),
		sessions:  make(map[string]*session),
		overrides: make(map[api.RequestType]Override),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Use(s.rateLimit)
	r.Post(api.Path, s.handle)
	return r
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Endpoint returns the API URL to point a client at
func (s *Server) Endpoint() string {
	return s.srv.URL + api.Path
}

// Client returns an HTTP client wired to the server
func (s *Server) Client() *http.Client {
	return s.srv.Client()
}

// Close shuts the server down
func (s *Server) Close() {
	s.srv.Close()
}

// AddUser registers an account bound to hwid. An empty hwid binds on first login.
func (s *Server) AddUser(username, password, hwid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &user{password: password, hwid: hwid}
}

// AddLicense makes key redeemable by one register call
func (s *Server) AddLicense(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.licenses[key] = true
}

// AddFile stores contents under fileID
func (s *Server) AddFile(fileID string, contents []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[fileID] = contents
}

// Blacklist adds hwid to the blacklist
func (s *Server) Blacklist(hwid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist[hwid] = true
}

// IsBlacklisted reports whether hwid is blacklisted
func (s *Server) IsBlacklisted(hwid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blacklist[hwid]
}

// IsBanned reports whether username has been banned
func (s *Server) IsBanned(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	return ok && u.banned
}

// SetOverride replaces the handling of t until ClearOverride
func (s *Server) SetOverride(t api.RequestType, o Override) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[t] = o
}

// ClearOverride restores normal handling of t
func (s *Server) ClearOverride(t api.RequestType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, t)
}

// InvalidateSession marks a session as no longer logged in
func (s *Server) InvalidateSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.validated = false
	}
}

// Requests returns every request received so far
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestCount returns how many requests of type t were received
func (s *Server) RequestCount(t api.RequestType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Type == t {
			n++
		}
	}
	return n
}

// Logs returns the recorded log requests
func (s *Server) Logs() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.logs))
	copy(out, s.logs)
	return out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": err.Error()})
		return
	}
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": err.Error()})
		return
	}
	var req formRequest
	if err := render.DecodeForm(bytes.NewReader(raw), &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": err.Error()})
		return
	}

	reqType := api.RequestType(req.Type)
	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)

	s.mu.Lock()
	s.requests = append(s.requests, Request{RequestID: requestID, Type: reqType, Form: values})
	override, overridden := s.overrides[reqType]
	var resp map[string]any
	var key string
	if reqType == api.TypeInit {
		resp = s.initLocked(req)
		key = security.HandshakeKey(s.app.Secret)
	} else {
		resp = s.operationLocked(reqType, req)
		nonce := ""
		if sess, ok := s.sessions[req.SessionID]; ok {
			nonce = sess.nonce
		}
		key = security.SessionKey(nonce, s.app.Secret)
	}
	s.mu.Unlock()

	if overridden && override.Status != 0 && override.Status != http.StatusOK {
		render.Status(r, override.Status)
		render.JSON(w, r, map[string]string{"error": http.StatusText(override.Status)})
		return
	}

	body, err := json.Marshal(resp)
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": err.Error()})
		return
	}
	if overridden && override.Body != nil {
		body = []byte(*override.Body)
	}

	signature := security.Sign(key, body)
	if overridden && override.Signature != nil {
		signature = *override.Signature
	}

	w.Header().Set(api.SignatureHeader, signature)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func failure(message string) map[string]any {
	return map[string]any{api.RespSuccess: false, api.RespMessage: message}
}

func success(message string) map[string]any {
	return map[string]any{api.RespSuccess: true, api.RespMessage: message}
}

func (s *Server) initLocked(req formRequest) map[string]any {
	if req.Name != s.app.Name || req.OwnerID != s.app.OwnerID {
		return failure("Application not found.")
	}
	if req.Version != s.app.Version {
		resp := failure(api.InvalidVersionMessage)
		resp[api.RespDownload] = s.app.DownloadURL
		return resp
	}
	if req.EncKey == "" || len(req.EncKey) > security.MaxNonceLength {
		return failure("Invalid encryption key.")
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	s.sessions[id] = &session{nonce: req.EncKey}

	resp := success("Initialized")
	resp[api.RespSessionID] = id
	return resp
}

func (s *Server) operationLocked(t api.RequestType, req formRequest) map[string]any {
	if req.Name != s.app.Name || req.OwnerID != s.app.OwnerID {
		return failure("Application not found.")
	}
	sess, ok := s.sessions[req.SessionID]
	if !ok {
		return failure("Session not found.")
	}

	switch t {
	case api.TypeRegister:
		if _, exists := s.users[req.Username]; exists {
			return failure("Username already taken.")
		}
		if !s.licenses[req.Key] {
			return failure("Invalid license key.")
		}
		delete(s.licenses, req.Key)
		s.users[req.Username] = &user{password: req.Password, hwid: req.HWID}
		sess.username = req.Username
		sess.validated = true
		return s.loggedIn(req)

	case api.TypeLogin:
		u, exists := s.users[req.Username]
		if !exists {
			return failure("Username not found.")
		}
		if u.password != req.Password {
			return failure("Password does not match.")
		}
		if u.banned {
			return failure("The user is banned.")
		}
		if u.hwid == "" {
			u.hwid = req.HWID
		} else if u.hwid != req.HWID {
			return failure("HWID doesn't match.")
		}
		sess.username = req.Username
		sess.validated = true
		return s.loggedIn(req)

	case api.TypeCheck:
		if !sess.validated {
			return failure("Session is not validated.")
		}
		return success("Session is validated.")

	case api.TypeCheckBlacklist:
		if s.blacklist[req.HWID] {
			return success("Client is blacklisted")
		}
		return failure("Client is not blacklisted")

	case api.TypeFile:
		contents, exists := s.files[req.FileID]
		if !exists {
			return failure("File not Found")
		}
		resp := success("File download")
		resp[api.RespContents] = hex.EncodeToString(contents)
		return resp

	case api.TypeBan:
		if !sess.validated {
			return failure("Session is not validated.")
		}
		if u, exists := s.users[sess.username]; exists {
			u.banned = true
		}
		s.blacklist[req.HWID] = true
		sess.validated = false
		return success("Successfully Banned User")

	case api.TypeLog:
		s.logs = append(s.logs, LogEntry{SessionID: req.SessionID, PCUser: req.PCUser, Message: req.Message})
		return success("Logged")

	default:
		return failure("Unhandled Type")
	}
}

func (s *Server) loggedIn(req formRequest) map[string]any {
	resp := success("Logged in!")
	resp["info"] = map[string]any{
		"username": req.Username,
		"hwid":     req.HWID,
	}
	return resp
}
