package keyauth_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"keyauthcli/internal/security"
	"keyauthcli/internal/shared/testutil"
	api "keyauthcli/pkg/contracts/api/v1"
	"keyauthcli/pkg/keyauth"
	"keyauthcli/pkg/keyauth/keyauthtest"
)

var testApp = keyauthtest.App{
	OwnerID:     "Xk2pQ9aZ1b",
	Name:        "demo-app",
	Secret:      "4f0c3a1e9b7d6c5a4f0c3a1e9b7d6c5a4f0c3a1e9b7d6c5a",
	Version:     "1.0",
	DownloadURL: "https://example.com/demo-app/latest",
}

const testHWID = "S-1-5-21-3623811015-3361044348-30300820-1013"

type fixedHWID string

func (f fixedHWID) HWID() (string, error) { return string(f), nil }

type mockFingerprinter struct {
	mock.Mock
}

func (m *mockFingerprinter) HWID() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func str(s string) *string { return &s }

func newServer(t *testing.T) *keyauthtest.Server {
	t.Helper()
	srv := keyauthtest.NewServer(testApp)
	t.Cleanup(srv.Close)
	return srv
}

func identity() keyauth.Identity {
	return keyauth.Identity{
		OwnerID: testApp.OwnerID,
		AppName: testApp.Name,
		Secret:  testApp.Secret,
		Version: testApp.Version,
	}
}

func newClient(t *testing.T, srv *keyauthtest.Server, opts ...keyauth.Option) *keyauth.Client {
	t.Helper()
	base := []keyauth.Option{
		keyauth.WithEndpoint(srv.Endpoint()),
		keyauth.WithHTTPClient(srv.Client()),
		keyauth.WithFingerprinter(fixedHWID(testHWID)),
		keyauth.WithMachineNamer(func() (string, error) { return "build-box-alice", nil }),
	}
	c, err := keyauth.New(identity(), append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func initialized(t *testing.T, srv *keyauthtest.Server, opts ...keyauth.Option) *keyauth.Client {
	t.Helper()
	c := newClient(t, srv, opts...)
	out := c.Initialize(context.Background())
	require.Equal(t, keyauth.KindCompleted, out.Kind, out.Message)
	return c
}

func loggedIn(t *testing.T, srv *keyauthtest.Server, opts ...keyauth.Option) *keyauth.Client {
	t.Helper()
	srv.AddUser("alice", "hunter2", testHWID)
	c := initialized(t, srv, opts...)
	out := c.Login(context.Background(), "alice", "hunter2")
	require.Equal(t, keyauth.KindSuccess, out.Kind, out.Message)
	require.True(t, c.LoggedIn())
	return c
}

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*keyauth.Identity)
		field  string
	}{
		{"missing owner id", func(id *keyauth.Identity) { id.OwnerID = "" }, "OwnerID"},
		{"missing app name", func(id *keyauth.Identity) { id.AppName = "" }, "AppName"},
		{"missing secret", func(id *keyauth.Identity) { id.Secret = "" }, "Secret"},
		{"missing version", func(id *keyauth.Identity) { id.Version = "" }, "Version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := identity()
			tt.mutate(&id)

			c, err := keyauth.New(id)
			require.Error(t, err)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, keyauth.ErrInvalidIdentity)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	t.Run("complete identity", func(t *testing.T) {
		c, err := keyauth.New(identity())
		require.NoError(t, err)
		assert.Equal(t, testApp.Name, c.AppName())
		assert.Equal(t, testApp.OwnerID, c.OwnerID())
		assert.Equal(t, testApp.Version, c.Version())
		assert.Equal(t, api.DefaultEndpoint, c.Endpoint())
		assert.Equal(t, keyauth.StateUninitialized, c.State())
		assert.Empty(t, c.SessionID())
		assert.False(t, c.LoggedIn())
	})
}

func TestVersionString(t *testing.T) {
	assert.Equal(t, "1.0", keyauth.VersionString(1))
	assert.Equal(t, "1.5", keyauth.VersionString(1.5))
	assert.Equal(t, "2.25", keyauth.VersionString(2.25))
	assert.Equal(t, "0.0", keyauth.VersionString(0))
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()

	t.Run("stores the session token", func(t *testing.T) {
		srv := newServer(t)
		c := newClient(t, srv)

		out := c.Initialize(ctx)

		require.Equal(t, keyauth.KindCompleted, out.Kind)
		assert.NoError(t, out.Err())
		assert.NotEmpty(t, c.SessionID())
		assert.Equal(t, keyauth.StateInitialized, c.State())
		assert.False(t, c.LoggedIn())

		reqs := srv.Requests()
		require.Len(t, reqs, 1)
		form := reqs[0].Form
		assert.Equal(t, "init", form.Get("type"))
		assert.Equal(t, testApp.Version, form.Get("ver"))
		assert.Equal(t, testApp.Name, form.Get("name"))
		assert.Equal(t, testApp.OwnerID, form.Get("ownerid"))
		assert.Len(t, form.Get("enckey"), security.MaxNonceLength)
		assert.False(t, form.Has("sessionid"))
	})

	t.Run("second call is a no-op", func(t *testing.T) {
		srv := newServer(t)
		c := initialized(t, srv)
		id := c.SessionID()

		out := c.Initialize(ctx)

		assert.Equal(t, keyauth.KindCompleted, out.Kind)
		assert.Equal(t, id, c.SessionID())
		assert.Equal(t, 1, srv.RequestCount(api.TypeInit))
	})

	t.Run("outdated version requires an update", func(t *testing.T) {
		srv := newServer(t)
		id := identity()
		id.Version = "0.9"
		c, err := keyauth.New(id,
			keyauth.WithEndpoint(srv.Endpoint()),
			keyauth.WithHTTPClient(srv.Client()),
		)
		require.NoError(t, err)

		out := c.Initialize(ctx)

		require.Equal(t, keyauth.KindUpdateRequired, out.Kind)
		assert.Equal(t, testApp.DownloadURL, out.DownloadURL)
		assert.ErrorIs(t, out.Err(), keyauth.ErrUpdateRequired)
		assert.Empty(t, c.SessionID())
		assert.Equal(t, keyauth.StateUninitialized, c.State())
	})

	t.Run("version marker is matched case-insensitively", func(t *testing.T) {
		srv := newServer(t)
		srv.SetOverride(api.TypeInit, keyauthtest.Override{
			Body: str(`{"success":false,"message":"InvalidVer","download":"https://example.com/dl"}`),
		})
		c := newClient(t, srv)

		out := c.Initialize(ctx)

		require.Equal(t, keyauth.KindUpdateRequired, out.Kind)
		assert.Equal(t, "https://example.com/dl", out.DownloadURL)
	})

	t.Run("logical failure", func(t *testing.T) {
		srv := newServer(t)
		id := identity()
		id.AppName = "someone-else"
		c, err := keyauth.New(id, keyauth.WithEndpoint(srv.Endpoint()), keyauth.WithHTTPClient(srv.Client()))
		require.NoError(t, err)

		out := c.Initialize(ctx)

		require.Equal(t, keyauth.KindLogicalFailure, out.Kind)
		assert.Equal(t, "Application not found.", out.Message)
		var serverErr *keyauth.ServerError
		require.ErrorAs(t, out.Err(), &serverErr)
		assert.Equal(t, api.TypeInit, serverErr.Op)
		assert.Empty(t, c.SessionID())
	})

	t.Run("tampered signature", func(t *testing.T) {
		srv := newServer(t)
		srv.SetOverride(api.TypeInit, keyauthtest.Override{Signature: str("00ff")})
		c := newClient(t, srv)

		out := c.Initialize(ctx)

		require.Equal(t, keyauth.KindTampered, out.Kind)
		assert.ErrorIs(t, out.Err(), keyauth.ErrTampered)
		assert.Contains(t, out.Message, "00ff")
		assert.Empty(t, c.SessionID())
	})

	t.Run("non-200 status", func(t *testing.T) {
		srv := newServer(t)
		srv.SetOverride(api.TypeInit, keyauthtest.Override{Status: http.StatusServiceUnavailable})
		c := newClient(t, srv)

		out := c.Initialize(ctx)

		require.Equal(t, keyauth.KindNonSuccessStatus, out.Kind)
		assert.Equal(t, http.StatusServiceUnavailable, out.StatusCode)
		assert.ErrorIs(t, out.Err(), keyauth.ErrNonSuccessStatus)
	})

	t.Run("empty body skips verification but is malformed", func(t *testing.T) {
		srv := newServer(t)
		srv.SetOverride(api.TypeInit, keyauthtest.Override{Body: str(""), Signature: str("not-a-signature")})
		c := newClient(t, srv)

		out := c.Initialize(ctx)

		require.Equal(t, keyauth.KindMalformedResponse, out.Kind)
		assert.ErrorIs(t, out.Err(), keyauth.ErrMalformedResponse)
		assert.Empty(t, c.SessionID())
	})

	t.Run("missing session id is malformed", func(t *testing.T) {
		srv := newServer(t)
		srv.SetOverride(api.TypeInit, keyauthtest.Override{Body: str(`{"success":true,"message":"Initialized"}`)})
		c := newClient(t, srv)

		out := c.Initialize(ctx)

		assert.Equal(t, keyauth.KindMalformedResponse, out.Kind)
		assert.Empty(t, c.SessionID())
	})

	t.Run("transport failure", func(t *testing.T) {
		srv := keyauthtest.NewServer(testApp)
		endpoint, client := srv.Endpoint(), srv.Client()
		srv.Close()
		c, err := keyauth.New(identity(), keyauth.WithEndpoint(endpoint), keyauth.WithHTTPClient(client))
		require.NoError(t, err)

		out := c.Initialize(ctx)

		require.Equal(t, keyauth.KindTransportFailure, out.Kind)
		assert.ErrorIs(t, out.Err(), keyauth.ErrTransport)
		assert.Error(t, out.Cause)
	})

	t.Run("rate limited by the server", func(t *testing.T) {
		srv := keyauthtest.NewServer(testApp, keyauthtest.WithRateLimit(0, 0))
		t.Cleanup(srv.Close)
		c := newClient(t, srv)

		out := c.Initialize(ctx)

		assert.Equal(t, keyauth.KindNonSuccessStatus, out.Kind)
		assert.Equal(t, http.StatusTooManyRequests, out.StatusCode)
	})
}

func TestPreconditionsBeforeInitialize(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		call func(*keyauth.Client) keyauth.Outcome
	}{
		{"register", func(c *keyauth.Client) keyauth.Outcome { return c.Register(ctx, "alice", "hunter2", "KEY-1") }},
		{"login", func(c *keyauth.Client) keyauth.Outcome { return c.Login(ctx, "alice", "hunter2") }},
		{"check", func(c *keyauth.Client) keyauth.Outcome { return c.CheckSession(ctx) }},
		{"blacklist", func(c *keyauth.Client) keyauth.Outcome { return c.CheckBlacklist(ctx) }},
		{"download", func(c *keyauth.Client) keyauth.Outcome {
			out, err := c.Download(ctx, "123456", io.Discard)
			assert.NoError(t, err)
			return out
		}},
		{"ban", func(c *keyauth.Client) keyauth.Outcome { return c.Ban(ctx) }},
		{"log", func(c *keyauth.Client) keyauth.Outcome { return c.Log(ctx, "hello") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t)
			c := newClient(t, srv)

			out := tt.call(c)

			assert.Equal(t, keyauth.KindPrecondition, out.Kind)
			assert.Equal(t, "not initialized", out.Message)
			assert.ErrorIs(t, out.Err(), keyauth.ErrNotInitialized)
			assert.Empty(t, srv.Requests())
		})
	}
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("success runs the session check", func(t *testing.T) {
		srv := newServer(t)
		srv.AddUser("alice", "hunter2", testHWID)
		c := initialized(t, srv)

		out := c.Login(ctx, "alice", "hunter2")

		require.Equal(t, keyauth.KindSuccess, out.Kind)
		assert.Equal(t, "Logged in!", out.Message)
		require.NotNil(t, out.Payload)
		assert.True(t, out.Payload.Has("info"))
		require.NotNil(t, out.Revalidation)
		assert.Equal(t, keyauth.KindCompleted, out.Revalidation.Kind)
		assert.Equal(t, api.TypeCheck, out.Revalidation.Op)
		assert.True(t, c.LoggedIn())
		assert.Equal(t, keyauth.StateAuthenticated, c.State())
		assert.Equal(t, 1, srv.RequestCount(api.TypeLogin))
		assert.Equal(t, 1, srv.RequestCount(api.TypeCheck))

		login := srv.Requests()[1].Form
		assert.Equal(t, "alice", login.Get("username"))
		assert.Equal(t, "hunter2", login.Get("pass"))
		assert.Equal(t, testHWID, login.Get("hwid"))
		assert.Equal(t, c.SessionID(), login.Get("sessionid"))
	})

	t.Run("already logged in", func(t *testing.T) {
		srv := newServer(t)
		c := loggedIn(t, srv)

		out := c.Login(ctx, "alice", "hunter2")

		assert.Equal(t, keyauth.KindPrecondition, out.Kind)
		assert.ErrorIs(t, out.Err(), keyauth.ErrAlreadyLoggedIn)
		assert.Equal(t, 1, srv.RequestCount(api.TypeLogin))
	})

	t.Run("wrong password", func(t *testing.T) {
		srv := newServer(t)
		srv.AddUser("alice", "hunter2", testHWID)
		c := initialized(t, srv)

		out := c.Login(ctx, "alice", "wrong")

		require.Equal(t, keyauth.KindLogicalFailure, out.Kind)
		assert.Equal(t, "Password does not match.", out.Message)
		assert.Nil(t, out.Revalidation)
		assert.False(t, c.LoggedIn())
		assert.Zero(t, srv.RequestCount(api.TypeCheck))
	})

	t.Run("hwid mismatch", func(t *testing.T) {
		srv := newServer(t)
		srv.AddUser("alice", "hunter2", "another-machine")
		c := initialized(t, srv)

		out := c.Login(ctx, "alice", "hunter2")

		assert.Equal(t, keyauth.KindLogicalFailure, out.Kind)
		assert.Equal(t, "HWID doesn't match.", out.Message)
	})

	t.Run("failed session check leaves the client logged out", func(t *testing.T) {
		srv := newServer(t)
		srv.AddUser("alice", "hunter2", testHWID)
		c := initialized(t, srv)
		srv.SetOverride(api.TypeCheck, keyauthtest.Override{
			Body: str(`{"success":false,"message":"Session is not validated."}`),
		})

		out := c.Login(ctx, "alice", "hunter2")

		require.Equal(t, keyauth.KindSuccess, out.Kind)
		require.NotNil(t, out.Revalidation)
		assert.Equal(t, keyauth.KindLogicalFailure, out.Revalidation.Kind)
		assert.False(t, c.LoggedIn())
		assert.NotEmpty(t, c.SessionID())
		assert.Equal(t, keyauth.StateInitialized, c.State())
	})

	t.Run("tampered session check leaves the client logged out", func(t *testing.T) {
		srv := newServer(t)
		srv.AddUser("alice", "hunter2", testHWID)
		c := initialized(t, srv)
		srv.SetOverride(api.TypeCheck, keyauthtest.Override{Signature: str("forged")})

		out := c.Login(ctx, "alice", "hunter2")

		require.Equal(t, keyauth.KindSuccess, out.Kind)
		assert.Equal(t, keyauth.KindTampered, out.Revalidation.Kind)
		assert.False(t, c.LoggedIn())
	})

	t.Run("hardware id failure", func(t *testing.T) {
		srv := newServer(t)
		fp := &mockFingerprinter{}
		fp.On("HWID").Return("", errors.New("no network interfaces"))
		c := initialized(t, srv, keyauth.WithFingerprinter(fp))

		out := c.Login(ctx, "alice", "hunter2")

		assert.Equal(t, keyauth.KindPrecondition, out.Kind)
		assert.ErrorIs(t, out.Err(), keyauth.ErrHardwareID)
		assert.Zero(t, srv.RequestCount(api.TypeLogin))
		fp.AssertExpectations(t)
	})
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("redeems a license", func(t *testing.T) {
		srv := newServer(t)
		srv.AddLicense("DEMO-7Q2K-93HF-XP01")
		c := initialized(t, srv)

		out := c.Register(ctx, "bob", "pa55", "DEMO-7Q2K-93HF-XP01")

		require.Equal(t, keyauth.KindSuccess, out.Kind)
		assert.Equal(t, keyauth.KindCompleted, out.Revalidation.Kind)
		assert.True(t, c.LoggedIn())

		form := srv.Requests()[1].Form
		assert.Equal(t, "register", form.Get("type"))
		assert.Equal(t, "DEMO-7Q2K-93HF-XP01", form.Get("key"))
		assert.Equal(t, testHWID, form.Get("hwid"))
	})

	t.Run("invalid license", func(t *testing.T) {
		srv := newServer(t)
		c := initialized(t, srv)

		out := c.Register(ctx, "bob", "pa55", "NOPE")

		assert.Equal(t, keyauth.KindLogicalFailure, out.Kind)
		assert.Equal(t, "Invalid license key.", out.Message)
		assert.False(t, c.LoggedIn())
	})

	t.Run("already logged in", func(t *testing.T) {
		srv := newServer(t)
		c := loggedIn(t, srv)

		out := c.Register(ctx, "bob", "pa55", "KEY")

		assert.ErrorIs(t, out.Err(), keyauth.ErrAlreadyLoggedIn)
		assert.Zero(t, srv.RequestCount(api.TypeRegister))
	})
}

func TestCheckSession(t *testing.T) {
	ctx := context.Background()

	t.Run("validated", func(t *testing.T) {
		srv := newServer(t)
		c := loggedIn(t, srv)

		out := c.CheckSession(ctx)

		assert.Equal(t, keyauth.KindCompleted, out.Kind)
		assert.True(t, c.LoggedIn())
	})

	t.Run("unvalidated session keeps the token", func(t *testing.T) {
		srv := newServer(t)
		c := initialized(t, srv)
		id := c.SessionID()

		out := c.CheckSession(ctx)

		assert.Equal(t, keyauth.KindLogicalFailure, out.Kind)
		assert.Equal(t, "Session is not validated.", out.Message)
		assert.Equal(t, id, c.SessionID())
		assert.False(t, c.LoggedIn())
	})
}

func TestCheckBlacklist(t *testing.T) {
	ctx := context.Background()

	t.Run("not listed is silent", func(t *testing.T) {
		srv := newServer(t)
		c := initialized(t, srv)

		out := c.CheckBlacklist(ctx)

		assert.Equal(t, keyauth.KindCompleted, out.Kind)
		assert.Empty(t, out.Message)
		assert.Equal(t, testHWID, srv.Requests()[1].Form.Get("hwid"))
	})

	t.Run("listed reports the server message", func(t *testing.T) {
		srv := newServer(t)
		srv.Blacklist(testHWID)
		c := initialized(t, srv)

		out := c.CheckBlacklist(ctx)

		assert.Equal(t, keyauth.KindSuccess, out.Kind)
		assert.Equal(t, "Client is blacklisted", out.Message)
	})

	t.Run("tampered", func(t *testing.T) {
		srv := newServer(t)
		c := initialized(t, srv)
		srv.SetOverride(api.TypeCheckBlacklist, keyauthtest.Override{Signature: str("bad")})

		out := c.CheckBlacklist(ctx)

		assert.Equal(t, keyauth.KindTampered, out.Kind)
	})
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return len(p) / 2, nil }

func TestDownload(t *testing.T) {
	ctx := context.Background()
	contents := []byte("\x00\x01binary payload\xff")

	t.Run("writes every byte", func(t *testing.T) {
		srv := newServer(t)
		srv.AddFile("362906", contents)
		c := initialized(t, srv)

		var buf bytes.Buffer
		out, err := c.Download(ctx, "362906", &buf)

		require.NoError(t, err)
		assert.Equal(t, keyauth.KindCompleted, out.Kind)
		assert.Equal(t, contents, buf.Bytes())
		assert.Equal(t, "362906", srv.Requests()[1].Form.Get("fileid"))
	})

	t.Run("missing file writes nothing", func(t *testing.T) {
		srv := newServer(t)
		c := initialized(t, srv)

		var buf bytes.Buffer
		out, err := c.Download(ctx, "404", &buf)

		require.NoError(t, err)
		assert.Equal(t, keyauth.KindLogicalFailure, out.Kind)
		assert.Equal(t, "File not Found", out.Message)
		assert.Zero(t, buf.Len())
	})

	t.Run("bad hex", func(t *testing.T) {
		srv := newServer(t)
		c := initialized(t, srv)
		srv.SetOverride(api.TypeFile, keyauthtest.Override{Body: str(`{"success":true,"contents":"zz"}`)})

		var buf bytes.Buffer
		out, err := c.Download(ctx, "1", &buf)

		require.Error(t, err)
		assert.ErrorIs(t, err, keyauth.ErrMalformedResponse)
		assert.Equal(t, keyauth.KindMalformedResponse, out.Kind)
		assert.Zero(t, buf.Len())
	})

	t.Run("sink failure propagates", func(t *testing.T) {
		srv := newServer(t)
		srv.AddFile("1", contents)
		c := initialized(t, srv)

		out, err := c.Download(ctx, "1", failingWriter{})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.Equal(t, keyauth.KindCompleted, out.Kind)
	})

	t.Run("short write propagates", func(t *testing.T) {
		srv := newServer(t)
		srv.AddFile("1", contents)
		c := initialized(t, srv)

		_, err := c.Download(ctx, "1", shortWriter{})

		assert.ErrorIs(t, err, io.ErrShortWrite)
	})
}

func TestDownloadFile(t *testing.T) {
	ctx := context.Background()

	t.Run("creates the file", func(t *testing.T) {
		srv := newServer(t)
		srv.AddFile("7", []byte("config=1\n"))
		c := initialized(t, srv)
		path := filepath.Join(t.TempDir(), "app.cfg")

		out, err := c.DownloadFile(ctx, "7", path)

		require.NoError(t, err)
		assert.Equal(t, keyauth.KindCompleted, out.Kind)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "config=1\n", string(data))
	})

	t.Run("failure leaves no file", func(t *testing.T) {
		srv := newServer(t)
		c := initialized(t, srv)
		path := filepath.Join(t.TempDir(), "missing.bin")

		out, err := c.DownloadFile(ctx, "nope", path)

		require.NoError(t, err)
		assert.Equal(t, keyauth.KindLogicalFailure, out.Kind)
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr))
	})
}

func TestBan(t *testing.T) {
	ctx := context.Background()

	t.Run("requires login", func(t *testing.T) {
		srv := newServer(t)
		c := initialized(t, srv)

		out := c.Ban(ctx)

		assert.Equal(t, keyauth.KindPrecondition, out.Kind)
		assert.Equal(t, "not logged in", out.Message)
		assert.ErrorIs(t, out.Err(), keyauth.ErrNotLoggedIn)
		assert.Zero(t, srv.RequestCount(api.TypeBan))
	})

	t.Run("bans the user and machine", func(t *testing.T) {
		srv := newServer(t)
		c := loggedIn(t, srv)

		out := c.Ban(ctx)

		assert.Equal(t, keyauth.KindCompleted, out.Kind)
		assert.True(t, srv.IsBanned("alice"))
		assert.True(t, srv.IsBlacklisted(testHWID))
	})

	t.Run("logical failure", func(t *testing.T) {
		srv := newServer(t)
		c := loggedIn(t, srv)
		srv.SetOverride(api.TypeBan, keyauthtest.Override{Body: str(`{"success":false,"message":"Not allowed"}`)})

		out := c.Ban(ctx)

		assert.Equal(t, keyauth.KindLogicalFailure, out.Kind)
		assert.Equal(t, "Not allowed", out.Message)
	})
}

func TestLog(t *testing.T) {
	ctx := context.Background()

	t.Run("records the machine name", func(t *testing.T) {
		srv := newServer(t)
		c := initialized(t, srv)

		out := c.Log(ctx, "user opened settings")

		assert.Equal(t, keyauth.KindCompleted, out.Kind)
		logs := srv.Logs()
		require.Len(t, logs, 1)
		assert.Equal(t, "build-box-alice", logs[0].PCUser)
		assert.Equal(t, "user opened settings", logs[0].Message)
		assert.Equal(t, c.SessionID(), logs[0].SessionID)
	})

	t.Run("body is not interpreted", func(t *testing.T) {
		for _, body := range []string{`{"success":false,"message":"nope"}`, ``, `not json`} {
			srv := newServer(t)
			c := initialized(t, srv)
			srv.SetOverride(api.TypeLog, keyauthtest.Override{Body: str(body)})

			out := c.Log(ctx, "x")

			assert.Equal(t, keyauth.KindCompleted, out.Kind, "body %q", body)
		}
	})

	t.Run("tampered", func(t *testing.T) {
		srv := newServer(t)
		c := initialized(t, srv)
		srv.SetOverride(api.TypeLog, keyauthtest.Override{Signature: str("bad")})

		out := c.Log(ctx, "x")

		assert.Equal(t, keyauth.KindTampered, out.Kind)
	})

	t.Run("machine name failure", func(t *testing.T) {
		srv := newServer(t)
		c := initialized(t, srv, keyauth.WithMachineNamer(func() (string, error) {
			return "", errors.New("no user")
		}))

		out := c.Log(ctx, "x")

		assert.Equal(t, keyauth.KindPrecondition, out.Kind)
		assert.Equal(t, "couldn't get machine name", out.Message)
		assert.ErrorIs(t, out.Err(), keyauth.ErrMachineName)
		assert.Zero(t, srv.RequestCount(api.TypeLog))
	})
}

func TestSingleFlight(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})

	body := `{"success":true,"message":"Initialized","sessionid":"0a1b2c3d4e"}`
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.Header().Set(api.SignatureHeader, security.Sign(testApp.Secret, []byte(body)))
		_, _ = w.Write([]byte(body))
	}))
	defer hs.Close()

	c, err := keyauth.New(identity(), keyauth.WithEndpoint(hs.URL), keyauth.WithHTTPClient(hs.Client()))
	require.NoError(t, err)

	var g errgroup.Group
	var first keyauth.Outcome
	g.Go(func() error {
		first = c.Initialize(ctx)
		return nil
	})

	<-entered
	busy := c.CheckSession(ctx)
	busyInit := c.Initialize(ctx)
	close(release)
	assert.NoError(t, g.Wait())

	assert.Equal(t, keyauth.KindPrecondition, busy.Kind)
	assert.ErrorIs(t, busy.Err(), keyauth.ErrBusy)
	assert.ErrorIs(t, busyInit.Err(), keyauth.ErrBusy)
	assert.Equal(t, keyauth.KindCompleted, first.Kind)
	assert.Equal(t, "0a1b2c3d4e", c.SessionID())
}

func TestLogging(t *testing.T) {
	ctx := context.Background()

	t.Run("never logs credentials", func(t *testing.T) {
		logger, handler := testutil.NewTestLogger(t)
		srv := newServer(t)
		srv.AddLicense("DEMO-LICENSE-0001")
		c := initialized(t, srv, keyauth.WithLogger(logger))

		out := c.Register(ctx, "carol", "correct-horse", "DEMO-LICENSE-0001")
		require.Equal(t, keyauth.KindSuccess, out.Kind)

		assert.Positive(t, handler.Count())
		testutil.AssertLogAttr(t, handler, "component", "keyauth")
		testutil.AssertNotLogged(t, handler, testApp.Secret, "correct-horse", "DEMO-LICENSE-0001", c.SessionID())
	})

	t.Run("tamper events are warnings", func(t *testing.T) {
		logger, handler := testutil.NewTestLogger(t)
		srv := newServer(t)
		srv.SetOverride(api.TypeInit, keyauthtest.Override{Signature: str("bad")})
		c := newClient(t, srv, keyauth.WithLogger(logger))

		c.Initialize(ctx)

		testutil.AssertLogContains(t, handler, slog.LevelWarn, "signature mismatch")
		testutil.AssertLogAttr(t, handler, "phase", "handshake")
		testutil.AssertNoErrors(t, handler)
	})
}
