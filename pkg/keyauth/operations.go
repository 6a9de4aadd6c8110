package keyauth

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"keyauthcli/internal/transport"
	api "keyauthcli/pkg/contracts/api/v1"
)

// run admits fn only when no other operation holds the slot
func (c *Client) run(ctx context.Context, op api.RequestType, fn func(context.Context) Outcome) Outcome {
	if !c.slot.TryAcquire(1) {
		c.logger.DebugContext(ctx, "KeyAuth operation rejected, another is in flight", slog.String("type", op.String()))
		return precondition(op, ErrBusy)
	}
	defer c.slot.Release(1)

	out := c.traceOperation(ctx, op, fn)
	c.logger.DebugContext(ctx, "KeyAuth operation finished",
		slog.String("type", op.String()),
		slog.String("outcome", out.Kind.String()),
	)
	return out
}

// exchange sends params and parses the verified body. ok is false when out is final.
func (c *Client) exchange(ctx context.Context, params *transport.Params, phase transport.Phase) (payload *Payload, out Outcome, ok bool) {
	op := params.Type()
	res := c.transport.Execute(ctx, params, phase)
	if out, failed := c.failure(ctx, op, phase, res); failed {
		return nil, out, false
	}

	p, err := parsePayload(res.Body)
	if err != nil {
		return nil, malformed(op, err, nil), false
	}
	return p, Outcome{}, true
}

// failure maps every non-valid transport result to its outcome
func (c *Client) failure(ctx context.Context, op api.RequestType, phase transport.Phase, res transport.Result) (Outcome, bool) {
	switch res.Kind {
	case transport.ValidPayload:
		return Outcome{}, false
	case transport.NonSuccessStatus:
		return Outcome{
			Kind:       KindNonSuccessStatus,
			Op:         op,
			Message:    fmt.Sprintf("Response Code %d", res.StatusCode),
			StatusCode: res.StatusCode,
		}, true
	case transport.TamperedSignature:
		c.logger.WarnContext(ctx, "KeyAuth response rejected, possible man-in-the-middle",
			slog.String("type", op.String()),
			slog.String("phase", phase.String()),
		)
		return Outcome{
			Kind:    KindTampered,
			Op:      op,
			Message: fmt.Sprintf("Signature header %q didn't match %q", res.Received, res.Expected),
		}, true
	default:
		err := res.Err
		if err == nil {
			err = ErrTransport
		}
		return Outcome{Kind: KindTransportFailure, Op: op, Message: err.Error(), Cause: err}, true
	}
}

// decide reads the success flag. The message is returned only for failures,
// which always carry one.
func decide(op api.RequestType, p *Payload) (succeeded bool, message string, out Outcome, ok bool) {
	succeeded, err := p.BoolField(api.RespSuccess)
	if err != nil {
		return false, "", malformed(op, err, p), false
	}
	if succeeded {
		return true, "", Outcome{}, true
	}
	message, err = p.StringField(api.RespMessage)
	if err != nil {
		return false, "", malformed(op, err, p), false
	}
	return false, message, Outcome{}, true
}

func (c *Client) requireSession() (string, bool) {
	id := c.SessionID()
	return id, id != ""
}

func (c *Client) withApp(p *transport.Params, sessionID string) *transport.Params {
	return p.Add(api.FieldSessionID, sessionID).
		Add(api.FieldName, c.identity.AppName).
		Add(api.FieldOwnerID, c.identity.OwnerID)
}

// Initialize performs the handshake and stores the session token.
// It does nothing when a token is already held.
func (c *Client) Initialize(ctx context.Context) Outcome {
	return c.run(ctx, api.TypeInit, c.initialize)
}

func (c *Client) initialize(ctx context.Context) Outcome {
	op := api.TypeInit
	if c.SessionID() != "" {
		return completed(op)
	}

	params := transport.NewParams(op).
		Add(api.FieldVersion, c.identity.Version).
		Add(api.FieldName, c.identity.AppName).
		Add(api.FieldOwnerID, c.identity.OwnerID).
		Add(api.FieldEncKey, c.nonce)

	payload, out, ok := c.exchange(ctx, params, transport.PhaseHandshake)
	if !ok {
		return out
	}
	succeeded, message, out, ok := decide(op, payload)
	if !ok {
		return out
	}

	if !succeeded {
		if strings.EqualFold(message, api.InvalidVersionMessage) {
			// a missing download link still means the version was rejected
			url, _ := payload.StringField(api.RespDownload)
			c.logger.InfoContext(ctx, "KeyAuth rejected the application version",
				slog.String("version", c.identity.Version),
			)
			return Outcome{Kind: KindUpdateRequired, Op: op, Message: message, Payload: payload, DownloadURL: url}
		}
		return logicalFailure(op, message, payload)
	}

	id, err := payload.StringField(api.RespSessionID)
	if err != nil {
		return malformed(op, err, payload)
	}
	if id == "" {
		return malformed(op, fmt.Errorf("%w: empty session id", ErrMalformedResponse), payload)
	}
	c.setSession(id)

	return Outcome{Kind: KindCompleted, Op: op, Payload: payload}
}

// Register redeems a license key for a new account bound to this machine,
// then checks the session. Only a successful check marks the client logged in.
func (c *Client) Register(ctx context.Context, username, password, key string) Outcome {
	op := api.TypeRegister
	return c.run(ctx, op, func(ctx context.Context) Outcome {
		sessionID, hwid, out, ok := c.prepareLogin(op)
		if !ok {
			return out
		}
		params := c.withApp(transport.NewParams(op).
			Add(api.FieldUsername, username).
			Add(api.FieldPassword, password).
			Add(api.FieldKey, key).
			Add(api.FieldHWID, hwid), sessionID)
		return c.authenticate(ctx, params)
	})
}

// Login authenticates an existing account, then checks the session.
// Only a successful check marks the client logged in.
func (c *Client) Login(ctx context.Context, username, password string) Outcome {
	op := api.TypeLogin
	return c.run(ctx, op, func(ctx context.Context) Outcome {
		sessionID, hwid, out, ok := c.prepareLogin(op)
		if !ok {
			return out
		}
		params := c.withApp(transport.NewParams(op).
			Add(api.FieldUsername, username).
			Add(api.FieldPassword, password).
			Add(api.FieldHWID, hwid), sessionID)
		return c.authenticate(ctx, params)
	})
}

func (c *Client) prepareLogin(op api.RequestType) (sessionID, hwid string, out Outcome, ok bool) {
	sessionID, ok = c.requireSession()
	if !ok {
		return "", "", precondition(op, ErrNotInitialized), false
	}
	if c.LoggedIn() {
		return "", "", precondition(op, ErrAlreadyLoggedIn), false
	}
	hwid, out, ok = c.hardwareID(op)
	if !ok {
		return "", "", out, false
	}
	return sessionID, hwid, Outcome{}, true
}

func (c *Client) authenticate(ctx context.Context, params *transport.Params) Outcome {
	op := params.Type()
	payload, out, ok := c.exchange(ctx, params, transport.PhaseSession)
	if !ok {
		return out
	}
	succeeded, message, out, ok := decide(op, payload)
	if !ok {
		return out
	}
	if !succeeded {
		return logicalFailure(op, message, payload)
	}

	message, _ = payload.StringField(api.RespMessage)
	check := c.checkSession(ctx)
	if !check.OK() {
		c.logger.WarnContext(ctx, "KeyAuth login accepted but the session check failed",
			slog.String("type", op.String()),
			slog.String("check_outcome", check.Kind.String()),
		)
	}

	return Outcome{Kind: KindSuccess, Op: op, Message: message, Payload: payload, Revalidation: &check}
}

// CheckSession asks the server whether the session is logged in.
// Success marks the client authenticated; failure keeps the token.
func (c *Client) CheckSession(ctx context.Context) Outcome {
	return c.run(ctx, api.TypeCheck, c.checkSession)
}

func (c *Client) checkSession(ctx context.Context) Outcome {
	op := api.TypeCheck
	sessionID, ok := c.requireSession()
	if !ok {
		return precondition(op, ErrNotInitialized)
	}

	payload, out, ok := c.exchange(ctx, c.withApp(transport.NewParams(op), sessionID), transport.PhaseSession)
	if !ok {
		return out
	}
	succeeded, message, out, ok := decide(op, payload)
	if !ok {
		return out
	}
	if !succeeded {
		return logicalFailure(op, message, payload)
	}

	c.setLoggedIn()
	return Outcome{Kind: KindCompleted, Op: op, Payload: payload}
}

// CheckBlacklist asks whether this machine's hardware id is blacklisted.
// KindSuccess carries the server message and means listed; KindCompleted means not listed.
func (c *Client) CheckBlacklist(ctx context.Context) Outcome {
	op := api.TypeCheckBlacklist
	return c.run(ctx, op, func(ctx context.Context) Outcome {
		sessionID, ok := c.requireSession()
		if !ok {
			return precondition(op, ErrNotInitialized)
		}
		hwid, out, ok := c.hardwareID(op)
		if !ok {
			return out
		}

		params := c.withApp(transport.NewParams(op).Add(api.FieldHWID, hwid), sessionID)
		payload, out, ok := c.exchange(ctx, params, transport.PhaseSession)
		if !ok {
			return out
		}
		succeeded, err := payload.BoolField(api.RespSuccess)
		if err != nil {
			return malformed(op, err, payload)
		}
		if !succeeded {
			return Outcome{Kind: KindCompleted, Op: op, Payload: payload}
		}
		message, err := payload.StringField(api.RespMessage)
		if err != nil {
			return malformed(op, err, payload)
		}
		return Outcome{Kind: KindSuccess, Op: op, Message: message, Payload: payload}
	})
}

func (c *Client) hardwareID(op api.RequestType) (string, Outcome, bool) {
	hwid, err := c.fingerprinter.HWID()
	if err != nil {
		return "", lookupFailed(op, ErrHardwareID, err), false
	}
	return hwid, Outcome{}, true
}

// Download fetches a stored file and writes its bytes to w.
// The error is non-nil only when a verified payload could not be decoded or
// written; the outcome then still describes the exchange.
func (c *Client) Download(ctx context.Context, fileID string, w io.Writer) (Outcome, error) {
	op := api.TypeFile
	var sinkErr error
	out := c.run(ctx, op, func(ctx context.Context) Outcome {
		var out Outcome
		out, sinkErr = c.download(ctx, fileID, w)
		return out
	})
	return out, sinkErr
}

func (c *Client) download(ctx context.Context, fileID string, w io.Writer) (Outcome, error) {
	op := api.TypeFile
	sessionID, ok := c.requireSession()
	if !ok {
		return precondition(op, ErrNotInitialized), nil
	}

	params := c.withApp(transport.NewParams(op).Add(api.FieldFileID, fileID), sessionID)
	payload, out, ok := c.exchange(ctx, params, transport.PhaseSession)
	if !ok {
		return out, nil
	}
	succeeded, message, out, ok := decide(op, payload)
	if !ok {
		return out, nil
	}
	if !succeeded {
		return logicalFailure(op, message, payload), nil
	}

	contents, err := payload.StringField(api.RespContents)
	if err != nil {
		return malformed(op, err, payload), nil
	}
	data, err := hex.DecodeString(contents)
	if err != nil {
		decodeErr := fmt.Errorf("%w: file contents are not hex: %v", ErrMalformedResponse, err)
		return malformed(op, decodeErr, payload), decodeErr
	}

	done := Outcome{Kind: KindCompleted, Op: op, Payload: payload}
	n, err := w.Write(data)
	if err != nil {
		return done, fmt.Errorf("failed to write file %s: %w", fileID, err)
	}
	if n != len(data) {
		return done, fmt.Errorf("failed to write file %s: %w", fileID, io.ErrShortWrite)
	}

	c.logger.DebugContext(ctx, "KeyAuth file downloaded", slog.Int("size", len(data)))
	return done, nil
}

// DownloadFile downloads fileID to path. The file is created only once the
// contents have been received and decoded.
func (c *Client) DownloadFile(ctx context.Context, fileID, path string) (Outcome, error) {
	var buf bytes.Buffer
	out, err := c.Download(ctx, fileID, &buf)
	if err != nil || out.Kind != KindCompleted {
		return out, err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return out, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return out, nil
}

// Ban bans the logged-in user and blacklists this machine.
func (c *Client) Ban(ctx context.Context) Outcome {
	op := api.TypeBan
	return c.run(ctx, op, func(ctx context.Context) Outcome {
		sessionID, ok := c.requireSession()
		if !ok {
			return precondition(op, ErrNotInitialized)
		}
		if !c.LoggedIn() {
			return precondition(op, ErrNotLoggedIn)
		}
		hwid, out, ok := c.hardwareID(op)
		if !ok {
			return out
		}

		params := c.withApp(transport.NewParams(op).Add(api.FieldHWID, hwid), sessionID)
		payload, out, ok := c.exchange(ctx, params, transport.PhaseSession)
		if !ok {
			return out
		}
		succeeded, message, out, ok := decide(op, payload)
		if !ok {
			return out
		}
		if !succeeded {
			return logicalFailure(op, message, payload)
		}
		return Outcome{Kind: KindCompleted, Op: op, Payload: payload}
	})
}

// Log records message on the server under this machine's name.
// The response body is not interpreted.
func (c *Client) Log(ctx context.Context, message string) Outcome {
	op := api.TypeLog
	return c.run(ctx, op, func(ctx context.Context) Outcome {
		sessionID, ok := c.requireSession()
		if !ok {
			return precondition(op, ErrNotInitialized)
		}
		pcUser, err := c.machineName()
		if err != nil {
			return lookupFailed(op, ErrMachineName, err)
		}

		params := c.withApp(transport.NewParams(op).
			Add(api.FieldPCUser, pcUser).
			Add(api.FieldMessage, message), sessionID)
		res := c.transport.Execute(ctx, params, transport.PhaseSession)
		if out, failed := c.failure(ctx, op, transport.PhaseSession, res); failed {
			return out
		}
		return completed(op)
	})
}
