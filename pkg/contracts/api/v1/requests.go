// Package api contains the wire vocabulary of the KeyAuth 1.2 API.
//
// Both the client in pkg/keyauth and the fake backend in pkg/keyauth/keyauthtest
// build and read requests through these names.
package api

// Path is the fixed API version segment of the endpoint.
const Path = "/api/1.2/"

// DefaultEndpoint is the public KeyAuth endpoint.
const DefaultEndpoint = "https://keyauth.win" + Path

// RequestType selects the server-side behavior of a request.
type RequestType string

// Request types
const (
	TypeInit           RequestType = "init"
	TypeRegister       RequestType = "register"
	TypeLogin          RequestType = "login"
	TypeCheck          RequestType = "check"
	TypeCheckBlacklist RequestType = "checkblacklist"
	TypeFile           RequestType = "file"
	TypeBan            RequestType = "ban"
	TypeLog            RequestType = "log"
)

// String returns the discriminator value as sent on the wire.
func (t RequestType) String() string {
	return string(t)
}

// Form field names
const (
	FieldType      = "type"
	FieldVersion   = "ver"
	FieldName      = "name"
	FieldOwnerID   = "ownerid"
	FieldEncKey    = "enckey"
	FieldUsername  = "username"
	FieldPassword  = "pass"
	FieldKey       = "key"
	FieldHWID      = "hwid"
	FieldSessionID = "sessionid"
	FieldFileID    = "fileid"
	FieldPCUser    = "pcuser"
	FieldMessage   = "message"
)

// Response field names
const (
	RespSuccess   = "success"
	RespMessage   = "message"
	RespSessionID = "sessionid"
	RespDownload  = "download"
	RespContents  = "contents"
)

// SignatureHeader carries the HMAC-SHA256 hex digest of the response body.
const SignatureHeader = "signature"

// InvalidVersionMessage is the init failure message that asks the client to update.
// The server is not consistent about its case, compare with strings.EqualFold.
const InvalidVersionMessage = "invalidver"
