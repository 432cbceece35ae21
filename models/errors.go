package models

// ErrorKind classifies failures crossing component boundaries. The kind is
// stable; the message is for humans and must never leak account existence.
type ErrorKind string

const (
	KindInvalidInput       ErrorKind = "invalid_input"
	KindUnauthorized       ErrorKind = "unauthorized"
	KindForbidden          ErrorKind = "forbidden"
	KindNotFound           ErrorKind = "not_found"
	KindConflict           ErrorKind = "conflict"
	KindRateLimited        ErrorKind = "rate_limited"
	KindPreconditionFailed ErrorKind = "precondition_failed"
	KindTransient          ErrorKind = "transient"
	KindInternal           ErrorKind = "internal"
)

// Result is the tagged outcome every game and auction operation returns to
// the originating client.
type Result struct {
	Success       bool                   `json:"success"`
	Kind          ErrorKind              `json:"kind,omitempty"`
	Message       string                 `json:"message,omitempty"`
	Data          map[string]interface{} `json:"data,omitempty"`
	PlayerUpdates map[string]interface{} `json:"playerUpdates,omitempty"`
}

// Ok builds a successful result.
func Ok(data map[string]interface{}) Result {
	return Result{Success: true, Data: data}
}

// Fail builds a failed result with a kind and message.
func Fail(kind ErrorKind, message string) Result {
	return Result{Success: false, Kind: kind, Message: message}
}

// AuthResult is the auth_success / auth_failed wire shape. On failure the
// identity fields stay zero-valued and only Message is populated.
type AuthResult struct {
	Success                bool    `json:"success"`
	Message                string  `json:"message,omitempty"`
	PlayerID               string  `json:"playerId,omitempty"`
	Username               string  `json:"username,omitempty"`
	Token                  string  `json:"token,omitempty"`
	PlayerData             *Player `json:"playerData,omitempty"`
	EmailVerified          bool    `json:"emailVerified"`
	NeedsEmailVerification bool    `json:"needsEmailVerification"`
	NeedsEmailSetup        bool    `json:"needsEmailSetup"`
	Muted                  bool    `json:"muted"`
	Banned                 bool    `json:"banned"`
}
