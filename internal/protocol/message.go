package protocol

// Type discriminates protocol frames on the wire.
type Type string

const (
	// client -> server
	TypeAuth Type = "auth"

	// server -> client
	TypeAuthOK    Type = "auth_ok"
	TypeAuthError Type = "auth_error"
	TypeError     Type = "error"

	// sync-engine frames relayed in both directions
	TypeSync      Type = "sync"
	TypeRequest   Type = "request"
	TypeEphemeral Type = "ephemeral"
	TypePresence  Type = "presence"
)

// Stable error codes observed at the websocket boundary.
const (
	ErrAuthTimeout          = "auth_timeout"
	ErrAlreadyAuthenticated = "already_authenticated"
	ErrNotAuthenticated     = "not_authenticated"
	ErrInvalidToken         = "invalid_token"
	ErrRateLimited          = "rate_limited"
	ErrPermissionDenied     = "permission_denied"
	ErrInvalidMessage       = "invalid_message"
)

// UserInfo is the identity echoed back in auth_ok. Nil for anonymous peers.
type UserInfo struct {
	ID string `json:"id"`
}

// Message is the wire frame. A single struct with optional fields keeps the
// codec trivial; the relay dispatches on Type and the engine only sees the
// fields relevant to its frame kinds. Payload carries the opaque CRDT
// engine bytes untouched.
type Message struct {
	Type       Type      `json:"type"`
	Token      string    `json:"token,omitempty"`
	DocumentID string    `json:"documentId,omitempty"`
	SenderID   string    `json:"senderId,omitempty"`
	TargetID   string    `json:"targetId,omitempty"`
	PeerID     string    `json:"peerId,omitempty"`
	User       *UserInfo `json:"user,omitempty"`
	Error      string    `json:"error,omitempty"`
	Message    string    `json:"message,omitempty"`
	RetryAfter int       `json:"retryAfter,omitempty"`
	Payload    []byte    `json:"payload,omitempty"`
}

// IsEngineFrame reports whether t is one of the frame kinds forwarded to the
// sync engine rather than handled by the relay itself.
func (t Type) IsEngineFrame() bool {
	switch t {
	case TypeSync, TypeRequest, TypeEphemeral, TypePresence:
		return true
	}
	return false
}

// NeedsDocumentAccess reports whether frames of this type are gated on
// document read permission when they carry a document id.
func (t Type) NeedsDocumentAccess() bool {
	switch t {
	case TypeSync, TypeRequest, TypeEphemeral:
		return true
	}
	return false
}

// NewError builds a relay error frame. retryAfter is in seconds; zero omits
// the field.
func NewError(code, message string, retryAfter int) *Message {
	return &Message{Type: TypeError, Error: code, Message: message, RetryAfter: retryAfter}
}

// NewAuthError builds a fatal handshake error frame.
func NewAuthError(code, message string, retryAfter int) *Message {
	return &Message{Type: TypeAuthError, Error: code, Message: message, RetryAfter: retryAfter}
}
