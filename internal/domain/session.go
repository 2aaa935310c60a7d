package domain

import (
	"encoding/json"
	"time"
)

// SessionState is the lifecycle state of the single protocol session.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateOpen
	StateClosedRecoverable
	StateClosedTerminal
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosedRecoverable:
		return "closed-recoverable"
	case StateClosedTerminal:
		return "closed-terminal"
	default:
		return "unknown"
	}
}

// Identity is the account the session is authenticated as.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Credentials are the authentication material of the session. Data is
// opaque to the core; only the transport interprets it.
type Credentials struct {
	Registered bool            `json:"registered"`
	Me         *Identity       `json:"me,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// SelfID returns the authenticated account id, or "" before registration.
func (c *Credentials) SelfID() string {
	if c == nil || c.Me == nil {
		return ""
	}
	return c.Me.ID
}

// Merge applies a partial credentials update on top of c.
func (c *Credentials) Merge(update Credentials) Credentials {
	out := Credentials{}
	if c != nil {
		out = *c
	}
	if update.Registered {
		out.Registered = true
	}
	if update.Me != nil {
		me := *update.Me
		out.Me = &me
	}
	if len(update.Data) > 0 {
		out.Data = append(json.RawMessage(nil), update.Data...)
	}
	out.UpdatedAt = update.UpdatedAt
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = time.Now()
	}
	return out
}

// ConnectionStatus is the coarse connection phase reported by the transport.
type ConnectionStatus string

const (
	ConnConnecting ConnectionStatus = "connecting"
	ConnOpen       ConnectionStatus = "open"
	ConnClose      ConnectionStatus = "close"
)

// DisconnectReason mirrors the status codes the protocol attaches to a close.
type DisconnectReason int

const (
	ReasonConnectionClosed    DisconnectReason = 428
	ReasonConnectionLost      DisconnectReason = 408
	ReasonConnectionReplaced  DisconnectReason = 440
	ReasonLoggedOut           DisconnectReason = 401
	ReasonBadSession          DisconnectReason = 500
	ReasonRestartRequired     DisconnectReason = 515
	ReasonMultideviceMismatch DisconnectReason = 411
	ReasonForbidden           DisconnectReason = 403
	ReasonUnavailableService  DisconnectReason = 503
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonConnectionClosed:
		return "connectionClosed"
	case ReasonConnectionLost:
		return "connectionLost"
	case ReasonConnectionReplaced:
		return "connectionReplaced"
	case ReasonLoggedOut:
		return "loggedOut"
	case ReasonBadSession:
		return "badSession"
	case ReasonRestartRequired:
		return "restartRequired"
	case ReasonMultideviceMismatch:
		return "multideviceMismatch"
	case ReasonForbidden:
		return "forbidden"
	case ReasonUnavailableService:
		return "unavailableService"
	default:
		return "unknown"
	}
}

// ConnectionUpdate reports a connection phase change.
type ConnectionUpdate struct {
	Status ConnectionStatus
	Reason DisconnectReason // set when Status is ConnClose
	Detail string
	QR     string // pairing QR payload, when the transport offers one
}

// EventKind selects which payload of an Event is populated.
type EventKind int

const (
	EventConnection EventKind = iota
	EventMessages
	EventCredentials
)

// Event is one item from the transport's event stream.
type Event struct {
	Kind        EventKind
	Connection  *ConnectionUpdate
	Messages    *MessagesUpsert
	Credentials *Credentials
}
