package domain

import "context"

// Transport is one live protocol connection. Events are delivered on a single
// channel which is closed when the connection is gone.
type Transport interface {
	Events() <-chan Event
	Send(ctx context.Context, chatID string, content OutgoingContent) (Receipt, error)
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	Close() error
}

// Dialer opens a new Transport authenticated with the given credentials.
// A nil creds value means no session has been registered yet.
type Dialer interface {
	Dial(ctx context.Context, creds *Credentials) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, creds *Credentials) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, creds *Credentials) (Transport, error) {
	return f(ctx, creds)
}

// Session is the handle command handlers use to reply. It is shared read-only.
type Session interface {
	Send(ctx context.Context, chatID string, content OutgoingContent) (Receipt, error)
	Self() string
}

// CredentialStore persists session credentials between runs.
type CredentialStore interface {
	// Load returns nil, nil when nothing has been stored yet.
	Load(ctx context.Context) (*Credentials, error)
	Save(ctx context.Context, creds Credentials) error
	Clear(ctx context.Context) error
}
