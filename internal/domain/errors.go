package domain

import "errors"

var (
	// ErrLoggedOut is returned when the session was deauthorized and the
	// operator has to authenticate again.
	ErrLoggedOut = errors.New("session logged out: re-authentication required")

	ErrInvalidPhone     = errors.New("invalid phone number")
	ErrUnsupported      = errors.New("operation not supported by transport")
	ErrNotConnected     = errors.New("session not connected")
	ErrTransportClosed  = errors.New("transport closed")
	ErrDuplicateCommand = errors.New("command already registered")
)

// ClassifyDisconnect maps a close reason to the state the session enters.
// Only an explicit logout is terminal.
func ClassifyDisconnect(reason DisconnectReason) SessionState {
	if reason == ReasonLoggedOut {
		return StateClosedTerminal
	}
	return StateClosedRecoverable
}

// IsTerminal reports whether err means the session cannot be resumed.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrLoggedOut)
}
