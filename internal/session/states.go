// Package session owns the single protocol connection: it dials, watches
// connection updates, persists credential refreshes, reconnects after
// recoverable closes and stops for good on logout.
package session

import "wabot/internal/domain"

// Trigger is an input to the session state machine.
type Trigger int

const (
	TriggerHandshakeOK   Trigger = iota // transport reported open
	TriggerConnectionLost               // close with any reason but logout
	TriggerLoggedOut                    // close with the logout reason
	TriggerStartupFailed                // credential load, dial or pairing failed
	TriggerRetry                        // reconnect or startup-retry timer fired
)

func (t Trigger) String() string {
	switch t {
	case TriggerHandshakeOK:
		return "handshake-ok"
	case TriggerConnectionLost:
		return "connection-lost"
	case TriggerLoggedOut:
		return "logged-out"
	case TriggerStartupFailed:
		return "startup-failed"
	case TriggerRetry:
		return "retry"
	default:
		return "unknown"
	}
}

type transition struct {
	from    domain.SessionState
	trigger Trigger
}

var transitions = map[transition]domain.SessionState{
	{domain.StateConnecting, TriggerHandshakeOK}:    domain.StateOpen,
	{domain.StateConnecting, TriggerConnectionLost}: domain.StateClosedRecoverable,
	{domain.StateConnecting, TriggerLoggedOut}:      domain.StateClosedTerminal,
	{domain.StateConnecting, TriggerStartupFailed}:  domain.StateClosedRecoverable,
	{domain.StateOpen, TriggerHandshakeOK}:          domain.StateOpen,
	{domain.StateOpen, TriggerConnectionLost}:       domain.StateClosedRecoverable,
	{domain.StateOpen, TriggerLoggedOut}:            domain.StateClosedTerminal,
	{domain.StateClosedRecoverable, TriggerRetry}:   domain.StateConnecting,
}

// Next returns the state reached from s on t. ok is false when the pair is
// not a legal transition; Closed-Terminal has none.
func Next(s domain.SessionState, t Trigger) (next domain.SessionState, ok bool) {
	next, ok = transitions[transition{s, t}]
	if !ok {
		return s, false
	}
	return next, true
}

// TriggerForClose classifies a close reason.
func TriggerForClose(reason domain.DisconnectReason) Trigger {
	if domain.ClassifyDisconnect(reason) == domain.StateClosedTerminal {
		return TriggerLoggedOut
	}
	return TriggerConnectionLost
}
