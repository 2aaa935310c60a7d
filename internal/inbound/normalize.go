// Package inbound turns raw protocol messages into canonical InboundMessage
// values and decides which of them the bot should look at.
package inbound

import (
	"strings"
	"time"

	"wabot/internal/domain"
)

// Protocol-internal acknowledgement stubs carry ids of this shape.
const (
	stubIDPrefix = "BAE5"
	stubIDLength = 16
)

// Verdict is the outcome of Normalize. Anything but Accept is the ignore
// sentinel: the message is dropped without error.
type Verdict int

const (
	Accept Verdict = iota
	IgnoreNoPayload
	IgnoreStatus
	IgnoreStub
	IgnoreSelf
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case IgnoreNoPayload:
		return "no_payload"
	case IgnoreStatus:
		return "status_broadcast"
	case IgnoreStub:
		return "internal_stub"
	case IgnoreSelf:
		return "from_self"
	default:
		return "unknown"
	}
}

// Ignored reports whether the message must not enter the dispatch pipeline.
func (v Verdict) Ignored() bool { return v != Accept }

// IsStubID reports whether id looks like an internal acknowledgement stub.
func IsStubID(id string) bool {
	return len(id) == stubIDLength && strings.HasPrefix(id, stubIDPrefix)
}

// Normalizer is safe for concurrent use as long as Self is.
type Normalizer struct {
	// Self returns the bot's own account JID. It is consulted on every call
	// because the identity only becomes known after pairing.
	Self func() string

	// ProcessSelf lets messages authored by the bot's own account through,
	// e.g. to drive the bot from the owner's phone.
	ProcessSelf bool
}

// Normalize converts raw into an InboundMessage. It has no side effects: the
// same raw value always yields the same result.
func (n *Normalizer) Normalize(raw *domain.RawMessage) (domain.InboundMessage, Verdict) {
	if raw == nil || raw.Message == nil {
		return domain.InboundMessage{}, IgnoreNoPayload
	}
	if raw.Key.RemoteJID == domain.StatusBroadcastJID {
		return domain.InboundMessage{}, IgnoreStatus
	}
	if IsStubID(raw.Key.ID) {
		return domain.InboundMessage{}, IgnoreStub
	}

	content := unwrapEphemeral(raw.Message)

	self := ""
	if n.Self != nil {
		self = n.Self()
	}

	chatID := raw.Key.RemoteJID
	isGroup := domain.IsGroupJID(chatID)
	sender := chatID
	if isGroup {
		sender = raw.Key.Participant
		if sender == "" {
			sender = raw.Participant
		}
	}
	if raw.Key.FromMe && self != "" {
		sender = self
	}

	fromSelf := raw.Key.FromMe || domain.SameUser(sender, self)
	if fromSelf && !n.ProcessSelf {
		return domain.InboundMessage{}, IgnoreSelf
	}

	kind, body, info := resolve(content)

	msg := domain.InboundMessage{
		ID:          raw.Key.ID,
		ChatID:      chatID,
		SenderID:    sender,
		PushName:    raw.PushName,
		IsGroup:     isGroup,
		IsFromSelf:  fromSelf,
		ContentKind: kind,
		Body:        body,
		Quoted:      quoted(info),
		Timestamp:   timestamp(raw),
	}
	return msg, Accept
}

// unwrapEphemeral removes exactly one level of disappearing-message wrapping.
func unwrapEphemeral(c *domain.MessageContent) *domain.MessageContent {
	if c != nil && c.EphemeralMessage != nil {
		return c.EphemeralMessage.Message
	}
	return c
}

// resolve picks the content kind by the first populated variant, in the order
// conversation, extendedText, image, video, document. Each kind has exactly
// one body field.
func resolve(c *domain.MessageContent) (domain.ContentKind, string, *domain.ContextInfo) {
	switch {
	case c == nil:
		return domain.KindOther, "", nil
	case c.Conversation != nil:
		return domain.KindText, *c.Conversation, nil
	case c.ExtendedTextMessage != nil:
		return domain.KindExtendedText, c.ExtendedTextMessage.Text, c.ExtendedTextMessage.ContextInfo
	case c.ImageMessage != nil:
		return domain.KindImage, c.ImageMessage.Caption, c.ImageMessage.ContextInfo
	case c.VideoMessage != nil:
		return domain.KindVideo, c.VideoMessage.Caption, c.VideoMessage.ContextInfo
	case c.DocumentMessage != nil:
		return domain.KindDocument, c.DocumentMessage.Caption, c.DocumentMessage.ContextInfo
	default:
		return domain.KindOther, "", nil
	}
}

func quoted(info *domain.ContextInfo) *domain.QuotedMessage {
	if info == nil || info.QuotedMessage == nil {
		return nil
	}
	kind, body, _ := resolve(info.QuotedMessage)
	return &domain.QuotedMessage{
		ID:          info.StanzaID,
		SenderID:    info.Participant,
		ContentKind: kind,
		Body:        body,
	}
}

func timestamp(raw *domain.RawMessage) time.Time {
	if !raw.ReceivedAt.IsZero() {
		return raw.ReceivedAt
	}
	if raw.MessageTimestamp > 0 {
		return time.Unix(raw.MessageTimestamp, 0)
	}
	return time.Time{}
}
