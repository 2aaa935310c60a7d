package domain

import "time"

// RawMessage is a protocol message envelope as delivered by the transport.
// Field names follow the multi-device web protocol JSON so bridge payloads
// decode without translation.
type RawMessage struct {
	Key              MessageKey      `json:"key"`
	Message          *MessageContent `json:"message,omitempty"`
	Participant      string          `json:"participant,omitempty"`
	PushName         string          `json:"pushName,omitempty"`
	MessageTimestamp int64           `json:"messageTimestamp,omitempty"`

	// ReceivedAt is stamped by the transport when the frame arrives.
	ReceivedAt time.Time `json:"-"`
}

// MessageKey identifies a message within a chat.
type MessageKey struct {
	RemoteJID   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	ID          string `json:"id"`
	Participant string `json:"participant,omitempty"`
}

// MessageContent is the content union. At most one variant is expected to be
// populated; see inbound.Normalizer for the resolution order.
type MessageContent struct {
	Conversation        *string              `json:"conversation,omitempty"`
	ExtendedTextMessage *ExtendedTextMessage `json:"extendedTextMessage,omitempty"`
	ImageMessage        *MediaMessage        `json:"imageMessage,omitempty"`
	VideoMessage        *MediaMessage        `json:"videoMessage,omitempty"`
	DocumentMessage     *MediaMessage        `json:"documentMessage,omitempty"`
	EphemeralMessage    *FutureProofMessage  `json:"ephemeralMessage,omitempty"`

	// ProtocolMessage covers revokes, ephemeral setting changes and similar
	// control payloads. It never carries a body.
	ProtocolMessage *ProtocolMessage `json:"protocolMessage,omitempty"`
}

type ExtendedTextMessage struct {
	Text        string       `json:"text"`
	ContextInfo *ContextInfo `json:"contextInfo,omitempty"`
}

// MediaMessage is shared by image, video and document payloads.
type MediaMessage struct {
	Caption     string       `json:"caption,omitempty"`
	Mimetype    string       `json:"mimetype,omitempty"`
	URL         string       `json:"url,omitempty"`
	FileName    string       `json:"fileName,omitempty"`
	ContextInfo *ContextInfo `json:"contextInfo,omitempty"`
}

// FutureProofMessage wraps disappearing-message payloads.
type FutureProofMessage struct {
	Message *MessageContent `json:"message,omitempty"`
}

type ProtocolMessage struct {
	Type int `json:"type"`
}

// ContextInfo carries reply metadata.
type ContextInfo struct {
	StanzaID      string          `json:"stanzaId,omitempty"`
	Participant   string          `json:"participant,omitempty"`
	QuotedMessage *MessageContent `json:"quotedMessage,omitempty"`
}

// UpsertType distinguishes live traffic from history sync.
type UpsertType string

const (
	UpsertNotify UpsertType = "notify"
	UpsertAppend UpsertType = "append"
)

// MessagesUpsert is one batch of inbound messages.
type MessagesUpsert struct {
	Type     UpsertType   `json:"type"`
	Messages []RawMessage `json:"messages"`
}
