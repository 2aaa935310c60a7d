package domain

import "time"

// ContentKind tags which content variant an inbound message carries.
type ContentKind string

const (
	KindText         ContentKind = "text"
	KindExtendedText ContentKind = "extendedText"
	KindImage        ContentKind = "image"
	KindVideo        ContentKind = "video"
	KindDocument     ContentKind = "document"
	KindOther        ContentKind = "other"
)

// InboundMessage is the canonical shape every raw protocol message is
// normalized into before command parsing.
type InboundMessage struct {
	ID          string
	ChatID      string
	SenderID    string // participant for group chats, chat for private chats
	PushName    string
	IsGroup     bool
	IsFromSelf  bool
	ContentKind ContentKind
	Body        string
	Quoted      *QuotedMessage
	Timestamp   time.Time
}

// QuotedMessage is the read-only view of a message embedded as a reply target.
type QuotedMessage struct {
	ID          string
	SenderID    string
	ContentKind ContentKind
	Body        string
}

// ParsedCommand is the result of matching a message body against the prefix.
type ParsedCommand struct {
	IsCommand bool
	Name      string   // lowercased, empty when IsCommand is false
	Args      []string // tokens after the name, in order
}

// OutgoingContent is what handlers hand to Session.Send.
type OutgoingContent struct {
	Text string
	// Quoted, when set, makes the reply thread onto that inbound message.
	Quoted *InboundMessage
}

// Receipt acknowledges a sent message.
type Receipt struct {
	ID        string
	ChatID    string
	Timestamp time.Time
}
