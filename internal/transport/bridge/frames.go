package bridge

import (
	"encoding/json"
	"time"

	"wabot/internal/domain"
)

// Frame types exchanged with the bridge.
const (
	frameAuth           = "auth"
	frameSend           = "send"
	framePairingRequest = "pairing.request"

	frameConnectionUpdate = "connection.update"
	frameCredsUpdate      = "creds.update"
	frameMessagesUpsert   = "messages.upsert"
	frameResponse         = "response"
)

// frame is the JSON envelope of every websocket message. Requests carry an
// ID that the matching response echoes.
type frame struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

type authData struct {
	ClientName  string              `json:"clientName,omitempty"`
	Credentials *domain.Credentials `json:"credentials"`
}

type sendData struct {
	ChatID string     `json:"chatId"`
	Text   string     `json:"text"`
	Quoted *quotedKey `json:"quoted,omitempty"`
}

// quotedKey lets the bridge look up the message a reply threads onto.
type quotedKey struct {
	ID          string `json:"id"`
	RemoteJID   string `json:"remoteJid"`
	Participant string `json:"participant,omitempty"`
	FromMe      bool   `json:"fromMe"`
	Body        string `json:"body,omitempty"`
}

type sendResult struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

type pairingData struct {
	Phone      string `json:"phone"`
	ClientName string `json:"clientName,omitempty"`
}

type pairingResult struct {
	Code string `json:"code"`
}

type connectionData struct {
	Connection string `json:"connection,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
	Reason     string `json:"reason,omitempty"`
	QR         string `json:"qr,omitempty"`
}

func newSendData(chatID string, content domain.OutgoingContent) sendData {
	d := sendData{ChatID: chatID, Text: content.Text}
	if q := content.Quoted; q != nil {
		d.Quoted = &quotedKey{
			ID:        q.ID,
			RemoteJID: q.ChatID,
			FromMe:    q.IsFromSelf,
			Body:      q.Body,
		}
		if q.IsGroup {
			d.Quoted.Participant = q.SenderID
		}
	}
	return d
}

func (c connectionData) update() domain.ConnectionUpdate {
	return domain.ConnectionUpdate{
		Status: domain.ConnectionStatus(c.Connection),
		Reason: domain.DisconnectReason(c.StatusCode),
		Detail: c.Reason,
		QR:     c.QR,
	}
}

func (r sendResult) receipt(chatID string) domain.Receipt {
	ts := time.Now()
	if r.Timestamp > 0 {
		ts = time.Unix(r.Timestamp, 0)
	}
	return domain.Receipt{ID: r.ID, ChatID: chatID, Timestamp: ts}
}
