// Package bridge implements domain.Transport over a websocket connection to
// a protocol bridge process. The bridge speaks the chat network's wire
// protocol; this side only exchanges JSON frames with it.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"wabot/internal/domain"
)

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultRequestTimeout   = 30 * time.Second
	defaultKeepAlive        = 25 * time.Second
	writeTimeout            = 10 * time.Second
	closeDrainTimeout       = 2 * time.Second
)

type Config struct {
	URL   string
	Token string // sent as a bearer token on the upgrade request

	// ClientName is shown on the phone's linked devices list.
	ClientName string

	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	KeepAlive        time.Duration // ping interval; reads time out after two missed pongs
	Logger           *slog.Logger
}

// Dialer opens bridge connections. It implements domain.Dialer.
type Dialer struct {
	cfg    Config
	ws     *websocket.Dialer
	logger *slog.Logger
}

func NewDialer(cfg Config) *Dialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dialer{
		cfg: cfg,
		ws: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		logger: cfg.Logger.With("component", "bridge"),
	}
}

// Dial connects to the bridge and authenticates with creds, or starts a new
// registration when creds is nil.
func (d *Dialer) Dial(ctx context.Context, creds *domain.Credentials) (domain.Transport, error) {
	header := http.Header{}
	if d.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+d.cfg.Token)
	}

	ws, resp, err := d.ws.DialContext(ctx, d.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("bridge dial %s: %w (status %d)", d.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("bridge dial %s: %w", d.cfg.URL, err)
	}

	c := newConn(ws, d.cfg, d.logger)
	if err := c.write(frame{Type: frameAuth, Data: mustJSON(authData{ClientName: d.cfg.ClientName, Credentials: creds})}); err != nil {
		c.Close()
		return nil, fmt.Errorf("bridge auth: %w", err)
	}
	c.start()
	d.logger.Debug("bridge connected", "url", d.cfg.URL)
	return c, nil
}

// Conn is one bridge connection.
type Conn struct {
	ws     *websocket.Conn
	cfg    Config
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan frame
	queue   []domain.Event
	ended   bool // read loop finished; no more events will be queued
	wake    chan struct{}

	events    chan domain.Event
	closed    chan struct{}
	closeOnce sync.Once
	readDone  chan struct{}
}

func newConn(ws *websocket.Conn, cfg Config, logger *slog.Logger) *Conn {
	return &Conn{
		ws:       ws,
		cfg:      cfg,
		logger:   logger,
		pending:  make(map[string]chan frame),
		wake:     make(chan struct{}, 1),
		events:   make(chan domain.Event),
		closed:   make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

func (c *Conn) start() {
	go c.readLoop()
	go c.forward()
	go c.keepAlive()
}

// Events returns the connection's event stream. It is closed after the
// socket is gone.
func (c *Conn) Events() <-chan domain.Event { return c.events }

// Close tears the connection down. Pending requests fail with
// domain.ErrTransportClosed.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
	return nil
}

func (c *Conn) Send(ctx context.Context, chatID string, content domain.OutgoingContent) (domain.Receipt, error) {
	resp, err := c.request(ctx, frameSend, newSendData(chatID, content))
	if err != nil {
		return domain.Receipt{}, err
	}
	var r sendResult
	if err := json.Unmarshal(resp.Data, &r); err != nil {
		return domain.Receipt{}, fmt.Errorf("decode send result: %w", err)
	}
	return r.receipt(chatID), nil
}

func (c *Conn) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	resp, err := c.request(ctx, framePairingRequest, pairingData{Phone: phone, ClientName: c.cfg.ClientName})
	if err != nil {
		return "", err
	}
	var r pairingResult
	if err := json.Unmarshal(resp.Data, &r); err != nil {
		return "", fmt.Errorf("decode pairing result: %w", err)
	}
	if r.Code == "" {
		return "", errors.New("bridge returned an empty pairing code")
	}
	return r.Code, nil
}

// request writes a frame with a fresh correlation id and waits for the
// matching response.
func (c *Conn) request(ctx context.Context, typ string, data any) (frame, error) {
	select {
	case <-c.closed:
		return frame{}, domain.ErrTransportClosed
	default:
	}

	id := uuid.NewString()
	ch := make(chan frame, 1)

	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return frame{}, domain.ErrTransportClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(frame{Type: typ, ID: id, Data: mustJSON(data)}); err != nil {
		return frame{}, fmt.Errorf("%s: %w", typ, err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return frame{}, fmt.Errorf("%s: bridge error: %s", typ, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case <-timer.C:
		return frame{}, fmt.Errorf("%s: no response within %s", typ, c.cfg.RequestTimeout)
	case <-c.closed:
		return frame{}, domain.ErrTransportClosed
	case <-c.readDone:
		return frame{}, domain.ErrTransportClosed
	}
}

func (c *Conn) write(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) readLoop() {
	defer close(c.readDone)

	deadline := 2 * c.cfg.KeepAlive
	_ = c.ws.SetReadDeadline(time.Now().Add(deadline))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(deadline))
	})

	reportedClose := false
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				if !reportedClose {
					c.logger.Warn("bridge connection lost", "err", err)
					c.enqueue(domain.Event{Kind: domain.EventConnection, Connection: &domain.ConnectionUpdate{
						Status: domain.ConnClose,
						Reason: closeReason(err),
						Detail: err.Error(),
					}})
				}
			}
			c.finish()
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(deadline))

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("invalid bridge frame", "err", err)
			continue
		}
		if c.handleFrame(f) {
			reportedClose = true
		}
	}
}

// handleFrame routes one inbound frame and reports whether it announced a
// connection close.
func (c *Conn) handleFrame(f frame) bool {
	switch f.Type {
	case frameResponse:
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("response for unknown request", "id", f.ID)
			return false
		}
		select {
		case ch <- f:
		default:
			c.logger.Debug("duplicate response", "id", f.ID)
		}

	case frameConnectionUpdate:
		var d connectionData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			c.logger.Warn("invalid connection update", "err", err)
			return false
		}
		cu := d.update()
		c.enqueue(domain.Event{Kind: domain.EventConnection, Connection: &cu})
		return cu.Status == domain.ConnClose

	case frameCredsUpdate:
		var creds domain.Credentials
		if err := json.Unmarshal(f.Data, &creds); err != nil {
			c.logger.Warn("invalid credentials update", "err", err)
			return false
		}
		c.enqueue(domain.Event{Kind: domain.EventCredentials, Credentials: &creds})

	case frameMessagesUpsert:
		var up domain.MessagesUpsert
		if err := json.Unmarshal(f.Data, &up); err != nil {
			c.logger.Warn("invalid messages upsert", "err", err)
			return false
		}
		now := time.Now()
		for i := range up.Messages {
			up.Messages[i].ReceivedAt = now
		}
		c.enqueue(domain.Event{Kind: domain.EventMessages, Messages: &up})

	default:
		c.logger.Debug("ignoring bridge frame", "type", f.Type)
	}
	return false
}

// enqueue hands an event to forward without blocking the read loop, so
// responses keep flowing while the consumer is busy (a handler waiting on
// Send, for instance).
func (c *Conn) enqueue(ev domain.Event) {
	c.mu.Lock()
	c.queue = append(c.queue, ev)
	c.mu.Unlock()
	c.signal()
}

func (c *Conn) finish() {
	c.mu.Lock()
	c.ended = true
	c.mu.Unlock()
	c.signal()
}

func (c *Conn) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// forward delivers queued events in order and closes the event stream once
// the read loop has finished and the queue is drained. After Close only
// credential updates are still delivered, each waiting at most
// closeDrainTimeout for a reader.
func (c *Conn) forward() {
	defer close(c.events)
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			ended := c.ended
			c.mu.Unlock()
			if ended {
				return
			}
			<-c.wake
			continue
		}
		ev := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if c.isClosed() {
			if ev.Kind != domain.EventCredentials {
				continue
			}
			select {
			case c.events <- ev:
			case <-time.After(closeDrainTimeout):
				c.logger.Warn("credential update not collected after close")
				return
			}
			continue
		}

		select {
		case c.events <- ev:
		case <-c.closed:
			if ev.Kind == domain.EventCredentials {
				c.mu.Lock()
				c.queue = append([]domain.Event{ev}, c.queue...)
				c.mu.Unlock()
			}
		}
	}
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) keepAlive() {
	ticker := time.NewTicker(c.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-c.readDone:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.logger.Debug("keep-alive ping failed", "err", err)
			}
		}
	}
}

// closeReason maps a socket error to a disconnect reason. The bridge may
// close with 4000+code to pass a protocol status through the close frame.
func closeReason(err error) domain.DisconnectReason {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code >= 4000 && ce.Code < 5000 {
		return domain.DisconnectReason(ce.Code - 4000)
	}
	return domain.ReasonConnectionLost
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("bridge: marshal %T: %v", v, err))
	}
	return data
}
