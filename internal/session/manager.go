package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wabot/internal/bus"
	"wabot/internal/domain"
)

const (
	DefaultReconnectDelay    = 5 * time.Second
	DefaultStartupRetryDelay = 10 * time.Second
	DefaultCloseGrace        = 2 * time.Second
)

// MessageHandler consumes upsert batches of an open connection. It is called
// on the manager's loop goroutine, one batch at a time.
type MessageHandler interface {
	Handle(ctx context.Context, s domain.Session, upsert domain.MessagesUpsert)
}

// SendObserver is told the result of every outbound send.
type SendObserver interface {
	ObserveSend(err error)
}

type Config struct {
	Dialer      domain.Dialer
	Credentials domain.CredentialStore
	Handler     MessageHandler
	Bus         *bus.EventBus // optional

	ReconnectDelay    time.Duration
	StartupRetryDelay time.Duration

	// PairingPhone, when set, is asked once for the number to pair with,
	// after the stored credentials were loaded and only if the account is not
	// registered. A pairing code is then requested on every attempt until
	// registration completes. Its error ends Run.
	PairingPhone func(ctx context.Context) (string, error)

	// CloseGrace bounds how long shutdown waits for abandoned transports to
	// hand over their last credential updates.
	CloseGrace time.Duration

	Limiter *SendLimiter // optional
	Sends   SendObserver // optional
	Logger  *slog.Logger
}

// loopItem is one transport event tagged with the connection it came from.
type loopItem struct {
	gen   uint64
	event domain.Event
	ended bool // the transport's event stream closed
}

func (it loopItem) credentials() *domain.Credentials {
	if it.ended || it.event.Kind != domain.EventCredentials {
		return nil
	}
	return it.event.Credentials
}

// fatalError marks a startup failure that ends Run instead of being retried.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Manager is the sole owner of the live connection and of session state.
// Run drives everything on one goroutine; the Session handle returned by
// Handle is the only part shared with other goroutines.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	events chan loopItem

	// pumps counts transport readers still running; stopped releases them
	// once Run has returned.
	pumps   sync.WaitGroup
	stopped chan struct{}

	// loop goroutine only
	state       domain.SessionState
	gen         uint64
	boundGen    uint64
	transport   domain.Transport
	connDone    chan struct{}
	credsLoaded bool
	phoneAsked  bool
	phone       string
	timer       *time.Timer
	retryCause  Trigger

	mu    sync.RWMutex
	live  domain.Transport // transport handed to senders, nil unless Open
	creds *domain.Credentials

	handle *Handle
}

func NewManager(cfg Config) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.StartupRetryDelay <= 0 {
		cfg.StartupRetryDelay = DefaultStartupRetryDelay
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = DefaultCloseGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &Manager{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "session"),
		events:  make(chan loopItem),
		stopped: make(chan struct{}),
		state:   domain.StateConnecting,
	}
	m.handle = &Handle{m: m}
	return m
}

// Handle returns the send capability shared with command handlers.
func (m *Manager) Handle() *Handle { return m.handle }

// Run connects and keeps the session alive until ctx is cancelled (nil
// error), the account is logged out (domain.ErrLoggedOut) or no pairing
// number can be obtained. Run must be called once.
func (m *Manager) Run(ctx context.Context) error {
	defer m.shutdown(ctx)

	m.publishState(domain.StateConnecting, domain.StateConnecting, "start")
	if err := m.connect(ctx); err != nil {
		return err
	}

	for {
		var timerC <-chan time.Time
		if m.timer != nil {
			timerC = m.timer.C
		}

		select {
		case <-ctx.Done():
			m.logger.Info("session manager stopping", "state", m.state)
			return nil

		case <-timerC:
			m.timer = nil
			if !m.fire(TriggerRetry, "retry after "+m.retryCause.String()) {
				continue
			}
			if err := m.connect(ctx); err != nil {
				return err
			}

		case item := <-m.events:
			if item.gen != m.gen {
				// Credentials issued just before a close are still valid.
				if creds := item.credentials(); creds != nil {
					m.saveCredentials(ctx, *creds)
					continue
				}
				m.logger.Debug("dropping event from stale connection", "gen", item.gen, "current", m.gen)
				continue
			}
			if err := m.handleItem(ctx, item); err != nil {
				return err
			}
		}
	}
}

// connect runs the startup sequence: load credentials, dial, and request a
// pairing code when pairing is configured and the account is unregistered.
// Any failure other than a missing pairing number schedules a retry of the
// whole sequence.
func (m *Manager) connect(ctx context.Context) error {
	err := m.startup(ctx)
	if err == nil || ctx.Err() != nil {
		return nil
	}
	var fatal *fatalError
	if errors.As(err, &fatal) {
		m.logger.Error("session startup aborted", "err", err)
		return fatal.err
	}
	m.logger.Error("session startup failed", "err", err, "retry_in", m.cfg.StartupRetryDelay)
	m.dropConnection()
	if m.fire(TriggerStartupFailed, err.Error()) {
		m.schedule(m.cfg.StartupRetryDelay, TriggerStartupFailed)
	}
	return nil
}

func (m *Manager) startup(ctx context.Context) error {
	if !m.credsLoaded {
		creds, err := m.cfg.Credentials.Load(ctx)
		if err != nil {
			return fmt.Errorf("load credentials: %w", err)
		}
		m.setCreds(creds)
		m.credsLoaded = true
		if creds == nil {
			m.logger.Info("no stored credentials, a new session will be registered")
		}
	}

	creds := m.currentCreds()
	registered := creds != nil && creds.Registered
	if !registered && m.cfg.PairingPhone != nil && !m.phoneAsked {
		phone, err := m.cfg.PairingPhone(ctx)
		if err != nil {
			return &fatalError{fmt.Errorf("pairing phone: %w", err)}
		}
		m.phoneAsked = true
		m.phone = phone
	}

	t, err := m.cfg.Dialer.Dial(ctx, creds)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	m.gen++
	m.transport = t
	m.connDone = make(chan struct{})
	m.pumps.Add(1)
	go m.pump(m.gen, t, m.connDone)
	m.logger.Info("connecting", "attempt", m.gen, "registered", registered)

	if m.phone != "" && !registered {
		code, err := t.RequestPairingCode(ctx, m.phone)
		if err != nil {
			return fmt.Errorf("request pairing code: %w", err)
		}
		m.logger.Info("pairing code issued")
		m.emit(bus.EventPairingCode, map[string]any{"code": code})
	}
	return nil
}

// pump forwards one transport's events to the loop until the stream ends.
// Once the manager abandons the connection only credential updates are
// forwarded.
func (m *Manager) pump(gen uint64, t domain.Transport, done <-chan struct{}) {
	defer m.pumps.Done()
	src := t.Events()
	for {
		select {
		case <-done:
			m.drainCredentials(gen, src)
			return
		case ev, ok := <-src:
			item := loopItem{gen: gen, event: ev, ended: !ok}
			select {
			case m.events <- item:
			case <-done:
				if !ok {
					return
				}
				if item.credentials() != nil && !m.deliverLate(item) {
					return
				}
				m.drainCredentials(gen, src)
				return
			}
			if !ok {
				return
			}
		}
	}
}

// drainCredentials reads an abandoned transport until its stream ends and
// hands credential updates to the loop. Everything else is dropped.
func (m *Manager) drainCredentials(gen uint64, src <-chan domain.Event) {
	for {
		select {
		case <-m.stopped:
			return
		case ev, ok := <-src:
			if !ok {
				return
			}
			item := loopItem{gen: gen, event: ev}
			if item.credentials() == nil {
				continue
			}
			if !m.deliverLate(item) {
				return
			}
		}
	}
}

func (m *Manager) deliverLate(item loopItem) bool {
	select {
	case m.events <- item:
		return true
	case <-m.stopped:
		return false
	}
}

func (m *Manager) handleItem(ctx context.Context, item loopItem) error {
	if item.ended {
		m.logger.Warn("transport event stream ended without close")
		return m.onClose(ctx, domain.ConnectionUpdate{Status: domain.ConnClose, Reason: domain.ReasonConnectionLost, Detail: "event stream ended"})
	}

	ev := item.event
	switch ev.Kind {
	case domain.EventCredentials:
		if ev.Credentials != nil {
			m.saveCredentials(ctx, *ev.Credentials)
		}

	case domain.EventConnection:
		if ev.Connection == nil {
			return nil
		}
		cu := *ev.Connection
		if cu.QR != "" {
			m.emit(bus.EventQR, map[string]any{"qr": cu.QR})
		}
		switch cu.Status {
		case domain.ConnOpen:
			m.onOpen()
		case domain.ConnClose:
			return m.onClose(ctx, cu)
		}

	case domain.EventMessages:
		if ev.Messages == nil {
			return nil
		}
		if m.state != domain.StateOpen || m.boundGen != m.gen {
			m.logger.Debug("messages before open dropped", "count", len(ev.Messages.Messages))
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		m.cfg.Handler.Handle(ctx, m.handle, *ev.Messages)
	}
	return nil
}

// saveCredentials merges the update and persists it before the loop reads
// the next event. A failed save is logged; the merged copy stays in memory
// and goes out with the next successful save or dial.
func (m *Manager) saveCredentials(ctx context.Context, update domain.Credentials) {
	merged := m.currentCreds().Merge(update)
	m.setCreds(&merged)

	if err := m.cfg.Credentials.Save(context.WithoutCancel(ctx), merged); err != nil {
		m.logger.Error("failed to persist credentials", "err", err)
		return
	}
	m.logger.Debug("credentials saved", "registered", merged.Registered)
	m.emit(bus.EventCredentialsSaved, map[string]any{"registered": merged.Registered})
}

func (m *Manager) onOpen() {
	if !m.fire(TriggerHandshakeOK, "handshake complete") {
		return
	}
	if m.boundGen == m.gen {
		return
	}
	m.boundGen = m.gen
	m.mu.Lock()
	m.live = m.transport
	m.mu.Unlock()
	m.logger.Info("connected", "self", m.handle.Self())
}

func (m *Manager) onClose(ctx context.Context, cu domain.ConnectionUpdate) error {
	trigger := TriggerForClose(cu.Reason)
	m.dropConnection()

	if !m.fire(trigger, cu.Reason.String()) {
		return nil
	}

	if m.state == domain.StateClosedTerminal {
		m.logger.Error("session logged out, re-authentication required",
			"reason", cu.Reason, "code", int(cu.Reason), "detail", cu.Detail)
		m.emit(bus.EventLoggedOut, map[string]any{
			"reason": cu.Reason.String(),
			"detail": cu.Detail,
			"self":   m.handle.Self(),
		})
		return domain.ErrLoggedOut
	}

	m.logger.Warn("connection closed, reconnecting",
		"reason", cu.Reason, "code", int(cu.Reason), "detail", cu.Detail, "retry_in", m.cfg.ReconnectDelay)
	if ctx.Err() == nil {
		m.schedule(m.cfg.ReconnectDelay, trigger)
	}
	return nil
}

// fire applies a transition, logging and ignoring illegal ones.
func (m *Manager) fire(t Trigger, reason string) bool {
	next, ok := Next(m.state, t)
	if !ok {
		m.logger.Debug("ignoring trigger", "state", m.state, "trigger", t)
		return false
	}
	prev := m.state
	m.state = next
	if prev != next {
		m.logger.Debug("session state changed", "from", prev, "to", next, "trigger", t)
		m.publishState(prev, next, reason)
	}
	return true
}

func (m *Manager) schedule(d time.Duration, cause Trigger) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.NewTimer(d)
	m.retryCause = cause
	m.emit(bus.EventReconnectScheduled, map[string]any{"delay": d, "cause": cause.String()})
}

// dropConnection abandons the current transport. Events it still produces
// carry a stale generation and are ignored.
func (m *Manager) dropConnection() {
	m.mu.Lock()
	m.live = nil
	m.mu.Unlock()

	if m.connDone != nil {
		close(m.connDone)
		m.connDone = nil
	}
	if m.transport != nil {
		if err := m.transport.Close(); err != nil && !errors.Is(err, domain.ErrTransportClosed) {
			m.logger.Debug("closing transport", "err", err)
		}
		m.transport = nil
	}
	m.gen++
}

// shutdown abandons the connection and keeps saving credential updates from
// draining transports until they all finish or CloseGrace runs out.
func (m *Manager) shutdown(ctx context.Context) {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.dropConnection()
	defer close(m.stopped)

	idle := make(chan struct{})
	go func() {
		m.pumps.Wait()
		close(idle)
	}()
	grace := time.NewTimer(m.cfg.CloseGrace)
	defer grace.Stop()
	for {
		select {
		case item := <-m.events:
			if creds := item.credentials(); creds != nil {
				m.saveCredentials(ctx, *creds)
			}
		case <-idle:
			return
		case <-grace.C:
			m.logger.Warn("transports still draining at shutdown", "grace", m.cfg.CloseGrace)
			return
		}
	}
}

func (m *Manager) publishState(from, to domain.SessionState, reason string) {
	m.emit(bus.EventSessionState, map[string]any{
		"state":  to,
		"from":   from.String(),
		"to":     to.String(),
		"reason": reason,
	})
}

func (m *Manager) emit(topic string, payload map[string]any) {
	if m.cfg.Bus == nil {
		return
	}
	m.cfg.Bus.Emit(bus.Event{Type: topic, Source: "session", Payload: payload})
}

func (m *Manager) currentCreds() *domain.Credentials {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.creds
}

func (m *Manager) setCreds(c *domain.Credentials) {
	m.mu.Lock()
	m.creds = c
	m.mu.Unlock()
}

// Handle is the session capability handed to command handlers. It is safe
// for concurrent use.
type Handle struct {
	m *Manager
}

// Send waits for the shared send limiter and writes through the live
// connection. It fails with domain.ErrNotConnected while the session is not
// open.
func (h *Handle) Send(ctx context.Context, chatID string, content domain.OutgoingContent) (domain.Receipt, error) {
	h.m.mu.RLock()
	t := h.m.live
	h.m.mu.RUnlock()
	if t == nil {
		h.observe(domain.ErrNotConnected)
		return domain.Receipt{}, domain.ErrNotConnected
	}

	if err := h.m.cfg.Limiter.Wait(ctx); err != nil {
		return domain.Receipt{}, fmt.Errorf("send throttled: %w", err)
	}
	r, err := t.Send(ctx, chatID, content)
	h.observe(err)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("send to %s: %w", chatID, err)
	}
	return r, nil
}

// Self returns the authenticated account id, or "" before registration.
func (h *Handle) Self() string {
	return h.m.currentCreds().SelfID()
}

func (h *Handle) observe(err error) {
	if h.m.cfg.Sends != nil {
		h.m.cfg.Sends.ObserveSend(err)
	}
}
