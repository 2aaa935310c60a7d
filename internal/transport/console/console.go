// Package console is a terminal transport: typed lines arrive as messages
// from a private chat and replies are printed. It needs no network session,
// so commands can be tried locally.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"wabot/internal/domain"
)

const (
	DefaultChatID = "console@" + domain.UserServer
	DefaultSelfID = "wabot@" + domain.UserServer
)

type Config struct {
	In     io.Reader
	Out    io.Writer
	ChatID string
	// OnQuit is called on /quit or end of input.
	OnQuit func()
	Logger *slog.Logger
}

// Dialer implements domain.Dialer. Input is read by a single goroutine
// shared by every connection it dials.
type Dialer struct {
	cfg    Config
	logger *slog.Logger

	outMu sync.Mutex

	readOnce sync.Once
	lines    chan string
}

func NewDialer(cfg Config) *Dialer {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.ChatID == "" {
		cfg.ChatID = DefaultChatID
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dialer{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "console"),
		lines:  make(chan string),
	}
}

// Credentials returns the fixed identity a console session runs as.
func Credentials() domain.Credentials {
	return domain.Credentials{
		Registered: true,
		Me:         &domain.Identity{ID: DefaultSelfID, Name: "wabot"},
	}
}

func (d *Dialer) Dial(_ context.Context, _ *domain.Credentials) (domain.Transport, error) {
	d.readOnce.Do(func() {
		go d.readLines()
		d.printf("wabot console. Type a message and press Enter. Type /quit to exit.\nYou> ")
	})

	c := &Conn{
		d:      d,
		events: make(chan domain.Event),
		closed: make(chan struct{}),
	}
	go c.run()
	return c, nil
}

func (d *Dialer) readLines() {
	defer close(d.lines)
	scanner := bufio.NewScanner(d.cfg.In)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			d.printf("You> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			d.logger.Info("user requested quit")
			break
		}
		d.lines <- line
	}
	if err := scanner.Err(); err != nil {
		d.logger.Error("console input failed", "err", err)
	}
	if d.cfg.OnQuit != nil {
		d.cfg.OnQuit()
	}
}

func (d *Dialer) printf(format string, args ...any) {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	_, _ = fmt.Fprintf(d.cfg.Out, format, args...)
}

// Conn is one console session.
type Conn struct {
	d         *Dialer
	events    chan domain.Event
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *Conn) Events() <-chan domain.Event { return c.events }

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *Conn) run() {
	defer close(c.events)

	if !c.emit(domain.Event{Kind: domain.EventConnection, Connection: &domain.ConnectionUpdate{Status: domain.ConnOpen}}) {
		return
	}
	for {
		select {
		case <-c.closed:
			return
		case line, ok := <-c.d.lines:
			if !ok {
				<-c.closed
				return
			}
			if !c.emit(domain.Event{Kind: domain.EventMessages, Messages: c.upsert(line)}) {
				return
			}
		}
	}
}

func (c *Conn) emit(ev domain.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.closed:
		return false
	}
}

func (c *Conn) upsert(line string) *domain.MessagesUpsert {
	now := time.Now()
	text := line
	return &domain.MessagesUpsert{
		Type: domain.UpsertNotify,
		Messages: []domain.RawMessage{{
			Key: domain.MessageKey{
				RemoteJID: c.d.cfg.ChatID,
				ID:        messageID(),
			},
			Message:          &domain.MessageContent{Conversation: &text},
			PushName:         "console",
			MessageTimestamp: now.Unix(),
			ReceivedAt:       now,
		}},
	}
}

func (c *Conn) Send(_ context.Context, chatID string, content domain.OutgoingContent) (domain.Receipt, error) {
	select {
	case <-c.closed:
		return domain.Receipt{}, domain.ErrTransportClosed
	default:
	}
	c.d.printf("\r\033[K--- wabot ---\n%s\n--------------\nYou> ", content.Text)
	return domain.Receipt{ID: messageID(), ChatID: chatID, Timestamp: time.Now()}, nil
}

func (c *Conn) RequestPairingCode(context.Context, string) (string, error) {
	return "", domain.ErrUnsupported
}

func messageID() string {
	return "CON" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:17])
}
