package pipeline

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"wabot/internal/command"
	"wabot/internal/dedup"
	"wabot/internal/domain"
	"wabot/internal/inbound"
)

const botJID = "6281111111111@s.whatsapp.net"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSession struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSession) Send(_ context.Context, chatID string, c domain.OutgoingContent) (domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, chatID+": "+c.Text)
	return domain.Receipt{ID: "r", ChatID: chatID, Timestamp: time.Now()}, nil
}

func (f *fakeSession) Self() string { return botJID }

type verdictCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (v *verdictCounter) ObserveVerdict(verdict string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.counts == nil {
		v.counts = map[string]int{}
	}
	v.counts[verdict]++
}

func text(id, chat, body string) domain.RawMessage {
	return domain.RawMessage{
		Key:     domain.MessageKey{RemoteJID: chat, ID: id},
		Message: &domain.MessageContent{Conversation: &body},
	}
}

func newPipeline(t *testing.T, reg *command.Registry, vc VerdictRecorder) *Pipeline {
	t.Helper()
	if err := command.RegisterBuiltins(reg, command.BuiltinConfig{Prefix: "."}); err != nil {
		t.Fatal(err)
	}
	return New(Config{
		Normalizer: &inbound.Normalizer{Self: func() string { return botJID }},
		Router: command.NewRouter(command.RouterConfig{
			Registry: reg, Prefix: ".", HandlerTimeout: time.Second, Logger: testLogger(),
		}),
		Prefix:  ".",
		Dedup:   dedup.NewMemory(time.Minute),
		Metrics: vc,
		Logger:  testLogger(),
	})
}

func TestHandle_DispatchesAndFilters(t *testing.T) {
	vc := &verdictCounter{}
	p := newPipeline(t, command.NewRegistry(testLogger()), vc)
	s := &fakeSession{}
	user := "6282222222222@s.whatsapp.net"

	self := text("3EB0SELF", user, ".ping")
	self.Key.FromMe = true

	p.Handle(context.Background(), s, domain.MessagesUpsert{
		Type: domain.UpsertNotify,
		Messages: []domain.RawMessage{
			text("3EB0001", user, ".ping"),
			text("3EB0002", domain.StatusBroadcastJID, ".ping"),
			text("BAE5000000000001", user, ".ping"),
			self,
			{Key: domain.MessageKey{RemoteJID: user, ID: "3EB0003"}},
			text("3EB0004", user, "just chatting"),
			text("3EB0005", user, ".nope"),
		},
	})

	want := []string{
		user + ": Pong!",
		user + ": " + command.UnknownReply("nope", "."),
	}
	if len(s.sent) != len(want) {
		t.Fatalf("sent = %q", s.sent)
	}
	for i := range want {
		if s.sent[i] != want[i] {
			t.Errorf("sent[%d] = %q, want %q", i, s.sent[i], want[i])
		}
	}

	wantCounts := map[string]int{"accept": 3, "status_broadcast": 1, "internal_stub": 1, "from_self": 1, "no_payload": 1}
	for k, n := range wantCounts {
		if vc.counts[k] != n {
			t.Errorf("verdict %s = %d, want %d", k, vc.counts[k], n)
		}
	}
}

func TestHandle_SkipsNonNotifyBatches(t *testing.T) {
	p := newPipeline(t, command.NewRegistry(testLogger()), nil)
	s := &fakeSession{}
	p.Handle(context.Background(), s, domain.MessagesUpsert{
		Type:     domain.UpsertAppend,
		Messages: []domain.RawMessage{text("3EB0001", "6282222222222@s.whatsapp.net", ".ping")},
	})
	if len(s.sent) != 0 {
		t.Errorf("append batch dispatched: %q", s.sent)
	}
}

func TestHandle_DropsRedelivery(t *testing.T) {
	p := newPipeline(t, command.NewRegistry(testLogger()), nil)
	s := &fakeSession{}
	batch := domain.MessagesUpsert{
		Type:     domain.UpsertNotify,
		Messages: []domain.RawMessage{text("3EB0001", "6282222222222@s.whatsapp.net", ".ping")},
	}
	p.Handle(context.Background(), s, batch)
	p.Handle(context.Background(), s, batch)
	if len(s.sent) != 1 {
		t.Errorf("sent %d replies, want 1", len(s.sent))
	}
}

func TestHandle_FailingHandlerDoesNotBlockLaterMessages(t *testing.T) {
	reg := command.NewRegistry(testLogger())
	reg.MustRegister("boom", "", command.HandlerFunc(func(context.Context, domain.Session, domain.InboundMessage, []string) error {
		panic("boom")
	}))
	p := newPipeline(t, reg, nil)
	s := &fakeSession{}
	group := "120363000000000000@g.us"

	first := text("3EB0001", group, ".boom")
	first.Key.Participant = "6283333333333@s.whatsapp.net"
	second := text("3EB0002", group, ".ping")
	second.Key.Participant = "6283333333333@s.whatsapp.net"

	p.Handle(context.Background(), s, domain.MessagesUpsert{
		Type:     domain.UpsertNotify,
		Messages: []domain.RawMessage{first, second},
	})
	if len(s.sent) != 1 || s.sent[0] != group+": Pong!" {
		t.Errorf("sent = %q", s.sent)
	}
}

func TestHandle_StopsOnCancelledContext(t *testing.T) {
	p := newPipeline(t, command.NewRegistry(testLogger()), nil)
	s := &fakeSession{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Handle(ctx, s, domain.MessagesUpsert{
		Type:     domain.UpsertNotify,
		Messages: []domain.RawMessage{text("3EB0001", "6282222222222@s.whatsapp.net", ".ping")},
	})
	if len(s.sent) != 0 {
		t.Errorf("dispatch after shutdown: %q", s.sent)
	}
}
