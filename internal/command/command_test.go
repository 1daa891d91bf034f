package command

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/dupwatch/internal/access"
	"github.com/linnemanlabs/dupwatch/internal/alert"
	"github.com/linnemanlabs/dupwatch/internal/clock"
	"github.com/linnemanlabs/dupwatch/internal/reply"
	"github.com/linnemanlabs/dupwatch/internal/store/memstore"
	"github.com/linnemanlabs/dupwatch/internal/transport"
	"github.com/linnemanlabs/dupwatch/internal/transport/transporttest"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type fixture struct {
	queue  *alert.Queue
	sender *transporttest.Recorder
	router *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	q := alert.NewQueue(st, clock.Fake(t0), log.Nop(), alert.Hooks{})
	checker := access.NewChecker([]string{"ou_op"}, st)
	if _, err := st.AddAllowedUser(ctx, &access.User{UserID: "ou_user", AddedBy: "ou_op", CreatedAt: t0}); err != nil {
		t.Fatal(err)
	}
	sender := &transporttest.Recorder{}
	return &fixture{
		queue:  q,
		sender: sender,
		router: New(reply.New(q, checker, log.Nop()), q, checker, sender, log.Nop(), nil),
	}
}

func (f *fixture) alert(t *testing.T, owner, dup, text string) int64 {
	t.Helper()
	id, err := f.queue.Create(context.Background(), &alert.NewAlert{
		TaskID:             1,
		OwnerID:            owner,
		TaskLabel:          "deploys",
		ConversationID:     "oc_1",
		DuplicateMessageID: dup,
		OriginalMessageID:  "om_1",
		Text:               text,
		SenderName:         "Alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestExecute_Reply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	id := f.alert(t, "ou_user", "om_2", "Hello world")

	got := f.router.Execute(ctx, "ou_op", "/reply 1   please ignore  this")
	if !strings.Contains(got, "queued") {
		t.Fatalf("answer = %q", got)
	}
	a, err := f.queue.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != alert.StatusReplied || a.ReplyText != "please ignore  this" {
		t.Errorf("alert = %+v", a)
	}

	if got := f.router.Execute(ctx, "ou_op", "/reply 1 again"); !strings.Contains(got, "already has a reply") {
		t.Errorf("second reply = %q", got)
	}
	if got := f.router.Execute(ctx, "ou_op", "/reply 99 x"); !strings.Contains(got, "not found") {
		t.Errorf("missing = %q", got)
	}
}

func TestExecute_ReplyUsage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	for _, text := range []string{"/reply", "/reply abc hi", "/reply 1", "/reply -3 hi"} {
		if got := f.router.Execute(context.Background(), "ou_op", text); !strings.HasPrefix(got, "Usage:") {
			t.Errorf("%q -> %q", text, got)
		}
	}
}

func TestExecute_Forbidden(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.alert(t, "ou_user", "om_2", "Hello")
	for _, text := range []string{"/reply 1 x", "/pending", "/help"} {
		if got := f.router.Execute(context.Background(), "ou_stranger", text); !strings.Contains(got, "not allowed") {
			t.Errorf("%q -> %q", text, got)
		}
	}
	// allowed, but not the owner and not an admin
	f2 := newFixture(t)
	f2.alert(t, "ou_op", "om_2", "Hello")
	if got := f2.router.Execute(context.Background(), "ou_user", "/reply 1 x"); !strings.Contains(got, "not allowed") {
		t.Errorf("non-owner reply = %q", got)
	}
}

func TestExecute_Pending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	if got := f.router.Execute(ctx, "ou_user", "/pending"); !strings.Contains(got, "No alerts") {
		t.Errorf("empty = %q", got)
	}

	f.alert(t, "ou_user", "om_2", "mine")
	other := f.alert(t, "ou_op", "om_3", "theirs")
	if _, err := f.queue.MarkNotified(ctx, other); err != nil {
		t.Fatal(err)
	}

	got := f.router.Execute(ctx, "ou_user", "/PENDING")
	if !strings.Contains(got, "1 alert(s)") || !strings.Contains(got, "#1 [deploys] Alice: mine") {
		t.Errorf("user pending = %q", got)
	}
	got = f.router.Execute(ctx, "ou_op", "/pending")
	if !strings.Contains(got, "2 alert(s)") || !strings.Contains(got, "theirs") {
		t.Errorf("operator pending = %q", got)
	}
}

func TestExecute_StatsAndHelp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.alert(t, "ou_user", "om_2", "x")

	got := f.router.Execute(ctx, "ou_user", "/stats")
	if !strings.Contains(got, "Alerts: 1") || !strings.Contains(got, "pending: 1") {
		t.Errorf("stats = %q", got)
	}
	if got := f.router.Execute(ctx, "ou_user", "/help"); !strings.Contains(got, "/reply <alert_id> <text>") {
		t.Errorf("help = %q", got)
	}
	if got := f.router.Execute(ctx, "ou_user", "/frobnicate now"); !strings.Contains(got, "Unknown command /frobnicate") {
		t.Errorf("unknown = %q", got)
	}
}

func TestHandle_AnswersInChat(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.router.Handle(context.Background(), transport.Event{
		ConversationID: "oc_dm",
		MessageID:      "om_cmd",
		SenderID:       "ou_user",
		Text:           "/help",
		ChatType:       transport.ChatDirect,
	})
	sent := f.sender.Sent()
	if len(sent) != 1 || sent[0].To != "oc_dm" || sent[0].ReplyTo != "om_cmd" {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestSplit(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, head, rest string
	}{
		{"/reply 12 hello  there", "/reply", "12 hello  there"},
		{"  /Pending  ", "/pending", ""},
		{"/reply\t7\nmulti\nline", "/reply", "7\nmulti\nline"},
		{"", "", ""},
	}
	for _, tt := range tests {
		head, rest := split(tt.in)
		if head != tt.head || rest != tt.rest {
			t.Errorf("split(%q) = %q, %q", tt.in, head, rest)
		}
	}
}
