package reply

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/dupwatch/internal/access"
	"github.com/linnemanlabs/dupwatch/internal/alert"
	"github.com/linnemanlabs/dupwatch/internal/clock"
	"github.com/linnemanlabs/dupwatch/internal/store/memstore"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memstore.Store
	queue  *alert.Queue
	intake *Intake
	alert  int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	q := alert.NewQueue(st, clock.Fake(t0), log.Nop(), alert.Hooks{})
	checker := access.NewChecker([]string{"ou_op"}, st)
	for _, u := range []*access.User{
		{UserID: "ou_owner", AddedBy: "ou_op", CreatedAt: t0},
		{UserID: "ou_other", AddedBy: "ou_op", CreatedAt: t0},
		{UserID: "ou_admin", IsAdmin: true, AddedBy: "ou_op", CreatedAt: t0},
	} {
		if _, err := st.AddAllowedUser(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	id, err := q.Create(ctx, &alert.NewAlert{
		TaskID:             1,
		OwnerID:            "ou_owner",
		TaskLabel:          "deploys",
		ConversationID:     "oc_1",
		DuplicateMessageID: "om_2",
		OriginalMessageID:  "om_1",
		Text:               "Hello world",
	})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{store: st, queue: q, intake: New(q, checker, log.Nop()), alert: id}
}

func TestSubmit_Accepted(t *testing.T) {
	t.Parallel()
	for _, who := range []string{"ou_owner", "ou_op", "ou_admin"} {
		t.Run(who, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			a, err := f.intake.Submit(context.Background(), who, f.alert, "  ignore ")
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if a.Status != alert.StatusReplied || a.ReplyText != "ignore" || a.RepliedAt == nil {
				t.Errorf("alert = %+v", a)
			}
		})
	}
}

func TestSubmit_Rejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name    string
		who     string
		id      int64
		text    string
		wantErr error
	}{
		{"stranger", "ou_stranger", f.alert, "x", access.ErrForbidden},
		{"other owner", "ou_other", f.alert, "x", access.ErrForbidden},
		{"missing", "ou_op", 999, "x", alert.ErrNotFound},
		{"empty text", "ou_owner", f.alert, "   ", alert.ErrInvalid},
	}
	for _, tt := range tests {
		_, err := f.intake.Submit(ctx, tt.who, tt.id, tt.text)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.wantErr)
		}
	}

	a, err := f.queue.Get(ctx, f.alert)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != alert.StatusPending {
		t.Errorf("rejected replies mutated alert: %s", a.Status)
	}
}

func TestSubmit_AfterReplyAndDelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.intake.Submit(ctx, "ou_owner", f.alert, "first"); err != nil {
		t.Fatal(err)
	}
	_, err := f.intake.Submit(ctx, "ou_owner", f.alert, "second")
	if !errors.Is(err, alert.ErrAlreadyReplied) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "alert 1") {
		t.Errorf("error lacks alert id: %v", err)
	}

	if _, err := f.queue.MarkDelivered(ctx, f.alert); err != nil {
		t.Fatal(err)
	}
	if _, err := f.intake.Submit(ctx, "ou_owner", f.alert, "third"); !errors.Is(err, alert.ErrAlreadyDelivered) {
		t.Errorf("err = %v", err)
	}

	a, _ := f.queue.Get(ctx, f.alert)
	if a.ReplyText != "first" {
		t.Errorf("reply overwritten: %q", a.ReplyText)
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{nil, "queued"},
		{alert.ErrNotFound, "not found"},
		{alert.ErrAlreadyReplied, "already has a reply"},
		{alert.ErrAlreadyDelivered, "delivered"},
		{access.ErrForbidden, "not allowed"},
		{errors.New("boom"), "try again"},
	}
	for _, tt := range tests {
		if got := Describe(5, tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("Describe(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
