package lark

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/dupwatch/internal/transport"
)

// fakePoster records the bodies the Sender hands to the SDK.
type fakePoster struct {
	mu      sync.Mutex
	creates []*larkim.CreateMessageReqBody
	idTypes []string
	replies []*larkim.ReplyMessageReqBody
	replyTo []string

	status int
	code   int
	header http.Header
	err    error
	block  bool
}

func (f *fakePoster) result(ctx context.Context) (*larkcore.ApiResp, larkcore.CodeError, error) {
	if f.block {
		<-ctx.Done()
		return nil, larkcore.CodeError{}, ctx.Err()
	}
	if f.err != nil {
		return nil, larkcore.CodeError{}, f.err
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return &larkcore.ApiResp{StatusCode: status, Header: f.header}, larkcore.CodeError{Code: f.code, Msg: "msg"}, nil
}

func (f *fakePoster) create(ctx context.Context, receiveIDType string, body *larkim.CreateMessageReqBody) (*larkcore.ApiResp, larkcore.CodeError, error) {
	f.mu.Lock()
	f.creates = append(f.creates, body)
	f.idTypes = append(f.idTypes, receiveIDType)
	f.mu.Unlock()
	return f.result(ctx)
}

func (f *fakePoster) reply(ctx context.Context, messageID string, body *larkim.ReplyMessageReqBody) (*larkcore.ApiResp, larkcore.CodeError, error) {
	f.mu.Lock()
	f.replies = append(f.replies, body)
	f.replyTo = append(f.replyTo, messageID)
	f.mu.Unlock()
	return f.result(ctx)
}

func newTestSender(api *fakePoster, cfg SenderConfig) *Sender {
	if cfg.RPS == 0 {
		cfg.RPS = 1000
	}
	s := NewSender(nil, cfg, NewMetrics(prometheus.NewRegistry()))
	s.api = api
	return s
}

func textOf(t *testing.T, content *string) string {
	t.Helper()
	if content == nil {
		t.Fatal("content is nil")
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(*content), &body); err != nil {
		t.Fatalf("content is not text JSON: %v", err)
	}
	return body.Text
}

func TestSendToRecipient(t *testing.T) {
	t.Parallel()
	api := &fakePoster{}
	s := newTestSender(api, SenderConfig{})

	if err := s.SendToRecipient(context.Background(), "ou_op", "duplicate found"); err != nil {
		t.Fatalf("SendToRecipient: %v", err)
	}
	if len(api.creates) != 1 {
		t.Fatalf("creates = %d, want 1", len(api.creates))
	}
	body := api.creates[0]
	if api.idTypes[0] != larkim.ReceiveIdTypeOpenId {
		t.Errorf("receive id type = %q", api.idTypes[0])
	}
	if deref(body.ReceiveId) != "ou_op" || deref(body.MsgType) != larkim.MsgTypeText {
		t.Errorf("body = %+v", body)
	}
	if got := textOf(t, body.Content); got != "duplicate found" {
		t.Errorf("text = %q", got)
	}
	if n := len(deref(body.Uuid)); n == 0 || n > 50 {
		t.Errorf("uuid length = %d", n)
	}
}

func TestSendReply_IdempotencyKeyIsStable(t *testing.T) {
	t.Parallel()
	api := &fakePoster{}
	s := newTestSender(api, SenderConfig{})
	ctx := context.Background()

	for range 2 {
		if err := s.SendReply(ctx, "oc_1", "please stop", "om_dup"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SendReply(ctx, "oc_1", "other text", "om_dup"); err != nil {
		t.Fatal(err)
	}
	if len(api.replies) != 3 {
		t.Fatalf("replies = %d", len(api.replies))
	}
	k0, k1, k2 := deref(api.replies[0].Uuid), deref(api.replies[1].Uuid), deref(api.replies[2].Uuid)
	if k0 != k1 {
		t.Error("same reply produced different keys")
	}
	if k0 == k2 {
		t.Error("different text produced the same key")
	}
	if got := textOf(t, api.replies[0].Content); got != "please stop" {
		t.Errorf("text = %q", got)
	}
	if api.replyTo[0] != "om_dup" {
		t.Errorf("reply target = %q", api.replyTo[0])
	}
}

func TestSend_TruncatesLongText(t *testing.T) {
	t.Parallel()
	api := &fakePoster{}
	s := newTestSender(api, SenderConfig{MaxLength: 10})

	if err := s.SendReply(context.Background(), "oc_1", strings.Repeat("x", 50), "om_1"); err != nil {
		t.Fatal(err)
	}
	if len(api.replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(api.replies))
	}
	if got := textOf(t, api.replies[0].Content); got != "xxxxxxx..." {
		t.Errorf("text = %q", got)
	}
}

func TestSend_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		api       *fakePoster
		reason    transport.Reason
		wantAfter time.Duration
	}{
		{
			name:      "rate limit code with reset header",
			api:       &fakePoster{code: codeRateLimited, header: http.Header{"X-Ogw-Ratelimit-Reset": []string{"7"}}},
			reason:    transport.ReasonRateLimited,
			wantAfter: 7 * time.Second,
		},
		{
			name:      "http 429 without header",
			api:       &fakePoster{status: http.StatusTooManyRequests, code: 1},
			reason:    transport.ReasonRateLimited,
			wantAfter: time.Second,
		},
		{
			name:   "bot not in chat",
			api:    &fakePoster{code: 230002},
			reason: transport.ReasonRejected,
		},
		{
			name:   "server error",
			api:    &fakePoster{status: http.StatusBadGateway, code: 1},
			reason: transport.ReasonUnavailable,
		},
		{
			name:   "network error",
			api:    &fakePoster{err: errors.New("connection reset")},
			reason: transport.ReasonUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestSender(tt.api, SenderConfig{})
			err := s.SendReply(context.Background(), "oc_1", "hi", "om_1")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := transport.ReasonOf(err); got != tt.reason {
				t.Errorf("reason = %q, want %q (err %v)", got, tt.reason, err)
			}
			after, _ := transport.WaitHint(err)
			if after != tt.wantAfter {
				t.Errorf("wait hint = %v, want %v", after, tt.wantAfter)
			}
		})
	}
}

func TestSend_Timeout(t *testing.T) {
	t.Parallel()
	api := &fakePoster{block: true}
	s := newTestSender(api, SenderConfig{Timeout: 20 * time.Millisecond})

	err := s.SendToRecipient(context.Background(), "ou_op", "hi")
	if got := transport.ReasonOf(err); got != transport.ReasonTimeout {
		t.Errorf("reason = %q, want timeout (err %v)", got, err)
	}
}

func TestResetAfter(t *testing.T) {
	t.Parallel()
	if got := resetAfter(nil); got != time.Second {
		t.Errorf("nil header = %v", got)
	}
	h := http.Header{}
	h.Set(headerRateLimitReset, "garbage")
	if got := resetAfter(h); got != time.Second {
		t.Errorf("malformed = %v", got)
	}
	h.Set(headerRateLimitReset, "12")
	if got := resetAfter(h); got != 12*time.Second {
		t.Errorf("12 = %v", got)
	}
}

// fakeMessageService stands in for the SDK's IM message service.
type fakeMessageService struct {
	creates, replies int
	resp             *larkcore.ApiResp
	err              error
}

func (f *fakeMessageService) Create(_ context.Context, _ *larkim.CreateMessageReq, _ ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error) {
	f.creates++
	if f.err != nil || f.resp == nil {
		return nil, f.err
	}
	return &larkim.CreateMessageResp{ApiResp: f.resp, CodeError: larkcore.CodeError{Code: 230002}}, nil
}

func (f *fakeMessageService) Reply(_ context.Context, _ *larkim.ReplyMessageReq, _ ...larkcore.RequestOptionFunc) (*larkim.ReplyMessageResp, error) {
	f.replies++
	if f.err != nil || f.resp == nil {
		return nil, f.err
	}
	return &larkim.ReplyMessageResp{ApiResp: f.resp}, nil
}

func TestSDKPoster(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	body := larkim.NewReplyMessageReqBodyBuilder().MsgType(larkim.MsgTypeText).Content(`{"text":"hi"}`).Build()

	svc := &fakeMessageService{resp: &larkcore.ApiResp{StatusCode: http.StatusOK}}
	p := sdkPoster{api: svc}

	apiResp, codeErr, err := p.create(ctx, larkim.ReceiveIdTypeOpenId, larkim.NewCreateMessageReqBodyBuilder().ReceiveId("ou_op").Build())
	if err != nil || apiResp != svc.resp || codeErr.Code != 230002 {
		t.Errorf("create = %v, %+v, %v", apiResp, codeErr, err)
	}
	apiResp, _, err = p.reply(ctx, "om_1", body)
	if err != nil || apiResp != svc.resp {
		t.Errorf("reply = %v, %v", apiResp, err)
	}
	if svc.creates != 1 || svc.replies != 1 {
		t.Errorf("calls = %d/%d, want 1/1", svc.creates, svc.replies)
	}

	// a nil response without an error surfaces as an empty result, which
	// the Sender classifies as unavailable
	svc.resp = nil
	if apiResp, _, err := p.reply(ctx, "om_1", body); apiResp != nil || err != nil {
		t.Errorf("nil response = %v, %v", apiResp, err)
	}

	svc.err = errors.New("connection reset")
	if _, _, err := p.reply(ctx, "om_1", body); !errors.Is(err, svc.err) {
		t.Errorf("err = %v, want passthrough", err)
	}

	s := NewSender(svc, SenderConfig{RPS: 1000}, nil)
	svc.err = nil
	if got := transport.ReasonOf(s.SendReply(ctx, "oc_1", "hi", "om_1")); got != transport.ReasonUnavailable {
		t.Errorf("reason = %q, want unavailable", got)
	}
}
