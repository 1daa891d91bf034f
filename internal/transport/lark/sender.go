// Package lark adapts the Lark/Feishu open platform to the transport
// interfaces: a websocket event Feed for inbound messages and a Sender
// backed by the IM message API.
package lark

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/zeebo/blake3"
	"golang.org/x/time/rate"

	"github.com/linnemanlabs/dupwatch/internal/transport"
)

const (
	// codeRateLimited is the platform's "request frequency limit" code.
	codeRateLimited = 99991400

	headerRateLimitReset = "x-ogw-ratelimit-reset"

	// uuidLen keeps idempotency keys under the platform's 50 char limit.
	uuidLen = 32
)

// messageAPI is the subset of the IM message service the Sender calls.
// *lark.Client's Im.Message satisfies it.
type messageAPI interface {
	Create(ctx context.Context, req *larkim.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error)
	Reply(ctx context.Context, req *larkim.ReplyMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.ReplyMessageResp, error)
}

// poster sends prepared message bodies. sdkPoster wraps them into SDK
// requests.
type poster interface {
	create(ctx context.Context, receiveIDType string, body *larkim.CreateMessageReqBody) (*larkcore.ApiResp, larkcore.CodeError, error)
	reply(ctx context.Context, messageID string, body *larkim.ReplyMessageReqBody) (*larkcore.ApiResp, larkcore.CodeError, error)
}

type sdkPoster struct{ api messageAPI }

func (p sdkPoster) create(ctx context.Context, receiveIDType string, body *larkim.CreateMessageReqBody) (*larkcore.ApiResp, larkcore.CodeError, error) {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDType).
		Body(body).
		Build()
	resp, err := p.api.Create(ctx, req)
	if err != nil || resp == nil {
		return nil, larkcore.CodeError{}, err
	}
	return resp.ApiResp, resp.CodeError, nil
}

func (p sdkPoster) reply(ctx context.Context, messageID string, body *larkim.ReplyMessageReqBody) (*larkcore.ApiResp, larkcore.CodeError, error) {
	req := larkim.NewReplyMessageReqBuilder().
		MessageId(messageID).
		Body(body).
		Build()
	resp, err := p.api.Reply(ctx, req)
	if err != nil || resp == nil {
		return nil, larkcore.CodeError{}, err
	}
	return resp.ApiResp, resp.CodeError, nil
}

// SenderConfig tunes outbound calls.
type SenderConfig struct {
	Timeout   time.Duration // per call, default 15s
	RPS       float64       // outbound pacing, default 5
	MaxLength int           // runes per message, default 4096
}

// Sender posts text messages through the IM API. Every call is paced by a
// shared limiter and bounded by Timeout. Each send carries an idempotency
// key derived from its target and text, so a retry after a lost response
// does not post twice.
type Sender struct {
	api     poster
	limiter *rate.Limiter
	cfg     SenderConfig
	metrics *Metrics
}

var _ transport.Sender = (*Sender)(nil)

// NewSender creates a Sender. metrics may be nil.
func NewSender(api messageAPI, cfg SenderConfig, metrics *Metrics) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 4096
	}
	return &Sender{
		api:     sdkPoster{api: api},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		cfg:     cfg,
		metrics: metrics,
	}
}

// SendToRecipient posts text to the operator's direct chat by open_id.
func (s *Sender) SendToRecipient(ctx context.Context, recipientID, text string) error {
	content, err := s.textContent(text)
	if err != nil {
		return err
	}
	body := larkim.NewCreateMessageReqBodyBuilder().
		ReceiveId(recipientID).
		MsgType(larkim.MsgTypeText).
		Content(content).
		Uuid(idempotencyKey("to", recipientID, content)).
		Build()

	return s.call(ctx, "send_to_recipient", func(ctx context.Context) (*larkcore.ApiResp, larkcore.CodeError, error) {
		return s.api.create(ctx, larkim.ReceiveIdTypeOpenId, body)
	})
}

// SendReply posts text as a reply to replyToMessageID. The platform places
// the reply in the message's own conversation; conversationID scopes the
// idempotency key and error context.
func (s *Sender) SendReply(ctx context.Context, conversationID, text, replyToMessageID string) error {
	content, err := s.textContent(text)
	if err != nil {
		return err
	}
	body := larkim.NewReplyMessageReqBodyBuilder().
		MsgType(larkim.MsgTypeText).
		Content(content).
		Uuid(idempotencyKey("re", conversationID+"/"+replyToMessageID, content)).
		Build()

	err = s.call(ctx, "send_reply", func(ctx context.Context) (*larkcore.ApiResp, larkcore.CodeError, error) {
		return s.api.reply(ctx, replyToMessageID, body)
	})
	if err != nil {
		return fmt.Errorf("reply in %s to %s: %w", conversationID, replyToMessageID, err)
	}
	return nil
}

func (s *Sender) textContent(text string) (string, error) {
	b, err := json.Marshal(map[string]string{"text": transport.Truncate(text, s.cfg.MaxLength)})
	if err != nil {
		return "", &transport.SendError{Reason: transport.ReasonRejected, Err: err}
	}
	return string(b), nil
}

type apiCall func(ctx context.Context) (*larkcore.ApiResp, larkcore.CodeError, error)

func (s *Sender) call(ctx context.Context, op string, fn apiCall) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := s.invoke(ctx, fn)
	s.metrics.observe(op, err, time.Since(start))
	return err
}

func (s *Sender) invoke(ctx context.Context, fn apiCall) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return &transport.SendError{Reason: transport.ReasonTimeout, Err: err}
	}

	apiResp, codeErr, err := fn(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return &transport.SendError{Reason: transport.ReasonTimeout, Err: err}
		}
		return &transport.SendError{Reason: transport.ReasonUnavailable, Err: err}
	}
	if apiResp == nil {
		return &transport.SendError{Reason: transport.ReasonUnavailable, Err: errors.New("empty response")}
	}
	if codeErr.Code == 0 && apiResp.StatusCode < http.StatusBadRequest {
		return nil
	}
	return classify(apiResp, codeErr)
}

func classify(apiResp *larkcore.ApiResp, codeErr larkcore.CodeError) error {
	cause := fmt.Errorf("code %d: %s", codeErr.Code, codeErr.Msg)
	switch {
	case codeErr.Code == codeRateLimited || apiResp.StatusCode == http.StatusTooManyRequests:
		return &transport.SendError{
			Reason:     transport.ReasonRateLimited,
			RetryAfter: resetAfter(apiResp.Header),
			Err:        cause,
		}
	case apiResp.StatusCode >= http.StatusInternalServerError:
		return &transport.SendError{Reason: transport.ReasonUnavailable, Err: cause}
	default:
		return &transport.SendError{Reason: transport.ReasonRejected, Err: cause}
	}
}

// resetAfter reads the rate limit reset hint in seconds. A missing or
// malformed header falls back to one second so callers still back off.
func resetAfter(h http.Header) time.Duration {
	if h == nil {
		return time.Second
	}
	secs, err := strconv.Atoi(h.Get(headerRateLimitReset))
	if err != nil || secs <= 0 {
		return time.Second
	}
	return time.Duration(secs) * time.Second
}

func idempotencyKey(kind, target, content string) string {
	sum := blake3.Sum256([]byte(kind + "\x00" + target + "\x00" + content))
	return hex.EncodeToString(sum[:])[:uuidLen]
}
