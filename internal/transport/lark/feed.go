package lark

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"golang.org/x/sync/semaphore"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/dupwatch/internal/clock"
	"github.com/linnemanlabs/dupwatch/internal/transport"
)

const (
	senderTypeApp   = "app"
	messageTypeText = "text"

	// handlerTimeout bounds one event's processing once handed off.
	handlerTimeout = 30 * time.Second
)

// NameResolver looks up a display name for a sender. An empty result is
// allowed.
type NameResolver interface {
	Name(ctx context.Context, openID string) string
}

// FeedConfig configures the websocket feed.
type FeedConfig struct {
	AppID       string
	AppSecret   string
	Concurrency int64 // events processed at once, default 16
}

// Feed receives message events over the platform websocket and hands text
// messages to a transport.Handler. Events are acknowledged as soon as they
// are queued so slow store work does not trigger platform redelivery.
type Feed struct {
	cfg     FeedConfig
	handler transport.Handler
	names   NameResolver
	clk     clock.Clock
	logger  log.Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewFeed creates a Feed. names may be nil.
func NewFeed(cfg FeedConfig, handler transport.Handler, names NameResolver, clk clock.Clock, logger log.Logger) *Feed {
	if handler == nil {
		panic(xerrors.New("feed handler is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	return &Feed{
		cfg:     cfg,
		handler: handler,
		names:   names,
		clk:     clk,
		logger:  logger,
		sem:     semaphore.NewWeighted(cfg.Concurrency),
	}
}

// Run connects and blocks until ctx is done, then waits for in-flight
// events to finish.
func (f *Feed) Run(ctx context.Context) error {
	events := dispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(f.onMessage)

	ws := larkws.NewClient(f.cfg.AppID, f.cfg.AppSecret,
		larkws.WithEventHandler(events),
		larkws.WithLogLevel(larkcore.LogLevelInfo),
	)

	f.logger.Info(ctx, "lark feed connecting")
	errCh := make(chan error, 1)
	go func() { errCh <- ws.Start(ctx) }()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}
	f.wg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (f *Feed) onMessage(ctx context.Context, ev *larkim.P2MessageReceiveV1) error {
	e, ok := toEvent(ev, f.clk.Now())
	if !ok {
		return nil
	}
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.sem.Release(1)

		// detached: shutdown must not cut a store transition in half
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handlerTimeout)
		defer cancel()

		if e.SenderName == "" && f.names != nil && e.SenderID != "" {
			e.SenderName = f.names.Name(hctx, e.SenderID)
		}
		f.handler(hctx, e)
	}()
	return nil
}

// toEvent converts a receive event. Messages sent by apps, including this
// bot, and non-text messages are dropped.
func toEvent(ev *larkim.P2MessageReceiveV1, now time.Time) (transport.Event, bool) {
	if ev == nil || ev.Event == nil || ev.Event.Message == nil {
		return transport.Event{}, false
	}
	msg := ev.Event.Message
	if deref(msg.MessageType) != messageTypeText {
		return transport.Event{}, false
	}

	var senderID string
	if s := ev.Event.Sender; s != nil {
		if deref(s.SenderType) == senderTypeApp {
			return transport.Event{}, false
		}
		if s.SenderId != nil {
			senderID = deref(s.SenderId.OpenId)
		}
	}

	var content struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(deref(msg.Content)), &content); err != nil {
		return transport.Event{}, false
	}

	observed := now.UTC()
	if ms, err := strconv.ParseInt(deref(msg.CreateTime), 10, 64); err == nil && ms > 0 {
		observed = time.UnixMilli(ms).UTC()
	}

	e := transport.Event{
		ConversationID: deref(msg.ChatId),
		MessageID:      deref(msg.MessageId),
		SenderID:       senderID,
		Text:           content.Text,
		ChatType:       transport.ChatType(deref(msg.ChatType)),
		ObservedAt:     observed,
	}
	if e.ConversationID == "" || e.MessageID == "" {
		return transport.Event{}, false
	}
	return e, true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
