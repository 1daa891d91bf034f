// Package transporttest provides a recording transport.Sender for tests.
package transporttest

import (
	"context"
	"sync"
)

// Message is one recorded send. ReplyTo is empty for direct sends.
type Message struct {
	To      string
	Text    string
	ReplyTo string
}

// Recorder records sends. Fail, when set, is consulted before each send
// with the destination (recipient or conversation id); a non-nil result
// is returned and the send is not recorded.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	Fail func(to string) error
}

// SendToRecipient implements transport.Sender.
func (r *Recorder) SendToRecipient(_ context.Context, recipientID, text string) error {
	return r.record(Message{To: recipientID, Text: text})
}

// SendReply implements transport.Sender.
func (r *Recorder) SendReply(_ context.Context, conversationID, text, replyToMessageID string) error {
	return r.record(Message{To: conversationID, Text: text, ReplyTo: replyToMessageID})
}

// Sent returns a copy of the recorded messages.
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

func (r *Recorder) record(m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		if err := r.Fail(m.To); err != nil {
			return err
		}
	}
	r.sent = append(r.sent, m)
	return nil
}
