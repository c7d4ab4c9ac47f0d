package natsclient

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/c360/twinflow/errors"
)

// Publisher sends a fully formed message. *Client implements it.
type Publisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg) error
}

// Encoder turns a reply value into a message payload.
type Encoder func(v any) ([]byte, error)

// ReplyRecipient answers a request by publishing to its reply subject. It
// satisfies envelope.Recipient.
type ReplyRecipient struct {
	publisher Publisher
	subject   string
	header    nats.Header
	encode    Encoder
}

// NewReplyRecipient returns a recipient publishing to subject. A nil encode
// uses JSON.
func NewReplyRecipient(publisher Publisher, subject string, encode Encoder) *ReplyRecipient {
	if encode == nil {
		encode = json.Marshal
	}
	return &ReplyRecipient{
		publisher: publisher,
		subject:   subject,
		header:    nats.Header{},
		encode:    encode,
	}
}

// Subject returns the reply subject.
func (r *ReplyRecipient) Subject() string {
	return r.subject
}

// WithHeader returns a copy that adds key to every reply it publishes.
func (r *ReplyRecipient) WithHeader(key, value string) *ReplyRecipient {
	header := nats.Header{}
	for k, v := range r.header {
		header[k] = append([]string(nil), v...)
	}
	header.Set(key, value)

	cp := *r
	cp.header = header
	return &cp
}

// Tell encodes msg and publishes it to the reply subject.
func (r *ReplyRecipient) Tell(ctx context.Context, msg any) error {
	data, err := r.encode(msg)
	if err != nil {
		return errors.WrapInvalid(err, "ReplyRecipient", "Tell", "encode reply")
	}

	out := nats.NewMsg(r.subject)
	out.Data = data
	for k, v := range r.header {
		out.Header[k] = v
	}

	if err := r.publisher.PublishMsg(ctx, out); err != nil {
		return errors.WrapTransient(err, "ReplyRecipient", "Tell", "publish reply")
	}
	return nil
}
