package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"msg_client/client/chat/domain"
	"msg_client/client/common/auth"
	"msg_client/client/common/log"
)

const EventsExchange = "chat.events"

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPForwarder republishes announcements and connection state changes on
// the chat.events topic exchange, keyed by tenant like the server does.
type AMQPForwarder struct {
	ch         amqpPublisher
	credential func() string
	now        func() time.Time
}

func NewAMQPForwarder(ch amqpPublisher, credential func() string) *AMQPForwarder {
	return &AMQPForwarder{ch: ch, credential: credential, now: time.Now}
}

func (f *AMQPForwarder) Run(ctx context.Context, feed Feed) {
	consume(ctx, feed, feedHandlers{
		announcement: func(a domain.Announcement) { f.forward(ctx, "announcement", a) },
		state: func(s domain.ConnectionState) {
			f.forward(ctx, "client.state", map[string]string{"state": s.String()})
		},
	})
}

func (f *AMQPForwarder) forward(ctx context.Context, key string, payload any) {
	c, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()
	if err := f.Publish(c, key, payload); err != nil {
		log.Warnf("event=amqp_forward key=%s status=failed err=%v", key, err)
	}
}

func (f *AMQPForwarder) Publish(ctx context.Context, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return f.ch.PublishWithContext(ctx, EventsExchange, f.routingKey(key), false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   f.now(),
	})
}

func (f *AMQPForwarder) routingKey(key string) string {
	if f.credential == nil {
		return key
	}
	identity, err := auth.IdentityFromToken(f.credential())
	if err != nil || strings.TrimSpace(identity.TenantID) == "" {
		return key
	}
	return identity.TenantID + "." + key
}
