package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultSubjectPrefix is prepended to the event kind.
const DefaultSubjectPrefix = "notifications.waqf"

const flushTimeout = 5 * time.Second

// NATSPublisher publishes events as JSON on <prefix>.<kind>. The
// idempotency key travels in the Nats-Msg-Id header so a JetStream stream
// can de-duplicate redeliveries.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	log    zerolog.Logger
}

// NewNATSPublisher creates a publisher. An empty prefix uses
// DefaultSubjectPrefix.
func NewNATSPublisher(conn *nats.Conn, prefix string, log zerolog.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: prefix, log: log}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(kind Kind) string {
	return p.prefix + "." + string(kind)
}

// Publish sends the event and flushes so the server has acknowledged it
// before the dispatcher counts it delivered.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if p.conn == nil {
		return fmt.Errorf("nats connection not configured")
	}
	msg, err := p.message(ev)
	if err != nil {
		return err
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		p.log.Warn().Err(err).
			Str("subject", msg.Subject).
			Str("instance_id", ev.InstanceID).
			Msg("failed to publish notification")
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := p.conn.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf("flush %s: %w", msg.Subject, err)
	}
	p.log.Debug().
		Str("subject", msg.Subject).
		Str("idempotency_key", ev.IdempotencyKey).
		Msg("published notification")
	return nil
}

func (p *NATSPublisher) message(ev Event) (*nats.Msg, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	msg := nats.NewMsg(p.Subject(ev.Kind))
	msg.Header.Set(nats.MsgIdHdr, ev.IdempotencyKey)
	msg.Data = data
	return msg, nil
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	Log zerolog.Logger
}

// Publish logs the event at info level.
func (p LogPublisher) Publish(_ context.Context, ev Event) error {
	p.Log.Info().
		Str("event", string(ev.Kind)).
		Str("instance_id", ev.InstanceID).
		Str("subject_id", ev.SubjectID).
		Int("level", ev.LevelOrder).
		Str("role", ev.ActorRole).
		Str("assignee", ev.Assignee).
		Str("idempotency_key", ev.IdempotencyKey).
		Msg("notification")
	return nil
}
