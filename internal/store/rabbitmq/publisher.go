// Package rabbitmq carries moderation events from the API to the audit worker.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/speak-arena/internal/moderation"
)

const (
	publishTimeout = 5 * time.Second
	attemptsHeader = "x-attempts"
)

var ErrBadMessage = errors.New("rabbitmq: undecodable event")

type Publisher struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queues Queues
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	q, err := DeclareTopology(ch, queue)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queues: q}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// PublishEvent implements moderation.EventPublisher.
func (p *Publisher) PublishEvent(ctx context.Context, ev moderation.Event) error {
	msg, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",            // default exchange
		p.queues.Main, // routing key = queue
		false,
		false,
		msg,
	)
}

// EncodeEvent builds a persistent JSON message for ev.
func EncodeEvent(ev moderation.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Body:         body,
		Timestamp:    time.UnixMilli(ev.At),
	}, nil
}

func DecodeEvent(body []byte) (moderation.Event, error) {
	var ev moderation.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return moderation.Event{}, ErrBadMessage
	}
	if ev.ID == "" || ev.PlayerID == "" || ev.Kind == "" {
		return moderation.Event{}, ErrBadMessage
	}
	return ev, nil
}

// Attempts reads how many times a delivery has already been retried.
func Attempts(h amqp.Table) int {
	switch v := h[attemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// RetryMessage copies d for the retry queue with the attempt counter bumped. The
// message comes back to the main queue once delay expires.
func RetryMessage(d amqp.Delivery, delay time.Duration) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[attemptsHeader] = int32(Attempts(d.Headers) + 1)
	return amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Headers:      headers,
		Body:         d.Body,
		Timestamp:    d.Timestamp,
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
	}
}
