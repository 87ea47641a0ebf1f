package events

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// RoutingKeyCartReconciled is the routing key of CartReconciled messages.
const RoutingKeyCartReconciled = "cart.reconciled"

var _ Publisher = (*RabbitMQ)(nil)

// RabbitMQ publishes events as persistent JSON messages to a durable fanout
// exchange. The connection and channel are re-established lazily after
// either drops.
type RabbitMQ struct {
	url      string
	exchange string
	timeout  time.Duration

	mu   sync.Mutex
	conn *amqp091.Connection
	ch   *amqp091.Channel
}

// DialRabbitMQ connects to url and declares exchange. Dialing gives up after
// timeout or when ctx is done, whichever comes first.
func DialRabbitMQ(ctx context.Context, url, exchange string, timeout time.Duration) (*RabbitMQ, error) {
	p := &RabbitMQ{url: url, exchange: exchange, timeout: timeout}
	if err := p.ensure(ctx); err != nil {
		if p.conn != nil {
			_ = p.conn.Close()
		}
		return nil, err
	}
	return p, nil
}

// dialTimeout bounds a dial by both the publisher timeout and the ctx
// deadline.
func dialTimeout(ctx context.Context, timeout time.Duration) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		left := time.Until(deadline)
		if left <= 0 {
			return 0, context.DeadlineExceeded
		}
		if timeout <= 0 || left < timeout {
			timeout = left
		}
	}
	return timeout, nil
}

// ensure opens the connection and channel if either is missing or closed.
// It must be called with mu held or before the publisher is shared.
func (p *RabbitMQ) ensure(ctx context.Context) error {
	if p.conn == nil || p.conn.IsClosed() {
		timeout, err := dialTimeout(ctx, p.timeout)
		if err != nil {
			return errors.Wrap(err, "dial rabbitmq")
		}
		conn, err := amqp091.DialConfig(p.url, amqp091.Config{
			Heartbeat: 10 * time.Second,
			Locale:    "en_US",
			Dial:      amqp091.DefaultDial(timeout),
		})
		if err != nil {
			return errors.Wrap(err, "dial rabbitmq")
		}
		p.conn, p.ch = conn, nil
	}
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(
		p.exchange,
		amqp091.ExchangeFanout,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		return errors.Wrapf(err, "declare exchange %s", p.exchange)
	}
	p.ch = ch
	return nil
}

// PublishCartReconciled implements Publisher.
func (p *RabbitMQ) PublishCartReconciled(ctx context.Context, e CartReconciled) error {
	enc := jx.GetEncoder()
	defer jx.PutEncoder(enc)
	e.Encode(enc)

	return p.publish(ctx, RoutingKeyCartReconciled, enc.Bytes())
}

func (p *RabbitMQ) publish(ctx context.Context, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.ensure(ctx); err != nil {
		return errors.Wrap(err, "reconnect")
	}

	err := p.ch.PublishWithContext(ctx, p.exchange, routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return errors.Wrapf(err, "publish %s", routingKey)
	}
	return nil
}

// Close closes the channel and connection.
func (p *RabbitMQ) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn, p.ch = nil, nil
	if err != nil && !errors.Is(err, amqp091.ErrClosed) {
		return errors.Wrap(err, "close rabbitmq")
	}
	return nil
}
