// Package broker connects the consumer to the groupware's AMQP exchange.
package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/contactsync/internal/config"
	"github.com/sonroyaalmerol/contactsync/internal/message"
)

type binding struct {
	queue      string
	routingKey string
}

// Dialer opens AMQP sessions with the configured topology.
type Dialer struct {
	cfg    config.BrokerConfig
	logger zerolog.Logger
}

func NewDialer(cfg config.BrokerConfig, logger zerolog.Logger) *Dialer {
	return &Dialer{cfg: cfg, logger: logger.With().Str("component", "amqp").Logger()}
}

func (d *Dialer) bindings() map[message.Kind]binding {
	return map[message.Kind]binding{
		message.KindAdded:   {d.cfg.AddedQueue, d.cfg.AddedRoutingKey},
		message.KindUpdated: {d.cfg.UpdatedQueue, d.cfg.UpdatedRoutingKey},
		message.KindDeleted: {d.cfg.DeletedQueue, d.cfg.DeletedRoutingKey},
	}
}

// Session is one connection and channel. Done is closed when either is lost.
type Session struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	bindings map[message.Kind]binding
	done     chan struct{}
	logger   zerolog.Logger
}

func (d *Dialer) Dial(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := amqp.DialConfig(d.cfg.URL, amqp.Config{Properties: amqp.Table{"connection_name": "contactsync"}})
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open AMQP channel: %w", err)
	}
	s := &Session{
		conn:     conn,
		ch:       ch,
		bindings: d.bindings(),
		done:     make(chan struct{}),
		logger:   d.logger,
	}
	if err := s.declare(d.cfg); err != nil {
		s.Close()
		return nil, err
	}
	if err := ch.Qos(d.cfg.Prefetch, 0, false); err != nil {
		s.Close()
		return nil, fmt.Errorf("set AMQP qos: %w", err)
	}

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		var reason *amqp.Error
		select {
		case reason = <-connClosed:
		case reason = <-chClosed:
		}
		if reason != nil {
			s.logger.Warn().Str("reason", reason.Reason).Int("code", reason.Code).Msg("AMQP session lost")
		}
		close(s.done)
	}()

	d.logger.Info().Str("exchange", d.cfg.Exchange).Msg("AMQP session established")
	return s, nil
}

func (s *Session) declare(cfg config.BrokerConfig) error {
	if err := s.ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	if err := s.ch.ExchangeDeclare(cfg.DeadLetterExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", cfg.DeadLetterExchange, err)
	}
	if _, err := s.ch.QueueDeclare(cfg.DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.DeadLetterQueue, err)
	}
	if err := s.ch.QueueBind(cfg.DeadLetterQueue, "", cfg.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", cfg.DeadLetterQueue, err)
	}
	args := amqp.Table{"x-dead-letter-exchange": cfg.DeadLetterExchange}
	for _, b := range s.bindings {
		if _, err := s.ch.QueueDeclare(b.queue, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.queue, err)
		}
		if err := s.ch.QueueBind(b.queue, b.routingKey, cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", b.queue, err)
		}
	}
	return nil
}

// Message is a received change notification.
type Message interface {
	Body() []byte
	Ack() error
	// Reject never requeues. The broker routes the message to the
	// dead-letter exchange.
	Reject() error
}

type Delivery struct {
	d amqp.Delivery
}

func (d Delivery) Body() []byte  { return d.d.Body }
func (d Delivery) Ack() error    { return d.d.Ack(false) }
func (d Delivery) Reject() error { return d.d.Reject(false) }

// Consume starts delivery from the queue bound to kind. The returned channel
// closes when the session ends.
func (s *Session) Consume(kind message.Kind) (<-chan Message, error) {
	b, ok := s.bindings[kind]
	if !ok {
		return nil, fmt.Errorf("no queue for %s", kind)
	}
	deliveries, err := s.ch.Consume(b.queue, "contactsync-"+kind.String(), false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", b.queue, err)
	}
	out := make(chan Message)
	go func() {
		defer close(out)
		for d := range deliveries {
			select {
			case out <- Delivery{d: d}:
			case <-s.done:
				return
			}
		}
	}()
	return out, nil
}

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Close() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
