package consumer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/contactsync/internal/broker"
	"github.com/sonroyaalmerol/contactsync/internal/message"
	"github.com/sonroyaalmerol/contactsync/internal/metrics"
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Consuming
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Consuming:
		return "consuming"
	default:
		return "disconnected"
	}
}

// Session is a live broker session.
type Session interface {
	Consume(kind message.Kind) (<-chan broker.Message, error)
	Done() <-chan struct{}
	Close()
}

type DialFunc func(ctx context.Context) (Session, error)

// BrokerDialer adapts a broker.Dialer to a DialFunc.
func BrokerDialer(d *broker.Dialer) DialFunc {
	return func(ctx context.Context) (Session, error) {
		s, err := d.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

var kinds = []message.Kind{message.KindAdded, message.KindUpdated, message.KindDeleted}

// Supervisor owns the broker session and replaces it when it is lost. It is
// the only goroutine that connects, so reconnection attempts never overlap.
type Supervisor struct {
	dial       DialFunc
	consumer   *Consumer
	maxBackoff time.Duration
	state      atomic.Int32
	logger     zerolog.Logger
}

func NewSupervisor(dial DialFunc, c *Consumer, maxBackoff time.Duration, logger zerolog.Logger) *Supervisor {
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	return &Supervisor{
		dial:       dial,
		consumer:   c,
		maxBackoff: maxBackoff,
		logger:     logger.With().Str("component", "supervisor").Logger(),
	}
}

func (s *Supervisor) State() State { return State(s.state.Load()) }

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
	metrics.ConsumerState.Set(float64(st))
	s.logger.Debug().Str("state", st.String()).Msg("consumer state changed")
}

// Run consumes until ctx is done, reconnecting whenever the session drops.
// A replaced session is closed only once its successor is consuming.
func (s *Supervisor) Run(ctx context.Context) error {
	var (
		current Session
		loops   sync.WaitGroup
	)
	defer func() {
		if current != nil {
			current.Close()
		}
		loops.Wait()
		s.consumer.Wait()
		s.setState(Disconnected)
	}()

	for {
		s.setState(Connecting)
		next, err := s.connect(ctx)
		if err != nil {
			return err
		}
		if err := s.start(ctx, next, &loops); err != nil {
			s.logger.Error().Err(err).Msg("failed to start consuming")
			next.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if current != nil {
			current.Close()
		}
		current = next
		s.setState(Consuming)
		s.logger.Info().Msg("consuming change notifications")

		select {
		case <-ctx.Done():
			return nil
		case <-current.Done():
			s.setState(Disconnected)
			s.logger.Warn().Msg("broker session lost, reconnecting")
		}
	}
}

func (s *Supervisor) connect(ctx context.Context) (Session, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = min(500*time.Millisecond, s.maxBackoff)
	eb.MaxInterval = s.maxBackoff
	eb.MaxElapsedTime = 0

	var sess Session
	err := backoff.RetryNotify(func() error {
		var err error
		sess, err = s.dial(ctx)
		return err
	}, backoff.WithContext(eb, ctx), func(err error, wait time.Duration) {
		s.logger.Warn().Err(err).Dur("retry_in", wait).Msg("broker connection failed")
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Supervisor) start(ctx context.Context, sess Session, loops *sync.WaitGroup) error {
	chans := make(map[message.Kind]<-chan broker.Message, len(kinds))
	for _, k := range kinds {
		ch, err := sess.Consume(k)
		if err != nil {
			return err
		}
		chans[k] = ch
	}
	for k, ch := range chans {
		loops.Add(1)
		go func() {
			defer loops.Done()
			s.consumer.Consume(ctx, k, ch)
		}()
	}
	return nil
}
