package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/contactsync/internal/auth"
	"github.com/sonroyaalmerol/contactsync/internal/broker"
	"github.com/sonroyaalmerol/contactsync/internal/consumer"
	"github.com/sonroyaalmerol/contactsync/internal/metrics"
	"github.com/sonroyaalmerol/contactsync/internal/reconcile"
	"github.com/sonroyaalmerol/contactsync/internal/router"
	"github.com/sonroyaalmerol/contactsync/internal/service"
	"github.com/sonroyaalmerol/contactsync/internal/task"
)

// Server is the daemon: the change consumer plus the admin HTTP surface.
type Server struct {
	http       *http.Server
	supervisor *consumer.Supervisor
	tasks      *task.Manager
	logger     zerolog.Logger
}

func NewServer(svc *service.Service, logger zerolog.Logger) *Server {
	cfg := svc.Config

	rec := reconcile.New(svc.Index, logger, cfg.Index.ReconcileParallel)
	cons := consumer.New(rec, svc.Directory, cfg.Broker.Concurrency, logger)
	sup := consumer.NewSupervisor(
		consumer.BrokerDialer(broker.NewDialer(cfg.Broker, logger)),
		cons, cfg.Broker.ReconnectMaxDelay, logger,
	)

	tasks := task.NewManager(1, logger)
	authn := auth.NewChain(cfg, svc.Directory, logger)
	mux := router.New(cfg, router.Deps{
		Tasks: tasks,
		NewIndexing: func(ups int) task.Task {
			return svc.IndexingTask(nil, ups)
		},
		ConsumerState: func() string { return sup.State().String() },
		Metrics:       metrics.Handler(metrics.NewRegistry()),
	}, authn, logger)

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		supervisor: sup,
		tasks:      tasks,
		logger:     logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info().Msgf("listening on %s", s.http.Addr)
	return s.http.ListenAndServe()
}

// RunConsumer consumes change notifications until ctx is done.
func (s *Server) RunConsumer(ctx context.Context) error {
	return s.supervisor.Run(ctx)
}

// Shutdown stops accepting admin requests and cancels running tasks.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.tasks.Close()
	return err
}
