package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	//nolint:gosec // only exposed if pprofAddr config is set
	_ "net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/flattrace/pkg/api"
	"github.com/ethpandaops/flattrace/pkg/ethereum"
	"github.com/ethpandaops/flattrace/pkg/processor/flatcall"
	"github.com/ethpandaops/flattrace/pkg/state"
)

type Server struct {
	log       logrus.FieldLogger
	config    *Config
	namespace string

	pool   *ethereum.Pool
	state  *state.Manager
	memory *MemoryStatsCollector

	mu        sync.Mutex
	processor *flatcall.Processor
	servers   []*http.Server
}

func NewServer(log logrus.FieldLogger, namespace string, config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	pool := ethereum.NewPool(log.WithField("component", "ethereum"), namespace, &config.Ethereum)

	s := &Server{
		config:    config,
		log:       log,
		namespace: namespace,
		pool:      pool,
		memory:    NewMemoryStatsCollector(log, config.MemoryMonitor),
	}

	if config.FlatCall.Enabled {
		stateManager, err := state.NewManager(log, &config.StateManager)
		if err != nil {
			return nil, fmt.Errorf("failed to create state manager: %w", err)
		}

		s.state = stateManager
	}

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.serve(g, "metrics", s.config.MetricsAddr, metricsMux)

	if s.config.PProfAddr != nil {
		s.serve(g, "pprof", *s.config.PProfAddr, http.DefaultServeMux)
	}

	if s.config.HealthCheckAddr != nil {
		s.serve(g, "healthcheck", *s.config.HealthCheckAddr, http.HandlerFunc(s.health))
	}

	if s.config.APIAddr != nil {
		apiMux := http.NewServeMux()
		api.NewHandler(s.log, s.pool).RegisterRoutes(apiMux)
		s.serve(g, "api", *s.config.APIAddr, apiMux)
	}

	s.pool.Start(ctx)
	s.memory.Start(ctx)

	if s.config.FlatCall.Enabled {
		g.Go(func() error {
			return s.runProcessor(ctx)
		})
	}

	// Wait for shutdown signal
	g.Go(func() error {
		<-ctx.Done()

		return s.stop()
	})

	return g.Wait()
}

// runProcessor resolves the network from the first healthy node, then
// processes blocks until ctx is done.
func (s *Server) runProcessor(ctx context.Context) error {
	node, err := s.pool.WaitForHealthyNode(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}

		return fmt.Errorf("failed to wait for healthy execution node: %w", err)
	}

	network, err := s.pool.Network(node.ChainID())
	if err != nil {
		return fmt.Errorf("failed to resolve network: %w", err)
	}

	s.state.SetNetwork(network.Name)

	if err := s.state.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}

		return fmt.Errorf("failed to start state manager: %w", err)
	}

	p, err := flatcall.New(&flatcall.Dependencies{
		Log:     s.log,
		Pool:    s.pool,
		Network: network,
		State:   s.state,
	}, &s.config.FlatCall)
	if err != nil {
		return fmt.Errorf("failed to create flat call processor: %w", err)
	}

	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("failed to start flat call processor: %w", err)
	}

	s.mu.Lock()
	s.processor = p
	s.mu.Unlock()

	return p.Run(ctx)
}

func (s *Server) serve(g *errgroup.Group, name, addr string, handler http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 120 * time.Second,
	}

	s.mu.Lock()
	s.servers = append(s.servers, srv)
	s.mu.Unlock()

	g.Go(func() error {
		s.log.WithField("addr", addr).Infof("Starting %s server", name)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}

		return nil
	})
}

// health reports 200 once at least one execution node is healthy.
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	if !s.pool.HasHealthyNodes() {
		w.WriteHeader(http.StatusServiceUnavailable)

		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) stop() error {
	// The errgroup context is already cancelled here.
	cleanupCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.log.Info("Starting graceful shutdown...")

	s.mu.Lock()
	p, servers := s.processor, s.servers
	s.mu.Unlock()

	if p != nil {
		s.log.Info("Stopping processor...")

		if err := p.Stop(cleanupCtx); err != nil {
			s.log.WithError(err).Error("failed to stop processor")
		}
	}

	if s.state != nil {
		if err := s.state.Stop(cleanupCtx); err != nil {
			s.log.WithError(err).Error("failed to stop state manager")
		}
	}

	if err := s.pool.Stop(cleanupCtx); err != nil {
		s.log.WithError(err).Error("failed to stop ethereum pool")
	}

	s.memory.Stop()

	for _, srv := range servers {
		if err := srv.Shutdown(cleanupCtx); err != nil {
			s.log.WithError(err).WithField("addr", srv.Addr).Error("failed to shutdown http server")
		}
	}

	s.log.Info("Server stopped gracefully")

	return nil
}
