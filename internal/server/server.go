package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kartoza/solver-theatre/internal/api"
	"github.com/kartoza/solver-theatre/internal/config"
	"github.com/kartoza/solver-theatre/internal/experiment"
	"github.com/kartoza/solver-theatre/internal/matrix"
	"github.com/kartoza/solver-theatre/internal/protocol"
	"github.com/kartoza/solver-theatre/internal/session"
	"github.com/kartoza/solver-theatre/internal/solve"
)

// Options carry optional collaborators; the zero value dials real sockets
type Options struct {
	Dialer session.Dialer
	Clock  session.Clock
	Logger logrus.FieldLogger
}

// Server holds all the components for the local API
type Server struct {
	cfg        config.Config
	log        logrus.FieldLogger
	httpServer *http.Server
	router     *mux.Router
	solver     *solve.Controller
	runners    []*experiment.Runner
}

// New creates a new Server with one solve controller and one runner per experiment
func New(cfg config.Config, opts Options) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Server{
		cfg:    cfg,
		log:    log,
		router: mux.NewRouter(),
		solver: solve.New(solve.Options{
			Config: cfg,
			Matrix: matrix.DefaultOptions(),
			Dialer: opts.Dialer,
			Clock:  opts.Clock,
			Logger: log,
		}),
	}
	for _, kind := range protocol.Experiments {
		s.runners = append(s.runners, experiment.New(experiment.Options{
			Config:     cfg,
			Experiment: kind,
			Dialer:     opts.Dialer,
			Clock:      opts.Clock,
			Logger:     log,
		}))
	}

	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	apiRouter := s.router.PathPrefix("/api").Subrouter()
	apiHandler := api.NewHandler(s.solver, s.runners, s.cfg, s.log)
	apiHandler.RegisterRoutes(apiRouter)
}

// Handler returns the router, for embedding the API in another server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Solver returns the solve controller
func (s *Server) Solver() *solve.Controller {
	return s.solver
}

// Runners returns the experiment runners in experiment order
func (s *Server) Runners() []*experiment.Runner {
	return s.runners
}

// Connect opens every solver session
func (s *Server) Connect() {
	s.solver.Connect()
	for _, r := range s.runners {
		r.Connect()
	}
}

// Start opens the solver sessions and begins listening for HTTP connections
func (s *Server) Start() error {
	s.Connect()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.WithField("port", s.cfg.Port).Infof("Server listening on http://localhost:%d", s.cfg.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop tears down every solver session and gracefully shuts down the server
func (s *Server) Stop() error {
	s.solver.Close()
	for _, r := range s.runners {
		r.Close()
	}

	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
