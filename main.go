package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/kartoza/solver-theatre/internal/chart"
	"github.com/kartoza/solver-theatre/internal/config"
	"github.com/kartoza/solver-theatre/internal/experiment"
	"github.com/kartoza/solver-theatre/internal/matrix"
	"github.com/kartoza/solver-theatre/internal/protocol"
	"github.com/kartoza/solver-theatre/internal/report"
	"github.com/kartoza/solver-theatre/internal/results"
	"github.com/kartoza/solver-theatre/internal/server"
	"github.com/kartoza/solver-theatre/internal/session"
	"github.com/kartoza/solver-theatre/internal/solve"
)

var version = "dev"

var (
	app = kingpin.New("solver-theatre", "Client for the allocation solver: edit problems, run solves and sweeps.")

	logLevel       = app.Flag("log-level", "Log level (debug, info, warn, error).").Envar("THEATRE_LOG_LEVEL").Default("info").String()
	solverURL      = app.Flag("solver-url", "WebSocket base URL of the solver.").Envar("THEATRE_SOLVER_URL").Default("ws://localhost:8000").String()
	maxAttempts    = app.Flag("max-reconnect-attempts", "Reconnect attempts before a session gives up (0 disables retries).").Envar("THEATRE_MAX_RECONNECT_ATTEMPTS").Default("5").Int()
	reconnectDelay = app.Flag("reconnect-delay", "Delay between reconnect attempts.").Envar("THEATRE_RECONNECT_DELAY").Default("3s").Duration()
	timeout        = app.Flag("timeout", "How long solve and experiment wait for the solver.").Envar("THEATRE_TIMEOUT").Default("2m").Duration()

	serveCmd  = app.Command("serve", "Run the local HTTP API until interrupted.")
	servePort = serveCmd.Flag("port", "HTTP server port.").Envar("THEATRE_PORT").Default("8080").Int()

	solveCmd   = app.Command("solve", "Randomize a problem, solve it once and print both solutions.")
	solveRows  = solveCmd.Flag("rows", "Number of rows.").Default("3").Int()
	solveCols  = solveCmd.Flag("cols", "Number of columns.").Default("3").Int()
	solveSeed  = solveCmd.Flag("seed", "Random seed (0 seeds from the clock).").Default("0").Int64()
	solveChart = solveCmd.Flag("chart", "Write the progress chart to this PNG file.").String()

	experimentCmd      = app.Command("experiment", "Run one parameter sweep and print its table.")
	experimentKind     = experimentCmd.Arg("kind", "Experiment to run.").Required().Enum("kmax", "beta", "size")
	experimentCount    = experimentCmd.Flag("count", "Runs per variant.").Default("1").Int()
	experimentVariants = experimentCmd.Flag("variant", "Variant to sweep: an integer Kmax, a beta value or MxN. Repeatable.").Strings()
)

func main() {
	app.Version(version)
	app.HelpFlag.Short('h')
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg := config.Default()
	cfg.SolverURL = *solverURL
	cfg.MaxReconnectAttempts = *maxAttempts
	cfg.ReconnectDelay = *reconnectDelay
	cfg.LogLevel = *logLevel
	cfg.Version = version
	kingpin.FatalIfError(cfg.Validate(), "configuration")

	log := logrus.New()
	level, err := cfg.Level()
	kingpin.FatalIfError(err, "configuration")
	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	switch command {
	case serveCmd.FullCommand():
		kingpin.FatalIfError(serve(cfg, log), "serve")
	case solveCmd.FullCommand():
		kingpin.FatalIfError(solveOnce(cfg, log), "solve")
	case experimentCmd.FullCommand():
		kingpin.FatalIfError(runExperiment(cfg, log), "experiment")
	}
}

func serve(cfg config.Config, log *logrus.Logger) error {
	// Try up to 10 ports starting from the requested one
	port, err := findAvailablePort(*servePort, 10)
	if err != nil {
		return err
	}
	if port != *servePort {
		log.Warnf("Port %d in use, using port %d instead", *servePort, port)
	}
	cfg.Port = port

	log.WithFields(logrus.Fields{"version": cfg.Version, "solver_url": cfg.SolverURL}).Info("Solver Theatre starting")
	srv, err := server.New(cfg, server.Options{Logger: log})
	if err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	waitForServer(fmt.Sprintf("localhost:%d", cfg.Port), 10*time.Second, log)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Infof("Received %v signal, shutting down...", sig)
		return srv.Stop()
	}
}

func solveOnce(cfg config.Config, log *logrus.Logger) error {
	opts := matrix.DefaultOptions()
	opts.Rows, opts.Cols, opts.Seed = *solveRows, *solveCols, *solveSeed
	if opts.Rows < 1 || opts.Cols < 1 {
		return errors.Errorf("shape must be at least 1x1, got %dx%d", opts.Rows, opts.Cols)
	}
	ctrl := solve.New(solve.Options{Config: cfg, Matrix: opts, Logger: log})
	defer ctrl.Close()

	if err := ctrl.Randomize(matrix.SlotPrice, 1, 100, false); err != nil {
		return err
	}
	if err := ctrl.Randomize(matrix.SlotResource, 1, 100, true); err != nil {
		return err
	}
	if err := ctrl.Randomize(matrix.SlotDiscount, 0, 0.5, false); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	ctrl.Connect()
	if err := waitOpen(ctx, ctrl.Session()); err != nil {
		return err
	}
	runID, err := ctrl.Solve()
	if err != nil {
		return err
	}
	if err := ctrl.Wait(ctx); err != nil {
		return errors.Wrapf(err, "waiting for run %s", runID)
	}

	snap := ctrl.Matrix().Snapshot()
	_, total := ctrl.Parameters()
	report.Title(os.Stdout, fmt.Sprintf("Run %s, total resource %s", runID, report.Number(total, 2)))
	for _, slot := range matrix.Slots {
		report.Title(os.Stdout, string(slot))
		report.Draw(os.Stdout, report.Grid(snap, slot))
	}
	report.Title(os.Stdout, "Objective values")
	report.Draw(os.Stdout, report.Summary(snap))

	if *solveChart == "" {
		return nil
	}
	f, err := os.Create(*solveChart)
	if err != nil {
		return errors.Wrap(err, "creating chart file")
	}
	defer f.Close()
	if err := chart.Progress(f, ctrl.Accumulator().Series(), chart.DefaultWidth, chart.DefaultHeight); err != nil {
		return err
	}
	log.WithField("file", *solveChart).Info("Progress chart written")
	return nil
}

func runExperiment(cfg config.Config, log *logrus.Logger) error {
	kind, err := protocol.ParseExperiment(*experimentKind)
	if err != nil {
		return err
	}
	runner := experiment.New(experiment.Options{Config: cfg, Experiment: kind, Logger: log})
	defer runner.Close()

	err = runner.UpdateSpec(func(spec *protocol.SweepSpec) error {
		spec.Count = *experimentCount
		if len(*experimentVariants) == 0 {
			return nil
		}
		spec.KmaxVariants, spec.BetaVariants, spec.SizeVariants = nil, nil, nil
		for _, v := range *experimentVariants {
			if err := addVariant(spec, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	runner.Connect()
	if err := waitOpen(ctx, runner.Session()); err != nil {
		return err
	}
	runID, err := runner.Run()
	if err != nil {
		return err
	}
	if err := runner.Wait(ctx); err != nil {
		return errors.Wrapf(err, "waiting for run %s", runID)
	}

	report.Title(os.Stdout, fmt.Sprintf("Experiment %s, run %s", kind, runID))
	report.Draw(os.Stdout, report.Sweep(runner.Table(), paramNames(kind)))
	return nil
}

// addVariant parses one --variant value for the spec's experiment
func addVariant(spec *protocol.SweepSpec, value string) error {
	switch spec.Experiment {
	case protocol.ExperimentKmax:
		k, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(protocol.ErrInvalidParameter, "kmax variant %q", value)
		}
		spec.AddKmaxVariant(k)
	case protocol.ExperimentBeta:
		beta, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return errors.Wrapf(protocol.ErrInvalidParameter, "beta variant %q", value)
		}
		spec.AddBetaVariant(beta)
	case protocol.ExperimentSize:
		params, err := results.ParseSweepKey(value)
		if err != nil || len(params) != 2 {
			return errors.Wrapf(protocol.ErrInvalidParameter, "size variant %q, want MxN", value)
		}
		spec.AddSizeVariant(int(params[0]), int(params[1]))
	}
	return nil
}

func paramNames(kind protocol.Experiment) []string {
	switch kind {
	case protocol.ExperimentKmax:
		return []string{"Kmax"}
	case protocol.ExperimentBeta:
		return []string{"Beta"}
	}
	return []string{"m", "n"}
}

// waitOpen polls until the session is open, giving up once it closes
func waitOpen(ctx context.Context, sess *session.Session) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		switch state := sess.State(); state {
		case session.Open:
			return nil
		case session.Closed:
			return errors.Wrapf(session.ErrNotConnected, "could not reach %s", sess.Endpoint())
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "connecting to %s", sess.Endpoint())
		case <-ticker.C:
		}
	}
}

// waitForServer polls until the server is accepting connections
func waitForServer(addr string, timeout time.Duration, log logrus.FieldLogger) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	log.Warnf("Server may not be ready at %s", addr)
}

// findAvailablePort finds an available port, starting from the given port.
// If the port is in use, it tries subsequent ports up to maxAttempts times.
func findAvailablePort(startPort int, maxAttempts int) (int, error) {
	for i := 0; i < maxAttempts; i++ {
		port := startPort + i
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			listener.Close()
			return port, nil
		}
	}
	return 0, errors.Errorf("no available port found after %d attempts starting from %d", maxAttempts, startPort)
}
