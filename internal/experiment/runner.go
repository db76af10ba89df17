// Package experiment runs parameter sweeps: it holds the editable sweep
// settings of one experiment, submits them to the experiment's solver
// endpoint and keeps the sweep table the solver sends back.
package experiment

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kartoza/solver-theatre/internal/config"
	"github.com/kartoza/solver-theatre/internal/dispatch"
	"github.com/kartoza/solver-theatre/internal/protocol"
	"github.com/kartoza/solver-theatre/internal/results"
	"github.com/kartoza/solver-theatre/internal/session"
)

// Options configure a Runner.
type Options struct {
	Config     config.Config
	Experiment protocol.Experiment
	Dialer     session.Dialer
	Clock      session.Clock
	Logger     logrus.FieldLogger
}

// Runner owns one experiment's settings, session and sweep table.
type Runner struct {
	kind       protocol.Experiment
	acc        *results.Accumulator
	sess       *session.Session
	dispatcher *dispatch.Dispatcher
	log        logrus.FieldLogger

	mu    sync.Mutex
	spec  protocol.SweepSpec
	runID string
	done  chan struct{}
}

// New builds an idle runner with the experiment's default settings.
func New(opts Options) *Runner {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("experiment", opts.Experiment.String())

	r := &Runner{
		kind: opts.Experiment,
		acc:  results.New(log),
		log:  log,
		spec: protocol.DefaultSweepSpec(opts.Experiment),
		done: make(chan struct{}),
	}
	r.dispatcher = &dispatch.Dispatcher{
		Sweeps: sweepSink{r},
		Log:    log,
	}
	r.sess = session.New(session.Options{
		Endpoint:    opts.Config.Endpoint(opts.Experiment.Endpoint()),
		MaxAttempts: opts.Config.RetryLimit(),
		RetryDelay:  opts.Config.ReconnectDelay,
		Dialer:      opts.Dialer,
		Clock:       opts.Clock,
		Logger:      log,
		OnFrame:     r.dispatcher.HandleFrame,
	})
	return r
}

// Kind returns the experiment this runner sweeps.
func (r *Runner) Kind() protocol.Experiment { return r.kind }

// Session returns the runner's solver session.
func (r *Runner) Session() *session.Session { return r.sess }

// Connect opens the session.
func (r *Runner) Connect() { r.sess.Connect() }

// Close tears the session down.
func (r *Runner) Close() { r.sess.Teardown() }

// Spec returns a copy of the current sweep settings.
func (r *Runner) Spec() protocol.SweepSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copySpec(r.spec)
}

// UpdateSpec applies edit to a copy of the settings and keeps the result
// only if edit returns nil. The experiment kind cannot be changed.
func (r *Runner) UpdateSpec(edit func(*protocol.SweepSpec) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := copySpec(r.spec)
	if err := edit(&next); err != nil {
		return err
	}
	next.Experiment = r.kind
	r.spec = next
	return nil
}

// SetSpec replaces the settings after validating them.
func (r *Runner) SetSpec(spec protocol.SweepSpec) error {
	spec.Experiment = r.kind
	if err := spec.Validate(); err != nil {
		return err
	}
	return r.UpdateSpec(func(s *protocol.SweepSpec) error {
		*s = spec
		return nil
	})
}

// Run submits the current settings. The sweep table is kept until the
// solver replies, and the session stays open afterwards for further runs.
func (r *Runner) Run() (string, error) {
	spec := r.Spec()
	req, err := protocol.BuildSweepRequest(spec)
	if err != nil {
		return "", err
	}
	if state := r.sess.State(); state != session.Open {
		return "", errors.Wrapf(session.ErrNotConnected, "session is %s", state)
	}

	runID := uuid.New().String()
	r.mu.Lock()
	r.runID = runID
	r.done = make(chan struct{})
	r.mu.Unlock()

	if err := r.sess.Send(req); err != nil {
		return "", err
	}
	r.log.WithFields(logrus.Fields{
		"run_id":   runID,
		"variants": spec.VariantCount(),
		"count":    spec.Count,
	}).Info("Sweep submitted")
	return runID, nil
}

// RunID returns the ID of the last submitted sweep.
func (r *Runner) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

// Table returns the current sweep table.
func (r *Runner) Table() []results.SweepRow { return r.acc.SweepTable() }

// Clear empties the sweep table. The session is not affected.
func (r *Runner) Clear() { r.acc.ClearSweep() }

// Wait blocks until a sweep table arrives for the last submitted run, or ctx ends.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type sweepSink struct {
	r *Runner
}

// ReplaceSweepTable installs the table and wakes any waiter. Entries with
// invalid keys are skipped but still count as a delivered table.
func (s sweepSink) ReplaceSweepTable(entries map[string]protocol.SweepMetrics) error {
	err := s.r.acc.ReplaceSweepTable(entries)

	s.r.mu.Lock()
	select {
	case <-s.r.done:
	default:
		close(s.r.done)
	}
	runID := s.r.runID
	s.r.mu.Unlock()

	s.r.log.WithFields(logrus.Fields{"run_id": runID, "rows": len(entries)}).Info("Sweep table received")
	return err
}

func copySpec(s protocol.SweepSpec) protocol.SweepSpec {
	s.KmaxVariants = append([]protocol.KmaxVariant(nil), s.KmaxVariants...)
	s.BetaVariants = append([]protocol.BetaVariant(nil), s.BetaVariants...)
	s.SizeVariants = append([]protocol.SizeVariant(nil), s.SizeVariants...)
	return s
}
