// Package solve ties the single-run pieces together: the problem matrices,
// the algorithm parameters, one solver session on the solve endpoint and the
// progress series that session feeds.
package solve

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kartoza/solver-theatre/internal/config"
	"github.com/kartoza/solver-theatre/internal/dispatch"
	"github.com/kartoza/solver-theatre/internal/matrix"
	"github.com/kartoza/solver-theatre/internal/protocol"
	"github.com/kartoza/solver-theatre/internal/results"
	"github.com/kartoza/solver-theatre/internal/session"
)

// Options configure a Controller.
type Options struct {
	Config config.Config
	Matrix matrix.Options
	Dialer session.Dialer
	Clock  session.Clock
	Logger logrus.FieldLogger
}

// Controller is the state behind one solve screen.
type Controller struct {
	set        *matrix.Set
	acc        *results.Accumulator
	sess       *session.Session
	dispatcher *dispatch.Dispatcher
	log        logrus.FieldLogger

	mu            sync.Mutex
	params        protocol.AlgorithmParameters
	totalResource float64
	rng           *rand.Rand
	received      map[protocol.Algorithm]bool
	done          chan struct{}
}

// New builds an idle controller. Call Connect to open the session.
func New(opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	seed := opts.Matrix.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	c := &Controller{
		set:           matrix.New(opts.Matrix),
		acc:           results.New(log),
		log:           log,
		params:        protocol.DefaultAlgorithmParameters(),
		totalResource: protocol.DefaultTotalResource,
		rng:           rand.New(rand.NewSource(seed)),
		received:      map[protocol.Algorithm]bool{},
		done:          make(chan struct{}),
	}
	c.dispatcher = &dispatch.Dispatcher{
		Iterations: c.acc,
		Results:    c,
		Log:        log,
	}
	c.sess = session.New(session.Options{
		Endpoint:    opts.Config.Endpoint(protocol.EndpointSolve),
		MaxAttempts: opts.Config.RetryLimit(),
		RetryDelay:  opts.Config.ReconnectDelay,
		Dialer:      opts.Dialer,
		Clock:       opts.Clock,
		Logger:      log,
		OnFrame:     c.dispatcher.HandleFrame,
	})
	return c
}

// Matrix returns the problem matrices.
func (c *Controller) Matrix() *matrix.Set { return c.set }

// Accumulator returns the progress series.
func (c *Controller) Accumulator() *results.Accumulator { return c.acc }

// Session returns the solver session.
func (c *Controller) Session() *session.Session { return c.sess }

// Connect opens the solver session.
func (c *Controller) Connect() { c.sess.Connect() }

// Close tears the session down.
func (c *Controller) Close() { c.sess.Teardown() }

// Parameters returns the algorithm parameters and the total resource.
func (c *Controller) Parameters() (protocol.AlgorithmParameters, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params, c.totalResource
}

// SetParameters replaces the algorithm parameters and total resource after
// validating them. Invalid input leaves the current values in place.
func (c *Controller) SetParameters(params protocol.AlgorithmParameters, totalResource float64) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if math.IsNaN(totalResource) || math.IsInf(totalResource, 0) || totalResource < 0 {
		return errors.Wrapf(protocol.ErrInvalidParameter, "B_total must be >= 0, got %v", totalResource)
	}

	c.mu.Lock()
	c.params = params
	c.totalResource = totalResource
	c.mu.Unlock()
	return nil
}

// Randomize fills slot with random values. Randomizing the resource slot also
// draws a new total resource uniformly among the integers between the
// smallest cell and the sum of all cells.
func (c *Controller) Randomize(slot matrix.Slot, min, max float64, integer bool) error {
	if err := c.set.Randomize(slot, min, max, integer); err != nil {
		return err
	}
	if slot != matrix.SlotResource {
		return nil
	}

	lowest, sum := c.set.Stats(matrix.SlotResource)
	lo, hi := math.Ceil(lowest), math.Floor(math.Min(sum, math.MaxFloat64))
	if hi < lo {
		hi = lo
	}

	c.mu.Lock()
	c.totalResource = matrix.UniformInt(c.rng, lo, hi)
	total := c.totalResource
	c.mu.Unlock()

	c.log.WithField("B_total", total).Debug("Drew total resource")
	return nil
}

// Solve builds a request from the current state and sends it. The progress
// series is reset first so frames of an earlier run are not mixed into the
// new one; if the send fails the earlier series is put back. It returns the
// run ID of the new series.
func (c *Controller) Solve() (string, error) {
	c.mu.Lock()
	params, total := c.params, c.totalResource
	c.mu.Unlock()

	req, err := protocol.BuildSolveRequest(c.set.Snapshot(), total, params)
	if err != nil {
		return "", err
	}
	if state := c.sess.State(); state != session.Open {
		return "", errors.Wrapf(session.ErrNotConnected, "session is %s", state)
	}

	prevID, prevPoints := c.acc.RunID(), c.acc.Series()
	runID := c.acc.Reset()
	c.mu.Lock()
	prevReceived, prevDone := c.received, c.done
	c.received = map[protocol.Algorithm]bool{}
	c.done = make(chan struct{})
	c.mu.Unlock()

	if err := c.sess.Send(req); err != nil {
		// The session dropped after the state check; the run never started.
		c.acc.Restore(prevID, prevPoints)
		c.mu.Lock()
		c.received, c.done = prevReceived, prevDone
		c.mu.Unlock()
		return "", err
	}
	c.log.WithFields(logrus.Fields{"run_id": runID, "m": req.M, "n": req.N}).Info("Solve request sent")
	return runID, nil
}

// WriteResult installs one algorithm's final solution into its solution slot.
func (c *Controller) WriteResult(alg protocol.Algorithm, solution [][]float64, value float64) error {
	slot, err := SolutionSlot(alg)
	if err != nil {
		return err
	}
	if err := c.set.WriteSolution(slot, solution, value); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.received[alg] = true
	if len(c.received) == len(protocol.Algorithms) {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
	return nil
}

// Wait blocks until both algorithms delivered a result for the latest run,
// or ctx ends.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SolutionSlot maps an algorithm to the slot holding its solution.
func SolutionSlot(alg protocol.Algorithm) (matrix.Slot, error) {
	switch alg {
	case protocol.Probabilistic:
		return matrix.SlotProbabilisticSolution, nil
	case protocol.AntColony:
		return matrix.SlotAntColonySolution, nil
	}
	return "", errors.Wrapf(dispatch.ErrUnknownAlgorithm, "%q", alg)
}
