// Package protocol defines the JSON frames exchanged with the remote solver
// and builds outbound requests from local problem state.
//
// Builders are pure: they read the values passed in and return a new request
// or an ErrInvalidParameter; they never touch the network.
package protocol

import "github.com/pkg/errors"

// Endpoint paths on the solver, relative to its WebSocket base URL.
const (
	EndpointSolve      = "/ws/solve"
	EndpointExperiment = "/ws/experiment"
)

// Frame types sent by the solver.
const (
	FrameIteration = "iteration"
	FrameResult    = "result"
	FrameResults   = "results"
)

// ErrInvalidParameter is returned when request inputs violate their bounds.
var ErrInvalidParameter = errors.New("protocol: invalid parameter")

// Algorithm identifies one of the two competing solvers.
type Algorithm string

const (
	Probabilistic Algorithm = "probabilistic"
	AntColony     Algorithm = "ant_colony"
)

// Algorithms lists both algorithms in display order.
var Algorithms = []Algorithm{Probabilistic, AntColony}

// Valid reports whether a is a known algorithm.
func (a Algorithm) Valid() bool {
	return a == Probabilistic || a == AntColony
}

// Envelope carries only the discriminator; the rest of the frame is decoded per type.
type Envelope struct {
	Type string `json:"type"`
}

// IterationFrame reports the best value an algorithm found so far.
type IterationFrame struct {
	Type             string    `json:"type"`
	Algorithm        Algorithm `json:"algorithm"`
	Iteration        int       `json:"iteration"`
	CurrentBestValue float64   `json:"current_best_value"`
}

// ResultFrame carries the final solution of one algorithm.
type ResultFrame struct {
	Type      string      `json:"type"`
	Algorithm Algorithm   `json:"algorithm"`
	Solution  [][]float64 `json:"solution"`
	Value     float64     `json:"value"`
}

// AlgorithmMetrics are averages over the repetitions of one sweep configuration.
type AlgorithmMetrics struct {
	AvgValue float64 `json:"avg_value"`
	AvgTime  float64 `json:"avg_time"`
}

// SweepMetrics is the aggregate for one sweep configuration.
type SweepMetrics struct {
	Ant                AlgorithmMetrics `json:"ant"`
	Prob               AlgorithmMetrics `json:"prob"`
	RelativeDifference float64          `json:"relative_difference"`
}

// ResultsFrame carries a whole sweep table keyed by the swept parameter(s).
type ResultsFrame struct {
	Type string                  `json:"type"`
	Data map[string]SweepMetrics `json:"data"`
}

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidParameter, format, args...)
}
