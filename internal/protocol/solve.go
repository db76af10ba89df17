package protocol

import (
	"math"

	"github.com/kartoza/solver-theatre/internal/matrix"
)

// AntColonyParameters tune the ant colony algorithm.
type AntColonyParameters struct {
	Kmax    int     `json:"Kmax"`
	NumAnts int     `json:"num_ants"`
	Alpha   float64 `json:"alpha"`
	Beta    float64 `json:"beta"`
	P       float64 `json:"p"`
	Tau     float64 `json:"tau"`
}

// ProbabilisticParameters tune the probabilistic algorithm.
type ProbabilisticParameters struct {
	Kmax int `json:"Kmax"`
}

// AlgorithmParameters groups the parameters of both algorithms.
type AlgorithmParameters struct {
	AntColony     AntColonyParameters     `json:"ant_colony"`
	Probabilistic ProbabilisticParameters `json:"probabilistic"`
}

// DefaultAlgorithmParameters returns the parameters a fresh solve screen starts with.
func DefaultAlgorithmParameters() AlgorithmParameters {
	return AlgorithmParameters{
		AntColony: AntColonyParameters{
			Kmax:    100,
			NumAnts: 20,
			Alpha:   1,
			Beta:    2,
			P:       0.1,
			Tau:     1,
		},
		Probabilistic: ProbabilisticParameters{Kmax: 100},
	}
}

// Validate checks every parameter against its allowed bounds.
func (p AlgorithmParameters) Validate() error {
	ac := p.AntColony
	switch {
	case ac.Kmax < 1:
		return invalid("ant_colony.Kmax must be >= 1, got %d", ac.Kmax)
	case ac.NumAnts < 1:
		return invalid("ant_colony.num_ants must be >= 1, got %d", ac.NumAnts)
	case !nonNegative(ac.Alpha):
		return invalid("ant_colony.alpha must be >= 0, got %v", ac.Alpha)
	case !nonNegative(ac.Beta):
		return invalid("ant_colony.beta must be >= 0, got %v", ac.Beta)
	case !inUnit(ac.P):
		return invalid("ant_colony.p must be in [0,1], got %v", ac.P)
	case !nonNegative(ac.Tau):
		return invalid("ant_colony.tau must be >= 0, got %v", ac.Tau)
	case p.Probabilistic.Kmax < 1:
		return invalid("probabilistic.Kmax must be >= 1, got %d", p.Probabilistic.Kmax)
	}
	return nil
}

// DefaultTotalResource is the total resource a fresh solve screen starts with.
const DefaultTotalResource = 16000

// SolveRequest is the single-run payload sent to EndpointSolve.
type SolveRequest struct {
	M                   int                 `json:"m"`
	N                   int                 `json:"n"`
	C                   [][]float64         `json:"c"`
	BIJ                 [][]float64         `json:"B_ij"`
	BTotal              float64             `json:"B_total"`
	Omega               [][]float64         `json:"omega"`
	AlgorithmParameters AlgorithmParameters `json:"algorithm_parameters"`
}

// BuildSolveRequest assembles the single-run request from a matrix snapshot.
// m and n always equal the snapshot's shape.
func BuildSolveRequest(snap matrix.Snapshot, totalResource float64, params AlgorithmParameters) (*SolveRequest, error) {
	if snap.Rows < 1 || snap.Cols < 1 {
		return nil, invalid("problem must have at least one row and one column, got %dx%d", snap.Rows, snap.Cols)
	}
	if !nonNegative(totalResource) {
		return nil, invalid("B_total must be >= 0, got %v", totalResource)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &SolveRequest{
		M:                   snap.Rows,
		N:                   snap.Cols,
		C:                   snap.Grid(matrix.SlotPrice),
		BIJ:                 snap.Grid(matrix.SlotResource),
		BTotal:              totalResource,
		Omega:               snap.Grid(matrix.SlotDiscount),
		AlgorithmParameters: params,
	}, nil
}

func nonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func inUnit(v float64) bool {
	return nonNegative(v) && v <= 1
}
