package models

import (
	"github.com/kartoza/solver-theatre/internal/matrix"
	"github.com/kartoza/solver-theatre/internal/protocol"
	"github.com/kartoza/solver-theatre/internal/results"
	"github.com/kartoza/solver-theatre/internal/session"
)

// InfoResponse describes the running client and its solver sessions
type InfoResponse struct {
	Version   string                   `json:"version"`
	SolverURL string                   `json:"solver_url"`
	Sessions  map[string]session.State `json:"sessions"`
}

// LabelRequest carries an optional label for an added row or column
type LabelRequest struct {
	Label string `json:"label"`
}

// CellRequest sets one matrix cell
type CellRequest struct {
	Value float64 `json:"value"`
}

// TextRequest replaces one row or column label
type TextRequest struct {
	Text string `json:"text"`
}

// RandomizeRequest fills a slot with random values
type RandomizeRequest struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Integer bool    `json:"integer"`
}

// MatrixResponse is the problem matrices plus the total resource
type MatrixResponse struct {
	matrix.Snapshot
	TotalResource float64 `json:"B_total"`
}

// Parameters are the algorithm parameters and total resource of the solve screen
type Parameters struct {
	AlgorithmParameters protocol.AlgorithmParameters `json:"algorithm_parameters"`
	TotalResource       float64                      `json:"B_total"`
}

// RunResponse acknowledges a submitted solve or sweep
type RunResponse struct {
	RunID string `json:"run_id"`
}

// SeriesResponse is the progress series of the current solve run
type SeriesResponse struct {
	RunID  string          `json:"run_id"`
	Points []results.Point `json:"points"`
}

// VariantRequest adds one sweep variant; only the fields of the
// experiment's kind are read
type VariantRequest struct {
	Kmax int     `json:"kmax"`
	Beta float64 `json:"beta"`
	M    int     `json:"m"`
	N    int     `json:"n"`
}

// VariantResponse reports whether the variant list changed
type VariantResponse struct {
	Added bool               `json:"added"`
	Spec  protocol.SweepSpec `json:"spec"`
}

// SweepResultsResponse is the sweep table of one experiment
type SweepResultsResponse struct {
	Experiment string             `json:"experiment"`
	RunID      string             `json:"run_id"`
	Rows       []results.SweepRow `json:"rows"`
}
