package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kartoza/solver-theatre/internal/chart"
	"github.com/kartoza/solver-theatre/internal/config"
	"github.com/kartoza/solver-theatre/internal/experiment"
	"github.com/kartoza/solver-theatre/internal/matrix"
	"github.com/kartoza/solver-theatre/internal/models"
	"github.com/kartoza/solver-theatre/internal/protocol"
	"github.com/kartoza/solver-theatre/internal/results"
	"github.com/kartoza/solver-theatre/internal/session"
	"github.com/kartoza/solver-theatre/internal/solve"
)

// Handler provides HTTP API endpoints
type Handler struct {
	solver  *solve.Controller
	runners map[protocol.Experiment]*experiment.Runner
	cfg     config.Config
	log     logrus.FieldLogger
}

// NewHandler creates a new API handler
func NewHandler(
	solver *solve.Controller,
	runners []*experiment.Runner,
	cfg config.Config,
	log logrus.FieldLogger,
) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := &Handler{
		solver:  solver,
		runners: make(map[protocol.Experiment]*experiment.Runner, len(runners)),
		cfg:     cfg,
		log:     log,
	}
	for _, r := range runners {
		h.runners[r.Kind()] = r
	}
	return h
}

// RegisterRoutes sets up all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	// Health and info
	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.HandleFunc("/info", h.handleInfo).Methods("GET")

	// Problem matrices
	r.HandleFunc("/matrix", h.handleGetMatrix).Methods("GET")
	r.HandleFunc("/matrix/rows", h.handleAddRow).Methods("POST")
	r.HandleFunc("/matrix/rows/{index:[0-9]+}", h.handleRemoveRow).Methods("DELETE")
	r.HandleFunc("/matrix/columns", h.handleAddColumn).Methods("POST")
	r.HandleFunc("/matrix/columns/{index:[0-9]+}", h.handleRemoveColumn).Methods("DELETE")
	r.HandleFunc("/matrix/labels/{axis}/{index:[0-9]+}", h.handleSetLabel).Methods("PUT")
	r.HandleFunc("/matrix/{slot}/cells/{row:[0-9]+}/{col:[0-9]+}", h.handleSetCell).Methods("PUT")
	r.HandleFunc("/matrix/{slot}/randomize", h.handleRandomize).Methods("POST")

	// Single run
	r.HandleFunc("/parameters", h.handleGetParameters).Methods("GET")
	r.HandleFunc("/parameters", h.handleSetParameters).Methods("PUT")
	r.HandleFunc("/solve", h.handleSolve).Methods("POST")
	r.HandleFunc("/solve/series", h.handleSeries).Methods("GET")
	r.HandleFunc("/solve/chart.png", h.handleChart).Methods("GET")

	// Sweeps
	r.HandleFunc("/experiments/{kind}/spec", h.handleGetSpec).Methods("GET")
	r.HandleFunc("/experiments/{kind}/spec", h.handleSetSpec).Methods("PUT")
	r.HandleFunc("/experiments/{kind}/variants", h.handleAddVariant).Methods("POST")
	r.HandleFunc("/experiments/{kind}/variants/{index:[0-9]+}", h.handleRemoveVariant).Methods("DELETE")
	r.HandleFunc("/experiments/{kind}/run", h.handleRunExperiment).Methods("POST")
	r.HandleFunc("/experiments/{kind}/results", h.handleGetResults).Methods("GET")
	r.HandleFunc("/experiments/{kind}/results", h.handleClearResults).Methods("DELETE")
}

// respondJSON sends a JSON response
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.WithError(err).Warn("Error encoding response")
	}
}

// respondError sends a JSON error response
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps domain errors onto HTTP statuses
func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	h.respondError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, matrix.ErrUnknownSlot):
		return http.StatusNotFound
	case errors.Is(err, matrix.ErrIndexOutOfRange),
		errors.Is(err, matrix.ErrInvalidRange),
		errors.Is(err, matrix.ErrShapeMismatch),
		errors.Is(err, protocol.ErrInvalidParameter),
		errors.Is(err, results.ErrInvalidSweepKey):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}

func intVar(r *http.Request, name string) int {
	// Routes constrain these variables to digits.
	v, _ := strconv.Atoi(mux.Vars(r)[name])
	return v
}

// handleHealth returns server health status
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInfo returns server information
func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := models.InfoResponse{
		Version:   h.cfg.Version,
		SolverURL: h.cfg.SolverURL,
		Sessions:  map[string]session.State{},
	}
	if h.solver != nil {
		info.Sessions["solve"] = h.solver.Session().State()
	}
	for kind, runner := range h.runners {
		info.Sessions[kind.String()] = runner.Session().State()
	}
	h.respondJSON(w, http.StatusOK, info)
}

// handleGetMatrix returns every slot with labels and the total resource
func (h *Handler) handleGetMatrix(w http.ResponseWriter, r *http.Request) {
	_, total := h.solver.Parameters()
	h.respondJSON(w, http.StatusOK, models.MatrixResponse{
		Snapshot:      h.solver.Matrix().Snapshot(),
		TotalResource: total,
	})
}

func (h *Handler) applyEdit(w http.ResponseWriter, r *http.Request, edit matrix.Edit) {
	if err := h.solver.Matrix().Apply(edit); err != nil {
		h.respondErr(w, err)
		return
	}
	h.handleGetMatrix(w, r)
}

func (h *Handler) handleAddRow(w http.ResponseWriter, r *http.Request) {
	var req models.LabelRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.applyEdit(w, r, matrix.Edit{Kind: matrix.AddRow, Label: req.Label})
}

func (h *Handler) handleRemoveRow(w http.ResponseWriter, r *http.Request) {
	h.applyEdit(w, r, matrix.Edit{Kind: matrix.RemoveRow, Index: intVar(r, "index")})
}

func (h *Handler) handleAddColumn(w http.ResponseWriter, r *http.Request) {
	var req models.LabelRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.applyEdit(w, r, matrix.Edit{Kind: matrix.AddColumn, Label: req.Label})
}

func (h *Handler) handleRemoveColumn(w http.ResponseWriter, r *http.Request) {
	h.applyEdit(w, r, matrix.Edit{Kind: matrix.RemoveColumn, Index: intVar(r, "index")})
}

func (h *Handler) handleSetLabel(w http.ResponseWriter, r *http.Request) {
	axis := matrix.Axis(mux.Vars(r)["axis"])
	if axis != matrix.AxisRow && axis != matrix.AxisColumn {
		h.respondError(w, http.StatusNotFound, "axis must be row or column")
		return
	}
	var req models.TextRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.solver.Matrix().SetLabel(axis, intVar(r, "index"), req.Text); err != nil {
		h.respondErr(w, err)
		return
	}
	h.handleGetMatrix(w, r)
}

func (h *Handler) handleSetCell(w http.ResponseWriter, r *http.Request) {
	slot, err := matrix.ParseSlot(mux.Vars(r)["slot"])
	if err != nil {
		h.respondErr(w, err)
		return
	}
	var req models.CellRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.solver.Matrix().SetCell(slot, intVar(r, "row"), intVar(r, "col"), req.Value); err != nil {
		h.respondErr(w, err)
		return
	}
	h.handleGetMatrix(w, r)
}

func (h *Handler) handleRandomize(w http.ResponseWriter, r *http.Request) {
	slot, err := matrix.ParseSlot(mux.Vars(r)["slot"])
	if err != nil {
		h.respondErr(w, err)
		return
	}
	var req models.RandomizeRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.solver.Randomize(slot, req.Min, req.Max, req.Integer); err != nil {
		h.respondErr(w, err)
		return
	}
	h.handleGetMatrix(w, r)
}

func (h *Handler) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	params, total := h.solver.Parameters()
	h.respondJSON(w, http.StatusOK, models.Parameters{AlgorithmParameters: params, TotalResource: total})
}

func (h *Handler) handleSetParameters(w http.ResponseWriter, r *http.Request) {
	params, total := h.solver.Parameters()
	req := models.Parameters{AlgorithmParameters: params, TotalResource: total}
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.solver.SetParameters(req.AlgorithmParameters, req.TotalResource); err != nil {
		h.respondErr(w, err)
		return
	}
	h.handleGetParameters(w, r)
}

// handleSolve submits the current problem to the solver
func (h *Handler) handleSolve(w http.ResponseWriter, r *http.Request) {
	runID, err := h.solver.Solve()
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, models.RunResponse{RunID: runID})
}

func (h *Handler) handleSeries(w http.ResponseWriter, r *http.Request) {
	acc := h.solver.Accumulator()
	h.respondJSON(w, http.StatusOK, models.SeriesResponse{RunID: acc.RunID(), Points: acc.Series()})
}

// handleChart renders the progress series as a PNG
func (h *Handler) handleChart(w http.ResponseWriter, r *http.Request) {
	width, _ := strconv.Atoi(r.URL.Query().Get("width"))
	height, _ := strconv.Atoi(r.URL.Query().Get("height"))

	var buf bytes.Buffer
	if err := chart.Progress(&buf, h.solver.Accumulator().Series(), width, height); err != nil {
		if errors.Is(err, chart.ErrNotEnoughPoints) {
			h.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		h.respondErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

// runner resolves the {kind} route variable, answering 404 itself when unknown
func (h *Handler) runner(w http.ResponseWriter, r *http.Request) (*experiment.Runner, bool) {
	kind, err := protocol.ParseExperiment(mux.Vars(r)["kind"])
	if err != nil {
		h.respondError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	runner, ok := h.runners[kind]
	if !ok {
		h.respondError(w, http.StatusNotFound, "experiment "+kind.String()+" is not available")
		return nil, false
	}
	return runner, true
}

func (h *Handler) handleGetSpec(w http.ResponseWriter, r *http.Request) {
	runner, ok := h.runner(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, runner.Spec())
}

func (h *Handler) handleSetSpec(w http.ResponseWriter, r *http.Request) {
	runner, ok := h.runner(w, r)
	if !ok {
		return
	}
	spec := runner.Spec()
	if err := decodeBody(r, &spec); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := runner.SetSpec(spec); err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, runner.Spec())
}

func (h *Handler) handleAddVariant(w http.ResponseWriter, r *http.Request) {
	runner, ok := h.runner(w, r)
	if !ok {
		return
	}
	var req models.VariantRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var added bool
	err := runner.UpdateSpec(func(s *protocol.SweepSpec) error {
		switch runner.Kind() {
		case protocol.ExperimentKmax:
			if req.Kmax < 1 {
				return errors.Wrapf(protocol.ErrInvalidParameter, "kmax must be >= 1, got %d", req.Kmax)
			}
			added = s.AddKmaxVariant(req.Kmax)
		case protocol.ExperimentBeta:
			if req.Beta < 0 {
				return errors.Wrapf(protocol.ErrInvalidParameter, "beta must be >= 0, got %v", req.Beta)
			}
			added = s.AddBetaVariant(req.Beta)
		case protocol.ExperimentSize:
			if req.M < 1 || req.N < 1 {
				return errors.Wrapf(protocol.ErrInvalidParameter, "size must be at least 1x1, got %dx%d", req.M, req.N)
			}
			added = s.AddSizeVariant(req.M, req.N)
		}
		return nil
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.VariantResponse{Added: added, Spec: runner.Spec()})
}

func (h *Handler) handleRemoveVariant(w http.ResponseWriter, r *http.Request) {
	runner, ok := h.runner(w, r)
	if !ok {
		return
	}
	index := intVar(r, "index")
	if err := runner.UpdateSpec(func(s *protocol.SweepSpec) error { return s.RemoveVariant(index) }); err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, runner.Spec())
}

func (h *Handler) handleRunExperiment(w http.ResponseWriter, r *http.Request) {
	runner, ok := h.runner(w, r)
	if !ok {
		return
	}
	runID, err := runner.Run()
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, models.RunResponse{RunID: runID})
}

func (h *Handler) handleGetResults(w http.ResponseWriter, r *http.Request) {
	runner, ok := h.runner(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, models.SweepResultsResponse{
		Experiment: runner.Kind().String(),
		RunID:      runner.RunID(),
		Rows:       runner.Table(),
	})
}

func (h *Handler) handleClearResults(w http.ResponseWriter, r *http.Request) {
	runner, ok := h.runner(w, r)
	if !ok {
		return
	}
	runner.Clear()
	w.WriteHeader(http.StatusNoContent)
}
