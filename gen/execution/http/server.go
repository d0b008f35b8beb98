// Package server mounts the execution service's Endpoints onto a
// goahttp.Muxer, translating HTTP requests into typed payloads and typed
// results/errors back into JSON responses. It follows the shape of a
// goa-generated HTTP server package (a Server holding one handler per
// method plus a Mounts list for startup logging) without being produced by
// goa's code generator.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"goa.design/atomexec/execsvc"
	execution "goa.design/atomexec/gen/execution"
	"goa.design/atomexec/gen/execution/validate"
	goahttp "goa.design/goa/v3/http"
)

// ErrorHandler is invoked for faults that happen after a response has
// already started, or for programmer errors; it mirrors goa's transport
// error hook used for logging and alerting.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Mount describes one routed handler, kept for startup logging the same
// way goa's generated server exposes server.Mounts.
type Mount struct {
	Method  string
	Verb    string
	Pattern string
}

// Server holds the HTTP bindings for every execution method.
type Server struct {
	Mounts []*Mount

	mux       goahttp.Muxer
	endpoints *execution.Endpoints
	errorFn   ErrorHandler
}

// New builds a Server that dispatches onto e. mux is used only for request
// routing (goahttp.Muxer.Handle/Vars); request/response bodies are encoded
// directly as JSON.
func New(e *execution.Endpoints, mux goahttp.Muxer, eh ErrorHandler) *Server {
	if eh == nil {
		eh = func(http.ResponseWriter, *http.Request, error) {}
	}
	s := &Server{endpoints: e, mux: mux, errorFn: eh}
	s.Mounts = []*Mount{
		{"Start", http.MethodPost, "/api/v2/execution/start"},
		{"Health", http.MethodGet, "/api/v2/execution/health"},
		{"GetState", http.MethodGet, "/api/v2/execution/{run_id}"},
		{"GetProgress", http.MethodGet, "/api/v2/execution/{run_id}/progress"},
		{"GetWaveResult", http.MethodGet, "/api/v2/execution/{run_id}/waves/{wave_index}"},
		{"GetAtomResult", http.MethodGet, "/api/v2/execution/{run_id}/atoms/{atom_id}"},
		{"Pause", http.MethodPost, "/api/v2/execution/{run_id}/pause"},
		{"Resume", http.MethodPost, "/api/v2/execution/{run_id}/resume"},
		{"GetMetrics", http.MethodGet, "/api/v2/execution/{run_id}/metrics"},
	}
	return s
}

// Mount registers every handler on mux. Health is registered before the
// {run_id} family on purpose: a router that matches by registration order
// would otherwise let the parameterised path swallow "/health" as a run id.
func Mount(mux goahttp.Muxer, s *Server) {
	mux.Handle(http.MethodPost, "/api/v2/execution/start", s.handleStart)
	mux.Handle(http.MethodGet, "/api/v2/execution/health", s.handleHealth)
	mux.Handle(http.MethodGet, "/api/v2/execution/{run_id}", s.handleGetState)
	mux.Handle(http.MethodGet, "/api/v2/execution/{run_id}/progress", s.handleGetProgress)
	mux.Handle(http.MethodGet, "/api/v2/execution/{run_id}/waves/{wave_index}", s.handleGetWaveResult)
	mux.Handle(http.MethodGet, "/api/v2/execution/{run_id}/atoms/{atom_id}", s.handleGetAtomResult)
	mux.Handle(http.MethodPost, "/api/v2/execution/{run_id}/pause", s.handlePause)
	mux.Handle(http.MethodPost, "/api/v2/execution/{run_id}/resume", s.handleResume)
	mux.Handle(http.MethodGet, "/api/v2/execution/{run_id}/metrics", s.handleGetMetrics)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "unparseable body")
		return
	}
	if _, err := validate.StartPayload(body); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var wire struct {
		MasterplanID string `json:"masterplan_id"`
		Plan         struct {
			MasterplanID string `json:"masterplan_id"`
			Waves        []struct {
				Index int      `json:"index"`
				Atoms []string `json:"atoms"`
			} `json:"waves"`
		} `json:"plan"`
		AtomsByID map[string]struct {
			ID        string   `json:"id"`
			Spec      string   `json:"spec"`
			Language  string   `json:"language"`
			DependsOn []string `json:"depends_on"`
			Code      string   `json:"code"`
		} `json:"atoms_by_id"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "unparseable body")
		return
	}
	payload := &execution.StartPayload{
		MasterplanID: wire.MasterplanID,
		AtomsByID:    make(map[string]execution.AtomType, len(wire.AtomsByID)),
	}
	payload.Plan.MasterplanID = wire.Plan.MasterplanID
	for _, w := range wire.Plan.Waves {
		payload.Plan.Waves = append(payload.Plan.Waves, execution.WaveType{Index: w.Index, Atoms: w.Atoms})
	}
	for id, a := range wire.AtomsByID {
		payload.AtomsByID[id] = execution.AtomType{ID: a.ID, Spec: a.Spec, Language: a.Language, DependsOn: a.DependsOn, Code: a.Code}
	}

	res, err := s.endpoints.Start(r.Context(), payload)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	res, err := s.endpoints.Health(r.Context(), nil)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.requireRunID(w, r)
	if !ok {
		return
	}
	res, err := s.endpoints.GetState(r.Context(), &execution.RunIDPayload{RunID: runID})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.requireRunID(w, r)
	if !ok {
		return
	}
	res, err := s.endpoints.GetProgress(r.Context(), &execution.RunIDPayload{RunID: runID})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetWaveResult(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.requireRunID(w, r)
	if !ok {
		return
	}
	waveIndex, err := strconv.Atoi(s.mux.Vars(r)["wave_index"])
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "wave_index must be an integer")
		return
	}
	if waveIndex < 0 {
		s.writeError(w, r, http.StatusBadRequest, "wave_index must be >= 0")
		return
	}
	res, err := s.endpoints.GetWaveResult(r.Context(), &execution.WaveQueryPayload{RunID: runID, WaveIndex: waveIndex})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetAtomResult(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.requireRunID(w, r)
	if !ok {
		return
	}
	atomID := s.mux.Vars(r)["atom_id"]
	res, err := s.endpoints.GetAtomResult(r.Context(), &execution.AtomQueryPayload{RunID: runID, AtomID: atomID})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.requireRunID(w, r)
	if !ok {
		return
	}
	res, err := s.endpoints.Pause(r.Context(), &execution.RunIDPayload{RunID: runID})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.requireRunID(w, r)
	if !ok {
		return
	}
	res, err := s.endpoints.Resume(r.Context(), &execution.RunIDPayload{RunID: runID})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.requireRunID(w, r)
	if !ok {
		return
	}
	res, err := s.endpoints.GetMetrics(r.Context(), &execution.RunIDPayload{RunID: runID})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// requireRunID extracts run_id from the path and rejects it with a 400
// before dispatching to the service unless it is a canonical UUID, matching
// design.go's Format(FormatUUID) constraint on every run_id field. A real
// goa-generated server validates this from the DSL annotation directly;
// this hand-maintained transport checks it explicitly instead.
func (s *Server) requireRunID(w http.ResponseWriter, r *http.Request) (string, bool) {
	runID := s.mux.Vars(r)["run_id"]
	if _, err := uuid.Parse(runID); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "run_id must be a UUID")
		return "", false
	}
	return runID, true
}

// writeServiceError maps the execsvc error taxonomy onto status codes per
// the control API's propagation policy: NotFound -> 404, InvalidState ->
// 400, anything else -> 500.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var nf *execsvc.NotFoundError
	var inv *execsvc.InvalidStateError
	switch {
	case errors.As(err, &nf):
		s.writeError(w, r, http.StatusNotFound, err.Error())
	case errors.As(err, &inv):
		s.writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		s.errorFn(w, r, err)
		s.writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, _ *http.Request, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

