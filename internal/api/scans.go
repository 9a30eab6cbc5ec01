package api

import (
	"fmt"
	"math"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/anstrom/recondor/internal/engine"
	"github.com/anstrom/recondor/internal/errors"
	"github.com/anstrom/recondor/internal/lifecycle"
	"github.com/anstrom/recondor/internal/orchestrator"
)

var validate = validator.New()

// createScanRequest is the body of POST /scans.
type createScanRequest struct {
	Target  string   `json:"target" validate:"required,min=1,max=255"`
	Modules []string `json:"modules,omitempty" validate:"omitempty,dive,min=1"`
}

// scanResponse is the list/detail view of one scan.
type scanResponse struct {
	ID      string               `json:"id"`
	Target  string               `json:"target"`
	State   lifecycle.ScanState  `json:"state"`
	Summary orchestrator.Summary `json:"summary"`
}

func toScanResponse(scan *engine.Scan) scanResponse {
	return scanResponse{
		ID:      scan.ID.String(),
		Target:  scan.Target,
		State:   scan.Machine.State(),
		Summary: scan.Orchestrator.GetSummary(),
	}
}

func (s *Server) createScanHandler(w http.ResponseWriter, r *http.Request) {
	var req createScanRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := validate.Struct(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("validation failed: %w", err))
		return
	}

	scan, err := s.engine.StartScan(r.Context(), req.Target, req.Modules)
	if err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}

	s.feed.Watch(scan)
	s.writeJSON(w, r, http.StatusAccepted, toScanResponse(scan))
}

func (s *Server) listScansHandler(w http.ResponseWriter, r *http.Request) {
	scans := s.engine.ListScans()
	out := make([]scanResponse, 0, len(scans))
	for _, scan := range scans {
		out = append(out, toScanResponse(scan))
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"scans": out,
		"total": len(out),
	})
}

func (s *Server) getScanHandler(w http.ResponseWriter, r *http.Request) {
	scan, ok := s.scanFromRequest(w, r)
	if !ok {
		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"id":       scan.ID.String(),
		"target":   scan.Target,
		"state":    scan.Machine.State(),
		"snapshot": scan.Orchestrator.GetSnapshot(),
	})
}

func (s *Server) stopScanHandler(w http.ResponseWriter, r *http.Request) {
	scan, ok := s.scanFromRequest(w, r)
	if !ok {
		return
	}
	if err := s.engine.StopScan(scan.ID); err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	s.writeJSON(w, r, http.StatusAccepted, toScanResponse(scan))
}

func (s *Server) pauseScanHandler(w http.ResponseWriter, r *http.Request) {
	scan, ok := s.scanFromRequest(w, r)
	if !ok {
		return
	}
	if err := s.engine.PauseScan(scan.ID); err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, toScanResponse(scan))
}

func (s *Server) resumeScanHandler(w http.ResponseWriter, r *http.Request) {
	scan, ok := s.scanFromRequest(w, r)
	if !ok {
		return
	}
	if err := s.engine.ResumeScan(scan.ID); err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, toScanResponse(scan))
}

// scanEventsHandler serves persisted events. It needs a configured store.
func (s *Server) scanEventsHandler(w http.ResponseWriter, r *http.Request) {
	scanID, ok := s.scanIDFromRequest(w, r)
	if !ok {
		return
	}
	if s.store == nil {
		s.writeError(w, r, http.StatusNotImplemented,
			fmt.Errorf("event storage is not configured"))
		return
	}

	events, err := s.store.Events.ListByScan(r.Context(), scanID, math.MaxInt32)
	if err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"scan_id": scanID.String(),
		"events":  events,
		"total":   len(events),
	})
}

// scanHistoryHandler serves the scan's state transition history.
func (s *Server) scanHistoryHandler(w http.ResponseWriter, r *http.Request) {
	scan, ok := s.scanFromRequest(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"scan_id":     scan.ID.String(),
		"state":       scan.Machine.State(),
		"transitions": scan.Machine.History(),
	})
}

func (s *Server) scanIDFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest,
			fmt.Errorf("invalid scan id %q", raw))
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) scanFromRequest(w http.ResponseWriter, r *http.Request) (*engine.Scan, bool) {
	id, ok := s.scanIDFromRequest(w, r)
	if !ok {
		return nil, false
	}
	scan, found := s.engine.GetScan(id)
	if !found {
		s.writeError(w, r, http.StatusNotFound,
			fmt.Errorf("scan %s not found", id))
		return nil, false
	}
	return scan, true
}

// statusForError maps domain error codes to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.IsCode(err, errors.CodeScanNotFound),
		errors.IsCode(err, errors.CodeNotFound):
		return http.StatusNotFound
	case errors.IsCode(err, errors.CodeTargetInvalid),
		errors.IsCode(err, errors.CodeValidation),
		errors.IsCode(err, errors.CodeModuleUnknown),
		errors.IsCode(err, errors.CodeConfiguration):
		return http.StatusBadRequest
	case errors.IsCode(err, errors.CodeInvalidTransition),
		errors.IsCode(err, errors.CodeConflict),
		errors.IsCode(err, errors.CodeScanAlreadyActive):
		return http.StatusConflict
	case errors.IsCode(err, errors.CodeRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
