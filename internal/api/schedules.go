package api

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/anstrom/recondor/internal/orchestrator"
	"github.com/anstrom/recondor/internal/scheduler"
)

// createScheduleRequest is the body of POST /schedules.
type createScheduleRequest struct {
	Name     string   `json:"name" validate:"required,min=1,max=255"`
	CronExpr string   `json:"cron_expression" validate:"required"`
	Target   string   `json:"target" validate:"required,min=1,max=255"`
	Modules  []string `json:"modules,omitempty" validate:"omitempty,dive,min=1"`
}

func (s *Server) createScheduleHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireScheduler(w, r) {
		return
	}

	var req createScheduleRequest
	if err := s.parseJSON(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := validate.Struct(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("validation failed: %w", err))
		return
	}

	sched, err := s.scheduler.Add(req.Name, req.CronExpr, req.Target, req.Modules)
	if err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, sched)
}

func (s *Server) listSchedulesHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireScheduler(w, r) {
		return
	}
	schedules := s.scheduler.List()
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"schedules": schedules,
		"total":     len(schedules),
	})
}

func (s *Server) getScheduleHandler(w http.ResponseWriter, r *http.Request) {
	sched, ok := s.scheduleFromRequest(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, r, http.StatusOK, sched)
}

func (s *Server) deleteScheduleHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireScheduler(w, r) {
		return
	}
	id, ok := s.scheduleIDFromRequest(w, r)
	if !ok {
		return
	}
	if err := s.scheduler.Remove(id); err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) enableScheduleHandler(w http.ResponseWriter, r *http.Request) {
	s.toggleScheduleHandler(w, r, true)
}

func (s *Server) disableScheduleHandler(w http.ResponseWriter, r *http.Request) {
	s.toggleScheduleHandler(w, r, false)
}

func (s *Server) toggleScheduleHandler(w http.ResponseWriter, r *http.Request, enable bool) {
	if !s.requireScheduler(w, r) {
		return
	}
	id, ok := s.scheduleIDFromRequest(w, r)
	if !ok {
		return
	}

	var err error
	if enable {
		err = s.scheduler.Enable(id)
	} else {
		err = s.scheduler.Disable(id)
	}
	if err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}

	sched, _ := s.scheduler.Get(id)
	s.writeJSON(w, r, http.StatusOK, sched)
}

func (s *Server) runScheduleHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireScheduler(w, r) {
		return
	}
	id, ok := s.scheduleIDFromRequest(w, r)
	if !ok {
		return
	}
	if err := s.scheduler.RunNow(id); err != nil {
		s.writeError(w, r, statusForError(err), err)
		return
	}
	s.writeJSON(w, r, http.StatusAccepted, map[string]interface{}{
		"schedule_id": id.String(),
		"status":      "triggered",
	})
}

// moduleInfo is the catalog view of a registered module.
type moduleInfo struct {
	Name      string             `json:"name"`
	Phase     orchestrator.Phase `json:"phase"`
	Priority  int                `json:"priority"`
	DependsOn []string           `json:"depends_on,omitempty"`
}

func (s *Server) listModulesHandler(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"modules": []moduleInfo{}, "total": 0,
		})
		return
	}

	all := s.registry.All()
	modules := make([]moduleInfo, 0, len(all))
	for _, m := range all {
		modules = append(modules, moduleInfo{
			Name:      m.Name(),
			Phase:     m.Phase(),
			Priority:  m.Priority(),
			DependsOn: m.DependsOn(),
		})
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"modules": modules,
		"total":   len(modules),
	})
}

func (s *Server) requireScheduler(w http.ResponseWriter, r *http.Request) bool {
	if s.scheduler == nil {
		s.writeError(w, r, http.StatusNotImplemented,
			fmt.Errorf("scheduler is not configured"))
		return false
	}
	return true
}

func (s *Server) scheduleIDFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest,
			fmt.Errorf("invalid schedule id %q", raw))
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) scheduleFromRequest(w http.ResponseWriter, r *http.Request) (scheduler.Schedule, bool) {
	if !s.requireScheduler(w, r) {
		return scheduler.Schedule{}, false
	}
	id, ok := s.scheduleIDFromRequest(w, r)
	if !ok {
		return scheduler.Schedule{}, false
	}
	sched, found := s.scheduler.Get(id)
	if !found {
		s.writeError(w, r, http.StatusNotFound,
			fmt.Errorf("schedule %s not found", id))
		return scheduler.Schedule{}, false
	}
	return sched, true
}
