// internal/api/failovers.go
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/FairForge/regioncoord/internal/failover"
	"github.com/FairForge/regioncoord/internal/opt"
	"github.com/FairForge/regioncoord/internal/region"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	defaultWaitTimeout = 30 * time.Second
	maxWaitTimeout     = 5 * time.Minute

	// statusClientClosedRequest only reaches logs and metrics; the client
	// has gone.
	statusClientClosedRequest = 499
)

type executeFailoverRequest struct {
	Primary string `json:"primary"`
	// Target is optional; the best healthy peer is chosen when empty.
	Target string `json:"target,omitempty"`
	Reason string `json:"reason"`
}

type rollbackRequest struct {
	Reason string `json:"reason"`
}

type evaluateSampleRequest struct {
	Criteria *failover.TriggerCriteria `json:"criteria,omitempty"`
	Sample   region.PerformanceSample  `json:"sample"`
	Event    opt.Option[string]        `json:"event"`
}

type evaluateResponse struct {
	Decision failover.Decision    `json:"decision"`
	Failover *failover.RecordView `json:"failover,omitempty"`
	// Error is set when the region triggered but no failover could start.
	Error string `json:"error,omitempty"`
}

func (s *Server) handleCurrentEvent(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"event": s.orch.CurrentEvent(),
	})
}

func (s *Server) handleEvaluateRegion(w http.ResponseWriter, r *http.Request) {
	d, rec, err := s.orch.EvaluateRegion(r.Context(), chi.URLParam(r, "name"), eventParam(r))
	if err != nil && d.Region == "" {
		s.respondError(w, err)
		return
	}
	resp := evaluateResponse{Decision: d}
	if err != nil {
		resp.Error = err.Error()
	}
	if rec != nil {
		v := rec.View()
		resp.Failover = &v
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvaluateAll(w http.ResponseWriter, r *http.Request) {
	decisions := s.orch.EvaluateAll(r.Context())
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

// handleEvaluateSample is the stateless check: no debounce, no failover.
func (s *Server) handleEvaluateSample(w http.ResponseWriter, r *http.Request) {
	var req evaluateSampleRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := req.Sample.Validate(); err != nil {
		s.respondError(w, err)
		return
	}
	if req.Criteria != nil {
		if err := req.Criteria.Validate(); err != nil {
			s.respondError(w, err)
			return
		}
	}
	c := req.Criteria
	if c == nil {
		c = s.orch.Criteria()
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"trigger":  s.orch.EvaluateFailover(c, req.Sample, req.Event),
		"breaches": c.Breaches(req.Sample, req.Event),
	})
}

func (s *Server) handleGetCriteria(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"criteria":      s.orch.Criteria(),
		"auto_failover": s.orch.AutoFailover(),
	})
}

func (s *Server) handleSetCriteria(w http.ResponseWriter, r *http.Request) {
	var c failover.TriggerCriteria
	if err := decode(r, &c); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.orch.SetCriteria(&c); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.orch.Criteria())
}

func (s *Server) handleSetAutoFailover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	s.orch.SetAutoFailover(req.Enabled)
	s.respondJSON(w, http.StatusOK, map[string]bool{"auto_failover": s.orch.AutoFailover()})
}

func (s *Server) handleListFailovers(w http.ResponseWriter, r *http.Request) {
	records := s.orch.Failovers()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := records[:0]
		for _, v := range records {
			if string(v.Status) == status {
				filtered = append(filtered, v)
			}
		}
		records = filtered
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"failovers": records,
		"count":     len(records),
	})
}

func (s *Server) handleExecuteFailover(w http.ResponseWriter, r *http.Request) {
	var req executeFailoverRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	target := req.Target
	if target == "" {
		var err error
		if target, err = s.orch.SelectTarget(req.Primary, s.orch.CurrentEvent()); err != nil {
			s.respondError(w, err)
			return
		}
	}
	rec, err := s.orch.ExecuteFailover(r.Context(), req.Primary, target, req.Reason)
	if err != nil {
		s.respondError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/failovers/"+rec.ID())
	s.respondJSON(w, http.StatusAccepted, rec.View())
}

func (s *Server) handleGetFailover(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, ok := s.orch.Failover(id)
	if !ok {
		s.respondError(w, fmt.Errorf("%w: %s", failover.ErrUnknownRecord, id))
		return
	}
	s.respondJSON(w, http.StatusOK, v)
}

// handleWaitFailover long-polls until the failover finishes or ?timeout=
// elapses.
func (s *Server) handleWaitFailover(w http.ResponseWriter, r *http.Request) {
	timeout := defaultWaitTimeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			s.respondError(w, fmt.Errorf("%w: invalid timeout %q", errBadRequest, raw))
			return
		}
		timeout = min(d, maxWaitTimeout)
	}

	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	v, err := s.orch.WaitFailover(ctx, id)
	switch {
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		s.logger.Debug("failover wait abandoned by client", zap.String("id", id))
		w.WriteHeader(statusClientClosedRequest)
	case errors.Is(err, context.DeadlineExceeded):
		s.respondJSON(w, http.StatusAccepted, v)
	case err != nil:
		s.respondError(w, err)
	default:
		s.respondJSON(w, http.StatusOK, v)
	}
}

func (s *Server) handleCancelFailover(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orch.CancelFailover(id); err != nil {
		s.respondError(w, err)
		return
	}
	v, _ := s.orch.Failover(id)
	s.respondJSON(w, http.StatusAccepted, v)
}

func (s *Server) handleRollbackFailover(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	v, err := s.orch.RollbackFailover(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, v)
}
