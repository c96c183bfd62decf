// internal/api/sync.go
package api

import (
	"fmt"
	"net/http"

	"github.com/FairForge/regioncoord/internal/syncsched"
)

// syncReport describes a reconciliation run that a worker already carried out.
type syncReport struct {
	Category      string           `json:"category"`
	SourceRegion  string           `json:"source_region"`
	TargetRegion  string           `json:"target_region"`
	BytesMigrated int64            `json:"bytes_migrated"`
	RecordCounts  map[string]int64 `json:"record_counts,omitempty"`
	Errors        []string         `json:"errors,omitempty"`
	Cancelled     string           `json:"cancelled,omitempty"`
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	sched := s.orch.SyncScheduler()
	policies := make(map[string]syncsched.PolicyView)
	for _, c := range sched.Categories() {
		if p, ok := sched.Policy(c); ok {
			policies[c] = p.View()
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"policies": policies,
		"count":    len(policies),
	})
}

// handleDueSync lists due categories; with no ?event= the calendar decides.
func (s *Server) handleDueSync(w http.ResponseWriter, r *http.Request) {
	event := eventParam(r)
	if !event.IsSome() {
		event = s.orch.CurrentEvent()
	}
	tasks := s.orch.SyncScheduler().Due(event)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"event": event,
		"tasks": tasks,
	})
}

func (s *Server) handleReportSync(w http.ResponseWriter, r *http.Request) {
	var rep syncReport
	if err := decode(r, &rep); err != nil {
		s.respondError(w, err)
		return
	}

	res, err := s.orch.SyncScheduler().Begin(rep.Category, rep.SourceRegion, rep.TargetRegion)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := applyReport(res, rep); err != nil {
		s.respondError(w, err)
		return
	}
	if _, err := s.orch.FinishSync(r.Context(), res); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res.View())
}

func applyReport(res *syncsched.SyncResult, rep syncReport) error {
	if rep.BytesMigrated < 0 {
		return fmt.Errorf("%w: bytes_migrated must be >= 0", errBadRequest)
	}
	for category, n := range rep.RecordCounts {
		if n < 0 {
			return fmt.Errorf("%w: record count for %q must be >= 0", errBadRequest, category)
		}
	}
	if err := res.MarkInProgress(); err != nil {
		return err
	}
	for category, n := range rep.RecordCounts {
		if err := res.AddRecords(category, n); err != nil {
			return err
		}
	}
	if err := res.AddBytes(rep.BytesMigrated); err != nil {
		return err
	}
	for _, msg := range rep.Errors {
		if err := res.AddError(msg); err != nil {
			return err
		}
	}
	if rep.Cancelled != "" {
		return res.Cancel(rep.Cancelled)
	}
	return nil
}
