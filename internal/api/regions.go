// internal/api/regions.go
package api

import (
	"fmt"
	"net/http"

	"github.com/FairForge/regioncoord/internal/region"
	"github.com/go-chi/chi/v5"
)

type addRegionRequest struct {
	Name string `json:"name"`
}

type scoreRequest struct {
	Score float64 `json:"score"`
}

type loadRequest struct {
	Load float64 `json:"load"`
}

func (s *Server) handleListRegions(w http.ResponseWriter, r *http.Request) {
	regions := s.orch.Regions()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"regions": regions,
		"count":   len(regions),
	})
}

func (s *Server) handleAddRegion(w http.ResponseWriter, r *http.Request) {
	var req addRegionRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	if err := s.orch.AddRegion(r.Context(), req.Name); err != nil {
		s.respondError(w, err)
		return
	}
	rg, _ := s.orch.Region(req.Name)
	s.respondJSON(w, http.StatusCreated, rg)
}

func (s *Server) handleGetRegion(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rg, ok := s.orch.Region(name)
	if !ok {
		s.respondError(w, fmt.Errorf("%w: %s", region.ErrRegionNotFound, name))
		return
	}
	s.respondJSON(w, http.StatusOK, rg)
}

func (s *Server) handleRemoveRegion(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.RemoveRegion(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecordSample(w http.ResponseWriter, r *http.Request) {
	var sample region.PerformanceSample
	if err := decode(r, &sample); err != nil {
		s.respondError(w, err)
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.orch.RecordSample(name, sample); err != nil {
		s.respondError(w, err)
		return
	}
	rg, _ := s.orch.Region(name)
	s.respondJSON(w, http.StatusOK, rg)
}

func (s *Server) handleUpdateScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.orch.UpdatePerformanceScore(name, req.Score); err != nil {
		s.respondError(w, err)
		return
	}
	rg, _ := s.orch.Region(name)
	s.respondJSON(w, http.StatusOK, rg)
}

func (s *Server) handleLoadDistribution(w http.ResponseWriter, r *http.Request) {
	event := r.URL.Query().Get("event")
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"event": event,
		"load":  s.orch.LoadDistribution(event),
	})
}

func (s *Server) handleSetLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	event := chi.URLParam(r, "event")
	if err := s.orch.SetLoad(event, chi.URLParam(r, "name"), req.Load); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"event": event,
		"load":  s.orch.LoadDistribution(event),
	})
}
