// internal/api/analysis.go
package api

import (
	"net/http"

	"github.com/FairForge/regioncoord/internal/capacity"
	"github.com/FairForge/regioncoord/internal/disparity"
	"github.com/FairForge/regioncoord/internal/opt"
)

type capacityRequest struct {
	capacity.LoadSample
	Event opt.Option[string] `json:"event"`
}

// handleDisparities compares ?region= regions pairwise, or every sampled
// region when none are named. ?identified=true drops pairs at level none.
func (s *Server) handleDisparities(w http.ResponseWriter, r *http.Request) {
	reports, err := s.orch.AnalyzeDisparities(r.URL.Query()["region"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	if r.URL.Query().Get("identified") == "true" {
		reports = disparity.Identified(reports)
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"reports": reports,
		"worst":   disparity.Worst(reports),
	})
}

func (s *Server) handleRecommendCapacity(w http.ResponseWriter, r *http.Request) {
	var req capacityRequest
	if err := decode(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	rec, err := s.orch.RecommendCapacity(req.LoadSample, req.Event)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}
