// internal/api/routes.go
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/FairForge/regioncoord/internal/opt"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// registerRoutes mounts the coordination API.
func (s *Server) registerRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/regions", func(r chi.Router) {
			r.Get("/", s.handleListRegions)
			r.Post("/", s.handleAddRegion)
			r.Get("/{name}", s.handleGetRegion)
			r.Delete("/{name}", s.handleRemoveRegion)
			r.Post("/{name}/samples", s.handleRecordSample)
			r.Put("/{name}/score", s.handleUpdateScore)
			r.Post("/{name}/evaluate", s.handleEvaluateRegion)
		})

		r.Get("/load", s.handleLoadDistribution)
		r.Put("/load/{event}/{name}", s.handleSetLoad)

		r.Get("/event", s.handleCurrentEvent)
		r.Post("/evaluate", s.handleEvaluateAll)
		r.Post("/evaluate/sample", s.handleEvaluateSample)

		r.Get("/criteria", s.handleGetCriteria)
		r.Put("/criteria", s.handleSetCriteria)
		r.Put("/criteria/auto-failover", s.handleSetAutoFailover)

		r.Route("/failovers", func(r chi.Router) {
			r.Get("/", s.handleListFailovers)
			r.Post("/", s.handleExecuteFailover)
			r.Get("/{id}", s.handleGetFailover)
			r.Get("/{id}/wait", s.handleWaitFailover)
			r.Post("/{id}/cancel", s.handleCancelFailover)
			r.Post("/{id}/rollback", s.handleRollbackFailover)
		})

		r.Get("/disparities", s.handleDisparities)
		r.Post("/capacity", s.handleRecommendCapacity)

		r.Route("/sync", func(r chi.Router) {
			r.Get("/policies", s.handleListPolicies)
			r.Get("/due", s.handleDueSync)
			r.Post("/runs", s.handleReportSync)
		})
	})
}

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// eventParam reads the optional ?event= query parameter.
func eventParam(r *http.Request) opt.Option[string] {
	if e := r.URL.Query().Get("event"); e != "" {
		return opt.Some(e)
	}
	return opt.None[string]()
}
