package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/leviton-bridge/internal/entity"
)

// handleListEntities returns every entity, optionally filtered by kind.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	kind := entity.Kind(r.URL.Query().Get("kind"))

	entities := make([]entity.Entity, 0)
	for _, e := range s.entities.Entities() {
		if kind != "" && e.Kind != kind {
			continue
		}
		entities = append(entities, e)
	}

	writeJSON(w, http.StatusOK, map[string]any{"entities": entities, "count": len(entities)})
}

// handleGetEntity returns one entity by unique id.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entities.Entity(chi.URLParam(r, "uid"))
	if !ok {
		writeNotFound(w, "entity not found")
		return
	}
	writeJSON(w, http.StatusOK, e)
}
