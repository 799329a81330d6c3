package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/rehabscore/internal/audit"
	authmw "github.com/mind-engage/rehabscore/internal/auth/middleware"
	"github.com/mind-engage/rehabscore/internal/logger"
	"github.com/mind-engage/rehabscore/internal/scoring"
	"github.com/mind-engage/rehabscore/internal/service"
	"github.com/mind-engage/rehabscore/internal/store"
)

// GET /configurations?active=1&limit=&offset=
func ListConfigurationsHandler(svc *service.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := svc.ListConfigurations(r.Context(), store.ListConfigOpts{
			ActiveOnly: r.URL.Query().Get("active") == "1",
			Limit:      queryInt(r, "limit", 0),
			Offset:     queryInt(r, "offset", 0),
		})
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// GET /configurations/{id}
func GetConfigurationHandler(svc *service.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := svc.GetConfiguration(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// POST /configurations
func CreateConfigurationHandler(svc *service.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.NewConfiguration
		if !decode(w, r, &req) {
			return
		}
		c, err := svc.CreateConfiguration(r.Context(), authmw.ActorID(r.Context()), req)
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

// POST /configurations/{id}/weights  {component, value}
func UpdateWeightHandler(svc *service.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Component string  `json:"component"`
			Value     float64 `json:"value"`
		}
		if !decode(w, r, &req) {
			return
		}
		comp, err := scoring.ParseComponent(strings.TrimSpace(req.Component))
		if err != nil {
			writeErr(w, log, err)
			return
		}
		c, err := svc.UpdateWeight(r.Context(), authmw.ActorID(r.Context()), chi.URLParam(r, "id"), comp, req.Value)
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// POST /configurations/{id}/subweights  {completion, intensity, duration}
func UpdateSubWeightsHandler(svc *service.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scoring.SubWeights
		if !decode(w, r, &req) {
			return
		}
		c, err := svc.UpdateSubWeights(r.Context(), authmw.ActorID(r.Context()), chi.URLParam(r, "id"), req)
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// PUT /configurations/{id}/rpe-mapping  {"0": {...}, ..., "10": {...}}
func UpdateRPEMappingHandler(svc *service.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scoring.RPEMapping
		if !decode(w, r, &req) {
			return
		}
		c, err := svc.UpdateRPEMapping(r.Context(), authmw.ActorID(r.Context()), chi.URLParam(r, "id"), req)
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// POST /configurations/{id}/activate?global=1
func ActivateHandler(svc *service.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := svc.Activate(r.Context(), authmw.ActorID(r.Context()), chi.URLParam(r, "id"),
			r.URL.Query().Get("global") == "1")
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// POST /configurations/{id}/deactivate
func DeactivateHandler(svc *service.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := svc.Deactivate(r.Context(), authmw.ActorID(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// GET /rpe/{value}?config=
func MapRPEHandler(svc *service.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := strconv.Atoi(chi.URLParam(r, "value"))
		if err != nil {
			http.Error(w, "rpe must be an integer", http.StatusBadRequest)
			return
		}
		e, id, err := svc.MapRPE(r.Context(), strings.TrimSpace(r.URL.Query().Get("config")), v)
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"rpe":               v,
			"scoring_config_id": id,
			"score":             e.Score,
			"category":          e.Category,
			"clinical_note":     e.ClinicalNote,
		})
	}
}

// GET /audit?entity_id=&action=&limit=&offset=
func ListAuditHandler(svc *service.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := svc.ListAudit(r.Context(), audit.ListOpts{
			EntityID: strings.TrimSpace(r.URL.Query().Get("entity_id")),
			Action:   audit.Action(strings.TrimSpace(r.URL.Query().Get("action"))),
			Limit:    queryInt(r, "limit", 0),
			Offset:   queryInt(r, "offset", 0),
		})
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}
