package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/rehabscore/internal/auth/middleware"
	"github.com/mind-engage/rehabscore/internal/logger"
	"github.com/mind-engage/rehabscore/internal/rbac"
	"github.com/mind-engage/rehabscore/internal/scoring"
	"github.com/mind-engage/rehabscore/internal/service"
)

// POST /patients  {code}
func CreatePatientHandler(svc *service.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Code string `json:"code"`
		}
		if !decode(w, r, &req) {
			return
		}
		p, err := svc.CreatePatient(r.Context(), req.Code)
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

// GET /patients/{patientID}
func GetPatientHandler(svc *service.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.GetPatient(r.Context(), chi.URLParam(r, "patientID"))
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// PUT /patients/{patientID}/scoring-config  {scoring_config_id} (null clears)
func SetPatientPreferenceHandler(svc *service.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ConfigID *string `json:"scoring_config_id"`
		}
		if !decode(w, r, &req) {
			return
		}
		if req.ConfigID != nil && *req.ConfigID == "" {
			req.ConfigID = nil
		}
		p, err := svc.SetPatientPreference(r.Context(), authmw.ActorID(r.Context()),
			chi.URLParam(r, "patientID"), req.ConfigID)
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// POST /sessions  {patient_id}
func CreateSessionHandler(svc *service.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PatientID string `json:"patient_id"`
		}
		if !decode(w, r, &req) {
			return
		}
		if req.PatientID == "" {
			http.Error(w, "patient_id required", http.StatusBadRequest)
			return
		}
		sess, res, err := svc.CreateSession(r.Context(), req.PatientID)
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"session": sess, "resolution": res})
	}
}

// GET /sessions/{id}
func GetSessionHandler(svc *service.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := svc.GetSession(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

// GET /sessions/{id}/scoring-config
func SessionConfigurationHandler(svc *service.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, c, err := svc.SessionConfiguration(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resolution": res, "configuration": c})
	}
}

// POST /sessions/{id}/bfr  {"readings": [...]}
func RecordBFRHandler(svc *service.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Readings []scoring.BFRReading `json:"readings"`
		}
		if !decode(w, r, &req) {
			return
		}
		out, err := svc.RecordBFR(r.Context(), chi.URLParam(r, "id"), req.Readings)
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"results":       out,
			"all_compliant": scoring.AllCompliant(out),
		})
	}
}

// GET /sessions/{id}/bfr
func ListBFRHandler(svc *service.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := svc.ListBFR(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// POST /sessions/{id}/score
func ScoreSessionHandler(svc *service.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.ScoreRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Force && !rbac.Can(r.Context(), rbac.PermSessionRescore) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		req.SessionID = chi.URLParam(r, "id")
		req.Actor = authmw.ActorID(r.Context())
		p, err := svc.ScoreSession(r.Context(), req)
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// GET /sessions/{id}/score
func GetScoreHandler(svc *service.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.GetScore(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// POST /sessions/{id}/finalize
func FinalizeSessionHandler(svc *service.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := svc.FinalizeSession(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}
