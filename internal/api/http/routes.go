// Package http is the JSON surface over the scoring service.
package http

import (
	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/rehabscore/internal/auth/middleware"
	"github.com/mind-engage/rehabscore/internal/logger"
	"github.com/mind-engage/rehabscore/internal/rbac"
	"github.com/mind-engage/rehabscore/internal/service"
)

// Mount registers the protected API on r: JWT first, then the permission
// each route needs.
func Mount(r chi.Router, svc *service.Service, authSvc *authmw.AuthService, log *logger.Logger) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("service", "ScoringAPI")

	r.Group(func(pr chi.Router) {
		pr.Use(authmw.JWTMiddleware(authSvc))

		pr.With(rbac.Require(rbac.PermConfigView)).Get("/configurations", ListConfigurationsHandler(svc, log))
		pr.With(rbac.Require(rbac.PermConfigView)).Get("/configurations/{id}", GetConfigurationHandler(svc, log))
		pr.With(rbac.Require(rbac.PermConfigEdit)).Post("/configurations", CreateConfigurationHandler(svc, log))
		pr.With(rbac.Require(rbac.PermConfigEdit)).Post("/configurations/{id}/weights", UpdateWeightHandler(svc, log))
		pr.With(rbac.Require(rbac.PermConfigEdit)).Post("/configurations/{id}/subweights", UpdateSubWeightsHandler(svc, log))
		pr.With(rbac.Require(rbac.PermConfigEdit)).Put("/configurations/{id}/rpe-mapping", UpdateRPEMappingHandler(svc, log))
		pr.With(rbac.Require(rbac.PermConfigActivate)).Post("/configurations/{id}/activate", ActivateHandler(svc, log))
		pr.With(rbac.Require(rbac.PermConfigActivate)).Post("/configurations/{id}/deactivate", DeactivateHandler(svc, log))
		pr.With(rbac.Require(rbac.PermConfigView)).Get("/rpe/{value}", MapRPEHandler(svc, log))

		pr.With(rbac.Require(rbac.PermPatientCreate)).Post("/patients", CreatePatientHandler(svc, log))
		pr.With(rbac.Require(rbac.PermPatientView)).Get("/patients/{patientID}", GetPatientHandler(svc, log))
		pr.With(rbac.Require(rbac.PermPatientPref)).Put("/patients/{patientID}/scoring-config", SetPatientPreferenceHandler(svc, log))

		pr.With(rbac.Require(rbac.PermSessionCreate)).Post("/sessions", CreateSessionHandler(svc, log))
		pr.With(rbac.Require(rbac.PermSessionView)).Get("/sessions/{id}", GetSessionHandler(svc, log))
		pr.With(rbac.Require(rbac.PermSessionView)).Get("/sessions/{id}/scoring-config", SessionConfigurationHandler(svc, log))
		pr.With(rbac.Require(rbac.PermSessionBFR)).Post("/sessions/{id}/bfr", RecordBFRHandler(svc, log))
		pr.With(rbac.Require(rbac.PermSessionView)).Get("/sessions/{id}/bfr", ListBFRHandler(svc, log))
		pr.With(rbac.Require(rbac.PermSessionScore)).Post("/sessions/{id}/score", ScoreSessionHandler(svc, log))
		pr.With(rbac.Require(rbac.PermSessionView)).Get("/sessions/{id}/score", GetScoreHandler(svc, log))
		pr.With(rbac.Require(rbac.PermSessionFinalize)).Post("/sessions/{id}/finalize", FinalizeSessionHandler(svc, log))

		// researchers read the trail; config editors see who changed what
		pr.With(rbac.RequireAny(rbac.PermAuditView, rbac.PermConfigEdit)).Get("/audit", ListAuditHandler(svc, log))
	})
}
