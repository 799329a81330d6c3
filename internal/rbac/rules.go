package rbac

const (
	RoleTherapist  = "therapist"
	RoleResearcher = "researcher"
	RoleAdmin      = "admin"
)

const (
	PermConfigView      = "config:view"
	PermConfigEdit      = "config:edit"
	PermConfigActivate  = "config:activate"
	PermPatientCreate   = "patient:create"
	PermPatientView     = "patient:view"
	PermPatientPref     = "patient:preference"
	PermSessionCreate   = "session:create"
	PermSessionView     = "session:view"
	PermSessionBFR      = "session:bfr"
	PermSessionScore    = "session:score"
	PermSessionFinalize = "session:finalize"
	PermSessionRescore  = "session:rescore"
	PermAuditView       = "audit:view"
)

// Default trial policy. Admin holds everything, including forced rescoring
// of finalized sessions.
var RolePermissions = map[string][]string{
	RoleTherapist: {
		PermConfigView,
		"patient:*",
		PermSessionCreate,
		PermSessionView,
		PermSessionBFR,
		PermSessionScore,
		PermSessionFinalize,
	},
	RoleResearcher: {
		PermConfigView,
		PermPatientView,
		PermSessionView,
		PermAuditView,
	},
	RoleAdmin: {
		"*",
	},
}

// Valid reports whether role is one the policy knows.
func Valid(role string) bool {
	_, ok := RolePermissions[role]
	return ok
}
