package logging

import "github.com/ethereum/go-ethereum/common"

// AuditEvent is an administrative change: a policy value, an authorization
// grant, a module registration.
type AuditEvent struct {
	Operation string // e.g. "hub.set_challenge_window", "registry.authorize"
	Actor     common.Address
	Target    string
	Err       error
	Details   string
}

// Audit logs an administrative change at Info with an "audit" attribute so
// it can be filtered from regular output.
func Audit(event AuditEvent) {
	result := "success"
	if event.Err != nil {
		result = "failure"
	}
	Logger().Info("audit",
		"audit", true,
		"operation", event.Operation,
		Address("actor", event.Actor),
		"target", event.Target,
		"result", result,
		"details", event.Details,
		Err(event.Err),
	)
}
