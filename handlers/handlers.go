package handlers

import (
	"github.com/upb/risk-enforcer/app"
)

// Handlers aggregates the HTTP handlers the router mounts
type Handlers struct {
	Policies *PolicyHandler
	Breaches *BreachHandler
	Audit    *AuditHandler
	Enforce  *EnforceHandler
	Health   *HealthHandler
}

// NewHandlers wires every handler from the shared dependency container
func NewHandlers(deps *app.Dependencies) *Handlers {
	return &Handlers{
		Policies: NewPolicyHandler(deps.PolicyService, deps.Logger),
		Breaches: NewBreachHandler(deps.Repos.Breaches, deps.Logger),
		Audit:    NewAuditHandler(deps.AuditService, deps.Logger),
		Enforce:  NewEnforceHandler(deps.Worker, deps.Logger),
		Health:   NewHealthHandler(deps.DB, deps.AuditDB, deps.Dispatcher, deps.Logger),
	}
}
