package models

import (
	"time"

	"github.com/google/uuid"
)

// Workspace plans, read by the entitlement check at policy-creation time
const (
	PlanFree       = "free"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// Workspace represents a tenant in the multi-tenant system. The table is
// owned by the wider platform; enforcement reads it for entitlement checks.
type Workspace struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"` // URL-friendly identifier
	Plan      string    `json:"plan" db:"plan"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Workspace model
func (Workspace) TableName() string {
	return "workspaces"
}

// NewWorkspace creates a new Workspace instance
func NewWorkspace(name, slug, plan string) *Workspace {
	now := time.Now()
	return &Workspace{
		ID:        uuid.New(),
		Name:      name,
		Slug:      slug,
		Plan:      plan,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
