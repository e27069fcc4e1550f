package tenant

import "time"

// Tenant is the engine's view of a customer account: the plan tier usage
// is metered against and the products the tenant has enabled. Account
// lifecycle (signup, plan changes, licensing) lives upstream; this table
// only mirrors what billing and quota checks need.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Plan      string    `json:"plan"`
	Products  []string  `json:"products"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateInput holds the fields required to register a tenant.
type CreateInput struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Plan     string   `json:"plan"`
	Products []string `json:"products"`
}
