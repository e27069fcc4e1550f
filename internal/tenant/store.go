package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a tenant does not exist.
var ErrNotFound = errors.New("tenant not found")

// Store provides database operations for tenant records.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create registers a tenant. The ID is caller-supplied because it mirrors
// the upstream account identifier.
func (s *Store) Create(ctx context.Context, in CreateInput) (*Tenant, error) {
	t := &Tenant{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tenants (id, name, plan, products)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, name, plan, products, created_at`,
		in.ID, in.Name, in.Plan, in.Products,
	).Scan(&t.ID, &t.Name, &t.Plan, &t.Products, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating tenant: %w", err)
	}
	return t, nil
}

// Get retrieves a tenant by ID.
func (s *Store) Get(ctx context.Context, id string) (*Tenant, error) {
	t := &Tenant{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, plan, products, created_at
		 FROM tenants WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.Name, &t.Plan, &t.Products, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting tenant: %w", err)
	}
	return t, nil
}

// List returns all tenants ordered by ID.
func (s *Store) List(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, plan, products, created_at
		 FROM tenants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		t := &Tenant{}
		if err := rows.Scan(&t.ID, &t.Name, &t.Plan, &t.Products, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning tenant row: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tenant rows: %w", err)
	}
	return tenants, nil
}

// SetPlan updates a tenant's plan tier.
func (s *Store) SetPlan(ctx context.Context, id, plan string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET plan = $2 WHERE id = $1`, id, plan)
	if err != nil {
		return fmt.Errorf("updating tenant plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
