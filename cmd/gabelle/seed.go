package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/tallyworks/gabelle/internal/config"
	"github.com/tallyworks/gabelle/internal/tenant"
	"github.com/tallyworks/gabelle/internal/usage"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed demo tenants and a burst of usage events",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

var demoTenants = []tenant.CreateInput{
	{
		ID:       "acme",
		Name:     "Acme Ltd",
		Plan:     "starter",
		Products: []string{"chatbot", "mailer"},
	},
	{
		ID:       "globex",
		Name:     "Globex Corporation",
		Plan:     "growth",
		Products: []string{"chatbot", "mailer", "lookup", "api"},
	},
	{
		ID:       "initech",
		Name:     "Initech",
		Plan:     "scale",
		Products: []string{"chatbot", "lookup", "api"},
	},
}

// demoEventTypes maps each product to the metric its events carry.
var demoEventTypes = map[string]string{
	"chatbot": usage.MetricMessages,
	"mailer":  usage.MetricEmails,
	"lookup":  usage.MetricLookups,
	"api":     usage.MetricAPICalls,
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	tenantStore := tenant.NewStore(pool)
	usageStore := usage.NewStore(pool)

	// Check if seed has already run.
	existing, err := tenantStore.List(ctx)
	if err != nil {
		return fmt.Errorf("checking existing tenants: %w", err)
	}
	if len(existing) > 0 {
		slog.Info("demo data already exists, skipping seed")
		return nil
	}

	for _, input := range demoTenants {
		t, err := tenantStore.Create(ctx, input)
		if err != nil {
			return fmt.Errorf("creating tenant %q: %w", input.ID, err)
		}
		slog.Info("created tenant", "id", t.ID, "plan", t.Plan)
	}

	// A burst of events spread over the last two days, so reports and
	// billing have something to show immediately.
	var events []usage.Event
	now := time.Now().UTC()
	for _, ten := range demoTenants {
		for _, productID := range ten.Products {
			n := 20 + rand.Intn(80)
			for i := 0; i < n; i++ {
				events = append(events, usage.Event{
					TenantID:   ten.ID,
					ProductID:  productID,
					EventType:  demoEventTypes[productID],
					Quantity:   1,
					OccurredAt: now.Add(-time.Duration(rand.Intn(48)) * time.Hour),
				})
			}
		}
	}

	if err := usageStore.BatchInsert(ctx, events); err != nil {
		return fmt.Errorf("inserting demo events: %w", err)
	}
	slog.Info("seeded demo usage", "events", len(events))

	return nil
}
