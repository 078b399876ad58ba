// Command seed loads the default permissions, roles and accounts into the
// configured store. It is safe to run repeatedly.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rolekeeper/rolekeeper/internal/app"
	"github.com/rolekeeper/rolekeeper/internal/rbac"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.SeedPassword == "" {
		log.Fatal("SEED_PASSWORD must be provided")
	}
	logger := app.NewLogger(cfg)
	ctx := context.Background()

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	fmt.Println("→ Seeding RBAC...")
	res, err := rbac.Bootstrap(ctx, store, app.SeedPlan(cfg), logger)
	if err != nil {
		log.Fatalf("seed rbac: %v", err)
	}
	fmt.Printf("  permissions: %d new, roles: %d new, accounts: %d new\n", res.Permissions, res.Roles, res.Principals)
	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}
