// Package dbtest starts a throwaway PostgreSQL container for package tests.
package dbtest

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ttani03/lan-ipam/internal/database"
)

// Run starts PostgreSQL, connects database.DB, applies the schema, calls
// setup, runs the tests and exits. Call it from TestMain.
func Run(m *testing.M, setup ...func()) {
	os.Exit(run(m, setup))
}

func run(m *testing.M, setup []func()) int {
	ctx := context.Background()

	ctr, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("ipam_test"),
		postgres.WithUsername("ipam_user"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
		),
	)
	if err != nil {
		log.Fatalf("failed to start postgres container: %v", err)
	}
	defer func() {
		if err := ctr.Terminate(ctx); err != nil {
			log.Printf("failed to terminate container: %v", err)
		}
	}()

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Printf("failed to get connection string: %v", err)
		return 1
	}

	if err := database.Connect(ctx, connStr); err != nil {
		log.Printf("failed to connect to database: %v", err)
		return 1
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		log.Printf("failed to apply schema: %v", err)
		return 1
	}

	for _, fn := range setup {
		fn()
	}
	return m.Run()
}

// Clean truncates all tables to ensure a clean state for each test.
func Clean(t *testing.T) {
	t.Helper()
	_, err := database.DB.Exec(context.Background(), "TRUNCATE TABLE allocation_events, allocations, subnets RESTART IDENTITY CASCADE")
	if err != nil {
		t.Fatalf("failed to clean database: %v", err)
	}
}

// InsertSubnet creates an active subnet and returns its id.
func InsertSubnet(t *testing.T, name, cidr, gateway, excluded string) string {
	t.Helper()
	var gw any
	if gateway != "" {
		gw = gateway
	}
	var id string
	err := database.DB.QueryRow(context.Background(),
		"INSERT INTO subnets (name, cidr, gateway, excluded_ips) VALUES ($1, $2, $3, $4) RETURNING id::text",
		name, cidr, gw, excluded).Scan(&id)
	if err != nil {
		t.Fatalf("failed to insert subnet %s: %v", name, err)
	}
	return id
}

// InsertAllocation inserts a ledger row directly, bypassing the engine.
func InsertAllocation(t *testing.T, subnetID, address, status, owner string) string {
	t.Helper()
	var id string
	err := database.DB.QueryRow(context.Background(),
		"INSERT INTO allocations (subnet_id, address, status, owner) VALUES ($1, $2, $3, $4) RETURNING id::text",
		subnetID, address, status, owner).Scan(&id)
	if err != nil {
		t.Fatalf("failed to insert allocation %s: %v", address, err)
	}
	return id
}
