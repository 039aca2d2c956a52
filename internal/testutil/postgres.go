// Package testutil provides shared testing utilities for the strand project.
//
// This package contains reusable test infrastructure used across multiple
// packages: a pgvector-enabled PostgreSQL container, seed fixtures for the
// networks/channels/accounts hierarchy, and mock Genkit models.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/strandchat/strand/db"
)

// TestDBContainer wraps a PostgreSQL test container with connection pool.
type TestDBContainer struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// SetupTestDB creates a PostgreSQL container with the pgvector extension,
// runs the embedded migrations, and returns a ready connection pool.
//
// Skips the test when no container runtime is reachable (CI without
// Docker). The cleanup function terminates the container.
func SetupTestDB(t *testing.T) (*TestDBContainer, func()) {
	t.Helper()

	if os.Getenv("STRAND_SKIP_DB_TESTS") != "" {
		t.Skip("STRAND_SKIP_DB_TESTS set")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("strand_test"),
		postgres.WithUsername("strand_test"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("skipping: failed to start PostgreSQL container (no Docker?): %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("Failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("Failed to create connection pool: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("Failed to ping database: %v", err)
	}

	// Same embedded migrations production runs.
	if err := db.Migrate(connStr); err != nil {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	container := &TestDBContainer{
		Container: pgContainer,
		Pool:      pool,
		ConnStr:   connStr,
	}

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(context.Background())
	}

	return container, cleanup
}

// Fixture holds the ids of a seeded network with one channel and three
// accounts (two humans and the bot).
type Fixture struct {
	NetworkID    uuid.UUID
	ChannelID    uuid.UUID
	AliceID      uuid.UUID
	BobID        uuid.UUID
	BotAccountID uuid.UUID
}

// SeedFixture inserts a network, a channel, and three accounts, returning
// their generated ids.
func SeedFixture(t *testing.T, pool *pgxpool.Pool) Fixture {
	t.Helper()

	ctx := context.Background()
	var f Fixture

	err := pool.QueryRow(ctx,
		`INSERT INTO networks (name) VALUES ('test-network') RETURNING id`).Scan(&f.NetworkID)
	if err != nil {
		t.Fatalf("seeding network: %v", err)
	}

	err = pool.QueryRow(ctx,
		`INSERT INTO channels (network_id, name) VALUES ($1, 'general') RETURNING id`,
		f.NetworkID).Scan(&f.ChannelID)
	if err != nil {
		t.Fatalf("seeding channel: %v", err)
	}

	accounts := []struct {
		handle string
		isBot  bool
		dst    *uuid.UUID
	}{
		{"alice-" + uuid.NewString()[:8], false, &f.AliceID},
		{"bob-" + uuid.NewString()[:8], false, &f.BobID},
		{"relay-" + uuid.NewString()[:8], true, &f.BotAccountID},
	}
	for _, a := range accounts {
		err = pool.QueryRow(ctx,
			`INSERT INTO accounts (handle, is_bot) VALUES ($1, $2) RETURNING id`,
			a.handle, a.isBot).Scan(a.dst)
		if err != nil {
			t.Fatalf("seeding account %s: %v", a.handle, err)
		}
	}

	return f
}

// SeedMessage inserts a message into an existing channel, resolving the
// channel's network the way the production insert does, and returns the
// generated id. Use it when a test needs rows that satisfy the
// message_vectors foreign key without going through the store.
func SeedMessage(t *testing.T, pool *pgxpool.Pool, channelID, accountID uuid.UUID, content string) uuid.UUID {
	t.Helper()

	var id uuid.UUID
	err := pool.QueryRow(context.Background(),
		`INSERT INTO messages (channel_id, network_id, created_by, content)
		 SELECT c.id, c.network_id, $2, $3 FROM channels c WHERE c.id = $1
		 RETURNING id`,
		channelID, accountID, content).Scan(&id)
	if err != nil {
		t.Fatalf("seeding message %q: %v", content, err)
	}
	return id
}

// SeedChannel inserts an extra channel into an existing network.
func SeedChannel(t *testing.T, pool *pgxpool.Pool, networkID uuid.UUID, name string) uuid.UUID {
	t.Helper()

	var id uuid.UUID
	err := pool.QueryRow(context.Background(),
		`INSERT INTO channels (network_id, name) VALUES ($1, $2) RETURNING id`,
		networkID, name).Scan(&id)
	if err != nil {
		t.Fatalf("seeding channel %s: %v", name, err)
	}
	return id
}

// SeedNetwork inserts an extra network.
func SeedNetwork(t *testing.T, pool *pgxpool.Pool, name string) uuid.UUID {
	t.Helper()

	var id uuid.UUID
	err := pool.QueryRow(context.Background(),
		`INSERT INTO networks (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	if err != nil {
		t.Fatalf("seeding network %s: %v", name, err)
	}
	return id
}
