package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"reaper/internal/database"
)

var (
	pgOnce      sync.Once
	pgPool      *pgxpool.Pool
	pgErr       error
	pgTerminate func(context.Context, ...testcontainers.TerminateOption) error
)

func TestMain(m *testing.M) {
	code := m.Run()
	if pgPool != nil {
		pgPool.Close()
	}
	if pgTerminate != nil {
		pgTerminate(context.Background())
	}
	os.Exit(code)
}

// startPostgres boots one container per test binary and migrates it.
func startPostgres() (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := postgres.Run(
		ctx,
		"postgres:latest",
		postgres.WithDatabase("reaper"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, err
	}
	pgTerminate = container.Terminate

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	if err := database.RunMigrations(db, "../../migrations"); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return pgxpool.New(ctx, dsn)
}

func setupTestPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("SKIP_INTEGRATION") != "" {
		t.Skip("integration tests disabled")
	}
	pgOnce.Do(func() {
		pgPool, pgErr = startPostgres()
	})
	if pgErr != nil {
		t.Skipf("postgres not available: %v", pgErr)
	}
	return pgPool
}

func newTestTxManager(t *testing.T, pool *pgxpool.Pool) *manager.Manager {
	t.Helper()
	txManager, err := manager.New(trmpgx.NewDefaultFactory(pool))
	if err != nil {
		t.Fatalf("tx manager: %v", err)
	}
	return txManager
}

func TestPostgresAccounts(t *testing.T) {
	pool := setupTestPostgres(t)
	runAccountsSuite(t, NewPostgresAccounts(pool, newTestTxManager(t, pool)), "pg-")
}

func TestPostgresHistory(t *testing.T) {
	pool := setupTestPostgres(t)
	runHistorySuite(t, NewPostgresHistory(pool, newTestTxManager(t, pool)), "pg-")
}
