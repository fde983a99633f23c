package testhelpers

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Ramsey-B/fern/pkg/database"
)

const postgresImage = "postgres:15-alpine"

var (
	sharedDB     database.DB
	sharedDBOnce sync.Once
	sharedDBErr  error
)

// Logger discards everything.
func Logger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// MigrationsPath is the absolute path of db/pg.
func MigrationsPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "db", "pg")
}

// GetPostgres returns a migrated database shared by every test in the run,
// with all content and watermark rows removed.
func GetPostgres(t *testing.T) database.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedDBOnce.Do(func() {
		sharedDB, sharedDBErr = startPostgres(context.Background())
	})
	if sharedDBErr != nil {
		t.Skipf("PostgreSQL container unavailable: %v", sharedDBErr)
	}

	_, err := sharedDB.ExecContext(context.Background(), `TRUNCATE content.person_film_work, content.genre_film_work,
		content.film_work, content.person, content.genre, etl.watermarks`)
	if err != nil {
		t.Fatalf("failed to reset database: %v", err)
	}
	return sharedDB
}

func startPostgres(ctx context.Context) (database.DB, error) {
	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "movies_database",
			"POSTGRES_USER":     "app",
			"POSTGRES_PASSWORD": "app",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	dsn := fmt.Sprintf("host=%s port=%s user=app password=app dbname=movies_database sslmode=disable", host, port.Port())
	db, err := database.Connect(ctx, "postgres", dsn, database.PoolConfig{MaxOpenConns: 5}, Logger())
	if err != nil {
		return nil, err
	}

	migrations := database.NewMigrationService(Logger(), &database.MigrationConfig{
		MigrationFolderPath: MigrationsPath(),
	})
	if err := migrations.MigratePostgres(db.Unwrap().DB, "movies_database"); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return db, nil
}
