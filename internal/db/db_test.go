//go:build integration

// Package db_test contains integration tests for the SurrealDB source store.
package db_test

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/raphaelgruber/grimoire/internal/db"
	"github.com/raphaelgruber/grimoire/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *db.Client

// TestMain sets up and tears down the SurrealDB container for all tests.
func TestMain(m *testing.M) {
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := container.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	testDB, err = db.NewClient(ctx, db.Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, logger)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = container.Terminate(ctx)

	os.Exit(code)
}

func wipe(t *testing.T) {
	t.Helper()
	require.NoError(t, testDB.WipeData(context.Background()))
}

func TestCreateSourcesKeepsInputOrder(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	created, err := testDB.CreateSources(ctx, []models.SourceInput{
		models.URLSource("https://one.example"),
		models.URLSource("https://two.example"),
		models.FileSource("a.txt", "1700000000000-key-a.txt"),
	})
	require.NoError(t, err)
	require.Len(t, created, 3)

	assert.Equal(t, "https://one.example", created[0].URL)
	assert.Equal(t, "https://two.example", created[1].URL)
	assert.Equal(t, models.SourceTypeFile, created[2].Type)
	assert.Equal(t, "a.txt", created[2].Name)
	for _, s := range created {
		assert.NotEmpty(t, s.ID)
		assert.False(t, s.CreatedAt.IsZero())
	}
}

func TestCreateSourcesIsAtomic(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	_, err := testDB.CreateSources(ctx, []models.SourceInput{
		models.URLSource("https://ok.example"),
		{Type: "video", Name: "bad", URL: "bad"}, // rejected by the type assertion
	})
	require.ErrorIs(t, err, db.ErrSchemaViolation)

	listed, err := testDB.ListSources(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, listed, "a rejected batch leaves no rows")
}

func TestGetSource(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	created, err := testDB.CreateSources(ctx, []models.SourceInput{models.URLSource("https://get.example")})
	require.NoError(t, err)

	got, err := testDB.GetSource(ctx, created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "https://get.example", got.Name)

	_, err = testDB.GetSource(ctx, "does-not-exist")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListSourcesNewestFirst(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	for _, u := range []string{"https://first.example", "https://second.example"} {
		_, err := testDB.CreateSources(ctx, []models.SourceInput{models.URLSource(u)})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	listed, err := testDB.ListSources(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "https://second.example", listed[0].URL)

	limited, err := testDB.ListSources(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
