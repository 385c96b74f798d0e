package pgsql

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/webitel/wlog"

	"github.com/webitel/media_jobs/infra/sql"
	"github.com/webitel/media_jobs/infra/sql/migrate"
)

var testStore sql.Store

type testGroup struct {
	ID        string `db:"id"`
	Origin    string `db:"origin"`
	OriginRef string `db:"origin_ref"`
	Total     *int   `db:"total"`
	Sealed    bool   `db:"sealed"`
	Queued    int    `db:"queued"`
}

// TestMain starts a disposable PostgreSQL and applies the schema.
func TestMain(m *testing.M) {
	// Docker must be running
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx, "docker.io/postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	if err != nil {
		fmt.Printf("Could not start postgres container: %s", err)
		os.Exit(1)
	}

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Printf("Could not get connection string: %s", err)
		os.Exit(1)
	}

	log := wlog.NewLogger(&wlog.LoggerConfiguration{EnableConsole: true})

	testStore, err = New(ctx, dsn, log)
	if err != nil {
		fmt.Printf("Could not connect to test database: %s", err)
		os.Exit(1)
	}

	if err = migrate.Up(ctx, testStore, log); err != nil {
		fmt.Printf("Could not apply migrations: %s", err)
		os.Exit(1)
	}

	code := m.Run()

	_ = testStore.Close()

	if err := pgContainer.Terminate(ctx); err != nil {
		fmt.Printf("Could not terminate postgres container: %s", err)
	}

	os.Exit(code)
}

func truncate(t *testing.T) {
	t.Helper()

	_, err := testStore.Exec(context.Background(), "TRUNCATE TABLE jobs, job_groups", nil)
	require.NoError(t, err)
}

func insertGroup(t *testing.T, id, ref string) {
	t.Helper()

	_, err := testStore.Exec(context.Background(), `insert into job_groups (id, origin, origin_ref, created_at)
values (@id, 'scan', @ref, @now)`, sql.Args{"id": id, "ref": ref, "now": time.Now().UTC()})
	require.NoError(t, err)
}

func TestDB_Exec_And_Get(t *testing.T) {
	ctx := context.Background()
	truncate(t)

	t.Run("Get existing group", func(t *testing.T) {
		// --- Arrange ---
		insertGroup(t, "g-1", "/media/tv")

		// --- Act ---
		var g testGroup

		err := testStore.Get(ctx, &g, "select id, origin, origin_ref, total, sealed, queued from job_groups where id = @id",
			sql.Args{"id": "g-1"})

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, "g-1", g.ID)
		assert.Equal(t, "scan", g.Origin)
		assert.Equal(t, "/media/tv", g.OriginRef)
		assert.Nil(t, g.Total)
		assert.False(t, g.Sealed)
	})

	t.Run("Get missing group", func(t *testing.T) {
		// --- Act ---
		var g testGroup

		err := testStore.Get(ctx, &g, "select id, origin, origin_ref, total, sealed, queued from job_groups where id = @id",
			sql.Args{"id": "missing"})

		// --- Assert ---
		require.Error(t, err)
		assert.True(t, sql.IsNoRows(err))
	})

	t.Run("Exec reports affected rows", func(t *testing.T) {
		// --- Act ---
		n, err := testStore.Exec(ctx, "update job_groups set queued = queued + 1 where id = @id", sql.Args{"id": "g-1"})

		// --- Assert ---
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = testStore.Exec(ctx, "update job_groups set queued = queued + 1 where id = @id", sql.Args{"id": "nope"})
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func TestDB_Select(t *testing.T) {
	ctx := context.Background()

	// --- Arrange ---
	truncate(t)

	for _, ref := range []string{"/b", "/a", "/c"} {
		insertGroup(t, "g"+ref, ref)
	}

	// --- Act ---
	var groups []testGroup

	err := testStore.Select(ctx, &groups, "select id, origin, origin_ref, total, sealed, queued from job_groups order by origin_ref", nil)

	// --- Assert ---
	require.NoError(t, err)
	require.Len(t, groups, 3)

	assert.Equal(t, "/a", groups[0].OriginRef)
	assert.Equal(t, "/b", groups[1].OriginRef)
	assert.Equal(t, "/c", groups[2].OriginRef)
}

func TestDB_Status_Check(t *testing.T) {
	ctx := context.Background()
	truncate(t)

	// --- Act ---
	_, err := testStore.Exec(ctx, `insert into jobs (id, path, class, priority, status, created_at, enqueued_at, updated_at)
values ('j-1', '/a.mkv', 'light', 1, 'paused', now(), now(), now())`, nil)

	// --- Assert ---
	require.Error(t, err, "status outside of the state machine must be refused by the schema")
}

func TestDB_Migrations(t *testing.T) {
	// --- Act ---
	v, err := migrate.Version(context.Background(), testStore)

	// --- Assert ---
	require.NoError(t, err)
	assert.Positive(t, v)
	assert.Equal(t, sql.DialectPostgres, testStore.Dialect())
	require.NoError(t, testStore.Ping(context.Background()))
}
