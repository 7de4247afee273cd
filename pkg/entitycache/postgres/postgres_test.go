package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/giacgbj/spid-cie-oidc-go/pkg/entitycache"
)

func init() {
	if os.Getenv("DOCKER_HOST") == "" {
		out, err := exec.Command("podman", "machine", "inspect", "--format", "{{.ConnectionInfo.PodmanSocket.Path}}").Output()
		if err == nil {
			if sock := strings.TrimSpace(string(out)); sock != "" {
				os.Setenv("DOCKER_HOST", "unix://"+sock)
			}
		}
	}
	if os.Getenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED", "true")
	}
}

// setupTestDB starts a PostgreSQL container and returns a connected
// Store. Tests are skipped if Docker/podman is not available.
func setupTestDB(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping PostgreSQL integration tests")
	}
	if _, err := exec.LookPath("podman"); err != nil {
		t.Skip("podman not found, skipping integration tests")
	}

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("entitycache_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container (is podman running?): %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	store, err := New(ctx, Config{DSN: connStr, MaxConns: 5, MinConns: 1, MigrateOnStart: true})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func testKey(t *testing.T) entitycache.Key {
	return entitycache.Key{
		Subject: "https://idp.example/" + strconv.FormatInt(time.Now().UnixNano(), 10),
		Issuer:  "https://ta.example",
	}
}

func TestPostgres_StoreAndFetch(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	key := testKey(t)
	info := entitycache.Info{
		Subject:    key.Subject,
		Issuer:     key.Issuer,
		IssuedAt:   1000,
		Expiration: 2000000000,
		Payload:    json.RawMessage(`{"sub":"` + key.Subject + `"}`),
		JWT:        "header.payload.signature",
	}

	if _, err := store.StoreEntityInfo(ctx, info); err != nil {
		t.Fatalf("StoreEntityInfo() error = %v", err)
	}

	got, err := store.FetchEntityInfo(ctx, key)
	if err != nil {
		t.Fatalf("FetchEntityInfo() error = %v", err)
	}
	if got.Subject != key.Subject || got.Issuer != key.Issuer {
		t.Errorf("key = %+v, want %+v", entitycache.Key{Subject: got.Subject, Issuer: got.Issuer}, key)
	}
	if got.Expiration != info.Expiration {
		t.Errorf("Expiration = %d, want %d", got.Expiration, info.Expiration)
	}
	if got.JWT != info.JWT {
		t.Errorf("JWT = %q, want %q", got.JWT, info.JWT)
	}
}

func TestPostgres_FetchNotFound(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, err := store.FetchEntityInfo(ctx, testKey(t))
	if !errors.Is(err, entitycache.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestPostgres_StoreUpserts(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	key := testKey(t)
	first := entitycache.Info{Subject: key.Subject, Issuer: key.Issuer, IssuedAt: 1000, Expiration: 2000, Payload: json.RawMessage(`{}`), JWT: "first"}
	store.StoreEntityInfo(ctx, first)

	second := first
	second.Expiration = 3000
	second.JWT = "second"
	if _, err := store.StoreEntityInfo(ctx, second); err != nil {
		t.Fatalf("re-storing: %v", err)
	}

	got, err := store.FetchEntityInfo(ctx, key)
	if err != nil {
		t.Fatalf("FetchEntityInfo() error = %v", err)
	}
	if got.JWT != "second" || got.Expiration != 3000 {
		t.Errorf("got %+v, want upserted values", got)
	}
}

func TestPostgres_Invalidate(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	key := testKey(t)
	store.StoreEntityInfo(ctx, entitycache.Info{Subject: key.Subject, Issuer: key.Issuer, IssuedAt: 1000, Expiration: 2000, Payload: json.RawMessage(`{}`), JWT: "x"})

	if err := store.InvalidateEntityInfo(ctx, key); err != nil {
		t.Fatalf("InvalidateEntityInfo() error = %v", err)
	}
	if _, err := store.FetchEntityInfo(ctx, key); !errors.Is(err, entitycache.ErrNotFound) {
		t.Errorf("error after invalidate = %v, want ErrNotFound", err)
	}
}
