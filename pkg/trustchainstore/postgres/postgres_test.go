package postgres

import (
	"context"
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

	"github.com/giacgbj/spid-cie-oidc-go/pkg/trustchain"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/trustchainstore"
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
		pgmodule.WithDatabase("trustchainstore_test"),
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

func testChain(t *testing.T) trustchain.Chain {
	subject := "https://idp.example/" + strconv.FormatInt(time.Now().UnixNano(), 10)
	return trustchain.Chain{
		Subject:         subject,
		TrustAnchor:     "https://ta.example",
		MetadataType:    "openid_provider",
		JWTs:            []string{"header.payload.sig1", "header.payload.sig2"},
		PartiesInvolved: []string{subject, "https://ta.example"},
		FinalMetadata:   map[string]interface{}{"issuer": subject},
		Expiration:      2000000000,
		TrustMarkIDs:    []string{"https://trust-mark.example/spid"},
		Status:          trustchain.StatusValid,
	}
}

func keyFor(c trustchain.Chain) trustchainstore.Key {
	return trustchainstore.Key{Subject: c.Subject, TrustAnchor: c.TrustAnchor, MetadataType: c.MetadataType}
}

func TestPostgres_StoreAndFetch(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	chain := testChain(t)
	record := trustchainstore.Record{Chain: chain, Active: true, CreatedAt: time.Now(), ModifiedAt: time.Now()}

	if _, err := store.StoreTrustChain(ctx, record); err != nil {
		t.Fatalf("StoreTrustChain() error = %v", err)
	}

	got, err := store.FetchTrustChain(ctx, keyFor(chain))
	if err != nil {
		t.Fatalf("FetchTrustChain() error = %v", err)
	}
	if got.Chain.Subject != chain.Subject || got.Chain.TrustAnchor != chain.TrustAnchor {
		t.Errorf("chain identity mismatch: got %+v", got.Chain)
	}
	if len(got.Chain.JWTs) != 2 {
		t.Errorf("len(JWTs) = %d, want 2", len(got.Chain.JWTs))
	}
	if !got.Active {
		t.Error("Active = false, want true")
	}
}

func TestPostgres_FetchNotFound(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, err := store.FetchTrustChain(ctx, keyFor(testChain(t)))
	if !errors.Is(err, trustchainstore.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestPostgres_FetchAnyByAnchor(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	chainA := testChain(t)
	chainB := testChain(t)
	store.StoreTrustChain(ctx, trustchainstore.Record{Chain: chainA, Active: true, CreatedAt: time.Now(), ModifiedAt: time.Now()})
	store.StoreTrustChain(ctx, trustchainstore.Record{Chain: chainB, Active: true, CreatedAt: time.Now(), ModifiedAt: time.Now()})

	records, err := store.FetchAnyByAnchor(ctx, "https://ta.example")
	if err != nil {
		t.Fatalf("FetchAnyByAnchor() error = %v", err)
	}
	if len(records) < 2 {
		t.Errorf("len(records) = %d, want at least 2", len(records))
	}
}

func TestPostgres_DeactivateTrustChain(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	chain := testChain(t)
	store.StoreTrustChain(ctx, trustchainstore.Record{Chain: chain, Active: true, CreatedAt: time.Now(), ModifiedAt: time.Now()})

	if err := store.DeactivateTrustChain(ctx, keyFor(chain)); err != nil {
		t.Fatalf("DeactivateTrustChain() error = %v", err)
	}

	got, err := store.FetchTrustChain(ctx, keyFor(chain))
	if err != nil {
		t.Fatalf("FetchTrustChain() after deactivate: %v", err)
	}
	if got.Active {
		t.Error("Active = true after deactivate, want false")
	}
}

func TestPostgres_DeactivateNotFound(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	err := store.DeactivateTrustChain(ctx, keyFor(testChain(t)))
	if !errors.Is(err, trustchainstore.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
