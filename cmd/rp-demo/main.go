// Command rp-demo runs a minimal SPID/CIE OpenID Connect Federation
// relying party: it serves the RP's own well-known federation document
// and a /authorize endpoint that resolves a trust chain to a chosen
// identity provider and returns a signed authorization URL.
//
// Configuration can be provided via:
//   - YAML config file (--config flag, RP_CONFIG env, ./config.yaml, /etc/rp/config.yaml)
//   - Environment variables with RP_ prefix (override config file values)
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/giacgbj/spid-cie-oidc-go/pkg/config"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/entitycache"
	entitycachemem "github.com/giacgbj/spid-cie-oidc-go/pkg/entitycache/memory"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/federation"
	federationmem "github.com/giacgbj/spid-cie-oidc-go/pkg/federation/memory"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/fetch"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/observability"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/rp"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/trustchain"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/trustchainstore"
	trustchainstoremem "github.com/giacgbj/spid-cie-oidc-go/pkg/trustchainstore/memory"
)

func main() {
	if err := run(); err != nil {
		slog.Error("rp-demo failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	orchestrator, err := buildOrchestrator(cfg)
	if err != nil {
		return fmt.Errorf("building orchestrator: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-federation", wellKnownHandler(orchestrator))
	mux.HandleFunc("GET /authorize", authorizeHandler(orchestrator))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	if cfg.Observability.Metrics.Enabled {
		mux.Handle("GET "+cfg.Observability.Metrics.Path, promhttp.Handler())
		slog.Info("metrics endpoint enabled", "path", cfg.Observability.Metrics.Path)
	}

	var handler http.Handler = mux
	if cfg.Observability.Metrics.Enabled {
		handler = observability.MetricsMiddleware(handler)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("rp-demo starting", "port", cfg.Server.Port, "client_id", cfg.ClientID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// buildOrchestrator wires the entity fetcher, entity cache, trust chain
// builder and store, federation repository, and pending-authorization
// store into a ready-to-use rp.Orchestrator.
func buildOrchestrator(cfg *config.Config) (*rp.Orchestrator, error) {
	fetcher := fetch.New(fetch.Config{})

	cache, err := newEntityCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating entity cache: %w", err)
	}

	builder := &trustchain.Builder{
		Fetcher:    fetcher,
		Getter:     fetcher,
		Cache:      cache,
		MaxPathLen: trustchain.DefaultMaxPathLen,
		MaxHints:   cfg.MaxAuthorityHints,
	}

	chainStore := trustchainstore.New(trustchainstoremem.New())
	federationRepo := federationmem.New()

	jwks, err := cfg.ParseJWKS()
	if err != nil {
		return nil, fmt.Errorf("parsing jwk: %w", err)
	}
	trustMarks, err := cfg.ParseTrustMarks()
	if err != nil {
		return nil, fmt.Errorf("parsing trust_marks: %w", err)
	}
	allowedTrustMarks := cfg.ResolvedAllowedTrustMarks()

	if _, err := federation.Onboard(context.Background(), federationRepo, federation.Config{
		Subject:              cfg.ClientID,
		RPMetadata:           cfg.RPMetadata(),
		AuthorityHints:       nil,
		DefaultExpireMinutes: cfg.DefaultExpireMinutes,
		DefaultSignatureAlg:  cfg.DefaultSignatureAlg,
		ConfiguredJWKS:       jwks,
		ConfiguredTrustMarks: trustMarks,
	}, false); err != nil {
		slog.Warn("onboarding did not complete at startup, will retry per request", "error", err)
	}

	return &rp.Orchestrator{
		Config: rp.Config{
			ClientID:             cfg.ClientID,
			TrustAnchors:         cfg.TrustAnchorSet(),
			SpidProviders:        cfg.SpidProviders,
			CieProviders:         cfg.CieProviders,
			ACRValues:            cfg.ACRValues,
			MaxAuthorityHints:    cfg.MaxAuthorityHints,
			RPMetadataTemplate:   cfg.RPMetadata(),
			DefaultExpireMinutes: cfg.DefaultExpireMinutes,
			DefaultSignatureAlg:  cfg.DefaultSignatureAlg,
			ConfiguredJWKS:       jwks,
			ConfiguredTrustMarks: trustMarks,
			AllowedTrustMarks:    allowedTrustMarks,
		},
		Fetcher:      fetcher,
		Getter:       fetcher,
		ChainBuilder: builder,
		ChainStore:   chainStore,
		Federation:   federationRepo,
		AuthRequests: rp.NewMemoryAuthRequestStore(),
	}, nil
}

func newEntityCache(cfg *config.Config) (*entitycache.Cache, error) {
	switch cfg.Storage.Type {
	case "postgres":
		return nil, fmt.Errorf("postgres entity cache wiring requires a live DSN; run with storage.type=memory for the demo binary")
	default:
		store, err := entitycachemem.New(cfg.Storage.MaxSize)
		if err != nil {
			return nil, err
		}
		return entitycache.New(store), nil
	}
}

func wellKnownHandler(o *rp.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jsonMode := r.URL.Query().Get("format") == "json"
		requestURL := "https://" + r.Host + r.URL.Path

		result, err := o.GetWellKnownData(r.Context(), requestURL, jsonMode)
		if err != nil {
			writeError(w, err)
			return
		}

		if result.ContentTypeIsJSON {
			w.Header().Set("Content-Type", "application/json")
			w.Write(result.JSON)
			return
		}
		w.Header().Set("Content-Type", "application/entity-statement+jwt")
		w.Write([]byte(result.JWT))
	}
}

func authorizeHandler(o *rp.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		authURL, err := o.GetAuthorizeURL(r.Context(),
			q.Get("provider"), q.Get("trust_anchor"), q.Get("redirect_uri"),
			q.Get("scope"), q.Get("profile"), q.Get("prompt"))
		if err != nil {
			writeError(w, err)
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

func writeError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
