package trustchainstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/giacgbj/spid-cie-oidc-go/pkg/trustchain"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/trustchainstore"
	"github.com/giacgbj/spid-cie-oidc-go/pkg/trustchainstore/memory"
)

func newStore() *trustchainstore.Store {
	return trustchainstore.New(memory.New())
}

func TestStore_FetchMissReturnsErrNotFound(t *testing.T) {
	s := newStore()
	_, err := s.Fetch(context.Background(), trustchainstore.Key{Subject: "https://idp.example", TrustAnchor: "https://ta.example", MetadataType: "openid_provider"})
	if !errors.Is(err, trustchainstore.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_StoreThenFetchRoundTrips(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	chain := trustchain.Chain{
		Subject: "https://idp.example", TrustAnchor: "https://ta.example", MetadataType: "openid_provider",
		JWTs: []string{"a", "b"}, PartiesInvolved: []string{"https://idp.example", "https://ta.example"},
		Expiration: 5000, Status: trustchain.StatusValid,
	}

	stored, err := s.Store(ctx, chain)
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if !stored.Active {
		t.Error("expected freshly stored chain to default active=true")
	}

	key := trustchainstore.Key{Subject: chain.Subject, TrustAnchor: chain.TrustAnchor, MetadataType: chain.MetadataType}
	got, err := s.Fetch(ctx, key)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got.Chain.Expiration != 5000 {
		t.Errorf("Expiration = %d, want 5000", got.Chain.Expiration)
	}
}

func TestStore_DeactivateSurvivesRebuild(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	chain := trustchain.Chain{Subject: "https://idp.example", TrustAnchor: "https://ta.example", MetadataType: "openid_provider", Expiration: 1000}
	key := trustchainstore.Key{Subject: chain.Subject, TrustAnchor: chain.TrustAnchor, MetadataType: chain.MetadataType}

	if _, err := s.Store(ctx, chain); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if err := s.Deactivate(ctx, key); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}

	rebuilt := chain
	rebuilt.Expiration = 9999
	stored, err := s.Store(ctx, rebuilt)
	if err != nil {
		t.Fatalf("Store() (rebuild) error = %v", err)
	}
	if stored.Active {
		t.Error("expected rebuild to preserve the administrative deactivation")
	}
	if stored.Chain.Expiration != 9999 {
		t.Errorf("Expiration = %d, want 9999 (rebuilt content applied)", stored.Chain.Expiration)
	}
}

func TestStore_FetchAnyByAnchor(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	_, _ = s.Store(ctx, trustchain.Chain{Subject: "https://a.example", TrustAnchor: "https://ta.example", MetadataType: "openid_provider"})
	_, _ = s.Store(ctx, trustchain.Chain{Subject: "https://b.example", TrustAnchor: "https://ta.example", MetadataType: "openid_provider"})
	_, _ = s.Store(ctx, trustchain.Chain{Subject: "https://c.example", TrustAnchor: "https://other-ta.example", MetadataType: "openid_provider"})

	records, err := s.FetchAnyByAnchor(ctx, "https://ta.example")
	if err != nil {
		t.Fatalf("FetchAnyByAnchor() error = %v", err)
	}
	if len(records) != 2 {
		t.Errorf("len(records) = %d, want 2", len(records))
	}
}
