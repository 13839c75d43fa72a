package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc/metadata"
)

func mustHash(t *testing.T, token string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(h)
}

func TestExtractBearerToken(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer hg_secret"))
	token, err := ExtractBearerToken(ctx)
	if err != nil {
		t.Fatalf("ExtractBearerToken: %v", err)
	}
	if token != "hg_secret" {
		t.Fatalf("expected hg_secret, got %q", token)
	}

	if _, err := ExtractBearerToken(context.Background()); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated without metadata, got %v", err)
	}
	empty := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "))
	if _, err := ExtractBearerToken(empty); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for empty token, got %v", err)
	}
}

func TestExtractHTTPBearerToken(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/dispatch", nil)
	if _, err := ExtractHTTPBearerToken(r); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	r.Header.Set("Authorization", "bearer abc")
	token, err := ExtractHTTPBearerToken(r)
	if err != nil || token != "abc" {
		t.Fatalf("expected abc, got %q (%v)", token, err)
	}
}

func TestTokenAuthenticator(t *testing.T) {
	a, err := NewTokenAuthenticator(mustHash(t, "hg_secret"), "proj_1", time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("NewTokenAuthenticator: %v", err)
	}

	p, err := a.Authenticate(context.Background(), "hg_secret")
	if err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
	if p.ProjectID != "proj_1" {
		t.Fatalf("expected proj_1, got %s", p.ProjectID)
	}
	if !a.cache.Valid("hg_secret") {
		t.Fatal("expected token cached after verification")
	}

	if _, err := a.Authenticate(context.Background(), "wrong"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := a.Authenticate(context.Background(), ""); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for empty token, got %v", err)
	}
}

func TestNewTokenAuthenticator_BadHash(t *testing.T) {
	if _, err := NewTokenAuthenticator("not-a-hash", "", 0, zap.NewNop()); err == nil {
		t.Fatal("expected error for invalid bcrypt hash")
	}
}

func TestTokenCache_Expiry(t *testing.T) {
	now := time.Now()
	c := NewTokenCache(time.Second)
	c.now = func() time.Time { return now }

	c.Remember("tok")
	if !c.Valid("tok") {
		t.Fatal("expected cached token valid")
	}
	now = now.Add(2 * time.Second)
	if c.Valid("tok") {
		t.Fatal("expected cached token expired")
	}
	if c.Valid("other") {
		t.Fatal("expected unknown token invalid")
	}
}

func TestStaticAuthenticator(t *testing.T) {
	p, err := NewStaticAuthenticator("proj_1").Authenticate(context.Background(), "")
	if err != nil {
		t.Fatalf("expected static authenticator to accept, got %v", err)
	}
	if p.Subject != "local" {
		t.Fatalf("unexpected subject %s", p.Subject)
	}
}

func TestHashToken(t *testing.T) {
	h, err := HashToken("hg_secret")
	if err != nil {
		t.Fatal(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(h), []byte("hg_secret")) != nil {
		t.Fatal("expected hash to verify")
	}
}
