package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRedisTokenRevoker(t *testing.T) {
	srv := miniredis.RunT(t)
	r := NewRedisTokenRevoker(srv.Addr(), "", "test:revoked")
	ctx := context.Background()

	if err := r.Revoke(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err := r.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if !revoked {
		t.Fatalf("expected jti-1 to be revoked")
	}
	if ok, _ := r.IsRevoked(ctx, "jti-2"); ok {
		t.Fatalf("unexpected revocation for jti-2")
	}

	srv.FastForward(2 * time.Minute)
	if ok, _ := r.IsRevoked(ctx, "jti-1"); ok {
		t.Fatalf("revocation should expire with token")
	}
}

func TestRedisTokenRevokerSkipsExpired(t *testing.T) {
	srv := miniredis.RunT(t)
	r := NewRedisTokenRevoker(srv.Addr(), "", "")
	if err := r.Revoke(context.Background(), "jti-1", 0); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if len(srv.Keys()) != 0 {
		t.Fatalf("expected no keys for already-expired token, got %v", srv.Keys())
	}
}

func TestMemoryTokenRevoker(t *testing.T) {
	r := NewMemoryTokenRevoker()
	ctx := context.Background()
	_ = r.Revoke(ctx, "jti-1", time.Millisecond)
	if ok, _ := r.IsRevoked(ctx, "jti-1"); !ok {
		t.Fatalf("expected revoked")
	}
	time.Sleep(5 * time.Millisecond)
	if ok, _ := r.IsRevoked(ctx, "jti-1"); ok {
		t.Fatalf("expected revocation to lapse")
	}
}
