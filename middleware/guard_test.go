package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/store/sqlstore"
)

func newTestAuth(t *testing.T) *authcore.Auth {
	t.Helper()
	st, err := sqlstore.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := authcore.DefaultConfig()
	cfg.Token.Secret = "0123456789abcdef0123456789abcdef"
	a, err := authcore.New().WithConfig(cfg).WithStore(st).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func serve(h http.Handler, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGuard(t *testing.T) {
	a := newTestAuth(t)
	ctx := context.Background()
	token, _, err := a.Tokens().IssueAccessToken(ctx, "acc-1", "user")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var seen authcore.AccessClaims
	h := Guard(a.Tokens())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
	}))

	if rec := serve(h, "Bearer "+token); rec.Code != http.StatusOK || seen.AccountID != "acc-1" {
		t.Fatalf("expected pass with claims, got %d %+v", rec.Code, seen)
	}
	for _, authz := range []string{"", "Basic abc", "Bearer ", "Bearer not-a-jwt"} {
		if rec := serve(h, authz); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%q: expected 401, got %d", authz, rec.Code)
		}
	}

	if err := a.Tokens().DenylistAccessToken(ctx, token, "acc-1", "logout"); err != nil {
		t.Fatalf("denylist: %v", err)
	}
	if rec := serve(h, "Bearer "+token); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected denylisted token to be rejected, got %d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	a := newTestAuth(t)
	ctx := context.Background()
	user, _, _ := a.Tokens().IssueAccessToken(ctx, "acc-1", "user")
	admin, _, _ := a.Tokens().IssueAccessToken(ctx, "acc-2", "admin")

	h := Guard(a.Tokens())(RequireRole("admin")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})))

	if rec := serve(h, "Bearer "+admin); rec.Code != http.StatusOK {
		t.Fatalf("expected admin to pass, got %d", rec.Code)
	}
	if rec := serve(h, "Bearer "+user); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for user role, got %d", rec.Code)
	}
	if rec := serve(RequireRole("admin")(http.NotFoundHandler()), ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without Guard, got %d", rec.Code)
	}
}
