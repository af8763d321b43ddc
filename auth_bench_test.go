package authcore

import (
	"context"
	"testing"
)

func BenchmarkVerifyAccessToken(b *testing.B) {
	env := newTestEnv(b, nil)
	acc := env.registerVerified(b, "bench@test.com")
	session := env.login(b, "bench@test.com")
	ctx := context.Background()
	tokens := env.auth.Tokens()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		claims, err := tokens.VerifyAccessToken(ctx, session.AccessToken)
		if err != nil || claims.AccountID != acc.ID {
			b.Fatalf("verify: %v", err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	env := newTestEnv(b, nil)
	env.registerVerified(b, "bench@test.com")
	refresh := env.login(b, "bench@test.com").RefreshToken
	ctx := context.Background()
	sessions := env.auth.Sessions()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		next, err := sessions.Refresh(ctx, refresh, "")
		if err != nil {
			b.Fatalf("refresh: %v", err)
		}
		refresh = next.RefreshToken
	}
}

func BenchmarkLogin(b *testing.B) {
	env := newTestEnv(b, nil)
	env.registerVerified(b, "bench@test.com")
	ctx := context.Background()
	sessions := env.auth.Sessions()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := sessions.Login(ctx, "bench@test.com", testPassword, "127.0.0.1"); err != nil {
			b.Fatalf("login: %v", err)
		}
	}
}
