package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func testAuth(t *testing.T) *Auth {
	t.Helper()
	t.Setenv(envAuthTestMode, "1")
	t.Setenv(envTestJWTSecret, "sssh")
	return NewAuth(nil, "", "")
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		token   string
		wantErr error
	}{
		{header: "", wantErr: errMissingAuthorization},
		{header: "   ", wantErr: errMissingAuthorization},
		{header: "Bearer a.b.c", token: "a.b.c"},
		{header: "  Bearer a.b.c  ", token: "a.b.c"},
		{header: "Token a.b.c", wantErr: errBadAuthorization},
		{header: "Bearer notatoken", wantErr: errBadAuthorization},
		{header: "Bearer a.b", wantErr: errBadAuthorization},
	}
	for _, c := range cases {
		token, err := bearerToken(c.header)
		if err != c.wantErr {
			t.Fatalf("%q: expected error %v, got %v", c.header, c.wantErr, err)
		}
		if err == nil && token != c.token {
			t.Fatalf("%q: expected token %q, got %q", c.header, c.token, token)
		}
	}
}

func TestVoterIDFromTestModeToken(t *testing.T) {
	auth := testAuth(t)
	token := signHS256(t, "sssh", jwt.MapClaims{
		"sub": "auth0|alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	voter, err := auth.VoterIDFromAuthHeader("Bearer " + token)
	if err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
	if voter != "auth0|alice" {
		t.Fatalf("expected voter auth0|alice, got %q", voter)
	}
}

func TestVoterIDRejectsWrongSecret(t *testing.T) {
	auth := testAuth(t)
	token := signHS256(t, "wrong", jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := auth.VoterIDFromAuthHeader("Bearer " + token); err == nil {
		t.Fatal("expected signature verification to fail")
	}
}

func TestVoterIDRejectsExpiredToken(t *testing.T) {
	auth := testAuth(t)
	token := signHS256(t, "sssh", jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	if _, err := auth.VoterIDFromAuthHeader("Bearer " + token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestVoterIDRequiresSub(t *testing.T) {
	auth := testAuth(t)
	token := signHS256(t, "sssh", jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := auth.VoterIDFromAuthHeader("Bearer " + token); err == nil {
		t.Fatal("expected token without sub to be rejected")
	}
}

func TestVoterIDChecksAudienceAndIssuer(t *testing.T) {
	t.Setenv(envAuthTestMode, "1")
	t.Setenv(envTestJWTSecret, "sssh")
	auth := NewAuth(nil, "retro-api", "https://issuer.example/")

	good := signHS256(t, "sssh", jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
		"aud": "retro-api",
		"iss": "https://issuer.example/",
	})
	if _, err := auth.VoterIDFromAuthHeader("Bearer " + good); err != nil {
		t.Fatalf("expected matching audience and issuer to pass, got %v", err)
	}

	badAud := signHS256(t, "sssh", jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
		"aud": "someone-else",
		"iss": "https://issuer.example/",
	})
	if _, err := auth.VoterIDFromAuthHeader("Bearer " + badAud); err == nil {
		t.Fatal("expected wrong audience to be rejected")
	}

	badIss := signHS256(t, "sssh", jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
		"aud": "retro-api",
		"iss": "https://evil.example/",
	})
	if _, err := auth.VoterIDFromAuthHeader("Bearer " + badIss); err == nil {
		t.Fatal("expected wrong issuer to be rejected")
	}
}
