package webhook

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func startJWKSServer(t *testing.T, key *rsa.PrivateKey, kid string) *httptest.Server {
	t.Helper()
	n := base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes())
	eBytes := big.NewInt(int64(key.PublicKey.E)).Bytes()
	e := base64.RawURLEncoding.EncodeToString(eBytes)

	body, err := json.Marshal(jwksResponse{Keys: []jwkKey{
		{Kid: kid, Kty: "RSA", Use: "sig", N: n, E: e},
	}})
	if err != nil {
		t.Fatalf("marshal jwks fixture: %v", err)
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
}

func issueGmailJWT(t *testing.T, key *rsa.PrivateKey, kid, issuer, audience string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss": issuer,
		"aud": audience,
		"exp": time.Now().Add(expiresIn).Unix(),
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign gmail jwt: %v", err)
	}
	return signed
}

func TestGmailVerifierAcceptsValidToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := startJWKSServer(t, key, "kid-1")
	defer srv.Close()

	v := newGmailVerifier(srv.URL, "https://example.com/webhooks/gmail", "https://accounts.google.com")
	tok := issueGmailJWT(t, key, "kid-1", "https://accounts.google.com", "https://example.com/webhooks/gmail", time.Hour)

	if err := v.verify(tok); err != nil {
		t.Fatalf("verify() = %v, want nil", err)
	}
}

func TestGmailVerifierRejectsWrongAudience(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := startJWKSServer(t, key, "kid-1")
	defer srv.Close()

	v := newGmailVerifier(srv.URL, "https://example.com/webhooks/gmail", "https://accounts.google.com")
	tok := issueGmailJWT(t, key, "kid-1", "https://accounts.google.com", "https://attacker.example", time.Hour)

	if err := v.verify(tok); err == nil {
		t.Fatal("verify() = nil, want error for wrong audience")
	}
}

func TestGmailVerifierRejectsWrongIssuer(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := startJWKSServer(t, key, "kid-1")
	defer srv.Close()

	v := newGmailVerifier(srv.URL, "https://example.com/webhooks/gmail", "https://accounts.google.com")
	tok := issueGmailJWT(t, key, "kid-1", "https://evil.example", "https://example.com/webhooks/gmail", time.Hour)

	if err := v.verify(tok); err == nil {
		t.Fatal("verify() = nil, want error for wrong issuer")
	}
}

func TestGmailVerifierRejectsExpiredToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := startJWKSServer(t, key, "kid-1")
	defer srv.Close()

	v := newGmailVerifier(srv.URL, "https://example.com/webhooks/gmail", "https://accounts.google.com")
	tok := issueGmailJWT(t, key, "kid-1", "https://accounts.google.com", "https://example.com/webhooks/gmail", -time.Hour)

	if err := v.verify(tok); err == nil {
		t.Fatal("verify() = nil, want error for expired token")
	}
}

func TestGmailVerifierRejectsUnknownAudienceConfig(t *testing.T) {
	v := newGmailVerifier("http://unused.invalid", "", "https://accounts.google.com")
	if err := v.verify("anything"); err == nil {
		t.Fatal("verify() = nil, want error when audience is unconfigured")
	}
}
