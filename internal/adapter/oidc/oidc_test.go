package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

const clientID = "conquest"

type fakeProvider struct {
	srv    *httptest.Server
	key    *rsa.PrivateKey
	claims map[string]any
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	p := &fakeProvider{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"issuer":                                p.srv.URL,
			"authorization_endpoint":                p.srv.URL + "/auth",
			"token_endpoint":                        p.srv.URL + "/token",
			"jwks_uri":                              p.srv.URL + "/keys",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key: &key.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig",
		}}})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{
			"access_token": "at",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     p.sign(t, p.claims),
		})
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (p *fakeProvider) baseClaims() map[string]any {
	now := time.Now()
	return map[string]any{
		"iss": p.srv.URL,
		"aud": clientID,
		"sub": "user-1",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

func (p *fakeProvider) sign(t *testing.T, claims map[string]any) string {
	t.Helper()
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: p.key},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", "k1"),
	)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	payload, _ := json.Marshal(claims)
	jws, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	raw, err := jws.CompactSerialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return raw
}

func newVerifier(t *testing.T, p *fakeProvider) *Verifier {
	t.Helper()
	v, err := New(context.Background(), Config{Issuer: p.srv.URL, ClientID: clientID, ClientSecret: "s", RedirectURL: "http://localhost/cb"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestIdentify_IDToken(t *testing.T) {
	p := newFakeProvider(t)
	v := newVerifier(t, p)

	claims := p.baseClaims()
	claims["email"] = "alice@example.com"
	got, err := v.Identify(context.Background(), p.sign(t, claims), "")
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if got != "alice@example.com" {
		t.Errorf("expected email username, got %q", got)
	}
}

func TestIdentify_FallsBackToSubject(t *testing.T) {
	p := newFakeProvider(t)
	v := newVerifier(t, p)

	got, err := v.Identify(context.Background(), p.sign(t, p.baseClaims()), "")
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if got != "user-1" {
		t.Errorf("expected subject username, got %q", got)
	}
}

func TestIdentify_Rejects(t *testing.T) {
	p := newFakeProvider(t)
	v := newVerifier(t, p)

	expired := p.baseClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongAudience := p.baseClaims()
	wrongAudience["aud"] = "someone-else"

	tests := []struct {
		name  string
		token string
		code  string
	}{
		{"nothing", "", ""},
		{"garbage", "not-a-jwt", ""},
		{"expired", p.sign(t, expired), ""},
		{"wrong audience", p.sign(t, wrongAudience), ""},
		{"bad code", "", "bad-code"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Identify(context.Background(), tc.token, tc.code); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestIdentify_Code(t *testing.T) {
	p := newFakeProvider(t)
	v := newVerifier(t, p)
	p.claims = p.baseClaims()
	p.claims["email"] = "bob@example.com"

	got, err := v.Identify(context.Background(), "", "good-code")
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if got != "bob@example.com" {
		t.Errorf("expected bob, got %q", got)
	}
}

func TestUsernameFromClaims(t *testing.T) {
	tests := []struct {
		email, sub, want string
		wantErr          bool
	}{
		{"a@b.c", "s", "a@b.c", false},
		{"", "s", "s", false},
		{"", "", "", true},
	}
	for _, tc := range tests {
		got, err := usernameFromClaims(tc.email, tc.sub)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("usernameFromClaims(%q, %q) = %q, %v", tc.email, tc.sub, got, err)
		}
	}
}
