package oidc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/require"

	"github.com/openchami/authcore/pkg/jwks"
	"github.com/openchami/authcore/pkg/keys"
)

const (
	testClientID     = "test-client"
	testClientSecret = "super-secret-value"
	testIssuer       = "https://issuer.example.com"
)

// fakeProvider emulates a provider's token, JWKS and profile endpoints.
type fakeProvider struct {
	t      *testing.T
	server *httptest.Server

	mu         sync.Mutex
	keys       []*keys.KeyMaterial
	tokenReply func(w http.ResponseWriter, r *http.Request)
	profile    func(w http.ResponseWriter, r *http.Request)
	emails     func(w http.ResponseWriter, r *http.Request)

	jwksHits   atomic.Int32
	tokenHits  atomic.Int32
	emailsHits atomic.Int32
	lastForm   map[string]string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	km, err := keys.GenerateKeyPair()
	require.NoError(t, err)

	fp := &fakeProvider{t: t, keys: []*keys.KeyMaterial{km}}
	mux := http.NewServeMux()
	mux.HandleFunc("/jwks", fp.serveJWKS)
	mux.HandleFunc("/token", fp.serveToken)
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		fp.mu.Lock()
		h := fp.profile
		fp.mu.Unlock()
		h(w, r)
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		fp.emailsHits.Add(1)
		fp.mu.Lock()
		h := fp.emails
		fp.mu.Unlock()
		h(w, r)
	})
	fp.server = httptest.NewServer(mux)
	t.Cleanup(fp.server.Close)
	return fp
}

func (fp *fakeProvider) signingKey() *keys.KeyMaterial {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.keys[0]
}

func (fp *fakeProvider) rotate() *keys.KeyMaterial {
	km, err := keys.GenerateKeyPair()
	require.NoError(fp.t, err)
	fp.mu.Lock()
	fp.keys = []*keys.KeyMaterial{km}
	fp.mu.Unlock()
	return km
}

func (fp *fakeProvider) serveJWKS(w http.ResponseWriter, _ *http.Request) {
	fp.jwksHits.Add(1)
	fp.mu.Lock()
	published := fp.keys
	fp.mu.Unlock()

	var list []jwk.Key
	for _, km := range published {
		key, err := jwks.PublicKeyToJWK(km.PublicKey)
		require.NoError(fp.t, err)
		list = append(list, key)
	}
	set, err := jwks.CreateJWKS(list...)
	require.NoError(fp.t, err)
	w.Header().Set("Content-Type", "application/json")
	require.NoError(fp.t, json.NewEncoder(w).Encode(set))
}

func (fp *fakeProvider) serveToken(w http.ResponseWriter, r *http.Request) {
	fp.tokenHits.Add(1)
	require.NoError(fp.t, r.ParseForm())
	form := map[string]string{}
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	fp.mu.Lock()
	fp.lastForm = form
	h := fp.tokenReply
	fp.mu.Unlock()
	h(w, r)
}

func (fp *fakeProvider) onToken(h http.HandlerFunc) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.tokenReply = h
}

func (fp *fakeProvider) onProfile(h http.HandlerFunc) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.profile = h
}

func (fp *fakeProvider) onEmails(h http.HandlerFunc) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.emails = h
}

func (fp *fakeProvider) form() map[string]string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.lastForm
}

func (fp *fakeProvider) url(path string) string {
	return fp.server.URL + path
}

// idToken signs claims with the provider's current key.
func (fp *fakeProvider) idToken(claims jwt.MapClaims) string {
	return signWith(fp.t, fp.signingKey(), fp.signingKey().KID, claims)
}

func signWith(t *testing.T, km *keys.KeyMaterial, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	signed, err := tok.SignedString(km.PrivateKey)
	require.NoError(t, err)
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   testClientID,
		"sub":   "google-user-1",
		"email": "ada@example.com",
		"name":  "Ada Lovelace",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

// googleSettings points the GOOGLE provider at fp.
func googleSettings(fp *fakeProvider) MapSettings {
	return MapSettings{
		"GOOGLE_CLIENT_ID":      testClientID,
		"GOOGLE_CLIENT_SECRET":  testClientSecret,
		"GOOGLE_REDIRECT_URI":   "https://app.example.com/sso/callback?provider=google",
		"GOOGLE_TOKEN_ENDPOINT": fp.url("/token"),
		"GOOGLE_JWKS_URI":       fp.url("/jwks"),
		"GOOGLE_ISSUER":         testIssuer,
	}
}

func githubSettings(fp *fakeProvider) MapSettings {
	return MapSettings{
		"GITHUB_CLIENT_ID":         "gh-client",
		"GITHUB_CLIENT_SECRET":     testClientSecret,
		"GITHUB_REDIRECT_URI":      "https://app.example.com/sso/callback?provider=github",
		"GITHUB_TOKEN_ENDPOINT":    fp.url("/token"),
		"GITHUB_USERINFO_ENDPOINT": fp.url("/user"),
	}
}

func merge(settings ...MapSettings) MapSettings {
	out := MapSettings{}
	for _, s := range settings {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
