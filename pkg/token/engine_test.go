package token

import (
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openchami/authcore/pkg/errors"
	"github.com/openchami/authcore/pkg/keys"
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *keys.KeyMaterial) {
	t.Helper()
	km, err := keys.GenerateKeyPair()
	require.NoError(t, err)
	return NewEngine(keys.NewStaticStore(km), opts...), km
}

func requestWithToken(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func decodeHeader(t *testing.T, token string) Header {
	t.Helper()
	seg := strings.Split(token, ".")[0]
	b, err := base64.RawURLEncoding.DecodeString(seg)
	require.NoError(t, err)
	var h Header
	require.NoError(t, json.Unmarshal(b, &h))
	return h
}

func TestCreateAndVerify(t *testing.T) {
	engine, km := newTestEngine(t)

	t.Run("round trip", func(t *testing.T) {
		claims := map[string]interface{}{
			"id":    "user-1",
			"name":  "Ada",
			"email": "ada@example.com",
			"roles": []interface{}{"admin"},
		}
		signed, err := engine.Create(claims, time.Hour)
		require.NoError(t, err)

		got, err := engine.VerifySession(requestWithToken(signed))
		require.NoError(t, err)
		assert.Contains(t, got, "exp")
		delete(got, "exp")
		assert.Equal(t, Claims(claims), got)
	})

	t.Run("header carries alg typ and kid", func(t *testing.T) {
		signed, err := engine.Create(map[string]interface{}{"id": "x"}, time.Minute)
		require.NoError(t, err)

		h := decodeHeader(t, signed)
		assert.Equal(t, "RS256", h.Alg)
		assert.Equal(t, "JWT", h.Typ)
		assert.Equal(t, km.KID, h.Kid)
	})

	t.Run("exp is now plus ttl", func(t *testing.T) {
		fixed := time.Unix(1_700_000_000, 0)
		clocked := NewEngine(keys.NewStaticStore(km), WithClock(func() time.Time { return fixed }))

		signed, err := clocked.Create(map[string]interface{}{"id": "x", "exp": 1}, 90*time.Second)
		require.NoError(t, err)

		claims, err := clocked.Parse(signed)
		require.NoError(t, err)
		exp, err := claims.GetExpirationTime()
		require.NoError(t, err)
		assert.Equal(t, fixed.Add(90*time.Second).Unix(), exp.Unix())
	})

	t.Run("zero ttl uses default", func(t *testing.T) {
		fixed := time.Unix(1_700_000_000, 0)
		clocked := NewEngine(keys.NewStaticStore(km), WithClock(func() time.Time { return fixed }), WithDefaultTTL(5*time.Minute))

		signed, err := clocked.Create(nil, 0)
		require.NoError(t, err)
		claims, err := clocked.Parse(signed)
		require.NoError(t, err)
		exp, err := claims.GetExpirationTime()
		require.NoError(t, err)
		assert.Equal(t, fixed.Add(5*time.Minute).Unix(), exp.Unix())
	})
}

func TestExpiry(t *testing.T) {
	engine, _ := newTestEngine(t)

	t.Run("already expired token is unauthorized", func(t *testing.T) {
		signed, err := engine.Create(map[string]interface{}{"id": "x"}, -1*time.Second)
		require.NoError(t, err)

		_, err = engine.VerifySession(requestWithToken(signed))
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, ErrUnauthorized))

		_, err = engine.Verify(signed)
		assert.True(t, stderrors.Is(err, ErrTokenExpired))
	})

	t.Run("parse does not check expiry", func(t *testing.T) {
		signed, err := engine.Create(map[string]interface{}{"id": "x"}, -1*time.Second)
		require.NoError(t, err)
		_, err = engine.Parse(signed)
		assert.NoError(t, err)
	})

	t.Run("missing exp is treated as expired", func(t *testing.T) {
		km, err := engine.keys.GetKeys()
		require.NoError(t, err)
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"id": "x"})
		tok.Header["kid"] = km.KID
		signed, err := tok.SignedString(km.PrivateKey)
		require.NoError(t, err)

		_, err = engine.Verify(signed)
		assert.True(t, stderrors.Is(err, ErrTokenExpired))
	})
}

func TestTamperDetection(t *testing.T) {
	engine, _ := newTestEngine(t)
	signed, err := engine.Create(map[string]interface{}{"id": "user-1"}, time.Hour)
	require.NoError(t, err)

	parts := strings.Split(signed, ".")

	t.Run("every signature character", func(t *testing.T) {
		sig := []byte(parts[2])
		for i := range sig {
			tampered := append([]byte(nil), sig...)
			if tampered[i] == 'A' {
				tampered[i] = 'B'
			} else {
				tampered[i] = 'A'
			}
			token := parts[0] + "." + parts[1] + "." + string(tampered)

			_, err := engine.VerifySession(requestWithToken(token))
			require.Error(t, err, "position %d", i)
			assert.True(t, stderrors.Is(err, ErrUnauthorized))

			_, err = engine.Parse(token)
			assert.Equal(t, errors.ErrCodeInvalidSignature, errors.GetErrorCode(err), "position %d", i)
		}
	})

	t.Run("every value of the last character", func(t *testing.T) {
		const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
		last := len(parts[2]) - 1
		for _, c := range alphabet {
			if byte(c) == parts[2][last] {
				continue
			}
			token := parts[0] + "." + parts[1] + "." + parts[2][:last] + string(c)
			_, err := engine.VerifySession(requestWithToken(token))
			assert.True(t, stderrors.Is(err, ErrUnauthorized), "last char %q accepted", c)
		}
	})

	t.Run("payload swap", func(t *testing.T) {
		forged, err := json.Marshal(map[string]interface{}{"id": "admin", "exp": time.Now().Add(time.Hour).Unix()})
		require.NoError(t, err)
		token := parts[0] + "." + base64.RawURLEncoding.EncodeToString(forged) + "." + parts[2]

		_, err = engine.Parse(token)
		assert.Equal(t, errors.ErrCodeInvalidSignature, errors.GetErrorCode(err))
	})
}

func TestParseErrors(t *testing.T) {
	engine, km := newTestEngine(t)

	tests := []struct {
		name  string
		token string
		code  errors.ErrorCode
	}{
		{name: "empty", token: "", code: errors.ErrCodeMalformedToken},
		{name: "two segments", token: "a.b", code: errors.ErrCodeMalformedToken},
		{name: "four segments", token: "a.b.c.d", code: errors.ErrCodeMalformedToken},
		{name: "empty segment", token: "a..c", code: errors.ErrCodeMalformedToken},
		{name: "garbage header", token: "!!!.b.c", code: errors.ErrCodeMalformedToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Parse(tt.token)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetErrorCode(err))
		})
	}

	t.Run("alg none is rejected", func(t *testing.T) {
		header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT","kid":"` + km.KID + `"}`))
		payload := base64.RawURLEncoding.EncodeToString([]byte(`{"id":"x"}`))
		_, err := engine.Parse(header + "." + payload + ".c2ln")
		assert.Equal(t, errors.ErrCodeMalformedToken, errors.GetErrorCode(err))
	})

	t.Run("foreign key is rejected", func(t *testing.T) {
		other, _ := newTestEngine(t)
		signed, err := other.Create(map[string]interface{}{"id": "x"}, time.Hour)
		require.NoError(t, err)
		_, err = engine.Parse(signed)
		assert.Equal(t, errors.ErrCodeInvalidSignature, errors.GetErrorCode(err))
	})

	t.Run("missing kid is rejected", func(t *testing.T) {
		header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
		payload := base64.RawURLEncoding.EncodeToString([]byte(`{"id":"x","exp":` + fmt.Sprint(time.Now().Add(time.Hour).Unix()) + `}`))
		sig, err := jwt.SigningMethodRS256.Sign(header+"."+payload, km.PrivateKey)
		require.NoError(t, err)

		_, err = engine.Parse(header + "." + payload + "." + base64.RawURLEncoding.EncodeToString(sig))
		assert.Equal(t, errors.ErrCodeMalformedToken, errors.GetErrorCode(err))
	})

	t.Run("signed non-object payload", func(t *testing.T) {
		header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT","kid":"` + km.KID + `"}`))
		payload := base64.RawURLEncoding.EncodeToString([]byte(`[1,2,3]`))
		sig, err := jwt.SigningMethodRS256.Sign(header+"."+payload, km.PrivateKey)
		require.NoError(t, err)

		_, err = engine.Parse(header + "." + payload + "." + base64.RawURLEncoding.EncodeToString(sig))
		assert.Equal(t, errors.ErrCodeInvalidPayload, errors.GetErrorCode(err))
	})
}

func TestVerifySessionHeaders(t *testing.T) {
	engine, _ := newTestEngine(t)
	signed, err := engine.Create(map[string]interface{}{"id": "x"}, time.Hour)
	require.NoError(t, err)

	t.Run("missing header", func(t *testing.T) {
		_, err := engine.VerifySession(httptest.NewRequest(http.MethodGet, "/", nil))
		assert.True(t, stderrors.Is(err, ErrUnauthorized))
	})

	t.Run("wrong scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic "+signed)
		_, err := engine.VerifySession(req)
		assert.True(t, stderrors.Is(err, ErrUnauthorized))
	})

	t.Run("lowercase scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "bearer "+signed)
		_, err := engine.VerifySession(req)
		assert.NoError(t, err)
	})

	t.Run("unavailable keys are not reported as unauthorized", func(t *testing.T) {
		broken := NewEngine(keys.NewStore(t.TempDir()))
		_, err := broken.VerifySession(requestWithToken(signed))
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, keys.ErrKeyMaterialUnavailable))
	})
}
