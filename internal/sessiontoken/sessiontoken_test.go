package sessiontoken_test

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buckyos/ndncore/internal/sessiontoken"
)

func encodeSegment(v any) string {
	raw, _ := json.Marshal(v)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func signHS256(t *testing.T, key []byte, header, claims map[string]any) string {
	t.Helper()
	headerSeg := encodeSegment(header)
	claimsSeg := encodeSegment(claims)
	signingInput := headerSeg + "." + claimsSeg
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(signingInput))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return signingInput + "." + sig
}

func TestJWTVerifierAcceptsValidHS256(t *testing.T) {
	key := []byte("zone-secret")
	now := time.Now()
	token := signHS256(t, key, map[string]any{"alg": "HS256"}, map[string]any{
		"appid": "app1", "userid": "u1", "iss": "zone-a", "exp": now.Add(time.Hour).Unix(),
	})

	v := sessiontoken.NewJWTVerifier(sessiontoken.StaticKeySource{Alg: "HS256", Key: key})
	v.Now = func() time.Time { return now }

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "app1", claims.AppId)
	assert.Equal(t, "u1", claims.UserId)
	assert.Equal(t, "zone-a", claims.Iss)
}

func TestJWTVerifierRejectsExpired(t *testing.T) {
	key := []byte("zone-secret")
	now := time.Now()
	token := signHS256(t, key, map[string]any{"alg": "HS256"}, map[string]any{
		"appid": "app1", "userid": "u1", "iss": "zone-a", "exp": now.Add(-time.Hour).Unix(),
	})

	v := sessiontoken.NewJWTVerifier(sessiontoken.StaticKeySource{Alg: "HS256", Key: key})
	v.Now = func() time.Time { return now }

	_, err := v.Verify(token)
	assert.Error(t, err)
}

func TestJWTVerifierRejectsTamperedSignature(t *testing.T) {
	key := []byte("zone-secret")
	now := time.Now()
	token := signHS256(t, key, map[string]any{"alg": "HS256"}, map[string]any{
		"appid": "app1", "userid": "u1", "iss": "zone-a", "exp": now.Add(time.Hour).Unix(),
	})
	tampered := token[:len(token)-2] + "xx"

	v := sessiontoken.NewJWTVerifier(sessiontoken.StaticKeySource{Alg: "HS256", Key: key})
	v.Now = func() time.Time { return now }

	_, err := v.Verify(tampered)
	assert.Error(t, err)
}

func TestJWTVerifierAcceptsEdDSA(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	headerSeg := encodeSegment(map[string]any{"alg": "EdDSA"})
	now := time.Now()
	claimsSeg := encodeSegment(map[string]any{
		"appid": "app1", "userid": "u1", "iss": "zone-b", "exp": now.Add(time.Hour).Unix(),
	})
	signingInput := headerSeg + "." + claimsSeg
	sig := ed25519.Sign(priv, []byte(signingInput))
	token := signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)

	v := sessiontoken.NewJWTVerifier(sessiontoken.StaticKeySource{Alg: "EdDSA", Key: pub})
	v.Now = func() time.Time { return now }

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "zone-b", claims.Iss)
}

func TestJWTVerifierRejectsUnknownAlg(t *testing.T) {
	token := signHS256(t, []byte("key"), map[string]any{"alg": "none"}, map[string]any{
		"appid": "app1", "userid": "u1", "iss": "zone-a", "exp": time.Now().Add(time.Hour).Unix(),
	})
	v := sessiontoken.NewJWTVerifier(sessiontoken.StaticKeySource{Alg: "HS256", Key: []byte("key")})

	_, err := v.Verify(token)
	assert.Error(t, err)
}

func TestAllowAllRejectsEmptyToken(t *testing.T) {
	_, err := sessiontoken.AllowAll{}.Verify("")
	assert.Error(t, err)
}
