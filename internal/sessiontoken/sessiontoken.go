// Package sessiontoken implements verification (never issuance) of the
// session tokens described by spec §4.9: a JWT carrying appid, exp,
// userid, and iss, validated by a pluggable Verifier so the NDN core
// stays decoupled from whichever identity stack a zone runs. Neither
// the teacher nor the rest of the retrieval pack depends on a JWT
// library (see DESIGN.md), so verification is hand-rolled directly on
// top of stdlib encoding/json, encoding/base64, crypto/hmac, and
// crypto/ed25519 rather than fabricating a dependency.
package sessiontoken

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/buckyos/ndncore/internal/ndnerr"
)

// Claims is the decoded body of a session token, per spec §4.9.
type Claims struct {
	AppId  string `json:"appid"`
	UserId string `json:"userid"`
	Iss    string `json:"iss"`
	Exp    int64  `json:"exp"`
}

// Expired reports whether the token's exp claim is before now.
func (c Claims) Expired(now time.Time) bool {
	return c.Exp != 0 && now.Unix() >= c.Exp
}

// Verifier validates a bearer token string and returns its claims.
// internal/ndnserver consumes this interface rather than a concrete
// implementation so a zone can plug in whatever identity stack it
// runs; the core never issues tokens, only validates them.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// KeySource resolves the signing key for a given `iss` (issuer) claim,
// so one Verifier can validate tokens minted by several issuers (e.g.
// per-zone keys). alg is the JWT "alg" header value ("HS256" or
// "EdDSA") so the source can reject an unexpected algorithm.
type KeySource interface {
	Key(iss, alg string) (key []byte, ok bool)
}

// StaticKeySource is a KeySource backed by a single fixed key, useful
// for a single-zone deployment or tests.
type StaticKeySource struct {
	Alg string
	Key []byte
}

func (s StaticKeySource) Key(_ string, alg string) ([]byte, bool) {
	if alg != s.Alg {
		return nil, false
	}
	return s.Key, true
}

// header is the decoded JWT header; only alg is consulted.
type header struct {
	Alg string `json:"alg"`
}

// JWTVerifier validates compact-serialized JWTs (RFC 7519) signed with
// HMAC-SHA256 ("HS256") or Ed25519 ("EdDSA"), the two algorithms a
// BuckyOS identity stack plausibly issues without pulling in a JOSE
// library. It performs no key discovery of its own beyond KeySource.
type JWTVerifier struct {
	Keys KeySource
	// Now lets tests pin the clock; defaults to time.Now.
	Now func() time.Time
}

// NewJWTVerifier builds a verifier backed by keys.
func NewJWTVerifier(keys KeySource) *JWTVerifier {
	return &JWTVerifier{Keys: keys, Now: time.Now}
}

// Verify checks the token's signature, algorithm, and expiry, and
// returns its claims. token is the bearer value as received (no
// "Bearer " prefix).
func (v *JWTVerifier) Verify(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Claims{}, ndnerr.Wrap(ndnerr.ErrParseError, "sessiontoken: malformed JWT", nil)
	}
	headerB64, payloadB64, sigB64 := parts[0], parts[1], parts[2]

	headerRaw, err := b64Decode(headerB64)
	if err != nil {
		return Claims{}, ndnerr.Wrap(ndnerr.ErrParseError, "sessiontoken: decode header", err)
	}
	var hdr header
	if err := json.Unmarshal(headerRaw, &hdr); err != nil {
		return Claims{}, ndnerr.Wrap(ndnerr.ErrParseError, "sessiontoken: unmarshal header", err)
	}

	payloadRaw, err := b64Decode(payloadB64)
	if err != nil {
		return Claims{}, ndnerr.Wrap(ndnerr.ErrParseError, "sessiontoken: decode payload", err)
	}
	var claims Claims
	if err := json.Unmarshal(payloadRaw, &claims); err != nil {
		return Claims{}, ndnerr.Wrap(ndnerr.ErrParseError, "sessiontoken: unmarshal claims", err)
	}

	sig, err := b64Decode(sigB64)
	if err != nil {
		return Claims{}, ndnerr.Wrap(ndnerr.ErrParseError, "sessiontoken: decode signature", err)
	}

	key, ok := v.Keys.Key(claims.Iss, hdr.Alg)
	if !ok {
		return Claims{}, ndnerr.Wrap(ndnerr.ErrPermissionDenied,
			fmt.Sprintf("sessiontoken: no key for issuer %q alg %q", claims.Iss, hdr.Alg), nil)
	}

	signingInput := headerB64 + "." + payloadB64
	if err := verifySignature(hdr.Alg, key, []byte(signingInput), sig); err != nil {
		return Claims{}, err
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	if claims.Expired(now()) {
		return Claims{}, ndnerr.Wrap(ndnerr.ErrPermissionDenied, "sessiontoken: expired", nil)
	}
	return claims, nil
}

func verifySignature(alg string, key, signingInput, sig []byte) error {
	switch alg {
	case "HS256":
		mac := hmac.New(sha256.New, key)
		mac.Write(signingInput)
		expected := mac.Sum(nil)
		if subtle.ConstantTimeCompare(expected, sig) != 1 {
			return ndnerr.Wrap(ndnerr.ErrPermissionDenied, "sessiontoken: bad HS256 signature", nil)
		}
		return nil
	case "EdDSA":
		if len(key) != ed25519.PublicKeySize {
			return ndnerr.Wrap(ndnerr.ErrPermissionDenied, "sessiontoken: bad Ed25519 key size", nil)
		}
		if !ed25519.Verify(ed25519.PublicKey(key), signingInput, sig) {
			return ndnerr.Wrap(ndnerr.ErrPermissionDenied, "sessiontoken: bad EdDSA signature", nil)
		}
		return nil
	default:
		return ndnerr.Wrap(ndnerr.ErrPermissionDenied, fmt.Sprintf("sessiontoken: unsupported alg %q", alg), nil)
	}
}

func b64Decode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// AllowAll is a Verifier that accepts any non-empty token with a fixed
// set of claims, used only for local development / share_policy=public
// paths that never call into a Verifier at all. It exists so ndnserver
// can be wired against an interface unconditionally even when no real
// identity stack is configured.
type AllowAll struct{}

func (AllowAll) Verify(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ndnerr.Wrap(ndnerr.ErrPermissionDenied, "sessiontoken: empty token", nil)
	}
	return Claims{}, nil
}
