// Package license validates Finch commercial license keys entirely offline
// using an embedded Ed25519 public key. stdlib crypto/ed25519 is used
// directly rather than a third-party Ed25519 package: it is the canonical,
// constant-time implementation shipped by the language itself, not a
// stdlib-as-fallback shortcut (see DESIGN.md).
package license

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PublicKey is the embedded Ed25519 public key (32 bytes) used to verify
// license keys. The matching private key is never embedded in the binary;
// it stays server-side. This placeholder must be replaced with the real
// deployment key before shipping.
var PublicKey = ed25519.PublicKey(make([]byte, ed25519.PublicKeySize))

const keyPrefix = "FINCH-"

// payload is the JSON structure embedded inside a FINCH-... license key.
type payload struct {
	Sub  string `json:"sub"`
	Name string `json:"name"`
	Tier string `json:"tier"`
	Iss  string `json:"iss"`
	Exp  string `json:"exp"`
}

// Parsed is the decoded, validated license information returned by
// ValidateKey.
type Parsed struct {
	Name      string
	Email     string
	Tier      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ValidateKey validates key against PublicKey and returns the decoded
// license on success. It never panics on malformed input (spec §7's "never
// panic on malformed foreign input" applies to license keys too, since they
// come from the user).
func ValidateKey(key string) (*Parsed, error) {
	return ValidateKeyWithPublicKey(key, PublicKey)
}

// ValidateKeyWithPublicKey validates key against an explicitly supplied
// public key. This indirection lets tests use a freshly generated keypair
// instead of the embedded production key.
func ValidateKeyWithPublicKey(key string, pub ed25519.PublicKey) (*Parsed, error) {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return nil, fmt.Errorf("license: invalid key format: must start with %q", keyPrefix)
	}

	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return nil, fmt.Errorf("license: invalid key format: missing '.' separator between payload and signature")
	}
	payloadB64, sigB64 := rest[:dot], rest[dot+1:]

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("license: payload section is not valid base64url: %w", err)
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, fmt.Errorf("license: signature section is not valid base64url: %w", err)
	}

	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("license: embedded public key is invalid — this is a build configuration error")
	}
	if !ed25519.Verify(pub, payloadBytes, sigBytes) {
		return nil, fmt.Errorf("license: invalid signature")
	}

	var p payload
	if err := json.Unmarshal(payloadBytes, &p); err != nil {
		return nil, fmt.Errorf("license: malformed payload: %w", err)
	}

	issued, err := time.Parse("2006-01-02", p.Iss)
	if err != nil {
		return nil, fmt.Errorf("license: malformed issue date %q: %w", p.Iss, err)
	}
	expires, err := time.Parse("2006-01-02", p.Exp)
	if err != nil {
		return nil, fmt.Errorf("license: malformed expiry date %q: %w", p.Exp, err)
	}

	if time.Now().After(expires.AddDate(0, 0, 1)) {
		return nil, fmt.Errorf("license: key expired on %s", p.Exp)
	}

	return &Parsed{
		Name:      p.Name,
		Email:     p.Sub,
		Tier:      p.Tier,
		IssuedAt:  issued,
		ExpiresAt: expires,
	}, nil
}

// Issue builds and signs a license key from priv. Used by `finch license`
// tooling and tests; the production private key never ships in the binary.
func Issue(priv ed25519.PrivateKey, name, email, tier string, issued, expires time.Time) (string, error) {
	p := payload{
		Sub:  email,
		Name: name,
		Tier: tier,
		Iss:  issued.Format("2006-01-02"),
		Exp:  expires.Format("2006-01-02"),
	}
	payloadBytes, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(priv, payloadBytes)
	return keyPrefix + base64.RawURLEncoding.EncodeToString(payloadBytes) + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}
