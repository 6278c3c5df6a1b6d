package linking

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// tokenSchemaVersion is bumped when the payload layout changes.
const tokenSchemaVersion = 1

// ExpiredTokenError reports a structurally valid, correctly signed token
// whose lifetime has passed.
type ExpiredTokenError struct {
	SessionID string
	ExpiredAt time.Time
}

func (e *ExpiredTokenError) Error() string {
	return fmt.Sprintf("resumption token for session %s expired at %s",
		e.SessionID, e.ExpiredAt.UTC().Format(time.RFC3339))
}

// InvalidTokenError reports a token that is malformed or was not issued
// with this issuer's secret.
type InvalidTokenError struct {
	Reason string
}

func (e *InvalidTokenError) Error() string {
	return "invalid resumption token: " + e.Reason
}

// tokenPayload is the encrypted body of a resumption token.
type tokenPayload struct {
	SessionID string `json:"sid"`
	ExpiresAt int64  `json:"exp"`
	Version   int    `json:"v"`
}

// TokenIssuer mints and resolves resumption tokens. A token is an opaque
// URL-safe bearer credential: the payload (session id, expiry, schema
// version) is AES-256-CTR encrypted under a key derived from the issuing
// secret and authenticated with HMAC-SHA256, so holders of a token
// cannot read the session id out of it and third parties cannot forge
// one. Token format: base64url(iv || ciphertext) + "." + base64url(mac).
type TokenIssuer struct {
	encKey []byte
	macKey []byte
	now    func() time.Time
}

// NewTokenIssuer returns an issuer keyed by secret. Tokens from issuers
// with different secrets do not verify against each other.
func NewTokenIssuer(secret []byte) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token secret must not be empty")
	}
	return &TokenIssuer{
		encKey: deriveKey(secret, "token-encrypt"),
		macKey: deriveKey(secret, "token-sign"),
		now:    time.Now,
	}, nil
}

// deriveKey expands the caller's secret into a fixed 32-byte key bound
// to one purpose, so the cipher and the MAC never share key material.
func deriveKey(secret []byte, label string) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(label))
	return h.Sum(nil)
}

// Issue mints a token that resolves to sessionID until ttl elapses.
func (t *TokenIssuer) Issue(sessionID string, ttl time.Duration) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("session id must not be empty")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %s", ttl)
	}

	payload, err := json.Marshal(tokenPayload{
		SessionID: sessionID,
		ExpiresAt: t.now().Add(ttl).Unix(),
		Version:   tokenSchemaVersion,
	})
	if err != nil {
		return "", fmt.Errorf("encode token payload: %w", err)
	}

	block, err := aes.NewCipher(t.encKey)
	if err != nil {
		return "", fmt.Errorf("init token cipher: %w", err)
	}
	body := make([]byte, aes.BlockSize+len(payload))
	iv := body[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate token nonce: %w", err)
	}
	cipher.NewCTR(block, iv).XORKeyStream(body[aes.BlockSize:], payload)

	return base64.RawURLEncoding.EncodeToString(body) + "." +
		base64.RawURLEncoding.EncodeToString(t.sign(body)), nil
}

// Resolve returns the session id a token was issued for. The signature
// is verified in constant time before anything else is read; a verified
// token past its expiry fails with ExpiredTokenError, everything else
// with InvalidTokenError.
func (t *TokenIssuer) Resolve(token string) (string, error) {
	bodyPart, macPart, ok := strings.Cut(token, ".")
	if !ok {
		return "", &InvalidTokenError{Reason: "want body.signature format"}
	}
	body, err := base64.RawURLEncoding.DecodeString(bodyPart)
	if err != nil {
		return "", &InvalidTokenError{Reason: "body is not base64url"}
	}
	mac, err := base64.RawURLEncoding.DecodeString(macPart)
	if err != nil {
		return "", &InvalidTokenError{Reason: "signature is not base64url"}
	}
	if !hmac.Equal(mac, t.sign(body)) {
		return "", &InvalidTokenError{Reason: "signature mismatch"}
	}
	if len(body) < aes.BlockSize {
		return "", &InvalidTokenError{Reason: "body too short"}
	}

	block, err := aes.NewCipher(t.encKey)
	if err != nil {
		return "", &InvalidTokenError{Reason: "init cipher: " + err.Error()}
	}
	plaintext := make([]byte, len(body)-aes.BlockSize)
	cipher.NewCTR(block, body[:aes.BlockSize]).XORKeyStream(plaintext, body[aes.BlockSize:])

	var payload tokenPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return "", &InvalidTokenError{Reason: "payload does not decode"}
	}
	if payload.Version != tokenSchemaVersion {
		return "", &InvalidTokenError{Reason: fmt.Sprintf("unsupported schema version %d", payload.Version)}
	}
	if payload.SessionID == "" {
		return "", &InvalidTokenError{Reason: "payload has no session id"}
	}

	expires := time.Unix(payload.ExpiresAt, 0)
	if !t.now().Before(expires) {
		return "", &ExpiredTokenError{SessionID: payload.SessionID, ExpiredAt: expires}
	}
	return payload.SessionID, nil
}

func (t *TokenIssuer) sign(body []byte) []byte {
	h := hmac.New(sha256.New, t.macKey)
	h.Write(body)
	return h.Sum(nil)
}
