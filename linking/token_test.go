package linking

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

var tokenNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer([]byte("test-secret"))
	if err != nil {
		t.Fatalf("NewTokenIssuer error: %v", err)
	}
	issuer.now = func() time.Time { return tokenNow }
	return issuer
}

func TestIssueAndResolve(t *testing.T) {
	issuer := testIssuer(t)

	token, err := issuer.Issue("sess_abc123", time.Hour)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if strings.Count(token, ".") != 1 {
		t.Fatalf("token = %q, want exactly one separator", token)
	}
	if strings.ContainsAny(token, "+/=") {
		t.Errorf("token = %q, want URL-safe encoding", token)
	}

	got, err := issuer.Resolve(token)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if got != "sess_abc123" {
		t.Errorf("Resolve = %q, want %q", got, "sess_abc123")
	}
}

func TestTokenDoesNotRevealSessionID(t *testing.T) {
	issuer := testIssuer(t)

	const sid = "sess_confidential42"
	token, err := issuer.Issue(sid, time.Hour)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	bodyPart, _, _ := strings.Cut(token, ".")
	body, err := base64.RawURLEncoding.DecodeString(bodyPart)
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if strings.Contains(string(body), sid) {
		t.Error("decoded token body contains the session id in the clear")
	}
	if strings.Contains(string(body), "sess_") {
		t.Error("decoded token body contains the session id prefix in the clear")
	}
}

func TestResolveExpired(t *testing.T) {
	issuer := testIssuer(t)

	token, err := issuer.Issue("sess_abc123", time.Second)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	issuer.now = func() time.Time { return tokenNow.Add(2 * time.Second) }
	_, err = issuer.Resolve(token)

	var expired *ExpiredTokenError
	if !errors.As(err, &expired) {
		t.Fatalf("Resolve error = %v, want ExpiredTokenError", err)
	}
	if expired.SessionID != "sess_abc123" {
		t.Errorf("SessionID = %q, want %q", expired.SessionID, "sess_abc123")
	}
	if !expired.ExpiredAt.Equal(tokenNow.Add(time.Second)) {
		t.Errorf("ExpiredAt = %v, want %v", expired.ExpiredAt, tokenNow.Add(time.Second))
	}
}

func TestResolveAtExactExpiryFails(t *testing.T) {
	issuer := testIssuer(t)
	token, err := issuer.Issue("sess_abc123", time.Hour)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	issuer.now = func() time.Time { return tokenNow.Add(time.Hour) }
	var expired *ExpiredTokenError
	if _, err := issuer.Resolve(token); !errors.As(err, &expired) {
		t.Fatalf("Resolve error = %v, want ExpiredTokenError", err)
	}
}

func TestResolveMalformed(t *testing.T) {
	issuer := testIssuer(t)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "no separator", token: "garbage"},
		{name: "body not base64", token: "!!!.AAAA"},
		{name: "signature not base64", token: "AAAA.!!!"},
		{name: "unsigned", token: "AAAA.AAAA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Resolve(tt.token)
			var invalid *InvalidTokenError
			if !errors.As(err, &invalid) {
				t.Fatalf("Resolve(%q) error = %v, want InvalidTokenError", tt.token, err)
			}
		})
	}
}

func TestResolveTamperedBody(t *testing.T) {
	issuer := testIssuer(t)
	token, err := issuer.Issue("sess_abc123", time.Hour)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	flipped := byte('A')
	if token[0] == 'A' {
		flipped = 'B'
	}
	tampered := string(flipped) + token[1:]

	var invalid *InvalidTokenError
	if _, err := issuer.Resolve(tampered); !errors.As(err, &invalid) {
		t.Fatalf("Resolve error = %v, want InvalidTokenError", err)
	}
	if !strings.Contains(invalid.Reason, "signature") {
		t.Errorf("Reason = %q, want signature mismatch", invalid.Reason)
	}
}

func TestResolveRejectsForeignSecret(t *testing.T) {
	issuer := testIssuer(t)
	token, err := issuer.Issue("sess_abc123", time.Hour)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	other, err := NewTokenIssuer([]byte("a-different-secret"))
	if err != nil {
		t.Fatalf("NewTokenIssuer error: %v", err)
	}
	other.now = func() time.Time { return tokenNow }

	var invalid *InvalidTokenError
	if _, err := other.Resolve(token); !errors.As(err, &invalid) {
		t.Fatalf("Resolve error = %v, want InvalidTokenError", err)
	}
}

func TestIssueValidation(t *testing.T) {
	issuer := testIssuer(t)

	if _, err := issuer.Issue("", time.Hour); err == nil {
		t.Error("Issue with empty session id succeeded, want error")
	}
	if _, err := issuer.Issue("sess_abc123", 0); err == nil {
		t.Error("Issue with zero ttl succeeded, want error")
	}
	if _, err := issuer.Issue("sess_abc123", -time.Minute); err == nil {
		t.Error("Issue with negative ttl succeeded, want error")
	}
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer(nil); err == nil {
		t.Fatal("NewTokenIssuer(nil) succeeded, want error")
	}
}

func TestTokensAreUnique(t *testing.T) {
	issuer := testIssuer(t)

	a, err := issuer.Issue("sess_abc123", time.Hour)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	b, err := issuer.Issue("sess_abc123", time.Hour)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if a == b {
		t.Error("two tokens for the same session are identical, want unique nonces")
	}
}
