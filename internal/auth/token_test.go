package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testUsers = Directory{
	"alice": "correct horse",
	"bob":   "battery staple",
}

func newTestIssuer(now time.Time) *Issuer {
	i := NewIssuer("test-secret", time.Hour, testUsers)
	i.now = func() time.Time { return now }
	return i
}

func newTestVerifier(now time.Time) *Verifier {
	v := NewVerifier("test-secret")
	v.now = func() time.Time { return now }
	return v
}

func TestAuthenticate_IssuesVerifiableToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	token, err := newTestIssuer(now).Authenticate("alice", "correct horse")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if token == "" {
		t.Fatalf("empty token")
	}

	identity, err := newTestVerifier(now.Add(time.Minute)).Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity != "alice" {
		t.Fatalf("identity=%q, want %q", identity, "alice")
	}
}

func TestAuthenticate_UniformFailure(t *testing.T) {
	i := newTestIssuer(time.Unix(0, 0))

	_, wrongPassword := i.Authenticate("alice", "nope")
	_, unknownUser := i.Authenticate("mallory", "nope")

	if !errors.Is(wrongPassword, ErrInvalidCredentials) {
		t.Fatalf("wrong password err=%v, want %v", wrongPassword, ErrInvalidCredentials)
	}
	if !errors.Is(unknownUser, ErrInvalidCredentials) {
		t.Fatalf("unknown user err=%v, want %v", unknownUser, ErrInvalidCredentials)
	}
	if wrongPassword.Error() != unknownUser.Error() {
		t.Fatalf("errors differ: %q vs %q", wrongPassword, unknownUser)
	}
}

func TestAuthenticate_CaseSensitive(t *testing.T) {
	i := newTestIssuer(time.Unix(0, 0))
	if _, err := i.Authenticate("Alice", "correct horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err=%v, want %v", err, ErrInvalidCredentials)
	}
}

func TestVerify_Expired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	token, err := newTestIssuer(now).Authenticate("bob", "battery staple")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	_, err = newTestVerifier(now.Add(2 * time.Hour)).Verify(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err=%v, want %v", err, ErrTokenExpired)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	token, err := newTestIssuer(now).Authenticate("bob", "battery staple")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	v := NewVerifier("other-secret")
	v.now = func() time.Time { return now }
	if _, err := v.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err=%v, want %v", err, ErrTokenInvalid)
	}
}

func TestVerify_Malformed(t *testing.T) {
	v := newTestVerifier(time.Unix(0, 0))
	for _, token := range []string{"", "garbage", "a.b", strings.Repeat("x", 4096)} {
		if _, err := v.Verify(token); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("token %q: err=%v, want %v", token, err, ErrTokenInvalid)
		}
	}
}

func TestVerify_TamperedPayload(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	token, err := newTestIssuer(now).Authenticate("alice", "correct horse")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape %q", token)
	}
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	if _, err := newTestVerifier(now).Verify(tampered); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err=%v, want %v", err, ErrTokenInvalid)
	}
}
