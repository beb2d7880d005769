package identity_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmerrifield20/windchill/internal/identity"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestTokenIssuer(t *testing.T) *identity.TokenIssuer {
	t.Helper()
	ti, err := identity.NewTokenIssuer(testSecret, "https://windchill.test", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return ti
}

func TestNewTokenIssuer_weakSecret(t *testing.T) {
	_, err := identity.NewTokenIssuer([]byte("short"), "iss", time.Hour)
	if !errors.Is(err, identity.ErrWeakSecret) {
		t.Fatalf("got %v, want ErrWeakSecret", err)
	}
}

func TestTokenIssuer_Issue(t *testing.T) {
	ti := newTestTokenIssuer(t)

	token, err := ti.Issue("rig-a", []string{identity.ScopeSeal})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Errorf("expected 3-part JWT, got %d parts", len(parts))
	}
	if _, err := ti.Issue("", nil); err == nil {
		t.Error("expected error for empty producer")
	}
}

func TestTokenIssuer_Verify_valid(t *testing.T) {
	ti := newTestTokenIssuer(t)

	token, err := ti.Issue("rig-a", []string{identity.ScopeSeal})
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Producer != "rig-a" || claims.Subject != "rig-a" {
		t.Errorf("claims = %+v", claims)
	}
	if !claims.HasScope(identity.ScopeSeal) || claims.HasScope(identity.ScopeRead) {
		t.Errorf("Scopes: got %v", claims.Scopes)
	}
}

func TestTokenIssuer_Verify_expired(t *testing.T) {
	ti, _ := identity.NewTokenIssuer(testSecret, "https://windchill.test", time.Nanosecond)
	token, err := ti.Issue("rig-a", nil)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)

	if _, err := ti.Verify(token); err == nil {
		t.Error("expected expired token to fail verification")
	}
}

func TestTokenIssuer_Verify_wrongSecret(t *testing.T) {
	ti := newTestTokenIssuer(t)
	other, _ := identity.NewTokenIssuer([]byte("ffffffffffffffffffffffffffffffff"), "https://windchill.test", time.Hour)

	token, _ := other.Issue("rig-a", nil)
	if _, err := ti.Verify(token); err == nil {
		t.Error("expected token signed with another secret to be rejected")
	}
}

func TestTokenIssuer_Verify_wrongIssuer(t *testing.T) {
	a, _ := identity.NewTokenIssuer(testSecret, "https://a.windchill.test", time.Hour)
	b, _ := identity.NewTokenIssuer(testSecret, "https://b.windchill.test", time.Hour)

	token, _ := a.Issue("rig-a", nil)
	if _, err := b.Verify(token); err == nil {
		t.Error("expected issuer mismatch to fail")
	}
}

func TestTokenIssuer_Verify_algNone(t *testing.T) {
	ti := newTestTokenIssuer(t)
	claims := identity.ProducerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://windchill.test",
			Subject:   "rig-a",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Producer: "rig-a",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ti.Verify(token); err == nil {
		t.Error("unsigned token accepted")
	}
}
