package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opensource-finance/loandesk/internal/domain"
)

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	i, err := NewIssuer(domain.AuthConfig{Secret: "s3cret", Issuer: "loandesk", TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}
	return i
}

func TestIssueAndVerify(t *testing.T) {
	i := newTestIssuer(t)

	token, err := i.Issue(&domain.User{Name: "Ada", Role: "Credit Officer"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	claims, err := i.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Name != "Ada" || claims.Role != "Credit Officer" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if claims.Subject != "Ada" {
		t.Errorf("expected subject Ada, got %q", claims.Subject)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	i := newTestIssuer(t)
	issued := time.Now().Add(-2 * time.Hour)
	i.now = func() time.Time { return issued }

	token, err := i.Issue(&domain.User{Name: "Ada", Role: "AMLRO"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	i.now = time.Now
	if _, err := i.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	i := newTestIssuer(t)
	token, _ := i.Issue(&domain.User{Name: "Ada", Role: "AMLRO"})

	other, _ := NewIssuer(domain.AuthConfig{Secret: "other", Issuer: "loandesk"})
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	i := newTestIssuer(t)
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		Name: "Ada",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "loandesk",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := i.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for HS512, got %v", err)
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	i := newTestIssuer(t)
	other, _ := NewIssuer(domain.AuthConfig{Secret: "s3cret", Issuer: "elsewhere"})
	token, _ := other.Issue(&domain.User{Name: "Ada"})

	if _, err := i.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	if _, err := NewIssuer(domain.AuthConfig{}); err == nil {
		t.Error("expected error for empty secret")
	}
}
