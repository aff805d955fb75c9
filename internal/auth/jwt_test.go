package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-dashboard-tokens"

func TestGenerateDashboardToken(t *testing.T) {
	svc := NewJWTService(testSecret)

	token, err := svc.GenerateDashboardToken("analyst-1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if token == "" {
		t.Fatal("Expected non-empty token")
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("Expected valid token, got %v", err)
	}
	if claims.Subject != "analyst-1" {
		t.Errorf("Expected subject analyst-1, got %s", claims.Subject)
	}
	if claims.Type != TokenTypeDashboard {
		t.Errorf("Expected type %s, got %s", TokenTypeDashboard, claims.Type)
	}
}

func TestGenerateDashboardToken_EmptySubject(t *testing.T) {
	svc := NewJWTService(testSecret)

	_, err := svc.GenerateDashboardToken("")
	if !errors.Is(err, ErrEmptySubject) {
		t.Errorf("Expected ErrEmptySubject, got %v", err)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	token, err := NewJWTService(testSecret).GenerateDashboardToken("analyst-1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	_, err = NewJWTService("a-different-secret").ValidateToken(token)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateToken_Expired(t *testing.T) {
	svc := NewJWTService(testSecret).WithExpiry(-time.Hour).WithLeeway(0)

	token, err := svc.GenerateDashboardToken("analyst-1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	_, err = svc.ValidateToken(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Expected ErrExpiredToken, got %v", err)
	}
}

func TestValidateToken_Garbage(t *testing.T) {
	svc := NewJWTService(testSecret)

	_, err := svc.ValidateToken("not.a.token")
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateToken_RejectsWrongTokenType(t *testing.T) {
	// A token signed with the right secret but the wrong typ claim must be
	// rejected.
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "analyst-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Type: "refresh",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	_, err = NewJWTService(testSecret).ValidateToken(token)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateToken_RejectsUnsignedAlgorithm(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "analyst-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Type: TokenTypeDashboard,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	_, err = NewJWTService(testSecret).ValidateToken(token)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateToken_RotationAcceptsPreviousSecret(t *testing.T) {
	oldSvc := NewJWTService("old-secret")
	token, err := oldSvc.GenerateDashboardToken("analyst-1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	rotated := NewJWTServiceWithRotation("new-secret", "old-secret")
	claims, err := rotated.ValidateToken(token)
	if err != nil {
		t.Fatalf("Expected token valid during rotation, got %v", err)
	}
	if claims.Subject != "analyst-1" {
		t.Errorf("Expected subject analyst-1, got %s", claims.Subject)
	}

	// Once the previous secret is retired, the old token stops validating.
	retired := NewJWTServiceWithRotation("new-secret", "")
	if _, err := retired.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken after retirement, got %v", err)
	}
}
