package auth

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func testService(t *testing.T) *Service {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return NewService("secret", time.Hour, "admin", string(hash))
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatal(err)
	}
	if !CheckPassword("correct horse", hash) {
		t.Error("CheckPassword rejected the right password")
	}
	if CheckPassword("battery staple", hash) {
		t.Error("CheckPassword accepted the wrong password")
	}
}

func TestLogin(t *testing.T) {
	s := testService(t)

	token, err := s.Login("admin", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := s.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Username != "admin" || !claims.IsAdmin {
		t.Errorf("claims = %+v", claims)
	}

	for _, tt := range []struct{ user, pass string }{
		{"admin", "wrong"},
		{"root", "hunter2"},
	} {
		if _, err := s.Login(tt.user, tt.pass); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login(%q, %q) = %v", tt.user, tt.pass, err)
		}
	}
}

func TestLoginWithoutPassword(t *testing.T) {
	s := NewService("secret", time.Hour, "admin", "")
	if _, err := s.Login("admin", ""); !errors.Is(err, ErrNoAdminPassword) {
		t.Errorf("Login = %v", err)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	s := testService(t)

	other := NewService("other-secret", time.Hour, "admin", "")
	forged, err := other.GenerateToken("admin", true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ValidateToken(forged); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("forged token: %v", err)
	}

	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := s.GenerateToken("admin", true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ValidateToken(expired); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token: %v", err)
	}

	if _, err := s.ValidateToken("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage token: %v", err)
	}
}
