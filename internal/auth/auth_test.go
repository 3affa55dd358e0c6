package auth

import (
	"testing"
	"time"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid password", "password123", false},
		{"empty password", "", false},
		{"long password", "a" + string(make([]byte, 70)), false}, // bcrypt max is 72 bytes
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("HashPassword() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && hash == "" {
				t.Error("HashPassword() returned empty hash")
			}
		})
	}
}

func TestVerifyPassword(t *testing.T) {
	password := "testpassword123"
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	tests := []struct {
		name     string
		hash     string
		password string
		want     bool
	}{
		{"correct password", hash, password, true},
		{"wrong password", hash, "wrongpassword", false},
		{"empty password", hash, "", false},
		{"invalid hash", "invalidhash", password, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPassword(tt.hash, tt.password); got != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateAccessToken(t *testing.T) {
	token, err := GenerateAccessToken("alice@example.com", "test-secret", 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	if token == "" {
		t.Error("GenerateAccessToken() returned empty token")
	}
}

func TestValidateAccessToken(t *testing.T) {
	secret := "test-secret-key"
	email := "bob@example.com"

	token, err := GenerateAccessToken(email, secret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	tests := []struct {
		name      string
		token     string
		secret    string
		wantEmail string
		wantErr   bool
	}{
		{"valid token", token, secret, email, false},
		{"wrong secret", token, "wrong-secret", "", true},
		{"malformed token", "invalid.token.here", secret, "", true},
		{"empty token", "", secret, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateAccessToken(tt.token, tt.secret, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAccessToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.wantEmail {
				t.Errorf("ValidateAccessToken() = %v, want %v", got, tt.wantEmail)
			}
		})
	}
}

func TestValidateAccessToken_Expired(t *testing.T) {
	secret := "test-secret"
	token, err := GenerateAccessToken("carol@example.com", secret, -1)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	if _, err := ValidateAccessToken(token, secret, nil); err == nil {
		t.Error("ValidateAccessToken() should fail for expired token")
	}
}

func TestValidateAccessToken_Revoked(t *testing.T) {
	secret := "test-secret"
	store := NewMemoryRevokedStore()
	defer store.Stop()

	token, err := GenerateAccessToken("dave@example.com", secret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	if _, err := ValidateAccessToken(token, secret, store); err != nil {
		t.Fatalf("ValidateAccessToken() before revoke: %v", err)
	}

	store.Revoke(token, TokenExpiry(token, secret))
	if _, err := ValidateAccessToken(token, secret, store); err == nil {
		t.Error("ValidateAccessToken() should fail after revoke, even with remaining TTL")
	}

	// Revoking twice is a no-op
	store.Revoke(token, TokenExpiry(token, secret))
	if _, err := ValidateAccessToken(token, secret, store); err == nil {
		t.Error("ValidateAccessToken() should still fail after double revoke")
	}
}

func TestMemoryRevokedStore(t *testing.T) {
	store := NewMemoryRevokedStore()
	defer store.Stop()

	if store.IsRevoked("some-token") {
		t.Error("IsRevoked() = true for unknown token")
	}
	store.Revoke("some-token", time.Now().Add(time.Hour))
	if !store.IsRevoked("some-token") {
		t.Error("IsRevoked() = false after Revoke()")
	}
	if store.IsRevoked("other-token") {
		t.Error("IsRevoked() = true for a different token")
	}
}

func TestMemoryRevokedStore_Concurrent(t *testing.T) {
	store := NewMemoryRevokedStore()
	defer store.Stop()

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			token := "token-" + string(rune('a'+n))
			store.Revoke(token, time.Now().Add(time.Hour))
			if !store.IsRevoked(token) {
				t.Errorf("IsRevoked(%s) = false after concurrent Revoke", token)
			}
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestTokenExpiry(t *testing.T) {
	secret := "test-secret"
	token, err := GenerateAccessToken("eve@example.com", secret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	exp := TokenExpiry(token, secret)
	if exp.IsZero() {
		t.Fatal("TokenExpiry() returned zero time for valid token")
	}
	if exp.Before(time.Now()) {
		t.Error("TokenExpiry() is in the past for a fresh token")
	}
	if !TokenExpiry("garbage", secret).IsZero() {
		t.Error("TokenExpiry() should return zero time for unparseable token")
	}
}
