package smtp

import (
	"encoding/base64"
	"errors"
	"testing"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestAuthenticator_Enabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		username string
		password string
		want     bool
	}{
		{name: "both set", username: "user", password: "pass", want: true},
		{name: "empty username", username: "", password: "pass", want: false},
		{name: "empty password", username: "user", password: "", want: false},
		{name: "both empty", username: "", password: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			auth := NewAuthenticator(tt.username, tt.password)
			if got := auth.Enabled(); got != tt.want {
				t.Errorf("Enabled(): got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthenticator_VerifyPlain(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("testuser", "testpass")

	tests := []struct {
		name    string
		encoded string
		wantErr error
	}{
		{name: "success", encoded: b64("\x00testuser\x00testpass")},
		{name: "with authzid", encoded: b64("admin\x00testuser\x00testpass")},
		{name: "wrong password", encoded: b64("\x00testuser\x00nope"), wantErr: errAuthFailed},
		{name: "wrong username", encoded: b64("\x00other\x00testpass"), wantErr: errAuthFailed},
		{name: "password prefix", encoded: b64("\x00testuser\x00testpas"), wantErr: errAuthFailed},
		{name: "invalid base64", encoded: "!!!not-base64", wantErr: errAuthEncoding},
		{name: "missing separator", encoded: b64("testuser\x00testpass"), wantErr: errAuthFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := auth.VerifyPlain(tt.encoded)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("VerifyPlain: got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthenticator_VerifyLogin(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("testuser", "testpass")

	tests := []struct {
		name    string
		user    string
		pass    string
		wantErr error
	}{
		{name: "success", user: b64("testuser"), pass: b64("testpass")},
		{name: "wrong password", user: b64("testuser"), pass: b64("wrong"), wantErr: errAuthFailed},
		{name: "invalid base64 user", user: "%%%", pass: b64("testpass"), wantErr: errAuthEncoding},
		{name: "invalid base64 pass", user: b64("testuser"), pass: "%%%", wantErr: errAuthEncoding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := auth.VerifyLogin(tt.user, tt.pass)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("VerifyLogin: got %v, want %v", err, tt.wantErr)
			}
		})
	}
}
