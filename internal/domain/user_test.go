package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestNewUser(t *testing.T) {
	tests := []struct {
		name     string
		username string
		display  string
		wantErr  error
		wantName string
	}{
		{name: "ok", username: "alice", display: "Alice B", wantName: "Alice B"},
		{name: "name falls back to username", username: "alice", display: "", wantName: "alice"},
		{name: "empty username", username: "", display: "x", wantErr: ErrUsernameEmpty},
		{name: "username too long", username: strings.Repeat("a", MaxUsernameLen+1), wantErr: ErrUsernameTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := NewUser("u1", tt.username, tt.display)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if u.Name != tt.wantName {
				t.Fatalf("name = %q, want %q", u.Name, tt.wantName)
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	u := &User{ID: "u1", Username: "alice"}
	if got := u.DisplayName(); got != "alice" {
		t.Fatalf("display = %q, want handle fallback", got)
	}
	u.Name = "Alice B"
	if got := u.DisplayName(); got != "Alice B" {
		t.Fatalf("display = %q, want free-form name", got)
	}
}

func TestNewParticipantStartsMuted(t *testing.T) {
	p := NewParticipant(&User{ID: "u1", Username: "alice"})
	if !p.Muted {
		t.Fatal("participants must start muted")
	}
}
