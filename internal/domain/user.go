// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const (
	MaxUserIDLen   = 36
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type UserID string

// User is a stable identity as delivered by the roster events. Username is
// the unique handle, Name the free-form display name.
type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

func NewUser(id UserID, username, name string) (*User, error) {
	if len(username) == 0 {
		return nil, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	if name == "" {
		name = username
	}
	return &User{ID: id, Username: username, Name: name}, nil
}

// DisplayName prefers the free-form name, falling back to the handle.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}
