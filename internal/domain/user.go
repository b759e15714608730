// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strconv"
)

const MaxUsernameLen = 64

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUserIDInvalid   = errors.New("user id must be positive")
)

// UserID is the durable identity issued by the auth collaborator.
type UserID int64

func (id UserID) String() string { return strconv.FormatInt(int64(id), 10) }

type User struct {
	ID        UserID `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id UserID, name, avatarURL string) (User, error) {
	if id <= 0 {
		return User{}, ErrUserIDInvalid
	}
	if len(name) == 0 {
		return User{}, ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLen {
		return User{}, ErrUsernameTooLong
	}
	return User{ID: id, Name: name, AvatarURL: avatarURL}, nil
}
