// Package model defines the core domain types for the chat relay.
package model

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

const MaxUsernameLength = 32

// DefaultTextColor is the profile text color assigned until a user picks one.
const DefaultTextColor = "#000000"

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username must contain only alphanumeric characters, underscores, or hyphens")
var ErrTextColorInvalid = errors.New("text color must be a #rrggbb hex value")

// User represents a registered user. The password credential never leaves
// the storage layer; it is checked there, not carried here.
type User struct {
	Username  string    `json:"username"`
	Bio       string    `json:"bio"`
	Pronouns  string    `json:"pronouns"`
	TextColor string    `json:"text_color"`
	Online    bool      `json:"online"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the publicly visible slice of a user record.
type Profile struct {
	Bio       string `json:"bio"`
	Pronouns  string `json:"pronouns"`
	TextColor string `json:"text_color"`
}

// ValidateUsername checks that a username is 1-32 ASCII alphanumeric,
// underscore, or hyphen characters. Returns nil on success or a
// descriptive error.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}

var textColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// ValidateTextColor checks a profile text color for the #rrggbb form.
func ValidateTextColor(color string) error {
	if !textColorPattern.MatchString(color) {
		return ErrTextColorInvalid
	}
	return nil
}
