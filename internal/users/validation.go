package users

import (
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"
)

var (
	errInvalidName     = errors.New("name must be 3-25 characters")
	errInvalidUsername = errors.New("username must be 3-20 letters, digits or underscores")
	errInvalidEmail    = errors.New("email is malformed or longer than 50 characters")
	errInvalidPassword = errors.New("password must be 6-72 characters")
	errInvalidBio      = errors.New("bio must be at most 50 characters")
)

var (
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	usernamePattern = regexp.MustCompile(`^[\p{L}0-9_]{3,20}$`)
)

func validateName(name string) error {
	length := utf8.RuneCountInString(name)
	if length < 3 || length > 25 {
		return errInvalidName
	}
	return nil
}

func validateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return errInvalidUsername
	}
	return nil
}

func validateEmail(email string) error {
	if len(email) > 50 || !emailPattern.MatchString(email) {
		return errInvalidEmail
	}
	return nil
}

// bcrypt ignores input past 72 bytes, so longer passwords are refused.
func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < 6 || len(password) > 72 {
		return errInvalidPassword
	}
	return nil
}

func validateBio(bio string) error {
	if utf8.RuneCountInString(bio) > 50 {
		return fmt.Errorf("%w: got %d", errInvalidBio, utf8.RuneCountInString(bio))
	}
	return nil
}
