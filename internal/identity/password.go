package identity

import (
	"regexp"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLen = 8

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{3,50}$`)

// CheckPasswordPolicy enforces length plus at least one letter and one digit.
func CheckPasswordPolicy(pw string) error {
	if len(pw) < minPasswordLen || len(pw) > 72 {
		return ErrWeakPassword
	}
	var letter, digit bool
	for _, r := range pw {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return ErrWeakPassword
	}
	return nil
}

func CheckUsername(name string) error {
	if !usernamePattern.MatchString(name) {
		return ErrInvalidUsername
	}
	return nil
}

type hasher struct {
	cost int
}

func (h hasher) hash(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h hasher) matches(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}
