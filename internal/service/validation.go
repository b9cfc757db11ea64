package service

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

const (
	minNameLen     = 2
	maxNameLen     = 80
	maxEmailLen    = 254
	minPasswordLen = 8
	maxPasswordLen = 128
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func checkName(name string, out []FieldError) []FieldError {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n < minNameLen || n > maxNameLen {
		return append(out, FieldError{Field: "name", Message: "must be between 2 and 80 characters"})
	}
	return out
}

// checkEmail expects an already normalized address.
func checkEmail(email string, out []FieldError) []FieldError {
	if email == "" {
		return append(out, FieldError{Field: "email", Message: "is required"})
	}
	if len(email) > maxEmailLen {
		return append(out, FieldError{Field: "email", Message: "must be at most 254 characters"})
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return append(out, FieldError{Field: "email", Message: "must be a valid email address"})
	}
	return out
}

func checkPassword(password string, out []FieldError) []FieldError {
	n := utf8.RuneCountInString(password)
	if n < minPasswordLen || n > maxPasswordLen {
		return append(out, FieldError{Field: "password", Message: "must be between 8 and 128 characters"})
	}
	return out
}

func checkRequired(field, value string, out []FieldError) []FieldError {
	if strings.TrimSpace(value) == "" {
		return append(out, FieldError{Field: field, Message: "is required"})
	}
	return out
}
