package auth

import (
	"fmt"
	"strings"
	"unicode"
)

// PasswordPolicy holds the rules a new password must satisfy at
// registration. The defaults mirror what most web frameworks ship:
// a minimum length, no purely numeric passwords, no well-known passwords,
// and nothing that is basically the username.
type PasswordPolicy struct {
	MinLength                int
	ForbidAllDigits          bool
	ForbidCommonPasswords    bool
	ForbidUsernameSimilarity bool
}

// DefaultPasswordPolicy is the policy applied to every registration.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:                8,
		ForbidAllDigits:          true,
		ForbidCommonPasswords:    true,
		ForbidUsernameSimilarity: true,
	}
}

// Check returns every rule the password breaks, in a stable order.
// An empty result means the password is acceptable.
func (p PasswordPolicy) Check(password, username string) []string {
	var problems []string

	if n := len([]rune(password)); n < p.MinLength {
		problems = append(problems,
			fmt.Sprintf("this password is too short, it must contain at least %d characters", p.MinLength))
	}
	if p.ForbidUsernameSimilarity && username != "" && isSimilarToUsername(password, username) {
		problems = append(problems, "the password is too similar to the username")
	}
	if p.ForbidCommonPasswords && isCommonPassword(password) {
		problems = append(problems, "this password is too common")
	}
	if p.ForbidAllDigits && password != "" && isAllDigits(password) {
		problems = append(problems, "this password is entirely numeric")
	}

	return problems
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// isSimilarToUsername flags passwords that contain the username (or its
// reverse), or are contained in it. Usernames shorter than three characters
// only match exactly, otherwise "al" would rule out half the dictionary.
func isSimilarToUsername(password, username string) bool {
	lowerPass := strings.ToLower(password)
	lowerUser := strings.ToLower(username)

	if lowerPass == lowerUser {
		return true
	}
	if len([]rune(lowerUser)) < 3 {
		return false
	}
	if strings.Contains(lowerPass, lowerUser) || strings.Contains(lowerUser, lowerPass) {
		return true
	}
	return strings.Contains(lowerPass, reverseString(lowerUser))
}

func reverseString(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

var commonPasswords = map[string]struct{}{
	"123456": {}, "password": {}, "123456789": {}, "12345678": {}, "12345": {},
	"1234567": {}, "1234567890": {}, "qwerty": {}, "abc123": {}, "password1": {},
	"password123": {}, "admin": {}, "admin123": {}, "letmein": {}, "welcome": {},
	"monkey": {}, "dragon": {}, "master": {}, "login": {}, "princess": {},
	"qwerty123": {}, "passw0rd": {}, "starwars": {}, "iloveyou": {}, "sunshine": {},
	"trustno1": {}, "111111": {}, "000000": {}, "654321": {}, "superman": {},
	"football": {}, "baseball": {}, "shadow": {}, "secret": {}, "changeme": {},
	"qwertyuiop": {}, "asdfghjkl": {}, "zxcvbnm": {}, "1qaz2wsx": {}, "abcd1234": {},
	"1q2w3e4r": {}, "987654321": {}, "11111111": {}, "00000000": {}, "welcome1": {},
	"p@ssw0rd": {}, "iloveyou1": {}, "whatever": {}, "batman": {}, "hollywood": {},
	"cinema": {}, "movies": {}, "moviestar": {}, "blockbuster": {}, "netflix": {},
}

// isCommonPassword checks the password, case-insensitively, against a list
// of the most frequently breached passwords.
func isCommonPassword(password string) bool {
	_, ok := commonPasswords[strings.ToLower(password)]
	return ok
}
