// Package model defines the data structures used throughout the application.
package model

import "time"

// User is a registered account.
//
// Users register with a username and password, or arrive through GitHub
// OAuth. GitHubID is nil for password accounts; PasswordHash is empty for
// GitHub-only accounts, which therefore cannot log in with a password.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	GitHubID     *int64    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PublicUser is the identity shown next to content a user authored.
// It deliberately leaves out the email address.
type PublicUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Account is what a user sees about themselves after register/login.
type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username}
}

func (u *User) Account() Account {
	return Account{ID: u.ID, Username: u.Username, Email: u.Email}
}
