// Package domain contains core domain types for the docchat application.
package domain

// User is a configured account allowed to sign in.
// Users are loaded at startup and never mutated at runtime.
type User struct {
	Username     string `json:"username" yaml:"-"`
	Name         string `json:"name" yaml:"name"`
	Email        string `json:"email" yaml:"email"`
	PasswordHash string `json:"-" yaml:"password"`
}

// DisplayName returns the user's name, falling back to the username.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}
