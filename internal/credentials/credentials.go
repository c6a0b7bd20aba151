// Package credentials validates sign-in attempts against a fixed user table.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ashureev/docchat/internal/domain"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// ErrInvalidCredentials is the only rejection Validate ever reports.
var ErrInvalidCredentials = errors.New("username/password is incorrect")

// dummyHash is compared against for unknown usernames so that both rejection
// paths cost one bcrypt verification.
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z3ZXWxNgG.n0iW/1/2AT.zIm")

// Store is a read-only username to user mapping.
type Store struct {
	users map[string]domain.User
}

// New builds a store from users keyed by username.
func New(users []domain.User) (*Store, error) {
	s := &Store{users: make(map[string]domain.User, len(users))}
	for _, u := range users {
		name := strings.TrimSpace(u.Username)
		if name == "" {
			return nil, fmt.Errorf("user with empty username")
		}
		if _, dup := s.users[name]; dup {
			return nil, fmt.Errorf("duplicate username %q", name)
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("user %q: password is not a bcrypt hash: %w", name, err)
		}
		u.Username = name
		s.users[name] = u
	}
	return s, nil
}

// Default returns the built-in demo accounts (admin/admin123, user/user123).
func Default() *Store {
	s, err := New([]domain.User{
		{
			Username:     "admin",
			Name:         "Administrator",
			Email:        "admin@example.com",
			PasswordHash: "$2b$12$v0UQxza9FSOX0HKly.6.kug4e0ILwb03EKlHmhBbsxfpaK6ld8iZm",
		},
		{
			Username:     "user",
			Name:         "Regular User",
			Email:        "user@example.com",
			PasswordHash: "$2b$12$EteTxC1Uy/n7bixvxlp8Ee9Xvj8XqBXUEd1Fcvd3wHW9hVnPWJMAi",
		},
	})
	if err != nil {
		panic("credentials: invalid built-in users: " + err.Error())
	}
	return s
}

type fileLayout struct {
	Credentials struct {
		Usernames map[string]domain.User `yaml:"usernames"`
	} `yaml:"credentials"`
}

// LoadFile reads users from a YAML file of the form
//
//	credentials:
//	  usernames:
//	    alice: {name: Alice, email: alice@example.com, password: <bcrypt hash>}
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	return Parse(data)
}

// Parse decodes the YAML credential layout used by LoadFile.
func Parse(data []byte) (*Store, error) {
	var layout fileLayout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if len(layout.Credentials.Usernames) == 0 {
		return nil, fmt.Errorf("parse credentials: no users defined")
	}

	users := make([]domain.User, 0, len(layout.Credentials.Usernames))
	for name, u := range layout.Credentials.Usernames {
		u.Username = name
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return New(users)
}

// Validate checks a sign-in attempt. Unknown usernames and wrong passwords
// both return ErrInvalidCredentials.
func (s *Store) Validate(username, password string) (domain.User, error) {
	u, ok := s.users[strings.TrimSpace(username)]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return domain.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// Len returns the number of configured users.
func (s *Store) Len() int {
	return len(s.users)
}
