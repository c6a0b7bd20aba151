package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ashureev/docchat/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

func hash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword failed: %v", err)
	}
	return string(h)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New([]domain.User{
		{Username: "alice", Name: "Alice", Email: "alice@example.com", PasswordHash: hash(t, "wonderland")},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestValidateAcceptsCorrectPassword(t *testing.T) {
	s := newTestStore(t)

	u, err := s.Validate("alice", "wonderland")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if u.DisplayName() != "Alice" || u.Email != "alice@example.com" {
		t.Errorf("unexpected user: %+v", u)
	}
}

func TestValidateRejectionsAreIndistinguishable(t *testing.T) {
	s := newTestStore(t)

	unknownUser, errUnknown := s.Validate("mallory", "wonderland")
	wrongPassword, errWrong := s.Validate("alice", "looking-glass")

	if !errors.Is(errUnknown, ErrInvalidCredentials) || !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v and %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Errorf("rejection messages differ: %q vs %q", errUnknown, errWrong)
	}
	if unknownUser != wrongPassword {
		t.Errorf("rejection payloads differ: %+v vs %+v", unknownUser, wrongPassword)
	}
}

func TestNewRejectsPlaintextPasswords(t *testing.T) {
	_, err := New([]domain.User{{Username: "bob", PasswordHash: "hunter2"}})
	if err == nil {
		t.Fatal("expected error for non-bcrypt password")
	}
}

func TestNewRejectsDuplicates(t *testing.T) {
	h := hash(t, "pw")
	_, err := New([]domain.User{{Username: "bob", PasswordHash: h}, {Username: "bob", PasswordHash: h}})
	if err == nil {
		t.Fatal("expected duplicate username error")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	content := "credentials:\n" +
		"  usernames:\n" +
		"    carol:\n" +
		"      name: Carol\n" +
		"      email: carol@example.com\n" +
		"      password: \"" + hash(t, "secret") + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write users file: %v", err)
	}

	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 user, got %d", s.Len())
	}
	u, err := s.Validate("carol", "secret")
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if u.Username != "carol" || u.Name != "Carol" {
		t.Errorf("unexpected user: %+v", u)
	}
}

func TestParseRejectsEmptyFile(t *testing.T) {
	if _, err := Parse([]byte("credentials: {}\n")); err == nil {
		t.Fatal("expected error for empty user table")
	}
}

func TestDefaultHasDemoAccounts(t *testing.T) {
	if got := Default().Len(); got != 2 {
		t.Fatalf("expected 2 demo users, got %d", got)
	}
}
