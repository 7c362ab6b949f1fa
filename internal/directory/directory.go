// Package directory resolves email addresses to the display names of known
// users.
package directory

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrMissingEmail is returned when a directory entry has no email address.
var ErrMissingEmail = errors.New("directory user has no email")

// User is a known user.
type User struct {
	Email       string `yaml:"email"`
	DisplayName string `yaml:"display_name"`
}

// Directory looks users up by email address.
type Directory interface {
	LookupByEmail(email string) (User, bool)
}

// Static is an in-memory Directory. Lookups ignore case and surrounding
// whitespace.
type Static struct {
	users map[string]User
}

// file is the on-disk layout read by LoadFile.
type file struct {
	Users []User `yaml:"users"`
}

// NewStatic builds a Static directory. Later entries replace earlier ones with
// the same address.
func NewStatic(users ...User) *Static {
	s := &Static{users: make(map[string]User, len(users))}
	for _, u := range users {
		s.users[normalize(u.Email)] = u
	}
	return s
}

// LoadFile reads a YAML user list of the form:
//
//	users:
//	  - email: jane@example.com
//	    display_name: Jane Doe
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse directory file: %w", err)
	}

	for i, u := range f.Users {
		if normalize(u.Email) == "" {
			return nil, fmt.Errorf("entry %d: %w", i, ErrMissingEmail)
		}
	}

	return NewStatic(f.Users...), nil
}

// LookupByEmail returns the user registered under email.
func (s *Static) LookupByEmail(email string) (User, bool) {
	if s == nil {
		return User{}, false
	}
	u, ok := s.users[normalize(email)]
	return u, ok
}

// Len returns the number of users in the directory.
func (s *Static) Len() int {
	if s == nil {
		return 0
	}
	return len(s.users)
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
