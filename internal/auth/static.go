package auth

import (
	"context"
	"fmt"
)

// StaticUserStore serves users from an in-memory map. Used when accounts
// are declared directly in the config file, and by tests.
// Read-only after construction, so safe for concurrent use.
type StaticUserStore struct {
	users map[string]*User
}

// NewStaticUserStore builds a store from the given users.
// Duplicate usernames are a configuration error.
func NewStaticUserStore(users []*User) (*StaticUserStore, error) {
	m := make(map[string]*User, len(users))
	for _, u := range users {
		if _, exists := m[u.Username]; exists {
			return nil, fmt.Errorf("auth: duplicate user %q", u.Username)
		}
		m[u.Username] = u
	}
	return &StaticUserStore{users: m}, nil
}

// GetUserByName implements UserStore.
func (s *StaticUserStore) GetUserByName(_ context.Context, username string) (*User, error) {
	u, ok := s.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}
