package authpolicy

import (
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Credential Store
// =============================================================================

var (
	// ErrUserExists is returned when adding a username that is taken.
	ErrUserExists = errors.New("user already exists")

	// ErrInvalidUser is returned for an incomplete user entry.
	ErrInvalidUser = errors.New("invalid user entry")
)

// AdminGroup is the group given to the initial administrator.
const AdminGroup = "admins"

// User is one credential store entry.
type User struct {
	Disabled    bool     `yaml:"disabled"`
	DisplayName string   `yaml:"displayname"`
	Password    string   `yaml:"password"`
	Email       string   `yaml:"email"`
	Groups      []string `yaml:"groups"`
}

// UsersDatabase is the credential store document, keyed by username.
type UsersDatabase struct {
	Users map[string]User `yaml:"users"`
}

// NewUsersDatabase returns a store holding only the administrator.
func NewUsersDatabase(username, email, passwordHash string) UsersDatabase {
	return UsersDatabase{
		Users: map[string]User{
			username: {
				DisplayName: username,
				Password:    passwordHash,
				Email:       email,
				Groups:      []string{AdminGroup},
			},
		},
	}
}

// WithUser returns a copy of db with user added under username.
func (db UsersDatabase) WithUser(username string, user User) (UsersDatabase, error) {
	if username == "" || user.Password == "" || user.Email == "" {
		return UsersDatabase{}, fmt.Errorf("%w: username, password hash and email are required", ErrInvalidUser)
	}
	if _, ok := db.Users[username]; ok {
		return UsersDatabase{}, fmt.Errorf("%w: %s", ErrUserExists, username)
	}

	out := UsersDatabase{Users: make(map[string]User, len(db.Users)+1)}
	for k, v := range db.Users {
		out.Users[k] = v
	}
	if user.DisplayName == "" {
		user.DisplayName = username
	}
	out.Users[username] = user
	return out, nil
}

// Usernames returns the usernames in sorted order.
func (db UsersDatabase) Usernames() []string {
	names := make([]string, 0, len(db.Users))
	for name := range db.Users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RenderUsers encodes the credential store as YAML.
func RenderUsers(db UsersDatabase) ([]byte, error) {
	return encode(db)
}

// ParseUsers decodes a credential store.
func ParseUsers(data []byte) (UsersDatabase, error) {
	var db UsersDatabase
	if err := yaml.Unmarshal(data, &db); err != nil {
		return UsersDatabase{}, fmt.Errorf("parse users database: %w", err)
	}
	if db.Users == nil {
		db.Users = map[string]User{}
	}
	return db, nil
}
