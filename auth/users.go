package auth

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// UserProfile is one static credential and the directory it is confined to.
type UserProfile struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	HomeDir      string `yaml:"home"`
}

// UserManager holds the configured credentials. It is filled at startup and
// only read afterwards.
type UserManager struct {
	// Cost is the bcrypt cost used by AddUser.
	Cost int

	users map[string]*UserProfile
	mutex sync.RWMutex
}

// NewUserManager creates an empty user manager
func NewUserManager() *UserManager {
	return &UserManager{
		Cost:  bcrypt.DefaultCost,
		users: make(map[string]*UserProfile),
	}
}

// AddUser hashes password and registers a new user.
func (um *UserManager) AddUser(username, password, homeDir string) (*UserProfile, error) {
	if !IsValidUsername(username) {
		return nil, fmt.Errorf("invalid username %q", username)
	}
	if password == "" {
		return nil, fmt.Errorf("empty password for user %q", username)
	}
	hash, err := hashPasswordCost(password, um.Cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return um.AddProfile(UserProfile{Username: username, PasswordHash: hash, HomeDir: homeDir})
}

// AddProfile registers a user whose password is already hashed.
func (um *UserManager) AddProfile(p UserProfile) (*UserProfile, error) {
	if !IsValidUsername(p.Username) {
		return nil, fmt.Errorf("invalid username %q", p.Username)
	}
	if _, err := bcrypt.Cost([]byte(p.PasswordHash)); err != nil {
		return nil, fmt.Errorf("user %q: invalid password hash: %w", p.Username, err)
	}
	if p.HomeDir != "" && !IsValidDirectory(p.HomeDir) {
		return nil, fmt.Errorf("user %q: invalid home directory %q", p.Username, p.HomeDir)
	}

	um.mutex.Lock()
	defer um.mutex.Unlock()

	if _, exists := um.users[p.Username]; exists {
		return nil, fmt.Errorf("user '%s' already exists", p.Username)
	}
	profile := p
	um.users[p.Username] = &profile
	return &profile, nil
}

// GetUser retrieves a user profile by username
func (um *UserManager) GetUser(username string) (*UserProfile, bool) {
	um.mutex.RLock()
	defer um.mutex.RUnlock()

	user, exists := um.users[username]
	return user, exists
}

// ListUsers returns all users sorted by name.
func (um *UserManager) ListUsers() []*UserProfile {
	um.mutex.RLock()
	defer um.mutex.RUnlock()

	userList := make([]*UserProfile, 0, len(um.users))
	for _, user := range um.users {
		userList = append(userList, user)
	}
	sort.Slice(userList, func(i, j int) bool { return userList[i].Username < userList[j].Username })
	return userList
}

// Len returns the number of configured users.
func (um *UserManager) Len() int {
	um.mutex.RLock()
	defer um.mutex.RUnlock()
	return len(um.users)
}
