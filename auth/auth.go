// Package auth checks static USER/PASS credentials.
package auth

import (
	"sync"

	"golang.org/x/crypto/bcrypt"

	"framedftp/ftperr"
)

// AuthService handles authentication operations
type AuthService struct {
	userManager *UserManager

	dummyOnce sync.Once
	dummyHash []byte
}

// NewAuthService creates a new authentication service
func NewAuthService(userManager *UserManager) *AuthService {
	return &AuthService{
		userManager: userManager,
	}
}

// Users returns the underlying user manager.
func (auth *AuthService) Users() *UserManager {
	return auth.userManager
}

// AuthenticateUser checks username and password. Unknown users cost the same
// bcrypt comparison as known ones, and both failures look identical.
func (auth *AuthService) AuthenticateUser(username, password string) (*UserProfile, error) {
	userProfile, exists := auth.userManager.GetUser(username)
	if !exists {
		bcrypt.CompareHashAndPassword(auth.dummy(), []byte(password))
		return nil, ftperr.New(ftperr.KindAuthentication, "login", "login incorrect")
	}

	if !ValidatePassword(password, userProfile.PasswordHash) {
		return nil, ftperr.New(ftperr.KindAuthentication, "login", "login incorrect")
	}
	return userProfile, nil
}

func (auth *AuthService) dummy() []byte {
	auth.dummyOnce.Do(func() {
		auth.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("unknown-user"), auth.userManager.Cost)
	})
	return auth.dummyHash
}

// HashPassword creates a bcrypt hash of a password
func HashPassword(password string) (string, error) {
	return hashPasswordCost(password, bcrypt.DefaultCost)
}

func hashPasswordCost(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ValidatePassword verifies a password against its hash
func ValidatePassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
