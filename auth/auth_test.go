package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"framedftp/ftperr"
)

func newTestManager(t *testing.T) *UserManager {
	t.Helper()
	um := NewUserManager()
	um.Cost = bcrypt.MinCost
	_, err := um.AddUser("alice", "secret", "")
	require.NoError(t, err)
	_, err = um.AddUser("bob", "hunter2", "/home/bob")
	require.NoError(t, err)
	return um
}

func TestAuthenticateUser(t *testing.T) {
	svc := NewAuthService(newTestManager(t))

	tests := []struct {
		name     string
		user     string
		password string
		wantErr  bool
		wantHome string
	}{
		{"valid alice", "alice", "secret", false, ""},
		{"valid bob with home", "bob", "hunter2", false, "/home/bob"},
		{"wrong password", "alice", "Secret", true, ""},
		{"empty password", "alice", "", true, ""},
		{"unknown user", "mallory", "secret", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile, err := svc.AuthenticateUser(tt.user, tt.password)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, ftperr.Is(err, ftperr.KindAuthentication))
				assert.Nil(t, profile)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.user, profile.Username)
			assert.Equal(t, tt.wantHome, profile.HomeDir)
		})
	}
}

func TestUnknownUserAndBadPasswordLookAlike(t *testing.T) {
	svc := NewAuthService(newTestManager(t))

	_, errUnknown := svc.AuthenticateUser("nobody", "x")
	_, errBad := svc.AuthenticateUser("alice", "x")
	assert.Equal(t, errUnknown.Error(), errBad.Error())
}

func TestAddUserValidation(t *testing.T) {
	um := NewUserManager()
	um.Cost = bcrypt.MinCost

	_, err := um.AddUser("a", "pw", "")
	assert.Error(t, err, "too short")
	_, err = um.AddUser("bad name", "pw", "")
	assert.Error(t, err)
	_, err = um.AddUser("carol", "", "")
	assert.Error(t, err, "empty password")
	_, err = um.AddUser("carol", "pw", "../outside")
	assert.Error(t, err, "home may not climb out of the root")

	_, err = um.AddUser("carol", "pw", "")
	require.NoError(t, err)
	_, err = um.AddUser("carol", "pw2", "")
	assert.Error(t, err, "duplicate")
	assert.Equal(t, 1, um.Len())
}

func TestAddProfileRequiresHash(t *testing.T) {
	um := NewUserManager()

	_, err := um.AddProfile(UserProfile{Username: "dave", PasswordHash: "plaintext"})
	assert.Error(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = um.AddProfile(UserProfile{Username: "dave", PasswordHash: string(hash)})
	require.NoError(t, err)

	svc := NewAuthService(um)
	_, err = svc.AuthenticateUser("dave", "pw")
	assert.NoError(t, err)
}

func TestListUsersSorted(t *testing.T) {
	users := newTestManager(t).ListUsers()
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "bob", users[1].Username)
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("pw1")
	require.NoError(t, err)
	assert.True(t, ValidatePassword("pw1", hash))
	assert.False(t, ValidatePassword("pw2", hash))
}
