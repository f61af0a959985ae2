package users_test

import (
	"testing"

	"github.com/jrsteele09/elearn-session/users"
	"github.com/stretchr/testify/require"
)

func TestRoleType_Satisfies(t *testing.T) {
	tests := []struct {
		held     users.RoleType
		required users.RoleType
		want     bool
	}{
		{users.RoleSuperAdmin, users.RoleAdmin, true},
		{users.RoleSuperAdmin, users.RoleMentor, true},
		{users.RoleSuperAdmin, users.RoleStudent, true},
		{users.RoleSuperAdmin, users.RoleSuperAdmin, true},
		{users.RoleAdmin, users.RoleInstructor, true},
		{users.RoleAdmin, users.RoleAdmin, true},
		{users.RoleAdmin, users.RoleSuperAdmin, false},
		{users.RoleStudent, users.RoleAdmin, false},
		{users.RoleStudent, users.RoleStudent, true},
		{users.RoleMentor, users.RoleInstructor, false},
		{users.RoleUser, users.RoleStudent, false},
		{users.RoleUnspecified, users.RoleUnspecified, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.held)+"->"+string(tt.required), func(t *testing.T) {
			require.Equal(t, tt.want, tt.held.Satisfies(tt.required))
		})
	}
}

func TestParseRole(t *testing.T) {
	require.Equal(t, users.RoleMentor, users.ParseRole("Mentor"))
	require.Equal(t, users.RoleSuperAdmin, users.ParseRole("super_admin"))
	require.Equal(t, users.RoleUnspecified, users.ParseRole("janitor"))
	require.Equal(t, users.RoleUnspecified, users.ParseRole(""))
}

func TestIdentity_Same(t *testing.T) {
	a := &users.Identity{ID: "a"}
	require.True(t, a.Same(&users.Identity{ID: "a", Email: "other"}))
	require.False(t, a.Same(&users.Identity{ID: "b"}))
	require.False(t, a.Same(nil))

	var none *users.Identity
	require.True(t, none.Same(nil))
	require.Nil(t, none.Clone())
}

func TestValidatePasswordStrength(t *testing.T) {
	require.NoError(t, users.ValidatePasswordStrength("Password123"))
	require.ErrorContains(t, users.ValidatePasswordStrength("short"), "at least 8")
	require.ErrorContains(t, users.ValidatePasswordStrength("password123"), "uppercase")
	require.ErrorContains(t, users.ValidatePasswordStrength("PASSWORD123"), "lowercase")
	require.ErrorContains(t, users.ValidatePasswordStrength("Passwordxx"), "number")
}

func TestPasswordHash(t *testing.T) {
	hash, err := users.HashPassword("Secret123")
	require.NoError(t, err)
	require.True(t, users.CheckPasswordHash("Secret123", hash))
	require.False(t, users.CheckPasswordHash("secret123", hash))
}
