package users

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// RoleType is the platform role carried by an identity
type RoleType string

const (
	RoleStudent    RoleType = "student"
	RoleMentor     RoleType = "mentor"
	RoleInstructor RoleType = "instructor"
	RoleAdmin      RoleType = "admin"
	RoleSuperAdmin RoleType = "superadmin"
	RoleUser       RoleType = "user"

	// RoleUnspecified is held by identities whose backend role is missing or unknown
	RoleUnspecified RoleType = ""
)

// ParseRole maps a backend role string onto a known role. Unknown values
// become RoleUnspecified.
func ParseRole(s string) RoleType {
	switch r := RoleType(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleStudent, RoleMentor, RoleInstructor, RoleAdmin, RoleSuperAdmin, RoleUser:
		return r
	case "super_admin":
		return RoleSuperAdmin
	}
	return RoleUnspecified
}

// Satisfies reports whether a holder of r passes a gate that requires
// required. superadmin passes every gate, admin passes every gate except a
// superadmin-only one, and other roles pass only on an exact match.
func (r RoleType) Satisfies(required RoleType) bool {
	switch r {
	case RoleSuperAdmin:
		return true
	case RoleAdmin:
		return required != RoleSuperAdmin
	case RoleUnspecified:
		return false
	}
	return r == required
}

// IsAdmin is true for admin and superadmin.
func (r RoleType) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Identity is the user profile resolved from a valid credential
type Identity struct {
	ID          string   `json:"id"`                    // Backend user identifier
	Email       string   `json:"email"`                 // User's email address
	DisplayName string   `json:"displayName,omitempty"` // Name shown in the UI
	Role        RoleType `json:"role"`                  // Platform role
}

// Same reports whether two identities refer to the same user. Two nil
// identities are the same.
func (i *Identity) Same(other *Identity) bool {
	if i == nil || other == nil {
		return i == nil && other == nil
	}
	return i.ID == other.ID
}

// Clone returns a copy that callers may keep without sharing state.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
