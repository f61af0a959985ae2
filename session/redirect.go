package session

import (
	"net/url"

	"github.com/jrsteele09/elearn-session/users"
)

// Role areas of the UI
const (
	RouteAdminArea      = "/admin"
	RouteInstructorArea = "/instructor"
	RouteMentorArea     = "/mentor"
	RouteStudentArea    = "/student"
	RouteDashboard      = "/dashboard"
	RouteLogin          = "/login"

	// NoticeSessionExpired is appended to the login redirect after expiry.
	NoticeSessionExpired = "session_expired"
)

// RedirectFor picks the post-login destination. An explicit target always
// wins; otherwise the role decides, with dashboard for an unspecified role.
func RedirectFor(role users.RoleType, explicit, dashboard string) string {
	if explicit != "" {
		return explicit
	}
	switch role {
	case users.RoleAdmin, users.RoleSuperAdmin:
		return RouteAdminArea
	case users.RoleInstructor:
		return RouteInstructorArea
	case users.RoleMentor:
		return RouteMentorArea
	case users.RoleStudent, users.RoleUser:
		return RouteStudentArea
	}
	if dashboard == "" {
		return RouteDashboard
	}
	return dashboard
}

// LoginRedirect builds the login URL that preserves the path the user was
// on when the session expired.
func LoginRedirect(loginRoute, originalPath string) string {
	if loginRoute == "" {
		loginRoute = RouteLogin
	}
	q := url.Values{}
	if originalPath != "" {
		q.Set("next", originalPath)
	}
	q.Set("notice", NoticeSessionExpired)
	return loginRoute + "?" + q.Encode()
}
