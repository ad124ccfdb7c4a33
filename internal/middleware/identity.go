package middleware

import "github.com/labstack/echo/v4"

// Context keys written by JWTAuth.
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// RequesterRef returns the authenticated subject, or "" for anonymous
// requests.
func RequesterRef(c echo.Context) string {
	if s, ok := c.Get(ContextUserID).(string); ok {
		return s
	}
	return ""
}

// IsAdmin reports whether the authenticated caller has the ADMIN role.
func IsAdmin(c echo.Context) bool {
	role, _ := c.Get(ContextRole).(string)
	return role == RoleAdmin
}
