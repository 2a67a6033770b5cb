package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication.
var publicPaths = map[string]bool{
	"/health":        true,
	"/health/db":     true,
	"/auth/register": true,
	"/auth/login":    true,
}

// infraPaths additionally bypass tenant resolution.
var infraPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
}

// AuthSkipper returns true for requests whose path should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path()) || IsPublicPath(c.Request().URL.Path)
}

// TenantSkipper returns true for infrastructure endpoints that need no
// tenant connection.
func TenantSkipper(c echo.Context) bool {
	return infraPaths[c.Request().URL.Path]
}

// IsPublicPath reports whether path bypasses authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
