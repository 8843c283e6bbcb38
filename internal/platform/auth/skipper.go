package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists infrastructure endpoints that answer without
// credentials: load balancers probe /health with no token attached.
var publicPaths = map[string]bool{
	"/health": true,
}

// Skipper reports whether the request's path should bypass authentication.
func Skipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the given path bypasses authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
