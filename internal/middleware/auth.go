package middleware

import (
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"

	"membership_checkout/internal/services"
)

const identityKey = "identity"

// RequireAuth verifies a Firebase ID token (Authorization: Bearer) or,
// failing that, the session cookie, and stores the caller's Identity.
func RequireAuth(verifier services.TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if verifier == nil {
				return c.JSON(http.StatusInternalServerError, errorBody("auth_not_configured", "authentication is not configured"))
			}

			ctx := c.Request().Context()
			var (
				token *auth.Token
				err   error
			)

			if header := c.Request().Header.Get("Authorization"); header != "" {
				raw := strings.TrimPrefix(header, "Bearer ")
				if raw == header || raw == "" {
					return c.JSON(http.StatusUnauthorized, errorBody("unauthenticated", "invalid authorization format"))
				}
				token, err = verifier.VerifyIDToken(ctx, raw)
			} else {
				cookie, cerr := c.Cookie("session")
				if cerr != nil || cookie.Value == "" {
					return c.JSON(http.StatusUnauthorized, errorBody("unauthenticated", "authentication required"))
				}
				token, err = verifier.VerifySessionCookie(ctx, cookie.Value)
				if err != nil {
					c.SetCookie(&http.Cookie{
						Name:     "session",
						Value:    "",
						MaxAge:   -1,
						HttpOnly: true,
						Path:     "/",
					})
				}
			}

			if err != nil || token == nil || token.UID == "" {
				return c.JSON(http.StatusUnauthorized, errorBody("unauthenticated", "invalid credentials"))
			}

			c.Set(identityKey, services.IdentityFromToken(token))
			return next(c)
		}
	}
}

// IdentityFrom returns the Identity stored by RequireAuth.
func IdentityFrom(c echo.Context) (services.Identity, bool) {
	id, ok := c.Get(identityKey).(services.Identity)
	return id, ok && id.UID != ""
}

// SetIdentity stores an Identity on the context. Used by tests and trusted internal routes.
func SetIdentity(c echo.Context, id services.Identity) {
	c.Set(identityKey, id)
}
