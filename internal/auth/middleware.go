package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/docqa/internal/logging"
)

// userIDKey is the echo context key holding the authenticated user ID.
const (
	userIDKey = "auth.user_id"
	tokenKey  = "auth.token"
)

// BearerMiddleware authenticates "Authorization: Bearer <token>" and stores
// the user ID in both the echo context and the request context, so loggers
// downstream pick it up. Failures are 401.
func BearerMiddleware(a Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing auth token")
			}

			req := c.Request()
			userID, err := a.Authenticate(req.Context(), token)
			if err != nil {
				if errors.Is(err, ErrInvalidToken) {
					return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
				}
				return err
			}

			c.Set(userIDKey, userID)
			c.Set(tokenKey, token)
			c.SetRequest(req.WithContext(logging.WithUserID(req.Context(), userID)))
			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// UserID returns the authenticated user ID set by BearerMiddleware.
func UserID(c echo.Context) (int64, bool) {
	id, ok := c.Get(userIDKey).(int64)
	return id, ok
}

// Token returns the bearer token accepted by BearerMiddleware.
func Token(c echo.Context) string {
	token, _ := c.Get(tokenKey).(string)
	return token
}
