package middleware

import (
	"errors"
	"net/http"
	"strings"

	"storybook-server/shared/interfaces"
	"storybook-server/shared/models"

	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// bearerToken извлекает токен из заголовка "Authorization: Bearer <token>".
func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func tokenSnippet(token string) string {
	if len(token) > 10 {
		return token[:10] + "..."
	}
	return token
}

// authFailureMessage возвращает сообщение для клиента и признак того, что ошибка не связана с самим токеном.
func authFailureMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, models.ErrTokenExpired):
		return "token expired", false
	case errors.Is(err, models.ErrTokenMalformed), errors.Is(err, models.ErrTokenInvalid), errors.Is(err, models.ErrUnauthorized):
		return "invalid token", false
	default:
		return "token verification failed", true
	}
}

// GinAuthMiddleware проверяет bearer-токен и кладет models.Identity в контекст запроса.
// При ошибке запрос прерывается ответом {code: "unauthenticated"}.
func GinAuthMiddleware(verifier interfaces.TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.With(zap.String("path", c.Request.URL.Path))

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			log.Warn("Authorization header missing or malformed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Code:    models.KindUnauthenticated,
				Message: "authentication required",
			})
			return
		}

		identity, err := verifier.VerifyToken(c.Request.Context(), token)
		if err != nil {
			msg, unexpected := authFailureMessage(err)
			if unexpected {
				log.Error("Unexpected token verification error", zap.Error(err))
			} else {
				log.Warn("Token verification failed", zap.Error(err), zap.String("tokenSnippet", tokenSnippet(token)))
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Code:    models.KindUnauthenticated,
				Message: msg,
			})
			return
		}

		c.Request = c.Request.WithContext(models.WithIdentity(c.Request.Context(), identity))
		c.Set("user_id", identity.UID)
		c.Next()
	}
}

// EchoAuthMiddleware - то же для Echo. Браузер не может выставить заголовок при открытии
// WebSocket, поэтому токен также принимается из query-параметра token.
func EchoAuthMiddleware(verifier interfaces.TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				token = c.QueryParam("token")
			}
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}

			identity, err := verifier.VerifyToken(c.Request().Context(), token)
			if err != nil {
				msg, _ := authFailureMessage(err)
				return echo.NewHTTPError(http.StatusUnauthorized, msg)
			}

			c.Set("user_id", identity.UID)
			c.SetRequest(c.Request().WithContext(models.WithIdentity(c.Request().Context(), identity)))
			return next(c)
		}
	}
}
