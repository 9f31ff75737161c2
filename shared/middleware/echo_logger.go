package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// EchoZerologLogger возвращает middleware для Echo, которое логирует запросы через zerolog.
func EchoZerologLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			res := c.Response()

			err := next(c)

			var event *zerolog.Event
			switch {
			case err != nil || res.Status >= http.StatusInternalServerError:
				event = log.Error().Err(err)
			case res.Status >= http.StatusBadRequest:
				event = log.Warn()
			default:
				event = log.Info()
			}

			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = res.Header().Get(echo.HeaderXRequestID)
			}

			event.
				Str("method", req.Method).
				Str("uri", req.RequestURI).
				Str("remote_ip", c.RealIP()).
				Str("request_id", id).
				Int("status", res.Status).
				Dur("latency", time.Since(start)).
				Msg("Request handled")
			return err
		}
	}
}
