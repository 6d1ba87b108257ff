package stream

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// Authenticator resolves the caller of a stream request.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

var pingFrame = []byte(": ping\n\n")

// Handler serves server-sent events from hub. Browsers cannot set headers on
// EventSource, so the token may also come as ?token=. A nil auth accepts
// every caller.
func Handler(hub *Hub, auth Authenticator, heartbeat time.Duration) echo.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return func(c echo.Context) error {
		userID := ""
		if auth != nil {
			token := c.QueryParam("token")
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" && token != "" {
				authHeader = "Bearer " + token
			}
			var err error
			userID, err = auth.UserIDFromAuthHeader(authHeader)
			if err != nil {
				return c.String(http.StatusUnauthorized, err.Error())
			}
		}
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().WriteHeader(http.StatusOK)
		flusher.Flush()

		conn := hub.Subscribe()
		defer hub.Unsubscribe(conn)
		logger := log.WithFields(log.Fields{"conn": conn.ID, "user": userID})
		logger.Debug("stream connected")
		defer logger.Debug("stream disconnected")

		ctx := c.Request().Context()
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case frame, ok := <-conn.Frames():
				if !ok {
					logger.Info("stream closed by hub, client fell behind")
					return nil
				}
				if err := writeFrame(c.Response(), frame); err != nil {
					logger.WithError(err).Debug("stream write failed")
					return nil
				}
			case <-ticker.C:
				if _, err := c.Response().Write(pingFrame); err != nil {
					return nil
				}
			}
			flusher.Flush()
		}
	}
}

func writeFrame(w *echo.Response, frame []byte) error {
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}
