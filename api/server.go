// Package api exposes the tracker over HTTP. Every mutation is written,
// broadcast, and then cascaded up the Task->Story->Epic->Project chain before
// the response is sent.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-tracker/domain"
	"prism-tracker/hierarchy"
	"prism-tracker/storage"
	"prism-tracker/stream"
	"prism-tracker/subtree"
)

const (
	maxBodySize = 64 << 10
	// HeaderCascadeComplete reports whether the aggregate cascade triggered by
	// a mutation ran to its end.
	HeaderCascadeComplete = "X-Cascade-Complete"
	headerETag            = "ETag"
)

var errInvalidBody = errors.New("invalid body")

// Server holds the collaborators of every route.
type Server struct {
	Store      *storage.Store
	Aggregator *hierarchy.Aggregator
	Subtree    *subtree.Processor
	// Events receives every mutation event. Nil disables broadcasting.
	Events stream.Publisher
	// Trees caches rendered task hierarchies. Nil disables caching.
	Trees *storage.TreeCache
	// Deduper enforces Idempotency-Key on creates. Nil disables the check.
	Deduper Deduper
	Auth    Authenticator
	// Hub serves /api/stream when set.
	Hub       *stream.Hub
	Heartbeat time.Duration
}

// Register wires up all API routes on the provided Echo instance.
func (s *Server) Register(e *echo.Echo) {
	if s.Auth == nil {
		s.Auth = NoAuth{}
	}
	g := e.Group("/api")

	s.projects().register(g)
	s.epics().register(g)
	s.stories().register(g)
	s.tasks().register(g)
	g.GET("/tasks/:id/hierarchy", s.taskHierarchy)

	for _, kind := range domain.DocumentKinds() {
		s.records(kind).register(g)
	}
	g.PUT("/backlog-items/:id/move", s.moveBacklogItem)
	g.PUT("/backlog-items/:id/rank", s.rankBacklogItem)

	if s.Hub != nil {
		g.GET("/stream", stream.Handler(s.Hub, s.Auth, s.Heartbeat))
	}
	e.GET("/healthz", s.healthz)
}

func (s *Server) healthz(c echo.Context) error {
	body := map[string]any{"status": "ok"}
	if s.Hub != nil {
		body["subscribers"] = s.Hub.Len()
		body["evictedConnections"] = s.Hub.Evicted()
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) user(c echo.Context) (string, error) {
	return s.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
}

func (s *Server) broadcast(ctx context.Context, typ domain.EventType, payload any) {
	if s.Events == nil {
		return
	}
	s.Events.Broadcast(ctx, domain.Event{Type: typ, Payload: payload})
}

// cascaded reports the outcome of an aggregate cascade on the response and in
// the log. The client's mutation has already succeeded either way.
func (s *Server) cascaded(c echo.Context, res hierarchy.Result) {
	c.Response().Header().Set(HeaderCascadeComplete, strconv.FormatBool(res.Complete()))
	if !res.Complete() {
		log.WithError(res.Err).WithField("levels", len(res.Levels)).Warn("aggregate cascade incomplete")
	}
}

// fail maps store and domain errors to HTTP responses.
func (s *Server) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, errInvalidBody):
		return c.String(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalid), errors.Is(err, domain.ErrCycle), errors.Is(err, domain.ErrTooDeep):
		return c.String(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return c.String(http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrConcurrencyConflict):
		return c.String(http.StatusConflict, err.Error())
	}
	log.WithError(err).WithFields(log.Fields{
		"method": c.Request().Method,
		"path":   c.Path(),
	}).Error("request failed")
	return c.String(http.StatusInternalServerError, "internal error")
}

// decodeBody reads a JSON body of at most maxBodySize bytes into v. Strict
// decoding rejects fields v does not declare.
func decodeBody(c echo.Context, v any, strict bool) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		return errInvalidBody
	}
	return nil
}
