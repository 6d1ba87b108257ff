package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-tracker/domain"
	"prism-tracker/hierarchy"
	"prism-tracker/storage"
)

// resource serves the CRUD routes of one entity kind.
type resource[T any, PT domain.Entity[T]] struct {
	s    *Server
	kind domain.Kind
	coll *storage.Collection[T, PT]
	// strict rejects create bodies with undeclared fields.
	strict bool
	// filters whitelists list query parameters; nil accepts any field.
	filters []string
	// derived marks kinds whose progress only the aggregator may write.
	derived bool

	createdEvent domain.EventType
	updatedEvent domain.EventType
	deletedEvent domain.EventType
	// deletedWithBody sends the removed entity instead of a Deletion.
	deletedWithBody bool

	// prepare validates, and may complete, an entity before it is created.
	prepare func(ctx context.Context, v PT) error
	// checkPatch validates a partial update before it is applied.
	checkPatch func(ctx context.Context, id string, patch map[string]any) error
	// owner returns the id of the aggregate v counts toward, "" for none.
	owner func(v PT) string
	// recompute recomputes an owner's aggregates and cascades upward.
	recompute func(ctx context.Context, ownerID string) hierarchy.Result
	// moved runs after v changed owner and before the owners are recomputed.
	moved func(ctx context.Context, v PT)
	// changed runs after every successful write.
	changed func(ctx context.Context)
	// remove replaces the default DELETE handler.
	remove echo.HandlerFunc
}

func newResource[T any, PT domain.Entity[T]](s *Server, coll *storage.Collection[T, PT]) *resource[T, PT] {
	kind := coll.Kind()
	return &resource[T, PT]{
		s:            s,
		kind:         kind,
		coll:         coll,
		createdEvent: domain.EventTypeFor(kind, domain.OpCreated),
		updatedEvent: domain.EventTypeFor(kind, domain.OpUpdated),
		deletedEvent: domain.EventTypeFor(kind, domain.OpDeleted),
	}
}

func (r *resource[T, PT]) register(g *echo.Group) {
	base := "/" + r.kind.Path()
	g.POST(base, r.create)
	g.GET(base, r.list)
	g.GET(base+"/:id", r.get)
	g.PUT(base+"/:id", r.update)
	if r.remove != nil {
		g.DELETE(base+"/:id", r.remove)
	} else {
		g.DELETE(base+"/:id", r.delete)
	}
}

func (r *resource[T, PT]) touched(ctx context.Context) {
	if r.changed != nil {
		r.changed(ctx)
	}
}

func (r *resource[T, PT]) create(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := r.s.user(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	v := PT(new(T))
	if err := decodeBody(c, v, r.strict); err != nil {
		return r.s.fail(c, err)
	}

	key := c.Request().Header.Get(HeaderIdempotencyKey)
	if key != "" && r.s.Deduper != nil {
		added, err := r.s.Deduper.Add(ctx, userID, key)
		if err != nil {
			return r.s.fail(c, fmt.Errorf("idempotency check: %w", err))
		}
		if !added {
			return c.String(http.StatusConflict, "duplicate request")
		}
	}
	forget := func() {
		if key == "" || r.s.Deduper == nil {
			return
		}
		if err := r.s.Deduper.Remove(ctx, userID, key); err != nil {
			log.WithError(err).WithField("key", key).Warn("failed to release idempotency key")
		}
	}

	if d, ok := any(v).(interface{ ApplyDefaults() }); ok {
		d.ApplyDefaults()
	}
	if r.prepare != nil {
		if err := r.prepare(ctx, v); err != nil {
			forget()
			return r.s.fail(c, err)
		}
	}
	created, err := r.coll.Create(ctx, v)
	if err != nil {
		forget()
		return r.s.fail(c, err)
	}
	r.touched(ctx)
	r.s.broadcast(ctx, r.createdEvent, created)
	return c.JSON(http.StatusCreated, created)
}

func (r *resource[T, PT]) list(c echo.Context) error {
	if _, err := r.s.user(c); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	filter := storage.Filter{}
	for name, values := range c.QueryParams() {
		if r.filters != nil && !slices.Contains(r.filters, name) {
			return c.String(http.StatusBadRequest, "unknown filter "+name)
		}
		filter[name] = values[0]
	}
	items, err := r.coll.List(c.Request().Context(), filter)
	if err != nil {
		return r.s.fail(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

func (r *resource[T, PT]) get(c echo.Context) error {
	if _, err := r.s.user(c); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	v, err := r.coll.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return r.s.fail(c, err)
	}
	if v == nil {
		return c.String(http.StatusNotFound, "not found")
	}
	if etag := v.Base().ETag; etag != "" {
		c.Response().Header().Set(headerETag, etag)
	}
	return c.JSON(http.StatusOK, v)
}

func (r *resource[T, PT]) update(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := r.s.user(c); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	id := c.Param("id")
	var patch map[string]any
	if err := decodeBody(c, &patch, false); err != nil || patch == nil {
		return c.String(http.StatusBadRequest, errInvalidBody.Error())
	}
	if err := checkStatus(r.kind, patch); err != nil {
		return r.s.fail(c, err)
	}
	if r.derived {
		delete(patch, "progress")
	}
	if r.checkPatch != nil {
		if err := r.checkPatch(ctx, id, patch); err != nil {
			return r.s.fail(c, err)
		}
	}

	var before PT
	if r.owner != nil {
		var err error
		if before, err = r.coll.Get(ctx, id); err != nil {
			return r.s.fail(c, err)
		}
		if before == nil {
			return c.String(http.StatusNotFound, "not found")
		}
	}
	v, err := r.coll.Update(ctx, id, patch)
	if err != nil {
		return r.s.fail(c, err)
	}
	if v == nil {
		return c.String(http.StatusNotFound, "not found")
	}
	r.touched(ctx)
	r.s.broadcast(ctx, r.updatedEvent, v)
	if r.owner != nil {
		_, statusChanged := patch["status"]
		r.reassign(c, before, v, statusChanged)
	}
	return c.JSON(http.StatusOK, v)
}

// reassign recomputes the owners an update affected: the current owner on a
// status change, and both the old and the new owner when v moved.
func (r *resource[T, PT]) reassign(c echo.Context, before, after PT, statusChanged bool) {
	ctx := c.Request().Context()
	oldOwner, newOwner := r.owner(before), r.owner(after)
	moved := oldOwner != newOwner
	if moved && r.moved != nil {
		r.moved(ctx, after)
	}
	var res hierarchy.Result
	ran := false
	if moved && oldOwner != "" {
		res.Merge(r.recompute(ctx, oldOwner))
		ran = true
	}
	if newOwner != "" && (moved || statusChanged) {
		res.Merge(r.recompute(ctx, newOwner))
		ran = true
	}
	if ran {
		r.s.cascaded(c, res)
	}
}

func (r *resource[T, PT]) delete(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := r.s.user(c); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	id := c.Param("id")
	v, err := r.coll.Get(ctx, id)
	if err != nil {
		return r.s.fail(c, err)
	}
	if v == nil {
		return c.String(http.StatusNotFound, "not found")
	}
	removed, err := r.coll.Delete(ctx, id)
	if err != nil {
		return r.s.fail(c, err)
	}
	if !removed {
		return c.String(http.StatusNotFound, "not found")
	}
	r.touched(ctx)
	if r.deletedWithBody {
		r.s.broadcast(ctx, r.deletedEvent, v)
	} else {
		r.s.broadcast(ctx, r.deletedEvent, domain.Deletion{ID: id})
	}
	return c.NoContent(http.StatusNoContent)
}

// checkStatus rejects a patch whose status is not allowed for kind.
func checkStatus(kind domain.Kind, patch map[string]any) error {
	raw, ok := patch["status"]
	if !ok {
		return nil
	}
	status, _ := raw.(string)
	return validStatus(kind, status)
}
