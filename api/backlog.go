package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"prism-tracker/domain"
)

type moveRequest struct {
	// SprintID is the target sprint; empty moves the item back to the backlog.
	SprintID string `json:"sprintId"`
}

type rankRequest struct {
	Rank *float64 `json:"rank"`
}

func (s *Server) moveBacklogItem(c echo.Context) error {
	if _, err := s.user(c); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req moveRequest
	if err := decodeBody(c, &req, true); err != nil {
		return s.fail(c, err)
	}
	var sprint any
	if req.SprintID != "" {
		sprint = req.SprintID
	}
	return s.patchBacklogItem(c, map[string]any{"sprintId": sprint}, domain.BacklogItemMoved)
}

func (s *Server) rankBacklogItem(c echo.Context) error {
	if _, err := s.user(c); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req rankRequest
	if err := decodeBody(c, &req, true); err != nil {
		return s.fail(c, err)
	}
	if req.Rank == nil {
		return c.String(http.StatusBadRequest, "rank is required")
	}
	return s.patchBacklogItem(c, map[string]any{"rank": *req.Rank}, domain.BacklogItemRanked)
}

func (s *Server) patchBacklogItem(c echo.Context, patch map[string]any, ev domain.EventType) error {
	ctx := c.Request().Context()
	item, err := s.Store.Records(domain.KindBacklogItem).Update(ctx, c.Param("id"), patch)
	if err != nil {
		return s.fail(c, err)
	}
	if item == nil {
		return c.String(http.StatusNotFound, "not found")
	}
	s.broadcast(ctx, ev, item)
	return c.JSON(http.StatusOK, item)
}
