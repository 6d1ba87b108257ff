package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-tracker/domain"
	"prism-tracker/subtree"
)

func (s *Server) tasks() *resource[domain.Task, *domain.Task] {
	r := newResource(s, s.Store.Tasks)
	r.strict = true
	r.filters = []string{"storyId", "parentTaskId", "assigneeId", "status"}
	r.prepare = s.prepareTask
	r.checkPatch = s.checkTaskPatch
	r.owner = func(t *domain.Task) string { return t.StoryID }
	r.recompute = s.Aggregator.RecomputeStory
	r.moved = s.moveSubtasks
	r.changed = func(ctx context.Context) { s.Trees.Evict(ctx) }
	r.remove = s.deleteTask
	return r
}

// prepareTask validates a new task. A subtask without a story joins its
// parent's story.
func (s *Server) prepareTask(ctx context.Context, t *domain.Task) error {
	if err := validStatus(domain.KindTask, string(t.Status)); err != nil {
		return err
	}
	if t.ParentTaskID == "" {
		return nil
	}
	if err := s.Subtree.CheckParent(ctx, t.ID, t.ParentTaskID); err != nil {
		return err
	}
	if t.StoryID == "" {
		parent, err := s.Store.Tasks.Get(ctx, t.ParentTaskID)
		if err != nil {
			return err
		}
		if parent != nil {
			t.StoryID = parent.StoryID
		}
	}
	return nil
}

// checkTaskPatch validates a parent change. A task moved under another
// parent joins that parent's story unless the patch names one.
func (s *Server) checkTaskPatch(ctx context.Context, id string, patch map[string]any) error {
	raw, ok := patch["parentTaskId"]
	if !ok {
		return nil
	}
	parentID, _ := raw.(string)
	if err := s.Subtree.CheckParent(ctx, id, parentID); err != nil {
		return err
	}
	if _, named := patch["storyId"]; named || parentID == "" {
		return nil
	}
	parent, err := s.Store.Tasks.Get(ctx, parentID)
	if err != nil {
		return err
	}
	if parent != nil {
		patch["storyId"] = parent.StoryID
	}
	return nil
}

// moveSubtasks carries the subtasks of t into t's story.
func (s *Server) moveSubtasks(ctx context.Context, t *domain.Task) {
	root, err := s.Subtree.Tree(ctx, t.ID)
	if err != nil || root == nil {
		if err != nil {
			log.WithError(err).WithField("task", t.ID).Warn("subtasks not moved with their parent")
		}
		return
	}
	changed := false
	var walk func(n *subtree.Node)
	walk = func(n *subtree.Node) {
		for _, child := range n.Subtasks {
			if child.Task.StoryID != t.StoryID {
				moved, err := s.Store.Tasks.Update(ctx, child.Task.ID, map[string]any{"storyId": t.StoryID})
				if err != nil {
					log.WithError(err).WithField("task", child.Task.ID).Warn("subtask not moved with its parent")
				} else if moved != nil {
					changed = true
					s.broadcast(ctx, domain.TaskUpdated, moved)
				}
			}
			walk(child)
		}
	}
	walk(root)
	if changed {
		s.Trees.Evict(ctx)
	}
}

// taskHierarchy renders the task with all of its subtasks, each annotated
// with derived progress and effective status.
func (s *Server) taskHierarchy(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := s.user(c); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	id := c.Param("id")
	data, key, ok := s.Trees.Load(ctx, id)
	if ok {
		return c.JSONBlob(http.StatusOK, data)
	}
	root, err := s.Subtree.Tree(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrCycle) || errors.Is(err, domain.ErrTooDeep) {
			return c.String(http.StatusUnprocessableEntity, err.Error())
		}
		return s.fail(c, err)
	}
	if root == nil {
		return c.String(http.StatusNotFound, "not found")
	}
	subtree.Annotate(root)
	data, err = sonic.Marshal(root)
	if err != nil {
		return s.fail(c, err)
	}
	s.Trees.Store(ctx, key, data)
	return c.JSONBlob(http.StatusOK, data)
}

// deleteTask removes the task and its whole subtree, then recomputes the
// story it belonged to. A partial delete answers 207 with the failures.
func (s *Server) deleteTask(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := s.user(c); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	res := s.Subtree.DeleteRecursive(ctx, c.Param("id"))
	if res.Root == nil {
		if len(res.Failed) > 0 {
			return s.fail(c, res.Failed[0].Err)
		}
		return c.String(http.StatusNotFound, "not found")
	}
	if len(res.Deleted) > 0 {
		s.Trees.Evict(ctx)
	}
	for _, id := range res.Deleted {
		s.broadcast(ctx, domain.TaskDeleted, domain.Deletion{ID: id, StoryID: res.Root.StoryID})
	}
	if res.Root.StoryID != "" && len(res.Deleted) > 0 {
		s.cascaded(c, s.Aggregator.RecomputeStory(ctx, res.Root.StoryID))
	}
	status := http.StatusOK
	if !res.OK() {
		status = http.StatusMultiStatus
	}
	return c.JSON(status, res)
}
