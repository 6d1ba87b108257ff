// Package subtree walks the self-referential task/subtask tree: it builds the
// nested view, derives progress and effective status, and deletes whole
// branches. Every walk carries a visited set and a depth limit so a corrupt
// parent chain cannot loop forever.
package subtree

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"prism-tracker/domain"
	"prism-tracker/storage"
)

const (
	// DefaultMaxDepth bounds how many subtask levels are followed below a root.
	DefaultMaxDepth = 64
	parentField     = "parentTaskId"
)

// errSubtasksRemain marks a task kept because one of its subtasks could not
// be deleted.
var errSubtasksRemain = errors.New("subtasks not deleted")

// Tasks is the task store the processor reads and deletes through.
type Tasks interface {
	Get(ctx context.Context, id string) (*domain.Task, error)
	List(ctx context.Context, filter storage.Filter) ([]*domain.Task, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Node is one task of a subtree with its subtasks.
type Node struct {
	Task *domain.Task `json:"task"`
	// Level is the distance from the root, which is level 0.
	Level int `json:"level"`
	// Path lists the ancestor ids, root first.
	Path     []string `json:"path"`
	Subtasks []*Node  `json:"subtasks"`

	// Progress and EffectiveStatus are filled by Annotate.
	Progress        int               `json:"progress"`
	EffectiveStatus domain.TaskStatus `json:"effectiveStatus"`
}

// Processor reads and deletes task subtrees.
type Processor struct {
	tasks    Tasks
	maxDepth int
}

func New(tasks Tasks, maxDepth int) *Processor {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Processor{tasks: tasks, maxDepth: maxDepth}
}

// Tree loads the task and all of its descendants. It returns (nil, nil) when
// the task does not exist, and ErrCycle or ErrTooDeep when the parent links
// do not form a bounded tree.
func (p *Processor) Tree(ctx context.Context, taskID string) (*Node, error) {
	root, err := p.tasks.Get(ctx, taskID)
	if err != nil || root == nil {
		return nil, err
	}
	return p.build(ctx, root, 0, []string{}, make(map[string]struct{}))
}

func (p *Processor) build(ctx context.Context, task *domain.Task, level int, path []string, visited map[string]struct{}) (*Node, error) {
	if _, seen := visited[task.ID]; seen {
		return nil, fmt.Errorf("%w: task %s reached twice", domain.ErrCycle, task.ID)
	}
	if level > p.maxDepth {
		return nil, fmt.Errorf("%w: task %s at level %d", domain.ErrTooDeep, task.ID, level)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	visited[task.ID] = struct{}{}

	node := &Node{Task: task, Level: level, Path: path, Subtasks: []*Node{}}
	kids, err := p.tasks.List(ctx, storage.Filter{parentField: task.ID})
	if err != nil {
		return nil, fmt.Errorf("list subtasks of %s: %w", task.ID, err)
	}
	childPath := append(append(make([]string, 0, len(path)+1), path...), task.ID)
	for _, kid := range kids {
		child, err := p.build(ctx, kid, level+1, childPath, visited)
		if err != nil {
			return nil, err
		}
		node.Subtasks = append(node.Subtasks, child)
	}
	return node, nil
}

// FailedDelete is a task DeleteRecursive could not remove.
type FailedDelete struct {
	ID    string `json:"id"`
	Error string `json:"error"`
	Err   error  `json:"-"`
}

// DeleteResult reports what a recursive delete removed.
type DeleteResult struct {
	// Root is the task as read before deletion; nil when it did not exist.
	Root        *domain.Task `json:"-"`
	RootDeleted bool         `json:"rootDeleted"`

	// Deleted lists removed ids, descendants before their parents.
	Deleted []string       `json:"deleted"`
	Failed  []FailedDelete `json:"failed,omitempty"`
}

// OK reports whether the root and every descendant were removed.
func (r DeleteResult) OK() bool { return r.RootDeleted && len(r.Failed) == 0 }

func (r *DeleteResult) fail(id string, err error) {
	r.Failed = append(r.Failed, FailedDelete{ID: id, Error: err.Error(), Err: err})
	log.WithError(err).WithField("task", id).Warn("subtask delete failed")
}

// DeleteRecursive removes the task and all of its descendants depth-first.
// A task whose subtasks could not all be removed is left in place.
func (p *Processor) DeleteRecursive(ctx context.Context, taskID string) DeleteResult {
	res := DeleteResult{Deleted: []string{}}
	root, err := p.tasks.Get(ctx, taskID)
	if err != nil {
		res.fail(taskID, err)
		return res
	}
	if root == nil {
		return res
	}
	res.Root = root
	res.RootDeleted = p.remove(ctx, taskID, 0, make(map[string]struct{}), &res)
	return res
}

func (p *Processor) remove(ctx context.Context, id string, level int, visited map[string]struct{}, res *DeleteResult) bool {
	if _, seen := visited[id]; seen {
		res.fail(id, fmt.Errorf("%w: task %s reached twice", domain.ErrCycle, id))
		return false
	}
	if level > p.maxDepth {
		res.fail(id, fmt.Errorf("%w: task %s at level %d", domain.ErrTooDeep, id, level))
		return false
	}
	if err := ctx.Err(); err != nil {
		res.fail(id, err)
		return false
	}
	visited[id] = struct{}{}

	kids, err := p.tasks.List(ctx, storage.Filter{parentField: id})
	if err != nil {
		res.fail(id, fmt.Errorf("list subtasks: %w", err))
		return false
	}
	ok := true
	for _, kid := range kids {
		if !p.remove(ctx, kid.ID, level+1, visited, res) {
			ok = false
		}
	}
	if !ok {
		res.fail(id, errSubtasksRemain)
		return false
	}
	removed, err := p.tasks.Delete(ctx, id)
	if err != nil {
		res.fail(id, err)
		return false
	}
	// a task deleted concurrently is gone either way
	if removed {
		res.Deleted = append(res.Deleted, id)
	}
	return true
}

// CheckParent reports whether parentID may become the parent of taskID: the
// parent must exist and taskID must not be among its ancestors. taskID may be
// empty for a task that is not stored yet.
func (p *Processor) CheckParent(ctx context.Context, taskID, parentID string) error {
	if parentID == "" {
		return nil
	}
	if parentID == taskID {
		return fmt.Errorf("%w: task %s cannot be its own parent", domain.ErrCycle, taskID)
	}
	visited := make(map[string]struct{})
	for id, depth := parentID, 0; id != ""; depth++ {
		if id == taskID {
			return fmt.Errorf("%w: task %s is an ancestor of %s", domain.ErrCycle, taskID, parentID)
		}
		if _, seen := visited[id]; seen {
			return fmt.Errorf("%w: ancestors of %s loop at %s", domain.ErrCycle, parentID, id)
		}
		if depth >= p.maxDepth {
			return fmt.Errorf("%w: ancestors of %s", domain.ErrTooDeep, parentID)
		}
		visited[id] = struct{}{}
		t, err := p.tasks.Get(ctx, id)
		if err != nil {
			return err
		}
		if t == nil {
			if id == parentID {
				return fmt.Errorf("parent task %s: %w", parentID, domain.ErrNotFound)
			}
			return nil
		}
		id = t.ParentTaskID
	}
	return nil
}
