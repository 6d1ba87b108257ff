// Package hierarchy keeps the derived progress and status of stories, epics
// and projects in line with their children.
package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"prism-tracker/domain"
	"prism-tracker/storage"
)

const (
	spanName          = "hierarchy.recompute"
	defaultMaxAttempt = 5
)

// Publisher receives the *_UPDATED event of every level the aggregator writes.
type Publisher interface {
	Broadcast(ctx context.Context, ev domain.Event)
}

type aggregate interface {
	Base() *domain.Meta
	AggregateState() (string, int)
	SetAggregateState(status string, pct int)
}

type parents[S any, P interface {
	*S
	aggregate
}] interface {
	Get(ctx context.Context, id string) (P, error)
	Replace(ctx context.Context, v P) (P, error)
}

type children[C any] interface {
	List(ctx context.Context, filter storage.Filter) ([]C, error)
}

// rule describes one level of the chain: how to read the children of a
// parent and what their statuses mean for it.
type rule[C any, S any, P interface {
	*S
	aggregate
}] struct {
	kind        domain.Kind
	event       domain.EventType
	children    children[C]
	childField  string
	childStatus func(C) string
	// done is the child status that counts as complete.
	done string
	// active reports whether a child status drives the parent IN_PROGRESS.
	active   func(string) bool
	terminal string
	parents  parents[S, P]
}

// Aggregator recomputes Story, Epic and Project aggregates. Each level is
// written with a compare-and-swap on the version it was read at and retried
// from a fresh read when another writer got there first.
type Aggregator struct {
	pub      Publisher
	attempts int

	story   rule[*domain.Task, domain.Story, *domain.Story]
	epic    rule[*domain.Story, domain.Epic, *domain.Epic]
	project rule[*domain.Epic, domain.Project, *domain.Project]
}

// New creates an aggregator over store. A nil pub disables broadcasting;
// attempts <= 0 selects the default.
func New(store *storage.Store, pub Publisher, attempts int) *Aggregator {
	if attempts <= 0 {
		attempts = defaultMaxAttempt
	}
	return &Aggregator{
		pub:      pub,
		attempts: attempts,
		story: rule[*domain.Task, domain.Story, *domain.Story]{
			kind:        domain.KindStory,
			event:       domain.StoryUpdated,
			children:    store.Tasks,
			childField:  "storyId",
			childStatus: func(t *domain.Task) string { return string(t.Status) },
			done:        string(domain.TaskDone),
			active: func(s string) bool {
				return s == string(domain.TaskInProgress) || s == string(domain.TaskInReview)
			},
			terminal: string(domain.StoryDone),
			parents:  store.Stories,
		},
		epic: rule[*domain.Story, domain.Epic, *domain.Epic]{
			kind:        domain.KindEpic,
			event:       domain.EpicUpdated,
			children:    store.Stories,
			childField:  "epicId",
			childStatus: func(s *domain.Story) string { return string(s.Status) },
			done:        string(domain.StoryDone),
			active:      func(s string) bool { return s == string(domain.StoryInProgress) },
			terminal:    string(domain.EpicCompleted),
			parents:     store.Epics,
		},
		project: rule[*domain.Epic, domain.Project, *domain.Project]{
			kind:        domain.KindProject,
			event:       domain.ProjectUpdated,
			children:    store.Epics,
			childField:  "projectId",
			childStatus: func(e *domain.Epic) string { return string(e.Status) },
			done:        string(domain.EpicCompleted),
			active:      func(s string) bool { return s == string(domain.EpicInProgress) },
			terminal:    string(domain.ProjectCompleted),
			parents:     store.Projects,
		},
	}
}

// RecomputeStory recomputes the story and cascades to its epic and project.
func (a *Aggregator) RecomputeStory(ctx context.Context, storyID string) Result {
	var res Result
	lvl, story := recompute(ctx, a, a.story, storyID)
	res.add(lvl)
	if lvl.proceeds() && story.EpicID != "" {
		a.cascadeEpic(ctx, story.EpicID, &res)
	}
	return res
}

// RecomputeEpic recomputes the epic and cascades to its project.
func (a *Aggregator) RecomputeEpic(ctx context.Context, epicID string) Result {
	var res Result
	a.cascadeEpic(ctx, epicID, &res)
	return res
}

// RecomputeProject recomputes the project. Projects have no owner, so the
// cascade ends here.
func (a *Aggregator) RecomputeProject(ctx context.Context, projectID string) Result {
	var res Result
	lvl, _ := recompute(ctx, a, a.project, projectID)
	res.add(lvl)
	return res
}

func (a *Aggregator) cascadeEpic(ctx context.Context, epicID string, res *Result) {
	lvl, epic := recompute(ctx, a, a.epic, epicID)
	res.add(lvl)
	if lvl.proceeds() && epic.ProjectID != "" {
		lvl, _ = recompute(ctx, a, a.project, epic.ProjectID)
		res.add(lvl)
	}
}

func recompute[C any, S any, P interface {
	*S
	aggregate
}](ctx context.Context, a *Aggregator, r rule[C, S, P], id string) (Level, P) {
	ctx, span := otel.Tracer("prism-tracker/hierarchy").Start(ctx, spanName)
	defer span.End()

	lvl, parent := recomputeOnce(ctx, a, r, id)

	span.SetAttributes(
		attribute.String("prism.level", string(lvl.Kind)),
		attribute.String("prism.entity_id", lvl.ID),
		attribute.String("prism.outcome", string(lvl.Outcome)),
		attribute.Int("prism.percentage", lvl.Percentage),
		attribute.Int("prism.attempts", lvl.Attempts),
	)
	fields := log.Fields{"kind": lvl.Kind, "id": lvl.ID, "outcome": lvl.Outcome}
	switch lvl.Outcome {
	case OutcomeFailed:
		span.RecordError(lvl.Err)
		span.SetStatus(codes.Error, lvl.Err.Error())
		log.WithFields(fields).WithError(lvl.Err).Warn("hierarchy recompute failed")
	case OutcomeMissingParent:
		log.WithFields(fields).Warn("hierarchy recompute skipped: parent not found")
	case OutcomeUpdated:
		fields["percentage"] = lvl.Percentage
		fields["status"] = lvl.Status
		log.WithFields(fields).Debug("hierarchy aggregate updated")
		if a.pub != nil {
			a.pub.Broadcast(ctx, domain.Event{Type: r.event, Payload: parent})
		}
	}
	return lvl, parent
}

func recomputeOnce[C any, S any, P interface {
	*S
	aggregate
}](ctx context.Context, a *Aggregator, r rule[C, S, P], id string) (Level, P) {
	lvl := Level{Kind: r.kind, ID: id}
	fail := func(err error) (Level, P) {
		lvl.Outcome = OutcomeFailed
		lvl.Err = err
		return lvl, nil
	}
	for lvl.Attempts < a.attempts {
		lvl.Attempts++
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		kids, err := r.children.List(ctx, storage.Filter{r.childField: id})
		if err != nil {
			return fail(fmt.Errorf("list children of %s %s: %w", r.kind, id, err))
		}
		if len(kids) == 0 {
			lvl.Outcome = OutcomeNoChildren
			return lvl, nil
		}
		parent, err := r.parents.Get(ctx, id)
		if err != nil {
			return fail(fmt.Errorf("get %s %s: %w", r.kind, id, err))
		}
		if parent == nil {
			lvl.Outcome = OutcomeMissingParent
			return lvl, nil
		}

		statuses := make([]string, len(kids))
		for i, k := range kids {
			statuses[i] = r.childStatus(k)
		}
		oldStatus, oldPct := parent.AggregateState()
		status, pct := derive(statuses, oldStatus, r.done, r.terminal, r.active)
		lvl.OldStatus, lvl.OldPercentage = oldStatus, oldPct
		lvl.Status, lvl.Percentage = status, pct
		if status == oldStatus && pct == oldPct {
			lvl.Outcome = OutcomeUnchanged
			return lvl, parent
		}

		parent.SetAggregateState(status, pct)
		written, err := r.parents.Replace(ctx, parent)
		switch {
		case errors.Is(err, domain.ErrConcurrencyConflict):
			continue
		case errors.Is(err, domain.ErrNotFound):
			lvl.Outcome = OutcomeMissingParent
			return lvl, nil
		case err != nil:
			return fail(fmt.Errorf("write %s %s: %w", r.kind, id, err))
		}
		lvl.Outcome = OutcomeUpdated
		return lvl, written
	}
	return fail(fmt.Errorf("write %s %s after %d attempts: %w", r.kind, id, lvl.Attempts, domain.ErrConcurrencyConflict))
}

// derive returns the aggregate status and percentage for a set of child
// statuses. current is kept when no rule applies.
func derive(statuses []string, current, done, terminal string, active func(string) bool) (string, int) {
	total := len(statuses)
	if total == 0 {
		return current, 0
	}
	completed, inProgress := 0, false
	for _, s := range statuses {
		if s == done {
			completed++
		} else if active(s) {
			inProgress = true
		}
	}
	pct := int(math.Round(100 * float64(completed) / float64(total)))
	switch {
	case completed == total:
		return terminal, pct
	case completed > 0, inProgress:
		return inProgressStatus, pct
	default:
		return current, pct
	}
}

// inProgressStatus is spelled the same for stories, epics and projects.
const inProgressStatus = "IN_PROGRESS"
