package subtree

import (
	"context"
	"errors"
	"sort"
	"testing"

	"prism-tracker/domain"
	"prism-tracker/storage"
)

type tasksFixture struct {
	ctx   context.Context
	store *storage.Store
}

func newTasks(t *testing.T) *tasksFixture {
	t.Helper()
	return &tasksFixture{ctx: context.Background(), store: storage.NewStore(storage.NewMemory())}
}

func (f *tasksFixture) add(t *testing.T, id, parent string, status domain.TaskStatus) {
	t.Helper()
	task := &domain.Task{StoryID: "s1", ParentTaskID: parent, Title: id, Status: status}
	task.ID = id
	if _, err := f.store.Tasks.Create(f.ctx, task); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
}

func leaf(status domain.TaskStatus) *Node {
	return &Node{Task: &domain.Task{Status: status}}
}

func parent(status domain.TaskStatus, kids ...*Node) *Node {
	return &Node{Task: &domain.Task{Status: status}, Subtasks: kids}
}

func TestProgressLeafTable(t *testing.T) {
	cases := map[domain.TaskStatus]int{
		domain.TaskDone:       100,
		domain.TaskInReview:   75,
		domain.TaskInProgress: 50,
		domain.TaskBlocked:    25,
		domain.TaskTodo:       0,
	}
	for status, want := range cases {
		if got := Progress(leaf(status)); got != want {
			t.Errorf("%s: got %d, want %d", status, got, want)
		}
	}
}

func TestProgressIsUnweightedMean(t *testing.T) {
	// the deep branch counts as one child regardless of its size
	n := parent(domain.TaskTodo,
		leaf(domain.TaskDone),
		parent(domain.TaskTodo, leaf(domain.TaskInProgress), leaf(domain.TaskTodo), leaf(domain.TaskTodo)),
	)
	// (100 + round((50+0+0)/3)) / 2 = (100 + 17) / 2 = 58.5 -> 59
	if got := Progress(n); got != 59 {
		t.Fatalf("got %d, want 59", got)
	}
	if got := Progress(parent(domain.TaskDone, leaf(domain.TaskTodo))); got != 0 {
		t.Fatalf("own status must not count for an internal node, got %d", got)
	}
}

func TestStatusPrecedence(t *testing.T) {
	cases := []struct {
		name string
		node *Node
		want domain.TaskStatus
	}{
		{"leaf keeps own", leaf(domain.TaskInReview), domain.TaskInReview},
		{"blocked wins", parent(domain.TaskTodo, leaf(domain.TaskDone), leaf(domain.TaskBlocked)), domain.TaskBlocked},
		{"all done", parent(domain.TaskTodo, leaf(domain.TaskDone), leaf(domain.TaskDone)), domain.TaskDone},
		{"review and done", parent(domain.TaskTodo, leaf(domain.TaskInReview), leaf(domain.TaskDone)), domain.TaskInReview},
		{"any in progress", parent(domain.TaskTodo, leaf(domain.TaskInProgress), leaf(domain.TaskTodo)), domain.TaskInProgress},
		{"review with todo falls back", parent(domain.TaskBlocked, leaf(domain.TaskInReview), leaf(domain.TaskTodo)), domain.TaskBlocked},
		{"nothing moving keeps own", parent(domain.TaskInProgress, leaf(domain.TaskTodo)), domain.TaskInProgress},
		{"nested blocked", parent(domain.TaskTodo, leaf(domain.TaskDone), parent(domain.TaskDone, leaf(domain.TaskBlocked))), domain.TaskBlocked},
		{"nested effective done", parent(domain.TaskTodo, parent(domain.TaskTodo, leaf(domain.TaskDone))), domain.TaskDone},
	}
	for _, tc := range cases {
		if got := Status(tc.node); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestAnnotateMatchesPureFunctions(t *testing.T) {
	n := parent(domain.TaskTodo,
		leaf(domain.TaskDone),
		parent(domain.TaskTodo, leaf(domain.TaskInReview), leaf(domain.TaskDone)),
		leaf(domain.TaskInProgress),
	)
	Annotate(n)
	var walk func(*Node)
	walk = func(x *Node) {
		if x.Progress != Progress(x) || x.EffectiveStatus != Status(x) {
			t.Fatalf("annotation mismatch: %d/%s vs %d/%s", x.Progress, x.EffectiveStatus, Progress(x), Status(x))
		}
		for _, c := range x.Subtasks {
			walk(c)
		}
	}
	walk(n)
}

func TestTreeBuildsLevelsAndPaths(t *testing.T) {
	f := newTasks(t)
	f.add(t, "a", "", domain.TaskTodo)
	f.add(t, "b", "a", domain.TaskDone)
	f.add(t, "c", "a", domain.TaskBlocked)
	f.add(t, "d", "c", domain.TaskTodo)
	f.add(t, "other", "", domain.TaskTodo)

	p := New(f.store.Tasks, 0)
	root, err := p.Tree(f.ctx, "a")
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if root.Level != 0 || len(root.Path) != 0 || len(root.Subtasks) != 2 {
		t.Fatalf("unexpected root: %+v", root)
	}
	c := root.Subtasks[1]
	if c.Task.ID != "c" || c.Level != 1 || len(c.Path) != 1 || c.Path[0] != "a" {
		t.Fatalf("unexpected node c: %+v", c)
	}
	d := c.Subtasks[0]
	if d.Level != 2 || len(d.Path) != 2 || d.Path[0] != "a" || d.Path[1] != "c" {
		t.Fatalf("unexpected node d: %+v", d)
	}
	if Status(root) != domain.TaskBlocked {
		t.Fatalf("expected BLOCKED, got %s", Status(root))
	}

	missing, err := p.Tree(f.ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for missing root, got %v %v", missing, err)
	}
}

func TestTreeDetectsCycle(t *testing.T) {
	f := newTasks(t)
	f.add(t, "a", "b", domain.TaskTodo)
	f.add(t, "b", "a", domain.TaskTodo)

	_, err := New(f.store.Tasks, 0).Tree(f.ctx, "a")
	if !errors.Is(err, domain.ErrCycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestTreeEnforcesMaxDepth(t *testing.T) {
	f := newTasks(t)
	f.add(t, "l0", "", domain.TaskTodo)
	f.add(t, "l1", "l0", domain.TaskTodo)
	f.add(t, "l2", "l1", domain.TaskTodo)
	f.add(t, "l3", "l2", domain.TaskTodo)

	if _, err := New(f.store.Tasks, 3).Tree(f.ctx, "l0"); err != nil {
		t.Fatalf("depth 3 must fit: %v", err)
	}
	if _, err := New(f.store.Tasks, 2).Tree(f.ctx, "l0"); !errors.Is(err, domain.ErrTooDeep) {
		t.Fatalf("expected too deep, got %v", err)
	}
}

type failingStore struct {
	*storage.Collection[domain.Task, *domain.Task]
	listErr   error
	deleteErr map[string]error
}

func (s *failingStore) List(ctx context.Context, filter storage.Filter) ([]*domain.Task, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Collection.List(ctx, filter)
}

func (s *failingStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := s.deleteErr[id]; err != nil {
		return false, err
	}
	return s.Collection.Delete(ctx, id)
}

func TestTreeReturnsStoreErrors(t *testing.T) {
	f := newTasks(t)
	f.add(t, "a", "", domain.TaskTodo)
	boom := errors.New("store down")
	fs := &failingStore{Collection: f.store.Tasks, listErr: boom}

	if _, err := New(fs, 0).Tree(f.ctx, "a"); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestDeleteRecursiveRemovesWholeSubtree(t *testing.T) {
	f := newTasks(t)
	f.add(t, "root", "", domain.TaskTodo)
	for _, id := range []string{"a", "b", "c"} {
		f.add(t, id, "root", domain.TaskTodo)
	}
	f.add(t, "a1", "a", domain.TaskTodo)
	f.add(t, "a2", "a", domain.TaskTodo)
	f.add(t, "keep", "", domain.TaskTodo)

	res := New(f.store.Tasks, 0).DeleteRecursive(f.ctx, "root")
	if !res.OK() || res.Root == nil || res.Root.StoryID != "s1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Deleted) != 6 {
		t.Fatalf("expected N+1=6 deletions, got %v", res.Deleted)
	}
	if res.Deleted[len(res.Deleted)-1] != "root" {
		t.Fatalf("root must be deleted last: %v", res.Deleted)
	}
	pos := map[string]int{}
	for i, id := range res.Deleted {
		pos[id] = i
	}
	if pos["a1"] > pos["a"] || pos["a2"] > pos["a"] {
		t.Fatalf("children must precede parents: %v", res.Deleted)
	}
	left, _ := f.store.Tasks.List(f.ctx, nil)
	if len(left) != 1 || left[0].ID != "keep" {
		t.Fatalf("unexpected survivors: %v", left)
	}
}

func TestDeleteRecursivePartialFailureKeepsAncestors(t *testing.T) {
	f := newTasks(t)
	f.add(t, "root", "", domain.TaskTodo)
	f.add(t, "a", "root", domain.TaskTodo)
	f.add(t, "a1", "a", domain.TaskTodo)
	f.add(t, "b", "root", domain.TaskTodo)
	fs := &failingStore{Collection: f.store.Tasks, deleteErr: map[string]error{"a1": errors.New("locked")}}

	res := New(fs, 0).DeleteRecursive(f.ctx, "root")
	if res.OK() || res.RootDeleted {
		t.Fatalf("expected partial failure, got %+v", res)
	}
	if len(res.Deleted) != 1 || res.Deleted[0] != "b" {
		t.Fatalf("only the healthy branch may go: %v", res.Deleted)
	}
	var failed []string
	for _, fd := range res.Failed {
		failed = append(failed, fd.ID)
	}
	sort.Strings(failed)
	if len(failed) != 3 || failed[0] != "a" || failed[1] != "a1" || failed[2] != "root" {
		t.Fatalf("unexpected failures: %v", failed)
	}
	for _, id := range []string{"root", "a", "a1"} {
		if task, _ := f.store.Tasks.Get(f.ctx, id); task == nil {
			t.Fatalf("%s must survive", id)
		}
	}
}

func TestDeleteRecursiveMissingRoot(t *testing.T) {
	f := newTasks(t)
	res := New(f.store.Tasks, 0).DeleteRecursive(f.ctx, "nope")
	if res.Root != nil || res.RootDeleted || len(res.Failed) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDeleteRecursiveStopsOnCycle(t *testing.T) {
	f := newTasks(t)
	f.add(t, "a", "b", domain.TaskTodo)
	f.add(t, "b", "a", domain.TaskTodo)

	res := New(f.store.Tasks, 0).DeleteRecursive(f.ctx, "a")
	if res.OK() {
		t.Fatal("cyclic subtree must not report success")
	}
	var sawCycle bool
	for _, fd := range res.Failed {
		if errors.Is(fd.Err, domain.ErrCycle) {
			sawCycle = true
		}
	}
	if !sawCycle {
		t.Fatalf("expected a cycle failure, got %+v", res.Failed)
	}
}

func TestCheckParent(t *testing.T) {
	f := newTasks(t)
	f.add(t, "a", "", domain.TaskTodo)
	f.add(t, "b", "a", domain.TaskTodo)
	f.add(t, "c", "b", domain.TaskTodo)
	p := New(f.store.Tasks, 0)

	if err := p.CheckParent(f.ctx, "", "c"); err != nil {
		t.Fatalf("new subtask under c: %v", err)
	}
	if err := p.CheckParent(f.ctx, "x", "x"); !errors.Is(err, domain.ErrCycle) {
		t.Fatalf("self parent: %v", err)
	}
	if err := p.CheckParent(f.ctx, "a", "c"); !errors.Is(err, domain.ErrCycle) {
		t.Fatalf("moving a under its descendant: %v", err)
	}
	if err := p.CheckParent(f.ctx, "", "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing parent: %v", err)
	}
	if err := New(f.store.Tasks, 2).CheckParent(f.ctx, "", "c"); !errors.Is(err, domain.ErrTooDeep) {
		t.Fatalf("depth limit: %v", err)
	}
}
