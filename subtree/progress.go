package subtree

import (
	"math"

	"prism-tracker/domain"
)

var leafProgress = map[domain.TaskStatus]int{
	domain.TaskDone:       100,
	domain.TaskInReview:   75,
	domain.TaskInProgress: 50,
	domain.TaskBlocked:    25,
	domain.TaskTodo:       0,
}

// Progress returns the completion of the subtree rooted at n: the leaf table
// for a task without subtasks, otherwise the rounded unweighted mean of its
// subtasks' progress.
func Progress(n *Node) int {
	if n == nil || n.Task == nil {
		return 0
	}
	if len(n.Subtasks) == 0 {
		return leafProgress[n.Task.Status]
	}
	sum := 0
	for _, c := range n.Subtasks {
		sum += Progress(c)
	}
	return int(math.Round(float64(sum) / float64(len(n.Subtasks))))
}

// Status returns the effective status of the subtree rooted at n. Subtasks
// are judged by their own effective status.
func Status(n *Node) domain.TaskStatus {
	if n == nil || n.Task == nil {
		return ""
	}
	if len(n.Subtasks) == 0 {
		return n.Task.Status
	}
	statuses := make([]domain.TaskStatus, len(n.Subtasks))
	for i, c := range n.Subtasks {
		statuses[i] = Status(c)
	}
	return combine(n.Task.Status, statuses)
}

func combine(own domain.TaskStatus, children []domain.TaskStatus) domain.TaskStatus {
	var done, review, active int
	for _, s := range children {
		switch s {
		case domain.TaskBlocked:
			return domain.TaskBlocked
		case domain.TaskDone:
			done++
		case domain.TaskInReview:
			review++
		case domain.TaskInProgress:
			active++
		}
	}
	switch {
	case done == len(children):
		return domain.TaskDone
	case review > 0 && review+done == len(children):
		return domain.TaskInReview
	case active > 0:
		return domain.TaskInProgress
	default:
		return own
	}
}

// Annotate fills Progress and EffectiveStatus on every node of the tree in a
// single bottom-up pass.
func Annotate(n *Node) {
	if n == nil || n.Task == nil {
		return
	}
	if len(n.Subtasks) == 0 {
		n.Progress = leafProgress[n.Task.Status]
		n.EffectiveStatus = n.Task.Status
		return
	}
	sum := 0
	statuses := make([]domain.TaskStatus, len(n.Subtasks))
	for i, c := range n.Subtasks {
		Annotate(c)
		sum += c.Progress
		statuses[i] = c.EffectiveStatus
	}
	n.Progress = int(math.Round(float64(sum) / float64(len(n.Subtasks))))
	n.EffectiveStatus = combine(n.Task.Status, statuses)
}
