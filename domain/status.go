package domain

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectPlanning   ProjectStatus = "PLANNING"
	ProjectInProgress ProjectStatus = "IN_PROGRESS"
	ProjectOnHold     ProjectStatus = "ON_HOLD"
	ProjectCompleted  ProjectStatus = "COMPLETED"
	ProjectCancelled  ProjectStatus = "CANCELLED"
)

// Valid reports whether s is a known project status.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectPlanning, ProjectInProgress, ProjectOnHold, ProjectCompleted, ProjectCancelled:
		return true
	}
	return false
}

// EpicStatus is the lifecycle state of an epic.
type EpicStatus string

const (
	EpicBacklog    EpicStatus = "BACKLOG"
	EpicInProgress EpicStatus = "IN_PROGRESS"
	EpicCompleted  EpicStatus = "COMPLETED"
	EpicCancelled  EpicStatus = "CANCELLED"
)

func (s EpicStatus) Valid() bool {
	switch s {
	case EpicBacklog, EpicInProgress, EpicCompleted, EpicCancelled:
		return true
	}
	return false
}

// StoryStatus is the lifecycle state of a story.
type StoryStatus string

const (
	StoryBacklog    StoryStatus = "BACKLOG"
	StoryReady      StoryStatus = "READY"
	StoryInProgress StoryStatus = "IN_PROGRESS"
	StoryInReview   StoryStatus = "IN_REVIEW"
	StoryDone       StoryStatus = "DONE"
)

func (s StoryStatus) Valid() bool {
	switch s {
	case StoryBacklog, StoryReady, StoryInProgress, StoryInReview, StoryDone:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a task or subtask.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "TODO"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskInReview   TaskStatus = "IN_REVIEW"
	TaskDone       TaskStatus = "DONE"
	TaskBlocked    TaskStatus = "BLOCKED"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskInReview, TaskDone, TaskBlocked:
		return true
	}
	return false
}

// ValidStatus reports whether status is allowed for entities of the given kind.
// Kinds without a status field accept any value.
func ValidStatus(kind Kind, status string) bool {
	switch kind {
	case KindProject:
		return ProjectStatus(status).Valid()
	case KindEpic:
		return EpicStatus(status).Valid()
	case KindStory:
		return StoryStatus(status).Valid()
	case KindTask:
		return TaskStatus(status).Valid()
	}
	return true
}
