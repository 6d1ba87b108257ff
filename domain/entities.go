package domain

import "time"

// Meta carries the identity and bookkeeping fields shared by every stored entity.
type Meta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// ETag is the storage version the entity was read at. It is never part
	// of the JSON body.
	ETag string `json:"-"`
}

// Base exposes the metadata of any entity embedding Meta.
func (m *Meta) Base() *Meta { return m }

// Entity is satisfied by pointers to types embedding Meta.
type Entity[T any] interface {
	*T
	Base() *Meta
}

// Progress is the derived completion of an aggregate.
type Progress struct {
	Percentage int `json:"percentage"`
}

// Project is the top of the aggregation chain.
type Project struct {
	Meta
	CompanyID   string        `json:"companyId,omitempty"`
	TeamID      string        `json:"teamId,omitempty"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      ProjectStatus `json:"status"`
	Progress    Progress      `json:"progress"`
}

// Epic groups stories under a project.
type Epic struct {
	Meta
	ProjectID   string     `json:"projectId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      EpicStatus `json:"status"`
	Progress    Progress   `json:"progress"`
}

// Story is a unit of user-facing work composed of tasks.
type Story struct {
	Meta
	EpicID      string      `json:"epicId"`
	SprintID    string      `json:"sprintId,omitempty"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Points      int         `json:"points,omitempty"`
	Status      StoryStatus `json:"status"`
	Progress    Progress    `json:"progress"`
}

// Task is an atomic unit of work. ParentTaskID links a subtask to its parent.
type Task struct {
	Meta
	StoryID       string     `json:"storyId,omitempty"`
	ParentTaskID  string     `json:"parentTaskId,omitempty"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	AssigneeID    string     `json:"assigneeId,omitempty"`
	EstimateHours float64    `json:"estimateHours,omitempty"`
	Status        TaskStatus `json:"status"`
}

// AggregateState returns the status and percentage the aggregator maintains.
func (p *Project) AggregateState() (string, int) { return string(p.Status), p.Progress.Percentage }

// SetAggregateState overwrites the aggregated fields.
func (p *Project) SetAggregateState(status string, pct int) {
	p.Status = ProjectStatus(status)
	p.Progress.Percentage = pct
}

func (e *Epic) AggregateState() (string, int) { return string(e.Status), e.Progress.Percentage }

func (e *Epic) SetAggregateState(status string, pct int) {
	e.Status = EpicStatus(status)
	e.Progress.Percentage = pct
}

func (s *Story) AggregateState() (string, int) { return string(s.Status), s.Progress.Percentage }

func (s *Story) SetAggregateState(status string, pct int) {
	s.Status = StoryStatus(status)
	s.Progress.Percentage = pct
}

// ApplyDefaults fills the initial status of a newly created entity.
func (p *Project) ApplyDefaults() {
	if p.Status == "" {
		p.Status = ProjectPlanning
	}
	p.Progress = Progress{}
}

func (e *Epic) ApplyDefaults() {
	if e.Status == "" {
		e.Status = EpicBacklog
	}
	e.Progress = Progress{}
}

func (s *Story) ApplyDefaults() {
	if s.Status == "" {
		s.Status = StoryBacklog
	}
	s.Progress = Progress{}
}

func (t *Task) ApplyDefaults() {
	if t.Status == "" {
		t.Status = TaskTodo
	}
}
