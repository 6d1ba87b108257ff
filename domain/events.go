package domain

// EventType identifies a real-time event, e.g. TASK_UPDATED.
type EventType string

const (
	OpCreated = "CREATED"
	OpUpdated = "UPDATED"
	OpDeleted = "DELETED"
)

const (
	TeamMemberAdded    EventType = "TEAM_MEMBER_ADDED"
	TeamMemberRemoved  EventType = "TEAM_MEMBER_REMOVED"
	BacklogItemMoved   EventType = "BACKLOG_ITEM_MOVED"
	BacklogItemRanked  EventType = "BACKLOG_ITEM_RANKED"
	ProjectUpdated     EventType = "PROJECT_UPDATED"
	EpicUpdated        EventType = "EPIC_UPDATED"
	StoryUpdated       EventType = "STORY_UPDATED"
	TaskUpdated        EventType = "TASK_UPDATED"
	TaskDeleted        EventType = "TASK_DELETED"
)

// EventTypeFor builds the <ENTITY>_<OP> event type for a kind.
func EventTypeFor(kind Kind, op string) EventType {
	return EventType(kind.EventPrefix() + "_" + op)
}

// Event is the envelope pushed to every real-time subscriber.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// Deletion is the payload of a *_DELETED event.
type Deletion struct {
	ID      string `json:"id"`
	StoryID string `json:"storyId,omitempty"`
}
