package domain

import "strings"

// Kind names an entity type. It doubles as the storage partition and the
// prefix of the entity's event types.
type Kind string

const (
	KindCompany     Kind = "company"
	KindDepartment  Kind = "department"
	KindUser        Kind = "user"
	KindTeam        Kind = "team"
	KindTeamMember  Kind = "team-member"
	KindProject     Kind = "project"
	KindEpic        Kind = "epic"
	KindStory       Kind = "story"
	KindTask        Kind = "task"
	KindComment     Kind = "comment"
	KindAttachment  Kind = "attachment"
	KindLocation    Kind = "location"
	KindDevice      Kind = "device"
	KindTimeEntry   Kind = "time-entry"
	KindSprint      Kind = "sprint"
	KindBacklogItem Kind = "backlog-item"
)

// Kinds lists every entity kind the service stores.
func Kinds() []Kind {
	return []Kind{
		KindCompany, KindDepartment, KindUser, KindTeam, KindTeamMember,
		KindProject, KindEpic, KindStory, KindTask,
		KindComment, KindAttachment, KindLocation, KindDevice,
		KindTimeEntry, KindSprint, KindBacklogItem,
	}
}

// DocumentKinds lists the kinds stored as free-form records.
func DocumentKinds() []Kind {
	return []Kind{
		KindCompany, KindDepartment, KindUser, KindTeam, KindTeamMember,
		KindComment, KindAttachment, KindLocation, KindDevice,
		KindTimeEntry, KindSprint, KindBacklogItem,
	}
}

// EventPrefix returns the upper snake case prefix used in event types,
// e.g. "team-member" -> "TEAM_MEMBER".
func (k Kind) EventPrefix() string {
	return strings.ToUpper(strings.ReplaceAll(string(k), "-", "_"))
}

// Path returns the plural URL segment for the kind.
func (k Kind) Path() string {
	switch k {
	case KindCompany:
		return "companies"
	case KindStory:
		return "stories"
	case KindTimeEntry:
		return "time-entries"
	}
	return string(k) + "s"
}
