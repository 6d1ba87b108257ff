package api

import (
	"context"
	"fmt"

	"prism-tracker/domain"
)

func (s *Server) projects() *resource[domain.Project, *domain.Project] {
	r := newResource(s, s.Store.Projects)
	r.strict = true
	r.derived = true
	r.filters = []string{"companyId", "teamId", "status"}
	r.prepare = func(_ context.Context, p *domain.Project) error {
		return validStatus(domain.KindProject, string(p.Status))
	}
	return r
}

func (s *Server) epics() *resource[domain.Epic, *domain.Epic] {
	r := newResource(s, s.Store.Epics)
	r.strict = true
	r.derived = true
	r.filters = []string{"projectId", "status"}
	r.prepare = func(_ context.Context, e *domain.Epic) error {
		return validStatus(domain.KindEpic, string(e.Status))
	}
	r.owner = func(e *domain.Epic) string { return e.ProjectID }
	r.recompute = s.Aggregator.RecomputeProject
	return r
}

func (s *Server) stories() *resource[domain.Story, *domain.Story] {
	r := newResource(s, s.Store.Stories)
	r.strict = true
	r.derived = true
	r.filters = []string{"epicId", "sprintId", "status"}
	r.prepare = func(_ context.Context, st *domain.Story) error {
		return validStatus(domain.KindStory, string(st.Status))
	}
	r.owner = func(st *domain.Story) string { return st.EpicID }
	r.recompute = s.Aggregator.RecomputeEpic
	return r
}

func (s *Server) records(kind domain.Kind) *resource[domain.Record, *domain.Record] {
	r := newResource(s, s.Store.Records(kind))
	switch kind {
	case domain.KindTeamMember:
		r.createdEvent = domain.TeamMemberAdded
		r.deletedEvent = domain.TeamMemberRemoved
		r.deletedWithBody = true
	}
	return r
}

func validStatus(kind domain.Kind, status string) error {
	if !domain.ValidStatus(kind, status) {
		return fmt.Errorf("%w: status %q for %s", domain.ErrInvalid, status, kind)
	}
	return nil
}
