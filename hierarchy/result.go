package hierarchy

import "prism-tracker/domain"

// Outcome is what happened at one level of a cascade.
type Outcome string

const (
	OutcomeUpdated       Outcome = "updated"
	OutcomeUnchanged     Outcome = "unchanged"
	OutcomeNoChildren    Outcome = "no_children"
	OutcomeMissingParent Outcome = "missing_parent"
	OutcomeFailed        Outcome = "failed"
)

// Level records the recomputation of a single aggregate.
type Level struct {
	Kind          domain.Kind `json:"kind"`
	ID            string      `json:"id"`
	Outcome       Outcome     `json:"outcome"`
	OldStatus     string      `json:"oldStatus,omitempty"`
	Status        string      `json:"status,omitempty"`
	OldPercentage int         `json:"oldPercentage"`
	Percentage    int         `json:"percentage"`
	Attempts      int         `json:"attempts"`
	Err           error       `json:"-"`
}

// proceeds reports whether the cascade continues to the owner. An empty
// level stops it.
func (l Level) proceeds() bool {
	return l.Outcome == OutcomeUpdated || l.Outcome == OutcomeUnchanged
}

// Result is the trace of one cascade, bottom level first.
type Result struct {
	Levels []Level `json:"levels"`
	// Err is the failure that stopped the cascade, if any.
	Err error `json:"-"`
}

func (r *Result) add(l Level) {
	r.Levels = append(r.Levels, l)
	if l.Outcome == OutcomeFailed && r.Err == nil {
		r.Err = l.Err
	}
}

// Merge appends the levels of another cascade. The first failure wins.
func (r *Result) Merge(o Result) {
	r.Levels = append(r.Levels, o.Levels...)
	if r.Err == nil {
		r.Err = o.Err
	}
}

// Complete reports whether the cascade ran to its natural end.
func (r Result) Complete() bool { return r.Err == nil }

// Updated returns the levels that were written.
func (r Result) Updated() []Level {
	var out []Level
	for _, l := range r.Levels {
		if l.Outcome == OutcomeUpdated {
			out = append(out, l)
		}
	}
	return out
}
