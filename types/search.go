package types

import (
	"github.com/cdrtools/cdrbatch/internal/state"
)

// NamePattern selects jobs by name for ActiveCount.
type NamePattern struct {
	Value  string
	Prefix bool
}

func ExactName(name string) NamePattern {
	return NamePattern{Value: name}
}

func NamePrefix(prefix string) NamePattern {
	return NamePattern{Value: prefix, Prefix: true}
}

// SearchFilter narrows an admin search. Zero values mean "no constraint".
type SearchFilter struct {
	JobID    int64
	Name     string // substring match
	AgeDays  int    // only jobs whose status changed within this many days
	Status   state.JobStatus
	Statuses []state.JobStatus // any-of; combined with Status when both are set
	Oldest   bool              // ascending order, used for worker polling
}

type SearchResult struct {
	Items     []BatchJob `json:"items"`
	Limit     int        `json:"limit"`
	Truncated bool       `json:"truncated"`
}
