package state

import (
	"strings"

	"github.com/cdrtools/cdrbatch/custom_errors"
	"github.com/cockroachdb/errors"
)

type JobStatus string

const (
	StatusQueued           JobStatus = "queued"
	StatusInitiating       JobStatus = "initiating"
	StatusInProcess        JobStatus = "in_process"
	StatusSuspendRequested JobStatus = "suspend_requested"
	StatusSuspended        JobStatus = "suspended"
	StatusResumeRequested  JobStatus = "resume_requested"
	StatusStopRequested    JobStatus = "stop_requested"
	StatusStopped          JobStatus = "stopped"
	StatusCompleted        JobStatus = "completed"
	StatusAborted          JobStatus = "aborted"
)

func (s JobStatus) String() string {
	return string(s)
}

// Label is the human-readable form shown on status pages and in mail.
func (s JobStatus) Label() string {
	words := strings.Split(string(s), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusAborted:
		return true
	}
	return false
}

func (s JobStatus) IsValid() bool {
	for _, status := range AllStatuses {
		if status == s {
			return true
		}
	}
	return false
}

var AllStatuses = []JobStatus{
	StatusQueued,
	StatusInitiating,
	StatusInProcess,
	StatusSuspendRequested,
	StatusSuspended,
	StatusResumeRequested,
	StatusStopRequested,
	StatusStopped,
	StatusCompleted,
	StatusAborted,
}

var TerminalStatuses = []JobStatus{
	StatusStopped,
	StatusCompleted,
	StatusAborted,
}

// NonTerminalStatuses is every status a job can still leave.
var NonTerminalStatuses = func() []JobStatus {
	var out []JobStatus
	for _, s := range AllStatuses {
		if !s.IsTerminal() {
			out = append(out, s)
		}
	}
	return out
}()

// Parse validates a status name received from outside the process.
// Matching ignores case and accepts spaces for underscores, so "In Process" parses.
func Parse(raw string) (JobStatus, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	status := JobStatus(normalized)
	if !status.IsValid() {
		return "", errors.Mark(errors.Newf("unknown job status %q", raw), custom_errors.ErrInvalidArgument)
	}
	return status, nil
}

type Transition struct {
	From JobStatus
	To   JobStatus
}

var ValidTransitions = buildTransitions()

func buildTransitions() []Transition {
	transitions := []Transition{
		{From: StatusQueued, To: StatusInitiating},
		{From: StatusInitiating, To: StatusInProcess},
		{From: StatusInProcess, To: StatusSuspendRequested},
		{From: StatusSuspendRequested, To: StatusSuspended},
		{From: StatusSuspended, To: StatusResumeRequested},
		{From: StatusResumeRequested, To: StatusInProcess},
		{From: StatusStopRequested, To: StatusStopped},
		{From: StatusInProcess, To: StatusCompleted},
	}
	for _, from := range NonTerminalStatuses {
		if from != StatusStopRequested {
			transitions = append(transitions, Transition{From: from, To: StatusStopRequested})
		}
		transitions = append(transitions, Transition{From: from, To: StatusAborted})
	}
	return transitions
}

func IsValidTransition(from, to JobStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}
