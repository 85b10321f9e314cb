package types

import (
	"time"

	"github.com/cdrtools/cdrbatch/internal/state"
)

// Arg is one named parameter handed to the worker. Order is significant and
// duplicate keys are allowed.
type Arg struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type BatchJob struct {
	ID              int64           `json:"job_id"`
	Name            string          `json:"name"`
	Command         string          `json:"command"`
	Args            []Arg           `json:"args"`
	EmailList       []string        `json:"email_list"`
	Status          state.JobStatus `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	StatusChangedAt time.Time       `json:"status_changed_at"`
	Progress        string          `json:"progress"`
	Submitter       *string         `json:"submitter,omitempty"`
}

// ArgValues returns every value recorded under key, in submission order.
func (j *BatchJob) ArgValues(key string) []string {
	var values []string
	for _, a := range j.Args {
		if a.Key == key {
			values = append(values, a.Value)
		}
	}
	return values
}

// Submission is a request to run a named job.
// Each EmailList entry may hold several addresses separated by commas or whitespace.
type Submission struct {
	Name      string   `json:"name"`
	Command   string   `json:"command"`
	Args      []Arg    `json:"args"`
	EmailList []string `json:"email_list"`
	Submitter *string  `json:"submitter,omitempty"`
}

// SubmitResult is the dispatcher's answer. AlreadyRunning is an expected
// outcome, in which case JobID names the job that is still active.
type SubmitResult struct {
	JobID          int64 `json:"job_id"`
	AlreadyRunning bool  `json:"already_running"`
}
