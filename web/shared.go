package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/cdrtools/cdrbatch/custom_errors"
	"github.com/cdrtools/cdrbatch/internal/constants"
	"github.com/cdrtools/cdrbatch/internal/state"
	"github.com/cdrtools/cdrbatch/types"
	"github.com/cockroachdb/errors"
)

type DataMap struct {
	Data map[string]interface{}
}

func NewDataMap() DataMap {
	return DataMap{Data: map[string]interface{}{}}
}

func (d DataMap) Add(key string, value interface{}) DataMap {
	d.Data[key] = value
	return d
}

// errorStatus maps an error kind to the HTTP status and the message shown to
// the caller. Unknown errors are reported as 500 without detail.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, custom_errors.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "The job database is unavailable; try again later."
	case errors.Is(err, custom_errors.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, custom_errors.ErrNoSuchJob):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, custom_errors.ErrIllegalTransition), errors.Is(err, custom_errors.ErrAlreadyTerminal):
		return http.StatusConflict, err.Error()
	case errors.Is(err, custom_errors.ErrPermissionDenied):
		return http.StatusForbidden, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
	JobID   int64    `json:"job_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func parseJobID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, custom_errors.InvalidArgument("invalid job id %q", raw)
	}
	return id, nil
}

// parseSearchFilter reads jobId, jobName, jobAge and jobStatus. Empty values
// leave the matching constraint off.
func parseSearchFilter(r *http.Request) (types.SearchFilter, error) {
	var filter types.SearchFilter
	validation := &custom_errors.ValidationError{}

	if raw := strings.TrimSpace(r.FormValue("jobId")); raw != "" {
		id, err := parseJobID(raw)
		if err != nil {
			validation.Add(err)
		}
		filter.JobID = id
	}
	filter.Name = strings.TrimSpace(r.FormValue("jobName"))
	if raw := strings.TrimSpace(r.FormValue("jobAge")); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 0 {
			validation.Addf("invalid job age %q", raw)
		}
		filter.AgeDays = days
	}
	if raw := strings.TrimSpace(r.FormValue("jobStatus")); raw != "" {
		st, err := state.Parse(raw)
		if err != nil {
			validation.Add(err)
		}
		filter.Status = st
	}

	if validation.HasError() {
		return types.SearchFilter{}, validation
	}
	return filter, nil
}

func truncateProgress(progress string) string {
	runes := []rune(progress)
	if len(runes) <= constants.ProgressDisplayLimit {
		return progress
	}
	return string(runes[:constants.ProgressDisplayLimit]) + "..."
}
