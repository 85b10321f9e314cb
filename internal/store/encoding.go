package store

import (
	"encoding/json"
	"strings"

	"github.com/cdrtools/cdrbatch/internal/state"
	"github.com/cdrtools/cdrbatch/types"
	"github.com/cockroachdb/errors"
)

// TerminalStatusList is the SQL literal list of terminal statuses, shared by
// queries and the partial unique index on name.
var TerminalStatusList = quoteStatuses(state.TerminalStatuses)

func quoteStatuses(statuses []state.JobStatus) string {
	quoted := make([]string, len(statuses))
	for i, s := range statuses {
		quoted[i] = "'" + s.String() + "'"
	}
	return strings.Join(quoted, ", ")
}

func EncodeArgs(args []types.Arg) ([]byte, error) {
	if args == nil {
		args = []types.Arg{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal args")
	}
	return b, nil
}

func DecodeArgs(raw []byte) ([]types.Arg, error) {
	var args []types.Arg
	if len(raw) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal args")
	}
	return args, nil
}

// EscapeLike escapes LIKE wildcards so s matches literally. Pair with ESCAPE '\'.
func EscapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// FilterStatuses merges the single and multi status filters.
func FilterStatuses(filter types.SearchFilter) []string {
	var out []string
	if filter.Status != "" {
		out = append(out, filter.Status.String())
	}
	for _, s := range filter.Statuses {
		out = append(out, s.String())
	}
	return out
}

// NonNilEmails keeps NOT NULL list columns from receiving NULL.
func NonNilEmails(emails []string) []string {
	if emails == nil {
		return []string{}
	}
	return emails
}
