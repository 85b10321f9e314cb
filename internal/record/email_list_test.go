package record

import (
	"testing"

	"github.com/cdrtools/cdrbatch/custom_errors"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmailList(t *testing.T) {
	tests := []struct {
		name     string
		entries  []string
		expected []string
	}{
		{name: "empty", entries: nil, expected: nil},
		{name: "blank entry", entries: []string{"   "}, expected: nil},
		{name: "single", entries: []string{"ed@example.org"}, expected: []string{"ed@example.org"}},
		{
			name:     "mixed separators",
			entries:  []string{"ed@example.org, pat@example.org\tlee@example.org\nkim@example.org"},
			expected: []string{"ed@example.org", "pat@example.org", "lee@example.org", "kim@example.org"},
		},
		{
			name:     "several entries with repeats",
			entries:  []string{"ed@example.org", "pat@example.org ed@example.org", "ED@example.org"},
			expected: []string{"ed@example.org", "pat@example.org"},
		},
		{
			name:     "trailing comma",
			entries:  []string{"ed@example.org,"},
			expected: []string{"ed@example.org"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEmailList(tt.entries...)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseEmailList_Implausible(t *testing.T) {
	for _, entry := range []string{"not-an-address", "ed@localhost", "ed@", "@example.org", "ed@example.org;pat@example.org"} {
		t.Run(entry, func(t *testing.T) {
			_, err := ParseEmailList("ok@example.org", entry)
			require.Error(t, err)
			assert.True(t, errors.Is(err, custom_errors.ErrInvalidArgument))
			assert.Contains(t, err.Error(), entry)
		})
	}
}
