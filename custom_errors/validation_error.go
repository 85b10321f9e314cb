package custom_errors

import (
	"github.com/cockroachdb/errors"
)

// ValidationError collects every field problem of one request so callers can
// report them together. It matches ErrInvalidArgument under errors.Is.
type ValidationError struct {
	Errors []error `json:"errors"`
}

func (c *ValidationError) Add(err error) {
	c.Errors = append(c.Errors, err)
}

func (c *ValidationError) Addf(format string, args ...interface{}) {
	c.Errors = append(c.Errors, errors.Newf(format, args...))
}

func (c *ValidationError) HasError() bool {
	return len(c.Errors) > 0
}

func (c *ValidationError) Error() string {
	if len(c.Errors) == 0 {
		return ""
	}
	return errors.Join(c.Errors...).Error()
}

func (c *ValidationError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// Messages returns the individual problems as plain strings.
func (c *ValidationError) Messages() []string {
	out := make([]string, 0, len(c.Errors))
	for _, err := range c.Errors {
		out = append(out, err.Error())
	}
	return out
}
