package record

import (
	"net/mail"
	"strings"

	"github.com/cdrtools/cdrbatch/custom_errors"
)

// ParseEmailList splits each entry on commas and whitespace, validates every
// address and drops repeats while keeping first-seen order.
func ParseEmailList(entries ...string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	validation := &custom_errors.ValidationError{}

	for _, entry := range entries {
		fields := strings.FieldsFunc(entry, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
		})
		for _, field := range fields {
			addr, err := mail.ParseAddress(field)
			if err != nil || addr.Name != "" || !strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@")+1:], ".") {
				validation.Addf("implausible email address %q", field)
				continue
			}
			key := strings.ToLower(addr.Address)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, addr.Address)
		}
	}

	if validation.HasError() {
		return nil, validation
	}
	return out, nil
}
