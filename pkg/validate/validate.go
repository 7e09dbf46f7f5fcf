package validate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Format names a per-field value check.
type Format string

const FormatEmail Format = "email"

// Deliberately weak local@domain.tld check, not RFC 5322. Good enough to
// reject obvious garbage; anything stricter belongs to a mail verifier.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Rule constrains a single payload field. All fields are strings.
type Rule struct {
	Required  bool
	MinLength int
	Format    Format
}

// Schema maps field names to their rules.
type Schema map[string]Rule

// Error reports every violated constraint of one payload.
type Error struct {
	Violations []string
}

func (e *Error) Error() string {
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

// Apply checks a raw payload against the schema. It returns the validated
// string fields, or an Error listing all violations. It never mutates state.
func (s Schema) Apply(payload map[string]any) (map[string]string, *Error) {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make(map[string]string, len(s))
	var violations []string
	for _, name := range names {
		rule := s[name]
		raw, ok := payload[name]
		if !ok || raw == nil {
			if rule.Required {
				violations = append(violations, fmt.Sprintf("'%s' is a required field", name))
			}
			continue
		}
		value, ok := raw.(string)
		if !ok {
			violations = append(violations, fmt.Sprintf("'%s' must be a string", name))
			continue
		}
		if len(value) < rule.MinLength {
			violations = append(violations, fmt.Sprintf("'%s' must be at least %d character(s)", name, rule.MinLength))
			continue
		}
		if rule.Required && value == "" {
			violations = append(violations, fmt.Sprintf("'%s' is a required field", name))
			continue
		}
		if rule.Format == FormatEmail && !emailPattern.MatchString(value) {
			violations = append(violations, fmt.Sprintf("'%s' is not in a valid format", name))
			continue
		}
		fields[name] = value
	}
	if len(violations) > 0 {
		return nil, &Error{Violations: violations}
	}
	return fields, nil
}
