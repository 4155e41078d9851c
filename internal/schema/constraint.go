package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Constraint is a single declarative check applied to an already typed value.
type Constraint interface {
	// Kind is the violation kind reported when the check fails.
	Kind() ViolationKind
	// Check returns a detail message and false if v breaks the constraint.
	Check(v any) (string, bool)
	// Describe renders the constraint for prompts and CLI output.
	Describe() string
}

type enumConstraint struct{ allowed []string }

func (c enumConstraint) Kind() ViolationKind { return NotInEnum }

func (c enumConstraint) Check(v any) (string, bool) {
	s, _ := v.(string)
	for _, a := range c.allowed {
		if s == a {
			return "", true
		}
	}
	return fmt.Sprintf("%q is not one of %s", s, c.list()), false
}

func (c enumConstraint) Describe() string {
	return "one of " + c.list()
}

func (c enumConstraint) list() string {
	quoted := make([]string, len(c.allowed))
	for i, a := range c.allowed {
		quoted[i] = strconv.Quote(a)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

type minimumConstraint struct{ min float64 }

func (c minimumConstraint) Kind() ViolationKind { return BelowMinimum }

func (c minimumConstraint) Check(v any) (string, bool) {
	n, ok := asFloat(v)
	if !ok || n >= c.min {
		return "", true
	}
	return fmt.Sprintf("%s is below the minimum %s", formatNumber(n), formatNumber(c.min)), false
}

func (c minimumConstraint) Describe() string { return ">= " + formatNumber(c.min) }

type maximumConstraint struct{ max float64 }

func (c maximumConstraint) Kind() ViolationKind { return AboveMaximum }

func (c maximumConstraint) Check(v any) (string, bool) {
	n, ok := asFloat(v)
	if !ok || n <= c.max {
		return "", true
	}
	return fmt.Sprintf("%s is above the maximum %s", formatNumber(n), formatNumber(c.max)), false
}

func (c maximumConstraint) Describe() string { return "<= " + formatNumber(c.max) }

type minLengthConstraint struct{ min int }

func (c minLengthConstraint) Kind() ViolationKind { return TooShort }

func (c minLengthConstraint) Check(v any) (string, bool) {
	s, _ := v.(string)
	if n := utf8.RuneCountInString(s); n < c.min {
		return fmt.Sprintf("length %d is shorter than %d", n, c.min), false
	}
	return "", true
}

func (c minLengthConstraint) Describe() string { return fmt.Sprintf("at least %d characters", c.min) }

type maxLengthConstraint struct{ max int }

func (c maxLengthConstraint) Kind() ViolationKind { return TooLong }

func (c maxLengthConstraint) Check(v any) (string, bool) {
	s, _ := v.(string)
	if n := utf8.RuneCountInString(s); n > c.max {
		return fmt.Sprintf("length %d is longer than %d", n, c.max), false
	}
	return "", true
}

func (c maxLengthConstraint) Describe() string { return fmt.Sprintf("at most %d characters", c.max) }

type patternConstraint struct{ re *regexp.Regexp }

func (c patternConstraint) Kind() ViolationKind { return PatternMismatch }

func (c patternConstraint) Check(v any) (string, bool) {
	s, _ := v.(string)
	if c.re.MatchString(s) {
		return "", true
	}
	return fmt.Sprintf("%q does not match %s", s, c.re.String()), false
}

func (c patternConstraint) Describe() string { return "matching " + c.re.String() }

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
