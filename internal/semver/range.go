package semver

import (
	"fmt"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// Range is a version range.
//
// Accepted forms:
// - ""              any version
// - "1.2"           at least 1.2 (a floor, not an exact match)
// - "[1.2,2.0)"     interval with inclusive/exclusive ends
// - ">=1.2.0 <2"    any github.com/Masterminds/semver/v3 constraint
type Range struct {
	raw string
	c   *mm.Constraints
}

func ParseRange(raw string) (Range, error) {
	trimmed := strings.TrimSpace(raw)
	expr, err := constraintExpr(trimmed)
	if err != nil {
		return Range{}, fmt.Errorf("semver: parse range %q: %w", raw, err)
	}
	c, err := mm.NewConstraint(expr)
	if err != nil {
		return Range{}, fmt.Errorf("semver: parse range %q: %w", raw, err)
	}
	return Range{raw: trimmed, c: c}, nil
}

func constraintExpr(raw string) (string, error) {
	if raw == "" {
		return ">=0.0.0", nil
	}
	if raw[0] == '[' || raw[0] == '(' {
		return intervalExpr(raw)
	}
	if _, err := mm.StrictNewVersion(raw); err == nil {
		return ">=" + raw, nil
	}
	if _, err := mm.NewVersion(raw); err == nil && !strings.ContainsAny(raw, "<>=~^*xX|, ") {
		return ">=" + raw, nil
	}
	return raw, nil
}

func intervalExpr(raw string) (string, error) {
	last := raw[len(raw)-1]
	if last != ']' && last != ')' {
		return "", fmt.Errorf("unterminated interval")
	}
	parts := strings.Split(raw[1:len(raw)-1], ",")
	if len(parts) != 2 {
		return "", fmt.Errorf("interval needs exactly two endpoints")
	}
	low, high := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if low == "" || high == "" {
		return "", fmt.Errorf("interval endpoints must not be empty")
	}
	for _, end := range []string{low, high} {
		if _, err := mm.NewVersion(end); err != nil {
			return "", err
		}
	}
	lowOp, highOp := ">=", "<="
	if raw[0] == '(' {
		lowOp = ">"
	}
	if last == ')' {
		highOp = "<"
	}
	return fmt.Sprintf("%s%s, %s%s", lowOp, low, highOp, high), nil
}

// Includes reports whether v lies in r. The zero Range includes nothing.
func (r Range) Includes(v Version) bool {
	if r.c == nil {
		return false
	}
	return r.c.Check(v.orZero())
}

func (r Range) String() string {
	return r.raw
}
