package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

const rulePrefix = "RRULE:"

// supportedKeys lists the RRULE properties accepted in a rule expression.
// Rules are always evaluated in UTC, so timezone-bearing properties such as
// TZID or DTSTART are rejected.
var supportedKeys = map[string]struct{}{
	"FREQ":       {},
	"INTERVAL":   {},
	"BYDAY":      {},
	"BYMONTH":    {},
	"BYMONTHDAY": {},
	"BYHOUR":     {},
	"BYMINUTE":   {},
	"BYSECOND":   {},
	"COUNT":      {},
	"UNTIL":      {},
	"WKST":       {},
}

// validationAnchor is the DTSTART used to prove a rule can build a generator.
var validationAnchor = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Rule is a validated recurrence expression.
type Rule struct {
	expression string
	option     rrule.ROption
}

// Parse validates expression and returns a Rule ready for evaluation.
//
// An optional "RRULE:" prefix is accepted. Failures are reported as
// *InvalidRuleError carrying the original expression.
func Parse(expression string) (Rule, error) {
	normalized := strings.TrimSpace(expression)
	if len(normalized) >= len(rulePrefix) && strings.EqualFold(normalized[:len(rulePrefix)], rulePrefix) {
		normalized = strings.TrimSpace(normalized[len(rulePrefix):])
	}
	if normalized == "" {
		return Rule{}, invalidRule(expression, "expression is empty")
	}

	hasFreq := false
	parts := make([]string, 0, 8)
	for _, segment := range strings.Split(normalized, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		key, value, ok := strings.Cut(segment, "=")
		if !ok || strings.TrimSpace(value) == "" {
			return Rule{}, invalidRule(expression, fmt.Sprintf("malformed property %q", segment))
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		if _, allowed := supportedKeys[key]; !allowed {
			return Rule{}, invalidRule(expression, fmt.Sprintf("unsupported property %s", key))
		}
		if key == "FREQ" {
			hasFreq = true
		}
		parts = append(parts, key+"="+strings.TrimSpace(value))
	}
	if !hasFreq {
		return Rule{}, invalidRule(expression, "FREQ is required")
	}

	canonical := strings.Join(parts, ";")
	option, err := rrule.StrToROptionInLocation(canonical, time.UTC)
	if err != nil {
		return Rule{}, invalidRule(expression, err.Error())
	}
	if option.Interval < 0 {
		return Rule{}, invalidRule(expression, "INTERVAL must be positive")
	}

	probe := *option
	probe.Dtstart = validationAnchor
	if _, err := rrule.NewRRule(probe); err != nil {
		return Rule{}, invalidRule(expression, err.Error())
	}

	return Rule{expression: canonical, option: *option}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package level rule literals.
func MustParse(expression string) Rule {
	rule, err := Parse(expression)
	if err != nil {
		panic(err)
	}
	return rule
}

// String returns the canonical form of the rule without the RRULE prefix.
func (r Rule) String() string {
	return r.expression
}

// IsZero reports whether r was produced by Parse.
func (r Rule) IsZero() bool {
	return r.expression == ""
}

// Next returns the earliest occurrence strictly after the given instant for
// a series whose first occurrence is anchor. The boolean is false when the
// rule is exhausted.
func (r Rule) Next(anchor, after time.Time) (time.Time, bool) {
	set, ok := r.generator(anchor)
	if !ok {
		return time.Time{}, false
	}
	next := set.After(after.UTC(), false)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next.UTC(), true
}

// Between returns the occurrences in the half-open window [from, to) for a
// series anchored at anchor, capped at limit results when limit is positive.
func (r Rule) Between(anchor, from, to time.Time, limit int) []time.Time {
	set, ok := r.generator(anchor)
	if !ok || !to.After(from) {
		return nil
	}

	var out []time.Time
	iterator := set.Iterator()
	for {
		occurrence, more := iterator()
		if !more {
			break
		}
		occurrence = occurrence.UTC()
		if !occurrence.Before(to) {
			break
		}
		if occurrence.Before(from) {
			continue
		}
		out = append(out, occurrence)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (r Rule) generator(anchor time.Time) (*rrule.RRule, bool) {
	if r.IsZero() || anchor.IsZero() {
		return nil, false
	}
	option := r.option
	option.Dtstart = anchor.UTC().Truncate(time.Second)
	set, err := rrule.NewRRule(option)
	if err != nil {
		return nil, false
	}
	return set, true
}

// NextOccurrence parses expression and evaluates Next in one step.
func NextOccurrence(expression string, anchor, after time.Time) (time.Time, bool, error) {
	rule, err := Parse(expression)
	if err != nil {
		return time.Time{}, false, err
	}
	next, ok := rule.Next(anchor, after)
	return next, ok, nil
}
