package recurrence

import "fmt"

// InvalidRuleError reports a recurrence expression that cannot be turned
// into an occurrence generator.
type InvalidRuleError struct {
	Expression string
	Reason     string
}

// Error implements the error interface.
func (e *InvalidRuleError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("recurrence: invalid rule %q: %s", e.Expression, e.Reason)
}

func invalidRule(expression, reason string) *InvalidRuleError {
	return &InvalidRuleError{Expression: expression, Reason: reason}
}
