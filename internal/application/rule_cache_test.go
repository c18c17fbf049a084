package application

import (
	"errors"
	"testing"
	"time"

	"github.com/example/meeting-scheduler/internal/recurrence"
)

func TestRuleCacheReusesParsedRules(t *testing.T) {
	current := tuesday
	cache := newRuleCache(time.Minute, 4, func() time.Time { return current })

	first, err := cache.Parse(" FREQ=WEEKLY;BYDAY=TU ")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	second, err := cache.Parse("FREQ=WEEKLY;BYDAY=TU")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if first.String() != second.String() {
		t.Fatalf("expected identical rules, got %q and %q", first, second)
	}
	if cache.len() != 1 {
		t.Fatalf("expected one cached entry, got %d", cache.len())
	}
}

func TestRuleCacheDoesNotCacheFailures(t *testing.T) {
	cache := newRuleCache(time.Minute, 4, nil)

	_, err := cache.Parse("FREQ=SOMETIMES")
	var ruleErr *recurrence.InvalidRuleError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("expected InvalidRuleError, got %v", err)
	}
	if cache.len() != 0 {
		t.Fatalf("expected failures to stay uncached, got %d entries", cache.len())
	}
}

func TestRuleCacheExpiresAndEvicts(t *testing.T) {
	current := tuesday
	cache := newRuleCache(time.Second, 2, func() time.Time { return current })

	for _, expr := range []string{"FREQ=DAILY", "FREQ=WEEKLY", "FREQ=MONTHLY"} {
		if _, err := cache.Parse(expr); err != nil {
			t.Fatalf("Parse(%q) returned error: %v", expr, err)
		}
	}
	if cache.len() != 2 {
		t.Fatalf("expected eviction to cap entries at 2, got %d", cache.len())
	}

	current = current.Add(2 * time.Second)
	if _, ok := cache.get("FREQ=MONTHLY"); ok {
		t.Fatalf("expected entry to expire")
	}
}
