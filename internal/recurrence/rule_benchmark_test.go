package recurrence

import (
	"testing"
	"time"
)

func BenchmarkRuleNext(b *testing.B) {
	rule := MustParse("FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR;BYHOUR=9;BYMINUTE=30")
	anchor := time.Date(2024, time.May, 6, 9, 30, 0, 0, time.UTC)
	after := anchor.AddDate(1, 0, 0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := rule.Next(anchor, after); !ok {
			b.Fatal("expected an occurrence")
		}
	}
}
