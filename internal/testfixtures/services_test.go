package testfixtures

import (
	"context"
	"testing"
)

func TestServiceFactoryUsesDeterministicIDsAndClock(t *testing.T) {
	store := NewStore(t)
	factory := NewServiceFactory(store, WithIDGenerator(NewIDGenerator("rec")))

	created, err := factory.Recurrences().CreateRecurrence(context.Background(), NewRecurrenceFixture().Input())
	if err != nil {
		t.Fatalf("CreateRecurrence returned error: %v", err)
	}
	if created.ID != "rec-1" {
		t.Fatalf("expected generated ID rec-1, got %q", created.ID)
	}
	if !created.CreatedAt.Equal(factory.Clock.Now()) {
		t.Fatalf("expected timestamp %v, got %v", factory.Clock.Now(), created.CreatedAt)
	}
}

func TestSeedHelpersPopulateStore(t *testing.T) {
	store := NewStore(t)
	ctx := context.Background()

	alice := NewUserFixture()
	SeedReplicas(t, store, alice.Replica())

	rule := NewRecurrenceFixture()
	meeting := NewMeetingFixture(WithMeetingRecurrence(rule.ID))
	SeedRecurrence(t, store, rule.Persistence(), meeting.Persistence())
	SeedTasks(t, store, meeting.ID, NewTaskFixture(WithTaskAssignee(alice.ID)).Persistence())

	tasks, err := store.Repositories().Tasks.ListTasksForMeeting(ctx, meeting.ID)
	if err != nil {
		t.Fatalf("ListTasksForMeeting returned error: %v", err)
	}
	if len(tasks) != 1 || tasks[0].AssigneeID == nil || *tasks[0].AssigneeID != alice.ID {
		t.Fatalf("unexpected tasks: %#v", tasks)
	}
}
