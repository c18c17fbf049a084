package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/example/meeting-scheduler/internal/events"
	"github.com/example/meeting-scheduler/internal/persistence"
)

var testPasswordParams = Argon2idParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}

type publishedEvent struct {
	eventType events.EventType
	model     string
	payload   map[string]any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) PublishAfterCommit(_ context.Context, eventType events.EventType, model string, payload map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{eventType: eventType, model: model, payload: payload})
}

func (p *recordingPublisher) published() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

func newUserService(t *testing.T) (*UserService, *recordingPublisher, persistence.Store) {
	t.Helper()

	store := newTestStore(t)
	publisher := &recordingPublisher{}
	svc := NewUserService(store, publisher, sequentialIDs("user"), fixedNow, discardLogger())
	svc.UsePasswordParams(testPasswordParams)
	return svc, publisher, store
}

func TestUserService_CreateUser_NormalizesAndPublishes(t *testing.T) {
	t.Parallel()

	svc, publisher, _ := newUserService(t)

	user, err := svc.CreateUser(context.Background(), UserInput{
		Email:     "  Ada@Example.COM ",
		FirstName: " José ",
		LastName:  "Lovelace",
		Password:  "analytical-engine",
	})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}

	if user.ID != "user-1" || user.Email != "ada@example.com" {
		t.Fatalf("unexpected user %+v", user)
	}
	if user.FirstName != "José" {
		t.Fatalf("expected NFC first name, got %q", user.FirstName)
	}
	if !user.CreatedAt.Equal(tuesday) || !user.UpdatedAt.Equal(tuesday) {
		t.Fatalf("expected timestamps from clock, got %+v", user)
	}

	got := publisher.published()
	if len(got) != 1 {
		t.Fatalf("expected one event, got %d", len(got))
	}
	if got[0].eventType != events.EventCreate || got[0].model != UserModel {
		t.Fatalf("unexpected event %+v", got[0])
	}
	if got[0].payload["id"] != "user-1" || got[0].payload["email"] != "ada@example.com" {
		t.Fatalf("unexpected payload %v", got[0].payload)
	}
}

func TestUserService_CreateUser_Validation(t *testing.T) {
	t.Parallel()

	svc, publisher, _ := newUserService(t)

	tests := []struct {
		name  string
		input UserInput
		field string
	}{
		{name: "missing email", input: UserInput{FirstName: "Ada", Password: "pw"}, field: "email"},
		{name: "invalid email", input: UserInput{Email: "not-an-address", FirstName: "Ada", Password: "pw"}, field: "email"},
		{name: "display name form", input: UserInput{Email: "Ada <ada@example.com>", FirstName: "Ada", Password: "pw"}, field: "email"},
		{name: "missing first name", input: UserInput{Email: "ada@example.com", Password: "pw"}, field: "first_name"},
		{name: "missing password", input: UserInput{Email: "ada@example.com", FirstName: "Ada"}, field: "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateUser(context.Background(), tt.input)
			expectValidationField(t, err, tt.field)
		})
	}

	if n := len(publisher.published()); n != 0 {
		t.Fatalf("expected no events for rejected input, got %d", n)
	}
}

func TestUserService_CreateUser_DuplicateEmail(t *testing.T) {
	t.Parallel()

	svc, publisher, _ := newUserService(t)
	ctx := context.Background()
	input := UserInput{Email: "grace@example.com", FirstName: "Grace", Password: "cobol"}

	if _, err := svc.CreateUser(ctx, input); err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	input.Email = "GRACE@example.com"
	if _, err := svc.CreateUser(ctx, input); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if n := len(publisher.published()); n != 1 {
		t.Fatalf("expected only the first create to publish, got %d events", n)
	}
}

func TestUserService_UpdateUser_RehashesOnlyOnPasswordChange(t *testing.T) {
	t.Parallel()

	svc, publisher, store := newUserService(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, UserInput{Email: "ada@example.com", FirstName: "Ada", Password: "first"})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	original, err := store.Repositories().Users.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser returned error: %v", err)
	}

	if _, err := svc.UpdateUser(ctx, user.ID, UserInput{Email: "ada@example.com", FirstName: "Augusta", Password: "first"}); err != nil {
		t.Fatalf("UpdateUser returned error: %v", err)
	}
	same, err := store.Repositories().Users.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser returned error: %v", err)
	}
	if same.HashedPassword != original.HashedPassword {
		t.Fatal("expected hash to be kept for an unchanged password")
	}
	if same.FirstName != "Augusta" {
		t.Fatalf("expected first name update, got %q", same.FirstName)
	}

	if _, err := svc.UpdateUser(ctx, user.ID, UserInput{Email: "ada@example.com", FirstName: "Augusta"}); err != nil {
		t.Fatalf("UpdateUser without password returned error: %v", err)
	}

	if _, err := svc.UpdateUser(ctx, user.ID, UserInput{Email: "ada@example.com", FirstName: "Augusta", Password: "second"}); err != nil {
		t.Fatalf("UpdateUser returned error: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "ada@example.com", "first"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected old password to be rejected, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, " ADA@example.com", "second"); err != nil {
		t.Fatalf("expected new password to authenticate, got %v", err)
	}

	got := publisher.published()
	if len(got) != 4 {
		t.Fatalf("expected create plus three updates, got %d events", len(got))
	}
	for _, event := range got[1:] {
		if event.eventType != events.EventUpdate {
			t.Fatalf("expected update event, got %q", event.eventType)
		}
	}

	if _, err := svc.UpdateUser(ctx, "missing", UserInput{Email: "x@example.com", FirstName: "X"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserService_Authenticate(t *testing.T) {
	t.Parallel()

	svc, _, _ := newUserService(t)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, UserInput{Email: "ada@example.com", FirstName: "Ada", Password: "secret"}); err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}

	if _, err := svc.Authenticate(ctx, "nobody@example.com", "secret"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch for unknown email, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "ada@example.com", "wrong"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch for wrong password, got %v", err)
	}
	user, err := svc.Authenticate(ctx, "ada@example.com", "secret")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if user.Email != "ada@example.com" {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestUserService_DeleteUser(t *testing.T) {
	t.Parallel()

	svc, publisher, _ := newUserService(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, UserInput{Email: "ada@example.com", FirstName: "Ada", Password: "secret"})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	if err := svc.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("DeleteUser returned error: %v", err)
	}
	if err := svc.DeleteUser(ctx, user.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, err := svc.GetUser(ctx, user.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	got := publisher.published()
	if len(got) != 2 {
		t.Fatalf("expected create and delete events, got %d", len(got))
	}
	last := got[1]
	if last.eventType != events.EventDelete || len(last.payload) != 1 || last.payload["id"] != user.ID {
		t.Fatalf("unexpected delete event %+v", last)
	}
}

func TestUserService_ListUsers(t *testing.T) {
	t.Parallel()

	svc, _, _ := newUserService(t)
	ctx := context.Background()

	for _, email := range []string{"zed@example.com", "amy@example.com"} {
		if _, err := svc.CreateUser(ctx, UserInput{Email: email, FirstName: "Test", Password: "pw"}); err != nil {
			t.Fatalf("CreateUser returned error: %v", err)
		}
	}

	users, err := svc.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers returned error: %v", err)
	}
	if len(users) != 2 || users[0].Email != "amy@example.com" || users[1].Email != "zed@example.com" {
		t.Fatalf("expected users ordered by email, got %+v", users)
	}
}

func TestPassword_HashAndVerify(t *testing.T) {
	t.Parallel()

	hashed, err := HashPassword("correct horse", testPasswordParams)
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	if err := VerifyPassword(hashed, "correct horse"); err != nil {
		t.Fatalf("VerifyPassword returned error: %v", err)
	}
	if err := VerifyPassword(hashed, "battery staple"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
	if err := VerifyPassword("plaintext", "plaintext"); !errors.Is(err, ErrInvalidPasswordHash) {
		t.Fatalf("expected ErrInvalidPasswordHash, got %v", err)
	}
}
