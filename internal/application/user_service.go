package application

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/example/meeting-scheduler/internal/events"
	"github.com/example/meeting-scheduler/internal/persistence"
)

// UserModel is the model name carried by user change envelopes.
const UserModel = "User"

// EventPublisher emits change notifications once the local write committed.
type EventPublisher interface {
	PublishAfterCommit(ctx context.Context, eventType events.EventType, model string, payload map[string]any)
}

// UserService owns the authoritative user records and announces every change.
type UserService struct {
	store          persistence.Store
	publisher      EventPublisher
	idGenerator    func() string
	now            func() time.Time
	logger         *slog.Logger
	passwordParams Argon2idParams
}

// NewUserService wires dependencies for the user service. A nil publisher
// disables change notifications.
func NewUserService(store persistence.Store, publisher EventPublisher, idGenerator func() string, now func() time.Time, logger *slog.Logger) *UserService {
	if idGenerator == nil {
		idGenerator = NewID
	}
	if now == nil {
		now = time.Now
	}
	return &UserService{
		store:          store,
		publisher:      publisher,
		idGenerator:    idGenerator,
		now:            now,
		logger:         defaultLogger(logger),
		passwordParams: DefaultArgon2idParams,
	}
}

// UsePasswordParams replaces the argon2id cost parameters for new hashes.
func (s *UserService) UsePasswordParams(params Argon2idParams) {
	s.passwordParams = params
}

func (s *UserService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "UserService", operation, attrs...)
}

// CreateUser validates input, stores the user and publishes a create event.
func (s *UserService) CreateUser(ctx context.Context, input UserInput) (user User, err error) {
	logger := s.loggerWith(ctx, "CreateUser")
	defer func() {
		logOutcome(ctx, logger, err, "failed to create user", "user created", "user_id", user.ID)
	}()

	normalized := normalizeUserInput(input)
	vErr := validateUserInput(normalized)
	if normalized.Password == "" {
		vErr.add("password", "password is required")
	}
	if vErr.HasErrors() {
		return User{}, vErr
	}

	hashed, err := HashPassword(normalized.Password, s.passwordParams)
	if err != nil {
		return User{}, err
	}

	now := s.now().UTC()
	record := persistence.User{
		ID:             s.idGenerator(),
		Email:          normalized.Email,
		FirstName:      normalized.FirstName,
		LastName:       normalized.LastName,
		HashedPassword: hashed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.store.WithinTransaction(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		return repos.Users.CreateUser(ctx, record)
	})
	if err != nil {
		return User{}, mapRepoError(err)
	}

	s.publish(ctx, events.EventCreate, userPayload(record))
	return userFromRecord(record), nil
}

// UpdateUser replaces the user attributes and publishes an update event.
// The password hash is only recomputed when a different password is given.
func (s *UserService) UpdateUser(ctx context.Context, id string, input UserInput) (user User, err error) {
	logger := s.loggerWith(ctx, "UpdateUser", "user_id", id)
	defer func() {
		logOutcome(ctx, logger, err, "failed to update user", "user updated")
	}()

	normalized := normalizeUserInput(input)
	if vErr := validateUserInput(normalized); vErr.HasErrors() {
		return User{}, vErr
	}

	var record persistence.User
	err = s.store.WithinTransaction(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		existing, err := repos.Users.GetUser(ctx, id)
		if err != nil {
			return err
		}

		existing.Email = normalized.Email
		existing.FirstName = normalized.FirstName
		existing.LastName = normalized.LastName
		existing.UpdatedAt = s.now().UTC()
		if normalized.Password != "" && VerifyPassword(existing.HashedPassword, normalized.Password) != nil {
			hashed, err := HashPassword(normalized.Password, s.passwordParams)
			if err != nil {
				return err
			}
			existing.HashedPassword = hashed
		}

		if err := repos.Users.UpdateUser(ctx, existing); err != nil {
			return err
		}
		record = existing
		return nil
	})
	if err != nil {
		return User{}, mapRepoError(err)
	}

	s.publish(ctx, events.EventUpdate, userPayload(record))
	return userFromRecord(record), nil
}

// GetUser returns a single user.
func (s *UserService) GetUser(ctx context.Context, id string) (User, error) {
	record, err := s.store.Repositories().Users.GetUser(ctx, id)
	if err != nil {
		return User{}, mapRepoError(err)
	}
	return userFromRecord(record), nil
}

// ListUsers returns all users ordered by email.
func (s *UserService) ListUsers(ctx context.Context) ([]User, error) {
	records, err := s.store.Repositories().Users.ListUsers(ctx)
	if err != nil {
		return nil, mapRepoError(err)
	}
	users := make([]User, len(records))
	for i, record := range records {
		users[i] = userFromRecord(record)
	}
	return users, nil
}

// Authenticate checks an email and password pair. Unknown emails and wrong
// passwords both yield ErrPasswordMismatch.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (User, error) {
	record, err := s.store.Repositories().Users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return User{}, ErrPasswordMismatch
		}
		return User{}, err
	}
	if err := VerifyPassword(record.HashedPassword, password); err != nil {
		return User{}, err
	}
	return userFromRecord(record), nil
}

// DeleteUser removes the user and publishes a delete event.
func (s *UserService) DeleteUser(ctx context.Context, id string) (err error) {
	logger := s.loggerWith(ctx, "DeleteUser", "user_id", id)
	defer func() {
		logOutcome(ctx, logger, err, "failed to delete user", "user deleted")
	}()

	err = s.store.WithinTransaction(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		return repos.Users.DeleteUser(ctx, id)
	})
	if err != nil {
		return mapRepoError(err)
	}

	s.publish(ctx, events.EventDelete, map[string]any{"id": id})
	return nil
}

func (s *UserService) publish(ctx context.Context, eventType events.EventType, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishAfterCommit(ctx, eventType, UserModel, payload)
}

// userPayload mirrors the stored record. The publisher strips the hash.
func userPayload(record persistence.User) map[string]any {
	return map[string]any{
		"id":              record.ID,
		"email":           record.Email,
		"first_name":      record.FirstName,
		"last_name":       record.LastName,
		"hashed_password": record.HashedPassword,
		"created_at":      record.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":      record.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(email)))
}

func normalizeUserInput(input UserInput) UserInput {
	return UserInput{
		Email:     normalizeEmail(input.Email),
		FirstName: norm.NFC.String(strings.TrimSpace(input.FirstName)),
		LastName:  norm.NFC.String(strings.TrimSpace(input.LastName)),
		Password:  input.Password,
	}
}

func validateUserInput(input UserInput) *ValidationError {
	vErr := &ValidationError{}

	if input.Email == "" {
		vErr.add("email", "email is required")
	} else if addr, err := mail.ParseAddress(input.Email); err != nil || addr.Address != input.Email {
		vErr.add("email", "email is invalid")
	}

	if input.FirstName == "" {
		vErr.add("first_name", "first name is required")
	}

	return vErr
}
