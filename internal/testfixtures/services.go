package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/meeting-scheduler/internal/application"
	"github.com/example/meeting-scheduler/internal/persistence"
)

// cheapPasswordParams keeps argon2id fast enough for tests.
var cheapPasswordParams = application.Argon2idParams{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  8,
	KeyLength:   16,
}

// ServiceFactory builds application services over one store with a shared
// deterministic clock and identifier sequence.
type ServiceFactory struct {
	Store       persistence.Store
	Clock       *Clock
	IDGenerator *IDGenerator
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(store persistence.Store, opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Store:       store,
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
		Logger:      DiscardLogger(),
	}
	for _, opt := range opts {
		opt(factory)
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		if clock != nil {
			factory.Clock = clock
		}
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		if generator != nil {
			factory.IDGenerator = generator
		}
	}
}

// WithLogger overrides the logger handed to services.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		if logger != nil {
			factory.Logger = logger
		}
	}
}

// Recurrences builds a recurrence service.
func (f *ServiceFactory) Recurrences() *application.RecurrenceService {
	return application.NewRecurrenceService(f.Store, f.IDGenerator.NextFunc(), f.Clock.NowFunc(), f.Logger)
}

// Meetings builds a meeting service.
func (f *ServiceFactory) Meetings() *application.MeetingService {
	return application.NewMeetingService(f.Store, f.IDGenerator.NextFunc(), f.Clock.NowFunc(), f.Logger)
}

// Tasks builds a task service.
func (f *ServiceFactory) Tasks() *application.TaskService {
	return application.NewTaskService(f.Store, f.IDGenerator.NextFunc(), f.Clock.NowFunc(), f.Logger)
}

// Replicas builds the replica read service.
func (f *ServiceFactory) Replicas() *application.ReplicaService {
	return application.NewReplicaService(f.Store)
}

// Users builds a user service with cheap password hashing. A nil publisher
// disables change notifications.
func (f *ServiceFactory) Users(publisher application.EventPublisher) *application.UserService {
	svc := application.NewUserService(f.Store, publisher, f.IDGenerator.NextFunc(), f.Clock.NowFunc(), f.Logger)
	svc.UsePasswordParams(cheapPasswordParams)
	return svc
}
