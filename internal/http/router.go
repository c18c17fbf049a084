package http

import (
	"net/http"
)

// RouterConfig lists the handlers to mount. Nil handlers leave their routes
// unregistered so the meeting and user services can share this router.
type RouterConfig struct {
	Recurrences *RecurrenceHandler
	Meetings    *MeetingHandler
	Tasks       *TaskHandler
	Replicas    *ReplicaHandler
	Users       *UserHandler
	Middleware  []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	if h := cfg.Recurrences; h != nil {
		mux.HandleFunc("GET /recurrences", h.List)
		mux.HandleFunc("POST /recurrences", h.Create)
		mux.HandleFunc("GET /recurrences/{id}", h.Get)
		mux.HandleFunc("PUT /recurrences/{id}", h.Update)
		mux.HandleFunc("DELETE /recurrences/{id}", h.Delete)
		mux.HandleFunc("GET /recurrences/{id}/occurrences", h.Occurrences)
		mux.HandleFunc("POST /recurrences/{id}/meetings", h.Materialize)
		mux.HandleFunc("GET /recurrences/{id}/calendar.ics", h.Calendar)
	}

	if h := cfg.Meetings; h != nil {
		mux.HandleFunc("GET /meetings", h.List)
		mux.HandleFunc("POST /meetings", h.Create)
		mux.HandleFunc("GET /meetings/{id}", h.Get)
		mux.HandleFunc("PUT /meetings/{id}", h.Update)
		mux.HandleFunc("DELETE /meetings/{id}", h.Delete)
		mux.HandleFunc("POST /meetings/{id}/complete", h.Complete)
		mux.HandleFunc("POST /meetings/{id}/advance", h.Advance)
		mux.HandleFunc("GET /meetings/{id}/next", h.Next)
		mux.HandleFunc("GET /meetings/{id}/attendees", h.ListAttendees)
		mux.HandleFunc("POST /meetings/{id}/attendees", h.AddAttendee)
		mux.HandleFunc("DELETE /meetings/{id}/attendees/{userID}", h.RemoveAttendee)
		mux.HandleFunc("GET /meetings/{id}/tasks", h.Tasks)
		mux.HandleFunc("POST /meetings/{id}/tasks/reassign", h.ReassignTasks)
		mux.HandleFunc("POST /meetings/{id}/tasks/{taskID}", h.LinkTask)
		mux.HandleFunc("DELETE /meetings/{id}/tasks/{taskID}", h.UnlinkTask)
	}

	if h := cfg.Tasks; h != nil {
		mux.HandleFunc("GET /tasks", h.List)
		mux.HandleFunc("POST /tasks", h.Create)
		mux.HandleFunc("GET /tasks/{id}", h.Get)
		mux.HandleFunc("PUT /tasks/{id}", h.Update)
		mux.HandleFunc("DELETE /tasks/{id}", h.Delete)
		mux.HandleFunc("POST /tasks/{id}/complete", h.Complete)
	}

	if h := cfg.Replicas; h != nil {
		mux.HandleFunc("GET /replicas/users", h.List)
		mux.HandleFunc("GET /replicas/users/{id}", h.Get)
	}

	if h := cfg.Users; h != nil {
		mux.HandleFunc("GET /users", h.List)
		mux.HandleFunc("POST /users", h.Create)
		mux.HandleFunc("GET /users/{id}", h.Get)
		mux.HandleFunc("PUT /users/{id}", h.Update)
		mux.HandleFunc("DELETE /users/{id}", h.Delete)
	}

	var handler http.Handler = mux
	if len(cfg.Middleware) > 0 {
		for i := len(cfg.Middleware) - 1; i >= 0; i-- {
			if cfg.Middleware[i] != nil {
				handler = cfg.Middleware[i](handler)
			}
		}
	}

	return handler
}
