// Package http provides the JSON handlers and middleware for the meeting and
// user services.
//
// The meeting service router exposes:
//   - /recurrences and /recurrences/{id}: rule CRUD exchanging `recurrenceDTO`.
//     GET /recurrences/{id}/occurrences?from=&to=&limit= previews instants,
//     POST /recurrences/{id}/meetings materializes a batch of dates and
//     GET /recurrences/{id}/calendar.ics exports the stored series.
//   - /meetings and /meetings/{id}: occurrence CRUD exchanging `meetingDTO`.
//     GET /meetings?user_id= lists the meetings a user attends. The series
//     transitions are POST /meetings/{id}/complete, POST /meetings/{id}/advance
//     and GET /meetings/{id}/next?after=.
//   - /meetings/{id}/attendees and /meetings/{id}/tasks for links. Tasks are
//     linked with POST and unlinked with DELETE on /meetings/{id}/tasks/{taskID};
//     POST /meetings/{id}/tasks/reassign moves the open ones elsewhere.
//   - /tasks and /tasks/{id}, plus POST /tasks/{id}/complete. GET
//     /tasks?assignee_id= narrows the list to one assignee.
//   - GET /replicas/users and GET /replicas/users/{id} for replicated users.
//
// The user service router exposes /users and /users/{id}.
//
// Failures use the body {"error_code","message","errors"} where messages are
// Japanese and errors maps request fields to their problem.
package http
