package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/example/meeting-scheduler/internal/application"
)

type replicaService interface {
	GetReplica(ctx context.Context, id string) (application.ReplicatedUser, error)
	ListReplicas(ctx context.Context) ([]application.ReplicatedUser, error)
}

// ReplicaHandler exposes the read-only user copies held by the meeting
// service.
type ReplicaHandler struct {
	service   replicaService
	responder responder
	logger    *slog.Logger
}

func NewReplicaHandler(service replicaService, logger *slog.Logger) *ReplicaHandler {
	base := defaultLogger(logger)
	return &ReplicaHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *ReplicaHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	replicas, err := h.service.ListReplicas(r.Context())
	if err != nil {
		handlerLogger(r.Context(), h.logger, "ReplicaHandler", "List").ErrorContext(r.Context(), "replica list failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]replicaDTO, 0, len(replicas))
	for _, replica := range replicas {
		out = append(out, toReplicaDTO(replica))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listReplicasResponse{Users: out})
}

func (h *ReplicaHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errMissingID)
		return
	}

	replica, err := h.service.GetReplica(r.Context(), id)
	if err != nil {
		handlerLogger(r.Context(), h.logger, "ReplicaHandler", "Get", "user_id", id).WarnContext(r.Context(), "replica lookup failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, replicaResponse{User: toReplicaDTO(replica)})
}

type replicaResponse struct {
	User replicaDTO `json:"user"`
}

type listReplicasResponse struct {
	Users []replicaDTO `json:"users"`
}

type replicaDTO struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	UpdatedAt string `json:"updated_at"`
}

func toReplicaDTO(replica application.ReplicatedUser) replicaDTO {
	return replicaDTO{
		ID:        replica.ID,
		Email:     replica.Email,
		FirstName: replica.FirstName,
		LastName:  replica.LastName,
		UpdatedAt: formatTime(replica.UpdatedAt),
	}
}
