package application

import (
	"context"

	"github.com/example/meeting-scheduler/internal/persistence"
)

// ReplicaService exposes the locally replicated users read-only.
type ReplicaService struct {
	store persistence.Store
}

// NewReplicaService wires the replica read path.
func NewReplicaService(store persistence.Store) *ReplicaService {
	return &ReplicaService{store: store}
}

// GetReplica returns one replicated user. A user whose create event has not
// arrived yet is reported as ErrNotFound.
func (s *ReplicaService) GetReplica(ctx context.Context, id string) (ReplicatedUser, error) {
	replica, err := s.store.Repositories().Replicas.GetReplica(ctx, id)
	if err != nil {
		return ReplicatedUser{}, mapRepoError(err)
	}
	return replica, nil
}

// ListReplicas returns every replicated user ordered by email.
func (s *ReplicaService) ListReplicas(ctx context.Context) ([]ReplicatedUser, error) {
	replicas, err := s.store.Repositories().Replicas.ListReplicas(ctx)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return replicas, nil
}
