package repository

import (
	"context"
	"sync"
	"time"

	"timbermart/internal/domain/entity"
	"timbermart/internal/domain/repository"
	apperrors "timbermart/pkg/errors"
)

type memoryParticipantRepository struct {
	mu           sync.Mutex
	participants map[entity.ParticipantKey]*entity.Participant
}

func NewMemoryParticipantRepository() repository.ParticipantRepository {
	return &memoryParticipantRepository{
		participants: make(map[entity.ParticipantKey]*entity.Participant),
	}
}

func (r *memoryParticipantRepository) Get(_ context.Context, userID string, role entity.Role) (*entity.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[entity.ParticipantKey{UserID: userID, Role: role}]
	if !ok {
		return nil, apperrors.NotFound("Participant", nil)
	}
	copied := *p
	return &copied, nil
}

func (r *memoryParticipantRepository) Touch(_ context.Context, touches []repository.PresenceTouch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range touches {
		key := entity.ParticipantKey{UserID: t.UserID, Role: t.Role}
		p, ok := r.participants[key]
		if !ok {
			p = &entity.Participant{ID: t.UserID, Role: t.Role}
			r.participants[key] = p
		}
		p.IsOnline = true
		p.LastActivity = t.At.UTC().Truncate(timestampPrecision)
	}
	return nil
}

func (r *memoryParticipantRepository) DemoteIdle(_ context.Context, cutoff time.Time) ([]entity.ParticipantKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var demoted []entity.ParticipantKey
	for key, p := range r.participants {
		if p.IsOnline && p.LastActivity.Before(cutoff) {
			p.IsOnline = false
			demoted = append(demoted, key)
		}
	}
	return demoted, nil
}

func (r *memoryParticipantRepository) SetOffline(_ context.Context, userID string, role entity.Role) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[entity.ParticipantKey{UserID: userID, Role: role}]
	if !ok || !p.IsOnline {
		return false, nil
	}
	p.IsOnline = false
	return true, nil
}
