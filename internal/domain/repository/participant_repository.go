package repository

import (
	"context"
	"time"

	"timbermart/internal/domain/entity"
)

type PresenceTouch struct {
	UserID string
	Role   entity.Role
	At     time.Time
}

// ParticipantRepository persists (user_id, role, is_online, last_activity).
type ParticipantRepository interface {
	Get(ctx context.Context, userID string, role entity.Role) (*entity.Participant, error)
	// Touch upserts each entry as online with last_activity = At.
	Touch(ctx context.Context, touches []PresenceTouch) error
	// DemoteIdle sets is_online=false for online participants whose
	// last_activity is before cutoff and returns exactly those it changed.
	DemoteIdle(ctx context.Context, cutoff time.Time) ([]entity.ParticipantKey, error)
	// SetOffline demotes one participant and reports whether it was online.
	SetOffline(ctx context.Context, userID string, role entity.Role) (bool, error)
}
