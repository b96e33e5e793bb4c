package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"timbermart/internal/domain/entity"
	"timbermart/internal/domain/repository"
	apperrors "timbermart/pkg/errors"
)

type gormParticipantRepository struct {
	db *gorm.DB
}

func NewGormParticipantRepository(db *gorm.DB) repository.ParticipantRepository {
	return &gormParticipantRepository{db: db}
}

func (r *gormParticipantRepository) Get(ctx context.Context, userID string, role entity.Role) (*entity.Participant, error) {
	var participant entity.Participant
	err := r.db.WithContext(ctx).
		Where("id = ? AND role = ?", userID, role).
		Take(&participant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("Participant", err)
	}
	if err != nil {
		return nil, storeError("Failed to get participant", err)
	}
	return &participant, nil
}

func (r *gormParticipantRepository) Touch(ctx context.Context, touches []repository.PresenceTouch) error {
	if len(touches) == 0 {
		return nil
	}

	rows := make([]entity.Participant, 0, len(touches))
	for _, t := range touches {
		rows = append(rows, entity.Participant{
			ID:           t.UserID,
			Role:         t.Role,
			IsOnline:     true,
			LastActivity: t.At.UTC().Truncate(timestampPrecision),
		})
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}, {Name: "role"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_online", "last_activity"}),
		}).
		Create(&rows).Error
	if err != nil {
		return storeError("Failed to record presence", err)
	}
	return nil
}

func (r *gormParticipantRepository) DemoteIdle(ctx context.Context, cutoff time.Time) ([]entity.ParticipantKey, error) {
	var candidates []entity.Participant
	err := r.db.WithContext(ctx).
		Where("is_online = ? AND last_activity < ?", true, cutoff.UTC()).
		Find(&candidates).Error
	if err != nil {
		return nil, storeError("Failed to find idle participants", err)
	}

	var demoted []entity.ParticipantKey
	for _, p := range candidates {
		// Re-checking the predicate lets a touch that landed after the
		// select win over the demotion.
		res := r.db.WithContext(ctx).
			Model(&entity.Participant{}).
			Where("id = ? AND role = ? AND is_online = ? AND last_activity < ?", p.ID, p.Role, true, cutoff.UTC()).
			Update("is_online", false)
		if res.Error != nil {
			return demoted, storeError("Failed to demote participant", res.Error)
		}
		if res.RowsAffected > 0 {
			demoted = append(demoted, entity.ParticipantKey{UserID: p.ID, Role: p.Role})
		}
	}
	return demoted, nil
}

func (r *gormParticipantRepository) SetOffline(ctx context.Context, userID string, role entity.Role) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.Participant{}).
		Where("id = ? AND role = ? AND is_online = ?", userID, role, true).
		Update("is_online", false)
	if res.Error != nil {
		return false, storeError("Failed to set participant offline", res.Error)
	}
	return res.RowsAffected > 0, nil
}
