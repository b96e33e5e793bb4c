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

// Timestamps are stored at millisecond precision, the finest every supported
// driver keeps by default.
const timestampPrecision = time.Millisecond

type gormChatRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormChatRepository(db *gorm.DB) repository.ChatRepository {
	return &gormChatRepository{
		db:  db,
		now: time.Now,
	}
}

func (r *gormChatRepository) CreateThread(ctx context.Context, thread *entity.Thread) error {
	thread.CreatedAt = r.now().UTC().Truncate(timestampPrecision)

	err := r.db.WithContext(ctx).Create(thread).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.Duplicate("thread already exists for this buyer and seller")
	}
	if err != nil {
		return storeError("Failed to create thread", err)
	}
	return nil
}

func (r *gormChatRepository) GetThreadByID(ctx context.Context, id string) (*entity.Thread, error) {
	var thread entity.Thread
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&thread).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ThreadNotFound(id, err)
	}
	if err != nil {
		return nil, storeError("Failed to get thread", err)
	}
	return &thread, nil
}

func (r *gormChatRepository) GetThreadByParticipants(ctx context.Context, buyerID, sellerID string) (*entity.Thread, error) {
	var thread entity.Thread
	err := r.db.WithContext(ctx).
		Where("buyer_id = ? AND seller_id = ?", buyerID, sellerID).
		Take(&thread).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ThreadNotFound(buyerID+"/"+sellerID, err)
	}
	if err != nil {
		return nil, storeError("Failed to get thread", err)
	}
	return &thread, nil
}

func (r *gormChatRepository) ListThreadsByParticipant(ctx context.Context, userID string, role entity.Role) ([]*entity.Thread, error) {
	column := "buyer_id"
	if role == entity.RoleSeller {
		column = "seller_id"
	}

	var threads []*entity.Thread
	err := r.db.WithContext(ctx).
		Where(column+" = ?", userID).
		Order("created_at DESC").
		Find(&threads).Error
	if err != nil {
		return nil, storeError("Failed to list threads", err)
	}
	return threads, nil
}

func (r *gormChatRepository) AppendMessage(ctx context.Context, message *entity.Message) (*entity.Message, bool, error) {
	var (
		stored  *entity.Message
		created bool
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing entity.Message
		err := tx.Where("id = ?", message.ID).Take(&existing).Error
		if err == nil {
			stored = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// The thread row lock serialises inserts per thread so created_at
		// can be kept non-decreasing.
		var thread entity.Thread
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", message.ThreadID).
			Take(&thread).Error
		if err != nil {
			return err
		}

		createdAt := r.now().UTC().Truncate(timestampPrecision)
		seq := int64(1)
		var last entity.Message
		err = tx.Where("thread_id = ?", message.ThreadID).
			Order("seq DESC").
			Limit(1).
			Take(&last).Error
		switch {
		case err == nil:
			seq = last.Seq + 1
			if last.CreatedAt.After(createdAt) {
				createdAt = last.CreatedAt
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		message.Seq = seq
		message.CreatedAt = createdAt
		message.MarkSenderRead()
		if err := tx.Create(message).Error; err != nil {
			return err
		}

		stored = message
		created = true
		return nil
	})

	switch {
	case err == nil:
		return stored, created, nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		// A concurrent insert with the same id committed first.
		existing, getErr := r.GetMessageByID(ctx, message.ID)
		if getErr != nil {
			return nil, false, getErr
		}
		return existing, false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, false, apperrors.ThreadNotFound(message.ThreadID, err)
	default:
		return nil, false, storeError("Failed to append message", err)
	}
}

func (r *gormChatRepository) GetMessageByID(ctx context.Context, id string) (*entity.Message, error) {
	var message entity.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("Message", err)
	}
	if err != nil {
		return nil, storeError("Failed to get message", err)
	}
	return &message, nil
}

func (r *gormChatRepository) ListMessages(ctx context.Context, threadID string, limit int, beforeSeq int64) ([]*entity.Message, error) {
	query := r.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("seq DESC").
		Limit(limit)
	if beforeSeq > 0 {
		query = query.Where("seq < ?", beforeSeq)
	}

	var messages []*entity.Message
	if err := query.Find(&messages).Error; err != nil {
		return nil, storeError("Failed to list messages", err)
	}
	return messages, nil
}

func (r *gormChatRepository) LastMessages(ctx context.Context, threadIDs []string) (map[string]*entity.Message, error) {
	result := make(map[string]*entity.Message, len(threadIDs))
	for _, threadID := range threadIDs {
		var messages []*entity.Message
		err := r.db.WithContext(ctx).
			Where("thread_id = ?", threadID).
			Order("seq DESC").
			Limit(1).
			Find(&messages).Error
		if err != nil {
			return nil, storeError("Failed to load last message", err)
		}
		if len(messages) > 0 {
			result[threadID] = messages[0]
		}
	}
	return result, nil
}

func (r *gormChatRepository) CountUnread(ctx context.Context, threadIDs []string, role entity.Role) (map[string]int64, error) {
	result := make(map[string]int64, len(threadIDs))
	if len(threadIDs) == 0 {
		return result, nil
	}

	type unreadRow struct {
		ThreadID string
		Unread   int64
	}

	var rows []unreadRow
	err := r.db.WithContext(ctx).
		Model(&entity.Message{}).
		Select("thread_id, COUNT(*) AS unread").
		Where("thread_id IN ?", threadIDs).
		Where("sender_kind = ?", role.Counterpart()).
		Where(readColumn(role)+" = ?", false).
		Group("thread_id").
		Scan(&rows).Error
	if err != nil {
		return nil, storeError("Failed to count unread messages", err)
	}

	for _, row := range rows {
		result[row.ThreadID] = row.Unread
	}
	return result, nil
}

func (r *gormChatRepository) MarkThreadRead(ctx context.Context, threadID string, role entity.Role) (int64, *time.Time, error) {
	var (
		updated int64
		upto    *time.Time
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&entity.Message{}).
			Where("thread_id = ? AND sender_kind = ?", threadID, role.Counterpart()).
			Where(readColumn(role)+" = ?", false).
			Update(readColumn(role), true)
		if res.Error != nil {
			return res.Error
		}
		updated = res.RowsAffected

		var latest []*entity.Message
		err := tx.Where("thread_id = ? AND sender_kind = ?", threadID, role.Counterpart()).
			Order("created_at DESC").
			Limit(1).
			Find(&latest).Error
		if err != nil {
			return err
		}
		if len(latest) > 0 {
			at := latest[0].CreatedAt
			upto = &at
		}
		return nil
	})
	if err != nil {
		return 0, nil, storeError("Failed to mark thread read", err)
	}
	return updated, upto, nil
}

func readColumn(role entity.Role) string {
	if role == entity.RoleBuyer {
		return "read_by_buyer"
	}
	return "read_by_seller"
}

func storeError(message string, err error) *apperrors.AppError {
	return apperrors.StoreUnavailable(message, err)
}
