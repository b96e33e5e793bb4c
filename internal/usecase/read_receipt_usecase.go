package usecase

import (
	"context"
	"time"

	"timbermart/internal/domain/entity"
	"timbermart/internal/domain/repository"
	"timbermart/pkg/errors"
	"timbermart/pkg/logger"
)

type ReadReceiptUseCase struct {
	chatRepo     repository.ChatRepository
	notifier     Notifier
	storeTimeout time.Duration
}

func NewReadReceiptUseCase(chatRepo repository.ChatRepository, storeTimeout time.Duration) *ReadReceiptUseCase {
	return &ReadReceiptUseCase{
		chatRepo:     chatRepo,
		notifier:     nopNotifier{},
		storeTimeout: storeTimeout,
	}
}

func (uc *ReadReceiptUseCase) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	uc.notifier = n
}

type ReadResult struct {
	ThreadID string     `json:"thread_id"`
	ByRole   string     `json:"by_role"`
	Updated  int64      `json:"updated"`
	Upto     *time.Time `json:"upto_timestamp,omitempty"`
}

// MarkRead flips read_by_<role> on every counterpart message in the thread and
// sends a read_ack to the counterpart.
func (uc *ReadReceiptUseCase) MarkRead(ctx context.Context, threadID, userID string, role entity.Role) (*ReadResult, error) {
	ctx, cancel := withStoreTimeout(ctx, uc.storeTimeout)
	defer cancel()

	thread, err := uc.chatRepo.GetThreadByID(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !thread.HasParticipant(userID, role) {
		return nil, errors.NotAParticipant("You are not a participant of this thread")
	}

	updated, upto, err := uc.chatRepo.MarkThreadRead(ctx, threadID, role)
	if err != nil {
		logger.Error("MarkRead Error: thread %s role %s: %v", threadID, role, err)
		return nil, err
	}

	if upto != nil {
		uc.notifier.DeliverReadAck(threadID, role, upto)
	}

	return &ReadResult{
		ThreadID: threadID,
		ByRole:   string(role),
		Updated:  updated,
		Upto:     upto,
	}, nil
}

// UnreadCount counts counterpart messages the user has not read, in one
// thread when threadID is set and across all of the user's threads otherwise.
func (uc *ReadReceiptUseCase) UnreadCount(ctx context.Context, userID string, role entity.Role, threadID string) (int64, error) {
	if !role.Valid() {
		return 0, errors.BadRequest("user_type must be buyer or seller", nil)
	}

	ctx, cancel := withStoreTimeout(ctx, uc.storeTimeout)
	defer cancel()

	var ids []string
	if threadID != "" {
		thread, err := uc.chatRepo.GetThreadByID(ctx, threadID)
		if err != nil {
			return 0, err
		}
		if !thread.HasParticipant(userID, role) {
			return 0, errors.NotAParticipant("You are not a participant of this thread")
		}
		ids = []string{threadID}
	} else {
		threads, err := uc.chatRepo.ListThreadsByParticipant(ctx, userID, role)
		if err != nil {
			return 0, err
		}
		for _, t := range threads {
			ids = append(ids, t.ID)
		}
	}

	counts, err := uc.chatRepo.CountUnread(ctx, ids, role)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	return total, nil
}
