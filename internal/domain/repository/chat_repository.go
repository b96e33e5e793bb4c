package repository

import (
	"context"
	"time"

	"timbermart/internal/domain/entity"
)

// ChatRepository is the durable store for threads, messages and read state.
//
// Implementations assign Message.Seq (1, 2, ... per thread) and
// Message.CreatedAt at insert, keeping CreatedAt non-decreasing in Seq order,
// and report store failures as STORE_UNAVAILABLE.
type ChatRepository interface {
	// CreateThread fails with DUPLICATE when the (buyer, seller) pair already has a thread.
	CreateThread(ctx context.Context, thread *entity.Thread) error
	GetThreadByID(ctx context.Context, id string) (*entity.Thread, error)
	GetThreadByParticipants(ctx context.Context, buyerID, sellerID string) (*entity.Thread, error)
	ListThreadsByParticipant(ctx context.Context, userID string, role entity.Role) ([]*entity.Thread, error)

	// AppendMessage stores message unless its ID already exists, in which case
	// the stored message is returned with created=false.
	AppendMessage(ctx context.Context, message *entity.Message) (stored *entity.Message, created bool, err error)
	GetMessageByID(ctx context.Context, id string) (*entity.Message, error)
	// ListMessages returns up to limit messages in descending Seq order. A
	// positive beforeSeq restricts the page to messages with a lower Seq.
	ListMessages(ctx context.Context, threadID string, limit int, beforeSeq int64) ([]*entity.Message, error)
	LastMessages(ctx context.Context, threadIDs []string) (map[string]*entity.Message, error)

	// CountUnread counts, per thread, messages the counterpart of role sent
	// that role has not read.
	CountUnread(ctx context.Context, threadIDs []string, role entity.Role) (map[string]int64, error)
	// MarkThreadRead flips read_by_<role> on every counterpart message in the
	// thread in one statement. upto is the newest counterpart message time.
	MarkThreadRead(ctx context.Context, threadID string, role entity.Role) (updated int64, upto *time.Time, err error)
}
