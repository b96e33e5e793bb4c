package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"timbermart/internal/domain/entity"
	"timbermart/internal/domain/repository"
	apperrors "timbermart/pkg/errors"
)

// memoryChatRepository keeps threads and messages in process memory. It backs
// DB_DRIVER=memory and the usecase/hub tests.
type memoryChatRepository struct {
	mu       sync.RWMutex
	now      func() time.Time
	threads  map[string]*entity.Thread
	pairs    map[[2]string]string
	messages map[string]*entity.Message
	byThread map[string][]*entity.Message
}

func NewMemoryChatRepository() repository.ChatRepository {
	return &memoryChatRepository{
		now:      time.Now,
		threads:  make(map[string]*entity.Thread),
		pairs:    make(map[[2]string]string),
		messages: make(map[string]*entity.Message),
		byThread: make(map[string][]*entity.Message),
	}
}

func (r *memoryChatRepository) CreateThread(_ context.Context, thread *entity.Thread) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pair := [2]string{thread.BuyerID, thread.SellerID}
	if _, exists := r.pairs[pair]; exists {
		return apperrors.Duplicate("thread already exists for this buyer and seller")
	}
	if _, exists := r.threads[thread.ID]; exists {
		return apperrors.Duplicate("thread id already exists")
	}

	thread.CreatedAt = r.now().UTC().Truncate(timestampPrecision)
	stored := *thread
	r.threads[thread.ID] = &stored
	r.pairs[pair] = thread.ID
	return nil
}

func (r *memoryChatRepository) GetThreadByID(_ context.Context, id string) (*entity.Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	thread, ok := r.threads[id]
	if !ok {
		return nil, apperrors.ThreadNotFound(id, nil)
	}
	copied := *thread
	return &copied, nil
}

func (r *memoryChatRepository) GetThreadByParticipants(_ context.Context, buyerID, sellerID string) (*entity.Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.pairs[[2]string{buyerID, sellerID}]
	if !ok {
		return nil, apperrors.ThreadNotFound(buyerID+"/"+sellerID, nil)
	}
	copied := *r.threads[id]
	return &copied, nil
}

func (r *memoryChatRepository) ListThreadsByParticipant(_ context.Context, userID string, role entity.Role) ([]*entity.Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var threads []*entity.Thread
	for _, thread := range r.threads {
		if thread.ParticipantID(role) == userID {
			copied := *thread
			threads = append(threads, &copied)
		}
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].CreatedAt.After(threads[j].CreatedAt)
	})
	return threads, nil
}

func (r *memoryChatRepository) AppendMessage(_ context.Context, message *entity.Message) (*entity.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.messages[message.ID]; ok {
		copied := *existing
		return &copied, false, nil
	}
	if _, ok := r.threads[message.ThreadID]; !ok {
		return nil, false, apperrors.ThreadNotFound(message.ThreadID, nil)
	}

	createdAt := r.now().UTC().Truncate(timestampPrecision)
	history := r.byThread[message.ThreadID]
	if len(history) > 0 {
		if last := history[len(history)-1].CreatedAt; last.After(createdAt) {
			createdAt = last
		}
	}

	message.Seq = int64(len(history)) + 1
	message.CreatedAt = createdAt
	message.MarkSenderRead()

	stored := *message
	r.messages[message.ID] = &stored
	r.byThread[message.ThreadID] = append(r.byThread[message.ThreadID], &stored)
	return message, true, nil
}

func (r *memoryChatRepository) GetMessageByID(_ context.Context, id string) (*entity.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	message, ok := r.messages[id]
	if !ok {
		return nil, apperrors.NotFound("Message", nil)
	}
	copied := *message
	return &copied, nil
}

// ListMessages walks the history backwards. history[i] has Seq i+1.
func (r *memoryChatRepository) ListMessages(_ context.Context, threadID string, limit int, beforeSeq int64) ([]*entity.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.byThread[threadID]
	start := len(history) - 1
	if beforeSeq > 0 && beforeSeq-2 < int64(start) {
		start = int(beforeSeq - 2)
	}

	messages := make([]*entity.Message, 0, limit)
	for i := start; i >= 0 && len(messages) < limit; i-- {
		copied := *history[i]
		messages = append(messages, &copied)
	}
	return messages, nil
}

func (r *memoryChatRepository) LastMessages(_ context.Context, threadIDs []string) (map[string]*entity.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*entity.Message, len(threadIDs))
	for _, threadID := range threadIDs {
		if history := r.byThread[threadID]; len(history) > 0 {
			copied := *history[len(history)-1]
			result[threadID] = &copied
		}
	}
	return result, nil
}

func (r *memoryChatRepository) CountUnread(_ context.Context, threadIDs []string, role entity.Role) (map[string]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]int64, len(threadIDs))
	for _, threadID := range threadIDs {
		for _, m := range r.byThread[threadID] {
			if m.SenderKind == role.Counterpart() && !m.ReadBy(role) {
				result[threadID]++
			}
		}
	}
	return result, nil
}

func (r *memoryChatRepository) MarkThreadRead(_ context.Context, threadID string, role entity.Role) (int64, *time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		updated int64
		upto    *time.Time
	)
	for _, m := range r.byThread[threadID] {
		if m.SenderKind != role.Counterpart() {
			continue
		}
		at := m.CreatedAt
		upto = &at
		if m.ReadBy(role) {
			continue
		}
		if role == entity.RoleBuyer {
			m.ReadByBuyer = true
		} else {
			m.ReadBySeller = true
		}
		updated++
	}
	return updated, upto, nil
}
