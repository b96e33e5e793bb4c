package usecase

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"timbermart/internal/domain/entity"
	"timbermart/internal/domain/repository"
	"timbermart/pkg/errors"
	"timbermart/pkg/logger"
	"timbermart/pkg/utils"
)

type ChatUseCase struct {
	chatRepo     repository.ChatRepository
	notifier     Notifier
	maxBodyBytes int
	storeTimeout time.Duration
}

func NewChatUseCase(chatRepo repository.ChatRepository, maxBodyBytes int, storeTimeout time.Duration) *ChatUseCase {
	return &ChatUseCase{
		chatRepo:     chatRepo,
		notifier:     nopNotifier{},
		maxBodyBytes: maxBodyBytes,
		storeTimeout: storeTimeout,
	}
}

// SetNotifier installs the live fan-out target. It must be called before the
// use case serves traffic.
func (uc *ChatUseCase) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	uc.notifier = n
}

type SendMessageInput struct {
	ThreadID   string
	MessageID  string
	Body       string
	SenderKind entity.Role
	SenderID   string
	// SenderSessionID excludes the originating session from fan-out.
	SenderSessionID string
}

// StartOrGetThread returns the thread for the pair, creating it on first
// contact. A concurrent creator losing the unique-key race re-reads.
func (uc *ChatUseCase) StartOrGetThread(ctx context.Context, buyerID, sellerID string) (*entity.Thread, error) {
	if buyerID == "" || sellerID == "" {
		return nil, errors.BadRequest("buyer_id and seller_id are required", nil)
	}
	if buyerID == sellerID {
		return nil, errors.BadRequest("You cannot start a chat with yourself", nil)
	}

	ctx, cancel := withStoreTimeout(ctx, uc.storeTimeout)
	defer cancel()

	thread, err := uc.chatRepo.GetThreadByParticipants(ctx, buyerID, sellerID)
	if err == nil {
		return thread, nil
	}
	if !errors.Is(err, errors.CodeThreadNotFound) {
		return nil, err
	}

	thread = &entity.Thread{
		ID:       uuid.NewString(),
		BuyerID:  buyerID,
		SellerID: sellerID,
	}
	err = uc.chatRepo.CreateThread(ctx, thread)
	if errors.Is(err, errors.CodeDuplicate) {
		return uc.chatRepo.GetThreadByParticipants(ctx, buyerID, sellerID)
	}
	if err != nil {
		logger.Error("StartOrGetThread Error: failed to create thread for buyer %s and seller %s: %v", buyerID, sellerID, err)
		return nil, err
	}

	logger.Info("StartOrGetThread: created thread %s for buyer %s and seller %s", thread.ID, buyerID, sellerID)
	return thread, nil
}

func (uc *ChatUseCase) GetThread(ctx context.Context, threadID string) (*entity.Thread, error) {
	ctx, cancel := withStoreTimeout(ctx, uc.storeTimeout)
	defer cancel()
	return uc.chatRepo.GetThreadByID(ctx, threadID)
}

// AuthorizeParticipant loads the thread and checks userID is its member in role.
func (uc *ChatUseCase) AuthorizeParticipant(ctx context.Context, threadID, userID string, role entity.Role) (*entity.Thread, error) {
	thread, err := uc.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !thread.HasParticipant(userID, role) {
		return nil, errors.NotAParticipant("You are not a participant of this thread")
	}
	return thread, nil
}

// SendMessage persists a message and then fans it out. A repeated message_id
// in the same thread returns the stored message without a second fan-out.
func (uc *ChatUseCase) SendMessage(ctx context.Context, input SendMessageInput) (*entity.Message, error) {
	if err := uc.validateSend(input); err != nil {
		return nil, err
	}

	thread, err := uc.GetThread(ctx, input.ThreadID)
	if err != nil {
		return nil, err
	}
	if !thread.HasParticipant(input.SenderID, input.SenderKind) {
		logger.Warn("SendMessage Error: %s %s is not a participant of thread %s", input.SenderKind, input.SenderID, input.ThreadID)
		return nil, errors.NotAParticipant("Sender is not a participant of this thread")
	}

	storeCtx, cancel := withStoreTimeout(ctx, uc.storeTimeout)
	defer cancel()

	stored, created, err := uc.chatRepo.AppendMessage(storeCtx, &entity.Message{
		ID:         input.MessageID,
		ThreadID:   input.ThreadID,
		Body:       input.Body,
		SenderKind: input.SenderKind,
		SenderID:   input.SenderID,
	})
	if err != nil {
		logger.Error("SendMessage Error: failed to store message %s in thread %s: %v", input.MessageID, input.ThreadID, err)
		return nil, err
	}

	if !created {
		if stored.ThreadID != input.ThreadID {
			return nil, errors.Duplicate("message_id already exists in another thread")
		}
		return stored, nil
	}

	uc.notifier.DeliverMessage(stored.ThreadID, stored, input.SenderSessionID)
	return stored, nil
}

func (uc *ChatUseCase) validateSend(input SendMessageInput) error {
	if input.ThreadID == "" {
		return errors.BadRequest("thread_id is required", nil)
	}
	if input.MessageID == "" {
		return errors.BadRequest("message_id is required", nil)
	}
	if len(input.MessageID) > 64 {
		return errors.BadRequest("message_id is too long", nil)
	}
	if !input.SenderKind.Valid() || input.SenderID == "" {
		return errors.BadRequest("sender_type and sender_id are required", nil)
	}
	if strings.TrimSpace(input.Body) == "" {
		return errors.InvalidBody("Message body must not be empty")
	}
	if !utf8.ValidString(input.Body) {
		return errors.InvalidBody("Message body must be valid UTF-8")
	}
	if uc.maxBodyBytes > 0 && len(input.Body) > uc.maxBodyBytes {
		return errors.InvalidBody("Message body is too long")
	}
	return nil
}

// ListMessages returns a reverse-chronological page of the thread history.
// Passing the lowest seq of one page as beforeSeq yields the next older page.
func (uc *ChatUseCase) ListMessages(ctx context.Context, threadID string, limit int, beforeSeq int64) ([]*entity.Message, error) {
	ctx, cancel := withStoreTimeout(ctx, uc.storeTimeout)
	defer cancel()

	messages, err := uc.chatRepo.ListMessages(ctx, threadID, utils.ClampMessageLimit(limit), beforeSeq)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []*entity.Message{}
	}
	return messages, nil
}

// ThreadsFor lists the user's threads with unread threads first, then by most
// recent message, then by creation time.
func (uc *ChatUseCase) ThreadsFor(ctx context.Context, userID string, role entity.Role) ([]*entity.ThreadSummary, error) {
	if !role.Valid() {
		return nil, errors.BadRequest("user_type must be buyer or seller", nil)
	}

	ctx, cancel := withStoreTimeout(ctx, uc.storeTimeout)
	defer cancel()

	threads, err := uc.chatRepo.ListThreadsByParticipant(ctx, userID, role)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(threads))
	for _, t := range threads {
		ids = append(ids, t.ID)
	}

	last, err := uc.chatRepo.LastMessages(ctx, ids)
	if err != nil {
		return nil, err
	}
	unread, err := uc.chatRepo.CountUnread(ctx, ids, role)
	if err != nil {
		return nil, err
	}

	summaries := make([]*entity.ThreadSummary, 0, len(threads))
	for _, t := range threads {
		summary := &entity.ThreadSummary{
			ThreadID:    t.ID,
			BuyerID:     t.BuyerID,
			SellerID:    t.SellerID,
			CreatedAt:   t.CreatedAt,
			UnreadCount: unread[t.ID],
		}
		if m, ok := last[t.ID]; ok {
			body := m.Body
			at := m.CreatedAt
			summary.LastMessage = &body
			summary.LastMessageTime = &at
		}
		summaries = append(summaries, summary)
	}

	SortThreadSummaries(summaries)
	return summaries, nil
}

func SortThreadSummaries(summaries []*entity.ThreadSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]

		if (a.UnreadCount > 0) != (b.UnreadCount > 0) {
			return a.UnreadCount > 0
		}

		switch {
		case a.LastMessageTime != nil && b.LastMessageTime == nil:
			return true
		case a.LastMessageTime == nil && b.LastMessageTime != nil:
			return false
		case a.LastMessageTime != nil && !a.LastMessageTime.Equal(*b.LastMessageTime):
			return a.LastMessageTime.After(*b.LastMessageTime)
		}

		return a.CreatedAt.After(b.CreatedAt)
	})
}
