package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timbermart/internal/adapter/repository"
	"timbermart/internal/domain/entity"
	"timbermart/pkg/errors"
)

type presenceEvent struct {
	ThreadID string
	UserID   string
	Role     entity.Role
	Online   bool
}

type readAckEvent struct {
	ThreadID string
	ByRole   entity.Role
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []*entity.Message
	excluded []string
	readAcks []readAckEvent
	presence []presenceEvent
}

func (n *recordingNotifier) DeliverMessage(_ string, m *entity.Message, exclude string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, m)
	n.excluded = append(n.excluded, exclude)
}

func (n *recordingNotifier) DeliverReadAck(threadID string, byRole entity.Role, _ *time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.readAcks = append(n.readAcks, readAckEvent{ThreadID: threadID, ByRole: byRole})
}

func (n *recordingNotifier) DeliverPresence(threadID, userID string, role entity.Role, online bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.presence = append(n.presence, presenceEvent{ThreadID: threadID, UserID: userID, Role: role, Online: online})
}

func newChatUseCase(t *testing.T) (*ChatUseCase, *recordingNotifier) {
	t.Helper()
	uc := NewChatUseCase(repository.NewMemoryChatRepository(), 4096, time.Second)
	n := &recordingNotifier{}
	uc.SetNotifier(n)
	return uc, n
}

func TestChatUseCase_StartAndSend(t *testing.T) {
	ctx := context.Background()
	uc, notifier := newChatUseCase(t)

	thread, err := uc.StartOrGetThread(ctx, "B1", "S1")
	require.NoError(t, err)

	again, err := uc.StartOrGetThread(ctx, "B1", "S1")
	require.NoError(t, err)
	assert.Equal(t, thread.ID, again.ID)

	msg, err := uc.SendMessage(ctx, SendMessageInput{
		ThreadID:        thread.ID,
		MessageID:       "M1",
		Body:            "hi",
		SenderKind:      entity.RoleBuyer,
		SenderID:        "B1",
		SenderSessionID: "sess-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "M1", msg.ID)
	assert.True(t, msg.ReadByBuyer)
	assert.False(t, msg.ReadBySeller)

	messages, err := uc.ListMessages(ctx, thread.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "M1", messages[0].ID)

	require.Len(t, notifier.messages, 1)
	assert.Equal(t, "sess-1", notifier.excluded[0])
}

func TestChatUseCase_IdempotentResend(t *testing.T) {
	ctx := context.Background()
	uc, notifier := newChatUseCase(t)

	thread, err := uc.StartOrGetThread(ctx, "B1", "S1")
	require.NoError(t, err)

	input := SendMessageInput{ThreadID: thread.ID, MessageID: "M1", Body: "hi", SenderKind: entity.RoleBuyer, SenderID: "B1"}
	first, err := uc.SendMessage(ctx, input)
	require.NoError(t, err)

	input.Body = "hi again"
	second, err := uc.SendMessage(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, "hi", second.Body)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	messages, err := uc.ListMessages(ctx, thread.ID, 50, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "hi", messages[0].Body)
	assert.Len(t, notifier.messages, 1)
}

func TestChatUseCase_MessageIDInOtherThread(t *testing.T) {
	ctx := context.Background()
	uc, _ := newChatUseCase(t)

	t1, err := uc.StartOrGetThread(ctx, "B1", "S1")
	require.NoError(t, err)
	t2, err := uc.StartOrGetThread(ctx, "B1", "S2")
	require.NoError(t, err)

	_, err = uc.SendMessage(ctx, SendMessageInput{ThreadID: t1.ID, MessageID: "M1", Body: "hi", SenderKind: entity.RoleBuyer, SenderID: "B1"})
	require.NoError(t, err)

	_, err = uc.SendMessage(ctx, SendMessageInput{ThreadID: t2.ID, MessageID: "M1", Body: "hi", SenderKind: entity.RoleBuyer, SenderID: "B1"})
	assert.True(t, errors.Is(err, errors.CodeDuplicate))
}

func TestChatUseCase_ForbiddenSender(t *testing.T) {
	ctx := context.Background()
	uc, notifier := newChatUseCase(t)

	thread, err := uc.StartOrGetThread(ctx, "B1", "S1")
	require.NoError(t, err)

	_, err = uc.SendMessage(ctx, SendMessageInput{ThreadID: thread.ID, MessageID: "M2", Body: "x", SenderKind: entity.RoleSeller, SenderID: "S2"})
	assert.True(t, errors.Is(err, errors.CodeNotAParticipant))

	// The buyer cannot send as the seller either.
	_, err = uc.SendMessage(ctx, SendMessageInput{ThreadID: thread.ID, MessageID: "M3", Body: "x", SenderKind: entity.RoleSeller, SenderID: "B1"})
	assert.True(t, errors.Is(err, errors.CodeNotAParticipant))

	messages, err := uc.ListMessages(ctx, thread.ID, 50, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.Empty(t, notifier.messages)
}

func TestChatUseCase_SendValidation(t *testing.T) {
	ctx := context.Background()
	uc := NewChatUseCase(repository.NewMemoryChatRepository(), 8, time.Second)

	thread, err := uc.StartOrGetThread(ctx, "B1", "S1")
	require.NoError(t, err)

	tests := []struct {
		name  string
		input SendMessageInput
		code  string
	}{
		{"blank body", SendMessageInput{ThreadID: thread.ID, MessageID: "m", Body: "  \n", SenderKind: entity.RoleBuyer, SenderID: "B1"}, errors.CodeInvalidBody},
		{"body too long", SendMessageInput{ThreadID: thread.ID, MessageID: "m", Body: "123456789", SenderKind: entity.RoleBuyer, SenderID: "B1"}, errors.CodeInvalidBody},
		{"missing message id", SendMessageInput{ThreadID: thread.ID, Body: "hi", SenderKind: entity.RoleBuyer, SenderID: "B1"}, "BAD_REQUEST"},
		{"bad sender kind", SendMessageInput{ThreadID: thread.ID, MessageID: "m", Body: "hi", SenderKind: "admin", SenderID: "B1"}, "BAD_REQUEST"},
		{"unknown thread", SendMessageInput{ThreadID: "nope", MessageID: "m", Body: "hi", SenderKind: entity.RoleBuyer, SenderID: "B1"}, errors.CodeThreadNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := uc.SendMessage(ctx, tt.input)
			assert.True(t, errors.Is(err, tt.code), "got %v", err)
		})
	}
}

func TestChatUseCase_ConcurrentStartOrGetThread(t *testing.T) {
	ctx := context.Background()
	uc, _ := newChatUseCase(t)

	const callers = 16
	ids := make([]string, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			thread, err := uc.StartOrGetThread(ctx, "B1", "S1")
			assert.NoError(t, err)
			if thread != nil {
				ids[i] = thread.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	threads, err := uc.ThreadsFor(ctx, "B1", entity.RoleBuyer)
	require.NoError(t, err)
	assert.Len(t, threads, 1)
}

func TestChatUseCase_ThreadsForOrdering(t *testing.T) {
	ctx := context.Background()
	uc, _ := newChatUseCase(t)

	empty, err := uc.StartOrGetThread(ctx, "B1", "S-empty")
	require.NoError(t, err)
	read, err := uc.StartOrGetThread(ctx, "B1", "S-read")
	require.NoError(t, err)
	unread, err := uc.StartOrGetThread(ctx, "B1", "S-unread")
	require.NoError(t, err)

	_, err = uc.SendMessage(ctx, SendMessageInput{ThreadID: unread.ID, MessageID: "u1", Body: "old", SenderKind: entity.RoleSeller, SenderID: "S-unread"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = uc.SendMessage(ctx, SendMessageInput{ThreadID: read.ID, MessageID: "r1", Body: "newer", SenderKind: entity.RoleBuyer, SenderID: "B1"})
	require.NoError(t, err)

	summaries, err := uc.ThreadsFor(ctx, "B1", entity.RoleBuyer)
	require.NoError(t, err)
	require.Len(t, summaries, 3)

	assert.Equal(t, unread.ID, summaries[0].ThreadID)
	assert.Equal(t, int64(1), summaries[0].UnreadCount)
	assert.Equal(t, read.ID, summaries[1].ThreadID)
	assert.Equal(t, "newer", *summaries[1].LastMessage)
	assert.Equal(t, empty.ID, summaries[2].ThreadID)
	assert.Nil(t, summaries[2].LastMessage)
	assert.Nil(t, summaries[2].LastMessageTime)
}

func TestSortThreadSummaries_Tiebreak(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	same := base.Add(time.Hour)

	summaries := []*entity.ThreadSummary{
		{ThreadID: "older", CreatedAt: base, LastMessageTime: &same},
		{ThreadID: "newer", CreatedAt: base.Add(time.Minute), LastMessageTime: &same},
	}
	SortThreadSummaries(summaries)

	assert.Equal(t, "newer", summaries[0].ThreadID)
	assert.Equal(t, "older", summaries[1].ThreadID)
}

func TestReadReceipts_UnreadMonotonicity(t *testing.T) {
	ctx := context.Background()
	chatRepo := repository.NewMemoryChatRepository()
	chat := NewChatUseCase(chatRepo, 4096, time.Second)
	receipts := NewReadReceiptUseCase(chatRepo, time.Second)
	notifier := &recordingNotifier{}
	receipts.SetNotifier(notifier)

	thread, err := chat.StartOrGetThread(ctx, "B1", "S1")
	require.NoError(t, err)

	var previous int64
	for i, id := range []string{"m1", "m2", "m3"} {
		_, err := chat.SendMessage(ctx, SendMessageInput{ThreadID: thread.ID, MessageID: id, Body: "hello", SenderKind: entity.RoleBuyer, SenderID: "B1"})
		require.NoError(t, err)

		count, err := receipts.UnreadCount(ctx, "S1", entity.RoleSeller, thread.ID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, count, previous)
		assert.Equal(t, int64(i+1), count)
		previous = count
	}

	// The sender's own messages never count as unread for them.
	own, err := receipts.UnreadCount(ctx, "B1", entity.RoleBuyer, "")
	require.NoError(t, err)
	assert.Zero(t, own)

	result, err := receipts.MarkRead(ctx, thread.ID, "S1", entity.RoleSeller)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Updated)
	require.NotNil(t, result.Upto)

	count, err := receipts.UnreadCount(ctx, "S1", entity.RoleSeller, "")
	require.NoError(t, err)
	assert.Zero(t, count)

	messages, err := chat.ListMessages(ctx, thread.ID, 50, 0)
	require.NoError(t, err)
	for _, m := range messages {
		assert.True(t, m.ReadBySeller)
	}

	require.Len(t, notifier.readAcks, 1)
	assert.Equal(t, entity.RoleSeller, notifier.readAcks[0].ByRole)

	_, err = receipts.MarkRead(ctx, thread.ID, "S2", entity.RoleSeller)
	assert.True(t, errors.Is(err, errors.CodeNotAParticipant))
}

type presenceFixture struct {
	uc       *PresenceUseCase
	chat     *ChatUseCase
	notifier *recordingNotifier
	now      time.Time
}

func newPresenceFixture(t *testing.T) *presenceFixture {
	t.Helper()
	chatRepo := repository.NewMemoryChatRepository()
	f := &presenceFixture{
		chat:     NewChatUseCase(chatRepo, 4096, time.Second),
		notifier: &recordingNotifier{},
		now:      time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	f.uc = NewPresenceUseCase(repository.NewMemoryParticipantRepository(), chatRepo, PresenceConfig{
		IdleThreshold:  5 * time.Minute,
		SweepInterval:  time.Minute,
		CoalesceWindow: time.Second,
		StoreTimeout:   time.Second,
	})
	f.uc.now = func() time.Time { return f.now }
	f.uc.SetNotifier(f.notifier)
	return f
}

func TestPresence_IdleDemotion(t *testing.T) {
	ctx := context.Background()
	f := newPresenceFixture(t)

	thread, err := f.chat.StartOrGetThread(ctx, "B1", "S1")
	require.NoError(t, err)

	f.uc.Touch("B1", entity.RoleBuyer)
	f.uc.Touch("S1", entity.RoleSeller)
	require.NoError(t, f.uc.Flush(ctx))

	status, err := f.uc.Status(ctx, "B1", entity.RoleBuyer)
	require.NoError(t, err)
	assert.True(t, status.IsOnline)

	// Within the threshold nothing changes.
	f.now = f.now.Add(4 * time.Minute)
	f.uc.Touch("S1", entity.RoleSeller)
	n, err := f.uc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.now = f.now.Add(2 * time.Minute)
	n, err = f.uc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	status, err = f.uc.Status(ctx, "B1", entity.RoleBuyer)
	require.NoError(t, err)
	assert.False(t, status.IsOnline)

	status, err = f.uc.Status(ctx, "S1", entity.RoleSeller)
	require.NoError(t, err)
	assert.True(t, status.IsOnline)

	require.Len(t, f.notifier.presence, 1)
	assert.Equal(t, presenceEvent{ThreadID: thread.ID, UserID: "B1", Role: entity.RoleBuyer, Online: false}, f.notifier.presence[0])

	// A second sweep does not repeat the transition.
	n, err = f.uc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.notifier.presence, 1)
}

func TestPresence_PendingTouchBeatsSweep(t *testing.T) {
	ctx := context.Background()
	f := newPresenceFixture(t)

	f.uc.Touch("B1", entity.RoleBuyer)
	require.NoError(t, f.uc.Flush(ctx))

	f.now = f.now.Add(10 * time.Minute)
	f.uc.Touch("B1", entity.RoleBuyer)

	n, err := f.uc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPresence_ExplicitOffline(t *testing.T) {
	ctx := context.Background()
	f := newPresenceFixture(t)

	_, err := f.chat.StartOrGetThread(ctx, "B1", "S1")
	require.NoError(t, err)

	f.uc.Touch("S1", entity.RoleSeller)
	require.NoError(t, f.uc.Flush(ctx))

	require.NoError(t, f.uc.ExplicitOffline(ctx, "S1", entity.RoleSeller))
	status, err := f.uc.Status(ctx, "S1", entity.RoleSeller)
	require.NoError(t, err)
	assert.False(t, status.IsOnline)
	require.Len(t, f.notifier.presence, 1)

	// Already offline: no second notification.
	require.NoError(t, f.uc.ExplicitOffline(ctx, "S1", entity.RoleSeller))
	assert.Len(t, f.notifier.presence, 1)
}

func TestPresence_StatusUnknownParticipant(t *testing.T) {
	f := newPresenceFixture(t)

	status, err := f.uc.Status(context.Background(), "ghost", entity.RoleBuyer)
	require.NoError(t, err)
	assert.False(t, status.IsOnline)

	f.uc.Touch("ghost", entity.RoleBuyer)
	status, err = f.uc.Status(context.Background(), "ghost", entity.RoleBuyer)
	require.NoError(t, err)
	assert.True(t, status.IsOnline)
	assert.Equal(t, f.now, status.LastActivity)
}

func TestPresence_RunStopsOnCancel(t *testing.T) {
	f := newPresenceFixture(t)
	f.uc.cfg.SweepInterval = 10 * time.Millisecond
	f.uc.cfg.CoalesceWindow = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() { _ = f.uc.Run(ctx); done <- struct{}{} }()
	go func() { _ = f.uc.RunFlusher(ctx); done <- struct{}{} }()

	f.uc.Touch("B1", entity.RoleBuyer)
	time.Sleep(30 * time.Millisecond)
	cancel()

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("presence loops did not stop")
		}
	}
}
