package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"timbermart/internal/domain/entity"
	"timbermart/internal/usecase"
	"timbermart/pkg/errors"
	"timbermart/pkg/logger"
)

type ChatService interface {
	GetThread(ctx context.Context, threadID string) (*entity.Thread, error)
	ListMessages(ctx context.Context, threadID string, limit int, beforeSeq int64) ([]*entity.Message, error)
	SendMessage(ctx context.Context, input usecase.SendMessageInput) (*entity.Message, error)
}

type ReadReceiptService interface {
	MarkRead(ctx context.Context, threadID, userID string, role entity.Role) (*usecase.ReadResult, error)
}

type PresenceService interface {
	Touch(userID string, role entity.Role)
	Status(ctx context.Context, userID string, role entity.Role) (*entity.Participant, error)
}

type RateLimiter interface {
	Allow(key, action string) (bool, time.Duration)
}

type Options struct {
	PingInterval          time.Duration
	PongTimeout           time.Duration
	WriteTimeout          time.Duration
	StoreTimeout          time.Duration
	DrainTimeout          time.Duration
	QueueDepth            int
	MaxProtocolViolations int
	MaxBodyBytes          int
	HistoryLimit          int
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 3 * time.Second
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 2 * time.Second
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 64
	}
	if o.MaxProtocolViolations <= 0 {
		o.MaxProtocolViolations = 5
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 4096
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 50
	}
	return o
}

// Hub is the single-node registry of live sessions, keyed by thread and then
// by user. At most one session exists per (thread, user); attach and detach
// serialise on mu while delivery works on a snapshot.
type Hub struct {
	chat     ChatService
	receipts ReadReceiptService
	presence PresenceService
	limiter  RateLimiter
	opts     Options
	now      func() time.Time

	mu      sync.RWMutex
	threads map[string]map[string]*Session
	closed  bool

	wg sync.WaitGroup
}

// NewHub builds a hub. limiter may be nil to disable per-user limits.
func NewHub(chat ChatService, receipts ReadReceiptService, presence PresenceService, limiter RateLimiter, opts Options) *Hub {
	return &Hub{
		chat:     chat,
		receipts: receipts,
		presence: presence,
		limiter:  limiter,
		opts:     opts.withDefaults(),
		now:      time.Now,
		threads:  make(map[string]map[string]*Session),
	}
}

// Attach takes ownership of conn and turns it into a live session. The caller
// has already authorised the user; the thread membership is checked again
// here. On failure conn is closed.
func (h *Hub) Attach(ctx context.Context, conn *websocket.Conn, threadID, userID string, role entity.Role) (*Session, error) {
	s := newSession(h, conn, threadID, userID, role)

	thread, err := h.loadThread(ctx, threadID)
	if err == nil && !thread.HasParticipant(userID, role) {
		err = errors.NotAParticipant("You are not a participant of this thread")
	}
	if err != nil {
		h.rejectHandshake(s, err)
		return nil, err
	}

	go s.readPump()

	messages, err := h.loadHistory(ctx, threadID)
	if err != nil {
		h.rejectHandshake(s, err)
		return nil, err
	}
	payload, err := EncodeFrame(NewHistoryFrame(threadID, messages))
	if err != nil {
		s.abort()
		return nil, errors.Internal("Failed to encode history", err)
	}
	if err := s.writeHandshake(payload); err != nil {
		s.abort()
		return nil, errors.TransportFailure("Failed to write history", err)
	}

	displaced, err := h.register(s)
	if err != nil {
		s.abort()
		return nil, err
	}
	if displaced != nil {
		logger.Info("WebSocket: session %s replaced by %s for %s %s on thread %s", displaced.ID, s.ID, role, userID, threadID)
		displaced.sendError(errors.New(errors.CodeSessionReplaced, "Another session connected for this user", 0, nil))
		displaced.Close(ReasonReplaced)
	}

	s.setState(StateOpen)
	go s.writePump()

	h.presence.Touch(userID, role)
	h.deliverWhere(threadID, PresenceFrame{
		Type:     FramePresence,
		ThreadID: threadID,
		UserID:   userID,
		Role:     string(role),
		Online:   true,
	}, func(peer *Session) bool { return peer.Role != role })

	counterpartRole := role.Counterpart()
	counterpartID := thread.ParticipantID(counterpartRole)
	if status, err := h.loadStatus(ctx, counterpartID, counterpartRole); err == nil {
		s.send(PresenceFrame{
			Type:     FramePresence,
			ThreadID: threadID,
			UserID:   counterpartID,
			Role:     string(counterpartRole),
			Online:   status.IsOnline,
		})
	} else {
		logger.Warn("WebSocket: failed to load presence of %s %s: %v", counterpartRole, counterpartID, err)
	}

	logger.Info("WebSocket: session %s attached for %s %s on thread %s", s.ID, role, userID, threadID)
	return s, nil
}

// Each store call made during attach gets its own StoreTimeout.

func (h *Hub) loadThread(ctx context.Context, threadID string) (*entity.Thread, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.StoreTimeout)
	defer cancel()
	return h.chat.GetThread(ctx, threadID)
}

func (h *Hub) loadHistory(ctx context.Context, threadID string) ([]*entity.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.StoreTimeout)
	defer cancel()
	return h.chat.ListMessages(ctx, threadID, h.opts.HistoryLimit, 0)
}

func (h *Hub) loadStatus(ctx context.Context, userID string, role entity.Role) (*entity.Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.StoreTimeout)
	defer cancel()
	return h.presence.Status(ctx, userID, role)
}

// rejectHandshake reports err to the client on a best-effort basis and drops
// the connection.
func (h *Hub) rejectHandshake(s *Session, err error) {
	if payload, encErr := EncodeFrame(NewErrorFrame(s.ThreadID, err)); encErr == nil {
		_ = s.writeHandshake(payload)
	}
	s.abort()
}

// register installs s and returns the session it displaced. The caller must
// start s.writePump, which balances the wait group.
func (h *Hub) register(s *Session) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, errors.New("SHUTTING_DOWN", "Server is shutting down", 503, nil)
	}

	sessions, ok := h.threads[s.ThreadID]
	if !ok {
		sessions = make(map[string]*Session)
		h.threads[s.ThreadID] = sessions
	}
	displaced := sessions[s.UserID]
	sessions[s.UserID] = s
	h.wg.Add(1)
	return displaced, nil
}

// Detach removes s and closes it if it is still open. The thread entry is
// dropped once its last session leaves.
func (h *Hub) Detach(s *Session) {
	h.mu.Lock()
	if sessions, ok := h.threads[s.ThreadID]; ok {
		if current, ok := sessions[s.UserID]; ok && current == s {
			delete(sessions, s.UserID)
		}
		if len(sessions) == 0 {
			delete(h.threads, s.ThreadID)
		}
	}
	h.mu.Unlock()

	s.Close(ReasonClientClosed)
}

func (h *Hub) snapshot(threadID string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sessions := h.threads[threadID]
	if len(sessions) == 0 {
		return nil
	}
	out := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s)
	}
	return out
}

// Deliver enqueues frame for every session on the thread except the one with
// excludeSessionID. A session that cannot take a durable frame is closed;
// others are unaffected.
func (h *Hub) Deliver(threadID string, frame interface{}, excludeSessionID string) {
	h.deliverWhere(threadID, frame, func(s *Session) bool { return s.ID != excludeSessionID })
}

func (h *Hub) deliverWhere(threadID string, frame interface{}, include func(*Session) bool) {
	sessions := h.snapshot(threadID)
	if len(sessions) == 0 {
		return
	}

	payload, err := EncodeFrame(frame)
	if err != nil {
		logger.Error("WebSocket: failed to encode frame for thread %s: %v", threadID, err)
		return
	}
	lossy := isLossy(frame)

	for _, s := range sessions {
		if include(s) {
			s.enqueue(payload, lossy)
		}
	}
}

// BroadcastTyping tells the counterpart of senderRole that they are typing.
func (h *Hub) BroadcastTyping(threadID string, senderRole entity.Role) {
	h.deliverWhere(threadID, TypingFrame{
		Type:       FrameTyping,
		ThreadID:   threadID,
		SenderType: string(senderRole),
	}, func(s *Session) bool { return s.Role != senderRole })
}

func (h *Hub) DeliverMessage(threadID string, message *entity.Message, excludeSessionID string) {
	h.Deliver(threadID, NewMessageFrame(message), excludeSessionID)
}

func (h *Hub) DeliverReadAck(threadID string, byRole entity.Role, upto *time.Time) {
	frame := ReadAckFrame{Type: FrameReadAck, ThreadID: threadID, ByRole: string(byRole)}
	if upto != nil {
		frame.UptoTimestamp = FormatTimestamp(*upto)
	}
	h.deliverWhere(threadID, frame, func(s *Session) bool { return s.Role != byRole })
}

// DeliverPresence only reaches threads that currently have live sessions.
func (h *Hub) DeliverPresence(threadID, userID string, role entity.Role, online bool) {
	h.deliverWhere(threadID, PresenceFrame{
		Type:     FramePresence,
		ThreadID: threadID,
		UserID:   userID,
		Role:     string(role),
		Online:   online,
	}, func(s *Session) bool { return s.Role != role })
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, sessions := range h.threads {
		n += len(sessions)
	}
	return n
}

// Session returns the live session for (threadID, userID), if any.
func (h *Hub) Session(threadID, userID string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.threads[threadID][userID]
	return s, ok
}

// Shutdown closes every session and waits for their writers, or for ctx.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	var sessions []*Session
	for _, byUser := range h.threads {
		for _, s := range byUser {
			sessions = append(sessions, s)
		}
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close(ReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("WebSocket: closed %d sessions", len(sessions))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) allow(userID, action string) bool {
	if h.limiter == nil {
		return true
	}
	allowed, _ := h.limiter.Allow(userID, action)
	return allowed
}

func (h *Hub) pingDelay() time.Duration {
	return jitter(h.opts.PingInterval)
}
