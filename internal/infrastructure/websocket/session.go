package websocket

import (
	"context"
	stderrors "errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"timbermart/internal/domain/entity"
	"timbermart/internal/infrastructure/ratelimit"
	"timbermart/internal/usecase"
	"timbermart/pkg/errors"
	"timbermart/pkg/logger"
)

// Close reasons, sent as the close frame text.
const (
	ReasonIdle              = "idle"
	ReasonSlowConsumer      = "slow_consumer"
	ReasonProtocolViolation = "protocol_violation"
	ReasonReplaced          = "replaced"
	ReasonShutdown          = "shutdown"
	ReasonClientClosed      = "client_closed"
	ReasonWriteFailed       = "write_failed"
	ReasonHandshakeFailed   = "handshake_failed"
)

// Session is one user's live attachment to one thread. The reader goroutine
// owns inbound dispatch; the writer goroutine owns every write after the
// handshake.
type Session struct {
	ID       string
	ThreadID string
	UserID   string
	Role     entity.Role

	conn  *websocket.Conn
	hub   *Hub
	queue *outboundQueue

	state    atomic.Int32
	lastPong atomic.Int64

	// violations is only touched by the reader.
	violations int

	closeOnce sync.Once
	reason    string
	closing   chan struct{}
	done      chan struct{}
}

func newSession(hub *Hub, conn *websocket.Conn, threadID, userID string, role entity.Role) *Session {
	s := &Session{
		ID:       uuid.NewString(),
		ThreadID: threadID,
		UserID:   userID,
		Role:     role,
		conn:     conn,
		hub:      hub,
		queue:    newOutboundQueue(hub.opts.QueueDepth),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.state.Store(int32(StateHandshaking))
	s.touchPong()
	return s
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(state SessionState) {
	s.state.Store(int32(state))
}

// Done is closed once the session is torn down and detached.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) touchPong() {
	s.lastPong.Store(s.hub.now().UnixNano())
}

func (s *Session) idle() bool {
	last := time.Unix(0, s.lastPong.Load())
	return s.hub.now().Sub(last) > s.hub.opts.PongTimeout+s.hub.opts.PingInterval
}

// Close asks the writer to drain and close the transport with reason.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.reason = reason
		s.setState(StateClosing)
		close(s.closing)
	})
}

// enqueue hands an encoded frame to the writer. A durable frame that does
// not fit closes the session as a slow consumer.
func (s *Session) enqueue(payload []byte, lossy bool) bool {
	switch s.queue.push(outbound{payload: payload, lossy: lossy}) {
	case pushQueued:
		return true
	case pushOverflow:
		logger.Warn("WebSocket: session %s (%s %s) overflowed its queue, closing", s.ID, s.Role, s.UserID)
		s.Close(ReasonSlowConsumer)
	}
	return false
}

func (s *Session) send(frame interface{}) bool {
	payload, err := EncodeFrame(frame)
	if err != nil {
		logger.Error("WebSocket: failed to encode frame for session %s: %v", s.ID, err)
		return false
	}
	return s.enqueue(payload, isLossy(frame))
}

func (s *Session) sendError(err error) {
	s.send(NewErrorFrame(s.ThreadID, err))
}

// abort tears down a session that never reached Open.
func (s *Session) abort() {
	s.Close(ReasonHandshakeFailed)
	s.queue.close()
	s.setState(StateClosed)
	_ = s.conn.Close()
	close(s.done)
}

func (s *Session) writeHandshake(payload []byte) error {
	_ = s.conn.SetWriteDeadline(s.hub.now().Add(s.hub.opts.WriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Session) readPump() {
	s.conn.SetReadLimit(frameReadLimit(s.hub.opts.MaxBodyBytes))
	s.conn.SetPongHandler(func(string) error {
		s.touchPong()
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if stderrors.Is(err, websocket.ErrReadLimit) {
				s.Close(ReasonProtocolViolation)
			} else {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && s.State() == StateOpen {
					logger.Debug("WebSocket: read error on session %s: %v", s.ID, err)
				}
				s.Close(ReasonClientClosed)
			}
			return
		}

		if !s.dispatch(data) {
			return
		}
	}
}

// dispatch handles one client frame and reports whether reading should go on.
func (s *Session) dispatch(data []byte) bool {
	state := s.State()
	if state == StateClosing || state == StateClosed {
		return false
	}

	frame, err := DecodeFrame(data)
	if err == nil && frame.ThreadID != "" && frame.ThreadID != s.ThreadID {
		err = errors.ProtocolViolation("Frame addressed to another thread", nil)
	}
	if err == nil && !state.Accepts(frame.Type) {
		err = errors.ProtocolViolation("Frame "+frame.Type+" not allowed while "+state.String(), nil)
	}
	if err != nil {
		return s.violation(err)
	}

	s.hub.presence.Touch(s.UserID, s.Role)

	switch frame.Type {
	case FramePing:
		s.touchPong()
		s.send(PingFrame{Type: FramePong, ThreadID: s.ThreadID, Timestamp: FormatTimestamp(s.hub.now())})
	case FramePong:
		s.touchPong()
	case FrameTyping:
		if s.hub.allow(s.UserID, ratelimit.ActionTyping) {
			s.hub.BroadcastTyping(s.ThreadID, s.Role)
		}
	case FrameMessage:
		s.handleMessage(frame)
	case FrameRead:
		s.handleRead()
	}
	return true
}

func (s *Session) violation(err error) bool {
	s.violations++
	s.sendError(err)
	if s.violations >= s.hub.opts.MaxProtocolViolations {
		logger.Warn("WebSocket: session %s reached %d protocol violations, closing", s.ID, s.violations)
		s.Close(ReasonProtocolViolation)
		return false
	}
	return true
}

// storeContext is detached from the session so a disconnect cannot abort a
// write that already started.
func (s *Session) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.hub.opts.StoreTimeout)
}

func (s *Session) handleMessage(frame *InboundFrame) {
	if !s.hub.allow(s.UserID, ratelimit.ActionSendMessage) {
		s.sendError(errors.RateLimited("Too many messages, slow down"))
		return
	}

	ctx, cancel := s.storeContext()
	defer cancel()

	_, err := s.hub.chat.SendMessage(ctx, usecase.SendMessageInput{
		ThreadID:        s.ThreadID,
		MessageID:       frame.MessageID,
		Body:            frame.Message,
		SenderKind:      s.Role,
		SenderID:        s.UserID,
		SenderSessionID: s.ID,
	})
	if err != nil {
		s.sendError(err)
	}
}

func (s *Session) handleRead() {
	ctx, cancel := s.storeContext()
	defer cancel()

	if _, err := s.hub.receipts.MarkRead(ctx, s.ThreadID, s.UserID, s.Role); err != nil {
		s.sendError(err)
	}
}

func (s *Session) writePump() {
	defer s.hub.wg.Done()
	defer s.finish()

	timer := time.NewTimer(s.hub.pingDelay())
	defer timer.Stop()

	for {
		select {
		case <-s.closing:
			s.drain()
			return

		case <-s.queue.notify:
			if !s.flush() {
				s.Close(ReasonWriteFailed)
				return
			}

		case <-timer.C:
			if s.idle() {
				logger.Info("WebSocket: session %s (%s %s) missed pong window", s.ID, s.Role, s.UserID)
				s.Close(ReasonIdle)
				continue
			}
			payload, _ := EncodeFrame(PingFrame{Type: FramePing, ThreadID: s.ThreadID, Timestamp: FormatTimestamp(s.hub.now())})
			if err := s.write(payload, s.hub.now().Add(s.hub.opts.WriteTimeout)); err != nil {
				s.Close(ReasonWriteFailed)
				return
			}
			timer.Reset(s.hub.pingDelay())
		}
	}
}

func (s *Session) write(payload []byte, deadline time.Time) error {
	_ = s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Session) flush() bool {
	for {
		select {
		case <-s.closing:
			return true
		default:
		}

		item, ok := s.queue.pop()
		if !ok {
			return true
		}
		if err := s.write(item.payload, s.hub.now().Add(s.hub.opts.WriteTimeout)); err != nil {
			logger.Debug("WebSocket: write to session %s failed: %v", s.ID, err)
			return false
		}
	}
}

// drain writes what is queued within the drain timeout, then the close frame.
func (s *Session) drain() {
	s.queue.close()
	if s.reason == ReasonWriteFailed || s.reason == ReasonClientClosed {
		return
	}

	deadline := s.hub.now().Add(s.hub.opts.DrainTimeout)
	for s.hub.now().Before(deadline) {
		item, ok := s.queue.pop()
		if !ok {
			break
		}
		writeDeadline := s.hub.now().Add(s.hub.opts.WriteTimeout)
		if writeDeadline.After(deadline) {
			writeDeadline = deadline
		}
		if err := s.write(item.payload, writeDeadline); err != nil {
			return
		}
	}

	message := websocket.FormatCloseMessage(closeCode(s.reason), s.reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, message, s.hub.now().Add(s.hub.opts.WriteTimeout))
}

func (s *Session) finish() {
	s.queue.close()
	s.setState(StateClosed)
	_ = s.conn.Close()
	s.hub.Detach(s)
	close(s.done)
	logger.Debug("WebSocket: session %s closed (%s)", s.ID, s.reason)
}

// frameReadLimit bounds one inbound frame. JSON can escape a body byte into
// six (\u00XX), and oversize bodies below this bound are rejected as
// invalid_body by the chat service with the session kept open.
func frameReadLimit(maxBodyBytes int) int64 {
	return int64(maxBodyBytes)*6 + 1024
}

func closeCode(reason string) int {
	switch reason {
	case ReasonProtocolViolation:
		return websocket.ClosePolicyViolation
	case ReasonSlowConsumer:
		return websocket.CloseTryAgainLater
	case ReasonShutdown:
		return websocket.CloseGoingAway
	default:
		return websocket.CloseNormalClosure
	}
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := float64(d) * 0.1
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
