package websocket

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"

	"timbermart/internal/domain/entity"
	"timbermart/pkg/errors"
)

// Frame types.
const (
	FrameMessage  = "message"
	FrameTyping   = "typing"
	FramePing     = "ping"
	FramePong     = "pong"
	FrameRead     = "read"
	FrameReadAck  = "read_ack"
	FramePresence = "presence"
	FrameError    = "error"
	FrameHistory  = "history"
)

// TimestampLayout matches the millisecond precision of stored timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

type SessionState int32

const (
	StateHandshaking SessionState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Accepts reports whether a client frame of frameType is allowed in state s.
func (s SessionState) Accepts(frameType string) bool {
	switch s {
	case StateHandshaking:
		return frameType == FramePing || frameType == FramePong
	case StateOpen:
		return true
	default:
		return false
	}
}

// InboundFrame is any frame a client may send.
type InboundFrame struct {
	Type      string `json:"type" validate:"required,oneof=message typing ping pong read"`
	ThreadID  string `json:"thread_id,omitempty" validate:"omitempty,max=64"`
	MessageID string `json:"message_id,omitempty" validate:"required_if=Type message,max=64"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

var frameValidator = validator.New()

// DecodeFrame parses and validates a client frame. Failures are PROTOCOL_VIOLATION.
func DecodeFrame(data []byte) (*InboundFrame, error) {
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, errors.ProtocolViolation("Malformed frame", err)
	}
	if err := frameValidator.Struct(&frame); err != nil {
		return nil, errors.ProtocolViolation("Invalid "+frameLabel(frame.Type)+" frame", err)
	}
	return &frame, nil
}

func frameLabel(frameType string) string {
	if frameType == "" {
		return "untyped"
	}
	return frameType
}

func EncodeFrame(frame interface{}) ([]byte, error) {
	return json.Marshal(frame)
}

type MessageFrame struct {
	Type       string `json:"type"`
	MessageID  string `json:"message_id"`
	ThreadID   string `json:"thread_id"`
	SenderID   string `json:"sender_id"`
	SenderType string `json:"sender_type"`
	Message    string `json:"message"`
	Seq        int64  `json:"seq"`
	Timestamp  string `json:"timestamp"`
}

func NewMessageFrame(m *entity.Message) MessageFrame {
	return MessageFrame{
		Type:       FrameMessage,
		MessageID:  m.ID,
		ThreadID:   m.ThreadID,
		SenderID:   m.SenderID,
		SenderType: string(m.SenderKind),
		Message:    m.Body,
		Seq:        m.Seq,
		Timestamp:  FormatTimestamp(m.CreatedAt),
	}
}

type TypingFrame struct {
	Type       string `json:"type"`
	ThreadID   string `json:"thread_id"`
	SenderType string `json:"sender_type"`
}

type PresenceFrame struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	Online   bool   `json:"online"`
}

type ReadAckFrame struct {
	Type          string `json:"type"`
	ThreadID      string `json:"thread_id"`
	ByRole        string `json:"by_role"`
	UptoTimestamp string `json:"upto_timestamp,omitempty"`
}

// PingFrame is used for both ping and pong.
type PingFrame struct {
	Type      string `json:"type"`
	ThreadID  string `json:"thread_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

type ErrorFrame struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id,omitempty"`
	Code     string `json:"code"`
	Detail   string `json:"detail,omitempty"`
}

// NewErrorFrame maps err to its wire code. Errors outside the taxonomy become
// internal_error without leaking detail.
func NewErrorFrame(threadID string, err error) ErrorFrame {
	if appErr, ok := errors.As(err); ok {
		return ErrorFrame{Type: FrameError, ThreadID: threadID, Code: appErr.WireCode(), Detail: appErr.Message}
	}
	return ErrorFrame{Type: FrameError, ThreadID: threadID, Code: "internal_error", Detail: "An unexpected error occurred"}
}

type HistoryFrame struct {
	Type     string         `json:"type"`
	ThreadID string         `json:"thread_id"`
	Messages []MessageFrame `json:"messages"`
}

// NewHistoryFrame keeps the reverse-chronological order of the page.
func NewHistoryFrame(threadID string, messages []*entity.Message) HistoryFrame {
	frames := make([]MessageFrame, 0, len(messages))
	for _, m := range messages {
		frames = append(frames, NewMessageFrame(m))
	}
	return HistoryFrame{Type: FrameHistory, ThreadID: threadID, Messages: frames}
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// isLossy reports whether a frame may be dropped under backpressure.
func isLossy(frame interface{}) bool {
	switch frame.(type) {
	case MessageFrame, *MessageFrame, ErrorFrame, *ErrorFrame, HistoryFrame, *HistoryFrame:
		return false
	default:
		return true
	}
}
