package entity

import "time"

// Message is one chat line. ID is the client-supplied deduplication key; Seq
// is assigned by the store and orders the thread history without ties.
type Message struct {
	ID           string    `json:"message_id" gorm:"primaryKey;size:64"`
	ThreadID     string    `json:"thread_id" gorm:"size:64;not null;uniqueIndex:ux_message_thread_seq,priority:1;index:idx_message_thread_created,priority:1;index:idx_message_thread_unread,priority:1"`
	Seq          int64     `json:"seq" gorm:"not null;uniqueIndex:ux_message_thread_seq,priority:2"`
	Body         string    `json:"message" gorm:"type:text;not null"`
	SenderKind   Role      `json:"sender_type" gorm:"size:16;not null;index:idx_message_thread_unread,priority:2"`
	SenderID     string    `json:"sender_id" gorm:"size:64;not null"`
	CreatedAt    time.Time `json:"timestamp" gorm:"not null;index:idx_message_thread_created,priority:2"`
	ReadByBuyer  bool      `json:"read_by_buyer" gorm:"not null;default:false;index:idx_message_thread_unread,priority:3"`
	ReadBySeller bool      `json:"read_by_seller" gorm:"not null;default:false;index:idx_message_thread_unread,priority:4"`
}

func (Message) TableName() string {
	return "message"
}

// ReadBy reports the read flag for role.
func (m *Message) ReadBy(role Role) bool {
	if role == RoleBuyer {
		return m.ReadByBuyer
	}
	return m.ReadBySeller
}

// MarkSenderRead sets the sender's own read flag, which is always true at creation.
func (m *Message) MarkSenderRead() {
	switch m.SenderKind {
	case RoleBuyer:
		m.ReadByBuyer = true
	case RoleSeller:
		m.ReadBySeller = true
	}
}
