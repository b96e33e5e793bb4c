package entity

import "time"

// Thread is the durable conversation between exactly one buyer and one seller.
type Thread struct {
	ID        string    `json:"thread_id" gorm:"primaryKey;size:64"`
	BuyerID   string    `json:"buyer_id" gorm:"size:64;not null;uniqueIndex:ux_thread_buyer_seller,priority:1"`
	SellerID  string    `json:"seller_id" gorm:"size:64;not null;uniqueIndex:ux_thread_buyer_seller,priority:2;index"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

func (Thread) TableName() string {
	return "thread"
}

// ParticipantID returns the thread member acting in role.
func (t *Thread) ParticipantID(role Role) string {
	if role == RoleBuyer {
		return t.BuyerID
	}
	return t.SellerID
}

// HasParticipant reports whether userID is the thread's participant for role.
func (t *Thread) HasParticipant(userID string, role Role) bool {
	if !role.Valid() || userID == "" {
		return false
	}
	return t.ParticipantID(role) == userID
}

// ThreadSummary is a thread listing entry from one participant's point of view.
type ThreadSummary struct {
	ThreadID        string     `json:"thread_id"`
	BuyerID         string     `json:"buyer_id"`
	SellerID        string     `json:"seller_id"`
	CreatedAt       time.Time  `json:"created_at"`
	LastMessage     *string    `json:"last_message"`
	LastMessageTime *time.Time `json:"last_message_time"`
	UnreadCount     int64      `json:"unread_count"`
}
