package entity

import "time"

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

func (r Role) Valid() bool {
	return r == RoleBuyer || r == RoleSeller
}

// Counterpart returns the other side of a buyer/seller conversation.
func (r Role) Counterpart() Role {
	if r == RoleBuyer {
		return RoleSeller
	}
	return RoleBuyer
}

func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}

// Participant is the presence row for one user acting in one role.
type Participant struct {
	ID           string    `json:"user_id" gorm:"primaryKey;size:64"`
	Role         Role      `json:"role" gorm:"primaryKey;size:16"`
	IsOnline     bool      `json:"is_online" gorm:"not null;default:false;index:idx_participant_online_activity,priority:1"`
	LastActivity time.Time `json:"last_activity" gorm:"index:idx_participant_online_activity,priority:2"`
}

func (Participant) TableName() string {
	return "participant"
}

// ParticipantKey identifies a participant row.
type ParticipantKey struct {
	UserID string
	Role   Role
}
