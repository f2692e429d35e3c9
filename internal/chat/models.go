package chat

import "time"

// StoredMessage is a persisted session message, keyed by (user id, companion id).
type StoredMessage struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      string    `gorm:"type:varchar(128);not null;index:idx_chat_msg_pair,priority:1" json:"-"`
	CompanionID string    `gorm:"type:varchar(26);not null;index:idx_chat_msg_pair,priority:2" json:"companion_id"`
	SessionID   string    `gorm:"type:varchar(26);not null;index:uniq_chat_msg_seq,unique,priority:1" json:"session_id"`
	Seq         uint64    `gorm:"not null;index:uniq_chat_msg_seq,unique,priority:2" json:"seq"`
	Author      string    `gorm:"type:varchar(16);not null" json:"author"`
	Body        string    `gorm:"type:text;not null" json:"body"`
	Read        bool      `gorm:"not null" json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

func (StoredMessage) TableName() string { return "chat_messages" }

func storedFromEvent(e Event) *StoredMessage {
	m := e.Message
	return &StoredMessage{
		UserID:      e.UserID,
		CompanionID: e.CompanionID,
		SessionID:   e.SessionID,
		Seq:         m.ID,
		Author:      string(m.Author),
		Body:        m.Body,
		Read:        m.Read,
		CreatedAt:   m.CreatedAt,
	}
}
