package companion

import "time"

type Language struct {
	ID          string `json:"id"`
	Proficiency string `json:"proficiency"`
}

// Companion is a user-created companion as stored by the creation wizard.
type Companion struct {
	ID            string     `gorm:"primaryKey;type:varchar(26)" json:"id"`
	OwnerID       string     `gorm:"type:varchar(128);index;not null" json:"-"`
	Name          string     `gorm:"type:varchar(64);not null" json:"name"`
	Description   string     `gorm:"type:varchar(255)" json:"description"`
	Avatar        string     `gorm:"type:varchar(512)" json:"avatar"`
	AvatarStyle   string     `gorm:"type:varchar(16)" json:"avatar_style"`
	AffinityLevel int        `gorm:"not null;default:0" json:"affinity_level"`
	Personality   []string   `gorm:"serializer:json;type:text" json:"personality"`
	Languages     []Language `gorm:"serializer:json;type:text" json:"languages"`
	Tone          string     `gorm:"type:varchar(16);not null" json:"tone"`
	Prompts       []string   `gorm:"serializer:json;type:text" json:"prompts"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Companion) TableName() string { return "companions" }

// Profile is the display metadata a chat session needs.
type Profile struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Avatar        string   `json:"avatar"`
	AffinityLevel int      `json:"affinity_level"`
	Tone          string   `json:"tone"`
	Personality   []string `json:"personality"`
}

func (c *Companion) Profile() Profile {
	return Profile{
		ID:            c.ID,
		Name:          c.Name,
		Avatar:        c.Avatar,
		AffinityLevel: c.AffinityLevel,
		Tone:          c.Tone,
		Personality:   append([]string(nil), c.Personality...),
	}
}
