package principals

import (
	"strings"
	"time"
)

// Identity maps a login subject to the principal id that role assignments reference.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	PrincipalID string    `gorm:"column:principal_id;size:190;not null;index"`
	Email       string    `gorm:"column:email;size:320"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing principal identities.
func (Identity) TableName() string {
	return "principal_identities"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
