package entities

import (
	"time"
)

// FileRecord registers a file a user has previously written through the
// system. The duplicate detector matches candidate writes against these rows,
// first by metadata and then by content hash. Registration happens after a
// successful write and is the caller's responsibility.
type FileRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`

	Name        string       `gorm:"size:512;index;not null" json:"name"`
	Size        int64        `gorm:"default:0" json:"size"`
	Provider    ProviderName `gorm:"size:50" json:"provider"`
	FileID      string       `gorm:"size:512" json:"file_id"`
	ContentHash string       `gorm:"size:128;index" json:"content_hash,omitempty"`
}

func (FileRecord) TableName() string {
	return "file_records"
}
