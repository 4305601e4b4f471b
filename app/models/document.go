package models

import "time"

// Document is the authoritative per-document processing record. Status is
// mutated only by the document state machine; Deleted is terminal and
// suppresses all further transitions.
type Document struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UUID       string    `gorm:"type:char(36) CHARACTER SET utf8 COLLATE utf8_bin;uniqueIndex;not null" json:"uuid"`
	UserID     uint      `gorm:"index" json:"user_id"`
	FileName   string    `gorm:"type:varchar(255);not null" json:"file_name"`
	FileSize   int64     `gorm:"type:bigint" json:"file_size"`
	ChunkCount int       `gorm:"type:int;default:0" json:"chunk_count"`
	Status     string    `gorm:"type:varchar(30);not null;default:'pending';index" json:"status"`
	Deleted    bool      `gorm:"default:false;index" json:"deleted"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
