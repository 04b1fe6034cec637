package models

import (
	"time"
)

// 文档处理状态
const (
	DocumentStatusPending    = "pending"
	DocumentStatusProcessing = "processing"
	DocumentStatusCompleted  = "completed"
	DocumentStatusFailed     = "failed"
)

// Document 上传文档记录，处理流水线只修改 Status 与 ErrorMessage
type Document struct {
	ID           int64     `gorm:"primaryKey;column:id" json:"id"`
	Filename     string    `gorm:"column:filename;size:512;not null;index" json:"filename"`
	FilePath     string    `gorm:"column:file_path;size:1024;not null" json:"file_path"`
	ContentType  string    `gorm:"column:content_type;size:255" json:"content_type"`
	FileSize     int64     `gorm:"column:file_size" json:"file_size"`
	UploadDate   time.Time `gorm:"column:upload_date;not null;index" json:"upload_date"`
	Status       string    `gorm:"column:status;size:20;not null;default:pending;index" json:"status"`
	ErrorMessage string    `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Document) TableName() string {
	return "documents"
}
