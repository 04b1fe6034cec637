package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aihub/docsearch/internal/services"
)

// 消息动作
const (
	ActionProcess   = "process"
	ActionReprocess = "reprocess"
)

// DocumentProcessMessage 文档处理消息
type DocumentProcessMessage struct {
	DocumentID  int64     `json:"document_id"`
	FilePath    string    `json:"file_path,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Action      string    `json:"action"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Job 转换为处理任务
func (m *DocumentProcessMessage) Job() services.IngestJob {
	return services.IngestJob{
		DocumentID:  m.DocumentID,
		FilePath:    m.FilePath,
		ContentType: m.ContentType,
	}
}

// ParseDocumentProcessMessage 解析文档处理消息
func ParseDocumentProcessMessage(data []byte) (*DocumentProcessMessage, error) {
	var msg DocumentProcessMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析消息失败: %w", err)
	}
	if msg.DocumentID <= 0 {
		return nil, fmt.Errorf("消息缺少 document_id")
	}
	return &msg, nil
}
