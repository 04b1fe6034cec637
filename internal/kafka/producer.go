package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/aihub/docsearch/internal/logger"
	"github.com/aihub/docsearch/internal/services"
	"go.uber.org/zap"
)

// Producer Kafka生产者，实现 services.JobQueue
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time
}

// NewProducer 连接 broker 并创建同步生产者
func NewProducer(brokers []string, topic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者初始化成功", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return NewProducerWithClient(producer, topic), nil
}

// NewProducerWithClient 包装已有的 sarama 生产者
func NewProducerWithClient(producer sarama.SyncProducer, topic string) *Producer {
	return &Producer{producer: producer, topic: topic, now: time.Now}
}

// Enqueue 发送处理任务；同一文档使用相同的 key 以保证分区内有序
func (p *Producer) Enqueue(ctx context.Context, job services.IngestJob) error {
	return p.Publish(ctx, &DocumentProcessMessage{
		DocumentID:  job.DocumentID,
		FilePath:    job.FilePath,
		ContentType: job.ContentType,
		Action:      ActionProcess,
	})
}

// Publish 发送消息到Kafka
func (p *Producer) Publish(ctx context.Context, msg *DocumentProcessMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("Kafka生产者未初始化")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.Action == "" {
		msg.Action = ActionProcess
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = p.now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(msg.DocumentID, 10)),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("action"), Value: []byte(msg.Action)},
		},
	}

	partition, offset, err := p.producer.SendMessage(kafkaMsg)
	if err != nil {
		logger.Error("发送Kafka消息失败", zap.Int64("document_id", msg.DocumentID), zap.Error(err))
		return fmt.Errorf("发送消息失败: %w", err)
	}

	logger.Debug("Kafka消息发送成功",
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.Int64("document_id", msg.DocumentID))
	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p != nil && p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
