package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/aihub/docsearch/internal/logger"
	"github.com/aihub/docsearch/internal/services"
	"go.uber.org/zap"
)

// MessageHandler 处理单条文档消息；返回错误时消息不确认，等待重新投递
type MessageHandler func(ctx context.Context, msg *DocumentProcessMessage) error

// Consumer Kafka消费者组
type Consumer struct {
	group   sarama.ConsumerGroup
	groupID string
	topics  []string
	handler MessageHandler
	wg      sync.WaitGroup
}

// NewConsumer 创建消费者组
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V2_6_0_0

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka消费者组失败: %w", err)
	}

	logger.Info("Kafka消费者初始化成功",
		zap.Strings("brokers", brokers),
		zap.String("group_id", groupID),
		zap.Strings("topics", topics))

	return &Consumer{group: group, groupID: groupID, topics: topics, handler: handler}, nil
}

// Run 持续消费直到 ctx 结束
func (c *Consumer) Run(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			logger.Error("Kafka消费者错误", zap.Error(err))
		}
	}()

	handler := &consumerGroupHandler{handler: c.handler}
	for {
		if err := c.group.Consume(ctx, c.topics, handler); err != nil {
			logger.Error("消费消息失败", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
		}
		if ctx.Err() != nil {
			logger.Info("Kafka消费者停止")
			return
		}
	}
}

// Close 关闭消费者组
func (c *Consumer) Close() error {
	err := c.group.Close()
	c.wg.Wait()
	return err
}

// consumerGroupHandler 消费者组处理器
type consumerGroupHandler struct {
	handler MessageHandler
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 逐条处理；格式错误的消息直接确认丢弃
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			msg, err := ParseDocumentProcessMessage(message.Value)
			if err != nil {
				logger.Warn("丢弃无法解析的消息",
					zap.String("topic", message.Topic),
					zap.Int64("offset", message.Offset),
					zap.Error(err))
				session.MarkMessage(message, "")
				continue
			}

			if err := h.handler(session.Context(), msg); err != nil {
				logger.Error("处理消息失败",
					zap.String("topic", message.Topic),
					zap.Int("partition", int(message.Partition)),
					zap.Int64("offset", message.Offset),
					zap.Int64("document_id", msg.DocumentID),
					zap.Error(err))
				// 不确认，重新平衡或重启后再次投递
				return err
			}

			session.MarkMessage(message, "")
			logger.Debug("消息处理成功",
				zap.String("topic", message.Topic),
				zap.Int("partition", int(message.Partition)),
				zap.Int64("offset", message.Offset))

		case <-session.Context().Done():
			return nil
		}
	}
}

// EnqueueHandler 将消息投递到工作池队列，入队成功即确认消息
// 队列已满时阻塞，形成对消费速度的背压；处理结果由工作池记录到文档状态
func EnqueueHandler(queue services.JobQueue) MessageHandler {
	return func(ctx context.Context, msg *DocumentProcessMessage) error {
		if err := queue.Enqueue(ctx, msg.Job()); err != nil {
			return err
		}
		logger.Debug("document job queued",
			zap.Int64("documentID", msg.DocumentID),
			zap.String("action", msg.Action))
		return nil
	}
}
