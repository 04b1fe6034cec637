package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/docsearch/internal/services"
)

func TestProducer_Enqueue(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	defer sp.Close()

	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	p := NewProducerWithClient(sp, "documents.process")
	p.now = func() time.Time { return fixed }

	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var msg DocumentProcessMessage
		if err := json.Unmarshal(val, &msg); err != nil {
			return err
		}
		if msg.DocumentID != 7 || msg.FilePath != "abc_report.pdf" || msg.Action != ActionProcess {
			return fmt.Errorf("unexpected message %+v", msg)
		}
		if !msg.EnqueuedAt.Equal(fixed) {
			return fmt.Errorf("unexpected timestamp %v", msg.EnqueuedAt)
		}
		return nil
	})

	err := p.Enqueue(context.Background(), services.IngestJob{
		DocumentID:  7,
		FilePath:    "abc_report.pdf",
		ContentType: "application/pdf",
	})
	require.NoError(t, err)
}

func TestProducer_SendFailure(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	defer sp.Close()
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := NewProducerWithClient(sp, "documents.process").Enqueue(context.Background(), services.IngestJob{DocumentID: 1})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestProducer_Nil(t *testing.T) {
	var p *Producer
	assert.Error(t, p.Publish(context.Background(), &DocumentProcessMessage{DocumentID: 1}))
	assert.NoError(t, p.Close())
}

func TestParseDocumentProcessMessage(t *testing.T) {
	msg, err := ParseDocumentProcessMessage([]byte(`{"document_id":3,"action":"reprocess"}`))
	require.NoError(t, err)
	assert.Equal(t, services.IngestJob{DocumentID: 3}, msg.Job())
	assert.Equal(t, ActionReprocess, msg.Action)

	_, err = ParseDocumentProcessMessage([]byte(`{"action":"process"}`))
	assert.Error(t, err)

	_, err = ParseDocumentProcessMessage([]byte(`not json`))
	assert.Error(t, err)
}

type fakeSession struct {
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "member" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "documents.process" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestConsumeClaim(t *testing.T) {
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "documents.process", Offset: 1, Value: []byte(`{"document_id":5}`)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "documents.process", Offset: 2, Value: []byte(`garbage`)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "documents.process", Offset: 3, Value: []byte(`{"document_id":6}`)}
	close(claim.messages)

	var handled []int64
	h := &consumerGroupHandler{handler: func(_ context.Context, msg *DocumentProcessMessage) error {
		handled = append(handled, msg.DocumentID)
		return nil
	}}
	session := &fakeSession{ctx: context.Background()}

	require.NoError(t, h.ConsumeClaim(session, claim))
	assert.Equal(t, []int64{5, 6}, handled)
	assert.Equal(t, []int64{1, 2, 3}, session.marked)
}

func TestConsumeClaim_HandlerErrorLeavesMessageUnmarked(t *testing.T) {
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 9, Value: []byte(`{"document_id":5}`)}

	h := &consumerGroupHandler{handler: func(context.Context, *DocumentProcessMessage) error {
		return errors.New("pool closed")
	}}
	session := &fakeSession{ctx: context.Background()}

	assert.Error(t, h.ConsumeClaim(session, claim))
	assert.Empty(t, session.marked)
}

// blockingQueue 入队立即返回，处理要等 release 关闭后才结束
type blockingQueue struct {
	queued    chan services.IngestJob
	release   chan struct{}
	processed chan int64
}

func newBlockingQueue() *blockingQueue {
	return &blockingQueue{
		queued:    make(chan services.IngestJob, 4),
		release:   make(chan struct{}),
		processed: make(chan int64, 4),
	}
}

func (q *blockingQueue) Enqueue(ctx context.Context, job services.IngestJob) error {
	q.queued <- job
	go func() {
		<-q.release
		q.processed <- job.DocumentID
	}()
	return nil
}

func TestEnqueueHandler_MarksBeforeProcessingFinishes(t *testing.T) {
	queue := newBlockingQueue()
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 1, Value: []byte(`{"document_id":3,"file_path":"k"}`)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 2, Value: []byte(`{"document_id":4}`)}
	close(claim.messages)

	h := &consumerGroupHandler{handler: EnqueueHandler(queue)}
	session := &fakeSession{ctx: context.Background()}

	require.NoError(t, h.ConsumeClaim(session, claim))
	assert.Equal(t, []int64{1, 2}, session.marked)
	assert.Empty(t, queue.processed)

	job := <-queue.queued
	assert.Equal(t, int64(3), job.DocumentID)
	assert.Equal(t, "k", job.FilePath)

	close(queue.release)
	assert.ElementsMatch(t, []int64{3, 4}, []int64{<-queue.processed, <-queue.processed})
}

type failingQueue struct{ err error }

func (q failingQueue) Enqueue(context.Context, services.IngestJob) error { return q.err }

func TestEnqueueHandler_QueueErrorLeavesMessageUnmarked(t *testing.T) {
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 9, Value: []byte(`{"document_id":5}`)}

	h := &consumerGroupHandler{handler: EnqueueHandler(failingQueue{err: services.ErrPoolClosed})}
	session := &fakeSession{ctx: context.Background()}

	err := h.ConsumeClaim(session, claim)
	assert.ErrorIs(t, err, services.ErrPoolClosed)
	assert.Empty(t, session.marked)
}
