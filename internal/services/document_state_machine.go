package services

import (
	"context"
	"fmt"

	apperrors "github.com/aihub/docsearch/internal/errors"
	"github.com/aihub/docsearch/internal/logger"
	"github.com/aihub/docsearch/internal/models"
	"github.com/aihub/docsearch/internal/repository"
	"go.uber.org/zap"
)

// 状态转换规则。processing -> processing 对应任务被重新投递，
// pending -> pending 对应重新入队，processing -> pending 用于恢复被中断的处理，
// 调用方需先确认没有 worker 持有该文档
var documentTransitions = map[string][]string{
	models.DocumentStatusPending: {
		models.DocumentStatusPending,
		models.DocumentStatusProcessing,
	},
	models.DocumentStatusProcessing: {
		models.DocumentStatusPending,
		models.DocumentStatusProcessing,
		models.DocumentStatusCompleted,
		models.DocumentStatusFailed,
	},
	models.DocumentStatusFailed: {
		models.DocumentStatusProcessing,
		models.DocumentStatusPending,
	},
	models.DocumentStatusCompleted: {
		models.DocumentStatusProcessing,
		models.DocumentStatusPending,
	},
}

// StatusObserver 状态写入成功后的回调
type StatusObserver interface {
	StatusChanged(ctx context.Context, docID int64, status, errorMessage string)
}

// DocumentStateMachine 文档状态机
type DocumentStateMachine struct {
	repo     repository.DocumentRepository
	observer StatusObserver
}

// NewDocumentStateMachine 创建文档状态机实例，observer 可为 nil
func NewDocumentStateMachine(repo repository.DocumentRepository, observer StatusObserver) *DocumentStateMachine {
	return &DocumentStateMachine{repo: repo, observer: observer}
}

// CanTransition 检查是否可以进行状态转换
func (sm *DocumentStateMachine) CanTransition(from, to string) bool {
	for _, next := range documentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition 校验并写入新状态。只有 failed 状态保留错误信息
func (sm *DocumentStateMachine) Transition(ctx context.Context, docID int64, to, errorMessage string) error {
	doc, err := sm.repo.GetByID(ctx, docID)
	if err != nil {
		return err
	}

	from := doc.Status
	if !sm.CanTransition(from, to) {
		return apperrors.NewBusinessError(apperrors.ErrCodeInvalidState,
			fmt.Sprintf("invalid transition from %s to %s", from, to))
	}
	if to != models.DocumentStatusFailed {
		errorMessage = ""
	}

	if err := sm.repo.UpdateStatus(ctx, docID, to, errorMessage); err != nil {
		return err
	}

	logger.Info("document status transitioned",
		zap.Int64("documentID", docID),
		zap.String("from", from),
		zap.String("to", to))

	if sm.observer != nil {
		sm.observer.StatusChanged(ctx, docID, to, errorMessage)
	}
	return nil
}
