package controllers

import (
	"go.uber.org/dig"

	"github.com/aihub/docsearch/internal/database"
	"github.com/aihub/docsearch/internal/knowledge"
	"github.com/aihub/docsearch/internal/services"
)

// Set 路由使用的全部控制器
type Set struct {
	Documents *DocumentController
	Search    *SearchController
	Health    *HealthController
}

// ControllerFactory 控制器工厂
type ControllerFactory struct {
	container *dig.Container
}

// NewControllerFactory 创建控制器工厂
func NewControllerFactory(container *dig.Container) *ControllerFactory {
	return &ControllerFactory{
		container: container,
	}
}

// Build 从容器解析服务并创建控制器
func (f *ControllerFactory) Build() (*Set, error) {
	var set *Set

	err := f.container.Invoke(func(
		docs *services.DocumentService,
		answers *services.AnswerService,
		engine *knowledge.SearchEngine,
		health *database.HealthChecker,
	) {
		set = &Set{
			Documents: NewDocumentController(docs),
			Search:    NewSearchController(answers, engine),
			Health:    &HealthController{Checker: health},
		}
	})
	if err != nil {
		return nil, err
	}

	return set, nil
}
