package router

import (
	"github.com/aihub/docsearch/app/controllers"
	"github.com/aihub/docsearch/app/middleware"
	"github.com/aihub/docsearch/internal/metrics"
	"github.com/beego/beego/v2/server/web"
)

// APIPrefix 业务接口前缀
const APIPrefix = "/api/v1"

// Init 在全局 BeeApp 上注册路由，须在配置加载后调用
func Init(set *controllers.Set) {
	Register(web.BeeApp.Handlers, set)
}

// Register 在指定路由表上注册全部路由与过滤器
func Register(reg *web.ControllerRegister, set *controllers.Set) {
	_ = reg.InsertFilter("/*", web.BeforeRouter, middleware.AccessLogStart)
	_ = reg.InsertFilter("/*", web.BeforeRouter, middleware.CORSMiddleware())
	_ = reg.InsertFilter(APIPrefix+"/upload-and-process", web.BeforeRouter, middleware.RequestSizeLimit(middleware.DefaultMaxUploadSize))
	_ = reg.InsertFilter("/*", web.FinishRouter, middleware.AccessLogFinish, web.WithReturnOnOutput(false))

	reg.Add("/healthz", set.Health, web.WithRouterMethods(set.Health, "get:Healthz"))
	reg.Handler("/metrics", metrics.Handler())

	// 具体路由须在参数路由之前注册
	reg.Add(APIPrefix+"/documents", set.Documents, web.WithRouterMethods(set.Documents, "get:List"))
	reg.Add(APIPrefix+"/documents/:id", set.Documents, web.WithRouterMethods(set.Documents, "get:Get"))
	reg.Add(APIPrefix+"/documents/:id/status", set.Documents, web.WithRouterMethods(set.Documents, "get:Status"))
	reg.Add(APIPrefix+"/documents/:id/reprocess", set.Documents, web.WithRouterMethods(set.Documents, "post:Reprocess"))
	reg.Add(APIPrefix+"/upload-and-process", set.Documents, web.WithRouterMethods(set.Documents, "post:UploadAndProcess"))

	reg.Add(APIPrefix+"/search", set.Search, web.WithRouterMethods(set.Search, "post:Search"))
	reg.Add(APIPrefix+"/ask", set.Search, web.WithRouterMethods(set.Search, "post:Ask"))
	reg.Add(APIPrefix+"/pdf/list", set.Search, web.WithRouterMethods(set.Search, "get:PDFList"))
}
