package main

import (
	"log"
	"strconv"

	"github.com/aihub/docsearch/app/bootstrap"
	"github.com/aihub/docsearch/app/controllers"
	"github.com/aihub/docsearch/app/router"
	"github.com/aihub/docsearch/internal/logger"
	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"
)

func main() {
	app, err := bootstrap.Init(bootstrap.Options{StartHealthChecks: true})
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	set, err := controllers.NewControllerFactory(app.Container).Build()
	if err != nil {
		logger.Fatal("failed to build controllers", zap.Error(err))
	}
	router.Init(set)

	port, err := strconv.Atoi(app.Config.Server.Port)
	if err != nil {
		logger.Fatal("invalid server port", zap.String("port", app.Config.Server.Port))
	}

	// 配置Beego全局设置
	web.BConfig.AppName = "docsearch"
	web.BConfig.Listen.HTTPPort = port
	web.BConfig.RunMode = web.PROD
	if app.Config.Server.Env == "development" {
		web.BConfig.RunMode = web.DEV
	}
	web.BConfig.Listen.Graceful = false

	logger.Info("Starting docsearch API", zap.Int("port", port))
	web.Run()
}
