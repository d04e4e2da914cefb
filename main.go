package main

import (
	"context"
	"flag"
	"time"

	"github.com/GrainArc/GeoEdit/config"
	"github.com/GrainArc/GeoEdit/geotx"
	"github.com/GrainArc/GeoEdit/models"
	"github.com/GrainArc/GeoEdit/routers"
	"github.com/GrainArc/GeoEdit/views"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "./config.xml", "配置文件路径")
	flag.Parse()

	if err := config.Load(*configPath); err != nil {
		panic(err)
	}
	logger, err := config.InitLogger(config.MainConfig.LogLevel, config.MainConfig.LogFile)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := models.InitDB(); err != nil {
		logger.Fatal("init database failed", zap.Error(err))
	}

	store := geotx.NewGormStore(models.DB, logger)
	jobs := geotx.NewJobManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go jobs.CleanupLoop(ctx, time.Duration(config.MainConfig.JobTTL)*time.Minute)

	uc := views.NewUserController(models.DB, store, jobs, logger)
	r := gin.Default()
	routers.GeoRouters(r, uc)
	routers.ImportRouters(r, uc)

	logger.Info("server starting", zap.String("addr", config.MainConfig.Addr))
	if err := r.Run(config.MainConfig.Addr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
