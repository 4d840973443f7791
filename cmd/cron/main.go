package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aigc-service/internal/biz"
	"aigc-service/internal/conf"
	"aigc-service/internal/metrics"

	"github.com/gaoyong06/go-pkg/logger"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"
)

var (
	flagconf string
)

// CronApp Cron 应用结构
type CronApp struct {
	jobRepo      biz.JobRepo
	orderUsecase *biz.PaymentOrderUseCase
	config       *biz.EngineConfig
}

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

// 独立维护进程：任务超时回收与订单过期关闭。
// 与在线服务内建的调度扫描可以同时运行，行锁与守护式更新保证互不冲突。
func main() {
	flag.Parse()

	// 初始化配置
	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}

	// 初始化日志 (使用 go-pkg/logger)
	logConfig := &logger.Config{
		Level:         "info",
		Format:        "json",
		Output:        "stdout",
		FilePath:      "logs/aigc-cron.log",
		MaxSize:       100,
		MaxAge:        30,
		MaxBackups:    10,
		Compress:      true,
		EnableConsole: true,
	}

	loggerInstance := logger.NewLogger(logConfig)

	// 添加基本字段
	loggerInstance = log.With(loggerInstance,
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.name", "aigc-cron",
	)

	logHelper := log.NewHelper(loggerInstance)

	metrics.InitMetrics()

	// 初始化应用
	app, cleanup, err := wireApp(&bc, loggerInstance)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// 创建定时任务调度器（支持秒级调度）
	cronScheduler := cron.New(cron.WithSeconds())

	// 超时任务回收 - 每30秒执行
	_, err = cronScheduler.AddFunc("*/30 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		recovered, err := app.jobRepo.RecoverStale(ctx, app.config.ProcessingTimeout, app.config.BatchSize)
		if err != nil {
			logHelper.Errorf("[CRON] Error recovering stale jobs: %v", err)
			return
		}
		if recovered > 0 {
			logHelper.Warnf("[CRON] Stale jobs recovered: count=%d", recovered)
		}
	})
	if err != nil {
		logHelper.Errorf("Failed to add stale job recovery: %v", err)
	}

	// 过期订单关闭 - 每分钟执行
	_, err = cronScheduler.AddFunc("0 * * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		closed, err := app.orderUsecase.CloseExpiredOrders(ctx, app.config.BatchSize)
		if err != nil {
			logHelper.Errorf("[CRON] Error closing expired orders: %v", err)
			return
		}
		if closed > 0 {
			logHelper.Infof("[CRON] Expired orders closed: count=%d", closed)
		}
	})
	if err != nil {
		logHelper.Errorf("Failed to add expired order sweep: %v", err)
	}

	// 启动定时任务
	cronScheduler.Start()
	logHelper.Info("========================================")
	logHelper.Info("Cron jobs started successfully")
	logHelper.Info("Scheduled jobs:")
	logHelper.Info("  - Stale job recovery: Every 30 seconds")
	logHelper.Info("  - Expired order sweep: Every minute")
	logHelper.Info("========================================")

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logHelper.Info("Shutting down gracefully...")

	// 停止定时任务
	ctx := cronScheduler.Stop()
	select {
	case <-ctx.Done():
		logHelper.Info("Cron jobs stopped gracefully")
	case <-time.After(5 * time.Second):
		logHelper.Info("Cron jobs forced to stop after timeout")
	}
}
