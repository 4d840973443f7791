package scheduler

import (
	"context"
	"fmt"
	"time"

	"aigc-service/internal/biz"
	"aigc-service/internal/metrics"
	"aigc-service/internal/worker"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// Scheduler 周期调度器：认领待处理任务、回收超时任务、关闭过期订单。
// 三条扫描互相独立，单次失败只记录日志，下个周期自然重试。
// 实现 kratos transport.Server 接口，随应用生命周期启停。
type Scheduler struct {
	jobRepo biz.JobRepo
	orderUC *biz.PaymentOrderUseCase
	pool    *worker.Pool
	conf    *biz.EngineConfig

	cron    *cron.Cron
	log     *log.Helper
	metrics *metrics.AigcMetrics
}

// NewScheduler 创建调度器
func NewScheduler(
	jobRepo biz.JobRepo,
	orderUC *biz.PaymentOrderUseCase,
	pool *worker.Pool,
	conf *biz.EngineConfig,
	logger log.Logger,
) *Scheduler {
	return &Scheduler{
		jobRepo: jobRepo,
		orderUC: orderUC,
		pool:    pool,
		conf:    conf,
		cron:    cron.New(cron.WithSeconds()),
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// Start 注册并启动周期扫描（实现 transport.Server）
func (s *Scheduler) Start(_ context.Context) error {
	specs := []struct {
		name string
		spec string
		fn   func()
	}{
		{"claim", everySpec(s.conf.ClaimInterval), s.claimTick},
		{"recovery", everySpec(s.conf.RecoveryInterval), s.recoveryTick},
		{"expire", everySpec(s.conf.ExpireInterval), s.expireTick},
	}
	for _, item := range specs {
		if _, err := s.cron.AddFunc(item.spec, item.fn); err != nil {
			return fmt.Errorf("register %s tick failed: %w", item.name, err)
		}
	}

	s.cron.Start()
	s.log.Infof("Scheduler started: claim=%s, recovery=%s, expire=%s",
		s.conf.ClaimInterval, s.conf.RecoveryInterval, s.conf.ExpireInterval)
	return nil
}

// Stop 停止调度，等待在途扫描结束（实现 transport.Server）
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	s.log.Info("Scheduler stopped")
	return nil
}

// claimTick 认领一批 pending 任务并投递给工作池
func (s *Scheduler) claimTick() {
	ctx := context.Background()

	jobs, err := s.jobRepo.ClaimPending(ctx, s.conf.BatchSize)
	if err != nil {
		s.log.Errorf("ClaimPending failed: %v", err)
		if s.metrics != nil {
			s.metrics.JobClaimTotal.WithLabelValues("error").Inc()
		}
		return
	}
	if len(jobs) == 0 {
		return
	}

	submitted := 0
	for _, job := range jobs {
		if s.pool.Submit(job.JobID) {
			submitted++
		}
	}
	if s.metrics != nil {
		s.metrics.JobClaimTotal.WithLabelValues("claimed").Add(float64(len(jobs)))
	}
	s.log.Infof("Jobs claimed: count=%d, submitted=%d", len(jobs), submitted)
}

// recoveryTick 把心跳超时的 processing 任务重置回 pending
func (s *Scheduler) recoveryTick() {
	ctx := context.Background()

	recovered, err := s.jobRepo.RecoverStale(ctx, s.conf.ProcessingTimeout, s.conf.BatchSize)
	if err != nil {
		s.log.Errorf("RecoverStale failed: %v", err)
		return
	}
	if recovered > 0 {
		if s.metrics != nil {
			s.metrics.JobRecoverTotal.Add(float64(recovered))
		}
		s.log.Warnf("Stale jobs recovered: count=%d, timeout=%s", recovered, s.conf.ProcessingTimeout)
	}
}

// expireTick 关闭超过有效期仍未支付的订单
func (s *Scheduler) expireTick() {
	ctx := context.Background()

	if _, err := s.orderUC.CloseExpiredOrders(ctx, s.conf.BatchSize); err != nil {
		s.log.Errorf("CloseExpiredOrders failed: %v", err)
	}
}

// everySpec 把时间间隔转成 cron 的 @every 描述符，任意间隔按原值生效
func everySpec(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return "@every " + d.String()
}
