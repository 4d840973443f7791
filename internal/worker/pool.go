package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"aigc-service/internal/biz"
	"aigc-service/internal/constants"
	"aigc-service/internal/metrics"

	aigcErrors "aigc-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"
)

// Pool 任务工作池。
// 固定数量的 worker 从队列取任务处理；每个任务先以 NOWAIT 锁复验归属，
// 处理期间按周期写心跳，结束时终态与退款同事务落库。
// 实现 kratos transport.Server 接口，随应用生命周期启停。
type Pool struct {
	jobRepo   biz.JobRepo
	generator biz.GenerationClient
	uploader  biz.StorageUploader
	conf      *biz.EngineConfig

	queue  chan string
	stopCh chan struct{}
	wg     sync.WaitGroup

	log     *log.Helper
	metrics *metrics.AigcMetrics
}

// NewPool 创建工作池
func NewPool(
	jobRepo biz.JobRepo,
	generator biz.GenerationClient,
	uploader biz.StorageUploader,
	conf *biz.EngineConfig,
	logger log.Logger,
) *Pool {
	return &Pool{
		jobRepo:   jobRepo,
		generator: generator,
		uploader:  uploader,
		conf:      conf,
		queue:     make(chan string, conf.QueueSize),
		stopCh:    make(chan struct{}),
		log:       log.NewHelper(logger),
		metrics:   metrics.GetMetrics(),
	}
}

// Start 启动 worker（实现 transport.Server）
func (p *Pool) Start(_ context.Context) error {
	for i := 0; i < p.conf.WorkerConcurrency; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	p.log.Infof("Worker pool started: concurrency=%d, queue_size=%d",
		p.conf.WorkerConcurrency, p.conf.QueueSize)
	return nil
}

// Stop 停止 worker，排空在途任务后返回（实现 transport.Server）
func (p *Pool) Stop(_ context.Context) error {
	close(p.stopCh)
	p.wg.Wait()
	p.log.Info("Worker pool stopped")
	return nil
}

// Submit 非阻塞入队。队列满时返回 false，任务留在 processing，
// 由心跳超时恢复扫描重新置回 pending。
func (p *Pool) Submit(jobID string) bool {
	select {
	case p.queue <- jobID:
		return true
	default:
		p.log.Warnf("Worker queue full, job left for recovery: job_id=%s", jobID)
		return false
	}
}

func (p *Pool) run(workerID int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case jobID := <-p.queue:
			p.process(jobID, workerID)
		}
	}
}

// process 处理单个任务：复验归属、维持心跳、逐批生成、终态落库
func (p *Pool) process(jobID string, workerID int) {
	ctx := context.Background()
	start := time.Now()

	job, err := p.jobRepo.LockProcessing(ctx, jobID)
	if err != nil {
		if errors.Is(err, aigcErrors.ErrLockContention) {
			// 任务已被回收或归他人所有，静默跳过
			if p.metrics != nil {
				p.metrics.JobProcessTotal.WithLabelValues("skipped").Inc()
			}
			return
		}
		p.log.Errorf("LockProcessing failed: job_id=%s, worker=%d, error=%v", jobID, workerID, err)
		return
	}

	// 元数据空缺或损坏的行直接判终态，否则超时回收后会被反复认领
	if err := job.Meta.Validate(); err != nil {
		summary := &biz.ErrorAggregate{Summary: fmt.Sprintf("job meta unusable: %v", err)}
		if ferr := p.jobRepo.FinalizeWithRefund(ctx, jobID, constants.JobStatusFailed, 0, summary); ferr != nil {
			p.log.Errorf("FinalizeWithRefund for unusable meta failed: job_id=%s, error=%v", jobID, ferr)
			return
		}
		p.log.Errorf("Job failed before dispatch, meta unusable: job_id=%s, error=%v", jobID, err)
		if p.metrics != nil {
			p.metrics.JobProcessTotal.WithLabelValues(constants.JobStatusFailed).Inc()
		}
		return
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go p.heartbeatLoop(heartbeatCtx, jobID)

	results := p.generateUnits(ctx, job)

	urls := make([]string, 0, len(results))
	var unitErrs []biz.UnitError
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Err != nil {
			unitErrs = append(unitErrs, biz.UnitError{
				Index: r.Index,
				Stage: r.Stage,
				Error: r.Err.Error(),
			})
			continue
		}
		urls = append(urls, r.URL)
	}

	actual := len(urls)
	status := biz.ClassifyJobStatus(job.ExpectedUnitCount, actual)
	summary := buildErrorAggregate(status, unitErrs)

	stopHeartbeat()

	if err := p.jobRepo.FinalizeWithRefund(ctx, jobID, status, actual, summary); err != nil {
		if errors.Is(err, aigcErrors.ErrLockContention) {
			// 处理期间任务被恢复扫描回收并重新认领，本次结果作废
			p.log.Warnf("Job finalized elsewhere, dropping results: job_id=%s, worker=%d", jobID, workerID)
			if p.metrics != nil {
				p.metrics.JobProcessTotal.WithLabelValues("skipped").Inc()
			}
			return
		}
		p.log.Errorf("FinalizeWithRefund failed: job_id=%s, worker=%d, error=%v", jobID, workerID, err)
		return
	}

	if p.metrics != nil {
		p.metrics.JobProcessTotal.WithLabelValues(status).Inc()
		p.metrics.JobProcessDuration.Observe(time.Since(start).Seconds())
	}
	p.log.Infof("Job processed: job_id=%s, worker=%d, status=%s, actual=%d/%d, duration=%s",
		jobID, workerID, status, actual, job.ExpectedUnitCount, time.Since(start).Round(time.Millisecond))
}

// unitOutcome 单元处理结果，保留失败阶段供错误汇总
type unitOutcome struct {
	Index int
	URL   string
	Stage string
	Err   error
}

// generateUnits 按批次并发生成并转存，结果按原始序号排列
func (p *Pool) generateUnits(ctx context.Context, job *biz.Job) []*unitOutcome {
	batches := job.BatchCount
	if batches <= 0 {
		batches = job.ExpectedUnitCount
	}

	results := make([]*unitOutcome, batches)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.conf.UnitConcurrency)

	for i := 0; i < batches; i++ {
		idx := i
		g.Go(func() error {
			req := job.Meta.GenerateRequest()
			req.BatchIndex = idx

			unit := p.generator.Generate(gctx, req)
			if unit.Err != nil {
				results[idx] = &unitOutcome{Index: idx, Stage: "generate", Err: unit.Err}
				if p.metrics != nil {
					p.metrics.UnitResultTotal.WithLabelValues("generate_failed").Inc()
				}
				return nil
			}

			publicURL, err := p.uploader.Upload(gctx, unit.URL)
			if err != nil {
				results[idx] = &unitOutcome{Index: idx, Stage: "upload", Err: err}
				if p.metrics != nil {
					p.metrics.UnitResultTotal.WithLabelValues("upload_failed").Inc()
				}
				return nil
			}

			results[idx] = &unitOutcome{Index: idx, URL: publicURL}
			if p.metrics != nil {
				p.metrics.UnitResultTotal.WithLabelValues("success").Inc()
			}
			return nil
		})
	}

	// 单元失败不向上抛，g.Wait 只等待全部完成
	_ = g.Wait()
	return results
}

// heartbeatLoop 处理期间周期触碰任务行，ctx 取消即退出
func (p *Pool) heartbeatLoop(ctx context.Context, jobID string) {
	ticker := time.NewTicker(p.conf.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.jobRepo.Heartbeat(ctx, jobID); err != nil {
				p.log.Warnf("Heartbeat failed: job_id=%s, error=%v", jobID, err)
			}
		}
	}
}

// buildErrorAggregate 汇总单元错误；全部成功返回 nil
func buildErrorAggregate(status string, unitErrs []biz.UnitError) *biz.ErrorAggregate {
	if len(unitErrs) == 0 {
		return nil
	}
	summary := fmt.Sprintf("%d unit(s) failed", len(unitErrs))
	if status == constants.JobStatusFailed {
		summary = "all units failed"
	}
	return &biz.ErrorAggregate{Summary: summary, Units: unitErrs}
}
