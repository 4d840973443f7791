package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aigc-service/internal/biz"
	"aigc-service/internal/data/model"
	"aigc-service/internal/metrics"

	aigcErrors "aigc-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// jobRepo 生成任务数据访问
type jobRepo struct {
	data    *Data
	log     *log.Helper
	metrics *metrics.AigcMetrics
}

// NewJobRepo 创建任务 repo（返回 biz.JobRepo 接口）
func NewJobRepo(data *Data, logger log.Logger) biz.JobRepo {
	return &jobRepo{
		data:    data,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// CreateJobWithCharge 扣费与任务落库在同一事务：余额不足不产生任务
func (r *jobRepo) CreateJobWithCharge(ctx context.Context, job *biz.Job) error {
	metaJSON, err := json.Marshal(job.Meta)
	if err != nil {
		return fmt.Errorf("marshal job meta failed: %w", err)
	}

	cost := int64(job.ExpectedUnitCount) * job.UnitPrice
	var newBalance int64

	err = r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := applyLedger(tx, job.AccountID, model.LedgerCategoryJobCharge, -cost, job.JobID, "")
		if err != nil {
			return err
		}
		newBalance = entry.BalanceAfter

		m := model.GenerationJob{
			JobID:             job.JobID,
			AccountID:         job.AccountID,
			Status:            model.JobStatusPending,
			ExpectedUnitCount: job.ExpectedUnitCount,
			BatchCount:        job.BatchCount,
			UnitPrice:         job.UnitPrice,
			Meta:              string(metaJSON),
		}
		return tx.Create(&m).Error
	})
	if err != nil {
		return err
	}

	updateBalanceCache(r.data, r.log, job.AccountID, newBalance)
	return nil
}

func (r *jobRepo) GetJob(ctx context.Context, jobID string) (*biz.Job, error) {
	var m model.GenerationJob
	if err := r.data.db.WithContext(ctx).Where("job_id = ?", jobID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toBizJob(&m), nil
}

// ClaimPending 认领一批待调度任务：
// 单事务内 SKIP LOCKED 选取并置为 processing，认领唯一性由数据库保证，
// 任意多个调度副本并发认领互不重叠。
func (r *jobRepo) ClaimPending(ctx context.Context, batchSize int) ([]*biz.Job, error) {
	var rows []model.GenerationJob

	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", model.JobStatusPending).
			Order("created_at").
			Limit(batchSize).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.JobID)
		}
		return tx.Model(&model.GenerationJob{}).
			Where("job_id IN ?", ids).
			Updates(map[string]interface{}{
				"status":     model.JobStatusProcessing,
				"updated_at": time.Now(),
			}).Error
	})
	if err != nil {
		return nil, err
	}

	jobs := make([]*biz.Job, 0, len(rows))
	now := time.Now()
	for i := range rows {
		rows[i].Status = model.JobStatusProcessing
		jobs = append(jobs, toBizJob(&rows[i]))
		if r.metrics != nil {
			r.metrics.JobDispatchLag.Observe(now.Sub(rows[i].CreatedAt).Seconds())
		}
	}
	return jobs, nil
}

// ClaimByID 按 ID 认领单个 pending 任务；已被认领或不存在返回 (nil, nil)
func (r *jobRepo) ClaimByID(ctx context.Context, jobID string) (*biz.Job, error) {
	var row model.GenerationJob
	claimed := false

	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("job_id = ? AND status = ?", jobID, model.JobStatusPending).
			First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		claimed = true
		return tx.Model(&model.GenerationJob{}).
			Where("job_id = ?", jobID).
			Updates(map[string]interface{}{
				"status":     model.JobStatusProcessing,
				"updated_at": time.Now(),
			}).Error
	})
	if err != nil || !claimed {
		return nil, err
	}

	row.Status = model.JobStatusProcessing
	return toBizJob(&row), nil
}

// RecoverStale 回收心跳超时的 processing 任务：
// 拿不到行锁的任务正在被 worker 持有，跳过即可。
func (r *jobRepo) RecoverStale(ctx context.Context, olderThan time.Duration, limit int) (int64, error) {
	var recovered int64
	deadline := time.Now().Add(-olderThan)

	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []model.GenerationJob
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND updated_at < ?", model.JobStatusProcessing, deadline).
			Order("updated_at").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.JobID)
		}
		res := tx.Model(&model.GenerationJob{}).
			Where("job_id IN ?", ids).
			Updates(map[string]interface{}{
				"status":     model.JobStatusPending,
				"updated_at": time.Now(),
			})
		recovered = res.RowsAffected
		return res.Error
	})
	return recovered, err
}

// LockProcessing 以 NOWAIT 行锁复验任务归属并写入首次心跳。
// 锁被占用、任务不在 processing、任务不存在都视作争用，worker 静默跳过。
func (r *jobRepo) LockProcessing(ctx context.Context, jobID string) (*biz.Job, error) {
	var row model.GenerationJob

	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"}).
			Where("job_id = ? AND status = ?", jobID, model.JobStatusProcessing).
			First(&row).Error; err != nil {
			if isLockUnavailableErr(err) || errors.Is(err, gorm.ErrRecordNotFound) {
				return aigcErrors.ErrLockContention
			}
			return err
		}
		return tx.Model(&model.GenerationJob{}).
			Where("job_id = ?", jobID).
			Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return nil, err
	}
	return toBizJob(&row), nil
}

// Heartbeat 触碰 updated_at；任务已被回收时静默返回
func (r *jobRepo) Heartbeat(ctx context.Context, jobID string) error {
	return r.data.db.WithContext(ctx).Model(&model.GenerationJob{}).
		Where("job_id = ? AND status = ?", jobID, model.JobStatusProcessing).
		Update("updated_at", time.Now()).Error
}

// FinalizeWithRefund 终态写入与差额退款同事务提交：
// 仅允许从 processing 迁出，已被他人结算时返回 ErrLockContention。
func (r *jobRepo) FinalizeWithRefund(ctx context.Context, jobID, status string, actualUnitCount int, errSummary *biz.ErrorAggregate) error {
	var accountID string
	var newBalance int64
	refunded := false

	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.GenerationJob
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("job_id = ?", jobID).
			First(&row).Error; err != nil {
			return err
		}
		if row.Status != model.JobStatusProcessing {
			return aigcErrors.ErrLockContention
		}

		if err := tx.Model(&model.GenerationJob{}).
			Where("job_id = ?", jobID).
			Updates(map[string]interface{}{
				"status":            status,
				"actual_unit_count": actualUnitCount,
				"error_summary":     errSummary.Encode(),
				"updated_at":        time.Now(),
			}).Error; err != nil {
			return err
		}

		if err := refundJob(tx, jobID, row.AccountID, row.ExpectedUnitCount, actualUnitCount); err != nil {
			return err
		}

		accountID = row.AccountID
		if row.ExpectedUnitCount > actualUnitCount {
			refunded = true
			var account model.Account
			if err := tx.Where("account_id = ?", row.AccountID).First(&account).Error; err == nil {
				newBalance = account.Balance
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if refunded {
		updateBalanceCache(r.data, r.log, accountID, newBalance)
	}
	return nil
}

// toBizJob 模型转换
func toBizJob(m *model.GenerationJob) *biz.Job {
	var meta *biz.JobMeta
	if m.Meta != "" {
		meta = &biz.JobMeta{}
		if err := json.Unmarshal([]byte(m.Meta), meta); err != nil {
			meta = nil
		}
	}
	return &biz.Job{
		JobID:             m.JobID,
		AccountID:         m.AccountID,
		Status:            m.Status,
		ExpectedUnitCount: m.ExpectedUnitCount,
		ActualUnitCount:   m.ActualUnitCount,
		BatchCount:        m.BatchCount,
		UnitPrice:         m.UnitPrice,
		Meta:              meta,
		ErrorSummary:      biz.DecodeErrorAggregate(m.ErrorSummary),
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}
