package data

import (
	"context"
	"time"

	"aigc-service/internal/biz"
	"aigc-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
)

// statsRepo 消费统计数据访问
type statsRepo struct {
	data *Data
	log  *log.Helper
}

// NewStatsRepo 创建统计 repo（返回 biz.StatsRepo 接口）
func NewStatsRepo(data *Data, logger log.Logger) biz.StatsRepo {
	return &statsRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

type spendRow struct {
	Charged int64
	Units   int
}

// GetSpendStats 按扣费流水聚合今日与本月消费。
// 消费口径取扣费金额，生成单元数由流水关联的任务行取得。
func (r *statsRepo) GetSpendStats(ctx context.Context, accountID string) (*biz.SpendStats, error) {
	now := time.Now()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	today, err := r.sumCharges(ctx, accountID, todayStart)
	if err != nil {
		return nil, err
	}
	month, err := r.sumCharges(ctx, accountID, monthStart)
	if err != nil {
		return nil, err
	}

	return &biz.SpendStats{
		AccountID:    accountID,
		TodayCharged: today.Charged,
		TodayUnits:   today.Units,
		MonthCharged: month.Charged,
		MonthUnits:   month.Units,
	}, nil
}

func (r *statsRepo) sumCharges(ctx context.Context, accountID string, since time.Time) (*spendRow, error) {
	var row spendRow
	err := r.data.db.WithContext(ctx).Model(&model.LedgerEntry{}).
		Select("COALESCE(SUM(ledger_entry.amount), 0) AS charged, COALESCE(SUM(generation_job.expected_unit_count), 0) AS units").
		Joins("JOIN generation_job ON generation_job.job_id = ledger_entry.job_id").
		Where("ledger_entry.account_id = ? AND ledger_entry.category = ? AND ledger_entry.created_at >= ?",
			accountID, model.LedgerCategoryJobCharge, since).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}
