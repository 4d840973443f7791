package biz

import (
	"context"
	"time"

	"aigc-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// Account 账户领域对象
type Account struct {
	AccountID string
	Balance   int64 // 最小货币单位（分）
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LedgerEntry 账户流水领域对象（只增不改）
type LedgerEntry struct {
	LedgerEntryID string
	AccountID     string
	Category      string // job_charge / job_refund / order_settlement
	Amount        int64
	BalanceBefore int64
	BalanceAfter  int64
	JobID         string
	OrderID       string
	CreatedAt     time.Time
}

// SpendStats 消费统计（按流水聚合）
type SpendStats struct {
	AccountID    string
	TodayCharged int64
	TodayUnits   int
	MonthCharged int64
	MonthUnits   int
}

// LedgerRepo 流水数据层接口（定义在 biz 层）
// 余额只能通过这里的操作变更，且全部在账户行锁内完成。
type LedgerRepo interface {
	GetBalance(ctx context.Context, accountID string) (int64, error)
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	CreateAccount(ctx context.Context, accountID string) error
	ListEntries(ctx context.Context, accountID string, page, pageSize int) ([]*LedgerEntry, int64, error)
}

// StatsRepo 消费统计数据层接口
type StatsRepo interface {
	GetSpendStats(ctx context.Context, accountID string) (*SpendStats, error)
}

// AccountUseCase 账户业务逻辑
type AccountUseCase struct {
	ledgerRepo LedgerRepo
	statsRepo  StatsRepo
	log        *log.Helper
	metrics    *metrics.AigcMetrics
}

// NewAccountUseCase 创建账户 UseCase
func NewAccountUseCase(ledgerRepo LedgerRepo, statsRepo StatsRepo, logger log.Logger) *AccountUseCase {
	return &AccountUseCase{
		ledgerRepo: ledgerRepo,
		statsRepo:  statsRepo,
		log:        log.NewHelper(logger),
		metrics:    metrics.GetMetrics(),
	}
}

// GetAccount 获取账户余额与消费统计
func (uc *AccountUseCase) GetAccount(ctx context.Context, accountID string) (*Account, *SpendStats, error) {
	account, err := uc.ledgerRepo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	if account == nil {
		account = &Account{AccountID: accountID, Balance: 0}
	}

	stats, err := uc.statsRepo.GetSpendStats(ctx, accountID)
	if err != nil {
		// 统计失败不影响余额查询
		uc.log.Warnf("GetSpendStats failed: account_id=%s, error=%v", accountID, err)
		stats = &SpendStats{AccountID: accountID}
	}

	return account, stats, nil
}

// ListEntries 获取账户流水
func (uc *AccountUseCase) ListEntries(ctx context.Context, accountID string, page, pageSize int) ([]*LedgerEntry, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return uc.ledgerRepo.ListEntries(ctx, accountID, page, pageSize)
}
