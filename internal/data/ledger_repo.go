package data

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"aigc-service/internal/biz"
	"aigc-service/internal/constants"
	"aigc-service/internal/data/model"
	"aigc-service/internal/metrics"

	aigcErrors "aigc-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// applyLedger 在已开启的事务内完成一次余额变动：
// 锁定账户行、校验余额、变更余额并追加首尾相接的流水。
// delta 为负表示扣费。余额不足返回 aigcErrors.ErrInsufficientBalance。
// 入账（delta > 0）允许自动建户，扣费不允许。
func applyLedger(tx *gorm.DB, accountID, category string, delta int64, jobID, orderID string) (*model.LedgerEntry, error) {
	var account model.Account
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID).
		First(&account).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("lock account failed: %w", err)
		}
		if delta < 0 {
			return nil, aigcErrors.ErrInsufficientBalance
		}
		account = model.Account{AccountID: accountID, Balance: 0}
		if err := tx.Create(&account).Error; err != nil {
			return nil, fmt.Errorf("create account failed: %w", err)
		}
	}

	before := account.Balance
	after := before + delta
	if after < 0 {
		return nil, aigcErrors.ErrInsufficientBalance
	}

	if err := tx.Model(&model.Account{}).
		Where("account_id = ?", accountID).
		Update("balance", gorm.Expr("balance + ?", delta)).Error; err != nil {
		return nil, fmt.Errorf("update balance failed: %w", err)
	}

	amount := delta
	if amount < 0 {
		amount = -amount
	}
	entry := &model.LedgerEntry{
		LedgerEntryID: uuid.New().String(),
		AccountID:     accountID,
		Category:      category,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		JobID:         jobID,
		OrderID:       orderID,
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("append ledger entry failed: %w", err)
	}

	if m := metrics.GetMetrics(); m != nil {
		m.LedgerOpTotal.WithLabelValues(category).Inc()
		m.LedgerOpAmount.WithLabelValues(category).Add(float64(amount))
	}
	return entry, nil
}

// refundJob 在结算事务内按差额退款。
// 单价由原始扣费流水推导（charge / expected）；全部失败时原额退回，
// 避免按单价重算引入的取整损失。多付不足一单元时不退。
func refundJob(tx *gorm.DB, jobID, accountID string, expectedUnitCount, actualUnitCount int) error {
	overcharged := expectedUnitCount - actualUnitCount
	if overcharged <= 0 {
		return nil
	}

	var charge model.LedgerEntry
	if err := tx.Where("job_id = ? AND category = ?", jobID, model.LedgerCategoryJobCharge).
		First(&charge).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return aigcErrors.ErrChargeEntryMissing
		}
		return err
	}

	var credit int64
	if actualUnitCount <= 0 {
		credit = charge.Amount
	} else {
		unitPrice := charge.Amount / int64(expectedUnitCount)
		credit = unitPrice * int64(overcharged)
	}
	if credit <= 0 {
		return nil
	}

	_, err := applyLedger(tx, accountID, model.LedgerCategoryJobRefund, credit, jobID, "")
	return err
}

// ledgerRepo 账户与流水数据访问
type ledgerRepo struct {
	data *Data
	log  *log.Helper
}

// NewLedgerRepo 创建流水 repo（返回 biz.LedgerRepo 接口）
func NewLedgerRepo(data *Data, logger log.Logger) biz.LedgerRepo {
	return &ledgerRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// GetBalance 查询余额（Redis 读穿缓存）
func (r *ledgerRepo) GetBalance(ctx context.Context, accountID string) (int64, error) {
	balanceKey := constants.RedisKeyBalance + accountID
	if s, err := r.data.rdb.Get(ctx, balanceKey).Result(); err == nil {
		if balance, err := strconv.ParseInt(s, 10, 64); err == nil {
			return balance, nil
		}
	}

	account, err := r.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if account == nil {
		return 0, nil
	}

	updateBalanceCache(r.data, r.log, account.AccountID, account.Balance)
	return account.Balance, nil
}

func (r *ledgerRepo) GetAccount(ctx context.Context, accountID string) (*biz.Account, error) {
	var m model.Account
	if err := r.data.db.WithContext(ctx).Where("account_id = ?", accountID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &biz.Account{
		AccountID: m.AccountID,
		Balance:   m.Balance,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

func (r *ledgerRepo) CreateAccount(ctx context.Context, accountID string) error {
	m := model.Account{AccountID: accountID, Balance: 0}
	return r.data.db.WithContext(ctx).Create(&m).Error
}

func (r *ledgerRepo) ListEntries(ctx context.Context, accountID string, page, pageSize int) ([]*biz.LedgerEntry, int64, error) {
	var models []model.LedgerEntry
	var total int64

	offset := (page - 1) * pageSize
	db := r.data.db.WithContext(ctx).Model(&model.LedgerEntry{}).Where("account_id = ?", accountID)

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := db.Offset(offset).Limit(pageSize).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, 0, err
	}

	var entries []*biz.LedgerEntry
	for _, m := range models {
		entries = append(entries, &biz.LedgerEntry{
			LedgerEntryID: m.LedgerEntryID,
			AccountID:     m.AccountID,
			Category:      m.Category,
			Amount:        m.Amount,
			BalanceBefore: m.BalanceBefore,
			BalanceAfter:  m.BalanceAfter,
			JobID:         m.JobID,
			OrderID:       m.OrderID,
			CreatedAt:     m.CreatedAt,
		})
	}
	return entries, total, nil
}

// updateBalanceCache 事务提交后刷新余额缓存（尽力而为，失败不影响主流程）
func updateBalanceCache(data *Data, logger *log.Helper, accountID string, balance int64) {
	cacheCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	key := constants.RedisKeyBalance + accountID
	if err := data.rdb.Set(cacheCtx, key, strconv.FormatInt(balance, 10), 5*time.Minute).Err(); err != nil {
		logger.Warnf("failed to update balance cache: account_id=%s, error=%v", accountID, err)
	}
}
