package data

import (
	"context"
	"errors"
	"time"

	"aigc-service/internal/biz"
	"aigc-service/internal/constants"
	"aigc-service/internal/data/model"
	"aigc-service/internal/metrics"

	aigcErrors "aigc-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// paymentOrderRepo 支付订单数据访问
type paymentOrderRepo struct {
	data    *Data
	log     *log.Helper
	metrics *metrics.AigcMetrics
}

// NewPaymentOrderRepo 创建支付订单 repo（返回 biz.PaymentOrderRepo 接口）
func NewPaymentOrderRepo(data *Data, logger log.Logger) biz.PaymentOrderRepo {
	return &paymentOrderRepo{
		data:    data,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

func (r *paymentOrderRepo) CreateOrder(ctx context.Context, order *biz.PaymentOrder) error {
	m := model.PaymentOrder{
		OrderID:         order.OrderID,
		AccountID:       order.AccountID,
		Amount:          order.Amount,
		Provider:        order.Provider,
		MerchantOrderID: order.MerchantOrderID,
		Status:          model.OrderStatusPending,
		ExpireAt:        order.ExpireAt,
	}
	return r.data.db.WithContext(ctx).Create(&m).Error
}

func (r *paymentOrderRepo) GetOrderByMerchantID(ctx context.Context, merchantOrderID string) (*biz.PaymentOrder, error) {
	var m model.PaymentOrder
	if err := r.data.db.WithContext(ctx).Where("merchant_order_id = ?", merchantOrderID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toBizPaymentOrder(&m), nil
}

// SettleOrder 守护式入账事务：
// 锁订单行后复验 pending，已 success 幂等放行，其余终态拒绝；
// 金额不符整单回滚，不改任何状态；入账流水与状态迁移一次提交。
func (r *paymentOrderRepo) SettleOrder(ctx context.Context, merchantOrderID, externalTransactionID string, amount int64) error {
	var accountID string
	var newBalance int64

	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order model.PaymentOrder
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("merchant_order_id = ?", merchantOrderID).
			First(&order).Error; err != nil {
			return err
		}

		if order.Status == model.OrderStatusSuccess {
			// 回调重放或回调与轮询竞争，已入账
			return nil
		}
		if order.Status != model.OrderStatusPending {
			return aigcErrors.ErrOrderNotPending
		}
		if order.Amount != amount {
			return aigcErrors.ErrAmountMismatch
		}

		entry, err := applyLedger(tx, order.AccountID, model.LedgerCategoryOrderSettlement, amount, "", order.OrderID)
		if err != nil {
			return err
		}

		now := time.Now()
		if err := tx.Model(&model.PaymentOrder{}).
			Where("merchant_order_id = ?", merchantOrderID).
			Updates(map[string]interface{}{
				"status":                  model.OrderStatusSuccess,
				"external_transaction_id": externalTransactionID,
				"settled_at":              now,
				"linked_ledger_entry_id":  entry.LedgerEntryID,
				"updated_at":              now,
			}).Error; err != nil {
			return err
		}

		accountID = order.AccountID
		newBalance = entry.BalanceAfter
		return nil
	})
	if err != nil {
		return err
	}

	if accountID != "" {
		updateBalanceCache(r.data, r.log, accountID, newBalance)
		if r.metrics != nil {
			r.metrics.OrderTotal.WithLabelValues(model.OrderStatusSuccess).Inc()
		}
	}
	return nil
}

// MarkFailed 仅当订单仍为 pending 时置为 failed
func (r *paymentOrderRepo) MarkFailed(ctx context.Context, merchantOrderID, externalTransactionID string) error {
	res := r.data.db.WithContext(ctx).Model(&model.PaymentOrder{}).
		Where("merchant_order_id = ? AND status = ?", merchantOrderID, model.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":                  model.OrderStatusFailed,
			"external_transaction_id": externalTransactionID,
			"updated_at":              time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return aigcErrors.ErrOrderNotPending
	}
	if r.metrics != nil {
		r.metrics.OrderTotal.WithLabelValues(model.OrderStatusFailed).Inc()
	}
	return nil
}

// CloseIfPending 仅当订单仍为 pending 时置为 closed
func (r *paymentOrderRepo) CloseIfPending(ctx context.Context, merchantOrderID string) error {
	res := r.data.db.WithContext(ctx).Model(&model.PaymentOrder{}).
		Where("merchant_order_id = ? AND status = ?", merchantOrderID, model.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":     model.OrderStatusClosed,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return aigcErrors.ErrOrderNotPending
	}
	return nil
}

// expiredClaimBackoff 认领后的冷却窗口：窗口内其他扫描实例不会重复领到同一批订单
const expiredClaimBackoff = time.Minute

// ClaimExpired 跳过已锁行选取过期未付订单，并在同事务内触碰 updated_at 作为认领标记。
// 关单要先走提供方确认，状态迁移不在这里做，最终由 CloseIfPending 守护落库；
// updated_at 冷却窗口保证并发扫描各领各的，关单失败的订单冷却期过后自然回到待领集合。
func (r *paymentOrderRepo) ClaimExpired(ctx context.Context, limit int) ([]*biz.PaymentOrder, error) {
	var rows []model.PaymentOrder

	now := time.Now()
	err := r.data.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND expire_at < ? AND updated_at < ?",
				model.OrderStatusPending, now, now.Add(-expiredClaimBackoff)).
			Order("expire_at").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]string, 0, len(rows))
		for i := range rows {
			ids = append(ids, rows[i].OrderID)
		}
		return tx.Model(&model.PaymentOrder{}).
			Where("order_id IN ?", ids).
			Update("updated_at", now).Error
	})
	if err != nil {
		return nil, err
	}

	orders := make([]*biz.PaymentOrder, 0, len(rows))
	for i := range rows {
		orders = append(orders, toBizPaymentOrder(&rows[i]))
	}
	return orders, nil
}

// SaveCredential 缓存支付凭证，随订单有效期留存 7 天
func (r *paymentOrderRepo) SaveCredential(ctx context.Context, merchantOrderID, credential string) error {
	key := constants.RedisKeyPayCredential + merchantOrderID
	return r.data.rdb.Set(ctx, key, credential, 7*24*time.Hour).Err()
}

func (r *paymentOrderRepo) GetCredential(ctx context.Context, merchantOrderID string) (string, error) {
	key := constants.RedisKeyPayCredential + merchantOrderID
	credential, err := r.data.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return credential, nil
}

func toBizPaymentOrder(m *model.PaymentOrder) *biz.PaymentOrder {
	return &biz.PaymentOrder{
		OrderID:               m.OrderID,
		AccountID:             m.AccountID,
		Amount:                m.Amount,
		Provider:              m.Provider,
		MerchantOrderID:       m.MerchantOrderID,
		ExternalTransactionID: m.ExternalTransactionID,
		Status:                m.Status,
		ExpireAt:              m.ExpireAt,
		SettledAt:             m.SettledAt,
		LinkedLedgerEntryID:   m.LinkedLedgerEntryID,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}
