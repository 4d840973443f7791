package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aigc-service/internal/constants"
	"aigc-service/internal/metrics"

	aigcErrors "aigc-service/internal/errors"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// PaymentOrder 支付订单领域对象
type PaymentOrder struct {
	OrderID               string
	AccountID             string
	Amount                int64 // 最小货币单位（分）
	Provider              string
	MerchantOrderID       string // 商户单号，全局唯一
	ExternalTransactionID string // 提供方流水号，入账时回填
	Status                string
	ExpireAt              time.Time
	SettledAt             *time.Time
	LinkedLedgerEntryID   string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// PaymentOrderRepo 支付订单数据层接口（定义在 biz 层）
type PaymentOrderRepo interface {
	CreateOrder(ctx context.Context, order *PaymentOrder) error
	GetOrderByMerchantID(ctx context.Context, merchantOrderID string) (*PaymentOrder, error)
	// SettleOrder 守护式入账事务：锁订单行复验 pending、校验金额、锁账户行入账、
	// 写 order_settlement 流水并一次性绑定 linked_ledger_entry_id。
	// 已 success 的订单直接返回 nil（幂等）；其余终态返回 ErrOrderNotPending；
	// 金额不符返回 ErrAmountMismatch 且不改动任何状态。
	SettleOrder(ctx context.Context, merchantOrderID, externalTransactionID string, amount int64) error
	// MarkFailed 仅当订单仍为 pending 时置为 failed
	MarkFailed(ctx context.Context, merchantOrderID, externalTransactionID string) error
	// CloseIfPending 仅当订单仍为 pending 时置为 closed，否则返回 ErrOrderNotPending
	CloseIfPending(ctx context.Context, merchantOrderID string) error
	// ClaimExpired 跳过已锁行选取过期未付订单并打认领标记，供过期扫描关闭；
	// 冷却窗口内同一批订单不会被其他扫描实例重复领取。
	ClaimExpired(ctx context.Context, limit int) ([]*PaymentOrder, error)
	// SaveCredential / GetCredential 支付凭证缓存（7 天）
	SaveCredential(ctx context.Context, merchantOrderID, credential string) error
	GetCredential(ctx context.Context, merchantOrderID string) (string, error)
}

// PaymentProviderClient 支付提供方客户端接口（外部协作方）
type PaymentProviderClient interface {
	// CreateOrder 下单并取得支付凭证（二维码/跳转地址，内容对本核心不透明）
	CreateOrder(ctx context.Context, merchantOrderID string, amount int64, expireAt time.Time) (credential string, err error)
	// QueryOrder 主动查单，返回提供方状态与流水号
	QueryOrder(ctx context.Context, merchantOrderID string) (tradeState, externalTransactionID string, paidAmount int64, err error)
	// CloseOrder 关单，"已关闭/已支付" 由实现折叠为成功
	CloseOrder(ctx context.Context, merchantOrderID string) error
}

// InboundNotification 回调原始报文：验签所需的头部字段 + 原始请求体
type InboundNotification struct {
	Timestamp string
	Nonce     string
	Serial    string
	Signature string
	Body      []byte
}

// SettleNotice 验签解密后的入账通知
type SettleNotice struct {
	MerchantOrderID       string `json:"out_trade_no"`
	ExternalTransactionID string `json:"transaction_id"`
	TradeState            string `json:"trade_state"`
	Amount                int64  `json:"amount"`
}

// NotifyVerifier 回调验签与解密接口
type NotifyVerifier interface {
	VerifyAndDecrypt(ctx context.Context, n *InboundNotification) (*SettleNotice, error)
}

// PaymentOrderUseCase 支付订单业务逻辑
type PaymentOrderUseCase struct {
	repo         PaymentOrderRepo
	provider     PaymentProviderClient
	verifier     NotifyVerifier
	providerName string
	orderExpire  time.Duration
	log          *log.Helper
	metrics      *metrics.AigcMetrics
}

// NewPaymentOrderUseCase 创建支付订单 UseCase
func NewPaymentOrderUseCase(
	repo PaymentOrderRepo,
	provider PaymentProviderClient,
	verifier NotifyVerifier,
	conf *EngineConfig,
	logger log.Logger,
) *PaymentOrderUseCase {
	return &PaymentOrderUseCase{
		repo:         repo,
		provider:     provider,
		verifier:     verifier,
		providerName: conf.ProviderName,
		orderExpire:  conf.OrderExpire,
		log:          log.NewHelper(logger),
		metrics:      metrics.GetMetrics(),
	}
}

// CreateOrder 创建充值订单并向提供方下单取凭证
func (uc *PaymentOrderUseCase) CreateOrder(ctx context.Context, accountID string, amount int64) (*PaymentOrder, string, error) {
	if amount <= 0 {
		return nil, "", pkgErrors.NewBizErrorWithLang(ctx, aigcErrors.ErrCodeOrderCreateFailed)
	}
	if uc.provider == nil {
		return nil, "", pkgErrors.NewBizErrorWithLang(ctx, aigcErrors.ErrCodeProviderUnavailable)
	}

	now := time.Now()
	order := &PaymentOrder{
		OrderID:         uuid.New().String(),
		AccountID:       accountID,
		Amount:          amount,
		Provider:        uc.providerName,
		MerchantOrderID: fmt.Sprintf("%s%s_%d", constants.OrderIDPrefixPay, accountID, now.UnixNano()),
		Status:          constants.OrderStatusPending,
		ExpireAt:        now.Add(uc.orderExpire),
	}

	credential, err := uc.provider.CreateOrder(ctx, order.MerchantOrderID, amount, order.ExpireAt)
	if err != nil {
		uc.log.Errorf("provider CreateOrder failed: merchant_order_id=%s, error=%v", order.MerchantOrderID, err)
		return nil, "", pkgErrors.WrapErrorWithLang(ctx, err, aigcErrors.ErrCodeProviderUnavailable)
	}

	if err := uc.repo.CreateOrder(ctx, order); err != nil {
		uc.log.Errorf("CreateOrder failed: merchant_order_id=%s, error=%v", order.MerchantOrderID, err)
		return nil, "", pkgErrors.WrapErrorWithLang(ctx, err, aigcErrors.ErrCodeOrderCreateFailed)
	}
	if uc.metrics != nil {
		uc.metrics.OrderTotal.WithLabelValues(constants.OrderStatusPending).Inc()
	}

	// 凭证缓存失败不影响下单
	if err := uc.repo.SaveCredential(ctx, order.MerchantOrderID, credential); err != nil {
		uc.log.Warnf("SaveCredential failed: merchant_order_id=%s, error=%v", order.MerchantOrderID, err)
	}

	uc.log.Infof("Payment order created: merchant_order_id=%s, account_id=%s, amount=%d, expire_at=%s",
		order.MerchantOrderID, accountID, amount, order.ExpireAt.Format(time.RFC3339))
	return order, credential, nil
}

// HandleNotify 回调入账：验签、解密、守护式状态迁移，全程幂等
func (uc *PaymentOrderUseCase) HandleNotify(ctx context.Context, n *InboundNotification) error {
	notice, err := uc.verifier.VerifyAndDecrypt(ctx, n)
	if err != nil {
		uc.rejectNotify(err)
		switch {
		case errors.Is(err, aigcErrors.ErrReplaySuspected):
			return pkgErrors.NewBizErrorWithLang(ctx, aigcErrors.ErrCodeReplaySuspected)
		case errors.Is(err, aigcErrors.ErrSignatureInvalid):
			return pkgErrors.NewBizErrorWithLang(ctx, aigcErrors.ErrCodeSignatureInvalid)
		default:
			return pkgErrors.WrapErrorWithLang(ctx, err, aigcErrors.ErrCodeDecryptFailed)
		}
	}

	switch notice.TradeState {
	case constants.ProviderTradeSuccess:
		return uc.settle(ctx, notice, "webhook")
	case constants.ProviderTradeClosed:
		return uc.markFailed(ctx, notice)
	default:
		// 未支付等中间态回调不改动本地状态
		uc.log.Infof("Notify with non-final trade state ignored: merchant_order_id=%s, state=%s",
			notice.MerchantOrderID, notice.TradeState)
		return nil
	}
}

// GetOrderStatus 查询订单状态；本地仍 pending 时走查单兜底入账。
// 兜底路径与回调并发竞争是安全的：入账事务内的锁加状态复验保证只记一次账。
func (uc *PaymentOrderUseCase) GetOrderStatus(ctx context.Context, merchantOrderID string) (*PaymentOrder, error) {
	order, err := uc.repo.GetOrderByMerchantID(ctx, merchantOrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, aigcErrors.ErrCodeOrderNotFound)
	}
	if order.Status != constants.OrderStatusPending {
		return order, nil
	}

	tradeState, externalID, paidAmount, err := uc.provider.QueryOrder(ctx, merchantOrderID)
	if err != nil {
		// 查单失败不阻塞状态返回，等待回调或下次轮询
		uc.log.Warnf("provider QueryOrder failed: merchant_order_id=%s, error=%v", merchantOrderID, err)
		return order, nil
	}

	switch tradeState {
	case constants.ProviderTradeSuccess:
		notice := &SettleNotice{
			MerchantOrderID:       merchantOrderID,
			ExternalTransactionID: externalID,
			TradeState:            tradeState,
			Amount:                paidAmount,
		}
		// 兜底入账失败不阻塞状态返回。典型场景是过期扫描抢先关单后
		// 提供方仍返回已支付，这笔钱要人工对账，查询本身照常响应。
		if err := uc.settle(ctx, notice, "poll"); err != nil {
			uc.log.Errorf("Poll settle failed, manual review may be required: merchant_order_id=%s, external_transaction_id=%s, paid=%d, error=%v",
				merchantOrderID, externalID, paidAmount, err)
		}
	case constants.ProviderTradeClosed:
		if err := uc.repo.MarkFailed(ctx, merchantOrderID, externalID); err != nil && !errors.Is(err, aigcErrors.ErrOrderNotPending) {
			return nil, err
		}
	}

	return uc.repo.GetOrderByMerchantID(ctx, merchantOrderID)
}

// CloseExpiredOrders 过期扫描：关闭超过有效期仍未支付的订单
func (uc *PaymentOrderUseCase) CloseExpiredOrders(ctx context.Context, limit int) (int, error) {
	orders, err := uc.repo.ClaimExpired(ctx, limit)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, order := range orders {
		// 提供方侧 "已关闭/已支付" 已被客户端折叠为成功
		if err := uc.provider.CloseOrder(ctx, order.MerchantOrderID); err != nil {
			uc.log.Warnf("provider CloseOrder failed: merchant_order_id=%s, error=%v", order.MerchantOrderID, err)
			continue
		}
		if err := uc.repo.CloseIfPending(ctx, order.MerchantOrderID); err != nil {
			if errors.Is(err, aigcErrors.ErrOrderNotPending) {
				// 扫描与回调竞争，对方已入账或关单
				continue
			}
			uc.log.Errorf("CloseIfPending failed: merchant_order_id=%s, error=%v", order.MerchantOrderID, err)
			continue
		}
		closed++
		if uc.metrics != nil {
			uc.metrics.OrderExpiredTotal.Inc()
			uc.metrics.OrderTotal.WithLabelValues(constants.OrderStatusClosed).Inc()
		}
	}

	if closed > 0 {
		uc.log.Infof("Expired orders closed: count=%d", closed)
	}
	return closed, nil
}

// UserClose 用户主动关单，仅允许 pending 订单
func (uc *PaymentOrderUseCase) UserClose(ctx context.Context, merchantOrderID string) error {
	order, err := uc.repo.GetOrderByMerchantID(ctx, merchantOrderID)
	if err != nil {
		return err
	}
	if order == nil {
		return pkgErrors.NewBizErrorWithLang(ctx, aigcErrors.ErrCodeOrderNotFound)
	}

	if err := uc.repo.CloseIfPending(ctx, merchantOrderID); err != nil {
		if errors.Is(err, aigcErrors.ErrOrderNotPending) {
			return pkgErrors.NewBizErrorWithLang(ctx, aigcErrors.ErrCodeOrderNotPending)
		}
		return err
	}

	if err := uc.provider.CloseOrder(ctx, merchantOrderID); err != nil {
		uc.log.Warnf("provider CloseOrder after user close failed: merchant_order_id=%s, error=%v", merchantOrderID, err)
	}
	return nil
}

// GetCredential 查询缓存的支付凭证
func (uc *PaymentOrderUseCase) GetCredential(ctx context.Context, merchantOrderID string) (string, error) {
	return uc.repo.GetCredential(ctx, merchantOrderID)
}

func (uc *PaymentOrderUseCase) settle(ctx context.Context, notice *SettleNotice, source string) error {
	start := time.Now()
	err := uc.repo.SettleOrder(ctx, notice.MerchantOrderID, notice.ExternalTransactionID, notice.Amount)
	if uc.metrics != nil {
		uc.metrics.OrderSettleDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		switch {
		case errors.Is(err, aigcErrors.ErrAmountMismatch):
			uc.log.Errorf("Settlement amount mismatch, manual review required: merchant_order_id=%s, notified=%d",
				notice.MerchantOrderID, notice.Amount)
			if uc.metrics != nil {
				uc.metrics.NotifyRejectTotal.WithLabelValues("amount").Inc()
			}
			return pkgErrors.NewBizErrorWithLang(ctx, aigcErrors.ErrCodeOrderAmountMismatch)
		case errors.Is(err, aigcErrors.ErrOrderNotPending):
			if uc.metrics != nil {
				uc.metrics.NotifyRejectTotal.WithLabelValues("state").Inc()
			}
			return pkgErrors.NewBizErrorWithLang(ctx, aigcErrors.ErrCodeOrderNotPending)
		default:
			uc.log.Errorf("SettleOrder failed: merchant_order_id=%s, error=%v", notice.MerchantOrderID, err)
			return pkgErrors.WrapErrorWithLang(ctx, err, aigcErrors.ErrCodeOrderSettleFailed)
		}
	}

	if uc.metrics != nil {
		uc.metrics.OrderSettleTotal.WithLabelValues(source).Inc()
	}
	uc.log.Infof("Order settled: merchant_order_id=%s, source=%s", notice.MerchantOrderID, source)
	return nil
}

func (uc *PaymentOrderUseCase) markFailed(ctx context.Context, notice *SettleNotice) error {
	err := uc.repo.MarkFailed(ctx, notice.MerchantOrderID, notice.ExternalTransactionID)
	if err != nil && !errors.Is(err, aigcErrors.ErrOrderNotPending) {
		return err
	}
	return nil
}

func (uc *PaymentOrderUseCase) rejectNotify(err error) {
	if uc.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, aigcErrors.ErrReplaySuspected):
		uc.metrics.NotifyRejectTotal.WithLabelValues("replay").Inc()
	case errors.Is(err, aigcErrors.ErrSignatureInvalid):
		uc.metrics.NotifyRejectTotal.WithLabelValues("signature").Inc()
	default:
		uc.metrics.NotifyRejectTotal.WithLabelValues("decrypt").Inc()
	}
}
