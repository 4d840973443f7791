package service

import (
	"context"
	"time"

	"aigc-service/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewAigcService)

// AigcService HTTP 服务门面：DTO 与领域对象互转，业务全部下沉 biz 层
type AigcService struct {
	accountUC *biz.AccountUseCase
	jobUC     *biz.JobUseCase
	orderUC   *biz.PaymentOrderUseCase
	log       *log.Helper
}

// NewAigcService 创建服务门面
func NewAigcService(
	accountUC *biz.AccountUseCase,
	jobUC *biz.JobUseCase,
	orderUC *biz.PaymentOrderUseCase,
	logger log.Logger,
) *AigcService {
	return &AigcService{
		accountUC: accountUC,
		jobUC:     jobUC,
		orderUC:   orderUC,
		log:       log.NewHelper(logger),
	}
}

// CreateJobRequest 创建生成任务请求
type CreateJobRequest struct {
	AccountID         string       `json:"account_id"`
	ExpectedUnitCount int          `json:"expected_unit_count"`
	BatchCount        int          `json:"batch_count"`
	UnitPrice         int64        `json:"unit_price"`
	Meta              *biz.JobMeta `json:"meta"`
}

// CreateJobReply 创建生成任务响应
type CreateJobReply struct {
	JobID string `json:"job_id"`
}

// CreateJob 创建预付费生成任务
func (s *AigcService) CreateJob(ctx context.Context, req *CreateJobRequest) (*CreateJobReply, error) {
	jobID, err := s.jobUC.CreateJob(ctx, req.AccountID, req.ExpectedUnitCount, req.BatchCount, req.UnitPrice, req.Meta)
	if err != nil {
		return nil, err
	}
	return &CreateJobReply{JobID: jobID}, nil
}

// JobStatusReply 任务状态响应
type JobStatusReply struct {
	JobID             string              `json:"job_id"`
	AccountID         string              `json:"account_id"`
	Status            string              `json:"status"`
	ExpectedUnitCount int                 `json:"expected_unit_count"`
	ActualUnitCount   int                 `json:"actual_unit_count"`
	UnitPrice         int64               `json:"unit_price"`
	ErrorSummary      *biz.ErrorAggregate `json:"error_summary,omitempty"`
	CreatedAt         string              `json:"created_at"`
	UpdatedAt         string              `json:"updated_at"`
}

// GetJobStatus 查询任务状态
func (s *AigcService) GetJobStatus(ctx context.Context, jobID string) (*JobStatusReply, error) {
	job, err := s.jobUC.GetJobStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &JobStatusReply{
		JobID:             job.JobID,
		AccountID:         job.AccountID,
		Status:            job.Status,
		ExpectedUnitCount: job.ExpectedUnitCount,
		ActualUnitCount:   job.ActualUnitCount,
		UnitPrice:         job.UnitPrice,
		ErrorSummary:      job.ErrorSummary,
		CreatedAt:         job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         job.UpdatedAt.Format(time.RFC3339),
	}, nil
}

// CreateOrderRequest 创建充值订单请求
type CreateOrderRequest struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
}

// CreateOrderReply 创建充值订单响应
type CreateOrderReply struct {
	MerchantOrderID string `json:"merchant_order_id"`
	Credential      string `json:"credential"`
	ExpireAt        string `json:"expire_at"`
}

// CreateOrder 创建充值订单
func (s *AigcService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderReply, error) {
	order, credential, err := s.orderUC.CreateOrder(ctx, req.AccountID, req.Amount)
	if err != nil {
		return nil, err
	}
	return &CreateOrderReply{
		MerchantOrderID: order.MerchantOrderID,
		Credential:      credential,
		ExpireAt:        order.ExpireAt.Format(time.RFC3339),
	}, nil
}

// OrderStatusReply 订单状态响应
type OrderStatusReply struct {
	MerchantOrderID       string `json:"merchant_order_id"`
	AccountID             string `json:"account_id"`
	Amount                int64  `json:"amount"`
	Status                string `json:"status"`
	ExternalTransactionID string `json:"external_transaction_id,omitempty"`
	ExpireAt              string `json:"expire_at"`
	SettledAt             string `json:"settled_at,omitempty"`
}

// GetOrderStatus 查询订单状态（本地 pending 时触发查单兜底）
func (s *AigcService) GetOrderStatus(ctx context.Context, merchantOrderID string) (*OrderStatusReply, error) {
	order, err := s.orderUC.GetOrderStatus(ctx, merchantOrderID)
	if err != nil {
		return nil, err
	}

	reply := &OrderStatusReply{
		MerchantOrderID:       order.MerchantOrderID,
		AccountID:             order.AccountID,
		Amount:                order.Amount,
		Status:                order.Status,
		ExternalTransactionID: order.ExternalTransactionID,
		ExpireAt:              order.ExpireAt.Format(time.RFC3339),
	}
	if order.SettledAt != nil {
		reply.SettledAt = order.SettledAt.Format(time.RFC3339)
	}
	return reply, nil
}

// Notify 支付回调入口（原始报文由 server 层透传）
func (s *AigcService) Notify(ctx context.Context, n *biz.InboundNotification) error {
	return s.orderUC.HandleNotify(ctx, n)
}

// CloseOrder 用户主动关单
func (s *AigcService) CloseOrder(ctx context.Context, merchantOrderID string) error {
	return s.orderUC.UserClose(ctx, merchantOrderID)
}

// GetCredential 重新获取缓存的支付凭证（前端刷新二维码用）
func (s *AigcService) GetCredential(ctx context.Context, merchantOrderID string) (string, error) {
	return s.orderUC.GetCredential(ctx, merchantOrderID)
}

// AccountReply 账户响应：余额与消费统计
type AccountReply struct {
	AccountID    string `json:"account_id"`
	Balance      int64  `json:"balance"`
	TodayCharged int64  `json:"today_charged"`
	TodayUnits   int    `json:"today_units"`
	MonthCharged int64  `json:"month_charged"`
	MonthUnits   int    `json:"month_units"`
}

// GetAccount 查询账户余额与消费统计
func (s *AigcService) GetAccount(ctx context.Context, accountID string) (*AccountReply, error) {
	account, stats, err := s.accountUC.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &AccountReply{
		AccountID:    account.AccountID,
		Balance:      account.Balance,
		TodayCharged: stats.TodayCharged,
		TodayUnits:   stats.TodayUnits,
		MonthCharged: stats.MonthCharged,
		MonthUnits:   stats.MonthUnits,
	}, nil
}

// LedgerEntryItem 流水条目
type LedgerEntryItem struct {
	LedgerEntryID string `json:"ledger_entry_id"`
	Category      string `json:"category"`
	Amount        int64  `json:"amount"`
	BalanceBefore int64  `json:"balance_before"`
	BalanceAfter  int64  `json:"balance_after"`
	JobID         string `json:"job_id,omitempty"`
	OrderID       string `json:"order_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// ListEntriesReply 流水分页响应
type ListEntriesReply struct {
	Total   int64              `json:"total"`
	Entries []*LedgerEntryItem `json:"entries"`
}

// ListEntries 查询账户流水
func (s *AigcService) ListEntries(ctx context.Context, accountID string, page, pageSize int) (*ListEntriesReply, error) {
	entries, total, err := s.accountUC.ListEntries(ctx, accountID, page, pageSize)
	if err != nil {
		return nil, err
	}

	items := make([]*LedgerEntryItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, &LedgerEntryItem{
			LedgerEntryID: e.LedgerEntryID,
			Category:      e.Category,
			Amount:        e.Amount,
			BalanceBefore: e.BalanceBefore,
			BalanceAfter:  e.BalanceAfter,
			JobID:         e.JobID,
			OrderID:       e.OrderID,
			CreatedAt:     e.CreatedAt.Format(time.RFC3339),
		})
	}
	return &ListEntriesReply{Total: total, Entries: items}, nil
}
