package biz

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"aigc-service/internal/constants"

	aigcErrors "aigc-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOrderRepo struct {
	order        *PaymentOrder
	settleCalls  int
	settledWith  *SettleNotice
	settleErr    error
	failedCalls  int
	closedCalls  int
	createdOrder *PaymentOrder
	credential   string
}

func (s *stubOrderRepo) CreateOrder(_ context.Context, order *PaymentOrder) error {
	s.createdOrder = order
	return nil
}
func (s *stubOrderRepo) GetOrderByMerchantID(context.Context, string) (*PaymentOrder, error) {
	return s.order, nil
}
func (s *stubOrderRepo) SettleOrder(_ context.Context, merchantOrderID, externalID string, amount int64) error {
	s.settleCalls++
	s.settledWith = &SettleNotice{
		MerchantOrderID:       merchantOrderID,
		ExternalTransactionID: externalID,
		Amount:                amount,
	}
	return s.settleErr
}
func (s *stubOrderRepo) MarkFailed(context.Context, string, string) error {
	s.failedCalls++
	return nil
}
func (s *stubOrderRepo) CloseIfPending(context.Context, string) error {
	s.closedCalls++
	return nil
}
func (s *stubOrderRepo) ClaimExpired(context.Context, int) ([]*PaymentOrder, error) {
	return nil, nil
}
func (s *stubOrderRepo) SaveCredential(_ context.Context, _, credential string) error {
	s.credential = credential
	return nil
}
func (s *stubOrderRepo) GetCredential(context.Context, string) (string, error) {
	return s.credential, nil
}

type stubProvider struct {
	tradeState string
	externalID string
	paidAmount int64
	queryErr   error
	createErr  error
}

func (s *stubProvider) CreateOrder(context.Context, string, int64, time.Time) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	return "weixin://pay/code", nil
}
func (s *stubProvider) QueryOrder(context.Context, string) (string, string, int64, error) {
	return s.tradeState, s.externalID, s.paidAmount, s.queryErr
}
func (s *stubProvider) CloseOrder(context.Context, string) error { return nil }

type stubVerifier struct {
	notice *SettleNotice
	err    error
}

func (s *stubVerifier) VerifyAndDecrypt(context.Context, *InboundNotification) (*SettleNotice, error) {
	return s.notice, s.err
}

func newOrderUseCase(repo *stubOrderRepo, provider *stubProvider, verifier *stubVerifier) *PaymentOrderUseCase {
	conf := &EngineConfig{ProviderName: "wxpay", OrderExpire: 10 * time.Minute}
	return NewPaymentOrderUseCase(repo, provider, verifier, conf, log.NewStdLogger(io.Discard))
}

func TestCreateOrder(t *testing.T) {
	repo := &stubOrderRepo{}
	uc := newOrderUseCase(repo, &stubProvider{}, &stubVerifier{})

	order, credential, err := uc.CreateOrder(context.Background(), "acc1", 500)
	require.NoError(t, err)
	assert.Equal(t, "weixin://pay/code", credential)
	assert.Equal(t, int64(500), order.Amount)
	assert.Equal(t, constants.OrderStatusPending, order.Status)
	assert.Contains(t, order.MerchantOrderID, "pay_acc1_")
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), order.ExpireAt, time.Minute)
	assert.Equal(t, "weixin://pay/code", repo.credential)
}

func TestCreateOrder_RejectsNonPositiveAmount(t *testing.T) {
	uc := newOrderUseCase(&stubOrderRepo{}, &stubProvider{}, &stubVerifier{})

	_, _, err := uc.CreateOrder(context.Background(), "acc1", 0)
	assert.Error(t, err)
}

func TestCreateOrder_ProviderFailureCreatesNoOrder(t *testing.T) {
	repo := &stubOrderRepo{}
	uc := newOrderUseCase(repo, &stubProvider{createErr: fmt.Errorf("gateway down")}, &stubVerifier{})

	_, _, err := uc.CreateOrder(context.Background(), "acc1", 500)
	assert.Error(t, err)
	assert.Nil(t, repo.createdOrder)
}

func TestHandleNotify_SuccessSettles(t *testing.T) {
	repo := &stubOrderRepo{}
	verifier := &stubVerifier{notice: &SettleNotice{
		MerchantOrderID:       "pay_acc1_1",
		ExternalTransactionID: "4200001",
		TradeState:            constants.ProviderTradeSuccess,
		Amount:                500,
	}}
	uc := newOrderUseCase(repo, &stubProvider{}, verifier)

	err := uc.HandleNotify(context.Background(), &InboundNotification{})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.settleCalls)
	assert.Equal(t, "pay_acc1_1", repo.settledWith.MerchantOrderID)
	assert.Equal(t, int64(500), repo.settledWith.Amount)
}

func TestHandleNotify_ClosedMarksFailed(t *testing.T) {
	repo := &stubOrderRepo{}
	verifier := &stubVerifier{notice: &SettleNotice{
		MerchantOrderID: "pay_acc1_1",
		TradeState:      constants.ProviderTradeClosed,
	}}
	uc := newOrderUseCase(repo, &stubProvider{}, verifier)

	err := uc.HandleNotify(context.Background(), &InboundNotification{})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.failedCalls)
	assert.Equal(t, 0, repo.settleCalls)
}

func TestHandleNotify_IntermediateStateIgnored(t *testing.T) {
	repo := &stubOrderRepo{}
	verifier := &stubVerifier{notice: &SettleNotice{
		MerchantOrderID: "pay_acc1_1",
		TradeState:      constants.ProviderTradeNotPay,
	}}
	uc := newOrderUseCase(repo, &stubProvider{}, verifier)

	err := uc.HandleNotify(context.Background(), &InboundNotification{})
	require.NoError(t, err)
	assert.Equal(t, 0, repo.settleCalls)
	assert.Equal(t, 0, repo.failedCalls)
}

func TestHandleNotify_VerifyFailureNeverSettles(t *testing.T) {
	repo := &stubOrderRepo{}
	verifier := &stubVerifier{err: aigcErrors.ErrSignatureInvalid}
	uc := newOrderUseCase(repo, &stubProvider{}, verifier)

	err := uc.HandleNotify(context.Background(), &InboundNotification{})
	assert.Error(t, err)
	assert.Equal(t, 0, repo.settleCalls)
	assert.Equal(t, 0, repo.failedCalls)
}

func TestHandleNotify_AmountMismatchSurfaces(t *testing.T) {
	repo := &stubOrderRepo{settleErr: aigcErrors.ErrAmountMismatch}
	verifier := &stubVerifier{notice: &SettleNotice{
		MerchantOrderID: "pay_acc1_1",
		TradeState:      constants.ProviderTradeSuccess,
		Amount:          999,
	}}
	uc := newOrderUseCase(repo, &stubProvider{}, verifier)

	err := uc.HandleNotify(context.Background(), &InboundNotification{})
	assert.Error(t, err)
}

func TestGetOrderStatus_PollFallbackSettles(t *testing.T) {
	repo := &stubOrderRepo{order: &PaymentOrder{
		MerchantOrderID: "pay_acc1_1",
		Status:          constants.OrderStatusPending,
		Amount:          500,
	}}
	provider := &stubProvider{
		tradeState: constants.ProviderTradeSuccess,
		externalID: "4200001",
		paidAmount: 500,
	}
	uc := newOrderUseCase(repo, provider, &stubVerifier{})

	_, err := uc.GetOrderStatus(context.Background(), "pay_acc1_1")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.settleCalls)
	assert.Equal(t, "4200001", repo.settledWith.ExternalTransactionID)
}

func TestGetOrderStatus_PollSettleOnClosedOrderStillReturnsStatus(t *testing.T) {
	// 过期扫描抢先关单后提供方仍返回已支付：入账被守护事务拒绝，
	// 留给人工对账，查询本身照常返回订单状态
	repo := &stubOrderRepo{
		order: &PaymentOrder{
			MerchantOrderID: "pay_acc1_1",
			Status:          constants.OrderStatusPending,
			Amount:          500,
		},
		settleErr: aigcErrors.ErrOrderNotPending,
	}
	provider := &stubProvider{
		tradeState: constants.ProviderTradeSuccess,
		externalID: "4200001",
		paidAmount: 500,
	}
	uc := newOrderUseCase(repo, provider, &stubVerifier{})

	order, err := uc.GetOrderStatus(context.Background(), "pay_acc1_1")
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, 1, repo.settleCalls)
}

func TestGetOrderStatus_TerminalOrderSkipsQuery(t *testing.T) {
	repo := &stubOrderRepo{order: &PaymentOrder{
		MerchantOrderID: "pay_acc1_1",
		Status:          constants.OrderStatusSuccess,
	}}
	uc := newOrderUseCase(repo, &stubProvider{}, &stubVerifier{})

	order, err := uc.GetOrderStatus(context.Background(), "pay_acc1_1")
	require.NoError(t, err)
	assert.Equal(t, constants.OrderStatusSuccess, order.Status)
	assert.Equal(t, 0, repo.settleCalls)
}

func TestGetOrderStatus_QueryFailureReturnsLocalState(t *testing.T) {
	repo := &stubOrderRepo{order: &PaymentOrder{
		MerchantOrderID: "pay_acc1_1",
		Status:          constants.OrderStatusPending,
	}}
	provider := &stubProvider{queryErr: fmt.Errorf("gateway timeout")}
	uc := newOrderUseCase(repo, provider, &stubVerifier{})

	order, err := uc.GetOrderStatus(context.Background(), "pay_acc1_1")
	require.NoError(t, err)
	assert.Equal(t, constants.OrderStatusPending, order.Status)
}
