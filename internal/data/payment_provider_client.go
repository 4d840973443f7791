package data

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"aigc-service/internal/biz"
	"aigc-service/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// paymentProviderClient 支付提供方 HTTP 客户端。
// 下单/查单/关单走提供方的 JSON API，商户身份由 merchant_id 标识。
type paymentProviderClient struct {
	endpoint   string
	merchantID string
	notifyURL  string
	httpClient *http.Client
	log        *log.Helper
}

// NewPaymentProviderClient 创建支付提供方客户端（返回 biz.PaymentProviderClient 接口）
func NewPaymentProviderClient(c *conf.Bootstrap, logger log.Logger) biz.PaymentProviderClient {
	cfg := c.Payment
	if cfg == nil {
		cfg = &conf.Payment{}
	}
	return &paymentProviderClient{
		endpoint:   cfg.Endpoint,
		merchantID: cfg.MerchantID,
		notifyURL:  cfg.NotifyURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log.NewHelper(logger),
	}
}

type providerCreateOrderReq struct {
	MerchantID  string `json:"mchid"`
	OutTradeNo  string `json:"out_trade_no"`
	Amount      int64  `json:"amount"`
	NotifyURL   string `json:"notify_url"`
	TimeExpire  string `json:"time_expire"`
	Description string `json:"description"`
}

type providerCreateOrderResp struct {
	CodeURL string `json:"code_url"`
}

type providerQueryOrderResp struct {
	OutTradeNo    string `json:"out_trade_no"`
	TransactionID string `json:"transaction_id"`
	TradeState    string `json:"trade_state"`
	Amount        int64  `json:"amount"`
}

type providerErrorResp struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateOrder 向提供方下单，返回支付凭证（扫码地址）
func (c *paymentProviderClient) CreateOrder(ctx context.Context, merchantOrderID string, amount int64, expireAt time.Time) (string, error) {
	req := providerCreateOrderReq{
		MerchantID:  c.merchantID,
		OutTradeNo:  merchantOrderID,
		Amount:      amount,
		NotifyURL:   c.notifyURL,
		TimeExpire:  expireAt.Format(time.RFC3339),
		Description: "account recharge",
	}

	var resp providerCreateOrderResp
	if err := c.doJSON(ctx, http.MethodPost, "/v1/pay/transactions/native", req, &resp); err != nil {
		return "", err
	}
	if resp.CodeURL == "" {
		return "", fmt.Errorf("provider returned empty credential: merchant_order_id=%s", merchantOrderID)
	}
	return resp.CodeURL, nil
}

// QueryOrder 主动查单
func (c *paymentProviderClient) QueryOrder(ctx context.Context, merchantOrderID string) (string, string, int64, error) {
	path := fmt.Sprintf("/v1/pay/transactions/out-trade-no/%s?mchid=%s", merchantOrderID, c.merchantID)

	var resp providerQueryOrderResp
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", "", 0, err
	}
	return resp.TradeState, resp.TransactionID, resp.Amount, nil
}

// CloseOrder 关单；提供方侧已关闭或已支付折叠为成功，由上层走查单兜底
func (c *paymentProviderClient) CloseOrder(ctx context.Context, merchantOrderID string) error {
	path := fmt.Sprintf("/v1/pay/transactions/out-trade-no/%s/close", merchantOrderID)
	req := map[string]string{"mchid": c.merchantID}

	err := c.doJSON(ctx, http.MethodPost, path, req, nil)
	if err != nil {
		var pe *providerError
		if errors.As(err, &pe) && (pe.Code == "ORDER_CLOSED" || pe.Code == "ORDER_PAID") {
			return nil
		}
		return err
	}
	return nil
}

// providerError 提供方业务错误
type providerError struct {
	Status  int
	Code    string
	Message string
}

func (e *providerError) Error() string {
	return fmt.Sprintf("provider error: status=%d, code=%s, message=%s", e.Status, e.Code, e.Message)
}

func (c *paymentProviderClient) doJSON(ctx context.Context, method, path string, reqBody, respBody interface{}) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal provider request failed: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var pe providerErrorResp
		_ = json.Unmarshal(data, &pe)
		return &providerError{Status: resp.StatusCode, Code: pe.Code, Message: pe.Message}
	}

	if respBody != nil {
		if err := json.Unmarshal(data, respBody); err != nil {
			return fmt.Errorf("unmarshal provider response failed: %w", err)
		}
	}
	return nil
}
