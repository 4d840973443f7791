package genclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	"aigc-service/internal/biz"
	"aigc-service/internal/conf"
	"aigc-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/time/rate"
)

// Client 上游生成 API 客户端。
// 进程级令牌桶限流，瞬态失败指数退避重试，重试耗尽折叠进 UnitResult。
type Client struct {
	endpoint     string
	apiKey       string
	limiter      *rate.Limiter
	httpClient   *http.Client
	callTimeout  time.Duration
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	log          *log.Helper
	metrics      *metrics.AigcMetrics
}

// NewClient 创建生成客户端（返回 biz.GenerationClient 接口）
func NewClient(c *conf.Bootstrap, logger log.Logger) biz.GenerationClient {
	cfg := c.Generate
	if cfg == nil {
		cfg = &conf.Generate{}
	}

	ratePerSec := cfg.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 20
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 20
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	callTimeout := conf.ParseDuration(cfg.CallTimeout, 120*time.Second)

	return &Client{
		endpoint:     cfg.Endpoint,
		apiKey:       cfg.ApiKey,
		limiter:      rate.NewLimiter(rate.Limit(ratePerSec), burst),
		httpClient:   &http.Client{Timeout: callTimeout},
		callTimeout:  callTimeout,
		maxAttempts:  maxAttempts,
		initialDelay: conf.ParseDuration(cfg.InitialDelay, time.Second),
		maxDelay:     conf.ParseDuration(cfg.MaxDelay, 30*time.Second),
		log:          log.NewHelper(logger),
		metrics:      metrics.GetMetrics(),
	}
}

type generateAPIReq struct {
	Prompt          string   `json:"prompt"`
	ReferenceImages []string `json:"reference_images,omitempty"`
	Size            string   `json:"size,omitempty"`
	N               int      `json:"n"`
}

type generateAPIResp struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// apiError 上游 HTTP 状态错误
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("generate api error: status=%d, body=%s", e.Status, e.Body)
}

// Generate 调用上游生成一个单元。失败不向上抛 error，折叠进 UnitResult。
func (c *Client) Generate(ctx context.Context, req *biz.GenerateRequest) *biz.UnitResult {
	result := &biz.UnitResult{Index: req.BatchIndex}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		result.Attempts = attempt

		waitStart := time.Now()
		if err := c.limiter.Wait(ctx); err != nil {
			result.Err = err
			return result
		}
		if c.metrics != nil {
			c.metrics.RateLimitWait.Observe(time.Since(waitStart).Seconds())
		}

		url, err := c.callOnce(ctx, req)
		if c.metrics != nil {
			switch {
			case err == nil:
				c.metrics.GenerateCallTotal.WithLabelValues("success").Inc()
			case isRetryable(err):
				c.metrics.GenerateCallTotal.WithLabelValues("retryable").Inc()
			default:
				c.metrics.GenerateCallTotal.WithLabelValues("terminal").Inc()
			}
		}
		if err == nil {
			result.URL = url
			result.Err = nil
			return result
		}
		lastErr = err

		if !isRetryable(err) {
			c.log.Warnf("Generate failed with terminal error: index=%d, attempt=%d, error=%v",
				req.BatchIndex, attempt, err)
			break
		}
		if attempt == c.maxAttempts {
			break
		}

		delay := backoffDelay(c.initialDelay, c.maxDelay, attempt)
		c.log.Warnf("Generate failed, will retry: index=%d, attempt=%d, delay=%s, error=%v",
			req.BatchIndex, attempt, delay, err)
		if c.metrics != nil {
			c.metrics.GenerateRetryTotal.Inc()
		}

		select {
		case <-ctx.Done():
			result.Err = ctx.Err()
			return result
		case <-time.After(delay):
		}
	}

	result.Err = lastErr
	return result
}

func (c *Client) callOnce(ctx context.Context, req *biz.GenerateRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.GenerateCallDuration.Observe(time.Since(start).Seconds())
		}
	}()

	body, err := json.Marshal(generateAPIReq{
		Prompt:          req.Prompt,
		ReferenceImages: req.ReferenceImages,
		Size:            req.Size,
		N:               1,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint+"/v1/images/generations", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &apiError{Status: resp.StatusCode, Body: string(data)}
	}

	var apiResp generateAPIResp
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal generate response failed: %w", err)
	}
	if len(apiResp.Data) == 0 || apiResp.Data[0].URL == "" {
		return "", fmt.Errorf("generate response has no image url")
	}
	return apiResp.Data[0].URL, nil
}

// isRetryable 判断是否瞬态失败：网络错误、超时、429、5xx 可重试；
// 其余 4xx 是请求本身的问题，重试只会浪费配额。
func isRetryable(err error) bool {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.Status == http.StatusTooManyRequests || ae.Status >= 500
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// backoffDelay 指数退避加 ±20% 抖动：initial × 2^(attempt-1)，封顶 max
func backoffDelay(initial, max time.Duration, attempt int) time.Duration {
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}

	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	d := time.Duration(float64(delay) * jitter)
	if d <= 0 {
		d = delay
	}
	return d
}
