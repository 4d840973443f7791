package biz

import (
	"time"

	"aigc-service/internal/conf"
)

// EngineConfig 任务与订单引擎配置（从 Bootstrap 解析，缺省值在此收口）
type EngineConfig struct {
	// 支付
	ProviderName string
	OrderExpire  time.Duration
	FreshWindow  time.Duration

	// 调度
	ClaimInterval     time.Duration
	RecoveryInterval  time.Duration
	ExpireInterval    time.Duration
	BatchSize         int
	ProcessingTimeout time.Duration

	// 工作池
	WorkerConcurrency int
	QueueSize         int
	UnitConcurrency   int
	HeartbeatInterval time.Duration
}

// NewEngineConfig 从 Bootstrap 构建引擎配置
func NewEngineConfig(bc *conf.Bootstrap) *EngineConfig {
	c := &EngineConfig{
		ProviderName:      "wxpay",
		OrderExpire:       10 * time.Minute,
		FreshWindow:       5 * time.Minute,
		ClaimInterval:     5 * time.Second,
		RecoveryInterval:  30 * time.Second,
		ExpireInterval:    time.Minute,
		BatchSize:         20,
		ProcessingTimeout: 10 * time.Minute,
		WorkerConcurrency: 5,
		QueueSize:         256,
		UnitConcurrency:   3,
		HeartbeatInterval: 5 * time.Minute,
	}
	if bc == nil {
		return c
	}

	if p := bc.Payment; p != nil {
		if p.Provider != "" {
			c.ProviderName = p.Provider
		}
		c.OrderExpire = conf.ParseDuration(p.OrderExpire, c.OrderExpire)
		c.FreshWindow = conf.ParseDuration(p.FreshWindow, c.FreshWindow)
	}
	if s := bc.Scheduler; s != nil {
		c.ClaimInterval = conf.ParseDuration(s.ClaimInterval, c.ClaimInterval)
		c.RecoveryInterval = conf.ParseDuration(s.RecoveryInterval, c.RecoveryInterval)
		c.ExpireInterval = conf.ParseDuration(s.ExpireInterval, c.ExpireInterval)
		if s.BatchSize > 0 {
			c.BatchSize = s.BatchSize
		}
		c.ProcessingTimeout = conf.ParseDuration(s.ProcessingTimeout, c.ProcessingTimeout)
	}
	if w := bc.Worker; w != nil {
		if w.Concurrency > 0 {
			c.WorkerConcurrency = w.Concurrency
		}
		if w.QueueSize > 0 {
			c.QueueSize = w.QueueSize
		}
		if w.UnitConcurrency > 0 {
			c.UnitConcurrency = w.UnitConcurrency
		}
		c.HeartbeatInterval = conf.ParseDuration(w.HeartbeatInterval, c.HeartbeatInterval)
	}
	return c
}
