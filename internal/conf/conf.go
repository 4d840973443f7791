package conf

import "time"

// Bootstrap 服务启动配置（由 kratos config 从 configs/config.yaml 扫描）
type Bootstrap struct {
	Server    *Server    `json:"server"`
	Data      *Data      `json:"data"`
	Generate  *Generate  `json:"generate"`
	Storage   *Storage   `json:"storage"`
	Payment   *Payment   `json:"payment"`
	Scheduler *Scheduler `json:"scheduler"`
	Worker    *Worker    `json:"worker"`
}

// Server 服务器配置
type Server struct {
	Http *HTTP `json:"http"`
}

// HTTP HTTP 服务器配置
type HTTP struct {
	Network string `json:"network"`
	Addr    string `json:"addr"`
	Timeout string `json:"timeout"`
}

// Data 数据层配置
type Data struct {
	Database *Database `json:"database"`
	Redis    *Redis    `json:"redis"`
	Rocketmq *Rocketmq `json:"rocketmq"`
}

// Database 数据库配置
type Database struct {
	Driver string `json:"driver"`
	Source string `json:"source"`
}

// Redis Redis 配置
type Redis struct {
	Addr         string `json:"addr"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

// Rocketmq RocketMQ 配置（可选，未配置时调度事件消费者不启动）
type Rocketmq struct {
	Enabled     bool     `json:"enabled"`
	NameServers []string `json:"name_servers"`
	GroupName   string   `json:"group_name"`
	Topic       string   `json:"topic"`
	RetryTimes  int32    `json:"retry_times"`
}

// Generate 生成 API 客户端配置
type Generate struct {
	Endpoint     string  `json:"endpoint"`
	ApiKey       string  `json:"api_key"`
	RatePerSec   float64 `json:"rate_per_sec"`   // 令牌桶速率，默认 20/s
	Burst        int     `json:"burst"`          // 令牌桶容量，默认 20
	CallTimeout  string  `json:"call_timeout"`   // 单次调用超时，默认 120s
	MaxAttempts  int     `json:"max_attempts"`   // 最大尝试次数，默认 3
	InitialDelay string  `json:"initial_delay"`  // 首次重试延迟，默认 1s
	MaxDelay     string  `json:"max_delay"`      // 重试延迟上限，默认 30s
}

// Storage 对象存储转存服务配置
type Storage struct {
	Endpoint string `json:"endpoint"`
	Bucket   string `json:"bucket"`
	Timeout  string `json:"timeout"` // 单次转存超时，默认 60s
}

// Payment 支付网关配置
type Payment struct {
	Provider       string `json:"provider"`
	Endpoint       string `json:"endpoint"`
	MerchantID     string `json:"merchant_id"`
	NotifyURL      string `json:"notify_url"`
	ApiV3Key       string `json:"api_v3_key"`       // 回调报文 AES-256-GCM 解密密钥
	PlatformSerial string `json:"platform_serial"`  // 平台证书序列号
	PlatformCert   string `json:"platform_cert"`    // 平台证书公钥（PEM）
	OrderExpire    string `json:"order_expire"`     // 订单有效期，默认 10m
	FreshWindow    string `json:"fresh_window"`     // 回调时间戳容忍窗口，默认 5m
}

// Scheduler 调度器配置
type Scheduler struct {
	ClaimInterval     string `json:"claim_interval"`     // 默认 5s
	RecoveryInterval  string `json:"recovery_interval"`  // 默认 30s
	ExpireInterval    string `json:"expire_interval"`    // 默认 60s
	BatchSize         int    `json:"batch_size"`         // 默认 20
	ProcessingTimeout string `json:"processing_timeout"` // 默认 10m
}

// Worker 工作池配置
type Worker struct {
	Concurrency       int    `json:"concurrency"`        // 默认 5
	QueueSize         int    `json:"queue_size"`         // 默认 256
	UnitConcurrency   int    `json:"unit_concurrency"`   // 单个任务内生成并发，默认 3
	HeartbeatInterval string `json:"heartbeat_interval"` // 默认 5m
}

// ParseDuration 解析时间配置，空串或非法值返回默认值
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
