package constants

// 任务状态常量
const (
	// JobStatusPending 待调度
	JobStatusPending = "pending"
	// JobStatusProcessing 处理中
	JobStatusProcessing = "processing"
	// JobStatusSuccess 全部成功
	JobStatusSuccess = "success"
	// JobStatusPartialSuccess 部分成功
	JobStatusPartialSuccess = "partial_success"
	// JobStatusFailed 全部失败
	JobStatusFailed = "failed"
)

// 订单状态常量
const (
	// OrderStatusPending 待支付
	OrderStatusPending = "pending"
	// OrderStatusSuccess 支付成功
	OrderStatusSuccess = "success"
	// OrderStatusFailed 支付失败
	OrderStatusFailed = "failed"
	// OrderStatusClosed 已关闭
	OrderStatusClosed = "closed"
)

// 流水类别常量
const (
	// LedgerCategoryJobCharge 任务扣费
	LedgerCategoryJobCharge = "job_charge"
	// LedgerCategoryJobRefund 任务退款
	LedgerCategoryJobRefund = "job_refund"
	// LedgerCategoryOrderSettlement 订单入账
	LedgerCategoryOrderSettlement = "order_settlement"
)

// 任务元数据类别常量
const (
	// JobMetaKindTextToImage 文生图
	JobMetaKindTextToImage = "text_to_image"
	// JobMetaKindImageToImage 图生图
	JobMetaKindImageToImage = "image_to_image"
)

// Redis Key 前缀常量
const (
	// RedisKeyBalance 余额缓存 key 前缀
	RedisKeyBalance = "balance:"
	// RedisKeyPayCredential 支付凭证缓存 key 前缀
	RedisKeyPayCredential = "pay:credential:"
)

// 订单ID前缀常量
const (
	// OrderIDPrefixPay 支付订单商户单号前缀
	OrderIDPrefixPay = "pay_"
)

// 支付提供方回调状态常量
const (
	// ProviderTradeSuccess 提供方侧已支付
	ProviderTradeSuccess = "SUCCESS"
	// ProviderTradeClosed 提供方侧已关闭
	ProviderTradeClosed = "CLOSED"
	// ProviderTradeNotPay 提供方侧未支付
	ProviderTradeNotPay = "NOTPAY"
)

// 统计周期常量
const (
	// StatsPeriodToday 今日
	StatsPeriodToday = "today"
	// StatsPeriodMonth 本月
	StatsPeriodMonth = "month"
)

// 时间格式常量
const (
	// TimeFormatMonth 月份格式 (YYYY-MM)
	TimeFormatMonth = "2006-01"
)
