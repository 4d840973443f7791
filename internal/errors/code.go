package errors

import (
	"errors"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	i18nPkg "github.com/gaoyong06/go-pkg/middleware/i18n"
)

func init() {
	// 初始化全局错误管理器（使用项目特定的配置）
	pkgErrors.InitGlobalErrorManager("i18n", i18nPkg.Language)
}

// AIGC Service 错误码定义
// 错误码格式：SSMMEE (6位数字)
//   SS: 服务标识，AIGC 固定为 21
//   MM: 模块标识，按业务划分
//   EE: 模块内错误序号
//
// 模块划分：
//   00: 通用模块（复用 go-pkg 通用错误码）
//   01: 账户/流水模块
//   02: 生成任务模块
//   03: 支付订单模块
//   04: 回调验签模块
//   05-99: 预留扩展

// 账户/流水模块错误码 (210100-210199)
const (
	// ErrCodeAccountNotFound 账户不存在
	ErrCodeAccountNotFound = 210101
	// ErrCodeInsufficientBalance 余额不足
	ErrCodeInsufficientBalance = 210102
	// ErrCodeLedgerAppendFailed 流水写入失败
	ErrCodeLedgerAppendFailed = 210103
	// ErrCodeChargeEntryMissing 原始扣费流水缺失
	ErrCodeChargeEntryMissing = 210104
)

// 生成任务模块错误码 (210200-210299)
const (
	// ErrCodeJobNotFound 任务不存在
	ErrCodeJobNotFound = 210201
	// ErrCodeJobCreateFailed 任务创建失败
	ErrCodeJobCreateFailed = 210202
	// ErrCodeJobMetaInvalid 任务元数据非法
	ErrCodeJobMetaInvalid = 210203
	// ErrCodeJobFinalizeFailed 任务结算失败
	ErrCodeJobFinalizeFailed = 210204
)

// 支付订单模块错误码 (210300-210399)
const (
	// ErrCodeOrderNotFound 订单不存在
	ErrCodeOrderNotFound = 210301
	// ErrCodeOrderCreateFailed 订单创建失败
	ErrCodeOrderCreateFailed = 210302
	// ErrCodeOrderNotPending 订单已终态
	ErrCodeOrderNotPending = 210303
	// ErrCodeOrderAmountMismatch 回调金额与订单不符
	ErrCodeOrderAmountMismatch = 210304
	// ErrCodeProviderUnavailable 支付提供方不可用
	ErrCodeProviderUnavailable = 210305
	// ErrCodeOrderSettleFailed 订单入账失败
	ErrCodeOrderSettleFailed = 210306
)

// 回调验签模块错误码 (210400-210499)
const (
	// ErrCodeSignatureInvalid 回调签名校验失败
	ErrCodeSignatureInvalid = 210401
	// ErrCodeReplaySuspected 回调时间戳过期
	ErrCodeReplaySuspected = 210402
	// ErrCodeDecryptFailed 回调报文解密失败
	ErrCodeDecryptFailed = 210403
)

// 哨兵错误：供 biz/data 层 errors.Is 判断，service 层再包装为带码业务错误。
var (
	// ErrInsufficientBalance 余额不足，拒绝扣费
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrLockContention 行锁被其他持有者占用（静默跳过，不是失败）
	ErrLockContention = errors.New("row lock held by another worker")
	// ErrOrderNotPending 订单不在 pending 状态
	ErrOrderNotPending = errors.New("order is not pending")
	// ErrAmountMismatch 回调金额与订单金额不一致
	ErrAmountMismatch = errors.New("settled amount does not match order amount")
	// ErrReplaySuspected 回调时间戳超出容忍窗口
	ErrReplaySuspected = errors.New("notification timestamp outside freshness window")
	// ErrSignatureInvalid 回调签名非法
	ErrSignatureInvalid = errors.New("notification signature verification failed")
	// ErrChargeEntryMissing 任务没有对应的扣费流水
	ErrChargeEntryMissing = errors.New("job charge ledger entry not found")
)
