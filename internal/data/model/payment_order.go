package model

import (
	"aigc-service/internal/constants"
	"time"
)

// 订单状态常量（引用 constants 包中的常量，保持一致性）
const (
	OrderStatusPending = constants.OrderStatusPending // 待支付
	OrderStatusSuccess = constants.OrderStatusSuccess // 支付成功
	OrderStatusFailed  = constants.OrderStatusFailed  // 支付失败
	OrderStatusClosed  = constants.OrderStatusClosed  // 已关闭
)

// PaymentOrder 支付订单表
// 状态机：pending → {success, failed, closed}，终态不再迁出。
// LinkedLedgerEntryID 在入账事务中一次性写入，保证恰好一条入账流水。
type PaymentOrder struct {
	OrderID               string     `gorm:"primaryKey;type:varchar(36)"`
	AccountID             string     `gorm:"type:varchar(36);not null;index"`
	Amount                int64      `gorm:"not null"`
	Provider              string     `gorm:"type:varchar(32);not null"`
	MerchantOrderID       string     `gorm:"type:varchar(64);not null;uniqueIndex"`
	ExternalTransactionID string     `gorm:"type:varchar(64)"`
	Status                string     `gorm:"type:enum('pending','success','failed','closed');not null;default:'pending';index:idx_status_expire,priority:1"`
	ExpireAt              time.Time  `gorm:"not null;index:idx_status_expire,priority:2"`
	SettledAt             *time.Time `gorm:""`
	LinkedLedgerEntryID   string     `gorm:"type:varchar(36)"`
	CreatedAt             time.Time  `gorm:"autoCreateTime"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (PaymentOrder) TableName() string {
	return "payment_order"
}
