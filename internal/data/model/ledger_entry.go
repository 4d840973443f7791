package model

import (
	"aigc-service/internal/constants"
	"time"
)

// 流水类别常量（引用 constants 包中的常量，保持一致性）
const (
	LedgerCategoryJobCharge       = constants.LedgerCategoryJobCharge       // 任务扣费
	LedgerCategoryJobRefund       = constants.LedgerCategoryJobRefund       // 任务退款
	LedgerCategoryOrderSettlement = constants.LedgerCategoryOrderSettlement // 订单入账
)

// LedgerEntry 账户流水表（只增不改）
// 同一账户按创建顺序 BalanceAfter 必须等于下一条的 BalanceBefore。
// JobID 与 OrderID 至多一个非空。
type LedgerEntry struct {
	LedgerEntryID string    `gorm:"primaryKey;type:varchar(36)"`
	AccountID     string    `gorm:"type:varchar(36);not null;index:idx_account_created,priority:1"`
	Category      string    `gorm:"type:enum('job_charge','job_refund','order_settlement');not null"`
	Amount        int64     `gorm:"not null"`
	BalanceBefore int64     `gorm:"not null"`
	BalanceAfter  int64     `gorm:"not null"`
	JobID         string    `gorm:"type:varchar(36);index"`
	OrderID       string    `gorm:"type:varchar(36);index"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index:idx_account_created,priority:2"`
}

// TableName 指定表名
func (LedgerEntry) TableName() string {
	return "ledger_entry"
}
