package model

import (
	"time"
)

// Account 账户余额表
// Balance 以最小货币单位（分）存储，只允许在持有行锁的流水操作中变更。
type Account struct {
	AccountID string    `gorm:"primaryKey;type:varchar(36)"`
	Balance   int64     `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Account) TableName() string {
	return "account"
}
