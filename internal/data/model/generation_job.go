package model

import (
	"aigc-service/internal/constants"
	"time"
)

// 任务状态常量（引用 constants 包中的常量，保持一致性）
const (
	JobStatusPending        = constants.JobStatusPending        // 待调度
	JobStatusProcessing     = constants.JobStatusProcessing     // 处理中
	JobStatusSuccess        = constants.JobStatusSuccess        // 全部成功
	JobStatusPartialSuccess = constants.JobStatusPartialSuccess // 部分成功
	JobStatusFailed         = constants.JobStatusFailed         // 全部失败
)

// GenerationJob 生成任务表
// UpdatedAt 兼作存活心跳：worker 处理期间周期性触碰，恢复扫描据此判定僵死任务。
type GenerationJob struct {
	JobID             string    `gorm:"primaryKey;type:varchar(36)"`
	AccountID         string    `gorm:"type:varchar(36);not null;index"`
	Status            string    `gorm:"type:enum('pending','processing','success','partial_success','failed');not null;default:'pending';index:idx_status_created,priority:1"`
	ExpectedUnitCount int       `gorm:"not null"`
	ActualUnitCount   int       `gorm:"not null;default:0"`
	BatchCount        int       `gorm:"not null;default:1"`
	UnitPrice         int64     `gorm:"not null"`
	Meta              string    `gorm:"type:json"`
	ErrorSummary      string    `gorm:"type:varchar(2048)"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index:idx_status_created,priority:2"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime;index"`
}

// TableName 指定表名
func (GenerationJob) TableName() string {
	return "generation_job"
}
