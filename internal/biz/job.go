package biz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aigc-service/internal/constants"
	"aigc-service/internal/metrics"

	aigcErrors "aigc-service/internal/errors"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// Job 生成任务领域对象
type Job struct {
	JobID             string
	AccountID         string
	Status            string
	ExpectedUnitCount int   // 计费数量，创建时固定
	ActualUnitCount   int   // 完成时回填
	BatchCount        int   // 请求的生成调用批次数
	UnitPrice         int64 // 创建时的单价快照（分）
	Meta              *JobMeta
	ErrorSummary      *ErrorAggregate
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// JobMeta 任务元数据：按类别区分的具名参数结构，与 Kind 匹配的字段必须恰好一个非空。
type JobMeta struct {
	Kind         string              `json:"kind"`
	TextToImage  *TextToImageParams  `json:"text_to_image,omitempty"`
	ImageToImage *ImageToImageParams `json:"image_to_image,omitempty"`
}

// TextToImageParams 文生图参数
type TextToImageParams struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
	Style  string `json:"style,omitempty"`
}

// ImageToImageParams 图生图参数
type ImageToImageParams struct {
	Prompt          string   `json:"prompt"`
	ReferenceImages []string `json:"reference_images"`
	Size            string   `json:"size"`
	Strength        float64  `json:"strength,omitempty"`
}

// Validate 校验元数据与类别一致
func (m *JobMeta) Validate() error {
	if m == nil {
		return fmt.Errorf("meta is nil")
	}
	switch m.Kind {
	case constants.JobMetaKindTextToImage:
		if m.TextToImage == nil || m.ImageToImage != nil {
			return fmt.Errorf("meta kind %q requires exactly the text_to_image params", m.Kind)
		}
		if m.TextToImage.Prompt == "" {
			return fmt.Errorf("prompt is required")
		}
	case constants.JobMetaKindImageToImage:
		if m.ImageToImage == nil || m.TextToImage != nil {
			return fmt.Errorf("meta kind %q requires exactly the image_to_image params", m.Kind)
		}
		if m.ImageToImage.Prompt == "" || len(m.ImageToImage.ReferenceImages) == 0 {
			return fmt.Errorf("prompt and reference images are required")
		}
	default:
		return fmt.Errorf("unknown meta kind %q", m.Kind)
	}
	return nil
}

// GenerateRequest 生成参数：所有类别收敛出的上游调用入参。
// 元数据缺失或与类别不符时返回 nil，调用方必须先 Validate。
func (m *JobMeta) GenerateRequest() *GenerateRequest {
	if m == nil {
		return nil
	}
	switch m.Kind {
	case constants.JobMetaKindImageToImage:
		if m.ImageToImage == nil {
			return nil
		}
		return &GenerateRequest{
			Prompt:          m.ImageToImage.Prompt,
			ReferenceImages: m.ImageToImage.ReferenceImages,
			Size:            m.ImageToImage.Size,
		}
	case constants.JobMetaKindTextToImage:
		if m.TextToImage == nil {
			return nil
		}
		return &GenerateRequest{
			Prompt: m.TextToImage.Prompt,
			Size:   m.TextToImage.Size,
		}
	default:
		return nil
	}
}

// UnitError 单元级错误（保留原始请求序号）
type UnitError struct {
	Index int    `json:"index"`
	Stage string `json:"stage"` // generate / upload
	Error string `json:"error"`
}

// ErrorAggregate 任务错误汇总：整体概述 + 单元错误列表
type ErrorAggregate struct {
	Summary string      `json:"summary"`
	Units   []UnitError `json:"units,omitempty"`
}

// Encode 序列化为存储列
func (a *ErrorAggregate) Encode() string {
	if a == nil || (a.Summary == "" && len(a.Units) == 0) {
		return ""
	}
	b, err := json.Marshal(a)
	if err != nil {
		return a.Summary
	}
	return string(b)
}

// DecodeErrorAggregate 从存储列解析错误汇总
func DecodeErrorAggregate(s string) *ErrorAggregate {
	if s == "" {
		return nil
	}
	var a ErrorAggregate
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return &ErrorAggregate{Summary: s}
	}
	return &a
}

// ClassifyJobStatus 按完成数量判定终态：
// 零成功为 failed，全部成功为 success，介于其间为 partial_success。
func ClassifyJobStatus(expected, actual int) string {
	switch {
	case actual <= 0:
		return constants.JobStatusFailed
	case actual < expected:
		return constants.JobStatusPartialSuccess
	default:
		return constants.JobStatusSuccess
	}
}

// JobRepo 任务数据层接口（定义在 biz 层）
type JobRepo interface {
	// CreateJobWithCharge 在一个事务中扣费并落库：余额不足时返回
	// aigcErrors.ErrInsufficientBalance，不产生任务。
	CreateJobWithCharge(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	// ClaimPending 跳过已锁行认领一批 pending 任务并置为 processing
	ClaimPending(ctx context.Context, batchSize int) ([]*Job, error)
	// ClaimByID 按 ID 认领单个 pending 任务（MQ 调度事件的低延迟路径）
	ClaimByID(ctx context.Context, jobID string) (*Job, error)
	// RecoverStale 将心跳超时的 processing 任务重置回 pending
	RecoverStale(ctx context.Context, olderThan time.Duration, limit int) (int64, error)
	// LockProcessing 以 NOWAIT 行锁复验任务仍归本 worker 所有，并写入首次心跳；
	// 锁被占用时返回 aigcErrors.ErrLockContention。
	LockProcessing(ctx context.Context, jobID string) (*Job, error)
	// Heartbeat 触碰 updated_at，阻止恢复扫描回收仍在处理的任务
	Heartbeat(ctx context.Context, jobID string) error
	// FinalizeWithRefund 在一个事务中写终态并执行差额退款，同生共死
	FinalizeWithRefund(ctx context.Context, jobID, status string, actualUnitCount int, errSummary *ErrorAggregate) error
}

// JobUseCase 生成任务业务逻辑
type JobUseCase struct {
	repo    JobRepo
	log     *log.Helper
	metrics *metrics.AigcMetrics
}

// NewJobUseCase 创建任务 UseCase
func NewJobUseCase(repo JobRepo, logger log.Logger) *JobUseCase {
	return &JobUseCase{
		repo:    repo,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// CreateJob 创建预付费生成任务：扣费成功才产生任务
func (uc *JobUseCase) CreateJob(ctx context.Context, accountID string, expectedUnitCount, batchCount int, unitPrice int64, meta *JobMeta) (string, error) {
	if expectedUnitCount <= 0 || unitPrice < 0 {
		return "", pkgErrors.NewBizErrorWithLang(ctx, aigcErrors.ErrCodeJobCreateFailed)
	}
	if batchCount <= 0 {
		batchCount = expectedUnitCount
	}
	if err := meta.Validate(); err != nil {
		uc.log.Warnf("CreateJob meta invalid: account_id=%s, error=%v", accountID, err)
		return "", pkgErrors.NewBizErrorWithLang(ctx, aigcErrors.ErrCodeJobMetaInvalid)
	}

	job := &Job{
		JobID:             uuid.New().String(),
		AccountID:         accountID,
		Status:            constants.JobStatusPending,
		ExpectedUnitCount: expectedUnitCount,
		BatchCount:        batchCount,
		UnitPrice:         unitPrice,
		Meta:              meta,
	}

	if err := uc.repo.CreateJobWithCharge(ctx, job); err != nil {
		if errors.Is(err, aigcErrors.ErrInsufficientBalance) {
			return "", pkgErrors.NewBizErrorWithLang(ctx, aigcErrors.ErrCodeInsufficientBalance)
		}
		uc.log.Errorf("CreateJobWithCharge failed: account_id=%s, error=%v", accountID, err)
		return "", pkgErrors.WrapErrorWithLang(ctx, err, aigcErrors.ErrCodeJobCreateFailed)
	}

	uc.log.Infof("Job created: job_id=%s, account_id=%s, units=%d, price=%d",
		job.JobID, accountID, expectedUnitCount, unitPrice)
	return job.JobID, nil
}

// GetJobStatus 查询任务状态
func (uc *JobUseCase) GetJobStatus(ctx context.Context, jobID string) (*Job, error) {
	job, err := uc.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, pkgErrors.NewBizErrorWithLang(ctx, aigcErrors.ErrCodeJobNotFound)
	}
	return job, nil
}
