package biz

import "context"

// GenerateRequest 上游生成 API 调用参数
type GenerateRequest struct {
	Prompt          string   `json:"prompt"`
	ReferenceImages []string `json:"reference_images,omitempty"`
	Size            string   `json:"size,omitempty"`
	BatchIndex      int      `json:"batch_index"`
}

// UnitResult 单元级生成结果：调用方聚合部分成功，不以 error 形式向上抛
type UnitResult struct {
	Index    int    // 原始请求序号
	URL      string // 成功时的产物地址
	Attempts int    // 实际尝试次数
	Err      error  // 失败原因，nil 表示成功
}

// GenerationClient 上游生成 API 客户端接口
// 实现必须在进程级限流下调用，并把重试耗尽后的失败折叠进 UnitResult。
type GenerationClient interface {
	Generate(ctx context.Context, req *GenerateRequest) *UnitResult
}

// StorageUploader 对象存储上传接口（外部协作方，不在本核心实现）
// 把生成产物转存为己方可公开访问的地址。
type StorageUploader interface {
	Upload(ctx context.Context, srcURL string) (publicURL string, err error)
}
