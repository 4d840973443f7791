package genclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"aigc-service/internal/biz"
	"aigc-service/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// Uploader 产物转存客户端。
// 上游产物地址有时效，转存服务端拉取源地址落入己方存储，返回可公开访问的地址。
type Uploader struct {
	endpoint   string
	bucket     string
	httpClient *http.Client
	log        *log.Helper
}

// NewUploader 创建转存客户端（返回 biz.StorageUploader 接口）
func NewUploader(c *conf.Bootstrap, logger log.Logger) biz.StorageUploader {
	cfg := c.Storage
	if cfg == nil {
		cfg = &conf.Storage{}
	}
	return &Uploader{
		endpoint:   cfg.Endpoint,
		bucket:     cfg.Bucket,
		httpClient: &http.Client{Timeout: conf.ParseDuration(cfg.Timeout, 60*time.Second)},
		log:        log.NewHelper(logger),
	}
}

type fetchUploadReq struct {
	SourceURL string `json:"source_url"`
	Bucket    string `json:"bucket"`
}

type fetchUploadResp struct {
	URL string `json:"url"`
}

// Upload 转存生成产物，返回公开访问地址
func (u *Uploader) Upload(ctx context.Context, srcURL string) (string, error) {
	body, err := json.Marshal(fetchUploadReq{SourceURL: srcURL, Bucket: u.bucket})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint+"/v1/objects/fetch", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("storage fetch-upload failed: status=%d, body=%s", resp.StatusCode, data)
	}

	var out fetchUploadResp
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("unmarshal storage response failed: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("storage returned empty url")
	}
	return out.URL, nil
}
