package server

import (
	"context"
	"encoding/json"

	"aigc-service/internal/biz"
	"aigc-service/internal/conf"
	"aigc-service/internal/worker"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
)

// dispatchEvent 任务调度事件：创建侧发布，消费侧按 ID 低延迟认领。
// 周期认领扫描仍在运行，事件丢失只影响延迟不影响正确性。
type dispatchEvent struct {
	JobID string `json:"job_id"`
}

// MQConsumerServer 消费任务调度事件
type MQConsumerServer struct {
	c       rocketmq.PushConsumer
	jobRepo biz.JobRepo
	pool    *worker.Pool
	conf    *conf.Data
	log     *log.Helper
	enabled bool
}

// NewMQConsumerServer 创建调度事件消费者；未配置 RocketMQ 时不启用
func NewMQConsumerServer(c *conf.Bootstrap, jobRepo biz.JobRepo, pool *worker.Pool, logger log.Logger) *MQConsumerServer {
	data := c.Data
	if data == nil || data.Rocketmq == nil || !data.Rocketmq.Enabled {
		return &MQConsumerServer{enabled: false}
	}

	r, err := rocketmq.NewPushConsumer(
		consumer.WithNsResolver(primitive.NewPassthroughResolver(data.Rocketmq.NameServers)),
		consumer.WithGroupName(data.Rocketmq.GroupName),
		consumer.WithRetry(int(data.Rocketmq.RetryTimes)),
	)
	if err != nil {
		log.NewHelper(logger).Errorf("init consumer error: %v", err)
		return &MQConsumerServer{enabled: false}
	}

	return &MQConsumerServer{
		c:       r,
		jobRepo: jobRepo,
		pool:    pool,
		conf:    data,
		log:     log.NewHelper(logger),
		enabled: true,
	}
}

// Start 订阅并启动消费
func (s *MQConsumerServer) Start(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		s.log.Info("MQConsumerServer is disabled, skipping startup")
		return nil
	}

	s.log.Infof("Starting MQConsumerServer, topic: %s", s.conf.Rocketmq.Topic)

	if err := s.c.Subscribe(s.conf.Rocketmq.Topic, consumer.MessageSelector{}, s.handler); err != nil {
		// 不返回错误，避免导致整个应用启动失败；周期扫描兜底
		s.log.Errorf("Failed to subscribe to topic %s: %v", s.conf.Rocketmq.Topic, err)
		return nil
	}
	if err := s.c.Start(); err != nil {
		s.log.Errorf("Failed to start RocketMQ consumer: %v", err)
		return nil
	}
	return nil
}

// Stop 停止消费
func (s *MQConsumerServer) Stop(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		return nil
	}
	s.log.Info("Stopping MQConsumerServer")
	return s.c.Shutdown()
}

func (s *MQConsumerServer) handler(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
	for _, msg := range msgs {
		var event dispatchEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			s.log.Errorf("Unmarshal dispatch event failed: %v, body: %s", err, string(msg.Body))
			continue
		}
		if event.JobID == "" {
			continue
		}

		job, err := s.jobRepo.ClaimByID(ctx, event.JobID)
		if err != nil {
			s.log.Errorf("ClaimByID failed: job_id=%s, error=%v", event.JobID, err)
			return consumer.ConsumeRetryLater, nil
		}
		if job == nil {
			// 已被周期扫描或其他副本认领
			continue
		}

		if !s.pool.Submit(job.JobID) {
			// 队列满，认领已落库，由恢复扫描重置后再调度
			s.log.Warnf("Worker queue full for dispatched job: job_id=%s", job.JobID)
		}
	}
	return consumer.ConsumeSuccess, nil
}
