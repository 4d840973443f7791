package server

import (
	"io"
	stdhttp "net/http"

	"aigc-service/internal/biz"
	"aigc-service/internal/conf"
	"aigc-service/internal/service"

	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHTTPServer 创建 HTTP 服务器并注册路由
func NewHTTPServer(c *conf.Bootstrap, svc *service.AigcService) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
	}
	if c.Server != nil && c.Server.Http != nil {
		if c.Server.Http.Network != "" {
			opts = append(opts, http.Network(c.Server.Http.Network))
		}
		if c.Server.Http.Addr != "" {
			opts = append(opts, http.Address(c.Server.Http.Addr))
		}
		if d := conf.ParseDuration(c.Server.Http.Timeout, 0); d > 0 {
			opts = append(opts, http.Timeout(d))
		}
	}
	srv := http.NewServer(opts...)
	registerRoutes(srv, svc)
	srv.Handle("/metrics", promhttp.Handler())
	return srv
}

func registerRoutes(srv *http.Server, svc *service.AigcService) {
	r := srv.Route("/v1")

	r.POST("/jobs", func(ctx http.Context) error {
		var req service.CreateJobRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := svc.CreateJob(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(stdhttp.StatusOK, reply)
	})

	r.GET("/jobs/{id}", func(ctx http.Context) error {
		reply, err := svc.GetJobStatus(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(stdhttp.StatusOK, reply)
	})

	r.POST("/payment/orders", func(ctx http.Context) error {
		var req service.CreateOrderRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		reply, err := svc.CreateOrder(ctx, &req)
		if err != nil {
			return err
		}
		return ctx.Result(stdhttp.StatusOK, reply)
	})

	r.GET("/payment/orders/{merchant_order_id}", func(ctx http.Context) error {
		reply, err := svc.GetOrderStatus(ctx, ctx.Vars().Get("merchant_order_id"))
		if err != nil {
			return err
		}
		return ctx.Result(stdhttp.StatusOK, reply)
	})

	r.GET("/payment/orders/{merchant_order_id}/credential", func(ctx http.Context) error {
		credential, err := svc.GetCredential(ctx, ctx.Vars().Get("merchant_order_id"))
		if err != nil {
			return err
		}
		return ctx.Result(stdhttp.StatusOK, map[string]string{"credential": credential})
	})

	r.POST("/payment/orders/{merchant_order_id}/close", func(ctx http.Context) error {
		if err := svc.CloseOrder(ctx, ctx.Vars().Get("merchant_order_id")); err != nil {
			return err
		}
		return ctx.Result(stdhttp.StatusOK, map[string]string{"status": "closed"})
	})

	// 回调验签要用原始请求体，不能走框架反序列化
	r.POST("/payment/notify", func(ctx http.Context) error {
		body, err := io.ReadAll(io.LimitReader(ctx.Request().Body, 1<<20))
		if err != nil {
			return err
		}
		header := ctx.Request().Header
		n := &biz.InboundNotification{
			Timestamp: header.Get("Pay-Timestamp"),
			Nonce:     header.Get("Pay-Nonce"),
			Serial:    header.Get("Pay-Serial"),
			Signature: header.Get("Pay-Signature"),
			Body:      body,
		}
		if err := svc.Notify(ctx, n); err != nil {
			return err
		}
		return ctx.Result(stdhttp.StatusOK, map[string]string{"code": "SUCCESS"})
	})

	r.GET("/accounts/{id}", func(ctx http.Context) error {
		reply, err := svc.GetAccount(ctx, ctx.Vars().Get("id"))
		if err != nil {
			return err
		}
		return ctx.Result(stdhttp.StatusOK, reply)
	})

	r.GET("/accounts/{id}/entries", func(ctx http.Context) error {
		query := ctx.Query()
		page := atoiDefault(query.Get("page"), 1)
		pageSize := atoiDefault(query.Get("page_size"), 20)
		reply, err := svc.ListEntries(ctx, ctx.Vars().Get("id"), page, pageSize)
		if err != nil {
			return err
		}
		return ctx.Result(stdhttp.StatusOK, reply)
	})
}
