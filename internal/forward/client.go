package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"assembly-line-sim/internal/metrics"
	"assembly-line-sim/internal/types"
	"assembly-line-sim/internal/util"
)

const (
	lineStatusPath = "/api/production/line-status"
	healthPath     = "/actuator/health"
)

// ErrRejected 远端以 4xx 拒绝了请求，不会重试
var ErrRejected = errors.New("line status rejected")

// Options 远端 MES 的连接参数
type Options struct {
	BaseURL         string
	Timeout         time.Duration
	MaxRetries      uint64
	InitialInterval time.Duration // 第一次重试的等待时间，之后指数增长
}

// Client 向远端 MES 推送产线状态
// 5xx 和网络错误按指数退避重试，4xx 视为永久失败
type Client struct {
	opts   Options
	http   *http.Client
	logger *slog.Logger
}

// NewClient 创建推送客户端
func NewClient(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second // 设置 5 秒超时
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	return &Client{
		opts:   opts,
		http:   &http.Client{Timeout: opts.Timeout},
		logger: logger.With("component", "forwarder", "remote", opts.BaseURL),
	}
}

// LineStatusReport 推送给 MES 的请求体
type LineStatusReport struct {
	RunID string               `json:"run_id,omitempty"`
	Stats types.LineStatistics `json:"line_status"`
}

// SendLineStatus 推送一次产线快照
func (c *Client) SendLineStatus(ctx context.Context, report LineStatusReport) error {
	traceID, ok := util.TraceIDFromContext(ctx)
	if !ok {
		traceID = util.NewTraceID()
		ctx = util.ContextWithTraceID(ctx, traceID)
	}
	logger := c.logger.With("trace_id", traceID, "tick", report.Stats.Tick)

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal line status: %w", err)
	}

	start := time.Now()
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+lineStatusPath, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		// 将 Trace ID 放入 HTTP Header 中，实现跨服务追踪
		req.Header.Set("X-Trace-ID", traceID)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("远程调用失败: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrRejected, resp.Status))
		default:
			return fmt.Errorf("远程服务错误: %s", resp.Status)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.opts.MaxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		logger.Warn("推送产线状态失败，准备重试", "error", err, "wait", wait)
	}

	err = backoff.RetryNotify(op, policy, notify)
	metrics.ForwardDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ForwardRequestsTotal.WithLabelValues("failed").Inc()
		logger.Error("推送产线状态失败", "error", err)
		return err
	}
	metrics.ForwardRequestsTotal.WithLabelValues("success").Inc()
	logger.Debug("产线状态已推送")
	return nil
}

// HealthCheck 检查远端是否可用
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: %s", resp.Status)
	}
	return nil
}
