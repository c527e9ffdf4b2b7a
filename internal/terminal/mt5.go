package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MT5Options MT4/MT5 REST桥接参数
type MT5Options struct {
	Name          string
	BaseURL       string
	Token         string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// MT5Client 通过终端侧REST桥接读取账户与成交
type MT5Client struct {
	name    string
	client  *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewMT5Client 创建MT5客户端
func NewMT5Client(opts MT5Options, logger *zap.Logger) *MT5Client {
	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetJSONUnmarshaler(decodeWithNumbers)
	if opts.Token != "" {
		client.SetAuthToken(opts.Token)
	}

	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}

	return &MT5Client{
		name:    opts.Name,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With(zap.String("terminal", opts.Name)),
	}
}

// decodeWithNumbers 数字保持为 json.Number，避免大整数精度丢失
func decodeWithNumbers(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// Name 终端名称
func (c *MT5Client) Name() string {
	return c.name
}

// FetchAccount 获取账户状态
func (c *MT5Client) FetchAccount(ctx context.Context, login int64) (RawRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, Transient("等待限流", err)
	}

	var out RawRecord
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("login", strconv.FormatInt(login, 10)).
		SetResult(&out).
		Get("/accounts/{login}")
	if err := classify("获取账户", resp, err); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("获取账户 %d: 响应为空", login)
	}
	return out, nil
}

// FetchDeals 获取 since 之后的成交
func (c *MT5Client) FetchDeals(ctx context.Context, login int64, since time.Time) ([]RawRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, Transient("等待限流", err)
	}

	var out []RawRecord
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("login", strconv.FormatInt(login, 10)).
		SetQueryParam("from", strconv.FormatInt(since.Unix(), 10)).
		SetResult(&out).
		Get("/accounts/{login}/deals")
	if err := classify("获取成交", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}

// classify 区分可重试与不可重试错误
func classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s: %w", op, err)
		}
		return Transient(op, err)
	}

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return Transient(op, fmt.Errorf("HTTP %d: %s", status, truncate(resp.String(), 200)))
	default:
		return fmt.Errorf("%s: HTTP %d: %s", op, status, truncate(resp.String(), 200))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
