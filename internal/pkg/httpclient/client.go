// internal/pkg/httpclient/client.go

package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dispatch/internal/pkg/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const maxBodyBytes = 8 << 20

// Client 是一个可追踪的、可注入的 HTTP 客户端，面向上游物流 REST API
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client
	BaseURL    string
	Token      string
	// Timeout 作用于单次请求；为 0 时完全由调用方的 context 控制
	Timeout time.Duration
}

// Response 是上游返回的原始响应，非 2xx 也会返回，由适配器解析错误体
type Response struct {
	StatusCode int
	Body       []byte
}

// NewClient 创建一个新的客户端实例
func NewClient(tracer trace.Tracer, baseURL, token string, timeout time.Duration) *Client {
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return &Client{
		Tracer:     tracer,
		HTTPClient: httpClient,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		Timeout:    timeout,
	}
}

// Get 发起 GET 请求
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, query, nil)
}

// Post 以 JSON 体发起 POST 请求
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, nil, body)
}

// Put 以 JSON 体发起 PUT 请求
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, nil, body)
}

// Do 执行一次请求：注入追踪上下文、携带 Bearer token、记录耗时。
// 只有传输层失败才返回 error。
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any) (*Response, error) {
	target, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		q := target.Query()
		for key, values := range query {
			for _, value := range values {
				q.Add(key, value)
			}
		}
		target.RawQuery = q.Encode()
	}

	spanName := fmt.Sprintf("call-%s %s", strings.Split(target.Host, ":")[0], method)
	ctx, span := c.tracer().Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	span.SetAttributes(
		attribute.String("http.url", target.String()),
		attribute.String("http.method", method),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		metrics.APIRequestDuration.WithLabelValues(method, "error").Observe(time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer resp.Body.Close()
	metrics.APIRequestDuration.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		span.SetStatus(codes.Error, resp.Status)
	}
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

func (c *Client) tracer() trace.Tracer {
	if c.Tracer != nil {
		return c.Tracer
	}
	return otel.Tracer("httpclient")
}
