// internal/service/dispatch/infrastructure/adapter/envelope.go
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"dispatch/internal/pkg/httpclient"
	"dispatch/internal/service/dispatch/domain"

	"github.com/pkg/errors"
)

// envelope 是上游统一的响应外壳 {success, data, error{message}}
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

func (e *envelope) errorMessage() string {
	if e.Error != nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return e.Message
}

// pagination 只关心总页数
type pagination struct {
	TotalPages int `json:"totalPages"`
}

// decodeEnvelope 校验状态码与 success 标志，返回 data 部分
func decodeEnvelope(resp *httpclient.Response) (json.RawMessage, error) {
	var env envelope
	parseErr := json.Unmarshal(resp.Body, &env)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		if msg := env.errorMessage(); msg != "" {
			return nil, errors.Wrap(domain.ErrUnauthorized, msg)
		}
		return nil, domain.ErrUnauthorized
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, &domain.APIError{StatusCode: resp.StatusCode, Message: env.errorMessage()}
	case parseErr != nil:
		return nil, errors.Wrap(parseErr, "decode response envelope")
	case env.Success != nil && !*env.Success:
		return nil, &domain.APIError{StatusCode: resp.StatusCode, Message: env.errorMessage()}
	}
	return env.Data, nil
}

// decodeList 兼容 data 的几种形态：裸数组、{<key>: [...]}、{items: [...]}，以及可选的 pagination.totalPages
func decodeList[T any](data json.RawMessage, key string) ([]T, int, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, 0, nil
	}

	if data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, 0, errors.Wrap(err, "decode list")
		}
		return items, 1, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, 0, errors.Wrap(err, "decode list object")
	}

	var items []T
	for _, k := range []string{key, "items"} {
		raw, ok := obj[k]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, 0, errors.Wrapf(err, "decode %s", k)
		}
		break
	}

	totalPages := 1
	if raw, ok := obj["pagination"]; ok {
		var p pagination
		if err := json.Unmarshal(raw, &p); err == nil && p.TotalPages > 0 {
			totalPages = p.TotalPages
		}
	}
	return items, totalPages, nil
}

// decodeObject 兼容 data 直接是对象或嵌套在 {<key>: {...}} 里的情况
func decodeObject[T any](data json.RawMessage, key string) (*T, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err == nil {
		if raw, ok := obj[key]; ok && len(raw) > 0 && raw[0] == '{' {
			data = raw
		}
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrapf(err, "decode %s", key)
	}
	return &v, nil
}

// transportError 把传输层失败归类为 ErrNetwork；context 取消原样返回
func transportError(err error, method, path string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	return errors.Wrapf(domain.ErrNetwork, "%s %s: %v", method, path, err)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	domain.DayLayout,
}

// parseFlexibleTime 解析上游出现过的几种日期格式；无时区的按 UTC 处理
func parseFlexibleTime(s string) (*time.Time, bool) {
	if s == "" {
		return nil, true
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, true
		}
	}
	return nil, false
}

// flexTime 是可为空、格式宽松的时间字段
type flexTime struct {
	Time    *time.Time
	Raw     string
	Invalid bool
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		f.Raw, f.Invalid = string(b), true
		return nil
	}
	f.Raw = s
	t, ok := parseFlexibleTime(s)
	f.Time, f.Invalid = t, !ok
	return nil
}

// ref 是一个引用字段，上游有时给字符串 ID，有时给嵌入对象
type ref struct {
	ID      string
	Present bool
}

func (r *ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		r.ID, r.Present = s, s != ""
		return nil
	}
	var obj struct {
		ID    string `json:"id"`
		MgoID string `json:"_id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	r.ID = firstNonEmpty(obj.ID, obj.MgoID)
	r.Present = true
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
