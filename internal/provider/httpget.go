package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
)

const maxBodyBytes = 8 << 20

// As 是 errors.As 的别名（让子包少一个 import）。
func As(err error, target any) bool { return errors.As(err, target) }

// Get 发送 GET 请求并返回 body；非 2xx 返回 *HTTPStatusError（body 一并返回，便于记录错误详情）。
func Get(ctx context.Context, c *http.Client, u string, header http.Header) ([]byte, error) {
	if c == nil {
		return nil, errors.New("http client 不能为空")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return b, &HTTPStatusError{URL: u, StatusCode: resp.StatusCode, Location: resp.Header.Get("Location")}
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// HTTPLoader 用普通 HTTP GET 加载页面（不执行 JS）。
type HTTPLoader struct {
	Client *http.Client
}

func (l HTTPLoader) Load(ctx context.Context, u string) ([]byte, error) {
	return Get(ctx, l.Client, u, nil)
}
