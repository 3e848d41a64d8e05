package provider

import (
	"fmt"
	"strings"
)

// HTTPStatusError 表示数据源返回了非 2xx 的 HTTP 状态码。
// fetcher 可以据此区分 404（not_found）、429（限流）与其它失败。
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Location   string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	loc := strings.TrimSpace(e.Location)
	if loc == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d location=%s", e.StatusCode, loc)
}

// StatusCode 从 err 中取出 HTTP 状态码；不是 HTTPStatusError 时返回 0。
func StatusCode(err error) int {
	var e *HTTPStatusError
	if As(err, &e) {
		return e.StatusCode
	}
	return 0
}
