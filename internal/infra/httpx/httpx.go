package httpx

import (
	"errors"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultTimeout  = 20 * time.Second
	defaultRetryMax = 2
)

// Transport 把“UA 池 + 代理 + keep-alive 策略 + 调用间隔 + 有界重试”固化为统一策略。
//
// 设计目标：fetcher 只负责“拼请求 + 解析响应”，不关心网络策略细节。
type Transport struct {
	Base *http.Transport

	ua *uaPool

	// Pacer 非空时，每一次真正发出的请求（包括重试）都先等待调用间隔。
	Pacer *Pacer

	// RetryMax 表示最大重试次数（不含首次尝试）。例如 2 表示最多 3 次尝试。
	// 只针对传输层错误；HTTP 状态码（包括 429）由 fetcher 自己解释。
	RetryMax int

	// DisableKeepAlives 决定是否对 Request 设置 Close=true（额外保险）。
	// 真正禁用 keep-alive 依赖 Base.DisableKeepAlives。
	DisableKeepAlives bool
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if t.Base == nil {
		return nil, errors.New("nil base transport")
	}

	// 只对“可重放”的请求做重试：GET/HEAD 且无 body。
	canRetry := (req.Method == http.MethodGet || req.Method == http.MethodHead) && req.Body == nil
	max := t.RetryMax
	if max < 0 {
		max = 0
	}
	if !canRetry {
		max = 0
	}

	var lastErr error
	for attempt := 0; attempt <= max; attempt++ {
		if err := t.Pacer.Wait(req.Context(), req.URL.Host); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		r := req.Clone(req.Context())
		if r.Header.Get("User-Agent") == "" {
			r.Header.Set("User-Agent", t.ua.random())
		}
		if t.DisableKeepAlives {
			r.Close = true
		}

		resp, err := t.Base.RoundTrip(r)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if req.Context().Err() != nil {
			// ctx 已取消：不再重试，直接返回最后错误（更可解释）。
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// Options 描述共享 HTTP client 的网络策略。
type Options struct {
	ProxyURL string
	Timeout  time.Duration
	Pacer    *Pacer
}

// NewClient 构造所有 fetcher 共享的 HTTP client。
//
// 规则：
// - ProxyURL 非空：必须走代理，且禁用 keep-alive（每请求新连接）
// - 内置 UA 池：每个请求随机 UA
// - 有界重试 + 总超时
// - Pacer 非空：同一 host 的请求之间至少间隔固定时长
func NewClient(opts Options) (*http.Client, error) {
	proxyURL := strings.TrimSpace(opts.ProxyURL)
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	base := &http.Transport{
		Proxy:                 nil,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
	}
	disableKeepAlives := false
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}
		base.Proxy = http.ProxyURL(u)
		// proxy 模式强制每请求新连接（代理池轮换依赖该行为）。
		base.DisableKeepAlives = true
		disableKeepAlives = true
	}

	tr := &Transport{
		Base:              base,
		ua:                globalUA,
		Pacer:             opts.Pacer,
		RetryMax:          defaultRetryMax,
		DisableKeepAlives: disableKeepAlives,
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// RandomUA 返回 UA 池中的一个随机 UA（供无头浏览器等非 http.Client 场景使用）。
func RandomUA() string { return globalUA.random() }

type uaPool struct {
	mu  sync.Mutex
	rnd *rand.Rand
	uas []string
}

func (p *uaPool) random() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uas[p.rnd.Intn(len(p.uas))]
}

var globalUA = newUAPool()

func newUAPool() *uaPool {
	uas := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_6) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	}
	return &uaPool{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
		uas: uas,
	}
}
