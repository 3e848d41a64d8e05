package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_ProxyDisablesKeepAlive(t *testing.T) {
	c, err := NewClient(Options{ProxyURL: "http://127.0.0.1:8080"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	tr, ok := c.Transport.(*Transport)
	if !ok {
		t.Fatalf("期望 *Transport，实际 %T", c.Transport)
	}
	if tr.Base.Proxy == nil {
		t.Fatalf("期望启用代理，但 Proxy=nil")
	}
	if !tr.Base.DisableKeepAlives || !tr.DisableKeepAlives {
		t.Fatalf("代理模式应禁用 keep-alive")
	}
}

func TestNewClient_NoProxyKeepsDefault(t *testing.T) {
	c, err := NewClient(Options{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	tr := c.Transport.(*Transport)
	if tr.Base.Proxy != nil {
		t.Fatalf("不期望启用代理，但 Proxy!=nil")
	}
	if tr.Base.DisableKeepAlives {
		t.Fatalf("不期望禁用 keep-alive，但 Base.DisableKeepAlives=true")
	}
	if c.Timeout != defaultTimeout {
		t.Fatalf("期望默认超时 %v，实际 %v", defaultTimeout, c.Timeout)
	}
}

func TestNewClient_InvalidProxyURL(t *testing.T) {
	_, err := NewClient(Options{ProxyURL: "http://[::1"})
	if err == nil {
		t.Fatalf("期望错误，但得到 nil")
	}
}

func TestTransport_SetsUserAgentAndPaces(t *testing.T) {
	var (
		hits  atomic.Int32
		uaSet atomic.Bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("User-Agent") != "" {
			uaSet.Store(true)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	delay := 60 * time.Millisecond
	c, err := NewClient(Options{Pacer: NewPacer(delay)})
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
		resp, err := c.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}
	// 3 次调用至少有 2 个完整间隔。
	assert.GreaterOrEqual(t, time.Since(start), 2*delay-10*time.Millisecond)
	assert.Equal(t, int32(3), hits.Load())
	assert.True(t, uaSet.Load())
}

func TestPacer_WaitHonorsContext(t *testing.T) {
	p := NewPacer(time.Hour)
	ctx := context.Background()
	require.NoError(t, p.Wait(ctx, "a.example"))

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, p.Wait(cctx, "a.example"), "第二次调用应等待且被 ctx 打断")

	// 不同 host 互不影响。
	assert.NoError(t, p.Wait(ctx, "b.example"))
}

func TestPacer_NilIsNoop(t *testing.T) {
	var p *Pacer
	assert.NoError(t, p.Wait(context.Background(), "x"))
	assert.Equal(t, time.Duration(0), p.Delay())
}
