package provider

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/shoprecon/internal/domain"
)

type stubFetcher struct {
	strategy domain.FetchStrategy
	ready    error
	fn       func(key string) Result

	mu   sync.Mutex
	keys []string
}

func (s *stubFetcher) Strategy() domain.FetchStrategy { return s.strategy }
func (s *stubFetcher) Ready() error                   { return s.ready }
func (s *stubFetcher) Resolve(_ context.Context, key string, _ domain.ShopProfile) Result {
	s.mu.Lock()
	s.keys = append(s.keys, key)
	s.mu.Unlock()
	return s.fn(key)
}

func i64(v int64) *int64 { return &v }

var authShop = domain.ShopProfile{
	ID:             "waste",
	BaseIdentifier: "waste",
	Rule:           domain.FieldRule("-", 2),
	Strategy:       domain.StrategyAPIAuthDetail,
}

func TestResolveShop_FormatFailureUsesRawSKU(t *testing.T) {
	search := &stubFetcher{strategy: domain.StrategyAPISearch, fn: func(string) Result { return NotFound() }}
	reg, err := NewRegistry(search)
	require.NoError(t, err)

	p := authShop
	p.Strategy = domain.StrategyAPISearch
	res := NewResolver(reg, nil).ResolveShop(context.Background(), "NODASH", p)

	assert.True(t, res.FormatFailed)
	assert.Equal(t, "NODASH", res.SearchKey)
	assert.Equal(t, []string{"NODASH"}, search.keys)
	assert.Equal(t, domain.OutcomeNotFound, res.Outcome)
}

func TestResolveShop_ChainsDetailWithOwnedManageNumber(t *testing.T) {
	search := &stubFetcher{strategy: domain.StrategyAPISearch, fn: func(string) Result {
		return Found([]domain.RawListing{
			{ManageNumber: "other:1271a029", URL: "https://item.rakuten.co.jp/other/1271a029/", Price: i64(900)},
			{ManageNumber: "waste:1271a029", URL: "https://item.rakuten.co.jp/waste/1271a029/", Price: i64(1100)},
		}, nil)
	}}
	detail := &stubFetcher{strategy: domain.StrategyAPIAuthDetail, fn: func(key string) Result {
		return Found([]domain.RawListing{{ManageNumber: key, Name: "GEL", ReferencePrice: i64(1000)}}, nil)
	}}
	reg, err := NewRegistry(search, detail)
	require.NoError(t, err)

	res, attempts := NewResolver(reg, nil).ResolveShopTrace(context.Background(), "asics-1271a029-025", authShop)
	require.Equal(t, domain.OutcomeFound, res.Outcome)
	assert.Equal(t, "1271a029", res.SearchKey)
	assert.Equal(t, []string{"waste:1271a029"}, detail.keys)
	require.NotNil(t, res.Detail)
	assert.Equal(t, int64(1000), *res.Detail.ReferencePrice)
	assert.Equal(t, domain.OutcomeFound, res.DetailOutcome)
	require.Len(t, attempts, 2)
	assert.Equal(t, "detail", attempts[1].Stage)
}

func TestResolveShop_DetailFailureKeepsSearchResult(t *testing.T) {
	search := &stubFetcher{strategy: domain.StrategyAPISearch, fn: func(string) Result {
		return Found([]domain.RawListing{{ManageNumber: "waste:x"}}, nil)
	}}
	detail := &stubFetcher{strategy: domain.StrategyAPIAuthDetail, fn: func(string) Result {
		return Failed(ErrCredentialMissing)
	}}
	reg, _ := NewRegistry(search, detail)

	res := NewResolver(reg, nil).ResolveShop(context.Background(), "a-x", authShop)
	assert.Equal(t, domain.OutcomeFound, res.Outcome)
	assert.Equal(t, domain.OutcomeFailed, res.DetailOutcome)
	assert.Nil(t, res.Detail)
}

func TestResolveShop_FailureAndPanicAreValues(t *testing.T) {
	boom := &stubFetcher{strategy: domain.StrategyHTMLScrape, fn: func(string) Result {
		return Failed(&HTTPStatusError{StatusCode: 500})
	}}
	reg, _ := NewRegistry(boom)
	p := domain.ShopProfile{ID: "k", BaseIdentifier: "k", Rule: domain.IdentityRule(), Strategy: domain.StrategyHTMLScrape}

	res := NewResolver(reg, nil).ResolveShop(context.Background(), "S", p)
	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
	assert.Equal(t, domain.ReasonHTTPStatus, res.Reason)
	var pe *Error
	require.True(t, errors.As(res.Err, &pe))
	assert.Equal(t, "scrape", pe.Stage)

	boom.fn = func(string) Result { panic("nil map") }
	res = NewResolver(reg, nil).ResolveShop(context.Background(), "S", p)
	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
	assert.Equal(t, domain.ReasonPanic, res.Reason)
}

func TestResolveShop_CanceledIsMarked(t *testing.T) {
	search := &stubFetcher{strategy: domain.StrategyAPISearch, fn: func(string) Result {
		return Failed(context.Canceled)
	}}
	reg, _ := NewRegistry(search)
	p := authShop
	p.Strategy = domain.StrategyAPISearch

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := NewResolver(reg, nil).ResolveShop(ctx, "a-b", p)
	assert.True(t, res.Canceled())
}

func TestResolver_Usable(t *testing.T) {
	search := &stubFetcher{strategy: domain.StrategyAPISearch, ready: ErrCredentialMissing}
	reg, _ := NewRegistry(search)
	r := NewResolver(reg, nil)

	assert.ErrorIs(t, r.Usable(authShop), ErrCredentialMissing)

	scrape := domain.ShopProfile{ID: "s", Strategy: domain.StrategyHTMLScrape}
	assert.Error(t, r.Usable(scrape), "未注册 html_scrape fetcher")

	search.ready = nil
	assert.NoError(t, r.Usable(authShop), "详情不可用时仍可降级为只用搜索")
}

func TestNewRegistry_RejectsDuplicate(t *testing.T) {
	a := &stubFetcher{strategy: domain.StrategyAPISearch}
	b := &stubFetcher{strategy: domain.StrategyAPISearch}
	_, err := NewRegistry(a, b)
	require.Error(t, err)
	_, err = NewRegistry(nil)
	require.Error(t, err)
}

func TestReason(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", Reason(ctx, nil))
	assert.Equal(t, domain.ReasonMalformed, Reason(ctx, errors.Join(ErrMalformed)))
	assert.Equal(t, domain.ReasonNetwork, Reason(ctx, errors.New("dial tcp: refused")))
	assert.Equal(t, 429, StatusCode(&Error{Err: &HTTPStatusError{StatusCode: 429}}))
}
