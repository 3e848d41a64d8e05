package rms

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/shoprecon/internal/domain"
	"github.com/John-Robertt/shoprecon/internal/provider"
)

var waste = domain.ShopProfile{ID: "waste", BaseIdentifier: "waste", Strategy: domain.StrategyAPIAuthDetail, Rule: domain.IdentityRule()}

func creds(k string) string {
	switch k {
	case EnvServiceSecret:
		return "sec"
	case EnvLicenseKey:
		return "lic"
	}
	return ""
}

func TestResolve_TitleAndReferencePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := "ESA " + base64.StdEncoding.EncodeToString([]byte("sec:lic"))
		assert.Equal(t, want, r.Header.Get("Authorization"))
		assert.Equal(t, "/1271a029", r.URL.Path)
		fmt.Fprint(w, `{"manageNumber":"1271a029","title":"GEL-KAYANO 30",
		  "variants":{"b":{"standardPrice":"2200"},"a":{"referencePrice":{"value":"1,980"},"standardPrice":"2000"}}}`)
	}))
	defer srv.Close()

	f := New(Config{Endpoint: srv.URL, Client: srv.Client(), Getenv: creds})
	res := f.Resolve(context.Background(), "waste:1271a029", waste)
	require.Equal(t, domain.OutcomeFound, res.Outcome, "err=%v", res.Err)
	require.Len(t, res.Listings, 1)

	l := res.Listings[0]
	assert.Equal(t, "GEL-KAYANO 30", l.Name)
	assert.Equal(t, "waste:1271a029", l.ManageNumber)
	require.NotNil(t, l.ReferencePrice)
	assert.Equal(t, int64(1980), *l.ReferencePrice)
	require.NotNil(t, l.StandardPrice)
	assert.Equal(t, int64(2000), *l.StandardPrice)
}

func TestResolve_ReferenceAndStandardPriceKeptApart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"title":"CP209","variants":{"v1":{"referencePrice":{"value":5500},"standardPrice":4400}}}`)
	}))
	defer srv.Close()

	f := New(Config{Endpoint: srv.URL, Client: srv.Client(), Getenv: creds})
	res := f.Resolve(context.Background(), "waste:cp209", waste)
	require.Equal(t, domain.OutcomeFound, res.Outcome, "err=%v", res.Err)

	l := res.Listings[0]
	require.NotNil(t, l.ReferencePrice)
	require.NotNil(t, l.StandardPrice)
	assert.Equal(t, int64(5500), *l.ReferencePrice)
	assert.Equal(t, int64(4400), *l.StandardPrice)
}

func TestResolve_NotFoundReturnsDefaultListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := New(Config{Endpoint: srv.URL, Client: srv.Client(), Getenv: creds})
	res := f.Resolve(context.Background(), "waste:nope", waste)
	assert.Equal(t, domain.OutcomeNotFound, res.Outcome)
	require.Len(t, res.Listings, 1)
	assert.Equal(t, "", res.Listings[0].Name)
	assert.Nil(t, res.Listings[0].ReferencePrice)
	assert.Nil(t, res.Listings[0].StandardPrice)
}

func TestResolve_MissingCredential(t *testing.T) {
	f := New(Config{Endpoint: "http://127.0.0.1:1", Getenv: func(string) string { return "" }})
	require.Error(t, f.Ready())
	res := f.Resolve(context.Background(), "waste:x", waste)
	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
	assert.True(t, errors.Is(res.Err, provider.ErrCredentialMissing))
}

func TestParseItem_NumericStandardPrice(t *testing.T) {
	l, err := parseItem([]byte(`{"title":" X ","variants":{"v1":{"standardPrice":1100}}}`))
	require.NoError(t, err)
	assert.Equal(t, "X", l.Name)
	require.NotNil(t, l.StandardPrice)
	assert.Equal(t, int64(1100), *l.StandardPrice)
	assert.Nil(t, l.ReferencePrice, "没有 referencePrice 时定价保持未设置")

	_, err = parseItem([]byte(`{"variants":{"v1":{"standardPrice":"abc"}}}`))
	assert.Error(t, err)
}
