package shop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/shoprecon/internal/domain"
)

func TestNewRegistry_Defaults(t *testing.T) {
	reg, err := NewRegistry(Defaults()...)
	require.NoError(t, err)
	assert.Equal(t, []string{"waste", "kougushop", "kouei-sangyou", "dear-worker"}, reg.IDs())

	p, ok := reg.Get(" WASTE ")
	require.True(t, ok)
	assert.Equal(t, domain.StrategyAPIAuthDetail, p.Strategy)
}

func TestNewRegistry_RejectsDuplicateAndInvalid(t *testing.T) {
	p := domain.ShopProfile{ID: "a", BaseIdentifier: "a", Strategy: domain.StrategyAPISearch, Rule: domain.IdentityRule()}

	_, err := NewRegistry(p, domain.ShopProfile{ID: "A", BaseIdentifier: "a", Strategy: domain.StrategyAPISearch, Rule: domain.IdentityRule()})
	require.Error(t, err, "大小写不同也算重复")

	_, err = NewRegistry()
	require.Error(t, err)

	bad := p
	bad.ID = "b"
	bad.Rule = domain.DerivationRule{Kind: "bogus"}
	_, err = NewRegistry(p, bad)
	require.Error(t, err)
}

func TestRegistry_ProfilesIsCopy(t *testing.T) {
	reg, err := NewRegistry(Defaults()...)
	require.NoError(t, err)

	ps := reg.Profiles()
	ps[0].ID = "mutated"
	_, ok := reg.Get("waste")
	assert.True(t, ok)
	assert.Equal(t, 4, reg.Len())
}
