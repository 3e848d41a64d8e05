package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/shoprecon/internal/domain"
)

func profiles() []domain.ShopProfile {
	return []domain.ShopProfile{
		{ID: "a", Rule: domain.JoinRule("-", "-", 1, 2)},
		{ID: "b", Rule: domain.FieldRule("-", 3)},
		{ID: "c", Rule: domain.ConstantRule("cp209boa")},
	}
}

func TestPlan_KeysAndSkip(t *testing.T) {
	done := map[string]domain.ProductRecord{"B-1": {InternalSKU: "B-1", CanonicalName: "saved"}}

	plans := Plan([]string{"1271a029-025-XL", "B-1"}, profiles(), done)
	require.Len(t, plans, 2)

	p0 := plans[0]
	assert.False(t, p0.Skip)
	assert.Equal(t, []ShopKey{
		{ShopID: "a", SearchKey: "1271a029-025"},
		{ShopID: "b", SearchKey: "XL"},
		{ShopID: "c", SearchKey: "cp209boa"},
	}, p0.Keys)

	p1 := plans[1]
	assert.True(t, p1.Skip)
	assert.Equal(t, "saved", p1.Saved.CanonicalName)
	// B-1 只有两个分段：field 3 不存在，退回原始 SKU。
	assert.Equal(t, ShopKey{ShopID: "b", SearchKey: "B-1", FormatFailed: true}, p1.Keys[1])

	todo, skip := Count(plans)
	assert.Equal(t, 1, todo)
	assert.Equal(t, 1, skip)
}

func TestPlan_PreservesOrder(t *testing.T) {
	plans := Plan([]string{"z", "a", "m"}, profiles(), nil)
	got := []string{plans[0].SKU, plans[1].SKU, plans[2].SKU}
	assert.Equal(t, []string{"z", "a", "m"}, got)
}
