package skufmt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/John-Robertt/shoprecon/internal/domain"
)

func TestFormat_JoinFields(t *testing.T) {
	got, ok := Format("1271a029-025-XL", domain.JoinRule("-", "-", 1, 2))
	if !ok {
		t.Fatalf("期望 ok=true")
	}
	if got != "1271a029-025" {
		t.Fatalf("期望 1271a029-025，实际 %q", got)
	}
}

func TestFormat_Rules(t *testing.T) {
	cases := []struct {
		name string
		sku  string
		rule domain.DerivationRule
		want string
		ok   bool
	}{
		{"identity", "ABC-1", domain.IdentityRule(), "ABC-1", true},
		{"field 2", "asics-1271a029-025", domain.FieldRule("-", 2), "1271a029", true},
		{"join 2 3", "asics-1271a029-025", domain.JoinRule("-", "-", 2, 3), "1271a029-025", true},
		{"constant", "whatever", domain.ConstantRule("fcp209"), "fcp209", true},
		{"no delimiter", "1271a029", domain.FieldRule("-", 2), "1271a029", false},
		{"too few fields", "a-b", domain.JoinRule("-", "-", 2, 3), "a-b", false},
		{"empty field", "a--b", domain.FieldRule("-", 2), "a--b", false},
		{"empty constant", "a-b", domain.ConstantRule(""), "a-b", false},
		{"unknown rule", "a-b", domain.DerivationRule{Kind: "regex"}, "a-b", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Format(tc.sku, tc.rule)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.ok, ok)
		})
	}
}

// 任意非空输入 + 任意规则：不 panic，且结果非空。
func TestFormat_NeverEmptyForNonEmptyInput(t *testing.T) {
	skus := []string{"x", "-", "--", "a-", "-a", "a-b-c-d", "  ", "日本-語", "a\x00b"}
	rules := []domain.DerivationRule{
		domain.IdentityRule(),
		domain.FieldRule("-", 1),
		domain.FieldRule("-", 9),
		domain.JoinRule("-", "", 1, 2),
		domain.JoinRule("", "-", 1, 2),
		domain.ConstantRule(""),
		{Kind: domain.RuleField},
		{Kind: domain.RuleJoin, Delimiter: "-", Fields: []int{0, -1}},
		{},
	}
	for _, s := range skus {
		for _, r := range rules {
			got, _ := Format(s, r)
			if got == "" {
				t.Fatalf("非空输入得到空 key：sku=%q rule=%+v", s, r)
			}
		}
	}
}

func TestDerive_ErrorKind(t *testing.T) {
	_, err := Derive("1271a029", domain.FieldRule("-", 2))
	var fe *FormatError
	if !errors.As(err, &fe) || fe.Kind != "no_delimiter" {
		t.Fatalf("期望 no_delimiter，实际 err=%v", err)
	}

	_, err = Derive("", domain.IdentityRule())
	if !errors.As(err, &fe) || fe.Kind != "empty_sku" {
		t.Fatalf("期望 empty_sku，实际 err=%v", err)
	}
}
